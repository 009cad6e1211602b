package crypto

import (
	"encoding/binary"
	"fmt"

	"github.com/msgboxio/packets"
)

// EspContext is a one-directional ESP crypto context: a cipher keyed for
// either sealing outbound or opening inbound traffic on a Child SA.
type EspContext struct {
	Cipher
	EncrKey, AuthKey []byte
}

// Open verifies and decrypts one ESP packet body (SPI and sequence number
// already stripped by the caller), returning the inner (next_header,
// payload) pair from the RFC 4303 trailer.
func (c *EspContext) Open(spi uint32, seq uint32, ciphertext []byte) (nextHeader uint8, payload []byte, err error) {
	if c.macLenOf() > len(ciphertext) {
		return 0, nil, fmt.Errorf("esp: packet shorter than integrity check")
	}
	hdr := make([]byte, 8)
	binary.BigEndian.PutUint32(hdr[0:4], spi)
	binary.BigEndian.PutUint32(hdr[4:8], seq)
	full := append(hdr, ciphertext...)
	sc, ok := c.Cipher.(*simpleCipher)
	if !ok {
		return 0, nil, fmt.Errorf("esp: unsupported cipher")
	}
	if err = verifyMac(c.AuthKey, full, sc.macLen, sc.macFunc); err != nil {
		return 0, nil, err
	}
	body := ciphertext[:len(ciphertext)-sc.macLen]
	dec, err := decrypt(body, c.EncrKey, sc.ivLen, sc.cipherFunc)
	if err != nil {
		return 0, nil, err
	}
	if len(dec) < 2 {
		return 0, nil, fmt.Errorf("esp: trailer too short")
	}
	padLen := dec[len(dec)-2]
	nextHeader = dec[len(dec)-1]
	end := len(dec) - 2 - int(padLen)
	if end < 0 {
		return 0, nil, fmt.Errorf("esp: bad pad length")
	}
	payload = dec[:end]
	return
}

// Seal encrypts and authenticates one outbound ESP packet body, producing
// spi||seq||ciphertext||icv ready to place on the wire.
func (c *EspContext) Seal(spi uint32, seq uint32, nextHeader uint8, payload []byte) ([]byte, error) {
	sc, ok := c.Cipher.(*simpleCipher)
	if !ok {
		return nil, fmt.Errorf("esp: unsupported cipher")
	}
	// RFC 4303 pad so (len(payload)+padLen+2) is a multiple of the block
	// size; the final two trailer bytes (pad length, next header) are
	// counted in.
	blockLen := sc.blockLen
	if blockLen == 0 {
		blockLen = 4
	}
	padLen := (blockLen - (len(payload)+2)%blockLen) % blockLen
	clear := append([]byte{}, payload...)
	for i := 1; i <= padLen; i++ {
		clear = append(clear, byte(i))
	}
	clear = append(clear, byte(padLen), nextHeader)

	encr, err := encrypt(clear, c.EncrKey, sc.ivLen, sc.cipherFunc)
	if err != nil {
		return nil, err
	}
	hdr := make([]byte, 8)
	binary.BigEndian.PutUint32(hdr[0:4], spi)
	binary.BigEndian.PutUint32(hdr[4:8], seq)
	data := append(hdr, encr...)
	mac := sc.macFunc(c.AuthKey, data)[:sc.macLen]
	return append(data, mac...), nil
}

func (c *EspContext) macLenOf() int {
	if sc, ok := c.Cipher.(*simpleCipher); ok {
		return sc.macLen
	}
	return 0
}

// ParseEspHeader reads the 4 byte SPI and 4 byte sequence number that
// precede an ESP ciphertext.
func ParseEspHeader(b []byte) (spi uint32, seq uint32, rest []byte, err error) {
	if len(b) < 8 {
		return 0, 0, nil, fmt.Errorf("esp: short header")
	}
	spi, _ = packets.ReadB32(b, 0)
	seq, _ = packets.ReadB32(b, 4)
	rest = b[8:]
	return
}
