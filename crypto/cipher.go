package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/rand"
	"encoding/hex"
	"errors"

	"github.com/dgryski/go-camellia"
	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/vpngw/ike/protocol"
)

// DefaultLogger receives debug-level traces of the AES-CBC encrypt/decrypt
// path. Set it once at startup; it defaults to discarding everything.
var DefaultLogger kitlog.Logger = kitlog.NewNopLogger()

// cipherFunc must return either a cipher.BlockMode or cipher.Stream.
type cipherFunc func(key, iv []byte, isRead bool) interface{}

func cipherTransform(cipherId uint16, keyLen int, c *simpleCipher) (*simpleCipher, bool) {
	blockSize, fn, ok := _cipherTransform(cipherId)
	if !ok {
		return nil, false
	}
	if c == nil {
		c = &simpleCipher{}
	}
	c.keyLen = keyLen
	c.blockLen = blockSize
	c.ivLen = blockSize
	c.cipherFunc = fn
	c.EncrTransformId = protocol.EncrTransformId(cipherId)
	return c, true
}

func _cipherTransform(cipherId uint16) (int, cipherFunc, bool) {
	switch protocol.EncrTransformId(cipherId) {
	case protocol.ENCR_AES_CBC:
		return aes.BlockSize, cipherAESCBC, true
	case protocol.ENCR_AES_CTR:
		return aes.BlockSize, cipherAESCTR, true
	case protocol.ENCR_3DES:
		return des.BlockSize, cipher3DES, true
	case protocol.ENCR_CAMELLIA_CBC:
		return camellia.BlockSize, cipherCamellia, true
	case protocol.ENCR_CAMELLIA_CTR:
		return camellia.BlockSize, cipherCamelliaCTR, true
	case protocol.ENCR_NULL:
		return 0, cipherNull, true
	default:
		return 0, nil, false
	}
}

// simpleCipher implements Cipher for block ciphers paired with an HMAC.
type simpleCipher struct {
	macTruncLen, macLen, macKeyLen int
	macFunc

	keyLen, ivLen, blockLen int
	cipherFunc

	protocol.EncrTransformId
	protocol.AuthTransformId
}

func (cs *simpleCipher) String() string {
	return cs.EncrTransformId.String() + "+" + cs.AuthTransformId.String()
}

func (cs *simpleCipher) Overhead(clear []byte) int {
	return cs.blockLen - len(clear)%cs.blockLen + cs.macLen + cs.ivLen
}

func (cs *simpleCipher) VerifyDecrypt(ike, skA, skE []byte) (dec []byte, err error) {
	level.Debug(DefaultLogger).Log("msg", "verify&decrypt", "ike", hex.EncodeToString(ike))
	if err = verifyMac(skA, ike, cs.macLen, cs.macFunc); err != nil {
		return
	}
	b := ike[protocol.IKE_HEADER_LEN:]
	dec, err = decrypt(b[protocol.PAYLOAD_HEADER_LENGTH:len(b)-cs.macLen], skE, cs.ivLen, cs.cipherFunc)
	return
}

func (cs *simpleCipher) EncryptMac(headers, payload, skA, skE []byte) (b []byte, err error) {
	encr, err := encrypt(payload, skE, cs.ivLen, cs.cipherFunc)
	if err != nil {
		return
	}
	data := append(headers, encr...)
	mac := cs.macFunc(skA, data)[:cs.macLen]
	b = append(data, mac...)
	level.Debug(DefaultLogger).Log("msg", "encrypt&mac", "mac", hex.EncodeToString(mac))
	return
}

// cipherFunc implementations

func cipherAESCBC(key, iv []byte, isRead bool) interface{} {
	block, _ := aes.NewCipher(key)
	if isRead {
		return cipher.NewCBCDecrypter(block, iv)
	}
	return cipher.NewCBCEncrypter(block, iv)
}

func cipherAESCTR(key, iv []byte, isRead bool) interface{} {
	block, _ := aes.NewCipher(key)
	return cipher.NewCTR(block, iv)
}

func cipher3DES(key, iv []byte, isRead bool) interface{} {
	block, _ := des.NewTripleDESCipher(key)
	if isRead {
		return cipher.NewCBCDecrypter(block, iv)
	}
	return cipher.NewCBCEncrypter(block, iv)
}

func cipherCamellia(key, iv []byte, isRead bool) interface{} {
	block, _ := camellia.New(key)
	if isRead {
		return cipher.NewCBCDecrypter(block, iv)
	}
	return cipher.NewCBCEncrypter(block, iv)
}

func cipherCamelliaCTR(key, iv []byte, isRead bool) interface{} {
	block, _ := camellia.New(key)
	return cipher.NewCTR(block, iv)
}

func cipherNull([]byte, []byte, bool) interface{} { return nil }

// decryption & encryption routines

func decrypt(b, key []byte, ivLen int, cipherFn cipherFunc) (dec []byte, err error) {
	iv := b[0:ivLen]
	ciphertext := b[ivLen:]
	mode := cipherFn(key, iv, true)
	if mode == nil {
		return b, nil
	}
	if stream, ok := mode.(cipher.Stream); ok {
		dec = make([]byte, len(ciphertext))
		stream.XORKeyStream(dec, ciphertext)
		return
	}
	block := mode.(cipher.BlockMode)
	if len(ciphertext)%block.BlockSize() != 0 {
		err = errors.New("ciphertext is not a multiple of the block size")
		return
	}
	clear := make([]byte, len(ciphertext))
	block.CryptBlocks(clear, ciphertext)
	padlen := clear[len(clear)-1] + 1 // padlen byte itself
	if int(padlen) > len(clear) {
		err = errors.New("pad length exceeds cleartext")
		return
	}
	dec = clear[:len(clear)-int(padlen)]
	return
}

// encryptWithIv/decryptWithIv are the IKEv1 counterparts of encrypt/decrypt:
// the IV is supplied by the caller (chained from the previous ciphertext's
// last block, per RFC 2409) rather than generated fresh and prepended.
func encryptWithIv(clear, key, iv []byte, cipherFn cipherFunc) (ct []byte, err error) {
	mode := cipherFn(key, iv, false)
	block, ok := mode.(cipher.BlockMode)
	if !ok {
		return nil, errors.New("ike: v1 encryption requires a block cipher")
	}
	if padlen := block.BlockSize() - len(clear)%block.BlockSize(); padlen != 0 {
		pad := make([]byte, padlen)
		pad[padlen-1] = byte(padlen - 1)
		clear = append(clear, pad...)
	}
	ct = make([]byte, len(clear))
	block.CryptBlocks(ct, clear)
	return ct, nil
}

func decryptWithIv(ct, key, iv []byte, cipherFn cipherFunc) (clear []byte, err error) {
	mode := cipherFn(key, iv, true)
	block, ok := mode.(cipher.BlockMode)
	if !ok {
		return nil, errors.New("ike: v1 decryption requires a block cipher")
	}
	if len(ct)%block.BlockSize() != 0 {
		return nil, errors.New("ike: v1 ciphertext is not a multiple of the block size")
	}
	clear = make([]byte, len(ct))
	block.CryptBlocks(clear, ct)
	padlen := clear[len(clear)-1] + 1
	if int(padlen) > len(clear) {
		return nil, errors.New("ike: v1 pad length exceeds cleartext")
	}
	return clear[:len(clear)-int(padlen)], nil
}

func encrypt(clear, key []byte, ivLen int, cipherFn cipherFunc) (b []byte, err error) {
	iv := make([]byte, ivLen)
	if ivLen > 0 {
		if _, err = rand.Read(iv); err != nil {
			return
		}
	}
	mode := cipherFn(key, iv, false)
	if mode == nil {
		return clear, nil
	}
	if stream, ok := mode.(cipher.Stream); ok {
		ciphertext := make([]byte, len(clear))
		stream.XORKeyStream(ciphertext, clear)
		b = append(iv, ciphertext...)
		return
	}
	block := mode.(cipher.BlockMode)
	if padlen := block.BlockSize() - len(clear)%block.BlockSize(); padlen != 0 {
		pad := make([]byte, padlen)
		pad[padlen-1] = byte(padlen - 1)
		clear = append(clear, pad...)
	}
	ciphertext := make([]byte, len(clear))
	block.CryptBlocks(ciphertext, clear)
	b = append(iv, ciphertext...)
	return
}
