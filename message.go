package ike

import (
	"io"
	"net"

	"github.com/vpngw/ike/protocol"
)

// Message is a decoded IKE datagram: the 28 byte header plus its payload
// chain. For v2, the SK payload is parsed as an ordinary chain entry whose
// body is still ciphertext until handleEncryptedMessage splices the opened
// inner chain in; for v1, Raw holds the whole datagram and the tail past
// the header is ciphertext the moment the session has reached a keyed
// exchange, so Payloads stays empty until that tail is opened.
type Message struct {
	IkeHeader *protocol.IkeHeader
	Payloads  *protocol.Payloads

	// Raw is the datagram exactly as received (or, after Encode, exactly as
	// sent). IKEv2 SK verification and IKEv1 tail decryption both need these
	// bytes since their integrity coverage includes the header.
	Raw []byte

	LocalAddr, RemoteAddr net.Addr
}

// InitPayloads is the payload set that marks an IKE_SA_INIT / rekey-IKE
// CREATE_CHILD_SA request, used to disambiguate child vs IKE rekeys.
var InitPayloads = []protocol.PayloadType{protocol.PayloadTypeSA, protocol.PayloadTypeKE, protocol.PayloadTypeNonce}

// EnsurePayloads checks that every named payload type is present.
func (m *Message) EnsurePayloads(types []protocol.PayloadType) error {
	for _, t := range types {
		if m.Payloads.Get(t) == nil {
			return protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "missing payload %s", t)
		}
	}
	return nil
}

// DecodeMessage parses the header and, for anything not still tail-
// encrypted, the full payload chain (an IKEv2 SK payload included - its
// body is opaque ciphertext until handleEncryptedMessage runs).
func DecodeMessage(b []byte) (*Message, error) {
	if len(b) < protocol.IKE_HEADER_LEN {
		return nil, io.ErrShortBuffer
	}
	h, err := protocol.DecodeIkeHeader(b)
	if err != nil {
		return nil, err
	}
	if int(h.MsgLength) > len(b) {
		return nil, io.ErrShortBuffer
	}
	m := &Message{IkeHeader: h, Raw: b}
	if h.MajorVersion == protocol.IKEV1_MAJOR_VERSION && h.Flags.IsEncrypted() {
		// the tail is ciphertext with no payload framing of its own;
		// handleEncryptedMessage decrypts Raw[28:] and decodes from there.
		m.Payloads = protocol.MakePayloads()
		return m, nil
	}
	body := b[protocol.IKE_HEADER_LEN:]
	payloads, err := protocol.DecodePayloadChain(body, h.NextPayload)
	if err != nil {
		return nil, err
	}
	m.Payloads = payloads
	return m, nil
}

// DecodePayloads decodes a (now-decrypted) payload chain and appends it to
// the message's payload list.
func (m *Message) DecodePayloads(b []byte, first protocol.PayloadType) error {
	payloads, err := protocol.DecodePayloadChain(b, first)
	if err != nil {
		return err
	}
	m.Payloads.Array = append(m.Payloads.Array, payloads.Array...)
	return nil
}

// Encode serializes the header and payload chain, sealing it through the
// session's crypto context when one is established.
func (m *Message) Encode(tkm *Tkm, isInitiator bool) ([]byte, error) {
	body := m.Payloads.EncodeChain()
	first := firstPayloadType(m.Payloads)
	if tkm == nil || !tkm.isEstablished {
		m.IkeHeader.NextPayload = first
		m.IkeHeader.MsgLength = uint32(protocol.IKE_HEADER_LEN + len(body))
		buf := append(m.IkeHeader.Encode(), body...)
		m.Raw = buf
		return buf, nil
	}
	if m.IkeHeader.MajorVersion == protocol.IKEV1_MAJOR_VERSION {
		m.IkeHeader.Flags |= protocol.ENCRYPTION
		m.IkeHeader.NextPayload = first
		buf, err := tkm.SealMessageV1(m.IkeHeader, body, isInitiator)
		if err == nil {
			m.Raw = buf
		}
		return buf, err
	}
	buf, err := tkm.SealMessageV2(m.IkeHeader, first, body, isInitiator)
	if err == nil {
		m.Raw = buf
	}
	return buf, err
}

func firstPayloadType(p *protocol.Payloads) protocol.PayloadType {
	if p == nil || len(p.Array) == 0 {
		return protocol.PayloadTypeNone
	}
	return p.Array[0].Type()
}

// MakeSpi generates a fresh, randomly keyed 8 byte IKE SPI.
func MakeSpi() protocol.Spi {
	return protocol.Spi(randomBytes(8))
}

// MakeEspSpi generates a fresh, randomly keyed 4 byte ESP SPI.
func MakeEspSpi() protocol.Spi {
	return protocol.Spi(randomBytes(4))
}
