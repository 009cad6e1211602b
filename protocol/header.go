package protocol

import (
	"github.com/msgboxio/packets"
)

// Spi is either an 8 byte IKE spi or a 4 byte ESP spi.
type Spi []byte

const (
	IKE_HEADER_LEN        = 28
	PAYLOAD_HEADER_LENGTH = 4

	IKEV1_MAJOR_VERSION = 1
	IKEV1_MINOR_VERSION = 0
	IKEV2_MAJOR_VERSION = 2
	IKEV2_MINOR_VERSION = 0
)

type ProtocolId uint8

const (
	IKE ProtocolId = 1
	AH  ProtocolId = 2
	ESP ProtocolId = 3
)

func (p ProtocolId) String() string {
	switch p {
	case IKE:
		return "IKE"
	case AH:
		return "AH"
	case ESP:
		return "ESP"
	}
	return "ProtocolId(?)"
}

type Flags uint8

const (
	// ENCRYPTION is the IKEv1 header flag (bit 0) marking the message tail
	// as ciphertext; IKEv2 never sets it, reusing the bit for nothing.
	ENCRYPTION Flags = 1 << 0
	RESPONSE   Flags = 1 << 5
	VERSION    Flags = 1 << 4
	INITIATOR  Flags = 1 << 3
)

func (f Flags) IsResponse() bool   { return f&RESPONSE != 0 }
func (f Flags) IsInitiator() bool  { return f&INITIATOR != 0 }
func (f Flags) IsEncrypted() bool  { return f&ENCRYPTION != 0 }

type IkeExchangeType uint8

const (
	IKE_SA_INIT         IkeExchangeType = 34
	IKE_AUTH            IkeExchangeType = 35
	CREATE_CHILD_SA     IkeExchangeType = 36
	INFORMATIONAL       IkeExchangeType = 37
	IKE_SESSION_RESUME  IkeExchangeType = 38

	// IKEv1 phase 1 / phase 2 exchange types, reusing the same wire field.
	IDENTITY_1      IkeExchangeType = 2
	TRANSACTION_1   IkeExchangeType = 6
	QUICK_1         IkeExchangeType = 32
	INFORMATIONAL_1 IkeExchangeType = 5
)

// IkeHeader is the fixed 28 byte IKE message header.
type IkeHeader struct {
	SpiI, SpiR               Spi
	NextPayload              PayloadType
	MajorVersion, MinorVersion uint8
	ExchangeType             IkeExchangeType
	Flags                    Flags
	MsgId                    uint32
	MsgLength                uint32
}

func (h *IkeHeader) Encode() []byte {
	b := make([]byte, IKE_HEADER_LEN)
	writeSpi(b, 0, h.SpiI)
	writeSpi(b, 8, h.SpiR)
	packets.WriteB8(b, 16, uint8(h.NextPayload))
	packets.WriteB8(b, 17, h.MajorVersion<<4|h.MinorVersion&0xf)
	packets.WriteB8(b, 18, uint8(h.ExchangeType))
	packets.WriteB8(b, 19, uint8(h.Flags))
	packets.WriteB32(b, 20, h.MsgId)
	packets.WriteB32(b, 24, h.MsgLength)
	return b
}

func DecodeIkeHeader(b []byte) (*IkeHeader, error) {
	if len(b) < IKE_HEADER_LEN {
		return nil, ErrF(ERR_INVALID_SYNTAX, "short header %d", len(b))
	}
	h := &IkeHeader{}
	h.SpiI = readSpi(b, 0, 8)
	h.SpiR = readSpi(b, 8, 8)
	np, _ := packets.ReadB8(b, 16)
	h.NextPayload = PayloadType(np)
	ver, _ := packets.ReadB8(b, 17)
	h.MajorVersion, h.MinorVersion = ver>>4, ver&0xf
	et, _ := packets.ReadB8(b, 18)
	h.ExchangeType = IkeExchangeType(et)
	fl, _ := packets.ReadB8(b, 19)
	h.Flags = Flags(fl)
	msgId, _ := packets.ReadB32(b, 20)
	h.MsgId = msgId
	msgLen, _ := packets.ReadB32(b, 24)
	h.MsgLength = msgLen
	return h, nil
}

// writeSpi writes an 8 byte SPI as two big-endian 32 bit halves; the
// packets library has no native 64 bit accessor.
func writeSpi(b []byte, off int, spi Spi) {
	var hi, lo uint32
	for _, x := range spi[:len(spi)-4] {
		hi = hi<<8 | uint32(x)
	}
	for _, x := range spi[len(spi)-4:] {
		lo = lo<<8 | uint32(x)
	}
	packets.WriteB32(b, off, hi)
	packets.WriteB32(b, off+4, lo)
}

func readSpi(b []byte, off, n int) Spi {
	hi, _ := packets.ReadB32(b, off)
	lo, _ := packets.ReadB32(b, off+4)
	spi := make(Spi, n)
	for i := 3; i >= 0; i-- {
		spi[i] = byte(hi)
		hi >>= 8
	}
	for i := 7; i >= 4; i-- {
		spi[i] = byte(lo)
		lo >>= 8
	}
	return spi
}

// PayloadType is the wire next-payload discriminator.
type PayloadType uint8

const (
	PayloadTypeNone   PayloadType = 0
	PayloadTypeSA     PayloadType = 33
	PayloadTypeKE     PayloadType = 34
	PayloadTypeIDi    PayloadType = 35
	PayloadTypeIDr    PayloadType = 36
	PayloadTypeCERT   PayloadType = 37
	PayloadTypeCERTREQ PayloadType = 38
	PayloadTypeAUTH   PayloadType = 39
	PayloadTypeNonce  PayloadType = 40
	PayloadTypeN      PayloadType = 41
	PayloadTypeD      PayloadType = 42
	PayloadTypeV      PayloadType = 43
	PayloadTypeTSi    PayloadType = 44
	PayloadTypeTSr    PayloadType = 45
	PayloadTypeSK     PayloadType = 46
	PayloadTypeCP     PayloadType = 47
	PayloadTypeEAP    PayloadType = 48

	// IKEv1 payload types (RFC 2408/2409), shared numeric space below 33.
	PayloadTypeV1SA    PayloadType = 1
	PayloadTypeV1P     PayloadType = 2 // proposal
	PayloadTypeV1T     PayloadType = 3 // transform
	PayloadTypeV1KE    PayloadType = 4
	PayloadTypeV1ID    PayloadType = 5
	PayloadTypeV1CERT  PayloadType = 6
	PayloadTypeV1CR    PayloadType = 7
	PayloadTypeV1HASH  PayloadType = 8
	PayloadTypeV1SIG   PayloadType = 9
	PayloadTypeV1NONCE PayloadType = 10
	PayloadTypeV1N     PayloadType = 11
	PayloadTypeV1D     PayloadType = 12
	PayloadTypeV1VID   PayloadType = 13
	PayloadTypeV1NATD  PayloadType = 130
	PayloadTypeV1CP    PayloadType = 132
)

func (t PayloadType) String() string {
	switch t {
	case PayloadTypeNone:
		return "NONE"
	case PayloadTypeSA:
		return "SA"
	case PayloadTypeKE:
		return "KE"
	case PayloadTypeIDi:
		return "IDi"
	case PayloadTypeIDr:
		return "IDr"
	case PayloadTypeAUTH:
		return "AUTH"
	case PayloadTypeNonce:
		return "NONCE"
	case PayloadTypeN:
		return "NOTIFY"
	case PayloadTypeD:
		return "DELETE"
	case PayloadTypeTSi:
		return "TSi"
	case PayloadTypeTSr:
		return "TSr"
	case PayloadTypeSK:
		return "SK"
	case PayloadTypeCP:
		return "CP"
	case PayloadTypeV1HASH:
		return "HASH"
	case PayloadTypeV1NATD:
		return "NATD"
	case PayloadTypeV1CP:
		return "CP(v1)"
	}
	return "PayloadType(?)"
}

// TransformType identifies the kind of a SA transform.
type TransformType uint8

const (
	TRANSFORM_TYPE_ENCR  TransformType = 1
	TRANSFORM_TYPE_PRF   TransformType = 2
	TRANSFORM_TYPE_INTEG TransformType = 3
	TRANSFORM_TYPE_DH    TransformType = 4
	TRANSFORM_TYPE_ESN   TransformType = 5
)

type Transform struct {
	Type        TransformType
	TransformId uint16
}

type SaTransform struct {
	Transform Transform
	KeyLength uint16
	IsLast    bool
}

type SaProposal struct {
	IsLast       bool
	Number       uint8
	ProtocolId   ProtocolId
	Spi          []byte
	SaTransforms []*SaTransform
}

type Proposals []*SaProposal

// PayloadHeader is the 4 byte framing that precedes every payload body.
type PayloadHeader struct {
	NextPayload PayloadType
	Critical    bool
	payloadLength uint16
}

func (h *PayloadHeader) Type() PayloadType            { return PayloadTypeNone }
func (h *PayloadHeader) NextPayloadType() PayloadType { return h.NextPayload }
func (h *PayloadHeader) setNextPayloadType(t PayloadType) { h.NextPayload = t }

// Payload is implemented by every concrete payload body.
type Payload interface {
	Type() PayloadType
	NextPayloadType() PayloadType
	setNextPayloadType(PayloadType)
	Encode() []byte
	Decode([]byte) error
}
