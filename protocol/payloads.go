package protocol

import (
	"github.com/msgboxio/packets"
)

// SaPayload carries a proposal tree (SA payload).
type SaPayload struct {
	*PayloadHeader
	Proposals Proposals
}

func (s *SaPayload) Type() PayloadType { return PayloadTypeSA }

func (s *SaPayload) Encode() []byte {
	var b []byte
	for i, p := range s.Proposals {
		plast := uint8(2) // more proposals follow
		if i == len(s.Proposals)-1 {
			plast = 0 // last proposal substructure
		}
		body := []byte{plast, p.Number, uint8(p.ProtocolId), uint8(len(p.Spi)), uint8(len(p.SaTransforms))}
		body = append(body, p.Spi...)
		for j, tr := range p.SaTransforms {
			last := uint8(3) // more transforms follow
			if j == len(p.SaTransforms)-1 {
				last = 0 // last transform substructure
			}
			tb := []byte{last, 0, 0, 0, uint8(tr.Transform.Type), 0}
			tl := make([]byte, 2)
			packets.WriteB16(tl, 0, tr.Transform.TransformId)
			tb = append(tb, tl...)
			if tr.KeyLength != 0 {
				attr := make([]byte, 4)
				packets.WriteB16(attr, 0, 0x800e) // AF=1, attr type 14 (key length)
				packets.WriteB16(attr, 2, tr.KeyLength)
				tb = append(tb, attr...)
			}
			tlen := make([]byte, 2)
			packets.WriteB16(tlen, 0, uint16(len(tb)))
			tb[2], tb[3] = tlen[0], tlen[1]
			body = append(body, tb...)
		}
		b = append(b, body...)
	}
	return b
}

func (s *SaPayload) Decode(b []byte) error {
	// decodes every proposal and each of its transforms; of a transform's
	// attributes only the first is read, and its value is kept as the key length.
	s.Proposals = Proposals{}
	for len(b) > 0 {
		if len(b) < 8 {
			return ErrF(ERR_INVALID_SYNTAX, "proposal substruct too small")
		}
		lastProp := b[0]
		num, _ := packets.ReadB8(b, 1)
		protoId, _ := packets.ReadB8(b, 2)
		spiSize, _ := packets.ReadB8(b, 3)
		numTrans, _ := packets.ReadB8(b, 4)
		off := 5 + int(spiSize)
		spi := append([]byte{}, b[5:off]...)
		prop := &SaProposal{Number: num, ProtocolId: ProtocolId(protoId), Spi: spi}
		for i := 0; i < int(numTrans); i++ {
			if off+4 > len(b) {
				return ErrF(ERR_INVALID_SYNTAX, "transform substruct too small")
			}
			tlast := b[off]
			tlen, _ := packets.ReadB16(b, off+2)
			ttype, _ := packets.ReadB8(b, off+4)
			tid, _ := packets.ReadB16(b, off+6)
			tr := &SaTransform{Transform: Transform{Type: TransformType(ttype), TransformId: tid}}
			if int(tlen) > 8 {
				attrBuf := b[off+8 : off+int(tlen)]
				if len(attrBuf) >= 4 {
					kl, _ := packets.ReadB16(attrBuf, 2)
					tr.KeyLength = kl
				}
			}
			prop.SaTransforms = append(prop.SaTransforms, tr)
			off += int(tlen)
			if tlast == 0 {
				tr.IsLast = true
				break
			}
		}
		s.Proposals = append(s.Proposals, prop)
		if lastProp == 0 {
			break
		}
		b = b[off:]
	}
	return nil
}

// KePayload carries a DH group id and a peer public value.
type KePayload struct {
	*PayloadHeader
	DhTransformId DhTransformId
	KeyData       []byte
}

func (s *KePayload) Type() PayloadType { return PayloadTypeKE }

func (s *KePayload) Encode() []byte {
	b := make([]byte, 4)
	packets.WriteB16(b, 0, uint16(s.DhTransformId))
	return append(b, s.KeyData...)
}

func (s *KePayload) Decode(b []byte) error {
	if len(b) < 4 {
		return ErrF(ERR_INVALID_SYNTAX, "ke too small")
	}
	dh, _ := packets.ReadB16(b, 0)
	s.DhTransformId = DhTransformId(dh)
	s.KeyData = append([]byte{}, b[4:]...)
	return nil
}

// NoncePayload carries a nonce.
type NoncePayload struct {
	*PayloadHeader
	Nonce []byte
}

func (s *NoncePayload) Type() PayloadType { return PayloadTypeNonce }
func (s *NoncePayload) Encode() []byte    { return s.Nonce }
func (s *NoncePayload) Decode(b []byte) error {
	s.Nonce = append([]byte{}, b...)
	return nil
}

// IdPayload is used for both IDi and IDr (and IKEv1 ID); the PayloadType
// that names the role is carried separately since both share one Go type.
type IdPayload struct {
	*PayloadHeader
	IdPayloadType PayloadType
	IdType        IdType
	Data          []byte
}

// AuthPayload carries the AUTH value (v2).
type AuthPayload struct {
	*PayloadHeader
	AuthMethod AuthMethod
	Data       []byte
}

func (s *AuthPayload) Type() PayloadType { return PayloadTypeAUTH }
func (s *AuthPayload) Encode() []byte {
	b := []byte{uint8(s.AuthMethod), 0, 0, 0}
	return append(b, s.Data...)
}
func (s *AuthPayload) Decode(b []byte) error {
	if len(b) < 4 {
		return ErrF(ERR_INVALID_SYNTAX, "auth too small")
	}
	m, _ := packets.ReadB8(b, 0)
	s.AuthMethod = AuthMethod(m)
	s.Data = append([]byte{}, b[4:]...)
	return nil
}

// HashPayload is IKEv1 only - authenticates the Main/Quick/Informational exchange.
type HashPayload struct {
	*PayloadHeader
	Data []byte
}

func (s *HashPayload) Type() PayloadType { return PayloadTypeV1HASH }
func (s *HashPayload) Encode() []byte    { return s.Data }
func (s *HashPayload) Decode(b []byte) error {
	s.Data = append([]byte{}, b...)
	return nil
}

// NotifyPayload carries an error or status notification.
type NotifyPayload struct {
	*PayloadHeader
	ProtocolId          ProtocolId
	Spi                 []byte
	NotificationType    NotificationType
	NotificationMessage interface{}
}

func (s *NotifyPayload) Type() PayloadType { return PayloadTypeN }
func (s *NotifyPayload) Encode() []byte {
	b := []byte{uint8(s.ProtocolId), uint8(len(s.Spi))}
	nt := make([]byte, 2)
	packets.WriteB16(nt, 0, uint16(s.NotificationType))
	b = append(b, nt...)
	b = append(b, s.Spi...)
	if msg, ok := s.NotificationMessage.([]byte); ok {
		b = append(b, msg...)
	}
	return b
}
func (s *NotifyPayload) Decode(b []byte) error {
	if len(b) < 4 {
		return ErrF(ERR_INVALID_SYNTAX, "notify too small")
	}
	pid, _ := packets.ReadB8(b, 0)
	s.ProtocolId = ProtocolId(pid)
	spiSize, _ := packets.ReadB8(b, 1)
	nt, _ := packets.ReadB16(b, 2)
	s.NotificationType = NotificationType(nt)
	off := 4
	s.Spi = append([]byte{}, b[off:off+int(spiSize)]...)
	off += int(spiSize)
	s.NotificationMessage = append([]byte{}, b[off:]...)
	return nil
}

// DeletePayload names SAs to be removed.
type DeletePayload struct {
	*PayloadHeader
	ProtocolId ProtocolId
	Spis       [][]byte
}

func (s *DeletePayload) Type() PayloadType { return PayloadTypeD }
func (s *DeletePayload) Encode() []byte {
	spiSize := 0
	if len(s.Spis) > 0 {
		spiSize = len(s.Spis[0])
	}
	b := []byte{uint8(s.ProtocolId), uint8(spiSize), 0, 0}
	packets.WriteB16(b, 2, uint16(len(s.Spis)))
	for _, spi := range s.Spis {
		b = append(b, spi...)
	}
	return b
}
func (s *DeletePayload) Decode(b []byte) error {
	if len(b) < 4 {
		return ErrF(ERR_INVALID_SYNTAX, "delete too small")
	}
	pid, _ := packets.ReadB8(b, 0)
	s.ProtocolId = ProtocolId(pid)
	spiSize, _ := packets.ReadB8(b, 1)
	num, _ := packets.ReadB16(b, 2)
	off := 4
	for i := 0; i < int(num); i++ {
		s.Spis = append(s.Spis, append([]byte{}, b[off:off+int(spiSize)]...))
		off += int(spiSize)
	}
	return nil
}

// Selector is one traffic selector (IPv4 address range form only).
type Selector struct {
	Type         TsType
	IpProtocolId uint8
	StartPort    uint16
	Endport      uint16
	StartAddress []byte
	EndAddress   []byte
}

type TsType uint8

const TS_IPV4_ADDR_RANGE TsType = 7

// TrafficSelectorPayload is TSi or TSr.
type TrafficSelectorPayload struct {
	*PayloadHeader
	TsPayloadType PayloadType
	Selectors     []*Selector
}

func (s *TrafficSelectorPayload) Type() PayloadType { return s.TsPayloadType }
func (s *TrafficSelectorPayload) Encode() []byte {
	b := []byte{uint8(len(s.Selectors)), 0, 0, 0}
	for _, ts := range s.Selectors {
		tb := []byte{uint8(ts.Type), ts.IpProtocolId, 0, 0}
		packets.WriteB16(tb, 2, uint16(8+len(ts.StartAddress)+len(ts.EndAddress)))
		sp := make([]byte, 4)
		packets.WriteB16(sp, 0, ts.StartPort)
		packets.WriteB16(sp, 2, ts.Endport)
		tb = append(tb, sp...)
		tb = append(tb, ts.StartAddress...)
		tb = append(tb, ts.EndAddress...)
		b = append(b, tb...)
	}
	return b
}
func (s *TrafficSelectorPayload) Decode(b []byte) error {
	if len(b) < 4 {
		return ErrF(ERR_INVALID_SYNTAX, "ts too small")
	}
	num, _ := packets.ReadB8(b, 0)
	off := 4
	for i := 0; i < int(num); i++ {
		if off+8 > len(b) {
			return ErrF(ERR_INVALID_SYNTAX, "ts substruct too small")
		}
		tsType, _ := packets.ReadB8(b, off)
		ipProto, _ := packets.ReadB8(b, off+1)
		tlen, _ := packets.ReadB16(b, off+2)
		startPort, _ := packets.ReadB16(b, off+4)
		endPort, _ := packets.ReadB16(b, off+6)
		addrLen := (int(tlen) - 8) / 2
		start := append([]byte{}, b[off+8:off+8+addrLen]...)
		end := append([]byte{}, b[off+8+addrLen:off+8+2*addrLen]...)
		s.Selectors = append(s.Selectors, &Selector{
			Type: TsType(tsType), IpProtocolId: ipProto,
			StartPort: startPort, Endport: endPort,
			StartAddress: start, EndAddress: end,
		})
		off += int(tlen)
	}
	return nil
}

// ConfigAttribute is one Mode-Config / XAuth attribute (type-length-value).
type ConfigAttribute struct {
	Type  ConfigAttributeType
	Value []byte
}

type ConfigAttributeType uint16

const (
	INTERNAL_IP4_ADDRESS ConfigAttributeType = 1
	INTERNAL_IP4_NETMASK ConfigAttributeType = 2
	INTERNAL_IP4_DNS     ConfigAttributeType = 3
	XAUTH_TYPE           ConfigAttributeType = 16520
	XAUTH_USER_NAME      ConfigAttributeType = 16521
	XAUTH_USER_PASSWORD  ConfigAttributeType = 16522
	XAUTH_STATUS         ConfigAttributeType = 16524
)

type ConfigType uint8

const (
	CFG_REQUEST ConfigType = 1
	CFG_REPLY   ConfigType = 2
	CFG_SET     ConfigType = 3
	CFG_ACK     ConfigType = 4
)

// ConfigPayload is CP (v2) / Mode-Config attributes (v1, carried over CFG).
type ConfigPayload struct {
	*PayloadHeader
	CpPayloadType PayloadType
	ConfigType    ConfigType
	Attributes    []*ConfigAttribute
}

func (s *ConfigPayload) Type() PayloadType { return s.CpPayloadType }
func (s *ConfigPayload) Encode() []byte {
	b := []byte{uint8(s.ConfigType), 0, 0, 0}
	for _, attr := range s.Attributes {
		ab := make([]byte, 4)
		packets.WriteB16(ab, 0, uint16(attr.Type))
		packets.WriteB16(ab, 2, uint16(len(attr.Value)))
		ab = append(ab, attr.Value...)
		b = append(b, ab...)
	}
	return b
}
func (s *ConfigPayload) Decode(b []byte) error {
	if len(b) < 4 {
		return ErrF(ERR_INVALID_SYNTAX, "cp too small")
	}
	ct, _ := packets.ReadB8(b, 0)
	s.ConfigType = ConfigType(ct)
	off := 4
	for off+4 <= len(b) {
		at, _ := packets.ReadB16(b, off)
		al, _ := packets.ReadB16(b, off+2)
		val := append([]byte{}, b[off+4:off+4+int(al)]...)
		s.Attributes = append(s.Attributes, &ConfigAttribute{Type: ConfigAttributeType(at), Value: val})
		off += 4 + int(al)
	}
	return nil
}

// NatdPayload is the IKEv1 NAT-discovery hash payload.
type NatdPayload struct {
	*PayloadHeader
	HashData []byte
}

func (s *NatdPayload) Type() PayloadType { return PayloadTypeV1NATD }
func (s *NatdPayload) Encode() []byte    { return s.HashData }
func (s *NatdPayload) Decode(b []byte) error {
	s.HashData = append([]byte{}, b...)
	return nil
}

// SkPayload is the IKEv2 encrypted payload envelope; its contents are only
// meaningful once VerifyDecrypt has authenticated and stripped it.
type SkPayload struct {
	*PayloadHeader
	Data []byte
}

func (s *SkPayload) Type() PayloadType { return PayloadTypeSK }
func (s *SkPayload) Encode() []byte    { return s.Data }
func (s *SkPayload) Decode(b []byte) error {
	s.Data = append([]byte{}, b...)
	return nil
}

// RawPayload preserves the bytes of an unrecognized payload type verbatim so
// that hash verification over re-serialized payloads stays bit-exact.
type RawPayload struct {
	*PayloadHeader
	PType PayloadType
	Data  []byte
}

func (s *RawPayload) Type() PayloadType { return s.PType }
func (s *RawPayload) Encode() []byte    { return s.Data }
func (s *RawPayload) Decode(b []byte) error {
	s.Data = append([]byte{}, b...)
	return nil
}
