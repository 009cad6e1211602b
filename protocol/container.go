package protocol

// Payloads is the ordered, next-payload-linked chain carried by a Message.
type Payloads struct {
	Array []Payload
}

func MakePayloads() *Payloads {
	return &Payloads{}
}

// Add appends a payload and links the previous tail's next-payload field.
func (p *Payloads) Add(pl Payload) {
	if n := len(p.Array); n > 0 {
		p.Array[n-1].setNextPayloadType(pl.Type())
	}
	p.Array = append(p.Array, pl)
}

// Get returns the first payload of the given type, or nil.
func (p *Payloads) Get(t PayloadType) Payload {
	for _, pl := range p.Array {
		if pl.Type() == t {
			return pl
		}
	}
	return nil
}

// GetAll returns every payload of the given type, in order.
func (p *Payloads) GetAll(t PayloadType) []Payload {
	var out []Payload
	for _, pl := range p.Array {
		if pl.Type() == t {
			out = append(out, pl)
		}
	}
	return out
}

// DecodePayloadChain walks the next-payload linked chain starting at
// `first`, decoding each body according to its wire payload type.
func DecodePayloadChain(b []byte, first PayloadType) (*Payloads, error) {
	p := MakePayloads()
	next := first
	for next != PayloadTypeNone {
		if len(b) < PAYLOAD_HEADER_LENGTH {
			return nil, ErrF(ERR_INVALID_SYNTAX, "short payload header")
		}
		critical := b[1]&0x80 != 0
		length := int(b[2])<<8 | int(b[3])
		if length < PAYLOAD_HEADER_LENGTH || length > len(b) {
			return nil, ErrF(ERR_INVALID_SYNTAX, "bad payload length %d", length)
		}
		body := b[PAYLOAD_HEADER_LENGTH:length]
		hdr := &PayloadHeader{NextPayload: PayloadType(b[0]), Critical: critical}
		pl, err := newPayload(next, hdr)
		if err != nil {
			return nil, err
		}
		if err := pl.Decode(body); err != nil {
			return nil, err
		}
		p.Array = append(p.Array, pl)
		next = hdr.NextPayload
		b = b[length:]
	}
	return p, nil
}

func newPayload(t PayloadType, hdr *PayloadHeader) (Payload, error) {
	switch t {
	case PayloadTypeSA, PayloadTypeV1SA:
		return &SaPayload{PayloadHeader: hdr}, nil
	case PayloadTypeKE, PayloadTypeV1KE:
		return &KePayload{PayloadHeader: hdr}, nil
	case PayloadTypeNonce, PayloadTypeV1NONCE:
		return &NoncePayload{PayloadHeader: hdr}, nil
	case PayloadTypeIDi:
		return &IdPayload{PayloadHeader: hdr, IdPayloadType: PayloadTypeIDi}, nil
	case PayloadTypeIDr:
		return &IdPayload{PayloadHeader: hdr, IdPayloadType: PayloadTypeIDr}, nil
	case PayloadTypeV1ID:
		return &IdPayload{PayloadHeader: hdr, IdPayloadType: PayloadTypeV1ID}, nil
	case PayloadTypeAUTH:
		return &AuthPayload{PayloadHeader: hdr}, nil
	case PayloadTypeV1HASH:
		return &HashPayload{PayloadHeader: hdr}, nil
	case PayloadTypeN, PayloadTypeV1N:
		return &NotifyPayload{PayloadHeader: hdr}, nil
	case PayloadTypeD, PayloadTypeV1D:
		return &DeletePayload{PayloadHeader: hdr}, nil
	case PayloadTypeTSi:
		return &TrafficSelectorPayload{PayloadHeader: hdr, TsPayloadType: PayloadTypeTSi}, nil
	case PayloadTypeTSr:
		return &TrafficSelectorPayload{PayloadHeader: hdr, TsPayloadType: PayloadTypeTSr}, nil
	case PayloadTypeCP:
		return &ConfigPayload{PayloadHeader: hdr, CpPayloadType: PayloadTypeCP}, nil
	case PayloadTypeV1CP:
		return &ConfigPayload{PayloadHeader: hdr, CpPayloadType: PayloadTypeV1CP}, nil
	case PayloadTypeV1NATD:
		return &NatdPayload{PayloadHeader: hdr}, nil
	case PayloadTypeSK:
		return &SkPayload{PayloadHeader: hdr}, nil
	default:
		return &RawPayload{PayloadHeader: hdr, PType: t}, nil
	}
}

// EncodeChain serializes the payload chain, prefixing every body with its
// 4 byte header (next-payload, a critical/reserved byte always written as
// zero, total length).
func (p *Payloads) EncodeChain() []byte {
	var out []byte
	for _, pl := range p.Array {
		body := pl.Encode()
		hdr := []byte{uint8(pl.NextPayloadType()), 0, 0, 0}
		total := PAYLOAD_HEADER_LENGTH + len(body)
		hdr[2] = uint8(total >> 8)
		hdr[3] = uint8(total)
		out = append(out, hdr...)
		out = append(out, body...)
	}
	return out
}
