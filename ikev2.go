package ike

import (
	"bytes"
	crand "crypto/rand"
	"math/big"
	"net"

	"github.com/msgboxio/log"
	"github.com/vpngw/ike/crypto"
	"github.com/vpngw/ike/protocol"
)

type ikev2State uint8

const (
	ikev2Initial ikev2State = iota
	ikev2SaSent             // IKE_SA_INIT answered, waiting for IKE_AUTH
	ikev2Established
	ikev2Deleted
)

// IKEv2Session is one IKEv2 SA's explicit state machine: IKE_SA_INIT
// then IKE_AUTH bring it to Established, after which CREATE_CHILD_SA and
// INFORMATIONAL are handled until a DELETE(IKE) or an IKE SA rekey removes it.
type IKEv2Session struct {
	gw    *Gateway
	cfg   *Config
	table *Table
	send  SendFunc

	state ikev2State

	SpiI, SpiR protocol.Spi
	tkm        *Tkm

	remoteAddr net.Addr

	initReqRaw, initRespRaw []byte

	// peerMsgId is the next inbound request id this session will accept;
	// a request one behind it gets the cached response replayed verbatim,
	// anything else is dropped silently (one-slot retransmit cache).
	peerMsgId   uint32
	lastRespRaw []byte

	// localMsgId numbers requests this session originates (CREATE_CHILD_SA
	// is always responder-driven here, so this only ever counts up when a
	// Child SA rekey is initiated locally; no path in this package sends
	// one, so it is never incremented).
	localMsgId uint32

	children []*ChildSA
}

func newIKEv2Responder(gw *Gateway) *IKEv2Session {
	return &IKEv2Session{gw: gw, cfg: gw.cfg, table: gw.table, peerMsgId: 1}
}

func (s *IKEv2Session) isTableEntry() {}

func (s *IKEv2Session) tag() string { return "ikev2 " + hexSpi(s.SpiI) + "/" + hexSpi(s.SpiR) + ": " }

func hexSpi(spi protocol.Spi) string {
	const hexits = "0123456789abcdef"
	b := make([]byte, 0, len(spi)*2)
	for _, x := range spi {
		b = append(b, hexits[x>>4], hexits[x&0xf])
	}
	return string(b)
}

// handleSaInit processes an IKE_SA_INIT request and, on success, installs
// the new session in the table keyed by the responder SPI it just minted.
func (s *IKEv2Session) handleSaInit(m *Message) {
	h := m.IkeHeader
	s.SpiI = h.SpiI
	s.remoteAddr = m.RemoteAddr

	if err := m.EnsurePayloads([]protocol.PayloadType{protocol.PayloadTypeSA, protocol.PayloadTypeKE, protocol.PayloadTypeNonce}); err != nil {
		s.sendInitReject(h, protocol.INVALID_SYNTAX, nil)
		return
	}

	if s.cfg.ThrottleInitRequests {
		if !s.hasValidCookie(m) {
			noncePl, _ := m.Payloads.Get(protocol.PayloadTypeNonce).(*protocol.NoncePayload)
			var nonce *big.Int
			if noncePl != nil {
				nonce = new(big.Int).SetBytes(noncePl.Nonce)
			}
			s.sendCookieChallenge(h, nonce)
			return
		}
	}

	saPl := m.Payloads.Get(protocol.PayloadTypeSA).(*protocol.SaPayload)
	accepted, err := s.cfg.CheckProposals(protocol.IKE, saPl.Proposals)
	if err != nil {
		log.Infof("ike: reject IKE_SA_INIT, no acceptable proposal: %v", err)
		s.sendInitReject(h, protocol.NO_PROPOSAL_CHOSEN, nil)
		return
	}

	kePl := m.Payloads.Get(protocol.PayloadTypeKE).(*protocol.KePayload)
	wantDh := protocol.DhTransformId(transformsFromList(accepted.SaTransforms)[protocol.TRANSFORM_TYPE_DH].Transform.TransformId)
	if kePl.DhTransformId != wantDh {
		b := make([]byte, 2)
		b[0], b[1] = byte(wantDh>>8), byte(wantDh)
		s.sendInitReject(h, protocol.INVALID_KE_PAYLOAD, b)
		return
	}

	suite, err := crypto.NewCipherSuite(transformsFromList(accepted.SaTransforms))
	if err != nil {
		s.sendInitReject(h, protocol.NO_PROPOSAL_CHOSEN, nil)
		return
	}

	noncePl := m.Payloads.Get(protocol.PayloadTypeNonce).(*protocol.NoncePayload)
	peerNonce := new(big.Int).SetBytes(noncePl.Nonce)
	peerPublic := new(big.Int).SetBytes(kePl.KeyData)

	tkm, err := NewTkmResponder(suite, nil, peerNonce, peerPublic)
	if err != nil {
		log.Errorf("ike: dh exchange failed: %v", err)
		s.sendInitReject(h, protocol.INVALID_SYNTAX, nil)
		return
	}
	s.tkm = tkm
	s.SpiR = s.table.FreshIkeSpi()

	resp := &Message{
		IkeHeader: &protocol.IkeHeader{
			SpiI: s.SpiI, SpiR: s.SpiR,
			MajorVersion: protocol.IKEV2_MAJOR_VERSION,
			ExchangeType: protocol.IKE_SA_INIT,
			Flags:        protocol.RESPONSE,
		},
		Payloads: protocol.MakePayloads(),
	}
	resp.Payloads.Add(&protocol.SaPayload{PayloadHeader: &protocol.PayloadHeader{}, Proposals: protocol.Proposals{accepted}})
	resp.Payloads.Add(&protocol.KePayload{PayloadHeader: &protocol.PayloadHeader{}, DhTransformId: wantDh, KeyData: tkm.DhPublic.Bytes()})
	resp.Payloads.Add(&protocol.NoncePayload{PayloadHeader: &protocol.PayloadHeader{}, Nonce: tkm.Nr.Bytes()})
	// NAT_DETECTION_*: this gateway treats any UDP/4500 arrival as NATed and
	// never checks these against the computed hash, so the payload carried
	// here is just random filler, not hash(SPIi|SPIr|addr|port).
	resp.Payloads.Add(&protocol.NotifyPayload{PayloadHeader: &protocol.PayloadHeader{}, ProtocolId: protocol.IKE,
		NotificationType: protocol.NAT_DETECTION_SOURCE_IP, NotificationMessage: randomBytes(20)})
	resp.Payloads.Add(&protocol.NotifyPayload{PayloadHeader: &protocol.PayloadHeader{}, ProtocolId: protocol.IKE,
		NotificationType: protocol.NAT_DETECTION_DESTINATION_IP, NotificationMessage: randomBytes(20)})

	raw, err := resp.Encode(tkm, false)
	if err != nil {
		log.Errorf("ike: encode IKE_SA_INIT response: %v", err)
		return
	}

	s.initReqRaw = append([]byte{}, m.Raw...)
	s.initRespRaw = raw
	tkm.IsaCreate(s.SpiI, s.SpiR)

	s.state = ikev2SaSent
	s.table.Insert(s.SpiR, s)
	if err := s.send(raw); err != nil {
		log.Errorf("ike: send IKE_SA_INIT response: %v", err)
	}
}

func (s *IKEv2Session) hasValidCookie(m *Message) bool {
	for _, pl := range m.Payloads.GetAll(protocol.PayloadTypeN) {
		n, ok := pl.(*protocol.NotifyPayload)
		if !ok || n.NotificationType != protocol.COOKIE {
			continue
		}
		got, _ := n.NotificationMessage.([]byte)
		noncePl, ok := m.Payloads.Get(protocol.PayloadTypeNonce).(*protocol.NoncePayload)
		if !ok {
			return false
		}
		nonce := new(big.Int).SetBytes(noncePl.Nonce)
		return bytes.Equal(got, getCookie(nonce, m.IkeHeader.SpiI, m.RemoteAddr))
	}
	return false
}

func (s *IKEv2Session) sendCookieChallenge(h *protocol.IkeHeader, nonce *big.Int) {
	resp := notifyOnlyResponseV2(h.SpiI, nil, protocol.IKE_SA_INIT, protocol.COOKIE,
		getCookie(nonce, h.SpiI, s.remoteAddr))
	raw, err := resp.Encode(nil, false)
	if err != nil {
		return
	}
	_ = s.send(raw)
}

func (s *IKEv2Session) sendInitReject(h *protocol.IkeHeader, nt protocol.NotificationType, msg []byte) {
	resp := notifyOnlyResponseV2(h.SpiI, nil, protocol.IKE_SA_INIT, nt, msg)
	raw, err := resp.Encode(nil, false)
	if err != nil {
		return
	}
	_ = s.send(raw)
}

func notifyOnlyResponseV2(spiI, spiR protocol.Spi, et protocol.IkeExchangeType, nt protocol.NotificationType, msg []byte) *Message {
	m := &Message{
		IkeHeader: &protocol.IkeHeader{
			SpiI: spiI, SpiR: spiR,
			MajorVersion: protocol.IKEV2_MAJOR_VERSION,
			ExchangeType: et,
			Flags:        protocol.RESPONSE,
		},
		Payloads: protocol.MakePayloads(),
	}
	m.Payloads.Add(&protocol.NotifyPayload{
		PayloadHeader:       &protocol.PayloadHeader{},
		ProtocolId:          protocol.IKE,
		NotificationType:    nt,
		NotificationMessage: msg,
	})
	return m
}

// Process handles every post-IKE_SA_INIT message: it enforces the message
// id / retransmit-cache rule, decrypts the SK envelope, and dispatches on
// exchange type.
func (s *IKEv2Session) Process(m *Message) {
	h := m.IkeHeader
	if !bytes.Equal(h.SpiI, s.SpiI) {
		log.Debugf(s.tag() + "drop message with mismatched initiator spi")
		return
	}
	s.remoteAddr = m.RemoteAddr

	if h.MsgId == s.peerMsgId-1 && s.lastRespRaw != nil {
		_ = s.send(s.lastRespRaw)
		return
	}
	if h.MsgId != s.peerMsgId {
		log.Debugf(s.tag()+"drop message id %d, expected %d", h.MsgId, s.peerMsgId)
		return
	}

	dec, firstType, err := s.openEncrypted(m)
	if err != nil {
		log.Infof(s.tag()+"drop undecryptable message: %v", err)
		return
	}
	if err := m.DecodePayloads(dec, firstType); err != nil {
		log.Infof(s.tag()+"drop message with bad inner payload chain: %v", err)
		return
	}

	var resp *Message
	switch h.ExchangeType {
	case protocol.IKE_AUTH:
		resp = s.handleAuth(m)
	case protocol.INFORMATIONAL:
		resp = s.handleInformational(m)
	case protocol.CREATE_CHILD_SA:
		resp = s.handleCreateChildSa(m)
	default:
		log.Debugf(s.tag()+"drop unsupported exchange type %v", h.ExchangeType)
		return
	}
	if resp == nil {
		return
	}
	if resp.IkeHeader == nil {
		resp.IkeHeader = &protocol.IkeHeader{}
	}
	resp.IkeHeader.SpiI, resp.IkeHeader.SpiR = s.SpiI, s.SpiR
	resp.IkeHeader.MsgId = h.MsgId
	resp.IkeHeader.MajorVersion = protocol.IKEV2_MAJOR_VERSION
	resp.IkeHeader.ExchangeType = h.ExchangeType
	resp.IkeHeader.Flags = protocol.RESPONSE

	raw, err := resp.Encode(s.tkm, false)
	if err != nil {
		log.Errorf(s.tag()+"encode response: %v", err)
		return
	}
	s.lastRespRaw = raw
	s.peerMsgId = h.MsgId + 1
	if err := s.send(raw); err != nil {
		log.Errorf(s.tag()+"send response: %v", err)
	}
	if s.state == ikev2Deleted {
		s.table.Remove(s.SpiR)
	}
}

func (s *IKEv2Session) openEncrypted(m *Message) (body []byte, first protocol.PayloadType, err error) {
	sk, ok := m.Payloads.Get(protocol.PayloadTypeSK).(*protocol.SkPayload)
	if !ok {
		return nil, 0, protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "missing SK payload")
	}
	dec, err := s.tkm.OpenMessageV2(m.Raw, false)
	if err != nil {
		return nil, 0, err
	}
	return dec, sk.NextPayloadType(), nil
}

// handleAuth completes IKE_AUTH: verifies AUTH_i, negotiates the first
// Child SA, and returns AUTH_r plus the Child SA's response payloads.
func (s *IKEv2Session) handleAuth(m *Message) *Message {
	if s.state != ikev2SaSent {
		log.Debugf(s.tag() + "drop out-of-state IKE_AUTH")
		return nil
	}
	idI, ok := m.Payloads.Get(protocol.PayloadTypeIDi).(*protocol.IdPayload)
	authPl, ok2 := m.Payloads.Get(protocol.PayloadTypeAUTH).(*protocol.AuthPayload)
	if !ok || !ok2 {
		return notifyOnlyResponseV2(nil, nil, protocol.IKE_AUTH, protocol.INVALID_SYNTAX, nil)
	}
	log.V(1).Infof(s.tag()+"IKE_AUTH from IDi type %v, auth method %v", idI.IdType, authPl.AuthMethod)

	signed1 := concat(s.initReqRaw, s.tkm.Nr.Bytes())
	expected := s.tkm.AuthSignature(s.cfg.PSK, signed1, idI.Encode(), true)
	if !bytes.Equal(expected, authPl.Data) {
		log.Infof(s.tag() + "AUTH_i mismatch")
		return notifyOnlyResponseV2(nil, nil, protocol.IKE_AUTH, protocol.AUTHENTICATION_FAILED, nil)
	}

	resp := &Message{Payloads: protocol.MakePayloads()}

	idR := &protocol.IdPayload{PayloadHeader: &protocol.PayloadHeader{}, IdPayloadType: protocol.PayloadTypeIDr,
		IdType: protocol.ID_FQDN, Data: []byte(s.cfg.Title + "-" + s.cfg.Version)}
	resp.Payloads.Add(idR)

	signed1r := concat(s.initRespRaw, s.tkm.Ni.Bytes())
	authR := s.tkm.AuthSignature(s.cfg.PSK, signed1r, idR.Encode(), false)
	resp.Payloads.Add(&protocol.AuthPayload{PayloadHeader: &protocol.PayloadHeader{}, AuthMethod: s.cfg.AuthMethod, Data: authR})

	child, childPayloads, err := s.negotiateChildSa(m, nil, nil)
	if err != nil {
		log.Infof(s.tag()+"no acceptable child sa: %v", err)
		resp.Payloads.Add(&protocol.NotifyPayload{PayloadHeader: &protocol.PayloadHeader{}, ProtocolId: protocol.ESP, NotificationType: protocol.NO_PROPOSAL_CHOSEN})
		s.state = ikev2Established
		return resp
	}
	for _, pl := range childPayloads {
		resp.Payloads.Add(pl)
	}
	if cpReq, ok := m.Payloads.Get(protocol.PayloadTypeCP).(*protocol.ConfigPayload); ok && cpReq.ConfigType == protocol.CFG_REQUEST {
		resp.Payloads.Add(s.configReply())
	}

	s.children = append(s.children, child)
	s.table.Insert(child.InboundSpi, child)
	s.state = ikev2Established
	return resp
}

func (s *IKEv2Session) configReply() *protocol.ConfigPayload {
	cp := &protocol.ConfigPayload{PayloadHeader: &protocol.PayloadHeader{}, CpPayloadType: protocol.PayloadTypeCP, ConfigType: protocol.CFG_REPLY}
	if ip := s.cfg.InternalIP; ip != nil {
		cp.Attributes = append(cp.Attributes, &protocol.ConfigAttribute{Type: protocol.INTERNAL_IP4_ADDRESS, Value: ip.To4()})
	}
	if dns := s.cfg.DNS; dns != nil {
		cp.Attributes = append(cp.Attributes, &protocol.ConfigAttribute{Type: protocol.INTERNAL_IP4_DNS, Value: dns.To4()})
	}
	return cp
}

// negotiateChildSa is shared by IKE_AUTH's implicit first Child SA and
// CREATE_CHILD_SA's additional/rekeyed ones. When niOverride/nrOverride are
// nil, the IKE_SA_INIT nonces are reused (the IKE_AUTH case, RFC 7296
// 2.17); CREATE_CHILD_SA always supplies its own pair.
func (s *IKEv2Session) negotiateChildSa(m *Message, niOverride, nrOverride *big.Int) (*ChildSA, []protocol.Payload, error) {
	saPl, ok := m.Payloads.Get(protocol.PayloadTypeSA).(*protocol.SaPayload)
	if !ok {
		return nil, nil, protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "missing child SA payload")
	}
	accepted, err := s.cfg.CheckProposals(protocol.ESP, saPl.Proposals)
	if err != nil {
		return nil, nil, err
	}
	espSuite, err := crypto.NewCipherSuite(transformsFromList(accepted.SaTransforms))
	if err != nil {
		return nil, nil, err
	}
	s.tkm.SetEspSuite(espSuite)

	ni, nr := s.tkm.Ni, s.tkm.Nr
	var noncePayload *protocol.NoncePayload
	if niOverride != nil {
		ni, nr = niOverride, nrOverride
		noncePayload = &protocol.NoncePayload{PayloadHeader: &protocol.PayloadHeader{}, Nonce: nr.Bytes()}
	}
	encrI, authI, encrR, authR := s.tkm.IpsecSaCreate(ni, nr)

	outboundSpi := protocol.Spi(accepted.Spi)
	inboundSpi := s.table.FreshEspSpi()
	accepted.Spi = inboundSpi

	child := NewChildSA(s.table,
		inboundSpi, outboundSpi,
		&crypto.EspContext{Cipher: espSuite.Cipher, EncrKey: encrI, AuthKey: authI},
		&crypto.EspContext{Cipher: espSuite.Cipher, EncrKey: encrR, AuthKey: authR})
	child.IsTransportMode = s.cfg.IsTransportMode

	var out []protocol.Payload
	out = append(out, &protocol.SaPayload{PayloadHeader: &protocol.PayloadHeader{}, Proposals: protocol.Proposals{accepted}})
	if noncePayload != nil {
		out = append(out, noncePayload)
	}
	tsI, tsR := s.cfg.TsI, s.cfg.TsR
	if tsI == nil {
		tsI = anyTrafficSelectors()
	}
	if tsR == nil {
		tsR = anyTrafficSelectors()
	}
	out = append(out, &protocol.TrafficSelectorPayload{PayloadHeader: &protocol.PayloadHeader{}, TsPayloadType: protocol.PayloadTypeTSi, Selectors: tsI})
	out = append(out, &protocol.TrafficSelectorPayload{PayloadHeader: &protocol.PayloadHeader{}, TsPayloadType: protocol.PayloadTypeTSr, Selectors: tsR})
	return child, out, nil
}

// handleInformational implements liveness (empty<->empty), DELETE(IKE)
// (cascades to every Child SA) and DELETE(child) (removes the named ones).
func (s *IKEv2Session) handleInformational(m *Message) *Message {
	resp := &Message{Payloads: protocol.MakePayloads()}
	del, ok := m.Payloads.Get(protocol.PayloadTypeD).(*protocol.DeletePayload)
	if !ok {
		return resp // empty <-> empty liveness check
	}
	switch del.ProtocolId {
	case protocol.IKE:
		for _, c := range s.children {
			s.table.Remove(c.InboundSpi)
		}
		s.state = ikev2Deleted
		return resp
	case protocol.ESP:
		var deletedInbound [][]byte
		remaining := s.children[:0]
		for _, c := range s.children {
			if hasSpi(del.Spis, c.OutboundSpi) {
				s.table.Remove(c.InboundSpi)
				deletedInbound = append(deletedInbound, c.InboundSpi)
				continue
			}
			remaining = append(remaining, c)
		}
		s.children = remaining
		resp.Payloads.Add(&protocol.DeletePayload{PayloadHeader: &protocol.PayloadHeader{}, ProtocolId: protocol.ESP, Spis: deletedInbound})
		return resp
	default:
		return resp
	}
}

func hasSpi(spis [][]byte, want protocol.Spi) bool {
	for _, s := range spis {
		if bytes.Equal(s, want) {
			return true
		}
	}
	return false
}

// handleCreateChildSa dispatches to IKE SA rekey or Child SA
// create/rekey depending on what protocol the SA payload proposes.
func (s *IKEv2Session) handleCreateChildSa(m *Message) *Message {
	saPl, ok := m.Payloads.Get(protocol.PayloadTypeSA).(*protocol.SaPayload)
	if !ok || len(saPl.Proposals) == 0 {
		return notifyOnlyResponseV2(nil, nil, protocol.CREATE_CHILD_SA, protocol.INVALID_SYNTAX, nil)
	}
	if saPl.Proposals[0].ProtocolId == protocol.IKE {
		return s.handleRekeyIke(m, saPl)
	}
	return s.handleRekeyOrCreateChild(m)
}

func (s *IKEv2Session) handleRekeyOrCreateChild(m *Message) *Message {
	noncePl, ok := m.Payloads.Get(protocol.PayloadTypeNonce).(*protocol.NoncePayload)
	if !ok {
		return notifyOnlyResponseV2(nil, nil, protocol.CREATE_CHILD_SA, protocol.INVALID_SYNTAX, nil)
	}
	niPrime := new(big.Int).SetBytes(noncePl.Nonce)
	nrPrime := new(big.Int).SetBytes(randomBytes(32))

	child, payloads, err := s.negotiateChildSa(m, niPrime, nrPrime)
	if err != nil {
		return notifyOnlyResponseV2(nil, nil, protocol.CREATE_CHILD_SA, protocol.NO_PROPOSAL_CHOSEN, nil)
	}

	for _, pl := range m.Payloads.GetAll(protocol.PayloadTypeN) {
		n := pl.(*protocol.NotifyPayload)
		if n.NotificationType != protocol.REKEY_SA {
			continue
		}
		for _, old := range s.children {
			if bytes.Equal(old.OutboundSpi, n.Spi) {
				old.child = child
			}
		}
	}

	s.children = append(s.children, child)
	s.table.Insert(child.InboundSpi, child)

	resp := &Message{Payloads: protocol.MakePayloads()}
	for _, pl := range payloads {
		resp.Payloads.Add(pl)
	}
	return resp
}

func (s *IKEv2Session) handleRekeyIke(m *Message, saPl *protocol.SaPayload) *Message {
	accepted, err := s.cfg.CheckProposals(protocol.IKE, saPl.Proposals)
	if err != nil {
		return notifyOnlyResponseV2(nil, nil, protocol.CREATE_CHILD_SA, protocol.NO_PROPOSAL_CHOSEN, nil)
	}
	kePl, ok := m.Payloads.Get(protocol.PayloadTypeKE).(*protocol.KePayload)
	noncePl, ok2 := m.Payloads.Get(protocol.PayloadTypeNonce).(*protocol.NoncePayload)
	if !ok || !ok2 {
		return notifyOnlyResponseV2(nil, nil, protocol.CREATE_CHILD_SA, protocol.INVALID_SYNTAX, nil)
	}

	suite, err := crypto.NewCipherSuite(transformsFromList(accepted.SaTransforms))
	if err != nil {
		return notifyOnlyResponseV2(nil, nil, protocol.CREATE_CHILD_SA, protocol.NO_PROPOSAL_CHOSEN, nil)
	}
	newDh, err := suite.DhGroup.GeneratePrivate(crand.Reader)
	if err != nil {
		log.Errorf(s.tag()+"rekey dh generate: %v", err)
		return notifyOnlyResponseV2(nil, nil, protocol.CREATE_CHILD_SA, protocol.NO_PROPOSAL_CHOSEN, nil)
	}
	newPub := suite.DhGroup.Public(newDh)
	peerPub := new(big.Int).SetBytes(kePl.KeyData)
	shared, err := suite.DhGroup.SharedSecret(peerPub, newDh)
	if err != nil {
		return notifyOnlyResponseV2(nil, nil, protocol.CREATE_CHILD_SA, protocol.NO_PROPOSAL_CHOSEN, nil)
	}

	niPrime := new(big.Int).SetBytes(noncePl.Nonce)
	nrPrime := new(big.Int).SetBytes(randomBytes(32))
	newSpiR := s.table.FreshIkeSpi()
	newSpiI := s.SpiI

	newTkm := s.tkm.IsaCreateRekey(shared, niPrime, nrPrime, newSpiI, newSpiR)
	newSession := &IKEv2Session{
		gw: s.gw, cfg: s.cfg, table: s.table, send: s.send,
		state: ikev2Established, SpiI: newSpiI, SpiR: newSpiR, tkm: newTkm,
		remoteAddr: s.remoteAddr, peerMsgId: 1, children: s.children,
	}
	s.table.Insert(newSpiR, newSession)
	s.table.Remove(s.SpiR)
	s.state = ikev2Deleted

	resp := &Message{Payloads: protocol.MakePayloads()}
	resp.Payloads.Add(&protocol.SaPayload{PayloadHeader: &protocol.PayloadHeader{}, Proposals: protocol.Proposals{accepted}})
	dhId := protocol.DhTransformId(transformsFromList(accepted.SaTransforms)[protocol.TRANSFORM_TYPE_DH].Transform.TransformId)
	resp.Payloads.Add(&protocol.KePayload{PayloadHeader: &protocol.PayloadHeader{}, DhTransformId: dhId, KeyData: newPub.Bytes()})
	resp.Payloads.Add(&protocol.NoncePayload{PayloadHeader: &protocol.PayloadHeader{}, Nonce: nrPrime.Bytes()})
	return resp
}

// transformsFromList reduces a proposal's transform slice back to the
// type-keyed map the crypto and config layers expect.
func transformsFromList(trs []*protocol.SaTransform) protocol.Transforms {
	out := make(protocol.Transforms, len(trs))
	for _, tr := range trs {
		out[tr.Transform.Type] = tr
	}
	return out
}
