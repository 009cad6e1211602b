package ike

import (
	"bytes"
	"math/big"
	"net"

	"github.com/msgboxio/log"
	"github.com/vpngw/ike/crypto"
	"github.com/vpngw/ike/protocol"
)

type ikev1State uint8

const (
	ikev1Initial     ikev1State = iota
	ikev1SaSent                 // sent message 2 (SA), waiting for KE+Nonce (message 3)
	ikev1KeSent                 // sent message 4 (KE+Nonce), waiting for encrypted ID+HASH (message 5)
	ikev1HashSent                // sent message 6 and pushed the XAuth CFG_REQUEST, waiting for credentials
	ikev1AuthSet                 // credentials accepted, waiting for the mode-config address request
	ikev1ConfSent                // sent CFG_REPLY with internal address/DNS, waiting for Quick Mode
	ikev1ChildSaSent             // Quick Mode message 2 sent, waiting for the message 3 ack
	ikev1Established
	ikev1Deleted
)

// quickModeExchange is the short-lived state kept across a Quick Mode's
// three messages so a late message 3 ack can still be hash-verified after
// the Child SA it confirms has already been installed.
type quickModeExchange struct {
	msgId  uint32
	ni, nr *big.Int
}

// IKEv1Session is one ISAKMP SA's Main Mode / Quick Mode / Transaction
// state machine. Phase 1 runs through explicit states; once Established it
// accepts any number of Quick Mode, Transaction (Mode Config), and
// Informational exchanges, each identified by its own message id.
type IKEv1Session struct {
	gw    *Gateway
	cfg   *Config
	table *Table
	send  SendFunc

	state ikev1State

	SpiI, SpiR protocol.Spi
	tkm        *Tkm

	remoteAddr net.Addr

	saIBytes []byte // initiator's Main Mode SA payload body, re-encoded (SAi_b, RFC 2409 5.3/5.4)
	gxi, gxr []byte // the two sides' raw DH public values

	// lastMsgId/lastReqRaw/lastRespRaw are the one-slot retransmit cache for
	// phase 2 exchanges: each carries its own fresh message id, so a
	// byte-identical repeat of the last request (not a monotonic successor,
	// unlike IKEv2) replays the cache. Quick Mode message 3 shares message
	// 1's id but not its bytes, so it is processed normally.
	lastMsgId   uint32
	lastReqRaw  []byte
	lastRespRaw []byte
	sawLastMsg  bool

	pendingQm *quickModeExchange

	// xauthMsgId is the message id this session allocated for the XAuth
	// credentials push it sends unprompted right after Main Mode completes;
	// the client's CFG_REPLY carrying credentials arrives under the same id,
	// IKEv1's Transaction exchanges being initiator-numbered.
	xauthMsgId uint32

	children []*ChildSA
}

func newIKEv1Responder(gw *Gateway) *IKEv1Session {
	return &IKEv1Session{gw: gw, cfg: gw.cfg, table: gw.table}
}

func (s *IKEv1Session) isTableEntry() {}

func (s *IKEv1Session) tag() string {
	return "ikev1 " + hexSpi(s.SpiI) + "/" + hexSpi(s.SpiR) + ": "
}

// Process dispatches every post-message-1 datagram: phase 1 continuation by
// explicit state, phase 2 exchanges by type once Established.
func (s *IKEv1Session) Process(m *Message) {
	h := m.IkeHeader
	if !bytes.Equal(h.SpiI, s.SpiI) {
		log.Debugf(s.tag() + "drop message with mismatched initiator cookie")
		return
	}
	s.remoteAddr = m.RemoteAddr

	switch {
	case h.ExchangeType == protocol.IDENTITY_1 && s.state == ikev1SaSent:
		s.handleMainModeKE(m)
	case h.ExchangeType == protocol.IDENTITY_1 && s.state == ikev1KeSent:
		s.handleMainModeAuth(m)
	case s.state >= ikev1HashSent && s.state < ikev1Deleted:
		s.processPhase2(m)
	default:
		log.Debugf(s.tag()+"drop out-of-state exchange %v", h.ExchangeType)
	}
}

// handleMainModeI processes message 1 (SA) and answers with message 2
// (the echoed, narrowed SA), per RFC 2409 5.
func (s *IKEv1Session) handleMainModeI(m *Message) {
	h := m.IkeHeader
	s.SpiI = h.SpiI
	s.remoteAddr = m.RemoteAddr

	if err := m.EnsurePayloads([]protocol.PayloadType{protocol.PayloadTypeSA}); err != nil {
		log.Debugf(s.tag() + "drop message 1 missing SA payload")
		return
	}
	saPl := m.Payloads.Get(protocol.PayloadTypeSA).(*protocol.SaPayload)
	accepted, err := s.cfg.CheckProposals(protocol.IKE, saPl.Proposals)
	if err != nil {
		log.Infof(s.tag()+"reject main mode, no acceptable proposal: %v", err)
		return
	}
	s.saIBytes = saPl.Encode()

	suite, err := crypto.NewCipherSuite(transformsFromList(accepted.SaTransforms))
	if err != nil {
		log.Infof(s.tag()+"reject main mode, unsupported transform: %v", err)
		return
	}
	s.tkm = NewTkmV1Responder(suite, nil)
	s.SpiR = s.table.FreshIkeSpi()

	resp := &Message{
		IkeHeader: &protocol.IkeHeader{
			SpiI: s.SpiI, SpiR: s.SpiR,
			MajorVersion: protocol.IKEV1_MAJOR_VERSION,
			ExchangeType: protocol.IDENTITY_1,
			Flags:        protocol.RESPONSE,
		},
		Payloads: protocol.MakePayloads(),
	}
	resp.Payloads.Add(&protocol.SaPayload{PayloadHeader: &protocol.PayloadHeader{}, Proposals: protocol.Proposals{accepted}})

	raw, err := resp.Encode(nil, false)
	if err != nil {
		log.Errorf(s.tag()+"encode message 2: %v", err)
		return
	}
	s.state = ikev1SaSent
	s.table.Insert(s.SpiR, s)
	if err := s.send(raw); err != nil {
		log.Errorf(s.tag()+"send message 2: %v", err)
	}
}

// handleMainModeKE processes message 3 (KE+Nonce) and answers with message
// 4 (our own KE+Nonce), deriving the phase 1 keys only after message 4 has
// been encoded - message 4 is still sent in the clear (RFC 2409 5).
func (s *IKEv1Session) handleMainModeKE(m *Message) {
	if err := m.EnsurePayloads([]protocol.PayloadType{protocol.PayloadTypeKE, protocol.PayloadTypeNonce}); err != nil {
		log.Debugf(s.tag() + "drop message 3 missing KE/Nonce")
		return
	}
	kePl := m.Payloads.Get(protocol.PayloadTypeKE).(*protocol.KePayload)
	noncePl := m.Payloads.Get(protocol.PayloadTypeNonce).(*protocol.NoncePayload)
	s.tkm.Ni = new(big.Int).SetBytes(noncePl.Nonce)
	s.gxi = append([]byte{}, kePl.KeyData...)

	peerPublic := new(big.Int).SetBytes(kePl.KeyData)
	if err := s.tkm.GenerateLocalV1(peerPublic); err != nil {
		log.Errorf(s.tag()+"dh exchange failed: %v", err)
		return
	}
	s.gxr = append([]byte{}, s.tkm.DhPublic.Bytes()...)

	resp := &Message{
		IkeHeader: &protocol.IkeHeader{
			SpiI: s.SpiI, SpiR: s.SpiR,
			MajorVersion: protocol.IKEV1_MAJOR_VERSION,
			ExchangeType: protocol.IDENTITY_1,
			Flags:        protocol.RESPONSE,
		},
		Payloads: protocol.MakePayloads(),
	}
	resp.Payloads.Add(&protocol.KePayload{PayloadHeader: &protocol.PayloadHeader{}, KeyData: s.tkm.DhPublic.Bytes()})
	resp.Payloads.Add(&protocol.NoncePayload{PayloadHeader: &protocol.PayloadHeader{}, Nonce: s.tkm.Nr.Bytes()})

	raw, err := resp.Encode(nil, false)
	if err != nil {
		log.Errorf(s.tag()+"encode message 4: %v", err)
		return
	}

	s.tkm.IsaCreateV1(s.cfg.PSK, s.SpiI, s.SpiR, s.gxi, s.gxr)

	s.state = ikev1KeSent
	if err := s.send(raw); err != nil {
		log.Errorf(s.tag()+"send message 4: %v", err)
	}
}

// handleMainModeAuth processes the encrypted message 5 (ID+HASH_I) and
// answers with message 6 (ID+HASH_R), completing phase 1 (RFC 2409 5).
func (s *IKEv1Session) handleMainModeAuth(m *Message) {
	h := m.IkeHeader
	pt, err := s.tkm.OpenMessageV1(h, m.Raw[protocol.IKE_HEADER_LEN:], false)
	if err != nil {
		log.Infof(s.tag()+"drop undecryptable message 5: %v", err)
		return
	}
	if err := m.DecodePayloads(pt, h.NextPayload); err != nil {
		log.Infof(s.tag()+"drop message 5 with bad inner payload chain: %v", err)
		return
	}
	idI, ok := m.Payloads.Get(protocol.PayloadTypeV1ID).(*protocol.IdPayload)
	hashI, ok2 := m.Payloads.Get(protocol.PayloadTypeV1HASH).(*protocol.HashPayload)
	if !ok || !ok2 {
		log.Debugf(s.tag() + "drop message 5 missing ID/HASH")
		return
	}
	wantI := s.tkm.HashV1(s.gxi, s.gxr, s.SpiI, s.SpiR, s.saIBytes, idI.Encode())
	if !bytes.Equal(wantI, hashI.Data) {
		log.Infof(s.tag() + "HASH_I mismatch, dropping")
		return
	}

	resp := &Message{
		IkeHeader: &protocol.IkeHeader{
			SpiI: s.SpiI, SpiR: s.SpiR,
			MajorVersion: protocol.IKEV1_MAJOR_VERSION,
			ExchangeType: protocol.IDENTITY_1,
			Flags:        protocol.RESPONSE,
			MsgId:        0,
		},
		Payloads: protocol.MakePayloads(),
	}
	idR := &protocol.IdPayload{PayloadHeader: &protocol.PayloadHeader{}, IdPayloadType: protocol.PayloadTypeV1ID,
		IdType: protocol.ID_FQDN, Data: []byte(s.cfg.Title + "-" + s.cfg.Version)}
	resp.Payloads.Add(idR)
	hashR := s.tkm.HashV1(s.gxi, s.gxr, s.SpiI, s.SpiR, s.saIBytes, idR.Encode())
	resp.Payloads.Add(&protocol.HashPayload{PayloadHeader: &protocol.PayloadHeader{}, Data: hashR})

	raw, err := resp.Encode(s.tkm, false)
	if err != nil {
		log.Errorf(s.tag()+"encode message 6: %v", err)
		return
	}
	s.state = ikev1HashSent
	if err := s.send(raw); err != nil {
		log.Errorf(s.tag()+"send message 6: %v", err)
		return
	}
	s.pushXauthRequest()
}

// pushXauthRequest sends the unsolicited TRANSACTION_1 CFG_REQUEST that
// starts XAuth right after Main Mode completes: a CFG_REQUEST carrying
// XAUTH_TYPE/USER_NAME/USER_PASSWORD attribute placeholders, under a
// message id this session allocates since it is the one starting the
// exchange.
func (s *IKEv1Session) pushXauthRequest() {
	s.xauthMsgId = randomMsgId()
	cp := &protocol.ConfigPayload{PayloadHeader: &protocol.PayloadHeader{}, CpPayloadType: protocol.PayloadTypeV1CP, ConfigType: protocol.CFG_REQUEST}
	cp.Attributes = append(cp.Attributes,
		&protocol.ConfigAttribute{Type: protocol.XAUTH_TYPE},
		&protocol.ConfigAttribute{Type: protocol.XAUTH_USER_NAME},
		&protocol.ConfigAttribute{Type: protocol.XAUTH_USER_PASSWORD})

	hash := s.tkm.HashV1Msg(s.xauthMsgId, nil, (&protocol.Payloads{Array: []protocol.Payload{cp}}).EncodeChain())
	req := &Message{
		IkeHeader: &protocol.IkeHeader{
			SpiI: s.SpiI, SpiR: s.SpiR,
			MajorVersion: protocol.IKEV1_MAJOR_VERSION,
			ExchangeType: protocol.TRANSACTION_1,
			MsgId:        s.xauthMsgId,
		},
		Payloads: protocol.MakePayloads(),
	}
	req.Payloads.Add(&protocol.HashPayload{PayloadHeader: &protocol.PayloadHeader{}, Data: hash})
	req.Payloads.Add(cp)

	raw, err := req.Encode(s.tkm, false)
	if err != nil {
		log.Errorf(s.tag()+"encode xauth push: %v", err)
		return
	}
	if err := s.send(raw); err != nil {
		log.Errorf(s.tag()+"send xauth push: %v", err)
	}
}

// randomMsgId picks a fresh nonzero IKEv1 message id for an exchange this
// session originates (message id 0 is reserved for phase 1).
func randomMsgId() uint32 {
	for {
		b := randomBytes(4)
		id := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
		if id != 0 {
			return id
		}
	}
}

// processPhase2 handles every post-phase-1 exchange: each carries its own
// fresh, non-zero message id, so a byte-identical repeat of the last
// request replays the cached response rather than advancing the one-slot
// retransmit cache.
func (s *IKEv1Session) processPhase2(m *Message) {
	h := m.IkeHeader
	if s.sawLastMsg && h.MsgId == s.lastMsgId && bytes.Equal(m.Raw, s.lastReqRaw) {
		if s.lastRespRaw != nil {
			_ = s.send(s.lastRespRaw)
		}
		return
	}

	pt, err := s.tkm.OpenMessageV1(h, m.Raw[protocol.IKE_HEADER_LEN:], false)
	if err != nil {
		log.Infof(s.tag()+"drop undecryptable phase 2 message: %v", err)
		return
	}
	if err := m.DecodePayloads(pt, h.NextPayload); err != nil {
		log.Infof(s.tag()+"drop phase 2 message with bad inner payload chain: %v", err)
		return
	}

	var resp *Message
	switch h.ExchangeType {
	case protocol.QUICK_1:
		resp = s.handleQuickMode(m)
	case protocol.TRANSACTION_1:
		resp = s.handleTransaction(m)
	case protocol.INFORMATIONAL_1:
		resp = s.handleInformationalV1(m)
	default:
		log.Debugf(s.tag()+"drop unsupported phase 2 exchange %v", h.ExchangeType)
		return
	}

	s.lastMsgId = h.MsgId
	s.lastReqRaw = append([]byte{}, m.Raw...)
	s.sawLastMsg = true
	if resp == nil {
		s.lastRespRaw = nil
		if s.state == ikev1Deleted {
			s.table.Remove(s.SpiR)
		}
		return
	}
	if resp.IkeHeader == nil {
		resp.IkeHeader = &protocol.IkeHeader{}
	}
	resp.IkeHeader.SpiI, resp.IkeHeader.SpiR = s.SpiI, s.SpiR
	resp.IkeHeader.MsgId = h.MsgId
	resp.IkeHeader.MajorVersion = protocol.IKEV1_MAJOR_VERSION
	resp.IkeHeader.ExchangeType = h.ExchangeType
	resp.IkeHeader.Flags = protocol.RESPONSE

	raw, err := resp.Encode(s.tkm, false)
	if err != nil {
		log.Errorf(s.tag()+"encode phase 2 response: %v", err)
		return
	}
	s.lastRespRaw = raw
	if err := s.send(raw); err != nil {
		log.Errorf(s.tag()+"send phase 2 response: %v", err)
	}
	if s.state == ikev1Deleted {
		s.table.Remove(s.SpiR)
	}
}

// handleQuickMode implements the two- and three-message forms (RFC 2409
// 5.5): message 2 installs the Child SA immediately (the responder does not
// wait for the optional message 3 to start forwarding), message 3, if it
// ever arrives, is verified and otherwise ignored.
func (s *IKEv1Session) handleQuickMode(m *Message) *Message {
	h := m.IkeHeader

	if hashPl, ok := m.Payloads.Get(protocol.PayloadTypeV1HASH).(*protocol.HashPayload); ok &&
		s.pendingQm != nil && s.pendingQm.msgId == h.MsgId && m.Payloads.Get(protocol.PayloadTypeSA) == nil {
		if s.state != ikev1ChildSaSent {
			log.Debugf(s.tag() + "drop out-of-state quick mode ack")
			return nil
		}
		// a bare HASH-only body at this message id is the message 3 ack.
		want := s.tkm.HashV1Ack(h.MsgId, s.pendingQm.ni.Bytes(), s.pendingQm.nr.Bytes())
		if !bytes.Equal(want, hashPl.Data) {
			log.Infof(s.tag() + "HASH(3) mismatch on quick mode ack")
		}
		s.pendingQm = nil
		s.state = ikev1Established
		return nil
	}

	if s.state != ikev1ConfSent {
		log.Debugf(s.tag() + "drop out-of-state quick mode message 1")
		return nil
	}

	saPl, ok := m.Payloads.Get(protocol.PayloadTypeSA).(*protocol.SaPayload)
	noncePl, ok2 := m.Payloads.Get(protocol.PayloadTypeNonce).(*protocol.NoncePayload)
	hashPl, ok3 := m.Payloads.Get(protocol.PayloadTypeV1HASH).(*protocol.HashPayload)
	if !ok || !ok2 || !ok3 {
		log.Debugf(s.tag() + "drop quick mode message 1 missing SA/Nonce/HASH")
		return nil
	}

	ni := new(big.Int).SetBytes(noncePl.Nonce)
	body := s.quickModeBodyWithoutHash(m)
	want1 := s.tkm.HashV1Msg(h.MsgId, nil, body)
	if !bytes.Equal(want1, hashPl.Data) {
		log.Infof(s.tag() + "HASH(1) mismatch, dropping quick mode request")
		return nil
	}

	accepted, err := s.cfg.CheckProposals(protocol.ESP, saPl.Proposals)
	if err != nil {
		return v1NotifyOnly(protocol.ESP, protocol.NO_PROPOSAL_CHOSEN)
	}
	espSuite, err := crypto.NewCipherSuite(transformsFromList(accepted.SaTransforms))
	if err != nil {
		return v1NotifyOnly(protocol.ESP, protocol.NO_PROPOSAL_CHOSEN)
	}
	s.tkm.SetEspSuite(espSuite)

	nr := new(big.Int).SetBytes(randomBytes(32))
	outboundSpi := protocol.Spi(accepted.Spi)
	inboundSpi := s.table.FreshEspSpi()
	accepted.Spi = inboundSpi

	encrI, authI, encrR, authR := s.tkm.IpsecSaCreateV1(protocol.ESP, inboundSpi, ni, nr)
	child := NewChildSA(s.table,
		inboundSpi, outboundSpi,
		&crypto.EspContext{Cipher: espSuite.Cipher, EncrKey: encrI, AuthKey: authI},
		&crypto.EspContext{Cipher: espSuite.Cipher, EncrKey: encrR, AuthKey: authR})
	child.IsTransportMode = s.cfg.IsTransportMode
	s.children = append(s.children, child)
	s.table.Insert(child.InboundSpi, child)
	s.pendingQm = &quickModeExchange{msgId: h.MsgId, ni: ni, nr: nr}
	s.state = ikev1ChildSaSent

	resp := &Message{Payloads: protocol.MakePayloads()}
	resp.Payloads.Add(&protocol.SaPayload{PayloadHeader: &protocol.PayloadHeader{}, Proposals: protocol.Proposals{accepted}})
	resp.Payloads.Add(&protocol.NoncePayload{PayloadHeader: &protocol.PayloadHeader{}, Nonce: nr.Bytes()})

	body2 := resp.Payloads.EncodeChain()
	hash2 := s.tkm.HashV1Msg(h.MsgId, ni.Bytes(), body2)
	// HASH(2) is the first payload of the response (RFC 2409 5.5); prepend it
	// now that the rest of the body it covers is fixed.
	withHash := &Message{Payloads: protocol.MakePayloads()}
	withHash.Payloads.Add(&protocol.HashPayload{PayloadHeader: &protocol.PayloadHeader{}, Data: hash2})
	for _, pl := range resp.Payloads.Array {
		withHash.Payloads.Add(pl)
	}
	return withHash
}

// quickModeBodyWithoutHash re-encodes every payload after HASH(1) in
// message order, the input HASH(1) itself authenticates (RFC 2409 5.5).
func (s *IKEv1Session) quickModeBodyWithoutHash(m *Message) []byte {
	rest := protocol.MakePayloads()
	for _, pl := range m.Payloads.Array {
		if pl.Type() == protocol.PayloadTypeV1HASH {
			continue
		}
		rest.Array = append(rest.Array, pl)
	}
	return rest.EncodeChain()
}

// handleTransaction implements the three TRANSACTION_1 steps: the
// client's reply to our XAuth push (HASH_SENT -> AUTH_SET, answered with
// CFG_SET/XAUTH_STATUS=1), its Mode Config pull of the internal
// address/DNS (AUTH_SET -> CONF_SENT, answered with CFG_REPLY), and a
// trailing CFG_ACK, which is a no-op.
func (s *IKEv1Session) handleTransaction(m *Message) *Message {
	h := m.IkeHeader
	hashPl, ok := m.Payloads.Get(protocol.PayloadTypeV1HASH).(*protocol.HashPayload)
	cfgPl, ok2 := m.Payloads.Get(protocol.PayloadTypeV1CP).(*protocol.ConfigPayload)
	if !ok || !ok2 {
		log.Debugf(s.tag() + "drop transaction message missing HASH/CP")
		return nil
	}
	body := s.quickModeBodyWithoutHash(m)
	want := s.tkm.HashV1Msg(h.MsgId, nil, body)
	if !bytes.Equal(want, hashPl.Data) {
		log.Infof(s.tag() + "HASH mismatch on transaction exchange")
		return nil
	}

	switch cfgPl.ConfigType {
	case protocol.CFG_REPLY:
		if s.state != ikev1HashSent {
			log.Debugf(s.tag() + "drop out-of-state xauth credentials reply")
			return nil
		}
		// The credential values themselves are never checked: the PSK already
		// authenticated this peer in Main Mode.
		s.state = ikev1AuthSet
		return s.hashedConfigReply(h.MsgId, protocol.CFG_SET,
			&protocol.ConfigAttribute{Type: protocol.XAUTH_STATUS, Value: []byte{0, 1}})

	case protocol.CFG_REQUEST:
		if s.state != ikev1AuthSet {
			log.Debugf(s.tag() + "drop out-of-state mode-config request")
			return nil
		}
		var attrs []*protocol.ConfigAttribute
		for _, attr := range cfgPl.Attributes {
			switch attr.Type {
			case protocol.INTERNAL_IP4_ADDRESS:
				if ip := s.cfg.InternalIPv1; ip != nil {
					attrs = append(attrs, &protocol.ConfigAttribute{Type: protocol.INTERNAL_IP4_ADDRESS, Value: ip.To4()})
				}
			case protocol.INTERNAL_IP4_DNS:
				if dns := s.cfg.DNS; dns != nil {
					attrs = append(attrs, &protocol.ConfigAttribute{Type: protocol.INTERNAL_IP4_DNS, Value: dns.To4()})
				}
			}
		}
		s.state = ikev1ConfSent
		return s.hashedConfigReply(h.MsgId, protocol.CFG_REPLY, attrs...)

	case protocol.CFG_ACK:
		return nil // no-op

	default:
		log.Debugf(s.tag()+"drop transaction with unexpected cfg type %d", cfgPl.ConfigType)
		return nil
	}
}

// hashedConfigReply builds a HASH+CP response for one TRANSACTION_1 step,
// HASH covering the CP payload alone (the same construction as the inbound
// HASH(1) check, mirrored for our own outbound body).
func (s *IKEv1Session) hashedConfigReply(msgId uint32, ct protocol.ConfigType, attrs ...*protocol.ConfigAttribute) *Message {
	cp := &protocol.ConfigPayload{PayloadHeader: &protocol.PayloadHeader{}, CpPayloadType: protocol.PayloadTypeV1CP, ConfigType: ct, Attributes: attrs}
	hash := s.tkm.HashV1Msg(msgId, nil, (&protocol.Payloads{Array: []protocol.Payload{cp}}).EncodeChain())
	resp := &Message{Payloads: protocol.MakePayloads()}
	resp.Payloads.Add(&protocol.HashPayload{PayloadHeader: &protocol.PayloadHeader{}, Data: hash})
	resp.Payloads.Add(cp)
	return resp
}

// handleInformationalV1 implements DELETE (phase 1 cascades to every Child
// SA, phase 2 removes the named ones), R_U_THERE/R_U_THERE_ACK liveness,
// and a silent INITIAL_CONTACT acknowledgement (RFC 2408 4.6.3, RFC 3706).
func (s *IKEv1Session) handleInformationalV1(m *Message) *Message {
	h := m.IkeHeader
	hashPl, ok := m.Payloads.Get(protocol.PayloadTypeV1HASH).(*protocol.HashPayload)
	if !ok {
		return nil
	}
	body := s.quickModeBodyWithoutHash(m)
	want := s.tkm.HashV1Msg(h.MsgId, nil, body)
	if !bytes.Equal(want, hashPl.Data) {
		log.Infof(s.tag() + "HASH mismatch on informational exchange")
		return nil
	}

	if del, ok := m.Payloads.Get(protocol.PayloadTypeV1D).(*protocol.DeletePayload); ok {
		switch del.ProtocolId {
		case protocol.IKE:
			for _, c := range s.children {
				s.table.Remove(c.InboundSpi)
			}
			s.state = ikev1Deleted
		case protocol.ESP:
			remaining := s.children[:0]
			for _, c := range s.children {
				if hasSpi(del.Spis, c.OutboundSpi) {
					s.table.Remove(c.InboundSpi)
					continue
				}
				remaining = append(remaining, c)
			}
			s.children = remaining
		}
		return nil // DELETE is a terminal notify, no response expected
	}

	if n, ok := m.Payloads.Get(protocol.PayloadTypeV1N).(*protocol.NotifyPayload); ok {
		switch n.NotificationType {
		case protocol.R_U_THERE:
			// R_U_THERE_ACK is its own Informational exchange (RFC 3706), not a
			// reply bound to the inbound message id, so it gets a freshly
			// allocated one rather than echoing h.MsgId.
			s.sendRUThereAck()
		case protocol.INITIAL_CONTACT:
			log.V(1).Infof(s.tag() + "peer reports initial contact")
		default:
			log.V(1).Infof(s.tag()+"informational notify %v ignored", n.NotificationType)
		}
	}
	return nil
}

func (s *IKEv1Session) sendRUThereAck() {
	msgId := randomMsgId()
	ack := &protocol.NotifyPayload{PayloadHeader: &protocol.PayloadHeader{}, ProtocolId: protocol.IKE, NotificationType: protocol.R_U_THERE_ACK}
	ackBody := (&protocol.Payloads{Array: []protocol.Payload{ack}}).EncodeChain()
	hashAck := s.tkm.HashV1Msg(msgId, nil, ackBody)

	resp := &Message{
		IkeHeader: &protocol.IkeHeader{
			SpiI: s.SpiI, SpiR: s.SpiR,
			MajorVersion: protocol.IKEV1_MAJOR_VERSION,
			ExchangeType: protocol.INFORMATIONAL_1,
			MsgId:        msgId,
		},
		Payloads: protocol.MakePayloads(),
	}
	resp.Payloads.Add(&protocol.HashPayload{PayloadHeader: &protocol.PayloadHeader{}, Data: hashAck})
	resp.Payloads.Add(ack)

	raw, err := resp.Encode(s.tkm, false)
	if err != nil {
		log.Errorf(s.tag()+"encode r_u_there_ack: %v", err)
		return
	}
	if err := s.send(raw); err != nil {
		log.Errorf(s.tag()+"send r_u_there_ack: %v", err)
	}
}

// v1NotifyOnly builds a hash-less, header-less notify reply; processPhase2
// fills in the header and seals it under the session's phase 1 keys same as
// every other phase 2 response.
func v1NotifyOnly(protoId protocol.ProtocolId, nt protocol.NotificationType) *Message {
	m := &Message{Payloads: protocol.MakePayloads()}
	m.Payloads.Add(&protocol.NotifyPayload{PayloadHeader: &protocol.PayloadHeader{}, ProtocolId: protoId, NotificationType: nt})
	return m
}
