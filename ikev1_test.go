package ike

import (
	"math/big"
	"net"
	"testing"

	"github.com/vpngw/ike/crypto"
	"github.com/vpngw/ike/protocol"
)

// testIkev1Client drives the initiator side of a Main Mode / XAuth /
// Mode Config / Quick Mode run using the same Tkm the gateway itself is
// built on, so the IV chaining and HASH values line up exactly the way a
// real peer's would.
type testIkev1Client struct {
	t   *testing.T
	tkm *Tkm

	spiI, spiR protocol.Spi
	gxi, gxr   []byte
	saIBytes   []byte
}

func newTestIkev1Client(t *testing.T) *testIkev1Client {
	t.Helper()
	suite, err := crypto.NewCipherSuite(protocol.IKE_AES_CBC_SHA256_MODP2048)
	if err != nil {
		t.Fatalf("NewCipherSuite: %v", err)
	}
	tkm, err := NewTkmInitiator(suite, nil)
	if err != nil {
		t.Fatalf("NewTkmInitiator: %v", err)
	}
	return &testIkev1Client{t: t, tkm: tkm, spiI: MakeSpi()}
}

// chainBytes re-encodes a standalone payload chain the same way
// quickModeBodyWithoutHash does for an inbound one: forward-linked via
// Add, so the wire bytes match regardless of which side produced them.
func chainBytes(pls ...protocol.Payload) []byte {
	p := protocol.MakePayloads()
	for _, pl := range pls {
		p.Add(pl)
	}
	return p.EncodeChain()
}

func (c *testIkev1Client) buildMainMode1() []byte {
	saPl := &protocol.SaPayload{PayloadHeader: &protocol.PayloadHeader{},
		Proposals: ProposalFromTransform(protocol.IKE, protocol.IKE_AES_CBC_SHA256_MODP2048, nil)}
	c.saIBytes = saPl.Encode()

	req := &Message{
		IkeHeader: &protocol.IkeHeader{
			SpiI: c.spiI, SpiR: make(protocol.Spi, 8),
			MajorVersion: protocol.IKEV1_MAJOR_VERSION,
			ExchangeType: protocol.IDENTITY_1,
		},
		Payloads: protocol.MakePayloads(),
	}
	req.Payloads.Add(saPl)
	raw, err := req.Encode(nil, true)
	if err != nil {
		c.t.Fatalf("encode message 1: %v", err)
	}
	return raw
}

func (c *testIkev1Client) consumeMainMode2(raw []byte) {
	c.t.Helper()
	resp, err := DecodeMessage(raw)
	if err != nil {
		c.t.Fatalf("decode message 2: %v", err)
	}
	c.spiR = resp.IkeHeader.SpiR
}

func (c *testIkev1Client) buildMainMode3() []byte {
	c.gxi = append([]byte{}, c.tkm.DhPublic.Bytes()...)
	req := &Message{
		IkeHeader: &protocol.IkeHeader{
			SpiI: c.spiI, SpiR: c.spiR,
			MajorVersion: protocol.IKEV1_MAJOR_VERSION,
			ExchangeType: protocol.IDENTITY_1,
		},
		Payloads: protocol.MakePayloads(),
	}
	req.Payloads.Add(&protocol.KePayload{PayloadHeader: &protocol.PayloadHeader{}, KeyData: c.tkm.DhPublic.Bytes()})
	req.Payloads.Add(&protocol.NoncePayload{PayloadHeader: &protocol.PayloadHeader{}, Nonce: c.tkm.Ni.Bytes()})
	raw, err := req.Encode(nil, true)
	if err != nil {
		c.t.Fatalf("encode message 3: %v", err)
	}
	return raw
}

// consumeMainMode4 derives the shared secret and phase 1 key material,
// mirroring handleMainModeKE's own sequencing on the responder side.
func (c *testIkev1Client) consumeMainMode4(raw, psk []byte) {
	c.t.Helper()
	resp, err := DecodeMessage(raw)
	if err != nil {
		c.t.Fatalf("decode message 4: %v", err)
	}
	kePl, ok := resp.Payloads.Get(protocol.PayloadTypeKE).(*protocol.KePayload)
	if !ok {
		c.t.Fatalf("message 4 missing KE")
	}
	noncePl, ok := resp.Payloads.Get(protocol.PayloadTypeNonce).(*protocol.NoncePayload)
	if !ok {
		c.t.Fatalf("message 4 missing Nonce")
	}
	c.gxr = append([]byte{}, kePl.KeyData...)
	c.tkm.Nr = new(big.Int).SetBytes(noncePl.Nonce)
	if err := c.tkm.DhGenerateKey(new(big.Int).SetBytes(kePl.KeyData)); err != nil {
		c.t.Fatalf("DhGenerateKey: %v", err)
	}
	c.tkm.IsaCreateV1(psk, c.spiI, c.spiR, c.gxi, c.gxr)
}

func (c *testIkev1Client) buildMainMode5() []byte {
	idI := &protocol.IdPayload{PayloadHeader: &protocol.PayloadHeader{}, IdPayloadType: protocol.PayloadTypeV1ID,
		IdType: protocol.ID_FQDN, Data: []byte("client.example.com")}
	hashI := c.tkm.HashV1(c.gxi, c.gxr, c.spiI, c.spiR, c.saIBytes, idI.Encode())

	req := &Message{
		IkeHeader: &protocol.IkeHeader{
			SpiI: c.spiI, SpiR: c.spiR,
			MajorVersion: protocol.IKEV1_MAJOR_VERSION,
			ExchangeType: protocol.IDENTITY_1,
			MsgId:        0,
		},
		Payloads: protocol.MakePayloads(),
	}
	req.Payloads.Add(idI)
	req.Payloads.Add(&protocol.HashPayload{PayloadHeader: &protocol.PayloadHeader{}, Data: hashI})
	raw, err := req.Encode(c.tkm, true)
	if err != nil {
		c.t.Fatalf("encode message 5: %v", err)
	}
	return raw
}

// openV1 decrypts the tail of an encrypted IKEv1 datagram, mirroring
// handleMainModeAuth/processPhase2's own decode sequencing.
func (c *testIkev1Client) openV1(raw []byte) *Message {
	c.t.Helper()
	m, err := DecodeMessage(raw)
	if err != nil {
		c.t.Fatalf("decode: %v", err)
	}
	pt, err := c.tkm.OpenMessageV1(m.IkeHeader, m.Raw[protocol.IKE_HEADER_LEN:], true)
	if err != nil {
		c.t.Fatalf("OpenMessageV1: %v", err)
	}
	if err := m.DecodePayloads(pt, m.IkeHeader.NextPayload); err != nil {
		c.t.Fatalf("decode inner chain: %v", err)
	}
	return m
}

func (c *testIkev1Client) consumeMainMode6(raw []byte) {
	c.t.Helper()
	m := c.openV1(raw)
	idR, ok := m.Payloads.Get(protocol.PayloadTypeV1ID).(*protocol.IdPayload)
	hashR, ok2 := m.Payloads.Get(protocol.PayloadTypeV1HASH).(*protocol.HashPayload)
	if !ok || !ok2 {
		c.t.Fatalf("message 6 missing ID/HASH")
	}
	want := c.tkm.HashV1(c.gxi, c.gxr, c.spiI, c.spiR, c.saIBytes, idR.Encode())
	if string(want) != string(hashR.Data) {
		c.t.Fatalf("HASH_R mismatch")
	}
}

// sealHashed builds a HASH+payload exchange the way hashedConfigReply and
// handleQuickMode do: the HASH covers the encode of the other payloads,
// forward-linked among themselves, and is placed first in the final chain.
func (c *testIkev1Client) sealHashed(exchangeType protocol.IkeExchangeType, msgId uint32, nonce []byte, rest ...protocol.Payload) []byte {
	body := chainBytes(rest...)
	hash := c.tkm.HashV1Msg(msgId, nonce, body)

	req := &Message{
		IkeHeader: &protocol.IkeHeader{
			SpiI: c.spiI, SpiR: c.spiR,
			MajorVersion: protocol.IKEV1_MAJOR_VERSION,
			ExchangeType: exchangeType,
			MsgId:        msgId,
		},
		Payloads: protocol.MakePayloads(),
	}
	req.Payloads.Add(&protocol.HashPayload{PayloadHeader: &protocol.PayloadHeader{}, Data: hash})
	for _, pl := range rest {
		req.Payloads.Add(pl)
	}
	raw, err := req.Encode(c.tkm, true)
	if err != nil {
		c.t.Fatalf("encode hashed exchange: %v", err)
	}
	return raw
}

func newTestIkev1Gateway(cfg *Config) *Gateway {
	return NewGateway(cfg, nil, nil, nil)
}

// TestIKEv1PSKFullFlow drives a complete Main Mode handshake, XAuth
// credential exchange, Mode Config address pull, and a two/three message
// Quick Mode Child SA negotiation, checking the session lands on
// Established with exactly one Child SA whose keys match an independent
// client-side derivation.
func TestIKEv1PSKFullFlow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PSK = []byte("ikev1 test psk")
	cfg.DNS = net.IPv4(9, 9, 9, 9)
	gw := newTestIkev1Gateway(cfg)

	remote := &net.UDPAddr{IP: net.ParseIP("203.0.113.7"), Port: 500}
	local := net.ParseIP("198.51.100.2")

	client := newTestIkev1Client(t)

	send1, got1 := capture()
	gw.handleIke(client.buildMainMode1(), remote, local, send1)
	if len(*got1) != 1 {
		t.Fatalf("expected one message 2 response, got %d", len(*got1))
	}
	client.consumeMainMode2((*got1)[0])

	send2, got2 := capture()
	gw.handleIke(client.buildMainMode3(), remote, local, send2)
	if len(*got2) != 1 {
		t.Fatalf("expected one message 4 response, got %d", len(*got2))
	}
	client.consumeMainMode4((*got2)[0], cfg.PSK)

	send3, got3 := capture()
	gw.handleIke(client.buildMainMode5(), remote, local, send3)
	// message 6 plus the unsolicited xauth push both land in the same
	// capture slice; handleMainModeAuth sends message 6 first.
	if len(*got3) != 2 {
		t.Fatalf("expected message 6 and the xauth push, got %d", len(*got3))
	}
	client.consumeMainMode6((*got3)[0])

	e, ok := gw.table.Lookup(client.spiR)
	if !ok {
		t.Fatalf("session not installed under responder cookie")
	}
	sess, ok := e.(*IKEv1Session)
	if !ok {
		t.Fatalf("table entry is not an ikev1 session")
	}
	if sess.state != ikev1HashSent {
		t.Fatalf("session state after message 6: got %v want ikev1HashSent", sess.state)
	}

	xauthPush := client.openV1((*got3)[1])
	xauthMsgId := xauthPush.IkeHeader.MsgId
	if xauthPush.Payloads.Get(protocol.PayloadTypeV1CP) == nil {
		t.Fatalf("xauth push missing CP")
	}

	// Reply to the xauth push with placeholder credentials; the gateway
	// never checks their value, only that HASH verifies (§4.6 of its own
	// design: the PSK already authenticated this peer in Main Mode).
	credReply := &protocol.ConfigPayload{PayloadHeader: &protocol.PayloadHeader{}, CpPayloadType: protocol.PayloadTypeV1CP, ConfigType: protocol.CFG_REPLY}
	credReply.Attributes = append(credReply.Attributes,
		&protocol.ConfigAttribute{Type: protocol.XAUTH_USER_NAME, Value: []byte("alice")},
		&protocol.ConfigAttribute{Type: protocol.XAUTH_USER_PASSWORD, Value: []byte("hunter2")})

	send4, got4 := capture()
	gw.handleIke(client.sealHashed(protocol.TRANSACTION_1, xauthMsgId, nil, credReply), remote, local, send4)
	if len(*got4) != 1 {
		t.Fatalf("expected one xauth status response, got %d", len(*got4))
	}
	statusMsg := client.openV1((*got4)[0])
	statusCp, ok := statusMsg.Payloads.Get(protocol.PayloadTypeV1CP).(*protocol.ConfigPayload)
	if !ok || statusCp.ConfigType != protocol.CFG_SET {
		t.Fatalf("expected CFG_SET xauth status response")
	}
	if sess.state != ikev1AuthSet {
		t.Fatalf("session state after xauth: got %v want ikev1AuthSet", sess.state)
	}

	// Pull the internal address/DNS via Mode Config, our own fresh message id.
	modeCfgMsgId := randomMsgId()
	addrReq := &protocol.ConfigPayload{PayloadHeader: &protocol.PayloadHeader{}, CpPayloadType: protocol.PayloadTypeV1CP, ConfigType: protocol.CFG_REQUEST}
	addrReq.Attributes = append(addrReq.Attributes,
		&protocol.ConfigAttribute{Type: protocol.INTERNAL_IP4_ADDRESS},
		&protocol.ConfigAttribute{Type: protocol.INTERNAL_IP4_DNS})

	send5, got5 := capture()
	gw.handleIke(client.sealHashed(protocol.TRANSACTION_1, modeCfgMsgId, nil, addrReq), remote, local, send5)
	if len(*got5) != 1 {
		t.Fatalf("expected one mode config reply, got %d", len(*got5))
	}
	cfgReplyMsg := client.openV1((*got5)[0])
	cfgReply, ok := cfgReplyMsg.Payloads.Get(protocol.PayloadTypeV1CP).(*protocol.ConfigPayload)
	if !ok || cfgReply.ConfigType != protocol.CFG_REPLY {
		t.Fatalf("expected CFG_REPLY")
	}
	var gotIP, gotDNS net.IP
	for _, attr := range cfgReply.Attributes {
		switch attr.Type {
		case protocol.INTERNAL_IP4_ADDRESS:
			gotIP = net.IP(attr.Value)
		case protocol.INTERNAL_IP4_DNS:
			gotDNS = net.IP(attr.Value)
		}
	}
	if !gotIP.Equal(cfg.InternalIPv1) {
		t.Fatalf("mode config address: got %v want %v", gotIP, cfg.InternalIPv1)
	}
	if !gotDNS.Equal(cfg.DNS) {
		t.Fatalf("mode config dns: got %v want %v", gotDNS, cfg.DNS)
	}
	if sess.state != ikev1ConfSent {
		t.Fatalf("session state after mode config: got %v want ikev1ConfSent", sess.state)
	}

	// Quick Mode: negotiate the Child SA.
	espSuite, err := crypto.NewCipherSuite(protocol.ESP_AES_CBC_SHA2_256)
	if err != nil {
		t.Fatalf("NewCipherSuite: %v", err)
	}
	client.tkm.SetEspSuite(espSuite)

	qmMsgId := randomMsgId()
	ni := new(big.Int).SetBytes(randomBytes(32))
	clientEspSpi := MakeEspSpi()
	saProp := &protocol.SaPayload{PayloadHeader: &protocol.PayloadHeader{},
		Proposals: ProposalFromTransform(protocol.ESP, protocol.ESP_AES_CBC_SHA2_256, clientEspSpi)}
	noncePl := &protocol.NoncePayload{PayloadHeader: &protocol.PayloadHeader{}, Nonce: ni.Bytes()}

	send6, got6 := capture()
	gw.handleIke(client.sealHashed(protocol.QUICK_1, qmMsgId, nil, saProp, noncePl), remote, local, send6)
	if len(*got6) != 1 {
		t.Fatalf("expected one quick mode response, got %d", len(*got6))
	}
	qmRespMsg := client.openV1((*got6)[0])
	saResp, ok := qmRespMsg.Payloads.Get(protocol.PayloadTypeSA).(*protocol.SaPayload)
	if !ok || len(saResp.Proposals) != 1 {
		t.Fatalf("quick mode response missing accepted proposal")
	}
	nrPl, ok := qmRespMsg.Payloads.Get(protocol.PayloadTypeNonce).(*protocol.NoncePayload)
	if !ok {
		t.Fatalf("quick mode response missing nonce")
	}
	nr := new(big.Int).SetBytes(nrPl.Nonce)
	serverInboundSpi := protocol.Spi(saResp.Proposals[0].Spi)

	if sess.state != ikev1ChildSaSent {
		t.Fatalf("session state after quick mode message 2: got %v want ikev1ChildSaSent", sess.state)
	}
	if len(sess.children) != 1 {
		t.Fatalf("expected exactly one child sa, got %d", len(sess.children))
	}
	child := sess.children[0]

	encrI, authI, encrR, authR := client.tkm.IpsecSaCreateV1(protocol.ESP, serverInboundSpi, ni, nr)
	if string(child.in.EncrKey) != string(encrI) || string(child.in.AuthKey) != string(authI) {
		t.Fatalf("inbound child sa keys disagree with client derivation")
	}
	if string(child.out.EncrKey) != string(encrR) || string(child.out.AuthKey) != string(authR) {
		t.Fatalf("outbound child sa keys disagree with client derivation")
	}

	// Message 3: the HASH(3) ack, a bare hash-only body under the same msgId.
	hash3 := client.tkm.HashV1Ack(qmMsgId, ni.Bytes(), nr.Bytes())
	ackMsg := &Message{
		IkeHeader: &protocol.IkeHeader{
			SpiI: client.spiI, SpiR: client.spiR,
			MajorVersion: protocol.IKEV1_MAJOR_VERSION,
			ExchangeType: protocol.QUICK_1,
			MsgId:        qmMsgId,
		},
		Payloads: protocol.MakePayloads(),
	}
	ackMsg.Payloads.Add(&protocol.HashPayload{PayloadHeader: &protocol.PayloadHeader{}, Data: hash3})
	ackRaw, err := ackMsg.Encode(client.tkm, true)
	if err != nil {
		t.Fatalf("encode quick mode ack: %v", err)
	}

	send7, got7 := capture()
	gw.handleIke(ackRaw, remote, local, send7)
	if len(*got7) != 0 {
		t.Fatalf("quick mode ack expects no response, got %d", len(*got7))
	}
	if sess.state != ikev1Established {
		t.Fatalf("session state after quick mode ack: got %v want ikev1Established", sess.state)
	}
	if len(sess.children) != 1 {
		t.Fatalf("quick mode ack must not create a second child sa, got %d", len(sess.children))
	}

	// Resending the ack (same message id) must replay the one-slot cache
	// without disturbing the already-Established state.
	send8, got8 := capture()
	gw.handleIke(ackRaw, remote, local, send8)
	if len(*got8) != 0 {
		t.Fatalf("retransmitted ack with no response expected %d entries, got %d", 0, len(*got8))
	}
	if sess.state != ikev1Established {
		t.Fatalf("retransmit must not change session state, got %v", sess.state)
	}
}

// TestIKEv1PSKMismatchStallsAtMessage5 checks that a bad PSK produces a
// HASH_I the responder rejects: no message 6 is sent and the session
// never leaves ikev1KeSent.
func TestIKEv1PSKMismatchStallsAtMessage5(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PSK = []byte("correct psk")
	gw := newTestIkev1Gateway(cfg)

	remote := &net.UDPAddr{IP: net.ParseIP("203.0.113.8"), Port: 500}
	local := net.ParseIP("198.51.100.3")

	client := newTestIkev1Client(t)
	send1, got1 := capture()
	gw.handleIke(client.buildMainMode1(), remote, local, send1)
	client.consumeMainMode2((*got1)[0])

	send2, got2 := capture()
	gw.handleIke(client.buildMainMode3(), remote, local, send2)
	client.consumeMainMode4((*got2)[0], []byte("wrong psk"))

	send3, got3 := capture()
	gw.handleIke(client.buildMainMode5(), remote, local, send3)
	if len(*got3) != 0 {
		t.Fatalf("expected no response to a bad HASH_I, got %d", len(*got3))
	}

	e, ok := gw.table.Lookup(client.spiR)
	if !ok {
		t.Fatalf("session should still be present")
	}
	sess := e.(*IKEv1Session)
	if sess.state != ikev1KeSent {
		t.Fatalf("session state: got %v want ikev1KeSent (stalled)", sess.state)
	}
}
