package ike

import (
	"math/big"
	"net"
	"testing"

	"github.com/vpngw/ike/crypto"
	"github.com/vpngw/ike/protocol"
)

// testIkev2Client drives the initiator side of a handshake using the same
// Tkm the gateway itself is built on, so the wire bytes it produces and
// consumes are exactly what a real peer would exchange with the Gateway.
type testIkev2Client struct {
	t    *testing.T
	tkm  *Tkm
	spiI protocol.Spi
	spiR protocol.Spi
}

func newTestIkev2Client(t *testing.T) *testIkev2Client {
	t.Helper()
	suite, err := crypto.NewCipherSuite(protocol.IKE_AES_CBC_SHA256_MODP2048)
	if err != nil {
		t.Fatalf("NewCipherSuite: %v", err)
	}
	tkm, err := NewTkmInitiator(suite, nil)
	if err != nil {
		t.Fatalf("NewTkmInitiator: %v", err)
	}
	return &testIkev2Client{t: t, tkm: tkm, spiI: MakeSpi()}
}

func (c *testIkev2Client) buildSaInit() []byte {
	req := &Message{
		IkeHeader: &protocol.IkeHeader{
			SpiI: c.spiI, SpiR: make(protocol.Spi, 8),
			MajorVersion: protocol.IKEV2_MAJOR_VERSION,
			ExchangeType: protocol.IKE_SA_INIT,
		},
		Payloads: protocol.MakePayloads(),
	}
	req.Payloads.Add(&protocol.SaPayload{PayloadHeader: &protocol.PayloadHeader{},
		Proposals: ProposalFromTransform(protocol.IKE, protocol.IKE_AES_CBC_SHA256_MODP2048, nil)})
	req.Payloads.Add(&protocol.KePayload{PayloadHeader: &protocol.PayloadHeader{},
		DhTransformId: protocol.MODP_2048, KeyData: c.tkm.DhPublic.Bytes()})
	req.Payloads.Add(&protocol.NoncePayload{PayloadHeader: &protocol.PayloadHeader{}, Nonce: c.tkm.Ni.Bytes()})
	raw, err := req.Encode(nil, true)
	if err != nil {
		c.t.Fatalf("encode IKE_SA_INIT: %v", err)
	}
	return raw
}

// consumeSaInitResponse decodes the gateway's IKE_SA_INIT reply and derives
// this side's SK_* key set from it.
func (c *testIkev2Client) consumeSaInitResponse(raw []byte) {
	c.t.Helper()
	resp, err := DecodeMessage(raw)
	if err != nil {
		c.t.Fatalf("decode IKE_SA_INIT response: %v", err)
	}
	c.spiR = resp.IkeHeader.SpiR
	kePl, ok := resp.Payloads.Get(protocol.PayloadTypeKE).(*protocol.KePayload)
	if !ok {
		c.t.Fatalf("response missing KE payload")
	}
	noncePl, ok := resp.Payloads.Get(protocol.PayloadTypeNonce).(*protocol.NoncePayload)
	if !ok {
		c.t.Fatalf("response missing Nonce payload")
	}
	c.tkm.Nr = new(big.Int).SetBytes(noncePl.Nonce)
	if err := c.tkm.DhGenerateKey(new(big.Int).SetBytes(kePl.KeyData)); err != nil {
		c.t.Fatalf("DhGenerateKey: %v", err)
	}
	c.tkm.IsaCreate(c.spiI, c.spiR)
}

// buildAuth builds and seals the IKE_AUTH request, given the exact bytes
// of the IKE_SA_INIT request/response this exchange used (AUTH covers them).
func (c *testIkev2Client) buildAuth(initReqRaw, initRespRaw, psk []byte, espSpi protocol.Spi) []byte {
	c.t.Helper()
	idI := &protocol.IdPayload{PayloadHeader: &protocol.PayloadHeader{}, IdPayloadType: protocol.PayloadTypeIDi,
		IdType: protocol.ID_RFC822_ADDR, Data: []byte("client@example.com")}
	signed1 := concat(initReqRaw, c.tkm.Nr.Bytes())
	authI := c.tkm.AuthSignature(psk, signed1, idI.Encode(), true)

	req := &Message{
		IkeHeader: &protocol.IkeHeader{
			SpiI: c.spiI, SpiR: c.spiR,
			MajorVersion: protocol.IKEV2_MAJOR_VERSION,
			ExchangeType: protocol.IKE_AUTH,
			MsgId:        1,
		},
		Payloads: protocol.MakePayloads(),
	}
	req.Payloads.Add(idI)
	req.Payloads.Add(&protocol.AuthPayload{PayloadHeader: &protocol.PayloadHeader{},
		AuthMethod: protocol.AUTH_SHARED_KEY_MESSAGE_INTEGRITY_CODE, Data: authI})
	req.Payloads.Add(&protocol.SaPayload{PayloadHeader: &protocol.PayloadHeader{},
		Proposals: ProposalFromTransform(protocol.ESP, protocol.ESP_AES_CBC_SHA2_256, espSpi)})
	req.Payloads.Add(&protocol.TrafficSelectorPayload{PayloadHeader: &protocol.PayloadHeader{},
		TsPayloadType: protocol.PayloadTypeTSi, Selectors: anyTrafficSelectors()})
	req.Payloads.Add(&protocol.TrafficSelectorPayload{PayloadHeader: &protocol.PayloadHeader{},
		TsPayloadType: protocol.PayloadTypeTSr, Selectors: anyTrafficSelectors()})
	req.Payloads.Add(&protocol.ConfigPayload{PayloadHeader: &protocol.PayloadHeader{},
		CpPayloadType: protocol.PayloadTypeCP, ConfigType: protocol.CFG_REQUEST})

	raw, err := req.Encode(c.tkm, true)
	if err != nil {
		c.t.Fatalf("encode IKE_AUTH: %v", err)
	}
	return raw
}

// openV2 decrypts a reply sealed under this Tkm by the peer.
func (c *testIkev2Client) openV2(raw []byte) *protocol.Payloads {
	c.t.Helper()
	m, err := DecodeMessage(raw)
	if err != nil {
		c.t.Fatalf("decode: %v", err)
	}
	sk, ok := m.Payloads.Get(protocol.PayloadTypeSK).(*protocol.SkPayload)
	if !ok {
		c.t.Fatalf("response missing SK payload")
	}
	dec, err := c.tkm.OpenMessageV2(m.Raw, true)
	if err != nil {
		c.t.Fatalf("OpenMessageV2: %v", err)
	}
	if err := m.DecodePayloads(dec, sk.NextPayloadType()); err != nil {
		c.t.Fatalf("decode inner chain: %v", err)
	}
	return m.Payloads
}

func newTestGateway(cfg *Config) *Gateway {
	return NewGateway(cfg, nil, nil, nil)
}

func capture() (SendFunc, *[][]byte) {
	var out [][]byte
	return func(b []byte) error {
		out = append(out, append([]byte{}, b...))
		return nil
	}, &out
}

// The full IKEv2 PSK handshake: IKE_SA_INIT followed by IKE_AUTH brings the
// session to Established with a Child SA installed, and a replayed IKE_AUTH
// request gets the byte-identical cached response without a duplicate
// Child SA.
func TestIKEv2PSKHappyPathAndRetransmit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PSK = []byte("test")
	cfg.DNS = net.IPv4(8, 8, 8, 8)
	gw := newTestGateway(cfg)

	remote := &net.UDPAddr{IP: net.ParseIP("203.0.113.5"), Port: 500}
	local := net.ParseIP("198.51.100.1")

	client := newTestIkev2Client(t)
	initReq := client.buildSaInit()

	send1, got1 := capture()
	gw.handleIke(initReq, remote, local, send1)
	if len(*got1) != 1 {
		t.Fatalf("expected exactly one IKE_SA_INIT response, got %d", len(*got1))
	}
	client.consumeSaInitResponse((*got1)[0])

	espSpi := MakeEspSpi()
	authReq := client.buildAuth(initReq, (*got1)[0], cfg.PSK, espSpi)

	send2, got2 := capture()
	gw.handleIke(authReq, remote, local, send2)
	if len(*got2) != 1 {
		t.Fatalf("expected exactly one IKE_AUTH response, got %d", len(*got2))
	}
	payloads := client.openV2((*got2)[0])

	idR, ok := payloads.Get(protocol.PayloadTypeIDr).(*protocol.IdPayload)
	if !ok {
		t.Fatalf("IKE_AUTH response missing IDr")
	}
	if want := cfg.Title + "-" + cfg.Version; string(idR.Data) != want {
		t.Fatalf("IDr: got %q want %q", idR.Data, want)
	}
	if payloads.Get(protocol.PayloadTypeAUTH) == nil {
		t.Fatalf("IKE_AUTH response missing AUTH")
	}
	saPl, ok := payloads.Get(protocol.PayloadTypeSA).(*protocol.SaPayload)
	if !ok || len(saPl.Proposals) != 1 {
		t.Fatalf("IKE_AUTH response missing accepted child SA proposal")
	}
	cp, ok := payloads.Get(protocol.PayloadTypeCP).(*protocol.ConfigPayload)
	if !ok {
		t.Fatalf("IKE_AUTH response missing CP_REPLY")
	}
	var gotIP, gotDNS net.IP
	for _, attr := range cp.Attributes {
		switch attr.Type {
		case protocol.INTERNAL_IP4_ADDRESS:
			gotIP = net.IP(attr.Value)
		case protocol.INTERNAL_IP4_DNS:
			gotDNS = net.IP(attr.Value)
		}
	}
	if !gotIP.Equal(cfg.InternalIP) {
		t.Fatalf("CP internal ip: got %v want %v", gotIP, cfg.InternalIP)
	}
	if !gotDNS.Equal(cfg.DNS) {
		t.Fatalf("CP dns: got %v want %v", gotDNS, cfg.DNS)
	}

	e, ok := gw.table.Lookup(client.spiR)
	if !ok {
		t.Fatalf("session not installed under responder spi")
	}
	sess, ok := e.(*IKEv2Session)
	if !ok {
		t.Fatalf("table entry is not an ikev2 session")
	}
	if sess.state != ikev2Established {
		t.Fatalf("session state: got %v want established", sess.state)
	}
	if len(sess.children) != 1 {
		t.Fatalf("expected exactly one child sa, got %d", len(sess.children))
	}

	// Child SA key derivation must be symmetric: the client, deriving from
	// the same SK_d/Ni/Nr, must land on the same direction-keyed material
	// the gateway installed.
	encrI, authI, encrR, authR := client.tkm.IpsecSaCreate(client.tkm.Ni, client.tkm.Nr)
	child := sess.children[0]
	if string(child.in.EncrKey) != string(encrI) || string(child.in.AuthKey) != string(authI) {
		t.Fatalf("inbound child sa keys disagree with client derivation")
	}
	if string(child.out.EncrKey) != string(encrR) || string(child.out.AuthKey) != string(authR) {
		t.Fatalf("outbound child sa keys disagree with client derivation")
	}

	// Resend the identical IKE_AUTH request: the cached response must come
	// back byte for byte, and no second child sa should appear.
	send3, got3 := capture()
	gw.handleIke(authReq, remote, local, send3)
	if len(*got3) != 1 {
		t.Fatalf("expected exactly one retransmit response, got %d", len(*got3))
	}
	if string((*got3)[0]) != string((*got2)[0]) {
		t.Fatalf("retransmitted response is not byte-identical to the original")
	}
	if len(sess.children) != 1 {
		t.Fatalf("retransmit must not create a duplicate child sa, got %d", len(sess.children))
	}
}

// An IKE_AUTH with a bad AUTH value is rejected and no session reaches
// Established.
func TestIKEv2PSKMismatchRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PSK = []byte("correct horse battery staple")
	gw := newTestGateway(cfg)

	remote := &net.UDPAddr{IP: net.ParseIP("203.0.113.6"), Port: 500}
	local := net.ParseIP("198.51.100.1")

	client := newTestIkev2Client(t)
	initReq := client.buildSaInit()
	send1, got1 := capture()
	gw.handleIke(initReq, remote, local, send1)
	client.consumeSaInitResponse((*got1)[0])

	authReq := client.buildAuth(initReq, (*got1)[0], []byte("wrong psk"), MakeEspSpi())
	send2, got2 := capture()
	gw.handleIke(authReq, remote, local, send2)
	if len(*got2) != 1 {
		t.Fatalf("expected one response, got %d", len(*got2))
	}

	e, ok := gw.table.Lookup(client.spiR)
	if !ok {
		t.Fatalf("session should still be present to have sent the reject")
	}
	sess := e.(*IKEv2Session)
	if sess.state == ikev2Established {
		t.Fatalf("session must not reach established with a bad AUTH")
	}
}
