package ike

import (
	"bytes"
	"testing"

	"github.com/vpngw/ike/crypto"
	"github.com/vpngw/ike/protocol"
)

func testEspSuite(t *testing.T) *crypto.CipherSuite {
	t.Helper()
	suite, err := crypto.NewCipherSuite(protocol.ESP_AES_CBC_SHA2_256)
	if err != nil {
		t.Fatalf("NewCipherSuite: %v", err)
	}
	return suite
}

func newTestChildSAPair(t *testing.T) (client, responder *ChildSA) {
	t.Helper()
	suite := testEspSuite(t)
	table := NewTable()

	encrKey := bytes.Repeat([]byte{0xaa}, suite.KeyLen)
	authKeyC2R := bytes.Repeat([]byte{0xbb}, suite.MacKeyLen)
	authKeyR2C := bytes.Repeat([]byte{0xcc}, suite.MacKeyLen)

	clientIn := protocol.Spi{0, 0, 0, 1}
	respIn := protocol.Spi{0, 0, 0, 2}

	responder = NewChildSA(table, respIn, clientIn,
		&crypto.EspContext{Cipher: suite.Cipher, EncrKey: encrKey, AuthKey: authKeyC2R}, // in: client->responder
		&crypto.EspContext{Cipher: suite.Cipher, EncrKey: encrKey, AuthKey: authKeyR2C}, // out: responder->client
	)
	client = NewChildSA(table, clientIn, respIn,
		&crypto.EspContext{Cipher: suite.Cipher, EncrKey: encrKey, AuthKey: authKeyR2C}, // in: responder->client
		&crypto.EspContext{Cipher: suite.Cipher, EncrKey: encrKey, AuthKey: authKeyC2R}, // out: client->responder
	)
	table.Insert(respIn, responder)
	table.Insert(clientIn, client)
	return client, responder
}

// A fresh ESP frame is delivered once; replaying the same sequence number
// is dropped silently.
func TestEspReplayRejection(t *testing.T) {
	client, responder := newTestChildSAPair(t)

	sealed, err := client.Seal(4, []byte("first ipv4 datagram"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	spi, seq, ct, err := crypto.ParseEspHeader(sealed)
	if err != nil {
		t.Fatalf("ParseEspHeader: %v", err)
	}
	if spi != 2 {
		t.Fatalf("spi: got %d want 2 (responder's inbound)", spi)
	}

	if _, _, err := responder.Open(seq, ct); err != nil {
		t.Fatalf("first Open should succeed: %v", err)
	}
	if _, _, err := responder.Open(seq, ct); err == nil {
		t.Fatalf("replaying seq %d must be rejected", seq)
	}
}

// An out-of-order arrival (seq 5 before 2..4) is buffered in the replay
// window and delivered; msgid_in only advances contiguously, finally
// collapsing once the gap fills in.
func TestEspOutOfOrderWindowCollapses(t *testing.T) {
	client, responder := newTestChildSAPair(t)

	seal := func(n int) (seq uint32, ct []byte) {
		sealed, err := client.Seal(4, []byte("payload"))
		if err != nil {
			t.Fatalf("Seal: %v", err)
		}
		_, seq, ct, err = crypto.ParseEspHeader(sealed)
		if err != nil {
			t.Fatalf("ParseEspHeader: %v", err)
		}
		return seq, ct
	}

	var frames [][]byte
	var seqs []uint32
	for i := 0; i < 5; i++ {
		seq, ct := seal(i)
		seqs = append(seqs, seq)
		frames = append(frames, ct)
	}
	if seqs[0] != 1 || seqs[4] != 5 {
		t.Fatalf("unexpected sequence numbers: %v", seqs)
	}

	// seq 1 arrives in order, then seq 5 ahead of 2..4.
	if _, _, err := responder.Open(seqs[0], frames[0]); err != nil {
		t.Fatalf("Open seq 1: %v", err)
	}
	if _, _, err := responder.Open(seqs[4], frames[4]); err != nil {
		t.Fatalf("Open seq 5: %v", err)
	}
	if responder.msgIdIn != 2 {
		t.Fatalf("msgIdIn should not advance past a gap: got %d", responder.msgIdIn)
	}
	if _, ok := responder.msgWinIn[5]; !ok {
		t.Fatalf("seq 5 should be buffered in the replay window")
	}

	// now deliver 2, 3, 4 in order; msgIdIn should walk up to 6, consuming
	// the buffered hit for 5 along the way.
	for _, seq := range seqs[1:4] {
		if _, _, err := responder.Open(seq, frames[seq-1]); err != nil {
			t.Fatalf("Open seq %d: %v", seq, err)
		}
	}
	if responder.msgIdIn != 6 {
		t.Fatalf("msgIdIn after window collapse: got %d want 6", responder.msgIdIn)
	}
	if len(responder.msgWinIn) != 0 {
		t.Fatalf("replay window should be empty after collapse, got %v", responder.msgWinIn)
	}
}

// Recovery from extreme reordering/peer restart: a sequence number far
// beyond the window is accepted and fast-forwards the tracker.
func TestEspFastForwardOnExtremeGap(t *testing.T) {
	client, responder := newTestChildSAPair(t)
	client.msgIdOut = 200000

	sealed, err := client.Seal(4, []byte("payload"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	_, seq, ct, err := crypto.ParseEspHeader(sealed)
	if err != nil {
		t.Fatalf("ParseEspHeader: %v", err)
	}
	if _, _, err := responder.Open(seq, ct); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if responder.msgIdIn != seq+1 {
		t.Fatalf("msgIdIn after fast-forward: got %d want %d", responder.msgIdIn, seq+1)
	}
	if len(responder.msgWinIn) != 0 {
		t.Fatalf("replay window should reset on fast-forward")
	}
}

// After a CREATE_CHILD_SA rekey, sending on the old Child SA's outbound
// resolves via the successor chain until the old SA is deleted.
func TestChildSASuccessorChainWalk(t *testing.T) {
	table := NewTable()
	suite := testEspSuite(t)
	mkCtx := func() *crypto.EspContext {
		return &crypto.EspContext{Cipher: suite.Cipher,
			EncrKey: bytes.Repeat([]byte{1}, suite.KeyLen),
			AuthKey: bytes.Repeat([]byte{2}, suite.MacKeyLen)}
	}

	old := NewChildSA(table, protocol.Spi{0, 0, 0, 1}, protocol.Spi{0, 0, 0, 2}, mkCtx(), mkCtx())
	next := NewChildSA(table, protocol.Spi{0, 0, 0, 3}, protocol.Spi{0, 0, 0, 4}, mkCtx(), mkCtx())
	table.Insert(old.InboundSpi, old)
	table.Insert(next.InboundSpi, next)

	// before rekey completes, old resolves to itself.
	if got := old.Successor(); got != old {
		t.Fatalf("expected old to resolve to itself before rekey")
	}

	old.child = next
	table.Remove(old.InboundSpi) // rekey finished, old deleted from the table

	got := old.Successor()
	if got != next {
		t.Fatalf("expected successor walk to land on next, got %v", got)
	}

	var sent []byte
	err := old.SealAndSend(4, []byte("payload"), func(b []byte) error {
		sent = b
		return nil
	})
	if err != nil {
		t.Fatalf("SealAndSend: %v", err)
	}
	spi, _, _, _ := crypto.ParseEspHeader(sent)
	if spi != 4 {
		t.Fatalf("SealAndSend must seal under the successor's outbound spi, got %d", spi)
	}

	table.Remove(next.InboundSpi)
	if old.Successor() != nil {
		t.Fatalf("expected nil successor once the whole chain is deleted")
	}
	if err := old.SealAndSend(4, []byte("payload"), func([]byte) error { return nil }); err == nil {
		t.Fatalf("expected an error sending on a fully torn-down chain")
	}
}
