package crypto

import (
	"bytes"
	"testing"

	"github.com/vpngw/ike/protocol"
)

func aesCbcSha256Suite(t *testing.T) *simpleCipher {
	t.Helper()
	trs := protocol.Transforms{
		protocol.TRANSFORM_TYPE_ENCR:  {Transform: protocol.Transform{Type: protocol.TRANSFORM_TYPE_ENCR, TransformId: uint16(protocol.ENCR_AES_CBC)}, KeyLength: 128},
		protocol.TRANSFORM_TYPE_INTEG: {Transform: protocol.Transform{Type: protocol.TRANSFORM_TYPE_INTEG, TransformId: uint16(protocol.AUTH_HMAC_SHA2_256_128)}},
	}
	cs, err := NewCipherSuite(trs)
	if err != nil {
		t.Fatalf("NewCipherSuite: %v", err)
	}
	sc, ok := cs.Cipher.(*simpleCipher)
	if !ok {
		t.Fatalf("expected *simpleCipher")
	}
	return sc
}

// An ESP packet sealed by one EspContext must open cleanly under a second
// context built from the same keys, round-tripping next_header and payload.
func TestEspSealOpenRoundTrip(t *testing.T) {
	sc := aesCbcSha256Suite(t)
	encrKey := bytes.Repeat([]byte{0x11}, 16)
	authKey := bytes.Repeat([]byte{0x22}, 32)

	out := &EspContext{Cipher: sc, EncrKey: encrKey, AuthKey: authKey}
	in := &EspContext{Cipher: sc, EncrKey: encrKey, AuthKey: authKey}

	payload := []byte("decrypted inner ipv4 datagram goes here")
	sealed, err := out.Seal(0xdeadbeef, 1, 4 /* IPIP */, payload)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	nextHeader, got, err := in.Open(0xdeadbeef, 1, sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if nextHeader != 4 {
		t.Fatalf("next header: got %d want 4", nextHeader)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: got %q want %q", got, payload)
	}
}

func TestEspOpenFailsOnWrongAuthKey(t *testing.T) {
	sc := aesCbcSha256Suite(t)
	encrKey := bytes.Repeat([]byte{0x11}, 16)

	out := &EspContext{Cipher: sc, EncrKey: encrKey, AuthKey: bytes.Repeat([]byte{0x22}, 32)}
	in := &EspContext{Cipher: sc, EncrKey: encrKey, AuthKey: bytes.Repeat([]byte{0x33}, 32)}

	sealed, err := out.Seal(1, 1, 4, []byte("payload"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, _, err := in.Open(1, 1, sealed); err == nil {
		t.Fatalf("expected integrity failure with mismatched auth key")
	}
}

func TestEspHeaderParsing(t *testing.T) {
	b := append([]byte{0, 0, 0, 42, 0, 0, 0, 7}, []byte("ciphertext")...)
	spi, seq, rest, err := ParseEspHeader(b)
	if err != nil {
		t.Fatalf("ParseEspHeader: %v", err)
	}
	if spi != 42 || seq != 7 {
		t.Fatalf("spi/seq: got %d/%d want 42/7", spi, seq)
	}
	if !bytes.Equal(rest, []byte("ciphertext")) {
		t.Fatalf("rest mismatch")
	}
}

func TestEspHeaderParsingShortBuffer(t *testing.T) {
	if _, _, _, err := ParseEspHeader([]byte{0, 1, 2}); err == nil {
		t.Fatalf("expected error on short esp header")
	}
}

// The SHA2-256-96 truncation quirk only fires when the header-stripped
// ciphertext length is congruent to 12 mod 16, and only for AES-CBC/SHA256.
func TestShaTruncationQuirkGatedOnParity(t *testing.T) {
	sc1 := aesCbcSha256Suite(t)
	sc2 := aesCbcSha256Suite(t)

	ApplyShaTruncationQuirk(sc1, sc2, 12) // 12 % 16 == 12 -> quirk fires
	if sc1.macLen != 12 || sc2.macLen != 12 {
		t.Fatalf("expected macLen truncated to 12 on both directions, got %d/%d", sc1.macLen, sc2.macLen)
	}
}

func TestShaTruncationQuirkNotAppliedOffParity(t *testing.T) {
	sc1 := aesCbcSha256Suite(t)
	sc2 := aesCbcSha256Suite(t)

	ApplyShaTruncationQuirk(sc1, sc2, 16) // 16 % 16 == 0, quirk must not fire
	if sc1.macLen != 16 || sc2.macLen != 16 {
		t.Fatalf("quirk fired unexpectedly, macLen %d/%d", sc1.macLen, sc2.macLen)
	}
}

func TestShaTruncationQuirkIgnoredForOtherIntegrity(t *testing.T) {
	trs := protocol.Transforms{
		protocol.TRANSFORM_TYPE_ENCR:  {Transform: protocol.Transform{Type: protocol.TRANSFORM_TYPE_ENCR, TransformId: uint16(protocol.ENCR_AES_CBC)}, KeyLength: 128},
		protocol.TRANSFORM_TYPE_INTEG: {Transform: protocol.Transform{Type: protocol.TRANSFORM_TYPE_INTEG, TransformId: uint16(protocol.AUTH_HMAC_SHA1_96)}},
	}
	cs, err := NewCipherSuite(trs)
	if err != nil {
		t.Fatalf("NewCipherSuite: %v", err)
	}
	sc := cs.Cipher.(*simpleCipher)
	before := sc.macLen
	ApplyShaTruncationQuirk(sc, sc, 20)
	if sc.macLen != before {
		t.Fatalf("quirk must not touch non-SHA256 integrity algorithms")
	}
}
