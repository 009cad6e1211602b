package crypto

import (
	"bytes"
	"testing"
)

func sha256Prf() *Prf {
	p, err := prfTransform(5) // PRF_HMAC_SHA2_256
	if err != nil {
		panic(err)
	}
	return p
}

// prf+ must be a deterministic prefix of itself as n grows: prf+(K, S, n)
// is a prefix of prf+(K, S, m) for all m >= n.
func TestPrfPlusIsPrefixStable(t *testing.T) {
	p := sha256Prf()
	key := []byte("SKEYSEED-like-key-material")
	seed := []byte("Ni|Nr|SPIi|SPIr")

	short := p.PrfPlus(key, seed, 40)
	long := p.PrfPlus(key, seed, 200)

	if !bytes.Equal(short, long[:40]) {
		t.Fatalf("prf+ output is not a stable prefix across lengths")
	}
}

func TestPrfPlusDifferentSeedsDiverge(t *testing.T) {
	p := sha256Prf()
	key := []byte("key")
	a := p.PrfPlus(key, []byte("seed-a"), 32)
	b := p.PrfPlus(key, []byte("seed-b"), 32)
	if bytes.Equal(a, b) {
		t.Fatalf("distinct seeds produced identical keymat")
	}
}

// PrfPlusV1 prepends the round counter to the seed rather than appending it;
// confirm the two expansions of the same key/seed diverge from round 1 on.
func TestPrfPlusV1DiffersFromV2Counter(t *testing.T) {
	p := sha256Prf()
	key := []byte("SKEYID_d")
	seed := []byte("protocol|spi|Ni|Nr")

	v2 := p.PrfPlus(key, seed, 32)
	v1 := p.PrfPlusV1(key, seed, 32)
	if bytes.Equal(v1, v2) {
		t.Fatalf("prf+ v1 and v2 counter placement produced identical output")
	}
}

func TestPrfPlusV1IsAlsoPrefixStable(t *testing.T) {
	p := sha256Prf()
	key := []byte("SKEYID_d")
	seed := []byte("esp-keymat-seed")

	short := p.PrfPlusV1(key, seed, 20)
	long := p.PrfPlusV1(key, seed, 96)
	if !bytes.Equal(short, long[:20]) {
		t.Fatalf("prf+_1 output is not a stable prefix across lengths")
	}
}

func TestHashIsUnkeyed(t *testing.T) {
	p := sha256Prf()
	a := p.Hash([]byte("g^xi||g^xr"))
	b := p.Hash([]byte("g^xi||g^xr"))
	if !bytes.Equal(a, b) {
		t.Fatalf("Hash is not deterministic")
	}
	if len(a) != 32 {
		t.Fatalf("expected a 32 byte sha256 digest, got %d", len(a))
	}
}
