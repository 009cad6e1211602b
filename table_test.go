package ike

import (
	"testing"

	"github.com/vpngw/ike/protocol"
)

func TestTableInsertLookupRemove(t *testing.T) {
	tbl := NewTable()
	spi := protocol.Spi{1, 2, 3, 4, 5, 6, 7, 8}
	sess := &IKEv2Session{}

	if tbl.Has(spi) {
		t.Fatalf("table should start empty")
	}
	tbl.Insert(spi, sess)
	got, ok := tbl.Lookup(spi)
	if !ok || got != sess {
		t.Fatalf("lookup after insert: ok=%v got=%v", ok, got)
	}
	tbl.Remove(spi)
	if tbl.Has(spi) {
		t.Fatalf("entry should be gone after Remove")
	}
}

// SPIs of either size share one namespace; an 8 byte IKE SPI and a 4 byte
// ESP SPI must never collide just because their bytes overlap.
func TestTableSpiNamespaceIsSizeSensitive(t *testing.T) {
	tbl := NewTable()
	ikeSpi := protocol.Spi{0, 0, 0, 1, 0, 0, 0, 1}
	espSpi := protocol.Spi{0, 0, 0, 1}

	tbl.Insert(ikeSpi, &IKEv2Session{})
	if tbl.Has(espSpi) {
		t.Fatalf("4 byte SPI must not alias an 8 byte SPI with overlapping bytes")
	}
	tbl.Insert(espSpi, &ChildSA{})
	ikeEntry, _ := tbl.Lookup(ikeSpi)
	espEntry, _ := tbl.Lookup(espSpi)
	if ikeEntry == espEntry {
		t.Fatalf("distinct SPIs must resolve to distinct entries")
	}
}

func TestFreshSpisAreUniqueAndSizedCorrectly(t *testing.T) {
	tbl := NewTable()
	seen := map[string]bool{}
	for i := 0; i < 64; i++ {
		spi := tbl.FreshIkeSpi()
		if len(spi) != 8 {
			t.Fatalf("ike spi length: got %d want 8", len(spi))
		}
		key := string(spi)
		if seen[key] {
			t.Fatalf("duplicate ike spi generated")
		}
		seen[key] = true
		tbl.Insert(spi, &IKEv2Session{})
	}
	espSpi := tbl.FreshEspSpi()
	if len(espSpi) != 4 {
		t.Fatalf("esp spi length: got %d want 4", len(espSpi))
	}
}
