package ike

import "github.com/vpngw/ike/protocol"

// Entry is anything addressable by SPI in the process-wide session table:
// an IKE session (keyed by its local 8 byte SPI) or a Child SA (keyed by
// its local 4 byte inbound SPI). SPIs of either size share one namespace:
// they must be unique across both sizes.
type Entry interface {
	isTableEntry()
}

// Table is the process-wide SPI -> owner map. Only the dispatcher task
// ever mutates it, so it carries no internal locking.
type Table struct {
	entries map[string]Entry
}

func NewTable() *Table {
	return &Table{entries: make(map[string]Entry)}
}

func tableKey(spi protocol.Spi) string { return string(spi) }

func (t *Table) Insert(spi protocol.Spi, e Entry) {
	t.entries[tableKey(spi)] = e
}

func (t *Table) Remove(spi protocol.Spi) {
	delete(t.entries, tableKey(spi))
}

func (t *Table) Lookup(spi protocol.Spi) (Entry, bool) {
	e, ok := t.entries[tableKey(spi)]
	return e, ok
}

func (t *Table) Has(spi protocol.Spi) bool {
	_, ok := t.entries[tableKey(spi)]
	return ok
}

// FreshIkeSpi generates an 8 byte IKE SPI, re-rolling on the
// astronomically unlikely table collision.
func (t *Table) FreshIkeSpi() protocol.Spi {
	for {
		spi := MakeSpi()
		if !t.Has(spi) {
			return spi
		}
	}
}

// FreshEspSpi generates a 4 byte ESP SPI, subject to the same check.
func (t *Table) FreshEspSpi() protocol.Spi {
	for {
		spi := MakeEspSpi()
		if !t.Has(spi) {
			return spi
		}
	}
}
