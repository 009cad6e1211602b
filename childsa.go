package ike

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/vpngw/ike/crypto"
	"github.com/vpngw/ike/protocol"
)

var errReplayed = errors.New("ike: replayed or too-old sequence number")

// replayFastForward is the "extreme reordering or peer restart" threshold:
// a sequence number this far ahead of msgIdIn is accepted and the window
// reset rather than treated as a reordering to buffer.
const replayFastForward = 65536

// ChildSA is the data-plane keyed tunnel record: inbound and outbound SPIs
// and crypto contexts, sequence counters, the anti-replay window, and the
// forward pointer used to survive rekey.
type ChildSA struct {
	table *Table

	InboundSpi, OutboundSpi protocol.Spi

	in, out *crypto.EspContext

	msgIdIn  uint32 // next expected inbound sequence number; starts at 1
	msgIdOut uint32 // next outbound sequence number; starts at 1
	msgWinIn map[uint32]struct{}

	quirkChecked bool // gates the HMAC-SHA2-256 truncation quirk to the SA's first inbound packet

	// child is the forward pointer to the successor created by rekey; set
	// once at rekey and never unset, never linked backwards.
	child *ChildSA

	IsTransportMode bool
}

func NewChildSA(table *Table, inboundSpi, outboundSpi protocol.Spi, in, out *crypto.EspContext) *ChildSA {
	return &ChildSA{
		table:       table,
		InboundSpi:  inboundSpi,
		OutboundSpi: outboundSpi,
		in:          in,
		out:         out,
		msgIdIn:     1,
		msgIdOut:    1,
		msgWinIn:    make(map[uint32]struct{}),
	}
}

func (c *ChildSA) isTableEntry() {}

// Open implements the inbound path: anti-replay check, integrity
// verification (applying the first-packet truncation quirk), decryption,
// and replay-window bookkeeping.
func (c *ChildSA) Open(seq uint32, ciphertext []byte) (nextHeader uint8, payload []byte, err error) {
	if seq < c.msgIdIn {
		return 0, nil, errReplayed
	}
	if _, dup := c.msgWinIn[seq]; dup {
		return 0, nil, errReplayed
	}
	if !c.quirkChecked {
		crypto.ApplyShaTruncationQuirk(c.in.Cipher, c.out.Cipher, len(ciphertext))
		c.quirkChecked = true
	}
	nextHeader, payload, err = c.in.Open(spiToUint32(c.InboundSpi), seq, ciphertext)
	if err != nil {
		return 0, nil, err
	}
	switch {
	case seq > c.msgIdIn+replayFastForward:
		c.msgIdIn = seq + 1
		c.msgWinIn = make(map[uint32]struct{})
	case seq == c.msgIdIn:
		c.msgIdIn++
		for {
			if _, ok := c.msgWinIn[c.msgIdIn]; !ok {
				break
			}
			delete(c.msgWinIn, c.msgIdIn)
			c.msgIdIn++
		}
	default:
		c.msgWinIn[seq] = struct{}{}
	}
	return nextHeader, payload, nil
}

// Seal implements the outbound path.
func (c *ChildSA) Seal(nextHeader uint8, payload []byte) ([]byte, error) {
	seq := c.msgIdOut
	c.msgIdOut++
	return c.out.Seal(spiToUint32(c.OutboundSpi), seq, nextHeader, payload)
}

// Successor walks the rekey chain for the SA currently installed in the
// table, returning nil once the whole chain has been deleted.
func (c *ChildSA) Successor() *ChildSA {
	cur := c
	for cur != nil {
		if c.table.Has(cur.InboundSpi) {
			return cur
		}
		cur = cur.child
	}
	return nil
}

// SealAndSend walks the rekey chain to whichever Child SA is currently
// installed and seals+transmits through it, so a reply queued before a
// rekey races to completion still goes out under the live keys.
func (c *ChildSA) SealAndSend(nextHeader uint8, payload []byte, send SendFunc) error {
	cur := c.Successor()
	if cur == nil {
		return fmt.Errorf("ike: child sa no longer installed")
	}
	b, err := cur.Seal(nextHeader, payload)
	if err != nil {
		return err
	}
	return send(b)
}

func spiToUint32(spi protocol.Spi) uint32 {
	var b [4]byte
	copy(b[4-len(spi):], spi)
	return binary.BigEndian.Uint32(b[:])
}
