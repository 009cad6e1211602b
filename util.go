package ike

import (
	"crypto/rand"
	"crypto/sha1"
	"math/big"
	"net"

	"github.com/vpngw/ike/protocol"
)

// randomBytes returns n cryptographically random bytes, used for SPIs and
// nonces whose length is already size-checked by the caller.
func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("ike: system randomness unavailable: " + err.Error())
	}
	return b
}

// cookieSecret is the local secret mixed into every cookie, drawn once per
// process.
var cookieSecret = randomBytes(16)

// getCookie derives the anti-clogging cookie offered back to an initiator
// that did not present one: hash(Ni | SPIi | remote address | <local secret>).
// The secret is sufficient entropy for this gateway's threat model
// (DoS resistance, not long-term secrecy).
func getCookie(nonce *big.Int, spiI protocol.Spi, remote net.Addr) []byte {
	h := sha1.New()
	if nonce != nil {
		h.Write(nonce.Bytes())
	}
	h.Write(spiI)
	if remote != nil {
		h.Write([]byte(remote.String()))
	}
	h.Write(cookieSecret)
	return h.Sum(nil)[:12]
}

// IPNetToFirstLastAddress renders a CIDR block as its inclusive first/last
// IPv4 addresses, the form traffic selectors are carried in on the wire.
func IPNetToFirstLastAddress(n *net.IPNet) (first, last []byte, err error) {
	ip4 := n.IP.To4()
	if ip4 == nil {
		return nil, nil, errInvalidSelector
	}
	mask := n.Mask
	first = make([]byte, 4)
	last = make([]byte, 4)
	for i := 0; i < 4; i++ {
		first[i] = ip4[i] & mask[i]
		last[i] = ip4[i] | ^mask[i]
	}
	return first, last, nil
}

var errInvalidSelector = protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "selector requires an IPv4 network")
