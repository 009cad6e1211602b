package crypto

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"hash"

	"github.com/vpngw/ike/protocol"
)

// Prf is the pseudo-random function negotiated for an IKE SA: it both
// authenticates key material (prf(key, data)) and stretches it (prf+).
type Prf struct {
	Length int
	hashFn func() hash.Hash
	protocol.PrfTransformId
}

func (p *Prf) Prf(key, data []byte) []byte {
	mac := hmac.New(p.hashFn, key)
	mac.Write(data)
	return mac.Sum(nil)[:p.Length]
}

// Hash runs the plain (unkeyed) hash algorithm underlying this PRF. IKEv1
// Main Mode uses it directly to derive the phase 1 IV from the DH public
// values, where RFC 2409 calls for "hash" rather than "prf".
func (p *Prf) Hash(data []byte) []byte {
	h := p.hashFn()
	h.Write(data)
	return h.Sum(nil)
}

// PrfPlus is the IKEv2 prf+ operator: T1 = prf(key, seed||1),
// Ti = prf(key, T(i-1)||seed||i), output is T1||T2||... truncated to n bytes.
func (p *Prf) PrfPlus(key, seed []byte, n int) []byte {
	var out, prev []byte
	for round := byte(1); len(out) < n; round++ {
		in := append(append([]byte{}, prev...), seed...)
		in = append(in, round)
		prev = p.Prf(key, in)
		out = append(out, prev...)
	}
	return out[:n]
}

// PrfPlusV1 is the IKEv1 variant where the counter byte is prepended to
// the seed rather than appended: Ti = prf(key, T(i-1)||counter||seed).
func (p *Prf) PrfPlusV1(key, seed []byte, n int) []byte {
	var out, prev []byte
	for round := byte(1); len(out) < n; round++ {
		in := append(append([]byte{}, prev...), round)
		in = append(in, seed...)
		prev = p.Prf(key, in)
		out = append(out, prev...)
	}
	return out[:n]
}

func prfTransform(id uint16) (*Prf, error) {
	switch protocol.PrfTransformId(id) {
	case protocol.PRF_HMAC_SHA1:
		return &Prf{Length: sha1.Size, hashFn: sha1.New, PrfTransformId: protocol.PRF_HMAC_SHA1}, nil
	case protocol.PRF_HMAC_SHA2_256:
		return &Prf{Length: sha256.Size, hashFn: sha256.New, PrfTransformId: protocol.PRF_HMAC_SHA2_256}, nil
	case protocol.PRF_HMAC_MD5:
		return &Prf{Length: md5.Size, hashFn: md5.New, PrfTransformId: protocol.PRF_HMAC_MD5}, nil
	}
	return nil, fmt.Errorf("unsupported prf transform %v", protocol.PrfTransformId(id))
}
