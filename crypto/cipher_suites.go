package crypto

import (
	"fmt"

	"github.com/vpngw/ike/protocol"
	"github.com/msgboxio/log"
)

// Cipher provides encryption and integrity protection for an IKE SA message.
type Cipher interface {
	Overhead(clear []byte) int
	VerifyDecrypt(ike, skA, skE []byte) (dec []byte, err error)
	EncryptMac(headers, payload, skA, skE []byte) (b []byte, err error)
}

// CipherSuite is everything negotiated by an SA proposal: cipher, PRF, and
// DH group, plus the key-material lengths each needs.
type CipherSuite struct {
	Cipher
	Prf     *Prf
	DhGroup dhGroup

	KeyLen, MacKeyLen int
}

// NewCipherSuite builds a CipherSuite from a transform set (one IKE or ESP
// proposal, already reduced to the single accepted transform chain).
func NewCipherSuite(trs protocol.Transforms) (*CipherSuite, error) {
	cs := &CipherSuite{}
	var cipher *simpleCipher

	for _, tr := range trs {
		switch tr.Transform.Type {
		case protocol.TRANSFORM_TYPE_DH:
			dh, ok := kexAlgoMap[protocol.DhTransformId(tr.Transform.TransformId)]
			if !ok {
				return nil, fmt.Errorf("unsupported dh transform %v", protocol.DhTransformId(tr.Transform.TransformId))
			}
			cs.DhGroup = dh
		case protocol.TRANSFORM_TYPE_PRF:
			prf, err := prfTransform(tr.Transform.TransformId)
			if err != nil {
				return nil, err
			}
			cs.Prf = prf
		case protocol.TRANSFORM_TYPE_ENCR:
			keyLen := int(tr.KeyLength) / 8
			if keyLen == 0 {
				keyLen = defaultKeyLen(protocol.EncrTransformId(tr.Transform.TransformId))
			}
			var ok bool
			if cipher, ok = cipherTransform(tr.Transform.TransformId, keyLen, cipher); !ok {
				return nil, fmt.Errorf("unsupported cipher transform %d", tr.Transform.TransformId)
			}
			cs.KeyLen = keyLen
		case protocol.TRANSFORM_TYPE_INTEG:
			var ok bool
			if cipher, ok = integrityTransform(tr.Transform.TransformId, cipher); !ok {
				return nil, fmt.Errorf("unsupported mac transform %d", tr.Transform.TransformId)
			}
			cs.MacKeyLen = cipher.macKeyLen
		case protocol.TRANSFORM_TYPE_ESN:
			// no-op: extended sequence numbers are not modeled
		default:
			return nil, fmt.Errorf("unsupported transform type %d", tr.Transform.Type)
		}
	}
	if cipher == nil {
		return nil, fmt.Errorf("cipher transform not set")
	}
	cs.Cipher = cipher
	return cs, nil
}

func defaultKeyLen(id protocol.EncrTransformId) int {
	switch id {
	case protocol.ENCR_3DES:
		return 24
	case protocol.ENCR_AES_CBC, protocol.ENCR_AES_CTR:
		return 16
	case protocol.ENCR_CAMELLIA_CBC, protocol.ENCR_CAMELLIA_CTR:
		return 16
	default:
		return 0
	}
}

func (cs *CipherSuite) CheckIkeTransforms() error {
	if cs.DhGroup == nil || cs.Prf == nil {
		return fmt.Errorf("invalid IKE cipher transform combination")
	}
	if log.V(2) {
		log.Infof("IKE CipherSuite: %+v", *cs)
	}
	return nil
}

func (cs *CipherSuite) CheckEspTransforms() error {
	if log.V(2) {
		log.Infof("ESP CipherSuite: %+v", *cs)
	}
	return nil
}

// BlockSize returns the cipher's block length, used by IKEv1 Main Mode to
// size the phase 1 IV.
func (cs *CipherSuite) BlockSize() int {
	if sc, ok := cs.Cipher.(*simpleCipher); ok {
		return sc.blockLen
	}
	return 0
}

// EncryptV1 CBC-encrypts clear under key/iv with no trailing MAC: IKEv1
// authenticates the whole message via the HASH payload carried inside the
// cleartext, not a wire-appended ICV.
func (cs *CipherSuite) EncryptV1(clear, key, iv []byte) ([]byte, error) {
	sc, ok := cs.Cipher.(*simpleCipher)
	if !ok {
		return nil, fmt.Errorf("ike: unsupported cipher for v1 encryption")
	}
	return encryptWithIv(clear, key, iv, sc.cipherFunc)
}

// DecryptV1 is the inverse of EncryptV1.
func (cs *CipherSuite) DecryptV1(ct, key, iv []byte) ([]byte, error) {
	sc, ok := cs.Cipher.(*simpleCipher)
	if !ok {
		return nil, fmt.Errorf("ike: unsupported cipher for v1 encryption")
	}
	return decryptWithIv(ct, key, iv, sc.cipherFunc)
}
