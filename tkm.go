package ike

import (
	"crypto/rand"
	"math/big"

	"github.com/vpngw/ike/crypto"
	"github.com/vpngw/ike/protocol"
)

// Tkm is the token keying material module: it owns the DH exchange, the
// nonces, and every key derived from them for one IKE SA, in both
// directions. It is deliberately ignorant of message framing; Session
// drives it and Message.Encode/DecodeMessage call into it to seal and open
// the SK envelope (v2) or the encrypted tail (v1).
type Tkm struct {
	suite    *crypto.CipherSuite // IKE SA cipher suite
	espSuite *crypto.CipherSuite // Child SA cipher suite, negotiated at IKE_AUTH / Quick Mode

	isInitiator   bool
	isEstablished bool // true once SK_* (v2) or SKEYID_e (v1) are derived

	Ni, Nr *big.Int

	DhPrivate, DhPublic *big.Int
	DhShared            *big.Int

	// IKEv2 key material, RFC 7296 2.14
	skD, skAi, skAr, skEi, skEr, skPi, skPr []byte

	// IKEv1 key material, RFC 2409 5
	skeyId, skeyIdD, skeyIdA, skeyIdE []byte
	ivV1                              []byte // phase 1 IV, then chained per-message
	lastMsgIdV1                       uint32
	sawFirstMsgV1                     bool
}

// NewTkmInitiator creates the initiator side token keying material: it
// generates the local nonce and DH keypair up front so they are ready to
// place in the first outbound message.
func NewTkmInitiator(suite, espSuite *crypto.CipherSuite) (*Tkm, error) {
	t := &Tkm{suite: suite, espSuite: espSuite, isInitiator: true}
	if err := t.createNonce(32); err != nil {
		return nil, err
	}
	if err := t.createDhKey(); err != nil {
		return nil, err
	}
	return t, nil
}

// NewTkmV1Responder creates an IKEv1 responder's Tkm before the peer's KE
// and nonce are known: Main Mode splits that exchange across messages 3/4,
// so the local nonce and DH keypair aren't generated until GenerateLocalV1
// runs, right before message 4 is built.
func NewTkmV1Responder(suite, espSuite *crypto.CipherSuite) *Tkm {
	return &Tkm{suite: suite, espSuite: espSuite}
}

// GenerateLocalV1 creates this side's nonce and DH keypair and computes the
// shared secret against the peer's public value just received in message 3.
func (t *Tkm) GenerateLocalV1(peerPublic *big.Int) error {
	if err := t.createNonce(32); err != nil {
		return err
	}
	if err := t.createDhKey(); err != nil {
		return err
	}
	return t.DhGenerateKey(peerPublic)
}

// NewTkmResponder creates the responder side, immediately computing the
// shared secret since the peer's public value already arrived with the
// request that triggers session creation.
func NewTkmResponder(suite, espSuite *crypto.CipherSuite, peerNonce, peerPublic *big.Int) (*Tkm, error) {
	t := &Tkm{suite: suite, espSuite: espSuite, Ni: peerNonce}
	if err := t.createNonce(32); err != nil {
		return nil, err
	}
	if err := t.createDhKey(); err != nil {
		return nil, err
	}
	if err := t.DhGenerateKey(peerPublic); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tkm) createNonce(numBytes int) error {
	n := make([]byte, numBytes)
	if _, err := rand.Read(n); err != nil {
		return err
	}
	nonce := new(big.Int).SetBytes(n)
	if t.isInitiator {
		t.Ni = nonce
	} else {
		t.Nr = nonce
	}
	return nil
}

func (t *Tkm) createDhKey() (err error) {
	t.DhPrivate, err = t.suite.DhGroup.GeneratePrivate(rand.Reader)
	if err != nil {
		return err
	}
	t.DhPublic = t.suite.DhGroup.Public(t.DhPrivate)
	return nil
}

// DhGenerateKey computes the shared secret once the peer's public value is
// known.
func (t *Tkm) DhGenerateKey(peerPublic *big.Int) (err error) {
	t.DhShared, err = t.suite.DhGroup.SharedSecret(peerPublic, t.DhPrivate)
	return err
}

// IsaCreate derives the full IKEv2 SA key set: SKEYSEED and the seven
// SK_* streams, keyed to the SPI pair of this exchange.
//
//	SKEYSEED = prf(Ni | Nr, g^ir)
//	{SK_d | SK_ai | SK_ar | SK_ei | SK_er | SK_pi | SK_pr} = prf+(SKEYSEED, Ni | Nr | SPIi | SPIr)
func (t *Tkm) IsaCreate(spiI, spiR protocol.Spi) {
	prf := t.suite.Prf
	skeyseed := prf.Prf(concat(t.Ni.Bytes(), t.Nr.Bytes()), t.DhShared.Bytes())
	kmLen := 3*prf.Length + 2*t.suite.KeyLen + 2*t.suite.MacKeyLen
	keymat := prf.PrfPlus(skeyseed, concat(t.Ni.Bytes(), t.Nr.Bytes(), spiI, spiR), kmLen)

	off := 0
	t.skD, off = take(keymat, off, prf.Length)
	t.skAi, off = take(keymat, off, t.suite.MacKeyLen)
	t.skAr, off = take(keymat, off, t.suite.MacKeyLen)
	t.skEi, off = take(keymat, off, t.suite.KeyLen)
	t.skEr, off = take(keymat, off, t.suite.KeyLen)
	t.skPi, off = take(keymat, off, prf.Length)
	t.skPr, _ = take(keymat, off, prf.Length)
	t.isEstablished = true
}

// IsaCreateV1 derives IKEv1 phase 1 key material: SKEYID and the chained
// SKEYID_d/a/e expansion (RFC 2409 5, pre-shared key mode). CKYi/CKYr are
// the Main Mode cookies (the IKEv1 reuse of the IKE SPI field); gxi/gxr are
// the two sides' DH public values, needed again here (DhGenerateKey only
// keeps the shared secret) since the phase 1 IV hashes them directly.
func (t *Tkm) IsaCreateV1(psk []byte, ckyI, ckyR protocol.Spi, gxi, gxr []byte) {
	prf := t.suite.Prf
	t.skeyId = prf.Prf(psk, concat(t.Ni.Bytes(), t.Nr.Bytes()))

	gir := t.DhShared.Bytes()
	t.skeyIdD = prf.Prf(t.skeyId, concat(gir, ckyI, ckyR, []byte{0}))
	t.skeyIdA = prf.Prf(t.skeyId, concat(t.skeyIdD, gir, ckyI, ckyR, []byte{1}))
	t.skeyIdE = prf.Prf(t.skeyId, concat(t.skeyIdA, gir, ckyI, ckyR, []byte{2}))

	ivSeed := prf.Hash(concat(gxi, gxr))
	if block := t.suite.BlockSize(); len(ivSeed) > block {
		ivSeed = ivSeed[:block]
	}
	t.ivV1 = ivSeed
	t.isEstablished = true
}

// SetEspSuite attaches the Child SA cipher suite once it is negotiated
// during IKE_AUTH / Quick Mode; NewTkmResponder/NewTkmInitiator only know
// the IKE SA suite up front.
func (t *Tkm) SetEspSuite(s *crypto.CipherSuite) { t.espSuite = s }

// IsaCreateRekey derives a fresh IKEv2 key set for an IKE SA rekeyed via
// CREATE_CHILD_SA (RFC 7296 2.18):
//
//	SKEYSEED' = prf(SK_d, g^ir (new) | Ni' | Nr')
//	{SK_d' | ...} = prf+(SKEYSEED', Ni' | Nr' | SPIi' | SPIr')
//
// The new Tkm shares this one's cipher suite; the caller installs it on a
// freshly minted session and SPI pair.
func (t *Tkm) IsaCreateRekey(gir *big.Int, niPrime, nrPrime *big.Int, spiIPrime, spiRPrime protocol.Spi) *Tkm {
	nt := &Tkm{suite: t.suite, espSuite: t.espSuite, Ni: niPrime, Nr: nrPrime, DhShared: gir}
	prf := t.suite.Prf
	skeyseed := prf.Prf(t.skD, concat(gir.Bytes(), niPrime.Bytes(), nrPrime.Bytes()))
	kmLen := 3*prf.Length + 2*t.suite.KeyLen + 2*t.suite.MacKeyLen
	keymat := prf.PrfPlus(skeyseed, concat(niPrime.Bytes(), nrPrime.Bytes(), spiIPrime, spiRPrime), kmLen)

	off := 0
	nt.skD, off = take(keymat, off, prf.Length)
	nt.skAi, off = take(keymat, off, t.suite.MacKeyLen)
	nt.skAr, off = take(keymat, off, t.suite.MacKeyLen)
	nt.skEi, off = take(keymat, off, t.suite.KeyLen)
	nt.skEr, off = take(keymat, off, t.suite.KeyLen)
	nt.skPi, off = take(keymat, off, prf.Length)
	nt.skPr, _ = take(keymat, off, prf.Length)
	nt.isEstablished = true
	return nt
}

// IpsecSaCreate derives IKEv2 Child SA key material for one direction pair.
//
//	keymat = prf+(SK_d, Ni | Nr)
//
// split as SK_ei | SK_ai | SK_er | SK_ar. The IKEv1 form,
// prf+_1(SKEYID_d, protocol | SPI | Ni | Nr), is IpsecSaCreateV1.
func (t *Tkm) IpsecSaCreate(ni, nr *big.Int) (encrI, authI, encrR, authR []byte) {
	prf := t.suite.Prf
	kmLen := 2*t.espSuite.KeyLen + 2*t.espSuite.MacKeyLen
	keymat := prf.PrfPlus(t.skD, concat(ni.Bytes(), nr.Bytes()), kmLen)
	return splitKeymat(keymat, t.espSuite)
}

// IpsecSaCreateV1 derives Child SA key material the IKEv1 way, the counter
// byte prepended rather than appended, and the seed carrying the protocol
// id and SPI that name the negotiation.
func (t *Tkm) IpsecSaCreateV1(protoId protocol.ProtocolId, spi []byte, ni, nr *big.Int) (encrI, authI, encrR, authR []byte) {
	prf := t.suite.Prf
	kmLen := 2*t.espSuite.KeyLen + 2*t.espSuite.MacKeyLen
	seed := concat([]byte{uint8(protoId)}, spi, ni.Bytes(), nr.Bytes())
	keymat := prf.PrfPlusV1(t.skeyIdD, seed, kmLen)
	return splitKeymat(keymat, t.espSuite)
}

func splitKeymat(keymat []byte, suite *crypto.CipherSuite) (encrI, authI, encrR, authR []byte) {
	off := 0
	encrI, off = take(keymat, off, suite.KeyLen)
	authI, off = take(keymat, off, suite.MacKeyLen)
	encrR, off = take(keymat, off, suite.KeyLen)
	authR, _ = take(keymat, off, suite.MacKeyLen)
	return
}

// SealMessageV2 wraps the encoded payload chain in the IKEv2 SK envelope:
// the SK payload header is sized before encryption since the cipher's
// overhead is a pure function of cleartext length, then Cipher.EncryptMac
// produces header+sk-header+ciphertext+mac in one pass.
func (t *Tkm) SealMessageV2(header *protocol.IkeHeader, firstInner protocol.PayloadType, body []byte, isInitiator bool) ([]byte, error) {
	skA, skE := t.encryptKeys(isInitiator)
	overhead := t.suite.Cipher.Overhead(body)
	skLen := protocol.PAYLOAD_HEADER_LENGTH + len(body) + overhead

	header.NextPayload = protocol.PayloadTypeSK
	header.MsgLength = uint32(protocol.IKE_HEADER_LEN + skLen)
	headerBytes := header.Encode()

	skHeader := []byte{uint8(firstInner), 0, uint8(skLen >> 8), uint8(skLen)}
	headers := append(headerBytes, skHeader...)
	return t.suite.Cipher.EncryptMac(headers, body, skA, skE)
}

// OpenMessageV2 verifies and decrypts an inbound IKEv2 SK envelope,
// returning the cleartext payload chain.
func (t *Tkm) OpenMessageV2(raw []byte, isInitiator bool) ([]byte, error) {
	skA, skE := t.decryptKeys(isInitiator)
	return t.suite.Cipher.VerifyDecrypt(raw, skA, skE)
}

// SealMessageV1 encrypts the tail of an IKEv1 message in place: the header
// is emitted cleartext, everything after it (the payload chain, which by
// this point already contains its own HASH payload for authentication) is
// CBC-encrypted under SK_e with the chained Main Mode/Quick Mode IV.
func (t *Tkm) SealMessageV1(header *protocol.IkeHeader, body []byte, isInitiator bool) ([]byte, error) {
	key := t.skeyIdE
	if !isInitiator {
		key = t.skeyIdE // IKEv1 uses a single SK_e for both directions
	}
	iv := t.nextIvV1(header.MsgId)
	ct, err := t.suite.EncryptV1(body, key, iv)
	if err != nil {
		return nil, err
	}
	t.ivV1 = lastBlock(ct, t.suite.BlockSize())
	header.MsgLength = uint32(protocol.IKE_HEADER_LEN + len(ct))
	return append(header.Encode(), ct...), nil
}

// OpenMessageV1 is the inverse of SealMessageV1.
func (t *Tkm) OpenMessageV1(header *protocol.IkeHeader, ct []byte, isInitiator bool) ([]byte, error) {
	iv := t.nextIvV1(header.MsgId)
	pt, err := t.suite.DecryptV1(ct, t.skeyIdE, iv)
	if err != nil {
		return nil, err
	}
	t.ivV1 = lastBlock(ct, t.suite.BlockSize())
	return pt, nil
}

// nextIvV1 returns the IV for encrypting/decrypting the given message id:
// phase 1 messages chain off the previous ciphertext block directly; the
// first message of a new exchange (a different message id than the one
// last used) rehashes the phase 1 IV with the message id, per RFC 2409
// Appendix B.
func (t *Tkm) nextIvV1(msgId uint32) []byte {
	if t.sawFirstMsgV1 && msgId == t.lastMsgIdV1 {
		return t.ivV1
	}
	t.sawFirstMsgV1 = true
	t.lastMsgIdV1 = msgId
	if msgId == 0 {
		return t.ivV1 // phase 1 always uses message id 0; no rehash needed
	}
	msgIdB := []byte{byte(msgId >> 24), byte(msgId >> 16), byte(msgId >> 8), byte(msgId)}
	iv := t.suite.Prf.Hash(concat(t.ivV1, msgIdB))
	if block := t.suite.BlockSize(); len(iv) > block {
		iv = iv[:block]
	}
	return iv
}

func lastBlock(ct []byte, blockLen int) []byte {
	if blockLen == 0 || len(ct) < blockLen {
		return ct
	}
	return append([]byte{}, ct[len(ct)-blockLen:]...)
}

// encryptKeys returns (SK_a, SK_e) for the direction this side sends in:
// an initiator encrypts with skEi/skAi, a responder with skEr/skAr.
func (t *Tkm) encryptKeys(isInitiator bool) (skA, skE []byte) {
	if isInitiator {
		return t.skAi, t.skEi
	}
	return t.skAr, t.skEr
}

// decryptKeys returns the keys for the direction this side receives on,
// the mirror image of encryptKeys.
func (t *Tkm) decryptKeys(isInitiator bool) (skA, skE []byte) {
	if isInitiator {
		return t.skAr, t.skEr
	}
	return t.skAi, t.skEi
}

// AuthSignature computes AUTH = prf(prf(sharedSecret, "Key Pad for IKEv2"), signed1 | prf(SK_p, id.Encode())).
func (t *Tkm) AuthSignature(psk []byte, signed1 []byte, idEncoded []byte, isInitiator bool) []byte {
	prf := t.suite.Prf
	skP := t.skPr
	if isInitiator {
		skP = t.skPi
	}
	signed := concat(signed1, prf.Prf(skP, idEncoded))
	secret := prf.Prf(psk, []byte("Key Pad for IKEv2"))
	return prf.Prf(secret, signed)
}

// HashV1 computes the IKEv1 Main Mode authentication hash:
// hash = prf(SKEYID, g^xi | g^xr | CKYi | CKYr | SA_bytes | ID_payload).
func (t *Tkm) HashV1(gxi, gxr, ckyI, ckyR, saBytes, idPayload []byte) []byte {
	return t.suite.Prf.Prf(t.skeyId, concat(gxi, gxr, ckyI, ckyR, saBytes, idPayload))
}

// HashV1Msg computes the hash carried inside TRANSACTION_1/QUICK_1/INFORMATIONAL_1:
// HASH = prf(SKEYID_a, msgId | nonce | payloads); only QUICK_1 passes a non-nil nonce.
func (t *Tkm) HashV1Msg(msgId uint32, nonce, payloads []byte) []byte {
	msgIdB := []byte{byte(msgId >> 24), byte(msgId >> 16), byte(msgId >> 8), byte(msgId)}
	return t.suite.Prf.Prf(t.skeyIdA, concat(msgIdB, nonce, payloads))
}

// HashV1Ack computes Quick Mode's HASH(3): prf(SKEYID_a, 0 | msgId | Ni_b | Nr_b),
// the fixed-form commitment the initiator sends to confirm message 2 was
// received, independent of the SA/selector payloads HASH(1)/HASH(2) cover.
func (t *Tkm) HashV1Ack(msgId uint32, ni, nr []byte) []byte {
	msgIdB := []byte{byte(msgId >> 24), byte(msgId >> 16), byte(msgId >> 8), byte(msgId)}
	return t.suite.Prf.Prf(t.skeyIdA, concat([]byte{0}, msgIdB, ni, nr))
}

func take(b []byte, off, n int) ([]byte, int) {
	return b[off : off+n], off + n
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
