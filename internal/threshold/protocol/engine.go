package protocol

import (
	"crypto/sha256"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/pkg/errors"
)

// Tags for the scheme's domain-separated hashes. The challenge tag follows
// BIP-340 so the aggregate verifies as a standard Schnorr signature.
const (
	tagChallenge     = "BIP0340/challenge"
	tagBindingFactor = "ThresholdSchnorr/binding"
)

// Engine validates and combines per-participant contributions into a single
// Schnorr signature. It is stateless and holds no secret material; every
// input and output is a public value.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// ValidateCommitment performs structural validation of a nonce commitment:
// exactly two parseable compressed secp256k1 points. Uniqueness is the
// store's job, not the engine's.
func (e *Engine) ValidateCommitment(commitment []byte) error {
	if len(commitment) != CommitmentSize {
		return errors.Errorf("commitment must be %d bytes, got %d", CommitmentSize, len(commitment))
	}
	if _, err := secp256k1.ParsePubKey(commitment[:33]); err != nil {
		return errors.Wrap(err, "invalid hiding point")
	}
	if _, err := secp256k1.ParsePubKey(commitment[33:]); err != nil {
		return errors.Wrap(err, "invalid binding point")
	}
	return nil
}

// CombinePartialSignatures deterministically combines the contributing set's
// partial signatures into a 64-byte aggregate over messageHash. The group
// commitment is recomputed from the same commitment set the contributors
// signed over, so a contributor that signed over a different set produces an
// aggregate that fails verification.
func (e *Engine) CombinePartialSignatures(messageHash []byte, contributions []Contribution, groupKey []byte) ([]byte, error) {
	if len(messageHash) != MessageHashSize {
		return nil, errors.Errorf("message hash must be %d bytes", MessageHashSize)
	}
	if len(groupKey) != GroupKeySize {
		return nil, errors.Errorf("group key must be %d bytes", GroupKeySize)
	}
	if len(contributions) == 0 {
		return nil, errors.New("no contributions to combine")
	}

	comms := make(map[uint32][]byte, len(contributions))
	for _, c := range contributions {
		if _, ok := comms[c.Index]; ok {
			return nil, errors.Errorf("duplicate contribution for signer index %d", c.Index)
		}
		if len(c.Share) != ShareSize {
			return nil, errors.Errorf("partial signature for signer index %d must be %d bytes", c.Index, ShareSize)
		}
		comms[c.Index] = c.Commitment
	}

	set, err := parseCommitmentSet(comms)
	if err != nil {
		return nil, err
	}

	groupR := groupCommitment(messageHash, set)
	groupR.ToAffine()

	var z secp256k1.ModNScalar
	for _, c := range contributions {
		var zi secp256k1.ModNScalar
		if overflow := zi.SetByteSlice(c.Share); overflow {
			return nil, errors.Errorf("partial signature for signer index %d exceeds the curve order", c.Index)
		}
		z.Add(&zi)
	}

	sig := make([]byte, 0, SignatureSize)
	rBytes := groupR.X.Bytes()
	zBytes := z.Bytes()
	sig = append(sig, rBytes[:]...)
	sig = append(sig, zBytes[:]...)
	return sig, nil
}

// Verify reports whether signature is a valid Schnorr signature over
// messageHash under the x-only group public key.
func (e *Engine) Verify(signature, messageHash, groupKey []byte) bool {
	sig, err := schnorr.ParseSignature(signature)
	if err != nil {
		return false
	}
	pub, err := schnorr.ParsePubKey(groupKey)
	if err != nil {
		return false
	}
	return sig.Verify(messageHash, pub)
}

// signingCommitment is one participant's parsed round 1 commitment.
type signingCommitment struct {
	index   uint32
	hiding  secp256k1.JacobianPoint
	binding secp256k1.JacobianPoint
	raw     []byte
}

// parseCommitmentSet parses and orders a commitment set by signer index.
// The deterministic order matters: binding factors hash the whole set.
func parseCommitmentSet(commitments map[uint32][]byte) ([]signingCommitment, error) {
	set := make([]signingCommitment, 0, len(commitments))
	for index, raw := range commitments {
		if index == 0 {
			return nil, errors.New("signer index must be positive")
		}
		if len(raw) != CommitmentSize {
			return nil, errors.Errorf("commitment for signer index %d must be %d bytes", index, CommitmentSize)
		}
		hiding, err := secp256k1.ParsePubKey(raw[:33])
		if err != nil {
			return nil, errors.Wrapf(err, "invalid hiding point for signer index %d", index)
		}
		binding, err := secp256k1.ParsePubKey(raw[33:])
		if err != nil {
			return nil, errors.Wrapf(err, "invalid binding point for signer index %d", index)
		}

		sc := signingCommitment{index: index, raw: raw}
		hiding.AsJacobian(&sc.hiding)
		binding.AsJacobian(&sc.binding)
		set = append(set, sc)
	}

	sort.Slice(set, func(i, j int) bool { return set[i].index < set[j].index })
	return set, nil
}

// bindingFactors derives one binding scalar per signer from the message and
// the full ordered commitment set, preventing nonce forgery across sets.
func bindingFactors(messageHash []byte, set []signingCommitment) map[uint32]*secp256k1.ModNScalar {
	encoded := make([]byte, 0, len(set)*(4+CommitmentSize))
	for _, c := range set {
		encoded = append(encoded, byte(c.index>>24), byte(c.index>>16), byte(c.index>>8), byte(c.index))
		encoded = append(encoded, c.raw...)
	}

	factors := make(map[uint32]*secp256k1.ModNScalar, len(set))
	for _, c := range set {
		indexBytes := []byte{byte(c.index >> 24), byte(c.index >> 16), byte(c.index >> 8), byte(c.index)}
		digest := taggedHash(tagBindingFactor, messageHash, encoded, indexBytes)

		var rho secp256k1.ModNScalar
		rho.SetByteSlice(digest[:])
		factors[c.index] = &rho
	}
	return factors
}

// groupCommitment computes R = sum(D_i + rho_i * E_i) over the set.
func groupCommitment(messageHash []byte, set []signingCommitment) secp256k1.JacobianPoint {
	factors := bindingFactors(messageHash, set)

	var r secp256k1.JacobianPoint
	for _, c := range set {
		var bound secp256k1.JacobianPoint
		secp256k1.ScalarMultNonConst(factors[c.index], &c.binding, &bound)

		var term secp256k1.JacobianPoint
		secp256k1.AddNonConst(&c.hiding, &bound, &term)
		secp256k1.AddNonConst(&r, &term, &r)
	}
	return r
}

// challenge computes the BIP-340 challenge scalar e = H(Rx || P || m).
func challenge(rx *secp256k1.FieldVal, groupKey, messageHash []byte) *secp256k1.ModNScalar {
	rBytes := rx.Bytes()
	digest := taggedHash(tagChallenge, rBytes[:], groupKey, messageHash)

	var e secp256k1.ModNScalar
	e.SetByteSlice(digest[:])
	return &e
}

// taggedHash is the BIP-340 tagged hash: SHA256(SHA256(tag) || SHA256(tag) || data).
func taggedHash(tag string, chunks ...[]byte) [32]byte {
	tagDigest := sha256.Sum256([]byte(tag))
	h := sha256.New()
	h.Write(tagDigest[:])
	h.Write(tagDigest[:])
	for _, chunk := range chunks {
		h.Write(chunk)
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
