package protocol

import (
	"bytes"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/pkg/errors"
)

// SecretShare is one participant's share of the group signing key, produced
// by DealShares or an external DKG. Index is the 1-based Shamir index.
type SecretShare struct {
	Index  uint32
	Secret secp256k1.ModNScalar
}

// Nonce is a participant's one-time nonce pair for a single signing session.
// The scalars never leave this package; only the commitment is shared.
type Nonce struct {
	index   uint32
	hiding  secp256k1.ModNScalar
	binding secp256k1.ModNScalar
}

// Index returns the signer index the nonce was generated for.
func (n *Nonce) Index() uint32 {
	return n.index
}

// GenerateNonce draws a fresh hiding/binding nonce pair for the given signer
// index and returns the public commitment to submit for round 1. A nonce
// must never be used for more than one session.
func GenerateNonce(index uint32) (*Nonce, []byte, error) {
	if index == 0 {
		return nil, nil, errors.New("signer index must be positive")
	}

	hiding, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, nil, errors.Wrap(err, "generate hiding nonce")
	}
	binding, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, nil, errors.Wrap(err, "generate binding nonce")
	}

	nonce := &Nonce{index: index}
	nonce.hiding.Set(&hiding.Key)
	nonce.binding.Set(&binding.Key)

	commitment := make([]byte, 0, CommitmentSize)
	commitment = append(commitment, hiding.PubKey().SerializeCompressed()...)
	commitment = append(commitment, binding.PubKey().SerializeCompressed()...)
	return nonce, commitment, nil
}

// PartialSign produces this participant's round 2 partial signature over
// messageHash. commitments must hold the round 1 commitment of every member
// of the signing set, keyed by signer index, including this participant's
// own; every signer must use the identical set or aggregation will not
// verify.
func PartialSign(share *SecretShare, nonce *Nonce, messageHash []byte, commitments map[uint32][]byte, groupKey []byte) ([]byte, error) {
	if share == nil || nonce == nil {
		return nil, errors.New("share and nonce are required")
	}
	if share.Index != nonce.index {
		return nil, errors.Errorf("nonce was generated for signer index %d, share has index %d", nonce.index, share.Index)
	}
	if len(messageHash) != MessageHashSize {
		return nil, errors.Errorf("message hash must be %d bytes", MessageHashSize)
	}
	if len(groupKey) != GroupKeySize {
		return nil, errors.Errorf("group key must be %d bytes", GroupKeySize)
	}

	own, ok := commitments[share.Index]
	if !ok {
		return nil, errors.Errorf("commitment set is missing this signer's index %d", share.Index)
	}
	if err := verifyOwnCommitment(nonce, own); err != nil {
		return nil, err
	}

	set, err := parseCommitmentSet(commitments)
	if err != nil {
		return nil, err
	}

	groupR := groupCommitment(messageHash, set)
	groupR.ToAffine()

	factors := bindingFactors(messageHash, set)

	// Effective nonce k = d + rho*e, negated when the group commitment has
	// an odd Y so the aggregate R is a valid even-Y BIP-340 commitment.
	var k secp256k1.ModNScalar
	k.Mul2(factors[share.Index], &nonce.binding).Add(&nonce.hiding)
	if groupR.Y.IsOdd() {
		k.Negate()
	}

	e := challenge(&groupR.X, groupKey, messageHash)
	lambda, err := lagrangeCoefficient(share.Index, set)
	if err != nil {
		return nil, err
	}

	// z = k + e * lambda * s
	var z secp256k1.ModNScalar
	z.Mul2(e, lambda).Mul(&share.Secret).Add(&k)

	zBytes := z.Bytes()
	out := make([]byte, ShareSize)
	copy(out, zBytes[:])
	return out, nil
}

func verifyOwnCommitment(nonce *Nonce, commitment []byte) error {
	if len(commitment) != CommitmentSize {
		return errors.Errorf("commitment must be %d bytes", CommitmentSize)
	}

	var hidingPoint, bindingPoint secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&nonce.hiding, &hidingPoint)
	secp256k1.ScalarBaseMultNonConst(&nonce.binding, &bindingPoint)

	expected := make([]byte, 0, CommitmentSize)
	expected = append(expected, serializePoint(&hidingPoint)...)
	expected = append(expected, serializePoint(&bindingPoint)...)
	if !bytes.Equal(expected, commitment) {
		return errors.New("commitment set does not contain this nonce's commitment")
	}
	return nil
}

// lagrangeCoefficient computes the Lagrange coefficient for index over the
// signing set, evaluated at zero: prod(j / (j - i)) for j != i.
func lagrangeCoefficient(index uint32, set []signingCommitment) (*secp256k1.ModNScalar, error) {
	num := new(secp256k1.ModNScalar).SetInt(1)
	den := new(secp256k1.ModNScalar).SetInt(1)

	var indexScalar secp256k1.ModNScalar
	indexScalar.SetInt(index)

	for _, c := range set {
		if c.index == index {
			continue
		}

		var j secp256k1.ModNScalar
		j.SetInt(c.index)
		num.Mul(&j)

		var diff secp256k1.ModNScalar
		diff.Set(&indexScalar).Negate().Add(&j)
		if diff.IsZero() {
			return nil, errors.Errorf("duplicate signer index %d in commitment set", c.index)
		}
		den.Mul(&diff)
	}

	den.InverseNonConst()
	return num.Mul(den), nil
}

func serializePoint(point *secp256k1.JacobianPoint) []byte {
	affine := *point
	affine.ToAffine()
	return secp256k1.NewPublicKey(&affine.X, &affine.Y).SerializeCompressed()
}
