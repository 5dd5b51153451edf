package protocol

import (
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/pkg/errors"
)

// DealShares performs a trusted-dealer key generation: it draws a fresh
// group secret, splits it into total Shamir shares with the given
// reconstruction threshold, and returns the x-only group public key along
// with the shares. The group secret is normalized to the even-Y point so
// aggregates verify as standard Schnorr signatures.
//
// This is intended for tooling and tests; production federations are
// expected to bootstrap shares through a DKG ceremony instead.
func DealShares(threshold, total int) ([]byte, []*SecretShare, error) {
	if threshold < 1 {
		return nil, nil, errors.New("threshold must be at least 1")
	}
	if total < threshold {
		return nil, nil, errors.Errorf("total participants %d must be at least the threshold %d", total, threshold)
	}

	groupSecret, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, nil, errors.Wrap(err, "generate group secret")
	}

	var secret secp256k1.ModNScalar
	secret.Set(&groupSecret.Key)
	if groupSecret.PubKey().SerializeCompressed()[0] == secp256k1.PubKeyFormatCompressedOdd {
		secret.Negate()
	}
	groupKey := schnorr.SerializePubKey(groupSecret.PubKey())

	// f(x) = secret + a1*x + ... + a(t-1)*x^(t-1)
	coefficients := make([]*secp256k1.ModNScalar, threshold)
	coefficients[0] = &secret
	for i := 1; i < threshold; i++ {
		coefficient, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, nil, errors.Wrap(err, "generate polynomial coefficient")
		}
		coefficients[i] = &coefficient.Key
	}

	shares := make([]*SecretShare, 0, total)
	for i := 1; i <= total; i++ {
		share := &SecretShare{Index: uint32(i)}
		evaluatePolynomial(coefficients, uint32(i), &share.Secret)
		shares = append(shares, share)
	}
	return groupKey, shares, nil
}

// evaluatePolynomial computes f(x) via Horner's method.
func evaluatePolynomial(coefficients []*secp256k1.ModNScalar, x uint32, result *secp256k1.ModNScalar) {
	var at secp256k1.ModNScalar
	at.SetInt(x)

	result.Zero()
	for i := len(coefficients) - 1; i >= 0; i-- {
		result.Mul(&at).Add(coefficients[i])
	}
}
