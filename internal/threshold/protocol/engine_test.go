package protocol

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// signSession runs round 1 and round 2 for the given signer indices and
// returns the contributions ready for aggregation.
func signSession(t *testing.T, shares []*SecretShare, signerIndices []uint32, messageHash, groupKey []byte) []Contribution {
	t.Helper()

	shareByIndex := make(map[uint32]*SecretShare)
	for _, s := range shares {
		shareByIndex[s.Index] = s
	}

	nonces := make(map[uint32]*Nonce)
	commitments := make(map[uint32][]byte)
	for _, idx := range signerIndices {
		nonce, commitment, err := GenerateNonce(idx)
		require.NoError(t, err)
		nonces[idx] = nonce
		commitments[idx] = commitment
	}

	contributions := make([]Contribution, 0, len(signerIndices))
	for _, idx := range signerIndices {
		z, err := PartialSign(shareByIndex[idx], nonces[idx], messageHash, commitments, groupKey)
		require.NoError(t, err)
		contributions = append(contributions, Contribution{
			Index:      idx,
			Commitment: commitments[idx],
			Share:      z,
		})
	}
	return contributions
}

func TestSignRoundTrip_2of3(t *testing.T) {
	groupKey, shares, err := DealShares(2, 3)
	require.NoError(t, err)
	require.Len(t, shares, 3)
	require.Len(t, groupKey, GroupKeySize)

	messageHash := sha256.Sum256([]byte("rotate guardian set"))
	engine := NewEngine()

	contributions := signSession(t, shares, []uint32{1, 2}, messageHash[:], groupKey)

	signature, err := engine.CombinePartialSignatures(messageHash[:], contributions, groupKey)
	require.NoError(t, err)
	require.Len(t, signature, SignatureSize)

	assert.True(t, engine.Verify(signature, messageHash[:], groupKey))

	otherHash := sha256.Sum256([]byte("some other message"))
	assert.False(t, engine.Verify(signature, otherHash[:], groupKey))
}

func TestSignRoundTrip_AnySignerSubset(t *testing.T) {
	groupKey, shares, err := DealShares(3, 5)
	require.NoError(t, err)

	messageHash := sha256.Sum256([]byte("move treasury funds"))
	engine := NewEngine()

	// Non-contiguous subset exercises the Lagrange interpolation.
	contributions := signSession(t, shares, []uint32{1, 3, 5}, messageHash[:], groupKey)

	signature, err := engine.CombinePartialSignatures(messageHash[:], contributions, groupKey)
	require.NoError(t, err)
	assert.True(t, engine.Verify(signature, messageHash[:], groupKey))
}

func TestSignRoundTrip_MoreThanThresholdSigners(t *testing.T) {
	groupKey, shares, err := DealShares(2, 3)
	require.NoError(t, err)

	messageHash := sha256.Sum256([]byte("governance action"))
	engine := NewEngine()

	contributions := signSession(t, shares, []uint32{1, 2, 3}, messageHash[:], groupKey)

	signature, err := engine.CombinePartialSignatures(messageHash[:], contributions, groupKey)
	require.NoError(t, err)
	assert.True(t, engine.Verify(signature, messageHash[:], groupKey))
}

func TestCombine_CorruptedShareFailsVerification(t *testing.T) {
	groupKey, shares, err := DealShares(2, 3)
	require.NoError(t, err)

	messageHash := sha256.Sum256([]byte("payload"))
	engine := NewEngine()

	contributions := signSession(t, shares, []uint32{1, 2}, messageHash[:], groupKey)
	contributions[0].Share[31] ^= 0x01

	signature, err := engine.CombinePartialSignatures(messageHash[:], contributions, groupKey)
	require.NoError(t, err)
	assert.False(t, engine.Verify(signature, messageHash[:], groupKey))
}

func TestCombine_MismatchedSigningSetFailsVerification(t *testing.T) {
	groupKey, shares, err := DealShares(2, 3)
	require.NoError(t, err)

	messageHash := sha256.Sum256([]byte("payload"))
	engine := NewEngine()

	nonce1, commitment1, err := GenerateNonce(1)
	require.NoError(t, err)
	nonce2, commitment2, err := GenerateNonce(2)
	require.NoError(t, err)
	_, commitment3, err := GenerateNonce(3)
	require.NoError(t, err)

	fullSet := map[uint32][]byte{1: commitment1, 2: commitment2, 3: commitment3}
	partialSet := map[uint32][]byte{1: commitment1, 2: commitment2}

	// Signer 1 saw all three commitments, signer 2 only two of them.
	z1, err := PartialSign(shares[0], nonce1, messageHash[:], fullSet, groupKey)
	require.NoError(t, err)
	z2, err := PartialSign(shares[1], nonce2, messageHash[:], partialSet, groupKey)
	require.NoError(t, err)

	signature, err := engine.CombinePartialSignatures(messageHash[:], []Contribution{
		{Index: 1, Commitment: commitment1, Share: z1},
		{Index: 2, Commitment: commitment2, Share: z2},
	}, groupKey)
	require.NoError(t, err)
	assert.False(t, engine.Verify(signature, messageHash[:], groupKey))
}

func TestCombine_DuplicateIndexRejected(t *testing.T) {
	groupKey, shares, err := DealShares(2, 3)
	require.NoError(t, err)

	messageHash := sha256.Sum256([]byte("payload"))
	engine := NewEngine()

	contributions := signSession(t, shares, []uint32{1, 2}, messageHash[:], groupKey)
	contributions[1].Index = 1

	_, err = engine.CombinePartialSignatures(messageHash[:], contributions, groupKey)
	assert.Error(t, err)
}

func TestValidateCommitment(t *testing.T) {
	engine := NewEngine()

	_, commitment, err := GenerateNonce(7)
	require.NoError(t, err)
	assert.NoError(t, engine.ValidateCommitment(commitment))

	assert.Error(t, engine.ValidateCommitment(nil))
	assert.Error(t, engine.ValidateCommitment(commitment[:CommitmentSize-1]))

	garbage := make([]byte, CommitmentSize)
	assert.Error(t, engine.ValidateCommitment(garbage))
}

func TestPartialSign_InputValidation(t *testing.T) {
	groupKey, shares, err := DealShares(2, 3)
	require.NoError(t, err)

	messageHash := sha256.Sum256([]byte("payload"))

	nonce1, commitment1, err := GenerateNonce(1)
	require.NoError(t, err)
	_, commitment2, err := GenerateNonce(2)
	require.NoError(t, err)

	set := map[uint32][]byte{1: commitment1, 2: commitment2}

	// Nonce index and share index must agree.
	_, err = PartialSign(shares[1], nonce1, messageHash[:], set, groupKey)
	assert.Error(t, err)

	// Own commitment must be part of the set.
	_, err = PartialSign(shares[0], nonce1, messageHash[:], map[uint32][]byte{2: commitment2}, groupKey)
	assert.Error(t, err)

	// A foreign commitment under this signer's index is rejected.
	_, err = PartialSign(shares[0], nonce1, messageHash[:], map[uint32][]byte{1: commitment2, 2: commitment2}, groupKey)
	assert.Error(t, err)

	// Short message hash.
	_, err = PartialSign(shares[0], nonce1, messageHash[:16], set, groupKey)
	assert.Error(t, err)
}

func TestDealShares_Validation(t *testing.T) {
	_, _, err := DealShares(0, 3)
	assert.Error(t, err)

	_, _, err = DealShares(4, 3)
	assert.Error(t, err)

	groupKey, shares, err := DealShares(1, 1)
	require.NoError(t, err)
	assert.Len(t, groupKey, GroupKeySize)
	assert.Len(t, shares, 1)
}
