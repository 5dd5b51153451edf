package protocol

// Wire sizes for the threshold Schnorr scheme (secp256k1, BIP-340 output).
const (
	// CommitmentSize is the size of a nonce commitment: two compressed
	// points, hiding followed by binding.
	CommitmentSize = 66

	// ShareSize is the size of a partial signature scalar.
	ShareSize = 32

	// SignatureSize is the size of the final aggregate signature (Rx || z).
	SignatureSize = 64

	// GroupKeySize is the size of the x-only group public key.
	GroupKeySize = 32

	// MessageHashSize is the required size of the message digest being signed.
	MessageHashSize = 32
)

// Contribution pairs one participant's round 1 commitment with their round 2
// partial signature. Index is the participant's 1-based signing index.
type Contribution struct {
	Index      uint32
	Commitment []byte
	Share      []byte
}
