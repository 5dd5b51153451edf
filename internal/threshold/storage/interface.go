package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by Store implementations. Callers match them with
// errors.Is and translate them into the service-level taxonomy.
var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionExists        = errors.New("session already exists")
	ErrNonceNotFound        = errors.New("nonce commitment not found")
	ErrDuplicateParticipant = errors.New("participant already submitted for this session")
	ErrCommitmentReused     = errors.New("nonce commitment value already recorded")
	ErrVersionConflict      = errors.New("session was modified concurrently")
)

// SigningSession is the persisted state of one signing session.
type SigningSession struct {
	SessionID      string
	GroupID        string
	MessageHash    []byte
	Participants   []string
	Threshold      int
	Status         string
	CreatedBy      string
	FinalSignature []byte
	FailureReason  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExpiresAt      time.Time

	// Version implements optimistic concurrency: UpdateSession only applies
	// when the stored version matches, then increments it.
	Version int64
}

// NonceCommitment is one participant's round 1 commitment for a session.
type NonceCommitment struct {
	SessionID     string
	ParticipantID string
	Commitment    []byte
	Used          bool
	CreatedAt     time.Time
}

// PartialSignature is one participant's round 2 signature share.
type PartialSignature struct {
	SessionID     string
	ParticipantID string
	Share         []byte
	CreatedAt     time.Time
}

// Store is the authoritative persistence layer for sessions, nonce
// commitments and partial signatures. Implementations must enforce the
// uniqueness constraints surfaced by ErrDuplicateParticipant and
// ErrCommitmentReused; the commitment value is unique across ALL sessions,
// ever, including consumed and expired ones.
type Store interface {
	CreateSession(ctx context.Context, session *SigningSession) error
	GetSession(ctx context.Context, sessionID string) (*SigningSession, error)

	// UpdateSession applies the record if its Version matches the stored one
	// and increments Version on the passed record. Returns
	// ErrVersionConflict when another writer got there first.
	UpdateSession(ctx context.Context, session *SigningSession) error

	// ListExpiredSessions returns sessions in one of the given statuses whose
	// expires_at is before now.
	ListExpiredSessions(ctx context.Context, now time.Time, statuses []string) ([]*SigningSession, error)

	// DeleteSessionsBefore removes sessions in one of the given statuses last
	// updated before cutoff, along with their commitments and shares, and
	// returns the number of sessions removed. Commitment values stay
	// reserved even after deletion.
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time, statuses []string) (int, error)

	InsertNonceCommitment(ctx context.Context, commitment *NonceCommitment) error
	GetNonceCommitment(ctx context.Context, sessionID, participantID string) (*NonceCommitment, error)
	ListNonceCommitments(ctx context.Context, sessionID string) ([]*NonceCommitment, error)
	MarkNonceCommitmentsUsed(ctx context.Context, sessionID string, participantIDs []string) error

	InsertPartialSignature(ctx context.Context, share *PartialSignature) error
	ListPartialSignatures(ctx context.Context, sessionID string) ([]*PartialSignature, error)
}

// Cache is the non-authoritative fast path in front of a Store, plus the
// distributed lock used to serialize aggregation across instances.
type Cache interface {
	SaveSession(ctx context.Context, session *SigningSession, ttl time.Duration) error
	GetSession(ctx context.Context, sessionID string) (*SigningSession, error)
	DeleteSession(ctx context.Context, sessionID string) error

	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}
