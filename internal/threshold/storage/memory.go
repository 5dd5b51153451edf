package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-node deployments.
// All methods are safe for concurrent use.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*SigningSession
	nonces   map[string]map[string]*NonceCommitment
	shares   map[string]map[string]*PartialSignature

	// usedCommitments reserves every commitment value ever inserted, keyed
	// by the raw bytes. Entries survive session deletion.
	usedCommitments map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:        make(map[string]*SigningSession),
		nonces:          make(map[string]map[string]*NonceCommitment),
		shares:          make(map[string]map[string]*PartialSignature),
		usedCommitments: make(map[string]struct{}),
	}
}

func (s *MemoryStore) CreateSession(_ context.Context, session *SigningSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.SessionID]; ok {
		return ErrSessionExists
	}
	s.sessions[session.SessionID] = cloneSession(session)
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (*SigningSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cloneSession(session), nil
}

func (s *MemoryStore) UpdateSession(_ context.Context, session *SigningSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[session.SessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if stored.Version != session.Version {
		return ErrVersionConflict
	}

	session.Version++
	s.sessions[session.SessionID] = cloneSession(session)
	return nil
}

func (s *MemoryStore) ListExpiredSessions(_ context.Context, now time.Time, statuses []string) ([]*SigningSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*SigningSession
	for _, session := range s.sessions {
		if containsString(statuses, session.Status) && session.ExpiresAt.Before(now) {
			expired = append(expired, cloneSession(session))
		}
	}
	return expired, nil
}

func (s *MemoryStore) DeleteSessionsBefore(_ context.Context, cutoff time.Time, statuses []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, session := range s.sessions {
		if containsString(statuses, session.Status) && session.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			delete(s.nonces, id)
			delete(s.shares, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) InsertNonceCommitment(_ context.Context, commitment *NonceCommitment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessionNonces, ok := s.nonces[commitment.SessionID]
	if !ok {
		sessionNonces = make(map[string]*NonceCommitment)
		s.nonces[commitment.SessionID] = sessionNonces
	}
	if _, ok := sessionNonces[commitment.ParticipantID]; ok {
		return ErrDuplicateParticipant
	}
	if _, ok := s.usedCommitments[string(commitment.Commitment)]; ok {
		return ErrCommitmentReused
	}

	s.usedCommitments[string(commitment.Commitment)] = struct{}{}
	sessionNonces[commitment.ParticipantID] = cloneNonce(commitment)
	return nil
}

func (s *MemoryStore) GetNonceCommitment(_ context.Context, sessionID, participantID string) (*NonceCommitment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	commitment, ok := s.nonces[sessionID][participantID]
	if !ok {
		return nil, ErrNonceNotFound
	}
	return cloneNonce(commitment), nil
}

func (s *MemoryStore) ListNonceCommitments(_ context.Context, sessionID string) ([]*NonceCommitment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	commitments := make([]*NonceCommitment, 0, len(s.nonces[sessionID]))
	for _, commitment := range s.nonces[sessionID] {
		commitments = append(commitments, cloneNonce(commitment))
	}
	return commitments, nil
}

func (s *MemoryStore) MarkNonceCommitmentsUsed(_ context.Context, sessionID string, participantIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, participantID := range participantIDs {
		if commitment, ok := s.nonces[sessionID][participantID]; ok {
			commitment.Used = true
		}
	}
	return nil
}

func (s *MemoryStore) InsertPartialSignature(_ context.Context, share *PartialSignature) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessionShares, ok := s.shares[share.SessionID]
	if !ok {
		sessionShares = make(map[string]*PartialSignature)
		s.shares[share.SessionID] = sessionShares
	}
	if _, ok := sessionShares[share.ParticipantID]; ok {
		return ErrDuplicateParticipant
	}

	sessionShares[share.ParticipantID] = cloneShare(share)
	return nil
}

func (s *MemoryStore) ListPartialSignatures(_ context.Context, sessionID string) ([]*PartialSignature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shares := make([]*PartialSignature, 0, len(s.shares[sessionID]))
	for _, share := range s.shares[sessionID] {
		shares = append(shares, cloneShare(share))
	}
	return shares, nil
}

func cloneSession(session *SigningSession) *SigningSession {
	clone := *session
	clone.MessageHash = append([]byte(nil), session.MessageHash...)
	clone.Participants = append([]string(nil), session.Participants...)
	clone.FinalSignature = append([]byte(nil), session.FinalSignature...)
	return &clone
}

func cloneNonce(commitment *NonceCommitment) *NonceCommitment {
	clone := *commitment
	clone.Commitment = append([]byte(nil), commitment.Commitment...)
	return &clone
}

func cloneShare(share *PartialSignature) *PartialSignature {
	clone := *share
	clone.Share = append([]byte(nil), share.Share...)
	return &clone
}

func containsString(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
