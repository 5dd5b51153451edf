package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// Constraint names the schema defines; violations are translated into the
// package sentinels. Keep in sync with the migrations.
const (
	constraintSessionPkey      = "signing_sessions_pkey"
	constraintNoncePkey        = "nonce_commitments_pkey"
	constraintShareParticipant = "partial_signatures_pkey"
	constraintUsedCommitment   = "used_commitments_pkey"
)

// PostgresStore is the authoritative Store backed by PostgreSQL. Uniqueness
// invariants live in the schema: primary keys reject duplicate participant
// submissions, and the used_commitments table reserves every commitment
// value forever, surviving session cleanup.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateSession(ctx context.Context, session *SigningSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signing_sessions (
			session_id, group_id, message_hash, participants, threshold,
			status, created_by, failure_reason, created_at, updated_at, expires_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		session.SessionID, session.GroupID, session.MessageHash,
		pq.Array(session.Participants), session.Threshold, session.Status,
		session.CreatedBy, session.FailureReason,
		session.CreatedAt, session.UpdatedAt, session.ExpiresAt, session.Version,
	)
	if isUniqueViolation(err, constraintSessionPkey) {
		return ErrSessionExists
	}
	if err != nil {
		return errors.Wrap(err, "failed to insert session")
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*SigningSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, group_id, message_hash, participants, threshold,
			status, created_by, final_signature, failure_reason,
			created_at, updated_at, expires_at, version
		FROM signing_sessions WHERE session_id = $1`, sessionID)
	return scanSession(row)
}

func (s *PostgresStore) UpdateSession(ctx context.Context, session *SigningSession) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE signing_sessions SET
			status = $1, final_signature = $2, failure_reason = $3,
			updated_at = $4, expires_at = $5, version = version + 1
		WHERE session_id = $6 AND version = $7`,
		session.Status, session.FinalSignature, session.FailureReason,
		session.UpdatedAt, session.ExpiresAt, session.SessionID, session.Version,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update session")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read update result")
	}
	if affected == 0 {
		// Distinguish a stale version from a missing row.
		var exists bool
		err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM signing_sessions WHERE session_id = $1)`,
			session.SessionID).Scan(&exists)
		if err != nil {
			return errors.Wrap(err, "failed to check session existence")
		}
		if !exists {
			return ErrSessionNotFound
		}
		return ErrVersionConflict
	}

	session.Version++
	return nil
}

func (s *PostgresStore) ListExpiredSessions(ctx context.Context, now time.Time, statuses []string) ([]*SigningSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, group_id, message_hash, participants, threshold,
			status, created_by, final_signature, failure_reason,
			created_at, updated_at, expires_at, version
		FROM signing_sessions
		WHERE status = ANY($1) AND expires_at < $2`,
		pq.Array(statuses), now)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list expired sessions")
	}
	defer rows.Close()

	var sessions []*SigningSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, errors.Wrap(rows.Err(), "failed to iterate expired sessions")
}

func (s *PostgresStore) DeleteSessionsBefore(ctx context.Context, cutoff time.Time, statuses []string) (int, error) {
	// Child rows go via ON DELETE CASCADE; used_commitments is untouched so
	// the values stay reserved.
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM signing_sessions
		WHERE status = ANY($1) AND updated_at < $2`,
		pq.Array(statuses), cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete old sessions")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read delete result")
	}
	return int(affected), nil
}

func (s *PostgresStore) InsertNonceCommitment(ctx context.Context, commitment *NonceCommitment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO nonce_commitments (session_id, participant_id, commitment, used, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		commitment.SessionID, commitment.ParticipantID, commitment.Commitment,
		commitment.Used, commitment.CreatedAt,
	)
	if isUniqueViolation(err, constraintNoncePkey) {
		return ErrDuplicateParticipant
	}
	if err != nil {
		return errors.Wrap(err, "failed to insert nonce commitment")
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO used_commitments (commitment, first_seen_at) VALUES ($1, $2)`,
		commitment.Commitment, commitment.CreatedAt,
	)
	if isUniqueViolation(err, constraintUsedCommitment) {
		return ErrCommitmentReused
	}
	if err != nil {
		return errors.Wrap(err, "failed to reserve commitment value")
	}

	return errors.Wrap(tx.Commit(), "failed to commit nonce commitment")
}

func (s *PostgresStore) GetNonceCommitment(ctx context.Context, sessionID, participantID string) (*NonceCommitment, error) {
	commitment := &NonceCommitment{}
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, participant_id, commitment, used, created_at
		FROM nonce_commitments WHERE session_id = $1 AND participant_id = $2`,
		sessionID, participantID,
	).Scan(&commitment.SessionID, &commitment.ParticipantID, &commitment.Commitment,
		&commitment.Used, &commitment.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNonceNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get nonce commitment")
	}
	return commitment, nil
}

func (s *PostgresStore) ListNonceCommitments(ctx context.Context, sessionID string) ([]*NonceCommitment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, participant_id, commitment, used, created_at
		FROM nonce_commitments WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list nonce commitments")
	}
	defer rows.Close()

	var commitments []*NonceCommitment
	for rows.Next() {
		commitment := &NonceCommitment{}
		if err := rows.Scan(&commitment.SessionID, &commitment.ParticipantID,
			&commitment.Commitment, &commitment.Used, &commitment.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan nonce commitment")
		}
		commitments = append(commitments, commitment)
	}
	return commitments, errors.Wrap(rows.Err(), "failed to iterate nonce commitments")
}

func (s *PostgresStore) MarkNonceCommitmentsUsed(ctx context.Context, sessionID string, participantIDs []string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE nonce_commitments SET used = TRUE
		WHERE session_id = $1 AND participant_id = ANY($2)`,
		sessionID, pq.Array(participantIDs))
	return errors.Wrap(err, "failed to mark nonce commitments used")
}

func (s *PostgresStore) InsertPartialSignature(ctx context.Context, share *PartialSignature) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO partial_signatures (session_id, participant_id, share, created_at)
		VALUES ($1, $2, $3, $4)`,
		share.SessionID, share.ParticipantID, share.Share, share.CreatedAt,
	)
	if isUniqueViolation(err, constraintShareParticipant) {
		return ErrDuplicateParticipant
	}
	if err != nil {
		return errors.Wrap(err, "failed to insert partial signature")
	}
	return nil
}

func (s *PostgresStore) ListPartialSignatures(ctx context.Context, sessionID string) ([]*PartialSignature, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, participant_id, share, created_at
		FROM partial_signatures WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list partial signatures")
	}
	defer rows.Close()

	var shares []*PartialSignature
	for rows.Next() {
		share := &PartialSignature{}
		if err := rows.Scan(&share.SessionID, &share.ParticipantID,
			&share.Share, &share.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan partial signature")
		}
		shares = append(shares, share)
	}
	return shares, errors.Wrap(rows.Err(), "failed to iterate partial signatures")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*SigningSession, error) {
	session := &SigningSession{}
	err := row.Scan(
		&session.SessionID, &session.GroupID, &session.MessageHash,
		pq.Array(&session.Participants), &session.Threshold,
		&session.Status, &session.CreatedBy, &session.FinalSignature,
		&session.FailureReason, &session.CreatedAt, &session.UpdatedAt,
		&session.ExpiresAt, &session.Version,
	)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan session")
	}
	return session, nil
}

func isUniqueViolation(err error, constraint string) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == "23505" && pqErr.Constraint == constraint
}
