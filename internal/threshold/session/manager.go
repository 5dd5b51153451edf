package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/kashguard/go-threshold-signing/internal/threshold/notify"
	"github.com/kashguard/go-threshold-signing/internal/threshold/protocol"
	"github.com/kashguard/go-threshold-signing/internal/threshold/storage"
)

const (
	// DefaultSessionTTL applies when a create request carries no TTL.
	DefaultSessionTTL = 5 * time.Minute

	// How long completed and in-flight sessions stay readable in the cache.
	sessionCacheTTL = time.Hour

	aggregationLockTTL = 30 * time.Second
	maxUpdateRetries   = 3
)

// errSkipUpdate aborts an optimistic update without error: the session is
// already in the desired state.
var errSkipUpdate = errors.New("no update required")

// GroupKeyResolver maps a signing group to its x-only public key.
type GroupKeyResolver interface {
	GroupPublicKey(ctx context.Context, groupID string) ([]byte, error)
}

// StaticGroupKeys is a fixed groupID -> public key table, for deployments
// whose federations are configured up front.
type StaticGroupKeys map[string][]byte

func (k StaticGroupKeys) GroupPublicKey(_ context.Context, groupID string) ([]byte, error) {
	key, ok := k[groupID]
	if !ok {
		return nil, errors.Errorf("no public key configured for group %s", groupID)
	}
	return key, nil
}

// Manager orchestrates the signing session lifecycle: creation, the two
// submission rounds, aggregation and the time-based sweeps. It owns no
// crypto and no persistence itself; those live in the protocol engine and
// the Store.
type Manager struct {
	store     storage.Store
	cache     storage.Cache
	engine    *protocol.Engine
	keys      GroupKeyResolver
	notifier  notify.Notifier
	publisher notify.SignaturePublisher

	defaultTTL time.Duration
	timeNow    func() time.Time
}

// NewManager wires a manager. cache may be nil for single-instance
// deployments; notifier and publisher may be nil when no fan-out is wanted.
func NewManager(store storage.Store, cache storage.Cache, engine *protocol.Engine, keys GroupKeyResolver, notifier notify.Notifier, publisher notify.SignaturePublisher, defaultTTL time.Duration) *Manager {
	if defaultTTL <= 0 {
		defaultTTL = DefaultSessionTTL
	}
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	ensureMetrics()
	return &Manager{
		store:      store,
		cache:      cache,
		engine:     engine,
		keys:       keys,
		notifier:   notifier,
		publisher:  publisher,
		defaultTTL: defaultTTL,
		timeNow:    time.Now,
	}
}

// CreateParams are the inputs for a new signing session.
type CreateParams struct {
	GroupID      string
	MessageHash  []byte
	Participants []string
	Threshold    int
	CreatedBy    string
	TTL          time.Duration
}

// CreateSession registers a new signing session in the pending state.
func (m *Manager) CreateSession(ctx context.Context, params CreateParams) (*Session, error) {
	if params.GroupID == "" {
		return nil, errors.Wrap(ErrInvalidParameters, "group id is required")
	}
	if len(params.MessageHash) != protocol.MessageHashSize {
		return nil, errors.Wrapf(ErrInvalidParameters, "message hash must be %d bytes", protocol.MessageHashSize)
	}
	if len(params.Participants) == 0 {
		return nil, errors.Wrap(ErrInvalidParameters, "participant list is empty")
	}
	seen := make(map[string]struct{}, len(params.Participants))
	for _, participant := range params.Participants {
		if participant == "" {
			return nil, errors.Wrap(ErrInvalidParameters, "participant id is empty")
		}
		if _, ok := seen[participant]; ok {
			return nil, errors.Wrapf(ErrInvalidParameters, "duplicate participant %s", participant)
		}
		seen[participant] = struct{}{}
	}
	if params.Threshold < 1 || params.Threshold > len(params.Participants) {
		return nil, errors.Wrapf(ErrInvalidParameters, "threshold %d out of range for %d participants", params.Threshold, len(params.Participants))
	}
	if _, err := m.keys.GroupPublicKey(ctx, params.GroupID); err != nil {
		return nil, errors.Wrapf(ErrInvalidParameters, "unknown group %s", params.GroupID)
	}

	ttl := params.TTL
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	now := m.timeNow()
	record := &storage.SigningSession{
		SessionID:    "session-" + uuid.New().String(),
		GroupID:      params.GroupID,
		MessageHash:  params.MessageHash,
		Participants: params.Participants,
		Threshold:    params.Threshold,
		Status:       string(StatusPending),
		CreatedBy:    params.CreatedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		Version:      1,
	}

	if err := m.store.CreateSession(ctx, record); err != nil {
		return nil, errors.Wrap(err, "failed to save session")
	}
	m.refreshCache(ctx, record)

	m.notifyEvent(ctx, notify.Event{
		Type:         notify.EventSessionCreated,
		SessionID:    record.SessionID,
		GroupID:      record.GroupID,
		Participants: record.Participants,
		OccurredAt:   now,
	})
	sessionsCreated.WithLabelValues(record.GroupID).Inc()

	log.Info().
		Str("session_id", record.SessionID).
		Str("group_id", record.GroupID).
		Int("threshold", record.Threshold).
		Int("participants", len(record.Participants)).
		Time("expires_at", record.ExpiresAt).
		Msg("signing session created")

	return fromRecord(record), nil
}

// GetSession returns the current state of a session. Reads prefer the cache
// and fall back to the store.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	if m.cache != nil {
		if record, err := m.cache.GetSession(ctx, sessionID); err == nil {
			return fromRecord(record), nil
		}
	}

	record, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return fromRecord(record), nil
}

// SubmitNonceCommitment records a participant's round 1 commitment. The
// first accepted commitment moves the session out of pending; reaching the
// threshold is only a readiness signal, collection stays open until the
// signing round starts.
func (m *Manager) SubmitNonceCommitment(ctx context.Context, sessionID, participantID string, commitment []byte) error {
	if participantID == "" {
		return errors.Wrap(ErrInvalidParameters, "participant id is required")
	}

	record, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return translateStoreErr(err)
	}
	if err := m.acceptsSubmissions(record); err != nil {
		return err
	}
	if _, ok := participantIndex(record.Participants, participantID); !ok {
		return errors.Wrapf(ErrUnknownParticipant, "participant %s", participantID)
	}
	if err := m.engine.ValidateCommitment(commitment); err != nil {
		return errors.Wrapf(ErrInvalidParameters, "commitment rejected: %v", err)
	}

	err = m.store.InsertNonceCommitment(ctx, &storage.NonceCommitment{
		SessionID:     sessionID,
		ParticipantID: participantID,
		Commitment:    commitment,
		CreatedAt:     m.timeNow(),
	})
	switch {
	case errors.Is(err, storage.ErrDuplicateParticipant):
		return errors.Wrapf(ErrDuplicateSubmission, "participant %s already committed a nonce", participantID)
	case errors.Is(err, storage.ErrCommitmentReused):
		nonceReuseDetected.Inc()
		log.Warn().
			Str("session_id", sessionID).
			Str("participant_id", participantID).
			Msg("nonce commitment reuse detected, submission rejected")
		return errors.Wrapf(ErrNonceReuseDetected, "participant %s", participantID)
	case err != nil:
		return errors.Wrap(err, "failed to save nonce commitment")
	}

	if Status(record.Status) == StatusPending {
		_, _, err := m.updateWithRetry(ctx, sessionID, func(current *storage.SigningSession) error {
			if Status(current.Status) != StatusPending {
				return errSkipUpdate
			}
			current.Status = string(StatusNonceCollection)
			return nil
		})
		if err != nil {
			return errors.Wrap(err, "failed to advance session to nonce collection")
		}
	}

	commitments, err := m.store.ListNonceCommitments(ctx, sessionID)
	if err != nil {
		return errors.Wrap(err, "failed to count nonce commitments")
	}
	if len(commitments) >= record.Threshold {
		log.Info().
			Str("session_id", sessionID).
			Int("commitments", len(commitments)).
			Int("threshold", record.Threshold).
			Msg("nonce threshold reached, session ready for signing")
	}
	return nil
}

// SubmitPartialSignature records a participant's round 2 signature share.
// The first accepted share moves the session into the signing state.
func (m *Manager) SubmitPartialSignature(ctx context.Context, sessionID, participantID string, share []byte) error {
	if participantID == "" {
		return errors.Wrap(ErrInvalidParameters, "participant id is required")
	}
	if len(share) != protocol.ShareSize {
		return errors.Wrapf(ErrInvalidParameters, "partial signature must be %d bytes", protocol.ShareSize)
	}

	record, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return translateStoreErr(err)
	}
	if err := m.acceptsSubmissions(record); err != nil {
		return err
	}
	if _, ok := participantIndex(record.Participants, participantID); !ok {
		return errors.Wrapf(ErrUnknownParticipant, "participant %s", participantID)
	}

	if _, err := m.store.GetNonceCommitment(ctx, sessionID, participantID); err != nil {
		if errors.Is(err, storage.ErrNonceNotFound) {
			return errors.Wrapf(ErrMissingNonceCommitment, "participant %s", participantID)
		}
		return errors.Wrap(err, "failed to load nonce commitment")
	}

	err = m.store.InsertPartialSignature(ctx, &storage.PartialSignature{
		SessionID:     sessionID,
		ParticipantID: participantID,
		Share:         share,
		CreatedAt:     m.timeNow(),
	})
	if errors.Is(err, storage.ErrDuplicateParticipant) {
		return errors.Wrapf(ErrDuplicateSubmission, "participant %s already submitted a partial signature", participantID)
	}
	if err != nil {
		return errors.Wrap(err, "failed to save partial signature")
	}

	_, _, err = m.updateWithRetry(ctx, sessionID, func(current *storage.SigningSession) error {
		switch Status(current.Status) {
		case StatusPending, StatusNonceCollection:
			current.Status = string(StatusSigning)
			return nil
		default:
			return errSkipUpdate
		}
	})
	if err != nil {
		return errors.Wrap(err, "failed to advance session to signing")
	}
	return nil
}

// AggregateSignatures combines the recorded partial signatures into the
// final signature, verifies it against the group key and completes the
// session. A verification failure is permanent: the session is failed and
// must be retried from scratch with fresh nonces.
func (m *Manager) AggregateSignatures(ctx context.Context, sessionID string) (*Session, error) {
	record, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	if err := m.acceptsSubmissions(record); err != nil {
		return nil, err
	}
	if Status(record.Status) == StatusAggregating {
		return nil, errors.Wrapf(ErrAggregationInProgress, "session %s", sessionID)
	}

	shares, err := m.store.ListPartialSignatures(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load partial signatures")
	}
	if len(shares) < record.Threshold {
		return nil, errors.Wrapf(ErrInsufficientContributions, "have %d of %d partial signatures", len(shares), record.Threshold)
	}

	groupKey, err := m.keys.GroupPublicKey(ctx, record.GroupID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve public key for group %s", record.GroupID)
	}

	if m.cache != nil {
		acquired, err := m.cache.AcquireLock(ctx, "aggregate:"+sessionID, aggregationLockTTL)
		if err != nil {
			return nil, errors.Wrap(err, "failed to acquire aggregation lock")
		}
		if !acquired {
			return nil, errors.Wrapf(ErrAggregationInProgress, "session %s", sessionID)
		}
		defer func() {
			if err := m.cache.ReleaseLock(ctx, "aggregate:"+sessionID); err != nil {
				log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to release aggregation lock")
			}
		}()
	}

	record, _, err = m.updateWithRetry(ctx, sessionID, func(current *storage.SigningSession) error {
		switch Status(current.Status) {
		case StatusNonceCollection, StatusSigning:
			current.Status = string(StatusAggregating)
			return nil
		case StatusAggregating:
			return errors.Wrapf(ErrAggregationInProgress, "session %s", sessionID)
		default:
			return errors.Wrapf(ErrSessionTerminal, "session %s is %s", sessionID, current.Status)
		}
	})
	if err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			return nil, errors.Wrapf(ErrAggregationInProgress, "session %s", sessionID)
		}
		return nil, err
	}

	contributions, contributors, err := m.collectContributions(ctx, record, shares)
	if err != nil {
		return nil, err
	}

	signature, err := m.engine.CombinePartialSignatures(record.MessageHash, contributions, groupKey)
	if err != nil {
		return nil, m.failAggregation(ctx, record, errors.Wrap(err, "failed to combine partial signatures").Error())
	}
	if !m.engine.Verify(signature, record.MessageHash, groupKey) {
		return nil, m.failAggregation(ctx, record, "aggregated signature failed verification against the group key")
	}

	now := m.timeNow()
	record, _, err = m.updateWithRetry(ctx, sessionID, func(current *storage.SigningSession) error {
		current.Status = string(StatusCompleted)
		current.FinalSignature = signature
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to complete session")
	}

	if err := m.store.MarkNonceCommitmentsUsed(ctx, sessionID, contributors); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to mark nonce commitments consumed")
	}

	m.notifyEvent(ctx, notify.Event{
		Type:         notify.EventSessionCompleted,
		SessionID:    record.SessionID,
		GroupID:      record.GroupID,
		Participants: contributors,
		OccurredAt:   now,
	})
	if err := m.publisher.PublishSignedMessage(ctx, record.GroupID, record.MessageHash, signature); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to publish signed message")
	}
	sessionsCompleted.WithLabelValues(record.GroupID).Inc()
	observeSessionDuration(record.CreatedAt, now)

	log.Info().
		Str("session_id", record.SessionID).
		Str("group_id", record.GroupID).
		Int("contributors", len(contributors)).
		Msg("signing session completed")

	return fromRecord(record), nil
}

// FailSession marks a session failed with the given reason. Failing an
// already failed session is a no-op.
func (m *Manager) FailSession(ctx context.Context, sessionID, reason string) error {
	record, updated, err := m.updateWithRetry(ctx, sessionID, func(current *storage.SigningSession) error {
		switch Status(current.Status) {
		case StatusFailed:
			return errSkipUpdate
		case StatusCompleted, StatusExpired:
			return errors.Wrapf(ErrSessionTerminal, "session %s is %s", sessionID, current.Status)
		}
		current.Status = string(StatusFailed)
		current.FailureReason = reason
		return nil
	})
	if err != nil {
		return err
	}
	if updated {
		m.notifyEvent(ctx, notify.Event{
			Type:       notify.EventSessionFailed,
			SessionID:  record.SessionID,
			GroupID:    record.GroupID,
			Reason:     reason,
			OccurredAt: m.timeNow(),
		})
		sessionsFailed.WithLabelValues(record.GroupID).Inc()
		log.Info().Str("session_id", sessionID).Str("reason", reason).Msg("signing session failed")
	}
	return nil
}

// ExpireOldSessions transitions every active session past its deadline to
// expired and returns how many were transitioned.
func (m *Manager) ExpireOldSessions(ctx context.Context) (int, error) {
	stale, err := m.store.ListExpiredSessions(ctx, m.timeNow(), ActiveStatuses())
	if err != nil {
		return 0, errors.Wrap(err, "failed to list expired sessions")
	}

	expired := 0
	for _, record := range stale {
		_, updated, err := m.updateWithRetry(ctx, record.SessionID, func(current *storage.SigningSession) error {
			if Status(current.Status).Terminal() {
				return errSkipUpdate
			}
			current.Status = string(StatusExpired)
			return nil
		})
		if err != nil {
			log.Warn().Err(err).Str("session_id", record.SessionID).Msg("failed to expire session")
			continue
		}
		if !updated {
			continue
		}
		expired++
		m.notifyEvent(ctx, notify.Event{
			Type:       notify.EventSessionExpired,
			SessionID:  record.SessionID,
			GroupID:    record.GroupID,
			OccurredAt: m.timeNow(),
		})
		sessionsExpired.WithLabelValues(record.GroupID).Inc()
	}
	return expired, nil
}

// CleanupOldSessions deletes terminal sessions last touched before the
// retention window, with their commitments and shares. Commitment values
// stay reserved in the store, so cleanup never reopens the reuse window.
func (m *Manager) CleanupOldSessions(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, errors.Wrap(ErrInvalidParameters, "retention must be positive")
	}

	cutoff := m.timeNow().Add(-retention)
	deleted, err := m.store.DeleteSessionsBefore(ctx, cutoff, TerminalStatuses())
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete old sessions")
	}
	if deleted > 0 {
		log.Info().Int("deleted", deleted).Time("cutoff", cutoff).Msg("cleaned up old signing sessions")
	}
	return deleted, nil
}

// acceptsSubmissions rejects terminal sessions and, independently of the
// stored status, sessions past their deadline.
func (m *Manager) acceptsSubmissions(record *storage.SigningSession) error {
	status := Status(record.Status)
	if status == StatusExpired {
		return errors.Wrapf(ErrSessionExpired, "session %s", record.SessionID)
	}
	if status.Terminal() {
		return errors.Wrapf(ErrSessionTerminal, "session %s is %s", record.SessionID, record.Status)
	}
	if m.timeNow().After(record.ExpiresAt) {
		return errors.Wrapf(ErrSessionExpired, "session %s passed its deadline", record.SessionID)
	}
	return nil
}

// updateWithRetry applies an optimistic read-modify-write with a bounded
// number of attempts. apply may return errSkipUpdate to report the session
// already being in the desired state; updated tells the caller whether a
// write happened.
func (m *Manager) updateWithRetry(ctx context.Context, sessionID string, apply func(*storage.SigningSession) error) (record *storage.SigningSession, updated bool, err error) {
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		record, err = m.store.GetSession(ctx, sessionID)
		if err != nil {
			return nil, false, translateStoreErr(err)
		}

		if err := apply(record); err != nil {
			if errors.Is(err, errSkipUpdate) {
				return record, false, nil
			}
			return nil, false, err
		}

		record.UpdatedAt = m.timeNow()
		err = m.store.UpdateSession(ctx, record)
		if err == nil {
			m.refreshCache(ctx, record)
			return record, true, nil
		}
		if !errors.Is(err, storage.ErrVersionConflict) {
			return nil, false, errors.Wrap(err, "failed to update session")
		}
	}
	return nil, false, errors.Wrapf(storage.ErrVersionConflict, "session %s", sessionID)
}

// collectContributions joins the stored shares with their commitments and
// assigns each participant its 1-based signer index from the participant
// list.
func (m *Manager) collectContributions(ctx context.Context, record *storage.SigningSession, shares []*storage.PartialSignature) ([]protocol.Contribution, []string, error) {
	commitments, err := m.store.ListNonceCommitments(ctx, record.SessionID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load nonce commitments")
	}
	commitmentByParticipant := make(map[string][]byte, len(commitments))
	for _, commitment := range commitments {
		commitmentByParticipant[commitment.ParticipantID] = commitment.Commitment
	}

	contributions := make([]protocol.Contribution, 0, len(shares))
	contributors := make([]string, 0, len(shares))
	for _, share := range shares {
		index, ok := participantIndex(record.Participants, share.ParticipantID)
		if !ok {
			return nil, nil, errors.Errorf("stored share from unknown participant %s", share.ParticipantID)
		}
		commitment, ok := commitmentByParticipant[share.ParticipantID]
		if !ok {
			return nil, nil, errors.Wrapf(ErrMissingNonceCommitment, "participant %s", share.ParticipantID)
		}
		contributions = append(contributions, protocol.Contribution{
			Index:      index,
			Commitment: commitment,
			Share:      share.Share,
		})
		contributors = append(contributors, share.ParticipantID)
	}
	return contributions, contributors, nil
}

// failAggregation fails the session with the given reason and returns the
// taxonomy error for the caller.
func (m *Manager) failAggregation(ctx context.Context, record *storage.SigningSession, reason string) error {
	_, _, err := m.updateWithRetry(ctx, record.SessionID, func(current *storage.SigningSession) error {
		if Status(current.Status).Terminal() {
			return errSkipUpdate
		}
		current.Status = string(StatusFailed)
		current.FailureReason = reason
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("session_id", record.SessionID).Msg("failed to mark session failed after aggregation error")
	}

	m.notifyEvent(ctx, notify.Event{
		Type:       notify.EventSessionFailed,
		SessionID:  record.SessionID,
		GroupID:    record.GroupID,
		Reason:     reason,
		OccurredAt: m.timeNow(),
	})
	sessionsFailed.WithLabelValues(record.GroupID).Inc()

	log.Warn().
		Str("session_id", record.SessionID).
		Str("reason", reason).
		Msg("aggregation failed, session marked failed")

	return errors.Wrap(ErrAggregationFailed, reason)
}

func (m *Manager) refreshCache(ctx context.Context, record *storage.SigningSession) {
	if m.cache == nil {
		return
	}
	if err := m.cache.SaveSession(ctx, record, sessionCacheTTL); err != nil {
		log.Warn().Err(err).Str("session_id", record.SessionID).Msg("failed to refresh session cache")
	}
}

func (m *Manager) notifyEvent(ctx context.Context, event notify.Event) {
	if err := m.notifier.NotifySessionEvent(ctx, event); err != nil {
		log.Warn().Err(err).Str("session_id", event.SessionID).Msg("failed to deliver session event")
	}
}

func translateStoreErr(err error) error {
	if errors.Is(err, storage.ErrSessionNotFound) {
		return ErrSessionNotFound
	}
	return errors.Wrap(err, "storage error")
}

// participantIndex returns the participant's 1-based signer index, derived
// from its position in the session's participant list.
func participantIndex(participants []string, participantID string) (uint32, bool) {
	for i, participant := range participants {
		if participant == participantID {
			return uint32(i + 1), true
		}
	}
	return 0, false
}
