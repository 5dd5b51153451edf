package session

import "errors"

// Sentinel errors returned by the Manager. Callers discriminate with
// errors.Is; the wrapped message carries the detail.
var (
	// ErrInvalidParameters rejects malformed input before any state changes.
	ErrInvalidParameters = errors.New("invalid parameters")

	// ErrSessionNotFound means the session identifier is unknown.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired means the session's deadline has passed; no further
	// submissions are accepted.
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionTerminal means the session already completed or failed.
	ErrSessionTerminal = errors.New("session is in a terminal state")

	// ErrUnknownParticipant means the submitter is not in the session's
	// participant list.
	ErrUnknownParticipant = errors.New("participant is not part of this session")

	// ErrDuplicateSubmission means the participant already submitted this
	// kind of material for the session.
	ErrDuplicateSubmission = errors.New("participant already submitted for this session")

	// ErrNonceReuseDetected means the commitment value was already recorded,
	// in this session or any other. Accepting it would risk key exposure.
	ErrNonceReuseDetected = errors.New("nonce commitment value has been used before")

	// ErrMissingNonceCommitment means a partial signature arrived from a
	// participant that never committed a nonce.
	ErrMissingNonceCommitment = errors.New("no nonce commitment on record for participant")

	// ErrInsufficientContributions means aggregation was requested before
	// the threshold number of partial signatures arrived.
	ErrInsufficientContributions = errors.New("not enough partial signatures to aggregate")

	// ErrAggregationInProgress means another aggregation attempt for the
	// session is already running.
	ErrAggregationInProgress = errors.New("aggregation already in progress")

	// ErrAggregationFailed means the combined signature did not verify
	// against the group public key. The session is failed permanently.
	ErrAggregationFailed = errors.New("aggregated signature failed verification")
)
