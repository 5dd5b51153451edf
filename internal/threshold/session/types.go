package session

import (
	"time"

	"github.com/kashguard/go-threshold-signing/internal/threshold/storage"
)

// Status is the lifecycle state of a signing session.
type Status string

const (
	StatusPending         Status = "pending"
	StatusNonceCollection Status = "nonce_collection"
	StatusSigning         Status = "signing"
	StatusAggregating     Status = "aggregating"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusExpired         Status = "expired"
)

// Terminal reports whether the status accepts no further submissions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// ActiveStatuses returns every non-terminal status, for store queries.
func ActiveStatuses() []string {
	return []string{
		string(StatusPending),
		string(StatusNonceCollection),
		string(StatusSigning),
		string(StatusAggregating),
	}
}

// TerminalStatuses returns every terminal status, for store queries.
func TerminalStatuses() []string {
	return []string{
		string(StatusCompleted),
		string(StatusFailed),
		string(StatusExpired),
	}
}

// Session is the caller-facing view of a signing session.
type Session struct {
	SessionID      string    `json:"session_id"`
	GroupID        string    `json:"group_id"`
	MessageHash    []byte    `json:"message_hash"`
	Participants   []string  `json:"participants"`
	Threshold      int       `json:"threshold"`
	Status         Status    `json:"status"`
	CreatedBy      string    `json:"created_by,omitempty"`
	FinalSignature []byte    `json:"final_signature,omitempty"`
	FailureReason  string    `json:"failure_reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func fromRecord(record *storage.SigningSession) *Session {
	return &Session{
		SessionID:      record.SessionID,
		GroupID:        record.GroupID,
		MessageHash:    record.MessageHash,
		Participants:   record.Participants,
		Threshold:      record.Threshold,
		Status:         Status(record.Status),
		CreatedBy:      record.CreatedBy,
		FinalSignature: record.FinalSignature,
		FailureReason:  record.FailureReason,
		CreatedAt:      record.CreatedAt,
		UpdatedAt:      record.UpdatedAt,
		ExpiresAt:      record.ExpiresAt,
	}
}
