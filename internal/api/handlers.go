package api

import (
	"encoding/hex"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/kashguard/go-threshold-signing/internal/threshold/session"
)

type createSessionRequest struct {
	GroupID      string   `json:"group_id"`
	MessageHash  string   `json:"message_hash"`
	Participants []string `json:"participants"`
	Threshold    int      `json:"threshold"`
	CreatedBy    string   `json:"created_by"`
	TTLSeconds   int      `json:"ttl_seconds"`
}

type submitNonceRequest struct {
	ParticipantID string `json:"participant_id"`
	Commitment    string `json:"commitment"`
}

type submitPartialSignatureRequest struct {
	ParticipantID    string `json:"participant_id"`
	PartialSignature string `json:"partial_signature"`
}

type failSessionRequest struct {
	Reason string `json:"reason"`
}

type sessionResponse struct {
	SessionID      string    `json:"session_id"`
	GroupID        string    `json:"group_id"`
	MessageHash    string    `json:"message_hash"`
	Participants   []string  `json:"participants"`
	Threshold      int       `json:"threshold"`
	Status         string    `json:"status"`
	CreatedBy      string    `json:"created_by,omitempty"`
	FinalSignature string    `json:"final_signature,omitempty"`
	FailureReason  string    `json:"failure_reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func toSessionResponse(s *session.Session) *sessionResponse {
	resp := &sessionResponse{
		SessionID:     s.SessionID,
		GroupID:       s.GroupID,
		MessageHash:   hex.EncodeToString(s.MessageHash),
		Participants:  s.Participants,
		Threshold:     s.Threshold,
		Status:        string(s.Status),
		CreatedBy:     s.CreatedBy,
		FailureReason: s.FailureReason,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
		ExpiresAt:     s.ExpiresAt,
	}
	if len(s.FinalSignature) > 0 {
		resp.FinalSignature = hex.EncodeToString(s.FinalSignature)
	}
	return resp
}

func (s *Server) postCreateSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	messageHash, err := hex.DecodeString(req.MessageHash)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "message_hash must be hex encoded")
	}

	created, err := s.SessionManager.CreateSession(c.Request().Context(), session.CreateParams{
		GroupID:      req.GroupID,
		MessageHash:  messageHash,
		Participants: req.Participants,
		Threshold:    req.Threshold,
		CreatedBy:    req.CreatedBy,
		TTL:          time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, toSessionResponse(created))
}

func (s *Server) getSession(c echo.Context) error {
	found, err := s.SessionManager.GetSession(c.Request().Context(), c.Param("sessionID"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, toSessionResponse(found))
}

func (s *Server) postNonceCommitment(c echo.Context) error {
	var req submitNonceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	commitment, err := hex.DecodeString(req.Commitment)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "commitment must be hex encoded")
	}

	err = s.SessionManager.SubmitNonceCommitment(c.Request().Context(), c.Param("sessionID"), req.ParticipantID, commitment)
	if err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) postPartialSignature(c echo.Context) error {
	var req submitPartialSignatureRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	share, err := hex.DecodeString(req.PartialSignature)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "partial_signature must be hex encoded")
	}

	err = s.SessionManager.SubmitPartialSignature(c.Request().Context(), c.Param("sessionID"), req.ParticipantID, share)
	if err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) postAggregate(c echo.Context) error {
	completed, err := s.SessionManager.AggregateSignatures(c.Request().Context(), c.Param("sessionID"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, toSessionResponse(completed))
}

func (s *Server) postFail(c echo.Context) error {
	var req failSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := s.SessionManager.FailSession(c.Request().Context(), c.Param("sessionID"), req.Reason); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// toHTTPError maps the manager's error taxonomy to HTTP status codes.
func toHTTPError(err error) *echo.HTTPError {
	var status int
	switch {
	case errors.Is(err, session.ErrInvalidParameters):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrSessionExpired):
		status = http.StatusGone
	case errors.Is(err, session.ErrUnknownParticipant):
		status = http.StatusForbidden
	case errors.Is(err, session.ErrSessionTerminal),
		errors.Is(err, session.ErrDuplicateSubmission),
		errors.Is(err, session.ErrNonceReuseDetected),
		errors.Is(err, session.ErrMissingNonceCommitment),
		errors.Is(err, session.ErrInsufficientContributions),
		errors.Is(err, session.ErrAggregationInProgress):
		status = http.StatusConflict
	case errors.Is(err, session.ErrAggregationFailed):
		status = http.StatusUnprocessableEntity
	default:
		status = http.StatusInternalServerError
	}
	return echo.NewHTTPError(status, err.Error())
}
