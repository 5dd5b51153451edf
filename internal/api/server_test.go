package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kashguard/go-threshold-signing/internal/config"
	"github.com/kashguard/go-threshold-signing/internal/threshold/protocol"
	"github.com/kashguard/go-threshold-signing/internal/threshold/session"
	"github.com/kashguard/go-threshold-signing/internal/threshold/storage"
)

type testServer struct {
	server       *Server
	groupKey     []byte
	shares       []*protocol.SecretShare
	participants []string
	messageHash  []byte
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	groupKey, shares, err := protocol.DealShares(2, 3)
	require.NoError(t, err)

	manager := session.NewManager(storage.NewMemoryStore(), nil, protocol.NewEngine(),
		session.StaticGroupKeys{"group-1": groupKey}, nil, nil, session.DefaultSessionTTL)

	messageHash := sha256.Sum256([]byte("api round trip"))

	return &testServer{
		server:       NewServer(config.DefaultServiceConfigFromEnv(), nil, nil, manager),
		groupKey:     groupKey,
		shares:       shares,
		participants: []string{"signer-a", "signer-b", "signer-c"},
		messageHash:  messageHash[:],
	}
}

func (ts *testServer) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echoHeaderContentType, echoMIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ts.server.Echo.ServeHTTP(rec, req)
	return rec
}

const (
	echoHeaderContentType   = "Content-Type"
	echoMIMEApplicationJSON = "application/json"
)

func (ts *testServer) createSession(t *testing.T) string {
	t.Helper()

	rec := ts.request(t, http.MethodPost, "/api/v1/sessions", createSessionRequest{
		GroupID:      "group-1",
		MessageHash:  hex.EncodeToString(ts.messageHash),
		Participants: ts.participants,
		Threshold:    2,
		CreatedBy:    "coordinator",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "pending", resp.Status)
	return resp.SessionID
}

func TestServer_FullSigningFlow(t *testing.T) {
	ts := newTestServer(t)
	sessionID := ts.createSession(t)

	nonces := make(map[uint32]*protocol.Nonce)
	commitments := make(map[uint32][]byte)
	for _, index := range []uint32{1, 2} {
		nonce, commitment, err := protocol.GenerateNonce(index)
		require.NoError(t, err)
		nonces[index] = nonce
		commitments[index] = commitment

		rec := ts.request(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/nonces", submitNonceRequest{
			ParticipantID: ts.participants[index-1],
			Commitment:    hex.EncodeToString(commitment),
		})
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	}

	for _, index := range []uint32{1, 2} {
		share, err := protocol.PartialSign(ts.shares[index-1], nonces[index], ts.messageHash, commitments, ts.groupKey)
		require.NoError(t, err)

		rec := ts.request(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/partial-signatures", submitPartialSignatureRequest{
			ParticipantID:    ts.participants[index-1],
			PartialSignature: hex.EncodeToString(share),
		})
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	}

	rec := ts.request(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/aggregate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp.Status)

	signature, err := hex.DecodeString(resp.FinalSignature)
	require.NoError(t, err)
	assert.True(t, protocol.NewEngine().Verify(signature, ts.messageHash, ts.groupKey))

	rec = ts.request(t, http.MethodGet, "/api/v1/sessions/"+sessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ErrorMapping(t *testing.T) {
	ts := newTestServer(t)

	// Unknown session.
	rec := ts.request(t, http.MethodGet, "/api/v1/sessions/session-unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Invalid create request.
	rec = ts.request(t, http.MethodPost, "/api/v1/sessions", createSessionRequest{
		GroupID:      "group-1",
		MessageHash:  hex.EncodeToString(ts.messageHash),
		Participants: ts.participants,
		Threshold:    99,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Non-hex payloads.
	rec = ts.request(t, http.MethodPost, "/api/v1/sessions", createSessionRequest{
		GroupID:     "group-1",
		MessageHash: "not hex",
		Threshold:   2,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	sessionID := ts.createSession(t)

	// Outsider participant.
	_, commitment, err := protocol.GenerateNonce(1)
	require.NoError(t, err)
	rec = ts.request(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/nonces", submitNonceRequest{
		ParticipantID: "mallory",
		Commitment:    hex.EncodeToString(commitment),
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Partial signature without a nonce on record.
	rec = ts.request(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/partial-signatures", submitPartialSignatureRequest{
		ParticipantID:    ts.participants[0],
		PartialSignature: hex.EncodeToString(make([]byte, protocol.ShareSize)),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Premature aggregation.
	rec = ts.request(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/aggregate", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Duplicate nonce submission.
	rec = ts.request(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/nonces", submitNonceRequest{
		ParticipantID: ts.participants[0],
		Commitment:    hex.EncodeToString(commitment),
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = ts.request(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/nonces", submitNonceRequest{
		ParticipantID: ts.participants[0],
		Commitment:    hex.EncodeToString(commitment),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_FailSession(t *testing.T) {
	ts := newTestServer(t)
	sessionID := ts.createSession(t)

	rec := ts.request(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/fail", failSessionRequest{
		Reason: "operator abort",
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.request(t, http.MethodGet, "/api/v1/sessions/"+sessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "failed", resp.Status)
	assert.Equal(t, "operator abort", resp.FailureReason)
}

func TestServer_ManagementEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/-/healthy", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.request(t, http.MethodGet, "/-/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.request(t, http.MethodGet, "/-/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
