package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stemsi/exstem-engine/internal/handler"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/repository/memory"
	"github.com/stemsi/exstem-engine/internal/testutil"
	ws "github.com/stemsi/exstem-engine/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsFixture struct {
	*apiFixture
	server *httptest.Server
}

func newWS(t *testing.T) *wsFixture {
	t.Helper()
	return newWSWith(t, handler.WSConfig{AutosaveInterval: time.Hour, TimerTick: time.Hour}, nil)
}

func newWSWith(t *testing.T, cfg handler.WSConfig, store *flakyFinalize) *wsFixture {
	t.Helper()
	f := newAPIWithStore(t, nil, store)
	h := handler.NewWSHandler(f.svc, cfg, testutil.Logger())

	r := gin.New()
	r.GET("/ws/v1/attempts/:attempt_id/stream", middleware.RequireCandidateWSAuth(f.auth), h.AttemptStream)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &wsFixture{apiFixture: f, server: srv}
}

func (f *wsFixture) dial(t *testing.T, userID int, attemptID string) *websocket.Conn {
	t.Helper()
	token, err := f.auth.IssueCandidateToken(userID)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/v1/attempts/" + attemptID + "/stream?token=" + token

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// next reads frames until one with the given event arrives.
func next(t *testing.T, conn *websocket.Conn, event ws.Event) json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		var head struct {
			Event ws.Event `json:"event"`
		}
		require.NoError(t, json.Unmarshal(raw, &head))
		if head.Event == event {
			return raw
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, msg ws.RequestPayload) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func TestAttemptStream_AnswersAndSubmits(t *testing.T) {
	f := newWS(t)
	sess := f.start(t, 5)
	conn := f.dial(t, 5, sess.AttemptID.String())

	var state ws.StateResponse
	require.NoError(t, json.Unmarshal(next(t, conn, ws.EventState), &state))
	assert.Equal(t, sess.AttemptID, state.Session.AttemptID)

	send(t, conn, ws.RequestPayload{Action: ws.ActionSelect, QID: testutil.QSingle.String(), Label: "B"})
	send(t, conn, ws.RequestPayload{Action: ws.ActionToggle, QID: testutil.QMulti.String(), Label: "A"})
	send(t, conn, ws.RequestPayload{Action: ws.ActionToggle, QID: testutil.QMulti.String(), Label: "C"})
	send(t, conn, ws.RequestPayload{Action: ws.ActionInteger, QID: testutil.QInteger.String(), Value: "7"})
	send(t, conn, ws.RequestPayload{Action: ws.ActionClear, QID: testutil.QInteger.String()})
	send(t, conn, ws.RequestPayload{Action: ws.ActionSubmit})

	var done ws.SubmittedResponse
	require.NoError(t, json.Unmarshal(next(t, conn, ws.EventSubmitted), &done))
	require.NotNil(t, done.Result)
	assert.InDelta(t, 8, done.Result.Score, 1e-9)
	assert.Equal(t, model.SubmitReasonUserAction, done.Result.Reason)
	assert.Equal(t, 1, done.Result.Skipped, "cleared integer answer is skipped")
}

func TestAttemptStream_RejectsBadActions(t *testing.T) {
	f := newWS(t)
	sess := f.start(t, 5)
	conn := f.dial(t, 5, sess.AttemptID.String())
	next(t, conn, ws.EventState)

	send(t, conn, ws.RequestPayload{Action: ws.ActionSelect, QID: "nope", Label: "B"})
	var e ws.ErrorResponse
	require.NoError(t, json.Unmarshal(next(t, conn, ws.EventError), &e))
	assert.Equal(t, "INVALID_ID", e.Code)

	send(t, conn, ws.RequestPayload{Action: ws.ActionSelect, QID: testutil.QSingle.String(), Label: "Z"})
	require.NoError(t, json.Unmarshal(next(t, conn, ws.EventError), &e))
	assert.Equal(t, "INVALID_ANSWER", e.Code)

	send(t, conn, ws.RequestPayload{Action: "dance"})
	require.NoError(t, json.Unmarshal(next(t, conn, ws.EventError), &e))
	assert.Equal(t, "INVALID_PAYLOAD", e.Code)

	send(t, conn, ws.RequestPayload{Action: ws.ActionPing})
	next(t, conn, ws.EventPong)
}

func TestAttemptStream_ExitLimitFinalizes(t *testing.T) {
	f := newWS(t)
	sess := f.start(t, 5)
	conn := f.dial(t, 5, sess.AttemptID.String())
	next(t, conn, ws.EventState)

	for i := 1; i <= sess.MaxExits+1; i++ {
		send(t, conn, ws.RequestPayload{Action: ws.ActionExit})
	}

	var done ws.SubmittedResponse
	require.NoError(t, json.Unmarshal(next(t, conn, ws.EventSubmitted), &done))
	require.NotNil(t, done.Result)
	assert.Equal(t, model.SubmitReasonIntegrityViolation, done.Result.Reason)
	assert.Equal(t, sess.MaxExits+1, done.Result.ExitCount)
}

func TestAttemptStream_CompletedAttemptReplaysResult(t *testing.T) {
	f := newWS(t)
	sess := f.start(t, 5)
	w, _ := f.do(t, 5, "POST", "/api/v1/attempts/"+sess.AttemptID.String()+"/submit", model.SubmitRequest{})
	require.Equal(t, 200, w.Code)

	conn := f.dial(t, 5, sess.AttemptID.String())
	var state ws.StateResponse
	require.NoError(t, json.Unmarshal(next(t, conn, ws.EventState), &state))
	assert.Equal(t, model.AttemptStateSubmitted, state.Session.State)
	next(t, conn, ws.EventSubmitted)
}

func TestAttemptStream_WrongOwnerIsRejectedBeforeUpgrade(t *testing.T) {
	f := newWS(t)
	sess := f.start(t, 5)
	token, err := f.auth.IssueCandidateToken(6)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/v1/attempts/" + sess.AttemptID.String() + "/stream?token=" + token

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 403, resp.StatusCode)
}

// flakyFinalize fails the first fails calls to Finalize.
type flakyFinalize struct {
	*memory.AttemptStore
	fails atomic.Int32
}

func newFlakyFinalize(fails int32) *flakyFinalize {
	s := &flakyFinalize{AttemptStore: memory.NewAttemptStore()}
	s.fails.Store(fails)
	return s
}

func (s *flakyFinalize) Finalize(ctx context.Context, attemptID uuid.UUID, fn repository.FinalizeFunc) (*model.Attempt, bool, error) {
	if s.fails.Add(-1) >= 0 {
		return nil, false, errors.New("connection reset")
	}
	return s.AttemptStore.Finalize(ctx, attemptID, fn)
}

func TestAttemptStream_SubmitRetryAfterFailure(t *testing.T) {
	f := newWSWith(t, handler.WSConfig{AutosaveInterval: 20 * time.Millisecond, TimerTick: time.Hour}, newFlakyFinalize(1))
	sess := f.start(t, 5)
	conn := f.dial(t, 5, sess.AttemptID.String())
	next(t, conn, ws.EventState)

	send(t, conn, ws.RequestPayload{Action: ws.ActionSubmit})
	var e ws.ErrorResponse
	require.NoError(t, json.Unmarshal(next(t, conn, ws.EventError), &e))
	assert.Equal(t, "SUBMIT_FAILED", e.Code)

	stored, err := f.attempts.GetByID(context.Background(), sess.AttemptID)
	require.NoError(t, err)
	assert.False(t, stored.IsCompleted(), "failed submit leaves the attempt open")

	send(t, conn, ws.RequestPayload{Action: ws.ActionSelect, QID: testutil.QSingle.String(), Label: "B"})
	next(t, conn, ws.EventSaved)

	send(t, conn, ws.RequestPayload{Action: ws.ActionSubmit})
	var done ws.SubmittedResponse
	require.NoError(t, json.Unmarshal(next(t, conn, ws.EventSubmitted), &done))
	require.NotNil(t, done.Result)
	assert.InDelta(t, 4, done.Result.Score, 1e-9)
	assert.Equal(t, model.SubmitReasonUserAction, done.Result.Reason)
}

func TestAttemptStream_ExpirySubmitRetries(t *testing.T) {
	f := newWSWith(t, handler.WSConfig{
		AutosaveInterval: time.Hour,
		TimerTick:        10 * time.Millisecond,
		SubmitRetry:      20 * time.Millisecond,
	}, newFlakyFinalize(2))
	sess := f.start(t, 5)
	conn := f.dial(t, 5, sess.AttemptID.String())
	next(t, conn, ws.EventState)

	f.clock.Advance(time.Hour)

	var done ws.SubmittedResponse
	require.NoError(t, json.Unmarshal(next(t, conn, ws.EventSubmitted), &done))
	require.NotNil(t, done.Result)
	assert.Equal(t, model.SubmitReasonTimeExpired, done.Result.Reason)

	stored, err := f.attempts.GetByID(context.Background(), sess.AttemptID)
	require.NoError(t, err)
	assert.True(t, stored.IsCompleted())
}
