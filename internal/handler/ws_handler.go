package handler

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/answer"
	"github.com/stemsi/exstem-engine/internal/integrity"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
	"github.com/stemsi/exstem-engine/internal/timer"
	ws "github.com/stemsi/exstem-engine/internal/websocket"
	"github.com/stemsi/exstem-engine/internal/worker"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSConfig tunes live sessions.
type WSConfig struct {
	AllowedOrigins   []string
	AutosaveInterval time.Duration
	TimerTick        time.Duration
	// SubmitRetry is the pause before a failed automatic submit is tried
	// again. Defaults to two seconds.
	SubmitRetry time.Duration
}

// WSHandler serves the live attempt stream.
type WSHandler struct {
	attempts *service.AttemptService
	cfg      WSConfig
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attempts *service.AttemptService, cfg WSConfig, log zerolog.Logger) *WSHandler {
	if cfg.SubmitRetry <= 0 {
		cfg.SubmitRetry = 2 * time.Second
	}
	return &WSHandler{
		attempts: attempts,
		cfg:      cfg,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(cfg.AllowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/attempts/:attempt_id/stream?token=...
// Runs the attempt server-side: the answer sheet, countdown, integrity
// monitor and periodic autosave all live for the duration of the connection.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	// Resume before upgrading so ownership and lookup failures are plain HTTP errors.
	sess, err := h.attempts.Resume(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}

	var test *model.TestDefinition
	if sess.State != model.AttemptStateSubmitted {
		if test, err = h.attempts.Test(c.Request.Context(), sess.TestID); err != nil {
			writeServiceError(c, h.log, err)
			return
		}
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)
	defer conn.Close()

	wsLog := h.log.With().
		Int("user_id", claims.UserID).
		Str("attempt_id", attemptID.String()).
		Logger()

	_ = conn.WriteTyped(ws.StateResponse{Event: ws.EventState, Session: sess})
	if sess.State == model.AttemptStateSubmitted {
		_ = conn.WriteTyped(ws.SubmittedResponse{Event: ws.EventSubmitted, Result: sess.Result})
		return
	}

	wsLog.Info().Int("remaining_seconds", sess.RemainingSeconds).Msg("Candidate connected")

	s := newLiveSession(h, conn, sess, test, claims.UserID, wsLog)
	s.run(c.Request.Context())
}

// liveSession is the server side of one connected attempt.
type liveSession struct {
	h       *WSHandler
	conn    *ws.Conn
	log     zerolog.Logger
	test    *model.TestDefinition
	userID  int
	attempt uuid.UUID

	sheet    *answer.Sheet
	clock    *timer.Scheduler
	monitor  *integrity.Monitor
	exits    *integrity.ChannelSource
	autosave *worker.AutosaveCoordinator

	ctx         context.Context
	cancel      context.CancelFunc
	monitorDone chan struct{}

	// submitMu serializes submits and guards the fields below.
	submitMu     sync.Mutex
	submitted    bool
	closed       bool
	retryPending bool
}

func newLiveSession(h *WSHandler, conn *ws.Conn, sess *model.AttemptSession, test *model.TestDefinition, userID int, log zerolog.Logger) *liveSession {
	s := &liveSession{
		h:       h,
		conn:    conn,
		log:     log,
		test:    test,
		userID:  userID,
		attempt: sess.AttemptID,
		sheet:   answer.NewSheet(test, sess.Answers, sess.TimePerQuestion),
		exits:   integrity.NewChannelSource(16),
	}

	s.clock = timer.NewScheduler(h.attempts.Authority(), sess.StartedAt, test.Duration(), h.cfg.TimerTick)
	s.clock.OnTick(func(remaining time.Duration) {
		_ = conn.WriteTyped(ws.TickResponse{Event: ws.EventTick, RemainingSeconds: timer.Seconds(remaining)})
	})
	s.clock.OnExpire(func() { s.submit(model.SubmitReasonTimeExpired) })

	s.monitor = integrity.NewMonitor(sess.ExitCount, sess.MaxExits, integrity.RecorderFunc(s.recordExit),
		func(int) { s.submit(model.SubmitReasonIntegrityViolation) }, log)

	s.autosave = worker.NewAutosaveCoordinator(s.sheet, s.save, h.cfg.AutosaveInterval, log)
	return s
}

func (s *liveSession) run(parent context.Context) {
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(parent))
	defer s.cancel()

	s.monitorDone = make(chan struct{})
	go s.clock.Run(s.ctx)
	go func() {
		defer close(s.monitorDone)
		s.monitor.Run(s.ctx, s.exits)
	}()
	s.autosave.Start(s.ctx)

	go func() {
		<-s.ctx.Done()
		// Unblock ReadJSON once the attempt is finalized.
		_ = s.conn.Close()
	}()

	s.readLoop()
	s.close()
}

func (s *liveSession) readLoop() {
	for {
		var msg ws.RequestPayload
		if err := s.conn.ReadJSON(&msg); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Msg("Unexpected close")
			} else {
				s.log.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionPing:
			_ = s.conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		case ws.ActionSubmit:
			s.submit(model.SubmitReasonUserAction)
		case ws.ActionExit:
			s.handleExit(&msg)
		case ws.ActionSelect, ws.ActionToggle, ws.ActionInteger, ws.ActionClear, ws.ActionVisit, ws.ActionTrack:
			s.handleAnswer(&msg)
		default:
			s.log.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			_ = s.conn.WriteError(string(response.ErrInvalidPayload), "unknown action: "+string(msg.Action))
		}
	}
}

func (s *liveSession) handleAnswer(msg *ws.RequestPayload) {
	qid, err := uuid.Parse(msg.QID)
	if err != nil {
		_ = s.conn.WriteError(string(response.ErrInvalidID), "invalid q_id format")
		return
	}

	switch msg.Action {
	case ws.ActionSelect:
		err = s.sheet.Select(qid, msg.Label)
	case ws.ActionToggle:
		err = s.sheet.Toggle(qid, msg.Label)
	case ws.ActionInteger:
		err = s.sheet.SetInteger(qid, msg.Value)
	case ws.ActionClear:
		err = s.sheet.Clear(qid)
	case ws.ActionVisit:
		err = s.sheet.Visit(qid)
	case ws.ActionTrack:
		err = s.sheet.Track(qid, msg.Seconds)
	}
	if err != nil {
		_ = s.conn.WriteError(string(response.ErrInvalidAnswer), err.Error())
	}
}

func (s *liveSession) handleExit(msg *ws.RequestPayload) {
	kind := integrity.EventKind(msg.Kind)
	if kind == "" {
		kind = integrity.EventFullscreenExit
	}
	if !kind.Valid() {
		_ = s.conn.WriteError(string(response.ErrInvalidPayload), "unknown integrity event: "+msg.Kind)
		return
	}
	s.exits.Push(integrity.Event{Kind: kind, At: s.h.attempts.Authority().Now(), Detail: msg.Detail})
}

// recordExit persists a new exit count and echoes the stored value.
func (s *liveSession) recordExit(ctx context.Context, count int, e integrity.Event) error {
	st, err := s.h.attempts.UpdateExitCount(ctx, service.ExitInput{
		AttemptID: s.attempt,
		UserID:    s.userID,
		Count:     count,
		Kind:      e.Kind,
		Detail:    e.Detail,
	})
	if err != nil {
		return err
	}
	_ = s.conn.WriteTyped(ws.ExitRecordedResponse{Event: ws.EventExitRecorded, ExitCount: st.ExitCount, MaxExits: st.MaxExits})
	return nil
}

func (s *liveSession) save(ctx context.Context, snap answer.Snapshot) error {
	saved, err := s.h.attempts.Autosave(ctx, s.attempt, s.userID, snap.Answers, snap.TimePerQuestion)
	if err != nil {
		return err
	}
	if saved {
		_ = s.conn.WriteTyped(ws.SavedResponse{Event: ws.EventSaved, Revision: snap.Revision})
	}
	return nil
}

// submit finalizes the attempt with the live sheet. The timer, the monitor
// and the client may race here; callers queue on submitMu and return once the
// attempt is submitted. A failed submit leaves the session running with
// autosave restarted, and an expired or breached session tries again after
// SubmitRetry.
func (s *liveSession) submit(reason model.SubmitReason) {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()
	if s.submitted || s.closed {
		return
	}

	s.autosave.Stop()
	// Let pending exit writes land so the audit trail has the breaching exit.
	s.monitor.Wait()

	snap := s.sheet.Snapshot()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), 15*time.Second)
	defer cancel()

	res, err := s.h.attempts.Submit(ctx, service.SubmitInput{
		AttemptID: s.attempt,
		UserID:    s.userID,
		Answers:   liveAnswers(s.test, snap.Answers),
		Times:     snap.TimePerQuestion,
		ExitCount: s.monitor.Count(),
		Reason:    reason,
	})
	if err != nil {
		s.log.Error().Err(err).Str("reason", string(reason)).Msg("Submit failed")
		_ = s.conn.WriteError(string(response.ErrSubmitFailed), response.GetMessage(response.ErrSubmitFailed))
		s.autosave.Start(s.ctx)
		s.scheduleRetry()
		return
	}

	s.submitted = true
	_ = s.conn.WriteTyped(ws.SubmittedResponse{Event: ws.EventSubmitted, Result: res})
	s.cancel()
}

// scheduleRetry queues one automatic submit when the session must end
// without the client. Callers hold submitMu.
func (s *liveSession) scheduleRetry() {
	var reason model.SubmitReason
	switch {
	case s.clock.Expired():
		reason = model.SubmitReasonTimeExpired
	case s.monitor.Breached():
		reason = model.SubmitReasonIntegrityViolation
	default:
		return
	}
	if s.retryPending {
		return
	}
	s.retryPending = true

	go func() {
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(s.h.cfg.SubmitRetry):
		}
		s.submitMu.Lock()
		s.retryPending = false
		s.submitMu.Unlock()
		s.submit(reason)
	}()
}

// close tears the session down after the client left without submitting.
func (s *liveSession) close() {
	s.exits.Close()
	<-s.monitorDone
	s.monitor.Wait()

	// Waits out a submit in progress and blocks any later one.
	s.submitMu.Lock()
	s.closed = true
	submitted := s.submitted
	s.submitMu.Unlock()

	s.autosave.Stop()
	if submitted {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if r := s.autosave.Flush(ctx); r == worker.TickFailed {
		s.log.Warn().Msg("Final autosave on disconnect failed")
	}
}

// liveAnswers lists every question, with the zero value for unanswered ones,
// so answers cleared in the live sheet also clear the stored copy.
func liveAnswers(test *model.TestDefinition, answers model.AnswerSet) model.AnswerSet {
	out := make(model.AnswerSet, len(test.Questions))
	for _, q := range test.Questions {
		out[q.ID] = answers[q.ID]
	}
	return out
}
