package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
	"github.com/stemsi/exstem-engine/internal/validator"
)

// AutosaveGuard admits one autosave per attempt at a time across instances.
type AutosaveGuard interface {
	Acquire(ctx context.Context, attemptID uuid.UUID) (release func(), ok bool, err error)
}

// AttemptHandler handles the candidate-facing attempt endpoints.
type AttemptHandler struct {
	attempts *service.AttemptService
	guard    AutosaveGuard
	log      zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler. guard may be nil.
func NewAttemptHandler(attempts *service.AttemptService, guard AutosaveGuard, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attempts: attempts,
		guard:    guard,
		log:      log.With().Str("component", "attempt_handler").Logger(),
	}
}

// StartAttempt godoc
// POST /api/v1/tests/:test_id/attempts
// Starts an attempt, or resumes the caller's open one (200 instead of 201).
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	testID, err := uuid.Parse(c.Param("test_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	sess, err := h.attempts.Start(c.Request.Context(), testID, claims.UserID)
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}

	status := http.StatusCreated
	if sess.Resumed {
		status = http.StatusOK
	}
	response.Success(c, status, sess)
}

// GetAttempt godoc
// GET /api/v1/attempts/:attempt_id
// Rehydrates a session after reload. Expired attempts come back SUBMITTED.
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	claims, attemptID, ok := h.attemptParams(c)
	if !ok {
		return
	}

	sess, err := h.attempts.Resume(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, sess)
}

// Autosave godoc
// PUT /api/v1/attempts/:attempt_id/autosave
// Replaces the stored answers with the client's snapshot.
func (h *AttemptHandler) Autosave(c *gin.Context) {
	claims, attemptID, ok := h.attemptParams(c)
	if !ok {
		return
	}

	var req model.AutosaveRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if h.guard != nil {
		release, acquired, err := h.guard.Acquire(c.Request.Context(), attemptID)
		switch {
		case err != nil:
			// Without Redis the row lock alone serializes writes.
			h.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Autosave guard unavailable")
		case !acquired:
			response.Fail(c, http.StatusConflict, response.ErrAutosaveInFlight)
			return
		default:
			defer release()
		}
	}

	saved, err := h.attempts.Autosave(c.Request.Context(), attemptID, claims.UserID, req.Answers, req.TimePerQuestion)
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"saved": saved})
}

// UpdateExitCount godoc
// PUT /api/v1/attempts/:attempt_id/exit-count
// Stores max(stored, count) of fullscreen exits.
func (h *AttemptHandler) UpdateExitCount(c *gin.Context) {
	claims, attemptID, ok := h.attemptParams(c)
	if !ok {
		return
	}

	var req model.ExitCountRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	status, err := h.attempts.UpdateExitCount(c.Request.Context(), service.ExitInput{
		AttemptID: attemptID,
		UserID:    claims.UserID,
		Count:     *req.Count,
	})
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, status)
}

// SubmitAttempt godoc
// POST /api/v1/attempts/:attempt_id/submit
// Finalizes the attempt. Repeating the call returns the stored result.
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	claims, attemptID, ok := h.attemptParams(c)
	if !ok {
		return
	}

	var req model.SubmitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.attempts.Submit(c.Request.Context(), service.SubmitInput{
		AttemptID:            attemptID,
		UserID:               claims.UserID,
		Answers:              req.Answers,
		Times:                req.TimePerQuestion,
		ExitCount:            req.ExitCount,
		Reason:               req.Reason,
		ClientElapsedSeconds: req.TimeTakenSeconds,
	})
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

// GetResult godoc
// GET /api/v1/attempts/:attempt_id/result
func (h *AttemptHandler) GetResult(c *gin.Context) {
	claims, attemptID, ok := h.attemptParams(c)
	if !ok {
		return
	}

	res, err := h.attempts.Result(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

func (h *AttemptHandler) attemptParams(c *gin.Context) (*service.Claims, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, uuid.Nil, false
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, uuid.Nil, false
	}
	return claims, attemptID, true
}

// writeServiceError maps service errors onto API error codes.
func writeServiceError(c *gin.Context, log zerolog.Logger, err error) {
	var completed *service.AlreadyCompletedError
	switch {
	case errors.As(err, &completed):
		response.FailWithData(c, http.StatusConflict, response.ErrAlreadyCompleted, gin.H{"attempt_id": completed.AttemptID})
	case errors.Is(err, service.ErrAlreadyCompleted):
		response.Fail(c, http.StatusConflict, response.ErrAlreadyCompleted)
	case errors.Is(err, service.ErrTestNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrTestNotFound)
	case errors.Is(err, service.ErrAttemptNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrAttemptNotFound)
	case errors.Is(err, service.ErrNotAttemptOwner):
		response.Fail(c, http.StatusForbidden, response.ErrNotAttemptOwner)
	case errors.Is(err, service.ErrAttemptNotCompleted):
		response.Fail(c, http.StatusConflict, response.ErrAttemptNotCompleted)
	case errors.Is(err, service.ErrInvalidAnswer):
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidAnswer, map[string]string{"answers": err.Error()})
	case errors.Is(err, service.ErrSubmitFailed):
		log.Error().Err(err).Msg("Submit failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrSubmitFailed)
	case errors.Is(err, service.ErrTransientIO):
		log.Error().Err(err).Msg("Storage unavailable")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrTransientIO)
	default:
		log.Error().Err(err).Msg("Unhandled service error")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
