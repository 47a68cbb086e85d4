package http

import (
	"errors"
	"net/http"

	"evaliq-attempt-service/internal/domain"
)

var errInvalidPayload = errors.New("invalid payload")

type errorPayload struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Unanswered int    `json:"unanswered,omitempty"`
}

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{errInvalidPayload, http.StatusBadRequest, "invalid_request"},
	{domain.ErrQuizNotAvailable, http.StatusNotFound, "quiz_not_available"},
	{domain.ErrQuizNotFound, http.StatusNotFound, "quiz_not_available"},
	{domain.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
	{domain.ErrNameRequired, http.StatusBadRequest, "name_required"},
	{domain.ErrQuestionNotFound, http.StatusBadRequest, "question_not_found"},
	{domain.ErrOptionOutOfRange, http.StatusBadRequest, "option_out_of_range"},
	{domain.ErrRetryExhausted, http.StatusForbidden, "retry_exhausted"},
	{domain.ErrUnansweredQuestions, http.StatusConflict, "unanswered_questions"},
	{domain.ErrAlreadyStarted, http.StatusConflict, "already_started"},
	{domain.ErrAlreadySubmitted, http.StatusConflict, "already_submitted"},
	{domain.ErrSubmissionInProgress, http.StatusConflict, "submission_in_progress"},
	{domain.ErrSessionNotActive, http.StatusConflict, "session_not_active"},
	{domain.ErrRetryNotAllowed, http.StatusConflict, "retry_not_allowed"},
	{domain.ErrEligibilityUnavailable, http.StatusServiceUnavailable, "eligibility_unavailable"},
	{domain.ErrInvalidQuiz, http.StatusInternalServerError, "invalid_quiz"},
}

// describeError maps engine errors onto an HTTP status and a stable code.
func describeError(err error) (int, errorPayload) {
	for _, e := range errorCodes {
		if !errors.Is(err, e.err) {
			continue
		}
		payload := errorPayload{Code: e.code, Message: e.err.Error()}
		var unanswered *domain.UnansweredError
		if errors.As(err, &unanswered) {
			payload.Unanswered = unanswered.Count
			payload.Message = unanswered.Error()
		}
		return e.status, payload
	}
	return http.StatusInternalServerError, errorPayload{Code: "internal", Message: "internal error"}
}
