package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuizNotAvailable is returned for unknown share tokens or quizzes with sharing disabled.
	ErrQuizNotAvailable = errors.New("quiz not available")
	// ErrInvalidQuiz indicates stored quiz content breaks a structural invariant.
	ErrInvalidQuiz = errors.New("invalid quiz")
	// ErrSessionNotFound is returned when an attempt session is not live.
	ErrSessionNotFound = errors.New("attempt session not found")
	// ErrNameRequired is returned when the identity gate receives a blank name.
	ErrNameRequired = errors.New("participant name is required")
	// ErrAlreadyStarted is returned when the identity gate is confirmed twice.
	ErrAlreadyStarted = errors.New("attempt already started")
	// ErrRetryExhausted means the identity has used every allowed attempt.
	ErrRetryExhausted = errors.New("no retries left for this quiz")
	// ErrEligibilityUnavailable means the prior-attempt count could not be read.
	ErrEligibilityUnavailable = errors.New("could not verify remaining attempts")
	// ErrUnansweredQuestions requires an explicit confirmation before a manual submit.
	ErrUnansweredQuestions = errors.New("unanswered questions need confirmation")
	// ErrSessionNotActive is returned for actions that need an active attempt.
	ErrSessionNotActive = errors.New("attempt is not active")
	// ErrAlreadySubmitted is returned for actions after the final submission.
	ErrAlreadySubmitted = errors.New("attempt already submitted")
	// ErrSubmissionInProgress is returned while a submission is being written.
	ErrSubmissionInProgress = errors.New("submission in progress")
	// ErrRetryNotAllowed is returned when retry is requested before a submission.
	ErrRetryNotAllowed = errors.New("retry is only possible after submitting")
	// ErrQuestionNotFound indicates a submitted question ID is invalid.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrOptionOutOfRange indicates a selected option index is invalid.
	ErrOptionOutOfRange = errors.New("option index out of range")
)

// UnansweredError carries how many questions are still open on a manual submit.
type UnansweredError struct {
	Count int
}

func (e *UnansweredError) Error() string {
	return fmt.Sprintf("%d question(s) unanswered: %v", e.Count, ErrUnansweredQuestions)
}

func (e *UnansweredError) Unwrap() error {
	return ErrUnansweredQuestions
}
