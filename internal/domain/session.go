package domain

import "time"

// AttemptState is the disposition of an attempt session.
type AttemptState string

const (
	StateGated               AttemptState = "gated"
	StateCheckingEligibility AttemptState = "checking_eligibility"
	StateBlocked             AttemptState = "blocked"
	StateActive              AttemptState = "active"
	StateSubmitting          AttemptState = "submitting"
	StateSubmitted           AttemptState = "submitted"
	StateRetrying            AttemptState = "retrying"
)

// SubmitReason records what triggered a submission.
type SubmitReason string

const (
	ReasonManual    SubmitReason = "manual"
	ReasonTimer     SubmitReason = "timer"
	ReasonIntegrity SubmitReason = "integrity"
)

// QuestionView is a question without its answer key.
type QuestionView struct {
	ID           string   `json:"id"`
	QuestionText string   `json:"questionText"`
	Options      []string `json:"options"`
	OrderNum     int      `json:"orderNum"`
}

// ReviewItem is shown after submission when the quiz reveals answers.
type ReviewItem struct {
	QuestionID         string `json:"questionId"`
	Selected           *int   `json:"selected,omitempty"`
	CorrectOptionIndex int    `json:"correctOptionIndex"`
	Correct            bool   `json:"correct"`
}

// Result is what the participant sees after a submission.
type Result struct {
	Score            int          `json:"score"`
	TotalQuestions   int          `json:"totalQuestions"`
	TimeTakenSeconds int          `json:"timeTakenSeconds"`
	TabSwitchCount   int          `json:"tabSwitchCount"`
	Reason           SubmitReason `json:"reason"`
	Persisted        bool         `json:"persisted"`
	RetriesLeft      int          `json:"retriesLeft"`
	Blocked          bool         `json:"blocked"`
	CompletedAt      time.Time    `json:"completedAt"`
	Review           []ReviewItem `json:"review,omitempty"`
}

// Warning is raised by the integrity monitor on every hidden transition.
type Warning struct {
	Count     int  `json:"count"`
	Threshold int  `json:"threshold"`
	Remaining int  `json:"remaining"`
	Breached  bool `json:"breached"`
}

// SessionView is the full client-facing snapshot of an attempt session.
type SessionView struct {
	SessionID        string         `json:"sessionId"`
	Quiz             QuizInfo       `json:"quiz"`
	State            AttemptState   `json:"state"`
	ParticipantName  string         `json:"participantName,omitempty"`
	Questions        []QuestionView `json:"questions,omitempty"`
	Answers          Answers        `json:"answers,omitempty"`
	Unanswered       int            `json:"unanswered"`
	RemainingSeconds *int           `json:"remainingSeconds,omitempty"`
	TabSwitchCount   int            `json:"tabSwitchCount"`
	Eligibility      Eligibility    `json:"eligibility"`
	Result           *Result        `json:"result,omitempty"`
}

// EventType names a message pushed to session subscribers.
type EventType string

const (
	EventState     EventType = "state"
	EventTimer     EventType = "timer"
	EventWarning   EventType = "warning"
	EventSubmitted EventType = "submitted"
)

// Event is a server-pushed notification about an attempt session.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// TimerTick carries the re-derived remaining time.
type TimerTick struct {
	RemainingSeconds int `json:"remainingSeconds"`
}
