package domain

import (
	"fmt"
	"time"
)

const (
	// OptionCount is the number of options every question carries.
	OptionCount = 4
	// DefaultTabSwitchWarnings applies when a quiz stores no warning threshold.
	DefaultTabSwitchWarnings = 3
)

// Quiz is the read-only configuration of a shared quiz plus its questions.
type Quiz struct {
	ID                 string     `json:"id" yaml:"id"`
	ShareToken         string     `json:"shareToken" yaml:"share_token"`
	Title              string     `json:"title" yaml:"title"`
	DurationMinutes    *int       `json:"durationMinutes,omitempty" yaml:"duration_minutes"` // nil = untimed
	MaxRetries         int        `json:"maxRetries" yaml:"max_retries"`                     // 0 = single attempt
	SharingEnabled     bool       `json:"sharingEnabled" yaml:"sharing_enabled"`
	ShowAnswers        bool       `json:"showAnswers" yaml:"show_answers"`
	PreventTabSwitch   bool       `json:"preventTabSwitch" yaml:"prevent_tab_switch"`
	TabSwitchWarnings  int        `json:"tabSwitchWarnings" yaml:"tab_switch_warnings"`
	PreventCopyPaste   bool       `json:"preventCopyPaste" yaml:"prevent_copy_paste"`
	RandomiseQuestions bool       `json:"randomiseQuestions" yaml:"randomise_questions"`
	Questions          []Question `json:"questions" yaml:"questions"`
}

// Question models an MCQ question with exactly one correct option.
type Question struct {
	ID                 string   `json:"id" yaml:"id"`
	QuestionText       string   `json:"questionText" yaml:"question_text"`
	Options            []string `json:"options" yaml:"options"`
	CorrectOptionIndex int      `json:"correctOptionIndex" yaml:"correct_option_index"`
	OrderNum           int      `json:"orderNum" yaml:"order_num"`
}

// Timed reports whether the quiz runs against a countdown.
func (q Quiz) Timed() bool {
	return q.DurationMinutes != nil && *q.DurationMinutes > 0
}

// Duration is the full time budget of a timed quiz, zero otherwise.
func (q Quiz) Duration() time.Duration {
	if !q.Timed() {
		return 0
	}
	return time.Duration(*q.DurationMinutes) * time.Minute
}

// WarningThreshold is the tab-switch count that forces a submission.
func (q Quiz) WarningThreshold() int {
	if q.TabSwitchWarnings <= 0 {
		return DefaultTabSwitchWarnings
	}
	return q.TabSwitchWarnings
}

// Validate checks the structural invariants of quiz content.
func (q Quiz) Validate() error {
	if q.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidQuiz)
	}
	seen := make(map[string]struct{}, len(q.Questions))
	for _, question := range q.Questions {
		if question.ID == "" {
			return fmt.Errorf("%w: question without id", ErrInvalidQuiz)
		}
		if _, dup := seen[question.ID]; dup {
			return fmt.Errorf("%w: duplicate question %s", ErrInvalidQuiz, question.ID)
		}
		seen[question.ID] = struct{}{}
		if len(question.Options) != OptionCount {
			return fmt.Errorf("%w: question %s has %d options", ErrInvalidQuiz, question.ID, len(question.Options))
		}
		if question.CorrectOptionIndex < 0 || question.CorrectOptionIndex >= OptionCount {
			return fmt.Errorf("%w: question %s correct index %d", ErrInvalidQuiz, question.ID, question.CorrectOptionIndex)
		}
	}
	return nil
}

// Info strips the quiz down to what an anonymous participant may see.
func (q Quiz) Info() QuizInfo {
	return QuizInfo{
		ID:                 q.ID,
		Title:              q.Title,
		DurationMinutes:    q.DurationMinutes,
		MaxRetries:         q.MaxRetries,
		ShowAnswers:        q.ShowAnswers,
		PreventTabSwitch:   q.PreventTabSwitch,
		TabSwitchWarnings:  q.WarningThreshold(),
		PreventCopyPaste:   q.PreventCopyPaste,
		RandomiseQuestions: q.RandomiseQuestions,
		QuestionCount:      len(q.Questions),
	}
}

// QuizInfo is the public view of quiz settings.
type QuizInfo struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	DurationMinutes    *int   `json:"durationMinutes,omitempty"`
	MaxRetries         int    `json:"maxRetries"`
	ShowAnswers        bool   `json:"showAnswers"`
	PreventTabSwitch   bool   `json:"preventTabSwitch"`
	TabSwitchWarnings  int    `json:"tabSwitchWarnings"`
	PreventCopyPaste   bool   `json:"preventCopyPaste"`
	RandomiseQuestions bool   `json:"randomiseQuestions"`
	QuestionCount      int    `json:"questionCount"`
}

// Answers maps question id to the selected option index.
type Answers map[string]int

// Clone returns an independent copy.
func (a Answers) Clone() Answers {
	out := make(Answers, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// AttemptRecord is the immutable outcome of one submission.
type AttemptRecord struct {
	ID               string    `json:"id"`
	QuizID           string    `json:"quizId"`
	ParticipantName  string    `json:"participantName"`
	Answers          Answers   `json:"answers"`
	Score            int       `json:"score"`
	TotalQuestions   int       `json:"totalQuestions"`
	TimeTakenSeconds int       `json:"timeTakenSeconds"`
	TabSwitchCount   int       `json:"tabSwitchCount"`
	CompletedAt      time.Time `json:"completedAt"`
}

// Eligibility is the Retry Gate's verdict for one identity.
type Eligibility struct {
	AttemptCount int  `json:"attemptCount"`
	RetriesLeft  int  `json:"retriesLeft"`
	Blocked      bool `json:"blocked"`
}
