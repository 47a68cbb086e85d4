package app

import (
	"context"

	"evaliq-attempt-service/internal/domain"
)

// AnswerLedger keeps one option index per question and persists the full map
// on every change. Re-selecting overwrites; no history is kept.
type AnswerLedger struct {
	session   persistedSession
	questions map[string]struct{}
	answers   domain.Answers
}

func newAnswerLedger(session persistedSession, questions []domain.Question, answers domain.Answers) *AnswerLedger {
	ids := make(map[string]struct{}, len(questions))
	for _, q := range questions {
		ids[q.ID] = struct{}{}
	}
	kept := make(domain.Answers, len(answers))
	for id, idx := range answers {
		if _, ok := ids[id]; ok && validOption(idx) {
			kept[id] = idx
		}
	}
	return &AnswerLedger{session: session, questions: ids, answers: kept}
}

// Select records optionIndex for questionID and persists the map.
func (l *AnswerLedger) Select(ctx context.Context, questionID string, optionIndex int) error {
	if _, ok := l.questions[questionID]; !ok {
		return domain.ErrQuestionNotFound
	}
	if !validOption(optionIndex) {
		return domain.ErrOptionOutOfRange
	}
	prev, had := l.answers[questionID]
	l.answers[questionID] = optionIndex
	if err := l.session.setAnswers(ctx, l.answers); err != nil {
		if had {
			l.answers[questionID] = prev
		} else {
			delete(l.answers, questionID)
		}
		return err
	}
	return nil
}

// Answers returns a copy of the current selections.
func (l *AnswerLedger) Answers() domain.Answers {
	return l.answers.Clone()
}

// UnansweredCount is totalQuestions - |answers|.
func (l *AnswerLedger) UnansweredCount() int {
	return len(l.questions) - len(l.answers)
}

func validOption(idx int) bool {
	return idx >= 0 && idx < domain.OptionCount
}
