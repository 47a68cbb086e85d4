package app

import (
	"time"

	"evaliq-attempt-service/internal/domain"
)

// Score counts questions whose selected option equals the correct index.
// Unanswered and out-of-range selections never count.
func Score(answers domain.Answers, questions []domain.Question) int {
	score := 0
	for _, q := range questions {
		idx, ok := answers[q.ID]
		if !ok || !validOption(idx) {
			continue
		}
		if idx == q.CorrectOptionIndex {
			score++
		}
	}
	return score
}

// TimeTaken returns whole seconds spent on the attempt, never less than one.
// With a deadline it is the budget minus the displayed remaining time,
// otherwise the wall time since the session started.
func TimeTaken(budget time.Duration, deadline, startedAt, now time.Time) int {
	var seconds int
	if budget > 0 && !deadline.IsZero() {
		remaining := deadline.Sub(now)
		seconds = int(budget/time.Second) - remainingSeconds(remaining)
	} else {
		seconds = int(now.Sub(startedAt) / time.Second)
	}
	if seconds < 1 {
		return 1
	}
	return seconds
}

func review(answers domain.Answers, questions []domain.Question) []domain.ReviewItem {
	items := make([]domain.ReviewItem, 0, len(questions))
	for _, q := range questions {
		item := domain.ReviewItem{QuestionID: q.ID, CorrectOptionIndex: q.CorrectOptionIndex}
		if idx, ok := answers[q.ID]; ok {
			selected := idx
			item.Selected = &selected
			item.Correct = idx == q.CorrectOptionIndex
		}
		items = append(items, item)
	}
	return items
}
