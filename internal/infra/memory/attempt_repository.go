package memory

import (
	"context"
	"sync"

	"evaliq-attempt-service/internal/domain"
)

// AttemptRepository keeps attempt records in memory. Failing can be set by
// tests to simulate an unreachable remote store.
type AttemptRepository struct {
	mu      sync.RWMutex
	records []domain.AttemptRecord
	failing error
}

func NewAttemptRepository() *AttemptRepository {
	return &AttemptRepository{}
}

func (r *AttemptRepository) InsertAttempt(_ context.Context, rec domain.AttemptRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing != nil {
		return r.failing
	}
	rec.Answers = rec.Answers.Clone()
	r.records = append(r.records, rec)
	return nil
}

func (r *AttemptRepository) CountAttempts(_ context.Context, quizID, participantName string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.failing != nil {
		return 0, r.failing
	}
	n := 0
	for _, rec := range r.records {
		if rec.QuizID == quizID && rec.ParticipantName == participantName {
			n++
		}
	}
	return n, nil
}

// Records returns a copy of everything inserted so far.
func (r *AttemptRepository) Records() []domain.AttemptRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.AttemptRecord, len(r.records))
	copy(out, r.records)
	return out
}

// SetFailure makes every call return err until it is reset with nil.
func (r *AttemptRepository) SetFailure(err error) {
	r.mu.Lock()
	r.failing = err
	r.mu.Unlock()
}
