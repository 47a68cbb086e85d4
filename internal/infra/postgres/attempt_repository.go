package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"evaliq-attempt-service/internal/domain"
	"github.com/jackc/pgx/v4/pgxpool"
)

// AttemptRepository stores completed attempts in quiz_attempts.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

func (r *AttemptRepository) InsertAttempt(ctx context.Context, rec domain.AttemptRecord) error {
	answers, err := json.Marshal(rec.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO quiz_attempts
			(id, quiz_id, participant_name, answers, score, total_questions,
			 time_taken_seconds, tab_switch_count, completed_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8, $9)`,
		rec.ID, rec.QuizID, rec.ParticipantName, string(answers), rec.Score, rec.TotalQuestions,
		rec.TimeTakenSeconds, rec.TabSwitchCount, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// CountAttempts matches the participant name exactly.
func (r *AttemptRepository) CountAttempts(ctx context.Context, quizID, participantName string) (int, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM quiz_attempts WHERE quiz_id = $1 AND participant_name = $2`,
		quizID, participantName,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return int(n), nil
}
