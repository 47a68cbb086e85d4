package postgres

import (
	"context"
	"errors"
	"fmt"

	"evaliq-attempt-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// QuizLoader reads quiz settings and questions from Postgres.
type QuizLoader struct {
	pool *pgxpool.Pool
}

func NewQuizLoader(pool *pgxpool.Pool) *QuizLoader {
	return &QuizLoader{pool: pool}
}

// LoadQuiz resolves ref as a share token first, then as a quiz id.
func (l *QuizLoader) LoadQuiz(ctx context.Context, ref string) (domain.Quiz, error) {
	var quiz domain.Quiz
	err := l.pool.QueryRow(ctx, `
		SELECT id, share_token, title, duration_minutes, max_retries, sharing_enabled,
		       show_answers, prevent_tab_switch, tab_switch_warnings, prevent_copy_paste,
		       randomise_questions
		FROM quizzes
		WHERE share_token = $1 OR id = $1
		ORDER BY (share_token = $1) DESC
		LIMIT 1`, ref).Scan(
		&quiz.ID, &quiz.ShareToken, &quiz.Title, &quiz.DurationMinutes, &quiz.MaxRetries,
		&quiz.SharingEnabled, &quiz.ShowAnswers, &quiz.PreventTabSwitch, &quiz.TabSwitchWarnings,
		&quiz.PreventCopyPaste, &quiz.RandomiseQuestions,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}

	rows, err := l.pool.Query(ctx, `
		SELECT id, question_text, options, correct_option_index, order_num
		FROM questions
		WHERE quiz_id = $1
		ORDER BY order_num, id`, quiz.ID)
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var q domain.Question
		if err := rows.Scan(&q.ID, &q.QuestionText, &q.Options, &q.CorrectOptionIndex, &q.OrderNum); err != nil {
			return domain.Quiz{}, fmt.Errorf("scan question: %w", err)
		}
		quiz.Questions = append(quiz.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return domain.Quiz{}, fmt.Errorf("load questions: %w", err)
	}
	return quiz, nil
}
