package postgres

import (
	"context"
	"fmt"

	"evaliq-attempt-service/internal/domain"
	"github.com/uptrace/bun"
)

type quizRow struct {
	bun.BaseModel `bun:"table:quizzes"`

	ID                 string `bun:"id,pk"`
	ShareToken         string `bun:"share_token"`
	Title              string `bun:"title"`
	DurationMinutes    *int   `bun:"duration_minutes"`
	MaxRetries         int    `bun:"max_retries"`
	SharingEnabled     bool   `bun:"sharing_enabled"`
	ShowAnswers        bool   `bun:"show_answers"`
	PreventTabSwitch   bool   `bun:"prevent_tab_switch"`
	TabSwitchWarnings  int    `bun:"tab_switch_warnings"`
	PreventCopyPaste   bool   `bun:"prevent_copy_paste"`
	RandomiseQuestions bool   `bun:"randomise_questions"`
}

type questionRow struct {
	bun.BaseModel `bun:"table:questions"`

	ID                 string   `bun:"id,pk"`
	QuizID             string   `bun:"quiz_id"`
	QuestionText       string   `bun:"question_text"`
	Options            []string `bun:"options,array"`
	CorrectOptionIndex int      `bun:"correct_option_index"`
	OrderNum           int      `bun:"order_num"`
}

// QuizSeeder writes quiz content through bun. The runtime only reads quizzes;
// this exists for the seed command and tests.
type QuizSeeder struct {
	db *bun.DB
}

func NewQuizSeeder(db *bun.DB) *QuizSeeder {
	return &QuizSeeder{db: db}
}

// SaveQuiz upserts a quiz and replaces its questions.
func (s *QuizSeeder) SaveQuiz(ctx context.Context, quiz domain.Quiz) error {
	if err := quiz.Validate(); err != nil {
		return err
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		row := &quizRow{
			ID:                 quiz.ID,
			ShareToken:         quiz.ShareToken,
			Title:              quiz.Title,
			DurationMinutes:    quiz.DurationMinutes,
			MaxRetries:         quiz.MaxRetries,
			SharingEnabled:     quiz.SharingEnabled,
			ShowAnswers:        quiz.ShowAnswers,
			PreventTabSwitch:   quiz.PreventTabSwitch,
			TabSwitchWarnings:  quiz.WarningThreshold(),
			PreventCopyPaste:   quiz.PreventCopyPaste,
			RandomiseQuestions: quiz.RandomiseQuestions,
		}
		_, err := tx.NewInsert().Model(row).
			On("CONFLICT (id) DO UPDATE").
			Set("share_token = EXCLUDED.share_token").
			Set("title = EXCLUDED.title").
			Set("duration_minutes = EXCLUDED.duration_minutes").
			Set("max_retries = EXCLUDED.max_retries").
			Set("sharing_enabled = EXCLUDED.sharing_enabled").
			Set("show_answers = EXCLUDED.show_answers").
			Set("prevent_tab_switch = EXCLUDED.prevent_tab_switch").
			Set("tab_switch_warnings = EXCLUDED.tab_switch_warnings").
			Set("prevent_copy_paste = EXCLUDED.prevent_copy_paste").
			Set("randomise_questions = EXCLUDED.randomise_questions").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("upsert quiz %s: %w", quiz.ID, err)
		}

		if _, err := tx.NewDelete().Model((*questionRow)(nil)).Where("quiz_id = ?", quiz.ID).Exec(ctx); err != nil {
			return fmt.Errorf("clear questions %s: %w", quiz.ID, err)
		}
		if len(quiz.Questions) == 0 {
			return nil
		}
		rows := make([]questionRow, 0, len(quiz.Questions))
		for _, q := range quiz.Questions {
			rows = append(rows, questionRow{
				ID:                 q.ID,
				QuizID:             quiz.ID,
				QuestionText:       q.QuestionText,
				Options:            q.Options,
				CorrectOptionIndex: q.CorrectOptionIndex,
				OrderNum:           q.OrderNum,
			})
		}
		if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
			return fmt.Errorf("insert questions %s: %w", quiz.ID, err)
		}
		return nil
	})
}
