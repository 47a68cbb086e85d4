package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"evaliq-attempt-service/internal/domain"
	_ "modernc.org/sqlite" // driver: sqlite
)

const pragmas = "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

const defaultDSN = "file:evaliq.db?cache=shared&mode=rwc&" + pragmas

// DSN turns a database file path into a DSN with the pragmas the store relies on.
func DSN(path string) string {
	if path == "" {
		return defaultDSN
	}
	return "file:" + path + "?mode=rwc&" + pragmas
}

// Store is a single-node backend for quizzes and attempt records. It serves
// both as the quiz loader and as the attempt repository.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dsn and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one writer keeps sqlite away from SQLITE_BUSY under concurrent submits
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// LoadQuiz resolves ref as a share token first, then as a quiz id.
func (s *Store) LoadQuiz(ctx context.Context, ref string) (domain.Quiz, error) {
	var (
		quiz      domain.Quiz
		duration  sql.NullInt64
		questions string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, share_token, title, duration_minutes, max_retries, sharing_enabled,
		       show_answers, prevent_tab_switch, tab_switch_warnings, prevent_copy_paste,
		       randomise_questions, questions_json
		FROM quizzes
		WHERE share_token = ? OR id = ?
		ORDER BY (share_token = ?) DESC
		LIMIT 1`, ref, ref, ref).Scan(
		&quiz.ID, &quiz.ShareToken, &quiz.Title, &duration, &quiz.MaxRetries, &quiz.SharingEnabled,
		&quiz.ShowAnswers, &quiz.PreventTabSwitch, &quiz.TabSwitchWarnings, &quiz.PreventCopyPaste,
		&quiz.RandomiseQuestions, &questions,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}
	if duration.Valid {
		minutes := int(duration.Int64)
		quiz.DurationMinutes = &minutes
	}
	if err := json.Unmarshal([]byte(questions), &quiz.Questions); err != nil {
		return domain.Quiz{}, fmt.Errorf("decode questions: %w", err)
	}
	return quiz, nil
}

// SaveQuiz upserts a quiz with its questions.
func (s *Store) SaveQuiz(ctx context.Context, quiz domain.Quiz) error {
	if err := quiz.Validate(); err != nil {
		return err
	}
	questions, err := json.Marshal(quiz.Questions)
	if err != nil {
		return err
	}
	var duration sql.NullInt64
	if quiz.DurationMinutes != nil {
		duration = sql.NullInt64{Int64: int64(*quiz.DurationMinutes), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quizzes (id, share_token, title, duration_minutes, max_retries, sharing_enabled,
			show_answers, prevent_tab_switch, tab_switch_warnings, prevent_copy_paste,
			randomise_questions, questions_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			share_token = excluded.share_token,
			title = excluded.title,
			duration_minutes = excluded.duration_minutes,
			max_retries = excluded.max_retries,
			sharing_enabled = excluded.sharing_enabled,
			show_answers = excluded.show_answers,
			prevent_tab_switch = excluded.prevent_tab_switch,
			tab_switch_warnings = excluded.tab_switch_warnings,
			prevent_copy_paste = excluded.prevent_copy_paste,
			randomise_questions = excluded.randomise_questions,
			questions_json = excluded.questions_json`,
		quiz.ID, quiz.ShareToken, quiz.Title, duration, quiz.MaxRetries, quiz.SharingEnabled,
		quiz.ShowAnswers, quiz.PreventTabSwitch, quiz.WarningThreshold(), quiz.PreventCopyPaste,
		quiz.RandomiseQuestions, string(questions), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save quiz %s: %w", quiz.ID, err)
	}
	return nil
}

func (s *Store) InsertAttempt(ctx context.Context, rec domain.AttemptRecord) error {
	answers, err := json.Marshal(rec.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quiz_attempts (id, quiz_id, participant_name, answers_json, score,
			total_questions, time_taken_seconds, tab_switch_count, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.QuizID, rec.ParticipantName, string(answers), rec.Score,
		rec.TotalQuestions, rec.TimeTakenSeconds, rec.TabSwitchCount, rec.CompletedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// CountAttempts matches the participant name exactly (BINARY collation).
func (s *Store) CountAttempts(ctx context.Context, quizID, participantName string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM quiz_attempts WHERE quiz_id = ? AND participant_name = ?`,
		quizID, participantName,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}

// Attempts lists the records of a quiz, newest first.
func (s *Store) Attempts(ctx context.Context, quizID string) ([]domain.AttemptRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, quiz_id, participant_name, answers_json, score, total_questions,
		       time_taken_seconds, tab_switch_count, completed_at
		FROM quiz_attempts
		WHERE quiz_id = ?
		ORDER BY completed_at DESC`, quizID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var out []domain.AttemptRecord
	for rows.Next() {
		var (
			rec       domain.AttemptRecord
			answers   string
			completed int64
		)
		if err := rows.Scan(&rec.ID, &rec.QuizID, &rec.ParticipantName, &answers, &rec.Score,
			&rec.TotalQuestions, &rec.TimeTakenSeconds, &rec.TabSwitchCount, &completed); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		if err := json.Unmarshal([]byte(answers), &rec.Answers); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
		rec.CompletedAt = time.UnixMilli(completed).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

const schema = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS quizzes (
  id TEXT PRIMARY KEY,
  share_token TEXT NOT NULL UNIQUE,
  title TEXT NOT NULL DEFAULT '',
  duration_minutes INTEGER,
  max_retries INTEGER NOT NULL DEFAULT 0,
  sharing_enabled INTEGER NOT NULL DEFAULT 0,
  show_answers INTEGER NOT NULL DEFAULT 0,
  prevent_tab_switch INTEGER NOT NULL DEFAULT 0,
  tab_switch_warnings INTEGER NOT NULL DEFAULT 3,
  prevent_copy_paste INTEGER NOT NULL DEFAULT 0,
  randomise_questions INTEGER NOT NULL DEFAULT 0,
  questions_json TEXT NOT NULL,
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS quiz_attempts (
  id TEXT PRIMARY KEY,
  quiz_id TEXT NOT NULL REFERENCES quizzes(id) ON DELETE CASCADE,
  participant_name TEXT NOT NULL,
  answers_json TEXT NOT NULL,
  score INTEGER NOT NULL,
  total_questions INTEGER NOT NULL,
  time_taken_seconds INTEGER NOT NULL,
  tab_switch_count INTEGER NOT NULL DEFAULT 0,
  completed_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS quiz_attempts_identity_idx ON quiz_attempts(quiz_id, participant_name);
`
