package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"evaliq-attempt-service/internal/domain"
)

// Key names one value persisted for an attempt session. Each key is written by
// exactly one component, so the store never needs cross-key transactions.
type Key string

const (
	KeyParticipantName   Key = "participant_name"   // identity gate
	KeyStarted           Key = "started"            // identity gate
	KeyQuestionsSnapshot Key = "questions_snapshot" // identity gate, fixed per attempt
	KeyAnswers           Key = "answers"            // answer ledger
	KeyDeadline          Key = "deadline"           // countdown timer, unix millis
	KeyTabSwitchCount    Key = "tab_switch_count"   // integrity monitor
	KeySessionStartTime  Key = "session_start_time" // identity gate, unix millis
)

// SessionKeys lists every key owned by the engine.
var SessionKeys = []Key{
	KeyParticipantName,
	KeyStarted,
	KeyQuestionsSnapshot,
	KeyAnswers,
	KeyDeadline,
	KeyTabSwitchCount,
	KeySessionStartTime,
}

// attemptKeys are reset when a retry starts a fresh attempt for the same identity.
var attemptKeys = []Key{
	KeyQuestionsSnapshot,
	KeyAnswers,
	KeyDeadline,
	KeyTabSwitchCount,
	KeySessionStartTime,
}

// SessionStore is a durable key/value namespace for one attempt session.
// It survives process restarts when backed by Redis.
type SessionStore interface {
	Get(ctx context.Context, key Key) (string, bool, error)
	Set(ctx context.Context, key Key, value string) error
	// Incr atomically increments an integer key, treating a missing key as zero.
	Incr(ctx context.Context, key Key) (int64, error)
	Delete(ctx context.Context, keys ...Key) error
}

// SessionStoreProvider hands out the store namespace for a session.
type SessionStoreProvider interface {
	Session(namespace string) SessionStore
}

// persistedSession gives typed access to the engine's key set.
type persistedSession struct {
	store SessionStore
}

func (p persistedSession) participantName(ctx context.Context) (string, error) {
	v, _, err := p.store.Get(ctx, KeyParticipantName)
	return v, err
}

func (p persistedSession) setParticipantName(ctx context.Context, name string) error {
	return p.store.Set(ctx, KeyParticipantName, name)
}

func (p persistedSession) started(ctx context.Context) (bool, error) {
	v, ok, err := p.store.Get(ctx, KeyStarted)
	if err != nil || !ok {
		return false, err
	}
	return strconv.ParseBool(v)
}

func (p persistedSession) markStarted(ctx context.Context) error {
	return p.store.Set(ctx, KeyStarted, "true")
}

func (p persistedSession) questions(ctx context.Context) ([]domain.Question, error) {
	v, ok, err := p.store.Get(ctx, KeyQuestionsSnapshot)
	if err != nil || !ok {
		return nil, err
	}
	var questions []domain.Question
	if err := json.Unmarshal([]byte(v), &questions); err != nil {
		return nil, fmt.Errorf("decode questions snapshot: %w", err)
	}
	return questions, nil
}

func (p persistedSession) setQuestions(ctx context.Context, questions []domain.Question) error {
	data, err := json.Marshal(questions)
	if err != nil {
		return err
	}
	return p.store.Set(ctx, KeyQuestionsSnapshot, string(data))
}

func (p persistedSession) answers(ctx context.Context) (domain.Answers, error) {
	v, ok, err := p.store.Get(ctx, KeyAnswers)
	if err != nil {
		return nil, err
	}
	answers := domain.Answers{}
	if !ok {
		return answers, nil
	}
	if err := json.Unmarshal([]byte(v), &answers); err != nil {
		return nil, fmt.Errorf("decode answers: %w", err)
	}
	return answers, nil
}

func (p persistedSession) setAnswers(ctx context.Context, answers domain.Answers) error {
	data, err := json.Marshal(answers)
	if err != nil {
		return err
	}
	return p.store.Set(ctx, KeyAnswers, string(data))
}

func (p persistedSession) deadline(ctx context.Context) (time.Time, bool, error) {
	return p.timestamp(ctx, KeyDeadline)
}

func (p persistedSession) setDeadline(ctx context.Context, t time.Time) error {
	return p.store.Set(ctx, KeyDeadline, strconv.FormatInt(t.UnixMilli(), 10))
}

func (p persistedSession) startTime(ctx context.Context) (time.Time, bool, error) {
	return p.timestamp(ctx, KeySessionStartTime)
}

func (p persistedSession) setStartTime(ctx context.Context, t time.Time) error {
	return p.store.Set(ctx, KeySessionStartTime, strconv.FormatInt(t.UnixMilli(), 10))
}

func (p persistedSession) tabSwitches(ctx context.Context) (int, error) {
	v, ok, err := p.store.Get(ctx, KeyTabSwitchCount)
	if err != nil || !ok {
		return 0, err
	}
	return strconv.Atoi(v)
}

func (p persistedSession) incrTabSwitches(ctx context.Context) (int, error) {
	n, err := p.store.Incr(ctx, KeyTabSwitchCount)
	return int(n), err
}

func (p persistedSession) resetAttempt(ctx context.Context) error {
	return p.store.Delete(ctx, attemptKeys...)
}

func (p persistedSession) clear(ctx context.Context) error {
	return p.store.Delete(ctx, SessionKeys...)
}

func (p persistedSession) timestamp(ctx context.Context, key Key) (time.Time, bool, error) {
	v, ok, err := p.store.Get(ctx, key)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return time.UnixMilli(ms), true, nil
}
