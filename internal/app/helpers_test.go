package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"evaliq-attempt-service/internal/app"
	"evaliq-attempt-service/internal/domain"
	"evaliq-attempt-service/internal/infra/memory"
)

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTicker(time.Duration) app.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	return t
}

// Advance moves time forward and fires every live ticker once.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	tickers := append([]*fakeTicker(nil), c.tickers...)
	c.mu.Unlock()
	for _, t := range tickers {
		t.fire(now)
	}
}

type fakeTicker struct {
	mu      sync.Mutex
	ch      chan time.Time
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *fakeTicker) fire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	select {
	case t.ch <- now:
	default:
	}
}

type harness struct {
	clock   *fakeClock
	records *memory.AttemptRepository
	stores  *memory.SessionStore
	quizzes *memory.QuizRepository
	service *app.AttemptService
}

func newHarness(t *testing.T, failOpen bool, quizzes ...domain.Quiz) *harness {
	t.Helper()
	h := &harness{
		clock:   newFakeClock(),
		records: memory.NewAttemptRepository(),
		stores:  memory.NewSessionStore(),
	}
	h.quizzes = memory.NewQuizRepository(memory.NewStaticQuizLoader(quizzes...), time.Minute)
	h.service = h.newService(t, h.records, func(o *app.Options) { o.FailOpen = failOpen })
	return h
}

// newService builds another service over the harness stores, as a second
// process or a restarted one would see them.
func (h *harness) newService(t *testing.T, records app.AttemptRepository, tune func(*app.Options)) *app.AttemptService {
	t.Helper()
	opts := app.Options{
		Clock:        h.clock,
		TickInterval: time.Second,
		Perm:         reversePerm,
	}
	if tune != nil {
		tune(&opts)
	}
	svc := app.NewAttemptService(h.quizzes, records, h.stores, opts)
	t.Cleanup(svc.Shutdown)
	return svc
}

func (h *harness) open(t *testing.T, ref, sessionID string) *app.Attempt {
	t.Helper()
	a, err := h.service.Open(context.Background(), ref, sessionID)
	if err != nil {
		t.Fatalf("open %s/%s: %v", ref, sessionID, err)
	}
	return a
}

func (h *harness) start(t *testing.T, ref, name string) *app.Attempt {
	t.Helper()
	a := h.open(t, ref, "")
	if _, err := a.Start(context.Background(), name); err != nil {
		t.Fatalf("start %s: %v", name, err)
	}
	return a
}

func reversePerm(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = n - 1 - i
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func minutes(n int) *int { return &n }

func testQuiz(id string, questions int) domain.Quiz {
	quiz := domain.Quiz{
		ID:             id,
		ShareToken:     "share-" + id,
		Title:          "Quiz " + id,
		SharingEnabled: true,
		MaxRetries:     2,
	}
	for i := 1; i <= questions; i++ {
		quiz.Questions = append(quiz.Questions, domain.Question{
			ID:                 qid(i),
			QuestionText:       "Question " + qid(i),
			Options:            []string{"a", "b", "c", "d"},
			CorrectOptionIndex: i % domain.OptionCount,
			OrderNum:           i,
		})
	}
	return quiz
}

func qid(i int) string {
	return "q" + string(rune('0'+i))
}

// stallingRepository blocks inserts until the caller's context ends.
type stallingRepository struct {
	*memory.AttemptRepository
}

func (r stallingRepository) InsertAttempt(ctx context.Context, _ domain.AttemptRecord) error {
	<-ctx.Done()
	return ctx.Err()
}

// stallingNotifier blocks until the caller's context ends and reports why.
type stallingNotifier struct {
	done chan error
}

func (n stallingNotifier) AttemptCompleted(ctx context.Context, _ domain.AttemptRecord) error {
	<-ctx.Done()
	n.done <- ctx.Err()
	return ctx.Err()
}
