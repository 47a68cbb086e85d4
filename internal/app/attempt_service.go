package app

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"evaliq-attempt-service/internal/domain"
	"github.com/google/uuid"
)

// QuizRepository loads quiz content by share token or id (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, ref string) (domain.Quiz, error)
}

// AttemptRepository is the remote store of completed attempts.
type AttemptRepository interface {
	InsertAttempt(ctx context.Context, rec domain.AttemptRecord) error
	CountAttempts(ctx context.Context, quizID, participantName string) (int, error)
}

// AttemptNotifier is told about every persisted attempt. Failures are logged only.
type AttemptNotifier interface {
	AttemptCompleted(ctx context.Context, rec domain.AttemptRecord) error
}

// Options tunes an AttemptService. Zero values pick production defaults.
type Options struct {
	Clock        Clock
	Notifier     AttemptNotifier
	FailOpen     bool
	TickInterval time.Duration
	// Perm returns a permutation of [0,n); used when a quiz randomises questions.
	Perm func(n int) []int
	// StoreTimeout bounds each remote call of a submission. Defaults to 10s.
	StoreTimeout time.Duration
	// ResultRetention keeps submitted sessions in memory after their last use.
	// Defaults to 2h and never drops below the sweep's idle period.
	ResultRetention time.Duration
}

const defaultResultRetention = 2 * time.Hour

// AttemptService keeps the live attempt sessions of this process.
type AttemptService struct {
	quizzes   QuizRepository
	stores    SessionStoreProvider
	deps      attemptDeps
	retention time.Duration // submitted sessions, see Sweep

	mu   sync.Mutex
	live map[string]*Attempt
}

func NewAttemptService(quizzes QuizRepository, records AttemptRepository, stores SessionStoreProvider, opts Options) *AttemptService {
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Perm == nil {
		opts.Perm = rand.Perm
	}
	if opts.ResultRetention <= 0 {
		opts.ResultRetention = defaultResultRetention
	}
	return &AttemptService{
		quizzes: quizzes,
		stores:  stores,
		deps: attemptDeps{
			gate:         NewRetryGate(records, opts.FailOpen),
			records:      records,
			notifier:     opts.Notifier,
			clock:        opts.Clock,
			perm:         opts.Perm,
			interval:     opts.TickInterval,
			storeTimeout: opts.StoreTimeout,
		},
		retention: opts.ResultRetention,
		live:      make(map[string]*Attempt),
	}
}

// Quiz resolves a shared quiz. Unknown and unshared quizzes look the same to callers.
func (s *AttemptService) Quiz(ctx context.Context, ref string) (domain.Quiz, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, ref)
	if err != nil {
		if errors.Is(err, domain.ErrQuizNotFound) {
			return domain.Quiz{}, domain.ErrQuizNotAvailable
		}
		return domain.Quiz{}, err
	}
	if !quiz.SharingEnabled {
		return domain.Quiz{}, domain.ErrQuizNotAvailable
	}
	return quiz, nil
}

// Open returns the live session for sessionID, resuming it from the session
// store when this process has not seen it yet. An empty sessionID creates a
// new session.
func (s *AttemptService) Open(ctx context.Context, ref, sessionID string) (*Attempt, error) {
	quiz, err := s.Quiz(ctx, ref)
	if err != nil {
		return nil, err
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	} else if _, err := uuid.Parse(sessionID); err != nil {
		return nil, domain.ErrSessionNotFound
	}

	key := namespace(quiz.ID, sessionID)
	if a, ok := s.lookup(key); ok {
		a.touch()
		return a, nil
	}

	a := newAttempt(sessionID, quiz, s.stores.Session(key), s.deps)
	if err := a.resume(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if existing, ok := s.live[key]; ok {
		s.mu.Unlock()
		existing.touch()
		return existing, nil
	}
	s.live[key] = a
	s.mu.Unlock()

	a.activate()
	return a, nil
}

// Get returns a live session without touching the store.
func (s *AttemptService) Get(quizID, sessionID string) (*Attempt, bool) {
	return s.lookup(namespace(quizID, sessionID))
}

// Release tears a session down and forgets it. Its persisted state stays so a
// later Open resumes it.
func (s *AttemptService) Release(quizID, sessionID string) {
	key := namespace(quizID, sessionID)
	s.mu.Lock()
	a, ok := s.live[key]
	if ok {
		delete(s.live, key)
	}
	s.mu.Unlock()
	if ok {
		a.Close()
	}
}

// Sweep releases sessions nobody has touched for idle. Sessions with a running
// countdown stay so their auto-submit still fires; submitted sessions stay for
// the result retention.
func (s *AttemptService) Sweep(idle time.Duration) int {
	now := s.deps.clock.Now()
	retention := s.retention
	if retention < idle {
		retention = idle
	}
	var evicted []*Attempt

	s.mu.Lock()
	for key, a := range s.live {
		if a.evictable(now, idle, retention) {
			delete(s.live, key)
			evicted = append(evicted, a)
		}
	}
	s.mu.Unlock()

	for _, a := range evicted {
		a.Close()
	}
	if len(evicted) > 0 {
		log.Printf("released %d idle attempt sessions", len(evicted))
	}
	return len(evicted)
}

// RunJanitor calls Sweep every interval until ctx is done.
func (s *AttemptService) RunJanitor(ctx context.Context, interval, idle time.Duration) {
	if interval <= 0 || idle <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(idle)
		}
	}
}

// Shutdown tears down every live session.
func (s *AttemptService) Shutdown() {
	s.mu.Lock()
	live := s.live
	s.live = make(map[string]*Attempt)
	s.mu.Unlock()
	for _, a := range live {
		a.Close()
	}
}

func (s *AttemptService) lookup(key string) (*Attempt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.live[key]
	return a, ok
}

// namespace scopes session store keys by quiz and session.
func namespace(quizID, sessionID string) string {
	return quizID + ":" + sessionID
}
