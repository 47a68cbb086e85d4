package app

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"evaliq-attempt-service/internal/domain"
	"github.com/google/uuid"
)

const (
	autoSubmitTimeout = 15 * time.Second
	// defaultStoreTimeout bounds each remote call a submission makes.
	defaultStoreTimeout = 10 * time.Second
)

// SubmitOptions describes one call into the submission coordinator.
type SubmitOptions struct {
	// Auto marks submissions fired by the timer or the integrity monitor.
	Auto   bool
	Reason domain.SubmitReason
	// Confirmed acknowledges unanswered questions on a manual submit.
	Confirmed bool
}

type attemptDeps struct {
	gate     *RetryGate
	records  AttemptRepository
	notifier AttemptNotifier
	clock    Clock
	perm     func(n int) []int
	interval time.Duration

	// storeTimeout bounds each remote call made while submitting.
	storeTimeout time.Duration
}

// Attempt is the session engine for one participant taking one quiz.
// State changes are serialized by mu. Calls to the remote store run with the
// lock released while the state machine sits in a transitional state
// (checking_eligibility, submitting, retrying), which is what keeps a
// submission single-flight.
type Attempt struct {
	id      string
	quiz    domain.Quiz
	session persistedSession
	attemptDeps

	mu          sync.Mutex
	state       domain.AttemptState
	participant string
	startedAt   time.Time
	deadline    time.Time
	questions   []domain.Question
	ledger      *AnswerLedger
	tabSwitches int
	eligibility domain.Eligibility
	result      *domain.Result
	countdown   *Countdown
	monitor     *IntegrityMonitor
	lastSeen    time.Time

	subMu       sync.Mutex
	subscribers map[chan domain.Event]struct{}
}

func newAttempt(id string, quiz domain.Quiz, store SessionStore, deps attemptDeps) *Attempt {
	session := persistedSession{store: store}
	return &Attempt{
		id:          id,
		quiz:        quiz,
		session:     session,
		attemptDeps: deps,
		state:       domain.StateGated,
		monitor:     newIntegrityMonitor(session, quiz.WarningThreshold()),
		lastSeen:    deps.clock.Now(),
		subscribers: make(map[chan domain.Event]struct{}),
	}
}

// ID is the session id the client presents to resume.
func (a *Attempt) ID() string { return a.id }

// Quiz returns the quiz this session is bound to.
func (a *Attempt) Quiz() domain.Quiz { return a.quiz }

// State returns the current disposition.
func (a *Attempt) State() domain.AttemptState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// resume rebuilds in-memory state from the session store after a reload.
func (a *Attempt) resume(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	name, err := a.session.participantName(ctx)
	if err != nil {
		return err
	}
	a.participant = name
	started, err := a.session.started(ctx)
	if err != nil {
		return err
	}
	if !started || name == "" {
		a.state = domain.StateGated
		return nil
	}

	questions, err := a.session.questions(ctx)
	if err != nil {
		return err
	}
	if len(questions) == 0 {
		questions = orderedQuestions(a.quiz)
	}
	answers, err := a.session.answers(ctx)
	if err != nil {
		return err
	}
	tabs, err := a.session.tabSwitches(ctx)
	if err != nil {
		return err
	}
	startedAt, ok, err := a.session.startTime(ctx)
	if err != nil {
		return err
	}
	if !ok {
		startedAt = a.clock.Now()
		if err := a.session.setStartTime(ctx, startedAt); err != nil {
			return err
		}
	}
	var deadline time.Time
	if a.quiz.Timed() {
		d, ok, err := a.session.deadline(ctx)
		if err != nil {
			return err
		}
		if !ok {
			d = startedAt.Add(a.quiz.Duration())
			if err := a.session.setDeadline(ctx, d); err != nil {
				return err
			}
		}
		deadline = d
	}

	a.questions = questions
	a.ledger = newAnswerLedger(a.session, questions, answers)
	a.tabSwitches = tabs
	a.startedAt = startedAt
	a.deadline = deadline
	a.eligibility = a.resumedEligibility(ctx, name)
	a.state = domain.StateActive
	return nil
}

// resumedEligibility recounts prior attempts for an attempt that was admitted
// before the reload. The attempt itself stays submittable, so Blocked is never
// set here; when the count is unavailable no retries are reported.
func (a *Attempt) resumedEligibility(ctx context.Context, name string) domain.Eligibility {
	elig, err := a.gate.Evaluate(ctx, a.quiz, name)
	if err != nil {
		return domain.Eligibility{}
	}
	elig.Blocked = false
	return elig
}

// activate subscribes the timer and monitor when the resumed session is active.
// An already elapsed deadline auto-submits on the first tick.
func (a *Attempt) activate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == domain.StateActive {
		a.armLocked()
	}
}

// Start is the identity gate: it persists the name, runs the retry gate and
// either activates the session or blocks it.
func (a *Attempt) Start(ctx context.Context, name string) (domain.Eligibility, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Eligibility{}, domain.ErrNameRequired
	}

	a.mu.Lock()
	switch a.state {
	case domain.StateGated:
	case domain.StateBlocked:
		elig := a.eligibility
		a.mu.Unlock()
		return elig, domain.ErrRetryExhausted
	default:
		elig := a.eligibility
		a.mu.Unlock()
		return elig, domain.ErrAlreadyStarted
	}
	if err := a.session.setParticipantName(ctx, name); err != nil {
		a.mu.Unlock()
		return domain.Eligibility{}, err
	}
	a.participant = name
	a.state = domain.StateCheckingEligibility
	a.mu.Unlock()

	elig, err := a.gate.Evaluate(ctx, a.quiz, name)

	a.mu.Lock()
	if err != nil {
		a.state = domain.StateGated
		a.mu.Unlock()
		return elig, err
	}
	a.eligibility = elig
	if elig.Blocked {
		a.state = domain.StateBlocked
		a.mu.Unlock()
		a.publishState()
		return elig, domain.ErrRetryExhausted
	}
	if err := a.beginLocked(ctx); err != nil {
		a.state = domain.StateGated
		a.mu.Unlock()
		return elig, err
	}
	a.mu.Unlock()

	log.Printf("attempt started quiz=%s session=%s", a.quiz.ID, a.id)
	a.publishState()
	return elig, nil
}

// SelectAnswer records an option for a question through the answer ledger.
func (a *Attempt) SelectAnswer(ctx context.Context, questionID string, optionIndex int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state {
	case domain.StateActive:
	case domain.StateSubmitting, domain.StateSubmitted:
		return domain.ErrAlreadySubmitted
	default:
		return domain.ErrSessionNotActive
	}
	if !a.deadline.IsZero() && !a.clock.Now().Before(a.deadline) {
		return domain.ErrSessionNotActive
	}
	return a.ledger.Select(ctx, questionID, optionIndex)
}

// ReportVisibility feeds a visibility change to the integrity monitor. Reaching
// the warning threshold auto-submits the attempt.
func (a *Attempt) ReportVisibility(ctx context.Context, hidden bool) (*domain.Warning, error) {
	a.mu.Lock()
	if a.state != domain.StateActive {
		a.mu.Unlock()
		return nil, nil
	}
	warning, err := a.monitor.Observe(ctx, hidden)
	if err != nil || warning == nil {
		a.mu.Unlock()
		return warning, err
	}
	if warning.Count > a.tabSwitches {
		a.tabSwitches = warning.Count
	}
	a.mu.Unlock()

	a.publish(domain.Event{Type: domain.EventWarning, Payload: *warning})
	if warning.Breached {
		if _, err := a.Submit(ctx, SubmitOptions{Auto: true, Reason: domain.ReasonIntegrity}); err != nil && !benignSubmitError(err) {
			log.Printf("integrity auto-submit quiz=%s session=%s: %v", a.quiz.ID, a.id, err)
		}
	}
	return warning, nil
}

// Submit is the submission coordinator. The transition to submitting happens
// under the lock before any remote call, so concurrent triggers (timer,
// monitor, clicks) produce at most one attempt record.
func (a *Attempt) Submit(ctx context.Context, opts SubmitOptions) (domain.Result, error) {
	if opts.Reason == "" {
		opts.Reason = domain.ReasonManual
	}

	a.mu.Lock()
	if a.eligibility.Blocked {
		res := a.resultLocked()
		a.mu.Unlock()
		return res, domain.ErrRetryExhausted
	}
	switch a.state {
	case domain.StateActive:
	case domain.StateSubmitting:
		a.mu.Unlock()
		return domain.Result{}, domain.ErrSubmissionInProgress
	case domain.StateSubmitted:
		res := a.resultLocked()
		a.mu.Unlock()
		return res, domain.ErrAlreadySubmitted
	default:
		a.mu.Unlock()
		return domain.Result{}, domain.ErrSessionNotActive
	}

	answers, questions, err := a.resolveLocked(ctx)
	if err != nil {
		a.mu.Unlock()
		return domain.Result{}, err
	}
	if !opts.Auto && !opts.Confirmed {
		if open := unanswered(answers, questions); open > 0 {
			a.mu.Unlock()
			return domain.Result{}, &domain.UnansweredError{Count: open}
		}
	}

	a.state = domain.StateSubmitting
	a.disarmLocked()
	participant := a.participant
	tabs := a.tabSwitches
	deadline := a.deadline
	startedAt := a.startedAt
	now := a.clock.Now()
	a.mu.Unlock()
	a.publishState()

	// The write must finish even if the triggering request goes away, but a
	// stalled store must not pin the session in submitting.
	ctx = context.WithoutCancel(ctx)

	record := domain.AttemptRecord{
		ID:               uuid.NewString(),
		QuizID:           a.quiz.ID,
		ParticipantName:  participant,
		Answers:          answers,
		Score:            Score(answers, questions),
		TotalQuestions:   len(questions),
		TimeTakenSeconds: TimeTaken(a.quiz.Duration(), deadline, startedAt, now),
		TabSwitchCount:   tabs,
		CompletedAt:      now.UTC(),
	}

	persisted := true
	insertCtx, cancel := a.storeContext(ctx)
	err = a.records.InsertAttempt(insertCtx, record)
	cancel()
	if err != nil {
		// No outbox: the score is still shown even though it was not stored.
		log.Printf("insert attempt quiz=%s session=%s: %v", a.quiz.ID, a.id, err)
		persisted = false
	}

	gateCtx, cancel := a.storeContext(ctx)
	elig, err := a.gate.Evaluate(gateCtx, a.quiz, participant)
	cancel()
	if err != nil {
		log.Printf("refresh eligibility quiz=%s session=%s: %v", a.quiz.ID, a.id, err)
	}

	clearCtx, cancel := a.storeContext(ctx)
	if err := a.session.clear(clearCtx); err != nil {
		log.Printf("clear session %s: %v", a.id, err)
	}
	cancel()

	result := domain.Result{
		Score:            record.Score,
		TotalQuestions:   record.TotalQuestions,
		TimeTakenSeconds: record.TimeTakenSeconds,
		TabSwitchCount:   record.TabSwitchCount,
		Reason:           opts.Reason,
		Persisted:        persisted,
		RetriesLeft:      elig.RetriesLeft,
		Blocked:          elig.Blocked,
		CompletedAt:      record.CompletedAt,
	}
	if a.quiz.ShowAnswers {
		result.Review = review(answers, questions)
	}

	a.mu.Lock()
	a.eligibility = elig
	a.result = &result
	a.state = domain.StateSubmitted
	a.lastSeen = a.clock.Now()
	a.mu.Unlock()

	if persisted && a.notifier != nil {
		go a.notify(ctx, record)
	}

	log.Printf("attempt submitted quiz=%s session=%s reason=%s score=%d/%d", a.quiz.ID, a.id, opts.Reason, result.Score, result.TotalQuestions)
	a.publish(domain.Event{Type: domain.EventSubmitted, Payload: result})
	a.publishState()
	return result, nil
}

// Retry starts a fresh attempt for the same identity when the retry gate
// still allows one. Blocked is forced while the gate is being re-evaluated.
func (a *Attempt) Retry(ctx context.Context) (domain.Eligibility, error) {
	a.mu.Lock()
	switch a.state {
	case domain.StateSubmitted:
	case domain.StateBlocked:
		elig := a.eligibility
		a.mu.Unlock()
		return elig, domain.ErrRetryExhausted
	default:
		elig := a.eligibility
		a.mu.Unlock()
		return elig, domain.ErrRetryNotAllowed
	}
	a.state = domain.StateRetrying
	a.eligibility.Blocked = true
	participant := a.participant
	a.mu.Unlock()

	elig, err := a.gate.Evaluate(ctx, a.quiz, participant)

	a.mu.Lock()
	a.eligibility = elig
	if err != nil || elig.Blocked {
		a.state = domain.StateSubmitted
		if a.result != nil {
			a.result.Blocked = elig.Blocked
			a.result.RetriesLeft = elig.RetriesLeft
		}
		a.mu.Unlock()
		if err != nil {
			return elig, err
		}
		return elig, domain.ErrRetryExhausted
	}
	if err := a.beginLocked(ctx); err != nil {
		a.state = domain.StateSubmitted
		a.mu.Unlock()
		return elig, err
	}
	a.mu.Unlock()

	log.Printf("attempt retried quiz=%s session=%s retries_left=%d", a.quiz.ID, a.id, elig.RetriesLeft)
	a.publishState()
	return elig, nil
}

// View snapshots the session for clients.
func (a *Attempt) View() domain.SessionView {
	a.mu.Lock()
	defer a.mu.Unlock()

	view := domain.SessionView{
		SessionID:       a.id,
		Quiz:            a.quiz.Info(),
		State:           a.state,
		ParticipantName: a.participant,
		TabSwitchCount:  a.tabSwitches,
		Eligibility:     a.eligibility,
	}
	if a.ledger != nil && (a.state == domain.StateActive || a.state == domain.StateSubmitting) {
		view.Questions = questionViews(a.questions)
		view.Answers = a.ledger.Answers()
		view.Unanswered = a.ledger.UnansweredCount()
		if !a.deadline.IsZero() {
			secs := remainingSeconds(a.deadline.Sub(a.clock.Now()))
			view.RemainingSeconds = &secs
		}
	}
	if a.result != nil && a.state == domain.StateSubmitted {
		res := *a.result
		view.Result = &res
	}
	return view
}

// Subscribe returns a channel of session events, starting with the current state.
// The caller must invoke the returned cancel function to avoid leaks.
func (a *Attempt) Subscribe() (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, 8)
	initial := domain.Event{Type: domain.EventState, Payload: a.View()}

	a.subMu.Lock()
	a.subscribers[ch] = struct{}{}
	ch <- initial
	a.subMu.Unlock()

	cancel := func() {
		a.subMu.Lock()
		if _, ok := a.subscribers[ch]; ok {
			delete(a.subscribers, ch)
			close(ch)
		}
		a.subMu.Unlock()
	}
	return ch, cancel
}

// Close tears the session down: timer and monitor are unsubscribed and
// subscribers are released. Persisted state is left for a later resume.
func (a *Attempt) Close() {
	a.mu.Lock()
	a.disarmLocked()
	a.mu.Unlock()

	a.subMu.Lock()
	for ch := range a.subscribers {
		delete(a.subscribers, ch)
		close(ch)
	}
	a.subMu.Unlock()
}

func (a *Attempt) touch() {
	a.mu.Lock()
	a.lastSeen = a.clock.Now()
	a.mu.Unlock()
}

// evictable reports whether the session can be dropped from memory without
// losing a pending auto-submit. A submitted session is kept for retention so
// its result stays visible; once released it resumes as gated, and the
// participant re-enters through the identity gate.
func (a *Attempt) evictable(now time.Time, idle, retention time.Duration) bool {
	a.subMu.Lock()
	watched := len(a.subscribers) > 0
	a.subMu.Unlock()
	if watched {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if now.Sub(a.lastSeen) < idle {
		return false
	}
	switch a.state {
	case domain.StateCheckingEligibility, domain.StateSubmitting, domain.StateRetrying:
		return false
	case domain.StateActive:
		return a.deadline.IsZero()
	case domain.StateSubmitted:
		// the result (and the retry button) outlive ordinary idle sessions
		return now.Sub(a.lastSeen) >= retention
	}
	return true
}

func (a *Attempt) beginLocked(ctx context.Context) error {
	now := a.clock.Now()
	questions := a.arrange()

	if err := a.session.resetAttempt(ctx); err != nil {
		return err
	}
	if err := a.session.setParticipantName(ctx, a.participant); err != nil {
		return err
	}
	if err := a.session.setQuestions(ctx, questions); err != nil {
		return err
	}
	if err := a.session.setStartTime(ctx, now); err != nil {
		return err
	}
	var deadline time.Time
	if a.quiz.Timed() {
		deadline = now.Add(a.quiz.Duration())
		if err := a.session.setDeadline(ctx, deadline); err != nil {
			return err
		}
	}
	if err := a.session.markStarted(ctx); err != nil {
		return err
	}

	a.questions = questions
	a.ledger = newAnswerLedger(a.session, questions, nil)
	a.tabSwitches = 0
	a.startedAt = now
	a.deadline = deadline
	a.result = nil
	a.state = domain.StateActive
	a.armLocked()
	return nil
}

func (a *Attempt) armLocked() {
	if a.quiz.PreventTabSwitch {
		a.monitor.Arm()
	}
	if !a.deadline.IsZero() && a.countdown == nil {
		a.countdown = NewCountdown(a.deadline, a.clock, a.interval, a.publishTick, a.expire)
		a.countdown.Start()
	}
}

func (a *Attempt) disarmLocked() {
	a.monitor.Disarm()
	if a.countdown != nil {
		a.countdown.Stop()
		a.countdown = nil
	}
}

// resolveLocked prefers in-memory state and falls back to the session store.
func (a *Attempt) resolveLocked(ctx context.Context) (domain.Answers, []domain.Question, error) {
	if a.ledger != nil && len(a.questions) > 0 {
		return a.ledger.Answers(), a.questions, nil
	}
	questions, err := a.session.questions(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(questions) == 0 {
		questions = orderedQuestions(a.quiz)
	}
	answers, err := a.session.answers(ctx)
	if err != nil {
		return nil, nil, err
	}
	return answers, questions, nil
}

func (a *Attempt) resultLocked() domain.Result {
	if a.result == nil {
		return domain.Result{Blocked: a.eligibility.Blocked, RetriesLeft: a.eligibility.RetriesLeft}
	}
	return *a.result
}

// arrange fixes the presentation order for one attempt.
func (a *Attempt) arrange() []domain.Question {
	ordered := orderedQuestions(a.quiz)
	if !a.quiz.RandomiseQuestions || a.perm == nil {
		return ordered
	}
	shuffled := make([]domain.Question, len(ordered))
	for i, j := range a.perm(len(ordered)) {
		shuffled[i] = ordered[j]
	}
	return shuffled
}

func (a *Attempt) expire() {
	ctx, cancel := context.WithTimeout(context.Background(), autoSubmitTimeout)
	defer cancel()
	if _, err := a.Submit(ctx, SubmitOptions{Auto: true, Reason: domain.ReasonTimer}); err != nil && !benignSubmitError(err) {
		log.Printf("timer auto-submit quiz=%s session=%s: %v", a.quiz.ID, a.id, err)
	}
}

// notify runs after the terminal transition; a slow broker only delays the event.
func (a *Attempt) notify(ctx context.Context, record domain.AttemptRecord) {
	ctx, cancel := a.storeContext(ctx)
	defer cancel()
	if err := a.notifier.AttemptCompleted(ctx, record); err != nil {
		log.Printf("notify attempt %s: %v", record.ID, err)
	}
}

func (a *Attempt) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := a.storeTimeout
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func (a *Attempt) publishTick(remaining time.Duration) {
	a.publish(domain.Event{Type: domain.EventTimer, Payload: domain.TimerTick{RemainingSeconds: remainingSeconds(remaining)}})
}

func (a *Attempt) publishState() {
	a.publish(domain.Event{Type: domain.EventState, Payload: a.View()})
}

func (a *Attempt) publish(ev domain.Event) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	for ch := range a.subscribers {
		select {
		case ch <- ev:
		default:
			// slow subscriber: drop the oldest pending event
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
	}
}

func orderedQuestions(quiz domain.Quiz) []domain.Question {
	out := make([]domain.Question, len(quiz.Questions))
	copy(out, quiz.Questions)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OrderNum < out[j].OrderNum
	})
	return out
}

func questionViews(questions []domain.Question) []domain.QuestionView {
	views := make([]domain.QuestionView, 0, len(questions))
	for _, q := range questions {
		opts := make([]string, len(q.Options))
		copy(opts, q.Options)
		views = append(views, domain.QuestionView{
			ID:           q.ID,
			QuestionText: q.QuestionText,
			Options:      opts,
			OrderNum:     q.OrderNum,
		})
	}
	return views
}

func unanswered(answers domain.Answers, questions []domain.Question) int {
	open := 0
	for _, q := range questions {
		if _, ok := answers[q.ID]; !ok {
			open++
		}
	}
	return open
}

func benignSubmitError(err error) bool {
	return errors.Is(err, domain.ErrAlreadySubmitted) ||
		errors.Is(err, domain.ErrSubmissionInProgress) ||
		errors.Is(err, domain.ErrRetryExhausted) ||
		errors.Is(err, domain.ErrSessionNotActive)
}
