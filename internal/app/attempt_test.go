package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"evaliq-attempt-service/internal/app"
	"evaliq-attempt-service/internal/domain"
)

func TestUntimedAttemptSubmitsAfterConfirmation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false, testQuiz("quiz-1", 3))

	a := h.open(t, "share-quiz-1", "")
	if a.State() != domain.StateGated {
		t.Fatalf("expected gated, got %s", a.State())
	}
	elig, err := a.Start(ctx, "Ada")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if elig.RetriesLeft != 2 || elig.Blocked {
		t.Fatalf("unexpected eligibility %+v", elig)
	}

	if err := a.SelectAnswer(ctx, "q1", 1); err != nil { // correct
		t.Fatalf("select q1: %v", err)
	}
	if err := a.SelectAnswer(ctx, "q2", 0); err != nil { // wrong
		t.Fatalf("select q2: %v", err)
	}
	h.clock.Advance(42 * time.Second)

	_, err = a.Submit(ctx, app.SubmitOptions{})
	var unanswered *domain.UnansweredError
	if !errors.As(err, &unanswered) || unanswered.Count != 1 {
		t.Fatalf("expected one unanswered question, got %v", err)
	}
	if a.State() != domain.StateActive {
		t.Fatalf("expected still active, got %s", a.State())
	}

	res, err := a.Submit(ctx, app.SubmitOptions{Confirmed: true})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Score != 1 || res.TotalQuestions != 3 {
		t.Fatalf("expected 1/3, got %d/%d", res.Score, res.TotalQuestions)
	}
	if res.TimeTakenSeconds != 42 {
		t.Fatalf("expected 42s, got %d", res.TimeTakenSeconds)
	}
	if !res.Persisted || res.RetriesLeft != 1 || res.Blocked {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Review != nil {
		t.Fatalf("expected no review when answers are hidden")
	}

	records := h.records.Records()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].ParticipantName != "Ada" || records[0].Answers["q2"] != 0 {
		t.Fatalf("unexpected record %+v", records[0])
	}
	if h.stores.Len() != 0 {
		t.Fatalf("expected session store cleared, %d namespaces left", h.stores.Len())
	}
	if err := a.SelectAnswer(ctx, "q3", 0); !errors.Is(err, domain.ErrAlreadySubmitted) {
		t.Fatalf("expected already submitted, got %v", err)
	}
	if _, err := a.Submit(ctx, app.SubmitOptions{Confirmed: true}); !errors.Is(err, domain.ErrAlreadySubmitted) {
		t.Fatalf("expected second submit rejected, got %v", err)
	}
}

func TestTimerAutoSubmitsAtDeadline(t *testing.T) {
	quiz := testQuiz("quiz-1", 2)
	quiz.DurationMinutes = minutes(1)
	h := newHarness(t, false, quiz)

	a := h.start(t, "quiz-1", "Ada")
	if err := a.SelectAnswer(context.Background(), "q1", 1); err != nil {
		t.Fatalf("select: %v", err)
	}
	view := a.View()
	if view.RemainingSeconds == nil || *view.RemainingSeconds != 60 {
		t.Fatalf("expected 60s remaining, got %v", view.RemainingSeconds)
	}

	h.clock.Advance(61 * time.Second)
	waitFor(t, "timer submission", func() bool { return a.State() == domain.StateSubmitted })

	res := a.View().Result
	if res == nil || res.Reason != domain.ReasonTimer {
		t.Fatalf("expected timer result, got %+v", res)
	}
	if res.Score != 1 || res.TimeTakenSeconds != 60 {
		t.Fatalf("expected score 1 in 60s, got %+v", res)
	}
	if n := len(h.records.Records()); n != 1 {
		t.Fatalf("expected exactly one record, got %d", n)
	}
	if err := a.SelectAnswer(context.Background(), "q2", 2); !errors.Is(err, domain.ErrAlreadySubmitted) {
		t.Fatalf("expected already submitted, got %v", err)
	}
}

func TestResumeRestoresAnswersAndDeadline(t *testing.T) {
	ctx := context.Background()
	quiz := testQuiz("quiz-1", 3)
	quiz.DurationMinutes = minutes(1)
	quiz.RandomiseQuestions = true
	h := newHarness(t, false, quiz)

	a := h.start(t, "quiz-1", "Ada")
	first := a.View().Questions
	if first[0].ID != "q3" {
		t.Fatalf("expected shuffled order starting at q3, got %s", first[0].ID)
	}
	if err := a.SelectAnswer(ctx, "q2", 3); err != nil {
		t.Fatalf("select: %v", err)
	}
	h.clock.Advance(20 * time.Second)

	// simulate a reload: this process forgets the session
	h.service.Release("quiz-1", a.ID())

	resumed := h.open(t, "quiz-1", a.ID())
	if resumed == a {
		t.Fatalf("expected a fresh session object")
	}
	view := resumed.View()
	if view.State != domain.StateActive || view.ParticipantName != "Ada" {
		t.Fatalf("expected active session for Ada, got %s %q", view.State, view.ParticipantName)
	}
	if view.Answers["q2"] != 3 || view.Unanswered != 2 {
		t.Fatalf("expected answers restored, got %+v unanswered=%d", view.Answers, view.Unanswered)
	}
	if view.RemainingSeconds == nil || *view.RemainingSeconds != 40 {
		t.Fatalf("expected 40s remaining, got %v", view.RemainingSeconds)
	}
	for i, q := range view.Questions {
		if q.ID != first[i].ID {
			t.Fatalf("question order changed on resume at %d: %s vs %s", i, q.ID, first[i].ID)
		}
	}
}

func TestResumeAfterDeadlineAutoSubmits(t *testing.T) {
	quiz := testQuiz("quiz-1", 1)
	quiz.DurationMinutes = minutes(1)
	h := newHarness(t, false, quiz)

	a := h.start(t, "quiz-1", "Ada")
	h.service.Release("quiz-1", a.ID())
	h.clock.Advance(5 * time.Minute)

	resumed := h.open(t, "quiz-1", a.ID())
	waitFor(t, "auto-submit on resume", func() bool { return resumed.State() == domain.StateSubmitted })
	if n := len(h.records.Records()); n != 1 {
		t.Fatalf("expected one record, got %d", n)
	}
}

func TestResumeBeforeStartKeepsName(t *testing.T) {
	h := newHarness(t, false, testQuiz("quiz-1", 1))
	a := h.open(t, "quiz-1", "")

	_, err := a.Start(context.Background(), "   ")
	if !errors.Is(err, domain.ErrNameRequired) {
		t.Fatalf("expected name required, got %v", err)
	}
	if a.State() != domain.StateGated {
		t.Fatalf("expected gated, got %s", a.State())
	}
}

func TestIntegrityMonitorForcesSubmission(t *testing.T) {
	ctx := context.Background()
	quiz := testQuiz("quiz-1", 2)
	quiz.PreventTabSwitch = true
	quiz.TabSwitchWarnings = 3
	h := newHarness(t, false, quiz)
	a := h.start(t, "quiz-1", "Ada")

	for i := 1; i <= 2; i++ {
		w, err := a.ReportVisibility(ctx, true)
		if err != nil {
			t.Fatalf("visibility: %v", err)
		}
		if w == nil || w.Count != i || w.Remaining != 3-i || w.Breached {
			t.Fatalf("unexpected warning %d: %+v", i, w)
		}
		if w, _ := a.ReportVisibility(ctx, false); w != nil {
			t.Fatalf("visible transitions must not count, got %+v", w)
		}
	}

	w, err := a.ReportVisibility(ctx, true)
	if err != nil {
		t.Fatalf("visibility: %v", err)
	}
	if !w.Breached || w.Count != 3 {
		t.Fatalf("expected breach at 3, got %+v", w)
	}
	if a.State() != domain.StateSubmitted {
		t.Fatalf("expected submitted, got %s", a.State())
	}
	res := a.View().Result
	if res.Reason != domain.ReasonIntegrity || res.TabSwitchCount != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
	records := h.records.Records()
	if len(records) != 1 || records[0].TabSwitchCount != 3 {
		t.Fatalf("expected one record with 3 switches, got %+v", records)
	}

	if w, _ := a.ReportVisibility(ctx, true); w != nil {
		t.Fatalf("expected monitor disarmed after submit, got %+v", w)
	}
}

func TestIntegrityMonitorIdleWhenDisabled(t *testing.T) {
	h := newHarness(t, false, testQuiz("quiz-1", 1))
	a := h.start(t, "quiz-1", "Ada")

	for i := 0; i < 5; i++ {
		if w, err := a.ReportVisibility(context.Background(), true); err != nil || w != nil {
			t.Fatalf("expected no warning, got %+v err=%v", w, err)
		}
	}
	if a.State() != domain.StateActive {
		t.Fatalf("expected active, got %s", a.State())
	}
}

func TestRetryBudgetIsEnforced(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false, testQuiz("quiz-1", 1))

	a := h.start(t, "quiz-1", "Ada")
	if _, err := a.Submit(ctx, app.SubmitOptions{Confirmed: true}); err != nil {
		t.Fatalf("submit 1: %v", err)
	}

	elig, err := a.Retry(ctx)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if elig.RetriesLeft != 1 || a.State() != domain.StateActive {
		t.Fatalf("expected active with 1 retry left, got %+v %s", elig, a.State())
	}
	if a.View().Answers["q1"] != 0 || a.View().Unanswered != 1 {
		t.Fatalf("expected fresh ledger after retry")
	}

	res, err := a.Submit(ctx, app.SubmitOptions{Confirmed: true})
	if err != nil {
		t.Fatalf("submit 2: %v", err)
	}
	if !res.Blocked || res.RetriesLeft != 0 {
		t.Fatalf("expected blocked after second attempt, got %+v", res)
	}

	if _, err := a.Retry(ctx); !errors.Is(err, domain.ErrRetryExhausted) {
		t.Fatalf("expected retry exhausted, got %v", err)
	}
	if a.State() != domain.StateSubmitted {
		t.Fatalf("expected to stay submitted, got %s", a.State())
	}

	// a brand new session for the same identity cannot reach active
	fresh := h.open(t, "quiz-1", "")
	if _, err := fresh.Start(ctx, " Ada "); !errors.Is(err, domain.ErrRetryExhausted) {
		t.Fatalf("expected blocked identity, got %v", err)
	}
	if fresh.State() != domain.StateBlocked {
		t.Fatalf("expected blocked, got %s", fresh.State())
	}
	if _, err := fresh.Submit(ctx, app.SubmitOptions{Confirmed: true}); !errors.Is(err, domain.ErrRetryExhausted) {
		t.Fatalf("expected submit refused while blocked, got %v", err)
	}

	// identity is case sensitive
	other := h.open(t, "quiz-1", "")
	if _, err := other.Start(ctx, "ada"); err != nil {
		t.Fatalf("expected distinct identity to start, got %v", err)
	}
	if n := len(h.records.Records()); n != 2 {
		t.Fatalf("expected 2 records, got %d", n)
	}
}

func TestZeroRetriesAllowsOneAttempt(t *testing.T) {
	ctx := context.Background()
	quiz := testQuiz("quiz-1", 1)
	quiz.MaxRetries = 0
	h := newHarness(t, false, quiz)

	a := h.start(t, "quiz-1", "Ada")
	res, err := a.Submit(ctx, app.SubmitOptions{Confirmed: true})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.Blocked {
		t.Fatalf("expected blocked after the single attempt")
	}
	if _, err := a.Retry(ctx); !errors.Is(err, domain.ErrRetryExhausted) {
		t.Fatalf("expected retry exhausted, got %v", err)
	}
}

func TestRetryRequiresSubmission(t *testing.T) {
	h := newHarness(t, false, testQuiz("quiz-1", 1))
	a := h.start(t, "quiz-1", "Ada")
	if _, err := a.Retry(context.Background()); !errors.Is(err, domain.ErrRetryNotAllowed) {
		t.Fatalf("expected retry not allowed, got %v", err)
	}
	if _, err := a.Start(context.Background(), "Ada"); !errors.Is(err, domain.ErrAlreadyStarted) {
		t.Fatalf("expected already started, got %v", err)
	}
}

func TestConcurrentSubmitsProduceOneRecord(t *testing.T) {
	quiz := testQuiz("quiz-1", 2)
	quiz.DurationMinutes = minutes(5)
	quiz.PreventTabSwitch = true
	quiz.TabSwitchWarnings = 1
	h := newHarness(t, false, quiz)
	a := h.start(t, "quiz-1", "Ada")

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			switch i % 3 {
			case 0:
				_, err = a.Submit(context.Background(), app.SubmitOptions{Confirmed: true})
			case 1:
				_, err = a.Submit(context.Background(), app.SubmitOptions{Auto: true, Reason: domain.ReasonTimer})
			default:
				_, err = a.ReportVisibility(context.Background(), true)
				return
			}
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			if !errors.Is(err, domain.ErrAlreadySubmitted) && !errors.Is(err, domain.ErrSubmissionInProgress) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	h.clock.Advance(10 * time.Minute)
	wg.Wait()

	waitFor(t, "submitted", func() bool { return a.State() == domain.StateSubmitted })
	if n := len(h.records.Records()); n != 1 {
		t.Fatalf("expected exactly one record, got %d", n)
	}
	if successes > 1 {
		t.Fatalf("expected at most one successful direct submit, got %d", successes)
	}
}

func TestEligibilityFailsClosed(t *testing.T) {
	h := newHarness(t, false, testQuiz("quiz-1", 1))
	h.records.SetFailure(errors.New("connection refused"))

	a := h.open(t, "quiz-1", "")
	elig, err := a.Start(context.Background(), "Ada")
	if !errors.Is(err, domain.ErrEligibilityUnavailable) {
		t.Fatalf("expected eligibility unavailable, got %v", err)
	}
	if !elig.Blocked {
		t.Fatalf("expected blocked verdict while store unreachable")
	}
	if a.State() != domain.StateGated {
		t.Fatalf("expected to return to gated, got %s", a.State())
	}

	h.records.SetFailure(nil)
	if _, err := a.Start(context.Background(), "Ada"); err != nil {
		t.Fatalf("expected start after recovery, got %v", err)
	}
}

func TestEligibilityFailOpen(t *testing.T) {
	h := newHarness(t, true, testQuiz("quiz-1", 1))
	h.records.SetFailure(errors.New("connection refused"))

	a := h.open(t, "quiz-1", "")
	if _, err := a.Start(context.Background(), "Ada"); err != nil {
		t.Fatalf("expected fail-open start, got %v", err)
	}
}

func TestFailedInsertStillShowsResult(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false, testQuiz("quiz-1", 1))
	a := h.start(t, "quiz-1", "Ada")
	if err := a.SelectAnswer(ctx, "q1", 1); err != nil {
		t.Fatalf("select: %v", err)
	}

	h.records.SetFailure(errors.New("timeout"))
	res, err := a.Submit(ctx, app.SubmitOptions{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Persisted || res.Score != 1 {
		t.Fatalf("expected unpersisted 1/1 result, got %+v", res)
	}
	if !res.Blocked {
		t.Fatalf("expected blocked while the gate cannot be evaluated")
	}
	if h.stores.Len() != 0 {
		t.Fatalf("expected session cleared even without a record")
	}

	// retry re-runs the gate once the store is back
	h.records.SetFailure(nil)
	if _, err := a.Retry(ctx); err != nil {
		t.Fatalf("retry after recovery: %v", err)
	}
	if a.State() != domain.StateActive {
		t.Fatalf("expected active, got %s", a.State())
	}
}

func TestSelectAnswerValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false, testQuiz("quiz-1", 2))
	a := h.open(t, "quiz-1", "")

	if err := a.SelectAnswer(ctx, "q1", 0); !errors.Is(err, domain.ErrSessionNotActive) {
		t.Fatalf("expected not active before start, got %v", err)
	}
	if _, err := a.Start(ctx, "Ada"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := a.SelectAnswer(ctx, "nope", 0); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected unknown question, got %v", err)
	}
	if err := a.SelectAnswer(ctx, "q1", domain.OptionCount); !errors.Is(err, domain.ErrOptionOutOfRange) {
		t.Fatalf("expected out of range, got %v", err)
	}
	if err := a.SelectAnswer(ctx, "q1", 2); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := a.SelectAnswer(ctx, "q1", 3); err != nil {
		t.Fatalf("reselect: %v", err)
	}
	if got := a.View().Answers["q1"]; got != 3 {
		t.Fatalf("expected overwrite to 3, got %d", got)
	}
}

func TestShowAnswersAddsReview(t *testing.T) {
	quiz := testQuiz("quiz-1", 2)
	quiz.ShowAnswers = true
	h := newHarness(t, false, quiz)
	a := h.start(t, "quiz-1", "Ada")
	_ = a.SelectAnswer(context.Background(), "q2", 2)

	res, err := a.Submit(context.Background(), app.SubmitOptions{Confirmed: true})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(res.Review) != 2 {
		t.Fatalf("expected 2 review items, got %d", len(res.Review))
	}
	for _, item := range res.Review {
		switch item.QuestionID {
		case "q1":
			if item.Selected != nil || item.Correct {
				t.Fatalf("expected q1 unanswered, got %+v", item)
			}
		case "q2":
			if item.Selected == nil || *item.Selected != 2 || !item.Correct {
				t.Fatalf("expected q2 correct, got %+v", item)
			}
		}
	}
}

func TestQuizAvailability(t *testing.T) {
	hidden := testQuiz("quiz-2", 1)
	hidden.SharingEnabled = false
	h := newHarness(t, false, testQuiz("quiz-1", 1), hidden)

	if _, err := h.service.Open(context.Background(), "quiz-2", ""); !errors.Is(err, domain.ErrQuizNotAvailable) {
		t.Fatalf("expected unshared quiz unavailable, got %v", err)
	}
	if _, err := h.service.Open(context.Background(), "missing", ""); !errors.Is(err, domain.ErrQuizNotAvailable) {
		t.Fatalf("expected unknown quiz unavailable, got %v", err)
	}
	if _, err := h.service.Open(context.Background(), "quiz-1", "not-a-uuid"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected malformed session rejected, got %v", err)
	}
}

func TestOpenReturnsLiveSession(t *testing.T) {
	h := newHarness(t, false, testQuiz("quiz-1", 1))
	a := h.open(t, "quiz-1", "")
	b := h.open(t, "share-quiz-1", a.ID())
	if a != b {
		t.Fatalf("expected the same live session for id and share token")
	}
	if got, ok := h.service.Get("quiz-1", a.ID()); !ok || got != a {
		t.Fatalf("expected Get to find the session")
	}
}

func TestSweepReleasesIdleSessions(t *testing.T) {
	quiz := testQuiz("quiz-1", 1)
	timed := testQuiz("quiz-2", 1)
	timed.DurationMinutes = minutes(120)
	h := newHarness(t, false, quiz, timed)

	idle := h.open(t, "quiz-1", "")
	running := h.start(t, "quiz-2", "Ada")
	watched := h.open(t, "quiz-1", "")
	_, cancel := watched.Subscribe()
	defer cancel()

	h.clock.Advance(time.Hour)
	if n := h.service.Sweep(10 * time.Minute); n != 1 {
		t.Fatalf("expected 1 session released, got %d", n)
	}
	if _, ok := h.service.Get("quiz-1", idle.ID()); ok {
		t.Fatalf("expected idle session released")
	}
	if _, ok := h.service.Get("quiz-2", running.ID()); !ok {
		t.Fatalf("expected session with running countdown kept")
	}
}

func TestSubscribersReceiveEvents(t *testing.T) {
	quiz := testQuiz("quiz-1", 1)
	quiz.PreventTabSwitch = true
	h := newHarness(t, false, quiz)
	a := h.start(t, "quiz-1", "Ada")

	events, cancel := a.Subscribe()
	defer cancel()

	first := <-events
	if first.Type != domain.EventState {
		t.Fatalf("expected initial state event, got %s", first.Type)
	}
	if _, err := a.ReportVisibility(context.Background(), true); err != nil {
		t.Fatalf("visibility: %v", err)
	}
	ev := <-events
	if ev.Type != domain.EventWarning {
		t.Fatalf("expected warning event, got %s", ev.Type)
	}
	if w, ok := ev.Payload.(domain.Warning); !ok || w.Count != 1 {
		t.Fatalf("unexpected warning payload %+v", ev.Payload)
	}

	if _, err := a.Submit(context.Background(), app.SubmitOptions{Confirmed: true}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	sawSubmitted := false
	for i := 0; i < 3 && !sawSubmitted; i++ {
		ev := <-events
		sawSubmitted = ev.Type == domain.EventSubmitted
	}
	if !sawSubmitted {
		t.Fatalf("expected submitted event")
	}
}

func TestResumeKeepsRetryCount(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false, testQuiz("quiz-1", 1))

	a := h.start(t, "quiz-1", "Ada")
	if _, err := a.Submit(ctx, app.SubmitOptions{Confirmed: true}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := a.Retry(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	before := a.View().Eligibility
	if before.AttemptCount != 1 || before.RetriesLeft != 1 {
		t.Fatalf("unexpected eligibility before reload %+v", before)
	}

	restarted := h.newService(t, h.records, nil)
	resumed, err := restarted.Open(ctx, "quiz-1", a.ID())
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got := resumed.View().Eligibility; got != before {
		t.Fatalf("expected eligibility %+v after reload, got %+v", before, got)
	}

	// without a count the view must not report more retries than before
	h.records.SetFailure(errors.New("timeout"))
	blind := h.newService(t, h.records, nil)
	resumed, err = blind.Open(ctx, "quiz-1", a.ID())
	if err != nil {
		t.Fatalf("resume while store is down: %v", err)
	}
	view := resumed.View()
	if view.State != domain.StateActive || view.Eligibility.RetriesLeft != 0 || view.Eligibility.Blocked {
		t.Fatalf("expected active session with no retries reported, got %s %+v", view.State, view.Eligibility)
	}

	h.records.SetFailure(nil)
	res, err := resumed.Submit(ctx, app.SubmitOptions{Confirmed: true})
	if err != nil {
		t.Fatalf("admitted attempt must stay submittable: %v", err)
	}
	if !res.Blocked || res.RetriesLeft != 0 {
		t.Fatalf("expected budget spent after second attempt, got %+v", res)
	}
}

func TestStalledInsertDoesNotPinSubmission(t *testing.T) {
	h := newHarness(t, false, testQuiz("quiz-1", 1))
	svc := h.newService(t, stallingRepository{h.records}, func(o *app.Options) {
		o.StoreTimeout = 50 * time.Millisecond
	})
	a, err := svc.Open(context.Background(), "quiz-1", "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := a.Start(context.Background(), "Ada"); err != nil {
		t.Fatalf("start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	done := make(chan domain.Result, 1)
	go func() {
		res, err := a.Submit(ctx, app.SubmitOptions{Confirmed: true})
		if err != nil {
			t.Errorf("submit: %v", err)
		}
		done <- res
	}()

	select {
	case res := <-done:
		if res.Persisted {
			t.Fatalf("expected unpersisted result after insert timeout")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("submit still blocked; state=%s", a.State())
	}
	if a.State() != domain.StateSubmitted {
		t.Fatalf("expected submitted, got %s", a.State())
	}
	if _, err := a.Submit(context.Background(), app.SubmitOptions{Confirmed: true}); !errors.Is(err, domain.ErrAlreadySubmitted) {
		t.Fatalf("expected already submitted, got %v", err)
	}
}

func TestStalledNotifierDoesNotPinSubmission(t *testing.T) {
	h := newHarness(t, false, testQuiz("quiz-1", 1))
	notifier := stallingNotifier{done: make(chan error, 1)}
	svc := h.newService(t, h.records, func(o *app.Options) {
		o.Notifier = notifier
		o.StoreTimeout = 50 * time.Millisecond
	})
	a, err := svc.Open(context.Background(), "quiz-1", "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := a.Start(context.Background(), "Ada"); err != nil {
		t.Fatalf("start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	done := make(chan domain.Result, 1)
	go func() {
		res, _ := a.Submit(ctx, app.SubmitOptions{Confirmed: true})
		done <- res
	}()

	select {
	case res := <-done:
		if !res.Persisted {
			t.Fatalf("expected persisted result, got %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("submit still blocked; state=%s records=%d", a.State(), len(h.records.Records()))
	}
	if a.State() != domain.StateSubmitted || len(h.records.Records()) != 1 {
		t.Fatalf("expected submitted with one record, got %s/%d", a.State(), len(h.records.Records()))
	}

	select {
	case err := <-notifier.done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected notifier to be cut off by its deadline, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("notifier call was never bounded")
	}
}

func TestTabSwitchCountSurvivesResumeAndResetsOnRetry(t *testing.T) {
	ctx := context.Background()
	quiz := testQuiz("quiz-1", 1)
	quiz.PreventTabSwitch = true
	quiz.TabSwitchWarnings = 5
	h := newHarness(t, false, quiz)

	a := h.start(t, "quiz-1", "Ada")
	for i := 0; i < 2; i++ {
		if _, err := a.ReportVisibility(ctx, true); err != nil {
			t.Fatalf("visibility: %v", err)
		}
	}

	h.service.Release("quiz-1", a.ID())
	resumed := h.open(t, "quiz-1", a.ID())
	if got := resumed.View().TabSwitchCount; got != 2 {
		t.Fatalf("expected 2 switches after resume, got %d", got)
	}
	w, err := resumed.ReportVisibility(ctx, true)
	if err != nil {
		t.Fatalf("visibility after resume: %v", err)
	}
	if w == nil || w.Count != 3 || w.Remaining != 2 {
		t.Fatalf("expected counting to continue at 3, got %+v", w)
	}

	res, err := resumed.Submit(ctx, app.SubmitOptions{Confirmed: true})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.TabSwitchCount != 3 {
		t.Fatalf("expected 3 switches in result, got %d", res.TabSwitchCount)
	}

	if _, err := resumed.Retry(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := resumed.View().TabSwitchCount; got != 0 {
		t.Fatalf("expected counter reset by retry, got %d", got)
	}
	w, err = resumed.ReportVisibility(ctx, true)
	if err != nil {
		t.Fatalf("visibility after retry: %v", err)
	}
	if w == nil || w.Count != 1 {
		t.Fatalf("expected first warning of the new attempt, got %+v", w)
	}
}

func TestSweepKeepsSubmittedSessionForRetention(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false, testQuiz("quiz-1", 1))

	a := h.start(t, "quiz-1", "Ada")
	if _, err := a.Submit(ctx, app.SubmitOptions{Confirmed: true}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	h.clock.Advance(time.Hour)
	if n := h.service.Sweep(10 * time.Minute); n != 0 {
		t.Fatalf("expected submitted session kept, released %d", n)
	}
	if _, err := a.Retry(ctx); err != nil {
		t.Fatalf("retry within retention: %v", err)
	}
	res, err := a.Submit(ctx, app.SubmitOptions{Confirmed: true})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if !res.Blocked {
		t.Fatalf("expected budget spent after second attempt, got %+v", res)
	}
}

func TestReleasedSubmittedSessionRestartsThroughGate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false, testQuiz("quiz-1", 1))

	a := h.start(t, "quiz-1", "Ada")
	if _, err := a.Submit(ctx, app.SubmitOptions{Confirmed: true}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	h.clock.Advance(3 * time.Hour)
	if n := h.service.Sweep(10 * time.Minute); n != 1 {
		t.Fatalf("expected submitted session released after retention, got %d", n)
	}

	reopened := h.open(t, "quiz-1", a.ID())
	if reopened.State() != domain.StateGated {
		t.Fatalf("expected gated after release, got %s", reopened.State())
	}
	elig, err := reopened.Start(ctx, "Ada")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if elig.AttemptCount != 1 || elig.RetriesLeft != 1 || reopened.State() != domain.StateActive {
		t.Fatalf("expected remaining retry honoured, got %+v %s", elig, reopened.State())
	}
}
