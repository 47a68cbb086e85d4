package app

import (
	"context"
	"fmt"
	"log"

	"evaliq-attempt-service/internal/domain"
)

// RetryGate derives the retry budget of an identity from the attempt count
// held by the remote store. Identity is the exact participant name, so two
// people sharing a name share a budget.
type RetryGate struct {
	attempts AttemptRepository
	failOpen bool
}

func NewRetryGate(attempts AttemptRepository, failOpen bool) *RetryGate {
	return &RetryGate{attempts: attempts, failOpen: failOpen}
}

// EffectiveLimit is the number of attempts an identity may make; a quiz
// configured with zero retries still allows the first attempt.
func EffectiveLimit(maxRetries int) int {
	if maxRetries <= 0 {
		return 1
	}
	return maxRetries
}

// EligibilityFor computes the gate verdict from a known attempt count.
func EligibilityFor(attemptCount, maxRetries int) domain.Eligibility {
	limit := EffectiveLimit(maxRetries)
	left := limit - attemptCount
	if left < 0 {
		left = 0
	}
	return domain.Eligibility{
		AttemptCount: attemptCount,
		RetriesLeft:  left,
		Blocked:      attemptCount >= limit,
	}
}

// Evaluate queries the attempt count for (quiz, participant). On query failure
// the gate blocks and returns ErrEligibilityUnavailable unless it runs fail-open,
// in which case the failure counts as zero prior attempts.
func (g *RetryGate) Evaluate(ctx context.Context, quiz domain.Quiz, participant string) (domain.Eligibility, error) {
	count, err := g.attempts.CountAttempts(ctx, quiz.ID, participant)
	if err != nil {
		log.Printf("count attempts quiz=%s: %v", quiz.ID, err)
		if !g.failOpen {
			return domain.Eligibility{Blocked: true}, fmt.Errorf("%w: %v", domain.ErrEligibilityUnavailable, err)
		}
		count = 0
	}
	return EligibilityFor(count, quiz.MaxRetries), nil
}
