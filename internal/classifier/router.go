package classifier

import "github.com/retailhub/lottery-sync/internal/domain"

// Decision is the Router's verdict for a failing item.
type Decision struct {
	DeadLetter bool
	Reason     domain.DeadLetterReason
}

// Router decides when repeated failures move an item to the dead-letter
// queue. It only reads counters; recording attempts is the repository's job.
type Router struct{}

// ShouldDeadLetter applies the dead-letter policy to the attempt count
// already recorded for the item:
//
//	STRUCTURAL          always, regardless of attempts
//	PERMANENT           once attempts >= maxAttempts
//	TRANSIENT, UNKNOWN  once attempts >= 2*maxAttempts
func (Router) ShouldDeadLetter(attempts, maxAttempts int, category domain.ErrorCategory) Decision {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	switch category {
	case domain.CategoryStructural:
		return Decision{DeadLetter: true, Reason: domain.ReasonStructuralFailure}
	case domain.CategoryPermanent:
		if attempts >= maxAttempts {
			return Decision{DeadLetter: true, Reason: domain.ReasonPermanentError}
		}
	default:
		if attempts >= 2*maxAttempts {
			return Decision{DeadLetter: true, Reason: domain.ReasonMaxAttemptsExceeded}
		}
	}
	return Decision{}
}
