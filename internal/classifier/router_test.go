package classifier_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/retailhub/lottery-sync/internal/classifier"
	"github.com/retailhub/lottery-sync/internal/domain"
)

func TestRouter_Structural(t *testing.T) {
	r := classifier.Router{}
	for _, attempts := range []int{0, 1, 10} {
		d := r.ShouldDeadLetter(attempts, 5, domain.CategoryStructural)
		assert.True(t, d.DeadLetter)
		assert.Equal(t, domain.ReasonStructuralFailure, d.Reason)
	}
}

func TestRouter_Permanent(t *testing.T) {
	r := classifier.Router{}
	for attempts := 1; attempts < 5; attempts++ {
		assert.False(t, r.ShouldDeadLetter(attempts, 5, domain.CategoryPermanent).DeadLetter, "attempt %d", attempts)
	}
	d := r.ShouldDeadLetter(5, 5, domain.CategoryPermanent)
	assert.True(t, d.DeadLetter)
	assert.Equal(t, domain.ReasonPermanentError, d.Reason)
}

func TestRouter_TransientUsesExtendedWindow(t *testing.T) {
	r := classifier.Router{}
	for _, cat := range []domain.ErrorCategory{domain.CategoryTransient, domain.CategoryUnknown} {
		for attempts := 1; attempts < 10; attempts++ {
			assert.False(t, r.ShouldDeadLetter(attempts, 5, cat).DeadLetter, "%s attempt %d", cat, attempts)
		}
		d := r.ShouldDeadLetter(10, 5, cat)
		assert.True(t, d.DeadLetter)
		assert.Equal(t, domain.ReasonMaxAttemptsExceeded, d.Reason)
	}
}

func TestRouter_PullPolicy(t *testing.T) {
	r := classifier.Router{}
	assert.False(t, r.ShouldDeadLetter(3, 2, domain.CategoryTransient).DeadLetter)
	assert.True(t, r.ShouldDeadLetter(4, 2, domain.CategoryTransient).DeadLetter)
	assert.True(t, r.ShouldDeadLetter(2, 2, domain.CategoryPermanent).DeadLetter)
}

// A message that is structural must short-circuit even when the server
// answered 500, and the router must then dead-letter with zero attempts.
func TestClassifyThenRoute_StructuralOnServerError(t *testing.T) {
	c := newClassifier()
	cls := c.Classify(500, "missing required field: bin_id", "")
	d := classifier.Router{}.ShouldDeadLetter(0, 5, cls.Category)

	assert.Equal(t, domain.CategoryStructural, cls.Category)
	assert.True(t, d.DeadLetter)
	assert.Equal(t, domain.ReasonStructuralFailure, d.Reason)
}
