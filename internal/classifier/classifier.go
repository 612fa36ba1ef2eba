// Package classifier turns delivery failures into a category and a
// recommended action, and decides when a failing sync item is dead-lettered.
//
// Everything here is pure: no I/O and no clock reads other than the one
// injected through Classifier.Now, so the rules are table-testable.
package classifier

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/retailhub/lottery-sync/internal/domain"
)

// Action is the classifier's recommendation for the failed item.
type Action string

const (
	ActionRetry      Action = "RETRY"
	ActionDeadLetter Action = "DEAD_LETTER"
)

// Classification is the outcome of Classify.
type Classification struct {
	Category        domain.ErrorCategory
	Action          Action
	ExtendedBackoff bool
	// RetryAfter is set only when the server directed a delay (429).
	RetryAfter *time.Time
}

// Message fragments that mark a payload the server can never accept.
// Matched case-insensitively, before any status-code rule.
var structuralPatterns = []string{
	"missing required field",
	"invalid format",
	"invalid payload",
	"malformed",
	"schema validation",
	"cannot parse payload",
}

// Message fragments of transport-level failures that carry no HTTP status.
var networkPatterns = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection refused",
	"connection reset",
	"econnrefused",
	"econnreset",
	"no such host",
	"network is unreachable",
	"network",
	"broken pipe",
	"unexpected eof",
}

// Classifier holds the clock used to turn Retry-After into an absolute time.
type Classifier struct {
	Now func() time.Time
}

// New returns a Classifier reading the system clock in UTC.
func New() *Classifier {
	return &Classifier{Now: func() time.Time { return time.Now().UTC() }}
}

// Classify maps a failed delivery to a category. httpStatus is 0 when the
// request never produced a response. Rules are checked in order; the first
// match wins:
//
//  1. structural message           -> STRUCTURAL, dead-letter (any status)
//  2. 429                          -> TRANSIENT, extended, honours Retry-After
//  3. other 4xx                    -> PERMANENT, dead-letter once attempts run out
//  4. 5xx, or network/timeout text -> TRANSIENT, retry with extended window
//  5. anything else                -> UNKNOWN, retry with extended window
func (c *Classifier) Classify(httpStatus int, message, retryAfterHeader string) Classification {
	msg := strings.ToLower(message)

	if matchesAny(msg, structuralPatterns) {
		return Classification{Category: domain.CategoryStructural, Action: ActionDeadLetter}
	}

	switch {
	case httpStatus == http.StatusTooManyRequests:
		return Classification{
			Category:        domain.CategoryTransient,
			Action:          ActionRetry,
			ExtendedBackoff: true,
			RetryAfter:      c.parseRetryAfter(retryAfterHeader),
		}
	case httpStatus >= 400 && httpStatus <= 499:
		return Classification{Category: domain.CategoryPermanent, Action: ActionDeadLetter}
	case httpStatus >= 500 && httpStatus <= 599,
		httpStatus == 0 && matchesAny(msg, networkPatterns):
		return Classification{Category: domain.CategoryTransient, Action: ActionRetry, ExtendedBackoff: true}
	}

	return Classification{Category: domain.CategoryUnknown, Action: ActionRetry, ExtendedBackoff: true}
}

// parseRetryAfter accepts delta-seconds or an HTTP-date. Unparseable or
// non-positive values yield nil.
func (c *Classifier) parseRetryAfter(header string) *time.Time {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}

	now := c.Now()
	if secs, err := strconv.Atoi(header); err == nil {
		if secs <= 0 {
			return nil
		}
		t := now.Add(time.Duration(secs) * time.Second)
		return &t
	}

	if t, err := http.ParseTime(header); err == nil && t.After(now) {
		t = t.UTC()
		return &t
	}
	return nil
}

func matchesAny(msg string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
