package service

import "github.com/retailhub/lottery-sync/internal/domain"

// SyncHooks are optional observation callbacks fired by the push and pull
// cycles. Any field may be nil.
type SyncHooks struct {
	OnPushed       func(domain.EntityType)
	OnFailed       func(domain.ErrorCategory)
	OnDeadLettered func(domain.DeadLetterReason)
	OnPulled       func(domain.PullAction, int)
}

func (h SyncHooks) pushed(e domain.EntityType) {
	if h.OnPushed != nil {
		h.OnPushed(e)
	}
}

func (h SyncHooks) failed(c domain.ErrorCategory) {
	if h.OnFailed != nil {
		h.OnFailed(c)
	}
}

func (h SyncHooks) deadLettered(r domain.DeadLetterReason) {
	if h.OnDeadLettered != nil {
		h.OnDeadLettered(r)
	}
}

func (h SyncHooks) pulled(a domain.PullAction, n int) {
	if h.OnPulled != nil && n > 0 {
		h.OnPulled(a, n)
	}
}
