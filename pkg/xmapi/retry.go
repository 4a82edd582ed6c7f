package xmapi

import (
	"context"
	"net/http"
	"time"
)

const DefaultRetryBaseDelay = 3 * time.Second

// TransientStatuses are the responses the platform returns while it is
// overloaded or still propagating an earlier change.
var TransientStatuses = []int{
	http.StatusNotImplemented,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// RetryPolicy retries transient statuses with a linear backoff of
// BaseDelay * attempt. Zero MaxAttempts and MaxElapsed mean no limit, which
// can stall a run against a server that never recovers.
type RetryPolicy struct {
	BaseDelay   time.Duration
	MaxAttempts int
	MaxElapsed  time.Duration
	Statuses    []int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay: DefaultRetryBaseDelay,
		Statuses:  TransientStatuses,
	}
}

func (p RetryPolicy) Retryable(status int) bool {
	for _, s := range p.Statuses {
		if s == status {
			return true
		}
	}
	return false
}

// Delay returns the wait before retry number attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return p.BaseDelay * time.Duration(attempt)
}

// Exhausted reports whether no further retry may follow attempt, given the
// time already spent on the call.
func (p RetryPolicy) Exhausted(attempt int, elapsed time.Duration) bool {
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		return true
	}
	if p.MaxElapsed > 0 && elapsed+p.Delay(attempt) > p.MaxElapsed {
		return true
	}
	return false
}

func (p RetryPolicy) Bounded() bool {
	return p.MaxAttempts > 0 || p.MaxElapsed > 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
