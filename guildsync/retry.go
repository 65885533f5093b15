package guildsync

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/guildsync_backend/config"
)

// RetryPolicy retries transient remote failures with exponential backoff.
// MaxAttempts counts retries after the initial attempt; delays double per
// retry starting at BaseDelay. Rate-limit, not-found and permanent failures
// are never retried inline and bubble to the caller unchanged.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// Sleep is a test seam; nil means time.Sleep.
	Sleep func(time.Duration)
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: config.GetSyncRetryMaxAttempts(),
		BaseDelay:   config.GetSyncRetryBaseDelay(),
	}
}

func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	delay := p.BaseDelay
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		re, ok := AsRemoteError(err)
		if !ok || re.Kind != RemoteErrorTransient {
			return err
		}
		if attempt >= p.MaxAttempts {
			return &RemoteError{
				Kind:    RemoteErrorPermanent,
				Message: fmt.Sprintf("transient failure persisted after %d attempts: %s", attempt+1, re.Message),
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sleep(delay)
		delay *= 2
	}
}
