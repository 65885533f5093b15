package guildsync

import (
	"context"
	"testing"
	"time"
)

func TestRetryBackoffDoublesThenGivesUp(t *testing.T) {
	var slept []time.Duration
	p := RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		Sleep:       func(d time.Duration) { slept = append(slept, d) },
	}

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return &RemoteError{Kind: RemoteErrorTransient, Message: "boom"}
	})

	if calls != 4 {
		t.Fatalf("expected initial attempt + 3 retries = 4 calls, got %d", calls)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	if len(slept) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), slept)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Fatalf("sleep %d: expected %s, got %s", i, want[i], slept[i])
		}
	}
	re, ok := AsRemoteError(err)
	if !ok || re.Kind != RemoteErrorPermanent {
		t.Fatalf("exhausted retries must surface a permanent failure, got %v", err)
	}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	var slept []time.Duration
	p := RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   50 * time.Millisecond,
		Sleep:       func(d time.Duration) { slept = append(slept, d) },
	}

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &RemoteError{Kind: RemoteErrorTransient, Message: "flaky"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(slept) != 2 {
		t.Fatalf("expected 2 sleeps, got %v", slept)
	}
}

func TestRetryDoesNotRetryRateLimit(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Sleep: func(time.Duration) {}}

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return &RemoteError{Kind: RemoteErrorRateLimited, RetryAfter: 2 * time.Second, Message: "slow down"}
	})
	if calls != 1 {
		t.Fatalf("rate limits must not retry inline, got %d calls", calls)
	}
	re, ok := AsRemoteError(err)
	if !ok || re.Kind != RemoteErrorRateLimited || re.RetryAfter != 2*time.Second {
		t.Fatalf("rate limit error must bubble unchanged, got %v", err)
	}
}

func TestRetryDoesNotRetryNotFoundOrPermanent(t *testing.T) {
	for _, kind := range []RemoteErrorKind{RemoteErrorNotFound, RemoteErrorPermanent} {
		p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Sleep: func(time.Duration) {}}
		calls := 0
		err := p.Do(context.Background(), func() error {
			calls++
			return &RemoteError{Kind: kind, Message: "nope"}
		})
		if calls != 1 {
			t.Fatalf("%s: expected single call, got %d", kind, calls)
		}
		re, ok := AsRemoteError(err)
		if !ok || re.Kind != kind {
			t.Fatalf("%s: error must bubble unchanged, got %v", kind, err)
		}
	}
}
