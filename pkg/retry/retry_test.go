package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

var nodesResource = schema.GroupResource{Group: "", Resource: "nodes"}

// nodePatchConfig mirrors pkg/isolation's nodePatchRetryConfig, scaled
// down so the test runs in milliseconds instead of the production
// 10ms-200ms ladder.
func nodePatchConfig() Config {
	return Config{
		MaxAttempts:   5,
		InitialDelay:  2 * time.Millisecond,
		MaxDelay:      20 * time.Millisecond,
		Multiplier:    2.0,
		Jitter:        0.1,
		RetryableFunc: Combine(apierrors.IsConflict, apierrors.IsServerTimeout, apierrors.IsTooManyRequests),
	}
}

func TestDoRetriesNodePatchConflictThenSucceeds(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), nodePatchConfig(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return apierrors.NewConflict(nodesResource, "gpu-node-07", errors.New("resourceVersion mismatch"))
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected the patch to eventually succeed, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts before the conflict cleared, got %d", attempts)
	}
}

func TestDoGivesUpAfterMaxAttemptsOnPersistentConflict(t *testing.T) {
	cfg := nodePatchConfig()

	attempts := 0
	conflictErr := apierrors.NewConflict(nodesResource, "gpu-node-07", errors.New("resourceVersion mismatch"))
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		return conflictErr
	})

	if !apierrors.IsConflict(err) {
		t.Errorf("expected a conflict error in the result, got %v", err)
	}
	if attempts != cfg.MaxAttempts {
		t.Errorf("expected %d attempts, got %d", cfg.MaxAttempts, attempts)
	}
}

func TestDoDoesNotRetryNonConflictApiserverError(t *testing.T) {
	attempts := 0
	forbidden := apierrors.NewForbidden(nodesResource, "gpu-node-07", errors.New("RBAC denied"))
	err := Do(context.Background(), nodePatchConfig(), func(ctx context.Context) error {
		attempts++
		return forbidden
	})

	if !apierrors.IsForbidden(err) {
		t.Errorf("expected a forbidden error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("an RBAC failure isn't in RetryableFunc's set, so it must not be retried; got %d attempts", attempts)
	}
}

func TestDoStopsOnContextCancelDuringBackoff(t *testing.T) {
	cfg := nodePatchConfig()
	cfg.InitialDelay = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, cfg, func(ctx context.Context) error {
		attempts++
		return apierrors.NewConflict(nodesResource, "gpu-node-07", errors.New("resourceVersion mismatch"))
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in the error chain, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt before the backoff was interrupted by cancellation, got %d", attempts)
	}
}

func TestDoAttemptsOnceWhenConflictResolvesImmediately(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), nodePatchConfig(), func(ctx context.Context) error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestCombineMatchesAnyApiserverRetryablePredicate(t *testing.T) {
	combined := Combine(apierrors.IsConflict, apierrors.IsServerTimeout, apierrors.IsTooManyRequests)

	conflict := apierrors.NewConflict(nodesResource, "gpu-node-07", errors.New("stale resourceVersion"))
	timeout := apierrors.NewServerTimeout(nodesResource, "patch", 1)
	tooMany := apierrors.NewTooManyRequests("apiserver under load", 1)
	forbidden := apierrors.NewForbidden(nodesResource, "gpu-node-07", errors.New("RBAC denied"))

	for _, tc := range []struct {
		name string
		err  error
		want bool
	}{
		{"conflict", conflict, true},
		{"server timeout", timeout, true},
		{"too many requests", tooMany, true},
		{"forbidden", forbidden, false},
	} {
		if got := combined(tc.err); got != tc.want {
			t.Errorf("%s: Combine(...)(err) = %v, want %v", tc.name, got, tc.want)
		}
	}
}
