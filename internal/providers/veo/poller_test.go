package veo

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func mustUnmarshal(t *testing.T, raw string, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
}

func fastPoller(maxPolls int) *Poller {
	return &Poller{Interval: time.Millisecond, MaxPolls: maxPolls, Logger: zerolog.Nop()}
}

func TestAwaitReturnsAfterKPlusOneChecks(t *testing.T) {
	const k = 4
	checks := 0
	fetch := func(ctx context.Context, name string) (*Operation, error) {
		checks++
		if checks <= k {
			return &Operation{Name: name, Done: false}, nil
		}
		return &Operation{Name: name, Done: true, VideoURI: "gs://bucket/out.mp4"}, nil
	}

	op, err := fastPoller(180).Await(context.Background(), "op-1", fetch)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if checks != k+1 {
		t.Fatalf("checks = %d, want %d", checks, k+1)
	}
	if op.VideoURI != "gs://bucket/out.mp4" {
		t.Fatalf("uri = %q", op.VideoURI)
	}
}

func TestAwaitCancellationStopsFurtherChecks(t *testing.T) {
	const cancelAt = 3
	ctx, cancel := context.WithCancel(context.Background())

	checks := 0
	fetch := func(ctx context.Context, name string) (*Operation, error) {
		checks++
		if checks == cancelAt {
			cancel()
		}
		return &Operation{Done: false}, nil
	}

	_, err := fastPoller(180).Await(ctx, "op-1", fetch)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if checks != cancelAt {
		t.Fatalf("checks = %d, want no check after cancellation", checks)
	}
}

func TestAwaitCanceledBeforeFirstCheckIssuesNoCalls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	checks := 0
	fetch := func(ctx context.Context, name string) (*Operation, error) {
		checks++
		return &Operation{Done: true}, nil
	}

	_, err := fastPoller(180).Await(ctx, "op-1", fetch)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if checks != 0 {
		t.Fatalf("checks = %d, want 0", checks)
	}
}

func TestAwaitTimesOutAfterMaxPolls(t *testing.T) {
	checks := 0
	fetch := func(ctx context.Context, name string) (*Operation, error) {
		checks++
		return &Operation{Done: false}, nil
	}

	_, err := fastPoller(5).Await(context.Background(), "op-1", fetch)
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("err = %v, want ErrPollTimeout", err)
	}
	if checks != 5 {
		t.Fatalf("checks = %d, want 5", checks)
	}
}

func TestAwaitSurfacesOperationFailure(t *testing.T) {
	fetch := func(ctx context.Context, name string) (*Operation, error) {
		return &Operation{Done: true, ErrMessage: "quota exhausted"}, nil
	}

	_, err := fastPoller(180).Await(context.Background(), "op-1", fetch)
	var opErr *OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("err = %v, want OperationError", err)
	}
	if opErr.Message != "quota exhausted" {
		t.Fatalf("message = %q", opErr.Message)
	}
}

func TestNormalizeOperationEnvelope(t *testing.T) {
	t.Run("gemini sample", func(t *testing.T) {
		env := operationEnvelope{Name: "models/veo/operations/1", Done: true}
		raw := `{"generateVideoResponse":{"generatedSamples":[{"video":{"uri":"https://generativelanguage.googleapis.com/v1beta/files/xyz"}}]}}`
		mustUnmarshal(t, raw, &env.Response)

		op := env.normalize()
		if op.VideoURI != "https://generativelanguage.googleapis.com/v1beta/files/xyz" {
			t.Fatalf("uri = %q", op.VideoURI)
		}
	})

	t.Run("vertex sample", func(t *testing.T) {
		env := operationEnvelope{Done: true}
		mustUnmarshal(t, `{"videos":[{"gcsUri":"gs://out/clip.mp4","mimeType":"video/mp4"}]}`, &env.Response)

		op := env.normalize()
		if op.VideoURI != "gs://out/clip.mp4" {
			t.Fatalf("uri = %q", op.VideoURI)
		}
	})

	t.Run("safety filtered", func(t *testing.T) {
		env := operationEnvelope{Done: true}
		mustUnmarshal(t, `{"generateVideoResponse":{"raiMediaFilteredCount":1,"raiMediaFilteredReasons":["violence"]}}`, &env.Response)

		op := env.normalize()
		if op.ErrMessage == "" {
			t.Fatalf("filtered output must surface an error message")
		}
	})
}
