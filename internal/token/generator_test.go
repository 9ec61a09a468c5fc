package token

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

func staticSource(secret string) SecretSource {
	return SecretFunc(func(ctx context.Context) (string, error) {
		return secret, nil
	})
}

func fixedClock(unix int64) Clock {
	return func() time.Time { return time.Unix(unix, 0) }
}

func TestGeneratorCurrent(t *testing.T) {
	g := NewGenerator("user-42", staticSource("a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6"),
		DefaultParams(), testLogger(), WithClock(fixedClock(1700000000)))

	payload, err := g.Current(context.Background())
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}

	p, perr := DecodeRotating(payload)
	if perr != nil {
		t.Fatalf("Generated payload does not decode: %v", perr)
	}
	if p.MemberID != "user-42" {
		t.Errorf("Expected member user-42, got %s", p.MemberID)
	}
	if p.Timestamp != 1700000000 {
		t.Errorf("Expected timestamp 1700000000, got %d", p.Timestamp)
	}

	want, _ := SignHex([]byte("a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6"), Message("user-42", 1700000000))
	if p.SignatureHex != want {
		t.Error("Generated signature does not match independent computation")
	}
}

func TestGeneratorSecretCached(t *testing.T) {
	var fetches atomic.Int32
	source := SecretFunc(func(ctx context.Context) (string, error) {
		fetches.Add(1)
		return "cached-secret", nil
	})

	g := NewGenerator("user-1", source, DefaultParams(), testLogger(),
		WithClock(fixedClock(1700000000)))

	for i := 0; i < 5; i++ {
		if _, err := g.Current(context.Background()); err != nil {
			t.Fatalf("Current failed: %v", err)
		}
	}
	if n := fetches.Load(); n != 1 {
		t.Errorf("Expected 1 secret fetch, got %d", n)
	}

	g.Invalidate()
	if _, err := g.Current(context.Background()); err != nil {
		t.Fatalf("Current after Invalidate failed: %v", err)
	}
	if n := fetches.Load(); n != 2 {
		t.Errorf("Expected refetch after Invalidate, got %d fetches", n)
	}
}

func TestGeneratorSourceFailure(t *testing.T) {
	source := SecretFunc(func(ctx context.Context) (string, error) {
		return "", errors.New("network down")
	})
	g := NewGenerator("user-1", source, DefaultParams(), testLogger())

	payload, err := g.Current(context.Background())
	if !errors.Is(err, ErrNoSecret) {
		t.Errorf("Expected ErrNoSecret, got: %v", err)
	}
	// The failure mode is no payload at all, never an empty or fixed string.
	if payload != "" {
		t.Errorf("Expected empty payload on failure, got %q", payload)
	}
	if _, ok := g.Snapshot(); ok {
		t.Error("Snapshot should report no payload after failed generation")
	}
}

func TestGeneratorWindowBoundary(t *testing.T) {
	var now atomic.Int64
	now.Store(1700000000)
	clock := func() time.Time { return time.Unix(now.Load(), 0) }

	g := NewGenerator("user-1", staticSource("secret"), DefaultParams(),
		testLogger(), WithClock(clock))

	first, err := g.Current(context.Background())
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}

	// Within the same 30s window nothing should change.
	now.Store(1700000000 + 10)
	g.refreshIfStale(context.Background())
	snap, _ := g.Snapshot()
	if snap != first {
		t.Error("Payload changed within the same window")
	}

	// Crossing the window boundary must produce a new payload.
	now.Store(1700000000 + 31)
	g.refreshIfStale(context.Background())
	snap, _ = g.Snapshot()
	if snap == first {
		t.Error("Payload did not rotate after window boundary")
	}
}

func TestGeneratorStartStop(t *testing.T) {
	g := NewGenerator("user-1", staticSource("secret"), DefaultParams(),
		testLogger(), WithTick(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go g.Start(ctx)

	deadline := time.After(time.Second)
	for {
		if _, ok := g.Snapshot(); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Generator never produced a payload")
		case <-time.After(time.Millisecond):
		}
	}
	if !g.Running() {
		t.Error("Expected generator to report running")
	}

	g.Stop()
	deadline = time.After(time.Second)
	for g.Running() {
		select {
		case <-deadline:
			t.Fatal("Generator did not stop")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestGeneratorStopDuringSecretFetch(t *testing.T) {
	// A screen can unmount while the initial secret fetch is still in flight.
	// The stop signal must survive that and take effect once the loop gets
	// back to its select.
	release := make(chan struct{})
	source := SecretFunc(func(ctx context.Context) (string, error) {
		<-release
		return "secret", nil
	})

	g := NewGenerator("user-1", source, DefaultParams(), testLogger(),
		WithTick(5*time.Millisecond))

	go g.Start(context.Background())

	deadline := time.After(time.Second)
	for !g.Running() {
		select {
		case <-deadline:
			t.Fatal("Generator never started")
		case <-time.After(time.Millisecond):
		}
	}

	// Stop while the loop is blocked inside the fetch, then let it finish.
	g.Stop()
	close(release)

	deadline = time.After(time.Second)
	for g.Running() {
		select {
		case <-deadline:
			t.Fatal("Generator still running after Stop")
		case <-time.After(time.Millisecond):
		}
	}

	g.Stop() // idempotent
}

func TestSecondsToRotation(t *testing.T) {
	g := NewGenerator("user-1", staticSource("secret"), DefaultParams(),
		testLogger(), WithClock(fixedClock(1700000000))) // 1700000000 % 30 == 20

	if got := g.SecondsToRotation(); got != 10 {
		t.Errorf("Expected 10 seconds to rotation, got %d", got)
	}
}
