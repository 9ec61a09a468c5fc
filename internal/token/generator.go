package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNoSecret is returned when the member's secret cannot be retrieved.
// The generator never falls back to an empty or fixed payload; callers must
// surface a retry affordance instead.
var ErrNoSecret = errors.New("member secret unavailable")

// SecretSource supplies the member's long-term secret to the generator.
// Implementations fetch it from the provisioning API for the authenticated
// owner; tests supply it directly.
type SecretSource interface {
	Secret(ctx context.Context) (string, error)
}

// SecretFunc adapts a function to the SecretSource interface.
type SecretFunc func(ctx context.Context) (string, error)

// Secret calls f.
func (f SecretFunc) Secret(ctx context.Context) (string, error) { return f(ctx) }

// Generator produces the payload string currently displayed as the member's
// QR code. It is session-scoped: construct one per displaying screen, call
// Start when the screen mounts and Stop when it unmounts so no timer keeps
// firing signer calls after teardown.
//
// The secret is cached in memory for the lifetime of the generator and never
// written anywhere.
type Generator struct {
	memberID     string
	source       SecretSource
	params       Params
	clock        Clock
	logger       *slog.Logger
	tick         time.Duration
	fetchTimeout time.Duration

	mu     sync.Mutex
	secret string

	current  atomic.Value // string, last encoded payload
	lastTS   atomic.Int64
	stop     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithClock injects a clock (for tests).
func WithClock(clock Clock) GeneratorOption {
	return func(g *Generator) { g.clock = clock }
}

// WithTick overrides the refresh cadence (default 1s, matching the UI
// countdown; the payload itself only changes on window boundaries).
func WithTick(d time.Duration) GeneratorOption {
	return func(g *Generator) { g.tick = d }
}

// WithFetchTimeout bounds how long a secret fetch may block (default 10s).
func WithFetchTimeout(d time.Duration) GeneratorOption {
	return func(g *Generator) { g.fetchTimeout = d }
}

// NewGenerator creates a rotating token generator for one member.
func NewGenerator(memberID string, source SecretSource, params Params, logger *slog.Logger, opts ...GeneratorOption) *Generator {
	g := &Generator{
		memberID:     memberID,
		source:       source,
		params:       params,
		clock:        SystemClock,
		logger:       logger,
		tick:         time.Second,
		fetchTimeout: 10 * time.Second,
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Current computes the payload for the current instant, fetching and caching
// the secret on first use. Safe to call without Start for one-shot use.
func (g *Generator) Current(ctx context.Context) (string, error) {
	secret, err := g.cachedSecret(ctx)
	if err != nil {
		return "", err
	}

	ts := g.clock().Unix()
	sig, err := SignHex([]byte(secret), Message(g.memberID, ts))
	if err != nil {
		return "", err
	}

	payload := EncodeRotating(g.memberID, ts, sig)
	g.current.Store(payload)
	g.lastTS.Store(ts)
	return payload, nil
}

// Snapshot returns the last generated payload without recomputing. ok is
// false before the first successful Current call.
func (g *Generator) Snapshot() (payload string, ok bool) {
	v := g.current.Load()
	if v == nil {
		return "", false
	}
	return v.(string), true
}

// Running reports whether the refresh loop is active.
func (g *Generator) Running() bool {
	return g.running.Load()
}

// Start runs the refresh loop until ctx is cancelled or Stop is called.
// Call in a goroutine. The payload is regenerated whenever the window
// boundary is crossed, and immediately on start (the app-foreground case).
func (g *Generator) Start(ctx context.Context) {
	if !g.running.CompareAndSwap(false, true) {
		return
	}
	defer g.running.Store(false)

	if _, err := g.Current(ctx); err != nil {
		g.logger.Warn("initial token generation failed", "member_id", g.memberID, "error", err)
	}

	ticker := time.NewTicker(g.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-g.stop:
			return
		case <-ticker.C:
			g.refreshIfStale(ctx)
		}
	}
}

// Stop signals the refresh loop to exit. The signal is durable: a Stop issued
// while the loop is mid-refresh (or still inside the initial secret fetch)
// takes effect as soon as the loop reaches its select. Generators are
// single-use; a stopped generator cannot be restarted.
func (g *Generator) Stop() {
	g.stopOnce.Do(func() { close(g.stop) })
}

// SecondsToRotation returns how many seconds remain in the current window,
// for the UI countdown ring.
func (g *Generator) SecondsToRotation() int64 {
	now := g.clock().Unix()
	return g.params.WindowSeconds - (now % g.params.WindowSeconds)
}

func (g *Generator) refreshIfStale(ctx context.Context) {
	now := g.clock().Unix()
	last := g.lastTS.Load()
	if last != 0 && now/g.params.WindowSeconds == last/g.params.WindowSeconds {
		return
	}
	if _, err := g.Current(ctx); err != nil {
		g.logger.Warn("token refresh failed", "member_id", g.memberID, "error", err)
	}
}

func (g *Generator) cachedSecret(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.secret != "" {
		return g.secret, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, g.fetchTimeout)
	defer cancel()

	secret, err := g.source.Secret(fetchCtx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoSecret, err)
	}
	if secret == "" {
		return "", ErrNoSecret
	}
	g.secret = secret
	return secret, nil
}

// Invalidate drops the cached secret, forcing a refetch on the next payload.
// Call after rotating the secret server-side.
func (g *Generator) Invalidate() {
	g.mu.Lock()
	g.secret = ""
	g.mu.Unlock()
}
