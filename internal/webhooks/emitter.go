package webhooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/pacepass/pacepass/internal/idgen"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	webhookEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pacepass",
		Subsystem: "webhook",
		Name:      "emit_total",
		Help:      "Total webhook emit attempts by event type.",
	}, []string{"event_type"})

	webhookEmitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pacepass",
		Subsystem: "webhook",
		Name:      "emit_errors_total",
		Help:      "Total webhook emit failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(webhookEmitTotal, webhookEmitErrors)
}

// Emitter wraps a Dispatcher to emit lifecycle events across subsystems.
// All methods are fire-and-forget: errors are logged but never returned.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a new webhook emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger}
}

func (e *Emitter) emit(eventType EventType, data map[string]interface{}) {
	if e == nil || e.d == nil {
		return
	}
	webhookEmitTotal.WithLabelValues(string(eventType)).Inc()
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	// Dispatch spawns per-subscriber goroutines that retry with backoff;
	// cancelling on return would abort them mid-delivery. The context is
	// released when the timeout elapses.
	const emitTimeout = 30 * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
	time.AfterFunc(emitTimeout, cancel)
	if err := e.d.Dispatch(ctx, event); err != nil {
		webhookEmitErrors.WithLabelValues(string(eventType)).Inc()
		e.logger.Warn("webhook emit failed", "event", eventType, "error", err)
	}
}

// --- Check-in events ---

// EmitCheckinAccepted emits a checkin.accepted event.
func (e *Emitter) EmitCheckinAccepted(memberID, displayName, tier string, lowAssurance bool) {
	e.emit(EventCheckinAccepted, map[string]interface{}{
		"memberId":     memberID,
		"displayName":  displayName,
		"tier":         tier,
		"lowAssurance": lowAssurance,
	})
}

// EmitCheckinRejected emits a checkin.rejected event.
//
// memberID may be empty when the payload was malformed and no ID could be
// recovered.
func (e *Emitter) EmitCheckinRejected(memberID, reason string) {
	e.emit(EventCheckinRejected, map[string]interface{}{
		"memberId": memberID,
		"reason":   reason,
	})
}

// --- Membership events ---

// EmitMemberJoined emits a member.joined event.
func (e *Emitter) EmitMemberJoined(memberID, displayName, tier string) {
	e.emit(EventMemberJoined, map[string]interface{}{
		"memberId":    memberID,
		"displayName": displayName,
		"tier":        tier,
	})
}

// EmitSecretRotated emits a secret.rotated event. The secret itself is never
// included in the payload.
func (e *Emitter) EmitSecretRotated(memberID string) {
	e.emit(EventSecretRotated, map[string]interface{}{
		"memberId": memberID,
	})
}
