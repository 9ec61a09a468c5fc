// Package audit records every check-in verification attempt, accepted or
// rejected, for operator review and abuse investigation.
package audit

import (
	"context"
	"sync"
	"time"
)

type contextKey string

const (
	ctxScannerIP contextKey = "audit_scanner_ip"
	ctxRequestID contextKey = "audit_request_id"
)

// WithScannerIP attaches the scanning terminal's IP for audit logging.
func WithScannerIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxScannerIP, ip)
}

// WithRequestID attaches a request ID for audit correlation.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxRequestID, requestID)
}

// MetaFromContext extracts scanner metadata placed by the HTTP layer.
func MetaFromContext(ctx context.Context) (scannerIP, requestID string) {
	if v, ok := ctx.Value(ctxScannerIP).(string); ok {
		scannerIP = v
	}
	if v, ok := ctx.Value(ctxRequestID).(string); ok {
		requestID = v
	}
	return
}

// Decisions
const (
	DecisionAccepted = "accepted"
	DecisionRejected = "rejected"
)

// Token kinds
const (
	KindRotating = "rotating"
	KindLegacy   = "legacy"
	KindUnknown  = "unknown"
)

// Entry represents one verification attempt.
type Entry struct {
	ID           int64     `json:"id"`
	MemberID     string    `json:"memberId,omitempty"` // empty when undecodable
	Decision     string    `json:"decision"`
	Kind         string    `json:"kind"`
	Reason       string    `json:"reason,omitempty"` // rejection reason code
	TokenTS      int64     `json:"tokenTs,omitempty"`
	LowAssurance bool      `json:"lowAssurance,omitempty"`
	ScannerIP    string    `json:"scannerIp,omitempty"`
	RequestID    string    `json:"requestId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Logger persists verification attempts.
type Logger interface {
	Log(ctx context.Context, entry *Entry) error
	Query(ctx context.Context, memberID string, from, to time.Time, decision string, limit int) ([]*Entry, error)
	RecentAccepted(ctx context.Context, limit int) ([]*Entry, error)
}

// --- MemoryLogger ---

// MemoryLogger stores entries in memory for demo/testing.
type MemoryLogger struct {
	entries []*Entry
	nextID  int64
	mu      sync.RWMutex
}

// NewMemoryLogger creates an in-memory audit logger.
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

func (l *MemoryLogger) Log(_ context.Context, entry *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	cp := *entry
	cp.ID = l.nextID
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	l.entries = append(l.entries, &cp)
	return nil
}

func (l *MemoryLogger) Query(_ context.Context, memberID string, from, to time.Time, decision string, limit int) ([]*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	var result []*Entry
	// Iterate in reverse for descending order
	for i := len(l.entries) - 1; i >= 0 && len(result) < limit; i-- {
		e := l.entries[i]
		if memberID != "" && e.MemberID != memberID {
			continue
		}
		if !from.IsZero() && e.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && e.CreatedAt.After(to) {
			continue
		}
		if decision != "" && e.Decision != decision {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	return result, nil
}

func (l *MemoryLogger) RecentAccepted(ctx context.Context, limit int) ([]*Entry, error) {
	return l.Query(ctx, "", time.Time{}, time.Time{}, DecisionAccepted, limit)
}

// Entries returns all stored entries (for testing).
func (l *MemoryLogger) Entries() []*Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]*Entry, len(l.entries))
	copy(result, l.entries)
	return result
}
