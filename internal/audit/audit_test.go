package audit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLogger_LogAssignsIDAndTime(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLogger()

	err := l.Log(ctx, &Entry{
		MemberID: "mem_a",
		Decision: DecisionAccepted,
		Kind:     KindRotating,
		TokenTS:  1700000000,
	})
	if err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	entries := l.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].ID == 0 {
		t.Error("expected entry ID to be assigned")
	}
	if entries[0].CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestMemoryLogger_QueryFilters(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLogger()

	now := time.Now()
	_ = l.Log(ctx, &Entry{MemberID: "mem_a", Decision: DecisionAccepted, Kind: KindRotating, CreatedAt: now.Add(-2 * time.Hour)})
	_ = l.Log(ctx, &Entry{MemberID: "mem_a", Decision: DecisionRejected, Kind: KindRotating, Reason: "expired", CreatedAt: now.Add(-1 * time.Hour)})
	_ = l.Log(ctx, &Entry{MemberID: "mem_b", Decision: DecisionAccepted, Kind: KindLegacy, LowAssurance: true, CreatedAt: now})

	// All entries for mem_a
	entries, err := l.Query(ctx, "mem_a", time.Time{}, now, "", 100)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries for mem_a, got %d", len(entries))
	}

	// Only accepted for mem_a
	entries, err = l.Query(ctx, "mem_a", time.Time{}, now, DecisionAccepted, 100)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 accepted entry for mem_a, got %d", len(entries))
	}
}

func TestMemoryLogger_QueryDescendingWithLimit(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLogger()

	for i := 0; i < 5; i++ {
		_ = l.Log(ctx, &Entry{MemberID: "mem_a", Decision: DecisionAccepted, Kind: KindRotating, TokenTS: int64(i)})
	}

	entries, err := l.Query(ctx, "mem_a", time.Time{}, time.Time{}, "", 3)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	// Newest first
	if entries[0].TokenTS != 4 || entries[2].TokenTS != 2 {
		t.Errorf("expected descending order, got %d..%d", entries[0].TokenTS, entries[2].TokenTS)
	}
}

func TestMemoryLogger_RecentAccepted(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLogger()

	_ = l.Log(ctx, &Entry{MemberID: "mem_a", Decision: DecisionAccepted, Kind: KindRotating})
	_ = l.Log(ctx, &Entry{MemberID: "mem_b", Decision: DecisionRejected, Kind: KindUnknown, Reason: "malformed"})
	_ = l.Log(ctx, &Entry{MemberID: "mem_c", Decision: DecisionAccepted, Kind: KindLegacy, LowAssurance: true})

	entries, err := l.RecentAccepted(ctx, 10)
	if err != nil {
		t.Fatalf("RecentAccepted failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 accepted entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Decision != DecisionAccepted {
			t.Errorf("expected only accepted entries, got %s", e.Decision)
		}
	}
}

func TestMetaFromContext(t *testing.T) {
	ctx := context.Background()
	ctx = WithScannerIP(ctx, "192.168.1.50")
	ctx = WithRequestID(ctx, "req_123")

	ip, reqID := MetaFromContext(ctx)
	if ip != "192.168.1.50" {
		t.Errorf("expected scanner IP, got %q", ip)
	}
	if reqID != "req_123" {
		t.Errorf("expected request ID, got %q", reqID)
	}

	// Empty context yields empty metadata
	ip, reqID = MetaFromContext(context.Background())
	if ip != "" || reqID != "" {
		t.Errorf("expected empty metadata, got %q %q", ip, reqID)
	}
}
