package audit

import (
	"context"
	"testing"
	"time"

	"github.com/pacepass/pacepass/internal/testutil"
)

func pgLogger(t *testing.T) (*PostgresLogger, context.Context, func()) {
	t.Helper()
	db, cleanup := testutil.PGTest(t)
	logger := NewPostgresLogger(db)
	ctx := context.Background()
	if err := logger.Migrate(ctx); err != nil {
		cleanup()
		t.Fatalf("Migrate failed: %v", err)
	}
	return logger, ctx, cleanup
}

func TestPostgresLogger_LogAndQuery(t *testing.T) {
	logger, ctx, cleanup := pgLogger(t)
	defer cleanup()

	entries := []*Entry{
		{MemberID: "mem_a", Decision: DecisionAccepted, Kind: KindRotating, TokenTS: 100},
		{MemberID: "mem_a", Decision: DecisionRejected, Kind: KindRotating, Reason: "expired", TokenTS: 50},
		{MemberID: "mem_b", Decision: DecisionAccepted, Kind: KindLegacy, LowAssurance: true, TokenTS: 0},
	}
	for _, e := range entries {
		if err := logger.Log(ctx, e); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	// All for mem_a
	got, err := logger.Query(ctx, "mem_a", time.Time{}, time.Time{}, "", 10)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Expected 2 entries for mem_a, got %d", len(got))
	}

	// Accepted only, any member
	got, err = logger.Query(ctx, "", time.Time{}, time.Time{}, DecisionAccepted, 10)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Expected 2 accepted entries, got %d", len(got))
	}

	// Member + decision
	got, err = logger.Query(ctx, "mem_a", time.Time{}, time.Time{}, DecisionRejected, 10)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 rejected entry for mem_a, got %d", len(got))
	}
	if got[0].Reason != "expired" {
		t.Errorf("Reason = %q, want expired", got[0].Reason)
	}
}

func TestPostgresLogger_PreservesMetadata(t *testing.T) {
	logger, ctx, cleanup := pgLogger(t)
	defer cleanup()

	err := logger.Log(ctx, &Entry{
		MemberID:     "mem_meta",
		Decision:     DecisionAccepted,
		Kind:         KindLegacy,
		LowAssurance: true,
		TokenTS:      0,
		ScannerIP:    "203.0.113.7",
		RequestID:    "req_123",
	})
	if err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	got, err := logger.Query(ctx, "mem_meta", time.Time{}, time.Time{}, "", 1)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(got))
	}
	e := got[0]
	if !e.LowAssurance {
		t.Error("Expected lowAssurance preserved")
	}
	if e.ScannerIP != "203.0.113.7" || e.RequestID != "req_123" {
		t.Errorf("Metadata = %s/%s, want 203.0.113.7/req_123", e.ScannerIP, e.RequestID)
	}
	if e.ID == 0 {
		t.Error("Expected assigned row ID")
	}
}

func TestPostgresLogger_RecentAccepted(t *testing.T) {
	logger, ctx, cleanup := pgLogger(t)
	defer cleanup()

	logger.Log(ctx, &Entry{MemberID: "mem_1", Decision: DecisionAccepted, Kind: KindRotating})
	logger.Log(ctx, &Entry{MemberID: "mem_2", Decision: DecisionRejected, Kind: KindRotating, Reason: "bad_signature"})
	logger.Log(ctx, &Entry{MemberID: "mem_3", Decision: DecisionAccepted, Kind: KindRotating})

	got, err := logger.RecentAccepted(ctx, 10)
	if err != nil {
		t.Fatalf("RecentAccepted failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 accepted entries, got %d", len(got))
	}
	for _, e := range got {
		if e.Decision != DecisionAccepted {
			t.Errorf("Got decision %q in RecentAccepted", e.Decision)
		}
	}
}
