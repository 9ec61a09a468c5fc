package verifier

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pacepass/pacepass/internal/audit"
	"github.com/pacepass/pacepass/internal/members"
	"github.com/pacepass/pacepass/internal/secrets"
	"github.com/pacepass/pacepass/internal/token"
)

const testSecret = "0123456789abcdef0123456789abcdef" // 32 hex chars

func setupVerifier(t *testing.T) (*Verifier, *secrets.Manager, members.Store, *audit.MemoryLogger) {
	t.Helper()

	secretMgr := secrets.NewManager(secrets.NewMemoryStore())
	memberStore := members.NewMemoryStore()
	audits := audit.NewMemoryLogger()

	v := New(secretMgr, memberStore, audits, token.DefaultParams())
	return v, secretMgr, memberStore, audits
}

// seedMember registers a member with a fixed secret.
func seedMember(t *testing.T, mgr *secrets.Manager, store members.Store, id, name, secret string) {
	t.Helper()
	ctx := context.Background()

	if err := store.Create(ctx, &members.Member{ID: id, DisplayName: name, Tier: members.TierSilver, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("seed member failed: %v", err)
	}
	if err := mgr.Seed(ctx, id, secret); err != nil {
		t.Fatalf("seed secret failed: %v", err)
	}
}

func rotatingPayload(t *testing.T, memberID, secret string, ts int64) string {
	t.Helper()
	sig, err := token.SignHex([]byte(secret), token.Message(memberID, ts))
	if err != nil {
		t.Fatalf("SignHex failed: %v", err)
	}
	return token.EncodeRotating(memberID, ts, sig)
}

func TestVerify_FreshToken_Accepted(t *testing.T) {
	v, mgr, store, _ := setupVerifier(t)
	seedMember(t, mgr, store, "user-42", "Jordan Miles", testSecret)

	raw := rotatingPayload(t, "user-42", testSecret, 1700000000)

	// 10 seconds later, well within the 60s tolerance.
	d := v.VerifyAt(context.Background(), raw, 1700000010)
	if !d.Accepted {
		t.Fatalf("expected accepted, got reason %q", d.Reason)
	}
	if d.MemberID != "user-42" {
		t.Errorf("expected member user-42, got %s", d.MemberID)
	}
	if d.DisplayName != "Jordan Miles" {
		t.Errorf("expected display name, got %s", d.DisplayName)
	}
	if d.Tier != members.TierSilver {
		t.Errorf("expected silver tier, got %s", d.Tier)
	}
	if d.LowAssurance {
		t.Error("rotating token should not be low assurance")
	}
}

func TestVerify_StaleToken_Expired(t *testing.T) {
	v, mgr, store, _ := setupVerifier(t)
	seedMember(t, mgr, store, "user-42", "Jordan Miles", testSecret)

	raw := rotatingPayload(t, "user-42", testSecret, 1700000000)

	// 100 seconds later: the signature is valid but the window is gone.
	d := v.VerifyAt(context.Background(), raw, 1700000100)
	if d.Accepted {
		t.Fatal("expected rejection for stale token")
	}
	if d.Reason != ReasonExpired {
		t.Errorf("expected reason %q, got %q", ReasonExpired, d.Reason)
	}
}

func TestVerify_ExactFreshnessBoundary(t *testing.T) {
	v, mgr, store, _ := setupVerifier(t)
	seedMember(t, mgr, store, "user-42", "Jordan Miles", testSecret)

	ts := int64(1700000000)
	maxAge := token.DefaultParams().MaxAge()

	// |now - ts| == maxAge is still fresh
	raw := rotatingPayload(t, "user-42", testSecret, ts)
	if d := v.VerifyAt(context.Background(), raw, ts+maxAge); !d.Accepted {
		t.Errorf("expected accepted at boundary, got %q", d.Reason)
	}
	// One second past is expired
	if d := v.VerifyAt(context.Background(), raw, ts+maxAge+1); d.Reason != ReasonExpired {
		t.Errorf("expected expired past boundary, got %q", d.Reason)
	}
	// Device clock ahead of the server is tolerated symmetrically
	if d := v.VerifyAt(context.Background(), raw, ts-maxAge); !d.Accepted {
		t.Errorf("expected accepted for future token within skew, got %q", d.Reason)
	}
}

func TestVerify_UnknownMember(t *testing.T) {
	v, _, _, _ := setupVerifier(t)

	raw := rotatingPayload(t, "user-ghost", testSecret, 1700000000)
	d := v.VerifyAt(context.Background(), raw, 1700000010)
	if d.Accepted {
		t.Fatal("expected rejection for unknown member")
	}
	if d.Reason != ReasonUnknownMember {
		t.Errorf("expected reason %q, got %q", ReasonUnknownMember, d.Reason)
	}
}

func TestVerify_TamperedSignature(t *testing.T) {
	v, mgr, store, _ := setupVerifier(t)
	seedMember(t, mgr, store, "user-42", "Jordan Miles", testSecret)

	// Signed with a different secret
	wrongSecret := "ffffffffffffffffffffffffffffffff"
	raw := rotatingPayload(t, "user-42", wrongSecret, 1700000000)

	d := v.VerifyAt(context.Background(), raw, 1700000010)
	if d.Accepted {
		t.Fatal("expected rejection for bad signature")
	}
	if d.Reason != ReasonBadSignature {
		t.Errorf("expected reason %q, got %q", ReasonBadSignature, d.Reason)
	}
}

func TestVerify_TamperedMemberID(t *testing.T) {
	v, mgr, store, _ := setupVerifier(t)
	seedMember(t, mgr, store, "user-42", "Jordan Miles", testSecret)
	seedMember(t, mgr, store, "user-43", "Casey Strand", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	// Take user-42's valid payload and swap in user-43's ID.
	sig, _ := token.SignHex([]byte(testSecret), token.Message("user-42", 1700000000))
	raw := token.EncodeRotating("user-43", 1700000000, sig)

	d := v.VerifyAt(context.Background(), raw, 1700000010)
	if d.Accepted {
		t.Fatal("expected rejection when member ID is swapped")
	}
	if d.Reason != ReasonBadSignature {
		t.Errorf("expected reason %q, got %q", ReasonBadSignature, d.Reason)
	}
}

func TestVerify_MalformedPayloads(t *testing.T) {
	v, _, _, _ := setupVerifier(t)

	cases := []string{
		"",
		"not json",
		`{"id":"user-42"}`,
		`{"id":"user-42","ts":"1700000000","sig":"` + strings.Repeat("a", 64) + `"}`,
		`{"id":"user-42","ts":1700000000,"sig":"SHOUTY"}`,
	}
	for _, raw := range cases {
		d := v.VerifyAt(context.Background(), raw, 1700000010)
		if d.Accepted {
			t.Errorf("payload %q: expected rejection", raw)
		}
		if d.Reason != ReasonMalformed {
			t.Errorf("payload %q: expected reason %q, got %q", raw, ReasonMalformed, d.Reason)
		}
	}
}

func TestVerify_RotationInvalidatesOldTokens(t *testing.T) {
	v, mgr, store, _ := setupVerifier(t)
	seedMember(t, mgr, store, "user-42", "Jordan Miles", testSecret)

	raw := rotatingPayload(t, "user-42", testSecret, 1700000000)

	// Valid before rotation
	if d := v.VerifyAt(context.Background(), raw, 1700000010); !d.Accepted {
		t.Fatalf("expected accepted before rotation, got %q", d.Reason)
	}

	if _, err := mgr.Rotate(context.Background(), "user-42", "user-42"); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	// Same payload now fails: the MAC was computed under the old secret.
	d := v.VerifyAt(context.Background(), raw, 1700000010)
	if d.Accepted {
		t.Fatal("expected rejection after rotation")
	}
	if d.Reason != ReasonBadSignature {
		t.Errorf("expected reason %q, got %q", ReasonBadSignature, d.Reason)
	}

	// A token signed with the new secret is accepted.
	newSecret, _ := mgr.Lookup(context.Background(), "user-42")
	fresh := rotatingPayload(t, "user-42", newSecret, 1700000000)
	if d := v.VerifyAt(context.Background(), fresh, 1700000010); !d.Accepted {
		t.Errorf("expected accepted with new secret, got %q", d.Reason)
	}
}

func TestVerify_LegacyPayload_AcceptedLowAssurance(t *testing.T) {
	v, mgr, store, _ := setupVerifier(t)
	seedMember(t, mgr, store, "user-42", "Jordan Miles", testSecret)

	raw := token.EncodeLegacy("user-42", testSecret)

	d := v.VerifyAt(context.Background(), raw, 1700000010)
	if !d.Accepted {
		t.Fatalf("expected legacy payload accepted, got %q", d.Reason)
	}
	if !d.LowAssurance {
		t.Error("expected lowAssurance flag on legacy acceptance")
	}
	if d.DisplayName != "Jordan Miles" {
		t.Errorf("expected display name, got %s", d.DisplayName)
	}
}

func TestVerify_LegacyWrongVersion_Malformed(t *testing.T) {
	v, _, _, _ := setupVerifier(t)

	raw := `{"userId":"user-42","secret":"` + testSecret + `","version":"v2"}`
	d := v.VerifyAt(context.Background(), raw, 1700000010)
	if d.Accepted {
		t.Fatal("expected rejection for unsupported legacy version")
	}
	if d.Reason != ReasonMalformed {
		t.Errorf("expected reason %q, got %q", ReasonMalformed, d.Reason)
	}
}

func TestVerify_LegacyWrongSecret(t *testing.T) {
	v, mgr, store, _ := setupVerifier(t)
	seedMember(t, mgr, store, "user-42", "Jordan Miles", testSecret)

	raw := token.EncodeLegacy("user-42", "ffffffffffffffffffffffffffffffff")
	d := v.VerifyAt(context.Background(), raw, 1700000010)
	if d.Accepted {
		t.Fatal("expected rejection for wrong legacy secret")
	}
	if d.Reason != ReasonBadSignature {
		t.Errorf("expected reason %q, got %q", ReasonBadSignature, d.Reason)
	}
}

func TestVerify_LegacyDisabled(t *testing.T) {
	secretMgr := secrets.NewManager(secrets.NewMemoryStore())
	memberStore := members.NewMemoryStore()
	v := New(secretMgr, memberStore, audit.NewMemoryLogger(), token.DefaultParams(), WithLegacyEnabled(false))
	seedMember(t, secretMgr, memberStore, "user-42", "Jordan Miles", testSecret)

	raw := token.EncodeLegacy("user-42", testSecret)
	d := v.VerifyAt(context.Background(), raw, 1700000010)
	if d.Accepted {
		t.Fatal("expected rejection with legacy disabled")
	}
	if d.Reason != ReasonMalformed {
		t.Errorf("expected reason %q, got %q", ReasonMalformed, d.Reason)
	}
}

func TestVerify_AuditTrail(t *testing.T) {
	v, mgr, store, audits := setupVerifier(t)
	seedMember(t, mgr, store, "user-42", "Jordan Miles", testSecret)

	ctx := audit.WithScannerIP(context.Background(), "10.0.0.5")
	ctx = audit.WithRequestID(ctx, "req_abc")

	_ = v.VerifyAt(ctx, rotatingPayload(t, "user-42", testSecret, 1700000000), 1700000010)
	_ = v.VerifyAt(ctx, "garbage", 1700000010)

	entries := audits.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(entries))
	}

	if entries[0].Decision != audit.DecisionAccepted || entries[0].MemberID != "user-42" {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
	if entries[0].ScannerIP != "10.0.0.5" || entries[0].RequestID != "req_abc" {
		t.Errorf("expected scanner metadata on entry, got %+v", entries[0])
	}
	if entries[1].Decision != audit.DecisionRejected || entries[1].Reason != ReasonMalformed {
		t.Errorf("unexpected second entry: %+v", entries[1])
	}
	if entries[1].Kind != audit.KindUnknown {
		t.Errorf("expected unknown kind for undecodable payload, got %s", entries[1].Kind)
	}
}

func TestVerify_Clock(t *testing.T) {
	secretMgr := secrets.NewManager(secrets.NewMemoryStore())
	memberStore := members.NewMemoryStore()

	fixed := time.Unix(1700000010, 0)
	v := New(secretMgr, memberStore, nil, token.DefaultParams(), WithClock(func() time.Time { return fixed }))
	seedMember(t, secretMgr, memberStore, "user-42", "Jordan Miles", testSecret)

	raw := rotatingPayload(t, "user-42", testSecret, 1700000000)
	if d := v.Verify(context.Background(), raw); !d.Accepted {
		t.Errorf("expected accepted under injected clock, got %q", d.Reason)
	}
}

func TestVerify_ConcurrentMembers(t *testing.T) {
	v, mgr, store, _ := setupVerifier(t)

	secretA := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	secretB := "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	seedMember(t, mgr, store, "user-a", "Runner A", secretA)
	seedMember(t, mgr, store, "user-b", "Runner B", secretB)

	rawA := rotatingPayload(t, "user-a", secretA, 1700000000)
	rawB := rotatingPayload(t, "user-b", secretB, 1700000000)

	var wg sync.WaitGroup
	errs := make(chan string, 200)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw, want := rawA, "user-a"
			if i%2 == 1 {
				raw, want = rawB, "user-b"
			}
			d := v.VerifyAt(context.Background(), raw, 1700000010)
			if !d.Accepted || d.MemberID != want {
				errs <- "wrong decision for " + want + ": " + d.Reason
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for msg := range errs {
		t.Error(msg)
	}
}
