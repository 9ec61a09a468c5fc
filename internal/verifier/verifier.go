// Package verifier is the server-side decision engine for check-ins: it takes
// a raw scanned payload and answers accepted or rejected, with a reason.
package verifier

import (
	"context"
	"crypto/subtle"
	"log/slog"

	"github.com/pacepass/pacepass/internal/audit"
	"github.com/pacepass/pacepass/internal/members"
	"github.com/pacepass/pacepass/internal/token"
)

// Rejection reason codes, returned to scanning terminals.
const (
	ReasonUnknownMember = "unknown_member"
	ReasonBadSignature  = "bad_signature"
	ReasonExpired       = "expired"
	ReasonMalformed     = "malformed"
)

// Decision is the verifier's answer for one scanned payload.
type Decision struct {
	Accepted     bool   `json:"accepted"`
	MemberID     string `json:"memberId,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
	Tier         string `json:"tier,omitempty"`
	LowAssurance bool   `json:"lowAssurance,omitempty"`
	Reason       string `json:"reason,omitempty"`

	// Kind and TokenTS feed the audit trail and metrics; they are not part
	// of the scanner-facing response body.
	Kind    string `json:"-"`
	TokenTS int64  `json:"-"`
}

// SecretLookup resolves a member's current long-term secret. Rotation must be
// visible immediately: the verifier reads through to the store on every scan.
type SecretLookup interface {
	Lookup(ctx context.Context, memberID string) (string, error)
}

// Directory resolves member display identity for accepted check-ins.
type Directory interface {
	Get(ctx context.Context, id string) (*members.Member, error)
}

// Verifier validates scanned payloads against member secrets.
type Verifier struct {
	secrets SecretLookup
	dir     Directory
	audits  audit.Logger
	params  token.Params
	clock   token.Clock
	legacy  bool
	logger  *slog.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithClock overrides the verifier clock (tests).
func WithClock(c token.Clock) Option {
	return func(v *Verifier) { v.clock = c }
}

// WithLegacyEnabled toggles acceptance of legacy static payloads.
func WithLegacyEnabled(enabled bool) Option {
	return func(v *Verifier) { v.legacy = enabled }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Verifier) { v.logger = l }
}

// New creates a verifier. The audit logger may be nil (attempts are then not
// recorded), the other dependencies are required.
func New(secrets SecretLookup, dir Directory, audits audit.Logger, params token.Params, opts ...Option) *Verifier {
	v := &Verifier{
		secrets: secrets,
		dir:     dir,
		audits:  audits,
		params:  params,
		clock:   token.SystemClock,
		legacy:  true,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify decides a scanned payload against the current time.
func (v *Verifier) Verify(ctx context.Context, raw string) Decision {
	return v.VerifyAt(ctx, raw, v.clock().Unix())
}

// VerifyAt decides a scanned payload against an explicit unix time. Every
// attempt is written to the audit trail, accepted or not.
func (v *Verifier) VerifyAt(ctx context.Context, raw string, now int64) Decision {
	d := v.decide(ctx, raw, now)
	v.record(ctx, d)
	return d
}

func (v *Verifier) decide(ctx context.Context, raw string, now int64) Decision {
	payload, perr := token.Decode(raw)
	if perr != nil {
		return Decision{Reason: ReasonMalformed, Kind: audit.KindUnknown}
	}

	switch p := payload.(type) {
	case token.RotatingPayload:
		return v.decideRotating(ctx, p, now)
	case token.LegacyPayload:
		return v.decideLegacy(ctx, p)
	default:
		return Decision{Reason: ReasonMalformed, Kind: audit.KindUnknown}
	}
}

func (v *Verifier) decideRotating(ctx context.Context, p token.RotatingPayload, now int64) Decision {
	d := Decision{MemberID: p.MemberID, Kind: audit.KindRotating, TokenTS: p.Timestamp}

	secret, err := v.secrets.Lookup(ctx, p.MemberID)
	if err != nil {
		d.Reason = ReasonUnknownMember
		return d
	}

	expected, err := token.SignHex([]byte(secret), token.Message(p.MemberID, p.Timestamp))
	if err != nil {
		// Empty stored secret. Treat like a signature mismatch rather than
		// leaking provisioning state to the scanner.
		d.Reason = ReasonBadSignature
		return d
	}
	if !token.Equal(expected, p.SignatureHex) {
		d.Reason = ReasonBadSignature
		return d
	}

	if !v.params.Fresh(p.Timestamp, now) {
		d.Reason = ReasonExpired
		return d
	}

	m, err := v.dir.Get(ctx, p.MemberID)
	if err != nil {
		d.Reason = ReasonUnknownMember
		return d
	}

	d.Accepted = true
	d.DisplayName = m.DisplayName
	d.Tier = m.Tier
	return d
}

func (v *Verifier) decideLegacy(ctx context.Context, p token.LegacyPayload) Decision {
	d := Decision{MemberID: p.MemberID, Kind: audit.KindLegacy}

	if !v.legacy {
		d.Reason = ReasonMalformed
		return d
	}

	secret, err := v.secrets.Lookup(ctx, p.MemberID)
	if err != nil {
		d.Reason = ReasonUnknownMember
		return d
	}

	if subtle.ConstantTimeCompare([]byte(secret), []byte(p.Secret)) != 1 {
		d.Reason = ReasonBadSignature
		return d
	}

	m, err := v.dir.Get(ctx, p.MemberID)
	if err != nil {
		d.Reason = ReasonUnknownMember
		return d
	}

	d.Accepted = true
	d.DisplayName = m.DisplayName
	d.Tier = m.Tier
	d.LowAssurance = true
	return d
}

func (v *Verifier) record(ctx context.Context, d Decision) {
	if v.audits == nil {
		return
	}

	scannerIP, requestID := audit.MetaFromContext(ctx)
	decision := audit.DecisionRejected
	if d.Accepted {
		decision = audit.DecisionAccepted
	}

	entry := &audit.Entry{
		MemberID:     d.MemberID,
		Decision:     decision,
		Kind:         d.Kind,
		Reason:       d.Reason,
		TokenTS:      d.TokenTS,
		LowAssurance: d.LowAssurance,
		ScannerIP:    scannerIP,
		RequestID:    requestID,
	}
	if err := v.audits.Log(ctx, entry); err != nil {
		v.logger.Warn("audit write failed",
			"member_id", d.MemberID,
			"decision", decision,
			"error", err)
	}
}
