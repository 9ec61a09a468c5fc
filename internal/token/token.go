// Package token implements the rotating check-in credential: an HMAC-SHA256
// signature over the member ID and a unix timestamp, serialized as a compact
// JSON payload that fits in a QR symbol.
//
// The same package is used on both sides of the protocol: the member's device
// generates payloads (Generator) and the verification service decodes and
// recomputes them. Window size and skew tolerance live in Params so the two
// sides cannot drift apart.
package token

import (
	"strconv"
	"time"
)

// DefaultWindowSeconds is how long a rotating payload stays fresh.
const DefaultWindowSeconds = 30

// DefaultSkewWindows is the extra whole windows of clock-skew tolerance
// granted on top of the freshness window.
const DefaultSkewWindows = 1

// LegacyVersion is the only accepted version literal for static payloads.
const LegacyVersion = "v1"

// Params are the protocol constants shared by Generator and verifier.
// A mismatch between the two sides silently breaks every check-in, so both
// must be built from the same Params value (normally from config).
type Params struct {
	WindowSeconds int64
	SkewWindows   int64
}

// DefaultParams returns the production defaults (30s window, one extra
// window of skew tolerance, i.e. payloads verify for up to 60s).
func DefaultParams() Params {
	return Params{
		WindowSeconds: DefaultWindowSeconds,
		SkewWindows:   DefaultSkewWindows,
	}
}

// MaxAge returns the maximum |now - ts| in seconds for which a payload is
// still considered fresh.
func (p Params) MaxAge() int64 {
	return p.WindowSeconds * (1 + p.SkewWindows)
}

// Fresh reports whether a payload timestamp is within tolerance of now.
func (p Params) Fresh(ts, now int64) bool {
	age := now - ts
	if age < 0 {
		age = -age
	}
	return age <= p.MaxAge()
}

// Message builds the exact byte sequence that is signed: the raw member ID
// followed by the base-10 timestamp, no separator. Generator and verifier
// must agree on this bit-for-bit.
func Message(memberID string, ts int64) []byte {
	return []byte(memberID + strconv.FormatInt(ts, 10))
}

// Clock supplies the current time. Injected so tests can pin timestamps
// exactly on window boundaries.
type Clock func() time.Time

// SystemClock is the production clock.
func SystemClock() time.Time {
	return time.Now()
}
