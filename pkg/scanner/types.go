// Package scanner is the client SDK embedded in door scanning terminals.
// It posts decoded QR payloads to a pacepass server and returns the
// check-in decision.
package scanner

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Rejection reasons returned by the server.
const (
	ReasonUnknownMember = "unknown_member"
	ReasonBadSignature  = "bad_signature"
	ReasonExpired       = "expired"
	ReasonMalformed     = "malformed"
)

// Decision is the server's verdict on a scanned payload
type Decision struct {
	Accepted     bool   `json:"accepted"`
	MemberID     string `json:"memberId,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
	Tier         string `json:"tier,omitempty"`
	LowAssurance bool   `json:"lowAssurance,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// CheckinEvent is one entry in the recent check-in feed
type CheckinEvent struct {
	MemberID     string    `json:"memberId"`
	Kind         string    `json:"kind"`
	LowAssurance bool      `json:"lowAssurance"`
	At           time.Time `json:"at"`
}

// Error represents a pacepass error response
type Error struct {
	Code       string `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// parseError extracts a structured error from a non-2xx response
func parseError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	var apiErr Error
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != "" {
		apiErr.StatusCode = resp.StatusCode
		return &apiErr
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
}
