package token

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Payload size limit. QR symbols can't hold much more anyway; anything
// larger is garbage or an attack.
const maxPayloadBytes = 1024

// ParseError is the typed failure for malformed wire payloads. The codec
// never panics on attacker-controlled input; every malformed string comes
// back as a ParseError so the verifier can answer with a clean rejection.
type ParseError struct {
	Field  string
	Detail string
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return "malformed payload: " + e.Detail
	}
	return fmt.Sprintf("malformed payload: field %q %s", e.Field, e.Detail)
}

func parseErr(field, detail string) *ParseError {
	return &ParseError{Field: field, Detail: detail}
}

// RotatingPayload is the current wire format: a fresh signature every window.
type RotatingPayload struct {
	MemberID     string `json:"id"`
	Timestamp    int64  `json:"ts"`
	SignatureHex string `json:"sig"`
}

// LegacyPayload is the deprecated static format. It carries the long-term
// secret itself, so possession of the string equals possession of the secret.
type LegacyPayload struct {
	MemberID string `json:"userId"`
	Secret   string `json:"secret"`
	Version  string `json:"version"`
}

// Payload is the tagged union of the two wire formats. The verifier has a
// single dispatch point switching on the concrete type.
type Payload interface {
	payloadKind() string
}

func (RotatingPayload) payloadKind() string { return "rotating" }
func (LegacyPayload) payloadKind() string   { return "legacy" }

// Kind returns the wire-format name of a payload ("rotating" or "legacy").
func Kind(p Payload) string { return p.payloadKind() }

// EncodeRotating serializes a rotating payload to its wire form.
func EncodeRotating(memberID string, ts int64, signatureHex string) string {
	b, _ := json.Marshal(RotatingPayload{
		MemberID:     memberID,
		Timestamp:    ts,
		SignatureHex: signatureHex,
	})
	return string(b)
}

// EncodeLegacy serializes a legacy static payload. Only kept for tests and
// tooling; no production code path generates this format anymore.
func EncodeLegacy(memberID, secret string) string {
	b, _ := json.Marshal(LegacyPayload{
		MemberID: memberID,
		Secret:   secret,
		Version:  LegacyVersion,
	})
	return string(b)
}

// DecodeRotating parses and validates a rotating payload. Every field is
// type-checked: id must be a non-empty string, ts a positive integer (no
// fraction, no string), sig a lowercase hex string of MAC length.
func DecodeRotating(raw string) (RotatingPayload, *ParseError) {
	var p RotatingPayload
	if err := strictUnmarshal(raw, &p); err != nil {
		return RotatingPayload{}, err
	}
	if p.MemberID == "" {
		return RotatingPayload{}, parseErr("id", "is required")
	}
	if p.Timestamp <= 0 {
		return RotatingPayload{}, parseErr("ts", "must be a positive unix timestamp")
	}
	if err := checkSignatureHex(p.SignatureHex); err != nil {
		return RotatingPayload{}, err
	}
	return p, nil
}

// DecodeLegacy parses and validates a legacy static payload. The version
// literal must be exactly LegacyVersion; anything else is malformed.
func DecodeLegacy(raw string) (LegacyPayload, *ParseError) {
	var p LegacyPayload
	if err := strictUnmarshal(raw, &p); err != nil {
		return LegacyPayload{}, err
	}
	if p.MemberID == "" {
		return LegacyPayload{}, parseErr("userId", "is required")
	}
	if p.Secret == "" {
		return LegacyPayload{}, parseErr("secret", "is required")
	}
	if p.Version != LegacyVersion {
		return LegacyPayload{}, parseErr("version", "is not a supported version")
	}
	return p, nil
}

// Decode attempts the rotating format first, then legacy. This is the
// verifier's single entry point into the codec.
func Decode(raw string) (Payload, *ParseError) {
	if p, err := DecodeRotating(raw); err == nil {
		return p, nil
	}
	if p, err := DecodeLegacy(raw); err == nil {
		return p, nil
	}
	return nil, parseErr("", "not a recognized check-in payload")
}

// strictUnmarshal decodes JSON rejecting unknown fields, trailing data, and
// JSON type coercion surprises. dst must be a pointer to a payload struct.
func strictUnmarshal(raw string, dst interface{}) *ParseError {
	if raw == "" {
		return parseErr("", "empty payload")
	}
	if len(raw) > maxPayloadBytes {
		return parseErr("", "payload too large")
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return parseErr("", "invalid JSON: "+err.Error())
	}
	// Reject trailing data after the JSON value.
	if dec.More() {
		return parseErr("", "trailing data after payload")
	}
	return nil
}

// checkSignatureHex validates the sig field: lowercase hex, exactly one
// SHA-256 MAC long. Uppercase hex is rejected rather than normalized so the
// constant-time comparison downstream sees canonical input.
func checkSignatureHex(s string) *ParseError {
	if s == "" {
		return parseErr("sig", "is required")
	}
	if len(s) != 64 {
		return parseErr("sig", "must be 64 hex characters")
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return parseErr("sig", "must be lowercase hex")
		}
	}
	return nil
}
