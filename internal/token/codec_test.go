package token

import (
	"strings"
	"testing"
)

func validSig() string {
	sig, _ := SignHex([]byte("secret"), Message("user-42", 1700000000))
	return sig
}

func TestRotatingRoundTrip(t *testing.T) {
	sig := validSig()
	raw := EncodeRotating("user-42", 1700000000, sig)

	p, perr := DecodeRotating(raw)
	if perr != nil {
		t.Fatalf("DecodeRotating failed: %v", perr)
	}
	if p.MemberID != "user-42" || p.Timestamp != 1700000000 || p.SignatureHex != sig {
		t.Errorf("Round trip mismatch: %+v", p)
	}
}

func TestLegacyRoundTrip(t *testing.T) {
	raw := EncodeLegacy("user-42", "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6")

	p, perr := DecodeLegacy(raw)
	if perr != nil {
		t.Fatalf("DecodeLegacy failed: %v", perr)
	}
	if p.MemberID != "user-42" || p.Version != LegacyVersion {
		t.Errorf("Round trip mismatch: %+v", p)
	}
}

func TestDecodeRotatingRejects(t *testing.T) {
	sig := validSig()

	cases := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"truncated JSON", `{"id":"user-42","ts":17000`},
		{"not JSON", "hello world"},
		{"missing id", `{"ts":1700000000,"sig":"` + sig + `"}`},
		{"missing ts", `{"id":"user-42","sig":"` + sig + `"}`},
		{"missing sig", `{"id":"user-42","ts":1700000000}`},
		{"string ts", `{"id":"user-42","ts":"1700000000","sig":"` + sig + `"}`},
		{"float ts", `{"id":"user-42","ts":1700000000.5,"sig":"` + sig + `"}`},
		{"negative ts", `{"id":"user-42","ts":-5,"sig":"` + sig + `"}`},
		{"numeric id", `{"id":42,"ts":1700000000,"sig":"` + sig + `"}`},
		{"uppercase sig", `{"id":"user-42","ts":1700000000,"sig":"` + strings.ToUpper(sig) + `"}`},
		{"short sig", `{"id":"user-42","ts":1700000000,"sig":"abc123"}`},
		{"extra field", `{"id":"user-42","ts":1700000000,"sig":"` + sig + `","extra":1}`},
		{"trailing data", `{"id":"user-42","ts":1700000000,"sig":"` + sig + `"}{}`},
		{"oversized", `{"id":"` + strings.Repeat("a", 2048) + `","ts":1,"sig":"` + sig + `"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, perr := DecodeRotating(tc.raw); perr == nil {
				t.Errorf("Expected ParseError for %s payload", tc.name)
			}
		})
	}
}

func TestDecodeLegacyRejects(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"missing secret", `{"userId":"user-42","version":"v1"}`},
		{"missing version", `{"userId":"user-42","secret":"abc"}`},
		{"wrong version", `{"userId":"user-42","secret":"abc","version":"v2"}`},
		{"rotating shape", EncodeRotating("user-42", 1700000000, validSig())},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, perr := DecodeLegacy(tc.raw); perr == nil {
				t.Errorf("Expected ParseError for %s payload", tc.name)
			}
		})
	}
}

func TestDecodeDispatch(t *testing.T) {
	rot, perr := Decode(EncodeRotating("user-42", 1700000000, validSig()))
	if perr != nil {
		t.Fatalf("Decode rotating failed: %v", perr)
	}
	if _, ok := rot.(RotatingPayload); !ok {
		t.Errorf("Expected RotatingPayload, got %T", rot)
	}

	leg, perr := Decode(EncodeLegacy("user-42", "secret-hex"))
	if perr != nil {
		t.Fatalf("Decode legacy failed: %v", perr)
	}
	if _, ok := leg.(LegacyPayload); !ok {
		t.Errorf("Expected LegacyPayload, got %T", leg)
	}

	if _, perr := Decode(`{"foo":"bar"}`); perr == nil {
		t.Error("Expected ParseError for unrecognized payload")
	}
}

// Feeding arbitrary garbage must never panic; the codec is the first thing
// attacker-controlled input touches.
func TestDecodeNeverPanics(t *testing.T) {
	inputs := []string{
		"", "{", "}", "[]", "null", "true", "0",
		`{"id":null,"ts":null,"sig":null}`,
		"\x00\x01\x02",
		strings.Repeat("{", 10000),
	}
	for _, raw := range inputs {
		_, _ = DecodeRotating(raw)
		_, _ = DecodeLegacy(raw)
		_, _ = Decode(raw)
	}
}
