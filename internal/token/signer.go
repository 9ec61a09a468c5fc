package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrEmptyKey is returned when signing with an empty key.
var ErrEmptyKey = errors.New("signing key must not be empty")

// Sign computes the HMAC-SHA256 of message under key. Deterministic: the
// same (key, message) always produces the same MAC.
func Sign(key, message []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil), nil
}

// SignHex is Sign with the MAC returned as lowercase hex, the form carried
// in the wire payload.
func SignHex(key, message []byte) (string, error) {
	mac, err := Sign(key, message)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(mac), nil
}

// Equal compares two signature strings in constant time. Never use plain
// string equality on MACs; short-circuit comparison leaks byte positions
// through timing.
func Equal(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
