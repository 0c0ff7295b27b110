// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	ErrInvalidAdminKey = errors.New("invalid admin key")
	ErrInvalidJoinCode = errors.New("invalid join code")
)

// JoinCodeAlphabet leaves out 0, 1, I and O, which read alike.
const JoinCodeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// JoinCodeLength is the fixed length of every join code.
const JoinCodeLength = 6

// operatorSubject is the HMAC subject for the operator key that guards
// dead-letter inspection.
const operatorSubject = "operator"

// GenerateID creates a random hex ID of the specified byte length
func GenerateID(byteLen int) (string, error) {
	b := make([]byte, byteLen)
	_, err := rand.Read(b)
	if err != nil {
		return "", fmt.Errorf("failed to generate random ID: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateAdminKey creates an HMAC-based admin key for a session
// This is deterministic and verifiable
func GenerateAdminKey(sessionID, salt string) string {
	h := hmac.New(sha256.New, []byte(salt))
	h.Write([]byte(sessionID))
	sum := h.Sum(nil)
	// Use URL-safe base64 and trim padding for cleaner keys
	return strings.TrimRight(base64.URLEncoding.EncodeToString(sum), "=")
}

// ValidateAdminKey checks if the provided admin key is valid for the session
func ValidateAdminKey(sessionID, adminKey, salt string) error {
	expected := GenerateAdminKey(sessionID, salt)
	if !hmac.Equal([]byte(adminKey), []byte(expected)) {
		return ErrInvalidAdminKey
	}
	return nil
}

// GenerateOperatorKey returns the key that unlocks the queue operator routes.
func GenerateOperatorKey(salt string) string {
	return GenerateAdminKey(operatorSubject, salt)
}

// ValidateOperatorKey checks an operator key against the admin salt.
func ValidateOperatorKey(key, salt string) error {
	return ValidateAdminKey(operatorSubject, key, salt)
}

// GenerateJoinCode draws a random join code from JoinCodeAlphabet.
func GenerateJoinCode() (string, error) {
	max := big.NewInt(int64(len(JoinCodeAlphabet)))
	code := make([]byte, JoinCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate join code: %w", err)
		}
		code[i] = JoinCodeAlphabet[n.Int64()]
	}
	return string(code), nil
}

// NormalizeJoinCode upper-cases and trims a participant-entered code and
// rejects anything that cannot be a join code. Lookups are not limited to
// JoinCodeAlphabet so codes assigned outside GenerateJoinCode still resolve.
func NormalizeJoinCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != JoinCodeLength {
		return "", ErrInvalidJoinCode
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return "", ErrInvalidJoinCode
		}
	}
	return code, nil
}

// HashIP creates a one-way hash of an IP address for privacy
// Includes salt to prevent rainbow table attacks
func HashIP(ip, salt string) string {
	h := hmac.New(sha256.New, []byte(salt))
	h.Write([]byte(ip))
	sum := h.Sum(nil)
	// Return first 16 hex chars (64 bits) - enough for deduplication
	return hex.EncodeToString(sum[:8])
}
