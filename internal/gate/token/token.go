// Package token generates one-time SMS tokens, stores them as one-way digests
// and signs the assertions handed to the voting system.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // HMAC-SHA1 is the assertion format expected by the voting system
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"

	dErrors "votegate/pkg/domain-errors"
)

const (
	// DefaultLength is the token length sent by SMS.
	DefaultLength = 8
	// DefaultAlphabet leaves out 0, O, 1 and I, which read alike.
	DefaultAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	audioDigits     = "0123456789"
)

// Generate returns a random token drawn uniformly from alphabet.
func Generate(length int, alphabet string) (string, error) {
	if length <= 0 || alphabet == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "token length and alphabet are required")
	}
	out := make([]byte, length)
	for i := range out {
		c, err := randomByte(alphabet)
		if err != nil {
			return "", err
		}
		out[i] = c
	}
	return string(out), nil
}

// GenerateAudio returns a digits-only token for voice delivery. The first
// digit is never zero, so the spoken token always has the full length.
func GenerateAudio(length int) (string, error) {
	if length <= 0 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "token length is required")
	}
	out := make([]byte, length)
	for i := range out {
		alphabet := audioDigits
		if i == 0 {
			alphabet = audioDigits[1:]
		}
		c, err := randomByte(alphabet)
		if err != nil {
			return "", err
		}
		out[i] = c
	}
	return string(out), nil
}

func randomByte(alphabet string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
	if err != nil {
		return 0, fmt.Errorf("could not generate token: %w", err)
	}
	return alphabet[n.Int64()], nil
}

// Hasher turns tokens into bcrypt digests. The cost is configurable so tests
// can use bcrypt.MinCost.
type Hasher struct {
	Cost int
}

func NewHasher() Hasher {
	return Hasher{Cost: bcrypt.DefaultCost}
}

// Hash returns the digest stored in place of the plaintext token.
func (h Hasher) Hash(token string) (string, error) {
	if token == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "token cannot be empty")
	}
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(token), cost)
	if err != nil {
		return "", fmt.Errorf("could not hash token: %w", err)
	}
	return string(hashed), nil
}

// Verify reports whether candidate hashes to digest. bcrypt compares the
// derived keys in constant time.
func (h Hasher) Verify(candidate, digest string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(candidate))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("could not verify token: %w", err)
}

// SaltedHMAC computes HMAC-SHA1 of value keyed by SHA1(keySalt + secret).
func SaltedHMAC(keySalt, value, secret string) []byte {
	key := sha1.Sum([]byte(keySalt + secret)) //nolint:gosec
	mac := hmac.New(sha1.New, key[:])
	mac.Write([]byte(value))
	return mac.Sum(nil)
}

// Signer signs and checks "<unix_ts>#<voter_id>" assertions with the secret
// shared with the voting system.
type Signer struct {
	sharedKey string
}

func NewSigner(sharedKey string) *Signer {
	return &Signer{sharedKey: sharedKey}
}

// Sign returns the lowercase hex proof for message.
func (s *Signer) Sign(message string) string {
	return hex.EncodeToString(SaltedHMAC(s.sharedKey, message, ""))
}

// Verify checks proof against message in constant time.
func (s *Signer) Verify(message, proof string) bool {
	got, err := hex.DecodeString(proof)
	if err != nil {
		return false
	}
	return hmac.Equal(got, SaltedHMAC(s.sharedKey, message, ""))
}
