// Package auth implements the gateway's challenge/response login protocol.
//
// Credentials are stored as salted PBKDF2 hashes. Clients never send the
// password over the wire after registration: the server issues a random
// nonce, and the client must answer with hash(storedCredentialHash, nonce).
// A correct answer rotates a fresh nonce for the next round; any failure
// resets the session and forces the client to restart from nonce issuance.
package auth

import (
	crand "crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/louisbranch/hollowgate/internal/gateway/session"
	"golang.org/x/crypto/pbkdf2"
)

const (
	credentialIterations = 4096
	credentialKeyLength  = 32
	challengeBytes       = 10
)

// HashCredential derives the stored credential hash for a password and salt.
// The derivation is deterministic so the nonce challenge can be recomputed
// server-side from the stored hash alone.
func HashCredential(password, salt string) string {
	key := pbkdf2.Key([]byte(password), []byte(salt), credentialIterations, credentialKeyLength, sha256.New)
	return hex.EncodeToString(key)
}

// GenerateSalt returns a fresh random credential salt.
func GenerateSalt() (string, error) {
	return randomHex(challengeBytes)
}

// GenerateChallenge returns a fresh random nonce for the next login round.
func GenerateChallenge() (string, error) {
	return randomHex(challengeBytes)
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := crand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ChallengeResponse computes the reply expected for a stored credential hash
// and an issued nonce.
func ChallengeResponse(storedHash, challenge string) string {
	sum := sha256.Sum256([]byte(storedHash + challenge))
	return hex.EncodeToString(sum[:])
}

// Authenticate verifies the challenge reply carried in a request against the
// session's pending nonce. On success a rotated nonce is written into both
// the session and the response. On any failure the session is reset.
//
// Callers must hold the session's request lock.
func Authenticate(request, response map[string]any, sess *session.Session) bool {
	// A challenge must have been requested first.
	if sess.Username == "" || sess.Account == nil || sess.Challenge == "" {
		return false
	}

	supplied, ok := request["challenge"].(string)
	if !ok || supplied == "" {
		sess.Reset()
		return false
	}

	expected := ChallengeResponse(sess.Account.PasswordHash, sess.Challenge)
	if supplied != expected {
		sess.Reset()
		return false
	}

	rotated, err := GenerateChallenge()
	if err != nil {
		sess.Reset()
		return false
	}
	sess.Challenge = rotated
	response["challenge"] = rotated

	return true
}
