// Package auth implements the password-proof handshake shared by the server
// and its clients: the stored hash is an HMAC key, the server sends a random
// challenge, and the client answers with HMAC-MD5(hash, challenge).
package auth

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// ChallengeSize is the number of random bytes behind each challenge.
	ChallengeSize = 64

	pbkdf2Iterations = 10000
	pbkdf2KeyLen     = sha512.Size
)

// HashPassword derives the stored password hash. The salt is the lowercased
// account name so a client can derive the same key from the password alone.
// The result is hex-encoded ASCII, which is what both sides use as HMAC key.
func HashPassword(name, password string) []byte {
	key := pbkdf2.Key([]byte(password), []byte(strings.ToLower(name)), pbkdf2Iterations, pbkdf2KeyLen, sha512.New)
	out := make([]byte, hex.EncodedLen(len(key)))
	hex.Encode(out, key)
	return out
}

// NewChallenge returns ChallengeSize random bytes, hex-encoded.
func NewChallenge() (string, error) {
	buf := make([]byte, ChallengeSize)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Digest computes HMAC-MD5 over the challenge text as sent on the wire.
func Digest(key []byte, challenge string) []byte {
	mac := hmac.New(md5.New, key)
	mac.Write([]byte(challenge))
	return mac.Sum(nil)
}

// EncodeDigest formats a digest for the 511 reply.
func EncodeDigest(digest []byte) string {
	return base64.StdEncoding.EncodeToString(digest)
}

// Answer is the client half: the base64 digest to send back for a challenge.
func Answer(passwdHash []byte, challenge string) string {
	return EncodeDigest(Digest(passwdHash, challenge))
}

// Verify reports whether answer is the base64 form of want. Trailing
// whitespace is tolerated since some clients append a newline.
func Verify(want []byte, answer string) bool {
	got, err := base64.StdEncoding.DecodeString(strings.TrimSpace(answer))
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}
