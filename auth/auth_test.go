package auth

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestHashPasswordDeterministic(t *testing.T) {
	a := HashPassword("Alice", "secret")
	b := HashPassword("alice", "secret")
	assert.Equal(t, a, b, "salt must ignore case of the account name")

	c := HashPassword("alice", "other")
	assert.NotEqual(t, a, c)

	raw, err := hex.DecodeString(string(a))
	require.NoError(t, err)
	assert.Len(t, raw, pbkdf2KeyLen)
}

func TestNewChallenge(t *testing.T) {
	c1, err := NewChallenge()
	require.NoError(t, err)
	c2, err := NewChallenge()
	require.NoError(t, err)

	assert.Len(t, c1, ChallengeSize*2)
	assert.NotEqual(t, c1, c2)
	_, err = hex.DecodeString(c1)
	assert.NoError(t, err)
}

func TestVerify(t *testing.T) {
	key := HashPassword("bob", "hunter2")
	challenge, err := NewChallenge()
	require.NoError(t, err)
	want := Digest(key, challenge)

	assert.True(t, Verify(want, Answer(key, challenge)))
	assert.True(t, Verify(want, Answer(key, challenge)+"\n"))
	assert.False(t, Verify(want, Answer(HashPassword("bob", "wrong"), challenge)))
	assert.False(t, Verify(want, "not base64!"))
	assert.False(t, Verify(want, ""))
}

// TestAnswerOnlyMatchesItsChallenge checks that a captured answer cannot be
// replayed against a different challenge.
func TestAnswerOnlyMatchesItsChallenge(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		key := rapid.SliceOfN(rapid.Byte(), 1, 128).Draw(t, "key")
		c1 := rapid.StringN(1, 128, -1).Draw(t, "c1")
		c2 := rapid.StringN(1, 128, -1).Draw(t, "c2")

		answer := Answer(key, c1)
		if !Verify(Digest(key, c1), answer) {
			t.Fatalf("answer rejected for its own challenge")
		}
		if c1 != c2 && Verify(Digest(key, c2), answer) {
			t.Fatalf("answer for %q accepted for %q", c1, c2)
		}
	})
}
