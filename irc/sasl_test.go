package irc

import (
	"crypto/rand"
	"encoding/base64"
	"testing"

	"golang.org/x/crypto/argon2"

	"github.com/stretchr/testify/assert"
)

func hashForTest(t *testing.T, plaintext string) string {
	t.Helper()
	salt := make([]byte, 16)
	_, err := rand.Read(salt)
	assert.NoError(t, err)

	key := argon2.IDKey([]byte(plaintext), salt, argon2Params.time, argon2Params.memory, argon2Params.threads, argon2Params.keyLen)
	return base64.RawStdEncoding.EncodeToString(salt) + "$" + base64.RawStdEncoding.EncodeToString(key)
}

func TestArgon2Verify(t *testing.T) {
	encoded := hashForTest(t, "hunter2")

	assert.True(t, argon2Verify("hunter2", encoded))
	assert.False(t, argon2Verify("wrong-password", encoded))
}

func TestArgon2VerifyMalformed(t *testing.T) {
	assert.False(t, argon2Verify("hunter2", "not-a-valid-encoding"))
	assert.False(t, argon2Verify("hunter2", "!!!$!!!"))
}

func TestDecodeSaslPlain(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("\x00alice\x00hunter2"))

	authcid, password, err := decodeSaslPlain(payload)
	assert.NoError(t, err)
	assert.Equal(t, "alice", authcid)
	assert.Equal(t, "hunter2", password)
}

func TestDecodeSaslPlainMalformed(t *testing.T) {
	_, _, err := decodeSaslPlain(base64.StdEncoding.EncodeToString([]byte("nosep")))
	assert.Error(t, err)

	_, _, err = decodeSaslPlain("not-base64!!!")
	assert.Error(t, err)
}
