package irc

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/dollspace-gay/concord/store"
)

// argon2Params matches the parameters used when the password was
// hashed; a real deployment would store these alongside the hash, but
// §4.H.1 only names the KDF family, so one fixed parameter set is used
// for every stored token.
var argon2Params = struct {
	time, memory uint32
	threads      uint8
	keyLen       uint32
}{time: 1, memory: 64 * 1024, threads: 4, keyLen: 32}

// verifyPassword checks a presented plaintext against every stored
// Argon2 hash for nickname and returns the matching token row. The
// comparison is constant-time per §4.H's own requirement.
func verifyPassword(ctx context.Context, adapter store.Adapter, nickname, plaintext string) (store.IRCTokenRow, bool, error) {
	tokens, err := adapter.LookupTokensByNickname(ctx, nickname)
	if err != nil {
		return store.IRCTokenRow{}, false, err
	}

	for _, tok := range tokens {
		if argon2Verify(plaintext, tok.ArgonHash) {
			return tok, true, nil
		}
	}
	return store.IRCTokenRow{}, false, nil
}

// argon2Verify checks plaintext against an encoded hash of the form
// "<base64 salt>$<base64 key>".
func argon2Verify(plaintext, encoded string) bool {
	parts := strings.SplitN(encoded, "$", 2)
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	got := argon2.IDKey([]byte(plaintext), salt, argon2Params.time, argon2Params.memory, argon2Params.threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

// decodeSaslPlain decodes an AUTHENTICATE PLAIN payload
// (authzid\0authcid\0password) and returns the authcid and password.
func decodeSaslPlain(b64 string) (authcid, password string, err error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", "", err
	}

	fields := strings.Split(string(raw), "\x00")
	if len(fields) != 3 {
		return "", "", errors.New("malformed SASL PLAIN payload")
	}

	return fields[1], fields[2], nil
}
