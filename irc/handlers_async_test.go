package irc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWhowasRingLookup(t *testing.T) {
	ring := newWhowasRing(2)

	_, ok := ring.lookup("alice")
	assert.False(t, ok)

	ring.record("alice", "alice!a@host1")
	entry, ok := ring.lookup("alice")
	assert.True(t, ok)
	assert.Equal(t, "alice!a@host1", entry.hostmask)
}

func TestWhowasRingEvictsOldest(t *testing.T) {
	ring := newWhowasRing(2)

	ring.record("alice", "alice!a@host1")
	ring.record("bob", "bob!b@host2")
	ring.record("carol", "carol!c@host3")

	_, ok := ring.lookup("alice")
	assert.False(t, ok, "oldest entry should have been evicted once the ring is over capacity")

	_, ok = ring.lookup("bob")
	assert.True(t, ok)
	_, ok = ring.lookup("carol")
	assert.True(t, ok)
}

func TestWhowasRingReturnsMostRecentMatch(t *testing.T) {
	ring := newWhowasRing(4)

	ring.record("alice", "alice!a@host1")
	ring.record("alice", "alice!a@host2")

	entry, ok := ring.lookup("alice")
	assert.True(t, ok)
	assert.Equal(t, "alice!a@host2", entry.hostmask)
}
