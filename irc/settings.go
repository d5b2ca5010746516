package irc

import "time"

// Wire-level bounds. Grounded on the teacher's settings.go pattern;
// the numbers themselves come from §4.H.
const (
	MaxMsgLength  = 4096
	MaxTagsLength = 4096
	MaxMsgParams  = 15

	MaxNickLength  = 32
	MaxChanLength  = 50
	MaxTopicLength = 500
	MaxAwayLength  = 200
	MaxListItems   = 256
)

// IdleTimeout closes a connection that hasn't sent a full line in this
// long, per §4.H.
const IdleTimeout = 300 * time.Second

// WriteTimeout bounds how long a single outbound write may block.
const WriteTimeout = 10 * time.Second

// WriteQueueLength sizes a connection's internal write-queue channel
// (distinct from the engine's own per-session outbound queue, which is
// unbounded by design; this one just decouples the socket write from
// whatever goroutine is draining the engine queue).
const WriteQueueLength = 64
