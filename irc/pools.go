package irc

import (
	"bytes"

	"github.com/dollspace-gay/concord/shared/itempool"
	"github.com/dollspace-gay/concord/shared/pool"
)

// MessagePoolMax and BufferPoolMax mirror the teacher's own pool
// capacities; this package just moves them from package-level globals
// assembled in server.go to here, alongside the pools themselves.
const (
	MessagePoolMax = 1000
	BufferPoolMax  = 1000
)

// msgPool holds the package's shared Message object pool.
var msgPool = itempool.New[*Message](MessagePoolMax, func() *Message { return &Message{} })

// bufferPool holds the package's shared bytes.Buffer object pool.
// bytes.Buffer already exposes Reset() with the right shape to satisfy
// shared/pool.Resettable with no wrapper needed.
var bufferPool = pool.New[*bytes.Buffer](func() *bytes.Buffer { return &bytes.Buffer{} })
