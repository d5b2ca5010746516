package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterAllowsBurstThenBlocks(t *testing.T) {
	l := New(3, 1.0)
	base := time.Unix(0, 0)

	assert.True(t, l.CheckAt("a", base))
	assert.True(t, l.CheckAt("a", base))
	assert.True(t, l.CheckAt("a", base))
	assert.False(t, l.CheckAt("a", base))
}

func TestLimiterRefillsOverTime(t *testing.T) {
	l := New(1, 1.0)
	base := time.Unix(0, 0)

	assert.True(t, l.CheckAt("a", base))
	assert.False(t, l.CheckAt("a", base))
	assert.True(t, l.CheckAt("a", base.Add(time.Second)))
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l := New(1, 1.0)
	base := time.Unix(0, 0)

	assert.True(t, l.CheckAt("a", base))
	assert.True(t, l.CheckAt("b", base))
	assert.False(t, l.CheckAt("a", base))
}

func TestLimiterForgetDropsBucketState(t *testing.T) {
	l := New(1, 1.0)
	base := time.Unix(0, 0)

	assert.True(t, l.CheckAt("a", base))
	assert.False(t, l.CheckAt("a", base))

	l.Forget("a")
	assert.True(t, l.CheckAt("a", base))
}
