package irc

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParser(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected error
	}{
		{
			name:     "valid message",
			input:    "PRIVMSG nick1!someuser@irc.somehost.org :I am the client\r\n",
			expected: nil,
		},
		{
			name:     "too many parameters",
			input:    "PRIVMSG 1 2 3 4 5 6 7 8 9 10 11 12 13 14 15 16 :I am the client\r\n",
			expected: ErrTooManyParams,
		},
		{
			name:     "client prefixed",
			input:    ":prefix PRIVMSG nick1!someuser@irc.somehost.org :I am the client\r\n",
			expected: ErrPrefixed,
		},
		{
			name:     "too small",
			input:    "a",
			expected: ErrMessageTooShort,
		},
		{
			name:     "too long",
			input:    fmt.Sprint(strings.Repeat("a", MaxMsgLength+MaxTagsLength), "\r\n"),
			expected: ErrMessageTooLong,
		},
		{
			name:     "all whitespace",
			input:    "   \r\n",
			expected: ErrWhitespace,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Parse(tt.input)
			assert.Equal(t, tt.expected, err)
			if err == nil {
				msgPool.Recycle(msg)
			}
		})
	}
}

func TestParserCommandAndParams(t *testing.T) {
	msg, err := Parse("join #general,#random :ignored\r\n")
	assert.NoError(t, err)
	assert.Equal(t, "JOIN", msg.Command)
	assert.Equal(t, []string{"#general,#random"}, msg.Params)
	assert.Equal(t, "ignored", msg.Text)
	msgPool.Recycle(msg)
}

func TestParserTags(t *testing.T) {
	msg, err := Parse("@time=2021-01-01T00:00:00.000Z;label=a\\:b\\sc PRIVMSG #general :hi\r\n")
	assert.NoError(t, err)
	assert.Equal(t, "2021-01-01T00:00:00.000Z", msg.Tags["time"])
	assert.Equal(t, "a;b c", msg.Tags["label"])
	assert.Equal(t, "PRIVMSG", msg.Command)
	msgPool.Recycle(msg)
}

func TestParserMissingTagBody(t *testing.T) {
	_, err := Parse("@time=now")
	assert.Equal(t, ErrMessageTooShort, err)
}
