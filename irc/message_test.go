package irc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageRender(t *testing.T) {
	tests := []struct {
		name     string
		msg      Message
		expected string
	}{
		{
			name: "valid message",
			msg: Message{
				Sender:  "irc.someserver.net",
				Command: CmdPrivMsg,
				Params:  []string{"nick1!someuser@irc.somehost.org"},
				Text:    "I am the server",
			},
			expected: ":irc.someserver.net PRIVMSG nick1!someuser@irc.somehost.org :I am the server\r\n",
		},
		{
			name: "numeric code message",
			msg: Message{
				Sender: "irc.someserver.net",
				Code:   ReplyWelcome,
				Params: []string{"nick1!someuser@irc.somehost.org"},
				Text:   "Welcome to the server",
			},
			expected: ":irc.someserver.net 001 nick1!someuser@irc.somehost.org :Welcome to the server\r\n",
		},
		{
			name: "tagged message",
			msg: Message{
				Tags:    map[string]string{"time": "2021-01-01T00:00:00.000Z"},
				Sender:  "irc.someserver.net",
				Command: CmdPrivMsg,
				Params:  []string{"#general"},
				Text:    "hello",
			},
			expected: "@time=2021-01-01T00:00:00.000Z :irc.someserver.net PRIVMSG #general :hello\r\n",
		},
		{
			name: "tag value escaping",
			msg: Message{
				Tags:    map[string]string{"label": "a;b c"},
				Command: CmdPing,
			},
			expected: "@label=a\\:b\\sc PING\r\n",
		},
		{
			name: "crlf injection in trailing text is neutralized",
			msg: Message{
				Sender:  "irc.someserver.net",
				Command: CmdPrivMsg,
				Params:  []string{"#general"},
				Text:    "line one\r\nQUIT :pwned",
			},
			expected: ":irc.someserver.net PRIVMSG #general :line one  QUIT :pwned\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.msg.Render())
		})
	}
}

func TestMessageScrub(t *testing.T) {
	msg := &Message{
		Tags:    map[string]string{"time": "now"},
		Sender:  "srv",
		Command: CmdJoin,
		Code:    ReplyWelcome,
		Params:  []string{"#general"},
		Text:    "hi",
	}
	msg.Scrub()

	assert.Nil(t, msg.Tags)
	assert.Empty(t, msg.Sender)
	assert.Empty(t, msg.Command)
	assert.Zero(t, msg.Code)
	assert.Nil(t, msg.Params)
	assert.Empty(t, msg.Text)
}
