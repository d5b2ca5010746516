// Package irc implements the line-oriented protocol adapter: reading
// and writing RFC2812-style messages over a TCP connection, extended
// with the IRCv3 tag syntax, and translating between wire frames and
// the protocol-agnostic engine.Event/engine.Engine API.
package irc

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
)

// Message is an object that represents the components of an IRC
// message, extended with an IRCv3 client/server tag map. Grounded on
// the teacher's Message type; Text is kept as the trailing-parameter
// field name rather than "Trailing" for consistency with the rest of
// this package's naming.
type Message struct {
	Tags    map[string]string // IRCv3 message-tags, nil if none were sent/needed
	Sender  string            // prefix before the command, usually a nickname or server name
	Command string            // textual command, e.g. "PRIVMSG"
	Code    uint16             // numeric reply code; mutually exclusive with Command
	Params  []string          // middle parameters
	Text    string            // trailing parameter
}

const (
	space  = " "
	crlf   = "\r\n"
	colon  = ":"
	padnum = "%03d"
)

func (msg *Message) String() string { return msg.Render() }

// RenderBuffer renders the message to the wire format described by
// RFC2812 section 2.3.1, with an IRCv3 "@tag=value;tag2=value2 "
// prefix when Tags is non-empty. No rendered field may contain a
// literal CR or LF: tag values are escaped (\r, \n), and any CR or LF
// in the prefix, parameters or trailing text is replaced with a space,
// so a malicious payload can't forge a second line.
func (msg *Message) RenderBuffer() *bytes.Buffer {
	buf := bufferPool.New()

	if len(msg.Tags) > 0 {
		buf.WriteString("@")
		keys := make([]string, 0, len(msg.Tags))
		for k := range msg.Tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			if i > 0 {
				buf.WriteString(";")
			}
			buf.WriteString(k)
			if v := msg.Tags[k]; v != "" {
				buf.WriteString("=")
				buf.WriteString(escapeTagValue(v))
			}
		}
		buf.WriteString(space)
	}

	if msg.Sender != "" {
		buf.WriteString(colon)
		buf.WriteString(sanitizeWireField(msg.Sender))
		buf.WriteString(space)
	}

	if msg.Code > 0 {
		buf.WriteString(fmt.Sprintf(padnum, msg.Code))
	} else if msg.Command != "" {
		buf.WriteString(msg.Command)
	}

	if len(msg.Params) > 0 {
		params := msg.Params
		if len(params) > MaxMsgParams {
			params = params[:MaxMsgParams]
		}
		buf.WriteString(space)
		for i, p := range params {
			if i > 0 {
				buf.WriteString(space)
			}
			buf.WriteString(sanitizeWireField(p))
		}
	}

	if msg.Text != "" {
		buf.WriteString(space)
		buf.WriteString(colon)
		buf.WriteString(sanitizeWireField(msg.Text))
	}

	buf.WriteString(crlf)
	return buf
}

func (msg *Message) Render() string { return msg.RenderBuffer().String() }

// Scrub clears the message to its zero value and satisfies
// shared/itempool.ScrubbableItem so *Message can be recycled through
// a channel-backed object pool.
func (msg *Message) Scrub() {
	msg.Tags = nil
	msg.Sender = ""
	msg.Command = ""
	msg.Code = 0
	msg.Params = nil
	msg.Text = ""
}

// sanitizeWireField neutralizes CR/LF injection in any field that
// ends up on the wire unescaped (sender, params, trailing text): a
// client-supplied value containing "\r\n" could otherwise forge a
// second line to the remote peer.
func sanitizeWireField(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}

// escapeTagValue applies the IRCv3 tag-value escaping rules: backslash,
// semicolon, space and CR/LF each have a two-character escape.
func escapeTagValue(v string) string {
	var b strings.Builder
	for _, r := range v {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case ';':
			b.WriteString(`\:`)
		case ' ':
			b.WriteString(`\s`)
		case '\r':
			b.WriteString(`\r`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
