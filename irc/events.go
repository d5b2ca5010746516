package irc

import (
	"fmt"

	"github.com/dollspace-gay/concord/engine"
)

// writeEvent translates one engine.Event into its wire representation
// and enqueues it for this connection's writer. Events with no wire
// representation for this protocol are silently suppressed, per §4.H.
func (conn *Conn) writeEvent(ev engine.Event) {
	switch ev.Kind {
	case engine.EventMessage:
		conn.writeMessageEvent(ev)
	case engine.EventJoin:
		conn.writeJoinEvent(ev)
	case engine.EventPart:
		conn.writePartEvent(ev)
	case engine.EventQuit:
		conn.writeQuitEvent(ev)
	case engine.EventTopicChange, engine.EventTopic:
		conn.ReplyTopic(ev.Channel, ev.Topic)
	case engine.EventNames:
		nicks := make([]string, 0, len(ev.Members))
		for _, m := range ev.Members {
			nicks = append(nicks, m.Nick)
		}
		conn.ReplyNames(ev.Channel, nicks)
	case engine.EventNickChange:
		conn.writeNickEvent(ev)
	case engine.EventServerNotice:
		conn.writeServerNotice(ev)
	}
}

func (conn *Conn) writeMessageEvent(ev engine.Event) {
	msg := msgPool.New()
	defer func() {
		conn.Write(msg.RenderBuffer())
		msgPool.Recycle(msg)
	}()

	msg.Sender = ev.From
	msg.Command = CmdPrivMsg
	msg.Params = []string{ev.Target}
	msg.Text = ev.Content

	if conn.capabilities.HasServerTime() {
		msg.Tags = map[string]string{"time": ev.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z")}
	}
	if conn.capabilities.HasMessageTags() {
		if msg.Tags == nil {
			msg.Tags = map[string]string{}
		}
		if ev.ReplyTo != "" {
			msg.Tags["+reply"] = ev.ReplyTo
		}
		msg.Tags["msgid"] = ev.MessageID
	}
}

func (conn *Conn) writeJoinEvent(ev engine.Event) {
	msg := msgPool.New()
	msg.Sender = ev.Nick
	msg.Command = CmdJoin
	msg.Params = []string{ev.Channel}
	conn.Write(msg.RenderBuffer())
	msgPool.Recycle(msg)
}

func (conn *Conn) writePartEvent(ev engine.Event) {
	msg := msgPool.New()
	msg.Sender = ev.Nick
	msg.Command = CmdPart
	msg.Params = []string{ev.Channel}
	msg.Text = ev.Reason
	conn.Write(msg.RenderBuffer())
	msgPool.Recycle(msg)
}

func (conn *Conn) writeQuitEvent(ev engine.Event) {
	msg := msgPool.New()
	msg.Sender = ev.Nick
	msg.Command = CmdQuit
	msg.Text = ev.Reason
	conn.Write(msg.RenderBuffer())
	msgPool.Recycle(msg)
}

func (conn *Conn) writeNickEvent(ev engine.Event) {
	msg := msgPool.New()
	msg.Sender = ev.OldNick
	msg.Command = CmdNick
	msg.Params = []string{ev.NewNick}
	conn.Write(msg.RenderBuffer())
	msgPool.Recycle(msg)
}

func (conn *Conn) writeServerNotice(ev engine.Event) {
	msg := conn.newMessage()
	msg.Command = CmdNotice
	msg.Params = []string{conn.displayNick()}
	msg.Text = fmt.Sprintf("%s", ev.Notice)
	conn.Write(msg.RenderBuffer())
	msgPool.Recycle(msg)
}
