package irc

import (
	"github.com/dollspace-gay/concord/shared/stringutils"
)

// Numeric reply builders. Grounded on the teacher's replies.go pattern
// (conn.newMessage() + msgPool.Recycle), narrowed to the replies this
// protocol adapter actually sends.

func (conn *Conn) ReplyWelcome() {
	msg := conn.newMessage()
	defer msgPool.Recycle(msg)

	msg.Code = ReplyWelcome
	msg.Params = []string{conn.displayNick()}
	msg.Text = "Welcome to Concord, " + conn.hostmask()
	conn.Write(msg.RenderBuffer())
}

func (conn *Conn) ReplyYourHost() {
	msg := conn.newMessage()
	defer msgPool.Recycle(msg)

	msg.Code = ReplyYourHost
	msg.Params = []string{conn.displayNick()}
	msg.Text = "Your host is " + conn.server.Hostname()
	conn.Write(msg.RenderBuffer())
}

func (conn *Conn) ReplyISupport() {
	lines := stringutils.ChunkJoinStrings(MaxMsgLength-100, " ", conn.server.ISupport()...)
	for _, line := range lines {
		msg := conn.newMessage()
		msg.Code = ReplyISupport
		msg.Params = []string{conn.displayNick(), line}
		msg.Text = "are supported by this server"
		conn.Write(msg.RenderBuffer())
		msgPool.Recycle(msg)
	}
}

func (conn *Conn) ReplyMOTD() {
	start := conn.newMessage()
	start.Code = ReplyMOTDStart
	start.Params = []string{conn.displayNick()}
	start.Text = "- " + conn.server.Hostname() + " Message of the day -"
	conn.Write(start.RenderBuffer())
	msgPool.Recycle(start)

	body := conn.newMessage()
	body.Code = ReplyMOTD
	body.Params = []string{conn.displayNick()}
	body.Text = "- " + conn.server.MOTD()
	conn.Write(body.RenderBuffer())
	msgPool.Recycle(body)

	end := conn.newMessage()
	end.Code = ReplyEndOfMOTD
	end.Params = []string{conn.displayNick()}
	end.Text = "End of MOTD command"
	conn.Write(end.RenderBuffer())
	msgPool.Recycle(end)
}

func (conn *Conn) replyError(code uint16, text string, params ...string) {
	msg := conn.newMessage()
	defer msgPool.Recycle(msg)

	allParams := append([]string{conn.displayNick()}, params...)
	msg.Code = code
	msg.Params = allParams
	msg.Text = text
	conn.Write(msg.RenderBuffer())
}

func (conn *Conn) ReplyNeedMoreParams(cmd string) {
	conn.replyError(ReplyNeedMoreParams, ErrMissingParams.Error(), cmd)
}

func (conn *Conn) ReplyNoNicknameGiven() {
	conn.replyError(ReplyNoNicknameGiven, ErrNoNickGiven.Error())
}

func (conn *Conn) ReplyNotRegistered() {
	conn.replyError(ReplyNotRegistered, ErrNotRegistered.Error())
}

func (conn *Conn) ReplyAlreadyRegistered() {
	conn.replyError(ReplyAlreadyRegistered, ErrAlreadyRegistered.Error())
}

func (conn *Conn) ReplyNoSuchChannel(channel string) {
	conn.replyError(ReplyNoSuchChannel, "No such channel", channel)
}

func (conn *Conn) ReplyNoSuchNick(nick string) {
	conn.replyError(ReplyNoSuchNick, "No such nick/channel", nick)
}

func (conn *Conn) ReplyCannotSendToChan(channel, reason string) {
	conn.replyError(ReplyCannotSendToChan, reason, channel)
}

func (conn *Conn) ReplyNicknameInUse(nick string) {
	conn.replyError(ReplyNicknameInUse, "Nickname is already in use", nick)
}

func (conn *Conn) ReplyPasswordIncorrect() {
	msg := conn.newMessage()
	defer msgPool.Recycle(msg)
	msg.Code = 464
	msg.Params = []string{conn.displayNick()}
	msg.Text = "Password incorrect"
	conn.Write(msg.RenderBuffer())
}

// ReplyNames sends the 353/366 burst for a channel's current member
// list, one nick per token, chunked to fit within the wire limit.
func (conn *Conn) ReplyNames(channel string, nicks []string) {
	lines := stringutils.ChunkJoinStrings(MaxMsgLength-100, " ", nicks...)
	for _, line := range lines {
		msg := conn.newMessage()
		msg.Code = ReplyNames
		msg.Params = []string{conn.displayNick(), "=", channel}
		msg.Text = line
		conn.Write(msg.RenderBuffer())
		msgPool.Recycle(msg)
	}

	end := conn.newMessage()
	end.Code = ReplyEndOfNames
	end.Params = []string{conn.displayNick(), channel}
	end.Text = "End of NAMES list"
	conn.Write(end.RenderBuffer())
	msgPool.Recycle(end)
}

func (conn *Conn) ReplyTopic(channel, topic string) {
	msg := conn.newMessage()
	defer msgPool.Recycle(msg)
	if topic == "" {
		msg.Code = ReplyNoTopic
		msg.Params = []string{conn.displayNick(), channel}
		msg.Text = "No topic is set"
		conn.Write(msg.RenderBuffer())
		return
	}
	msg.Code = ReplyTopic
	msg.Params = []string{conn.displayNick(), channel}
	msg.Text = topic
	conn.Write(msg.RenderBuffer())
}

func (conn *Conn) ReplyNoPrivileges(reason string) {
	conn.replyError(ReplyNoPrivileges, reason)
}

func (conn *Conn) ReplySASLFail() {
	msg := conn.newMessage()
	defer msgPool.Recycle(msg)
	msg.Code = ReplySASLFail
	msg.Params = []string{conn.displayNick()}
	msg.Text = ErrSASLFailed.Error()
	conn.Write(msg.RenderBuffer())
}

func (conn *Conn) ReplySASLSuccess() {
	logged := conn.newMessage()
	logged.Code = ReplyLoggedIn
	logged.Params = []string{conn.displayNick(), conn.hostmask(), conn.nick}
	logged.Text = "You are now logged in as " + conn.nick
	conn.Write(logged.RenderBuffer())
	msgPool.Recycle(logged)

	done := conn.newMessage()
	done.Code = ReplySASLSuccess
	done.Params = []string{conn.displayNick()}
	done.Text = "SASL authentication successful"
	conn.Write(done.RenderBuffer())
	msgPool.Recycle(done)
}
