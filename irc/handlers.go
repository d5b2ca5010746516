package irc

import (
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dollspace-gay/concord/engine"
)

// registerHandlers builds the command router: one global pacing
// middleware (every command, including registration, passes through
// the connection-local token bucket per §4.H), then per-command
// handlers grouped into a registration-gated "member" group and the
// anytime group (PASS/NICK/USER/CAP/AUTHENTICATE/PING/QUIT).
//
// Grounded on the teacher's registerHandlers + router.Use/Handle
// pattern, generalized from one handler per command to the
// rate-limit-then-handle chain this protocol needs.
func registerHandlers(log *logrus.Entry) *Router {
	router := NewRouter(log)
	router.Use(pacerMiddleware)

	router.Handle(CmdPass, handlePass)
	router.Handle(CmdNick, handleNick)
	router.Handle(CmdUser, handleUser)
	router.Handle(CmdCap, handleCap)
	router.Handle(CmdAuth, handleAuthenticate)
	router.Handle(CmdPing, handlePing)
	router.Handle(CmdPong, handlePong)
	router.Handle(CmdQuit, handleQuit)

	member := router.Group(requireRegisteredMiddleware)
	member.Handle(CmdJoin, handleJoin)
	member.Handle(CmdPart, handlePart)
	member.Handle(CmdPrivMsg, handlePrivmsg)
	member.Handle(CmdNotice, handlePrivmsg)
	member.Handle(CmdTopic, handleTopic)
	member.Handle(CmdNames, handleNames)
	member.Handle(CmdList, handleList)
	member.Handle(CmdMode, handleMode)

	async := router.Group(requireRegisteredMiddleware)
	async.Handle(CmdKick, handleKick)
	async.Handle(CmdAway, handleAway)
	async.Handle(CmdInvite, handleInvite)
	async.Handle(CmdWhois, handleWhois)
	async.Handle(CmdWhowas, handleWhowas)

	return router
}

func pacerMiddleware(ctx *MessageContext) {
	if !ctx.Conn.server.Pacer.Check(ctx.Conn.remAddr) {
		ctx.Conn.server.log.Debugf("irc: command dropped by pacer for %s", ctx.Conn.remAddr)
		ctx.Handled()
	}
}

func requireRegisteredMiddleware(ctx *MessageContext) {
	if !ctx.Conn.isRegistered() {
		ctx.Conn.ReplyNotRegistered()
		ctx.Handled()
	}
}

func handlePass(ctx *MessageContext) {
	if ctx.Conn.isRegistered() {
		ctx.Conn.ReplyAlreadyRegistered()
		return
	}
	if !enoughParams(ctx.Msg, 1) {
		ctx.Conn.ReplyNeedMoreParams(CmdPass)
		return
	}
	ctx.Conn.Lock()
	ctx.Conn.pass = ctx.Msg.Params[0]
	ctx.Conn.Unlock()
}

func handleNick(ctx *MessageContext) {
	if len(ctx.Msg.Params) < 1 {
		ctx.Conn.ReplyNoNicknameGiven()
		return
	}

	ctx.Conn.Lock()
	ctx.Conn.nick = ctx.Msg.Params[0]
	ctx.Conn.Unlock()

	tryCompleteRegistration(ctx.Conn)
}

func handleUser(ctx *MessageContext) {
	if ctx.Conn.isRegistered() {
		ctx.Conn.ReplyAlreadyRegistered()
		return
	}
	if !enoughParams(ctx.Msg, 4) {
		ctx.Conn.ReplyNeedMoreParams(CmdUser)
		return
	}

	ctx.Conn.Lock()
	ctx.Conn.user = ctx.Msg.Params[0]
	ctx.Conn.real = ctx.Msg.Text
	ctx.Conn.Unlock()

	tryCompleteRegistration(ctx.Conn)
}

// tryCompleteRegistration transitions a connection to Registered once a
// nickname is set, USER has been seen, and any supplied password has
// validated, per §4.H's registration state machine.
func tryCompleteRegistration(conn *Conn) {
	conn.RLock()
	nick, user, pass := conn.nick, conn.user, conn.pass
	conn.RUnlock()

	if nick == "" || user == "" {
		return
	}

	var userID, avatar string

	if pass != "" {
		tok, ok, err := verifyPassword(conn.context(), conn.server.Store, nick, pass)
		if err != nil {
			conn.server.log.Errorf("irc: password verification error for %s: %s", nick, err)
			conn.ReplyPasswordIncorrect()
			conn.doQuit("Password verification failed.")
			return
		}
		if !ok {
			conn.ReplyPasswordIncorrect()
			conn.doQuit("Password incorrect.")
			return
		}
		userID = tok.UserID
		go conn.server.Store.TouchTokenLastUsed(conn.context(), tok.ID, time.Now())
	}

	sess, err := conn.server.Engine.Connect(conn.context(), nick, userID, avatar, engine.ProtoLine)
	if err != nil {
		var rej *engine.Rejection
		if errors.As(err, &rej) {
			conn.ReplyNicknameInUse(nick)
		}
		conn.doQuit("Registration failed.")
		return
	}

	conn.setSession(sess)

	conn.ReplyWelcome()
	conn.ReplyYourHost()
	conn.ReplyISupport()
	conn.ReplyMOTD()
}

func handleCap(ctx *MessageContext) {
	if len(ctx.Msg.Params) < 1 {
		ctx.Conn.ReplyNeedMoreParams(CmdCap)
		return
	}

	sub := strings.ToUpper(ctx.Msg.Params[0])
	switch sub {
	case CapLS:
		msg := ctx.Conn.newMessage()
		msg.Command = CmdCap
		msg.Params = []string{ctx.Conn.displayNick(), CapLS}
		msg.Text = strings.Join(ListNames(), " ")
		ctx.Conn.Write(msg.RenderBuffer())
		msgPool.Recycle(msg)

	case CapREQ:
		requested := strings.Fields(ctx.Msg.Text)
		accepted := make([]string, 0, len(requested))
		for _, name := range requested {
			if ctx.Conn.capabilities.Enable(name) {
				accepted = append(accepted, name)
			}
		}
		msg := ctx.Conn.newMessage()
		msg.Command = CmdCap
		msg.Params = []string{ctx.Conn.displayNick(), CapACK}
		msg.Text = strings.Join(accepted, " ")
		ctx.Conn.Write(msg.RenderBuffer())
		msgPool.Recycle(msg)

	case CapEND:
		ctx.Conn.Lock()
		ctx.Conn.capNegotiated = true
		ctx.Conn.Unlock()

	default:
		ctx.Conn.server.log.Debugf("irc: %s", ErrInvalidCapCmd)
	}
}

func handleAuthenticate(ctx *MessageContext) {
	if len(ctx.Msg.Params) < 1 {
		return
	}

	payload := ctx.Msg.Params[0]
	if payload == "*" {
		ctx.Conn.Lock()
		ctx.Conn.saslInFlight = false
		ctx.Conn.Unlock()

		msg := ctx.Conn.newMessage()
		msg.Code = ReplySASLAborted
		msg.Params = []string{ctx.Conn.displayNick()}
		msg.Text = "SASL authentication aborted"
		ctx.Conn.Write(msg.RenderBuffer())
		msgPool.Recycle(msg)
		return
	}

	if payload == "PLAIN" {
		ctx.Conn.Lock()
		ctx.Conn.saslInFlight = true
		ctx.Conn.Unlock()

		msg := ctx.Conn.newMessage()
		msg.Command = CmdAuth
		msg.Text = "+"
		ctx.Conn.Write(msg.RenderBuffer())
		msgPool.Recycle(msg)
		return
	}

	ctx.Conn.RLock()
	inFlight := ctx.Conn.saslInFlight
	ctx.Conn.RUnlock()
	if !inFlight {
		return
	}

	authcid, password, err := decodeSaslPlain(payload)
	if err != nil {
		ctx.Conn.ReplySASLFail()
		return
	}

	tok, ok, err := verifyPassword(ctx.Conn.context(), ctx.Conn.server.Store, authcid, password)
	if err != nil || !ok {
		ctx.Conn.ReplySASLFail()
		return
	}

	ctx.Conn.Lock()
	ctx.Conn.nick = authcid
	ctx.Conn.saslInFlight = false
	ctx.Conn.Unlock()

	go ctx.Conn.server.Store.TouchTokenLastUsed(ctx.Conn.context(), tok.ID, time.Now())
	ctx.Conn.ReplySASLSuccess()

	tryCompleteRegistration(ctx.Conn)
}

func handlePing(ctx *MessageContext) {
	msg := ctx.Conn.newMessage()
	msg.Command = CmdPong
	msg.Text = ctx.Msg.Text
	ctx.Conn.Write(msg.RenderBuffer())
	msgPool.Recycle(msg)
}

func handlePong(ctx *MessageContext) {
	ctx.Conn.Lock()
	ctx.Conn.lastPingRecv = ctx.Msg.Text
	ctx.Conn.Unlock()
}

func handleQuit(ctx *MessageContext) {
	reason := ctx.Msg.Text
	ctx.Conn.doQuit(reason)
}

func handleJoin(ctx *MessageContext) {
	if !enoughParams(ctx.Msg, 1) {
		ctx.Conn.ReplyNeedMoreParams(CmdJoin)
		return
	}

	sess := ctx.Conn.session()
	for _, channel := range strings.Split(ctx.Msg.Params[0], ",") {
		// JoinChannel itself pushes the Topic (if set) and Names events
		// to sess's own outbound queue per §4.E step 5; conn.eventLoop
		// picks those up and writes the 331/332 and 353/366 bursts, so
		// nothing further is sent from here on success.
		if _, err := ctx.Conn.server.Engine.JoinChannel(ctx.Conn.tenantID, channel, sess); err != nil {
			ctx.Conn.ReplyNoSuchChannel(channel)
		}
	}
}

func handlePart(ctx *MessageContext) {
	if !enoughParams(ctx.Msg, 1) {
		ctx.Conn.ReplyNeedMoreParams(CmdPart)
		return
	}

	sess := ctx.Conn.session()
	for _, channel := range strings.Split(ctx.Msg.Params[0], ",") {
		if err := ctx.Conn.server.Engine.PartChannel(ctx.Conn.tenantID, channel, sess, ctx.Msg.Text); err != nil {
			ctx.Conn.ReplyNoSuchChannel(channel)
		}
	}
}

func handlePrivmsg(ctx *MessageContext) {
	if !enoughParams(ctx.Msg, 1) {
		ctx.Conn.ReplyNeedMoreParams(CmdPrivMsg)
		return
	}

	sess := ctx.Conn.session()
	target := ctx.Msg.Params[0]

	replyTo := ""
	if ctx.Msg.Tags != nil {
		replyTo = ctx.Msg.Tags["+reply"]
	}

	if err := ctx.Conn.server.Engine.SendMessage(ctx.Conn.context(), ctx.Conn.tenantID, sess, target, ctx.Msg.Text, replyTo); err != nil {
		var rej *engine.Rejection
		if errors.As(err, &rej) {
			if errors.Is(err, engine.ErrUnknownChannel) || errors.Is(err, engine.ErrNotAMember) {
				ctx.Conn.ReplyCannotSendToChan(target, rej.Error())
				return
			}
			if errors.Is(err, engine.ErrUnknownRecipient) {
				ctx.Conn.ReplyNoSuchNick(target)
				return
			}
		}
		ctx.Conn.server.log.Debugf("irc: send_message rejected for %s: %s", sess.Nick(), err)
	}
}

func handleTopic(ctx *MessageContext) {
	if !enoughParams(ctx.Msg, 1) {
		ctx.Conn.ReplyNeedMoreParams(CmdTopic)
		return
	}

	channel := ctx.Msg.Params[0]
	sess := ctx.Conn.session()

	if len(ctx.Msg.Params) == 1 && ctx.Msg.Text == "" {
		ch, ok := findChannelByName(ctx.Conn, channel)
		if !ok {
			ctx.Conn.ReplyNoSuchChannel(channel)
			return
		}
		topic, _, _ := ch.Topic()
		ctx.Conn.ReplyTopic(ch.Name(), topic)
		return
	}

	if err := ctx.Conn.server.Engine.SetTopic(ctx.Conn.tenantID, channel, sess, ctx.Msg.Text); err != nil {
		ctx.Conn.ReplyNoSuchChannel(channel)
	}
}

func handleNames(ctx *MessageContext) {
	if !enoughParams(ctx.Msg, 1) {
		return
	}
	for _, channel := range strings.Split(ctx.Msg.Params[0], ",") {
		members, err := ctx.Conn.server.Engine.GetMembers(ctx.Conn.tenantID, channel)
		if err != nil {
			continue
		}
		nicks := make([]string, 0, len(members))
		for _, m := range members {
			nicks = append(nicks, m.Nick)
		}
		ctx.Conn.ReplyNames(channel, nicks)
	}
}

func handleList(ctx *MessageContext) {
	channels := ctx.Conn.server.Engine.ListChannels(ctx.Conn.tenantID)

	start := ctx.Conn.newMessage()
	start.Code = ReplyListStart
	start.Params = []string{ctx.Conn.displayNick()}
	start.Text = "Channel Users Topic"
	ctx.Conn.Write(start.RenderBuffer())
	msgPool.Recycle(start)

	for _, ch := range channels {
		topic, _, _ := ch.Topic()
		msg := ctx.Conn.newMessage()
		msg.Code = ReplyList
		msg.Params = []string{ctx.Conn.displayNick(), ch.Name()}
		msg.Text = topic
		ctx.Conn.Write(msg.RenderBuffer())
		msgPool.Recycle(msg)
	}

	end := ctx.Conn.newMessage()
	end.Code = ReplyEndOfList
	end.Params = []string{ctx.Conn.displayNick()}
	end.Text = "End of LIST"
	ctx.Conn.Write(end.RenderBuffer())
	msgPool.Recycle(end)
}

// handleMode is a narrow stub: Concord expresses moderation through
// roles and permission overrides (§4.B), not mode letters, so MODE is
// accepted but always answered with "no modes settable" rather than
// silently ignored.
func handleMode(ctx *MessageContext) {
	if !enoughParams(ctx.Msg, 1) {
		ctx.Conn.ReplyNeedMoreParams(CmdMode)
		return
	}
	msg := ctx.Conn.newMessage()
	msg.Code = 324
	msg.Params = []string{ctx.Conn.displayNick(), ctx.Msg.Params[0], "+"}
	ctx.Conn.Write(msg.RenderBuffer())
	msgPool.Recycle(msg)
}
