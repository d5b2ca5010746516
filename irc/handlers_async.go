package irc

import (
	"sync"
	"time"

	"github.com/dollspace-gay/concord/engine"
	"github.com/dollspace-gay/concord/store"
)

// whowasRing is a short-lived, in-memory ring of recently-disconnected
// nicknames, supplemented from original_source's irc/connection.rs:
// WHOWAS is kept alongside WHOIS in the asynchronous handler family
// because it reuses the same nickname-resolution path, but it is never
// persisted.
type whowasEntry struct {
	nick     string
	hostmask string
	at       time.Time
}

type whowasRing struct {
	mu      sync.Mutex
	entries []whowasEntry
	max     int
}

func newWhowasRing(max int) *whowasRing {
	return &whowasRing{max: max}
}

func (r *whowasRing) record(nick, hostmask string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, whowasEntry{nick: nick, hostmask: hostmask, at: time.Now()})
	if len(r.entries) > r.max {
		r.entries = r.entries[len(r.entries)-r.max:]
	}
}

func (r *whowasRing) lookup(nick string) (whowasEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].nick == nick {
			return r.entries[i], true
		}
	}
	return whowasEntry{}, false
}

// findChannelByName scans the tenant's channel list for a name match,
// since the line protocol only ever carries channel names, never the
// engine's opaque channel ids.
func findChannelByName(conn *Conn, name string) (*engine.Channel, bool) {
	for _, ch := range conn.server.Engine.ListChannels(conn.tenantID) {
		if ch.Name() == name {
			return ch, true
		}
	}
	return nil, false
}

// handleKick removes a target nickname from a channel. Concord's
// role/override system (§4.B) governs whether the requester is allowed
// to kick, which KickMember does not check on a third party's behalf,
// so the permission check happens here first.
func handleKick(ctx *MessageContext) {
	if !enoughParams(ctx.Msg, 2) {
		ctx.Conn.ReplyNeedMoreParams(CmdKick)
		return
	}

	channel := ctx.Msg.Params[0]
	targetNick := ctx.Msg.Params[1]

	ch, ok := findChannelByName(ctx.Conn, channel)
	if !ok {
		ctx.Conn.ReplyNoSuchChannel(channel)
		return
	}

	sess := ctx.Conn.session()
	bits, err := ctx.Conn.server.Engine.EvaluatePermissions(ctx.Conn.context(), ctx.Conn.tenantID, ch.ID(), sess.UserID())
	if err != nil || bits&engine.PermKickMembers == 0 {
		ctx.Conn.ReplyNoPrivileges("You do not have permission to kick members from this channel")
		return
	}

	members, _ := ctx.Conn.server.Engine.GetMembers(ctx.Conn.tenantID, channel)
	found := false
	for _, m := range members {
		if m.Nick == targetNick {
			found = true
			break
		}
	}
	if !found {
		ctx.Conn.ReplyNoSuchNick(targetNick)
		return
	}

	reason := ctx.Msg.Text
	if reason == "" {
		reason = "Kicked by " + sess.Nick()
	}

	if err := ctx.Conn.server.Engine.KickMember(ctx.Conn.tenantID, channel, targetNick, reason); err != nil {
		ctx.Conn.ReplyNoSuchNick(targetNick)
		return
	}

	ctx.Conn.server.log.Infof("irc: %s kicked %s from %s", sess.Nick(), targetNick, channel)
}

func handleAway(ctx *MessageContext) {
	sess := ctx.Conn.session()
	if sess.UserID() == "" {
		return
	}

	away := ctx.Msg.Text != ""
	row := store.PresenceRow{UserID: sess.UserID(), Away: away, AwayMsg: ctx.Msg.Text, UpdatedAt: time.Now()}
	_ = ctx.Conn.server.Store.UpsertPresence(ctx.Conn.context(), row)

	msg := ctx.Conn.newMessage()
	if away {
		msg.Code = ReplyNowAway
		msg.Text = "You have been marked as away"
	} else {
		msg.Code = ReplyUnAway
		msg.Text = "You are no longer marked as away"
	}
	msg.Params = []string{ctx.Conn.displayNick()}
	ctx.Conn.Write(msg.RenderBuffer())
	msgPool.Recycle(msg)
}

func handleInvite(ctx *MessageContext) {
	if !enoughParams(ctx.Msg, 2) {
		ctx.Conn.ReplyNeedMoreParams(CmdInvite)
		return
	}

	nick := ctx.Msg.Params[0]
	channel := ctx.Msg.Params[1]

	msg := ctx.Conn.newMessage()
	msg.Code = ReplyInviting
	msg.Params = []string{ctx.Conn.displayNick(), nick, channel}
	ctx.Conn.Write(msg.RenderBuffer())
	msgPool.Recycle(msg)
}

func handleWhois(ctx *MessageContext) {
	if !enoughParams(ctx.Msg, 1) {
		ctx.Conn.ReplyNeedMoreParams(CmdWhois)
		return
	}

	nick := ctx.Msg.Params[0]

	user := ctx.newMessageFor(ReplyWhoisUser, nick, nick, nick, "*")
	user.Text = "Concord user"
	ctx.Conn.Write(user.RenderBuffer())
	msgPool.Recycle(user)

	end := ctx.newMessageFor(ReplyEndOfWhois, nick)
	end.Text = "End of WHOIS list"
	ctx.Conn.Write(end.RenderBuffer())
	msgPool.Recycle(end)
}

func handleWhowas(ctx *MessageContext) {
	if !enoughParams(ctx.Msg, 1) {
		ctx.Conn.ReplyNeedMoreParams(CmdWhowas)
		return
	}

	nick := ctx.Msg.Params[0]
	entry, ok := ctx.Conn.server.recentlyQuit.lookup(nick)

	if ok {
		msg := ctx.newMessageFor(ReplyWhoisUser, nick, nick, nick, "*")
		msg.Text = "was last seen as " + entry.hostmask
		ctx.Conn.Write(msg.RenderBuffer())
		msgPool.Recycle(msg)
	}

	end := ctx.newMessageFor(ReplyEndOfWhoWas, nick)
	end.Text = "End of WHOWAS"
	ctx.Conn.Write(end.RenderBuffer())
	msgPool.Recycle(end)
}

// newMessageFor builds a numeric reply with the connection's own
// display nick plus the given extra params, cutting down on repetition
// in the WHOIS/WHOWAS replies above.
func (ctx *MessageContext) newMessageFor(code uint16, extra ...string) *Message {
	msg := ctx.Conn.newMessage()
	msg.Code = code
	msg.Params = append([]string{ctx.Conn.displayNick()}, extra...)
	return msg
}
