// Package engine implements the protocol-agnostic chat core: session
// registry, tenant/channel graph, permission evaluation, rate limiting
// and the persistence façade, wired together behind one public API that
// both the line-protocol adapter and any frame-based adapter call into.
// Grounded on the teacher's own split between connection plumbing
// (irc package, now) and the state the server.go/channel.go types used
// to own directly — that state now lives here instead, so neither
// adapter ever touches a map itself.
package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dollspace-gay/concord/engine/ratelimit"
	"github.com/dollspace-gay/concord/store"
)

// Config bundles the tunables Engine needs at construction. Defaults
// mirror the teacher's own settings.go bounds, scaled to the engine's
// per-nickname (rather than per-connection) rate limiting.
type Config struct {
	MessageBurst      int
	MessageRefillRate float64
	HistoryPageSize   int
	IDGenerator       func() string
}

func defaultConfig() Config {
	return Config{
		MessageBurst:      10,
		MessageRefillRate: 1.0,
		HistoryPageSize:   50,
		IDGenerator:       defaultIDGenerator,
	}
}

// Engine is the shared in-memory chat core. Every exported method is
// safe for concurrent use by many goroutines, one per live connection,
// exactly as §5 describes: there is no dedicated engine goroutine.
type Engine struct {
	cfg Config
	log *logrus.Entry

	sessions *sessionRegistry
	graph    *channelGraph
	limiter  *ratelimit.Limiter

	adapter    store.Adapter
	dispatcher *store.Dispatcher
}

// New constructs an Engine and synchronously loads every server and
// channel from the adapter before returning, per the startup-load rule
// in §4.F: the engine never serves a connection against a half-loaded
// graph.
func New(ctx context.Context, adapter store.Adapter, dispatcher *store.Dispatcher, log *logrus.Entry, cfg Config) (*Engine, error) {
	if cfg.IDGenerator == nil {
		cfg.IDGenerator = defaultConfig().IDGenerator
	}
	if cfg.MessageBurst == 0 {
		cfg.MessageBurst = defaultConfig().MessageBurst
	}
	if cfg.MessageRefillRate == 0 {
		cfg.MessageRefillRate = defaultConfig().MessageRefillRate
	}
	if cfg.HistoryPageSize == 0 {
		cfg.HistoryPageSize = defaultConfig().HistoryPageSize
	}

	e := &Engine{
		cfg:        cfg,
		log:        log.WithField("component", "engine"),
		sessions:   newSessionRegistry(&idAllocator{gen: cfg.IDGenerator}),
		graph:      newChannelGraph(),
		limiter:    ratelimit.New(cfg.MessageBurst, cfg.MessageRefillRate),
		adapter:    adapter,
		dispatcher: dispatcher,
	}

	if err := e.loadGraph(ctx); err != nil {
		return nil, err
	}

	return e, nil
}

func defaultIDGenerator() string {
	return randomID()
}

// loadGraph performs the synchronous startup load: every server row,
// then every channel row per server. Servers are inserted before their
// channels so insertChannel's addChannelID back-reference always finds
// its parent, and rows are collected into owned slices before any
// insertion starts, matching the "collect ids first, then mutate" rule
// the channel graph's own channelsInServer helper restates for reads.
func (e *Engine) loadGraph(ctx context.Context) error {
	rows, err := e.adapter.ListServers(ctx)
	if err != nil {
		return err
	}

	for _, row := range rows {
		srv := &Server{
			id:         row.ID,
			owner:      row.Owner,
			name:       row.Name,
			icon:       row.Icon,
			members:    make(map[string]struct{}, len(row.Members)),
			channelIDs: make(map[string]struct{}),
		}
		for _, m := range row.Members {
			srv.members[m] = struct{}{}
		}
		e.graph.servers.Set(srv.id, srv)
	}

	for _, row := range rows {
		channels, err := e.adapter.ListChannels(ctx, row.ID)
		if err != nil {
			return err
		}

		for _, ch := range channels {
			e.graph.insertChannel(&Channel{
				id:         ch.ID,
				serverID:   ch.ServerID,
				name:       ch.Name,
				topic:      ch.Topic,
				topicSetBy: ch.TopicSetBy,
				topicSetAt: ch.TopicSetAt,
				persisted:  ch.Persisted,
				members:    make(map[string]struct{}),
			})
		}
	}

	return nil
}

// Connect installs a new session for nick, tearing down any existing
// session registered under the same nickname first so the old session
// is fully gone (removed from every channel, Quit broadcast) before the
// new one is installed, per the ordering requirement in §4.D.
func (e *Engine) Connect(ctx context.Context, nick, userID, avatar string, proto Protocol) (*Session, error) {
	if err := ValidateNickname(nick); err != nil {
		return nil, err
	}

	if existing, ok := e.sessions.byNick(nick); ok {
		e.disconnectSession(existing, "replaced by new connection")
	}

	sess := e.sessions.install(nick, userID, avatar, proto)
	e.log.WithFields(logrus.Fields{"session": sess.ID(), "nick": nick}).Info("session connected")
	return sess, nil
}

// Disconnect tears down the session identified by id: it is removed
// from the registry and from every channel it belonged to, and a Quit
// event is broadcast to each of those channels' remaining members.
func (e *Engine) Disconnect(sessionID, reason string) {
	sess, ok := e.sessions.bySessionID(sessionID)
	if !ok {
		return
	}
	e.disconnectSession(sess, reason)
}

func (e *Engine) disconnectSession(sess *Session, reason string) {
	_, keys, ok := e.sessions.remove(sess.ID())
	if !ok {
		return
	}

	for _, key := range keys {
		ch, ok := e.graph.channelByName(key.serverID, key.name)
		if !ok {
			continue
		}

		wasMember, nowEmpty := ch.removeMember(sess.ID())
		if !wasMember {
			continue
		}

		e.broadcastChannel(ch, Event{
			Kind:    EventQuit,
			Nick:    sess.Nick(),
			Channel: ch.Name(),
			Reason:  reason,
		}, "")

		if nowEmpty && !ch.persisted {
			e.graph.evictChannel(ch)
		}
	}

	sess.Outbound().Close()
	e.limiter.Forget(sess.Nick())
	e.log.WithFields(logrus.Fields{"session": sess.ID(), "nick": sess.Nick()}).Info("session disconnected")
}

// CreateServer creates a new tenant owned by ownerID, along with its
// default channel, and awaits the persistence write before returning —
// this is a critical-path mutation per §4.F, not a fire-and-forget one.
func (e *Engine) CreateServer(ctx context.Context, name, ownerID string) (*Server, *Channel, error) {
	if err := ValidateServerName(name); err != nil {
		return nil, nil, err
	}

	srv := &Server{
		id:         e.cfg.IDGenerator(),
		owner:      ownerID,
		name:       name,
		members:    map[string]struct{}{ownerID: {}},
		channelIDs: make(map[string]struct{}),
	}

	defaultChannel := &Channel{
		id:        e.cfg.IDGenerator(),
		serverID:  srv.id,
		name:      "#general",
		persisted: true,
		members:   make(map[string]struct{}),
	}

	row := store.ServerRow{ID: srv.id, Owner: srv.owner, Name: srv.name, Icon: srv.icon, Members: []string{ownerID}}
	chRow := store.ChannelRow{ID: defaultChannel.id, ServerID: srv.id, Name: defaultChannel.name, Persisted: true}

	if err := e.adapter.CreateServer(ctx, row, chRow); err != nil {
		return nil, nil, rejectf("create_server", "persistence failed: %v", err)
	}

	e.graph.servers.Set(srv.id, srv)
	e.graph.insertChannel(defaultChannel)

	return srv, defaultChannel, nil
}

// DeleteServer removes a tenant and every channel it owns, awaiting the
// persistence write. Only the owner may call this; the caller is
// expected to have already checked that (the engine has no notion of
// "the current request's caller" beyond the userID it's handed).
func (e *Engine) DeleteServer(ctx context.Context, serverID, requesterID string) error {
	srv, ok := e.graph.servers.Get(serverID)
	if !ok {
		return rejectf("delete_server", "%v", ErrUnknownServer)
	}
	if !srv.IsOwner(requesterID) {
		return rejectf("delete_server", "only the owner may delete this server")
	}

	if err := e.adapter.DeleteServer(ctx, serverID); err != nil {
		return rejectf("delete_server", "persistence failed: %v", err)
	}

	for _, id := range srv.channelIDSnapshot() {
		if ch, ok := e.graph.channels.Get(id); ok {
			e.graph.evictChannel(ch)
		}
	}
	e.graph.servers.Delete(serverID)

	return nil
}

// CreateChannelInServer creates a new persisted channel within
// serverID. The single awaited CreateChannel write is the only
// persistence call; nothing is handed to the dispatcher, and the
// channel enters the graph only after that write succeeds.
func (e *Engine) CreateChannelInServer(ctx context.Context, serverID, name string) (*Channel, error) {
	if _, ok := e.graph.servers.Get(serverID); !ok {
		return nil, rejectf("create_channel", "%v", ErrUnknownServer)
	}

	normalized := NormalizeChannelName(name)
	if err := ValidateChannelName(normalized); err != nil {
		return nil, err
	}

	if _, exists := e.graph.channelByName(serverID, normalized); exists {
		return nil, rejectf("create_channel", "%v", ErrChannelExists)
	}

	ch := &Channel{
		id:        e.cfg.IDGenerator(),
		serverID:  serverID,
		name:      normalized,
		persisted: true,
		members:   make(map[string]struct{}),
	}

	row := store.ChannelRow{ID: ch.id, ServerID: serverID, Name: normalized, Persisted: true}
	if err := e.adapter.CreateChannel(ctx, row); err != nil {
		return nil, rejectf("create_channel", "persistence failed: %v", err)
	}

	e.graph.insertChannel(ch)
	return ch, nil
}

// JoinChannel adds sess to the named channel, creating it on demand as
// an unpersisted (evict-when-empty) channel if it doesn't already
// exist — the §9 open-question resolution documented in the design
// ledger. The joining session receives itself in the broadcast Join
// event (the sender-inclusion-on-join property in §8), unlike
// SendMessage which excludes the sender.
func (e *Engine) JoinChannel(serverID, name string, sess *Session) (*Channel, error) {
	if _, ok := e.graph.servers.Get(serverID); !ok {
		return nil, rejectf("join", "%v", ErrUnknownServer)
	}

	normalized := NormalizeChannelName(name)
	if err := ValidateChannelName(normalized); err != nil {
		return nil, err
	}

	ch, ok := e.graph.channelByName(serverID, normalized)
	if !ok {
		ch = &Channel{
			id:        e.cfg.IDGenerator(),
			serverID:  serverID,
			name:      normalized,
			persisted: false,
			members:   make(map[string]struct{}),
		}
		e.graph.insertChannel(ch)

		row := store.ChannelRow{ID: ch.id, ServerID: serverID, Name: normalized, Persisted: false}
		e.dispatcher.Go("persist_channel_created", func(ctx context.Context) error {
			return e.adapter.PersistChannelCreated(ctx, row)
		})
	}

	ch.addMember(sess.ID())
	sess.addChannel(serverID, normalized)

	e.broadcastChannel(ch, Event{
		Kind:    EventJoin,
		Nick:    sess.Nick(),
		Avatar:  sess.Avatar(),
		Channel: normalized,
	}, "")

	// §4.E step 5: the joiner also gets the channel's current topic (if
	// any) and member list, pushed only to its own queue, not broadcast.
	if topic, setBy, _ := ch.Topic(); topic != "" {
		sess.Outbound().Push(Event{
			Kind:    EventTopic,
			Channel: normalized,
			Topic:   topic,
			SetBy:   setBy,
		})
	}

	members, _ := e.GetMembers(serverID, normalized)
	sess.Outbound().Push(Event{
		Kind:    EventNames,
		Channel: normalized,
		Members: members,
	})

	return ch, nil
}

// PartChannel removes sess from the named channel and broadcasts Part
// to the members that remain. If the channel becomes empty and is not
// persisted, it is evicted from the graph.
func (e *Engine) PartChannel(serverID, name string, sess *Session, reason string) error {
	ch, ok := e.graph.channelByName(serverID, NormalizeChannelName(name))
	if !ok {
		return rejectf("part", "%v", ErrUnknownChannel)
	}

	wasMember, nowEmpty := ch.removeMember(sess.ID())
	if !wasMember {
		return rejectf("part", "%v", ErrNotAMember)
	}

	sess.removeChannel(serverID, ch.Name())

	e.broadcastChannel(ch, Event{
		Kind:    EventPart,
		Nick:    sess.Nick(),
		Channel: ch.Name(),
		Reason:  reason,
	}, "")

	if nowEmpty && !ch.persisted {
		e.graph.evictChannel(ch)
	}

	return nil
}

// KickMember removes the session currently registered under
// targetNick from a channel on a third party's behalf. The caller is
// responsible for authorizing the kick (see EvaluatePermissions); this
// method only performs the removal and notifies both the kicked
// session and the channel's remaining members. The kicked session is
// pushed its own Part event directly since it is no longer a member by
// the time broadcastChannel takes its member snapshot.
func (e *Engine) KickMember(serverID, name, targetNick, reason string) error {
	ch, ok := e.graph.channelByName(serverID, NormalizeChannelName(name))
	if !ok {
		return rejectf("kick", "%v", ErrUnknownChannel)
	}

	target, ok := e.sessions.byNick(targetNick)
	if !ok {
		return rejectf("kick", "%v", ErrUnknownRecipient)
	}

	wasMember, nowEmpty := ch.removeMember(target.ID())
	if !wasMember {
		return rejectf("kick", "%v", ErrNotAMember)
	}

	target.removeChannel(serverID, ch.Name())

	ev := Event{
		Kind:    EventPart,
		Nick:    target.Nick(),
		Channel: ch.Name(),
		Reason:  reason,
	}
	target.Outbound().Push(ev)
	e.broadcastChannel(ch, ev, target.ID())

	if nowEmpty && !ch.persisted {
		e.graph.evictChannel(ch)
	}

	return nil
}

// SendMessage routes content either to a channel (target starts with
// '#') or as a direct message to another session by nickname. The
// sender's own outbound queue never receives a copy of its own message
// (the sender-exclusion-on-send property in §8); the adapter that
// called SendMessage is responsible for its own local echo, if any.
func (e *Engine) SendMessage(ctx context.Context, serverID string, sess *Session, target, content, replyTo string) error {
	if err := ValidateMessageContent(content); err != nil {
		return err
	}

	if !e.limiter.Check(sess.Nick()) {
		return rejectf("send_message", "%v", ErrRateLimited)
	}

	messageID := e.cfg.IDGenerator()
	now := time.Now()

	if len(target) > 0 && target[0] == '#' {
		ch, ok := e.graph.channelByName(serverID, NormalizeChannelName(target))
		if !ok {
			return rejectf("send_message", "%v", ErrUnknownChannel)
		}
		if !ch.isMember(sess.ID()) {
			return rejectf("send_message", "%v", ErrNotAMember)
		}

		ev := Event{
			Kind:      EventMessage,
			MessageID: messageID,
			Tenant:    serverID,
			From:      sess.Nick(),
			Target:    ch.Name(),
			Content:   content,
			Timestamp: now,
			Avatar:    sess.Avatar(),
			ReplyTo:   replyTo,
		}
		e.broadcastChannel(ch, ev, sess.ID())

		row := store.MessageRow{
			ID: messageID, ServerID: serverID, Channel: ch.ID(), Sender: sess.Nick(),
			SenderID: sess.UserID(), Content: content, CreatedAt: now, ReplyTo: replyTo,
		}
		e.dispatcher.Go("persist_message", func(ctx context.Context) error {
			return e.adapter.PersistMessage(ctx, row)
		})
		return nil
	}

	recipient, ok := e.sessions.byNick(target)
	if !ok {
		return rejectf("send_message", "%v", ErrUnknownRecipient)
	}

	ev := Event{
		Kind:      EventMessage,
		MessageID: messageID,
		From:      sess.Nick(),
		Target:    recipient.Nick(),
		Content:   content,
		Timestamp: now,
		Avatar:    sess.Avatar(),
		ReplyTo:   replyTo,
	}
	recipient.Outbound().Push(ev)

	row := store.MessageRow{
		ID: messageID, DMTarget: recipient.UserID(), Sender: sess.Nick(),
		SenderID: sess.UserID(), Content: content, CreatedAt: now, ReplyTo: replyTo,
	}
	e.dispatcher.Go("persist_message", func(ctx context.Context) error {
		return e.adapter.PersistMessage(ctx, row)
	})

	return nil
}

// SetTopic updates a channel's topic and broadcasts TopicChange to
// every member, including the setter (unlike SendMessage, there is no
// sender-exclusion rule for topic changes in §4.G).
func (e *Engine) SetTopic(serverID, name string, sess *Session, topic string) error {
	if err := ValidateTopic(topic); err != nil {
		return err
	}

	ch, ok := e.graph.channelByName(serverID, name)
	if !ok {
		return rejectf("set_topic", "%v", ErrUnknownChannel)
	}
	if !ch.isMember(sess.ID()) {
		return rejectf("set_topic", "%v", ErrNotAMember)
	}

	now := time.Now()
	ch.setTopic(topic, sess.Nick(), now)

	e.broadcastChannel(ch, Event{
		Kind:    EventTopicChange,
		Nick:    sess.Nick(),
		Channel: ch.Name(),
		Topic:   topic,
		SetBy:   sess.Nick(),
	}, "")

	e.dispatcher.Go("persist_topic_change", func(ctx context.Context) error {
		return e.adapter.PersistTopicChange(ctx, ch.ID(), topic, sess.Nick(), now)
	})

	return nil
}

// FetchHistory returns up to the engine's configured page size of
// messages for a channel older than before (nil for the most recent
// page), and whether more history remains beyond the returned page.
func (e *Engine) FetchHistory(ctx context.Context, serverID, name string, before *time.Time) ([]store.MessageRow, bool, error) {
	ch, ok := e.graph.channelByName(serverID, name)
	if !ok {
		return nil, false, rejectf("fetch_history", "%v", ErrUnknownChannel)
	}

	return e.adapter.FetchHistory(ctx, ch.ID(), before, e.cfg.HistoryPageSize)
}

// ListChannels returns every channel currently known for serverID.
func (e *Engine) ListChannels(serverID string) []*Channel {
	return e.graph.channelsInServer(serverID)
}

// GetMembers returns the (nickname, avatar) pairs currently joined to a
// channel, used to answer NAMES.
func (e *Engine) GetMembers(serverID, name string) ([]Member, error) {
	ch, ok := e.graph.channelByName(serverID, name)
	if !ok {
		return nil, rejectf("get_members", "%v", ErrUnknownChannel)
	}

	ids := ch.memberSnapshot()
	members := make([]Member, 0, len(ids))
	for _, id := range ids {
		if sess, ok := e.sessions.bySessionID(id); ok {
			members = append(members, Member{Nick: sess.Nick(), Avatar: sess.Avatar()})
		}
	}
	return members, nil
}

// EvaluatePermissions loads the roles, role bits and overrides for a
// user in a channel from the adapter and runs them through Evaluate.
// This is the only place in the package that bridges persisted role
// data to the pure Evaluate function.
func (e *Engine) EvaluatePermissions(ctx context.Context, serverID, channelID, userID string) (uint64, error) {
	srv, ok := e.graph.servers.Get(serverID)
	if !ok {
		return 0, rejectf("evaluate_permissions", "%v", ErrUnknownServer)
	}

	roles, err := e.adapter.ListRoles(ctx, serverID)
	if err != nil {
		return 0, err
	}
	userRoleRows, err := e.adapter.ListUserRoles(ctx, serverID, userID)
	if err != nil {
		return 0, err
	}
	overrideRows, err := e.adapter.ListChannelOverrides(ctx, channelID)
	if err != nil {
		return 0, err
	}

	held := make(map[string]struct{}, len(userRoleRows))
	for _, ur := range userRoleRows {
		held[ur.RoleID] = struct{}{}
	}

	var everyoneRoleID string
	var base uint64
	var roleBits []RoleBits
	for _, r := range roles {
		if r.IsDefault {
			everyoneRoleID = r.ID
			base = uint64(r.Bits)
			continue
		}
		if _, ok := held[r.ID]; ok {
			roleBits = append(roleBits, RoleBits{RoleID: r.ID, Bits: uint64(r.Bits)})
		}
	}

	overrides := make([]ChannelOverride, 0, len(overrideRows))
	for _, ov := range overrideRows {
		kind := TargetRole
		if ov.TargetKind == "user" {
			kind = TargetUser
		}
		overrides = append(overrides, ChannelOverride{
			Target: kind, TargetID: ov.TargetID,
			AllowBits: uint64(ov.AllowBits), DenyBits: uint64(ov.DenyBits),
		})
	}

	return Evaluate(EvaluateInput{
		BaseEveryoneBits: base,
		UserRoles:        roleBits,
		Overrides:        overrides,
		EveryoneRoleID:   everyoneRoleID,
		UserID:           userID,
		IsServerOwner:    srv.IsOwner(userID),
	}), nil
}

// broadcastChannel pushes ev to every session currently joined to ch
// except the session whose id equals excludeSessionID (pass "" to
// exclude no one). Member ids are snapshotted before the fan-out loop
// so a concurrent join/part can't be observed mid-broadcast.
func (e *Engine) broadcastChannel(ch *Channel, ev Event, excludeSessionID string) {
	for _, id := range ch.memberSnapshot() {
		if id == excludeSessionID {
			continue
		}
		if sess, ok := e.sessions.bySessionID(id); ok {
			sess.Outbound().Push(ev)
		}
	}
}
