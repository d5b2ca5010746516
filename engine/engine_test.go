package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dollspace-gay/concord/engine/ratelimit"
	"github.com/dollspace-gay/concord/store"
)

// fakeAdapter is an in-memory store.Adapter stand-in. Every write
// records into a slice so tests can assert on what the fire-and-forget
// paths actually dispatched without needing a real database.
type fakeAdapter struct {
	servers  []store.ServerRow
	channels map[string][]store.ChannelRow

	messages      []store.MessageRow
	topicChanges  []store.ChannelRow
	createdChans  []store.ChannelRow
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{channels: make(map[string][]store.ChannelRow)}
}

func (f *fakeAdapter) ListServers(ctx context.Context) ([]store.ServerRow, error) { return f.servers, nil }
func (f *fakeAdapter) ListChannels(ctx context.Context, serverID string) ([]store.ChannelRow, error) {
	return f.channels[serverID], nil
}
func (f *fakeAdapter) CreateServer(ctx context.Context, row store.ServerRow, defaultChannel store.ChannelRow) error {
	f.servers = append(f.servers, row)
	f.channels[row.ID] = append(f.channels[row.ID], defaultChannel)
	return nil
}
func (f *fakeAdapter) DeleteServer(ctx context.Context, serverID string) error {
	for i, s := range f.servers {
		if s.ID == serverID {
			f.servers = append(f.servers[:i], f.servers[i+1:]...)
			break
		}
	}
	delete(f.channels, serverID)
	return nil
}
func (f *fakeAdapter) CreateChannel(ctx context.Context, row store.ChannelRow) error {
	f.channels[row.ServerID] = append(f.channels[row.ServerID], row)
	return nil
}
func (f *fakeAdapter) PersistMessage(ctx context.Context, row store.MessageRow) error {
	f.messages = append(f.messages, row)
	return nil
}
func (f *fakeAdapter) PersistTopicChange(ctx context.Context, channelID, topic, setBy string, at time.Time) error {
	f.topicChanges = append(f.topicChanges, store.ChannelRow{ID: channelID, Topic: topic, TopicSetBy: setBy, TopicSetAt: at})
	return nil
}
func (f *fakeAdapter) PersistChannelCreated(ctx context.Context, row store.ChannelRow) error {
	f.createdChans = append(f.createdChans, row)
	return nil
}
func (f *fakeAdapter) TouchTokenLastUsed(ctx context.Context, tokenID string, at time.Time) error {
	return nil
}
func (f *fakeAdapter) UpsertPresence(ctx context.Context, row store.PresenceRow) error { return nil }
func (f *fakeAdapter) FetchHistory(ctx context.Context, channelID string, before *time.Time, limit int) ([]store.MessageRow, bool, error) {
	return nil, false, nil
}
func (f *fakeAdapter) SoftDeleteMessage(ctx context.Context, messageID string, at time.Time) error {
	return nil
}
func (f *fakeAdapter) SearchMessages(ctx context.Context, channelID, query string, limit int) ([]store.MessageRow, error) {
	return nil, nil
}
func (f *fakeAdapter) LookupTokensByNickname(ctx context.Context, nickname string) ([]store.IRCTokenRow, error) {
	return nil, nil
}
func (f *fakeAdapter) GetPresence(ctx context.Context, userID string) (store.PresenceRow, bool, error) {
	return store.PresenceRow{}, false, nil
}
func (f *fakeAdapter) ListRoles(ctx context.Context, serverID string) ([]store.RoleRow, error) {
	return nil, nil
}
func (f *fakeAdapter) ListUserRoles(ctx context.Context, serverID, userID string) ([]store.UserRoleRow, error) {
	return nil, nil
}
func (f *fakeAdapter) ListChannelOverrides(ctx context.Context, channelID string) ([]store.OverrideRow, error) {
	return nil, nil
}
func (f *fakeAdapter) Close() error { return nil }

var _ store.Adapter = (*fakeAdapter)(nil)

func newTestEngine(t *testing.T) (*Engine, *fakeAdapter) {
	t.Helper()
	adapter := newFakeAdapter()
	var seq int64
	cfg := Config{
		MessageBurst:      10,
		MessageRefillRate: 100, // generous, so rate limiting isn't incidental in unrelated tests
		HistoryPageSize:   50,
		IDGenerator: func() string {
			n := atomic.AddInt64(&seq, 1)
			return fmt.Sprintf("id-%d", n)
		},
	}
	log := logrus.NewEntry(logrus.New())
	e, err := New(context.Background(), adapter, store.NewDispatcher(4, log), log, cfg)
	require.NoError(t, err)
	return e, adapter
}

func drain(t *testing.T, sess *Session) Event {
	t.Helper()
	ev, ok := sess.Outbound().Next()
	require.True(t, ok, "expected a queued event")
	return ev
}

// drainAll empties sess's outbound queue, for tests that only care
// about events produced after a known point and need to discard
// everything a prior JoinChannel call queued (the join broadcast plus
// the joiner's own Topic/Names burst).
func drainAll(sess *Session) {
	for hasPending(sess) {
		sess.Outbound().Next()
	}
}

// hasPending reports whether sess's outbound queue currently holds any
// event. Reaches into the unexported queue fields directly since this
// test file lives in package engine.
func hasPending(sess *Session) bool {
	q := sess.Outbound()
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) > 0
}

func TestConnectRejectsInvalidNickname(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Connect(context.Background(), "", "user-1", "", ProtoLine)
	assert.Error(t, err)
}

func TestConnectDisplacesExistingSessionWithSameNickname(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	first, err := e.Connect(ctx, "alice", "user-1", "", ProtoLine)
	require.NoError(t, err)

	second, err := e.Connect(ctx, "alice", "user-2", "", ProtoLine)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID(), second.ID())

	// The old session's queue must already be closed by the time the
	// new one is installed.
	_, ok := first.Outbound().Next()
	assert.False(t, ok)

	byNick, ok := e.sessions.byNick("alice")
	require.True(t, ok)
	assert.Equal(t, second.ID(), byNick.ID())
}

func TestCreateServerAndJoinDefaultChannel(t *testing.T) {
	e, adapter := newTestEngine(t)
	ctx := context.Background()

	srv, ch, err := e.CreateServer(ctx, "My Server", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "#general", ch.Name())
	assert.Len(t, adapter.servers, 1)

	sess, err := e.Connect(ctx, "alice", "user-1", "", ProtoLine)
	require.NoError(t, err)

	joined, err := e.JoinChannel(srv.ID(), "general", sess)
	require.NoError(t, err)
	assert.Equal(t, ch.ID(), joined.ID())

	members, err := e.GetMembers(srv.ID(), "#general")
	require.NoError(t, err)
	assert.Equal(t, []Member{{Nick: "alice"}}, members)
}

func TestJoinChannelCreatesUnpersistedChannelOnDemand(t *testing.T) {
	e, adapter := newTestEngine(t)
	ctx := context.Background()

	srv, _, err := e.CreateServer(ctx, "My Server", "owner")
	require.NoError(t, err)

	sess, err := e.Connect(ctx, "bob", "user-2", "", ProtoLine)
	require.NoError(t, err)

	_, err = e.JoinChannel(srv.ID(), "random-topic", sess)
	require.NoError(t, err)

	e.dispatcher.Wait()
	assert.Len(t, adapter.createdChans, 1)
	assert.False(t, adapter.createdChans[0].Persisted)
}

func TestPartEvictsUnpersistedEmptyChannel(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	srv, _, err := e.CreateServer(ctx, "My Server", "owner")
	require.NoError(t, err)

	sess, err := e.Connect(ctx, "bob", "user-2", "", ProtoLine)
	require.NoError(t, err)

	_, err = e.JoinChannel(srv.ID(), "scratch", sess)
	require.NoError(t, err)

	require.NoError(t, e.PartChannel(srv.ID(), "#scratch", sess, "done"))

	_, ok := e.graph.channelByName(srv.ID(), "#scratch")
	assert.False(t, ok)
}

func TestSendMessageExcludesSenderFromBroadcast(t *testing.T) {
	e, adapter := newTestEngine(t)
	ctx := context.Background()

	srv, _, err := e.CreateServer(ctx, "My Server", "owner")
	require.NoError(t, err)

	alice, err := e.Connect(ctx, "alice", "user-1", "", ProtoLine)
	require.NoError(t, err)
	bob, err := e.Connect(ctx, "bob", "user-2", "", ProtoLine)
	require.NoError(t, err)

	_, err = e.JoinChannel(srv.ID(), "general", alice)
	require.NoError(t, err)
	_, err = e.JoinChannel(srv.ID(), "general", bob)
	require.NoError(t, err)
	// Both joins enqueue a Join broadcast plus the joiner's own Topic/Names
	// burst; drain all of it so the assertions below only see
	// send_message's own output.
	drainAll(alice)
	drainAll(bob)

	require.NoError(t, e.SendMessage(ctx, srv.ID(), alice, "#general", "hello", ""))

	ev := drain(t, bob)
	assert.Equal(t, EventMessage, ev.Kind)
	assert.Equal(t, "hello", ev.Content)

	assert.False(t, hasPending(alice), "sender must not receive its own message")

	e.dispatcher.Wait()
	assert.Len(t, adapter.messages, 1)
	assert.Equal(t, "hello", adapter.messages[0].Content)
}

func TestSendMessageRejectsWhenNotAMember(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	srv, _, err := e.CreateServer(ctx, "My Server", "owner")
	require.NoError(t, err)

	alice, err := e.Connect(ctx, "alice", "user-1", "", ProtoLine)
	require.NoError(t, err)

	err = e.SendMessage(ctx, srv.ID(), alice, "#general", "hello", "")
	assert.ErrorIs(t, err, ErrNotAMember)
}

func TestSendMessageRateLimited(t *testing.T) {
	e, _ := newTestEngine(t)
	e.limiter = ratelimit.New(1, 0.0001)
	ctx := context.Background()

	srv, _, err := e.CreateServer(ctx, "My Server", "owner")
	require.NoError(t, err)

	alice, err := e.Connect(ctx, "alice", "user-1", "", ProtoLine)
	require.NoError(t, err)
	_, err = e.JoinChannel(srv.ID(), "general", alice)
	require.NoError(t, err)

	require.NoError(t, e.SendMessage(ctx, srv.ID(), alice, "#general", "one", ""))
	err = e.SendMessage(ctx, srv.ID(), alice, "#general", "two", "")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestSetTopicBroadcastsToSetterToo(t *testing.T) {
	e, adapter := newTestEngine(t)
	ctx := context.Background()

	srv, _, err := e.CreateServer(ctx, "My Server", "owner")
	require.NoError(t, err)

	alice, err := e.Connect(ctx, "alice", "user-1", "", ProtoLine)
	require.NoError(t, err)
	_, err = e.JoinChannel(srv.ID(), "general", alice)
	require.NoError(t, err)
	drainAll(alice) // the join broadcast plus alice's own Names burst

	require.NoError(t, e.SetTopic(srv.ID(), "#general", alice, "new topic"))

	ev := drain(t, alice)
	assert.Equal(t, EventTopicChange, ev.Kind)
	assert.Equal(t, "new topic", ev.Topic)

	e.dispatcher.Wait()
	require.Len(t, adapter.topicChanges, 1)
	assert.Equal(t, "new topic", adapter.topicChanges[0].Topic)
}

func TestDisconnectBroadcastsQuitAndFreesNickname(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	srv, _, err := e.CreateServer(ctx, "My Server", "owner")
	require.NoError(t, err)

	alice, err := e.Connect(ctx, "alice", "user-1", "", ProtoLine)
	require.NoError(t, err)
	bob, err := e.Connect(ctx, "bob", "user-2", "", ProtoLine)
	require.NoError(t, err)

	_, err = e.JoinChannel(srv.ID(), "general", alice)
	require.NoError(t, err)
	_, err = e.JoinChannel(srv.ID(), "general", bob)
	require.NoError(t, err)
	drainAll(alice) // both joins' broadcasts plus alice's own Names burst

	e.Disconnect(bob.ID(), "leaving")

	ev := drain(t, alice)
	assert.Equal(t, EventQuit, ev.Kind)
	assert.Equal(t, "bob", ev.Nick)

	_, ok := e.sessions.byNick("bob")
	assert.False(t, ok)

	again, err := e.Connect(ctx, "bob", "user-3", "", ProtoLine)
	require.NoError(t, err)
	assert.NotNil(t, again)
}

func TestDeleteServerRequiresOwner(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	srv, _, err := e.CreateServer(ctx, "My Server", "owner")
	require.NoError(t, err)

	err = e.DeleteServer(ctx, srv.ID(), "not-the-owner")
	assert.Error(t, err)

	err = e.DeleteServer(ctx, srv.ID(), "owner")
	assert.NoError(t, err)

	_, ok := e.graph.servers.Get(srv.ID())
	assert.False(t, ok)
}

func TestJoinChannelDeliversTopicAndNamesToJoiner(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	srv, _, err := e.CreateServer(ctx, "My Server", "owner")
	require.NoError(t, err)

	alice, err := e.Connect(ctx, "alice", "user-1", "", ProtoLine)
	require.NoError(t, err)
	_, err = e.JoinChannel(srv.ID(), "general", alice)
	require.NoError(t, err)
	require.NoError(t, e.SetTopic(srv.ID(), "#general", alice, "Welcome"))
	drainAll(alice)

	charlie, err := e.Connect(ctx, "charlie", "user-3", "", ProtoLine)
	require.NoError(t, err)
	_, err = e.JoinChannel(srv.ID(), "general", charlie)
	require.NoError(t, err)

	join := drain(t, charlie)
	assert.Equal(t, EventJoin, join.Kind)
	assert.Equal(t, "charlie", join.Nick)

	topic := drain(t, charlie)
	assert.Equal(t, EventTopic, topic.Kind)
	assert.Equal(t, "Welcome", topic.Topic)

	names := drain(t, charlie)
	assert.Equal(t, EventNames, names.Kind)
	assert.ElementsMatch(t, []Member{{Nick: "alice"}, {Nick: "charlie"}}, names.Members)

	assert.False(t, hasPending(charlie))
}

func TestJoinChannelSkipsTopicEventWhenUnset(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	srv, _, err := e.CreateServer(ctx, "My Server", "owner")
	require.NoError(t, err)

	alice, err := e.Connect(ctx, "alice", "user-1", "", ProtoLine)
	require.NoError(t, err)
	_, err = e.JoinChannel(srv.ID(), "general", alice)
	require.NoError(t, err)

	join := drain(t, alice)
	assert.Equal(t, EventJoin, join.Kind)

	names := drain(t, alice)
	assert.Equal(t, EventNames, names.Kind, "no topic is set, so Topic must be skipped entirely")

	assert.False(t, hasPending(alice))
}

func TestSendMessageAndPartChannelNormalizeCase(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	srv, _, err := e.CreateServer(ctx, "My Server", "owner")
	require.NoError(t, err)

	alice, err := e.Connect(ctx, "alice", "user-1", "", ProtoLine)
	require.NoError(t, err)
	_, err = e.JoinChannel(srv.ID(), "general", alice)
	require.NoError(t, err)
	drainAll(alice)

	require.NoError(t, e.SendMessage(ctx, srv.ID(), alice, "#General", "hi", ""))
	require.NoError(t, e.PartChannel(srv.ID(), "#General", alice, "bye"))

	members, err := e.GetMembers(srv.ID(), "#general")
	require.NoError(t, err)
	assert.Empty(t, members, "mixed-case PART must still resolve to the same lowercased channel alice joined")
}

func TestKickMemberRemovesTargetAndBroadcastsPart(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	srv, _, err := e.CreateServer(ctx, "My Server", "owner")
	require.NoError(t, err)

	alice, err := e.Connect(ctx, "alice", "user-1", "", ProtoLine)
	require.NoError(t, err)
	bob, err := e.Connect(ctx, "bob", "user-2", "", ProtoLine)
	require.NoError(t, err)

	_, err = e.JoinChannel(srv.ID(), "general", alice)
	require.NoError(t, err)
	_, err = e.JoinChannel(srv.ID(), "general", bob)
	require.NoError(t, err)
	drainAll(alice)
	drainAll(bob)

	require.NoError(t, e.KickMember(srv.ID(), "#general", "bob", "Kicked by alice"))

	kickEvent := drain(t, bob)
	assert.Equal(t, EventPart, kickEvent.Kind)
	assert.Equal(t, "bob", kickEvent.Nick)
	assert.Equal(t, "Kicked by alice", kickEvent.Reason)
	assert.False(t, hasPending(bob), "bob must not receive a second copy via the channel broadcast")

	aliceEvent := drain(t, alice)
	assert.Equal(t, EventPart, aliceEvent.Kind)
	assert.Equal(t, "bob", aliceEvent.Nick)

	members, err := e.GetMembers(srv.ID(), "#general")
	require.NoError(t, err)
	assert.Equal(t, []Member{{Nick: "alice"}}, members)
}

func TestKickMemberRejectsUnknownNick(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	srv, _, err := e.CreateServer(ctx, "My Server", "owner")
	require.NoError(t, err)

	alice, err := e.Connect(ctx, "alice", "user-1", "", ProtoLine)
	require.NoError(t, err)
	_, err = e.JoinChannel(srv.ID(), "general", alice)
	require.NoError(t, err)

	err = e.KickMember(srv.ID(), "#general", "ghost", "")
	assert.ErrorIs(t, err, ErrUnknownRecipient)
}
