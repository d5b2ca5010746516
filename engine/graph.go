package engine

import (
	"sync"
	"time"

	"github.com/dollspace-gay/concord/shared/concurrentmap"
)

// Server is the in-memory record for a tenant. Grounded on the
// teacher's Server type in spirit (a struct of mutable fields behind
// one RWMutex) but scoped to exactly the fields §3 names; the
// listener/TLS/ISupport concerns that lived on the teacher's Server
// belong to irc.Server now, not here.
type Server struct {
	mu sync.RWMutex

	id      string
	owner   string
	name    string
	icon    string
	members map[string]struct{} // user ids
	channelIDs map[string]struct{}
}

func (s *Server) ID() string    { return s.id }
func (s *Server) Owner() string { return s.owner }

func (s *Server) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

func (s *Server) IsOwner(userID string) bool {
	return userID != "" && userID == s.owner
}

func (s *Server) addMember(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[userID] = struct{}{}
}

func (s *Server) channelIDSnapshot() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.channelIDs))
	for id := range s.channelIDs {
		ids = append(ids, id)
	}
	return ids
}

func (s *Server) addChannelID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelIDs[id] = struct{}{}
}

func (s *Server) removeChannelID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channelIDs, id)
}

// Channel is the in-memory record for a named message destination
// within a server. Grounded on the teacher's Channel type
// (Nicks/Ops/HalfOps/Voiced member maps under one RWMutex), narrowed to
// what the engine's routing rules actually need — role-based
// permission prefixes replace the teacher's op/halfop/voice tri-level
// scheme entirely (see permissions.go).
type Channel struct {
	mu sync.RWMutex

	id       string
	serverID string
	name     string

	topic      string
	topicSetBy string
	topicSetAt time.Time

	persisted bool // survives an empty member set; see §9 open question

	members map[string]struct{} // session ids
}

func (c *Channel) ID() string       { return c.id }
func (c *Channel) ServerID() string { return c.serverID }

func (c *Channel) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

func (c *Channel) Topic() (topic, setBy string, setAt time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topic, c.topicSetBy, c.topicSetAt
}

func (c *Channel) setTopic(topic, setBy string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topic = topic
	c.topicSetBy = setBy
	c.topicSetAt = at
}

func (c *Channel) addMember(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.members[sessionID] = struct{}{}
}

// removeMember removes a member and reports whether the channel is now
// empty, so callers can decide on eviction without a second lock
// round-trip.
func (c *Channel) removeMember(sessionID string) (wasMember, nowEmpty bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.members[sessionID]; !ok {
		return false, len(c.members) == 0
	}
	delete(c.members, sessionID)
	return true, len(c.members) == 0
}

func (c *Channel) isMember(sessionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.members[sessionID]
	return ok
}

func (c *Channel) memberSnapshot() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.members))
	for id := range c.members {
		ids = append(ids, id)
	}
	return ids
}

func (c *Channel) memberCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.members)
}

// channelGraph is the in-memory authoritative state for servers, their
// channel sets, channel membership, and the (server_id, channel_name)
// -> channel_id index described in §4.E.
type channelGraph struct {
	servers    concurrentmap.ConcurrentMap[string, *Server]
	channels   concurrentmap.ConcurrentMap[string, *Channel]
	nameIndex  concurrentmap.ConcurrentMap[channelKey, string]
}

func newChannelGraph() *channelGraph {
	return &channelGraph{
		servers:   concurrentmap.New[string, *Server](),
		channels:  concurrentmap.New[string, *Channel](),
		nameIndex: concurrentmap.New[channelKey, string](),
	}
}

func (g *channelGraph) channelByName(serverID, name string) (*Channel, bool) {
	id, ok := g.nameIndex.Get(channelKey{serverID, name})
	if !ok {
		return nil, false
	}
	return g.channels.Get(id)
}

func (g *channelGraph) insertChannel(ch *Channel) {
	g.channels.Set(ch.id, ch)
	g.nameIndex.Set(channelKey{ch.serverID, ch.name}, ch.id)
	if srv, ok := g.servers.Get(ch.serverID); ok {
		srv.addChannelID(ch.id)
	}
}

func (g *channelGraph) evictChannel(ch *Channel) {
	g.channels.Delete(ch.id)
	g.nameIndex.Delete(channelKey{ch.serverID, ch.name})
	if srv, ok := g.servers.Get(ch.serverID); ok {
		srv.removeChannelID(ch.id)
	}
}

// channelsInServer returns a read-only scan of every channel belonging
// to serverID, used by list_channels.
func (g *channelGraph) channelsInServer(serverID string) []*Channel {
	srv, ok := g.servers.Get(serverID)
	if !ok {
		return nil
	}

	// Collect channel ids into an owned slice before looking each one
	// up, mirroring the "collect first, then mutate/read" pattern the
	// startup-load routine (Engine.loadGraph) requires for the same deadlock
	// reason: srv.channelIDSnapshot() takes the server's own lock, not
	// the channels map's, so this step is purely defensive style
	// consistency rather than a strict necessity here.
	ids := srv.channelIDSnapshot()
	out := make([]*Channel, 0, len(ids))
	for _, id := range ids {
		if ch, ok := g.channels.Get(id); ok {
			out = append(out, ch)
		}
	}
	return out
}
