package engine

import (
	"strings"
	"sync"

	"github.com/dollspace-gay/concord/shared/concurrentmap"
)

// Protocol tags which wire adapter owns a session.
type Protocol uint8

const (
	ProtoLine Protocol = iota
	ProtoFrame
)

// Session holds the state the registry keeps for one live client
// connection. Grounded on the teacher's User type (a
// concurrency-safe-getter-per-field struct guarded by one RWMutex),
// generalized to carry an outbound event queue and a channel-name set
// instead of a *Conn, so the registry never touches a net.Conn itself.
type Session struct {
	mu sync.RWMutex

	id       string
	protocol Protocol
	nick     string
	userID   string // empty for anonymous sessions
	avatar   string

	outbound *outboundQueue

	// channels is the set of "#channel" names (qualified by server id
	// by the caller, since names are only unique within a server) this
	// session currently belongs to, kept here so disconnect can remove
	// the session from every channel without a reverse scan of the
	// channel graph.
	channels map[channelKey]struct{}
}

type channelKey struct {
	serverID string
	name     string
}

func newSession(id, nick, userID, avatar string, proto Protocol) *Session {
	return &Session{
		id:       id,
		protocol: proto,
		nick:     nick,
		userID:   userID,
		avatar:   avatar,
		outbound: newOutboundQueue(),
		channels: make(map[channelKey]struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Nick() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nick
}

func (s *Session) setNick(nick string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nick = nick
}

func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Session) Avatar() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.avatar
}

func (s *Session) Protocol() Protocol {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.protocol
}

// Outbound returns the consumer side of the session's event queue.
// Callers should only ever call Next on the returned value from the
// single owning connection task.
func (s *Session) Outbound() *outboundQueue { return s.outbound }

func (s *Session) addChannel(serverID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[channelKey{serverID, name}] = struct{}{}
}

func (s *Session) removeChannel(serverID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, channelKey{serverID, name})
}

func (s *Session) channelSnapshot() []channelKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]channelKey, 0, len(s.channels))
	for k := range s.channels {
		keys = append(keys, k)
	}
	return keys
}

// sessionRegistry is the authoritative map of live sessions keyed by
// opaque session id, plus the reverse nickname index, exactly as
// described in §4.D. Grounded on the teacher's ConnMap/UserMap
// (map+RWMutex wrappers), generalized onto the already-generic
// shared/concurrentmap instead of hand-rolling another non-generic
// wrapper.
type sessionRegistry struct {
	sessions      concurrentmap.ConcurrentMap[string, *Session]
	nickToSession concurrentmap.ConcurrentMap[string, string]

	idSeq *idAllocator
}

func newSessionRegistry(idSeq *idAllocator) *sessionRegistry {
	return &sessionRegistry{
		sessions:      concurrentmap.New[string, *Session](),
		nickToSession: concurrentmap.New[string, string](),
		idSeq:         idSeq,
	}
}

func normalizeNick(nick string) string { return strings.ToLower(nick) }

func (r *sessionRegistry) bySessionID(id string) (*Session, bool) {
	return r.sessions.Get(id)
}

func (r *sessionRegistry) byNick(nick string) (*Session, bool) {
	id, ok := r.nickToSession.Get(normalizeNick(nick))
	if !ok {
		return nil, false
	}
	return r.sessions.Get(id)
}

// install records a brand new session in both maps. Callers must have
// already evicted any existing session for the same nickname (engine.connect
// does this via disconnect before calling install).
func (r *sessionRegistry) install(nick, userID, avatar string, proto Protocol) *Session {
	sess := newSession(r.idSeq.next(), nick, userID, avatar, proto)
	r.sessions.Set(sess.id, sess)
	r.nickToSession.Set(normalizeNick(nick), sess.id)
	return sess
}

// remove drops the session record and its reverse-index entry. It
// returns the channel keys the session belonged to, so the caller (the
// engine's disconnect) can remove it from each channel's member set and
// broadcast Quit without the registry needing to know about channels.
func (r *sessionRegistry) remove(id string) (*Session, []channelKey, bool) {
	sess, ok := r.sessions.Get(id)
	if !ok {
		return nil, nil, false
	}

	r.sessions.Delete(id)
	r.nickToSession.Delete(normalizeNick(sess.Nick()))

	return sess, sess.channelSnapshot(), true
}

func (r *sessionRegistry) rename(id, newNick string) bool {
	sess, ok := r.sessions.Get(id)
	if !ok {
		return false
	}

	old := normalizeNick(sess.Nick())
	sess.setNick(newNick)
	r.nickToSession.Delete(old)
	r.nickToSession.Set(normalizeNick(newNick), id)
	return true
}

// idAllocator hands out opaque, monotonically-unique ids for sessions,
// servers, channels, and messages. The default generator is randomID
// (idgen.go, a 20-character random string); tests can substitute a
// deterministic allocator.
type idAllocator struct {
	gen func() string
}

func (a *idAllocator) next() string { return a.gen() }
