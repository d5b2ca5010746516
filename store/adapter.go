// Package store defines the persistence façade the engine consumes: a
// narrow interface for startup loads, awaited critical-path mutations,
// and fire-and-forget hot-path writes. Grounded on the method-per-entity
// interface shape of tinode/chat's server/store/adapter.Adapter,
// narrowed to the entities the chat engine actually touches.
package store

import (
	"context"
	"time"
)

// ServerRow, ChannelRow, MessageRow, RoleRow, UserRoleRow, OverrideRow,
// PresenceRow and IRCTokenRow are the persisted shapes the engine loads at startup or
// writes through the façade. They intentionally mirror the engine's
// own in-memory types field-for-field rather than embedding them, so
// this package never imports engine (the dependency runs the other
// way: engine imports store).
type ServerRow struct {
	ID      string
	Owner   string
	Name    string
	Icon    string
	Members []string
}

type ChannelRow struct {
	ID         string
	ServerID   string
	Name       string
	Topic      string
	TopicSetBy string
	TopicSetAt time.Time
	Persisted  bool
}

type MessageRow struct {
	ID        string
	ServerID  string // empty for a direct message
	Channel   string // channel id, empty for a direct message
	DMTarget  string // user id, empty for a channel message
	Sender    string // sender nickname snapshot
	SenderID  string // sender user id, empty if anonymous
	Content   string
	CreatedAt time.Time
	EditedAt  *time.Time
	DeletedAt *time.Time
	ReplyTo   string
}

type RoleRow struct {
	ID        string
	ServerID  string
	Name      string
	Position  int
	Bits      int64 // signed on the wire; the engine casts to uint64
	IsDefault bool
}

type UserRoleRow struct {
	ServerID string
	UserID   string
	RoleID   string
}

type OverrideRow struct {
	ChannelID string
	TargetKind string // "role" | "user"
	TargetID   string
	AllowBits  int64
	DenyBits   int64
}

type PresenceRow struct {
	UserID    string
	Away      bool
	AwayMsg   string
	UpdatedAt time.Time
}

type IRCTokenRow struct {
	ID         string
	UserID     string
	Nickname   string
	ArgonHash  string
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// Adapter is the persistence façade. Every method either participates
// in the synchronous startup load, is awaited on a caller's critical
// path (CreateServer, DeleteServer), or is invoked from a detached
// fire-and-forget task (everything documented as such below) — the
// interface itself doesn't distinguish these, the engine's call sites
// do, exactly as §4.F frames it ("an abstract boundary, not a concrete
// module").
type Adapter interface {
	// Startup load. The engine blocks on these during initialization.
	ListServers(ctx context.Context) ([]ServerRow, error)
	ListChannels(ctx context.Context, serverID string) ([]ChannelRow, error)

	// Awaited critical-path mutations.
	CreateServer(ctx context.Context, row ServerRow, defaultChannel ChannelRow) error
	DeleteServer(ctx context.Context, serverID string) error
	CreateChannel(ctx context.Context, row ChannelRow) error

	// Fire-and-forget hot-path writes. The engine submits
	// PersistMessage, PersistTopicChange and PersistChannelCreated to
	// the bounded worker pool in store/dispatch.go; the line adapter
	// runs TouchTokenLastUsed on its own goroutine and calls
	// UpsertPresence inline, discarding its error.
	PersistMessage(ctx context.Context, row MessageRow) error
	PersistTopicChange(ctx context.Context, channelID, topic, setBy string, at time.Time) error
	PersistChannelCreated(ctx context.Context, row ChannelRow) error
	TouchTokenLastUsed(ctx context.Context, tokenID string, at time.Time) error
	UpsertPresence(ctx context.Context, row PresenceRow) error

	// Reads used by the engine's fetch_history and by the line
	// adapter's asynchronous KICK/AWAY/INVITE/WHOIS handlers.
	FetchHistory(ctx context.Context, channelID string, before *time.Time, limit int) (rows []MessageRow, hasMore bool, err error)
	SoftDeleteMessage(ctx context.Context, messageID string, at time.Time) error
	SearchMessages(ctx context.Context, channelID, query string, limit int) ([]MessageRow, error)

	LookupTokensByNickname(ctx context.Context, nickname string) ([]IRCTokenRow, error)
	GetPresence(ctx context.Context, userID string) (PresenceRow, bool, error)

	ListRoles(ctx context.Context, serverID string) ([]RoleRow, error)
	ListUserRoles(ctx context.Context, serverID, userID string) ([]UserRoleRow, error)
	ListChannelOverrides(ctx context.Context, channelID string) ([]OverrideRow, error)

	// Close releases the underlying connection/handle.
	Close() error
}
