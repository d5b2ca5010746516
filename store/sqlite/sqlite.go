// Package sqlite is the concrete persistence backend: a pure-Go SQLite
// driver (modernc.org/sqlite) behind sqlx, implementing store.Adapter.
// Grounded on the connection-setup and struct-scan conventions of
// tinode/chat's server/db/rethinkdb adapter, adjusted to SQLite's
// single-writer model (WAL journal mode, one shared *sql.DB).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/dollspace-gay/concord/store"
)

// Store wraps a migrated SQLite database and implements store.Adapter.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if absent) the database at path, enables WAL
// journaling and foreign keys, and applies every pending migration.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// A single connection avoids SQLITE_BUSY churn under WAL; the
	// engine already serializes writes per-channel via its own
	// goroutine-per-connection model, so this isn't a bottleneck.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys=ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := Migrate(ctx, db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ListServers(ctx context.Context) ([]store.ServerRow, error) {
	var rows []struct {
		ID    string `db:"id"`
		Owner string `db:"owner_id"`
		Name  string `db:"name"`
		Icon  string `db:"icon"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, owner_id, name, icon FROM servers`); err != nil {
		return nil, err
	}

	out := make([]store.ServerRow, 0, len(rows))
	for _, r := range rows {
		var members []string
		if err := s.db.SelectContext(ctx, &members, `SELECT user_id FROM server_members WHERE server_id = ?`, r.ID); err != nil {
			return nil, err
		}
		out = append(out, store.ServerRow{ID: r.ID, Owner: r.Owner, Name: r.Name, Icon: r.Icon, Members: members})
	}
	return out, nil
}

func (s *Store) ListChannels(ctx context.Context, serverID string) ([]store.ChannelRow, error) {
	var rows []struct {
		ID         string         `db:"id"`
		ServerID   string         `db:"server_id"`
		Name       string         `db:"name"`
		Topic      string         `db:"topic"`
		TopicSetBy string         `db:"topic_set_by"`
		TopicSetAt sql.NullString `db:"topic_set_at"`
		Persisted  bool           `db:"persisted"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, server_id, name, topic, topic_set_by, topic_set_at, persisted FROM channels WHERE server_id = ?`, serverID); err != nil {
		return nil, err
	}

	out := make([]store.ChannelRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.ChannelRow{
			ID:         r.ID,
			ServerID:   r.ServerID,
			Name:       r.Name,
			Topic:      r.Topic,
			TopicSetBy: r.TopicSetBy,
			TopicSetAt: parseTimestamp(r.TopicSetAt),
			Persisted:  r.Persisted,
		})
	}
	return out, nil
}

func (s *Store) CreateServer(ctx context.Context, row store.ServerRow, defaultChannel store.ChannelRow) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO servers (id, owner_id, name, icon) VALUES (?, ?, ?, ?)`,
		row.ID, row.Owner, row.Name, row.Icon); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO server_members (server_id, user_id) VALUES (?, ?)`, row.ID, row.Owner); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO channels (id, server_id, name, topic, topic_set_by, persisted) VALUES (?, ?, ?, ?, ?, ?)`,
		defaultChannel.ID, defaultChannel.ServerID, defaultChannel.Name, defaultChannel.Topic, defaultChannel.TopicSetBy, defaultChannel.Persisted); err != nil {
		return err
	}

	defaultRoleID := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `INSERT INTO roles (id, server_id, name, position, bits, is_default) VALUES (?, ?, 'everyone', 0, 0, 1)`,
		defaultRoleID, row.ID); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) DeleteServer(ctx context.Context, serverID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM servers WHERE id = ?`, serverID)
	return err
}

func (s *Store) CreateChannel(ctx context.Context, row store.ChannelRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channels (id, server_id, name, topic, topic_set_by, persisted) VALUES (?, ?, ?, ?, ?, ?)`,
		row.ID, row.ServerID, row.Name, row.Topic, row.TopicSetBy, row.Persisted)
	return err
}

func (s *Store) PersistMessage(ctx context.Context, row store.MessageRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, server_id, channel_id, dm_target, sender, sender_id, content, reply_to) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.ServerID, row.Channel, row.DMTarget, row.Sender, row.SenderID, row.Content, row.ReplyTo)
	return err
}

func (s *Store) PersistTopicChange(ctx context.Context, channelID, topic, setBy string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE channels SET topic = ?, topic_set_by = ?, topic_set_at = ? WHERE id = ?`,
		topic, setBy, at.UTC().Format(time.RFC3339Nano), channelID)
	return err
}

func (s *Store) PersistChannelCreated(ctx context.Context, row store.ChannelRow) error {
	return s.CreateChannel(ctx, row)
}

func (s *Store) TouchTokenLastUsed(ctx context.Context, tokenID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE irc_tokens SET last_used_at = ? WHERE id = ?`, at.UTC().Format(time.RFC3339Nano), tokenID)
	return err
}

// UpsertPresence emulates an upsert with a DELETE-then-INSERT pair
// rather than SQLite's native ON CONFLICT. It is the only write in this
// store that uses that pattern.
func (s *Store) UpsertPresence(ctx context.Context, row store.PresenceRow) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM presence WHERE user_id = ?`, row.UserID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO presence (user_id, away, away_msg, updated_at) VALUES (?, ?, ?, ?)`,
		row.UserID, row.Away, row.AwayMsg, row.UpdatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) FetchHistory(ctx context.Context, channelID string, before *time.Time, limit int) ([]store.MessageRow, bool, error) {
	query := `SELECT id, server_id, channel_id, dm_target, sender, sender_id, content, reply_to, created_at, edited_at, deleted_at
		FROM messages WHERE channel_id = ? AND deleted_at IS NULL`
	args := []any{channelID}

	if before != nil {
		query += ` AND created_at < ?`
		args = append(args, before.UTC().Format(time.RFC3339Nano))
	}

	// Fetch one extra row to determine hasMore without a second query.
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit+1)

	var scanned []messageScanRow
	if err := s.db.SelectContext(ctx, &scanned, query, args...); err != nil {
		return nil, false, err
	}

	hasMore := len(scanned) > limit
	if hasMore {
		scanned = scanned[:limit]
	}

	rows := make([]store.MessageRow, 0, len(scanned))
	for _, r := range scanned {
		rows = append(rows, r.toRow())
	}
	return rows, hasMore, nil
}

func (s *Store) SoftDeleteMessage(ctx context.Context, messageID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE messages SET deleted_at = ? WHERE id = ?`, at.UTC().Format(time.RFC3339Nano), messageID)
	return err
}

func (s *Store) SearchMessages(ctx context.Context, channelID, query string, limit int) ([]store.MessageRow, error) {
	sanitized := store.SanitizeSearchQuery(query)

	var scanned []messageScanRow
	err := s.db.SelectContext(ctx, &scanned, `
		SELECT m.id, m.server_id, m.channel_id, m.dm_target, m.sender, m.sender_id, m.content, m.reply_to, m.created_at, m.edited_at, m.deleted_at
		FROM messages m
		JOIN messages_fts f ON f.rowid = m.rowid
		WHERE m.channel_id = ? AND m.deleted_at IS NULL AND messages_fts MATCH ?
		ORDER BY m.created_at DESC LIMIT ?`, channelID, sanitized, limit)
	if err != nil {
		return nil, err
	}

	rows := make([]store.MessageRow, 0, len(scanned))
	for _, r := range scanned {
		rows = append(rows, r.toRow())
	}
	return rows, nil
}

func (s *Store) LookupTokensByNickname(ctx context.Context, nickname string) ([]store.IRCTokenRow, error) {
	var rows []struct {
		ID         string         `db:"id"`
		UserID     string         `db:"user_id"`
		Nickname   string         `db:"nickname"`
		ArgonHash  string         `db:"argon_hash"`
		CreatedAt  string         `db:"created_at"`
		LastUsedAt sql.NullString `db:"last_used_at"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, user_id, nickname, argon_hash, created_at, last_used_at FROM irc_tokens WHERE nickname = ?`, nickname); err != nil {
		return nil, err
	}

	out := make([]store.IRCTokenRow, 0, len(rows))
	for _, r := range rows {
		created, _ := time.Parse(time.RFC3339Nano, r.CreatedAt)
		out = append(out, store.IRCTokenRow{
			ID: r.ID, UserID: r.UserID, Nickname: r.Nickname, ArgonHash: r.ArgonHash,
			CreatedAt: created, LastUsedAt: parseTimestamp(r.LastUsedAt),
		})
	}
	return out, nil
}

func (s *Store) GetPresence(ctx context.Context, userID string) (store.PresenceRow, bool, error) {
	var r struct {
		UserID    string `db:"user_id"`
		Away      bool   `db:"away"`
		AwayMsg   string `db:"away_msg"`
		UpdatedAt string `db:"updated_at"`
	}
	err := s.db.GetContext(ctx, &r, `SELECT user_id, away, away_msg, updated_at FROM presence WHERE user_id = ?`, userID)
	if err == sql.ErrNoRows {
		return store.PresenceRow{}, false, nil
	}
	if err != nil {
		return store.PresenceRow{}, false, err
	}

	updated, _ := time.Parse(time.RFC3339Nano, r.UpdatedAt)
	return store.PresenceRow{UserID: r.UserID, Away: r.Away, AwayMsg: r.AwayMsg, UpdatedAt: updated}, true, nil
}

func (s *Store) ListRoles(ctx context.Context, serverID string) ([]store.RoleRow, error) {
	var rows []store.RoleRow
	err := s.db.SelectContext(ctx, &rows, `SELECT id, server_id AS serverid, name, position, bits, is_default AS isdefault FROM roles WHERE server_id = ?`, serverID)
	return rows, err
}

func (s *Store) ListUserRoles(ctx context.Context, serverID, userID string) ([]store.UserRoleRow, error) {
	var rows []store.UserRoleRow
	err := s.db.SelectContext(ctx, &rows, `SELECT server_id AS serverid, user_id AS userid, role_id AS roleid FROM user_roles WHERE server_id = ? AND user_id = ?`, serverID, userID)
	return rows, err
}

func (s *Store) ListChannelOverrides(ctx context.Context, channelID string) ([]store.OverrideRow, error) {
	var rows []store.OverrideRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT channel_id AS channelid, target_kind AS targetkind, target_id AS targetid, allow_bits AS allowbits, deny_bits AS denybits
		 FROM channel_permission_overrides WHERE channel_id = ?`, channelID)
	return rows, err
}

// messageScanRow mirrors the messages table's nullable columns for
// sqlx scanning before conversion to the adapter-facing MessageRow.
type messageScanRow struct {
	ID        string         `db:"id"`
	ServerID  string         `db:"server_id"`
	Channel   string         `db:"channel_id"`
	DMTarget  string         `db:"dm_target"`
	Sender    string         `db:"sender"`
	SenderID  string         `db:"sender_id"`
	Content   string         `db:"content"`
	ReplyTo   string         `db:"reply_to"`
	CreatedAt string         `db:"created_at"`
	EditedAt  sql.NullString `db:"edited_at"`
	DeletedAt sql.NullString `db:"deleted_at"`
}

func (r messageScanRow) toRow() store.MessageRow {
	created, _ := time.Parse(time.RFC3339Nano, r.CreatedAt)
	return store.MessageRow{
		ID: r.ID, ServerID: r.ServerID, Channel: r.Channel, DMTarget: r.DMTarget,
		Sender: r.Sender, SenderID: r.SenderID, Content: r.Content, ReplyTo: r.ReplyTo,
		CreatedAt: created, EditedAt: parseTimestamp(r.EditedAt), DeletedAt: parseTimestamp(r.DeletedAt),
	}
}

func parseTimestamp(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

var _ store.Adapter = (*Store)(nil)
