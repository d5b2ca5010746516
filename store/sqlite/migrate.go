package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is a single numbered, transactional schema step. Applying
// the full sequence twice must yield the same schema_version row count
// as applying it once — exercised directly by the migration idempotence
// property in §8.
type migration struct {
	version int
	sql     string
}

// migrations holds the core tables the engine itself reads or writes
// through store.Adapter, plus the handful of persisted-but-engine-adjacent
// tables named in §6.3 whose presence this implementation still commits
// to (notification_settings, for the null-uniqueness DELETE-then-INSERT
// pattern; slash_commands, audited per the same open question; irc_tokens
// and presence rows, both read by the line adapter's asynchronous
// handlers). The remaining ~15 tables §6.3 lists (oauth2_apps, webhooks,
// automod_rules, forum_tags, and so on) belong to the external
// REST/bot/automod collaborators the core never calls into, and are
// intentionally not created here — nothing in this repository would
// ever touch them, and a migration nobody runs queries against is
// cruft, not completeness.
var migrations = []migration{
	{1, `CREATE TABLE schema_version (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')))`},
	{2, `CREATE TABLE servers (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		icon TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`},
	{3, `CREATE TABLE server_members (
		server_id TEXT NOT NULL REFERENCES servers(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		PRIMARY KEY (server_id, user_id)
	)`},
	{4, `CREATE TABLE channels (
		id TEXT PRIMARY KEY,
		server_id TEXT NOT NULL REFERENCES servers(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		topic TEXT NOT NULL DEFAULT '',
		topic_set_by TEXT NOT NULL DEFAULT '',
		topic_set_at TEXT,
		persisted INTEGER NOT NULL DEFAULT 1,
		UNIQUE (server_id, name)
	)`},
	{5, `CREATE TABLE messages (
		id TEXT PRIMARY KEY,
		server_id TEXT NOT NULL DEFAULT '',
		channel_id TEXT NOT NULL DEFAULT '',
		dm_target TEXT NOT NULL DEFAULT '',
		sender TEXT NOT NULL,
		sender_id TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		reply_to TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		edited_at TEXT,
		deleted_at TEXT
	)`},
	{6, `CREATE INDEX idx_messages_channel_created ON messages(channel_id, created_at DESC)`},
	{7, `CREATE VIRTUAL TABLE messages_fts USING fts5(content, content='messages', content_rowid='rowid')`},
	{8, `CREATE TRIGGER messages_fts_ai AFTER INSERT ON messages BEGIN
		INSERT INTO messages_fts(rowid, content) VALUES (new.rowid, new.content);
	END`},
	{9, `CREATE TRIGGER messages_fts_ad AFTER DELETE ON messages BEGIN
		INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
	END`},
	{10, `CREATE TRIGGER messages_fts_au AFTER UPDATE ON messages BEGIN
		INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
		INSERT INTO messages_fts(rowid, content) VALUES (new.rowid, new.content);
	END`},
	{11, `CREATE TABLE roles (
		id TEXT PRIMARY KEY,
		server_id TEXT NOT NULL REFERENCES servers(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		bits INTEGER NOT NULL DEFAULT 0,
		is_default INTEGER NOT NULL DEFAULT 0
	)`},
	{12, `CREATE TABLE user_roles (
		server_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role_id TEXT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
		PRIMARY KEY (server_id, user_id, role_id)
	)`},
	{13, `CREATE TABLE channel_permission_overrides (
		channel_id TEXT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
		target_kind TEXT NOT NULL CHECK (target_kind IN ('role','user')),
		target_id TEXT NOT NULL,
		allow_bits INTEGER NOT NULL DEFAULT 0,
		deny_bits INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (channel_id, target_kind, target_id)
	)`},
	{14, `CREATE TABLE irc_tokens (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		nickname TEXT NOT NULL,
		argon_hash TEXT NOT NULL,
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		last_used_at TEXT
	)`},
	{15, `CREATE INDEX idx_irc_tokens_nickname ON irc_tokens(nickname)`},
	{16, `CREATE TABLE presence (
		user_id TEXT PRIMARY KEY,
		away INTEGER NOT NULL DEFAULT 0,
		away_msg TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`},
	{17, `CREATE TABLE notification_settings (
		user_id TEXT NOT NULL,
		server_id TEXT,
		channel_id TEXT,
		muted INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`},
	{18, `CREATE UNIQUE INDEX idx_notification_settings_scope ON notification_settings(user_id, COALESCE(server_id, ''), COALESCE(channel_id, ''))`},
	{19, `CREATE TABLE slash_commands (
		id TEXT PRIMARY KEY,
		server_id TEXT,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT ''
	)`},
	{20, `CREATE UNIQUE INDEX idx_slash_commands_scope ON slash_commands(name, COALESCE(server_id, ''))`},
}

// Migrate applies every migration newer than the highest recorded
// version, each inside its own transaction, recording the applied
// version into schema_version as it goes. Running it again against an
// already-migrated database is a no-op.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')))`); err != nil {
		return fmt.Errorf("bootstrap schema_version: %w", err)
	}

	current, err := currentVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		if err := applyOne(ctx, db, m); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
	}

	return nil
}

func currentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version sql.NullInt64
	err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, err
	}
	return int(version.Int64), nil
}

func applyOne(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Migration 1 creates schema_version itself and is bootstrapped
	// above so currentVersion can run before any migration exists;
	// skip re-running its CREATE TABLE to avoid an "already exists"
	// error, but still record it.
	if m.version != 1 {
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, m.version); err != nil {
		return err
	}

	return tx.Commit()
}
