package store

// migration is a single schema change.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations. Timestamps are
// stored as Unix nanoseconds so ordering survives the round trip.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create conversations and messages",
		SQL: `
			CREATE TABLE conversations (
				id               TEXT PRIMARY KEY,
				key_str          TEXT NOT NULL,
				turn             TEXT,
				continuity_token TEXT,
				created_at       INTEGER NOT NULL,
				updated_at       INTEGER NOT NULL
			);

			CREATE UNIQUE INDEX idx_conversations_key ON conversations (key_str);

			CREATE TABLE messages (
				conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
				seq             INTEGER NOT NULL,
				id              TEXT NOT NULL,
				kind            TEXT NOT NULL,
				user_id         TEXT NOT NULL DEFAULT '',
				content         TEXT NOT NULL DEFAULT '',
				tool_call_id    TEXT NOT NULL DEFAULT '',
				is_error        INTEGER NOT NULL DEFAULT 0,
				tool_calls      TEXT,
				created_at      INTEGER NOT NULL,
				PRIMARY KEY (conversation_id, seq)
			);
		`,
	},
	{
		Version: 2,
		Name:    "full-text index over message content",
		SQL: `
			CREATE VIRTUAL TABLE messages_fts USING fts5(
				content,
				content='messages',
				content_rowid='rowid'
			);

			CREATE TRIGGER messages_ai AFTER INSERT ON messages BEGIN
				INSERT INTO messages_fts(rowid, content) VALUES (new.rowid, new.content);
			END;

			CREATE TRIGGER messages_ad AFTER DELETE ON messages BEGIN
				INSERT INTO messages_fts(messages_fts, rowid, content)
				VALUES ('delete', old.rowid, old.content);
			END;
		`,
	},
}
