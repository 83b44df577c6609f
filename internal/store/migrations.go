package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id        TEXT PRIMARY KEY,
	sender    TEXT NOT NULL,
	recipient TEXT NOT NULL,
	subject   TEXT NOT NULL DEFAULT '',
	sent_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notifications_sent_at ON notifications(sent_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
