package database

var schemas = map[string]string{
	DialectMySQL: `
CREATE TABLE IF NOT EXISTS kv_entries (
    entry_key VARCHAR(255) NOT NULL PRIMARY KEY,
    entry_value MEDIUMBLOB NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
)`,
	DialectSQLite: `
CREATE TABLE IF NOT EXISTS kv_entries (
    entry_key TEXT NOT NULL PRIMARY KEY,
    entry_value BLOB NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`,
}

// UpsertQuery returns the dialect's insert-or-replace statement for kv_entries.
func UpsertQuery(dialect string) string {
	if dialect == DialectMySQL {
		return `
INSERT INTO kv_entries (entry_key, entry_value)
VALUES (?, ?)
ON DUPLICATE KEY UPDATE entry_value = VALUES(entry_value), updated_at = NOW()`
	}
	return `
INSERT INTO kv_entries (entry_key, entry_value)
VALUES (?, ?)
ON CONFLICT(entry_key) DO UPDATE SET entry_value = excluded.entry_value, updated_at = CURRENT_TIMESTAMP`
}
