package db

import (
	"database/sql"
	"fmt"
)

// MigrateUp creates the records table and its indexes for driver.
// It is idempotent.
func MigrateUp(db *sql.DB, driver string) error {
	switch driver {
	case DriverSQLite, "":
		return migrateSQLite(db)
	case DriverPostgres:
		return migratePostgres(db)
	default:
		return fmt.Errorf("MigrateUp: unsupported driver %q", driver)
	}
}

func migrateSQLite(db *sql.DB) error {
	// AUTOINCREMENT keeps ids monotonic even after the highest row is replaced
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS records (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    title      TEXT NOT NULL DEFAULT '',
    url        TEXT NOT NULL UNIQUE,
    content    TEXT NOT NULL DEFAULT '',
    embedding  TEXT,
    source     TEXT NOT NULL DEFAULT '',
    bias       TEXT NOT NULL DEFAULT '0',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`); err != nil {
		return err
	}

	indexes := []string{
		// ソース絞り込み用
		`CREATE INDEX IF NOT EXISTS idx_records_source ON records(source)`,
		// 本文長による集計・検索用
		`CREATE INDEX IF NOT EXISTS idx_records_content_length ON records(length(content))`,
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return err
		}
	}
	return nil
}

func migratePostgres(db *sql.DB) error {
	// pgvector拡張を有効化
	// エラーを無視(既に存在する場合やスーパーユーザー権限がない場合)
	_, _ = db.Exec(`CREATE EXTENSION IF NOT EXISTS vector`)

	// Note: vector has no fixed dimension; the deployment's embedder decides it
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS records (
    id         BIGSERIAL PRIMARY KEY,
    title      TEXT NOT NULL DEFAULT '',
    url        TEXT NOT NULL UNIQUE,
    content    TEXT NOT NULL DEFAULT '',
    embedding  vector,
    source     TEXT NOT NULL DEFAULT '',
    bias       TEXT NOT NULL DEFAULT '0',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
		return err
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_records_source ON records(source)`,
		`CREATE INDEX IF NOT EXISTS idx_records_content_length ON records(char_length(content))`,
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return err
		}
	}
	return nil
}

// MigrateDown drops the records table and its indexes.
// Use with caution: this will delete all stored records.
func MigrateDown(db *sql.DB) error {
	dropStatements := []string{
		`DROP INDEX IF EXISTS idx_records_content_length`,
		`DROP INDEX IF EXISTS idx_records_source`,
		`DROP TABLE IF EXISTS records`,
	}

	for _, stmt := range dropStatements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	// Note: We do NOT drop the vector extension as it may be used by other tables
	return nil
}
