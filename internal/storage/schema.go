package storage

import "fmt"

const schemaPodcasts = `
CREATE TABLE IF NOT EXISTS podcasts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	guid TEXT NOT NULL UNIQUE,
	author TEXT NOT NULL DEFAULT '',
	local_image_path TEXT NOT NULL DEFAULT '',
	image_url TEXT NOT NULL DEFAULT '',
	feed_url TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);`

const schemaEpisodes = `
CREATE TABLE IF NOT EXISTS episodes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	guid TEXT NOT NULL UNIQUE,
	podcast_id INTEGER NOT NULL,
	content_local_path TEXT NOT NULL DEFAULT '',
	content_url TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	image_local_path TEXT NOT NULL DEFAULT '',
	image_url TEXT NOT NULL DEFAULT '',
	length INTEGER NOT NULL DEFAULT 0 CHECK (length >= 0),
	link TEXT NOT NULL DEFAULT '',
	episode_date INTEGER NOT NULL DEFAULT 0,
	title TEXT NOT NULL,
	FOREIGN KEY (podcast_id) REFERENCES podcasts(id) ON DELETE CASCADE
);`

const schemaEpisodesIndexes = `
CREATE INDEX IF NOT EXISTS idx_episodes_podcast_id ON episodes(podcast_id, episode_date DESC);`

const schemaEpisodeProgress = `
CREATE TABLE IF NOT EXISTS episode_progress (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	episode_id INTEGER NOT NULL UNIQUE,
	completed INTEGER NOT NULL DEFAULT 0,
	listened_seconds INTEGER NOT NULL DEFAULT 0 CHECK (listened_seconds >= 0),
	updated_at INTEGER NOT NULL DEFAULT 0,
	FOREIGN KEY (episode_id) REFERENCES episodes(id) ON DELETE CASCADE
);`

const schemaEpisodeProgressIndexes = `
CREATE INDEX IF NOT EXISTS idx_episode_progress_updated_at ON episode_progress(updated_at DESC);`

// progress timestamps move from milliseconds to nanoseconds so two saves in
// the same millisecond still order
const migrateProgressNanos = `
UPDATE episode_progress SET updated_at = updated_at * 1000000 WHERE updated_at > 0;`

const schemaMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY
);`

type migration struct {
	version    int
	statements []string
}

var migrations = []migration{
	{
		version: 1,
		statements: []string{
			schemaPodcasts,
			schemaEpisodes,
			schemaEpisodesIndexes,
			schemaEpisodeProgress,
		},
	},
	{
		version: 2,
		statements: []string{
			schemaEpisodeProgressIndexes,
		},
	},
	{
		version: 3,
		statements: []string{
			migrateProgressNanos,
		},
	},
}

func (s *Store) MigrateSchema() error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage: missing database connection")
	}
	if _, err := s.db.Exec(schemaMigrationsTable); err != nil {
		return fmt.Errorf("storage: create schema_migrations table: %w", err)
	}

	current, err := s.currentSchemaVersion()
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.version <= current {
			continue
		}
		if err := s.applyMigration(migration); err != nil {
			return err
		}
		current = migration.version
	}

	return nil
}

func (s *Store) currentSchemaVersion() (int, error) {
	var version int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("storage: read schema version: %w", err)
	}
	return version, nil
}

func (s *Store) applyMigration(migration migration) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("storage: start migration %d: %w", migration.version, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, statement := range migration.statements {
		if _, err = tx.Exec(statement); err != nil {
			return fmt.Errorf("storage: migration %d failed: %w", migration.version, err)
		}
	}

	if _, err = tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, migration.version); err != nil {
		return fmt.Errorf("storage: record migration %d: %w", migration.version, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit migration %d: %w", migration.version, err)
	}
	return nil
}
