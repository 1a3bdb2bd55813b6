package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/loremind/pkg/domain/interfaces"

	_ "modernc.org/sqlite"
)

// SQLite is a durable single-node repository backed by an embedded SQLite database
type SQLite struct {
	db           *sql.DB
	memory       *memoryRepository
	contextEntry *contextEntryRepository
}

var _ interfaces.Repository = &SQLite{}

// timeLayout is fixed width so that text order in ORDER BY is time order.
// Values are always stored in UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS campaigns (
		id INTEGER PRIMARY KEY,
		dimension INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		campaign_id INTEGER NOT NULL,
		memory_type TEXT NOT NULL,
		content TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		embedding BLOB NOT NULL,
		session_number INTEGER,
		turn_number INTEGER,
		tags TEXT NOT NULL DEFAULT '[]',
		source_ref TEXT,
		created_at TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS memories_campaign_created ON memories (campaign_id, created_at);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS memories_campaign_source ON memories (campaign_id, source_ref) WHERE source_ref IS NOT NULL;`,
	`CREATE TABLE IF NOT EXISTS memory_importance (
		memory_id TEXT PRIMARY KEY,
		importance INTEGER NOT NULL,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS context_entries (
		campaign_id INTEGER NOT NULL,
		id TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		updated_at TEXT NOT NULL,
		PRIMARY KEY (campaign_id, id)
	);`,
}

// New opens (or creates) the database at path. Use ":memory:" for a
// throwaway database.
func New(ctx context.Context, path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, goerr.Wrap(err, "failed to create database directory", goerr.V("path", path))
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open sqlite database", goerr.V("path", path))
	}
	// a single connection serialises writers and keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)

	for _, query := range schema {
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			return nil, goerr.Wrap(err, "failed to initialize sqlite schema", goerr.V("path", path))
		}
	}

	return &SQLite{
		db:           db,
		memory:       newMemoryRepository(db),
		contextEntry: newContextEntryRepository(db),
	}, nil
}

func (s *SQLite) Memory() interfaces.MemoryRepository {
	return s.memory
}

func (s *SQLite) ContextEntry() interfaces.ContextEntryRepository {
	return s.contextEntry
}

func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
