package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	// DefaultDBFileName is the SQLite filename under app data dir.
	DefaultDBFileName = "messages.db"
	// DefaultWALCheckpointInterval controls periodic WAL truncation.
	DefaultWALCheckpointInterval = 24 * time.Hour
)

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS conversations (
  id                    INTEGER PRIMARY KEY,
  title                 TEXT NOT NULL DEFAULT '',
  phone_numbers         TEXT NOT NULL DEFAULT '',
  snippet               TEXT NOT NULL DEFAULT '',
  ringtone              TEXT NOT NULL DEFAULT '',
  id_matcher            TEXT NOT NULL DEFAULT '',
  image_uri             TEXT NOT NULL DEFAULT '',
  color                 INTEGER NOT NULL DEFAULT 0,
  color_dark            INTEGER NOT NULL DEFAULT 0,
  color_light           INTEGER NOT NULL DEFAULT 0,
  color_accent          INTEGER NOT NULL DEFAULT 0,
  led_color             INTEGER NOT NULL DEFAULT 0,
  pinned                INTEGER NOT NULL DEFAULT 0,
  read                  INTEGER NOT NULL DEFAULT 1,
  mute                  INTEGER NOT NULL DEFAULT 0,
  archived              INTEGER NOT NULL DEFAULT 0,
  private_notifications INTEGER NOT NULL DEFAULT 0,
  folder_id             INTEGER,
  timestamp             INTEGER NOT NULL
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_conversations_phone_numbers
ON conversations (phone_numbers);
`,
	`
CREATE TABLE IF NOT EXISTS messages (
  id               INTEGER PRIMARY KEY,
  conversation_id  INTEGER NOT NULL,
  type             INTEGER NOT NULL CHECK(type BETWEEN 0 AND 6),
  data             TEXT NOT NULL DEFAULT '',
  mime_type        TEXT NOT NULL DEFAULT 'text/plain',
  timestamp        INTEGER NOT NULL,
  read             INTEGER NOT NULL DEFAULT 0,
  seen             INTEGER NOT NULL DEFAULT 0,
  message_from     TEXT NOT NULL DEFAULT '',
  color            INTEGER,
  sent_device      INTEGER NOT NULL DEFAULT -1,
  sim_phone_number TEXT NOT NULL DEFAULT ''
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_messages_conversation_time
ON messages (conversation_id, timestamp DESC);
`,
	`
CREATE TABLE IF NOT EXISTS contacts (
  id           INTEGER PRIMARY KEY,
  phone_number TEXT NOT NULL,
  id_matcher   TEXT NOT NULL DEFAULT '',
  name         TEXT NOT NULL DEFAULT '',
  contact_type INTEGER NOT NULL DEFAULT 0,
  color        INTEGER NOT NULL DEFAULT 0,
  color_dark   INTEGER NOT NULL DEFAULT 0,
  color_light  INTEGER NOT NULL DEFAULT 0,
  color_accent INTEGER NOT NULL DEFAULT 0
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_contacts_phone_number
ON contacts (phone_number);
`,
	`
CREATE TABLE IF NOT EXISTS drafts (
  id              INTEGER PRIMARY KEY,
  conversation_id INTEGER NOT NULL,
  data            TEXT NOT NULL,
  mime_type       TEXT NOT NULL DEFAULT 'text/plain'
);
`,
	`
CREATE TABLE IF NOT EXISTS blacklists (
  id           INTEGER PRIMARY KEY,
  phone_number TEXT NOT NULL DEFAULT '',
  phrase       TEXT NOT NULL DEFAULT ''
);
`,
	`
CREATE TABLE IF NOT EXISTS scheduled_messages (
  id              INTEGER PRIMARY KEY,
  recipients      TEXT NOT NULL,
  data            TEXT NOT NULL,
  mime_type       TEXT NOT NULL DEFAULT 'text/plain',
  timestamp       INTEGER NOT NULL,
  title           TEXT NOT NULL DEFAULT '',
  repeat_interval INTEGER NOT NULL DEFAULT 0
);
`,
	`
CREATE TABLE IF NOT EXISTS templates (
  id   INTEGER PRIMARY KEY,
  text TEXT NOT NULL
);
`,
	`
CREATE TABLE IF NOT EXISTS folders (
  id           INTEGER PRIMARY KEY,
  name         TEXT NOT NULL,
  color        INTEGER NOT NULL DEFAULT 0,
  color_dark   INTEGER NOT NULL DEFAULT 0,
  color_light  INTEGER NOT NULL DEFAULT 0,
  color_accent INTEGER NOT NULL DEFAULT 0
);
`,
	`
CREATE TABLE IF NOT EXISTS auto_replies (
  id         INTEGER PRIMARY KEY,
  reply_type TEXT NOT NULL,
  pattern    TEXT NOT NULL DEFAULT '',
  response   TEXT NOT NULL
);
`,
	`
CREATE TABLE IF NOT EXISTS settings (
  key        TEXT PRIMARY KEY,
  value_type TEXT NOT NULL DEFAULT 'string',
  value      TEXT NOT NULL
);
`,
	`
CREATE TABLE IF NOT EXISTS retryable_requests (
  id              INTEGER PRIMARY KEY AUTOINCREMENT,
  kind            TEXT NOT NULL CHECK(kind IN ('add_message','add_conversation')),
  entity_id       INTEGER NOT NULL,
  error_timestamp INTEGER NOT NULL,
  UNIQUE (kind, entity_id)
);
`,
}

// syncedTables are wiped before a bulk download reseeds the device.
var syncedTables = []string{
	"messages",
	"conversations",
	"contacts",
	"drafts",
	"blacklists",
	"scheduled_messages",
	"templates",
	"folders",
	"auto_replies",
	"retryable_requests",
}

type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Store is the local store gateway over SQLite.
//
// A Store handed to an InTx callback routes every statement through the open
// transaction; all other stores commit each write individually.
type Store struct {
	db *sql.DB
	q  querier
	tx *sql.Tx

	walCheckpointInterval time.Duration
	walCheckpointStop     chan struct{}
	walCheckpointWG       sync.WaitGroup
	closeOnce             sync.Once
}

// Open opens (or creates) messages.db under the given data directory and runs migrations.
func Open(dataDir string) (*Store, string, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create storage directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DefaultDBFileName)
	store, err := OpenPath(dbPath)
	if err != nil {
		return nil, "", err
	}

	return store, dbPath, nil
}

// OpenPath opens SQLite at an explicit path and runs schema migrations.
func OpenPath(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.ToSlash(dbPath))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	store := &Store{
		db:                    db,
		q:                     db,
		walCheckpointInterval: DefaultWALCheckpointInterval,
		walCheckpointStop:     make(chan struct{}),
	}
	if err := store.enableWALMode(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.checkpointWAL(); err != nil {
		_ = db.Close()
		return nil, err
	}
	store.startWALCheckpointLoop()

	return store, nil
}

// Close closes the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil || s.tx != nil {
		return nil
	}
	var closeErr error
	s.closeOnce.Do(func() {
		if s.walCheckpointStop != nil {
			close(s.walCheckpointStop)
			s.walCheckpointWG.Wait()
		}
		closeErr = s.db.Close()
	})
	return closeErr
}

// InTx runs fn against a store bound to one exclusive transaction. The transaction
// commits only when fn returns nil; any error or panic rolls every write back.
// Calling InTx on a store that is already transactional reuses the open transaction.
func (s *Store) InTx(fn func(tx *Store) error) (err error) {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(&Store{db: s.db, q: tx, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

// WipeSyncedData deletes every replicated row. Settings are device-local and survive.
func (s *Store) WipeSyncedData() error {
	for _, table := range syncedTables {
		if _, err := s.q.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("wipe table %s: %w", table, err)
		}
	}
	return nil
}

func (s *Store) applyMigrations() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version >= len(migrations) {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := version; i < len(migrations); i++ {
		if _, err := tx.Exec(migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			return fmt.Errorf("set schema version %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration transaction: %w", err)
	}

	return nil
}

func (s *Store) enableWALMode() error {
	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if !strings.EqualFold(journalMode, "wal") {
		return fmt.Errorf("enable WAL mode: unexpected journal mode %q", journalMode)
	}
	return nil
}

func (s *Store) checkpointWAL() error {
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE);"); err != nil {
		return fmt.Errorf("wal checkpoint truncate: %w", err)
	}
	return nil
}

func (s *Store) startWALCheckpointLoop() {
	interval := s.walCheckpointInterval
	if interval <= 0 || s.walCheckpointStop == nil {
		return
	}

	s.walCheckpointWG.Add(1)
	go func() {
		defer s.walCheckpointWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = s.checkpointWAL()
			case <-s.walCheckpointStop:
				return
			}
		}
	}()
}
