package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	defaultDBName      = "giftline.db"
	defaultBusyTimeout = 250 * time.Millisecond
)

type Config struct {
	// Path to the database file. Empty uses ./data/giftline.db.
	Path string
	// BusyTimeout bounds how long a writer waits on a held lock before
	// failing with SQLITE_BUSY.
	BusyTimeout time.Duration
}

func (c Config) path() string {
	if c.Path == "" {
		return filepath.Join("data", defaultDBName)
	}
	return c.Path
}

// EnsureDir creates the directory holding the database file.
func EnsureDir(path string) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// DSN builds the sqlite connection string. Transactions take the write lock
// at BEGIN so concurrent writers serialize, and a short busy timeout makes a
// losing writer fail instead of waiting.
func DSN(cfg Config) string {
	timeout := cfg.BusyTimeout
	if timeout <= 0 {
		timeout = defaultBusyTimeout
	}
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_txlock=immediate",
		cfg.path(), timeout.Milliseconds())
}

// Open opens the SQLite database with foreign keys on.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureDir(cfg.path()); err != nil {
		return nil, err
	}
	conn, err := sql.Open("sqlite", DSN(cfg))
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open %s: %w", cfg.path(), err)
	}
	return conn, nil
}

// Path returns the resolved database path.
func Path(cfg Config) string {
	return cfg.path()
}
