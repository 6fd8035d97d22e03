package db

import (
	"database/sql"
	"embed"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const memoryPath = ":memory:"

// connPragmas are applied by the driver to every new connection.
var connPragmas = []string{
	"foreign_keys(1)",
	"busy_timeout(5000)",
}

//go:embed migrations/*.sql
var migrationsFS embed.FS

// goose keeps its base FS and dialect in package globals.
var migrateMu sync.Mutex

// Open opens the state database at path, creating its directory, and brings
// the schema up to date. ":memory:" opens a private in-memory database.
func Open(path string) (*sql.DB, error) {
	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	conn, err := sql.Open("sqlite", dataSource(path))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// An in-memory database lives only as long as its connection.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if path != memoryPath {
		if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("sqlite: WAL mode not enabled")
		}
	}
	version, err := migrate(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	log.Debug().Str("path", path).Int64("schema", version).Msg("state database ready")
	return conn, nil
}

func dataSource(path string) string {
	q := url.Values{}
	for _, p := range connPragmas {
		q.Add("_pragma", p)
	}
	return "file:" + path + "?" + q.Encode()
}

func migrate(conn *sql.DB) (int64, error) {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return 0, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(conn, "migrations"); err != nil {
		return 0, fmt.Errorf("apply migrations: %w", err)
	}
	version, err := goose.GetDBVersion(conn)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
