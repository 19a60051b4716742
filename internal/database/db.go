package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations
var migrations embed.FS

type DB struct {
	conn   *sql.DB
	driver string
}

var dialects = map[string]goose.Dialect{
	"sqlite3":  goose.DialectSQLite3,
	"postgres": goose.DialectPostgres,
}

// NewDB opens the store and applies pending migrations. driver is
// "sqlite3" (url is a file path) or "postgres" (url is a connection string).
func NewDB(driver, url string) (*DB, error) {
	dialect, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if driver == "sqlite3" {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url += sep + "_foreign_keys=on&_busy_timeout=5000"
	}

	conn, err := sql.Open(driver, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrate(ctx, conn, driver, dialect); err != nil {
		conn.Close()
		return nil, err
	}

	if driver == "sqlite3" {
		// one writer keeps upserts from racing into SQLITE_BUSY
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(10)
		conn.SetConnMaxIdleTime(5 * time.Minute)
	}

	slog.Info("✅ database ready", "driver", driver)
	return &DB{conn: conn, driver: driver}, nil
}

func migrate(ctx context.Context, conn *sql.DB, driver string, dialect goose.Dialect) error {
	dir, err := fs.Sub(migrations, "migrations/"+driver)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	provider, err := goose.NewProvider(dialect, conn, dir)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	for _, r := range results {
		slog.Info("📦 migration applied", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("%s unreachable: %w", db.driver, err)
	}
	return nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}
