// Package db stores filter runs and their per-step output in SQLite.
//
// The schema is managed by golang-migrate from the SQL files embedded under
// migrations/. NewDB opens a database and brings it to the latest version;
// OpenDB only opens it, for tools that manage migrations themselves.
package db

import (
	"compress/gzip"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/terrain.report/internal/monitoring"
	"github.com/banshee-data/terrain.report/internal/timeutil"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// clock is used for timestamps and retry backoff. Tests replace it.
var clock timeutil.Clock = timeutil.RealClock{}

// pragmas are applied to every pooled connection through the DSN.
var pragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"temp_store(MEMORY)",
	"foreign_keys(1)",
}

// DB wraps a SQLite handle with the path it was opened from.
type DB struct {
	*sql.DB
	path string
}

// OpenDB opens the database at path with the standard pragmas but does not
// run migrations.
func OpenDB(path string) (*DB, error) {
	params := make([]string, len(pragmas))
	for i, p := range pragmas {
		params[i] = "_pragma=" + p
	}
	db, err := sql.Open("sqlite", path+"?"+strings.Join(params, "&"))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &DB{DB: db, path: path}, nil
}

// NewDB opens the database at path and applies any pending migrations.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	migFS, err := getMigrationsFS()
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := db.MigrateUp(migFS); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the file the database was opened from.
func (db *DB) Path() string { return db.path }

// getMigrationsFS returns the embedded migrations rooted at the directory
// that holds the .sql files.
func getMigrationsFS() (fs.FS, error) {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrations filesystem: %w", err)
	}
	return sub, nil
}

const maxBusyRetries = 5

// retryOnBusy runs fn, retrying with exponential backoff (10ms, 20ms, ...)
// while SQLite reports the database as locked.
func retryOnBusy(fn func() error) error {
	backoff := 10 * time.Millisecond
	var err error
	for attempt := 1; attempt <= maxBusyRetries; attempt++ {
		err = fn()
		if err == nil || !isSQLiteBusy(err) {
			return err
		}
		if attempt < maxBusyRetries {
			monitoring.Verbosef("[db] database busy, retry %d in %v", attempt, backoff)
			clock.Sleep(backoff)
			backoff *= 2
		}
	}
	return fmt.Errorf("database busy after %d attempts: %w", maxBusyRetries, err)
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// AttachAdminRoutes mounts the debug pages on mux under /debug/: a tailsql
// console over this database, table statistics and a gzip-compressed backup
// download.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{
		Label: "Terrain results",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	debug.Handle("db-stats", "Row counts and size of the results database", http.HandlerFunc(db.handleStats))
	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(db.handleBackup))
	return nil
}

// DatabaseStats is the body of the db-stats debug page.
type DatabaseStats struct {
	Path      string           `json:"path"`
	SizeBytes int64            `json:"size_bytes"`
	Tables    map[string]int64 `json:"tables"`
}

// Stats counts the rows of each results table.
func (db *DB) Stats() (*DatabaseStats, error) {
	stats := &DatabaseStats{Path: db.path, Tables: map[string]int64{}}
	for _, table := range []string{"runs", "run_steps"} {
		var n int64
		if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		stats.Tables[table] = n
	}
	if info, err := os.Stat(db.path); err == nil {
		stats.SizeBytes = info.Size()
	}
	return stats, nil
}

func (db *DB) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := db.Stats()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		monitoring.Logf("Failed to encode db stats: %v", err)
	}
}

func (db *DB) handleBackup(w http.ResponseWriter, r *http.Request) {
	name := fmt.Sprintf("terrain-backup-%d.db", clock.Now().Unix())
	backupPath := filepath.Join(os.TempDir(), name)
	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.Remove(backupPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			monitoring.Logf("Failed to remove backup file: %v", err)
		}
	}()

	f, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
	w.Header().Set("Content-Type", "application/gzip")
	gz := gzip.NewWriter(w)
	if _, err := io.Copy(gz, f); err != nil {
		monitoring.Logf("Failed to send backup: %v", err)
		return
	}
	if err := gz.Close(); err != nil {
		monitoring.Logf("Failed to finish backup: %v", err)
	}
}
