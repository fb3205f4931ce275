// Package db is the sqlite-backed stream store shared by the task processes.
package db

import (
	"compress/gzip"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/centerout/internal/timeutil"
)

// DefaultPollInterval is how often a blocked reader re-queries the database
// for entries appended by another process.
const DefaultPollInterval = 2 * time.Millisecond

type DB struct {
	*sql.DB
	path string

	clock        timeutil.Clock
	pollInterval time.Duration

	mu     sync.Mutex
	wake   chan struct{}
	closed bool
}

// NewDB opens the database at path and applies every pending migration.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(Migrations()); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// OpenDB opens the database at path without touching the schema.
func OpenDB(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)" +
		"&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=temp_store(MEMORY)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &DB{
		DB:           sqlDB,
		path:         path,
		clock:        timeutil.RealClock{},
		pollInterval: DefaultPollInterval,
		wake:         make(chan struct{}),
	}, nil
}

// SetClock replaces the clock that paces polling reads.
func (db *DB) SetClock(c timeutil.Clock) { db.clock = c }

// SetPollInterval changes how often blocked readers poll.
func (db *DB) SetPollInterval(d time.Duration) {
	if d > 0 {
		db.pollInterval = d
	}
}

// Close releases blocked readers and closes the connection pool.
func (db *DB) Close() error {
	db.mu.Lock()
	if !db.closed {
		db.closed = true
		close(db.wake)
	}
	db.mu.Unlock()
	return db.DB.Close()
}

func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "Stream DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("streams", "Entry counts per stream", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stats, err := db.StreamStats()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats); err != nil {
			log.Printf("streams: encode failed: %v", err)
		}
	}))

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(db.serveBackup))
}

func (db *DB) serveBackup(w http.ResponseWriter, r *http.Request) {
	backupPath := fmt.Sprintf("backup-%d.db", time.Now().Unix())
	if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	backupFile, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		backupFile.Close()
		if err := os.Remove(backupPath); err != nil {
			log.Printf("Failed to remove backup file: %v", err)
		}
	}()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", backupPath))
	w.Header().Set("Content-Type", "application/gzip")
	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, backupFile); err != nil {
		log.Printf("backup: write failed: %v", err)
	}
}

// StreamStats summarises one stream.
type StreamStats struct {
	Stream  string `json:"stream"`
	Entries int64  `json:"entries"`
	LastID  int64  `json:"last_id"`
}

// StreamStats lists every stream with its entry count and newest id.
func (db *DB) StreamStats() ([]StreamStats, error) {
	rows, err := db.Query(`SELECT stream, COUNT(*), MAX(entry_id) FROM entries GROUP BY stream ORDER BY stream`)
	if err != nil {
		return nil, fmt.Errorf("stream stats: %w", err)
	}
	defer rows.Close()
	stats := []StreamStats{}
	for rows.Next() {
		var s StreamStats
		if err := rows.Scan(&s.Stream, &s.Entries, &s.LastID); err != nil {
			return nil, fmt.Errorf("stream stats: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
