package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/banshee-data/centerout/internal/stream"
)

var _ stream.Store = (*DB)(nil)
var _ stream.OffsetStore = (*DB)(nil)

func (db *DB) isClosed() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.closed
}

// Append writes rec to stream in one transaction and wakes readers blocked
// in this process.
func (db *DB) Append(name string, rec stream.Record) (stream.ID, error) {
	if db.isClosed() {
		return 0, stream.ErrClosed
	}
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("append %s: %w", name, err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`INSERT INTO entries (stream, created_at) VALUES (?, ?)`, name, db.clock.Now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("append %s: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append %s: %w", name, err)
	}
	for k, v := range rec {
		if v == nil {
			v = []byte{}
		}
		if _, err := tx.Exec(`INSERT INTO entry_fields (entry_id, name, value) VALUES (?, ?, ?)`, id, k, v); err != nil {
			return 0, fmt.Errorf("append %s field %q: %w", name, k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("append %s: %w", name, err)
	}

	db.mu.Lock()
	if !db.closed {
		close(db.wake)
		db.wake = make(chan struct{})
	}
	db.mu.Unlock()
	return stream.ID(id), nil
}

func (db *DB) ReadLatest(name string) (stream.Entry, bool, error) {
	if db.isClosed() {
		return stream.Entry{}, false, stream.ErrClosed
	}
	var id int64
	err := db.QueryRow(`SELECT entry_id FROM entries WHERE stream = ? ORDER BY entry_id DESC LIMIT 1`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return stream.Entry{}, false, nil
	}
	if err != nil {
		return stream.Entry{}, false, fmt.Errorf("latest %s: %w", name, err)
	}
	entries, err := db.loadFields(name, []int64{id})
	if err != nil {
		return stream.Entry{}, false, err
	}
	return entries[0], true, nil
}

// ReadBlocking polls until an entry newer than since exists. Appends made
// through this DB wake the reader at once; appends from other processes are
// seen on the next poll.
func (db *DB) ReadBlocking(ctx context.Context, name string, since stream.ID, count int) ([]stream.Entry, error) {
	if count <= 0 {
		count = 1
	}
	t := db.clock.NewTicker(db.pollInterval)
	defer t.Stop()
	for {
		db.mu.Lock()
		if db.closed {
			db.mu.Unlock()
			return nil, stream.ErrClosed
		}
		wake := db.wake
		db.mu.Unlock()

		ids, err := db.idsAfter(name, since, count)
		if err != nil {
			return nil, err
		}
		if len(ids) > 0 {
			return db.loadFields(name, ids)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wake:
		case <-t.C():
		}
	}
}

func (db *DB) LastID(name string) (stream.ID, error) {
	if db.isClosed() {
		return 0, stream.ErrClosed
	}
	var id sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(entry_id) FROM entries WHERE stream = ?`, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("last id of %s: %w", name, err)
	}
	return stream.ID(id.Int64), nil
}

// Range returns the entries of stream with from < id <= to, oldest first.
// A zero to means no upper bound.
func (db *DB) Range(name string, from, to stream.ID) ([]stream.Entry, error) {
	q := `SELECT entry_id FROM entries WHERE stream = ? AND entry_id > ?`
	args := []any{name, int64(from)}
	if to > 0 {
		q += ` AND entry_id <= ?`
		args = append(args, int64(to))
	}
	q += ` ORDER BY entry_id`
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("range %s: %w", name, err)
	}
	ids, err := scanIDs(rows)
	if err != nil {
		return nil, fmt.Errorf("range %s: %w", name, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return db.loadFields(name, ids)
}

// Trim deletes all but the newest keep entries of stream.
func (db *DB) Trim(name string, keep int) (int64, error) {
	res, err := db.Exec(`DELETE FROM entries WHERE stream = ? AND entry_id NOT IN (
		SELECT entry_id FROM entries WHERE stream = ? ORDER BY entry_id DESC LIMIT ?)`, name, name, keep)
	if err != nil {
		return 0, fmt.Errorf("trim %s: %w", name, err)
	}
	return res.RowsAffected()
}

func (db *DB) LoadOffset(consumer, name string) (stream.ID, bool, error) {
	var id int64
	err := db.QueryRow(`SELECT entry_id FROM consumer_offsets WHERE consumer = ? AND stream = ?`, consumer, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load offset %s/%s: %w", consumer, name, err)
	}
	return stream.ID(id), true, nil
}

func (db *DB) SaveOffset(consumer, name string, id stream.ID) error {
	if db.isClosed() {
		return stream.ErrClosed
	}
	_, err := db.Exec(`INSERT INTO consumer_offsets (consumer, stream, entry_id, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (consumer, stream) DO UPDATE SET entry_id = excluded.entry_id, updated_at = excluded.updated_at`,
		consumer, name, int64(id), db.clock.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("save offset %s/%s: %w", consumer, name, err)
	}
	return nil
}

func (db *DB) idsAfter(name string, since stream.ID, count int) ([]int64, error) {
	rows, err := db.Query(`SELECT entry_id FROM entries WHERE stream = ? AND entry_id > ? ORDER BY entry_id LIMIT ?`,
		name, int64(since), count)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	ids, err := scanIDs(rows)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return ids, nil
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (db *DB) loadFields(name string, ids []int64) ([]stream.Entry, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	byID := make(map[int64]*stream.Entry, len(ids))
	entries := make([]stream.Entry, len(ids))
	for i, id := range ids {
		args[i] = id
		entries[i] = stream.Entry{ID: stream.ID(id), Stream: name, Fields: stream.Record{}}
		byID[id] = &entries[i]
	}

	rows, err := db.Query(`SELECT entry_id, name, value FROM entry_fields WHERE entry_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("fields of %s: %w", name, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id    int64
			field string
			value []byte
		)
		if err := rows.Scan(&id, &field, &value); err != nil {
			return nil, fmt.Errorf("fields of %s: %w", name, err)
		}
		if e := byID[id]; e != nil {
			e.Fields[field] = value
		}
	}
	return entries, rows.Err()
}
