package db

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/centerout/internal/stream"
	"github.com/banshee-data/centerout/internal/timeutil"
)

func newTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "centerout.db")
	db, err := NewDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, path
}

func TestNewDB_AppliesMigrations(t *testing.T) {
	db, _ := newTestDB(t)

	version, dirty, err := db.MigrateVersion(Migrations())
	require.NoError(t, err)
	assert.Equal(t, uint(3), version)
	assert.False(t, dirty)

	for _, table := range []string{"entries", "entry_fields", "consumer_offsets", "sessions"} {
		var n int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n))
		assert.Equal(t, 1, n, table)
	}

	var journal string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journal))
	assert.Equal(t, "wal", journal)
}

func TestMigrateDownAndUp(t *testing.T) {
	db, _ := newTestDB(t)
	require.NoError(t, db.MigrateDown(Migrations()))
	version, _, err := db.MigrateVersion(Migrations())
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)

	require.NoError(t, db.MigrateUp(Migrations()))
	version, _, err = db.MigrateVersion(Migrations())
	require.NoError(t, err)
	assert.Equal(t, uint(3), version)
}

func TestStreamStore_AppendAndRead(t *testing.T) {
	db, _ := newTestDB(t)

	_, ok, err := db.ReadLatest("cursorData")
	require.NoError(t, err)
	assert.False(t, ok)

	id1, err := db.Append("cursorData", stream.Record{"X": []byte{1, 2, 3, 4}, "sync": []byte("{}")})
	require.NoError(t, err)
	id2, err := db.Append("state", stream.Record{"state": []byte("start_time")})
	require.NoError(t, err)
	id3, err := db.Append("cursorData", stream.Record{"X": []byte{5, 6, 7, 8}, "sync": []byte("{}")})
	require.NoError(t, err)
	assert.Less(t, id1, id2)
	assert.Less(t, id2, id3)

	latest, ok, err := db.ReadLatest("cursorData")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id3, latest.ID)
	assert.Equal(t, []byte{5, 6, 7, 8}, latest.Fields["X"])
	assert.Equal(t, "cursorData", latest.Stream)

	got, err := db.ReadBlocking(context.Background(), "cursorData", id1, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id3, got[0].ID)

	last, err := db.LastID("state")
	require.NoError(t, err)
	assert.Equal(t, id2, last)

	all, err := db.Range("cursorData", 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStreamStore_ReadBlockingWakesOnLocalAppend(t *testing.T) {
	db, _ := newTestDB(t)

	done := make(chan []stream.Entry, 1)
	go func() {
		got, _ := db.ReadBlocking(context.Background(), "mouse_ac", 0, 1)
		done <- got
	}()
	time.Sleep(20 * time.Millisecond)
	id, err := db.Append("mouse_ac", stream.Record{"samples": []byte{1, 0, 2, 0}})
	require.NoError(t, err)

	select {
	case got := <-done:
		require.Len(t, got, 1)
		assert.Equal(t, id, got[0].ID)
	case <-time.After(5 * time.Second):
		t.Fatal("blocked reader not woken")
	}
}

func TestStreamStore_ReadBlockingPollsForOtherWriters(t *testing.T) {
	reader, path := newTestDB(t)
	clk := timeutil.NewMockClock(time.Unix(0, 0))
	reader.SetClock(clk)
	reader.SetPollInterval(10 * time.Millisecond)

	writer, err := OpenDB(path)
	require.NoError(t, err)
	defer writer.Close()

	done := make(chan []stream.Entry, 1)
	go func() {
		got, _ := reader.ReadBlocking(context.Background(), "kin", 0, 1)
		done <- got
	}()

	id, err := writer.Append("kin", stream.Record{"v": []byte{9}})
	require.NoError(t, err)

	var got []stream.Entry
	require.Eventually(t, func() bool {
		clk.Advance(10 * time.Millisecond)
		select {
		case got = <-done:
			return true
		default:
			return false
		}
	}, 5*time.Second, 5*time.Millisecond)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
}

func TestStreamStore_ReadBlockingCancelAndClose(t *testing.T) {
	db, _ := newTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := db.ReadBlocking(ctx, "s", 0, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, db.Close())
	_, err = db.Append("s", stream.Record{"v": []byte{1}})
	assert.ErrorIs(t, err, stream.ErrClosed)
}

func TestStreamStore_Offsets(t *testing.T) {
	db, _ := newTestDB(t)
	_, ok, err := db.LoadOffset("task", "mouse_ac")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.SaveOffset("task", "mouse_ac", 12))
	require.NoError(t, db.SaveOffset("task", "mouse_ac", 15))
	id, ok, err := db.LoadOffset("task", "mouse_ac")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, stream.ID(15), id)

	// a reader resumes after the saved offset
	for i := 0; i < 3; i++ {
		_, err := db.Append("mouse_ac", stream.Record{"v": []byte{byte(i)}})
		require.NoError(t, err)
	}
	require.NoError(t, db.SaveOffset("task", "mouse_ac", 1))
	r, err := stream.NewReader(db, "mouse_ac", "task")
	require.NoError(t, err)
	e, err := r.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, stream.ID(2), e.ID)
}

func TestStreamStore_Trim(t *testing.T) {
	db, _ := newTestDB(t)
	for i := 0; i < 5; i++ {
		_, err := db.Append("s", stream.Record{"v": []byte{byte(i)}})
		require.NoError(t, err)
	}
	n, err := db.Trim("s", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	rest, err := db.Range("s", 0, 0)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, []byte{3}, rest[0].Fields["v"])

	var orphans int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM entry_fields WHERE entry_id NOT IN (SELECT entry_id FROM entries)`).Scan(&orphans))
	assert.Zero(t, orphans)
}

func TestSessions(t *testing.T) {
	db, _ := newTestDB(t)
	_, err := db.Append("cursorData", stream.Record{"v": []byte{1}})
	require.NoError(t, err)

	s, err := db.StartSession([]byte(`{"recenter":true}`))
	require.NoError(t, err)
	assert.Len(t, s.ID, 36)
	assert.Equal(t, stream.ID(1), s.FirstEntryID)

	require.NoError(t, db.RecordOutcome(s.ID, true))
	require.NoError(t, db.RecordOutcome(s.ID, false))
	assert.Error(t, db.RecordOutcome("missing", true))

	_, err = db.Append("cursorData", stream.Record{"v": []byte{2}})
	require.NoError(t, err)
	require.NoError(t, db.EndSession(s.ID))

	got, err := db.GetSession(s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Trials)
	assert.Equal(t, 1, got.Successes)
	assert.Equal(t, stream.ID(2), got.LastEntryID)
	require.NotNil(t, got.EndedAt)
	assert.JSONEq(t, `{"recenter":true}`, got.ConfigJSON)

	list, err := db.Sessions()
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = db.GetSession("nope")
	assert.Error(t, err)
}

func TestAttachAdminRoutes(t *testing.T) {
	db, _ := newTestDB(t)
	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	// routes may refuse non-local callers but must be registered
	for _, endpoint := range []string{"/debug/streams", "/debug/backup", "/debug/tailsql/"} {
		t.Run(endpoint, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, endpoint, nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			assert.NotEqual(t, http.StatusNotFound, w.Code)
		})
	}
}

func TestStreamStats(t *testing.T) {
	db, _ := newTestDB(t)
	for _, name := range []string{"state", "cursorData", "cursorData"} {
		_, err := db.Append(name, stream.Record{"v": []byte{1}})
		require.NoError(t, err)
	}
	stats, err := db.StreamStats()
	require.NoError(t, err)
	assert.Equal(t, []StreamStats{
		{Stream: "cursorData", Entries: 2, LastID: 3},
		{Stream: "state", Entries: 1, LastID: 1},
	}, stats)
}
