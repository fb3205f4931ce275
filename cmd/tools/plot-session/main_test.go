package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/centerout/internal/db"
	"github.com/banshee-data/centerout/internal/node"
	"github.com/banshee-data/centerout/internal/records"
)

func recordedSession(t *testing.T) (*db.DB, db.Session) {
	t.Helper()
	d, err := db.NewDB(filepath.Join(t.TempDir(), "plot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	codec := records.DefaultCodec

	// a cursor record from before the session
	_, err = d.Append(node.StreamCursor, codec.EncodePosition(records.Position{X: -50}))
	require.NoError(t, err)

	sess, err := d.StartSession(nil)
	require.NoError(t, err)

	appendCursor := func(x, y float32) {
		_, err := d.Append(node.StreamCursor, codec.EncodePosition(records.Position{X: x, Y: y, State: 1}))
		require.NoError(t, err)
	}
	appendCursor(1, 1) // before the first trial
	for _, tgt := range [][2]float32{{300, 0}, {0, 0}} {
		_, err := d.Append(node.StreamTrialInfo, codec.EncodeTrialInfo(records.TrialInfo{
			TargetX: tgt[0], TargetY: tgt[1], TargetRadius: 50, CursorRadius: 25, CondID: "c",
		}))
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			appendCursor(tgt[0]*float32(i)/2, tgt[1])
		}
	}
	require.NoError(t, d.RecordOutcome(sess.ID, true))
	require.NoError(t, d.RecordOutcome(sess.ID, true))
	require.NoError(t, d.EndSession(sess.ID))

	sess, err = d.GetSession(sess.ID)
	require.NoError(t, err)
	return d, sess
}

func TestSplitTrials(t *testing.T) {
	d, sess := recordedSession(t)

	infos, err := d.Range(node.StreamTrialInfo, sess.FirstEntryID, sess.LastEntryID)
	require.NoError(t, err)
	cursor, err := d.Range(node.StreamCursor, sess.FirstEntryID, sess.LastEntryID)
	require.NoError(t, err)
	require.Len(t, cursor, 7)

	trials, err := splitTrials(infos, cursor)
	require.NoError(t, err)
	require.Len(t, trials, 2)
	assert.Equal(t, float32(300), trials[0].target.TargetX)
	assert.Len(t, trials[0].points, 3)
	assert.Equal(t, 300.0, trials[0].points[2].X)
	assert.Len(t, trials[1].points, 3)
}

func TestRenderSession(t *testing.T) {
	d, sess := recordedSession(t)
	out := filepath.Join(t.TempDir(), "session.png")

	n, err := renderSession(d, sess, out)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestPickSession(t *testing.T) {
	d, sess := recordedSession(t)

	got, err := pickSession(d, "")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	_, err = pickSession(d, "missing")
	assert.Error(t, err)
}

func TestPalette(t *testing.T) {
	assert.Empty(t, palette(0))
	cs := palette(6)
	require.Len(t, cs, 6)
	assert.NotEqual(t, cs[0], cs[3])
}

func TestOutputPath(t *testing.T) {
	got, err := outputPath("", "3f2a/../b c")
	require.NoError(t, err)
	assert.Equal(t, "session-3f2a_.._b_c.png", got)

	tmp := filepath.Join(os.TempDir(), "plot.png")
	got, err = outputPath(tmp, "x")
	require.NoError(t, err)
	assert.Equal(t, tmp, got)

	_, err = outputPath("/proc/self/plot.png", "x")
	assert.Error(t, err)
}
