package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateToAndForce(t *testing.T) {
	db, _ := newTestDB(t)

	require.NoError(t, db.MigrateTo(Migrations(), 1))
	version, dirty, err := db.MigrateVersion(Migrations())
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='sessions'`).Scan(&n))
	assert.Zero(t, n)

	require.NoError(t, db.MigrateForce(Migrations(), 2))
	version, _, err = db.MigrateVersion(Migrations())
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)

	require.NoError(t, db.MigrateUp(Migrations()))
	version, _, err = db.MigrateVersion(Migrations())
	require.NoError(t, err)
	assert.Equal(t, uint(3), version)
}

func TestRunMigrateCommand(t *testing.T) {
	db, path := newTestDB(t)
	require.NoError(t, db.Close())

	RunMigrateCommand([]string{"down"}, path)
	RunMigrateCommand([]string{"status"}, path)

	reopened, err := OpenDB(path)
	require.NoError(t, err)
	defer reopened.Close()
	version, _, err := reopened.MigrateVersion(Migrations())
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)

	RunMigrateCommand([]string{"version", "3"}, path)
	version, _, err = reopened.MigrateVersion(Migrations())
	require.NoError(t, err)
	assert.Equal(t, uint(3), version)
}
