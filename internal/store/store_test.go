package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claims.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")

	records, err := MigrationStatus(s.DB())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "0001_core.sql", records[0].Id)
	assert.Equal(t, "0002_domain_mappings.sql", records[1].Id)
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claims.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)

		n, err := Migrate(s.DB())
		require.NoError(t, err)
		assert.Zero(t, n, "migrations should already be applied")
		s.Close()
	}
}

func TestOpenDB_PendingMigrations(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "claims.db"))
	require.NoError(t, err)
	defer db.Close()

	pending, err := PendingMigrations(db)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_core.sql", "0002_domain_mappings.sql"}, pending)

	n, err := Migrate(db)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending, err = PendingMigrations(db)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestOpen_ConfiguresSQLite(t *testing.T) {
	s := createTestStore(t)

	var mode string
	require.NoError(t, s.DB().QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, s.DB().QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestTimeFormat_SortsLexically(t *testing.T) {
	a := formatTime(t0)
	b := formatTime(t0.Add(1500 * 1000))
	c := formatTime(t0.AddDate(1, 0, 0))
	assert.Less(t, a, b)
	assert.Less(t, b, c)
	assert.Len(t, a, len(c))

	back, err := parseTime(b)
	require.NoError(t, err)
	assert.True(t, back.Equal(t0.Add(1500*1000)))
}
