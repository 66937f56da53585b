package database

import (
	"testing"

	"github.com/klokku/icalmanager/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialect_Rebind(t *testing.T) {
	query := "SELECT uid FROM events WHERE summary = ? AND description LIKE ? ESCAPE '\\' AND location = '?' LIMIT ?"

	assert.Equal(t, query, SQLite.Rebind(query))
	assert.Equal(t,
		"SELECT uid FROM events WHERE summary = $1 AND description LIKE $2 ESCAPE '\\' AND location = '?' LIMIT $3",
		Postgres.Rebind(query))
}

func TestDialectFor(t *testing.T) {
	assert.Equal(t, Postgres, DialectFor("postgres"))
	assert.Equal(t, Postgres, DialectFor("Postgres"))
	assert.Equal(t, SQLite, DialectFor("sqlite"))
	assert.Equal(t, SQLite, DialectFor(""))
}

func TestOpenAndMigrate_SQLite(t *testing.T) {
	// given
	db, dialect, err := Open(config.Database{Driver: config.DriverSQLite, Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// when
	err = Migrate(db, dialect)

	// then
	require.NoError(t, err)
	var columns int
	err = db.QueryRow("SELECT COUNT(*) FROM pragma_table_info('events') WHERE name IN ('uid', 'all_day', 'raw_snapshot')").Scan(&columns)
	require.NoError(t, err)
	assert.Equal(t, 3, columns)

	// migrating twice is a no-op
	require.NoError(t, Migrate(db, dialect))
}
