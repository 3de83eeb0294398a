package migrations

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "m.db")+"?_pragma=busy_timeout(5000)")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLiteMigratesToLatest(t *testing.T) {
	t.Parallel()

	db := openSQLite(t)
	version, dirty, err := SQLite(db)
	require.NoError(t, err)
	require.False(t, dirty)
	require.Equal(t, uint(2), version)

	version, _, err = SQLite(db)
	require.NoError(t, err)
	require.Equal(t, uint(2), version)

	_, err = db.Exec(`INSERT INTO monitor_feed (platform, content_id) VALUES ('xhs', 'n1')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO monitor_feed (platform, content_id) VALUES ('xhs', 'n1')`)
	require.Error(t, err, "platform/content_id must be unique")
}
