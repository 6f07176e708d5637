package postgres

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDB connects to RERANKEVAL_TEST_DATABASE_URL with a single connection so
// temporary tables stay visible for the whole test.
func testDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("RERANKEVAL_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("RERANKEVAL_TEST_DATABASE_URL not set")
	}
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	db, err := New(context.Background(), url+sep+"pool_max_conns=1")
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func TestTableRepo_Load(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	stmts := []string{
		`CREATE TEMP TABLE interactions (user_id BIGINT, item_id BIGINT, ts DOUBLE PRECISION)`,
		`CREATE TEMP TABLE items (item_id BIGINT, title TEXT)`,
		`INSERT INTO interactions VALUES (1, 10, 100.25), (1, 20, 100.75), (2, 30, 50)`,
		`INSERT INTO items VALUES (20, 'Twenty'), (10, 'Ten'), (30, 'Thirty'), (10, 'Ten again')`,
	}
	for _, s := range stmts {
		_, err := db.Pool.Exec(ctx, s)
		require.NoError(t, err)
	}

	tables, err := NewTableRepo(db).Load(ctx)
	require.NoError(t, err)
	require.Len(t, tables.Interactions, 3)
	assert.Equal(t, int64(20), tables.Interactions[0].ItemID, "most recent first within a user")
	assert.InDelta(t, 100.75, tables.Interactions[0].Timestamp, 1e-9)

	require.Len(t, tables.Items, 4)
	assert.Equal(t, "Ten", tables.Items[0].Title)
	assert.Equal(t, "Ten again", tables.Items[1].Title, "duplicate ids keep insertion order")
	assert.Nil(t, tables.Comments, "comments table does not exist")

	_, err = db.Pool.Exec(ctx, `CREATE TEMP TABLE comments (user_id BIGINT, item_id BIGINT, comment TEXT)`)
	require.NoError(t, err)
	_, err = db.Pool.Exec(ctx, `INSERT INTO comments VALUES (2, 30, 'later user'), (1, 10, 'great'), (1, 10, 'second look')`)
	require.NoError(t, err)

	tables, err = NewTableRepo(db).Load(ctx)
	require.NoError(t, err)
	require.Len(t, tables.Comments, 3)
	assert.Equal(t, "great", tables.Comments[0].Text)
	assert.Equal(t, "second look", tables.Comments[1].Text)
	assert.Equal(t, "later user", tables.Comments[2].Text)
}
