package dataset

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/knoguchi/rerankeval/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTables() *repository.Tables {
	return &repository.Tables{
		Interactions: []repository.Interaction{
			{UserID: 1, ItemID: 10, Timestamp: 1},
			{UserID: 1, ItemID: 11, Timestamp: 2},
			{UserID: 1, ItemID: 12, Timestamp: 3},
			{UserID: 1, ItemID: 13, Timestamp: 4},
			{UserID: 1, ItemID: 14, Timestamp: 5},
			{UserID: 2, ItemID: 20, Timestamp: 7},
		},
		Items: []repository.Item{
			{ID: 10, Title: "Ten"},
			{ID: 11, Title: "Eleven"},
			{ID: 11, Title: "Duplicate"},
			{ID: 20, Title: "Twenty"},
		},
		Comments: []repository.Comment{
			{UserID: 1, ItemID: 10, Text: "first"},
			{UserID: 1, ItemID: 10, Text: "second"},
		},
	}
}

func TestDataset_TrueItem(t *testing.T) {
	d := New(sampleTables())

	item, err := d.TrueItem(1)
	require.NoError(t, err)
	assert.Equal(t, int64(14), item)

	_, err = d.TrueItem(99)
	assert.ErrorIs(t, err, repository.ErrNoInteractions)
}

func TestDataset_RecentItemsSkipsTwoMostRecent(t *testing.T) {
	d := New(sampleTables())

	items, err := d.RecentItems(1, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{12, 11, 10}, items)

	items, err = d.RecentItems(1, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{12, 11}, items)

	items, err = d.RecentItems(2, 10)
	require.NoError(t, err)
	assert.Empty(t, items, "single interaction leaves no history")

	_, err = d.RecentItems(42, 10)
	assert.ErrorIs(t, err, repository.ErrNoInteractions)
}

func TestDataset_EqualTimestampsKeepLoadOrder(t *testing.T) {
	d := New(&repository.Tables{
		Interactions: []repository.Interaction{
			{UserID: 1, ItemID: 1, Timestamp: 5},
			{UserID: 1, ItemID: 2, Timestamp: 5},
			{UserID: 1, ItemID: 3, Timestamp: 5},
		},
	})
	item, err := d.TrueItem(1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), item)
}

func TestDataset_SubSecondTimestampsOrder(t *testing.T) {
	interactions, err := ReadInteractions(strings.NewReader(
		"user,item,timestamp\n" +
			"1,3,1699999990\n" +
			"1,4,1699999995.5\n" +
			"1,6,1700000000.2\n" +
			"1,5,1700000000.7\n",
	))
	require.NoError(t, err)

	d := New(&repository.Tables{Interactions: interactions})
	item, err := d.TrueItem(1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), item)

	history, err := d.RecentItems(1, 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 3}, history)
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"100", 100},
		{"1700000000.25", 1700000000.25},
		{"2023-11-14T22:13:20Z", 1700000000},
		{"2023-11-14T22:13:20.5Z", 1700000000.5},
	}
	for _, tt := range tests {
		got, err := parseTimestamp(tt.in)
		require.NoError(t, err, tt.in)
		assert.InDelta(t, tt.want, got, 1e-6, tt.in)
	}

	a, err := parseTimestamp("2023-11-14T22:13:20.100Z")
	require.NoError(t, err)
	b, err := parseTimestamp("2023-11-14T22:13:20.900Z")
	require.NoError(t, err)
	assert.Less(t, a, b, "same second keeps sub-second order")

	for _, bad := range []string{"NaN", "Inf", "yesterday"} {
		_, err := parseTimestamp(bad)
		assert.Error(t, err, bad)
	}
}

func TestDataset_TitleAndCatalog(t *testing.T) {
	d := New(sampleTables())

	title, err := d.Title(11)
	require.NoError(t, err)
	assert.Equal(t, "Eleven", title, "first title row wins")

	_, err = d.Title(12)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = d.Title(0)
	assert.ErrorIs(t, err, repository.ErrUnknownItem)

	assert.True(t, d.IsValidItem(12), "catalog is built from the interaction log")
	assert.False(t, d.IsValidItem(99))
	assert.True(t, d.IsValidUser(2))
	assert.Equal(t, []int64{1, 2}, d.Users())
}

func TestDataset_Comments(t *testing.T) {
	d := New(sampleTables())
	assert.True(t, d.HasComments())
	assert.Equal(t, []string{"first", "second"}, d.Comments(1, 10))
	assert.Nil(t, d.Comments(1, 11))

	noComments := New(&repository.Tables{})
	assert.False(t, noComments.HasComments())
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFileLoader_Load(t *testing.T) {
	dir := t.TempDir()
	paths := FilePaths{
		PairsPath:    writeFile(t, dir, "pairs.csv", "user,item,timestamp\n1,10,100\n1,20,200\n2,10,50\n"),
		TitlesPath:   writeFile(t, dir, "titles.csv", "10,Hello, world\n20,\"Quoted, title\"\n"),
		CommentsPath: writeFile(t, dir, "comments.txt", "1\t10\tnice\tvideo\n"),
	}

	tables, err := NewFileLoader(paths).Load(context.Background())
	require.NoError(t, err)

	require.Len(t, tables.Interactions, 3)
	assert.Equal(t, repository.Interaction{UserID: 1, ItemID: 20, Timestamp: 200}, tables.Interactions[1])

	require.Len(t, tables.Items, 2)
	assert.Equal(t, "Hello, world", tables.Items[0].Title)
	assert.Equal(t, "Quoted, title", tables.Items[1].Title)

	require.Len(t, tables.Comments, 1)
	assert.Equal(t, "nice\tvideo", tables.Comments[0].Text)
}

func TestFileLoader_MissingFile(t *testing.T) {
	_, err := NewFileLoader(FilePaths{
		PairsPath:  filepath.Join(t.TempDir(), "missing.csv"),
		TitlesPath: "x",
	}).Load(context.Background())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestReadInteractions_BadHeader(t *testing.T) {
	_, err := ReadInteractions(strings.NewReader("a,b,c\n1,2,3\n"))
	assert.Error(t, err)
}

func TestMedia_Paths(t *testing.T) {
	covers := t.TempDir()
	frames := t.TempDir()
	writeFile(t, covers, "10.jpg", "img")
	writeFile(t, frames, "10-2.jpg", "img")

	m := Media{CoversDir: covers, FramesDir: frames}

	_, ok := m.CoverPath(10)
	assert.True(t, ok)
	_, ok = m.CoverPath(11)
	assert.False(t, ok)

	_, ok = m.FramePath(10, 1)
	assert.False(t, ok)
	path, ok := m.FramePath(10, 2)
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(frames, "10-2.jpg"), path)
	_, ok = m.FramePath(10, 6)
	assert.False(t, ok)

	_, ok = Media{}.CoverPath(10)
	assert.False(t, ok)
}
