package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knoguchi/rerankeval/internal/repository"
)

// FilePaths locates the tabular files on disk. CommentsPath is optional.
type FilePaths struct {
	// PairsPath is a CSV with a header row containing user, item, and timestamp columns.
	PairsPath string

	// TitlesPath is a headerless CSV of item,title rows.
	TitlesPath string

	// CommentsPath is a headerless TSV of user_id, item_id, comment rows.
	CommentsPath string
}

// FileLoader implements repository.Loader over local CSV/TSV files.
type FileLoader struct {
	paths FilePaths
}

// NewFileLoader creates a loader for the given paths.
func NewFileLoader(paths FilePaths) *FileLoader {
	return &FileLoader{paths: paths}
}

// Load reads all configured files.
func (l *FileLoader) Load(ctx context.Context) (*repository.Tables, error) {
	if l.paths.PairsPath == "" || l.paths.TitlesPath == "" {
		return nil, fmt.Errorf("pairs and titles paths are required")
	}

	tables := &repository.Tables{}

	interactions, err := readFile(l.paths.PairsPath, ReadInteractions)
	if err != nil {
		return nil, err
	}
	tables.Interactions = interactions

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	items, err := readFile(l.paths.TitlesPath, ReadTitles)
	if err != nil {
		return nil, err
	}
	tables.Items = items

	if l.paths.CommentsPath != "" {
		comments, err := readFile(l.paths.CommentsPath, ReadComments)
		if err != nil {
			return nil, err
		}
		tables.Comments = comments
	}

	return tables, nil
}

func readFile[T any](path string, read func(io.Reader) ([]T, error)) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	rows, err := read(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return rows, nil
}

// ReadInteractions parses the pairs CSV. The header must name user, item, and
// timestamp columns; other columns are ignored.
func ReadInteractions(r io.Reader) ([]repository.Interaction, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	userCol, itemCol, tsCol := -1, -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "user", "user_id":
			userCol = i
		case "item", "item_id":
			itemCol = i
		case "timestamp", "ts":
			tsCol = i
		}
	}
	if userCol < 0 || itemCol < 0 || tsCol < 0 {
		return nil, fmt.Errorf("header %v must contain user, item and timestamp columns", header)
	}

	var out []repository.Interaction
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec) <= max(userCol, itemCol, tsCol) {
			return nil, fmt.Errorf("line %d: expected at least %d fields, got %d", line, max(userCol, itemCol, tsCol)+1, len(rec))
		}

		userID, err := parseID(rec[userCol])
		if err != nil {
			return nil, fmt.Errorf("line %d: user: %w", line, err)
		}
		itemID, err := parseID(rec[itemCol])
		if err != nil {
			return nil, fmt.Errorf("line %d: item: %w", line, err)
		}
		ts, err := parseTimestamp(rec[tsCol])
		if err != nil {
			return nil, fmt.Errorf("line %d: timestamp: %w", line, err)
		}

		out = append(out, repository.Interaction{UserID: userID, ItemID: itemID, Timestamp: ts})
	}

	return out, nil
}

// ReadTitles parses the headerless titles CSV. Unquoted titles containing
// commas are rejoined.
func ReadTitles(r io.Reader) ([]repository.Item, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var out []repository.Item
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec) < 2 {
			return nil, fmt.Errorf("line %d: expected item,title", line)
		}
		id, err := parseID(rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: item: %w", line, err)
		}
		out = append(out, repository.Item{ID: id, Title: strings.Join(rec[1:], ",")})
	}

	return out, nil
}

// ReadComments parses the headerless comments TSV.
func ReadComments(r io.Reader) ([]repository.Comment, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	out := make([]repository.Comment, 0)
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec) < 3 {
			return nil, fmt.Errorf("line %d: expected user_id, item_id and comment", line)
		}
		userID, err := parseID(rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: user_id: %w", line, err)
		}
		itemID, err := parseID(rec[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: item_id: %w", line, err)
		}
		out = append(out, repository.Comment{
			UserID: userID,
			ItemID: itemID,
			Text:   strings.Join(rec[2:], "\t"),
		})
	}

	return out, nil
}

func parseID(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}

// parseTimestamp accepts integer or fractional epochs and RFC 3339 times
// (as fractional Unix seconds). Sub-second order is kept. Only the ordering
// matters, so a file should stick to one format.
func parseTimestamp(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("unsupported timestamp %q", s)
		}
		return v, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return float64(t.Unix()) + float64(t.Nanosecond())/1e9, nil
	}
	return 0, fmt.Errorf("unsupported timestamp %q", s)
}

// Ensure FileLoader implements repository.Loader.
var _ repository.Loader = (*FileLoader)(nil)
