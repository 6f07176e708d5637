package evaluation

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/knoguchi/rerankeval/internal/repository"
)

// RecommendationMap maps a user to its ordered candidate list.
type RecommendationMap map[int64][]int64

// Users returns the map keys in ascending order.
func (m RecommendationMap) Users() []int64 {
	users := make([]int64, 0, len(m))
	for u := range m {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

var dumpPattern = regexp.MustCompile(`User (\d+): Top 20 recommended items: \[([^\]]+)\]`)

// ParseDump extracts every "User <id>: Top 20 recommended items: [<ids>]"
// block from r. Other text is ignored, as are blocks whose ids are not all
// integers. A user listed twice keeps its last block.
func ParseDump(r io.Reader) (RecommendationMap, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading recommendation dump: %w", err)
	}

	out := make(RecommendationMap)
	for _, m := range dumpPattern.FindAllStringSubmatch(string(content), -1) {
		user, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		items, ok := parseItems(m[2])
		if !ok {
			continue
		}
		out[user] = items
	}
	return out, nil
}

func parseItems(s string) ([]int64, bool) {
	parts := strings.Split(s, ",")
	items := make([]int64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, false
		}
		items = append(items, v)
	}
	return items, true
}

// ParseDumpFile parses the dump at path. A missing file wraps
// repository.ErrNotFound.
func ParseDumpFile(path string) (RecommendationMap, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("recommendation dump %s: %w", path, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("opening recommendation dump: %w", err)
	}
	defer f.Close()
	return ParseDump(f)
}

// FormatDump writes m in the format read by ParseDump, users ascending.
// Users with empty lists are omitted because the format cannot express them.
func FormatDump(w io.Writer, m RecommendationMap) error {
	bw := bufio.NewWriter(w)
	for _, user := range m.Users() {
		items := m[user]
		if len(items) == 0 {
			continue
		}
		parts := make([]string, len(items))
		for i, it := range items {
			parts[i] = strconv.FormatInt(it, 10)
		}
		if _, err := fmt.Fprintf(bw, "User %d: Top 20 recommended items: [%s]\n", user, strings.Join(parts, ", ")); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteDumpFile writes m to path.
func WriteDumpFile(path string, m RecommendationMap) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating dump file: %w", err)
	}
	if err := FormatDump(f, m); err != nil {
		f.Close()
		return fmt.Errorf("writing dump file: %w", err)
	}
	return f.Close()
}
