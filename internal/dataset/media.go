package dataset

import (
	"fmt"
	"os"
	"path/filepath"
)

// MaxFrames is the number of frame images looked up per item.
const MaxFrames = 5

// Media locates cover and frame images by filename convention:
// {item}.jpg in CoversDir and {item}-{1..5}.jpg in FramesDir.
// An empty directory disables that source.
type Media struct {
	CoversDir string
	FramesDir string
}

// HasCovers reports whether a covers directory was configured.
func (m Media) HasCovers() bool { return m.CoversDir != "" }

// HasFrames reports whether a frames directory was configured.
func (m Media) HasFrames() bool { return m.FramesDir != "" }

// CoverPath returns the cover image path for an item and whether it exists.
func (m Media) CoverPath(itemID int64) (string, bool) {
	if m.CoversDir == "" {
		return "", false
	}
	return existing(filepath.Join(m.CoversDir, fmt.Sprintf("%d.jpg", itemID)))
}

// FramePath returns the path of frame i (1-based) for an item and whether it exists.
func (m Media) FramePath(itemID int64, i int) (string, bool) {
	if m.FramesDir == "" || i < 1 || i > MaxFrames {
		return "", false
	}
	return existing(filepath.Join(m.FramesDir, fmt.Sprintf("%d-%d.jpg", itemID, i)))
}

func existing(path string) (string, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return path, false
	}
	return path, true
}
