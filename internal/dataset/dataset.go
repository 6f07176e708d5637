// Package dataset provides an in-memory, read-only view of the interaction log,
// item titles, comments, and item image resources.
package dataset

import (
	"fmt"
	"sort"

	"github.com/knoguchi/rerankeval/internal/repository"
)

// heldOutOffset is the number of most recent interactions excluded from
// history windows. The most recent one is the ground truth; the next one is
// reserved by the evaluation split.
const heldOutOffset = 2

type pairKey struct {
	userID int64
	itemID int64
}

// Dataset implements repository.Dataset over tables loaded once at startup.
// All methods are safe for concurrent use because nothing mutates after New.
type Dataset struct {
	users       []int64
	history     map[int64][]int64 // item ids per user, most recent first
	catalog     map[int64]struct{}
	titles      map[int64]string
	comments    map[pairKey][]string
	hasComments bool
}

// New indexes the given tables. Interactions with equal timestamps keep their
// load order. Duplicate title rows keep the first title.
func New(tables *repository.Tables) *Dataset {
	d := &Dataset{
		history:     make(map[int64][]int64),
		catalog:     make(map[int64]struct{}),
		titles:      make(map[int64]string),
		comments:    make(map[pairKey][]string),
		hasComments: tables.Comments != nil,
	}

	byUser := make(map[int64][]repository.Interaction)
	for _, in := range tables.Interactions {
		if _, ok := byUser[in.UserID]; !ok {
			d.users = append(d.users, in.UserID)
		}
		byUser[in.UserID] = append(byUser[in.UserID], in)
		d.catalog[in.ItemID] = struct{}{}
	}
	sort.Slice(d.users, func(i, j int) bool { return d.users[i] < d.users[j] })

	for userID, records := range byUser {
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].Timestamp > records[j].Timestamp
		})
		items := make([]int64, len(records))
		for i, r := range records {
			items[i] = r.ItemID
		}
		d.history[userID] = items
	}

	for _, item := range tables.Items {
		if _, ok := d.titles[item.ID]; !ok {
			d.titles[item.ID] = item.Title
		}
	}

	for _, c := range tables.Comments {
		key := pairKey{userID: c.UserID, itemID: c.ItemID}
		d.comments[key] = append(d.comments[key], c.Text)
	}

	return d
}

// Users returns all users in the interaction log, ascending.
func (d *Dataset) Users() []int64 {
	out := make([]int64, len(d.users))
	copy(out, d.users)
	return out
}

// IsValidUser reports whether the user has at least one interaction.
func (d *Dataset) IsValidUser(userID int64) bool {
	_, ok := d.history[userID]
	return ok
}

// IsValidItem reports whether the item appears in the interaction log.
func (d *Dataset) IsValidItem(itemID int64) bool {
	_, ok := d.catalog[itemID]
	return ok
}

// TrueItem returns the item with the latest timestamp for the user.
func (d *Dataset) TrueItem(userID int64) (int64, error) {
	items := d.history[userID]
	if len(items) == 0 {
		return 0, fmt.Errorf("user %d: %w", userID, repository.ErrNoInteractions)
	}
	return items[0], nil
}

// RecentItems returns up to n items after skipping the two most recent interactions.
func (d *Dataset) RecentItems(userID int64, n int) ([]int64, error) {
	items := d.history[userID]
	if len(items) == 0 {
		return nil, fmt.Errorf("user %d: %w", userID, repository.ErrNoInteractions)
	}
	if n <= 0 || len(items) <= heldOutOffset {
		return []int64{}, nil
	}

	end := heldOutOffset + n
	if end > len(items) {
		end = len(items)
	}
	out := make([]int64, end-heldOutOffset)
	copy(out, items[heldOutOffset:end])
	return out, nil
}

// Title returns the item title.
func (d *Dataset) Title(itemID int64) (string, error) {
	if itemID <= 0 {
		return "", fmt.Errorf("item %d: %w", itemID, repository.ErrUnknownItem)
	}
	title, ok := d.titles[itemID]
	if !ok {
		return "", fmt.Errorf("title for item %d: %w", itemID, repository.ErrNotFound)
	}
	return title, nil
}

// HasComments reports whether a comments table was provided.
func (d *Dataset) HasComments() bool {
	return d.hasComments
}

// Comments returns the comments for a (user, item) pair.
func (d *Dataset) Comments(userID, itemID int64) []string {
	comments := d.comments[pairKey{userID: userID, itemID: itemID}]
	if len(comments) == 0 {
		return nil
	}
	out := make([]string, len(comments))
	copy(out, comments)
	return out
}

// Ensure Dataset implements repository.Dataset.
var _ repository.Dataset = (*Dataset)(nil)
