// Package repository defines domain models and data access interfaces for interactions, items, and comments.
package repository

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrUnknownItem is returned when an item id is not part of the catalog
var ErrUnknownItem = errors.New("unknown item")

// ErrUnknownUser is returned when a user id has never interacted with any item
var ErrUnknownUser = errors.New("unknown user")

// ErrNoInteractions is returned when a user has no interaction records
var ErrNoInteractions = errors.New("no interactions")

// Interaction is a single user-item event from the interaction log.
type Interaction struct {
	UserID    int64
	ItemID    int64
	// Timestamp orders interactions; only comparisons between values matter.
	Timestamp float64
}

// Item is a catalog entry
type Item struct {
	ID    int64
	Title string
}

// Comment is a free-text comment a user left on an item
type Comment struct {
	UserID int64
	ItemID int64
	Text   string
}

// Tables holds the raw rows of the tabular store.
// Comments is nil when the comments table was not provided.
type Tables struct {
	Interactions []Interaction
	Items        []Item
	Comments     []Comment
}

// Catalog answers item membership questions
type Catalog interface {
	IsValidItem(itemID int64) bool
}

// Dataset defines read-only queries over the interaction log and item metadata.
type Dataset interface {
	Catalog

	// Users returns every user that appears in the interaction log, ascending.
	Users() []int64

	// IsValidUser reports whether the user appears in the interaction log.
	IsValidUser(userID int64) bool

	// TrueItem returns the user's most recent item, the held-out prediction target.
	TrueItem(userID int64) (int64, error)

	// RecentItems returns up to n history items, most recent first, skipping the
	// two most recent interactions which are reserved for evaluation.
	RecentItems(userID int64, n int) ([]int64, error)

	// Title returns the title of an item.
	Title(itemID int64) (string, error)

	// HasComments reports whether the comments table was loaded.
	HasComments() bool

	// Comments returns the comments a user left on an item, in load order.
	Comments(userID, itemID int64) []string
}

// Loader loads the raw tables from a backing store
type Loader interface {
	Load(ctx context.Context) (*Tables, error)
}
