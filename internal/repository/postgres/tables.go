package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/knoguchi/rerankeval/internal/repository"
)

const (
	// ctid breaks ties so duplicate rows keep a stable, storage order.
	interactionsQuery = `
		SELECT user_id, item_id, ts::double precision
		FROM interactions
		ORDER BY user_id, ts DESC, ctid
	`
	itemsQuery = `
		SELECT item_id, title
		FROM items
		ORDER BY item_id, ctid
	`
	commentsQuery = `
		SELECT user_id, item_id, comment
		FROM comments
		ORDER BY user_id, item_id, ctid
	`
	commentsExistQuery = `SELECT to_regclass('comments') IS NOT NULL`
)

// querier is the subset of pgxpool.Pool used by TableRepo
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TableRepo implements repository.Loader over the interactions, items, and comments tables
type TableRepo struct {
	q querier
}

// NewTableRepo creates a new table repository
func NewTableRepo(db *DB) *TableRepo {
	return &TableRepo{q: db.Pool}
}

// Load reads all three tables. The comments table is optional; when it does
// not exist Tables.Comments is left nil.
func (r *TableRepo) Load(ctx context.Context) (*repository.Tables, error) {
	interactions, err := r.loadInteractions(ctx)
	if err != nil {
		return nil, err
	}

	items, err := r.loadItems(ctx)
	if err != nil {
		return nil, err
	}

	var hasComments bool
	if err := r.q.QueryRow(ctx, commentsExistQuery).Scan(&hasComments); err != nil {
		return nil, fmt.Errorf("failed to check comments table: %w", err)
	}

	tables := &repository.Tables{
		Interactions: interactions,
		Items:        items,
	}
	if hasComments {
		comments, err := r.loadComments(ctx)
		if err != nil {
			return nil, err
		}
		tables.Comments = comments
	}

	return tables, nil
}

func (r *TableRepo) loadInteractions(ctx context.Context) ([]repository.Interaction, error) {
	rows, err := r.q.Query(ctx, interactionsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer rows.Close()

	var out []repository.Interaction
	for rows.Next() {
		var it repository.Interaction
		if err := rows.Scan(&it.UserID, &it.ItemID, &it.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read interactions: %w", err)
	}

	return out, nil
}

func (r *TableRepo) loadItems(ctx context.Context) ([]repository.Item, error) {
	rows, err := r.q.Query(ctx, itemsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var out []repository.Item
	for rows.Next() {
		var item repository.Item
		if err := rows.Scan(&item.ID, &item.Title); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read items: %w", err)
	}

	return out, nil
}

func (r *TableRepo) loadComments(ctx context.Context) ([]repository.Comment, error) {
	rows, err := r.q.Query(ctx, commentsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query comments: %w", err)
	}
	defer rows.Close()

	out := make([]repository.Comment, 0)
	for rows.Next() {
		var c repository.Comment
		if err := rows.Scan(&c.UserID, &c.ItemID, &c.Text); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read comments: %w", err)
	}

	return out, nil
}

// Ensure TableRepo implements the interface
var _ repository.Loader = (*TableRepo)(nil)
