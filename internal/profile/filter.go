package profile

import "github.com/knoguchi/rerankeval/internal/repository"

// Filter returns the ids present in the catalog, in their original order.
// Duplicates are kept. The result is never nil.
func Filter(ids []int64, catalog repository.Catalog) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if catalog.IsValidItem(id) {
			out = append(out, id)
		}
	}
	return out
}
