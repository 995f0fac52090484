package tracking

import (
	"context"

	"milestonetracker/api/internal/store"
)

type sqlRepository struct {
	store *store.SQLStore
}

// NewSQLRepository runs engine transactions on the SQL store.
func NewSQLRepository(s *store.SQLStore) Repository {
	return &sqlRepository{store: s}
}

func (r *sqlRepository) InTx(ctx context.Context, fn func(Tx) error) error {
	return r.store.WithTx(ctx, func(q *store.Queries) error {
		return fn(q)
	})
}
