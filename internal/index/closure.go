package index

import (
	"context"
	"fmt"

	"github.com/hlapp/phylosoc2007jestill/api/schemas"
	"go.uber.org/zap"
)

// TransitiveClosureBuilder rebuilds the ancestor-path table for one tree by
// semi-naive fixpoint iteration: after seeding the reflexive and distance-1
// entries, each step extends only the previous distance layer through the
// static edge set, so the store does the set-at-a-time work and the loop
// runs at most tree-depth times. The table is always rebuilt from a clean
// slate; no partial-closure state is ever considered valid.
type TransitiveClosureBuilder struct {
	log *zap.Logger
}

// NewTransitiveClosureBuilder creates a builder. A nil logger is replaced
// with a no-op.
func NewTransitiveClosureBuilder(logger *zap.Logger) *TransitiveClosureBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransitiveClosureBuilder{log: logger.Named("closure")}
}

// Rebuild recomputes the full closure table for one tree. The tree's
// nested-set intervals must already be labeled and committed, because the
// path signatures are built from left bounds. maxDepth caps the fixpoint as
// a backstop against edges mutated into a cycle between the two phases; the
// node count of the tree is always a safe value.
func (b *TransitiveClosureBuilder) Rebuild(ctx context.Context, tx schemas.GraphTx, treeID int64, maxDepth int64, prog *Progress) error {
	if err := tx.DeleteClosure(ctx, treeID); err != nil {
		return fmt.Errorf("deleting stale closure for tree %d: %w", treeID, err)
	}
	if err := tx.InsertReflexiveClosure(ctx, treeID); err != nil {
		return fmt.Errorf("inserting reflexive closure for tree %d: %w", treeID, err)
	}
	if err := tx.InsertDirectClosure(ctx, treeID); err != nil {
		return fmt.Errorf("inserting direct closure for tree %d: %w", treeID, err)
	}

	for distance := 1; ; distance++ {
		if int64(distance) > maxDepth {
			return fmt.Errorf("closure for tree %d still growing at distance %d: %w", treeID, distance, ErrMalformedTree)
		}
		inserted, err := tx.ExtendClosure(ctx, treeID, distance)
		if err != nil {
			return fmt.Errorf("extending closure for tree %d at distance %d: %w", treeID, distance, err)
		}
		b.log.Debug("Closure layer materialized",
			zap.Int64("tree_id", treeID),
			zap.Int("distance", distance+1),
			zap.Int64("rows", inserted))
		if prog != nil {
			prog.AddClosureLayer(distance+1, inserted)
		}
		if inserted == 0 {
			return nil
		}
	}
}
