package index

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hlapp/phylosoc2007jestill/api/schemas"
	"go.uber.org/zap"
)

// startLeft is the left bound handed to the root of every tree.
const startLeft = 1

// TreeIndexMaintainer orchestrates one full index rebuild per tree: clear
// intervals, label, commit, rebuild the closure table, commit. The two
// commits are separate recovery points: a failure between them leaves the
// tree with valid intervals and a stale closure, which a rerun repairs
// because closure rebuilding always starts from an unconditional delete.
type TreeIndexMaintainer struct {
	store    schemas.GraphStore
	labeler  *NestedSetLabeler
	closure  *TransitiveClosureBuilder
	progress *Progress
	log      *zap.Logger
	verify   bool
}

// Option configures a TreeIndexMaintainer.
type Option func(*TreeIndexMaintainer)

// WithVerification makes every tree's rebuild end with an invariant check
// over the freshly written indexes; a violation fails the run.
func WithVerification() Option {
	return func(m *TreeIndexMaintainer) { m.verify = true }
}

// NewTreeIndexMaintainer wires a maintainer over the given store. Each run
// gets a fresh id so log lines from concurrent tooling stay attributable.
func NewTreeIndexMaintainer(store schemas.GraphStore, logger *zap.Logger, opts ...Option) *TreeIndexMaintainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("maintainer").With(zap.String("run_id", uuid.NewString()))
	m := &TreeIndexMaintainer{
		store:    store,
		labeler:  NewNestedSetLabeler(log),
		closure:  NewTransitiveClosureBuilder(log),
		progress: NewProgress(),
		log:      log,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run processes every tree matching nameFilter, in the order the store
// lists them. Processing stops at the first failing tree; trees committed
// before the failure keep their fresh indexes.
func (m *TreeIndexMaintainer) Run(ctx context.Context, nameFilter string) error {
	trees, err := m.store.ListTrees(ctx, nameFilter)
	if err != nil {
		return fmt.Errorf("listing trees: %w", err)
	}
	if len(trees) == 0 {
		if nameFilter != "" {
			return fmt.Errorf("no tree named %q: %w", nameFilter, schemas.ErrTreeNotFound)
		}
		m.log.Info("No trees to process")
		return nil
	}

	for _, tree := range trees {
		if err := m.MaintainTree(ctx, tree); err != nil {
			return fmt.Errorf("optimizing tree %q: %w", tree.Name, err)
		}
	}
	return nil
}

// MaintainTree rebuilds both indexes for a single tree.
func (m *TreeIndexMaintainer) MaintainTree(ctx context.Context, tree schemas.TreeRef) error {
	m.progress.Reset(tree.Name)
	m.log.Info("Optimizing tree", zap.String("tree", tree.Name), zap.Int64("tree_id", tree.ID))

	nodes, err := m.relabel(ctx, tree)
	if err != nil {
		return err
	}
	m.progress.SetNodesLabeled(nodes)
	// Seed the closure counters with the rows the two bulk inserts will
	// produce: one reflexive entry per node, one direct entry per edge,
	// and a labeled tree has exactly nodes-1 edges.
	m.progress.AddClosureLayer(0, nodes)
	if nodes > 1 {
		m.progress.AddClosureLayer(1, nodes-1)
	}

	if err := m.rebuildClosure(ctx, tree, nodes); err != nil {
		return err
	}

	if m.verify {
		if err := m.verifyTree(ctx, tree); err != nil {
			return err
		}
	}

	m.progress.Report(m.log)
	return nil
}

// relabel clears and recomputes the tree's nested-set intervals inside one
// transaction and returns the number of nodes labeled.
func (m *TreeIndexMaintainer) relabel(ctx context.Context, tree schemas.TreeRef) (int64, error) {
	tx, err := m.store.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning labeling transaction: %w", err)
	}
	defer m.rollback(ctx, tx)

	// Existing bounds go first: relabeling in a different order than the
	// prior run must not trip uniqueness or ordering constraints mid-write.
	if err := tx.ClearIntervals(ctx, tree.ID); err != nil {
		return 0, fmt.Errorf("clearing intervals: %w", err)
	}
	right, err := m.labeler.Label(ctx, tx, tree.RootID, startLeft)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing labeling transaction: %w", err)
	}

	// Every node consumes exactly two counter slots, so the root's right
	// bound fixes the node count.
	return (right - startLeft + 1) / 2, nil
}

// rebuildClosure recomputes the tree's closure table inside a second
// transaction, capping the fixpoint at the tree's node count.
func (m *TreeIndexMaintainer) rebuildClosure(ctx context.Context, tree schemas.TreeRef, nodes int64) error {
	tx, err := m.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning closure transaction: %w", err)
	}
	defer m.rollback(ctx, tx)

	if err := m.closure.Rebuild(ctx, tx, tree.ID, nodes, m.progress); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing closure transaction: %w", err)
	}
	return nil
}

// verifyTree re-reads the freshly committed indexes and checks the
// structural invariants in a read-only transaction.
func (m *TreeIndexMaintainer) verifyTree(ctx context.Context, tree schemas.TreeRef) error {
	tx, err := m.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning verification transaction: %w", err)
	}
	defer m.rollback(ctx, tx)

	if err := VerifyTree(ctx, tx, tree); err != nil {
		return err
	}
	m.log.Debug("Invariants verified", zap.String("tree", tree.Name))
	// Read-only: the deferred rollback releases the transaction.
	return nil
}

func (m *TreeIndexMaintainer) rollback(ctx context.Context, tx schemas.GraphTx) {
	if err := tx.Rollback(ctx); err != nil {
		m.log.Error("Failed to rollback transaction", zap.Error(err))
	}
}
