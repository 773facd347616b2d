package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/hlapp/phylosoc2007jestill/api/schemas"
)

// ErrInvariantViolated is returned when a freshly rebuilt index fails a
// structural check. It always indicates a bug or a concurrent writer; the
// optimizer itself never commits a state that trips it.
var ErrInvariantViolated = errors.New("index invariant violated")

// VerifyTree checks the nested-set and closure invariants of one tree
// against the store: both bounds defined with left < right, no bound value
// shared between nodes, strict interval nesting along every edge, exactly
// one reflexive closure entry per node, a distance-1 entry per edge, and no
// duplicate (ancestor, descendant) pair.
func VerifyTree(ctx context.Context, tx schemas.GraphTx, tree schemas.TreeRef) error {
	nodes, err := tx.NodesOf(ctx, tree.ID)
	if err != nil {
		return fmt.Errorf("reading nodes of tree %d: %w", tree.ID, err)
	}
	edges, err := tx.EdgesOf(ctx, tree.ID)
	if err != nil {
		return fmt.Errorf("reading edges of tree %d: %w", tree.ID, err)
	}
	closure, err := tx.ClosureOf(ctx, tree.ID)
	if err != nil {
		return fmt.Errorf("reading closure of tree %d: %w", tree.ID, err)
	}

	byID := make(map[int64]schemas.PhyloNode, len(nodes))
	seenBounds := make(map[int64]int64, 2*len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
		if n.Left == nil || n.Right == nil {
			return fmt.Errorf("node %d has undefined bounds: %w", n.ID, ErrInvariantViolated)
		}
		if *n.Left >= *n.Right {
			return fmt.Errorf("node %d has left %d >= right %d: %w", n.ID, *n.Left, *n.Right, ErrInvariantViolated)
		}
		for _, bound := range []int64{*n.Left, *n.Right} {
			if other, dup := seenBounds[bound]; dup {
				return fmt.Errorf("nodes %d and %d share bound %d: %w", other, n.ID, bound, ErrInvariantViolated)
			}
			seenBounds[bound] = n.ID
		}
	}

	for _, e := range edges {
		parent, ok := byID[e.ParentID]
		if !ok {
			return fmt.Errorf("edge references node %d outside tree %d: %w", e.ParentID, tree.ID, ErrInvariantViolated)
		}
		child, ok := byID[e.ChildID]
		if !ok {
			return fmt.Errorf("edge references node %d outside tree %d: %w", e.ChildID, tree.ID, ErrInvariantViolated)
		}
		if !(*parent.Left < *child.Left && *child.Right < *parent.Right) {
			return fmt.Errorf("edge %d->%d breaks interval nesting: %w", e.ParentID, e.ChildID, ErrInvariantViolated)
		}
	}

	type pair struct{ anc, desc int64 }
	seenPairs := make(map[pair]struct{}, len(closure))
	reflexive := make(map[int64]int, len(nodes))
	direct := make(map[pair]struct{})
	for _, c := range closure {
		p := pair{c.AncestorID, c.DescendantID}
		if _, dup := seenPairs[p]; dup {
			return fmt.Errorf("duplicate closure entry %d->%d: %w", c.AncestorID, c.DescendantID, ErrInvariantViolated)
		}
		seenPairs[p] = struct{}{}
		switch c.Distance {
		case 0:
			if c.AncestorID != c.DescendantID {
				return fmt.Errorf("zero-distance entry %d->%d is not reflexive: %w", c.AncestorID, c.DescendantID, ErrInvariantViolated)
			}
			reflexive[c.DescendantID]++
		case 1:
			direct[p] = struct{}{}
		}
	}
	for _, n := range nodes {
		if reflexive[n.ID] != 1 {
			return fmt.Errorf("node %d has %d reflexive closure entries: %w", n.ID, reflexive[n.ID], ErrInvariantViolated)
		}
	}
	for _, e := range edges {
		if _, ok := direct[pair{e.ParentID, e.ChildID}]; !ok {
			return fmt.Errorf("edge %d->%d has no distance-1 closure entry: %w", e.ParentID, e.ChildID, ErrInvariantViolated)
		}
	}
	return nil
}
