package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/hlapp/phylosoc2007jestill/api/schemas"
	"go.uber.org/zap"
)

// ErrMalformedTree is returned when the edge set reachable from a root is
// not a tree: a node was reached twice, i.e. a cycle or a shared child.
// The reference behavior here would be unbounded recursion; we detect it
// and abort before writing a corrupt labeling.
var ErrMalformedTree = errors.New("malformed tree: edge set contains a cycle or shared child")

// NestedSetLabeler assigns nested-set interval bounds to every node of one
// tree in a single depth-first pass. A single forward counter is threaded
// through the recursion, so every node receives a unique, strictly
// increasing (left, right) pair and each child's interval closes entirely
// inside its parent's open interval.
type NestedSetLabeler struct {
	log *zap.Logger
}

// NewNestedSetLabeler creates a labeler. A nil logger is replaced with a no-op.
func NewNestedSetLabeler(logger *zap.Logger) *NestedSetLabeler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NestedSetLabeler{log: logger.Named("labeler")}
}

// Label walks the tree rooted at rootID and writes (left, right) bounds for
// every reachable node, starting the root's left bound at startLeft
// (conventionally 1). It returns the root's right bound, which is also the
// largest bound assigned anywhere in the tree. The tree's intervals must
// have been cleared beforehand; the labeler only writes, never reads them.
func (l *NestedSetLabeler) Label(ctx context.Context, tx schemas.GraphTx, rootID, startLeft int64) (int64, error) {
	visited := make(map[int64]struct{})
	right, err := l.label(ctx, tx, visited, rootID, startLeft)
	if err != nil {
		return 0, err
	}
	l.log.Debug("Tree labeled",
		zap.Int64("root_id", rootID),
		zap.Int64("right_bound", right),
		zap.Int("nodes", len(visited)))
	return right, nil
}

func (l *NestedSetLabeler) label(ctx context.Context, tx schemas.GraphTx, visited map[int64]struct{}, nodeID, left int64) (int64, error) {
	if _, seen := visited[nodeID]; seen {
		return 0, fmt.Errorf("node %d reached twice from root: %w", nodeID, ErrMalformedTree)
	}
	visited[nodeID] = struct{}{}

	// Tentative right bound for a leaf; every processed child pushes it up.
	right := left + 1

	children, err := tx.ChildrenOf(ctx, nodeID)
	if err != nil {
		return 0, fmt.Errorf("fetching children of node %d: %w", nodeID, err)
	}
	for _, child := range children {
		childRight, err := l.label(ctx, tx, visited, child, right)
		if err != nil {
			return 0, err
		}
		// The slot after the child's right bound is either the next
		// sibling's left bound or this node's own right bound.
		right = childRight + 1
	}

	if err := tx.SetInterval(ctx, nodeID, left, right); err != nil {
		return 0, fmt.Errorf("writing interval for node %d: %w", nodeID, err)
	}
	return right, nil
}
