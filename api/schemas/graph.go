package schemas

import "context"

// -- Core Graph Models --
// These types represent tree entities as they exist in the graph database.

// TreeRef identifies one tree the optimizer will visit.
type TreeRef struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	RootID int64  `json:"root_id"`
}

// PhyloNode is a vertex belonging to exactly one tree. Left and Right are
// the nested-set interval bounds; both are nil until the labeler has run
// (and again transiently after a reset). When both are set, Left < Right.
type PhyloNode struct {
	ID     int64  `json:"id"`
	TreeID int64  `json:"tree_id"`
	Label  string `json:"label"`
	Left   *int64 `json:"left"`
	Right  *int64 `json:"right"`
}

// PhyloEdge is a directed parent->child relationship. Edges are read-only
// input to the optimizer; it never creates or destroys them during a run.
type PhyloEdge struct {
	ParentID int64 `json:"parent_id"`
	ChildID  int64 `json:"child_id"`
}

// ClosurePath is one materialized ancestor->descendant reachability fact.
// Path is the dot-joined sequence of left bounds on the walk down to the
// descendant; Distance is the number of edges on that walk. Every node has
// exactly one zero-distance entry to itself with an empty path.
type ClosurePath struct {
	DescendantID int64  `json:"descendant_id"`
	AncestorID   int64  `json:"ancestor_id"`
	Path         string `json:"path"`
	Distance     int    `json:"distance"`
}

// -- Store Contracts --

// GraphStore is the persistence boundary the optimizer consumes. All index
// mutation happens inside a GraphTx obtained from Begin; the store itself
// only answers which trees exist and hands out transactions.
type GraphStore interface {
	// ListTrees enumerates the trees to process. An empty nameFilter
	// matches every tree; otherwise only trees with that exact name.
	ListTrees(ctx context.Context, nameFilter string) ([]TreeRef, error)

	// Begin opens a new transaction. The optimizer holds at most one open
	// transaction at a time.
	Begin(ctx context.Context) (GraphTx, error)

	// Close releases the underlying resources (connection pool, memory).
	Close()
}

// GraphTx is the operation set available inside one transaction. Rollback
// after a successful Commit is a no-op and returns nil, so callers can
// defer it unconditionally.
type GraphTx interface {
	// ChildrenOf returns the direct children of a node, in the store's
	// enumeration order. Empty for leaves. The optimizer assigns sibling
	// intervals in exactly this order.
	ChildrenOf(ctx context.Context, nodeID int64) ([]int64, error)

	// SetInterval persists one node's nested-set bounds. Fails with
	// ErrUnknownNode if no such node exists.
	SetInterval(ctx context.Context, nodeID, left, right int64) error

	// ClearIntervals resets both bounds to undefined for every node of the
	// tree, so a relabel cannot collide with stale values mid-write.
	ClearIntervals(ctx context.Context, treeID int64) error

	// DeleteClosure removes every closure entry whose descendant belongs
	// to the tree.
	DeleteClosure(ctx context.Context, treeID int64) error

	// InsertReflexiveClosure adds the zero-distance self entry for every
	// node of the tree.
	InsertReflexiveClosure(ctx context.Context, treeID int64) error

	// InsertDirectClosure adds the distance-1 entry for every edge of the
	// tree, seeding each path with the child's just-written left bound.
	InsertDirectClosure(ctx context.Context, treeID int64) error

	// ExtendClosure performs one fixpoint step: every entry at the given
	// distance is extended through one more edge below its descendant.
	// Returns the number of rows inserted; 0 means the fixpoint is reached.
	ExtendClosure(ctx context.Context, treeID int64, distance int) (int64, error)

	// CreateTree creates a tree row together with its root node.
	CreateTree(ctx context.Context, name, rootLabel string) (TreeRef, error)

	// InsertNode creates a node in the tree and the edge linking it to its
	// parent, returning the new node's id.
	InsertNode(ctx context.Context, treeID, parentID int64, label string) (int64, error)

	// LastInsertedID reports the id generated by the most recent insert on
	// this transaction. Each backend implements this once; callers never
	// branch on the backend.
	LastInsertedID(ctx context.Context) (int64, error)

	// NodesOf, EdgesOf and ClosureOf read back a tree's full working set,
	// in a stable order, for verification and reporting.
	NodesOf(ctx context.Context, treeID int64) ([]PhyloNode, error)
	EdgesOf(ctx context.Context, treeID int64) ([]PhyloEdge, error)
	ClosureOf(ctx context.Context, treeID int64) ([]ClosurePath, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
