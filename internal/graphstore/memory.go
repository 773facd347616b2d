package graphstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/hlapp/phylosoc2007jestill/api/schemas"
	"go.uber.org/zap"
)

// MemoryStore is a fast, ephemeral, in-memory implementation of the
// GraphStore interface. It's great for tests, dry runs, and situations
// where persistence isn't required. Transactions take a deep copy of the
// whole state at Begin; Commit swaps the copy in, Rollback discards it.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memoryState
	log   *zap.Logger
}

var _ schemas.GraphStore = (*MemoryStore)(nil)

type memoryState struct {
	trees    map[int64]schemas.TreeRef
	nodes    map[int64]schemas.PhyloNode
	children map[int64][]int64 // parent id -> child ids, insertion order
	closure  []schemas.ClosurePath
	nextID   int64
	lastID   int64
}

func newMemoryState() *memoryState {
	return &memoryState{
		trees:    make(map[int64]schemas.TreeRef),
		nodes:    make(map[int64]schemas.PhyloNode),
		children: make(map[int64][]int64),
		nextID:   1,
	}
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		trees:    make(map[int64]schemas.TreeRef, len(s.trees)),
		nodes:    make(map[int64]schemas.PhyloNode, len(s.nodes)),
		children: make(map[int64][]int64, len(s.children)),
		closure:  append([]schemas.ClosurePath(nil), s.closure...),
		nextID:   s.nextID,
		lastID:   s.lastID,
	}
	for id, t := range s.trees {
		c.trees[id] = t
	}
	for id, n := range s.nodes {
		if n.Left != nil {
			left := *n.Left
			n.Left = &left
		}
		if n.Right != nil {
			right := *n.Right
			n.Right = &right
		}
		c.nodes[id] = n
	}
	for id, kids := range s.children {
		c.children[id] = append([]int64(nil), kids...)
	}
	return c
}

// NewMemoryStore creates a new, empty in-memory graph store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		state: newMemoryState(),
		log:   logger.Named("MemoryStore"),
	}
}

// ListTrees returns the known trees ordered by id. An empty filter matches
// everything; otherwise only trees with exactly that name.
func (s *MemoryStore) ListTrees(ctx context.Context, nameFilter string) ([]schemas.TreeRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var trees []schemas.TreeRef
	for _, t := range s.state.trees {
		if nameFilter == "" || t.Name == nameFilter {
			trees = append(trees, t)
		}
	}
	sort.Slice(trees, func(i, j int) bool { return trees[i].ID < trees[j].ID })
	return trees, nil
}

// Begin snapshots the current state into a new transaction.
func (s *MemoryStore) Begin(ctx context.Context) (schemas.GraphTx, error) {
	s.mu.RLock()
	work := s.state.clone()
	s.mu.RUnlock()
	return &memoryTx{store: s, work: work}, nil
}

// Close is a no-op for the in-memory backend.
func (s *MemoryStore) Close() {}

// memoryTx applies every operation to its private copy of the store state.
type memoryTx struct {
	store *MemoryStore
	work  *memoryState
	done  bool
}

var _ schemas.GraphTx = (*memoryTx)(nil)

func (tx *memoryTx) ChildrenOf(ctx context.Context, nodeID int64) ([]int64, error) {
	if _, ok := tx.work.nodes[nodeID]; !ok {
		return nil, fmt.Errorf("node %d: %w", nodeID, schemas.ErrUnknownNode)
	}
	return append([]int64(nil), tx.work.children[nodeID]...), nil
}

func (tx *memoryTx) SetInterval(ctx context.Context, nodeID, left, right int64) error {
	node, ok := tx.work.nodes[nodeID]
	if !ok {
		return fmt.Errorf("node %d: %w", nodeID, schemas.ErrUnknownNode)
	}
	node.Left = &left
	node.Right = &right
	tx.work.nodes[nodeID] = node
	return nil
}

func (tx *memoryTx) ClearIntervals(ctx context.Context, treeID int64) error {
	for id, node := range tx.work.nodes {
		if node.TreeID == treeID {
			node.Left = nil
			node.Right = nil
			tx.work.nodes[id] = node
		}
	}
	return nil
}

func (tx *memoryTx) DeleteClosure(ctx context.Context, treeID int64) error {
	kept := tx.work.closure[:0]
	for _, c := range tx.work.closure {
		if node, ok := tx.work.nodes[c.DescendantID]; !ok || node.TreeID != treeID {
			kept = append(kept, c)
		}
	}
	tx.work.closure = kept
	return nil
}

func (tx *memoryTx) InsertReflexiveClosure(ctx context.Context, treeID int64) error {
	for _, id := range tx.treeNodeIDs(treeID) {
		tx.work.closure = append(tx.work.closure, schemas.ClosurePath{
			DescendantID: id,
			AncestorID:   id,
			Path:         "",
			Distance:     0,
		})
	}
	return nil
}

func (tx *memoryTx) InsertDirectClosure(ctx context.Context, treeID int64) error {
	for _, parent := range tx.treeNodeIDs(treeID) {
		for _, child := range tx.work.children[parent] {
			left, err := tx.leftBound(child)
			if err != nil {
				return err
			}
			tx.work.closure = append(tx.work.closure, schemas.ClosurePath{
				DescendantID: child,
				AncestorID:   parent,
				Path:         strconv.FormatInt(left, 10),
				Distance:     1,
			})
		}
	}
	return nil
}

func (tx *memoryTx) ExtendClosure(ctx context.Context, treeID int64, distance int) (int64, error) {
	var inserted int64
	// Fix the scan length up front: rows appended by this step belong to
	// the next layer and must not be re-extended within it.
	existing := len(tx.work.closure)
	for i := 0; i < existing; i++ {
		entry := tx.work.closure[i]
		if entry.Distance != distance {
			continue
		}
		node, ok := tx.work.nodes[entry.DescendantID]
		if !ok || node.TreeID != treeID {
			continue
		}
		for _, child := range tx.work.children[entry.DescendantID] {
			left, err := tx.leftBound(child)
			if err != nil {
				return 0, err
			}
			tx.work.closure = append(tx.work.closure, schemas.ClosurePath{
				DescendantID: child,
				AncestorID:   entry.AncestorID,
				Path:         entry.Path + "." + strconv.FormatInt(left, 10),
				Distance:     distance + 1,
			})
			inserted++
		}
	}
	return inserted, nil
}

func (tx *memoryTx) CreateTree(ctx context.Context, name, rootLabel string) (schemas.TreeRef, error) {
	rootID := tx.allocID()
	treeID := tx.allocID()
	tx.work.nodes[rootID] = schemas.PhyloNode{ID: rootID, TreeID: treeID, Label: rootLabel}
	tree := schemas.TreeRef{ID: treeID, Name: name, RootID: rootID}
	tx.work.trees[treeID] = tree
	return tree, nil
}

func (tx *memoryTx) InsertNode(ctx context.Context, treeID, parentID int64, label string) (int64, error) {
	parent, ok := tx.work.nodes[parentID]
	if !ok {
		return 0, fmt.Errorf("parent node %d: %w", parentID, schemas.ErrUnknownNode)
	}
	if parent.TreeID != treeID {
		return 0, fmt.Errorf("parent node %d belongs to tree %d, not %d", parentID, parent.TreeID, treeID)
	}
	id := tx.allocID()
	tx.work.nodes[id] = schemas.PhyloNode{ID: id, TreeID: treeID, Label: label}
	tx.work.children[parentID] = append(tx.work.children[parentID], id)
	return tx.LastInsertedID(ctx)
}

func (tx *memoryTx) LastInsertedID(ctx context.Context) (int64, error) {
	if tx.work.lastID == 0 {
		return 0, fmt.Errorf("no insert has run on this transaction")
	}
	return tx.work.lastID, nil
}

func (tx *memoryTx) NodesOf(ctx context.Context, treeID int64) ([]schemas.PhyloNode, error) {
	var nodes []schemas.PhyloNode
	for _, id := range tx.treeNodeIDs(treeID) {
		nodes = append(nodes, tx.work.nodes[id])
	}
	return nodes, nil
}

func (tx *memoryTx) EdgesOf(ctx context.Context, treeID int64) ([]schemas.PhyloEdge, error) {
	var edges []schemas.PhyloEdge
	for _, parent := range tx.treeNodeIDs(treeID) {
		for _, child := range tx.work.children[parent] {
			edges = append(edges, schemas.PhyloEdge{ParentID: parent, ChildID: child})
		}
	}
	return edges, nil
}

func (tx *memoryTx) ClosureOf(ctx context.Context, treeID int64) ([]schemas.ClosurePath, error) {
	var closure []schemas.ClosurePath
	for _, c := range tx.work.closure {
		if node, ok := tx.work.nodes[c.DescendantID]; ok && node.TreeID == treeID {
			closure = append(closure, c)
		}
	}
	sort.Slice(closure, func(i, j int) bool {
		a, b := closure[i], closure[j]
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		if a.DescendantID != b.DescendantID {
			return a.DescendantID < b.DescendantID
		}
		return a.AncestorID < b.AncestorID
	})
	return closure, nil
}

func (tx *memoryTx) Commit(ctx context.Context) error {
	if tx.done {
		return fmt.Errorf("transaction already closed")
	}
	tx.store.mu.Lock()
	tx.store.state = tx.work
	tx.store.mu.Unlock()
	tx.done = true
	tx.store.log.Debug("Transaction committed")
	return nil
}

func (tx *memoryTx) Rollback(ctx context.Context) error {
	if tx.done {
		return nil // Committed or already rolled back.
	}
	tx.done = true
	return nil
}

func (tx *memoryTx) treeNodeIDs(treeID int64) []int64 {
	var ids []int64
	for id, node := range tx.work.nodes {
		if node.TreeID == treeID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (tx *memoryTx) leftBound(nodeID int64) (int64, error) {
	node, ok := tx.work.nodes[nodeID]
	if !ok {
		return 0, fmt.Errorf("node %d: %w", nodeID, schemas.ErrUnknownNode)
	}
	if node.Left == nil {
		return 0, fmt.Errorf("node %d has no left bound; closure rebuilt before labeling", nodeID)
	}
	return *node.Left, nil
}

func (tx *memoryTx) allocID() int64 {
	id := tx.work.nextID
	tx.work.nextID++
	tx.work.lastID = id
	return id
}
