package graphstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hlapp/phylosoc2007jestill/api/schemas"
)

// DBPool abstracts the pgxpool.Pool methods this store needs, so the pool
// can be swapped for a mock in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Compile-time check that the real pool satisfies the interface.
var _ DBPool = (*pgxpool.Pool)(nil)

// PostgresStore is the persistent GraphStore implementation over the
// phylodb-style schema: trees, nodes (lft/rgt), edges, and node_paths (the
// closure table). All index writes run through a pgx transaction.
type PostgresStore struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.GraphStore = (*PostgresStore)(nil)

// NewPostgresStore wraps a connection pool and verifies it is reachable.
func NewPostgresStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{pool: pool, log: logger.Named("graphstore")}, nil
}

// ListTrees enumerates trees ordered by id; an empty filter matches all.
func (s *PostgresStore) ListTrees(ctx context.Context, nameFilter string) ([]schemas.TreeRef, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, root_id FROM trees
		WHERE $1 = '' OR name = $1
		ORDER BY id;
	`, nameFilter)
	if err != nil {
		return nil, fmt.Errorf("failed to query trees: %w", err)
	}
	defer rows.Close()

	var trees []schemas.TreeRef
	for rows.Next() {
		var t schemas.TreeRef
		if err := rows.Scan(&t.ID, &t.Name, &t.RootID); err != nil {
			return nil, fmt.Errorf("failed to scan tree row: %w", err)
		}
		trees = append(trees, t)
	}
	return trees, rows.Err()
}

// Begin opens a database transaction wrapped in the GraphTx contract.
func (s *PostgresStore) Begin(ctx context.Context) (schemas.GraphTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &postgresTx{tx: tx, log: s.log}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

type postgresTx struct {
	tx  pgx.Tx
	log *zap.Logger
}

var _ schemas.GraphTx = (*postgresTx)(nil)

func (t *postgresTx) ChildrenOf(ctx context.Context, nodeID int64) ([]int64, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT child_id FROM edges
		WHERE parent_id = $1
		ORDER BY child_id;
	`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query children of node %d: %w", nodeID, err)
	}
	defer rows.Close()

	var children []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan child row: %w", err)
		}
		children = append(children, id)
	}
	return children, rows.Err()
}

func (t *postgresTx) SetInterval(ctx context.Context, nodeID, left, right int64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE nodes SET lft = $2, rgt = $3 WHERE id = $1;
	`, nodeID, left, right)
	if err != nil {
		return fmt.Errorf("failed to set interval for node %d: %w", nodeID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("node %d: %w", nodeID, schemas.ErrUnknownNode)
	}
	return nil
}

func (t *postgresTx) ClearIntervals(ctx context.Context, treeID int64) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE nodes SET lft = NULL, rgt = NULL WHERE tree_id = $1;
	`, treeID)
	if err != nil {
		return fmt.Errorf("failed to clear intervals for tree %d: %w", treeID, err)
	}
	return nil
}

func (t *postgresTx) DeleteClosure(ctx context.Context, treeID int64) error {
	_, err := t.tx.Exec(ctx, `
		DELETE FROM node_paths np
		USING nodes n
		WHERE np.descendant_id = n.id AND n.tree_id = $1;
	`, treeID)
	if err != nil {
		return fmt.Errorf("failed to delete closure for tree %d: %w", treeID, err)
	}
	return nil
}

func (t *postgresTx) InsertReflexiveClosure(ctx context.Context, treeID int64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO node_paths (descendant_id, ancestor_id, path, distance)
		SELECT id, id, '', 0 FROM nodes WHERE tree_id = $1;
	`, treeID)
	if err != nil {
		return fmt.Errorf("failed to insert reflexive closure for tree %d: %w", treeID, err)
	}
	return nil
}

func (t *postgresTx) InsertDirectClosure(ctx context.Context, treeID int64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO node_paths (descendant_id, ancestor_id, path, distance)
		SELECT e.child_id, e.parent_id, c.lft::text, 1
		FROM edges e
		JOIN nodes c ON c.id = e.child_id
		WHERE c.tree_id = $1;
	`, treeID)
	if err != nil {
		return fmt.Errorf("failed to insert direct closure for tree %d: %w", treeID, err)
	}
	return nil
}

func (t *postgresTx) ExtendClosure(ctx context.Context, treeID int64, distance int) (int64, error) {
	// One semi-naive step: extend only the previous layer, growing each
	// path downward through one more edge.
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO node_paths (descendant_id, ancestor_id, path, distance)
		SELECT e.child_id, p.ancestor_id, p.path || '.' || c.lft::text, p.distance + 1
		FROM node_paths p
		JOIN edges e ON e.parent_id = p.descendant_id
		JOIN nodes c ON c.id = e.child_id
		WHERE p.distance = $2 AND c.tree_id = $1;
	`, treeID, distance)
	if err != nil {
		return 0, fmt.Errorf("failed to extend closure for tree %d at distance %d: %w", treeID, distance, err)
	}
	return tag.RowsAffected(), nil
}

func (t *postgresTx) CreateTree(ctx context.Context, name, rootLabel string) (schemas.TreeRef, error) {
	var tree schemas.TreeRef
	tree.Name = name
	err := t.tx.QueryRow(ctx, `
		INSERT INTO nodes (tree_id, label) VALUES (0, $1) RETURNING id;
	`, rootLabel).Scan(&tree.RootID)
	if err != nil {
		return schemas.TreeRef{}, fmt.Errorf("failed to insert root node: %w", err)
	}
	err = t.tx.QueryRow(ctx, `
		INSERT INTO trees (name, root_id) VALUES ($1, $2) RETURNING id;
	`, name, tree.RootID).Scan(&tree.ID)
	if err != nil {
		return schemas.TreeRef{}, fmt.Errorf("failed to insert tree %q: %w", name, err)
	}
	_, err = t.tx.Exec(ctx, `
		UPDATE nodes SET tree_id = $1 WHERE id = $2;
	`, tree.ID, tree.RootID)
	if err != nil {
		return schemas.TreeRef{}, fmt.Errorf("failed to attach root node to tree %q: %w", name, err)
	}
	return tree, nil
}

func (t *postgresTx) InsertNode(ctx context.Context, treeID, parentID int64, label string) (int64, error) {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO nodes (tree_id, label) VALUES ($1, $2);
	`, treeID, label)
	if err != nil {
		return 0, fmt.Errorf("failed to insert node %q: %w", label, err)
	}
	id, err := t.LastInsertedID(ctx)
	if err != nil {
		return 0, err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO edges (parent_id, child_id) VALUES ($1, $2);
	`, parentID, id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert edge %d->%d: %w", parentID, id, err)
	}
	return id, nil
}

func (t *postgresTx) LastInsertedID(ctx context.Context) (int64, error) {
	var id int64
	if err := t.tx.QueryRow(ctx, `SELECT lastval();`).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to read last inserted id: %w", err)
	}
	return id, nil
}

func (t *postgresTx) NodesOf(ctx context.Context, treeID int64) ([]schemas.PhyloNode, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, tree_id, label, lft, rgt FROM nodes
		WHERE tree_id = $1
		ORDER BY id;
	`, treeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes of tree %d: %w", treeID, err)
	}
	defer rows.Close()

	var nodes []schemas.PhyloNode
	for rows.Next() {
		var n schemas.PhyloNode
		if err := rows.Scan(&n.ID, &n.TreeID, &n.Label, &n.Left, &n.Right); err != nil {
			return nil, fmt.Errorf("failed to scan node row: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (t *postgresTx) EdgesOf(ctx context.Context, treeID int64) ([]schemas.PhyloEdge, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT e.parent_id, e.child_id
		FROM edges e
		JOIN nodes c ON c.id = e.child_id
		WHERE c.tree_id = $1
		ORDER BY e.parent_id, e.child_id;
	`, treeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges of tree %d: %w", treeID, err)
	}
	defer rows.Close()

	var edges []schemas.PhyloEdge
	for rows.Next() {
		var e schemas.PhyloEdge
		if err := rows.Scan(&e.ParentID, &e.ChildID); err != nil {
			return nil, fmt.Errorf("failed to scan edge row: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func (t *postgresTx) ClosureOf(ctx context.Context, treeID int64) ([]schemas.ClosurePath, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT np.descendant_id, np.ancestor_id, np.path, np.distance
		FROM node_paths np
		JOIN nodes n ON n.id = np.descendant_id
		WHERE n.tree_id = $1
		ORDER BY np.distance, np.descendant_id, np.ancestor_id;
	`, treeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query closure of tree %d: %w", treeID, err)
	}
	defer rows.Close()

	var closure []schemas.ClosurePath
	for rows.Next() {
		var c schemas.ClosurePath
		if err := rows.Scan(&c.DescendantID, &c.AncestorID, &c.Path, &c.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan closure row: %w", err)
		}
		closure = append(closure, c)
	}
	return closure, rows.Err()
}

func (t *postgresTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *postgresTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}
