package graphstore

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hlapp/phylosoc2007jestill/api/schemas"
)

// sqlPattern turns a SQL literal into a whitespace-tolerant regex so the
// expectations don't break on indentation.
func sqlPattern(q string) string {
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(q), `\s+`)
}

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *PostgresStore) {
	t.Helper()
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing().WillReturnError(nil)
	store, err := NewPostgresStore(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return mockPool, store
}

func TestNewPostgresStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = NewPostgresStore(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestListTrees(t *testing.T) {
	ctx := context.Background()
	mockPool, store := newMockStore(t)

	rows := pgxmock.NewRows([]string{"id", "name", "root_id"}).
		AddRow(int64(1), "mammals", int64(10)).
		AddRow(int64(2), "birds", int64(40))
	mockPool.ExpectQuery(sqlPattern(`SELECT id, name, root_id FROM trees`)).
		WithArgs("").
		WillReturnRows(rows)

	trees, err := store.ListTrees(ctx, "")
	require.NoError(t, err)
	require.Len(t, trees, 2)
	assert.Equal(t, schemas.TreeRef{ID: 1, Name: "mammals", RootID: 10}, trees[0])
	assert.Equal(t, schemas.TreeRef{ID: 2, Name: "birds", RootID: 40}, trees[1])
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestChildrenOf(t *testing.T) {
	ctx := context.Background()
	mockPool, store := newMockStore(t)

	mockPool.ExpectBegin()
	mockPool.ExpectQuery(sqlPattern(`SELECT child_id FROM edges`)).
		WithArgs(int64(10)).
		WillReturnRows(pgxmock.NewRows([]string{"child_id"}).AddRow(int64(11)).AddRow(int64(12)))
	mockPool.ExpectRollback()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	children, err := tx.ChildrenOf(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{11, 12}, children)

	require.NoError(t, tx.Rollback(ctx))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSetInterval(t *testing.T) {
	ctx := context.Background()

	t.Run("should update the node's bounds", func(t *testing.T) {
		mockPool, store := newMockStore(t)

		mockPool.ExpectBegin()
		mockPool.ExpectExec(sqlPattern(`UPDATE nodes SET lft = $2, rgt = $3 WHERE id = $1;`)).
			WithArgs(int64(11), int64(2), int64(5)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mockPool.ExpectCommit()

		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.SetInterval(ctx, 11, 2, 5))
		require.NoError(t, tx.Commit(ctx))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should report unknown node when no row matches", func(t *testing.T) {
		mockPool, store := newMockStore(t)

		mockPool.ExpectBegin()
		mockPool.ExpectExec(sqlPattern(`UPDATE nodes SET lft = $2, rgt = $3 WHERE id = $1;`)).
			WithArgs(int64(99), int64(1), int64(2)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mockPool.ExpectRollback()

		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		err = tx.SetInterval(ctx, 99, 1, 2)
		require.Error(t, err)
		assert.ErrorIs(t, err, schemas.ErrUnknownNode)

		require.NoError(t, tx.Rollback(ctx))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestClosureRebuildStatements(t *testing.T) {
	ctx := context.Background()
	mockPool, store := newMockStore(t)
	treeID := int64(1)

	mockPool.ExpectBegin()
	mockPool.ExpectExec(sqlPattern(`DELETE FROM node_paths np`)).
		WithArgs(treeID).
		WillReturnResult(pgxmock.NewResult("DELETE", 8))
	mockPool.ExpectExec(sqlPattern(`SELECT id, id, '', 0 FROM nodes WHERE tree_id = $1;`)).
		WithArgs(treeID).
		WillReturnResult(pgxmock.NewResult("INSERT", 4))
	mockPool.ExpectExec(sqlPattern(`SELECT e.child_id, e.parent_id, c.lft::text, 1`)).
		WithArgs(treeID).
		WillReturnResult(pgxmock.NewResult("INSERT", 3))
	mockPool.ExpectExec(sqlPattern(`p.path || '.' || c.lft::text`)).
		WithArgs(treeID, 1).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectExec(sqlPattern(`p.path || '.' || c.lft::text`)).
		WithArgs(treeID, 2).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mockPool.ExpectCommit()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.DeleteClosure(ctx, treeID))
	require.NoError(t, tx.InsertReflexiveClosure(ctx, treeID))
	require.NoError(t, tx.InsertDirectClosure(ctx, treeID))

	inserted, err := tx.ExtendClosure(ctx, treeID, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, inserted)

	inserted, err = tx.ExtendClosure(ctx, treeID, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 0, inserted, "fixpoint step must report zero rows")

	require.NoError(t, tx.Commit(ctx))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestInsertNodeUsesLastInsertedID(t *testing.T) {
	ctx := context.Background()
	mockPool, store := newMockStore(t)

	mockPool.ExpectBegin()
	mockPool.ExpectExec(sqlPattern(`INSERT INTO nodes (tree_id, label) VALUES ($1, $2);`)).
		WithArgs(int64(1), "Felis").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectQuery(sqlPattern(`SELECT lastval();`)).
		WillReturnRows(pgxmock.NewRows([]string{"lastval"}).AddRow(int64(42)))
	mockPool.ExpectExec(sqlPattern(`INSERT INTO edges (parent_id, child_id) VALUES ($1, $2);`)).
		WithArgs(int64(10), int64(42)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectCommit()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	id, err := tx.InsertNode(ctx, 1, 10, "Felis")
	require.NoError(t, err)
	assert.EqualValues(t, 42, id)

	require.NoError(t, tx.Commit(ctx))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRollbackFailurePropagates(t *testing.T) {
	ctx := context.Background()
	mockPool, store := newMockStore(t)

	rollbackErr := errors.New("connection broken")
	mockPool.ExpectBegin()
	mockPool.ExpectRollback().WillReturnError(rollbackErr)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	err = tx.Rollback(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, rollbackErr)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
