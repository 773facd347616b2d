package index

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLabelExampleTree(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, tree, ids := seedExampleTree(t)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	labeler := NewNestedSetLabeler(zap.NewNop())
	right, err := labeler.Label(ctx, tx, tree.RootID, 1)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	assert.EqualValues(t, 8, right, "root right bound of a 4-node tree")

	bounds := boundsOf(t, store, tree.ID)
	assert.Equal(t, [2]int64{1, 8}, bounds[ids["R"]])
	assert.Equal(t, [2]int64{2, 5}, bounds[ids["A"]])
	assert.Equal(t, [2]int64{3, 4}, bounds[ids["C"]])
	assert.Equal(t, [2]int64{6, 7}, bounds[ids["B"]])
}

func TestLabelInvariants(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// A wider tree: root with three children, middle child with two.
	tx := newFakeTx()
	tx.children[1] = []int64{2, 3, 4}
	tx.children[3] = []int64{5, 6}

	labeler := NewNestedSetLabeler(nil)
	right, err := labeler.Label(ctx, tx, 1, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 12, right, "6 nodes consume 12 counter slots")

	t.Run("every bound is unique and left < right", func(t *testing.T) {
		seen := make(map[int64]bool)
		for id, iv := range tx.intervals {
			assert.Less(t, iv[0], iv[1], "node %d", id)
			for _, b := range iv {
				assert.False(t, seen[b], "bound %d assigned twice", b)
				seen[b] = true
			}
		}
	})

	t.Run("children nest strictly inside their parent", func(t *testing.T) {
		for parent, kids := range tx.children {
			for _, child := range kids {
				p, c := tx.intervals[parent], tx.intervals[child]
				assert.Less(t, p[0], c[0], "parent %d left < child %d left", parent, child)
				assert.Less(t, c[1], p[1], "child %d right < parent %d right", child, parent)
			}
		}
	})

	t.Run("sibling intervals are disjoint and ordered", func(t *testing.T) {
		kids := tx.children[1]
		for i := 1; i < len(kids); i++ {
			prev, next := tx.intervals[kids[i-1]], tx.intervals[kids[i]]
			assert.Less(t, prev[1], next[0], "sibling %d before sibling %d", kids[i-1], kids[i])
		}
	})
}

func TestLabelSingleNode(t *testing.T) {
	t.Parallel()
	tx := newFakeTx()

	labeler := NewNestedSetLabeler(nil)
	right, err := labeler.Label(context.Background(), tx, 7, 1)
	require.NoError(t, err)

	assert.EqualValues(t, 2, right)
	assert.Equal(t, [2]int64{1, 2}, tx.intervals[7])
}

func TestLabelStartLeftOffset(t *testing.T) {
	t.Parallel()
	tx := newFakeTx()
	tx.children[1] = []int64{2}

	labeler := NewNestedSetLabeler(nil)
	right, err := labeler.Label(context.Background(), tx, 1, 10)
	require.NoError(t, err)

	assert.EqualValues(t, 13, right)
	assert.Equal(t, [2]int64{10, 13}, tx.intervals[1])
	assert.Equal(t, [2]int64{11, 12}, tx.intervals[2])
}

func TestLabelMalformedTree(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	labeler := NewNestedSetLabeler(nil)

	t.Run("cycle back to the root", func(t *testing.T) {
		t.Parallel()
		tx := newFakeTx()
		tx.children[1] = []int64{2}
		tx.children[2] = []int64{1}

		_, err := labeler.Label(ctx, tx, 1, 1)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMalformedTree)
	})

	t.Run("child shared between two parents", func(t *testing.T) {
		t.Parallel()
		tx := newFakeTx()
		tx.children[1] = []int64{2, 3}
		tx.children[2] = []int64{4}
		tx.children[3] = []int64{4}

		_, err := labeler.Label(ctx, tx, 1, 1)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMalformedTree)
	})

	t.Run("self loop", func(t *testing.T) {
		t.Parallel()
		tx := newFakeTx()
		tx.children[1] = []int64{1}

		_, err := labeler.Label(ctx, tx, 1, 1)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMalformedTree)
	})
}

func TestLabelPropagatesStoreErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	labeler := NewNestedSetLabeler(nil)

	t.Run("child enumeration failure", func(t *testing.T) {
		t.Parallel()
		tx := newFakeTx()
		tx.childrenErr = errors.New("connection reset")

		_, err := labeler.Label(ctx, tx, 1, 1)
		require.Error(t, err)
		assert.ErrorContains(t, err, "connection reset")
	})

	t.Run("interval write failure", func(t *testing.T) {
		t.Parallel()
		tx := newFakeTx()
		tx.intervalErr = errors.New("unique constraint violated")

		_, err := labeler.Label(ctx, tx, 1, 1)
		require.Error(t, err)
		assert.ErrorContains(t, err, "unique constraint violated")
	})
}
