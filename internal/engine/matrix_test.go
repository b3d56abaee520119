package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRatingMatrix(t *testing.T) {
	store := NewRatingStore()
	store.Add("u1", "i1", 5, 1)
	store.Add("u1", "i2", 3, 2)
	store.Add("u2", "i2", 2, 3)
	store.Add("u3", "i1", 1, 4)

	rm := BuildRatingMatrix(store)

	rows, cols := rm.M.Dims()
	assert.Equal(t, 3, rows)
	assert.Equal(t, 2, cols)
	assert.Equal(t, 4, rm.M.NNZ())

	// Items in first-seen order, users on first sight while walking items.
	assert.Equal(t, []string{"i1", "i2"}, rm.ItemIndex.IDs())
	assert.Equal(t, []string{"u1", "u3", "u2"}, rm.UserIndex.IDs())

	v, ok := rm.Rating("u3", "i1")
	require.True(t, ok)
	assert.Equal(t, 1.0, v)

	_, ok = rm.Rating("u2", "i1")
	assert.False(t, ok, "missing cell is unknown, not zero")

	assert.InDelta(t, 3.0, rm.ItemMean["i1"], 1e-12)
	assert.InDelta(t, 2.5, rm.ItemMean["i2"], 1e-12)
	assert.InDelta(t, 4.0, rm.UserMean["u1"], 1e-12)
	assert.InDelta(t, 2.75, rm.GlobalMean, 1e-12)
}

func TestSparseMatrix(t *testing.T) {
	m := NewSparseMatrix(1, 2)
	m.Set(0, 1, 2.5)
	m.Set(2, 3, -1)

	rows, cols := m.Dims()
	assert.Equal(t, 3, rows)
	assert.Equal(t, 4, cols)

	_, ok := m.At(1, 0)
	assert.False(t, ok)
	_, ok = m.At(10, 0)
	assert.False(t, ok)

	dense := m.Dense()
	assert.Equal(t, 2.5, dense.At(0, 1))
	assert.Equal(t, -1.0, dense.At(2, 3))
	assert.Equal(t, 0.0, dense.At(1, 1))

	row := m.DenseRow(2)
	assert.Equal(t, 4, row.Len())
	assert.Equal(t, -1.0, row.AtVec(3))
}

func TestIndexMap(t *testing.T) {
	m := NewIndexMap()
	assert.Equal(t, 0, m.Assign("a"))
	assert.Equal(t, 1, m.Assign("b"))
	assert.Equal(t, 0, m.Assign("a"))

	idx, ok := m.Lookup("b")
	require.True(t, ok)
	assert.Equal(t, 1, idx)
	assert.Equal(t, "b", m.ID(1))
	assert.Equal(t, 2, m.Len())

	_, ok = m.Lookup("c")
	assert.False(t, ok)
}
