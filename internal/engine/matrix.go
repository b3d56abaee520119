package engine

import (
	"gonum.org/v1/gonum/mat"
)

// IndexMap is a bidirectional id <-> dense index mapping. Indices are handed
// out sequentially on first sight and never reassigned.
type IndexMap struct {
	ids   []string
	index map[string]int
}

func NewIndexMap() *IndexMap {
	return &IndexMap{index: make(map[string]int)}
}

// Assign returns the index for id, allocating the next one if id is new.
func (m *IndexMap) Assign(id string) int {
	if idx, ok := m.index[id]; ok {
		return idx
	}
	idx := len(m.ids)
	m.ids = append(m.ids, id)
	m.index[id] = idx
	return idx
}

func (m *IndexMap) Lookup(id string) (int, bool) {
	idx, ok := m.index[id]
	return idx, ok
}

// ID returns the id at idx. idx must be in range.
func (m *IndexMap) ID(idx int) string { return m.ids[idx] }

// IDs returns ids in index order.
func (m *IndexMap) IDs() []string { return m.ids }

func (m *IndexMap) Len() int { return len(m.ids) }

// SparseMatrix is a row-major sparse matrix of float64. Missing cells mean
// "unknown", not zero.
type SparseMatrix struct {
	rows  []map[int]float64
	nCols int
}

func NewSparseMatrix(rows, cols int) *SparseMatrix {
	m := &SparseMatrix{
		rows:  make([]map[int]float64, rows),
		nCols: cols,
	}
	for i := range m.rows {
		m.rows[i] = make(map[int]float64)
	}
	return m
}

func (m *SparseMatrix) Dims() (int, int) { return len(m.rows), m.nCols }

func (m *SparseMatrix) At(row, col int) (float64, bool) {
	if row < 0 || row >= len(m.rows) {
		return 0, false
	}
	v, ok := m.rows[row][col]
	return v, ok
}

// Set writes a cell, growing the matrix when row or col are past its bounds.
func (m *SparseMatrix) Set(row, col int, v float64) {
	for row >= len(m.rows) {
		m.AddRow()
	}
	if col >= m.nCols {
		m.nCols = col + 1
	}
	m.rows[row][col] = v
}

// AddRow appends an empty row and returns its index.
func (m *SparseMatrix) AddRow() int {
	m.rows = append(m.rows, make(map[int]float64))
	return len(m.rows) - 1
}

// Row returns the stored cells of a row. The map must not be modified.
func (m *SparseMatrix) Row(row int) map[int]float64 {
	if row < 0 || row >= len(m.rows) {
		return nil
	}
	return m.rows[row]
}

// NNZ returns the number of stored cells.
func (m *SparseMatrix) NNZ() int {
	n := 0
	for _, r := range m.rows {
		n += len(r)
	}
	return n
}

// Dense materialises the matrix, writing 0 for unknown cells.
func (m *SparseMatrix) Dense() *mat.Dense {
	r, c := m.Dims()
	d := mat.NewDense(max(r, 1), max(c, 1), nil)
	for i, row := range m.rows {
		for j, v := range row {
			d.Set(i, j, v)
		}
	}
	return d
}

// DenseRow materialises one row as a 1×cols vector.
func (m *SparseMatrix) DenseRow(row int) *mat.VecDense {
	v := mat.NewVecDense(max(m.nCols, 1), nil)
	for j, x := range m.Row(row) {
		v.SetVec(j, x)
	}
	return v
}

// RatingMatrix is the sparse user×item matrix of raw ratings together with
// the index maps and mean caches derived in the same pass.
type RatingMatrix struct {
	M          *SparseMatrix
	UserIndex  *IndexMap
	ItemIndex  *IndexMap
	UserMean   map[string]float64
	ItemMean   map[string]float64
	GlobalMean float64
}

// BuildRatingMatrix walks items in first-seen order, giving each a column,
// and gives every rater a row on first sight. Each user and item index is
// derived exactly once per build.
func BuildRatingMatrix(store *RatingStore) *RatingMatrix {
	rm := &RatingMatrix{
		M:         NewSparseMatrix(store.NumUsers(), store.NumItems()),
		UserIndex: NewIndexMap(),
		ItemIndex: NewIndexMap(),
		UserMean:  make(map[string]float64, store.NumUsers()),
		ItemMean:  make(map[string]float64, store.NumItems()),
	}

	total, count := 0.0, 0
	for _, itemID := range store.Items() {
		col := rm.ItemIndex.Assign(itemID)
		history := store.ItemHistory(itemID)
		if mean, ok := meanOf(history); ok {
			rm.ItemMean[itemID] = mean
		}
		for _, r := range history {
			row := rm.UserIndex.Assign(r.UserID)
			rm.M.Set(row, col, r.Rating)
			total += r.Rating
			count++
		}
	}
	for _, userID := range rm.UserIndex.IDs() {
		if mean, ok := store.UserMean(userID); ok {
			rm.UserMean[userID] = mean
		}
	}
	if count > 0 {
		rm.GlobalMean = total / float64(count)
	}

	return rm
}

// Rating returns the cell for (userID, itemID) if both are indexed and the
// cell is populated.
func (rm *RatingMatrix) Rating(userID, itemID string) (float64, bool) {
	row, ok := rm.UserIndex.Lookup(userID)
	if !ok {
		return 0, false
	}
	col, ok := rm.ItemIndex.Lookup(itemID)
	if !ok {
		return 0, false
	}
	return rm.M.At(row, col)
}
