package spatial

import (
	"math"
	"sort"
)

// gridIndex partitions region bounding boxes into a uniform grid so each
// point only tests regions whose bbox shares its cell. Candidate lists
// preserve region input order, so the first-match policy is unchanged with
// or without the index.
type gridIndex struct {
	minX, minY float64
	cellW      float64
	cellH      float64
	cols, rows int
	cells      map[int][]int
}

// defaultGridDim is the grid resolution per axis.
const defaultGridDim = 64

func buildGridIndex(boxes []bbox) *gridIndex {
	overall := bbox{
		minX: math.Inf(1), minY: math.Inf(1),
		maxX: math.Inf(-1), maxY: math.Inf(-1),
	}
	for _, b := range boxes {
		overall.minX = math.Min(overall.minX, b.minX)
		overall.minY = math.Min(overall.minY, b.minY)
		overall.maxX = math.Max(overall.maxX, b.maxX)
		overall.maxY = math.Max(overall.maxY, b.maxY)
	}
	if len(boxes) == 0 || overall.minX > overall.maxX {
		return &gridIndex{cols: 1, rows: 1, cellW: 1, cellH: 1, cells: map[int][]int{}}
	}

	g := &gridIndex{
		minX:  overall.minX,
		minY:  overall.minY,
		cols:  defaultGridDim,
		rows:  defaultGridDim,
		cells: make(map[int][]int),
	}
	g.cellW = (overall.maxX - overall.minX) / float64(g.cols)
	g.cellH = (overall.maxY - overall.minY) / float64(g.rows)
	if g.cellW <= 0 {
		g.cellW = 1
	}
	if g.cellH <= 0 {
		g.cellH = 1
	}

	for i, b := range boxes {
		c0, r0 := g.cell(b.minX, b.minY)
		c1, r1 := g.cell(b.maxX, b.maxY)
		for r := r0; r <= r1; r++ {
			for c := c0; c <= c1; c++ {
				key := r*g.cols + c
				g.cells[key] = append(g.cells[key], i)
			}
		}
	}

	// Region indices are appended in input order per cell, but sort anyway
	// so the invariant does not rest on insertion order.
	for key := range g.cells {
		sort.Ints(g.cells[key])
	}

	return g
}

func (g *gridIndex) cell(x, y float64) (col, row int) {
	col = int((x - g.minX) / g.cellW)
	row = int((y - g.minY) / g.cellH)
	if col < 0 {
		col = 0
	}
	if col >= g.cols {
		col = g.cols - 1
	}
	if row < 0 {
		row = 0
	}
	if row >= g.rows {
		row = g.rows - 1
	}
	return col, row
}

// candidates returns the region indices whose bbox may contain the point,
// in region input order.
func (g *gridIndex) candidates(x, y float64) []int {
	col, row := g.cell(x, y)
	return g.cells[row*g.cols+col]
}
