package pdf

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Layout thresholds, in PDF points.
const (
	defaultRowTolerance = 3.0
	defaultCellGap      = 10.0
	defaultWordGap      = 1.5
	defaultRegionGap    = 36.0
	minCellsPerRow      = 2
)

// Region is one tabular area found on one page: a grid of cell strings, rows
// top-to-bottom and cells left-to-right.
type Region struct {
	Page int
	Rows [][]string
}

// TableReader reconstructs tabular regions from the positioned text runs that
// ledongthuc/pdf reports for each page.
type TableReader struct {
	rowTolerance float64
	cellGap      float64
	regionGap    float64
}

// NewTableReader creates a table reader with the default layout thresholds.
func NewTableReader() *TableReader {
	return &TableReader{
		rowTolerance: defaultRowTolerance,
		cellGap:      defaultCellGap,
		regionGap:    defaultRegionGap,
	}
}

// Regions returns the tabular regions of doc in page order, and within a page
// top-to-bottom. The parser can panic on damaged content streams; that is
// reported as an error.
func (r *TableReader) Regions(doc Document) (regions []Region, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			regions = nil
			err = &DocumentError{Name: doc.Name, Op: "read", Err: fmt.Errorf("parser panic: %v", rec)}
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(doc.Data), doc.Size())
	if err != nil {
		return nil, &DocumentError{Name: doc.Name, Op: "read", Err: fmt.Errorf("failed to open PDF: %w", err)}
	}

	var lay layout
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		regions = append(regions, r.buildRegions(page.Content().Text, pageNum, &lay)...)
	}
	return regions, nil
}

// cell is a run of text occupying one table cell on one line.
type cell struct {
	x, right float64
	text     strings.Builder
}

// line is one baseline worth of cells.
type line struct {
	y     float64
	cells []*cell
}

// buildRegions cuts one page into regions. lay carries column positions from
// the previous region of the same document.
func (r *TableReader) buildRegions(texts []pdf.Text, pageNum int, lay *layout) []Region {
	lines := r.groupLines(texts)

	var regions []Region
	var current []*line
	flush := func() {
		if len(current) > 0 {
			regions = append(regions, Region{Page: pageNum, Rows: r.toGrid(current, lay)})
		}
		current = nil
	}

	for _, ln := range lines {
		if len(ln.cells) < minCellsPerRow {
			flush()
			continue
		}
		if len(current) > 0 && current[len(current)-1].y-ln.y > r.regionGap {
			flush()
		}
		current = append(current, ln)
	}
	flush()

	return regions
}

// groupLines sorts runs top-to-bottom and left-to-right, groups them by
// baseline, and splits each line into cells wherever the horizontal gap
// exceeds the cell gap.
func (r *TableReader) groupLines(texts []pdf.Text) []*line {
	runs := make([]pdf.Text, 0, len(texts))
	for _, t := range texts {
		if t.S != "" {
			runs = append(runs, t)
		}
	}
	if len(runs) == 0 {
		return nil
	}

	sort.SliceStable(runs, func(i, j int) bool {
		if math.Abs(runs[i].Y-runs[j].Y) > r.rowTolerance {
			return runs[i].Y > runs[j].Y
		}
		return runs[i].X < runs[j].X
	})

	var lines []*line
	var rowRuns []pdf.Text
	rowY := runs[0].Y
	for _, t := range runs {
		if math.Abs(t.Y-rowY) > r.rowTolerance {
			lines = append(lines, r.splitCells(rowRuns, rowY))
			rowRuns = nil
			rowY = t.Y
		}
		rowRuns = append(rowRuns, t)
	}
	lines = append(lines, r.splitCells(rowRuns, rowY))

	// drop lines that held nothing but whitespace
	out := lines[:0]
	for _, ln := range lines {
		if len(ln.cells) > 0 {
			out = append(out, ln)
		}
	}
	return out
}

func (r *TableReader) splitCells(runs []pdf.Text, y float64) *line {
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].X < runs[j].X })

	ln := &line{y: y}
	var cur *cell
	for _, t := range runs {
		blank := strings.TrimSpace(t.S) == ""
		if cur != nil && t.X-cur.right > r.cellGap {
			ln.cells = appendCell(ln.cells, cur)
			cur = nil
		}
		if cur == nil {
			if blank {
				continue
			}
			cur = &cell{x: t.X}
		} else if t.X-cur.right > defaultWordGap && !blank && !strings.HasSuffix(cur.text.String(), " ") {
			cur.text.WriteByte(' ')
		}
		cur.text.WriteString(t.S)
		cur.right = math.Max(cur.right, t.X+t.W)
	}
	ln.cells = appendCell(ln.cells, cur)
	return ln
}

func appendCell(cells []*cell, c *cell) []*cell {
	if c == nil || strings.TrimSpace(c.text.String()) == "" {
		return cells
	}
	return append(cells, c)
}

// column is the horizontal extent shared by the cells of one table column.
type column struct {
	x, right float64
}

func (c column) overlaps(o column) bool {
	return c.x <= o.right && o.x <= c.right
}

// layout holds the columns of the last region so that a continuation region
// on the next page keeps the same column indices.
type layout struct {
	columns []column
}

// columnsOf merges the extents of every cell in lines into columns. Cells of
// one column overlap horizontally however they are aligned inside it.
func columnsOf(lines []*line) []column {
	var spans []column
	for _, ln := range lines {
		for _, c := range ln.cells {
			spans = append(spans, column{x: c.x, right: math.Max(c.right, c.x)})
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].x < spans[j].x })

	var merged []column
	for _, s := range spans {
		if n := len(merged); n > 0 && merged[n-1].overlaps(s) {
			merged[n-1].right = math.Max(merged[n-1].right, s.right)
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

// align maps found onto the carried columns when every found column overlaps
// exactly one carried column and no two share one. It returns the columns to
// use for the region.
func (l *layout) align(found []column) []column {
	if len(l.columns) == 0 || len(found) > len(l.columns) {
		return found
	}

	cols := append([]column(nil), l.columns...)
	used := make([]bool, len(cols))
	for _, f := range found {
		match := -1
		for i, c := range l.columns {
			if !c.overlaps(f) {
				continue
			}
			if match >= 0 {
				return found
			}
			match = i
		}
		if match < 0 || used[match] {
			return found
		}
		used[match] = true
		cols[match].x = math.Min(cols[match].x, f.x)
		cols[match].right = math.Max(cols[match].right, f.right)
	}
	return cols
}

// toGrid places the cells of a region into columns so that a row with an
// empty cell keeps its other values in the right column.
func (r *TableReader) toGrid(lines []*line, lay *layout) [][]string {
	cols := lay.align(columnsOf(lines))
	lay.columns = cols

	grid := make([][]string, 0, len(lines))
	for _, ln := range lines {
		row := make([]string, len(cols))
		for _, c := range ln.cells {
			col := columnFor(cols, c)
			text := strings.TrimSpace(c.text.String())
			if row[col] != "" {
				text = row[col] + " " + text
			}
			row[col] = text
		}
		grid = append(grid, row)
	}
	return grid
}

// columnFor returns the column sharing the most width with c, or the one
// nearest to its centre when none overlaps.
func columnFor(cols []column, c *cell) int {
	span := column{x: c.x, right: math.Max(c.right, c.x)}
	centre := (span.x + span.right) / 2

	best, bestOverlap, bestDist := 0, -1.0, math.Inf(1)
	for i, col := range cols {
		overlap := math.Min(col.right, span.right) - math.Max(col.x, span.x)
		dist := math.Abs((col.x+col.right)/2 - centre)
		if overlap > bestOverlap || (overlap == bestOverlap && dist < bestDist) {
			best, bestOverlap, bestDist = i, overlap, dist
		}
	}
	return best
}
