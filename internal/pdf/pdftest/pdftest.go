// Package pdftest builds small table PDFs for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const (
	originX   = 72
	originY   = 720
	columnGap = 150
	rowGap    = 20
	fontSize  = 11
	firstChar = 32
)

// helveticaWidths are the Helvetica advance widths for codes 32..126, in
// thousandths of the font size.
var helveticaWidths = []int{
	278, 278, 355, 556, 556, 889, 667, 191, 333, 333, 389, 584, 278, 333, 278, 278,
	556, 556, 556, 556, 556, 556, 556, 556, 556, 556, 278, 278, 584, 584, 584, 556,
	1015, 667, 667, 722, 722, 667, 611, 778, 722, 278, 500, 667, 556, 833, 722, 778,
	667, 778, 722, 667, 611, 722, 667, 944, 667, 667, 611, 278, 278, 278, 469, 556,
	333, 556, 556, 500, 556, 556, 278, 556, 556, 222, 222, 500, 222, 833, 556, 556,
	556, 556, 333, 500, 278, 556, 500, 722, 500, 500, 500, 334, 260, 334, 584,
}

// Align places a cell's text inside its column.
type Align int

const (
	Left Align = iota
	Center
	Right
)

// Table returns a valid one-page PDF showing rows as a left-aligned grid.
func Table(rows ...[]string) []byte {
	return Pages(rows)
}

// Pages returns a valid PDF with one page per element of pages, each showing
// its rows as a left-aligned grid starting at the top of the page.
func Pages(pages ...[][]string) []byte {
	return AlignedPages(Left, pages...)
}

// AlignedPages is Pages with every cell aligned inside its column by align.
func AlignedPages(align Align, pages ...[][]string) []byte {
	const (
		catalogID = 1
		pagesID   = 2
		fontID    = 3
		firstPage = 4
	)

	var kids []string
	for i := range pages {
		kids = append(kids, fmt.Sprintf("%d 0 R", firstPage+2*i))
	}

	var widths []string
	for _, w := range helveticaWidths {
		widths = append(widths, fmt.Sprint(w))
	}

	objects := []string{
		fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", pagesID),
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)),
		fmt.Sprintf("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding "+
			"/FirstChar %d /LastChar %d /Widths [%s] >>",
			firstChar, firstChar+len(helveticaWidths)-1, strings.Join(widths, " ")),
	}
	for i, rows := range pages {
		content := pageContent(rows, align)
		objects = append(objects,
			fmt.Sprintf("<< /Type /Page /Parent %d 0 R /MediaBox [0 0 612 792] "+
				"/Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>", pagesID, fontID, firstPage+2*i+1),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		)
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, body := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root %d 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, catalogID, xref)
	return buf.Bytes()
}

func pageContent(rows [][]string, align Align) string {
	var content strings.Builder
	fmt.Fprintf(&content, "BT /F1 %d Tf\n", fontSize)
	for r, row := range rows {
		for c, text := range row {
			if text == "" {
				continue
			}
			x := float64(originX + c*columnGap)
			switch align {
			case Center:
				x += (columnGap/2 - TextWidth(text)) / 2
			case Right:
				x += columnGap/2 - TextWidth(text)
			}
			fmt.Fprintf(&content, "1 0 0 1 %.2f %d Tm (%s) Tj\n", x, originY-r*rowGap, escape(text))
		}
	}
	content.WriteString("ET")
	return content.String()
}

// TextWidth is the width in points of s set in the test font.
func TextWidth(s string) float64 {
	var w int
	for _, ch := range []byte(s) {
		if i := int(ch) - firstChar; i >= 0 && i < len(helveticaWidths) {
			w += helveticaWidths[i]
		}
	}
	return float64(w) * fontSize / 1000
}

// WriteFile writes data to name inside dir and returns the full path.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}
