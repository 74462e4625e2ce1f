package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Table writes column-aligned rows. Widths are measured without color
// codes, so colored cells line up. On a terminal, wide columns are capped
// to the screen width and their cells wrapped. Headers and a dash divider
// are written with the rows on Flush; empty tables produce no output.
type Table struct {
	out     io.Writer
	headers []string
	prefix  string
	rows    [][]string
	width   int // terminal columns; 0 disables capping
}

// NewTable creates a table on stdout with the given column headers.
func NewTable(headers ...string) *Table {
	t := NewTableTo(os.Stdout, headers...)
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		t.width = w
	}
	return t
}

// NewTableTo creates a table writing to w without width capping.
func NewTableTo(w io.Writer, headers ...string) *Table {
	return &Table{out: w, headers: headers}
}

// WithPrefix sets a string prepended to each line (headers, divider, rows).
// Useful for indenting sub-tables within larger output.
func (t *Table) WithPrefix(prefix string) *Table {
	t.prefix = prefix
	return t
}

// Row buffers a row. Missing trailing cells are left empty.
func (t *Table) Row(values ...string) {
	t.rows = append(t.rows, values)
}

// Flush writes the table. If no rows were added, nothing is printed.
func (t *Table) Flush() {
	if len(t.rows) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = visualLen(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && visualLen(cell) > widths[i] {
				widths[i] = visualLen(cell)
			}
		}
	}
	if t.width > 0 {
		widths = capWidths(widths, t.headers, t.width, visualLen(t.prefix))
	}

	dividers := make([]string, len(t.headers))
	for i, h := range t.headers {
		dividers[i] = strings.Repeat("-", visualLen(h))
	}

	t.line(widths, t.headers)
	t.line(widths, dividers)
	for _, row := range t.rows {
		wrapped := make([][]string, len(widths))
		lines := 1
		for i := range widths {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			wrapped[i] = wrapCell(cell, widths[i])
			if len(wrapped[i]) > lines {
				lines = len(wrapped[i])
			}
		}
		for n := 0; n < lines; n++ {
			cells := make([]string, len(widths))
			for i := range widths {
				if n < len(wrapped[i]) {
					cells[i] = wrapped[i][n]
				}
			}
			t.line(widths, cells)
		}
	}
	t.rows = nil
}

func (t *Table) line(widths []int, cells []string) {
	var b strings.Builder
	b.WriteString(t.prefix)
	for i := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		b.WriteString(cell)
		if i < len(widths)-1 {
			pad := widths[i] - visualLen(cell) + 2
			if pad < 2 {
				pad = 2
			}
			b.WriteString(strings.Repeat(" ", pad))
		}
	}
	fmt.Fprintln(t.out, strings.TrimRight(b.String(), " "))
}

// capWidths shrinks the widest column, one column at a time, until the
// table fits termWidth. No column goes below its header width.
func capWidths(widths []int, headers []string, termWidth, prefix int) []int {
	out := append([]int(nil), widths...)
	total := func() int {
		sum := prefix + 2*(len(out)-1)
		for _, w := range out {
			sum += w
		}
		return sum
	}

	for total() > termWidth {
		widest := -1
		for i, w := range out {
			if w <= visualLen(headers[i]) {
				continue
			}
			if widest < 0 || w > out[widest] {
				widest = i
			}
		}
		if widest < 0 {
			break
		}
		out[widest] -= min(total()-termWidth, out[widest]-visualLen(headers[widest]))
	}
	return out
}

// wrapCell splits s into lines of at most width columns, breaking at
// spaces and hard-breaking words longer than width. Cells that fit are
// returned unchanged; wrapped cells lose their color codes.
func wrapCell(s string, width int) []string {
	if width <= 0 || visualLen(s) <= width {
		return []string{s}
	}

	var lines []string
	var cur []rune
	for _, word := range strings.Fields(ansiEscape.ReplaceAllString(s, "")) {
		w := []rune(word)
		for len(w) > width {
			if len(cur) > 0 {
				lines = append(lines, string(cur))
				cur = nil
			}
			lines = append(lines, string(w[:width]))
			w = w[width:]
		}
		switch {
		case len(w) == 0:
		case len(cur) == 0:
			cur = w
		case len(cur)+1+len(w) <= width:
			cur = append(append(cur, ' '), w...)
		default:
			lines = append(lines, string(cur))
			cur = w
		}
	}
	if len(cur) > 0 {
		lines = append(lines, string(cur))
	}
	return lines
}
