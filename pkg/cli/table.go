package cli

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// Table renders column-aligned rows. Rows are buffered until Flush so
// column widths fit the widest cell; when writing to a terminal, the widest
// columns are truncated to fit its width. Empty tables produce no output.
type Table struct {
	w       io.Writer
	headers []string
	rows    [][]string
	prefix  string
	width   int // terminal width; 0 = unlimited
}

// NewTable creates a table with the given column headers writing to stdout.
func NewTable(headers ...string) *Table {
	t := NewTableTo(os.Stdout, headers...)
	if fd := int(os.Stdout.Fd()); term.IsTerminal(fd) {
		if w, _, err := term.GetSize(fd); err == nil {
			t.width = w
		}
	}
	return t
}

// NewTableTo creates a table writing to w without width limits.
func NewTableTo(w io.Writer, headers ...string) *Table {
	return &Table{w: w, headers: headers}
}

// WithPrefix sets a string prepended to each line (headers, divider, rows).
func (t *Table) WithPrefix(prefix string) *Table {
	t.prefix = prefix
	return t
}

// Row buffers one row. Missing trailing cells render empty.
func (t *Table) Row(values ...string) {
	t.rows = append(t.rows, values)
}

// Flush writes headers, divider, and rows. If no rows were added, nothing
// is printed.
func (t *Table) Flush() {
	if len(t.rows) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = visualLen(h)
	}
	for _, row := range t.rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], visualLen(row[i]))
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
		t.line(widths, row)
	}
}

func (t *Table) line(widths []int, cells []string) {
	var b strings.Builder
	b.WriteString(t.prefix)
	for i, w := range widths {
		cell := ""
		if i < len(cells) {
			cell = truncate(cells[i], w)
		}
		b.WriteString(cell)
		if i < len(widths)-1 {
			b.WriteString(strings.Repeat(" ", w-visualLen(cell)+2))
		}
	}
	fmt.Fprintln(t.w, strings.TrimRight(b.String(), " "))
}

var ansiRE = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// visualLen is the printed width of s, ignoring ANSI color sequences.
func visualLen(s string) int {
	return utf8.RuneCountInString(ansiRE.ReplaceAllString(s, ""))
}

// truncate shortens s to w printed characters, ending in "~". Colored cells
// are left alone.
func truncate(s string, w int) string {
	if visualLen(s) <= w || ansiRE.MatchString(s) || w < 2 {
		return s
	}
	r := []rune(s)
	return string(r[:w-1]) + "~"
}

// capWidths shrinks the widest columns until the table fits termWidth.
// No column is reduced below its header width.
func capWidths(widths []int, headers []string, termWidth, prefix int) []int {
	out := append([]int(nil), widths...)
	total := func() int {
		n := prefix + 2*(len(out)-1)
		for _, w := range out {
			n += w
		}
		return n
	}
	for total() > termWidth {
		widest := -1
		for i, w := range out {
			if w > visualLen(headers[i]) && (widest < 0 || w > out[widest]) {
				widest = i
			}
		}
		if widest < 0 {
			break
		}
		out[widest]--
	}
	return out
}
