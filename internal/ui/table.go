package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Alignment specifies how text should be aligned within a column.
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// Column defines a table column. A zero Width sizes the column to its
// widest cell.
type Column struct {
	Header string
	Width  int
	Align  Alignment
}

// Table renders tabular data with consistent formatting.
type Table struct {
	columns    []Column
	rows       [][]string
	indent     int
	hideHeader bool
}

func NewTable() *Table {
	return &Table{
		indent: 2,
	}
}

// Indent sets the left indentation for the table.
func (t *Table) Indent(spaces int) *Table {
	t.indent = spaces
	return t
}

// HideHeader renders rows only, for key/value listings.
func (t *Table) HideHeader() *Table {
	t.hideHeader = true
	return t
}

func (t *Table) AddColumn(header string, width int, align Alignment) *Table {
	t.columns = append(t.columns, Column{
		Header: header,
		Width:  width,
		Align:  align,
	})
	return t
}

func (t *Table) AddRow(values ...string) *Table {
	t.rows = append(t.rows, values)
	return t
}

// widths resolves auto-sized columns against the header and row contents.
func (t *Table) widths() []int {
	widths := make([]int, len(t.columns))
	for i, col := range t.columns {
		if col.Width > 0 {
			widths[i] = col.Width
			continue
		}
		if !t.hideHeader {
			widths[i] = lipgloss.Width(col.Header)
		}
		for _, row := range t.rows {
			if i < len(row) {
				widths[i] = max(widths[i], lipgloss.Width(row[i]))
			}
		}
	}
	return widths
}

// formatCell truncates and pads value to width. Truncation counts runes so
// multi-byte names are never cut mid-character.
func formatCell(value string, width int, align Alignment) string {
	if w := lipgloss.Width(value); w > width {
		runes := []rune(value)
		if width <= 3 {
			value = string(runes[:min(width, len(runes))])
		} else {
			value = string(runes[:min(width-3, len(runes))]) + "..."
		}
	}

	pad := strings.Repeat(" ", max(width-lipgloss.Width(value), 0))
	if align == AlignRight {
		return pad + value
	}
	return value + pad
}

// Render returns the formatted table as a string.
func (t *Table) Render() string {
	if len(t.columns) == 0 {
		return ""
	}

	var b strings.Builder
	indent := strings.Repeat(" ", t.indent)
	gap := "  "
	widths := t.widths()

	writeRow := func(cell func(i int) string) {
		b.WriteString(indent)
		for i := range t.columns {
			if i > 0 {
				b.WriteString(gap)
			}
			b.WriteString(cell(i))
		}
		b.WriteString("\n")
	}

	if !t.hideHeader {
		writeRow(func(i int) string {
			return Header(formatCell(t.columns[i].Header, widths[i], t.columns[i].Align))
		})
	}

	for _, row := range t.rows {
		writeRow(func(i int) string {
			value := ""
			if i < len(row) {
				value = row[i]
			}
			return formatCell(value, widths[i], t.columns[i].Align)
		})
	}

	return b.String()
}

func (t *Table) String() string {
	return t.Render()
}
