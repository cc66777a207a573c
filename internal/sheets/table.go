package sheets

import (
	"strings"
)

// Table is an ordered, header-driven view of one tab. Column lookups are
// case-insensitive and tolerant of line breaks and repeated whitespace in
// header cells, which are common in hand-maintained workbooks.
type Table struct {
	SpreadsheetID string
	Tab           string

	headers []string
	index   map[string]int
	rows    [][]string
}

// NewTable builds a Table from a header row and data rows. Used by the
// client after a ranged read and by tests to build fixtures directly.
func NewTable(spreadsheetID, tab string, headers []string, rows [][]string) *Table {
	t := &Table{
		SpreadsheetID: spreadsheetID,
		Tab:           tab,
		headers:       headers,
		index:         make(map[string]int, len(headers)),
		rows:          rows,
	}
	for i, h := range headers {
		key := NormalizeHeader(h)
		if key == "" {
			continue
		}
		// First occurrence wins when a header repeats.
		if _, ok := t.index[key]; !ok {
			t.index[key] = i
		}
	}
	return t
}

// NormalizeHeader canonicalizes a header cell: lowercased, line breaks
// treated as spaces, runs of whitespace collapsed.
func NormalizeHeader(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.Join(strings.Fields(s), " ")
}

// Len returns the number of data rows (excluding the header).
func (t *Table) Len() int {
	return len(t.rows)
}

// Headers returns the header cells in column order.
func (t *Table) Headers() []string {
	return t.headers
}

// Col returns the column index for a header name, or false if absent.
func (t *Table) Col(name string) (int, bool) {
	i, ok := t.index[NormalizeHeader(name)]
	return i, ok
}

// HasColumn reports whether a header name exists in the table.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.Col(name)
	return ok
}

// Cell returns the trimmed value at (row, column name); empty string when
// the row is short or the column does not exist.
func (t *Table) Cell(row int, name string) string {
	i, ok := t.Col(name)
	if !ok || row < 0 || row >= len(t.rows) {
		return ""
	}
	r := t.rows[row]
	if i >= len(r) {
		return ""
	}
	return strings.TrimSpace(r[i])
}

// SheetRow converts a data row index to its 1-based sheet row number,
// accounting for the header row.
func (t *Table) SheetRow(row int) int {
	return row + 2
}
