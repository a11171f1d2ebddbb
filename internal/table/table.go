// Package table is the in-memory table state: column values plus the derived
// display index sets. It replaces the original free-standing globals with an
// explicit state type so the logic is testable without a renderer.
package table

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const reservedYearKey = "yearText"

// Columns searched by Filter. The source application hardcodes these two.
const (
	nameColumn = "Name"
	tagColumn  = "TAG"
)

// State holds the table data and the two index sets derived from it:
// originalOrder reflects on-disk row order, filteredIndices is the display
// subset after search/sort.
type State struct {
	columns         []string
	cells           map[string][]string
	originalOrder   []int
	filteredIndices []int
}

// New builds a state from columns in the given order. Unknown lengths are
// fine; row count is the max across columns.
func New(columns []string, cells map[string][]string) *State {
	s := &State{
		columns: make([]string, 0, len(columns)),
		cells:   make(map[string][]string, len(cells)),
	}
	for _, col := range columns {
		if col == reservedYearKey {
			continue
		}
		s.columns = append(s.columns, col)
		s.cells[col] = append([]string(nil), cells[col]...)
	}
	s.rebuildOrder()
	return s
}

// FromJSON decodes a table document, preserving the document's column order
// and coercing every cell to a string. Non-array column values become empty
// columns rather than failing the whole document.
func FromJSON(raw []byte) (*State, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode table document: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("table document is not an object")
	}

	var columns []string
	cells := make(map[string][]string)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode column name: %w", err)
		}
		key := keyTok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("decode column %q: %w", key, err)
		}
		if key == reservedYearKey {
			continue
		}

		columns = append(columns, key)
		var rawCells []any
		if err := json.Unmarshal(value, &rawCells); err != nil {
			// Scalar or object value; keep the column but with no cells.
			cells[key] = nil
			continue
		}
		col := make([]string, len(rawCells))
		for i, cell := range rawCells {
			col[i] = coerceCell(cell)
		}
		cells[key] = col
	}

	return New(columns, cells), nil
}

// Clone returns an independent deep copy. Callers that hand a state to
// another goroutine snapshot it first; the copies share nothing.
func (s *State) Clone() *State {
	out := &State{
		columns:         append([]string(nil), s.columns...),
		cells:           make(map[string][]string, len(s.cells)),
		originalOrder:   append([]int(nil), s.originalOrder...),
		filteredIndices: append([]int(nil), s.filteredIndices...),
	}
	for col, cells := range s.cells {
		out.cells[col] = append([]string(nil), cells...)
	}
	return out
}

// Columns returns the display columns in document order.
func (s *State) Columns() []string {
	return append([]string(nil), s.columns...)
}

// RowCount is the max column length; missing cells read as empty strings.
func (s *State) RowCount() int {
	max := 0
	for _, col := range s.columns {
		if n := len(s.cells[col]); n > max {
			max = n
		}
	}
	return max
}

// Cell returns the value at (column, row), or "" when either is absent.
func (s *State) Cell(column string, row int) string {
	col := s.cells[column]
	if row < 0 || row >= len(col) {
		return ""
	}
	return col[row]
}

// SetCell mutates a cell in place, growing the column as needed. It does not
// persist; saving is the caller's concern.
func (s *State) SetCell(column string, row int, value string) {
	if row < 0 {
		return
	}
	col, ok := s.cells[column]
	if !ok {
		s.columns = append(s.columns, column)
	}
	for len(col) <= row {
		col = append(col, "")
	}
	col[row] = value
	s.cells[column] = col
	if row >= len(s.originalOrder) {
		s.rebuildOrder()
	}
}

// DeleteRow removes the row from every column that has it, then remaps both
// index sets: the removed index is dropped and every higher index shifts
// down by one, preserving survivor order.
func (s *State) DeleteRow(row int) {
	if row < 0 || row >= s.RowCount() {
		return
	}
	for _, column := range s.columns {
		col := s.cells[column]
		if row < len(col) {
			s.cells[column] = append(col[:row], col[row+1:]...)
		}
	}
	s.originalOrder = remapAfterDelete(s.originalOrder, row)
	s.filteredIndices = remapAfterDelete(s.filteredIndices, row)
}

// Filter recomputes the display subset by case-insensitive substring match
// against the Name and TAG columns. An empty query restores original order.
func (s *State) Filter(query string) {
	query = strings.ToLower(query)
	if query == "" {
		s.ResetView()
		return
	}
	filtered := make([]int, 0, len(s.originalOrder))
	for _, row := range s.originalOrder {
		name := strings.ToLower(s.Cell(nameColumn, row))
		tag := strings.ToLower(s.Cell(tagColumn, row))
		if strings.Contains(name, query) || strings.Contains(tag, query) {
			filtered = append(filtered, row)
		}
	}
	s.filteredIndices = filtered
}

// Sort orders the display subset by a column: numeric when both sides parse
// as numbers, otherwise case-insensitive trimmed lexical. desc flips the
// direction. An empty column name is a no-op, matching the "no column
// selected" control state.
func (s *State) Sort(column string, desc bool) {
	if column == "" {
		return
	}
	sort.SliceStable(s.filteredIndices, func(i, j int) bool {
		a := strings.TrimSpace(strings.ToLower(s.Cell(column, s.filteredIndices[i])))
		b := strings.TrimSpace(strings.ToLower(s.Cell(column, s.filteredIndices[j])))
		numA, errA := strconv.ParseFloat(a, 64)
		numB, errB := strconv.ParseFloat(b, 64)
		var cmp int
		if errA == nil && errB == nil {
			switch {
			case numA < numB:
				cmp = -1
			case numA > numB:
				cmp = 1
			}
		} else {
			cmp = strings.Compare(a, b)
		}
		if desc {
			return cmp > 0
		}
		return cmp < 0
	})
}

// ResetView restores the unsorted, unfiltered display order.
func (s *State) ResetView() {
	s.filteredIndices = append([]int(nil), s.originalOrder...)
}

// VisibleRows returns the current display subset.
func (s *State) VisibleRows() []int {
	return append([]int(nil), s.filteredIndices...)
}

// Document returns a plain column→cells mapping, suitable for saving.
func (s *State) Document() map[string][]string {
	out := make(map[string][]string, len(s.columns))
	for _, col := range s.columns {
		out[col] = append([]string(nil), s.cells[col]...)
	}
	return out
}

// MarshalJSON writes the table with its column order preserved.
func (s *State) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range s.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(col)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		cells := s.cells[col]
		if cells == nil {
			cells = []string{}
		}
		values, err := json.Marshal(cells)
		if err != nil {
			return nil, err
		}
		buf.Write(values)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (s *State) rebuildOrder() {
	count := s.RowCount()
	s.originalOrder = make([]int, count)
	for i := range s.originalOrder {
		s.originalOrder[i] = i
	}
	s.ResetView()
}

func remapAfterDelete(indices []int, removed int) []int {
	out := make([]int, 0, len(indices))
	for _, idx := range indices {
		switch {
		case idx == removed:
		case idx > removed:
			out = append(out, idx-1)
		default:
			out = append(out, idx)
		}
	}
	return out
}

func coerceCell(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}
