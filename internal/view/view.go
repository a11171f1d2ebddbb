// Package view renders the read-only table projection served at /.
package view

import (
	"io"
	"strings"

	"github.com/eltffn/dane-table-app/internal/table"
)

type Page struct {
	Year       string
	Columns    []string
	Rows       []Row
	Query      string
	SortColumn string
	SortDesc   bool
}

type Row struct {
	Rank  int
	Cells []Cell
}

type Cell struct {
	Column string
	Value  string
	IsTag  bool
	// Color is the swatch value for TAG cells, "#" + trimmed cell value.
	Color string
}

// BuildPage projects a table state into the display model: one row per
// visible index, 1-based rank, TAG cells rendered as color swatches.
func BuildPage(state *table.State, year, query, sortColumn string, sortDesc bool) Page {
	columns := state.Columns()
	visible := state.VisibleRows()

	rows := make([]Row, 0, len(visible))
	for displayIndex, rowIndex := range visible {
		cells := make([]Cell, 0, len(columns))
		for _, column := range columns {
			value := state.Cell(column, rowIndex)
			cell := Cell{Column: column, Value: value}
			if strings.EqualFold(column, "tag") {
				cell.IsTag = true
				cell.Color = "#" + strings.TrimSpace(value)
			}
			cells = append(cells, cell)
		}
		rows = append(rows, Row{Rank: displayIndex + 1, Cells: cells})
	}

	return Page{
		Year:       year,
		Columns:    columns,
		Rows:       rows,
		Query:      query,
		SortColumn: sortColumn,
		SortDesc:   sortDesc,
	}
}

func Render(w io.Writer, page Page) error {
	return tableTemplate.Execute(w, page)
}
