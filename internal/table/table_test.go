package table

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromJSONPreservesColumnOrderAndCoercesCells(t *testing.T) {
	raw := []byte(`{"Name":["A","B"],"Score":[10,2.5],"Flag":[true,null],"yearText":"Year: 1444"}`)
	state, err := FromJSON(raw)
	require.NoError(t, err)

	assert.Equal(t, []string{"Name", "Score", "Flag"}, state.Columns())
	assert.Equal(t, 2, state.RowCount())
	assert.Equal(t, "10", state.Cell("Score", 0))
	assert.Equal(t, "2.5", state.Cell("Score", 1))
	assert.Equal(t, "true", state.Cell("Flag", 0))
	assert.Equal(t, "", state.Cell("Flag", 1))
}

func TestFromJSONRejectsNonObject(t *testing.T) {
	_, err := FromJSON([]byte(`["Name"]`))
	assert.Error(t, err)
}

func TestFromJSONKeepsNonArrayColumnAsEmpty(t *testing.T) {
	state, err := FromJSON([]byte(`{"Name":["A"],"Broken":"oops"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"Name", "Broken"}, state.Columns())
	assert.Equal(t, "", state.Cell("Broken", 0))
}

func TestRowCountIsMaxAcrossRaggedColumns(t *testing.T) {
	state := New([]string{"Name", "TAG"}, map[string][]string{
		"Name": {"A", "B", "C"},
		"TAG":  {"red"},
	})
	assert.Equal(t, 3, state.RowCount())
	assert.Equal(t, "", state.Cell("TAG", 2))
}

func TestDeleteRowRenumbersSurvivors(t *testing.T) {
	state := New([]string{"Name"}, map[string][]string{
		"Name": {"A", "B", "C"},
	})
	state.DeleteRow(1)

	assert.Equal(t, map[string][]string{"Name": {"A", "C"}}, state.Document())
	// Indices above the removed row shift down by one; below stay put.
	assert.Equal(t, []int{0, 1}, state.VisibleRows())
	assert.Equal(t, 2, state.RowCount())
}

func TestDeleteRowShortensEveryColumnByOne(t *testing.T) {
	state := New([]string{"Name", "TAG", "Score"}, map[string][]string{
		"Name":  {"A", "B", "C"},
		"TAG":   {"red", "blue", "green"},
		"Score": {"1", "2", "3"},
	})
	state.DeleteRow(0)

	doc := state.Document()
	for col, cells := range doc {
		assert.Len(t, cells, 2, "column %s", col)
	}
	assert.Equal(t, "B", state.Cell("Name", 0))
}

func TestDeleteRowRemapsFilteredView(t *testing.T) {
	state := New([]string{"Name", "TAG"}, map[string][]string{
		"Name": {"apple", "banana", "apricot"},
		"TAG":  {"r", "g", "b"},
	})
	state.Filter("ap") // rows 0 and 2
	assert.Equal(t, []int{0, 2}, state.VisibleRows())

	state.DeleteRow(0)
	assert.Equal(t, []int{1}, state.VisibleRows())
}

func TestSortAscendingThenDescendingAreReverses(t *testing.T) {
	state := New([]string{"Score"}, map[string][]string{
		"Score": {"30", "7", "100", "2"},
	})

	state.Sort("Score", false)
	asc := state.VisibleRows()
	assert.Equal(t, []int{3, 1, 0, 2}, asc)

	state.ResetView()
	state.Sort("Score", true)
	desc := state.VisibleRows()

	for i := range asc {
		assert.Equal(t, asc[i], desc[len(desc)-1-i])
	}
}

func TestSortFallsBackToLexicalWhenNotNumeric(t *testing.T) {
	state := New([]string{"Name"}, map[string][]string{
		"Name": {"banana", "  Apple ", "cherry"},
	})
	state.Sort("Name", false)
	assert.Equal(t, []int{1, 0, 2}, state.VisibleRows())
}

func TestSortWithEmptyColumnIsNoOp(t *testing.T) {
	state := New([]string{"Name"}, map[string][]string{
		"Name": {"b", "a"},
	})
	state.Sort("", false)
	assert.Equal(t, []int{0, 1}, state.VisibleRows())
}

func TestFilterEmptyQueryRestoresOriginalOrder(t *testing.T) {
	state := New([]string{"Name", "TAG"}, map[string][]string{
		"Name": {"A", "B", "C"},
		"TAG":  {"x", "y", "z"},
	})
	state.Sort("Name", true)
	state.Filter("")
	assert.Equal(t, []int{0, 1, 2}, state.VisibleRows())

	// Idempotent: filtering empty again changes nothing.
	state.Filter("")
	assert.Equal(t, []int{0, 1, 2}, state.VisibleRows())
}

func TestFilterMatchesNameAndTagCaseInsensitively(t *testing.T) {
	state := New([]string{"Name", "TAG", "Notes"}, map[string][]string{
		"Name":  {"France", "Castile", "Ottomans"},
		"TAG":   {"FRA", "CAS", "TUR"},
		"Notes": {"fra", "fra", "fra"},
	})
	state.Filter("fra")
	// Notes matches must not count; only Name and TAG are searched.
	assert.Equal(t, []int{0}, state.VisibleRows())

	state.Filter("TUR")
	assert.Equal(t, []int{2}, state.VisibleRows())
}

func TestSetCellGrowsColumn(t *testing.T) {
	state := New([]string{"Name"}, map[string][]string{"Name": {"A"}})
	state.SetCell("Name", 2, "C")
	assert.Equal(t, 3, state.RowCount())
	assert.Equal(t, "", state.Cell("Name", 1))
	assert.Equal(t, "C", state.Cell("Name", 2))
}

func TestMarshalJSONPreservesColumnOrder(t *testing.T) {
	state, err := FromJSON([]byte(`{"Zeta":["1"],"Alpha":["2"]}`))
	require.NoError(t, err)

	raw, err := json.Marshal(state)
	require.NoError(t, err)
	assert.Equal(t, `{"Zeta":["1"],"Alpha":["2"]}`, string(raw))
}

func TestNewExcludesReservedYearColumn(t *testing.T) {
	state := New([]string{"Name", "yearText"}, map[string][]string{
		"Name":     {"A"},
		"yearText": {"Year: 1444"},
	})
	assert.Equal(t, []string{"Name"}, state.Columns())
}
