package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// TableRenderer is implemented by values that know their own tabular shape.
type TableRenderer interface {
	Headers() []string
	Rows() [][]string
}

// plainTable builds the borderless left-aligned layout every cconnectd
// diagnostic uses.
func plainTable(w io.Writer, colSep string, formatHeaders bool) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetAutoWrapText(false)
	t.SetAutoFormatHeaders(formatHeaders)
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetCenterSeparator("")
	t.SetColumnSeparator(colSep)
	t.SetRowSeparator("")
	t.SetHeaderLine(false)
	t.SetBorder(false)
	t.SetTablePadding("  ")
	t.SetNoWhiteSpace(true)
	return t
}

// PrintTable renders a header row followed by the data rows.
func PrintTable(w io.Writer, data TableRenderer) error {
	t := plainTable(w, "", true)
	t.SetHeader(data.Headers())
	for _, row := range data.Rows() {
		t.Append(row)
	}
	t.Render()
	return nil
}

// TableData collects ad-hoc rows for PrintTable.
type TableData struct {
	headers []string
	rows    [][]string
}

// NewTableData creates an empty table with the given headers.
func NewTableData(headers ...string) *TableData {
	return &TableData{headers: headers}
}

// AddRow appends one row.
func (t *TableData) AddRow(row ...string) {
	t.rows = append(t.rows, row)
}

func (t *TableData) Headers() []string { return t.headers }
func (t *TableData) Rows() [][]string  { return t.rows }

// SimpleTable prints key-value pairs, one per row, colon separated.
func SimpleTable(w io.Writer, pairs [][2]string) error {
	t := plainTable(w, ":", false)
	for _, pair := range pairs {
		t.Append([]string{pair[0], pair[1]})
	}
	t.Render()
	return nil
}
