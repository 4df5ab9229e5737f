// Package ngimport reads client NG lists from CSV or XLSX uploads and
// writes the CSV template operators fill in.
package ngimport

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"path/filepath"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/saleslist/internal/store"
)

// Column names of the import format.
const (
	ColumnCompanyName = "company_name"
	ColumnReason      = "reason"
)

// TemplateFilename is the download name of the CSV template.
const TemplateFilename = "ng_companies_template.csv"

// ErrUnsupportedFormat is returned for files that are neither .csv nor .xlsx.
var ErrUnsupportedFormat = errors.New("ngimport: unsupported file format")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Parse decodes an uploaded NG list, picking the format from the file
// extension. Rows are returned as read; blank and repeated names are left
// for the store to skip.
func Parse(filename string, r io.Reader) ([]store.NGImportRow, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return ReadCSV(r)
	case ".xlsx":
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, eris.Wrap(err, "ngimport: read upload")
		}
		return ReadXLSX(data)
	default:
		return nil, eris.Wrapf(ErrUnsupportedFormat, "ngimport: %q", filename)
	}
}

// ReadCSV decodes a CSV with a company_name column and an optional reason
// column. A leading UTF-8 BOM is ignored.
func ReadCSV(r io.Reader) ([]store.NGImportRow, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "ngimport: read csv")
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, eris.New("ngimport: csv is empty")
		}
		return nil, eris.Wrap(err, "ngimport: read csv header")
	}
	header = normalizeHeader(header)
	if _, ok := columnIndex(header, ColumnCompanyName); !ok {
		return nil, eris.Errorf("ngimport: csv has no %s column", ColumnCompanyName)
	}

	dec, err := csvutil.NewDecoder(cr, header...)
	if err != nil {
		return nil, eris.Wrap(err, "ngimport: csv decoder")
	}

	var rows []store.NGImportRow
	for {
		var row store.NGImportRow
		if err := dec.Decode(&row); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, eris.Wrapf(err, "ngimport: decode csv line %d", len(rows)+2)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ReadXLSX decodes the first sheet of a workbook. The first row is the
// header and must contain company_name.
func ReadXLSX(data []byte) ([]store.NGImportRow, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "ngimport: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("ngimport: xlsx has no sheets")
	}
	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, eris.New("ngimport: xlsx is empty")
	}

	header := normalizeHeader(rowToStrings(sheet.Rows[0]))
	nameCol, ok := columnIndex(header, ColumnCompanyName)
	if !ok {
		return nil, eris.Errorf("ngimport: xlsx has no %s column", ColumnCompanyName)
	}
	reasonCol, hasReason := columnIndex(header, ColumnReason)

	rows := make([]store.NGImportRow, 0, len(sheet.Rows)-1)
	for _, r := range sheet.Rows[1:] {
		cells := rowToStrings(r)
		row := store.NGImportRow{CompanyName: cell(cells, nameCol)}
		if hasReason {
			row.Reason = cell(cells, reasonCol)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// WriteTemplate writes the CSV template: the header and one example row.
func WriteTemplate(w io.Writer) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	if err := enc.Encode(store.NGImportRow{
		CompanyName: "例：株式会社サンプル",
		Reason:      "競合企業のため",
	}); err != nil {
		return eris.Wrap(err, "ngimport: encode template")
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "ngimport: write template")
}

func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = strings.ToLower(strings.TrimSpace(h))
	}
	return out
}

func columnIndex(header []string, name string) (int, bool) {
	for i, h := range header {
		if h == name {
			return i, true
		}
	}
	return 0, false
}

func cell(cells []string, i int) string {
	if i < len(cells) {
		return cells[i]
	}
	return ""
}

func rowToStrings(row *xlsx.Row) []string {
	if row == nil {
		return nil
	}
	cells := make([]string, len(row.Cells))
	for j, c := range row.Cells {
		cells[j] = c.String()
	}
	return cells
}
