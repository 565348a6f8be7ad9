// Package export writes tabular results as JSON, CSV or XLSX.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/webtranspose/internal/archive"
	"github.com/sells-group/webtranspose/pkg/webtranspose"
)

// Format is an output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")); ext {
	case "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "xlsx":
		return FormatXLSX, nil
	default:
		return "", eris.Errorf("export: unsupported extension %q (want .json, .csv or .xlsx)", filepath.Ext(path))
	}
}

// Table is a named header plus string rows.
type Table struct {
	Name   string
	Header []string
	Rows   [][]string
}

// SearchResults tabulates a search response. When filtered is set and the
// response carries filtered results, those are written instead of the raw
// hits.
func SearchResults(resp *webtranspose.SearchResponse, filtered bool) Table {
	hits := resp.Results
	if filtered && !resp.Degraded && resp.FilteredResults != nil {
		hits = resp.FilteredResults
	}
	t := Table{Name: "results", Header: []string{"url", "title", "snippet"}}
	for _, h := range hits {
		t.Rows = append(t.Rows, []string{h.URL, h.Title, h.Snippet})
	}
	return t
}

// URLs tabulates a URL list.
func URLs(name string, urls []string) Table {
	t := Table{Name: name, Header: []string{"url"}}
	for _, u := range urls {
		t.Rows = append(t.Rows, []string{u})
	}
	return t
}

// ArchiveEntries tabulates pages written by an archive download.
func ArchiveEntries(entries []archive.Entry) Table {
	t := Table{Name: "pages", Header: []string{"url", "title", "path"}}
	for _, e := range entries {
		t.Rows = append(t.Rows, []string{e.URL, e.Title, e.Path})
	}
	return t
}

// WriteFile writes t to path in the format implied by its extension.
func WriteFile(path string, t Table) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "export: create file")
	}
	if err := Write(f, format, t); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrap(f.Close(), "export: close file")
}

// Write encodes t to w.
func Write(w io.Writer, format Format, t Table) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, t)
	case FormatCSV:
		return writeCSV(w, t)
	case FormatXLSX:
		return writeXLSX(w, t)
	default:
		return eris.Errorf("export: unsupported format %q", format)
	}
}

// writeJSON emits an array of objects keyed by header.
func writeJSON(w io.Writer, t Table) error {
	out := make([]map[string]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		obj := make(map[string]string, len(t.Header))
		for i, h := range t.Header {
			if i < len(row) {
				obj[h] = row[i]
			}
		}
		out = append(out, obj)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(out), "export: encode json")
}

func writeCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return eris.Wrap(err, "export: write csv rows")
	}
	return nil
}

func writeXLSX(w io.Writer, t Table) error {
	f := xlsx.NewFile()
	name := t.Name
	if name == "" {
		name = "Sheet1"
	}
	sheet, err := f.AddSheet(name)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}
	addRow(sheet, t.Header)
	for _, row := range t.Rows {
		addRow(sheet, row)
	}
	return eris.Wrap(f.Write(w), "export: write xlsx")
}

func addRow(sheet *xlsx.Sheet, cells []string) {
	row := sheet.AddRow()
	for _, c := range cells {
		row.AddCell().SetString(c)
	}
}
