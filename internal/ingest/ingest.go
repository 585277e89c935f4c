// Package ingest turns an uploaded spreadsheet into ordered raw records.
package ingest

import (
	"bytes"
	"encoding/csv"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/Lllllllleong/reportbatchflow/internal/errors"
	"github.com/Lllllllleong/reportbatchflow/internal/models"
)

// Dataset is the parsed content of one upload.
type Dataset struct {
	Headers []string
	Records []models.RawRecord
}

var zipMagic = []byte("PK\x03\x04")

// Parse reads an .xlsx workbook (first sheet) or a CSV file. The first row
// holds the column labels; rows with no content are dropped. Every failure
// is marked errors.ErrFormat.
func Parse(filename string, data []byte) (*Dataset, error) {
	if len(data) == 0 {
		return nil, errors.Mark(errors.New("upload is empty"), errors.ErrFormat)
	}

	var (
		rows [][]string
		err  error
	)
	if isWorkbook(filename, data) {
		rows, err = readWorkbook(data)
	} else {
		rows, err = readCSV(data)
	}
	if err != nil {
		return nil, errors.Mark(err, errors.ErrFormat)
	}
	return buildDataset(rows)
}

// SupportedExtension reports whether name looks like an input this package reads.
func SupportedExtension(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm", ".csv":
		return true
	}
	return false
}

func isWorkbook(filename string, data []byte) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		return true
	case ".csv":
		return false
	}
	return bytes.HasPrefix(data, zipMagic)
}

func readWorkbook(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open workbook")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read sheet %q", sheets[0])
	}
	return rows, nil
}

func readCSV(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var rows [][]string
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse CSV")
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func buildDataset(rows [][]string) (*Dataset, error) {
	start := 0
	for start < len(rows) && blank(rows[start]) {
		start++
	}
	if start == len(rows) {
		return nil, errors.Mark(errors.New("no header row found"), errors.ErrFormat)
	}
	headers := rows[start]

	ds := &Dataset{Headers: headers}
	for _, row := range rows[start+1:] {
		if blank(row) {
			continue
		}
		rec := make(models.RawRecord, 0, len(headers))
		for i, label := range headers {
			var v any
			if i < len(row) {
				v = row[i]
			}
			rec = append(rec, models.Field{Label: label, Value: v})
		}
		ds.Records = append(ds.Records, rec)
	}
	if len(ds.Records) == 0 {
		return nil, errors.Mark(errors.New("spreadsheet contains a header row but no data rows"), errors.ErrFormat)
	}
	return ds, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
