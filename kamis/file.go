package kamis

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"agri-price-api/apperr"

	"github.com/xuri/excelize/v2"
)

// ParseFile reads a CSV or XLSX export into raw records. The first non-empty
// row is the header. Structural problems (unknown extension, unreadable
// file, missing columns) are validation errors; bad data rows are not, they
// surface later as RowErrors from Normalize.
func ParseFile(name string, r io.Reader) ([]RawRecord, error) {
	var (
		format Format
		rows   [][]string
		err    error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		format = FormatCSV
		rows, err = readCSV(r)
	case ".xlsx":
		format = FormatXLSX
		rows, err = readXLSX(r)
	default:
		return nil, apperr.Validation("unsupported file type %q, expected .csv or .xlsx", filepath.Ext(name))
	}
	if err != nil {
		return nil, apperr.Validation("could not read %s: %v", name, err)
	}
	return rowsToRecords(format, rows)
}

func readCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	return cr.ReadAll()
}

func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	if sheet == "" {
		sheet = sheets[0]
	}
	return f.GetRows(sheet)
}

func rowsToRecords(format Format, rows [][]string) ([]RawRecord, error) {
	headerAt := -1
	for i, row := range rows {
		if !blank(row) {
			headerAt = i
			break
		}
	}
	if headerAt < 0 {
		return nil, apperr.Validation("file is empty")
	}

	idx := indexHeader(rows[headerAt])
	if missing := idx.missing(false); len(missing) > 0 {
		return nil, apperr.Validation("file is missing required columns: %s (found %s)",
			strings.Join(missing, ", "), strings.Join(rows[headerAt], ", "))
	}

	var out []RawRecord
	for i := headerAt + 1; i < len(rows); i++ {
		if blank(rows[i]) {
			continue
		}
		out = append(out, idx.record(format, i+1, "", rows[i]))
	}
	if len(out) == 0 {
		return nil, apperr.Validation("file has a header but no data rows")
	}
	return out, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// FileSource replays parsed upload rows as a Source, chunked so progress can
// be reported while a large file is committed.
type FileSource struct {
	Name      string
	Records   []RawRecord
	ChunkSize int
}

func (s *FileSource) Fetch(ctx context.Context, q Query, emit func(Batch) error) error {
	size := s.ChunkSize
	if size < 1 {
		size = 200
	}
	for start := 0; start < len(s.Records); start += size {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+size, len(s.Records))
		if err := emit(NormalizeAll(s.Name, s.Records[start:end], q)); err != nil {
			return err
		}
	}
	return nil
}
