package pricing

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// Column headers of the pricing feed.
const (
	HeaderStoreID     = "Store ID"
	HeaderSKU         = "SKU"
	HeaderProductName = "Product Name"
	HeaderPrice       = "Price"
	HeaderDate        = "Date"
)

// TemplateFilename is the suggested download name for Template.
const TemplateFilename = "pricing-feed-template.csv"

var (
	feedHeader      = []string{HeaderStoreID, HeaderSKU, HeaderProductName, HeaderPrice, HeaderDate}
	requiredHeaders = []string{HeaderStoreID, HeaderSKU, HeaderProductName, HeaderPrice}

	templateRows = [][]string{
		{"IND-0456", "ABC123", "iPhone 15 Pro", "999.99", "2026-02-06"},
		{"IND-0456", "ABC124", "iPhone 15 Pro Max", "1199.99", "2026-02-06"},
		{"USA-0789", "DEF456", `MacBook Pro 16"`, "2499.99", "2026-02-05"},
	}

	zipMagic = []byte("PK\x03\x04")
)

// ParseCSV reads a pricing feed and validates every data row. Fully blank lines
// are skipped; RowIndex is the source line the row starts on, so the first data
// row under the header is row 2. maxRows <= 0 disables the row limit.
func ParseCSV(r io.Reader, maxRows int) ([]ParsedRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = false

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrParse, err)
	}
	columns, err := mapHeader(header)
	if err != nil {
		return nil, err
	}

	var rows []ParsedRow
	for {
		cells, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		if blankRow(cells) {
			continue
		}
		if maxRows > 0 && len(rows) >= maxRows {
			return nil, fmt.Errorf("%w: more than %d rows", ErrTooManyRows, maxRows)
		}
		fields := Fields{
			StoreID:     cell(cells, columns[HeaderStoreID]),
			SKU:         cell(cells, columns[HeaderSKU]),
			ProductName: cell(cells, columns[HeaderProductName]),
			Price:       cell(cells, columns[HeaderPrice]),
			Date:        cell(cells, columns[HeaderDate]),
		}
		line, _ := reader.FieldPos(0)
		errs := RowErrors(fields)
		rows = append(rows, ParsedRow{
			RowIndex: line,
			Fields:   fields,
			Valid:    len(errs) == 0,
			Errors:   errs,
		})
	}
	if len(rows) == 0 {
		return nil, ErrEmptyFile
	}
	return rows, nil
}

func mapHeader(header []string) (map[string]int, error) {
	columns := make(map[string]int, len(feedHeader))
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		name = strings.TrimSpace(name)
		for _, want := range feedHeader {
			if !strings.EqualFold(name, want) {
				continue
			}
			if _, seen := columns[want]; !seen {
				columns[want] = i
			}
		}
	}
	if _, ok := columns[HeaderDate]; !ok {
		columns[HeaderDate] = -1
	}
	var missing []string
	for _, want := range requiredHeaders {
		if _, ok := columns[want]; !ok {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing column(s) %s", ErrParse, strings.Join(missing, ", "))
	}
	return columns, nil
}

func cell(cells []string, idx int) string {
	if idx < 0 || idx >= len(cells) {
		return ""
	}
	return cells[idx]
}

func blankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// OpenUpload returns a reader over the CSV payload. Zip archives are unpacked and
// their first .csv entry is used; maxBytes bounds the decompressed size.
func OpenUpload(data []byte, contentType string, maxBytes int64) (io.Reader, error) {
	isZip := strings.HasPrefix(strings.ToLower(contentType), "application/zip") || bytes.HasPrefix(data, zipMagic)
	if !isZip {
		return bytes.NewReader(data), nil
	}
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: read zip: %v", ErrParse, err)
	}
	names := make([]string, 0, len(archive.File))
	for _, f := range archive.File {
		names = append(names, f.Name)
		if f.FileInfo().IsDir() || !strings.EqualFold(path.Ext(f.Name), ".csv") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %v", ErrParse, f.Name, err)
		}
		defer rc.Close()
		var src io.Reader = rc
		if maxBytes > 0 {
			src = io.LimitReader(rc, maxBytes+1)
		}
		payload, err := io.ReadAll(src)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrParse, f.Name, err)
		}
		if maxBytes > 0 && int64(len(payload)) > maxBytes {
			return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, f.Name, maxBytes)
		}
		return bytes.NewReader(payload), nil
	}
	return nil, fmt.Errorf("%w: no csv file in archive (found %s)", ErrParse, strings.Join(names, ", "))
}

// Template renders the downloadable feed template.
func Template() []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(feedHeader)
	_ = w.WriteAll(templateRows)
	return buf.Bytes()
}
