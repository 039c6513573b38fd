package pricing

import (
	"archive/zip"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCSV(t *testing.T) {
	input := "\ufeffstore id , SKU,Product Name,Price,Date,Extra\n" +
		"IND-0456,ABC123456,iPhone 15 Pro,999.99,2026-02-06,x\n" +
		"\n" +
		",,,,\n" +
		"bad,BAD,,-5,notadate\n" +
		"USA-0789,DEF456,\"MacBook Pro 16\"\"\",2499.99\n"

	rows, err := ParseCSV(strings.NewReader(input), 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	require.Equal(t, 2, rows[0].RowIndex)
	require.True(t, rows[0].Valid)
	require.Equal(t, "iPhone 15 Pro", rows[0].Fields.ProductName)

	require.Equal(t, 5, rows[1].RowIndex, "blank lines keep their source line numbers")
	require.False(t, rows[1].Valid)
	require.Len(t, rows[1].Errors, 5)

	require.Equal(t, 6, rows[2].RowIndex)
	require.True(t, rows[2].Valid)
	require.Equal(t, `MacBook Pro 16"`, rows[2].Fields.ProductName)
	require.Equal(t, "", rows[2].Fields.Date)
}

func TestParseCSVWithoutDateColumn(t *testing.T) {
	rows, err := ParseCSV(strings.NewReader("Store ID,SKU,Product Name,Price\nIND-0456,ABC123,Widget,1\n"), 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].Valid)
}

func TestParseCSVFailures(t *testing.T) {
	_, err := ParseCSV(strings.NewReader(""), 0)
	require.ErrorIs(t, err, ErrEmptyFile)

	_, err = ParseCSV(strings.NewReader("Store ID,SKU,Product Name,Price,Date\n\n"), 0)
	require.ErrorIs(t, err, ErrEmptyFile)

	_, err = ParseCSV(strings.NewReader("Store,SKU,Name\nA,B,C\n"), 0)
	require.ErrorIs(t, err, ErrParse)

	_, err = ParseCSV(strings.NewReader("Store ID,SKU,Product Name,Price\nIND-0456,AB\"C123,Widget,1\n"), 0)
	require.ErrorIs(t, err, ErrParse)

	body := "Store ID,SKU,Product Name,Price\n" + strings.Repeat("IND-0456,ABC123,Widget,1\n", 3)
	_, err = ParseCSV(strings.NewReader(body), 2)
	require.ErrorIs(t, err, ErrTooManyRows)
}

func TestOpenUploadZip(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	readme, err := zw.Create("README.txt")
	require.NoError(t, err)
	_, _ = readme.Write([]byte("hi"))
	f, err := zw.Create("feed/prices.CSV")
	require.NoError(t, err)
	_, err = f.Write(Template())
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	r, err := OpenUpload(buf.Bytes(), "application/octet-stream", 0)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, Template(), got)

	_, err = OpenUpload(buf.Bytes(), "application/zip", 10)
	require.ErrorIs(t, err, ErrTooLarge)

	plain, err := OpenUpload([]byte("a,b"), "text/csv", 0)
	require.NoError(t, err)
	got, _ = io.ReadAll(plain)
	require.Equal(t, "a,b", string(got))

	_, err = OpenUpload([]byte("not a zip"), "application/zip", 0)
	require.ErrorIs(t, err, ErrParse)
}

func TestTemplateParsesClean(t *testing.T) {
	rows, err := ParseCSV(bytes.NewReader(Template()), 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, row := range rows {
		require.True(t, row.Valid, row.Errors)
	}
	require.True(t, strings.HasPrefix(string(Template()), "Store ID,SKU,Product Name,Price,Date\n"))
}
