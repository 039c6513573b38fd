package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pricebook/pricebook/internal/pricing"
)

// maxFeedBytes bounds files read by the CLI.
const maxFeedBytes = 50 << 20

func newTemplateCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Write the CSV feed template",
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				_, err := cmd.OutOrStdout().Write(pricing.Template())
				return err
			}
			if err := os.WriteFile(out, pricing.Template(), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

type validateReport struct {
	File    string   `json:"file"`
	Total   int      `json:"total"`
	Valid   int      `json:"valid"`
	Invalid int      `json:"invalid"`
	Errors  []string `json:"errors"`
}

func newValidateCmd() *cobra.Command {
	var (
		maxRows    int
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Check a CSV or zipped feed without writing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := readFeed(args[0], maxRows)
			if err != nil {
				return withCode(exitInvalid, err)
			}
			report := validateReport{File: args[0], Total: len(rows), Errors: []string{}}
			for _, row := range rows {
				if row.Valid {
					report.Valid++
					continue
				}
				report.Invalid++
				for _, msg := range row.Errors {
					report.Errors = append(report.Errors, fmt.Sprintf("Row %d: %s", row.RowIndex, msg))
				}
			}
			if err := printReport(cmd.OutOrStdout(), report, jsonOutput); err != nil {
				return err
			}
			if report.Invalid > 0 {
				return withCode(exitInvalid, fmt.Errorf("%d of %d rows are invalid", report.Invalid, report.Total))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxRows, "max-rows", 5000, "reject files with more data rows")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the report as JSON")
	return cmd
}

func printReport(w io.Writer, report validateReport, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	fmt.Fprintf(w, "%s: %d rows, %d valid, %d invalid\n", report.File, report.Total, report.Valid, report.Invalid)
	for _, msg := range report.Errors {
		fmt.Fprintln(w, "  "+msg)
	}
	return nil
}

func loadFeed(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxFeedBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes", pricing.ErrTooLarge, path, info.Size())
	}
	return os.ReadFile(path)
}

func contentTypeFor(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		return "application/zip"
	}
	return "text/csv"
}

func readFeed(path string, maxRows int) ([]pricing.ParsedRow, error) {
	data, err := loadFeed(path)
	if err != nil {
		return nil, err
	}
	reader, err := pricing.OpenUpload(data, contentTypeFor(path), maxFeedBytes)
	if err != nil {
		return nil, err
	}
	return pricing.ParseCSV(reader, maxRows)
}
