package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pricebook/pricebook/internal/pricing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTemplateCommand(t *testing.T) {
	out, err := run(t, "template")
	require.NoError(t, err)
	require.Equal(t, string(pricing.Template()), out)

	path := filepath.Join(t.TempDir(), "feed.csv")
	_, err = run(t, "template", "--out", path)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, pricing.Template(), data)
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.csv")
	require.NoError(t, os.WriteFile(good, pricing.Template(), 0o644))

	out, err := run(t, "validate", good)
	require.NoError(t, err)
	require.Contains(t, out, "0 invalid")

	bad := filepath.Join(dir, "bad.csv")
	feed := "Store ID,SKU,Product Name,Price\nUS-0001,ABC123,Widget,9.99\nus-1,abc,W,-1\n"
	require.NoError(t, os.WriteFile(bad, []byte(feed), 0o644))
	out, err = run(t, "validate", "--json", bad)
	require.Error(t, err)
	require.Equal(t, exitInvalid, exitCode(err))
	require.Contains(t, out, `"invalid": 1`)
	require.True(t, strings.Contains(out, "Row 3: Store ID must look like"))

	_, err = run(t, "validate", filepath.Join(dir, "missing.csv"))
	require.Error(t, err)
}

func TestImportRequiresPrincipal(t *testing.T) {
	_, err := run(t, "import", "feed.csv")
	require.Error(t, err)
	require.Contains(t, err.Error(), `"as"`)
}
