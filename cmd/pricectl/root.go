package main

import (
	"errors"

	"github.com/spf13/cobra"
)

const (
	exitFailure = 1
	exitInvalid = 2
)

// codedError carries the process exit code for a failed command.
type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &codedError{code: code, err: err}
}

func exitCode(err error) int {
	var coded *codedError
	if errors.As(err, &coded) {
		return coded.code
	}
	return exitFailure
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pricectl",
		Short:         "Operate pricing feeds: templates, validation, imports and job queues",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newTemplateCmd(), newValidateCmd(), newImportCmd(), newJobsCmd())
	return root
}
