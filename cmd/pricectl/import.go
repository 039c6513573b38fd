package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/pricebook/pricebook/internal/app"
	"github.com/pricebook/pricebook/internal/pricing"
	"github.com/pricebook/pricebook/jobs"
)

type importOptions struct {
	mode  string
	uid   string
	email string
	async bool
}

func newImportCmd() *cobra.Command {
	var opts importOptions
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Ingest a feed into the configured store, or queue it for the worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := pricing.ParseMode(opts.mode)
			if err != nil {
				return withCode(exitInvalid, err)
			}
			data, err := loadFeed(args[0])
			if err != nil {
				return err
			}
			reader, err := pricing.OpenUpload(data, contentTypeFor(args[0]), maxFeedBytes)
			if err != nil {
				return withCode(exitInvalid, err)
			}
			csvBytes, err := io.ReadAll(reader)
			if err != nil {
				return err
			}

			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
			ctx := cmd.Context()
			container, err := app.Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer container.Close()

			principal, err := container.Users.ResolveIdentity(ctx, opts.uid, opts.email)
			if err != nil {
				return err
			}

			if opts.async {
				client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
				if err != nil {
					return err
				}
				defer client.Close()
				taskID, err := client.EnqueueImport(ctx, pricing.ImportRequest{CSV: csvBytes, Mode: mode, Principal: principal})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued %s (mode=%s)\n", taskID, mode)
				return nil
			}

			summary, err := container.Ingestor.Ingest(ctx, principal, bytes.NewReader(csvBytes), mode)
			if err != nil {
				if errors.Is(err, pricing.ErrParse) || errors.Is(err, pricing.ErrEmptyFile) || errors.Is(err, pricing.ErrTooManyRows) {
					return withCode(exitInvalid, err)
				}
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
	cmd.Flags().StringVar(&opts.mode, "mode", string(pricing.ModeAppend), "append or overwrite")
	cmd.Flags().StringVar(&opts.uid, "as", "", "uid of the user the import is attributed to (required)")
	cmd.Flags().StringVar(&opts.email, "email", "", "email reported when the uid has no profile")
	cmd.Flags().BoolVar(&opts.async, "async", false, "enqueue for the worker instead of importing inline")
	_ = cmd.MarkFlagRequired("as")
	return cmd
}
