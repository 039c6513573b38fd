package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/pricebook/pricebook/jobs"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect background job queues",
	}
	var (
		redisAddr  string
		jsonOutput bool
	)
	health := &cobra.Command{
		Use:   "health",
		Short: "Show queue depth and today's failures",
		RunE: func(cmd *cobra.Command, args []string) error {
			inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: redisAddr})
			defer inspector.Close()
			queues, err := jobs.Health(inspector)
			if err != nil {
				return err
			}
			if jsonOutput {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(queues)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "QUEUE\tPENDING\tACTIVE\tRETRY\tARCHIVED\tPROCESSED\tFAILED")
			for _, q := range queues {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n", q.Queue, q.Pending, q.Active, q.Retry, q.Archived, q.Processed, q.Failed)
			}
			return tw.Flush()
		},
	}
	health.Flags().StringVar(&redisAddr, "redis", "127.0.0.1:6379", "redis address")
	health.Flags().BoolVar(&jsonOutput, "json", false, "print JSON")
	cmd.AddCommand(health)
	return cmd
}
