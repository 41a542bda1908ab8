package cmd

import (
	"github.com/spf13/cobra"
)

func newWorkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "work",
		Short: "Process queued jobs until drained or the budget runs out",
		Long: `Runs driver.concurrency step loops against the shared job queue. Each
loop stops when no pending job remains, when driver.budget elapses, or on
SIGINT/SIGTERM. Remaining work is left for the next invocation.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd)
			if err != nil {
				return err
			}
			return printJSON(cmd, a.Pool.Run(cmd.Context()))
		},
	}
}
