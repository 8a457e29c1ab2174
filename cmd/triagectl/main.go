package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "triagectl",
	Short: "Operate the query triage engine",
	Long: `triagectl runs the triage engine's scheduled passes by hand and reports on
the backlog. It reads the same environment as the API server.`,
	SilenceUsage: true,
}

var (
	policyPath string
	jsonOutput bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&policyPath, "policy", "", "Routing policy file (overrides POLICY_FILE)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print JSON instead of tables")

	rootCmd.AddCommand(sweepCmd, batchAssignCmd, statsCmd, atRiskCmd, staleCmd, tokenCmd, migrateCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
