// Package main implements deltasync, which keeps a vector index in step with
// the commits pushed to one branch.
//
// Usage:
//
//	# Run one cycle (exit 1 on abort)
//	deltasync sync
//
//	# Long-running: interval cycles plus the GitHub push webhook
//	deltasync serve
//
//	# Similarity search over indexed deltas
//	deltasync search "where do we parse webhook payloads" --top 5
//
// Configuration is read from ~/.config/deltasync/config.yaml and
// DELTASYNC_-prefixed environment variables.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

type rootOptions struct {
	configPath string
	logLevel   string
	jsonOutput bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "deltasync",
		Short: "Index commit deltas into a vector store",
		Long: `deltasync tracks the last indexed revision of a branch. Each cycle diffs
that revision against the branch head, embeds one unit per changed file,
upserts the units into the vector store and then advances the pointer.`,
		Version:      version,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ~/.config/deltasync/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level")
	cmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "print results as JSON")

	cmd.AddCommand(
		newSyncCmd(opts),
		newSearchCmd(opts),
		newStateCmd(opts),
		newServeCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "deltasync by Fyrsmith Labs\n")
	fmt.Fprintf(w, "Version:    %s\n", version)
	fmt.Fprintf(w, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(w, "Build Date: %s\n", buildDate)
}
