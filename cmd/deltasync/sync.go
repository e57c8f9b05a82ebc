package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fyrsmithlabs/commitdelta/internal/embeddings"
	"github.com/fyrsmithlabs/commitdelta/internal/syncer"
	"github.com/fyrsmithlabs/commitdelta/internal/vectorstore"
	"github.com/spf13/cobra"
)

func newSyncCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle",
		Long: `Run one sync cycle and exit.

The first run against an empty state records the branch head as the
baseline and indexes nothing. Later runs index every file changed since the
recorded revision. The command exits 1 when the cycle aborts; the recorded
revision is then unchanged and the next run retries the same delta.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			s, err := a.newSyncer(ctx)
			if err != nil {
				return err
			}
			res, runErr := s.Run(ctx)
			if err := printResult(cmd.OutOrStdout(), res, opts.jsonOutput); err != nil {
				return err
			}
			return runErr
		},
	}
}

func printResult(w io.Writer, res syncer.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	switch res.State {
	case syncer.StateBootstrap:
		fmt.Fprintf(w, "Bootstrapped at %s (no history indexed)\n", short(res.To))
	case syncer.StateUpToDate:
		fmt.Fprintf(w, "Up to date at %s\n", short(res.To))
	case syncer.StateIdle:
		fmt.Fprintf(w, "Synced %s..%s\n", short(res.From), short(res.To))
	case syncer.StateAborted:
		fmt.Fprintf(w, "Aborted (pointer unchanged)\n")
	}
	s := res.Summary
	if s.Attempted > 0 || s.Filtered > 0 {
		fmt.Fprintf(w, "Attempted: %d  Succeeded: %d  Skipped: %d  Filtered: %d\n",
			s.Attempted, s.Succeeded, s.Skipped, s.Filtered)
	}
	for _, f := range s.Failures {
		fmt.Fprintf(w, "  skipped %s: %s\n", f.Filename, f.Reason)
	}
	return nil
}

// short abbreviates a full commit hash.
func short(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed deltas by similarity",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if top < 1 {
				return errors.New("--top must be at least 1")
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			embedder, err := a.openEmbedder(ctx)
			if err != nil {
				return err
			}
			sink, err := a.openSink(ctx)
			if err != nil {
				return err
			}

			vec, err := embeddings.EmbedQuery(ctx, embedder, strings.Join(args, " "))
			if err != nil {
				return fmt.Errorf("embedding query: %w", err)
			}
			matches, err := sink.Query(ctx, vec, top)
			if err != nil {
				return fmt.Errorf("querying vector store: %w", err)
			}
			return printMatches(cmd.OutOrStdout(), matches, opts.jsonOutput)
		},
	}
	cmd.Flags().IntVar(&top, "top", 5, "number of matches to return")
	return cmd
}

func printMatches(w io.Writer, matches []vectorstore.Match, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(matches)
	}
	if len(matches) == 0 {
		fmt.Fprintln(w, "No matches")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tID\tFILE\tSTATUS\tREVISION")
	for _, m := range matches {
		fmt.Fprintf(tw, "%.4f\t%s\t%s\t%s\t%s\n",
			m.Score, m.ID, m.Metadata.Filename, m.Metadata.Status, short(m.Metadata.RevisionID))
	}
	return tw.Flush()
}
