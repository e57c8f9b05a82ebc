package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/commitdelta/internal/revision"
	"github.com/fyrsmithlabs/commitdelta/internal/syncer"
	"github.com/spf13/cobra"
)

func newStateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or override the recorded revision",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the last indexed revision",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withTracker(cmd, opts, false, func(ctx context.Context, t revision.Tracker) error {
					pointer, ok, err := t.Read(ctx)
					if err != nil {
						return err
					}
					if !ok {
						fmt.Fprintln(cmd.OutOrStdout(), "(none, next sync bootstraps)")
						return nil
					}
					fmt.Fprintln(cmd.OutOrStdout(), pointer)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "set <revision>",
			Short: "Record a revision; the next sync indexes changes after it",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withTracker(cmd, opts, true, func(ctx context.Context, t revision.Tracker) error {
					if err := t.Write(ctx, args[0]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s\n", args[0])
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Forget the recorded revision; the next sync bootstraps",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withTracker(cmd, opts, true, func(ctx context.Context, t revision.Tracker) error {
					d, ok := t.(revision.Deleter)
					if !ok {
						return errors.New("state backend cannot be reset")
					}
					if err := d.Delete(ctx); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "State reset")
					return nil
				})
			},
		},
	)
	return cmd
}

// withTracker opens the configured tracker and runs fn. Writers hold the
// same lockfile as sync cycles, so a running serve cycle and an operator
// override never interleave.
func withTracker(cmd *cobra.Command, opts *rootOptions, write bool, fn func(context.Context, revision.Tracker) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	if write {
		lock, err := syncer.AcquireFileLock(a.lockPath(), a.cfg.State.LockStaleAfter)
		if err != nil {
			return fmt.Errorf("a sync cycle is running, try again when it finishes: %w", err)
		}
		defer func() {
			if err := lock.Release(); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning:", err)
			}
		}()
	}

	t, err := a.openTracker(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, t)
}
