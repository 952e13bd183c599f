// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ASIK-R/my-budget-buddy-sub000/offqueue"
)

// NewQueueCommand creates the queue command group.
func NewQueueCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and replay queued operations",
	}
	cmd.AddCommand(newQueueListCommand(opts))
	cmd.AddCommand(newQueueClearCommand(opts))
	cmd.AddCommand(newQueueDrainCommand(opts))
	return cmd
}

func newQueueListCommand(opts *RootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued operations in replay order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.restoreQueue(ctx); err != nil {
				return err
			}
			ops := rt.queue.Queue()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(ops)
			}
			return writeQueueTable(cmd.OutOrStdout(), ops)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newQueueClearCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop every queued operation without replaying it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.restoreQueue(ctx); err != nil {
				return err
			}
			n := rt.queue.Len()
			rt.queue.Clear()
			if err := rt.queue.Persist(ctx, rt.store); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "cleared %d queued operation(s)\n", n)
			return err
		},
	}
}

func newQueueDrainCommand(opts *RootOptions) *cobra.Command {
	var reconcile bool
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Replay queued operations against the configured remote once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()
			c, err := rt.coordinator(ctx, true)
			if err != nil {
				return err
			}

			if reconcile {
				report, err := c.Sync(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), report.Summary())
				for _, name := range sortedNames(report.Reconciled) {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %d records\n", name, report.Reconciled[name])
				}
				return nil
			}
			report := c.Drain(ctx)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), report.Summary())
			return err
		},
	}
	cmd.Flags().BoolVar(&reconcile, "reconcile", false, "merge remote collections into the local store after draining")
	return cmd
}

func writeQueueTable(w io.Writer, ops []offqueue.QueuedOperation) error {
	if len(ops) == 0 {
		_, err := fmt.Fprintln(w, "offline queue is empty")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tPRIORITY\tATTEMPTS\tENQUEUED\tLAST ERROR")
	for _, op := range ops {
		lastError := op.LastError
		if lastError == "" {
			lastError = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			op.ID, op.Type, op.Priority, op.Attempts,
			time.UnixMilli(op.Timestamp).UTC().Format(time.RFC3339), lastError)
	}
	return tw.Flush()
}
