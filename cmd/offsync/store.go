// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ASIK-R/my-budget-buddy-sub000/offstore"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// NewStoreCommand creates the store command group.
func NewStoreCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Read collections of the local store",
	}
	cmd.AddCommand(newStoreDumpCommand(opts))
	cmd.AddCommand(newStoreStatusCommand(opts))
	return cmd
}

func newStoreDumpCommand(opts *RootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "dump <collection>",
		Short: "Print a collection as JSON or YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if !knownCollection(name) {
				return fmt.Errorf("unknown collection %q", name)
			}
			if format != formatJSON && format != formatYAML {
				return fmt.Errorf("invalid format %q: must be %s or %s", format, formatJSON, formatYAML)
			}
			ctx := cmd.Context()
			rt, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()
			return writeCollection(cmd.OutOrStdout(), rt.store.Load(ctx, name), format)
		},
	}
	cmd.Flags().StringVar(&format, "format", formatJSON, "output format (json|yaml)")
	return cmd
}

func newStoreStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the backend in use and the size of each collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "backend: %s\n", rt.store.Backend())
			if degraded := rt.store.Degraded(); len(degraded) > 0 {
				fmt.Fprintf(out, "degraded: %v\n", degraded)
			}
			for _, spec := range offstore.KnownCollections() {
				raw := rt.store.Load(ctx, spec.Name)
				var n int
				if spec.Shape == offstore.ShapeObject {
					var obj map[string]json.RawMessage
					if err := json.Unmarshal(raw, &obj); err != nil {
						return fmt.Errorf("decode %s: %w", spec.Name, err)
					}
					n = len(obj)
				} else {
					var items []json.RawMessage
					if err := json.Unmarshal(raw, &items); err != nil {
						return fmt.Errorf("decode %s: %w", spec.Name, err)
					}
					n = len(items)
				}
				fmt.Fprintf(out, "%s: %d\n", spec.Name, n)
			}
			return nil
		},
	}
}

func writeCollection(w io.Writer, raw json.RawMessage, format string) error {
	if format == formatYAML {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("decode collection: %w", err)
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("indent collection: %w", err)
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

func knownCollection(name string) bool {
	if name == offstore.Accounts {
		return true
	}
	for _, spec := range offstore.KnownCollections() {
		if spec.Name == name {
			return true
		}
	}
	return false
}

func sortedNames(m map[string]int) []string {
	return slices.Sorted(maps.Keys(m))
}
