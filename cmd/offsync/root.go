// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags and the settings resolved from them.
type RootOptions struct {
	ConfigDir string
	DataPath  string
	Verbose   bool

	settings *Settings
	logger   *slog.Logger
}

// NewRootCommand creates the root command for the offsync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:          "offsync",
		Short:        "Inspect and replay the offline sync queue",
		Long:         "offsync works on the local store of an offline-first client: it lists and drains queued operations, dumps collections and follows connectivity.",
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v, err := loadConfig(opts.ConfigDir)
			if err != nil {
				return err
			}
			settings, err := settingsFrom(v)
			if err != nil {
				return err
			}
			if opts.DataPath != "" {
				settings.DataPath = opts.DataPath
			}
			opts.settings = settings

			level := slog.LevelInfo
			if opts.Verbose {
				level = slog.LevelDebug
			}
			opts.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			slog.SetDefault(opts.logger)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigDir, "config-dir", "", "directory holding config.yaml")
	cmd.PersistentFlags().StringVar(&opts.DataPath, "data-path", "", "SQLite file of the local store (overrides data_path)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewStoreCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}
