// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package plugin provides the cipherboard commands, usable standalone or
// mounted into the Lux CLI.
package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/luxfi/log"
	"github.com/spf13/cobra"

	"github.com/luxfi/cipherboard/client"
	"github.com/luxfi/cipherboard/config"
)

const requestTimeout = time.Minute

// NewCipherBoardCmd creates the cipherboard command.
func NewCipherBoardCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cipherboard",
		Short: "Private messaging over encrypted contract state",
		Long: `CipherBoard keeps a public registry of messages whose content stays
encrypted. Only the sender and the recipient of a message can decrypt it.

Run a node with "serve", then use the client commands against it.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	config.AddFlags(cmd.PersistentFlags())

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newKeysCmd())
	cmd.AddCommand(newSendCmd())
	cmd.AddCommand(newInboxCmd())
	cmd.AddCommand(newOutboxCmd())
	cmd.AddCommand(newInfoCmd())
	cmd.AddCommand(newReadCmd())
	cmd.AddCommand(newCountCmd())
	cmd.AddCommand(newEventsCmd())
	cmd.AddCommand(newCounterCmd())
	return cmd
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	v, err := config.BuildViper(cmd.Flags())
	if err != nil {
		return config.Config{}, err
	}
	return config.NewConfig(v)
}

func newLogger(level string) (log.Logger, error) {
	lvl, err := log.ToLevel(level)
	if err != nil {
		return nil, err
	}
	return log.NewLoggerFromHandler(log.NewTerminalHandlerWithLevel(os.Stderr, slog.Level(lvl), false)), nil
}

// newClient builds a client from the command's configuration. The account
// key is optional for read-only commands.
func newClient(cmd *cobra.Command) (*client.Client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := []client.Option{client.WithLogger(logger)}
	if cfg.AccountKeyFile != "" {
		key, err := client.LoadAccountKey(cfg.AccountKeyFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, client.WithAccountKey(key))
	}
	return client.New(cfg.Endpoint, opts...), nil
}

// withClient runs fn with a configured client and a bounded context.
func withClient(fn func(ctx context.Context, cmd *cobra.Command, c *client.Client, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()
		return fn(ctx, cmd, c, args)
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}
