// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package plugin

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/luxfi/cipherboard/client"
	"github.com/luxfi/cipherboard/relayer"
)

func newCounterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "counter",
		Short: "Use the account's encrypted counter",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Decrypt the counter",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, cmd *cobra.Command, c *client.Client, _ []string) error {
			value, err := c.ReadCounter(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, value)
		}),
	})
	cmd.AddCommand(newCounterUpdateCmd("increase", "Add an encrypted amount to the counter", (*client.Client).IncreaseCounter))
	cmd.AddCommand(newCounterUpdateCmd("decrease", "Subtract an encrypted amount from the counter", (*client.Client).DecreaseCounter))
	return cmd
}

func newCounterUpdateCmd(
	use string,
	short string,
	update func(*client.Client, context.Context, uint32) (*relayer.CounterResult, error),
) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <amount>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, cmd *cobra.Command, c *client.Client, args []string) error {
			amount, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[0], err)
			}
			res, err := update(c, ctx, uint32(amount))
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		}),
	}
}
