// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/luxfi/geth/common"
	"github.com/spf13/cobra"

	"github.com/luxfi/cipherboard"
	"github.com/luxfi/cipherboard/client"
)

const (
	senderFlag    = "sender"
	recipientFlag = "recipient"
)

var errInvalidAddress = errors.New("invalid address")

func newSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <recipient> <text>",
		Short: "Send an encrypted message",
		Args:  cobra.ExactArgs(2),
		RunE: withClient(func(ctx context.Context, cmd *cobra.Command, c *client.Client, args []string) error {
			recipient, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			res, err := c.Send(ctx, recipient, args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		}),
	}
}

func newInboxCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inbox [address]",
		Short: "List the ids of messages received by an account",
		Args:  cobra.MaximumNArgs(1),
		RunE: withClient(func(ctx context.Context, cmd *cobra.Command, c *client.Client, args []string) error {
			var (
				ids []uint64
				err error
			)
			if len(args) == 0 {
				ids, err = c.Inbox(ctx)
			} else {
				var addr common.Address
				if addr, err = parseAddress(args[0]); err == nil {
					ids, err = c.MessagesForRecipient(ctx, addr)
				}
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, ids)
		}),
	}
}

func newOutboxCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "outbox [address]",
		Short: "List the ids of messages sent by an account",
		Args:  cobra.MaximumNArgs(1),
		RunE: withClient(func(ctx context.Context, cmd *cobra.Command, c *client.Client, args []string) error {
			var (
				ids []uint64
				err error
			)
			if len(args) == 0 {
				ids, err = c.Outbox(ctx)
			} else {
				var addr common.Address
				if addr, err = parseAddress(args[0]); err == nil {
					ids, err = c.MessagesBySender(ctx, addr)
				}
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, ids)
		}),
	}
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <id>",
		Short: "Show the public metadata of a message",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, cmd *cobra.Command, c *client.Client, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			msg, err := c.Info(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(cmd, msg)
		}),
	}
}

func newReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <id>",
		Short: "Decrypt a message sent by or to the account",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, cmd *cobra.Command, c *client.Client, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			text, err := c.Read(ctx, id)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
			return err
		}),
	}
}

func newCountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Show the number of messages ever sent",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, cmd *cobra.Command, c *client.Client, _ []string) error {
			count, err := c.Count(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, count)
		}),
	}
}

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Stream transmitted messages until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			sender, err := addressFlag(cmd, senderFlag)
			if err != nil {
				return err
			}
			recipient, err := addressFlag(cmd, recipientFlag)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.Events(ctx, sender, recipient, func(event *cipherboard.TransmittedEvent) error {
				return printJSON(cmd, event)
			})
		},
	}
	cmd.Flags().String(senderFlag, "", "Only stream messages from this address")
	cmd.Flags().String(recipientFlag, "", "Only stream messages to this address")
	return cmd
}

func addressFlag(cmd *cobra.Command, name string) (*common.Address, error) {
	s, _ := cmd.Flags().GetString(name)
	if s == "" {
		return nil, nil
	}
	addr, err := parseAddress(s)
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", errInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid message id %q: %w", s, err)
	}
	return id, nil
}
