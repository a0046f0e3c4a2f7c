// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package plugin

import (
	"errors"
	"fmt"
	"os"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"github.com/spf13/cobra"

	"github.com/luxfi/cipherboard/crypto/fhe"
)

const outFlag = "out"

var errFileExists = errors.New("file already exists")

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage node and account keys",
	}
	cmd.AddCommand(newKeysGenerateCmd())
	cmd.AddCommand(newKeysAccountCmd())
	return cmd
}

func newKeysGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate coprocessor keys for a node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, _ := cmd.Flags().GetString(outFlag)
			if err := checkAbsent(out); err != nil {
				return err
			}
			keys, err := fhe.GenerateKeySet()
			if err != nil {
				return err
			}
			if err := keys.Save(out); err != nil {
				return err
			}
			return printJSON(cmd, map[string]interface{}{
				"path":   out,
				"signer": common.Address(crypto.PubkeyToAddress(keys.Signer.PublicKey)),
			})
		},
	}
	cmd.Flags().String(outFlag, "keys.json", "Path to write the key set to")
	return cmd
}

func newKeysAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Generate an account key for the client commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, _ := cmd.Flags().GetString(outFlag)
			if err := checkAbsent(out); err != nil {
				return err
			}
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			if err := crypto.SaveECDSA(out, key); err != nil {
				return fmt.Errorf("failed to save account key: %w", err)
			}
			return printJSON(cmd, map[string]interface{}{
				"path":    out,
				"address": common.Address(crypto.PubkeyToAddress(key.PublicKey)),
			})
		},
	}
	cmd.Flags().String(outFlag, "account.key", "Path to write the account key to")
	return cmd
}

// checkAbsent refuses to overwrite existing keys.
func checkAbsent(path string) error {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", errFileExists, path)
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}
