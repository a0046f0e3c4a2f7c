// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/luxfi/cipherboard/cmd/plugin"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	rootCmd := plugin.NewCipherBoardCmd(fmt.Sprintf("%s (built %s)", version, buildDate))
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
