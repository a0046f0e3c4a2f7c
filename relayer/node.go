// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package relayer

import (
	"fmt"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/cipherboard/board"
	"github.com/luxfi/cipherboard/chain"
	"github.com/luxfi/cipherboard/counter"
	"github.com/luxfi/cipherboard/crypto/fhe"
	"github.com/luxfi/cipherboard/database"
	"github.com/luxfi/cipherboard/metrics"
	"github.com/luxfi/cipherboard/precompile"
)

// NodeConfig is what a node is built from.
type NodeConfig struct {
	DB               database.Database
	Keys             *fhe.KeySet
	ChainID          ids.ID
	MessageCacheSize int
	Metrics          *metrics.Metrics
	Clock            func() time.Time
}

// Node is a chain with both contracts deployed and a gateway in front of it.
type Node struct {
	Chain       *chain.Chain
	Coprocessor *fhe.Coprocessor
	Gateway     *Gateway
}

// NewNode opens the chain over cfg.DB and deploys the registry and the
// secure counter at their well-known addresses.
func NewNode(cfg NodeConfig, logger log.Logger) (*Node, error) {
	coprocessor, err := fhe.New(cfg.ChainID, cfg.Keys)
	if err != nil {
		return nil, fmt.Errorf("failed to create coprocessor: %w", err)
	}
	c, err := chain.New(cfg.DB, cfg.Clock, logger)
	if err != nil {
		return nil, err
	}

	registry := board.New(precompile.CipherBoardAddress, coprocessor, cfg.MessageCacheSize, logger)
	if err := c.Register(precompile.NewCipherBoardModule(registry)); err != nil {
		return nil, err
	}
	secureCounter := counter.New(precompile.SecureCounterAddress, coprocessor, logger)
	if err := c.Register(precompile.NewSecureCounterModule(secureCounter)); err != nil {
		return nil, err
	}
	cfg.Metrics.SetBlockHeight(c.Height())

	logger.Info("node initialized",
		log.Stringer("chainID", coprocessor.ChainID()),
		log.Stringer("signer", coprocessor.Signer()),
		log.Stringer("cipherBoard", precompile.CipherBoardAddress),
		log.Stringer("secureCounter", precompile.SecureCounterAddress),
	)
	return &Node{
		Chain:       c,
		Coprocessor: coprocessor,
		Gateway: NewGateway(
			c,
			coprocessor,
			precompile.CipherBoardAddress,
			precompile.SecureCounterAddress,
			cfg.Metrics,
			cfg.Clock,
			logger,
		),
	}, nil
}

// Close closes the chain and its database.
func (n *Node) Close() error {
	return n.Chain.Close()
}
