// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package plugin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/cipherboard/api"
	"github.com/luxfi/cipherboard/config"
	"github.com/luxfi/cipherboard/crypto/fhe"
	"github.com/luxfi/cipherboard/database"
	"github.com/luxfi/cipherboard/metrics"
	"github.com/luxfi/cipherboard/relayer"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run a node and serve its API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger log.Logger) error {
	logger.Info("Initializing cipherboard node")

	keys, err := loadOrGenerateKeys(cfg.KeysFile, logger)
	if err != nil {
		return err
	}
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}

	chainID := cfg.GetChainID()
	if chainID == ids.Empty {
		// Derived from the signer so a node keeps its chain id across restarts.
		signer := crypto.PubkeyToAddress(keys.Signer.PublicKey)
		chainID = ids.ID(common.BytesToHash(crypto.Keccak256(signer[:])))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(registry)

	node, err := relayer.NewNode(relayer.NodeConfig{
		DB:               db,
		Keys:             keys,
		ChainID:          chainID,
		MessageCacheSize: cfg.MessageCacheSize,
		Metrics:          m,
	}, logger)
	if err != nil {
		_ = db.Close()
		return err
	}
	defer func() {
		if err := node.Close(); err != nil {
			logger.Error("failed to close node", log.Err(err))
		}
	}()

	httpServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.APIPort),
		Handler: api.NewRouter(node.Gateway, m, api.Options{
			AuthWindow: cfg.AuthWindow,
			Gatherer:   registry,
		}, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errGroup, ctx := errgroup.WithContext(ctx)
	errGroup.Go(func() error {
		logger.Info("Serving API", log.Int("port", int(cfg.APIPort)))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve API: %w", err)
		}
		return nil
	})
	errGroup.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("Shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})
	return errGroup.Wait()
}

// loadOrGenerateKeys loads the coprocessor keys at path, creating them if
// the file doesn't exist. An empty path gives throwaway keys.
func loadOrGenerateKeys(path string, logger log.Logger) (*fhe.KeySet, error) {
	if path == "" {
		logger.Warn("no keys file configured, using ephemeral coprocessor keys")
		return fhe.GenerateKeySet()
	}
	keys, err := fhe.LoadKeySet(path)
	if err == nil {
		return keys, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load keys: %w", err)
	}
	keys, err = fhe.GenerateKeySet()
	if err != nil {
		return nil, err
	}
	if err := keys.Save(path); err != nil {
		return nil, fmt.Errorf("failed to save keys: %w", err)
	}
	logger.Info("generated coprocessor keys", log.String("path", path))
	return keys, nil
}

func openDatabase(cfg config.Config) (database.Database, error) {
	if !cfg.Persistent() {
		return database.NewMemDB(), nil
	}
	db, err := database.NewBadgerDB(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", cfg.DataDir, err)
	}
	return db, nil
}
