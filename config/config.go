// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/cipherboard/board"
)

const (
	defaultLogLevel   = "info"
	defaultAPIPort    = uint16(8080)
	defaultEndpoint   = "http://127.0.0.1:8080"
	defaultAuthWindow = 30 * time.Second
	maxAuthWindow     = 10 * time.Minute
)

var (
	errInvalidLogLevel   = errors.New("invalid log level")
	errInvalidChainID    = errors.New("invalid chain id")
	errInvalidProtocolID = errors.New("unsupported protocol id")
	errInvalidAuthWindow = errors.New("invalid auth window")
	errInvalidEndpoint   = errors.New("invalid endpoint")
	errInvalidCacheSize  = errors.New("invalid message cache size")
	errMissingKeysFile   = errors.New("keys file is required with a persistent data dir")
)

// Config is the node and client configuration.
type Config struct {
	LogLevel         string        `mapstructure:"log-level" json:"log-level"`
	APIPort          uint16        `mapstructure:"api-port" json:"api-port"`
	DataDir          string        `mapstructure:"data-dir" json:"data-dir"`
	KeysFile         string        `mapstructure:"keys-file" json:"keys-file"`
	ChainID          string        `mapstructure:"chain-id" json:"chain-id"`
	ProtocolID       uint64        `mapstructure:"protocol-id" json:"protocol-id"`
	MessageCacheSize int           `mapstructure:"message-cache-size" json:"message-cache-size"`
	AuthWindow       time.Duration `mapstructure:"auth-window" json:"auth-window"`

	Endpoint       string `mapstructure:"endpoint" json:"endpoint"`
	AccountKeyFile string `mapstructure:"account-key-file" json:"account-key-file"`

	chainID ids.ID
}

// Validate checks the configuration and caches the parsed chain id.
func (c *Config) Validate() error {
	if _, err := log.ToLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w %q: %w", errInvalidLogLevel, c.LogLevel, err)
	}
	if c.ChainID != "" {
		id, err := ids.FromString(c.ChainID)
		if err != nil {
			return fmt.Errorf("%w %q: %w", errInvalidChainID, c.ChainID, err)
		}
		c.chainID = id
	}
	if c.ProtocolID != board.ProtocolID {
		return fmt.Errorf("%w: %d", errInvalidProtocolID, c.ProtocolID)
	}
	if c.MessageCacheSize < 0 {
		return fmt.Errorf("%w: %d", errInvalidCacheSize, c.MessageCacheSize)
	}
	if c.AuthWindow <= 0 || c.AuthWindow > maxAuthWindow {
		return fmt.Errorf("%w: %s", errInvalidAuthWindow, c.AuthWindow)
	}
	if c.DataDir != "" && c.KeysFile == "" {
		return errMissingKeysFile
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w %q", errInvalidEndpoint, c.Endpoint)
	}
	return nil
}

// GetChainID returns the configured chain id, or ids.Empty if none was set.
// Validate must have been called.
func (c *Config) GetChainID() ids.ID {
	return c.chainID
}

// Persistent reports whether the node keeps its state on disk.
func (c *Config) Persistent() bool {
	return c.DataDir != ""
}
