// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

const (
	// Command line option keys
	ConfigFileKey = "config-file"
	EnvFileKey    = "env-file"

	// Environment variable prefix. CIPHERBOARD_API_PORT overrides api-port.
	EnvPrefix = "CIPHERBOARD"

	// Top-level configuration keys
	LogLevelKey         = "log-level"
	APIPortKey          = "api-port"
	DataDirKey          = "data-dir"
	KeysFileKey         = "keys-file"
	ChainIDKey          = "chain-id"
	ProtocolIDKey       = "protocol-id"
	MessageCacheSizeKey = "message-cache-size"
	AuthWindowKey       = "auth-window"

	// Client keys
	EndpointKey       = "endpoint"
	AccountKeyFileKey = "account-key-file"
)
