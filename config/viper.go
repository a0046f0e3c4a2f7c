// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/luxfi/cipherboard/board"
)

func NewConfig(v *viper.Viper) (Config, error) {
	cfg, err := BuildConfig(v)
	if err != nil {
		return cfg, err
	}
	if err = cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("failed to validate configuration: %w", err)
	}
	return cfg, nil
}

// BuildFlagSet returns the flags shared by every command.
func BuildFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("cipherboard", pflag.ContinueOnError)
	AddFlags(flags)
	return flags
}

// AddFlags registers every configuration key on flags.
func AddFlags(flags *pflag.FlagSet) {
	flags.String(ConfigFileKey, "", "path to a JSON config file")
	flags.String(EnvFileKey, ".env", "path to a dotenv file loaded before reading the environment")
	flags.String(LogLevelKey, defaultLogLevel, "log level (debug, info, warn, error)")
	flags.Uint16(APIPortKey, defaultAPIPort, "port the API listens on")
	flags.String(DataDirKey, "", "directory of the on-disk database; empty keeps state in memory")
	flags.String(KeysFileKey, "", "path to the coprocessor key set; generated if missing")
	flags.String(ChainIDKey, "", "chain id mixed into handles and input proofs")
	flags.Uint64(ProtocolIDKey, board.ProtocolID, "confidential-computing protocol id")
	flags.Int(MessageCacheSizeKey, board.DefaultCacheSize, "number of decoded messages kept in memory")
	flags.Duration(AuthWindowKey, defaultAuthWindow, "maximum age of a signed API request")
	flags.String(EndpointKey, defaultEndpoint, "API endpoint used by client commands")
	flags.String(AccountKeyFileKey, "", "path to the hex encoded account key used by client commands")
}

// BuildViper builds the viper instance. All keys may be provided through
// flags, CIPHERBOARD_ environment variables, a dotenv file or a JSON config
// file.
func BuildViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	// Map flag names to env var names. Hyphens are replaced with underscores.
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	if err := v.BindPFlags(flags); err != nil {
		return nil, err
	}

	if envFile := v.GetString(EnvFileKey); envFile != "" {
		// A missing dotenv file is not an error.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %q: %w", envFile, err)
		}
	}

	if !v.IsSet(ConfigFileKey) || v.GetString(ConfigFileKey) == "" {
		return v, nil
	}
	filename := v.GetString(ConfigFileKey)
	v.SetConfigFile(filename)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return v, nil
}

func SetDefaultConfigValues(v *viper.Viper) {
	v.SetDefault(LogLevelKey, defaultLogLevel)
	v.SetDefault(APIPortKey, defaultAPIPort)
	v.SetDefault(ProtocolIDKey, board.ProtocolID)
	v.SetDefault(MessageCacheSizeKey, board.DefaultCacheSize)
	v.SetDefault(AuthWindowKey, defaultAuthWindow)
	v.SetDefault(EndpointKey, defaultEndpoint)
}

// BuildConfig constructs the config using Viper.
// The following precedence order is used. Each item takes precedence over the item below it:
//  1. Flags
//  2. Environment
//  3. Config file
//  4. Defaults
func BuildConfig(v *viper.Viper) (Config, error) {
	SetDefaultConfigValues(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal viper config: %w", err)
	}
	cfg.DataDir = os.ExpandEnv(cfg.DataDir)
	cfg.KeysFile = os.ExpandEnv(cfg.KeysFile)
	cfg.AccountKeyFile = os.ExpandEnv(cfg.AccountKeyFile)
	return cfg, nil
}
