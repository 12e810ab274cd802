// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package config loads the node configuration: defaults, then the YAML
// configuration file, then command-line flags, each layer overriding the
// previous one.
package config

import (
	"os"

	flags "github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"gitlab.com/hydranet/core/stake.core/chaincfg"
	"gitlab.com/hydranet/core/stake.core/corelog"
	"gitlab.com/hydranet/core/stake.core/node/mining"
	"gitlab.com/hydranet/core/stake.core/types"
)

const (
	defaultDataDir    = "data"
	defaultMinRelayKB = 1000
)

// StakerConfig houses the operator knobs of block production.
type StakerConfig struct {
	Enable                 bool   `yaml:"enable" long:"staking" description:"Enable proof-of-stake block production"`
	Workers                int    `yaml:"workers" long:"stakingworkers" description:"Number of kernel search workers; 0 uses one per CPU"`
	ReserveBalance         int64  `yaml:"reserve_balance" long:"reservebalance" description:"Amount, in base units, kept out of staking"`
	AggressiveStaking      bool   `yaml:"aggressive_staking" long:"aggressive-staking" description:"Shorten the waits between stake submission attempts"`
	EmergencyStaking       bool   `yaml:"emergency_staking" long:"emergency-staking" description:"Keep staking even while the chain looks stale"`
	DisableContractStaking bool   `yaml:"disable_contract_staking" long:"disablecontractstaking" description:"Exclude contract transactions from generated blocks"`
	MaxTxGasLimit          uint64 `yaml:"max_tx_gas_limit" long:"stakermaxtxgaslimit" description:"Per-transaction gas cap for generated blocks; 0 uses the soft block limit"`
	SoftBlockGasLimit      uint64 `yaml:"soft_block_gas_limit" long:"stakersoftblockgaslimit" description:"Block gas cap for generated blocks; 0 uses the governed hard limit"`
	MinTxGasPrice          uint64 `yaml:"min_tx_gas_price" long:"stakermintxgasprice" description:"Minimum gas price of admitted contract calls when above the governed floor"`
	BlockMaxWeight         uint64 `yaml:"block_max_weight" long:"blockmaxweight" description:"Maximum weight of generated blocks; 0 uses the governed size"`
	BlockMinTxFee          int64  `yaml:"block_min_tx_fee" long:"blockmintxfee" description:"Fee rate, in base units per kB, below which packages are not selected"`
	CheckpointSpan         int32  `yaml:"delegation_checkpoint_span" long:"delegationcheckpointspan" description:"Blocks between delegation cache re-derivations"`
}

func (StakerConfig) Default() StakerConfig {
	return StakerConfig{
		Workers:       0,
		BlockMinTxFee: defaultMinRelayKB,
	}
}

// Policy maps the staker knobs onto the template generator policy.
func (c *StakerConfig) Policy() mining.Policy {
	return mining.Policy{
		BlockMaxWeight:         c.BlockMaxWeight,
		BlockMinFeeRate:        types.NewFeeRate(c.BlockMinTxFee),
		TxGasLimit:             c.MaxTxGasLimit,
		SoftBlockGasLimit:      c.SoftBlockGasLimit,
		MinTxGasPrice:          c.MinTxGasPrice,
		DisableContractStaking: c.DisableContractStaking,
	}
}

// Config is the top-level node configuration.
type Config struct {
	ConfigFile  string `yaml:"-" short:"C" long:"configfile" description:"Path to configuration file"`
	ShowVersion bool   `yaml:"-" short:"V" long:"version" description:"Display version information and exit"`

	DataDir    string `yaml:"data_dir" short:"b" long:"datadir" description:"Directory to store data"`
	Net        string `yaml:"net" long:"net" description:"Network to run on: mainnet or regtest"`
	DebugLevel string `yaml:"debug_level" short:"d" long:"debuglevel" description:"Logging level: trace, debug, info, warn, error, critical"`

	LogConfig corelog.Config `yaml:"log_config"`
	Staker    StakerConfig   `yaml:"staker"`
}

func (Config) Default() Config {
	return Config{
		DataDir:    defaultDataDir,
		Net:        "mainnet",
		DebugLevel: "info",
		LogConfig:  corelog.Config{}.Default(),
		Staker:     StakerConfig{}.Default(),
	}
}

// NetParams resolves the configured network name.
func (c *Config) NetParams() (*chaincfg.Params, error) {
	switch c.Net {
	case "", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "regtest", "simnet":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, errors.Errorf("unknown network %q", c.Net)
	}
}

// LoadConfig builds the effective configuration from defaults, the YAML
// file named on the command line (if any), and the command-line flags, in
// that order.
func LoadConfig(args []string) (*Config, error) {
	// A first pass only to discover the config file path.
	preCfg := Config{}.Default()
	preParser := flags.NewParser(&preCfg, flags.IgnoreUnknown)
	if _, err := preParser.ParseArgs(args); err != nil {
		return nil, errors.Wrap(err, "parsing command line")
	}

	cfg := Config{}.Default()
	if preCfg.ConfigFile != "" {
		raw, err := os.ReadFile(preCfg.ConfigFile)
		if err != nil {
			return nil, errors.Wrapf(err, "reading config file %s", preCfg.ConfigFile)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, errors.Wrapf(err, "parsing config file %s", preCfg.ConfigFile)
		}
	}

	// Flags override the file.
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, errors.Wrap(err, "parsing command line")
	}
	if _, err := ParseDebugLevel(cfg.DebugLevel); err != nil {
		return nil, err
	}
	return &cfg, nil
}
