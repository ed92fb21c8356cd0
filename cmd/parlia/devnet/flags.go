// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package devnet

import (
	"errors"
	"os"

	"github.com/spf13/pflag"

	"github.com/luxfi/trace"

	"github.com/luxfi/parlia/config"
)

const (
	ValidatorsKey = "validators"
	BlocksKey     = "blocks"
	PeriodKey     = "period"
	EpochKey      = "epoch"
	ChainIDKey    = "chain-id"
	DBDirKey      = "db-dir"
	ConfigFileKey = "config-file"
	HTTPAddrKey   = "http-addr"
	ProfileDirKey = "profile-dir"
)

var (
	errNoValidators = errors.New("at least one validator is required")
	errZeroPeriod   = errors.New("period must be at least one second")
)

func AddFlags(flags *pflag.FlagSet) {
	flags.Int(ValidatorsKey, 4, "Number of in-process validators")
	flags.Uint64(BlocksKey, 10, "Number of blocks to produce")
	flags.Uint64(PeriodKey, 1, "Seconds between blocks")
	flags.Uint64(EpochKey, 200, "Blocks per epoch")
	flags.Uint64(ChainIDKey, 714, "Chain ID mixed into every seal")
	flags.String(DBDirKey, "", "Directory of the badger database to write the chain to (in memory if empty)")
	flags.String(ConfigFileKey, "", "JSON file with engine settings")
	flags.String(HTTPAddrKey, "", "Address to serve the parlia API on until interrupted (not served if empty)")
	flags.String(ProfileDirKey, "", "Directory to write CPU, memory and lock profiles of the run to (not profiled if empty)")
}

type Config struct {
	Validators int
	Blocks     uint64
	DBDir      string
	HTTPAddr   string
	ProfileDir string
	Chain      *config.ChainConfig
	Engine     *config.Config
	// Tracer, if set, traces the engines and the API. It has no flag.
	Tracer trace.Tracer
}

func ParseFlags(flags *pflag.FlagSet, args []string) (*Config, error) {
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	validators, err := flags.GetInt(ValidatorsKey)
	if err != nil {
		return nil, err
	}
	if validators < 1 {
		return nil, errNoValidators
	}

	blocks, err := flags.GetUint64(BlocksKey)
	if err != nil {
		return nil, err
	}

	period, err := flags.GetUint64(PeriodKey)
	if err != nil {
		return nil, err
	}
	if period == 0 {
		return nil, errZeroPeriod
	}

	epoch, err := flags.GetUint64(EpochKey)
	if err != nil {
		return nil, err
	}

	chainID, err := flags.GetUint64(ChainIDKey)
	if err != nil {
		return nil, err
	}

	dbDir, err := flags.GetString(DBDirKey)
	if err != nil {
		return nil, err
	}

	httpAddr, err := flags.GetString(HTTPAddrKey)
	if err != nil {
		return nil, err
	}

	profileDir, err := flags.GetString(ProfileDirKey)
	if err != nil {
		return nil, err
	}

	configFile, err := flags.GetString(ConfigFileKey)
	if err != nil {
		return nil, err
	}
	var configBytes []byte
	if configFile != "" {
		configBytes, err = os.ReadFile(configFile)
		if err != nil {
			return nil, err
		}
	}
	engine, err := config.GetConfig(configBytes)
	if err != nil {
		return nil, err
	}

	chain := config.DefaultChainConfig(chainID)
	chain.Parlia.Period = period
	chain.Parlia.Epoch = epoch
	if err := chain.Verify(); err != nil {
		return nil, err
	}

	return &Config{
		Validators: validators,
		Blocks:     blocks,
		DBDir:      dbDir,
		HTTPAddr:   httpAddr,
		ProfileDir: profileDir,
		Chain:      chain,
		Engine:     engine,
	}, nil
}
