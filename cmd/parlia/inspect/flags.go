// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package inspect

import (
	"errors"

	"github.com/spf13/pflag"
)

const (
	DBDirKey  = "db-dir"
	NumberKey = "number"
)

var errNoDBDir = errors.New("--db-dir is required")

func AddFlags(flags *pflag.FlagSet) {
	flags.String(DBDirKey, "", "Directory of the badger database holding the chain (required)")
	flags.Int64(NumberKey, -1, "Block whose snapshot to print (the head if negative)")
}

type Config struct {
	DBDir string
	// Number is nil for the head.
	Number *uint64
}

func ParseFlags(flags *pflag.FlagSet, args []string) (*Config, error) {
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	dbDir, err := flags.GetString(DBDirKey)
	if err != nil {
		return nil, err
	}
	if dbDir == "" {
		return nil, errNoDBDir
	}

	number, err := flags.GetInt64(NumberKey)
	if err != nil {
		return nil, err
	}

	c := &Config{
		DBDir: dbDir,
	}
	if number >= 0 {
		n := uint64(number)
		c.Number = &n
	}
	return c, nil
}
