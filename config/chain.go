// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"encoding/json"
	"errors"
	"math/big"

	"github.com/luxfi/geth/params"
)

const (
	DefaultEpoch  = 200 // blocks between validator set updates
	DefaultPeriod = 3   // target seconds between blocks
)

var (
	ErrMissingChainID = errors.New("missing chain id")
	ErrZeroEpoch      = errors.New("epoch length must be positive")
)

// ParliaConfig holds the consensus constants of a chain.
type ParliaConfig struct {
	Period uint64 `json:"period"`
	Epoch  uint64 `json:"epoch"`
}

// ChainConfig answers fork activation queries. Block forks are keyed by
// height, time forks by header timestamp in seconds. A nil activation means
// the fork never activates.
type ChainConfig struct {
	ChainID *big.Int `json:"chain-id"`

	RamanujanBlock *big.Int `json:"ramanujan-block,omitempty"`
	LondonBlock    *big.Int `json:"london-block,omitempty"`
	LubanBlock     *big.Int `json:"luban-block,omitempty"`
	PlatoBlock     *big.Int `json:"plato-block,omitempty"`

	CancunTime  *uint64 `json:"cancun-time,omitempty"`
	LorentzTime *uint64 `json:"lorentz-time,omitempty"`

	Parlia ParliaConfig `json:"parlia"`
}

// DefaultChainConfig has every fork active from genesis.
func DefaultChainConfig(chainID uint64) *ChainConfig {
	zero := uint64(0)
	return &ChainConfig{
		ChainID:        new(big.Int).SetUint64(chainID),
		RamanujanBlock: big.NewInt(0),
		LondonBlock:    big.NewInt(0),
		LubanBlock:     big.NewInt(0),
		PlatoBlock:     big.NewInt(0),
		CancunTime:     &zero,
		LorentzTime:    &zero,
		Parlia: ParliaConfig{
			Period: DefaultPeriod,
			Epoch:  DefaultEpoch,
		},
	}
}

// GetChainConfig parses a JSON chain config. Empty input yields
// DefaultChainConfig with chain id 1.
func GetChainConfig(b []byte) (*ChainConfig, error) {
	if len(b) == 0 {
		return DefaultChainConfig(1), nil
	}
	c := &ChainConfig{
		Parlia: ParliaConfig{
			Period: DefaultPeriod,
			Epoch:  DefaultEpoch,
		},
	}
	if err := json.Unmarshal(b, c); err != nil {
		return nil, err
	}
	return c, c.Verify()
}

func (c *ChainConfig) Verify() error {
	switch {
	case c.ChainID == nil:
		return ErrMissingChainID
	case c.Parlia.Epoch == 0:
		return ErrZeroEpoch
	default:
		return nil
	}
}

// Params returns the execution-layer view of c consumed by the geth fork
// rules. Cancun uses the default blob schedule.
func (c *ChainConfig) Params() *params.ChainConfig {
	return &params.ChainConfig{
		ChainID:     c.ChainID,
		LondonBlock: c.LondonBlock,
		CancunTime:  c.CancunTime,
		BlobScheduleConfig: &params.BlobScheduleConfig{
			Cancun: params.DefaultCancunBlobConfig,
		},
	}
}

func (c *ChainConfig) IsRamanujan(num uint64) bool {
	return isBlockForked(c.RamanujanBlock, num)
}

func (c *ChainConfig) IsLondon(num uint64) bool {
	return isBlockForked(c.LondonBlock, num)
}

// IsLuban reports whether validator vote addresses and vote attestations are
// part of the header format.
func (c *ChainConfig) IsLuban(num uint64) bool {
	return isBlockForked(c.LubanBlock, num)
}

// IsPlato reports whether imported attestations are verified.
func (c *ChainConfig) IsPlato(num uint64) bool {
	return isBlockForked(c.PlatoBlock, num)
}

func (c *ChainConfig) IsCancun(num, time uint64) bool {
	return c.IsLondon(num) && isTimestampForked(c.CancunTime, time)
}

// IsLorentz reports whether header timestamps carry milliseconds.
func (c *ChainConfig) IsLorentz(num, time uint64) bool {
	return c.IsLondon(num) && isTimestampForked(c.LorentzTime, time)
}

// IsEpoch reports whether num is an epoch boundary.
func (c *ChainConfig) IsEpoch(num uint64) bool {
	return num%c.Parlia.Epoch == 0
}

func isBlockForked(s *big.Int, head uint64) bool {
	if s == nil {
		return false
	}
	return s.IsUint64() && s.Uint64() <= head
}

func isTimestampForked(s *uint64, head uint64) bool {
	if s == nil {
		return false
	}
	return *s <= head
}
