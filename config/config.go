// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrZeroCheckpointInterval    = errors.New("checkpoint interval must be positive")
	ErrInvalidMaxVotesPerBlock   = errors.New("max votes per block must be positive")
	ErrInvalidSignatureCacheSize = errors.New("signature cache size must be positive")
)

var Default = Config{
	SnapshotCacheSize:     256,
	CheckpointInterval:    1024,
	SignatureCacheSize:    4096,
	VoteLowerWindow:       256,
	VoteUpperWindow:       11,
	MaxVotesPerBlock:      256,
	AllowedFutureBlock:    time.Second,
	RequireAttestation:    false,
	VerifyHeadersParallel: 8,
}

// Config provides the tunables of the consensus engine. Fork activation lives
// in ChainConfig.
type Config struct {
	// Number of snapshots kept in memory, keyed by block hash.
	SnapshotCacheSize int `json:"snapshot-cache-size"`
	// Snapshots at heights divisible by this value are written to disk.
	CheckpointInterval uint64 `json:"checkpoint-interval"`
	// Number of recovered header signers kept in memory.
	SignatureCacheSize int `json:"signature-cache-size"`
	// Votes whose target is more than this many blocks below the head are
	// rejected and pruned.
	VoteLowerWindow uint64 `json:"vote-lower-window"`
	// Votes whose target is more than this many blocks above the head are
	// rejected.
	VoteUpperWindow uint64 `json:"vote-upper-window"`
	// Cap on votes retained for a single target block.
	MaxVotesPerBlock int `json:"max-votes-per-block"`
	// How far in the future a header timestamp may be before it is rejected.
	AllowedFutureBlock time.Duration `json:"allowed-future-block"`
	// If true, a failure to assemble a vote attestation forfeits the slot
	// instead of sealing the block without one.
	RequireAttestation bool `json:"require-attestation"`
	// Number of goroutines recovering signers in VerifyHeaders.
	VerifyHeadersParallel int `json:"verify-headers-parallel"`
}

// GetConfig returns a Config
// input is unmarshalled into a Config previously
// initialized with default values
func GetConfig(b []byte) (*Config, error) {
	c := Default

	// if bytes are empty keep default values
	if len(b) == 0 {
		return &c, nil
	}

	if err := json.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c, c.Verify()
}

func (c *Config) Verify() error {
	switch {
	case c.CheckpointInterval == 0:
		return ErrZeroCheckpointInterval
	case c.MaxVotesPerBlock <= 0:
		return ErrInvalidMaxVotesPerBlock
	case c.SignatureCacheSize <= 0:
		return ErrInvalidSignatureCacheSize
	default:
		return nil
	}
}
