// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfigUnmarshal(t *testing.T) {
	t.Run("default values from empty json", func(t *testing.T) {
		require := require.New(t)
		c, err := GetConfig([]byte(`{}`))
		require.NoError(err)
		require.Equal(&Default, c)
	})

	t.Run("default values from empty bytes", func(t *testing.T) {
		require := require.New(t)
		c, err := GetConfig(nil)
		require.NoError(err)
		require.Equal(&Default, c)
	})

	t.Run("mix default and extracted values from json", func(t *testing.T) {
		require := require.New(t)
		c, err := GetConfig([]byte(`{"checkpoint-interval":64,"require-attestation":true}`))
		require.NoError(err)
		expected := Default
		expected.CheckpointInterval = 64
		expected.RequireAttestation = true
		require.Equal(&expected, c)
	})

	t.Run("all values extracted from json", func(t *testing.T) {
		require := require.New(t)
		expected := &Config{
			SnapshotCacheSize:     1,
			CheckpointInterval:    2,
			SignatureCacheSize:    3,
			VoteLowerWindow:       4,
			VoteUpperWindow:       5,
			MaxVotesPerBlock:      6,
			AllowedFutureBlock:    7 * time.Second,
			RequireAttestation:    true,
			VerifyHeadersParallel: 9,
		}
		b := []byte(`{
			"snapshot-cache-size": 1,
			"checkpoint-interval": 2,
			"signature-cache-size": 3,
			"vote-lower-window": 4,
			"vote-upper-window": 5,
			"max-votes-per-block": 6,
			"allowed-future-block": 7000000000,
			"require-attestation": true,
			"verify-headers-parallel": 9
		}`)
		c, err := GetConfig(b)
		require.NoError(err)
		require.Equal(expected, c)
	})
}

func TestConfigVerify(t *testing.T) {
	tests := []struct {
		name        string
		json        string
		expectedErr error
	}{
		{
			name: "defaults",
			json: `{}`,
		},
		{
			name:        "zero checkpoint interval",
			json:        `{"checkpoint-interval":0}`,
			expectedErr: ErrZeroCheckpointInterval,
		},
		{
			name:        "zero max votes per block",
			json:        `{"max-votes-per-block":0}`,
			expectedErr: ErrInvalidMaxVotesPerBlock,
		},
		{
			name:        "negative max votes per block",
			json:        `{"max-votes-per-block":-1}`,
			expectedErr: ErrInvalidMaxVotesPerBlock,
		},
		{
			name:        "zero signature cache",
			json:        `{"signature-cache-size":0}`,
			expectedErr: ErrInvalidSignatureCacheSize,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := GetConfig([]byte(test.json))
			require.ErrorIs(t, err, test.expectedErr) //nolint:forbidigo // checking specific error
		})
	}
}

func TestChainConfigForks(t *testing.T) {
	lorentz := uint64(1_000)
	c := &ChainConfig{
		ChainID:        big.NewInt(56),
		RamanujanBlock: big.NewInt(10),
		LondonBlock:    big.NewInt(0),
		LubanBlock:     big.NewInt(20),
		PlatoBlock:     big.NewInt(30),
		LorentzTime:    &lorentz,
		Parlia:         ParliaConfig{Period: 3, Epoch: 200},
	}

	tests := []struct {
		name     string
		check    func() bool
		expected bool
	}{
		{"ramanujan before", func() bool { return c.IsRamanujan(9) }, false},
		{"ramanujan at", func() bool { return c.IsRamanujan(10) }, true},
		{"luban after", func() bool { return c.IsLuban(21) }, true},
		{"plato before", func() bool { return c.IsPlato(29) }, false},
		{"cancun never", func() bool { return c.IsCancun(100, 1<<40) }, false},
		{"lorentz before", func() bool { return c.IsLorentz(1, 999) }, false},
		{"lorentz at", func() bool { return c.IsLorentz(1, 1_000) }, true},
		{"epoch boundary", func() bool { return c.IsEpoch(400) }, true},
		{"not epoch boundary", func() bool { return c.IsEpoch(401) }, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.expected, test.check())
		})
	}
}

func TestGetChainConfig(t *testing.T) {
	t.Run("empty bytes", func(t *testing.T) {
		require := require.New(t)
		c, err := GetChainConfig(nil)
		require.NoError(err)
		require.Equal(DefaultChainConfig(1), c)
	})

	t.Run("parlia defaults kept", func(t *testing.T) {
		require := require.New(t)
		c, err := GetChainConfig([]byte(`{"chain-id":97,"luban-block":5}`))
		require.NoError(err)
		require.Equal(uint64(DefaultEpoch), c.Parlia.Epoch)
		require.True(c.IsLuban(5))
		require.False(c.IsPlato(5))
	})

	t.Run("missing chain id", func(t *testing.T) {
		_, err := GetChainConfig([]byte(`{"luban-block":5}`))
		require.ErrorIs(t, err, ErrMissingChainID)
	})

	t.Run("zero epoch", func(t *testing.T) {
		_, err := GetChainConfig([]byte(`{"chain-id":1,"parlia":{"epoch":0}}`))
		require.ErrorIs(t, err, ErrZeroEpoch)
	})
}
