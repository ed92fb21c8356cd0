// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package devnet

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/log"

	"github.com/luxfi/parlia/config"
	"github.com/luxfi/parlia/parliatest"
)

func parse(t *testing.T, args ...string) (*Config, error) {
	flags := pflag.NewFlagSet("devnet", pflag.ContinueOnError)
	AddFlags(flags)
	return ParseFlags(flags, args)
}

func TestParseFlagsDefaults(t *testing.T) {
	require := require.New(t)

	cfg, err := parse(t)
	require.NoError(err)
	require.Equal(4, cfg.Validators)
	require.Equal(uint64(10), cfg.Blocks)
	require.Empty(cfg.DBDir)
	require.Empty(cfg.HTTPAddr)
	require.Equal(uint64(1), cfg.Chain.Parlia.Period)
	require.Equal(uint64(200), cfg.Chain.Parlia.Epoch)
	require.Equal(int64(714), cfg.Chain.ChainID.Int64())
	require.Equal(config.Default, *cfg.Engine)
}

func TestParseFlags(t *testing.T) {
	require := require.New(t)

	configFile := filepath.Join(t.TempDir(), "config.json")
	require.NoError(os.WriteFile(configFile, []byte(`{"require-attestation":true}`), 0o600))

	cfg, err := parse(t,
		"--validators=7",
		"--blocks=3",
		"--period=2",
		"--epoch=50",
		"--chain-id=56",
		"--http-addr=127.0.0.1:9650",
		"--profile-dir=/tmp/profiles",
		"--config-file="+configFile,
	)
	require.NoError(err)
	require.Equal(7, cfg.Validators)
	require.Equal(uint64(3), cfg.Blocks)
	require.Equal(uint64(2), cfg.Chain.Parlia.Period)
	require.Equal(uint64(50), cfg.Chain.Parlia.Epoch)
	require.Equal(int64(56), cfg.Chain.ChainID.Int64())
	require.Equal("127.0.0.1:9650", cfg.HTTPAddr)
	require.Equal("/tmp/profiles", cfg.ProfileDir)
	require.True(cfg.Engine.RequireAttestation)
}

func TestParseFlagsInvalid(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		expectedErr error
	}{
		{
			name:        "no validators",
			args:        []string{"--validators=0"},
			expectedErr: errNoValidators,
		},
		{
			name:        "zero period",
			args:        []string{"--period=0"},
			expectedErr: errZeroPeriod,
		},
		{
			name:        "zero epoch",
			args:        []string{"--epoch=0"},
			expectedErr: config.ErrZeroEpoch,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := parse(t, test.args...)
			require.ErrorIs(t, err, test.expectedErr)
		})
	}
}

func TestRun(t *testing.T) {
	if testing.Short() {
		t.Skip("produces blocks in real time")
	}
	require := require.New(t)

	cfg, err := parse(t, "--validators=3", "--blocks=3")
	require.NoError(err)
	tracer := &parliatest.Tracer{}
	cfg.Tracer = tracer

	head, err := Run(context.Background(), log.NewNoOpLogger(), cfg)
	require.NoError(err)
	require.Equal(uint64(3), head.Number.Uint64())
	require.Contains(tracer.Spans(), "parlia.Seal")
	require.Contains(tracer.Spans(), "parlia.VerifyHeader")
}

func TestRunCanceled(t *testing.T) {
	cfg, err := parse(t, "--validators=3", "--blocks=100")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Run(ctx, log.NewNoOpLogger(), cfg)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunServesUntilCanceled(t *testing.T) {
	require := require.New(t)

	cfg, err := parse(t, "--validators=3", "--blocks=0", "--http-addr=127.0.0.1:0")
	require.NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	head, err := Run(ctx, log.NewNoOpLogger(), cfg)
	require.NoError(err)
	require.Zero(head.Number.Uint64())
}

func TestRunInvalidHTTPAddr(t *testing.T) {
	cfg, err := parse(t, "--validators=3", "--blocks=0", "--http-addr=127.0.0.1:-1")
	require.NoError(t, err)

	_, err = Run(context.Background(), log.NewNoOpLogger(), cfg)
	require.Error(t, err) //nolint:forbidigo // listen error from the OS
}

func TestRunProfiles(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	cfg, err := parse(t, "--validators=1", "--blocks=0", "--profile-dir="+dir)
	require.NoError(err)

	_, err = Run(context.Background(), log.NewNoOpLogger(), cfg)
	require.NoError(err)
	_, err = os.Stat(filepath.Join(dir, "cpu.profile"))
	require.NoError(err)
}
