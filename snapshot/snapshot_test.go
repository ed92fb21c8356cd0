// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package snapshot_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"

	"github.com/luxfi/parlia/config"
	"github.com/luxfi/parlia/header"
	"github.com/luxfi/parlia/parliatest"
	"github.com/luxfi/parlia/snapshot"
	"github.com/luxfi/parlia/utils/math"
	"github.com/luxfi/parlia/vote"
)

type env struct {
	config    *config.ChainConfig
	recoverer *header.Recoverer
	vals      []*parliatest.Validator
	genesis   *types.Header
	snap      *snapshot.Snapshot
}

func newEnv(t *testing.T, n int, epoch uint64) *env {
	c := parliatest.ChainConfig(epoch)
	r, err := header.NewRecoverer(c.ChainID, 1024)
	require.NoError(t, err)

	vals := parliatest.NewValidators(t, n)
	genesis := parliatest.Genesis(c, vals)
	snap, err := snapshot.New(0, genesis.Hash(), epoch, parliatest.HeaderValidators(vals))
	require.NoError(t, err)
	return &env{
		config:    c,
		recoverer: r,
		vals:      vals,
		genesis:   genesis,
		snap:      snap,
	}
}

func (e *env) sealed(t *testing.T, parent *types.Header, proposer *parliatest.Validator, embedded ...*parliatest.Validator) *types.Header {
	return parliatest.SealedBy(t, e.config, parent, proposer, header.DiffNoTurn, embedded)
}

func TestNew(t *testing.T) {
	require := require.New(t)

	e := newEnv(t, 4, 100)
	require.Equal(uint64(0), e.snap.Number)
	require.Equal(e.genesis.Hash(), e.snap.Hash)
	require.Empty(e.snap.Recents)
	require.Nil(e.snap.Attestation)

	list := e.snap.ValidatorList()
	require.Len(list, 4)
	for i, v := range e.vals {
		require.Equal(v.Address, list[i])
		info := e.snap.Validators[v.Address]
		require.Equal(i+1, info.Index)
		require.Equal(v.VoteAddress, info.VoteAddress)
	}

	_, err := snapshot.New(0, common.Hash{}, 100, nil)
	require.ErrorIs(err, snapshot.ErrNoValidators)
}

// Validators [A, B, C] with a window of two.
func TestApplyRecentSignerScenario(t *testing.T) {
	require := require.New(t)

	e := newEnv(t, 3, 100)
	a, b := e.vals[1], e.vals[2]
	require.True(e.snap.InTurn(a.Address))

	block1 := e.sealed(t, e.genesis, a)
	snap1, err := e.snap.Apply(e.config, e.recoverer, block1)
	require.NoError(err)
	require.Equal(map[uint64]common.Address{1: a.Address}, snap1.Recents)
	require.True(snap1.SignRecently(a.Address))

	_, err = snap1.Apply(e.config, e.recoverer, e.sealed(t, block1, a))
	require.ErrorIs(err, snapshot.ErrSignedRecently)

	block2 := e.sealed(t, block1, b)
	snap2, err := snap1.Apply(e.config, e.recoverer, block2)
	require.NoError(err)
	require.Len(snap2.Recents, 2)

	// a leaves the window once block 3 is applied.
	require.False(snap2.SignRecently(a.Address))
	snap3, err := snap2.Apply(e.config, e.recoverer, e.sealed(t, block2, a))
	require.NoError(err)
	require.Equal(map[uint64]common.Address{2: b.Address, 3: a.Address}, snap3.Recents)

	// Applying never mutates the parent snapshot.
	require.Equal(map[uint64]common.Address{1: a.Address}, snap1.Recents)
	require.Equal(uint64(1), snap1.Number)
}

func TestApplyUnknownValidator(t *testing.T) {
	e := newEnv(t, 3, 100)
	outsider := parliatest.NewValidators(t, 1)[0]
	_, err := e.snap.Apply(e.config, e.recoverer, e.sealed(t, e.genesis, outsider))
	require.ErrorIs(t, err, snapshot.ErrUnknownValidator)
}

func TestApplyRejectsGaps(t *testing.T) {
	require := require.New(t)

	e := newEnv(t, 3, 100)
	chain := parliatest.Chain(t, e.config, e.vals, 3)

	_, err := e.snap.Apply(e.config, e.recoverer, chain[2])
	require.ErrorIs(err, snapshot.ErrOutOfRangeChain)

	_, err = e.snap.Apply(e.config, e.recoverer, chain[1], chain[3])
	require.ErrorIs(err, snapshot.ErrOutOfRangeChain)

	forked := e.sealed(t, chain[1], e.vals[2])
	forked.ParentHash = common.Hash{1}
	e.vals[2].Seal(t, forked, e.config.ChainID)
	_, err = e.snap.Apply(e.config, e.recoverer, chain[1], forked)
	require.ErrorIs(err, snapshot.ErrBlockHashInconsistent)

	same, err := e.snap.Apply(e.config, e.recoverer)
	require.NoError(err)
	require.Same(e.snap, same)
}

func TestRecentsWindowBounded(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 5, 7, 21} {
		e := newEnv(t, n, 1000)
		limit := math.RecentsLimit(n)

		snap := e.snap
		parent := e.genesis
		for i := 0; i < 3*n; i++ {
			// Pick the first validator allowed to sign.
			var proposer *parliatest.Validator
			for _, v := range e.vals {
				if !snap.SignRecently(v.Address) {
					proposer = v
					break
				}
			}
			require.NotNil(t, proposer)

			h := e.sealed(t, parent, proposer)
			next, err := snap.Apply(e.config, e.recoverer, h)
			require.NoError(t, err)
			require.LessOrEqual(t, len(next.Recents), limit)

			seen := make(map[common.Address]bool)
			for _, addr := range next.Recents {
				require.False(t, seen[addr], "duplicate signer in window")
				seen[addr] = true
			}
			snap, parent = next, h
		}
	}
}

func TestInTurnRotation(t *testing.T) {
	require := require.New(t)

	e := newEnv(t, 5, 1000)
	chain := parliatest.Chain(t, e.config, e.vals, 12)
	snap, err := e.snap.Apply(e.config, e.recoverer, chain[1:]...)
	require.NoError(err)
	require.Equal(uint64(12), snap.Number)

	next := snap.Number + 1
	expected := e.vals[next%5].Address
	require.Equal(expected, snap.InTurnValidator())
	require.Equal(header.DiffInTurn, snap.Difficulty(expected))
	for _, v := range e.vals {
		if v.Address != expected {
			require.Equal(header.DiffNoTurn, snap.Difficulty(v.Address))
		}
	}
}

func TestApplyEpochSwitch(t *testing.T) {
	tests := []struct {
		name  string
		from  int
		to    int
		epoch uint64
	}{
		{"grow", 3, 5, 4},
		{"shrink", 7, 3, 8},
		{"same size", 4, 4, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)

			e := newEnv(t, tt.from, tt.epoch)
			chain := parliatest.Chain(t, e.config, e.vals, int(tt.epoch)-1)
			snap, err := e.snap.Apply(e.config, e.recoverer, chain[1:]...)
			require.NoError(err)

			newVals := parliatest.NewValidators(t, tt.to)
			proposer := e.vals[tt.epoch%uint64(tt.from)]
			boundary := e.sealed(t, chain[len(chain)-1], proposer, newVals...)
			switched, err := snap.Apply(e.config, e.recoverer, boundary)
			require.NoError(err)

			require.Len(switched.Validators, tt.to)
			for i, v := range newVals {
				info := switched.Validators[v.Address]
				require.NotNil(info)
				require.Equal(i+1, info.Index)
				require.Equal(v.VoteAddress, info.VoteAddress)
			}
			require.LessOrEqual(len(switched.Recents), math.RecentsLimit(tt.to))
			require.Equal(proposer.Address, switched.Recents[tt.epoch])

			// The new set signs the next block.
			next := e.sealed(t, boundary, newVals[0])
			_, err = switched.Apply(e.config, e.recoverer, next)
			require.NoError(err)

			old := e.sealed(t, boundary, e.vals[0])
			if _, ok := switched.Validators[e.vals[0].Address]; !ok {
				_, err = switched.Apply(e.config, e.recoverer, old)
				require.ErrorIs(err, snapshot.ErrUnknownValidator)
			}
		})
	}
}

func TestApplyEpochWithoutValidators(t *testing.T) {
	e := newEnv(t, 3, 2)
	chain := parliatest.Chain(t, e.config, e.vals, 1)
	boundary := e.sealed(t, chain[1], e.vals[2])
	_, err := e.snap.Apply(e.config, e.recoverer, chain[1], boundary)
	require.ErrorIs(t, err, header.ErrInvalidSpanValidators)
}

func attest(t *testing.T, e *env, h *types.Header, data *vote.Data, proposer *parliatest.Validator) {
	require.NoError(t, header.SetVoteAttestation(h, e.config, &vote.Attestation{Data: data, Extra: []byte{}}))
	proposer.Seal(t, h, e.config.ChainID)
}

func TestApplyAttestation(t *testing.T) {
	require := require.New(t)

	e := newEnv(t, 3, 1000)
	chain := parliatest.Chain(t, e.config, e.vals, 3)
	snap, err := e.snap.Apply(e.config, e.recoverer, chain[1:]...)
	require.NoError(err)

	// Block 4 justifies block 3 with source 2.
	b4, p4 := parliatest.Next(e.config, chain[3], e.vals)
	data := &vote.Data{
		SourceNumber: 2,
		SourceHash:   chain[2].Hash(),
		TargetNumber: 3,
		TargetHash:   chain[3].Hash(),
	}
	attest(t, e, b4, data, p4)
	snap4, err := snap.Apply(e.config, e.recoverer, b4)
	require.NoError(err)
	require.Equal(data, snap4.Attestation)

	// A non-consecutive source only advances the target.
	b5, p5 := parliatest.Next(e.config, b4, e.vals)
	attest(t, e, b5, &vote.Data{
		SourceNumber: 1,
		SourceHash:   chain[1].Hash(),
		TargetNumber: 4,
		TargetHash:   b4.Hash(),
	}, p5)
	snap5, err := snap4.Apply(e.config, e.recoverer, b5)
	require.NoError(err)
	require.Equal(&vote.Data{
		SourceNumber: 2,
		SourceHash:   chain[2].Hash(),
		TargetNumber: 4,
		TargetHash:   b4.Hash(),
	}, snap5.Attestation)
	require.Equal(data, snap4.Attestation)

	// An attestation that does not target the parent is ignored.
	b6, p6 := parliatest.Next(e.config, b5, e.vals)
	attest(t, e, b6, &vote.Data{
		SourceNumber: 2,
		SourceHash:   chain[2].Hash(),
		TargetNumber: 3,
		TargetHash:   chain[3].Hash(),
	}, p6)
	snap6, err := snap5.Apply(e.config, e.recoverer, b6)
	require.NoError(err)
	require.Equal(snap5.Attestation, snap6.Attestation)
}

func TestApplyAttestationBeforePlato(t *testing.T) {
	require := require.New(t)

	e := newEnv(t, 3, 1000)
	e.config.PlatoBlock = nil
	chain := parliatest.Chain(t, e.config, e.vals, 1)

	b2, p2 := parliatest.Next(e.config, chain[1], e.vals)
	attest(t, e, b2, &vote.Data{
		SourceNumber: 0,
		SourceHash:   e.genesis.Hash(),
		TargetNumber: 1,
		TargetHash:   chain[1].Hash(),
	}, p2)
	snap, err := e.snap.Apply(e.config, e.recoverer, chain[1], b2)
	require.NoError(err)
	require.Nil(snap.Attestation)
}

func TestSnapshotBytes(t *testing.T) {
	require := require.New(t)

	e := newEnv(t, 4, 1000)
	chain := parliatest.Chain(t, e.config, e.vals, 6)
	snap, err := e.snap.Apply(e.config, e.recoverer, chain[1:]...)
	require.NoError(err)

	b, err := snap.Bytes()
	require.NoError(err)
	parsed, err := snapshot.Parse(b)
	require.NoError(err)
	require.Equal(snap, parsed)

	_, err = snapshot.Parse([]byte(`{"number":1}`))
	require.ErrorIs(err, snapshot.ErrNoValidators)
}

func TestBackOffTime(t *testing.T) {
	require := require.New(t)

	e := newEnv(t, 7, 1000)
	inTurn := e.snap.InTurnValidator()
	require.Zero(e.snap.BackOffTime(inTurn))

	seen := make(map[uint64]bool)
	for _, v := range e.vals {
		if v.Address == inTurn {
			continue
		}
		delay := e.snap.BackOffTime(v.Address)
		require.GreaterOrEqual(delay, snapshot.InitialBackOffTime)
		require.Equal(delay, e.snap.BackOffTime(v.Address))
		require.False(seen[delay])
		seen[delay] = true
	}
	require.Zero(e.snap.BackOffTime(common.Address{0xff}))
}

func TestVoteAddresses(t *testing.T) {
	require := require.New(t)

	e := newEnv(t, 4, 1000)
	var set vote.ValidatorsBitSet
	require.NoError(set.Add(1))
	require.NoError(set.Add(3))
	require.Equal([]vote.Address{e.vals[0].VoteAddress, e.vals[2].VoteAddress}, e.snap.VoteAddresses(set))

	addr, info, ok := e.snap.ValidatorByVoteAddress(e.vals[3].VoteAddress)
	require.True(ok)
	require.Equal(e.vals[3].Address, addr)
	require.Equal(4, info.Index)

	_, _, ok = e.snap.ValidatorByVoteAddress(vote.Address{})
	require.False(ok)
}
