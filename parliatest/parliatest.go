// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package parliatest provides validators, signers and header chains for
// tests.
package parliatest

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/crypto"
	"github.com/luxfi/crypto/bls/signer/localsigner"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"

	"github.com/luxfi/parlia/config"
	"github.com/luxfi/parlia/header"
	"github.com/luxfi/parlia/vote"
)

var errWrongAccount = errors.New("signer does not hold the requested account")

// Validator holds both keys of a test validator.
type Validator struct {
	Key         *ecdsa.PrivateKey
	Address     common.Address
	BLS         vote.Signer
	VoteAddress vote.Address
}

// NewValidators returns n validators sorted by address.
func NewValidators(t testing.TB, n int) []*Validator {
	vals := make([]*Validator, n)
	for i := range vals {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		sk, err := localsigner.New()
		require.NoError(t, err)
		vals[i] = &Validator{
			Key:         key,
			Address:     common.PubkeyToAddress(key.PublicKey),
			BLS:         sk,
			VoteAddress: vote.AddressFromPublicKey(sk.PublicKey()),
		}
	}
	slices.SortFunc(vals, func(a, b *Validator) int {
		return bytes.Compare(a.Address[:], b.Address[:])
	})
	return vals
}

// HeaderValidators converts vals into the extra-data validator list.
func HeaderValidators(vals []*Validator) []header.Validator {
	out := make([]header.Validator, len(vals))
	for i, v := range vals {
		out[i] = header.Validator{
			Address:     v.Address,
			VoteAddress: v.VoteAddress,
		}
	}
	return out
}

// SignFn signs keccak256(message) with the validator's key.
func (v *Validator) SignFn(account common.Address, _ string, message []byte) ([]byte, error) {
	if account != v.Address {
		return nil, errWrongAccount
	}
	return crypto.Sign(crypto.Keccak256(message), v.Key)
}

// Seal signs h in place.
func (v *Validator) Seal(t testing.TB, h *types.Header, chainID *big.Int) {
	hash, err := header.SealHash(h, chainID)
	require.NoError(t, err)
	sig, err := crypto.Sign(hash.Bytes(), v.Key)
	require.NoError(t, err)
	require.NoError(t, header.SetSignature(h, sig))
}

// Vote casts v's vote for data.
func (v *Validator) Vote(t testing.TB, data *vote.Data) *vote.Envelope {
	e, err := vote.Sign(v.BLS, data)
	require.NoError(t, err)
	return e
}

// Attest aggregates the votes of voters for data. all is the sorted
// validator set that assigns the bitset indices.
func Attest(t testing.TB, all []*Validator, voters []*Validator, data *vote.Data) *vote.Attestation {
	a := &vote.Attestation{Data: data}
	votes := make([]*vote.Envelope, len(voters))
	for i, v := range voters {
		index := slices.Index(all, v)
		require.GreaterOrEqual(t, index, 0)
		require.NoError(t, a.VoteAddressSet.Add(index+1))
		votes[i] = v.Vote(t, data)
	}
	sig, err := vote.AggregateSignatures(votes)
	require.NoError(t, err)
	a.AggSignature = sig
	return a
}

// Genesis returns the genesis header embedding vals.
func Genesis(c *config.ChainConfig, vals []*Validator) *types.Header {
	return &types.Header{
		Number:     big.NewInt(0),
		Difficulty: new(big.Int).Set(header.DiffInTurn),
		UncleHash:  types.EmptyUncleHash,
		GasLimit:   30_000_000,
		Time:       1_700_000_000,
		Extra:      header.NewExtra(nil, HeaderValidators(vals), c.IsLuban(0)),
	}
}

// Next returns an unsigned child of parent produced by the in-turn validator
// of a rotation over vals. Epoch children embed vals.
func Next(c *config.ChainConfig, parent *types.Header, vals []*Validator) (*types.Header, *Validator) {
	number := parent.Number.Uint64() + 1
	proposer := vals[number%uint64(len(vals))]
	var embedded []*Validator
	if c.IsEpoch(number) {
		embedded = vals
	}
	return NextBy(c, parent, proposer, header.DiffInTurn, embedded), proposer
}

// NextBy returns an unsigned child of parent produced by proposer with the
// given difficulty, embedding the validator list when it is non-empty.
func NextBy(c *config.ChainConfig, parent *types.Header, proposer *Validator, difficulty *big.Int, embedded []*Validator) *types.Header {
	number := parent.Number.Uint64() + 1
	return &types.Header{
		ParentHash: parent.Hash(),
		UncleHash:  types.EmptyUncleHash,
		Coinbase:   proposer.Address,
		Number:     new(big.Int).SetUint64(number),
		Difficulty: new(big.Int).Set(difficulty),
		GasLimit:   parent.GasLimit,
		Time:       parent.Time + c.Parlia.Period,
		Extra:      header.NewExtra(nil, HeaderValidators(embedded), c.IsLuban(number)),
	}
}

// SealedBy returns a child of parent sealed by proposer.
func SealedBy(t testing.TB, c *config.ChainConfig, parent *types.Header, proposer *Validator, difficulty *big.Int, embedded []*Validator) *types.Header {
	h := NextBy(c, parent, proposer, difficulty, embedded)
	proposer.Seal(t, h, c.ChainID)
	return h
}

// Chain returns genesis followed by length sealed in-turn headers.
func Chain(t testing.TB, c *config.ChainConfig, vals []*Validator, length int) []*types.Header {
	chain := []*types.Header{Genesis(c, vals)}
	for i := 0; i < length; i++ {
		h, proposer := Next(c, chain[len(chain)-1], vals)
		proposer.Seal(t, h, c.ChainID)
		chain = append(chain, h)
	}
	return chain
}

// ChainConfig returns a config with every block fork active from genesis, no
// time forks, and the given epoch length.
func ChainConfig(epoch uint64) *config.ChainConfig {
	c := config.DefaultChainConfig(714)
	c.CancunTime = nil
	c.LorentzTime = nil
	c.Parlia.Epoch = epoch
	return c
}
