// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"slices"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"

	"github.com/luxfi/parlia/config"
	"github.com/luxfi/parlia/header"
	"github.com/luxfi/parlia/utils/math"
	"github.com/luxfi/parlia/vote"
)

const (
	// InitialBackOffTime is the delay, in seconds, of the first out-of-turn
	// proposer.
	InitialBackOffTime = uint64(1)
	// WiggleTime is the delay, in seconds, between consecutive out-of-turn
	// proposers.
	WiggleTime = uint64(1)
)

var (
	ErrUnknownValidator      = errors.New("unauthorized validator")
	ErrSignedRecently        = errors.New("validator signed recently")
	ErrNoValidators          = errors.New("empty validator set")
	ErrOutOfRangeChain       = errors.New("headers do not extend the snapshot")
	ErrBlockHashInconsistent = errors.New("header does not link to its parent")
)

// SignerRecoverer returns the address that sealed a header.
type SignerRecoverer interface {
	Recover(h *types.Header) (common.Address, error)
}

type ValidatorInfo struct {
	// Index is the 1-based position of the validator in ascending address
	// order. Bit Index-1 of a vote attestation refers to this validator.
	Index       int          `json:"index,omitempty"`
	VoteAddress vote.Address `json:"vote_address,omitempty"`
}

// Snapshot is the consensus state after the block Number/Hash. It is never
// modified after construction.
type Snapshot struct {
	Number      uint64                            `json:"number"`
	Hash        common.Hash                       `json:"hash"`
	EpochLength uint64                            `json:"epoch_length"`
	Validators  map[common.Address]*ValidatorInfo `json:"validators"`
	Recents     map[uint64]common.Address         `json:"recents"`
	Attestation *vote.Data                        `json:"attestation,omitempty"`

	// validators in ascending order, fixed for the epoch
	sorted []common.Address
}

// New returns the snapshot anchored at a header carrying a validator list.
// The recent-signer window starts empty.
func New(number uint64, hash common.Hash, epochLength uint64, vals []header.Validator) (*Snapshot, error) {
	if len(vals) == 0 {
		return nil, ErrNoValidators
	}
	s := &Snapshot{
		Number:      number,
		Hash:        hash,
		EpochLength: epochLength,
		Recents:     make(map[uint64]common.Address),
	}
	s.setValidators(vals)
	return s, nil
}

func (s *Snapshot) setValidators(vals []header.Validator) {
	s.Validators = make(map[common.Address]*ValidatorInfo, len(vals))
	for _, v := range vals {
		s.Validators[v.Address] = &ValidatorInfo{VoteAddress: v.VoteAddress}
	}
	s.sortValidators()
	for i, addr := range s.sorted {
		s.Validators[addr].Index = i + 1
	}
}

func (s *Snapshot) sortValidators() {
	s.sorted = make([]common.Address, 0, len(s.Validators))
	for addr := range s.Validators {
		s.sorted = append(s.sorted, addr)
	}
	slices.SortFunc(s.sorted, func(a, b common.Address) int {
		return bytes.Compare(a[:], b[:])
	})
}

func (s *Snapshot) copy() *Snapshot {
	cpy := &Snapshot{
		Number:      s.Number,
		Hash:        s.Hash,
		EpochLength: s.EpochLength,
		Validators:  make(map[common.Address]*ValidatorInfo, len(s.Validators)),
		Recents:     make(map[uint64]common.Address, len(s.Recents)),
		sorted:      s.sorted,
	}
	for addr, info := range s.Validators {
		infoCopy := *info
		cpy.Validators[addr] = &infoCopy
	}
	for number, addr := range s.Recents {
		cpy.Recents[number] = addr
	}
	if s.Attestation != nil {
		data := *s.Attestation
		cpy.Attestation = &data
	}
	return cpy
}

// Apply returns the snapshot reached by applying headers, which must extend s
// one block at a time. s is left untouched.
func (s *Snapshot) Apply(c *config.ChainConfig, r SignerRecoverer, headers ...*types.Header) (*Snapshot, error) {
	if len(headers) == 0 {
		return s, nil
	}
	for i := 0; i < len(headers)-1; i++ {
		if headers[i+1].Number.Uint64() != headers[i].Number.Uint64()+1 {
			return nil, ErrOutOfRangeChain
		}
		if headers[i+1].ParentHash != headers[i].Hash() {
			return nil, ErrBlockHashInconsistent
		}
	}
	if headers[0].Number.Uint64() != s.Number+1 {
		return nil, fmt.Errorf("%w: expected block %d, got %d", ErrOutOfRangeChain, s.Number+1, headers[0].Number)
	}
	if headers[0].ParentHash != s.Hash {
		return nil, ErrBlockHashInconsistent
	}

	snap := s.copy()
	for _, h := range headers {
		number := h.Number.Uint64()

		// The oldest signer leaves the window and may sign again.
		if limit := uint64(math.RecentsLimit(len(snap.Validators))); number >= limit {
			delete(snap.Recents, number-limit)
		}

		signer, err := r.Recover(h)
		if err != nil {
			return nil, err
		}
		if _, ok := snap.Validators[signer]; !ok {
			return nil, fmt.Errorf("%w: %s at block %d", ErrUnknownValidator, signer, number)
		}
		for _, recent := range snap.Recents {
			if recent == signer {
				return nil, fmt.Errorf("%w: %s at block %d", ErrSignedRecently, signer, number)
			}
		}
		snap.Recents[number] = signer

		if number > 0 && number%snap.EpochLength == 0 {
			vals, err := header.ParseValidators(h, c)
			if err != nil {
				return nil, err
			}
			oldLimit := math.RecentsLimit(len(snap.Validators))
			snap.setValidators(vals)
			newLimit := math.RecentsLimit(len(snap.Validators))
			// A smaller set has a smaller window.
			for i := newLimit; i < oldLimit; i++ {
				if k := uint64(i); number >= k {
					delete(snap.Recents, number-k)
				}
			}
		}

		snap.updateAttestation(h, c)
		snap.Number = number
		snap.Hash = h.Hash()
	}
	return snap, nil
}

// updateAttestation folds the attestation of h into the justified
// checkpoint. The target never moves backwards. Attestations are only
// verified on import from Plato on, so earlier ones are never folded.
func (s *Snapshot) updateAttestation(h *types.Header, c *config.ChainConfig) {
	if number := h.Number.Uint64(); !c.IsLuban(number) || !c.IsPlato(number) {
		return
	}
	a, err := header.GetVoteAttestation(h, c)
	if err != nil || a == nil {
		return
	}
	if a.Data.TargetNumber+1 != h.Number.Uint64() {
		return
	}
	if s.Attestation != nil && a.Data.TargetNumber < s.Attestation.TargetNumber {
		return
	}
	if s.Attestation != nil && a.Data.SourceNumber+1 != a.Data.TargetNumber {
		s.Attestation.TargetNumber = a.Data.TargetNumber
		s.Attestation.TargetHash = a.Data.TargetHash
		return
	}
	data := *a.Data
	s.Attestation = &data
}

// ValidatorList returns the validator set in rotation order.
func (s *Snapshot) ValidatorList() []common.Address {
	return slices.Clone(s.sorted)
}

func (s *Snapshot) IsValidator(addr common.Address) bool {
	_, ok := s.Validators[addr]
	return ok
}

// InTurnValidator is the designated proposer of block Number+1.
func (s *Snapshot) InTurnValidator() common.Address {
	return s.sorted[(s.Number+1)%uint64(len(s.sorted))]
}

// InTurn reports whether addr is the designated proposer of block Number+1.
func (s *Snapshot) InTurn(addr common.Address) bool {
	return s.InTurnValidator() == addr
}

// Difficulty is the difficulty addr must use for block Number+1.
func (s *Snapshot) Difficulty(addr common.Address) *big.Int {
	if s.InTurn(addr) {
		return new(big.Int).Set(header.DiffInTurn)
	}
	return new(big.Int).Set(header.DiffNoTurn)
}

// SignRecently reports whether addr is still inside the recent-signer window
// for block Number+1.
func (s *Snapshot) SignRecently(addr common.Address) bool {
	limit := uint64(math.RecentsLimit(len(s.Validators)))
	next := s.Number + 1
	for seen, recent := range s.Recents {
		if recent != addr {
			continue
		}
		if next < limit || seen > next-limit {
			return true
		}
	}
	return false
}

// VoteAddresses returns the vote addresses of the validators in set, in
// rotation order.
func (s *Snapshot) VoteAddresses(set vote.ValidatorsBitSet) []vote.Address {
	var addrs []vote.Address
	for _, addr := range s.sorted {
		info := s.Validators[addr]
		if set.Contains(info.Index) {
			addrs = append(addrs, info.VoteAddress)
		}
	}
	return addrs
}

// ValidatorByVoteAddress returns the validator owning voteAddr.
func (s *Snapshot) ValidatorByVoteAddress(voteAddr vote.Address) (common.Address, *ValidatorInfo, bool) {
	for addr, info := range s.Validators {
		if info.VoteAddress == voteAddr {
			return addr, info, true
		}
	}
	return common.Address{}, nil, false
}

// BackOffTime returns how many seconds after the in-turn slot val may
// propose block Number+1. The schedule is a shuffle seeded by Number so that
// every node derives the same order.
func (s *Snapshot) BackOffTime(val common.Address) uint64 {
	if s.InTurn(val) {
		return 0
	}
	idx := slices.Index(s.sorted, val)
	if idx < 0 {
		return 0
	}
	n := len(s.sorted)
	steps := make([]uint64, n)
	for i := range steps {
		steps[i] = uint64(i)
	}
	r := rand.New(rand.NewSource(int64(s.Number)))
	r.Shuffle(n, func(i, j int) {
		steps[i], steps[j] = steps[j], steps[i]
	})
	return InitialBackOffTime + steps[idx]*WiggleTime
}

// Bytes returns the JSON encoding of s.
func (s *Snapshot) Bytes() ([]byte, error) {
	return json.Marshal(s)
}

// Parse decodes a snapshot written by Bytes.
func Parse(b []byte) (*Snapshot, error) {
	s := &Snapshot{}
	if err := json.Unmarshal(b, s); err != nil {
		return nil, err
	}
	if len(s.Validators) == 0 {
		return nil, ErrNoValidators
	}
	if s.Recents == nil {
		s.Recents = make(map[uint64]common.Address)
	}
	s.sortValidators()
	return s, nil
}
