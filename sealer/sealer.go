// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package sealer produces signed headers for the local validator.
package sealer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/log"

	"github.com/luxfi/parlia/config"
	"github.com/luxfi/parlia/header"
	"github.com/luxfi/parlia/provider"
	"github.com/luxfi/parlia/snapshot"
	"github.com/luxfi/parlia/utils/math"
	"github.com/luxfi/parlia/utils/timer/mockable"
	"github.com/luxfi/parlia/vote"
)

// MimetypeParlia tags the message passed to the signer.
const MimetypeParlia = "application/x-parlia-header"

const (
	// Before Ramanujan an out-of-turn validator waits this long past its slot
	// plus a random wiggle.
	fixedBackOffTimeBeforeFork = 200 * time.Millisecond
	wiggleTimeBeforeFork       = 500 * time.Millisecond
)

var (
	ErrUnknownBlock  = errors.New("cannot seal the genesis block")
	ErrNotAuthorized = errors.New("no validator authorized to seal")
	ErrSignerFailure = errors.New("signer failure")
	ErrStaleSeal     = errors.New("competing block observed while waiting to seal")
)

// SignerFn signs message on behalf of account. The message is the RLP
// encoding of the header without its seal; the signer hashes it.
type SignerFn func(account common.Address, mimetype string, message []byte) ([]byte, error)

// VotePool supplies the votes collected for a block.
type VotePool interface {
	FetchVotesByBlockHash(hash common.Hash) []*vote.Envelope
}

type Sealer struct {
	log       log.Logger
	config    *config.Config
	chain     *config.ChainConfig
	snapshots provider.SnapshotProvider
	votes     VotePool
	clock     *mockable.Clock

	// wiggle returns a random duration in [0, n).
	wiggle func(n time.Duration) time.Duration

	lock      sync.RWMutex
	validator common.Address
	signFn    SignerFn
}

func New(
	logger log.Logger,
	cfg *config.Config,
	chain *config.ChainConfig,
	snapshots provider.SnapshotProvider,
	votes VotePool,
	clock *mockable.Clock,
) *Sealer {
	return &Sealer{
		log:       logger,
		config:    cfg,
		chain:     chain,
		snapshots: snapshots,
		votes:     votes,
		clock:     clock,
		wiggle: func(n time.Duration) time.Duration {
			return time.Duration(rand.Int63n(int64(n)))
		},
	}
}

// Authorize sets the validator that seals blocks and its signer.
func (s *Sealer) Authorize(validator common.Address, signFn SignerFn) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.validator = validator
	s.signFn = signFn
}

// Validator returns the authorized validator, if any.
func (s *Sealer) Validator() common.Address {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.validator
}

// Seal waits for the slot of h, attaches a vote attestation for its parent
// and signs it. h is not modified. The wait is abandoned when ctx is done or
// newHead delivers a block at or above the height of h.
//
// Every error means the slot is forfeited; none is fatal to the node.
func (s *Sealer) Seal(ctx context.Context, h *types.Header, newHead <-chan *types.Header) (*types.Header, error) {
	number := h.Number.Uint64()
	if number == 0 {
		return nil, ErrUnknownBlock
	}

	s.lock.RLock()
	validator, signFn := s.validator, s.signFn
	s.lock.RUnlock()
	if signFn == nil {
		return nil, ErrNotAuthorized
	}

	snap, err := s.snapshots.Snapshot(ctx, number-1, h.ParentHash)
	if err != nil {
		return nil, err
	}
	if !snap.IsValidator(validator) {
		return nil, fmt.Errorf("%w: %s", snapshot.ErrUnknownValidator, validator)
	}
	if snap.SignRecently(validator) {
		return nil, fmt.Errorf("%w: %s at block %d", snapshot.ErrSignedRecently, validator, number)
	}

	delay := s.Delay(snap, h, validator)
	s.log.Debug("waiting for slot",
		log.Uint64("number", number),
		log.Duration("delay", delay),
	)
	if err := s.wait(ctx, number, delay, newHead); err != nil {
		return nil, err
	}

	sealed := types.CopyHeader(h)
	if err := s.AssembleVoteAttestation(ctx, sealed); err != nil {
		if s.config.RequireAttestation {
			return nil, err
		}
		s.log.Debug("sealing without vote attestation",
			log.Uint64("number", number),
			log.Err(err),
		)
	}

	var buf bytes.Buffer
	if err := header.EncodeSigHeader(&buf, sealed, s.chain.ChainID); err != nil {
		return nil, err
	}
	sig, err := signFn(validator, MimetypeParlia, buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignerFailure, err)
	}
	if err := header.SetSignature(sealed, sig); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignerFailure, err)
	}

	s.log.Info("sealed block",
		log.Uint64("number", number),
		log.Stringer("hash", sealed.Hash()),
		log.Stringer("difficulty", sealed.Difficulty),
	)
	return sealed, nil
}

// Delay returns how long validator must wait before sealing h on top of the
// snapshot of its parent.
func (s *Sealer) Delay(snap *snapshot.Snapshot, h *types.Header, validator common.Address) time.Duration {
	deadline := time.UnixMilli(int64(header.MilliTimestamp(h)))
	delay := deadline.Sub(s.clock.Time())
	if s.chain.IsRamanujan(h.Number.Uint64()) || snap.InTurn(validator) {
		return delay
	}
	wiggle := time.Duration(math.RecentsLimit(len(snap.Validators))) * wiggleTimeBeforeFork
	return delay + fixedBackOffTimeBeforeFork + s.wiggle(wiggle)
}

func (s *Sealer) wait(ctx context.Context, number uint64, delay time.Duration, newHead <-chan *types.Header) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case head, ok := <-newHead:
			if !ok {
				newHead = nil
				continue
			}
			if head.Number.Uint64() >= number {
				return fmt.Errorf("%w: block %d %s", ErrStaleSeal, head.Number, head.Hash())
			}
		}
	}
}
