// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package verifier enforces the Parlia header rules on the import path.
package verifier

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/log"

	"github.com/luxfi/parlia/config"
	"github.com/luxfi/parlia/header"
	"github.com/luxfi/parlia/provider"
	"github.com/luxfi/parlia/snapshot"
	"github.com/luxfi/parlia/utils/math"
	"github.com/luxfi/parlia/utils/timer/mockable"
)

var (
	ErrUnknownBlock        = errors.New("unknown block")
	ErrUnknownAncestor     = errors.New("unknown ancestor")
	ErrFutureBlock         = errors.New("block in the future")
	ErrBlockTooEarly       = errors.New("block before its proposal slot")
	ErrTimestampIsInPast   = errors.New("timestamp not after parent")
	ErrInvalidMixDigest    = errors.New("invalid mix digest")
	ErrInvalidUncleHash    = errors.New("non empty uncle hash")
	ErrInvalidDifficulty   = errors.New("invalid difficulty")
	ErrWrongDifficulty     = errors.New("wrong difficulty")
	ErrCoinBaseMismatch    = errors.New("coinbase does not match the signer")
	ErrInvalidGasUsed      = errors.New("gas used exceeds gas limit")
	ErrInvalidBlobGas      = errors.New("invalid blob gas")
	ErrUnclesNotAllowed    = errors.New("uncles not allowed")
	ErrTxRootMismatch      = errors.New("transaction root mismatch")
	ErrBlockGasUsed        = errors.New("gas used does not match receipts")
	ErrReceiptRootMismatch = errors.New("receipt root mismatch")
	ErrBloomMismatch       = errors.New("bloom mismatch")
)

// Verifier checks headers against the snapshot of their parent. It holds no
// state of its own and is safe for concurrent use.
type Verifier struct {
	log       log.Logger
	config    *config.Config
	chain     *config.ChainConfig
	snapshots provider.SnapshotProvider
	recoverer snapshot.SignerRecoverer
	clock     *mockable.Clock
}

func New(
	logger log.Logger,
	cfg *config.Config,
	chain *config.ChainConfig,
	snapshots provider.SnapshotProvider,
	recoverer snapshot.SignerRecoverer,
	clock *mockable.Clock,
) *Verifier {
	return &Verifier{
		log:       logger,
		config:    cfg,
		chain:     chain,
		snapshots: snapshots,
		recoverer: recoverer,
		clock:     clock,
	}
}

// VerifyHeader checks h, whose parent must already be in the header store.
func (v *Verifier) VerifyHeader(ctx context.Context, h *types.Header) error {
	if err := v.verifyStandalone(h); err != nil {
		return err
	}
	number := h.Number.Uint64()
	if number == 0 {
		return nil
	}
	parent, err := v.parent(h)
	if err != nil {
		return err
	}
	snap, err := v.snapshots.Snapshot(ctx, number-1, h.ParentHash)
	if err != nil {
		return err
	}
	return v.verifyCascading(ctx, h, parent, snap, nil)
}

// VerifyHeaders checks a contiguous batch of headers in ascending order. Only
// the parent of the first header needs to be in the header store. It returns
// the first failure.
func (v *Verifier) VerifyHeaders(ctx context.Context, headers []*types.Header) error {
	if len(headers) == 0 {
		return nil
	}

	// Signer recovery dominates the cost; warm the recoverer's cache in
	// parallel and report failures in order below.
	var eg errgroup.Group
	if v.config.VerifyHeadersParallel > 0 {
		eg.SetLimit(v.config.VerifyHeadersParallel)
	}
	for _, h := range headers {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			_, _ = v.recoverer.Recover(h)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	var (
		parent *types.Header
		snap   *snapshot.Snapshot
		voters *snapshot.Snapshot
	)
	for i, h := range headers {
		if err := v.verifyStandalone(h); err != nil {
			return fmt.Errorf("header %d: %w", i, err)
		}
		number := h.Number.Uint64()
		switch {
		case i > 0:
		case number == 0:
			// Genesis is valid by definition and anchors the batch.
			s, err := v.snapshots.Snapshot(ctx, 0, h.Hash())
			if err != nil {
				return err
			}
			parent, snap = h, s
			continue
		default:
			p, err := v.parent(h)
			if err != nil {
				return fmt.Errorf("header %d: %w", i, err)
			}
			s, err := v.snapshots.Snapshot(ctx, number-1, h.ParentHash)
			if err != nil {
				return fmt.Errorf("header %d: %w", i, err)
			}
			parent, snap = p, s
		}

		if err := v.verifyCascading(ctx, h, parent, snap, voters); err != nil {
			return fmt.Errorf("header %d: %w", i, err)
		}
		next, err := snap.Apply(v.chain, v.recoverer, h)
		if err != nil {
			return fmt.Errorf("header %d: %w", i, err)
		}
		parent, voters, snap = h, snap, next
	}
	return nil
}

func (v *Verifier) parent(h *types.Header) (*types.Header, error) {
	parent, err := v.snapshots.GetHeaderByHash(h.ParentHash)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAncestor, h.ParentHash)
	}
	return parent, err
}

// verifyStandalone checks the fields of h that do not depend on its
// ancestors.
func (v *Verifier) verifyStandalone(h *types.Header) error {
	if h.Number == nil {
		return ErrUnknownBlock
	}
	number := h.Number.Uint64()

	if err := v.verifyExtra(h); err != nil {
		return err
	}
	if v.chain.IsLorentz(number, h.Time) {
		if !header.ValidMilliseconds(h) {
			return fmt.Errorf("%w: milliseconds out of range", ErrInvalidMixDigest)
		}
	} else if h.MixDigest != (common.Hash{}) {
		return ErrInvalidMixDigest
	}
	if h.UncleHash != types.EmptyUncleHash {
		return ErrInvalidUncleHash
	}
	if number > 0 {
		if h.Difficulty == nil || (h.Difficulty.Cmp(header.DiffInTurn) != 0 && h.Difficulty.Cmp(header.DiffNoTurn) != 0) {
			return ErrInvalidDifficulty
		}
	}
	if h.GasUsed > h.GasLimit {
		return fmt.Errorf("%w: used %d, limit %d", ErrInvalidGasUsed, h.GasUsed, h.GasLimit)
	}

	// Every later millisecond comparison relies on this bound.
	ms, err := header.SafeMilliTimestamp(h)
	if err != nil {
		return fmt.Errorf("%w: block %d at %ds: %w", ErrFutureBlock, number, h.Time, err)
	}
	allowed := uint64(v.config.AllowedFutureBlock.Milliseconds())
	if now := v.clock.UnixMilli(); ms > now+allowed {
		return fmt.Errorf("%w: block %d at %dms, now %dms", ErrFutureBlock, number, ms, now)
	}
	return nil
}

// verifyExtra checks that extra-data holds the vanity and the seal, a
// validator list exactly on epoch blocks, and nothing else but a well formed
// attestation.
func (v *Verifier) verifyExtra(h *types.Header) error {
	if err := header.CheckLength(h); err != nil {
		return err
	}
	number := h.Number.Uint64()
	if v.chain.IsEpoch(number) {
		if _, err := header.ParseValidators(h, v.chain); err != nil {
			return err
		}
	} else if !v.chain.IsLuban(number) && len(h.Extra) != header.ExtraVanity+header.ExtraSeal {
		return header.ErrExtraValidators
	}
	_, err := header.GetVoteAttestation(h, v.chain)
	return err
}

// verifyCascading checks h against its parent and the snapshot after the
// parent. voters is the snapshot after the grandparent, fetched when nil.
func (v *Verifier) verifyCascading(
	ctx context.Context,
	h *types.Header,
	parent *types.Header,
	snap *snapshot.Snapshot,
	voters *snapshot.Snapshot,
) error {
	number := h.Number.Uint64()

	signer, err := v.recoverer.Recover(h)
	if err != nil {
		return err
	}
	if !snap.IsValidator(signer) {
		return fmt.Errorf("%w: %s at block %d", snapshot.ErrUnknownValidator, signer, number)
	}
	if snap.SignRecently(signer) {
		return fmt.Errorf("%w: %s at block %d", snapshot.ErrSignedRecently, signer, number)
	}
	if expected := snap.Difficulty(signer); h.Difficulty.Cmp(expected) != 0 {
		return fmt.Errorf("%w: %s has %s, expected %s", ErrWrongDifficulty, signer, h.Difficulty, expected)
	}
	if h.Coinbase != signer {
		return fmt.Errorf("%w: coinbase %s, signer %s", ErrCoinBaseMismatch, h.Coinbase, signer)
	}

	if parent.Number.Uint64()+1 != number || parent.Hash() != h.ParentHash || snap.Hash != h.ParentHash {
		return fmt.Errorf("%w: block %d does not extend %d %s", ErrUnknownAncestor, number, parent.Number, parent.Hash())
	}
	if err := v.verifyTimestamp(h, parent, snap, signer); err != nil {
		return err
	}
	if err := verifyBlobGas(v.chain, h, parent); err != nil {
		return err
	}

	if err := v.verifyVoteAttestation(ctx, h, parent, snap, voters); err != nil {
		if v.chain.IsPlato(number) {
			return err
		}
		v.log.Warn("ignoring invalid vote attestation before Plato",
			log.Uint64("number", number),
			log.Err(err),
		)
	}
	return nil
}

func (v *Verifier) verifyTimestamp(h, parent *types.Header, snap *snapshot.Snapshot, signer common.Address) error {
	number := h.Number.Uint64()
	if v.chain.IsLorentz(number, h.Time) {
		if header.MilliTimestamp(h) <= header.MilliTimestamp(parent) {
			return fmt.Errorf("%w: %dms, parent %dms", ErrTimestampIsInPast, header.MilliTimestamp(h), header.MilliTimestamp(parent))
		}
	} else if h.Time <= parent.Time {
		return fmt.Errorf("%w: %d, parent %d", ErrTimestampIsInPast, h.Time, parent.Time)
	}

	if v.chain.IsRamanujan(number) {
		delay := (v.chain.Parlia.Period + snap.BackOffTime(signer)) * 1000
		if earliest := header.MilliTimestamp(parent) + delay; header.MilliTimestamp(h) < earliest {
			return fmt.Errorf("%w: block %d at %dms, earliest %dms", ErrBlockTooEarly, number, header.MilliTimestamp(h), earliest)
		}
	}
	return nil
}

// verifyVoteAttestation checks that an attestation in h justifies its parent
// from the parent's justified checkpoint with a quorum of the validators that
// produced the parent.
func (v *Verifier) verifyVoteAttestation(
	ctx context.Context,
	h *types.Header,
	parent *types.Header,
	snap *snapshot.Snapshot,
	voters *snapshot.Snapshot,
) error {
	a, err := header.GetVoteAttestation(h, v.chain)
	if err != nil || a == nil {
		return err
	}
	number := h.Number.Uint64()
	if number < 2 {
		return fmt.Errorf("%w: attestation in block %d", header.ErrInvalidAttestation, number)
	}

	if a.Data.TargetNumber != parent.Number.Uint64() || a.Data.TargetHash != parent.Hash() {
		return fmt.Errorf("%w: target %d %s, expected parent %d %s",
			header.ErrInvalidAttestation, a.Data.TargetNumber, a.Data.TargetHash, parent.Number, parent.Hash())
	}
	justifiedNumber, justifiedHash, err := provider.Justified(v.snapshots, snap)
	if err != nil {
		return err
	}
	if a.Data.SourceNumber != justifiedNumber || a.Data.SourceHash != justifiedHash {
		return fmt.Errorf("%w: source %d %s, expected justified %d %s",
			header.ErrInvalidAttestation, a.Data.SourceNumber, a.Data.SourceHash, justifiedNumber, justifiedHash)
	}

	if voters == nil {
		voters, err = v.snapshots.Snapshot(ctx, parent.Number.Uint64()-1, parent.ParentHash)
		if err != nil {
			return err
		}
	}
	n := len(voters.Validators)
	count := a.VoteAddressSet.Count()
	if count > n {
		return fmt.Errorf("%w: %d votes from %d validators", header.ErrInvalidAttestation, count, n)
	}
	addrs := voters.VoteAddresses(a.VoteAddressSet)
	if len(addrs) != count {
		return fmt.Errorf("%w: vote set names unknown validators", header.ErrInvalidAttestation)
	}
	if quorum := math.Quorum(n); count < quorum {
		return fmt.Errorf("%w: %d votes, quorum %d", header.ErrInvalidAttestation, count, quorum)
	}
	if err := a.VerifySignature(addrs); err != nil {
		return fmt.Errorf("%w: %w", header.ErrInvalidAttestation, err)
	}
	return nil
}
