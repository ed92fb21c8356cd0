// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package parlia implements the Parlia proof-of-authority consensus engine:
// validators take turns sealing headers, out-of-turn validators back off, and
// BLS votes aggregated into headers justify and finalize blocks.
package parlia

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/consensus/misc/eip4844"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/geth/event"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	"github.com/luxfi/trace"

	"github.com/luxfi/parlia/config"
	"github.com/luxfi/parlia/header"
	"github.com/luxfi/parlia/metrics"
	"github.com/luxfi/parlia/provider"
	"github.com/luxfi/parlia/sealer"
	"github.com/luxfi/parlia/snapshot"
	"github.com/luxfi/parlia/utils/timer/mockable"
	"github.com/luxfi/parlia/verifier"
	"github.com/luxfi/parlia/vote"
	"github.com/luxfi/parlia/votepool"

	oteltrace "go.opentelemetry.io/otel/trace"
)

var (
	ErrUnknownTarget = errors.New("vote target is not a known block")
	ErrUnknownVoter  = errors.New("vote address is not a validator at the target")

	_ votepool.VoteVerifier = (*Parlia)(nil)
)

// Parlia is safe for concurrent use.
type Parlia struct {
	log       log.Logger
	config    *config.Config
	chain     *config.ChainConfig
	clock     *mockable.Clock
	recoverer *header.Recoverer
	snapshots *provider.Provider
	verifier  *verifier.Verifier
	sealer    *sealer.Sealer
	votes     *votepool.Pool
	metrics   metrics.Metrics
	tracer    trace.Tracer
}

// New returns an engine reading headers from headers and persisting
// snapshots in db. registerer must be a metric.Registry. A nil tracer
// disables tracing.
func New(
	logger log.Logger,
	cfg *config.Config,
	chain *config.ChainConfig,
	headers provider.HeaderReader,
	db database.Database,
	clock *mockable.Clock,
	tracer trace.Tracer,
	registerer metric.Registerer,
) (*Parlia, error) {
	if err := cfg.Verify(); err != nil {
		return nil, err
	}
	if err := chain.Verify(); err != nil {
		return nil, err
	}
	recoverer, err := header.NewRecoverer(chain.ChainID, cfg.SignatureCacheSize)
	if err != nil {
		return nil, err
	}
	snapshots, err := provider.New(logger, cfg, chain, headers, recoverer, db, registerer)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot provider: %w", err)
	}
	m, err := metrics.New(registerer)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	p := &Parlia{
		log:       logger,
		config:    cfg,
		chain:     chain,
		clock:     clock,
		recoverer: recoverer,
		snapshots: snapshots,
		verifier:  verifier.New(logger, cfg, chain, snapshots, recoverer, clock),
		metrics:   m,
		tracer:    tracer,
	}
	p.votes, err = votepool.New(logger, cfg, p, 0, registerer)
	if err != nil {
		return nil, fmt.Errorf("failed to create vote pool: %w", err)
	}
	p.sealer = sealer.New(logger, cfg, chain, snapshots, p.votes, clock)
	return p, nil
}

// Authorize sets the validator this node seals for.
func (p *Parlia) Authorize(validator common.Address, signFn sealer.SignerFn) {
	p.sealer.Authorize(validator, signFn)
}

// Author returns the validator that sealed h.
func (p *Parlia) Author(h *types.Header) (common.Address, error) {
	return p.recoverer.Recover(h)
}

// SealHash returns the hash the sealer of h signed.
func (p *Parlia) SealHash(h *types.Header) (common.Hash, error) {
	return header.SealHash(h, p.chain.ChainID)
}

// Snapshot returns the consensus state after the block number/hash.
func (p *Parlia) Snapshot(ctx context.Context, number uint64, hash common.Hash) (*snapshot.Snapshot, error) {
	return p.snapshots.Snapshot(ctx, number, hash)
}

func (p *Parlia) VerifyHeader(ctx context.Context, h *types.Header) error {
	ctx, span := p.startSpan(ctx, "parlia.VerifyHeader", h)
	defer span.End()

	err := p.verifier.VerifyHeader(ctx, h)
	p.metrics.MarkVerified(err)
	return err
}

func (p *Parlia) VerifyHeaders(ctx context.Context, headers []*types.Header) error {
	ctx, span := p.startSpan(ctx, "parlia.VerifyHeaders", nil, attribute.Int("headers", len(headers)))
	defer span.End()

	err := p.verifier.VerifyHeaders(ctx, headers)
	if err != nil {
		p.metrics.MarkVerified(err)
		return err
	}
	for range headers {
		p.metrics.MarkVerified(nil)
	}
	return nil
}

// ValidateBody checks the parts of b that do not need execution.
func (*Parlia) ValidateBody(b *types.Block) error {
	return verifier.ValidateBody(b)
}

// ValidateBlockPostExecution checks h against the receipts of its execution.
func (*Parlia) ValidateBlockPostExecution(h *types.Header, receipts types.Receipts) error {
	return verifier.ValidateBlockPostExecution(h, receipts)
}

// CalcDifficulty returns the difficulty the authorized validator must use for
// the child of parent.
func (p *Parlia) CalcDifficulty(ctx context.Context, parent *types.Header) (*big.Int, error) {
	snap, err := p.snapshots.Snapshot(ctx, parent.Number.Uint64(), parent.Hash())
	if err != nil {
		return nil, err
	}
	return snap.Difficulty(p.sealer.Validator()), nil
}

// Prepare fills in the consensus fields of h for the authorized validator:
// coinbase, difficulty, timestamp and extra-data. The vanity already in h is
// kept. Gas limit and body commitments are left to the caller.
func (p *Parlia) Prepare(ctx context.Context, h *types.Header) error {
	number := h.Number.Uint64()
	if number == 0 {
		return verifier.ErrUnknownBlock
	}
	parent, err := p.snapshots.GetHeaderByHash(h.ParentHash)
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("%w: %s", verifier.ErrUnknownAncestor, h.ParentHash)
	}
	if err != nil {
		return err
	}
	snap, err := p.snapshots.Snapshot(ctx, number-1, h.ParentHash)
	if err != nil {
		return err
	}

	validator := p.sealer.Validator()
	h.Coinbase = validator
	h.Difficulty = snap.Difficulty(validator)
	h.UncleHash = types.EmptyUncleHash
	h.MixDigest = common.Hash{}

	period := p.chain.Parlia.Period
	if p.chain.IsRamanujan(number) {
		period += snap.BackOffTime(validator)
	}
	ms := header.MilliTimestamp(parent) + period*1000
	if now := p.clock.UnixMilli(); now > ms {
		ms = now
	}
	h.Time = ms / 1000
	if p.chain.IsLorentz(number, h.Time) {
		header.SetMilliTimestamp(h, ms)
	}

	var vals []header.Validator
	if p.chain.IsEpoch(number) {
		vals = validators(snap)
	}
	var vanity []byte
	if len(h.Extra) > 0 {
		vanity = h.Extra[:min(len(h.Extra), header.ExtraVanity)]
	}
	h.Extra = header.NewExtra(vanity, vals, p.chain.IsLuban(number))

	h.BlobGasUsed, h.ExcessBlobGas = nil, nil
	if p.chain.IsCancun(number, h.Time) {
		excess := eip4844.CalcExcessBlobGas(p.chain.Params(), parent, h.Time)
		used := uint64(0)
		h.ExcessBlobGas, h.BlobGasUsed = &excess, &used
	}
	return nil
}

func (p *Parlia) startSpan(
	ctx context.Context,
	name string,
	h *types.Header,
	attrs ...attribute.KeyValue,
) (context.Context, oteltrace.Span) {
	if p.tracer == nil {
		return ctx, noop.Span{}
	}
	if h != nil {
		attrs = append(attrs,
			attribute.Stringer("number", h.Number),
			attribute.Stringer("parentHash", h.ParentHash),
		)
	}
	return p.tracer.Start(ctx, name, oteltrace.WithAttributes(attrs...))
}

// validators returns the set of snap in the extra-data layout.
func validators(snap *snapshot.Snapshot) []header.Validator {
	addrs := snap.ValidatorList()
	vals := make([]header.Validator, len(addrs))
	for i, addr := range addrs {
		vals[i] = header.Validator{
			Address:     addr,
			VoteAddress: snap.Validators[addr].VoteAddress,
		}
	}
	return vals
}

// Seal waits for the slot of h and returns a signed copy. See sealer.Seal.
func (p *Parlia) Seal(ctx context.Context, h *types.Header, newHead <-chan *types.Header) (*types.Header, error) {
	ctx, span := p.startSpan(ctx, "parlia.Seal", h)
	defer span.End()

	start := p.clock.Time()
	sealed, err := p.sealer.Seal(ctx, h, newHead)
	if err != nil {
		p.metrics.MarkSealFailed()
		return nil, err
	}
	a, _ := header.GetVoteAttestation(sealed, p.chain)
	p.metrics.MarkSealed(p.clock.Time().Sub(start), a != nil)
	return sealed, nil
}

// Accept records h as the new head: old votes are pruned and the finality
// gauges follow the head.
func (p *Parlia) Accept(ctx context.Context, h *types.Header) error {
	ctx, span := p.startSpan(ctx, "parlia.Accept", h)
	defer span.End()

	p.votes.Prune(h.Number.Uint64())

	justified, _, err := p.GetJustifiedNumberAndHash(ctx, h)
	if err != nil {
		return err
	}
	finalized, err := p.GetFinalizedHeader(ctx, h)
	if err != nil {
		return err
	}
	p.metrics.SetJustified(justified)
	p.metrics.SetFinalized(finalized.Number.Uint64())
	return nil
}

// GetJustifiedNumberAndHash returns the latest justified checkpoint as of h.
func (p *Parlia) GetJustifiedNumberAndHash(ctx context.Context, h *types.Header) (uint64, common.Hash, error) {
	return provider.JustifiedNumberAndHash(ctx, p.snapshots, h)
}

// GetFinalizedHeader returns the latest finalized header as of h.
func (p *Parlia) GetFinalizedHeader(ctx context.Context, h *types.Header) (*types.Header, error) {
	return provider.FinalizedHeader(ctx, p.snapshots, h)
}

// VerifyVote checks that the voter of v is a validator of the set that
// produced the vote's target block.
func (p *Parlia) VerifyVote(ctx context.Context, v *vote.Envelope) error {
	if v.Data == nil {
		return vote.ErrMissingData
	}
	target, err := p.snapshots.GetHeaderByHash(v.Data.TargetHash)
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownTarget, v.Data.TargetHash)
	}
	if err != nil {
		return err
	}
	number := target.Number.Uint64()
	if number != v.Data.TargetNumber || number == 0 {
		return fmt.Errorf("%w: %s is block %d, vote targets %d", ErrUnknownTarget, v.Data.TargetHash, number, v.Data.TargetNumber)
	}
	snap, err := p.snapshots.Snapshot(ctx, number-1, target.ParentHash)
	if err != nil {
		return err
	}
	if _, _, ok := snap.ValidatorByVoteAddress(v.VoteAddress); !ok {
		return fmt.Errorf("%w: %s at block %d", ErrUnknownVoter, v.VoteAddress, number)
	}
	return nil
}

// PutVote adds a vote received from the network to the pool.
func (p *Parlia) PutVote(ctx context.Context, v *vote.Envelope) error {
	return p.votes.Put(ctx, v)
}

// PutRawVote adds an RLP encoded vote to the pool.
func (p *Parlia) PutRawVote(ctx context.Context, payload []byte) error {
	return p.votes.PutRaw(ctx, payload)
}

// FetchVotesByBlockHash returns the pooled votes targeting hash.
func (p *Parlia) FetchVotesByBlockHash(hash common.Hash) []*vote.Envelope {
	return p.votes.FetchVotesByBlockHash(hash)
}

// SubscribeNewVoteEvent delivers every vote accepted into the pool to ch.
func (p *Parlia) SubscribeNewVoteEvent(ch chan<- votepool.NewVoteEvent) event.Subscription {
	return p.votes.SubscribeNewVoteEvent(ch)
}
