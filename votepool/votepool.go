// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package votepool collects the fast-finality votes of validators until the
// proposer of the next block aggregates them into an attestation.
package votepool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/btree"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/event"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"
	"github.com/luxfi/metric"

	"github.com/luxfi/parlia/config"
	"github.com/luxfi/parlia/utils/math"
	"github.com/luxfi/parlia/vote"
)

var (
	ErrOutOfWindow   = errors.New("vote target outside the accepted window")
	ErrDuplicateVote = errors.New("duplicate vote")
	ErrTooManyVotes  = errors.New("too many votes for target")
)

const defaultTreeDegree = 2

// VoteVerifier checks that a vote was cast by a validator of the chain at
// the vote's target block.
type VoteVerifier interface {
	VerifyVote(ctx context.Context, v *vote.Envelope) error
}

// NewVoteEvent is posted for every vote accepted into the pool.
type NewVoteEvent struct {
	Vote *vote.Envelope
}

type targetVotes struct {
	number uint64
	hash   common.Hash
	voters set.Set[vote.Address]
	votes  []*vote.Envelope
}

// Less orders targets by number, then hash.
func (t *targetVotes) Less(than *targetVotes) bool {
	if t.number != than.number {
		return t.number < than.number
	}
	return bytes.Compare(t.hash[:], than.hash[:]) < 0
}

// Pool holds verified votes keyed by target block hash. Only targets within
// [head-VoteLowerWindow, head+VoteUpperWindow] are accepted, which bounds the
// pool to MaxVotesPerBlock votes per block of the window.
type Pool struct {
	log      log.Logger
	config   *config.Config
	verifier VoteVerifier
	metrics  *metrics
	feed     event.Feed

	lock     sync.RWMutex
	head     uint64
	targets  map[common.Hash]*targetVotes
	byNumber *btree.BTreeG[*targetVotes]
	size     int
}

func New(
	logger log.Logger,
	cfg *config.Config,
	verifier VoteVerifier,
	head uint64,
	registerer metric.Registerer,
) (*Pool, error) {
	m, err := newMetrics(registerer)
	if err != nil {
		return nil, err
	}
	return &Pool{
		log:      logger,
		config:   cfg,
		verifier: verifier,
		metrics:  m,
		head:     head,
		targets:  make(map[common.Hash]*targetVotes),
		byNumber: btree.NewG(defaultTreeDegree, (*targetVotes).Less),
	}, nil
}

// PutRaw decodes an RLP vote envelope received from the network and adds it.
func (p *Pool) PutRaw(ctx context.Context, payload []byte) error {
	v, err := vote.ParseEnvelope(payload)
	if err != nil {
		p.metrics.rejected.With(metric.Labels{reasonLabel: "malformed"}).Inc()
		return err
	}
	return p.Put(ctx, v)
}

// Put verifies v and adds it to the pool.
func (p *Pool) Put(ctx context.Context, v *vote.Envelope) error {
	if err := p.put(ctx, v); err != nil {
		p.metrics.rejected.With(metric.Labels{reasonLabel: reason(err)}).Inc()
		p.log.Debug("rejected vote",
			log.Stringer("voter", v.VoteAddress),
			log.Err(err),
		)
		return err
	}
	p.feed.Send(NewVoteEvent{Vote: v})
	return nil
}

func (p *Pool) put(ctx context.Context, v *vote.Envelope) error {
	if v.Data == nil {
		return vote.ErrMissingData
	}

	// Cheap checks first, the signature last.
	p.lock.RLock()
	err := p.check(v)
	p.lock.RUnlock()
	if err != nil {
		return err
	}
	if err := v.Verify(); err != nil {
		return err
	}
	if err := p.verifier.VerifyVote(ctx, v); err != nil {
		return err
	}

	p.lock.Lock()
	defer p.lock.Unlock()

	// The head may have moved while verifying.
	if err := p.check(v); err != nil {
		return err
	}
	target, ok := p.targets[v.Data.TargetHash]
	if !ok {
		target = &targetVotes{
			number: v.Data.TargetNumber,
			hash:   v.Data.TargetHash,
			voters: set.NewSet[vote.Address](1),
		}
		p.targets[target.hash] = target
		p.byNumber.ReplaceOrInsert(target)
	}
	target.voters.Add(v.VoteAddress)
	target.votes = append(target.votes, v)
	p.size++
	p.metrics.votes.Set(float64(p.size))
	p.metrics.accepted.Inc()
	return nil
}

// check must be called with the lock held.
func (p *Pool) check(v *vote.Envelope) error {
	lower := math.SaturatingSub(p.head, p.config.VoteLowerWindow)
	upper := p.head + p.config.VoteUpperWindow
	number := v.Data.TargetNumber
	if number < lower || number > upper {
		return fmt.Errorf("%w: target %d, accepting [%d, %d]", ErrOutOfWindow, number, lower, upper)
	}
	target, ok := p.targets[v.Data.TargetHash]
	if !ok {
		return nil
	}
	if target.voters.Contains(v.VoteAddress) {
		return fmt.Errorf("%w: %s for %s", ErrDuplicateVote, v.VoteAddress, v.Data.TargetHash)
	}
	if len(target.votes) >= p.config.MaxVotesPerBlock {
		return fmt.Errorf("%w: %s", ErrTooManyVotes, v.Data.TargetHash)
	}
	return nil
}

// FetchVotesByBlockHash returns the votes whose target is hash.
func (p *Pool) FetchVotesByBlockHash(hash common.Hash) []*vote.Envelope {
	p.lock.RLock()
	defer p.lock.RUnlock()

	target, ok := p.targets[hash]
	if !ok {
		return nil
	}
	return slices.Clone(target.votes)
}

// Prune moves the head to number and drops votes that fell below the window.
func (p *Pool) Prune(head uint64) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if head < p.head {
		return
	}
	p.head = head
	lower := math.SaturatingSub(head, p.config.VoteLowerWindow)
	removed := 0
	for {
		target, ok := p.byNumber.Min()
		if !ok || target.number >= lower {
			break
		}
		p.byNumber.DeleteMin()
		delete(p.targets, target.hash)
		removed += len(target.votes)
	}
	p.size -= removed
	p.metrics.votes.Set(float64(p.size))
	if removed > 0 {
		p.log.Debug("pruned votes",
			log.Uint64("head", head),
			log.Int("removed", removed),
		)
	}
}

// Len returns the number of votes held.
func (p *Pool) Len() int {
	p.lock.RLock()
	defer p.lock.RUnlock()

	return p.size
}

// SubscribeNewVoteEvent delivers every accepted vote to ch.
func (p *Pool) SubscribeNewVoteEvent(ch chan<- NewVoteEvent) event.Subscription {
	return p.feed.Subscribe(ch)
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrOutOfWindow):
		return "window"
	case errors.Is(err, ErrDuplicateVote):
		return "duplicate"
	case errors.Is(err, ErrTooManyVotes):
		return "full"
	case errors.Is(err, vote.ErrInvalidSignature), errors.Is(err, vote.ErrParsePublicKey), errors.Is(err, vote.ErrParseSignature):
		return "signature"
	default:
		return "verifier"
	}
}
