// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sealer

import (
	"context"
	"fmt"

	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/log"

	"github.com/luxfi/parlia/header"
	"github.com/luxfi/parlia/provider"
	"github.com/luxfi/parlia/utils/math"
	"github.com/luxfi/parlia/vote"
)

// AssembleVoteAttestation aggregates the pooled votes for the parent of h
// into an attestation and writes it into the extra-data of h. Votes count only
// if they carry exactly the data justifying the parent from the parent's
// justified checkpoint.
func (s *Sealer) AssembleVoteAttestation(ctx context.Context, h *types.Header) error {
	number := h.Number.Uint64()
	if !s.chain.IsLuban(number) || number < 2 {
		return nil
	}

	parent, err := s.snapshots.GetHeaderByHash(h.ParentHash)
	if err != nil {
		return err
	}
	// The validators that produced the parent are the ones voting for it.
	voters, err := s.snapshots.Snapshot(ctx, parent.Number.Uint64()-1, parent.ParentHash)
	if err != nil {
		return err
	}
	quorum := math.Quorum(len(voters.Validators))

	votes := s.votes.FetchVotesByBlockHash(parent.Hash())
	if len(votes) < quorum {
		return fmt.Errorf("%w: %d of %d for block %d", vote.ErrNotEnoughVotes, len(votes), quorum, parent.Number)
	}

	sourceNumber, sourceHash, err := provider.JustifiedNumberAndHash(ctx, s.snapshots, parent)
	if err != nil {
		return err
	}
	data := vote.Data{
		SourceNumber: sourceNumber,
		SourceHash:   sourceHash,
		TargetNumber: parent.Number.Uint64(),
		TargetHash:   parent.Hash(),
	}
	agreeing := make([]*vote.Envelope, 0, len(votes))
	for _, v := range votes {
		if v.Data != nil && *v.Data == data {
			agreeing = append(agreeing, v)
		}
	}
	if len(agreeing) < quorum {
		return fmt.Errorf("%w: %d of %d agree on %s", vote.ErrNotEnoughVotes, len(agreeing), quorum, &data)
	}

	a := &vote.Attestation{Data: &data}
	for _, v := range agreeing {
		_, info, ok := voters.ValidatorByVoteAddress(v.VoteAddress)
		if !ok {
			continue
		}
		if err := a.VoteAddressSet.Add(info.Index); err != nil {
			return err
		}
	}
	// Duplicate or unknown voters would be counted in the aggregate but not
	// in the bitset.
	if count := a.VoteAddressSet.Count(); count != len(agreeing) {
		return fmt.Errorf("%w: %d bits for %d signatures", vote.ErrInvalidAttestationSet, count, len(agreeing))
	}
	a.AggSignature, err = vote.AggregateSignatures(agreeing)
	if err != nil {
		return err
	}
	if err := header.SetVoteAttestation(h, s.chain, a); err != nil {
		return err
	}

	s.log.Debug("assembled vote attestation",
		log.Uint64("number", number),
		log.Stringer("data", &data),
		log.Int("votes", len(agreeing)),
	)
	return nil
}
