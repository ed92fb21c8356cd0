// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package provider

import (
	"context"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"

	"github.com/luxfi/parlia/snapshot"
)

// JustifiedNumberAndHash returns the latest justified checkpoint in the
// snapshot after h. Before any attestation lands it is the genesis block.
func JustifiedNumberAndHash(ctx context.Context, p SnapshotProvider, h *types.Header) (uint64, common.Hash, error) {
	snap, err := p.Snapshot(ctx, h.Number.Uint64(), h.Hash())
	if err != nil {
		return 0, common.Hash{}, err
	}
	return Justified(p, snap)
}

// Justified returns the latest justified checkpoint of snap.
func Justified(headers HeaderReader, snap *snapshot.Snapshot) (uint64, common.Hash, error) {
	if snap.Attestation != nil {
		return snap.Attestation.TargetNumber, snap.Attestation.TargetHash, nil
	}
	genesis, err := headers.GetHeaderByNumber(0)
	if err != nil {
		return 0, common.Hash{}, err
	}
	return 0, genesis.Hash(), nil
}

// FinalizedHeader returns the source of the latest justified checkpoint in
// the snapshot after h, which is final once its child is justified.
func FinalizedHeader(ctx context.Context, p SnapshotProvider, h *types.Header) (*types.Header, error) {
	snap, err := p.Snapshot(ctx, h.Number.Uint64(), h.Hash())
	if err != nil {
		return nil, err
	}
	if snap.Attestation == nil {
		return p.GetHeaderByNumber(0)
	}
	return p.GetHeaderByHash(snap.Attestation.SourceHash)
}
