// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package provider

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/luxfi/cache"
	"github.com/luxfi/cache/lru"
	"github.com/luxfi/cache/metercacher"
	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"

	"github.com/luxfi/parlia/config"
	"github.com/luxfi/parlia/header"
	"github.com/luxfi/parlia/snapshot"
	"github.com/luxfi/parlia/utils/compression"
)

// maxSnapshotSize bounds a persisted snapshot once decompressed.
const maxSnapshotSize = 64 << 20

var (
	// ErrSnapshotNotFound means the snapshot cannot be built from the headers
	// available yet. Callers may retry once more of the chain is synced.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	errRegistry = errors.New("metrics must be a Registry")

	snapshotPrefix = []byte("parlia-snapshot")

	_ SnapshotProvider = (*Provider)(nil)
)

//go:generate go run go.uber.org/mock/mockgen -package=${GOPACKAGE}mock -destination=${GOPACKAGE}mock/header_reader.go -mock_names=HeaderReader=HeaderReader . HeaderReader

// HeaderReader is the read side of the header store. Missing headers are
// reported with database.ErrNotFound.
type HeaderReader interface {
	GetHeaderByHash(hash common.Hash) (*types.Header, error)
	GetHeaderByNumber(number uint64) (*types.Header, error)
}

type SnapshotProvider interface {
	HeaderReader

	// Snapshot returns the state after the block number/hash.
	Snapshot(ctx context.Context, number uint64, hash common.Hash) (*snapshot.Snapshot, error)
	// SnapshotAt returns the state after the canonical block at number.
	SnapshotAt(ctx context.Context, number uint64) (*snapshot.Snapshot, error)
}

// Provider caches snapshots in memory, persists checkpoints and rebuilds
// anything else by replaying headers. It is safe for concurrent use; two
// callers missing the cache for overlapping ranges both rebuild it.
type Provider struct {
	log       log.Logger
	config    *config.Config
	chain     *config.ChainConfig
	headers   HeaderReader
	recoverer snapshot.SignerRecoverer
	metrics   *metrics

	// Caches block hash -> snapshot.
	cache      cache.Cacher[common.Hash, *snapshot.Snapshot]
	db         database.Database
	compressor compression.Compressor
}

func New(
	logger log.Logger,
	cfg *config.Config,
	chain *config.ChainConfig,
	headers HeaderReader,
	recoverer snapshot.SignerRecoverer,
	db database.Database,
	registerer metric.Registerer,
) (*Provider, error) {
	registry, ok := registerer.(metric.Registry)
	if !ok {
		return nil, errRegistry
	}
	snapCache, err := metercacher.New[common.Hash, *snapshot.Snapshot](
		"snapshot_cache",
		registry,
		lru.NewCache[common.Hash, *snapshot.Snapshot](cfg.SnapshotCacheSize),
	)
	if err != nil {
		return nil, err
	}
	m, err := newMetrics(registerer)
	if err != nil {
		return nil, err
	}
	compressor, err := compression.NewZstdCompressor(maxSnapshotSize)
	if err != nil {
		return nil, err
	}
	return &Provider{
		log:        logger,
		config:     cfg,
		chain:      chain,
		headers:    headers,
		recoverer:  recoverer,
		metrics:    m,
		cache:      snapCache,
		db:         prefixdb.New(snapshotPrefix, db),
		compressor: compressor,
	}, nil
}

func (p *Provider) GetHeaderByHash(hash common.Hash) (*types.Header, error) {
	return p.headers.GetHeaderByHash(hash)
}

func (p *Provider) GetHeaderByNumber(number uint64) (*types.Header, error) {
	return p.headers.GetHeaderByNumber(number)
}

func (p *Provider) SnapshotAt(ctx context.Context, number uint64) (*snapshot.Snapshot, error) {
	h, err := p.headers.GetHeaderByNumber(number)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: no canonical header at %d", ErrSnapshotNotFound, number)
	}
	if err != nil {
		return nil, err
	}
	return p.Snapshot(ctx, number, h.Hash())
}

func (p *Provider) Snapshot(ctx context.Context, number uint64, hash common.Hash) (*snapshot.Snapshot, error) {
	var (
		headers []*types.Header
		snap    *snapshot.Snapshot
	)
	for snap == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s, ok := p.cache.Get(hash); ok {
			snap = s
			break
		}

		s, err := p.load(hash)
		if err == nil {
			p.log.Debug("loaded snapshot from disk",
				log.Uint64("number", number),
				log.Stringer("hash", hash),
			)
			snap = s
			break
		}
		if !errors.Is(err, database.ErrNotFound) {
			return nil, err
		}

		h, err := p.headers.GetHeaderByHash(hash)
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("%w: missing header %d %s", ErrSnapshotNotFound, number, hash)
		}
		if err != nil {
			return nil, err
		}
		if h.Number.Uint64() != number {
			return nil, fmt.Errorf("%w: header %s is block %d, expected %d", ErrSnapshotNotFound, hash, h.Number, number)
		}

		if anchor, err := p.anchor(h); err != nil {
			return nil, err
		} else if anchor != nil {
			snap = anchor
			break
		}

		headers = append(headers, h)
		number, hash = number-1, h.ParentHash
	}

	if len(headers) == 0 {
		p.cache.Put(snap.Hash, snap)
		return snap, nil
	}

	slices.Reverse(headers)
	batch := p.db.NewBatch()
	for _, h := range headers {
		next, err := snap.Apply(p.chain, p.recoverer, h)
		if err != nil {
			return nil, err
		}
		snap = next
		p.cache.Put(snap.Hash, snap)
		if snap.Number%p.config.CheckpointInterval == 0 {
			if err := p.put(batch, snap); err != nil {
				return nil, err
			}
		}
	}
	if snap.Number%p.config.CheckpointInterval != 0 {
		if err := p.put(batch, snap); err != nil {
			return nil, err
		}
	}
	if err := batch.Write(); err != nil {
		return nil, err
	}
	p.metrics.replayed.Add(float64(len(headers)))
	p.log.Debug("rebuilt snapshot",
		log.Uint64("number", snap.Number),
		log.Stringer("hash", snap.Hash),
		log.Int("replayed", len(headers)),
	)
	return snap, nil
}

// anchor returns the snapshot embedded in h if h can start a replay: the
// genesis header, or an epoch header whose parent is not available.
func (p *Provider) anchor(h *types.Header) (*snapshot.Snapshot, error) {
	number := h.Number.Uint64()
	if number != 0 {
		if !p.chain.IsEpoch(number) {
			return nil, nil
		}
		_, err := p.headers.GetHeaderByHash(h.ParentHash)
		if err == nil {
			return nil, nil
		}
		if !errors.Is(err, database.ErrNotFound) {
			return nil, err
		}
	}

	vals, err := header.ParseValidators(h, p.chain)
	if err != nil {
		return nil, err
	}
	snap, err := snapshot.New(number, h.Hash(), p.chain.Parlia.Epoch, vals)
	if err != nil {
		return nil, err
	}
	if err := p.store(snap); err != nil {
		return nil, err
	}
	p.log.Info("stored anchor snapshot",
		log.Uint64("number", number),
		log.Stringer("hash", snap.Hash),
		log.Int("validators", len(vals)),
	)
	return snap, nil
}

func (p *Provider) load(hash common.Hash) (*snapshot.Snapshot, error) {
	compressed, err := p.db.Get(hash[:])
	if err != nil {
		return nil, err
	}
	b, err := p.compressor.Decompress(compressed)
	if err != nil {
		return nil, err
	}
	return snapshot.Parse(b)
}

func (p *Provider) store(snap *snapshot.Snapshot) error {
	batch := p.db.NewBatch()
	if err := p.put(batch, snap); err != nil {
		return err
	}
	return batch.Write()
}

// put writes the compressed JSON of snap.
func (p *Provider) put(batch database.Batch, snap *snapshot.Snapshot) error {
	b, err := snap.Bytes()
	if err != nil {
		return err
	}
	compressed, err := p.compressor.Compress(b)
	if err != nil {
		return err
	}
	return batch.Put(snap.Hash[:], compressed)
}
