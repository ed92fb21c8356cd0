// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package devnet runs a chain whose validators all live in this process. Every
// validator races for each slot, so the in-turn validator seals, and every
// validator votes for every block.
package devnet

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"math/big"
	"net"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/luxfi/crypto"
	"github.com/luxfi/crypto/bls/signer/localsigner"
	"github.com/luxfi/database"
	"github.com/luxfi/database/badgerdb"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	"github.com/luxfi/trace"

	"github.com/luxfi/parlia"
	"github.com/luxfi/parlia/api"
	"github.com/luxfi/parlia/api/server"
	"github.com/luxfi/parlia/header"
	"github.com/luxfi/parlia/headerchain"
	"github.com/luxfi/parlia/snapshot"
	"github.com/luxfi/parlia/utils/profiler"
	"github.com/luxfi/parlia/utils/timer"
	"github.com/luxfi/parlia/utils/timer/mockable"
	"github.com/luxfi/parlia/vote"
)

const (
	genesisGasLimit = 30_000_000
	shutdownTimeout = 10 * time.Second
)

var (
	// ChainConfigKey holds the JSON chain config of the chain in the database.
	ChainConfigKey = []byte("parlia-chain-config")

	errChainExists   = errors.New("database already holds a chain")
	errWrongAccount  = errors.New("signer does not hold the requested account")
	errNoBlockSealed = errors.New("no validator sealed the block")
)

type validator struct {
	key         *ecdsa.PrivateKey
	address     common.Address
	bls         *localsigner.LocalSigner
	voteAddress vote.Address
	engine      *parlia.Parlia
}

func newValidators(n int) ([]*validator, error) {
	vals := make([]*validator, n)
	for i := range vals {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		sk, err := localsigner.New()
		if err != nil {
			return nil, err
		}
		vals[i] = &validator{
			key:         key,
			address:     common.PubkeyToAddress(key.PublicKey),
			bls:         sk,
			voteAddress: vote.AddressFromPublicKey(sk.PublicKey()),
		}
	}
	slices.SortFunc(vals, func(a, b *validator) int {
		return bytes.Compare(a.address[:], b.address[:])
	})
	return vals, nil
}

func (v *validator) sign(account common.Address, _ string, message []byte) ([]byte, error) {
	if account != v.address {
		return nil, errWrongAccount
	}
	return crypto.Sign(crypto.Keccak256(message), v.key)
}

func openDB(dir string) (database.Database, error) {
	if dir == "" {
		return memdb.New(), nil
	}
	return badgerdb.New(
		dir,
		nil, // configBytes - use default
		"",  // namespace
		nil, // metrics
	)
}

// Run produces cfg.Blocks blocks on top of a fresh genesis and returns the
// head. If cfg.HTTPAddr is set the parlia API is served while blocks are
// produced and afterwards until ctx is done.
func Run(ctx context.Context, logger log.Logger, cfg *Config) (*types.Header, error) {
	db, err := openDB(cfg.DBDir)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	headers, err := headerchain.New(db)
	if err != nil {
		return nil, err
	}
	if headers.Head() != nil {
		return nil, errChainExists
	}
	chainBytes, err := json.Marshal(cfg.Chain)
	if err != nil {
		return nil, err
	}
	if err := db.Put(ChainConfigKey, chainBytes); err != nil {
		return nil, err
	}

	vals, err := newValidators(cfg.Validators)
	if err != nil {
		return nil, err
	}
	embedded := make([]header.Validator, len(vals))
	for i, v := range vals {
		embedded[i] = header.Validator{
			Address:     v.address,
			VoteAddress: v.voteAddress,
		}
	}

	clock := &mockable.Clock{}
	genesis := &types.Header{
		Number:     big.NewInt(0),
		Difficulty: new(big.Int).Set(header.DiffInTurn),
		UncleHash:  types.EmptyUncleHash,
		GasLimit:   genesisGasLimit,
		Time:       clock.Unix(),
		Extra:      header.NewExtra([]byte("parlia devnet"), embedded, cfg.Chain.IsLuban(0)),
	}
	if err := headers.Insert(genesis); err != nil {
		return nil, err
	}
	logger.Info("created genesis",
		log.Stringer("hash", genesis.Hash()),
		log.Int("validators", len(vals)),
	)

	for _, v := range vals {
		v.engine, err = parlia.New(logger, cfg.Engine, cfg.Chain, headers, db, clock, cfg.Tracer, metric.NewRegistry())
		if err != nil {
			return nil, err
		}
		v.engine.Authorize(v.address, v.sign)
	}

	if cfg.ProfileDir != "" {
		p := profiler.New(cfg.ProfileDir)
		if err := p.StartCPUProfiler(); err != nil {
			return nil, err
		}
		defer func() {
			if err := p.Stop(); err != nil {
				logger.Warn("failed to write profiles", log.Err(err))
			}
		}()
	}

	var served chan error
	if cfg.HTTPAddr != "" {
		srv, err := serve(logger, cfg.HTTPAddr, vals[0].engine, headers, cfg.Tracer)
		if err != nil {
			return nil, err
		}
		served = make(chan error, 1)
		go func() {
			served <- srv.Dispatch()
		}()
		defer func() {
			if err := srv.Shutdown(); err != nil {
				logger.Warn("failed to shut down API server", log.Err(err))
			}
		}()
	}

	start := clock.Time()
	for headers.Head().Number.Uint64() < cfg.Blocks {
		sealed, err := produce(ctx, vals, headers.Head())
		if err != nil {
			return nil, err
		}
		if err := vals[0].engine.VerifyHeader(ctx, sealed); err != nil {
			return nil, err
		}
		if err := headers.Insert(sealed); err != nil {
			return nil, err
		}
		for _, v := range vals {
			if err := v.engine.Accept(ctx, sealed); err != nil {
				return nil, err
			}
		}
		if err := castVotes(ctx, vals, sealed); err != nil {
			return nil, err
		}

		justified, _, err := vals[0].engine.GetJustifiedNumberAndHash(ctx, sealed)
		if err != nil {
			return nil, err
		}
		finalized, err := vals[0].engine.GetFinalizedHeader(ctx, sealed)
		if err != nil {
			return nil, err
		}
		logger.Info("produced block",
			log.Uint64("number", sealed.Number.Uint64()),
			log.Stringer("hash", sealed.Hash()),
			log.Stringer("validator", sealed.Coinbase),
			log.Stringer("difficulty", sealed.Difficulty),
			log.Uint64("justified", justified),
			log.Uint64("finalized", finalized.Number.Uint64()),
			log.Duration("eta", timer.EstimateETA(start, clock.Time(), sealed.Number.Uint64(), cfg.Blocks)),
		)
	}

	if served != nil {
		logger.Info("serving API until interrupted", log.String("addr", cfg.HTTPAddr))
		select {
		case <-ctx.Done():
		case err := <-served:
			return nil, err
		}
	}
	return headers.Head(), nil
}

func serve(
	logger log.Logger,
	addr string,
	engine *parlia.Parlia,
	headers *headerchain.Chain,
	tracer trace.Tracer,
) (server.Server, error) {
	registry := metric.NewRegistry()
	handler, err := api.NewHTTPHandler(logger, engine, headers, registry)
	if err != nil {
		return nil, err
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv, err := server.New(
		logger,
		listener,
		[]string{"*"},
		shutdownTimeout,
		tracer != nil,
		tracer,
		registry,
		server.HTTPConfig{
			ReadHeaderTimeout: shutdownTimeout,
		},
	)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}
	if err := srv.AddRoute(handler, api.ServiceName, ""); err != nil {
		_ = srv.Shutdown()
		return nil, err
	}
	return srv, nil
}

// produce lets every validator try to seal a child of parent and returns
// the first block sealed.
func produce(ctx context.Context, vals []*validator, parent *types.Header) (*types.Header, error) {
	slotCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		once   sync.Once
		sealed *types.Header
	)
	eg, egCtx := errgroup.WithContext(slotCtx)
	for _, v := range vals {
		eg.Go(func() error {
			h := &types.Header{
				ParentHash: parent.Hash(),
				Number:     new(big.Int).Add(parent.Number, common.Big1),
				GasLimit:   parent.GasLimit,
			}
			var s *types.Header
			err := v.engine.Prepare(egCtx, h)
			if err == nil {
				s, err = v.engine.Seal(egCtx, h, nil)
			}
			switch {
			case err == nil:
				once.Do(func() {
					sealed = s
					cancel()
				})
				return nil
			case errors.Is(err, snapshot.ErrSignedRecently), errors.Is(err, context.Canceled):
				return nil
			default:
				return err
			}
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if sealed == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, errNoBlockSealed
	}
	return sealed, nil
}

// castVotes has every validator vote for h and gossips the votes to every
// validator.
func castVotes(ctx context.Context, vals []*validator, h *types.Header) error {
	sourceNumber, sourceHash, err := vals[0].engine.GetJustifiedNumberAndHash(ctx, h)
	if err != nil {
		return err
	}
	data := &vote.Data{
		SourceNumber: sourceNumber,
		SourceHash:   sourceHash,
		TargetNumber: h.Number.Uint64(),
		TargetHash:   h.Hash(),
	}
	for _, v := range vals {
		e, err := vote.Sign(v.bls, data)
		if err != nil {
			return err
		}
		for _, peer := range vals {
			if err := peer.engine.PutVote(ctx, e); err != nil {
				return err
			}
		}
	}
	return nil
}
