// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package api serves the consensus state of the engine over JSON-RPC.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"

	"github.com/luxfi/parlia/provider"
	"github.com/luxfi/parlia/snapshot"
	"github.com/luxfi/parlia/utils/json"
	utilmetric "github.com/luxfi/parlia/utils/metric"
	"github.com/luxfi/parlia/vote"
)

const ServiceName = "parlia"

var (
	errEmptyChain    = errors.New("header chain is empty")
	errNumberAndHash = errors.New("only one of number and hash may be set")
)

type Engine interface {
	Snapshot(ctx context.Context, number uint64, hash common.Hash) (*snapshot.Snapshot, error)
	GetJustifiedNumberAndHash(ctx context.Context, h *types.Header) (uint64, common.Hash, error)
	GetFinalizedHeader(ctx context.Context, h *types.Header) (*types.Header, error)
}

type Chain interface {
	provider.HeaderReader
	Head() *types.Header
}

type Service struct {
	log    log.Logger
	engine Engine
	chain  Chain
}

// NewHTTPHandler returns the JSON-RPC handler of the parlia service.
func NewHTTPHandler(
	logger log.Logger,
	engine Engine,
	chain Chain,
	registerer metric.Registerer,
) (http.Handler, error) {
	interceptor, err := utilmetric.NewAPIInterceptor(registerer)
	if err != nil {
		return nil, err
	}
	server := rpc.NewServer()
	codec := json2.NewCodec()
	server.RegisterCodec(codec, "application/json")
	server.RegisterCodec(codec, "application/json;charset=UTF-8")
	server.RegisterInterceptFunc(interceptor.InterceptRequest)
	server.RegisterAfterFunc(interceptor.AfterRequest)
	return server, server.RegisterService(
		&Service{
			log:    logger,
			engine: engine,
			chain:  chain,
		},
		ServiceName,
	)
}

// BlockArgs selects a block by number or hash. Neither selects the head.
type BlockArgs struct {
	Number *json.Uint64 `json:"number,omitempty"`
	Hash   *common.Hash `json:"hash,omitempty"`
}

type SnapshotReply struct {
	Snapshot *snapshot.Snapshot `json:"snapshot"`
}

type Validator struct {
	Address     common.Address `json:"address"`
	VoteAddress vote.Address   `json:"voteAddress"`
	InTurn      bool           `json:"inTurn"`
}

type ValidatorsReply struct {
	Number     json.Uint64 `json:"number"`
	Validators []Validator `json:"validators"`
}

type CheckpointReply struct {
	Number json.Uint64 `json:"number"`
	Hash   common.Hash `json:"hash"`
}

// GetSnapshot returns the consensus state after the selected block.
func (s *Service) GetSnapshot(r *http.Request, args *BlockArgs, reply *SnapshotReply) error {
	s.log.Debug("API called",
		log.UserString("service", ServiceName),
		log.UserString("method", "getSnapshot"),
	)

	snap, err := s.snapshot(r.Context(), args)
	if err != nil {
		return err
	}
	reply.Snapshot = snap
	return nil
}

// GetValidators returns the validators that may seal the child of the
// selected block, in ascending address order.
func (s *Service) GetValidators(r *http.Request, args *BlockArgs, reply *ValidatorsReply) error {
	s.log.Debug("API called",
		log.UserString("service", ServiceName),
		log.UserString("method", "getValidators"),
	)

	snap, err := s.snapshot(r.Context(), args)
	if err != nil {
		return err
	}
	reply.Number = json.Uint64(snap.Number)
	reply.Validators = nil
	for _, addr := range snap.ValidatorList() {
		reply.Validators = append(reply.Validators, Validator{
			Address:     addr,
			VoteAddress: snap.Validators[addr].VoteAddress,
			InTurn:      snap.InTurn(addr),
		})
	}
	return nil
}

// GetJustifiedNumber returns the latest justified checkpoint as of the
// selected block.
func (s *Service) GetJustifiedNumber(r *http.Request, args *BlockArgs, reply *CheckpointReply) error {
	s.log.Debug("API called",
		log.UserString("service", ServiceName),
		log.UserString("method", "getJustifiedNumber"),
	)

	h, err := s.header(args)
	if err != nil {
		return err
	}
	number, hash, err := s.engine.GetJustifiedNumberAndHash(r.Context(), h)
	if err != nil {
		return err
	}
	reply.Number = json.Uint64(number)
	reply.Hash = hash
	return nil
}

// GetFinalizedNumber returns the latest finalized block as of the selected
// block.
func (s *Service) GetFinalizedNumber(r *http.Request, args *BlockArgs, reply *CheckpointReply) error {
	s.log.Debug("API called",
		log.UserString("service", ServiceName),
		log.UserString("method", "getFinalizedNumber"),
	)

	h, err := s.header(args)
	if err != nil {
		return err
	}
	finalized, err := s.engine.GetFinalizedHeader(r.Context(), h)
	if err != nil {
		return err
	}
	reply.Number = json.Uint64(finalized.Number.Uint64())
	reply.Hash = finalized.Hash()
	return nil
}

func (s *Service) snapshot(ctx context.Context, args *BlockArgs) (*snapshot.Snapshot, error) {
	h, err := s.header(args)
	if err != nil {
		return nil, err
	}
	return s.engine.Snapshot(ctx, h.Number.Uint64(), h.Hash())
}

func (s *Service) header(args *BlockArgs) (*types.Header, error) {
	switch {
	case args.Number != nil && args.Hash != nil:
		return nil, errNumberAndHash
	case args.Number != nil:
		h, err := s.chain.GetHeaderByNumber(uint64(*args.Number))
		if err != nil {
			return nil, fmt.Errorf("failed to get header %d: %w", *args.Number, err)
		}
		return h, nil
	case args.Hash != nil:
		h, err := s.chain.GetHeaderByHash(*args.Hash)
		if err != nil {
			return nil, fmt.Errorf("failed to get header %s: %w", *args.Hash, err)
		}
		return h, nil
	}
	h := s.chain.Head()
	if h == nil {
		return nil, errEmptyChain
	}
	return h, nil
}
