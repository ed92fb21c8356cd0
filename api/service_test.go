// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/rpc/v2/json2"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"

	"github.com/luxfi/parlia"
	"github.com/luxfi/parlia/config"
	"github.com/luxfi/parlia/header"
	"github.com/luxfi/parlia/headerchain"
	"github.com/luxfi/parlia/parliatest"
	"github.com/luxfi/parlia/utils/json"
	"github.com/luxfi/parlia/utils/timer/mockable"
	"github.com/luxfi/parlia/vote"
)

type testService struct {
	service *Service
	chain   *headerchain.Chain
	headers []*types.Header
	vals    []*parliatest.Validator
}

// newTestService serves a chain of five blocks. Block 5 carries an
// attestation justifying block 4.
func newTestService(t *testing.T) *testService {
	require := require.New(t)

	c := parliatest.ChainConfig(200)
	vals := parliatest.NewValidators(t, 3)
	headers := parliatest.Chain(t, c, vals, 4)

	h5, proposer := parliatest.Next(c, headers[4], vals)
	a := parliatest.Attest(t, vals, vals, &vote.Data{
		SourceNumber: 0,
		SourceHash:   headers[0].Hash(),
		TargetNumber: 4,
		TargetHash:   headers[4].Hash(),
	})
	require.NoError(header.SetVoteAttestation(h5, c, a))
	proposer.Seal(t, h5, c.ChainID)
	headers = append(headers, h5)

	chain, err := headerchain.New(memdb.New())
	require.NoError(err)
	for _, h := range headers {
		require.NoError(chain.Insert(h))
	}

	engine, err := parlia.New(
		log.NewNoOpLogger(),
		&config.Default,
		c,
		chain,
		memdb.New(),
		&mockable.Clock{},
		nil,
		metric.NewRegistry(),
	)
	require.NoError(err)
	return &testService{
		service: &Service{
			log:    log.NewNoOpLogger(),
			engine: engine,
			chain:  chain,
		},
		chain:   chain,
		headers: headers,
		vals:    vals,
	}
}

func testRequest() *http.Request {
	return httptest.NewRequest(http.MethodPost, "/ext/parlia", nil)
}

func number(n uint64) *json.Uint64 {
	u := json.Uint64(n)
	return &u
}

func TestGetSnapshot(t *testing.T) {
	s := newTestService(t)
	hash2 := s.headers[2].Hash()
	tests := []struct {
		name           string
		args           BlockArgs
		expectedNumber uint64
	}{
		{
			name:           "head",
			expectedNumber: 5,
		},
		{
			name:           "number",
			args:           BlockArgs{Number: number(3)},
			expectedNumber: 3,
		},
		{
			name:           "hash",
			args:           BlockArgs{Hash: &hash2},
			expectedNumber: 2,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require := require.New(t)

			reply := SnapshotReply{}
			require.NoError(s.service.GetSnapshot(testRequest(), &test.args, &reply))
			require.Equal(test.expectedNumber, reply.Snapshot.Number)
			require.Equal(s.headers[test.expectedNumber].Hash(), reply.Snapshot.Hash)
			require.Len(reply.Snapshot.Validators, 3)
		})
	}
}

func TestGetSnapshotErrors(t *testing.T) {
	s := newTestService(t)
	unknown := common.Hash{0x01}
	tests := []struct {
		name        string
		args        BlockArgs
		expectedErr error
	}{
		{
			name:        "number and hash",
			args:        BlockArgs{Number: number(1), Hash: &unknown},
			expectedErr: errNumberAndHash,
		},
		{
			name:        "unknown number",
			args:        BlockArgs{Number: number(100)},
			expectedErr: database.ErrNotFound,
		},
		{
			name:        "unknown hash",
			args:        BlockArgs{Hash: &unknown},
			expectedErr: database.ErrNotFound,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := s.service.GetSnapshot(testRequest(), &test.args, &SnapshotReply{})
			require.ErrorIs(t, err, test.expectedErr) //nolint:forbidigo // checking specific error
		})
	}
}

func TestEmptyChain(t *testing.T) {
	require := require.New(t)

	chain, err := headerchain.New(memdb.New())
	require.NoError(err)
	s := &Service{
		log:   log.NewNoOpLogger(),
		chain: chain,
	}
	err = s.GetJustifiedNumber(testRequest(), &BlockArgs{}, &CheckpointReply{})
	require.ErrorIs(err, errEmptyChain) //nolint:forbidigo // checking specific error
}

func TestGetValidators(t *testing.T) {
	require := require.New(t)

	s := newTestService(t)
	reply := ValidatorsReply{}
	require.NoError(s.service.GetValidators(testRequest(), &BlockArgs{}, &reply))
	require.Equal(json.Uint64(5), reply.Number)
	require.Len(reply.Validators, 3)

	// Block 6 is in turn for the validator at index 6 % 3.
	for i, v := range reply.Validators {
		require.Equal(s.vals[i].Address, v.Address)
		require.Equal(s.vals[i].VoteAddress, v.VoteAddress)
		require.Equal(i == 0, v.InTurn)
	}
}

func TestCheckpoints(t *testing.T) {
	require := require.New(t)

	s := newTestService(t)

	justified := CheckpointReply{}
	require.NoError(s.service.GetJustifiedNumber(testRequest(), &BlockArgs{}, &justified))
	require.Equal(json.Uint64(4), justified.Number)
	require.Equal(s.headers[4].Hash(), justified.Hash)

	// Before the attestation only genesis is justified.
	require.NoError(s.service.GetJustifiedNumber(testRequest(), &BlockArgs{Number: number(4)}, &justified))
	require.Zero(justified.Number)
	require.Equal(s.headers[0].Hash(), justified.Hash)

	finalized := CheckpointReply{}
	require.NoError(s.service.GetFinalizedNumber(testRequest(), &BlockArgs{}, &finalized))
	require.Zero(finalized.Number)
	require.Equal(s.headers[0].Hash(), finalized.Hash)
}

func TestHTTPHandler(t *testing.T) {
	require := require.New(t)

	s := newTestService(t)
	handler, err := NewHTTPHandler(
		log.NewNoOpLogger(),
		s.service.engine,
		s.chain,
		metric.NewRegistry(),
	)
	require.NoError(err)

	body, err := json2.EncodeClientRequest("parlia.GetJustifiedNumber", &BlockArgs{})
	require.NoError(err)
	req := httptest.NewRequest(http.MethodPost, "/ext/parlia", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(http.StatusOK, w.Code)

	reply := CheckpointReply{}
	require.NoError(json2.DecodeClientResponse(w.Body, &reply))
	require.Equal(json.Uint64(4), reply.Number)
	require.Equal(s.headers[4].Hash(), reply.Hash)
}

func TestHTTPHandlerDuplicateMetrics(t *testing.T) {
	require := require.New(t)

	s := newTestService(t)
	registry := metric.NewRegistry()
	_, err := NewHTTPHandler(log.NewNoOpLogger(), s.service.engine, s.chain, registry)
	require.NoError(err)
	_, err = NewHTTPHandler(log.NewNoOpLogger(), s.service.engine, s.chain, registry)
	require.Error(err) //nolint:forbidigo // registration conflict
}

var _ Engine = (*parlia.Parlia)(nil)

func TestEngineContext(t *testing.T) {
	require := require.New(t)

	s := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := testRequest().WithContext(ctx)
	// Snapshot 5 was never built, so a rebuild observes the cancellation.
	err := s.service.GetSnapshot(r, &BlockArgs{}, &SnapshotReply{})
	require.ErrorIs(err, context.Canceled) //nolint:forbidigo // checking specific error
}
