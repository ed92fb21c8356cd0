// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package verifier_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/geth/trie"

	"github.com/luxfi/parlia/verifier"
)

func TestValidateBody(t *testing.T) {
	tests := []struct {
		name        string
		block       func() *types.Block
		expectedErr error
	}{
		{
			name: "empty",
			block: func() *types.Block {
				return types.NewBlockWithHeader(&types.Header{
					Number: big.NewInt(1),
					TxHash: types.EmptyTxsHash,
				})
			},
		},
		{
			name: "transaction root mismatch",
			block: func() *types.Block {
				return types.NewBlockWithHeader(&types.Header{
					Number: big.NewInt(1),
					TxHash: common.Hash{1},
				})
			},
			expectedErr: verifier.ErrTxRootMismatch,
		},
		{
			name: "uncles",
			block: func() *types.Block {
				return types.NewBlockWithHeader(&types.Header{
					Number: big.NewInt(1),
					TxHash: types.EmptyTxsHash,
				}).WithBody(types.Body{
					Uncles: []*types.Header{{Number: big.NewInt(0)}},
				})
			},
			expectedErr: verifier.ErrUnclesNotAllowed,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := verifier.ValidateBody(test.block())
			require.ErrorIs(t, err, test.expectedErr)
		})
	}
}

func TestValidateBlockPostExecution(t *testing.T) {
	receipts := types.Receipts{
		{
			Status:            types.ReceiptStatusSuccessful,
			CumulativeGasUsed: 21_000,
		},
		{
			Status:            types.ReceiptStatusSuccessful,
			CumulativeGasUsed: 60_000,
			Logs: []*types.Log{{
				Address: common.Address{1},
				Topics:  []common.Hash{{2}},
			}},
		},
	}
	for _, r := range receipts {
		r.Bloom = types.CreateBloom(r)
	}
	valid := func() *types.Header {
		return &types.Header{
			GasUsed:     60_000,
			ReceiptHash: types.DeriveSha(receipts, trie.NewStackTrie(nil)),
			Bloom:       types.MergeBloom(receipts),
		}
	}

	tests := []struct {
		name        string
		mutate      func(*types.Header)
		expectedErr error
	}{
		{
			name:   "valid",
			mutate: func(*types.Header) {},
		},
		{
			name: "gas used",
			mutate: func(h *types.Header) {
				h.GasUsed++
			},
			expectedErr: verifier.ErrBlockGasUsed,
		},
		{
			name: "receipt root",
			mutate: func(h *types.Header) {
				h.ReceiptHash = common.Hash{1}
			},
			expectedErr: verifier.ErrReceiptRootMismatch,
		},
		{
			name: "bloom",
			mutate: func(h *types.Header) {
				h.Bloom = types.Bloom{}
			},
			expectedErr: verifier.ErrBloomMismatch,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			h := valid()
			test.mutate(h)
			err := verifier.ValidateBlockPostExecution(h, receipts)
			require.ErrorIs(t, err, test.expectedErr)
		})
	}
}

func TestValidateBlockPostExecutionBloom(t *testing.T) {
	require := require.New(t)

	addr := common.Address{7}
	topic := common.Hash{8}
	receipt := &types.Receipt{
		Status:            types.ReceiptStatusSuccessful,
		CumulativeGasUsed: 21_000,
		Logs:              []*types.Log{{Address: addr, Topics: []common.Hash{topic}}},
	}
	receipt.Bloom = types.CreateBloom(receipt)
	receipts := types.Receipts{receipt}

	h := &types.Header{
		GasUsed:     21_000,
		ReceiptHash: types.DeriveSha(receipts, trie.NewStackTrie(nil)),
	}
	h.Bloom.Add(addr.Bytes())
	h.Bloom.Add(topic.Bytes())
	require.NoError(verifier.ValidateBlockPostExecution(h, receipts))

	h.Bloom.Add(common.Address{9}.Bytes())
	err := verifier.ValidateBlockPostExecution(h, receipts)
	require.ErrorIs(err, verifier.ErrBloomMismatch) //nolint:forbidigo // checking specific error
}

func TestValidateBlockPostExecutionEmpty(t *testing.T) {
	h := &types.Header{ReceiptHash: types.EmptyReceiptsHash}
	require.NoError(t, verifier.ValidateBlockPostExecution(h, nil))
}
