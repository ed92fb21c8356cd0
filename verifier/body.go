// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package verifier

import (
	"fmt"

	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/geth/trie"
)

// ValidateBody checks the body of b against its header before execution.
func ValidateBody(b *types.Block) error {
	if len(b.Uncles()) > 0 {
		return ErrUnclesNotAllowed
	}
	if hash := types.DeriveSha(b.Transactions(), trie.NewStackTrie(nil)); hash != b.TxHash() {
		return fmt.Errorf("%w: have %s, want %s", ErrTxRootMismatch, hash, b.TxHash())
	}
	return nil
}

// ValidateBlockPostExecution checks the execution results of the block with
// header h against the header.
func ValidateBlockPostExecution(h *types.Header, receipts types.Receipts) error {
	var gasUsed uint64
	if len(receipts) > 0 {
		gasUsed = receipts[len(receipts)-1].CumulativeGasUsed
	}
	if gasUsed != h.GasUsed {
		return fmt.Errorf("%w: have %d, want %d", ErrBlockGasUsed, gasUsed, h.GasUsed)
	}
	if hash := types.DeriveSha(receipts, trie.NewStackTrie(nil)); hash != h.ReceiptHash {
		return fmt.Errorf("%w: have %s, want %s", ErrReceiptRootMismatch, hash, h.ReceiptHash)
	}
	if bloom := types.MergeBloom(receipts); bloom != h.Bloom {
		return ErrBloomMismatch
	}
	return nil
}
