// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package verifier

import (
	"fmt"

	"github.com/luxfi/geth/consensus/misc/eip4844"
	"github.com/luxfi/geth/core/types"

	"github.com/luxfi/parlia/config"
)

// verifyBlobGas requires the blob gas fields exactly from Cancun on. h must
// extend parent.
func verifyBlobGas(c *config.ChainConfig, h, parent *types.Header) error {
	if !c.IsCancun(h.Number.Uint64(), h.Time) {
		if h.BlobGasUsed != nil || h.ExcessBlobGas != nil {
			return fmt.Errorf("%w: blob gas fields before Cancun", ErrInvalidBlobGas)
		}
		return nil
	}
	if err := eip4844.VerifyEIP4844Header(c.Params(), parent, h); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBlobGas, err)
	}
	return nil
}
