// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package header

import (
	"github.com/holiman/uint256"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"

	"github.com/luxfi/parlia/utils/math"
)

// MilliTimestamp returns the header time in milliseconds. After Lorentz the
// sub-second part is carried in the mix digest.
func MilliTimestamp(h *types.Header) uint64 {
	return h.Time*1000 + Milliseconds(h)
}

// SafeMilliTimestamp is MilliTimestamp for headers that have not been
// verified yet. It fails if the time does not fit in uint64 milliseconds.
func SafeMilliTimestamp(h *types.Header) (uint64, error) {
	ms, err := math.Mul(h.Time, 1000)
	if err != nil {
		return 0, err
	}
	return math.Add(ms, Milliseconds(h))
}

// Milliseconds returns the sub-second part stored in the mix digest.
func Milliseconds(h *types.Header) uint64 {
	if h.MixDigest == (common.Hash{}) {
		return 0
	}
	return new(uint256.Int).SetBytes32(h.MixDigest[:]).Uint64()
}

// SetMilliTimestamp splits ms into the header time and the mix digest.
func SetMilliTimestamp(h *types.Header, ms uint64) {
	h.Time = ms / 1000
	h.MixDigest = common.Hash(uint256.NewInt(ms % 1000).Bytes32())
}

// ValidMilliseconds reports whether the mix digest holds a sub-second value.
func ValidMilliseconds(h *types.Header) bool {
	ms := new(uint256.Int).SetBytes32(h.MixDigest[:])
	return ms.IsUint64() && ms.Uint64() < 1000
}
