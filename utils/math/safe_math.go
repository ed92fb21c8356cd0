// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package math

import (
	"errors"
)

// Unsigned is a constraint that permits any unsigned integer type.
type Unsigned interface {
	~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Integer permits any integer type.
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 | Unsigned
}

var ErrOverflow = errors.New("overflow")

// MaxUint returns the maximum value of an unsigned integer of type T.
func MaxUint[T Unsigned]() T {
	return ^T(0)
}

// Add returns:
// 1) a + b
// 2) If there is overflow, an error
func Add[T Unsigned](a, b T) (T, error) {
	if a > MaxUint[T]()-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// Mul returns:
// 1) a * b
// 2) If there is overflow, an error
func Mul[T Unsigned](a, b T) (T, error) {
	if b != 0 && a > MaxUint[T]()/b {
		return 0, ErrOverflow
	}
	return a * b, nil
}

// SaturatingSub returns a - b, or 0 if b > a.
func SaturatingSub[T Unsigned](a, b T) T {
	if a < b {
		return 0
	}
	return a - b
}

// CeilDiv returns ceil(x / y). y must be positive.
func CeilDiv[T Integer](x, y T) T {
	if y <= 0 {
		return 0
	}
	return (x + y - 1) / y
}

// Quorum is the number of votes out of n validators needed to justify a
// block: ceil(2n/3).
func Quorum(n int) int {
	return CeilDiv(2*n, 3)
}

// RecentsLimit is the size of the recent-signer window for n validators.
func RecentsLimit(n int) int {
	return n/2 + 1
}
