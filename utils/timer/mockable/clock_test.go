// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mockable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockSet(t *testing.T) {
	require := require.New(t)

	var c Clock
	now := time.Unix(1_700_000_000, 250*int64(time.Millisecond))
	c.Set(now)
	require.Equal(now, c.Time())
	require.Equal(uint64(1_700_000_000), c.Unix())
	require.Equal(uint64(1_700_000_000_250), c.UnixMilli())

	c.Advance(time.Second)
	require.Equal(uint64(1_700_000_001_250), c.UnixMilli())

	c.Sync()
	require.WithinDuration(time.Now(), c.Time(), time.Minute)
}

func TestClockNegative(t *testing.T) {
	var c Clock
	c.Set(time.Unix(-10, 0))
	require.Zero(t, c.Unix())
	require.Zero(t, c.UnixMilli())
}
