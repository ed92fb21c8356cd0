// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package timer

import "time"

// EstimateETA estimates the time left until progress reaches end, assuming the
// rate since startTime holds. Without progress there is no estimate and it
// returns -1.
func EstimateETA(startTime, now time.Time, progress, end uint64) time.Duration {
	switch {
	case progress >= end:
		return 0
	case progress == 0:
		return -1
	}
	timeSpent := now.Sub(startTime)

	percentExecuted := float64(progress) / float64(end)
	estimatedTotalDuration := time.Duration(float64(timeSpent) / percentExecuted)
	eta := estimatedTotalDuration - timeSpent
	return eta.Round(time.Second)
}
