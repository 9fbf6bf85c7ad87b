//go:build !race

package integration

import "time"

// Intercept latency budgets for normal builds.
var (
	perfP99Threshold = 5 * time.Millisecond
	perfP50Threshold = 1 * time.Millisecond
)
