//go:build race

package integration

import "time"

// The race detector slows the decision path several times over.
var (
	perfP99Threshold = 25 * time.Millisecond
	perfP50Threshold = 10 * time.Millisecond
)
