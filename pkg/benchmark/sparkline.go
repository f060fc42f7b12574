package benchmark

import (
	"strings"
	"time"
)

// sparkBlocks runs from lowest to highest.
var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// sparkline renders latencies in the order they were measured, so warm-up
// effects and GC spikes stay visible.
func sparkline(latencies []time.Duration) string {
	if len(latencies) == 0 {
		return ""
	}

	lo, hi := latencies[0], latencies[0]
	for _, d := range latencies {
		lo = min(lo, d)
		hi = max(hi, d)
	}

	var b strings.Builder
	rng := float64(hi - lo)
	for _, d := range latencies {
		idx := 0
		if rng > 0 {
			idx = int(float64(d-lo) / rng * float64(len(sparkBlocks)-1))
		}
		idx = min(max(idx, 0), len(sparkBlocks)-1)
		b.WriteRune(sparkBlocks[idx])
	}
	return b.String()
}
