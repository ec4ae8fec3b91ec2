package loader

import (
	"context"
	"math"

	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/ValentinKolb/dGrid/lib/persistence"
)

// authoritativeStore selects the tiers whose count is the size of the cache.
var authoritativeStore = persistence.And(persistence.Shared, persistence.NotAsync)

// trySizeOptimization returns the count of a shared, synchronous store, or
// -1 if the flags forbid it or no such store is configured.
func (l *Loader) trySizeOptimization(ctx context.Context, flags grid.Flag) (int64, error) {
	if flags.HasAny(grid.FlagSkipCacheLoad | grid.FlagSkipSizeOptimization) {
		return -1, nil
	}
	return l.persistence.Size(ctx, authoritativeStore)
}

func clampSize(n int64) int {
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(n)
}
