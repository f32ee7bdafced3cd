package shadow

import (
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"

	"github.com/xenocore/nucleus/corelog"
)

// RelaxTracer implements the optional involuntary-relax-spot trace (spec
// §4.F): it records the user-space return address each involuntary relax
// happened at, coalescing repeats of the same spot and rate-limiting how
// often an identical spot is logged via a catrate.Limiter, so a hot relax
// loop doesn't flood the log. A post-mortem reader still sees every
// distinct spot and its total hit count through Spots.
type RelaxTracer struct {
	mu    sync.Mutex
	count map[string]uint64
	limit *catrate.Limiter
	log   *corelog.Logger
}

// NewRelaxTracer builds a tracer that logs at most maxPerWindow lines per
// distinct relax spot per window, via log (nil is treated as corelog.Discard()).
func NewRelaxTracer(log *corelog.Logger, window time.Duration, maxPerWindow int) *RelaxTracer {
	return &RelaxTracer{
		count: make(map[string]uint64),
		limit: catrate.NewLimiter(map[time.Duration]int{window: maxPerWindow}),
		log:   corelog.With(log),
	}
}

// Record coalesces a hit at spot, logging it only if the per-spot rate
// limit allows it this window.
func (r *RelaxTracer) Record(spot string) {
	r.mu.Lock()
	r.count[spot]++
	total := r.count[spot]
	r.mu.Unlock()

	if _, allowed := r.limit.Allow(spot); allowed {
		r.log.Debug().Str("spot", spot).Uint64("total", total).Msg("involuntary relax")
	}
}

// Spots returns a snapshot of every distinct relax spot seen and its
// total hit count, for the debug read interface spec §4.F describes.
func (r *RelaxTracer) Spots() map[string]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]uint64, len(r.count))
	for k, v := range r.count {
		out[k] = v
	}
	return out
}
