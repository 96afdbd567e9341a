package sndrcv

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/yerden/gosndrcv/packet"
)

// LoopFunc is one send-receive cycle invoked by the loop controller —
// typically a closure around Coordinator.Run for a fixed stimulus
// set.
type LoopFunc func(ctx context.Context) (answered []packet.QueryAnswer, unanswered []packet.Packet, err error)

// LoopOptions configures the loop controller (spec.md §4.7).
type LoopOptions struct {
	// Inter is the cadence between iterations.
	Inter time.Duration

	// Count bounds the number of iterations; 0 means unlimited
	// (terminates only on interrupt).
	Count int

	// OnIteration, if set, is called after every cycle with its
	// result, letting a caller print or accumulate summaries.
	OnIteration func(i int, answered []packet.QueryAnswer, unanswered []packet.Packet, err error)

	// Clock is injected for deterministic tests; defaults to the
	// real clock (grounded on doublezero's clockwork usage for
	// cadence-testable control flow).
	Clock clockwork.Clock

	Logger zerolog.Logger
}

// LoopTimeout returns the default per-iteration timeout scapy applies
// when srloop's caller doesn't set one: min(2*inter, 5s).
func LoopTimeout(inter time.Duration) time.Duration {
	d := 2 * inter
	if d > 5*time.Second {
		return 5 * time.Second
	}
	return d
}

// Loop repeats fn at cadence opts.Inter until opts.Count iterations
// have run or ctx is canceled — scapy's __sr_loop (spec.md §4.7).
func Loop(ctx context.Context, fn LoopFunc, opts LoopOptions) (allAnswered [][]packet.QueryAnswer, allUnanswered [][]packet.Packet) {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	for i := 0; opts.Count == 0 || i < opts.Count; i++ {
		if ctx.Err() != nil {
			return allAnswered, allUnanswered
		}

		start := clock.Now()
		answered, unanswered, err := fn(ctx)
		allAnswered = append(allAnswered, answered)
		allUnanswered = append(allUnanswered, unanswered)

		if opts.OnIteration != nil {
			opts.OnIteration(i, answered, unanswered, err)
		}

		if ctx.Err() != nil {
			return allAnswered, allUnanswered
		}

		elapsed := clock.Now().Sub(start)
		if remain := opts.Inter - elapsed; remain > 0 {
			select {
			case <-clock.After(remain):
			case <-ctx.Done():
				return allAnswered, allUnanswered
			}
		}
	}
	return allAnswered, allUnanswered
}
