package sndrcv

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/yerden/gosndrcv/packet"
)

// FloodGenerator wraps a PacketSource as an unbounded, cooperatively
// stoppable cycling source, the Go shape of scapy's
// _FloodGenerator: "wraps a packet iterable as an infinite iterator
// that cycles until either maxretries cycles elapse or a stop event
// is set" (spec.md §4.6).
type FloodGenerator struct {
	src        PacketSource
	maxRetries int // 0 = unlimited

	stopped atomic.Bool
	cycles  int32
	iterLen atomic.Int64 // -1 until known

	limiter *rate.Limiter // optional pacing; nil => caller's own Inter sleep
}

// NewFloodGenerator wraps src for sustained transmission. maxRetries
// of 0 means cycle forever until Stop is called. limiter, if
// non-nil, paces Next() calls to the given rate — domain enrichment
// beyond spec.md's bare inter sleep (SPEC_FULL.md §4.6); passing nil
// preserves spec.md's exact behavior of an external Inter sleep
// between sends.
func NewFloodGenerator(src PacketSource, maxRetries int, limiter *rate.Limiter) *FloodGenerator {
	fg := &FloodGenerator{src: src, maxRetries: maxRetries, limiter: limiter}
	fg.iterLen.Store(-1)
	return fg
}

// Stop requests the generator halt: the next call to Next returns
// ok=false, even in the middle of a cycle, matching scapy's
// cooperative flood stop (spec.md §4.6, E6).
func (f *FloodGenerator) Stop() { f.stopped.Store(true) }

// Stopped reports whether Stop has been called.
func (f *FloodGenerator) Stopped() bool { return f.stopped.Load() }

// IterLen returns the length of one full cycle through src, or -1 if
// the first cycle hasn't completed yet — scapy's `iterlen`, "filled
// after the first cycle completes."
func (f *FloodGenerator) IterLen() int64 { return f.iterLen.Load() }

// Next implements PacketSource: it cycles src indefinitely (subject
// to maxRetries and Stop), counting elements of the first cycle to
// populate IterLen.
func (f *FloodGenerator) Next() (packet.Packet, bool) {
	if f.stopped.Load() {
		return nil, false
	}
	if f.maxRetries > 0 && int(f.cycles) >= f.maxRetries {
		return nil, false
	}

	if f.limiter != nil {
		_ = f.limiter.Wait(context.Background()) // best-effort pacing
	}

	p, ok := f.src.Next()
	if ok {
		return p, true
	}

	// Cycle complete.
	if f.iterLen.Load() < 0 {
		f.iterLen.Store(int64(f.cyclePosition()))
	}
	f.cycles++
	if f.stopped.Load() {
		return nil, false
	}
	if f.maxRetries > 0 && int(f.cycles) >= f.maxRetries {
		return nil, false
	}

	resetIfPossible(f.src)
	return f.src.Next()
}

// cyclePosition is a best-effort count of how many elements the
// wrapped source yielded in the cycle that just ended, used only to
// seed IterLen when the source is a SliceSource (the common case);
// for true generators, IterLen stays unknown (-1) since there is no
// portable way to learn a generator's length after the fact.
func (f *FloodGenerator) cyclePosition() int {
	if s, ok := f.src.(*SliceSource); ok {
		return s.Len()
	}
	return -1
}
