package sndrcv

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/yerden/gosndrcv/packet"
	"github.com/yerden/gosndrcv/session"
	"github.com/yerden/gosndrcv/socket"
)

// CoordinatorOptions mirrors scapy's SndRcvHandler parameters
// (spec.md §4.5).
type CoordinatorOptions struct {
	// Tx is the transmit socket ("pks"). Rx defaults to Tx if nil
	// ("rcv_pks defaults to pks").
	Tx, Rx socket.Socket

	// Timeout bounds each retry pass; negative disables it.
	Timeout time.Duration

	Inter time.Duration

	// Retry: negative records |Retry| as the autostop budget and is
	// treated as positive from then on; zero means a single pass.
	Retry int

	Multi bool

	// Prebuild materializes the packet source once before the first
	// pass, rather than re-reading a lazy generator every retry.
	Prebuild bool

	// Threaded forces the concurrent sender/sniffer path; flooding
	// always forces it regardless of this flag (spec.md §4.6 "the
	// coordinator detects flood mode and forces the threaded path").
	Threaded bool

	Session session.Decoder

	// PropagateInterrupt/PropagateSendErrors are the Go stand-ins for
	// scapy's chainCC/chainEX.
	PropagateInterrupt  bool
	PropagateSendErrors bool

	StopFilter func(packet.Packet) bool

	Logger zerolog.Logger

	// Metrics, if set, is updated with sent/answered/unanswered/retry
	// counts as each pass completes.
	Metrics *Metrics

	// DebugMatch mirrors scapy's conf.debug_match: when true, every
	// reply/candidate comparison the table performs is recorded and can be
	// retrieved from Coordinator.DebugLog after Run returns, for
	// post-mortem inspection of why a reply did or didn't match.
	DebugMatch bool

	flood bool // internal: set by SrFlood family
}

// Coordinator runs the send and sniff engines concurrently, indexes
// outstanding stimuli by fingerprint, pairs replies with stimuli, and
// implements retry/autostop — the Go expression of scapy's
// SndRcvHandler (spec.md §4.5).
type Coordinator struct {
	opts CoordinatorOptions

	debugMu  sync.Mutex
	debugLog []string
}

// DebugLog returns every recorded hashret comparison from the most
// recent Run, one spew.Sdump per reply/candidate pair, when
// CoordinatorOptions.DebugMatch is set. Empty otherwise.
func (c *Coordinator) DebugLog() []string {
	c.debugMu.Lock()
	defer c.debugMu.Unlock()
	out := make([]string, len(c.debugLog))
	copy(out, c.debugLog)
	return out
}

func (c *Coordinator) recordDebug(entry string) {
	c.debugMu.Lock()
	c.debugLog = append(c.debugLog, entry)
	c.debugMu.Unlock()
}

// NewCoordinator validates opts and applies the rx/tx socket default
// from spec.md §4.5 "Initialization". A negative Retry is interpreted
// by Run; a Timeout of zero or below leaves each pass unbounded.
func NewCoordinator(opts CoordinatorOptions) (*Coordinator, error) {
	if opts.Tx == nil {
		return nil, fmt.Errorf("sndrcv: coordinator requires a Tx socket")
	}
	if opts.Rx == nil {
		opts.Rx = opts.Tx
	}
	return &Coordinator{opts: opts}, nil
}

// Run executes the full retry loop over src and returns the final
// (answered, unanswered) result, matching spec.md §4.5 end to end.
func (c *Coordinator) Run(ctx context.Context, src PacketSource) (answered []packet.QueryAnswer, unanswered []packet.Packet, err error) {
	c.debugMu.Lock()
	c.debugLog = nil
	c.debugMu.Unlock()

	autostop := 0
	retry := c.opts.Retry
	if retry < 0 {
		autostop = -retry
		retry = autostop
	}

	if c.opts.Prebuild {
		src = PrebuildSource(src)
	}

	// SPEC_FULL.md's "Supplemented features": when the caller hasn't pinned
	// Tx to a specific interface, log the first stimulus's Route()
	// hint the way scapy's _interface_selection would resolve conf.iface
	// from the routing table — a Go caller's socket is already bound,
	// so this only annotates the run rather than rebinding anything.
	if ss, ok := src.(*SliceSource); ok && c.opts.Tx != nil && c.opts.Tx.Iface() == "" {
		if first, ok := ss.Peek(); ok {
			if hint, _, _ := first.Route(); hint != "" {
				c.opts.Logger.Debug().Str("route_hint", hint).
					Msg("sndrcv: first stimulus's route hint (Tx has no interface bound)")
			}
		}
	}

	threaded := c.opts.Threaded || c.opts.flood

	currentSrc := src
	var allAnswered []packet.QueryAnswer
	var lastUnanswered []packet.Packet

	for {
		table := newOutstandingTable()
		if c.opts.DebugMatch {
			table.onCompare = c.recordDebug
		}

		var passAnswered []packet.QueryAnswer
		var passErr error
		if threaded {
			passAnswered, lastUnanswered, passErr = c.runThreadedPass(ctx, currentSrc, table)
		} else {
			passAnswered, lastUnanswered, passErr = c.runInlinePass(ctx, currentSrc, table)
		}
		allAnswered = append(allAnswered, passAnswered...)

		if passErr != nil {
			if c.opts.PropagateInterrupt || (c.opts.PropagateSendErrors && ctx.Err() == nil) {
				return allAnswered, lastUnanswered, passErr
			}
			return allAnswered, lastUnanswered, nil
		}

		total := table.totalSent()
		remain := len(lastUnanswered)

		c.opts.Logger.Debug().Int("sent", total).Int("answered", len(passAnswered)).
			Int("unanswered", remain).Msg("sndrcv: pass complete")

		if c.opts.Metrics != nil {
			c.opts.Metrics.Sent.Add(float64(total))
			c.opts.Metrics.Answered.Add(float64(len(passAnswered)))
			c.opts.Metrics.Unanswered.Add(float64(remain))
		}

		if remain == 0 {
			return allAnswered, lastUnanswered, nil
		}

		// Open Question 2 (DESIGN.md): reset the autostop budget only
		// on strict progress (some matched, some not); no progress
		// lets the ordinary countdown proceed.
		if autostop > 0 && remain > 0 && remain < total {
			retry = autostop
		} else {
			retry--
		}

		if retry < 0 {
			return allAnswered, lastUnanswered, nil
		}

		if c.opts.Metrics != nil {
			c.opts.Metrics.Retries.Inc()
		}

		// Pace the next retry pass through a cenkalti/backoff/v4
		// policy rather than resending immediately; a fresh constant
		// policy is cheap to build per retry and keeps the decision of
		// *whether* to retry (above) separate from *how long to wait*
		// before doing so.
		if d := retryBackoff(c.opts.Inter, 1).NextBackOff(); d > 0 {
			t := time.NewTimer(d)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				if c.opts.PropagateInterrupt {
					return allAnswered, lastUnanswered, ctx.Err()
				}
				return allAnswered, lastUnanswered, nil
			}
		}

		// spec.md §4.5 "Retry pass": each retry resends only the
		// stimuli still unanswered, not the original source.
		currentSrc = NewSliceSource(lastUnanswered)
	}
}

// runInlinePass runs the sender to completion before reception
// begins — spec.md §4.5 "non-threaded path: the sender runs inline
// before reception begins", viable only when replies are expected
// after the full send completes.
func (c *Coordinator) runInlinePass(ctx context.Context, src PacketSource, table *outstandingTable) ([]packet.QueryAnswer, []packet.Packet, error) {
	sendErr := c.sendAll(ctx, src, table)
	if sendErr != nil && c.opts.PropagateSendErrors {
		return nil, nil, sendErr
	}

	var mu sync.Mutex
	var answered []packet.QueryAnswer
	notans := int32(table.totalSent())
	var noans int32
	var sniffer *Sniffer

	var err error
	sniffer, err = NewSniffer(SniffOptions{
		Sockets:            map[socket.Socket]string{c.opts.Rx: "rx"},
		Session:            c.opts.Session,
		Timeout:            c.opts.Timeout,
		Logger:             c.opts.Logger,
		StopFilter:         c.opts.StopFilter,
		PropagateInterrupt: c.opts.PropagateInterrupt,
		Prn: func(p packet.Packet) {
			stim, first, ok := table.match(p, c.opts.Multi)
			if !ok {
				return
			}
			mu.Lock()
			answered = append(answered, packet.QueryAnswer{Query: stim, Answer: p})
			mu.Unlock()
			if first {
				atomic.AddInt32(&noans, 1)
			}
			if !c.opts.Multi && atomic.LoadInt32(&noans) >= notans {
				sniffer.Stop()
			}
		},
	})
	if err != nil {
		return nil, nil, err
	}

	_, sniffErr := sniffer.Sniff(ctx)
	if sniffErr != nil {
		return answered, table.unansweredOnly(), sniffErr
	}
	return answered, table.unansweredOnly(), nil
}

// runThreadedPass spawns a sender goroutine and runs the sniffer
// synchronously on the calling goroutine, passing the sender's start
// as startedCallback — spec.md §4.5 "threaded path... this design
// ensures the receive window opens before the first packet leaves."
func (c *Coordinator) runThreadedPass(ctx context.Context, src PacketSource, table *outstandingTable) ([]packet.QueryAnswer, []packet.Packet, error) {
	var mu sync.Mutex
	var answered []packet.QueryAnswer
	var notans int32
	var noans int32
	var sendDone atomic.Bool
	var sendErr error

	breakout := make(chan struct{})
	var breakoutOnce sync.Once
	triggerBreakout := func() { breakoutOnce.Do(func() { close(breakout) }) }

	var sniffer *Sniffer

	senderDone := make(chan struct{})

	startSender := func() {
		go func() {
			defer close(senderDone)
			n, err := c.sendAllCounting(ctx, src, table, breakout)
			atomic.StoreInt32(&notans, int32(n))
			if err != nil {
				sendErr = err
			}
			sendDone.Store(true)

			if atomic.LoadInt32(&noans) >= atomic.LoadInt32(&notans) && !c.opts.Multi {
				if sniffer != nil {
					sniffer.Stop()
				}
			}

			if c.opts.Timeout > 0 {
				t := time.NewTimer(c.opts.Timeout)
				select {
				case <-t.C:
					if sniffer != nil {
						sniffer.Stop()
					}
				case <-breakout:
					t.Stop()
				}
			} else {
				<-breakout
			}
		}()
	}

	var err error
	sniffer, err = NewSniffer(SniffOptions{
		Sockets:            map[socket.Socket]string{c.opts.Rx: "rx"},
		Session:            c.opts.Session,
		Logger:             c.opts.Logger,
		StartedCallback:    startSender,
		StopFilter:         c.opts.StopFilter,
		PropagateInterrupt: c.opts.PropagateInterrupt,
		Prn: func(p packet.Packet) {
			stim, first, ok := table.match(p, c.opts.Multi)
			if !ok {
				return
			}
			mu.Lock()
			answered = append(answered, packet.QueryAnswer{Query: stim, Answer: p})
			mu.Unlock()
			if first {
				atomic.AddInt32(&noans, 1)
			}
			if sendDone.Load() && atomic.LoadInt32(&noans) >= atomic.LoadInt32(&notans) && !c.opts.Multi {
				sniffer.Stop()
			}
		},
	})
	if err != nil {
		return nil, nil, err
	}

	_, sniffErr := sniffer.Sniff(ctx)
	triggerBreakout()
	<-senderDone

	if sendErr != nil && c.opts.PropagateSendErrors {
		return answered, table.unansweredOnly(), sendErr
	}
	if sniffErr != nil {
		return answered, table.unansweredOnly(), sniffErr
	}
	return answered, table.unansweredOnly(), nil
}

// sendAll transmits every packet from src on c.opts.Tx, inserting
// each stimulus into table before transmission (invariant 1).
func (c *Coordinator) sendAll(ctx context.Context, src PacketSource, table *outstandingTable) error {
	_, err := c.sendAllCounting(ctx, src, table, nil)
	return err
}

func (c *Coordinator) sendAllCounting(ctx context.Context, src PacketSource, table *outstandingTable, breakout <-chan struct{}) (int, error) {
	n := 0
	for {
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		default:
		}
		if breakout != nil {
			select {
			case <-breakout:
				return n, nil
			default:
			}
		}

		p, ok := src.Next()
		if !ok {
			return n, nil
		}

		table.insert(p) // before transmission: invariant 1

		if err := c.opts.Tx.Send(p); err != nil {
			return n, fmt.Errorf("sndrcv: send: %w", err)
		}
		p.SetSentTime(time.Now())
		n++

		if c.opts.Inter > 0 {
			t := time.NewTimer(c.opts.Inter)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return n, ctx.Err()
			}
		}
	}
}

// retryBackoff builds the constant backoff policy Run consults before
// starting each retry pass, grounded on cenkalti/backoff/v4 rather
// than a bare time.Sleep so the inter-pass cadence is expressed as a
// reusable, composable policy object.
func retryBackoff(inter time.Duration, maxRetries int) backoff.BackOff {
	b := backoff.NewConstantBackOff(inter)
	return backoff.WithMaxRetries(b, uint64(maxRetries))
}
