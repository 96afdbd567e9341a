package sndrcv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/yerden/gosndrcv/filter"
	"github.com/yerden/gosndrcv/packet"
	"github.com/yerden/gosndrcv/session"
	"github.com/yerden/gosndrcv/socket"
)

// SniffOptions configures one sniff invocation — the Go shape of
// scapy's sniff()/AsyncSniffer kwargs (spec.md §4.3).
type SniffOptions struct {
	// Sockets maps each socket to the label attached to packets it
	// produces (spec.md §3 SniffSocketSet).
	Sockets map[socket.Socket]string

	Session session.Decoder // nil => session.Default{}

	// Count is the accept quota; 0 means unlimited.
	Count int

	// Store retains accepted packets in Results().
	Store bool

	// Prn is invoked for every accepted packet, synchronously, in
	// sniffer-loop order.
	Prn func(packet.Packet)

	// RawFilter, if set, runs against the accepted packet's raw frame
	// bytes ahead of LFilter — a cheap byte-offset reject before the
	// (typically more expensive) per-field LFilter predicate runs.
	// Only applied to packets that expose their raw bytes (e.g.
	// *packet.GoPacket); other Packet implementations skip straight to
	// LFilter.
	RawFilter filter.Filter

	// LFilter is the accept predicate; nil accepts everything.
	LFilter func(packet.Packet) bool

	// StopFilter is evaluated after acceptance; returning true ends
	// the sniff.
	StopFilter func(packet.Packet) bool

	// Timeout bounds the whole sniff; zero means no timeout.
	Timeout time.Duration

	// StartedCallback is invoked exactly once, after every socket is
	// bound and before the first Select — the contract spec.md §9
	// "Callback-as-started-signal" requires preserving verbatim.
	StartedCallback func()

	// PropagateInterrupt mirrors scapy's chainCC: if true, context
	// cancellation is returned as an error from Sniff instead of
	// being swallowed.
	PropagateInterrupt bool

	Logger zerolog.Logger

	// Selector overrides how the socket set is waited on. When nil,
	// every socket plus the control pipe is waited on together by one
	// fd-based select, sockets with a negative Fd() counting as always
	// ready; a heterogeneous set produces no warning.
	Selector socket.Selector
}

// Sniffer multiplexes reads across a socket set, applying predicates
// and dispatching accepted packets, synchronously or asynchronously —
// the Go expression of scapy's AsyncSniffer (spec.md §4.3).
type Sniffer struct {
	opts SniffOptions

	control *socket.ControlPipe
	stopped atomic.Bool
	started atomic.Bool

	mu      sync.Mutex
	results []packet.Packet
	count   int
	running atomic.Bool

	runErr error
	done   chan struct{}
}

// NewSniffer builds a Sniffer from opts. A control pipe is always
// created; it costs nothing when unused and guarantees Stop() always
// works even if every socket turns out blocking.
func NewSniffer(opts SniffOptions) (*Sniffer, error) {
	if opts.Session == nil {
		opts.Session = session.Default{}
	}
	cp, err := socket.NewControlPipe()
	if err != nil {
		return nil, fmt.Errorf("sndrcv: sniffer control pipe: %w", err)
	}
	return &Sniffer{opts: opts, control: cp, done: make(chan struct{})}, nil
}

// Close releases every socket in the set plus the control pipe,
// continuing past individual failures and aggregating them — spec.md
// §4.5 "sockets are opened by the caller or by a thin wrapper that
// close()s them on all exit paths". Safe to call after Sniff/Join
// returns, or on an abandoned Sniffer that never ran.
func (s *Sniffer) Close() error {
	var result *multierror.Error
	for sock := range s.opts.Sockets {
		if err := sock.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("sndrcv: close socket: %w", err))
		}
	}
	if err := s.control.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("sndrcv: close control pipe: %w", err))
	}
	return result.ErrorOrNil()
}

// Results returns every stored packet so far. Safe to call while the
// sniffer is running.
func (s *Sniffer) Results() []packet.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]packet.Packet, len(s.results))
	copy(out, s.results)
	return out
}

// Count returns the number of packets accepted by lfilter so far —
// spec.md §8 invariant 5, `sniffer.count == |packets_accepted|`.
func (s *Sniffer) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Running reports whether the main loop is currently active.
func (s *Sniffer) Running() bool { return s.running.Load() }

// Stop requests cooperative termination: it sets the stop flag and
// signals the control pipe to unblock a parked Select. Calling Stop
// before the sniffer has ever been run returns ErrNotRunning, matching
// scapy's `Scapy_Exception("Not running !")` raised by
// AsyncSniffer.stop() in the same case. Calling Stop again after an
// earlier Stop, once the sniffer is no longer running, returns
// ErrSniffUnsupportedStop; the kind of socket in the set is not
// consulted.
func (s *Sniffer) Stop() error {
	if !s.started.Load() {
		return ErrNotRunning
	}
	if !s.running.Load() && s.stopped.Load() {
		return ErrSniffUnsupportedStop
	}
	s.stopped.Store(true)
	return s.control.Signal()
}

// Sniff runs the main loop synchronously on the calling goroutine,
// returning once the loop terminates for any reason.
func (s *Sniffer) Sniff(ctx context.Context) ([]packet.Packet, error) {
	return s.run(ctx)
}

// Start runs the main loop on a dedicated goroutine; Join waits for
// it and returns any error captured during the run — scapy's
// AsyncSniffer.start()/join() pair.
func (s *Sniffer) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		_, s.runErr = s.runLocked(ctx)
	}()
	return nil
}

// Join blocks until an asynchronously-started sniff completes,
// returning whatever Sniff would have returned.
func (s *Sniffer) Join() ([]packet.Packet, error) {
	<-s.done
	return s.Results(), s.runErr
}

func (s *Sniffer) run(ctx context.Context) ([]packet.Packet, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer s.running.Store(false)
	return s.runLocked(ctx)
}

func (s *Sniffer) runLocked(ctx context.Context) ([]packet.Packet, error) {
	s.started.Store(true)
	defer s.running.Store(false)

	// A cancelled ctx must unblock a goroutine parked in a real (fd-based)
	// select the same way Stop() does — otherwise cancellation is only
	// noticed between loop iterations and a blocking socket set would
	// never see it.
	loopDone := make(chan struct{})
	defer close(loopDone)
	go func() {
		select {
		case <-ctx.Done():
			s.control.Signal()
		case <-loopDone:
		}
	}()

	socks := make([]socket.Socket, 0, len(s.opts.Sockets)+1)
	for sock := range s.opts.Sockets {
		socks = append(socks, sock)
	}

	// Step 1: started_callback exactly once, after binding, before
	// the first select.
	if s.opts.StartedCallback != nil {
		s.opts.StartedCallback()
	}

	selector := s.opts.Selector
	if selector == nil {
		selector = firstSocketSelector{socks: socks}
	}

	var deadline time.Time
	if s.opts.Timeout > 0 {
		deadline = time.Now().Add(s.opts.Timeout)
	}

	selectSet := append(append([]socket.Socket{}, socks...), controlSocket{s.control})

	for {
		if ctx.Err() != nil {
			if s.opts.PropagateInterrupt {
				return s.Results(), ctx.Err()
			}
			return s.Results(), nil
		}
		if s.stopped.Load() {
			return s.Results(), nil
		}

		remain := time.Duration(0)
		if !deadline.IsZero() {
			remain = time.Until(deadline)
			if remain <= 0 {
				return s.Results(), nil
			}
		}

		ready, err := selector.Select(selectSet, remain)
		if err != nil {
			return s.Results(), fmt.Errorf("sndrcv: select: %w", err)
		}

		for _, sock := range ready {
			if cs, ok := sock.(controlSocket); ok {
				_ = cs
				s.control.Drain()
				continue
			}

			label := s.opts.Sockets[sock]
			pkts, err := s.opts.Session.Recv(sock)
			if err != nil {
				if errors.Is(err, io.EOF) {
					s.evict(sock, &socks, &selectSet)
					if len(socks) == 0 {
						return s.Results(), nil
					}
					continue
				}
				s.opts.Logger.Warn().Err(err).Str("socket", label).Msg("sndrcv: transient recv error, evicting socket")
				s.evict(sock, &socks, &selectSet)
				continue
			}

			for _, p := range pkts {
				p.SetSniffedOn(label)
				if s.opts.RawFilter != nil {
					if gp, ok := p.(*packet.GoPacket); ok && !s.opts.RawFilter.Execute(gp.Data()) {
						continue
					}
				}
				if s.opts.LFilter != nil && !s.opts.LFilter(p) {
					continue
				}

				s.mu.Lock()
				s.count++
				if s.opts.Store {
					s.results = append(s.results, p)
				}
				s.mu.Unlock()

				if s.opts.Prn != nil {
					s.opts.Prn(p)
				}

				stop := false
				if s.opts.StopFilter != nil && s.opts.StopFilter(p) {
					stop = true
				}
				if s.opts.Count > 0 && s.Count() >= s.opts.Count {
					stop = true
				}
				if stop {
					return s.Results(), nil
				}
			}
		}
	}
}

func (s *Sniffer) evict(sock socket.Socket, socks *[]socket.Socket, selectSet *[]socket.Socket) {
	sock.Close()
	delete(s.opts.Sockets, sock)

	filtered := (*socks)[:0]
	for _, sk := range *socks {
		if sk != sock {
			filtered = append(filtered, sk)
		}
	}
	*socks = filtered

	filteredSel := (*selectSet)[:0]
	for _, sk := range *selectSet {
		if sk != sock {
			filteredSel = append(filteredSel, sk)
		}
	}
	*selectSet = filteredSel
}

// controlSocket adapts *socket.ControlPipe to the socket.Socket
// interface just enough to participate in Select; Send/Recv are
// never meaningfully called on it.
type controlSocket struct{ cp *socket.ControlPipe }

func (c controlSocket) Send(packet.Packet) error    { return errors.New("sndrcv: control socket is not sendable") }
func (c controlSocket) Recv() (packet.Packet, error) { return nil, errors.New("sndrcv: control socket is not readable") }
func (c controlSocket) Fd() int                      { return c.cp.Fd() }
func (c controlSocket) Close() error                 { return nil }
func (c controlSocket) Nonblocking() bool            { return false }
func (c controlSocket) Iface() string                { return "control" }

// firstSocketSelector is the Selector used when no explicit Selector
// is configured: it hands the whole set to genericSelect's portable
// fd-based wait rather than to any one socket's own select.
type firstSocketSelector struct{ socks []socket.Socket }

func (f firstSocketSelector) Select(socks []socket.Socket, timeout time.Duration) ([]socket.Socket, error) {
	return genericSelect(socks, timeout)
}
