package sndrcv

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/yerden/gosndrcv/packet"
	"github.com/yerden/gosndrcv/session"
	"github.com/yerden/gosndrcv/socket"
)

// Options bundles the knobs shared by the caller-facing operations
// below — one struct per spec.md §6 operation would otherwise repeat
// the same dozen fields.
type Options struct {
	Inter               time.Duration
	Timeout             time.Duration
	Retry               int
	Multi               bool
	Prebuild            bool
	Threaded            bool
	Session             session.Decoder
	PropagateInterrupt  bool
	PropagateSendErrors bool
	StopFilter          func(packet.Packet) bool
	Logger              zerolog.Logger
	DebugMatch          bool

	// Metrics, if set, is updated with sent/answered/unanswered/retry
	// counts as each pass completes (SPEC_FULL.md §2 "Metrics").
	Metrics *Metrics
}

func (o Options) coordinatorOptions(tx, rx socket.Socket) CoordinatorOptions {
	return CoordinatorOptions{
		Tx: tx, Rx: rx,
		Timeout:             o.Timeout,
		Inter:               o.Inter,
		Retry:               o.Retry,
		Multi:               o.Multi,
		Prebuild:            o.Prebuild,
		Threaded:            o.Threaded,
		Session:             o.Session,
		PropagateInterrupt:  o.PropagateInterrupt,
		PropagateSendErrors: o.PropagateSendErrors,
		StopFilter:          o.StopFilter,
		Logger:              o.Logger,
		DebugMatch:          o.DebugMatch,
		Metrics:             o.Metrics,
	}
}

// SendP is the L2-transmit-only caller-facing operation; it is
// identical to Send at this layer since L2 vs. L3 framing is a
// property of the Socket implementation the caller chose, not of the
// send engine (spec.md §6 "sendp... L2 transmit only").
func SendP(ctx context.Context, sock socket.Socket, src PacketSource, opts SendOptions) (SendResult, error) {
	return Send(ctx, sock, src, opts)
}

// Sr is the L3 stimulus-response operation: send, sniff, match.
func Sr(ctx context.Context, tx, rx socket.Socket, src PacketSource, opts Options) ([]packet.QueryAnswer, []packet.Packet, error) {
	c, err := NewCoordinator(opts.coordinatorOptions(tx, rx))
	if err != nil {
		return nil, nil, err
	}
	return c.Run(ctx, src)
}

// Srp is the L2 stimulus-response operation; same engine as Sr, L2
// framing again being a Socket-level concern.
func Srp(ctx context.Context, tx, rx socket.Socket, src PacketSource, opts Options) ([]packet.QueryAnswer, []packet.Packet, error) {
	return Sr(ctx, tx, rx, src, opts)
}

// Sr1 returns only the first reply, or nil if none arrived.
func Sr1(ctx context.Context, tx, rx socket.Socket, pkt packet.Packet, opts Options) (packet.Packet, error) {
	answered, _, err := Sr(ctx, tx, rx, NewOneSource(pkt), opts)
	if err != nil {
		return nil, err
	}
	if len(answered) == 0 {
		return nil, nil
	}
	return answered[0].Answer, nil
}

// Srp1 is the L2 analogue of Sr1.
func Srp1(ctx context.Context, tx, rx socket.Socket, pkt packet.Packet, opts Options) (packet.Packet, error) {
	return Sr1(ctx, tx, rx, pkt, opts)
}

// SrLoop repeats Sr at cadence loopOpts.Inter, returning every
// iteration's result.
func SrLoop(ctx context.Context, tx, rx socket.Socket, src PacketSource, opts Options, loopOpts LoopOptions) (allAnswered [][]packet.QueryAnswer, allUnanswered [][]packet.Packet) {
	if loopOpts.Inter == 0 {
		loopOpts.Inter = opts.Inter
	}
	if opts.Timeout == 0 {
		opts.Timeout = LoopTimeout(loopOpts.Inter)
	}
	fn := func(ctx context.Context) ([]packet.QueryAnswer, []packet.Packet, error) {
		resetIfPossible(src)
		return Sr(ctx, tx, rx, src, opts)
	}
	return Loop(ctx, fn, loopOpts)
}

// SrpLoop is the L2 analogue of SrLoop.
func SrpLoop(ctx context.Context, tx, rx socket.Socket, src PacketSource, opts Options, loopOpts LoopOptions) (allAnswered [][]packet.QueryAnswer, allUnanswered [][]packet.Packet) {
	return SrLoop(ctx, tx, rx, src, opts, loopOpts)
}

// SrFlood runs Sr against a FloodGenerator-wrapped source, forcing
// the threaded path as spec.md §4.6 requires.
func SrFlood(ctx context.Context, tx, rx socket.Socket, flood *FloodGenerator, opts Options) ([]packet.QueryAnswer, []packet.Packet, error) {
	co := opts.coordinatorOptions(tx, rx)
	co.flood = true
	c, err := NewCoordinator(co)
	if err != nil {
		return nil, nil, err
	}
	return c.Run(ctx, flood)
}

// Sr1Flood returns only the first reply from a flood run.
func Sr1Flood(ctx context.Context, tx, rx socket.Socket, flood *FloodGenerator, opts Options) (packet.Packet, error) {
	answered, _, err := SrFlood(ctx, tx, rx, flood, opts)
	if err != nil {
		return nil, err
	}
	if len(answered) == 0 {
		return nil, nil
	}
	return answered[0].Answer, nil
}

// SrpFlood is the L2 analogue of SrFlood.
func SrpFlood(ctx context.Context, tx, rx socket.Socket, flood *FloodGenerator, opts Options) ([]packet.QueryAnswer, []packet.Packet, error) {
	return SrFlood(ctx, tx, rx, flood, opts)
}

// Srp1Flood is the L2 analogue of Sr1Flood.
func Srp1Flood(ctx context.Context, tx, rx socket.Socket, flood *FloodGenerator, opts Options) (packet.Packet, error) {
	return Sr1Flood(ctx, tx, rx, flood, opts)
}

// Sniff is the synchronous capture operation.
func Sniff(ctx context.Context, opts SniffOptions) ([]packet.Packet, error) {
	s, err := NewSniffer(opts)
	if err != nil {
		return nil, err
	}
	return s.Sniff(ctx)
}

// AsyncSniffer is an alias kept for call sites that want the
// spec.md §6 name; Sniffer already provides Start/Stop/Join.
type AsyncSniffer = Sniffer

// NewAsyncSniffer constructs an AsyncSniffer.
func NewAsyncSniffer(opts SniffOptions) (*AsyncSniffer, error) {
	return NewSniffer(opts)
}

// Tshark sniffs and prints a one-line summary per accepted packet,
// numbered, exactly as scapy's tshark() (spec.md §6, SPEC_FULL.md
// "Supplemented features").
func Tshark(ctx context.Context, opts SniffOptions, print func(n int, line string)) error {
	n := 0
	userPrn := opts.Prn
	opts.Prn = func(p packet.Packet) {
		n++
		print(n, p.Summary())
		if userPrn != nil {
			userPrn(p)
		}
	}
	_, err := Sniff(ctx, opts)
	return err
}
