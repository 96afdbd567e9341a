package sndrcv

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/yerden/gosndrcv/packet"
	"github.com/yerden/gosndrcv/socket"
)

// fakePacket is a minimal packet.Packet for coordinator tests: its
// fingerprint and answers relation are driven entirely by test data
// rather than real wire bytes, the same role scapy's test doubles
// play in its own sendrecv test suite.
type fakePacket struct {
	name       string
	fp         string
	answersFor string // name of the stimulus this packet answers, "" if none
	sentAt     time.Time
	sniffedOn  string
}

func (p *fakePacket) Hashret() []byte { return []byte(p.fp) }
func (p *fakePacket) Answers(stim packet.Packet) bool {
	other, ok := stim.(*fakePacket)
	return ok && other.name == p.answersFor
}
func (p *fakePacket) Time() time.Time       { return time.Time{} }
func (p *fakePacket) SentTime() time.Time   { return p.sentAt }
func (p *fakePacket) SetSentTime(t time.Time) { p.sentAt = t }
func (p *fakePacket) Summary() string       { return fmt.Sprintf("fake(%s)", p.name) }
func (p *fakePacket) SniffedOn() string           { return p.sniffedOn }
func (p *fakePacket) SetSniffedOn(label string)   { p.sniffedOn = label }
func (p *fakePacket) Route() (string, net.IP, net.IP) { return "", nil, nil }

// echoSocket is a deterministic stub Socket backed by a real pipe fd:
// every Send is recorded, and a pre-programmed reply function decides
// what (if anything) to enqueue for Recv in response — letting each
// scenario script exactly which replies arrive and when. The pipe fd
// (rather than an always-ready Fd()==-1) lets genericSelect actually
// block on it, so a never-replying socket correctly exercises the
// sniffer's deadline/timeout path instead of busy-spinning forever.
type echoSocket struct {
	mu     sync.Mutex
	sent   []packet.Packet
	recvQ  []packet.Packet
	closed bool
	onSend   func(sent []packet.Packet, p packet.Packet) []packet.Packet // returns replies to enqueue
	closeErr error                                                       // returned by Close, for testing aggregation
	sendErr  error                                                       // if set, Send fails immediately without recording or replying

	r, w *os.File
}

func newEchoSocket(onSend func(sent []packet.Packet, p packet.Packet) []packet.Packet) *echoSocket {
	r, w, err := os.Pipe()
	if err != nil {
		panic(err)
	}
	return &echoSocket{onSend: onSend, r: r, w: w}
}

func (s *echoSocket) Send(p packet.Packet) error {
	s.mu.Lock()
	if s.sendErr != nil {
		err := s.sendErr
		s.mu.Unlock()
		return err
	}
	s.sent = append(s.sent, p)
	var replies []packet.Packet
	if s.onSend != nil {
		replies = s.onSend(s.sent, p)
	}
	s.recvQ = append(s.recvQ, replies...)
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return socket.ErrClosed
	}
	for range replies {
		if _, err := s.w.Write([]byte{1}); err != nil {
			return err
		}
	}
	return nil
}

func (s *echoSocket) Recv() (packet.Packet, error) {
	buf := make([]byte, 1)
	n, err := s.r.Read(buf)
	if err != nil || n == 0 {
		return nil, socket.ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.recvQ) == 0 {
		return nil, fmt.Errorf("echoSocket: spurious wakeup")
	}
	p := s.recvQ[0]
	s.recvQ = s.recvQ[1:]
	return p, nil
}

// feed enqueues pkts directly for a future Recv, bypassing onSend —
// used by sniffer-only tests that don't go through the coordinator's
// send path at all.
func (s *echoSocket) feed(pkts ...packet.Packet) {
	s.mu.Lock()
	s.recvQ = append(s.recvQ, pkts...)
	s.mu.Unlock()
	for range pkts {
		s.w.Write([]byte{1})
	}
}

func (s *echoSocket) Fd() int { return int(s.r.Fd()) }
func (s *echoSocket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	closeErr := s.closeErr
	s.mu.Unlock()
	s.w.Close()
	s.r.Close()
	return closeErr
}
func (s *echoSocket) Nonblocking() bool { return false }
func (s *echoSocket) Iface() string     { return "stub" }

func TestE1BasicMatch(t *testing.T) {
	A := &fakePacket{name: "A", fp: "h1"}
	B := &fakePacket{name: "B", fp: "h2"}
	C := &fakePacket{name: "C", fp: "h1"}

	RA := &fakePacket{name: "RA", fp: "h1", answersFor: "A"}
	RC := &fakePacket{name: "RC", fp: "h1", answersFor: "C"}
	RB := &fakePacket{name: "RB", fp: "h2", answersFor: "B"}

	replies := map[string][]packet.Packet{"A": {RA}, "B": {RB}, "C": {RC}}
	sock := newEchoSocket(func(_ []packet.Packet, p packet.Packet) []packet.Packet {
		return replies[p.(*fakePacket).name]
	})

	c, err := NewCoordinator(CoordinatorOptions{Tx: sock, Timeout: 200 * time.Millisecond})
	require.NoError(t, err)

	answered, unanswered, err := c.Run(context.Background(), NewSliceSource([]packet.Packet{A, B, C}))
	require.NoError(t, err)
	require.Empty(t, unanswered)
	require.Len(t, answered, 3)
}

func TestE2SingleAnswerDedup(t *testing.T) {
	A := &fakePacket{name: "A", fp: "h"}
	R1 := &fakePacket{name: "R1", fp: "h", answersFor: "A"}
	R2 := &fakePacket{name: "R2", fp: "h", answersFor: "A"}

	sock := newEchoSocket(func(_ []packet.Packet, p packet.Packet) []packet.Packet {
		return []packet.Packet{R1, R2}
	})

	c, err := NewCoordinator(CoordinatorOptions{Tx: sock, Timeout: 200 * time.Millisecond})
	require.NoError(t, err)

	answered, unanswered, err := c.Run(context.Background(), NewSliceSource([]packet.Packet{A}))
	require.NoError(t, err)
	require.Empty(t, unanswered)
	require.Len(t, answered, 1)
	require.Equal(t, "R1", answered[0].Answer.(*fakePacket).name)
}

func TestE3MultiMode(t *testing.T) {
	A := &fakePacket{name: "A", fp: "h"}
	R1 := &fakePacket{name: "R1", fp: "h", answersFor: "A"}
	R2 := &fakePacket{name: "R2", fp: "h", answersFor: "A"}

	sock := newEchoSocket(func(_ []packet.Packet, p packet.Packet) []packet.Packet {
		return []packet.Packet{R1, R2}
	})

	c, err := NewCoordinator(CoordinatorOptions{Tx: sock, Timeout: 40 * time.Millisecond, Multi: true})
	require.NoError(t, err)

	answered, unanswered, err := c.Run(context.Background(), NewSliceSource([]packet.Packet{A}))
	require.NoError(t, err)
	require.Empty(t, unanswered)
	require.Len(t, answered, 2)
}

func TestE4Timeout(t *testing.T) {
	A := &fakePacket{name: "A", fp: "h"}
	sock := newEchoSocket(nil) // never replies

	c, err := NewCoordinator(CoordinatorOptions{Tx: sock, Timeout: 100 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	answered, unanswered, err := c.Run(context.Background(), NewSliceSource([]packet.Packet{A}))
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Empty(t, answered)
	require.Len(t, unanswered, 1)
	require.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	require.Less(t, elapsed, 500*time.Millisecond)
}

func TestE5Retry(t *testing.T) {
	A := &fakePacket{name: "A", fp: "h1"}
	B := &fakePacket{name: "B", fp: "h2"}
	C := &fakePacket{name: "C", fp: "h3"}
	RA := &fakePacket{name: "RA", fp: "h1", answersFor: "A"}
	RB := &fakePacket{name: "RB", fp: "h2", answersFor: "B"}

	// Each retry resends only the still-unanswered stimuli (spec.md
	// §4.5), so A is only ever transmitted once and B twice; track
	// occurrence counts per name rather than a pass index.
	occurrences := map[string]int{}
	var mu sync.Mutex
	sock := newEchoSocket(func(_ []packet.Packet, p packet.Packet) []packet.Packet {
		mu.Lock()
		defer mu.Unlock()
		name := p.(*fakePacket).name
		occurrences[name]++
		switch {
		case name == "A" && occurrences[name] == 1:
			return []packet.Packet{RA}
		case name == "B" && occurrences[name] == 2:
			return []packet.Packet{RB}
		default:
			return nil
		}
	})

	src := NewSliceSource([]packet.Packet{A, B, C})

	c, err := NewCoordinator(CoordinatorOptions{Tx: sock, Timeout: 80 * time.Millisecond, Retry: 3})
	require.NoError(t, err)

	answered, unanswered, err := c.Run(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, unanswered, 1)
	require.Equal(t, "C", unanswered[0].(*fakePacket).name)
	require.Len(t, answered, 2)
}

func TestAutostopProgressResetsBudget(t *testing.T) {
	A := &fakePacket{name: "A", fp: "h1"}
	B := &fakePacket{name: "B", fp: "h2"}
	RA := &fakePacket{name: "RA", fp: "h1", answersFor: "A"}

	var mu sync.Mutex
	sock := newEchoSocket(func(_ []packet.Packet, p packet.Packet) []packet.Packet {
		mu.Lock()
		defer mu.Unlock()
		if p.(*fakePacket).name == "A" {
			return []packet.Packet{RA}
		}
		return nil // B is never answered
	})

	// A answers on its single (first-pass-only) transmission, so every
	// pass after the first resends only B and makes no progress; what
	// this test exercises is that the initial pass's partial match (A
	// answered, B not) resets the autostop budget to the full -Retry
	// value rather than merely decrementing it by one.
	c, err := NewCoordinator(CoordinatorOptions{Tx: sock, Timeout: 15 * time.Millisecond, Retry: -2})
	require.NoError(t, err)

	_, unanswered, err := c.Run(context.Background(), NewSliceSource([]packet.Packet{A, B}))
	require.NoError(t, err)
	require.Len(t, unanswered, 1) // B never answered
	require.Equal(t, "B", unanswered[0].(*fakePacket).name)
	// 1 initial pass (sends A, B), after which the reset budget of 2
	// counts down 2→1→0→-1 and allows 3 more passes (each resending
	// only B, since A was already answered) = 4 passes, 2+1+1+1 = 5
	// total sends. Without the progress-reset,
	// the budget would merely have decremented from 2 to 1 on pass one,
	// yielding only 3 passes (2+1+1 = 4 sends).
	require.GreaterOrEqual(t, len(sock.sent), 5, "a progress pass must reset the autostop budget to the full retry count")
}

func TestAutostopNoProgressDoesNotReset(t *testing.T) {
	A := &fakePacket{name: "A", fp: "h1"}
	sock := newEchoSocket(nil) // never replies at all: zero progress every pass

	c, err := NewCoordinator(CoordinatorOptions{Tx: sock, Timeout: 15 * time.Millisecond, Retry: -2})
	require.NoError(t, err)

	_, unanswered, err := c.Run(context.Background(), NewSliceSource([]packet.Packet{A}))
	require.NoError(t, err)
	require.Len(t, unanswered, 1)
	// 1 initial pass + 2 retries = 3 passes total, each resending the
	// single never-answered stimulus once; no-progress passes must not
	// re-extend the budget beyond that.
	require.Equal(t, 3, len(sock.sent))
}

func TestMultiAnswerUnanswered(t *testing.T) {
	A := &fakePacket{name: "A", fp: "h"}
	B := &fakePacket{name: "B", fp: "h2"}
	R1 := &fakePacket{name: "R1", fp: "h", answersFor: "A"}

	sock := newEchoSocket(func(_ []packet.Packet, p packet.Packet) []packet.Packet {
		if p.(*fakePacket).name == "A" {
			return []packet.Packet{R1}
		}
		return nil
	})

	c, err := NewCoordinator(CoordinatorOptions{Tx: sock, Timeout: 60 * time.Millisecond, Multi: true})
	require.NoError(t, err)

	answered, unanswered, err := c.Run(context.Background(), NewSliceSource([]packet.Packet{A, B}))
	require.NoError(t, err)
	require.Len(t, answered, 1)
	// A was answered at least once and must not reappear in
	// unanswered; B never matched and must.
	require.Len(t, unanswered, 1)
	require.Equal(t, "B", unanswered[0].(*fakePacket).name)
}

func TestInvariantAnsweredPlusUnansweredEqualsSent(t *testing.T) {
	stimuli := []packet.Packet{
		&fakePacket{name: "A", fp: "h1"},
		&fakePacket{name: "B", fp: "h2"},
		&fakePacket{name: "C", fp: "h3"},
	}
	sock := newEchoSocket(func(_ []packet.Packet, p packet.Packet) []packet.Packet {
		name := p.(*fakePacket).name
		if name == "A" || name == "C" {
			return []packet.Packet{&fakePacket{name: "R" + name, fp: p.(*fakePacket).fp, answersFor: name}}
		}
		return nil
	})

	c, err := NewCoordinator(CoordinatorOptions{Tx: sock, Timeout: 60 * time.Millisecond})
	require.NoError(t, err)

	answered, unanswered, err := c.Run(context.Background(), NewSliceSource(stimuli))
	require.NoError(t, err)
	require.Equal(t, len(stimuli), len(answered)+len(unanswered))
}

func TestDebugMatchRecordsComparisons(t *testing.T) {
	A := &fakePacket{name: "A", fp: "h1"}
	R1 := &fakePacket{name: "R1", fp: "h1", answersFor: "A"}

	sock := newEchoSocket(func(_ []packet.Packet, p packet.Packet) []packet.Packet {
		if p.(*fakePacket).name == "A" {
			return []packet.Packet{R1}
		}
		return nil
	})

	c, err := NewCoordinator(CoordinatorOptions{Tx: sock, Timeout: 60 * time.Millisecond, DebugMatch: true})
	require.NoError(t, err)

	_, _, err = c.Run(context.Background(), NewSliceSource([]packet.Packet{A}))
	require.NoError(t, err)

	log := c.DebugLog()
	require.NotEmpty(t, log)
	require.Contains(t, log[0], "reply=fake(R1)")
	require.Contains(t, log[0], "candidate=fake(A)")
	require.Contains(t, log[0], "matched=true")
}

func TestCoordinatorMetricsIncrement(t *testing.T) {
	A := &fakePacket{name: "A", fp: "h"}
	B := &fakePacket{name: "B", fp: "h2"}
	RA := &fakePacket{name: "RA", fp: "h", answersFor: "A"}

	sock := newEchoSocket(func(_ []packet.Packet, p packet.Packet) []packet.Packet {
		if p.(*fakePacket).name == "A" {
			return []packet.Packet{RA}
		}
		return nil
	})

	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg, "coordinator_metrics_test")
	require.NoError(t, err)

	c, err := NewCoordinator(CoordinatorOptions{Tx: sock, Timeout: 80 * time.Millisecond, Metrics: m})
	require.NoError(t, err)

	answered, unanswered, err := c.Run(context.Background(), NewSliceSource([]packet.Packet{A, B}))
	require.NoError(t, err)
	require.Len(t, answered, 1)
	require.Len(t, unanswered, 1)

	require.Equal(t, float64(2), testutil.ToFloat64(m.Sent))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Answered))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Unanswered))
	require.Equal(t, float64(0), testutil.ToFloat64(m.Retries), "single pass with Retry=0 never retries")
}

func TestCoordinatorMetricsCountsRetries(t *testing.T) {
	A := &fakePacket{name: "A", fp: "h"}
	sock := newEchoSocket(nil) // never replies

	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg, "coordinator_metrics_retry_test")
	require.NoError(t, err)

	c, err := NewCoordinator(CoordinatorOptions{Tx: sock, Timeout: 15 * time.Millisecond, Retry: 2, Metrics: m})
	require.NoError(t, err)

	_, unanswered, err := c.Run(context.Background(), NewSliceSource([]packet.Packet{A}))
	require.NoError(t, err)
	require.Len(t, unanswered, 1)
	require.Equal(t, float64(2), testutil.ToFloat64(m.Retries), "Retry=2 performs two retry passes after the initial one")
}

func TestFloodGeneratorCyclesUntilMaxRetries(t *testing.T) {
	A := &fakePacket{name: "A", fp: "h1"}
	B := &fakePacket{name: "B", fp: "h2"}

	flood := NewFloodGenerator(NewSliceSource([]packet.Packet{A, B}), 2, nil)

	var seen []string
	for {
		p, ok := flood.Next()
		if !ok {
			break
		}
		seen = append(seen, p.(*fakePacket).name)
	}

	require.Equal(t, []string{"A", "B", "A", "B"}, seen)
	require.Equal(t, int64(2), flood.IterLen())
	require.True(t, flood.Stopped() == false)
}

func TestFloodGeneratorStopEndsCycleEarly(t *testing.T) {
	A := &fakePacket{name: "A", fp: "h1"}
	flood := NewFloodGenerator(NewSliceSource([]packet.Packet{A}), 0, nil)

	p, ok := flood.Next()
	require.True(t, ok)
	require.Equal(t, "A", p.(*fakePacket).name)

	flood.Stop()
	_, ok = flood.Next()
	require.False(t, ok, "Stop must halt the generator even with maxRetries=0 (unlimited)")
}

// TestSrFloodCyclesThenStops exercises spec.md §8 scenario E6: a flood
// run sends every stimulus repeatedly until the FloodGenerator's own
// cycle budget is exhausted, forcing the coordinator's threaded path
// the way SrFlood always does.
func TestSrFloodCyclesThenStops(t *testing.T) {
	A := &fakePacket{name: "A", fp: "h1"}
	B := &fakePacket{name: "B", fp: "h2"}
	RA := &fakePacket{name: "RA", fp: "h1", answersFor: "A"}

	sock := newEchoSocket(func(_ []packet.Packet, p packet.Packet) []packet.Packet {
		if p.(*fakePacket).name == "A" {
			return []packet.Packet{RA}
		}
		return nil
	})

	flood := NewFloodGenerator(NewSliceSource([]packet.Packet{A, B}), 2, nil)

	answered, unanswered, err := SrFlood(context.Background(), sock, sock, flood, Options{Timeout: 150 * time.Millisecond})
	require.NoError(t, err)
	require.Equal(t, int64(2), flood.IterLen())
	require.Len(t, answered, 2, "A is answered on both of its two cycle occurrences")
	require.Len(t, unanswered, 2, "B is never answered on either occurrence")
}
