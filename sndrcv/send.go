package sndrcv

import (
	"context"
	"fmt"
	"time"

	"github.com/yerden/gosndrcv/packet"
	"github.com/yerden/gosndrcv/socket"
)

// SendOptions configures the send engine (spec.md §4.4).
type SendOptions struct {
	// Inter is the delay between transmissions.
	Inter time.Duration

	// Loop repeats the whole pass; negative values repeat -Loop
	// times, zero means once. Count, if set (non-zero), overrides
	// Loop as -Count, matching scapy's count-overrides-loop rule.
	Loop  int
	Count int

	// Realtime sleeps to honor each packet's own Time() relative to
	// a baseline established on the first packet sent.
	Realtime bool

	// ReturnPackets collects every transmitted packet into the
	// returned slice when true.
	ReturnPackets bool
}

// SendResult is what the send engine hands back: every transmitted
// packet (if requested) and how many packets went out in total.
type SendResult struct {
	Sent  []packet.Packet
	Total int
}

// Send transmits every packet produced by src on sock, honoring
// SendOptions, until ctx is canceled or the source/loop count is
// exhausted — scapy's send()/sendp() engine (spec.md §4.4).
//
// On exit, the last transmitted packet's SentTime is propagated to
// src if src has a SetSentTime(time.Time) method, so the source's sent
// time equals that of the last packet that went out.
func Send(ctx context.Context, sock socket.Socket, src PacketSource, opts SendOptions) (SendResult, error) {
	passes := opts.Loop
	if opts.Count != 0 {
		passes = -opts.Count
	}

	var last packet.Packet
	defer func() {
		if c, ok := src.(interface{ SetSentTime(time.Time) }); ok && last != nil {
			c.SetSentTime(last.SentTime())
		}
	}()

	var result SendResult
	var baseline time.Time
	var baselinePktTime time.Time
	haveBaseline := false

	sendOnePass := func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			p, ok := src.Next()
			if !ok {
				return nil
			}

			if opts.Realtime {
				if !haveBaseline {
					baseline = time.Now()
					baselinePktTime = p.Time()
					haveBaseline = true
				} else {
					target := baseline.Add(p.Time().Sub(baselinePktTime))
					if d := time.Until(target); d > 0 {
						t := time.NewTimer(d)
						select {
						case <-t.C:
						case <-ctx.Done():
							t.Stop()
							return ctx.Err()
						}
					}
				}
			}

			if err := sock.Send(p); err != nil {
				return fmt.Errorf("sndrcv: send: %w", err)
			}
			p.SetSentTime(time.Now())
			last = p

			result.Total++
			if opts.ReturnPackets {
				result.Sent = append(result.Sent, p)
			}

			if opts.Inter > 0 {
				t := time.NewTimer(opts.Inter)
				select {
				case <-t.C:
				case <-ctx.Done():
					t.Stop()
					return ctx.Err()
				}
			}
		}
	}

	switch {
	case passes == 0:
		// Exactly one pass.
		if err := sendOnePass(); err != nil {
			return result, err
		}
	case passes < 0:
		// Repeat -passes times.
		for i := 0; i < -passes; i++ {
			before := result.Total
			if err := sendOnePass(); err != nil {
				return result, err
			}
			if result.Total == before {
				break // source exhausted for good; further passes are no-ops
			}
			resetIfPossible(src)
		}
	default:
		// A positive, truthy loop repeats indefinitely until the
		// source is exhausted for good or ctx is canceled, matching
		// scapy's send(loop=1) "send forever" behavior.
		for {
			before := result.Total
			if err := sendOnePass(); err != nil {
				return result, err
			}
			if result.Total == before {
				break
			}
			resetIfPossible(src)
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
		}
	}

	return result, nil
}
