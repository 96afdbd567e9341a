package sndrcv

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/yerden/gosndrcv/packet"
	"github.com/yerden/gosndrcv/session"
	"github.com/yerden/gosndrcv/socket"
)

// Transform decides what happens to a packet crossing the bridge:
// drop == true means don't forward; otherwise a non-nil fwd is
// forwarded in place of p, and a nil fwd forwards p unchanged.
type Transform func(p packet.Packet) (fwd packet.Packet, drop bool)

// BridgeOptions configures BridgeAndSniff (spec.md §4.8).
type BridgeOptions struct {
	If1, If2         socket.Socket
	Label1, Label2   string
	Xfrm12, Xfrm21   Transform // nil == forward as-is
	Prn              func(packet.Packet)
	Session          session.Decoder
	Logger           zerolog.Logger
}

// BridgeAndSniff couples two live sockets: packets arriving on one
// are (optionally transformed and) forwarded to the other, while both
// are sniffed — scapy's bridge_and_sniff (spec.md §4.8).
func BridgeAndSniff(ctx context.Context, opts BridgeOptions) ([]packet.Packet, error) {
	labels := map[socket.Socket]string{
		opts.If1: opts.Label1,
		opts.If2: opts.Label2,
	}

	forward := func(p packet.Packet) {
		var xfrm Transform
		var dst socket.Socket

		switch p.SniffedOn() {
		case opts.Label1:
			xfrm, dst = opts.Xfrm12, opts.If2
		case opts.Label2:
			xfrm, dst = opts.Xfrm21, opts.If1
		default:
			return
		}

		out := p
		if xfrm != nil {
			fwd, drop := xfrm(p)
			if drop {
				return
			}
			if fwd != nil {
				out = fwd
			}
		}

		if err := dst.Send(out); err != nil {
			opts.Logger.Warn().Err(err).Msg("sndrcv: bridge forward failed, dropping packet")
			// Forwarding errors are logged and never interrupt sniffing
			// (spec.md §4.8, §7 "Transform exception in bridge").
		}
	}

	sniffer, err := NewSniffer(SniffOptions{
		Sockets: labels,
		Session: opts.Session,
		Logger:  opts.Logger,
		Prn: func(p packet.Packet) {
			forward(p)
			if opts.Prn != nil {
				opts.Prn(p)
			}
		},
	})
	if err != nil {
		return nil, err
	}

	return sniffer.Sniff(ctx)
}
