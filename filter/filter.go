// Package filter provides byte-level packet classification cheaper
// than gopacket's per-field layer accessors, for the sniffer's
// first-pass accept/reject ahead of the caller's LFilter predicate
// (Sniffer.RawFilter) where decoding every layer the caller might ask
// about would be wasted work.
//
// It keeps the teacher's split between a small composable Filter
// capability (filter.go) and concrete byte-offset peeling helpers
// (l4.go), generalized from single-port TCP/UDP matching into a
// composable predicate builder, and extended with a BPF-program-backed
// Filter (bpf.go) for callers who already have a capture filter
// string.
package filter

// Filter decides whether a raw link-layer frame should be accepted.
// Unlike scapy's string-based BPF filters compiled by libpcap, this
// capability is pure Go and runs in-process; CompiledBPF bridges to
// an externally-compiled BPF program when one is available.
type Filter interface {
	Execute(frame []byte) bool
}

// FilterFunc adapts a plain function to Filter.
type FilterFunc func([]byte) bool

// Execute calls f.
func (f FilterFunc) Execute(b []byte) bool { return f(b) }

// And returns a Filter that accepts a frame only if every fs accepts
// it, short-circuiting on the first rejection.
func And(fs ...Filter) Filter {
	return FilterFunc(func(b []byte) bool {
		for _, f := range fs {
			if !f.Execute(b) {
				return false
			}
		}
		return true
	})
}

// Or returns a Filter that accepts a frame if any fs accepts it.
func Or(fs ...Filter) Filter {
	return FilterFunc(func(b []byte) bool {
		for _, f := range fs {
			if f.Execute(b) {
				return true
			}
		}
		return false
	})
}

// Not inverts f.
func Not(f Filter) Filter {
	return FilterFunc(func(b []byte) bool { return !f.Execute(b) })
}

// Accept is a Filter that accepts every frame, the zero value used
// when no filtering was requested.
var Accept Filter = FilterFunc(func([]byte) bool { return true })
