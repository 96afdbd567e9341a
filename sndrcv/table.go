package sndrcv

import (
	"fmt"
	"sync"

	"github.com/davecgh/go-spew/spew"

	"github.com/yerden/gosndrcv/packet"
)

// outstandingTable is the Go shape of scapy's hsent: a mapping from a
// stimulus's fingerprint to the ordered list of stimuli sharing it,
// still awaiting a reply (or, in multi mode, still eligible to
// collect more replies). Go cannot map on a []byte directly, so the
// fingerprint key is the string form of Hashret() — a mechanical
// adaptation, documented in DESIGN.md, not a semantic one.
//
// The multi-answer "answered" marker scapy attaches as an ad hoc
// attribute on the stimulus (`hasattr(p, '_answered')`) is kept here
// instead, as a parallel set keyed by pointer identity, since Go
// interface values can't carry extra fields.
type outstandingTable struct {
	mu      sync.Mutex
	buckets map[string][]packet.Packet
	sent    int
	answered map[packet.Packet]bool

	// onCompare, if set, receives one rendered record per
	// reply/candidate comparison in match — the Go counterpart of scapy's
	// conf.debug_match ring buffer. Populated with
	// github.com/davecgh/go-spew since the candidate/reply values
	// carry unexported gopacket state that fmt's default verbs don't
	// walk into usefully.
	onCompare func(string)
}

func newOutstandingTable() *outstandingTable {
	return &outstandingTable{
		buckets:  make(map[string][]packet.Packet),
		answered: make(map[packet.Packet]bool),
	}
}

// insert records stim in the table under its own fingerprint, before
// it is transmitted — invariant 1 of the data model: "a stimulus
// appears in the outstanding table before the send call that emits
// it returns".
func (t *outstandingTable) insert(stim packet.Packet) {
	key := string(stim.Hashret())
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buckets[key] = append(t.buckets[key], stim)
	t.sent++
}

// match looks up h in the table and returns the first stimulus whose
// Answers(reply) holds, in insertion order, matching scapy's
// dispatcher: "for each candidate stimulus in insertion order, test
// r.answers(stim); on first match, record the pair."
//
// In single-answer mode the matched stimulus is removed from its
// bucket. In multi mode it is kept but marked answered, and noans is
// only incremented the first time a given stimulus is matched.
func (t *outstandingTable) match(reply packet.Packet, multi bool) (stim packet.Packet, firstMatch, ok bool) {
	key := string(reply.Hashret())

	t.mu.Lock()
	defer t.mu.Unlock()

	bucket := t.buckets[key]
	for i, cand := range bucket {
		matched := reply.Answers(cand)
		if t.onCompare != nil {
			t.onCompare(fmt.Sprintf("reply=%s candidate=%s matched=%v\n%s",
				reply.Summary(), cand.Summary(), matched, spew.Sdump(reply, cand)))
		}
		if !matched {
			continue
		}

		if multi {
			firstMatch = !t.answered[cand]
			t.answered[cand] = true
			return cand, firstMatch, true
		}

		t.buckets[key] = append(bucket[:i:i], bucket[i+1:]...)
		return cand, true, true
	}
	return nil, false, false
}

// unansweredOnly returns every stimulus in the table that has never
// been matched even once — used both for the caller-facing unanswered
// list and for the retry loop's progress count.
func (t *outstandingTable) unansweredOnly() []packet.Packet {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []packet.Packet
	for _, bucket := range t.buckets {
		for _, stim := range bucket {
			if !t.answered[stim] {
				out = append(out, stim)
			}
		}
	}
	return out
}

func (t *outstandingTable) totalSent() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sent
}
