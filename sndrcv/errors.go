package sndrcv

import "errors"

// ErrSniffUnsupportedStop is returned by Stop when an earlier Stop has
// already been recorded and the sniffer is no longer running. The kind
// of socket in the set is not consulted.
var ErrSniffUnsupportedStop = errors.New("sndrcv: stop unsupported on offline/non-blocking-only socket set")

// ErrNotRunning is returned by Sniffer.Stop when the sniffer was never
// run.
var ErrNotRunning = errors.New("sndrcv: sniffer is not running")

// ErrAlreadyRunning is returned by Sniffer.Start or Sniffer.Sniff when
// a run of the same sniffer is still active.
var ErrAlreadyRunning = errors.New("sndrcv: sniffer is already running")
