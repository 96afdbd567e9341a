package sndrcv

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/yerden/gosndrcv/socket"
)

// genericSelect waits until at least one of socks is ready. Sockets
// that report a negative Fd() (in-memory iterators, pcap files) are
// always-ready, matching scapy's handling of non-selectable sources —
// it just recv()s straight away for such sockets instead of trying to
// include them in a real select(2) call. Sockets with a real fd are
// waited on together via unix.Select.
func genericSelect(socks []socket.Socket, timeout time.Duration) ([]socket.Socket, error) {
	var always []socket.Socket
	var waitable []socket.Socket
	maxFd := -1

	for _, s := range socks {
		if s.Fd() < 0 {
			always = append(always, s)
			continue
		}
		waitable = append(waitable, s)
		if s.Fd() > maxFd {
			maxFd = s.Fd()
		}
	}

	if len(always) > 0 {
		// Data (or EOF) may already be sitting behind a non-selectable
		// source; return immediately rather than blocking on the
		// selectable set and starving it.
		return always, nil
	}

	if len(waitable) == 0 {
		// Nothing to wait on at all; behave like an immediate timeout.
		if timeout > 0 {
			time.Sleep(timeout)
		}
		return nil, nil
	}

	var fdSet unix.FdSet
	for _, s := range waitable {
		fdSetPut(&fdSet, s.Fd())
	}

	var tv *unix.Timeval
	if timeout > 0 {
		t := unix.NsecToTimeval(timeout.Nanoseconds())
		tv = &t
	}

	n, err := unix.Select(maxFd+1, &fdSet, nil, nil, tv)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	ready := make([]socket.Socket, 0, n)
	for _, s := range waitable {
		if fdSetIsSet(&fdSet, s.Fd()) {
			ready = append(ready, s)
		}
	}
	return ready, nil
}

func fdSetPut(set *unix.FdSet, fd int) {
	idx := fd / 64
	bit := uint(fd % 64)
	set.Bits[idx] |= 1 << bit
}

func fdSetIsSet(set *unix.FdSet, fd int) bool {
	idx := fd / 64
	bit := uint(fd % 64)
	return set.Bits[idx]&(1<<bit) != 0
}
