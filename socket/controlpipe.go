package socket

import (
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// ControlPipe is a self-pipe used to unblock a goroutine parked in a
// select() over socket file descriptors — the same role scapy's
// ObjectPipe plays for AsyncSniffer.stop(): write a byte, the blocked
// select wakes up, the caller notices the control fd is readable and
// exits its loop instead of trying to Recv from it.
//
// Built on golang.org/x/sys/unix.Pipe2 with O_NONBLOCK so repeated
// Signal calls never block the signaler even if the reader hasn't
// drained yet.
type ControlPipe struct {
	mu      sync.Mutex
	r, w    *os.File
	signals int
}

// NewControlPipe creates a fresh pipe pair.
func NewControlPipe() (*ControlPipe, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK); err != nil {
		return nil, err
	}
	return &ControlPipe{
		r: os.NewFile(uintptr(fds[0]), "sndrcv-control-r"),
		w: os.NewFile(uintptr(fds[1]), "sndrcv-control-w"),
	}, nil
}

// Fd returns the read end, suitable for inclusion in a select() set.
func (c *ControlPipe) Fd() int { return int(c.r.Fd()) }

// Signal wakes up anyone blocked selecting on Fd(). Safe to call
// multiple times and from multiple goroutines.
func (c *ControlPipe) Signal() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signals++
	_, err := unix.Write(int(c.w.Fd()), []byte{1})
	if err != nil && err != unix.EAGAIN {
		return err
	}
	return nil
}

// Drain consumes any pending signal bytes so the pipe can be reused
// for a subsequent select pass.
func (c *ControlPipe) Drain() {
	buf := make([]byte, 64)
	for {
		n, err := unix.Read(c.Fd(), buf)
		if n <= 0 || err != nil {
			return
		}
	}
}

// Close releases both ends of the pipe.
func (c *ControlPipe) Close() error {
	werr := c.w.Close()
	rerr := c.r.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
