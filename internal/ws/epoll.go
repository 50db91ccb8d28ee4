//go:build linux

package ws

import (
	"fmt"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// waitBatch bounds how many readiness events one Wait call collects.
const waitBatch = 128

// Epoll multiplexes read readiness for every live connection through a
// single kernel epoll instance. The server owns one Epoll and drains it
// from a single event loop goroutine; no per-connection read goroutines
// exist on Linux.
type Epoll struct {
	fd    int
	mu    sync.RWMutex
	conns map[int]net.Conn  // registered socket fd -> connection
	batch []unix.EpollEvent // reused by Wait; touched only by the event loop
}

// NewEpoll opens a kernel epoll instance.
func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &Epoll{
		fd:    fd,
		conns: make(map[int]net.Conn),
		batch: make([]unix.EpollEvent, waitBatch),
	}, nil
}

// Add puts the connection's socket on the interest list. Readiness covers
// inbound data, hangup, and peer half-close (EPOLLRDHUP), so the read path
// observes a closing client promptly instead of on the next failed write.
func (e *Epoll) Add(conn net.Conn) error {
	fd := socketFD(conn)
	if fd < 0 {
		return fmt.Errorf("ws: no socket descriptor for %T", conn)
	}

	if err := unix.EpollCtl(e.fd, syscall.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLHUP | unix.EPOLLRDHUP,
		Fd:     int32(fd),
	}); err != nil {
		return err
	}

	e.mu.Lock()
	e.conns[fd] = conn
	e.mu.Unlock()
	return nil
}

// Remove takes the connection's socket off the interest list. Removing a
// socket that was never added reports the kernel's error; the caller
// treats removal as best-effort during teardown.
func (e *Epoll) Remove(conn net.Conn) error {
	fd := socketFD(conn)

	e.mu.Lock()
	delete(e.conns, fd)
	e.mu.Unlock()

	return unix.EpollCtl(e.fd, syscall.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks until at least one registered socket is readable and returns
// the matching connections. Interrupted syscalls are retried here, so the
// event loop never observes EINTR. A socket that was removed between the
// kernel wakeup and the lookup is skipped.
func (e *Epoll) Wait() ([]net.Conn, error) {
	var n int
	for {
		var err error
		n, err = unix.EpollWait(e.fd, e.batch, -1)
		if err == nil {
			break
		}
		if err == unix.EINTR {
			continue
		}
		return nil, err
	}

	e.mu.RLock()
	ready := make([]net.Conn, 0, n)
	for i := 0; i < n; i++ {
		if conn, ok := e.conns[int(e.batch[i].Fd)]; ok {
			ready = append(ready, conn)
		}
	}
	e.mu.RUnlock()
	return ready, nil
}

// Close releases the kernel epoll instance. Registered sockets are not
// closed here; the connection manager owns their lifetimes.
func (e *Epoll) Close() error {
	e.mu.Lock()
	e.conns = nil
	e.mu.Unlock()
	return unix.Close(e.fd)
}

// socketFD resolves a connection to its socket descriptor via
// syscall.Conn, without duplicating the descriptor the way File() would.
// The original fd stays valid for epoll registration.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}

	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}

	fd := -1
	_ = raw.Control(func(sfd uintptr) {
		fd = int(sfd)
	})
	return fd
}
