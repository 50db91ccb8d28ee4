package ws

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

// recordConn is a net.Conn stub recording every write deadline it is given.
type recordConn struct {
	mu        sync.Mutex
	deadlines []time.Time
	written   int
}

func (r *recordConn) Read(b []byte) (int, error) { return 0, io.EOF }

func (r *recordConn) Write(b []byte) (int, error) {
	r.mu.Lock()
	r.written += len(b)
	r.mu.Unlock()
	return len(b), nil
}

func (r *recordConn) Close() error                    { return nil }
func (r *recordConn) LocalAddr() net.Addr             { return nil }
func (r *recordConn) RemoteAddr() net.Addr            { return nil }
func (r *recordConn) SetDeadline(time.Time) error     { return nil }
func (r *recordConn) SetReadDeadline(time.Time) error { return nil }

func (r *recordConn) SetWriteDeadline(d time.Time) error {
	r.mu.Lock()
	r.deadlines = append(r.deadlines, d)
	r.mu.Unlock()
	return nil
}

func (r *recordConn) writeDeadlines() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Time, len(r.deadlines))
	copy(out, r.deadlines)
	return out
}

func TestSendBoundsWriteWithDeadline(t *testing.T) {
	rc := &recordConn{}
	c := &Connection{id: "c1", Conn: rc, writeTimeout: 5 * time.Second}

	if err := c.Send([]byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}

	ds := rc.writeDeadlines()
	if len(ds) != 2 {
		t.Fatalf("expected deadline set then cleared, got %d calls", len(ds))
	}
	if !ds[0].After(time.Now()) {
		t.Errorf("expected a future write deadline, got %s", ds[0])
	}
	if !ds[1].IsZero() {
		t.Errorf("expected the deadline cleared after the write, got %s", ds[1])
	}
}

func TestWritePingBoundsWriteWithDeadline(t *testing.T) {
	rc := &recordConn{}
	c := &Connection{id: "c1", Conn: rc, writeTimeout: 5 * time.Second}

	if err := c.WritePing(); err != nil {
		t.Fatalf("ping: %v", err)
	}

	ds := rc.writeDeadlines()
	if len(ds) != 2 || !ds[0].After(time.Now()) || !ds[1].IsZero() {
		t.Fatalf("expected deadline set then cleared, got %v", ds)
	}
}

func TestSendWithoutTimeoutSetsNoDeadline(t *testing.T) {
	rc := &recordConn{}
	c := &Connection{id: "c1", Conn: rc}

	if err := c.Send([]byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if ds := rc.writeDeadlines(); len(ds) != 0 {
		t.Fatalf("expected no deadline calls, got %v", ds)
	}
}

func TestLastActiveConcurrentAccess(t *testing.T) {
	c := &Connection{id: "c1", Conn: &recordConn{}}
	c.Touch()
	before := c.LastActive()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c.Touch()
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = c.LastActive()
			}
		}()
	}
	wg.Wait()

	if c.LastActive().Before(before) {
		t.Fatalf("last active went backwards: %s < %s", c.LastActive(), before)
	}
}
