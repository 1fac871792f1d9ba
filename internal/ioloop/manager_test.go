package ioloop

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/jasonmoo/cog/internal/logging"
)

func TestManagerNotifyWakesPoll(t *testing.T) {
	m, err := NewManager(logging.NewNoop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	done := make(chan bool, 1)
	go func() {
		done <- m.Poll(nil, func() bool { return false }, 5*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	if err := m.Notify(WakeGeneric); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected Poll's after() returning false to propagate")
		}
	case <-time.After(time.Second):
		t.Fatal("Poll never returned after Notify")
	}
}

func TestManagerHandleErrorOnRemoteDisconnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	_ = portStr

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	h := &noopHandler{}
	port := ln.Addr().(*net.TCPAddr).Port
	conn := NewConn(host, port, h, logging.NewNoop())
	if err := conn.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	srv := <-accepted
	srv.Close() // immediately hang up so the client observes an empty read

	m, err := NewManager(logging.NewNoop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	if err := m.AddConnection(conn); err != nil {
		t.Fatalf("AddConnection: %v", err)
	}

	var mu sync.Mutex
	var gotErr error
	var errCalls int
	m.SetServerErrorHandler(func(c *Conn, err error) {
		mu.Lock()
		gotErr = err
		errCalls++
		mu.Unlock()
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.Poll(nil, func() bool { return true }, 100*time.Millisecond)
		mu.Lock()
		calls := errCalls
		mu.Unlock()
		if calls > 0 {
			break
		}
	}

	mu.Lock()
	calls := errCalls
	mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected the error handler to fire exactly once, got %d (err=%v)", calls, gotErr)
	}
	if h.ioErrors != 1 {
		t.Fatalf("expected OnIOError to fire exactly once, got %d", h.ioErrors)
	}
	if conn.Connected() {
		t.Fatal("expected the connection to be closed after the disconnect was handled")
	}
	if len(m.Connections()) != 0 {
		t.Fatalf("expected the errored connection pruned from the working set, got %d still registered", len(m.Connections()))
	}
}

func TestManagerAddRemoveConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err == nil {
			defer c.Close()
			buf := make([]byte, 64)
			c.Read(buf)
		}
	}()

	host := ln.Addr().(*net.TCPAddr).IP.String()
	port := ln.Addr().(*net.TCPAddr).Port

	h := &noopHandler{}
	conn := NewConn(host, port, h, logging.NewNoop())
	if err := conn.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	m, err := NewManager(logging.NewNoop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	if err := m.AddConnection(conn); err != nil {
		t.Fatalf("AddConnection: %v", err)
	}
	if len(m.Connections()) != 1 {
		t.Fatalf("expected 1 registered connection, got %d", len(m.Connections()))
	}

	if err := m.RemoveConnection(conn); err != nil {
		t.Fatalf("RemoveConnection: %v", err)
	}
	if len(m.Connections()) != 0 {
		t.Fatalf("expected 0 registered connections after removal, got %d", len(m.Connections()))
	}
}
