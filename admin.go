package cog

import (
	"bytes"
	"sync"
	"time"

	"github.com/jasonmoo/cog/internal/gerr"
	"github.com/jasonmoo/cog/internal/ioloop"
	"github.com/jasonmoo/cog/internal/protocol"
)

// Admin drives the line-oriented admin protocol against one Gearman
// server (spec.md §4.8/§4.9's admin role, built out to a full public
// façade per SPEC_FULL.md §2 item 9). Unlike Client and Worker, only one
// admin request may be outstanding at a time, so every public method here
// blocks the calling goroutine until its response arrives or times out.
type Admin struct {
	opts    facadeOptions
	addr    string
	manager *ioloop.Manager
	conn    *ioloop.Conn
	handler *ioloop.AdminHandler
	cb      *adminCallbacks
}

// NewAdmin connects to a single Gearman server's admin port.
func NewAdmin(addr string, opts ...Option) (*Admin, error) {
	o := defaultFacadeOptions()
	for _, fn := range opts {
		fn(&o)
	}

	mgr, err := ioloop.NewManager(o.log)
	if err != nil {
		return nil, err
	}

	addr = normalizeAddrs([]string{addr})[0]
	cb := &adminCallbacks{}
	handler := ioloop.NewAdminHandler(cb)
	host, port := splitAddr(addr)
	conn := ioloop.NewConn(host, port, handler, o.log)

	if err := conn.Connect(); err != nil {
		mgr.Close()
		return nil, err
	}
	if err := mgr.AddConnection(conn); err != nil {
		conn.Close()
		mgr.Close()
		return nil, err
	}

	return &Admin{opts: o, addr: addr, manager: mgr, conn: conn, handler: handler, cb: cb}, nil
}

const defaultAdminTimeout = 5 * time.Second

// GetStatus issues "status" and returns the parsed per-task queue rows.
func (a *Admin) GetStatus() ([]protocol.StatusRow, error) {
	a.cb.reset()
	a.handler.Status(a.conn)
	if err := a.wait(defaultAdminTimeout); err != nil {
		return nil, err
	}
	return a.cb.statusRows, nil
}

// GetWorkers issues "workers" and returns the parsed connected-worker rows.
func (a *Admin) GetWorkers() ([]protocol.WorkerRow, error) {
	a.cb.reset()
	a.handler.Workers(a.conn)
	if err := a.wait(defaultAdminTimeout); err != nil {
		return nil, err
	}
	return a.cb.workerRows, nil
}

// GetVersion issues "version" and returns the server's version string.
func (a *Admin) GetVersion() (string, error) {
	a.cb.reset()
	a.handler.Version(a.conn)
	if err := a.wait(defaultAdminTimeout); err != nil {
		return "", err
	}
	return a.cb.version, nil
}

// SendMaxQueue issues "maxqueue task max".
func (a *Admin) SendMaxQueue(task string, max int) error {
	a.cb.reset()
	a.handler.MaxQueue(a.conn, task, max)
	return a.wait(defaultAdminTimeout)
}

// SendShutdown issues "shutdown" (or "shutdown graceful").
func (a *Admin) SendShutdown(graceful bool) error {
	a.cb.reset()
	a.handler.Shutdown(a.conn, graceful)
	return a.wait(defaultAdminTimeout)
}

// PingServer round-trips an ECHO_REQ/ECHO_RES over the binary framer
// (admin connections understand both wire formats on the same socket,
// spec.md §4.1) and reports whether the echoed payload matched.
func (a *Admin) PingServer() error {
	payload := []byte("ping")
	a.cb.reset()
	a.handler.Echo(a.conn, payload)
	if err := a.wait(defaultAdminTimeout); err != nil {
		return err
	}
	if !bytes.Equal(a.cb.echoData, payload) {
		return gerr.New(gerr.CodeProtocol, "echo payload mismatch", nil)
	}
	return nil
}

func (a *Admin) wait(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		a.cb.mu.Lock()
		ready, err := a.cb.ready, a.cb.err
		a.cb.mu.Unlock()
		if ready {
			return err
		}
		if time.Now().After(deadline) {
			return gerr.New(gerr.CodeConnection, "admin request timed out", nil)
		}
		a.manager.Poll(nil, func() bool { return true }, 100*time.Millisecond)
	}
}

// Close tears down the admin connection.
func (a *Admin) Close() error {
	_ = a.manager.RemoveConnection(a.conn)
	_ = a.conn.Close()
	return a.manager.Close()
}

// adminCallbacks bridges ioloop.AdminHandler's parsed responses back into
// Admin's synchronous request/response calls. Only one request is ever
// outstanding, so a single result slot (reset before each request) is
// enough.
type adminCallbacks struct {
	mu sync.Mutex

	ready      bool
	err        error
	statusRows []protocol.StatusRow
	workerRows []protocol.WorkerRow
	version    string
	echoData   []byte
}

func (cb *adminCallbacks) reset() {
	cb.mu.Lock()
	cb.ready = false
	cb.err = nil
	cb.statusRows = nil
	cb.workerRows = nil
	cb.version = ""
	cb.echoData = nil
	cb.mu.Unlock()
}

func (cb *adminCallbacks) OnEcho(data []byte) {
	cb.mu.Lock()
	cb.echoData = data
	cb.ready = true
	cb.mu.Unlock()
}

func (cb *adminCallbacks) OnStatus(rows []protocol.StatusRow) {
	cb.mu.Lock()
	cb.statusRows = rows
	cb.ready = true
	cb.mu.Unlock()
}

func (cb *adminCallbacks) OnWorkers(rows []protocol.WorkerRow) {
	cb.mu.Lock()
	cb.workerRows = rows
	cb.ready = true
	cb.mu.Unlock()
}

func (cb *adminCallbacks) OnVersion(v string) {
	cb.mu.Lock()
	cb.version = v
	cb.ready = true
	cb.mu.Unlock()
}

func (cb *adminCallbacks) OnMaxQueue() {
	cb.mu.Lock()
	cb.ready = true
	cb.mu.Unlock()
}

func (cb *adminCallbacks) OnShutdown() {
	cb.mu.Lock()
	cb.ready = true
	cb.mu.Unlock()
}

func (cb *adminCallbacks) OnError(err error) {
	cb.mu.Lock()
	cb.err = err
	cb.ready = true
	cb.mu.Unlock()
}
