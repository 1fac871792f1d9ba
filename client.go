package cog

import (
	"errors"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jasonmoo/cog/internal/gerr"
	"github.com/jasonmoo/cog/internal/ioloop"
	"github.com/jasonmoo/cog/internal/logging"
	"github.com/jasonmoo/cog/internal/protocol"
)

const defaultPort = 4730

// Client submits jobs to a pool of Gearman servers and tracks their
// lifecycle (spec.md §4.9). A Client owns exactly one connection manager
// and one goroutine's worth of poll-loop driving: SubmitJob and
// SubmitMultipleJobs block the calling goroutine until the work finishes
// or times out, matching spec.md §5's "single main loop per role" model.
type Client struct {
	opts facadeOptions

	addrs   []string
	manager *ioloop.Manager
	servers []*clientServer

	rng *rand.Rand
}

type clientServer struct {
	addr    string
	conn    *ioloop.Conn
	handler *ioloop.ClientHandler
	cb      *clientCallbacks

	consecutiveFailures int
}

// NewClient builds a Client against the given "host:port" addresses (a
// bare "host" is given the default Gearman port 4730).
func NewClient(addrs []string, opts ...Option) (*Client, error) {
	if len(addrs) == 0 {
		return nil, gerr.New(gerr.CodeServerUnavailable, "no server addresses configured", nil)
	}

	o := defaultFacadeOptions()
	for _, fn := range opts {
		fn(&o)
	}

	mgr, err := ioloop.NewManager(o.log)
	if err != nil {
		return nil, err
	}

	c := &Client{
		opts:    o,
		addrs:   normalizeAddrs(addrs),
		manager: mgr,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, a := range c.addrs {
		c.servers = append(c.servers, &clientServer{addr: a})
	}
	mgr.SetServerErrorHandler(func(conn *ioloop.Conn, err error) {
		o.log.Warningf("client connection to %s lost: %v", conn.Addr(), err)
	})
	return c, nil
}

func normalizeAddrs(addrs []string) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		if !strings.Contains(a, ":") {
			a = a + ":" + strconv.Itoa(defaultPort)
		}
		out[i] = a
	}
	return out
}

// SubmitJob submits one job and blocks until it completes, fails, or
// times out. unique may be empty, in which case a random 16-byte unique
// key is generated (spec.md §4.9).
func (c *Client) SubmitJob(task, unique string, data []byte, priority Priority, background bool, timeout time.Duration) (*JobRequest, error) {
	req := c.newRequest(task, unique, data, priority, background)
	if err := c.SubmitMultipleJobs([]*JobRequest{req}, true, 3, timeout); err != nil {
		return req, err
	}
	return req, nil
}

func (c *Client) newRequest(task, unique string, data []byte, priority Priority, background bool) *JobRequest {
	if unique == "" {
		unique = strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	return &JobRequest{
		Job:        Job{Task: task, Unique: unique, Data: data},
		Priority:   priority,
		Background: background,
		State:      StateUnknown,
	}
}

// SubmitMultipleJobs drives the full client façade loop of spec.md §4.9:
// it repeatedly issues SUBMIT_JOB for every request still StateUnknown,
// polls until none is StateUnknown or StatePending any more (every request
// has its JOB_CREATED handle or has finished), and then -- if
// block is true -- continues polling until every request reaches a
// terminal state or timeout elapses.
func (c *Client) SubmitMultipleJobs(reqs []*JobRequest, block bool, maxRetries int, timeout time.Duration) error {
	for _, r := range reqs {
		if r.MaxConnectAttempts == 0 {
			r.MaxConnectAttempts = maxRetries
		}
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	if err := c.blockingSubmit(reqs, deadline); err != nil {
		return err
	}
	if !block {
		return nil
	}
	c.waitUntilComplete(reqs, deadline)
	return nil
}

func (c *Client) blockingSubmit(reqs []*JobRequest, deadline time.Time) error {
	for {
		pending := false
		for _, r := range reqs {
			r.Lock()
			state := r.State
			r.Unlock()

			switch state {
			case StateUnknown:
				pending = true
				if err := c.sendJobRequest(r); err != nil {
					r.Lock()
					r.ConnectAttempts++
					exhausted := r.ConnectAttempts >= r.MaxConnectAttempts && r.MaxConnectAttempts > 0
					r.Unlock()
					if exhausted {
						return gerr.New(gerr.CodeExceededAttempts, "exceeded max connect attempts for "+r.Job.Task, err)
					}
				}
			case StatePending:
				pending = true
			}
		}
		if !pending {
			return nil
		}

		remaining := pollRemaining(deadline)
		if remaining == 0 && !deadline.IsZero() {
			break
		}
		c.manager.Poll(nil, func() bool { return true }, remaining)
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}
	}

	for _, r := range reqs {
		r.Lock()
		if r.State == StatePending {
			r.TimedOut = true
		}
		r.Unlock()
	}
	return nil
}

func (c *Client) waitUntilComplete(reqs []*JobRequest, deadline time.Time) {
	for {
		active := false
		for _, r := range reqs {
			r.Lock()
			done := r.Done()
			r.Unlock()
			if !done {
				active = true
			}
		}
		if !active {
			return
		}

		remaining := pollRemaining(deadline)
		if remaining == 0 && !deadline.IsZero() {
			break
		}
		c.manager.Poll(nil, func() bool { return true }, remaining)
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}
	}

	for _, r := range reqs {
		r.Lock()
		if !r.Done() {
			r.TimedOut = true
		}
		r.Unlock()
	}
}

func pollRemaining(deadline time.Time) time.Duration {
	if deadline.IsZero() {
		return 250 * time.Millisecond
	}
	d := time.Until(deadline)
	if d < 0 {
		return 0
	}
	if d > 250*time.Millisecond {
		return 250 * time.Millisecond
	}
	return d
}

// sendJobRequest implements spec.md §4.9's _create_handler: pick a
// connected server (establishing one if needed, trying each configured
// address with recently-failed servers tried last), then emit
// SUBMIT_JOB* on it.
func (c *Client) sendJobRequest(r *JobRequest) error {
	srv, err := c.pickServer()
	if err != nil {
		return err
	}

	data, err := c.opts.encoder.Encode(r.Job.Data)
	if err != nil {
		return err
	}

	r.Lock()
	srv.cb.pending = append(srv.cb.pending, r)
	r.State = StatePending
	r.Unlock()

	srv.handler.SubmitJob(srv.conn, r.Background, r.Priority, r.Job.Task, r.Job.Unique, data)
	return nil
}

// pickServer returns a connected clientServer, shuffling the candidate
// order and rotating past servers with consecutive failures, matching
// spec.md §4.9's deque-rotation policy.
func (c *Client) pickServer() (*clientServer, error) {
	perm := c.rng.Perm(len(c.servers))
	order := make([]int, 0, len(perm))
	for _, i := range perm {
		if c.servers[i].consecutiveFailures == 0 {
			order = append(order, i)
		}
	}
	for _, i := range perm {
		if c.servers[i].consecutiveFailures > 0 {
			order = append(order, i)
		}
	}
	var lastErr error
	for _, i := range order {
		srv := c.servers[i]
		if srv.conn != nil && srv.conn.Connected() {
			return srv, nil
		}
		if err := c.connectServer(srv); err != nil {
			lastErr = err
			srv.consecutiveFailures++
			continue
		}
		srv.consecutiveFailures = 0
		return srv, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no servers configured")
	}
	return nil, gerr.New(gerr.CodeServerUnavailable, "no usable server connection", lastErr)
}

func (c *Client) connectServer(srv *clientServer) error {
	cb := &clientCallbacks{
		encoder:  c.opts.encoder,
		log:      c.opts.log,
		byHandle: make(map[string]*JobRequest),
	}
	handler := ioloop.NewClientHandler(cb)
	host, port := splitAddr(srv.addr)
	conn := ioloop.NewConn(host, port, handler, c.opts.log)

	if err := conn.Connect(); err != nil {
		return err
	}
	if err := c.manager.AddConnection(conn); err != nil {
		conn.Close()
		return err
	}

	srv.conn = conn
	srv.handler = handler
	srv.cb = cb
	return nil
}

func splitAddr(addr string) (string, int) {
	host, portStr, ok := strings.Cut(addr, ":")
	if !ok {
		return addr, defaultPort
	}
	port := defaultPort
	for i := 0; i < len(portStr); i++ {
		if portStr[i] < '0' || portStr[i] > '9' {
			return host, defaultPort
		}
	}
	n := 0
	for i := 0; i < len(portStr); i++ {
		n = n*10 + int(portStr[i]-'0')
	}
	if n > 0 {
		port = n
	}
	return host, port
}

// GetJobStatus requests a fresh STATUS_RES for r (only meaningful once r
// has a handle) and blocks until the status record advances or timeout
// elapses.
func (c *Client) GetJobStatus(r *JobRequest, timeout time.Duration) error {
	r.Lock()
	handle := r.Job.Handle
	srv := c.serverForHandle(handle)
	before := r.Status.TimeReceived
	r.Unlock()

	if srv == nil {
		return gerr.New(gerr.CodeInvalidState, "request has no bound connection", nil)
	}
	srv.handler.GetStatus(srv.conn, handle)

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		r.Lock()
		advanced := r.Status.TimeReceived.After(before)
		r.Unlock()
		if advanced {
			return nil
		}
		remaining := pollRemaining(deadline)
		if remaining == 0 && !deadline.IsZero() {
			r.Lock()
			r.TimedOut = true
			r.Unlock()
			return nil
		}
		c.manager.Poll(nil, func() bool { return true }, remaining)
		if !deadline.IsZero() && time.Now().After(deadline) {
			r.Lock()
			r.TimedOut = true
			r.Unlock()
			return nil
		}
	}
}

func (c *Client) serverForHandle(handle string) *clientServer {
	for _, srv := range c.servers {
		if srv.cb == nil {
			continue
		}
		if _, ok := srv.cb.byHandle[handle]; ok {
			return srv
		}
	}
	return nil
}

// Shutdown closes every connection this Client has opened.
func (c *Client) Shutdown() error {
	for _, srv := range c.servers {
		if srv.conn != nil {
			_ = c.manager.RemoveConnection(srv.conn)
			_ = srv.conn.Close()
		}
	}
	return c.manager.Close()
}

// SetOption sets a per-connection option for every currently connected
// server (supplemented feature, spec.md §6: teacher's SetOption carried
// forward as a broadcast rather than a single-connection call).
func (c *Client) SetOption(option protocol.Option) {
	for _, srv := range c.servers {
		if srv.conn != nil && srv.conn.Connected() {
			srv.conn.SendCommand(protocol.TypeOptionReq, protocol.Args{"option_name": []byte(option)})
		}
	}
}

// clientCallbacks bridges ioloop.ClientHandler's wire-level events into
// this Client's JobRequest bookkeeping. One instance is bound to exactly
// one connection, since request_queue FIFO ordering (spec.md §3) is
// per-connection.
type clientCallbacks struct {
	encoder  DataEncoder
	log      logging.Sink
	pending  []*JobRequest
	byHandle map[string]*JobRequest
}

// OnIOError implements spec.md §4.6's on_io_error: every request still
// awaiting JOB_CREATED, plus every request already bound to a handle on
// this connection, is reset to StateUnknown so blockingSubmit re-submits
// it on another server (scenario 2, retry on disconnect).
func (cb *clientCallbacks) OnIOError() {
	for _, r := range cb.pending {
		r.Lock()
		r.State = StateUnknown
		r.Job.Handle = ""
		r.Unlock()
	}
	cb.pending = nil

	for _, r := range cb.byHandle {
		r.Lock()
		r.State = StateUnknown
		r.Job.Handle = ""
		r.Unlock()
	}
	cb.byHandle = make(map[string]*JobRequest)
}

func (cb *clientCallbacks) OnJobCreated(jobHandle string) {
	if len(cb.pending) == 0 {
		cb.log.Warningf("JOB_CREATED with no pending request: %s", jobHandle)
		return
	}
	r := cb.pending[0]
	cb.pending = cb.pending[1:]

	r.Lock()
	r.Job.Handle = jobHandle
	r.State = StateCreated
	r.Unlock()

	cb.byHandle[jobHandle] = r
}

func (cb *clientCallbacks) OnWorkStatus(jobHandle string, numerator, denominator int) {
	r, ok := cb.byHandle[jobHandle]
	if !ok {
		return
	}
	r.Lock()
	r.Status = Status{Known: true, Running: true, Numerator: numerator, Denominator: denominator, TimeReceived: time.Now()}
	r.Unlock()
}

func (cb *clientCallbacks) OnWorkComplete(jobHandle string, data []byte) {
	r, ok := cb.byHandle[jobHandle]
	if !ok {
		return
	}
	decoded, err := cb.encoder.Decode(data)
	if err != nil {
		cb.log.Errorf("decode WORK_COMPLETE payload for %s: %v", jobHandle, err)
		decoded = data
	}
	r.Lock()
	r.Result = decoded
	r.State = StateComplete
	r.Unlock()
	delete(cb.byHandle, jobHandle)
}

func (cb *clientCallbacks) OnWorkFail(jobHandle string) {
	r, ok := cb.byHandle[jobHandle]
	if !ok {
		return
	}
	r.Lock()
	r.State = StateFailed
	r.Unlock()
	delete(cb.byHandle, jobHandle)
}

func (cb *clientCallbacks) OnWorkException(jobHandle string, data []byte) {
	r, ok := cb.byHandle[jobHandle]
	if !ok {
		return
	}
	decoded, err := cb.encoder.Decode(data)
	if err != nil {
		decoded = data
	}
	r.Lock()
	r.Exception = decoded
	r.Unlock()
}

func (cb *clientCallbacks) OnWorkData(jobHandle string, data []byte) {
	r, ok := cb.byHandle[jobHandle]
	if !ok {
		return
	}
	decoded, err := cb.encoder.Decode(data)
	if err != nil {
		decoded = data
	}
	r.Lock()
	r.DataUpdates = append(r.DataUpdates, decoded)
	r.Unlock()
}

func (cb *clientCallbacks) OnWorkWarning(jobHandle string, data []byte) {
	r, ok := cb.byHandle[jobHandle]
	if !ok {
		return
	}
	decoded, err := cb.encoder.Decode(data)
	if err != nil {
		decoded = data
	}
	r.Lock()
	r.WarningUpdates = append(r.WarningUpdates, decoded)
	r.Unlock()
}

func (cb *clientCallbacks) OnStatusRes(jobHandle string, known, running bool, numerator, denominator int) {
	r, ok := cb.byHandle[jobHandle]
	if !ok {
		return
	}
	r.Lock()
	r.Status = Status{Known: known, Running: running, Numerator: numerator, Denominator: denominator, TimeReceived: time.Now()}
	r.Unlock()
	if !known {
		delete(cb.byHandle, jobHandle)
	}
}

func (cb *clientCallbacks) OnError(code, text string) {
	cb.log.Errorf("server ERROR %s: %s", code, text)
}
