package cog

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jasonmoo/cog/internal/gerr"
	"github.com/jasonmoo/cog/internal/ioloop"
	"github.com/jasonmoo/cog/internal/wpool"
)

// WorkerFunc executes one assigned job and returns its result payload (pre-
// encoding) or an error, which is reported upstream as WORK_FAIL.
type WorkerFunc func(job *WorkerJob) ([]byte, error)

// WorkerJob is handed to a WorkerFunc. Data has already been run through
// the Worker's DataEncoder. Progress/partial-result methods are safe to
// call from the callback's own goroutine even under a concurrent pool --
// writes are serialized through a ResultSender (spec.md §5's
// "serialization point").
type WorkerJob struct {
	Task   string
	Unique string
	Handle string
	Data   []byte

	sender  *ioloop.ResultSender
	encoder DataEncoder
}

// SendStatus reports numerator/denominator progress for a still-running
// job.
func (j *WorkerJob) SendStatus(numerator, denominator int) error {
	return j.sender.WorkStatus(j.Handle, numerator, denominator)
}

// SendData streams a partial result chunk for a still-running job.
func (j *WorkerJob) SendData(data []byte) error {
	encoded, err := j.encoder.Encode(data)
	if err != nil {
		return err
	}
	return j.sender.WorkData(j.Handle, encoded)
}

// SendWarning streams a warning payload for a still-running job.
func (j *WorkerJob) SendWarning(data []byte) error {
	encoded, err := j.encoder.Encode(data)
	if err != nil {
		return err
	}
	return j.sender.WorkWarning(j.Handle, encoded)
}

// Worker advertises a set of named capabilities to a pool of Gearman
// servers, runs assigned jobs (optionally across a bounded concurrency
// pool), and reports results back (spec.md §4.10).
type Worker struct {
	opts facadeOptions

	addrs       []string
	concurrency int
	manager     *ioloop.Manager
	pool        *wpool.Pool

	mu           sync.Mutex
	abilities    map[string]WorkerFunc
	abilityOrder []string
	clientID     string
	conns        []*workerConn
	terminated   bool

	runningJobs int32
}

type workerConn struct {
	addr    string
	conn    *ioloop.Conn
	handler *ioloop.WorkerHandler
	sender  *ioloop.ResultSender
}

// NewWorker builds a Worker against the given "host:port" addresses.
// concurrency bounds how many jobs run at once; 0 or 1 runs every job
// inline on the poll-loop goroutine (no pool is created).
func NewWorker(addrs []string, concurrency int, opts ...Option) (*Worker, error) {
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

	w := &Worker{
		opts:        o,
		addrs:       normalizeAddrs(addrs),
		concurrency: concurrency,
		manager:     mgr,
		abilities:   make(map[string]WorkerFunc),
	}
	if concurrency > 1 {
		w.pool = wpool.New(concurrency)
	}

	for _, a := range w.addrs {
		w.conns = append(w.conns, &workerConn{addr: a})
	}

	mgr.SetRePrepareHandler(w.rePrepareAll)
	mgr.SetServerErrorHandler(func(c *ioloop.Conn, err error) {
		o.log.Warningf("worker connection to %s lost: %v", c.Addr(), err)
	})

	return w, nil
}

func (w *Worker) rePrepareAll() {
	w.mu.Lock()
	conns := append([]*workerConn(nil), w.conns...)
	w.mu.Unlock()
	for _, wc := range conns {
		if wc.conn != nil && wc.conn.Connected() {
			wc.handler.Prepare(wc.conn)
		}
	}
}

// RegisterTask advertises task as something this worker can perform,
// broadcasting CAN_DO to every currently connected server.
func (w *Worker) RegisterTask(task string, fn WorkerFunc) {
	w.mu.Lock()
	if _, exists := w.abilities[task]; !exists {
		w.abilityOrder = append(w.abilityOrder, task)
	}
	w.abilities[task] = fn
	conns := append([]*workerConn(nil), w.conns...)
	w.mu.Unlock()

	for _, wc := range conns {
		if wc.conn != nil && wc.conn.Connected() {
			wc.handler.RegisterAbility(wc.conn, task)
		}
	}
}

// UnregisterTask withdraws a previously registered capability, broadcasting
// CANT_DO to every currently connected server.
func (w *Worker) UnregisterTask(task string) {
	w.mu.Lock()
	delete(w.abilities, task)
	for i, t := range w.abilityOrder {
		if t == task {
			w.abilityOrder = append(w.abilityOrder[:i], w.abilityOrder[i+1:]...)
			break
		}
	}
	conns := append([]*workerConn(nil), w.conns...)
	w.mu.Unlock()

	for _, wc := range conns {
		if wc.conn != nil && wc.conn.Connected() {
			wc.handler.UnregisterAbility(wc.conn, task)
		}
	}
}

// SetClientID sets the worker's identifying string, broadcasting
// SET_CLIENT_ID to every currently connected server.
func (w *Worker) SetClientID(id string) {
	w.mu.Lock()
	w.clientID = id
	conns := append([]*workerConn(nil), w.conns...)
	w.mu.Unlock()

	for _, wc := range conns {
		if wc.conn != nil && wc.conn.Connected() {
			wc.handler.SetClientID(wc.conn, id)
		}
	}
}

// establishConnections attempts to (re)connect every configured server in
// random order, tolerating individual failures. Returns ServerUnavailable
// only if not one address is reachable.
func (w *Worker) establishConnections() error {
	w.mu.Lock()
	order := rand.Perm(len(w.conns))
	conns := w.conns
	abilities := append([]string(nil), w.abilityOrder...)
	clientID := w.clientID
	w.mu.Unlock()

	connectedAny := false
	for _, i := range order {
		wc := conns[i]
		if wc.conn != nil && wc.conn.Connected() {
			connectedAny = true
			continue
		}

		if wc.conn == nil {
			cb := &workerCallbacks{worker: w}
			wc.handler = ioloop.NewWorkerHandler(cb)
			host, port := splitAddr(wc.addr)
			wc.conn = ioloop.NewConn(host, port, wc.handler, w.opts.log)
			wc.sender = ioloop.NewResultSender(wc.conn, func() error { return w.manager.Notify(ioloop.WakeGeneric) })
			cb.conn = wc
		}

		if err := wc.conn.Connect(); err != nil {
			w.opts.log.Warningf("connect %s: %v", wc.addr, err)
			continue
		}

		wc.handler.ResetAbilities(wc.conn)
		for _, task := range abilities {
			wc.handler.RegisterAbility(wc.conn, task)
		}
		wc.handler.SetClientID(wc.conn, clientID)
		wc.handler.Sleep(wc.conn)

		if err := w.manager.AddConnection(wc.conn); err != nil {
			wc.conn.Close()
			continue
		}
		connectedAny = true
	}

	if !connectedAny {
		return gerr.New(gerr.CodeServerUnavailable, "no worker server reachable", nil)
	}
	return nil
}

// Work runs the worker's main loop until Terminate is called. pollTimeout
// bounds each iteration's blocking poll, so the loop can periodically
// re-attempt dropped connections.
func (w *Worker) Work(pollTimeout time.Duration) error {
	for !w.isTerminated() {
		if err := w.establishConnections(); err != nil {
			return err
		}
		w.manager.Poll(
			func() bool { return true },
			func() bool { return !w.isTerminated() },
			pollTimeout,
		)
	}
	w.drainAndClose()
	return nil
}

func (w *Worker) isTerminated() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.terminated
}

// Terminate stops the worker's main loop. In-flight jobs are given a
// chance to flush their results before sockets close.
func (w *Worker) Terminate() {
	w.mu.Lock()
	w.terminated = true
	w.mu.Unlock()
	_ = w.manager.Notify(ioloop.WakeTerminate)
}

func (w *Worker) drainAndClose() {
	if atomic.LoadInt32(&w.runningJobs) > 0 {
		w.mu.Lock()
		for _, wc := range w.conns {
			if wc.conn != nil {
				wc.conn.SetWriteOnly(true)
			}
		}
		w.mu.Unlock()

		deadline := time.Now().Add(2 * time.Second)
		for atomic.LoadInt32(&w.runningJobs) > 0 && time.Now().Before(deadline) {
			w.manager.Poll(nil, func() bool { return true }, 50*time.Millisecond)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, wc := range w.conns {
		if wc.conn != nil {
			_ = w.manager.RemoveConnection(wc.conn)
			_ = wc.conn.Close()
		}
	}
	_ = w.manager.Close()
}

// processJob runs fn against job, inline or on the bounded pool depending
// on configured concurrency, and reports the outcome.
func (w *Worker) processJob(fn WorkerFunc, job *WorkerJob) {
	atomic.AddInt32(&w.runningJobs, 1)

	run := func() {
		defer atomic.AddInt32(&w.runningJobs, -1)
		defer func() { _ = w.manager.Notify(ioloop.WakeRePrepare) }()

		result, err := fn(job)
		if err != nil {
			_ = job.sender.WorkFail(job.Handle)
			return
		}
		encoded, err := job.encoder.Encode(result)
		if err != nil {
			_ = job.sender.WorkFail(job.Handle)
			return
		}
		_ = job.sender.WorkComplete(job.Handle, encoded)
	}

	if w.pool == nil {
		run()
		return
	}
	w.pool.Spawn(run)
}

// workerCallbacks bridges one connection's ioloop.WorkerHandler events into
// this Worker's ability registry and pool.
type workerCallbacks struct {
	worker *Worker
	conn   *workerConn
}

func (cb *workerCallbacks) TryReserve() bool {
	if cb.worker.pool == nil {
		return true
	}
	return cb.worker.pool.Reserve()
}

func (cb *workerCallbacks) ReleaseReservation() {
	if cb.worker.pool != nil {
		cb.worker.pool.Release()
	}
}

func (cb *workerCallbacks) OnJobAssign(jobHandle, task, uniqueID string, data []byte) {
	w := cb.worker
	w.mu.Lock()
	fn, ok := w.abilities[task]
	w.mu.Unlock()

	if !ok {
		w.opts.log.Errorf("JOB_ASSIGN for unregistered task %q", task)
		cb.ReleaseReservation()
		_ = cb.conn.sender.WorkFail(jobHandle)
		return
	}

	decoded, err := w.opts.encoder.Decode(data)
	if err != nil {
		w.opts.log.Errorf("decode job payload for %s: %v", jobHandle, err)
		decoded = data
	}

	job := &WorkerJob{
		Task:    task,
		Unique:  uniqueID,
		Handle:  jobHandle,
		Data:    decoded,
		sender:  cb.conn.sender,
		encoder: w.opts.encoder,
	}
	w.processJob(fn, job)
}

func (cb *workerCallbacks) OnError(code, text string) {
	cb.worker.opts.log.Errorf("server ERROR %s: %s", code, text)
}
