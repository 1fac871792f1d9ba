package ioloop

import "github.com/jasonmoo/cog/internal/protocol"

// WorkerCallbacks bridges wire-level job assignment into the worker's pool
// bookkeeping (spec.md §4.7). TryReserve/ReleaseReservation let the
// handler's NOOP/NO_JOB/ERROR transitions consult the bounded worker pool
// without this package depending on it directly.
type WorkerCallbacks interface {
	TryReserve() bool
	ReleaseReservation()
	OnJobAssign(jobHandle, task, uniqueID string, data []byte)
	OnError(code, text string)
}

// WorkerHandler is the worker-role connection state machine. Initial state
// is SLEEP (neither grabbing nor waiting). It tracks the grab/sleep cycle
// of spec.md §4.7:
//
//   - SLEEP, reservation available on NOOP: _grabbing=true, send
//     GRAB_JOB_UNIQ, state -> AWAITING_JOB.
//   - SLEEP, no reservation available on NOOP: _waiting=true, stays SLEEP;
//     Prepare() retries once a slot frees up.
//   - AWAITING_JOB on NO_JOB: release the reservation, send PRE_SLEEP,
//     back to SLEEP.
//   - AWAITING_JOB on JOB_ASSIGN(_UNIQ): hand off to the callback (which
//     owns converting the reservation into a running pool slot), send
//     PRE_SLEEP, back to SLEEP.
type WorkerHandler struct {
	cb    WorkerCallbacks
	table dispatchTable

	grabbing bool
	waiting  bool
}

func NewWorkerHandler(cb WorkerCallbacks) *WorkerHandler {
	h := &WorkerHandler{cb: cb}
	h.table = dispatchTable{
		protocol.TypeNoop:          h.recvNoop,
		protocol.TypeNoJob:         h.recvNoJob,
		protocol.TypeJobAssign:     h.recvJobAssign,
		protocol.TypeJobAssignUniq: h.recvJobAssignUniq,
		protocol.TypeError:         h.recvError,
	}
	return h
}

func (h *WorkerHandler) FetchCommands(c *Conn) error { return fetchCommands(c, h.table) }

func (h *WorkerHandler) OnIOError(c *Conn) {
	if h.grabbing {
		h.cb.ReleaseReservation()
	}
	h.grabbing, h.waiting = false, false
}

// OnConnected resets local state; the caller is expected to follow up with
// RegisterAbility/SetClientID calls and then Sleep to enter the sleep
// cycle, matching spec.md §4.7's set_state startup order.
func (h *WorkerHandler) OnConnected(c *Conn) error {
	h.grabbing, h.waiting = false, false
	return nil
}

// RegisterAbility sends CAN_DO for task.
func (h *WorkerHandler) RegisterAbility(c *Conn, task string) {
	c.SendCommand(protocol.TypeCanDo, protocol.Args{"task": []byte(task)})
}

// UnregisterAbility sends CANT_DO for task.
func (h *WorkerHandler) UnregisterAbility(c *Conn, task string) {
	c.SendCommand(protocol.TypeCantDo, protocol.Args{"task": []byte(task)})
}

// ResetAbilities clears every registered CAN_DO on the server side.
func (h *WorkerHandler) ResetAbilities(c *Conn) {
	c.SendCommand(protocol.TypeResetAbilities, protocol.Args{})
}

// SetClientID sends SET_CLIENT_ID.
func (h *WorkerHandler) SetClientID(c *Conn, id string) {
	if id == "" {
		return
	}
	c.SendCommand(protocol.TypeSetClientID, protocol.Args{"client_id": []byte(id)})
}

// Sleep sends PRE_SLEEP to enter the sleep cycle.
func (h *WorkerHandler) Sleep(c *Conn) {
	c.SendCommand(protocol.TypePreSleep, protocol.Args{})
}

// Prepare is invoked when the manager receives a WakeRePrepare byte (a
// pool slot just freed up): if this connection was stuck unable to
// reserve, retry now.
func (h *WorkerHandler) Prepare(c *Conn) {
	if !h.waiting {
		return
	}
	h.waiting = false
	h.Sleep(c)
}

func (h *WorkerHandler) recvNoop(c *Conn, args protocol.Args) error {
	if h.grabbing {
		return nil
	}
	if h.cb.TryReserve() {
		h.grabbing = true
		c.SendCommand(protocol.TypeGrabJobUniq, protocol.Args{})
	} else {
		h.waiting = true
	}
	return nil
}

func (h *WorkerHandler) recvNoJob(c *Conn, args protocol.Args) error {
	h.grabbing = false
	h.cb.ReleaseReservation()
	h.Sleep(c)
	return nil
}

func (h *WorkerHandler) recvJobAssign(c *Conn, args protocol.Args) error {
	h.grabbing = false
	h.cb.OnJobAssign(string(args["job_handle"]), string(args["task"]), "", args["data"])
	h.Sleep(c)
	return nil
}

func (h *WorkerHandler) recvJobAssignUniq(c *Conn, args protocol.Args) error {
	h.grabbing = false
	h.cb.OnJobAssign(string(args["job_handle"]), string(args["task"]), string(args["unique"]), args["data"])
	h.Sleep(c)
	return nil
}

func (h *WorkerHandler) recvError(c *Conn, args protocol.Args) error {
	if h.grabbing {
		h.cb.ReleaseReservation()
	}
	h.grabbing, h.waiting = false, false
	h.cb.OnError(string(args["error_code"]), string(args["error_text"]))
	return nil
}
