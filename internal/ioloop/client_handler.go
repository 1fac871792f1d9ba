package ioloop

import (
	"strconv"

	"github.com/jasonmoo/cog/internal/protocol"
)

// ClientCallbacks bridges wire-level client replies into the caller's job
// bookkeeping without ioloop depending on the job-request types that live
// above it (avoids the import cycle described in the design notes: cog
// imports ioloop, not the reverse).
type ClientCallbacks interface {
	OnJobCreated(jobHandle string)
	OnWorkStatus(jobHandle string, numerator, denominator int)
	OnWorkComplete(jobHandle string, data []byte)
	OnWorkFail(jobHandle string)
	OnWorkException(jobHandle string, data []byte)
	OnWorkData(jobHandle string, data []byte)
	OnWorkWarning(jobHandle string, data []byte)
	OnStatusRes(jobHandle string, known, running bool, numerator, denominator int)
	OnError(code, text string)
	// OnIOError is called when the connection carrying this handler is
	// about to be closed after an unexpected failure (spec.md §4.6's
	// on_io_error: every pending/handle-bound request must be reset so
	// the client can retry on another server).
	OnIOError()
}

// ClientHandler is the client-role connection state machine of spec.md
// §4.5: it only ever receives replies to commands the client side itself
// issued (submit_job*, get_status, echo), so its dispatch table is a pure
// receive side with no sleep/grab cycle.
type ClientHandler struct {
	cb    ClientCallbacks
	table dispatchTable
}

func NewClientHandler(cb ClientCallbacks) *ClientHandler {
	h := &ClientHandler{cb: cb}
	h.table = dispatchTable{
		protocol.TypeJobCreated:    h.recvJobCreated,
		protocol.TypeWorkStatus:    h.recvWorkStatus,
		protocol.TypeWorkComplete:  h.recvWorkComplete,
		protocol.TypeWorkFail:      h.recvWorkFail,
		protocol.TypeWorkException: h.recvWorkException,
		protocol.TypeWorkData:      h.recvWorkData,
		protocol.TypeWorkWarning:   h.recvWorkWarning,
		protocol.TypeStatusRes:     h.recvStatusRes,
		protocol.TypeError:         h.recvError,
		protocol.TypeEchoRes:       h.recvEchoRes,
	}
	return h
}

func (h *ClientHandler) FetchCommands(c *Conn) error { return fetchCommands(c, h.table) }
func (h *ClientHandler) OnIOError(c *Conn)           { h.cb.OnIOError() }
func (h *ClientHandler) OnConnected(c *Conn) error   { return nil }

func (h *ClientHandler) recvJobCreated(c *Conn, args protocol.Args) error {
	h.cb.OnJobCreated(string(args["job_handle"]))
	return nil
}

func (h *ClientHandler) recvWorkStatus(c *Conn, args protocol.Args) error {
	num, _ := strconv.Atoi(string(args["numerator"]))
	den, _ := strconv.Atoi(string(args["denominator"]))
	h.cb.OnWorkStatus(string(args["job_handle"]), num, den)
	return nil
}

func (h *ClientHandler) recvWorkComplete(c *Conn, args protocol.Args) error {
	h.cb.OnWorkComplete(string(args["job_handle"]), args["data"])
	return nil
}

func (h *ClientHandler) recvWorkFail(c *Conn, args protocol.Args) error {
	h.cb.OnWorkFail(string(args["job_handle"]))
	return nil
}

func (h *ClientHandler) recvWorkException(c *Conn, args protocol.Args) error {
	h.cb.OnWorkException(string(args["job_handle"]), args["data"])
	return nil
}

func (h *ClientHandler) recvWorkData(c *Conn, args protocol.Args) error {
	h.cb.OnWorkData(string(args["job_handle"]), args["data"])
	return nil
}

func (h *ClientHandler) recvWorkWarning(c *Conn, args protocol.Args) error {
	h.cb.OnWorkWarning(string(args["job_handle"]), args["data"])
	return nil
}

func (h *ClientHandler) recvStatusRes(c *Conn, args protocol.Args) error {
	known := string(args["known"]) == "1"
	running := string(args["running"]) == "1"
	num, _ := strconv.Atoi(string(args["numerator"]))
	den, _ := strconv.Atoi(string(args["denominator"]))
	h.cb.OnStatusRes(string(args["job_handle"]), known, running, num, den)
	return nil
}

func (h *ClientHandler) recvError(c *Conn, args protocol.Args) error {
	h.cb.OnError(string(args["error_code"]), string(args["error_text"]))
	return nil
}

func (h *ClientHandler) recvEchoRes(c *Conn, args protocol.Args) error {
	return nil
}

// SubmitJob frames and enqueues a SUBMIT_JOB* request (spec.md §4.6's
// six-way background/priority dispatch).
func (h *ClientHandler) SubmitJob(c *Conn, background bool, priority protocol.Priority, task, unique string, data []byte) {
	typ := protocol.SubmitType(background, priority)
	c.SendCommand(typ, protocol.Args{
		"task":   []byte(task),
		"unique": []byte(unique),
		"data":   data,
	})
}

// GetStatus requests a STATUS_RES for jobHandle.
func (h *ClientHandler) GetStatus(c *Conn, jobHandle string) {
	c.SendCommand(protocol.TypeGetStatus, protocol.Args{"job_handle": []byte(jobHandle)})
}
