package ioloop

import (
	"strconv"
	"strings"

	"github.com/jasonmoo/cog/internal/gerr"
	"github.com/jasonmoo/cog/internal/protocol"
)

// AdminCallbacks delivers parsed admin responses back to the façade that
// issued the matching request.
type AdminCallbacks interface {
	OnStatus(rows []protocol.StatusRow)
	OnWorkers(rows []protocol.WorkerRow)
	OnVersion(version string)
	OnMaxQueue()
	OnShutdown()
	OnEcho(data []byte)
	OnError(err error)
}

// adminRequest is one outstanding admin command, queued FIFO since the
// admin text protocol has no request ID to match replies against (spec.md
// §4.8: "one request in flight at a time").
type adminRequest struct {
	command string
	lines   []string // accumulated multi-line response so far
}

// AdminHandler is the admin-role connection state machine of spec.md
// §4.8/§5.E: it speaks the line-oriented text protocol rather than binary
// frames, dispatched through the same Conn via TypeTextCommand.
type AdminHandler struct {
	cb      AdminCallbacks
	pending []adminRequest
}

func NewAdminHandler(cb AdminCallbacks) *AdminHandler {
	return &AdminHandler{cb: cb}
}

func (h *AdminHandler) OnIOError(c *Conn)         { h.pending = nil }
func (h *AdminHandler) OnConnected(c *Conn) error { return nil }

// send issues an admin request line and queues it awaiting a reply.
// SendCommandsToBuffer appends the line's trailing '\n' itself
// (conn.go), so the line queued here must be bare.
func (h *AdminHandler) send(c *Conn, name string, args ...string) {
	h.pending = append(h.pending, adminRequest{command: name})
	c.SendText(strings.Join(append([]string{name}, args...), " "))
}

func (h *AdminHandler) Status(c *Conn)  { h.send(c, protocol.TextStatus) }
func (h *AdminHandler) Workers(c *Conn) { h.send(c, protocol.TextWorkers) }
func (h *AdminHandler) Version(c *Conn) { h.send(c, protocol.TextVersion) }

func (h *AdminHandler) MaxQueue(c *Conn, task string, n int) {
	h.send(c, protocol.TextMaxQueue, task, strconv.Itoa(n))
}

func (h *AdminHandler) Shutdown(c *Conn, graceful bool) {
	if graceful {
		h.send(c, protocol.TextShutdown, "graceful")
	} else {
		h.send(c, protocol.TextShutdown)
	}
}

// Echo issues a binary ECHO_REQ, the one admin request that rides the
// binary framer instead of the text protocol (spec.md §4.8).
func (h *AdminHandler) Echo(c *Conn, data []byte) {
	c.SendCommand(protocol.TypeEchoReq, protocol.Args{"data": data})
}

// FetchCommands drains text lines off c, feeding each to the oldest
// pending request until that request's response is complete.
func (h *AdminHandler) FetchCommands(c *Conn) error {
	for {
		cmd, ok := c.ReadCommand()
		if !ok {
			return nil
		}
		switch cmd.Type {
		case protocol.TypeTextCommand:
			if err := h.handleLine(string(cmd.Args["line"])); err != nil {
				h.cb.OnError(err)
				return err
			}
		case protocol.TypeEchoRes:
			h.cb.OnEcho(cmd.Args["data"])
		}
	}
}

func (h *AdminHandler) handleLine(line string) error {
	if len(h.pending) == 0 {
		return gerr.New(gerr.CodeProtocol, "admin response with no pending request: "+line, nil)
	}
	req := &h.pending[0]

	switch req.command {
	case protocol.TextStatus, protocol.TextWorkers:
		if line == protocol.TextTerminator {
			h.deliver(*req)
			h.pending = h.pending[1:]
			return nil
		}
		req.lines = append(req.lines, line)
		return nil
	default:
		req.lines = append(req.lines, line)
		h.deliver(*req)
		h.pending = h.pending[1:]
		return nil
	}
}

func (h *AdminHandler) deliver(req adminRequest) {
	switch req.command {
	case protocol.TextStatus:
		rows := make([]protocol.StatusRow, 0, len(req.lines))
		for _, l := range req.lines {
			row, err := protocol.ParseStatusLine(l)
			if err != nil {
				h.cb.OnError(gerr.New(gerr.CodeProtocol, "parse status", err))
				continue
			}
			rows = append(rows, row)
		}
		h.cb.OnStatus(rows)
	case protocol.TextWorkers:
		rows := make([]protocol.WorkerRow, 0, len(req.lines))
		for _, l := range req.lines {
			row, err := protocol.ParseWorkersLine(l)
			if err != nil {
				h.cb.OnError(gerr.New(gerr.CodeProtocol, "parse workers", err))
				continue
			}
			rows = append(rows, row)
		}
		h.cb.OnWorkers(rows)
	case protocol.TextVersion:
		if len(req.lines) > 0 {
			h.cb.OnVersion(req.lines[0])
		}
	case protocol.TextMaxQueue:
		h.cb.OnMaxQueue()
	case protocol.TextShutdown:
		h.cb.OnShutdown()
	}
}
