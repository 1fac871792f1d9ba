package ioloop

import (
	"errors"
	"testing"

	"github.com/jasonmoo/cog/internal/gerr"
	"github.com/jasonmoo/cog/internal/logging"
	"github.com/jasonmoo/cog/internal/protocol"
)

type fakeClientCallbacks struct {
	created   []string
	status    []string
	complete  map[string][]byte
	failed    []string
	exception map[string][]byte
	data      map[string][]byte
	warning   map[string][]byte
	statusRes []string
	errors    []string
	ioErrors  int
}

func newFakeClientCallbacks() *fakeClientCallbacks {
	return &fakeClientCallbacks{
		complete:  map[string][]byte{},
		exception: map[string][]byte{},
		data:      map[string][]byte{},
		warning:   map[string][]byte{},
	}
}

func (f *fakeClientCallbacks) OnJobCreated(jobHandle string) { f.created = append(f.created, jobHandle) }
func (f *fakeClientCallbacks) OnWorkStatus(jobHandle string, numerator, denominator int) {
	f.status = append(f.status, jobHandle)
}
func (f *fakeClientCallbacks) OnWorkComplete(jobHandle string, data []byte) {
	f.complete[jobHandle] = data
}
func (f *fakeClientCallbacks) OnWorkFail(jobHandle string) { f.failed = append(f.failed, jobHandle) }
func (f *fakeClientCallbacks) OnWorkException(jobHandle string, data []byte) {
	f.exception[jobHandle] = data
}
func (f *fakeClientCallbacks) OnWorkData(jobHandle string, data []byte) { f.data[jobHandle] = data }
func (f *fakeClientCallbacks) OnWorkWarning(jobHandle string, data []byte) {
	f.warning[jobHandle] = data
}
func (f *fakeClientCallbacks) OnStatusRes(jobHandle string, known, running bool, numerator, denominator int) {
	f.statusRes = append(f.statusRes, jobHandle)
}
func (f *fakeClientCallbacks) OnError(code, text string) {
	f.errors = append(f.errors, code+": "+text)
}
func (f *fakeClientCallbacks) OnIOError() { f.ioErrors++ }

func newTestConn(handler Handler) *Conn {
	return NewConn("127.0.0.1", 0, handler, logging.NewNoop())
}

func TestClientHandlerDispatchesJobCreated(t *testing.T) {
	cb := newFakeClientCallbacks()
	h := NewClientHandler(cb)
	c := newTestConn(h)

	c.inQueue = append(c.inQueue, protocol.Command{
		Type: protocol.TypeJobCreated,
		Args: protocol.Args{"job_handle": []byte("H:1")},
	})

	if err := h.FetchCommands(c); err != nil {
		t.Fatalf("FetchCommands: %v", err)
	}
	if len(cb.created) != 1 || cb.created[0] != "H:1" {
		t.Fatalf("expected OnJobCreated(\"H:1\"), got %v", cb.created)
	}
}

func TestClientHandlerOnIOErrorForwardsToCallbacks(t *testing.T) {
	cb := newFakeClientCallbacks()
	h := NewClientHandler(cb)
	c := newTestConn(h)

	h.OnIOError(c)

	if cb.ioErrors != 1 {
		t.Fatalf("expected OnIOError called once, got %d", cb.ioErrors)
	}
}

func TestClientHandlerDispatchesWorkCompleteAndFail(t *testing.T) {
	cb := newFakeClientCallbacks()
	h := NewClientHandler(cb)
	c := newTestConn(h)

	c.inQueue = append(c.inQueue,
		protocol.Command{Type: protocol.TypeWorkComplete, Args: protocol.Args{"job_handle": []byte("H:1"), "data": []byte("ok")}},
		protocol.Command{Type: protocol.TypeWorkFail, Args: protocol.Args{"job_handle": []byte("H:2")}},
	)

	if err := h.FetchCommands(c); err != nil {
		t.Fatalf("FetchCommands: %v", err)
	}
	if string(cb.complete["H:1"]) != "ok" {
		t.Fatalf("expected WORK_COMPLETE payload %q, got %q", "ok", cb.complete["H:1"])
	}
	if len(cb.failed) != 1 || cb.failed[0] != "H:2" {
		t.Fatalf("expected OnWorkFail(\"H:2\"), got %v", cb.failed)
	}
}

func TestClientHandlerDispatchesStatusRes(t *testing.T) {
	cb := newFakeClientCallbacks()
	h := NewClientHandler(cb)
	c := newTestConn(h)

	c.inQueue = append(c.inQueue, protocol.Command{
		Type: protocol.TypeStatusRes,
		Args: protocol.Args{
			"job_handle":  []byte("H:1"),
			"known":       []byte("1"),
			"running":     []byte("1"),
			"numerator":   []byte("3"),
			"denominator": []byte("10"),
		},
	})

	if err := h.FetchCommands(c); err != nil {
		t.Fatalf("FetchCommands: %v", err)
	}
	if len(cb.statusRes) != 1 || cb.statusRes[0] != "H:1" {
		t.Fatalf("expected OnStatusRes(\"H:1\"), got %v", cb.statusRes)
	}
}

func TestClientHandlerSubmitJobPicksSubmitType(t *testing.T) {
	cb := newFakeClientCallbacks()
	h := NewClientHandler(cb)
	c := newTestConn(h)

	h.SubmitJob(c, true, protocol.PriorityHigh, "reverse", "u1", []byte("payload"))

	if len(c.outQueue) != 1 {
		t.Fatalf("expected one queued outbound command, got %d", len(c.outQueue))
	}
	cmd := c.outQueue[0]
	if cmd.Type != protocol.TypeSubmitJobHighBG {
		t.Fatalf("expected TypeSubmitJobHighBG for background+high, got %v", cmd.Type)
	}
	if string(cmd.Args["task"]) != "reverse" || string(cmd.Args["data"]) != "payload" {
		t.Fatalf("unexpected args: %+v", cmd.Args)
	}
}

func TestClientHandlerUnknownCommandRaisesUnknownCommandError(t *testing.T) {
	cb := newFakeClientCallbacks()
	h := NewClientHandler(cb)
	c := newTestConn(h)

	// NOOP is a worker-role command; the client's dispatch table has no
	// handler for it, so spec.md §4.5/§7 requires UnknownCommandError.
	c.inQueue = append(c.inQueue, protocol.Command{Type: protocol.TypeNoop, Args: protocol.Args{}})

	err := h.FetchCommands(c)
	if !errors.Is(err, gerr.ErrUnknownCommand) {
		t.Fatalf("expected gerr.ErrUnknownCommand, got: %v", err)
	}
}
