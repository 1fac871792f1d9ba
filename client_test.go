package cog

import (
	"testing"

	"github.com/jasonmoo/cog/internal/logging"
)

func TestNormalizeAddrsAddsDefaultPort(t *testing.T) {
	got := normalizeAddrs([]string{"gearmand.internal", "10.0.0.1:1234"})
	want := []string{"gearmand.internal:4730", "10.0.0.1:1234"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestSplitAddrParsesHostAndPort(t *testing.T) {
	host, port := splitAddr("10.0.0.1:1234")
	if host != "10.0.0.1" || port != 1234 {
		t.Fatalf("expected (10.0.0.1, 1234), got (%s, %d)", host, port)
	}
}

func TestSplitAddrFallsBackToDefaultPort(t *testing.T) {
	host, port := splitAddr("gearmand.internal")
	if host != "gearmand.internal" || port != defaultPort {
		t.Fatalf("expected (gearmand.internal, %d), got (%s, %d)", defaultPort, host, port)
	}
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient([]string{"127.0.0.1:0"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewRequestGeneratesUniqueKeyWhenEmpty(t *testing.T) {
	c := newTestClient(t)
	defer c.manager.Close()

	r := c.newRequest("reverse", "", []byte("payload"), NormalPriority, false)
	if r.Job.Unique == "" {
		t.Fatal("expected a generated unique key")
	}
	if r.State != StateUnknown {
		t.Fatalf("expected new request to start StateUnknown, got %v", r.State)
	}
}

func TestNewRequestKeepsCallerSuppliedUnique(t *testing.T) {
	c := newTestClient(t)
	defer c.manager.Close()

	r := c.newRequest("reverse", "caller-key", nil, HighPriority, true)
	if r.Job.Unique != "caller-key" {
		t.Fatalf("expected unique %q, got %q", "caller-key", r.Job.Unique)
	}
	if !r.Background || r.Priority != HighPriority {
		t.Fatalf("expected background=true priority=high, got background=%v priority=%v", r.Background, r.Priority)
	}
}

func newTestClientCallbacks() *clientCallbacks {
	return &clientCallbacks{
		encoder:  DefaultEncoder(),
		log:      logging.NewNoop(),
		byHandle: make(map[string]*JobRequest),
	}
}

func TestClientCallbacksJobCreatedMatchesFIFOOrder(t *testing.T) {
	cb := newTestClientCallbacks()
	r1 := &JobRequest{Job: Job{Task: "a"}}
	r2 := &JobRequest{Job: Job{Task: "b"}}
	cb.pending = []*JobRequest{r1, r2}

	cb.OnJobCreated("H:1")
	if r1.Job.Handle != "H:1" || r1.State != StateCreated {
		t.Fatalf("expected r1 to get handle H:1, got handle=%q state=%v", r1.Job.Handle, r1.State)
	}
	if len(cb.pending) != 1 || cb.pending[0] != r2 {
		t.Fatal("expected r1 popped off the pending FIFO")
	}

	cb.OnJobCreated("H:2")
	if r2.Job.Handle != "H:2" {
		t.Fatalf("expected r2 to get handle H:2, got %q", r2.Job.Handle)
	}
	if len(cb.byHandle) != 2 {
		t.Fatalf("expected both requests indexed by handle, got %d", len(cb.byHandle))
	}
}

func TestClientCallbacksWorkCompleteUpdatesResultAndClearsIndex(t *testing.T) {
	cb := newTestClientCallbacks()
	r := &JobRequest{Job: Job{Handle: "H:1"}, State: StateCreated}
	cb.byHandle["H:1"] = r

	cb.OnWorkComplete("H:1", []byte("done"))

	if string(r.Result) != "done" || r.State != StateComplete {
		t.Fatalf("expected result=done state=complete, got result=%q state=%v", r.Result, r.State)
	}
	if _, ok := cb.byHandle["H:1"]; ok {
		t.Fatal("expected handle removed from index after WORK_COMPLETE")
	}
}

func TestClientCallbacksWorkFailSetsStateFailed(t *testing.T) {
	cb := newTestClientCallbacks()
	r := &JobRequest{Job: Job{Handle: "H:1"}, State: StateCreated}
	cb.byHandle["H:1"] = r

	cb.OnWorkFail("H:1")

	if r.State != StateFailed {
		t.Fatalf("expected StateFailed, got %v", r.State)
	}
	if _, ok := cb.byHandle["H:1"]; ok {
		t.Fatal("expected handle removed from index after WORK_FAIL")
	}
}

func TestClientCallbacksUnknownHandleIsIgnored(t *testing.T) {
	cb := newTestClientCallbacks()
	// Should not panic even though nothing is tracking this handle.
	cb.OnWorkComplete("ghost", []byte("data"))
	cb.OnWorkFail("ghost")
	cb.OnWorkStatus("ghost", 1, 2)
}

func TestClientCallbacksOnIOErrorResetsPendingAndBoundRequests(t *testing.T) {
	cb := newTestClientCallbacks()
	pending := &JobRequest{Job: Job{Task: "a"}, State: StatePending}
	bound := &JobRequest{Job: Job{Task: "b", Handle: "H:1"}, State: StateCreated}
	cb.pending = []*JobRequest{pending}
	cb.byHandle["H:1"] = bound

	cb.OnIOError()

	if pending.State != StateUnknown {
		t.Fatalf("expected pending request reset to StateUnknown, got %v", pending.State)
	}
	if bound.State != StateUnknown || bound.Job.Handle != "" {
		t.Fatalf("expected bound request reset to StateUnknown with cleared handle, got state=%v handle=%q", bound.State, bound.Job.Handle)
	}
	if len(cb.pending) != 0 {
		t.Fatalf("expected pending FIFO cleared, got %d entries", len(cb.pending))
	}
	if len(cb.byHandle) != 0 {
		t.Fatalf("expected handle index cleared, got %d entries", len(cb.byHandle))
	}
}

func TestClientCallbacksStatusResUnknownDropsIndex(t *testing.T) {
	cb := newTestClientCallbacks()
	r := &JobRequest{Job: Job{Handle: "H:1"}}
	cb.byHandle["H:1"] = r

	cb.OnStatusRes("H:1", false, false, 0, 0)

	if r.Status.Known {
		t.Fatal("expected Status.Known=false to be recorded")
	}
	if _, ok := cb.byHandle["H:1"]; ok {
		t.Fatal("expected handle removed from index once the server reports it unknown")
	}
}
