package cog

import "testing"

func TestJobRequestCompleteForegroundRequiresComplete(t *testing.T) {
	r := &JobRequest{Background: false}

	r.State = StateCreated
	if r.Complete() {
		t.Fatal("expected a foreground request at StateCreated to not be Complete")
	}

	r.State = StateComplete
	if !r.Complete() {
		t.Fatal("expected a foreground request at StateComplete to be Complete")
	}
}

func TestJobRequestCompleteBackgroundIsDoneAtCreated(t *testing.T) {
	r := &JobRequest{Background: true}

	r.State = StateCreated
	if !r.Complete() {
		t.Fatal("expected a background request at StateCreated to be Complete")
	}

	r.State = StateFailed
	if r.Complete() {
		t.Fatal("expected a background request that later observes StateFailed to not be reported Complete")
	}
}

func TestJobRequestDoneCoversFailedAndTimedOut(t *testing.T) {
	r := &JobRequest{Background: false}

	r.State = StatePending
	if r.Done() {
		t.Fatal("expected a pending request to not be Done")
	}

	r.State = StateFailed
	if !r.Done() {
		t.Fatal("expected a failed request to be Done")
	}

	r2 := &JobRequest{Background: false, State: StatePending, TimedOut: true}
	if !r2.Done() {
		t.Fatal("expected TimedOut to make a request Done regardless of State")
	}
}

func TestJobRequestDoneBackgroundTerminalStates(t *testing.T) {
	r := &JobRequest{Background: true}

	r.State = StatePending
	if r.Done() {
		t.Fatal("expected a pending background request to not be Done")
	}

	r.State = StateCreated
	if !r.Done() {
		t.Fatal("expected a created background request to be Done")
	}
}

func TestRequestStateString(t *testing.T) {
	cases := map[RequestState]string{
		StateUnknown:   "unknown",
		StatePending:   "pending",
		StateCreated:   "created",
		StateComplete:  "complete",
		StateFailed:    "failed",
		RequestState(99): "invalid",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("state %d: expected %q, got %q", state, want, got)
		}
	}
}
