package mdb

import "testing"

func TestApplyEvent_ColdStartToEnabled(t *testing.T) {
	state := StateReset

	r := ApplyEvent(state, Event{Kind: EventPoll})
	if r.NewState != StateDisabled || len(r.Actions) != 1 || r.Actions[0] != ActionReplyJustReset {
		t.Fatalf("reset poll: got %+v", r)
	}
	state = r.NewState

	r = ApplyEvent(state, Event{Kind: EventReset})
	if r.NewState != StateReset || r.Actions[0] != ActionReplyAck {
		t.Fatalf("reset cmd: got %+v", r)
	}

	r = ApplyEvent(StateDisabled, Event{Kind: EventSetupConfig})
	if r.NewState != StateDisabled || r.Actions[0] != ActionReplySetupConfig {
		t.Fatalf("setup config: got %+v", r)
	}

	r = ApplyEvent(StateDisabled, Event{Kind: EventReaderEnable})
	if r.NewState != StateEnabled || r.Actions[0] != ActionReplyAck || !r.Changed {
		t.Fatalf("reader enable: got %+v", r)
	}
}

func TestApplyEvent_HappyPathVend(t *testing.T) {
	r := ApplyEvent(StateEnabled, Event{Kind: EventPoll, OpenSession: true})
	if r.NewState != StateSessionIdle || r.Actions[0] != ActionReplyOpenSession {
		t.Fatalf("open session: got %+v", r)
	}

	r = ApplyEvent(StateSessionIdle, Event{Kind: EventVendRequest, Slot: 4, CreditAvailable: true})
	if r.NewState != StateSessionVendApproved || r.Actions[0] != ActionReplyVendApproved {
		t.Fatalf("vend approved: got %+v", r)
	}

	r = ApplyEvent(StateSessionVendApproved, Event{Kind: EventVendSuccess, Slot: 4})
	if r.NewState != StateSessionCancel {
		t.Fatalf("vend success: got %+v", r)
	}
	found := false
	for _, a := range r.Actions {
		if a == ActionDispenseAck {
			found = true
		}
	}
	if !found {
		t.Fatalf("vend success missing dispense ack action: %+v", r.Actions)
	}
}

func TestApplyEvent_DeniedVend(t *testing.T) {
	r := ApplyEvent(StateSessionIdle, Event{Kind: EventVendRequest, Slot: 1, CreditAvailable: false})
	if r.NewState != StateSessionVendCancel || r.Actions[0] != ActionReplyVendDenied {
		t.Fatalf("denied vend: got %+v", r)
	}

	r = ApplyEvent(StateSessionVendCancel, Event{Kind: EventPoll})
	if r.NewState != StateSessionVendCancel || r.Actions[0] != ActionReplyAck {
		t.Fatalf("vend cancel poll: got %+v", r)
	}
}

func TestApplyEvent_SessionTimeoutChain(t *testing.T) {
	r1 := ApplyEvent(StateSessionIdle, Event{Kind: EventSessionTimeout})
	if r1.NewState != StateSessionCancel || len(r1.Actions) != 0 {
		t.Fatalf("timeout hop: got %+v", r1)
	}

	r2 := ApplyEvent(r1.NewState, Event{Kind: EventPoll})
	if r2.NewState != StateSessionEnd || r2.Actions[0] != ActionReplyCancel {
		t.Fatalf("cancel poll: got %+v", r2)
	}

	r3 := ApplyEvent(r2.NewState, Event{Kind: EventPoll})
	if r3.NewState != StateEnabled || r3.Actions[0] != ActionReplyEndSession {
		t.Fatalf("end session poll: got %+v", r3)
	}
}

func TestApplyEvent_UnrecognisedYieldsOutOfSequence(t *testing.T) {
	r := ApplyEvent(StateEnabled, Event{Kind: EventVendRequest, Slot: 1})
	if r.Changed {
		t.Fatalf("expected unchanged state, got %+v", r)
	}
	if len(r.Actions) != 1 || r.Actions[0] != ActionReplyOutOfSequence {
		t.Fatalf("expected out-of-sequence reply, got %+v", r.Actions)
	}
}

func TestApplyEvent_ResetFromAnyState(t *testing.T) {
	states := []State{
		StateReset, StateDisabled, StateEnabled, StateSessionIdle,
		StateSessionVendApproved, StateSessionVendCancel, StateSessionCancel, StateSessionEnd,
	}
	for _, s := range states {
		r := ApplyEvent(s, Event{Kind: EventReset})
		if r.NewState != StateReset {
			t.Errorf("state %s: RESET did not land in StateReset, got %s", s, r.NewState)
		}
		if len(r.Actions) != 1 || r.Actions[0] != ActionReplyAck {
			t.Errorf("state %s: RESET reply was %+v, want bare ACK", s, r.Actions)
		}
	}
}
