package mdb

// This file implements the MDB cashless-peripheral state machine as a pure
// transition table, mirroring the BFD-style design: ApplyEvent is a pure
// function of (current state, event) with no side effects, and callers
// execute the returned Actions. Unlike a protocol that silently drops
// unmatched events, the MDB bus demands exactly one reply per inbound
// frame, so a table miss here returns ActionReplyOutOfSequence rather than
// an empty action list.
//
// Some transitions depend on values only the orchestrator can supply
// (whether a card authenticated with credit, whether a vend slot still has
// credit). Those values are resolved by the engine *before* it calls
// ApplyEvent and carried on the Event itself (OpenSession, CreditAvailable)
// so the table lookup stays a pure function, the same way the BFD FSM takes
// a pre-decoded Event rather than reaching into a Session.

// EventKind identifies the class of input driving an FSM transition.
type EventKind uint8

const (
	// EventPoll is the recurring POLL command the master issues to request
	// a reply from the peripheral.
	EventPoll EventKind = iota

	// EventReset is the RESET command (0x10 0x10); valid in any state.
	EventReset

	// EventSetupConfig is SETUP CONFIG (0x11 0x00 ...); valid only in RESET and DISABLED.
	EventSetupConfig

	// EventMinMaxPrices is MIN/MAX PRICES (0x11 0x01 ...); valid only in RESET and DISABLED.
	EventMinMaxPrices

	// EventReaderEnable is READER ENABLE (0x14 0x01); valid only in RESET and DISABLED.
	EventReaderEnable

	// EventExtFeatures is EXT FEATURES (0x17 0x00 "SIE000"); valid only in RESET and DISABLED.
	EventExtFeatures

	// EventVendRequest is VEND REQUEST (0x13 0x00 ...); valid only in SESSION.IDLE.
	EventVendRequest

	// EventVendCancel is VEND CANCEL (0x13 0x01); valid in several session substates.
	EventVendCancel

	// EventVendSuccess is VEND SUCCESS (0x13 0x02 ...); valid only in SESSION.VEND_APPROVED.
	EventVendSuccess

	// EventSessionComplete is SESSION COMPLETE (0x13 0x04); valid in several session substates.
	EventSessionComplete

	// EventSessionTimeout is an internal event the engine injects when
	// SESSION.IDLE has been resident for more than 12s without a VEND_REQUEST.
	// It carries no wire bytes of its own.
	EventSessionTimeout
)

// Event is the pure-function input to ApplyEvent. Fields beyond Kind are
// only meaningful for the events that use them.
type Event struct {
	Kind EventKind

	// Slot is the vend slot number, valid for VendRequest and VendSuccess.
	Slot uint16

	// OpenSession is the orchestrator's open_session flag, sampled by the
	// engine on every POLL while in Enabled, then cleared.
	OpenSession bool

	// CreditAvailable is the result of the engine's credit_query(slot)
	// callback, sampled before a VendRequest event is built.
	CreditAvailable bool
}

// Action is a side-effect the caller must execute after a transition:
// either emitting a specific wire reply or invoking an orchestrator callback.
type Action uint8

const (
	// ActionReplyJustReset emits the bare-frame JUST_RESET payload (0x00).
	ActionReplyJustReset Action = iota + 1

	// ActionReplyAck emits the single-byte framing ACK (0x06), no data frame.
	ActionReplyAck

	// ActionReplySetupConfig emits the fixed SETUP CONFIG response payload.
	ActionReplySetupConfig

	// ActionReplyExtFeatures emits the fixed 30-byte EXT FEATURES response.
	ActionReplyExtFeatures

	// ActionReplyOpenSession emits OPEN_SESSION (0x03 0xFF 0xFF).
	ActionReplyOpenSession

	// ActionReplyVendApproved emits VEND_APPROVED (0x05 0xFF 0xFF).
	ActionReplyVendApproved

	// ActionReplyVendDenied emits DENIED (0x06 payload byte).
	ActionReplyVendDenied

	// ActionReplyCancel emits CANCEL (0x04).
	ActionReplyCancel

	// ActionReplyEndSession emits END_SESSION (0x07).
	ActionReplyEndSession

	// ActionReplyOutOfSequence emits OUT_OF_SEQUENCE (0x0B).
	ActionReplyOutOfSequence

	// ActionReplyDisplay emits a display frame built from the display queue
	// (or a state-appropriate default message if the queue is empty).
	ActionReplyDisplay

	// ActionDispenseAck invokes the orchestrator's dispense_ack(slot) callback.
	ActionDispenseAck
)

// String returns the human-readable action name used in logs.
func (a Action) String() string {
	switch a {
	case ActionReplyJustReset:
		return "ReplyJustReset"
	case ActionReplyAck:
		return "ReplyAck"
	case ActionReplySetupConfig:
		return "ReplySetupConfig"
	case ActionReplyExtFeatures:
		return "ReplyExtFeatures"
	case ActionReplyOpenSession:
		return "ReplyOpenSession"
	case ActionReplyVendApproved:
		return "ReplyVendApproved"
	case ActionReplyVendDenied:
		return "ReplyVendDenied"
	case ActionReplyCancel:
		return "ReplyCancel"
	case ActionReplyEndSession:
		return "ReplyEndSession"
	case ActionReplyOutOfSequence:
		return "ReplyOutOfSequence"
	case ActionReplyDisplay:
		return "ReplyDisplay"
	case ActionDispenseAck:
		return "DispenseAck"
	default:
		return "Unknown"
	}
}

// stateEvent is the FSM transition table key.
type stateEvent struct {
	state State
	kind  EventKind
}

// transition describes the resolved state and actions for a table entry.
// entries whose result depends on Event fields beyond Kind are handled by a
// resolver function instead of a static transition (see resolved()).
type transition struct {
	newState State
	actions  []Action
}

// FSMResult holds the outcome of applying an event.
type FSMResult struct {
	OldState State
	NewState State
	Actions  []Action
	Changed  bool
}

// staticTable holds transitions whose outcome does not depend on Event
// fields beyond Kind (Slot/OpenSession/CreditAvailable do not change them).
//
//nolint:gochecknoglobals // transition table is intentionally package-level.
var staticTable = map[stateEvent]transition{
	// RESET is accepted from every state and always lands in StateReset
	// with a bare ACK (MDB command vocabulary: "0x10 0x10 RESET: empty ACK; go to RESET").
	{StateReset, EventReset}:                {StateReset, []Action{ActionReplyAck}},
	{StateDisabled, EventReset}:             {StateReset, []Action{ActionReplyAck}},
	{StateEnabled, EventReset}:              {StateReset, []Action{ActionReplyAck}},
	{StateSessionIdle, EventReset}:          {StateReset, []Action{ActionReplyAck}},
	{StateSessionVendApproved, EventReset}:  {StateReset, []Action{ActionReplyAck}},
	{StateSessionVendCancel, EventReset}:    {StateReset, []Action{ActionReplyAck}},
	{StateSessionCancel, EventReset}:        {StateReset, []Action{ActionReplyAck}},
	{StateSessionEnd, EventReset}:           {StateReset, []Action{ActionReplyAck}},

	// POLL while RESET: JUST_RESET, then move to DISABLED awaiting configuration.
	{StateReset, EventPoll}: {StateDisabled, []Action{ActionReplyJustReset}},

	// Configuration commands, valid in RESET and DISABLED. In RESET they
	// leave the pending JUST_RESET in place; READER ENABLE leaves either.
	{StateReset, EventSetupConfig}:      {StateReset, []Action{ActionReplySetupConfig}},
	{StateReset, EventMinMaxPrices}:     {StateReset, []Action{ActionReplyAck}},
	{StateReset, EventExtFeatures}:      {StateReset, []Action{ActionReplyExtFeatures}},
	{StateReset, EventReaderEnable}:     {StateEnabled, []Action{ActionReplyAck}},
	{StateDisabled, EventSetupConfig}:   {StateDisabled, []Action{ActionReplySetupConfig}},
	{StateDisabled, EventMinMaxPrices}:  {StateDisabled, []Action{ActionReplyAck}},
	{StateDisabled, EventExtFeatures}:   {StateDisabled, []Action{ActionReplyExtFeatures}},
	{StateDisabled, EventReaderEnable}:  {StateEnabled, []Action{ActionReplyAck}},

	// POLL while DISABLED: nothing to report yet.
	{StateDisabled, EventPoll}: {StateDisabled, []Action{ActionReplyAck}},

	// SESSION.VEND_APPROVED: POLL is a bare ack while waiting for VEND_SUCCESS
	// or VEND_CANCEL from the host.
	{StateSessionVendApproved, EventPoll}: {StateSessionVendApproved, []Action{ActionReplyAck}},
	// A successful vend hands the session to SESSION.SESSION_CANCEL, the
	// same "no further vends this session" gate the idle timeout uses;
	// the next POLL (SESSION.SESSION_CANCEL's own row) closes it out.
	{StateSessionVendApproved, EventVendSuccess}: {
		StateSessionCancel,
		[]Action{ActionDispenseAck, ActionReplyAck},
	},
	{StateSessionVendApproved, EventVendCancel}: {StateSessionEnd, []Action{ActionReplyCancel}},

	// SESSION.VEND_CANCEL: POLL is a bare ack; VEND_CANCEL/SESSION_COMPLETE close the session.
	{StateSessionVendCancel, EventPoll}:             {StateSessionVendCancel, []Action{ActionReplyAck}},
	{StateSessionVendCancel, EventVendCancel}:       {StateSessionEnd, []Action{ActionReplyCancel}},
	{StateSessionVendCancel, EventSessionComplete}:  {StateSessionEnd, []Action{ActionReplyAck}},

	// SESSION.SESSION_CANCEL: reached via the chained timeout handling in
	// engine.go or after VEND_SUCCESS; its own POLL emits CANCEL and moves
	// on to SESSION_END.
	{StateSessionCancel, EventPoll}:             {StateSessionEnd, []Action{ActionReplyCancel}},
	{StateSessionCancel, EventSessionComplete}:  {StateSessionCancel, []Action{ActionReplyAck}},

	// SESSION.SESSION_END: POLL emits END_SESSION and returns to ENABLED.
	{StateSessionEnd, EventPoll}:             {StateEnabled, []Action{ActionReplyEndSession}},
	{StateSessionEnd, EventSessionComplete}:  {StateSessionEnd, []Action{ActionReplyAck}},

	// SESSION.IDLE: VEND_CANCEL/SESSION_COMPLETE without a preceding
	// VEND_REQUEST close the session directly.
	{StateSessionIdle, EventVendCancel}:       {StateSessionEnd, []Action{ActionReplyCancel}},
	{StateSessionIdle, EventSessionComplete}:  {StateSessionEnd, []Action{ActionReplyAck}},

	// The idle-timeout check (engine-evaluated) hands control straight to
	// SESSION.SESSION_CANCEL; no reply is produced for this internal event
	// itself, the chained POLL re-dispatch produces the CANCEL reply.
	{StateSessionIdle, EventSessionTimeout}: {StateSessionCancel, nil},
}

// ApplyEvent applies an event to the current state and returns the result.
// It is a pure function; the caller executes the returned Actions and, for
// data-carrying replies (display, vend decisions), consults the Event that
// produced this result.
//
// Table misses -- commands invalid for the current state -- yield
// ActionReplyOutOfSequence with the state unchanged, since every inbound
// MDB frame demands exactly one reply.
func ApplyEvent(currentState State, event Event) FSMResult {
	// ENABLED's POLL behaviour depends on the orchestrator's open_session
	// flag, so it is resolved here rather than as a static table entry.
	if currentState == StateEnabled && event.Kind == EventPoll {
		if event.OpenSession {
			return FSMResult{
				OldState: currentState,
				NewState: StateSessionIdle,
				Actions:  []Action{ActionReplyOpenSession},
				Changed:  true,
			}
		}
		return FSMResult{
			OldState: currentState,
			NewState: StateEnabled,
			Actions:  []Action{ActionReplyDisplay},
			Changed:  false,
		}
	}
	// SESSION.IDLE's POLL behaviour (absent an already-detected timeout,
	// which the engine routes through EventSessionTimeout before retrying
	// with EventPoll) just re-emits the periodic in-session display.
	if currentState == StateSessionIdle && event.Kind == EventPoll {
		return FSMResult{
			OldState: currentState,
			NewState: StateSessionIdle,
			Actions:  []Action{ActionReplyDisplay},
			Changed:  false,
		}
	}

	// SESSION.IDLE's VEND_REQUEST depends on the credit_query result the
	// engine has already sampled onto the event.
	if currentState == StateSessionIdle && event.Kind == EventVendRequest {
		if event.CreditAvailable {
			return FSMResult{
				OldState: currentState,
				NewState: StateSessionVendApproved,
				Actions:  []Action{ActionReplyVendApproved},
				Changed:  true,
			}
		}
		return FSMResult{
			OldState: currentState,
			NewState: StateSessionVendCancel,
			Actions:  []Action{ActionReplyVendDenied},
			Changed:  true,
		}
	}

	key := stateEvent{state: currentState, kind: event.Kind}
	tr, ok := staticTable[key]
	if !ok {
		return FSMResult{
			OldState: currentState,
			NewState: currentState,
			Actions:  []Action{ActionReplyOutOfSequence},
			Changed:  false,
		}
	}

	return FSMResult{
		OldState: currentState,
		NewState: tr.newState,
		Actions:  tr.actions,
		Changed:  currentState != tr.newState,
	}
}
