package mdb

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync/atomic"
	"time"
)

// readTimeout bounds every individual serial read so the engine's loop
// never blocks longer than this before re-checking for shutdown (§4.1/§5).
const readTimeout = 100 * time.Millisecond

// sessionIdleTimeout is the SESSION.IDLE inactivity bound (§4.1).
const sessionIdleTimeout = 12 * time.Second

// CreditQueryFunc answers "how much credit remains for this slot", invoked
// on the engine's own goroutine. It must not block (§9 design notes mirror
// the BFD callback contract: synchronous, decoupled, no reentrant calls
// back into the engine).
type CreditQueryFunc func(slot uint16) uint32

// DispenseAckFunc notifies the orchestrator that a vend completed. It must
// not block, for the same reason as CreditQueryFunc.
type DispenseAckFunc func(slot uint16)

// MetricsReporter receives engine-observed events. A nil MetricsReporter
// disables metrics without branching at every call site (see noopMetrics).
type MetricsReporter interface {
	ObservePoll()
	ObserveStateChange(from, to State)
	ObserveVendApproved()
	ObserveVendDenied()
	ObserveSerialError()
}

type noopMetrics struct{}

func (noopMetrics) ObservePoll()               {}
func (noopMetrics) ObserveStateChange(_, _ State) {}
func (noopMetrics) ObserveVendApproved()        {}
func (noopMetrics) ObserveVendDenied()          {}
func (noopMetrics) ObserveSerialError()         {}

// Port is the transport the engine drives; see internal/serialport.Port.
type Port interface {
	Read([]byte) (int, error)
	Write([]byte) (int, error)
	Close() error
	SetReadDeadline(t time.Time) error
}

// Engine implements the MDB cashless-peripheral state machine on a single
// goroutine, the same structural shape as the reference BFD session loop:
// one owning goroutine, atomics for cross-goroutine reads, a pure FSM
// consulted on every input, and side effects executed by the caller.
type Engine struct {
	port   Port
	reader *FrameReader
	writer *FrameWriter

	state State

	openSession atomic.Bool
	sessionSet  time.Time

	display *displayQueue

	creditQuery CreditQueryFunc
	dispenseAck DispenseAckFunc

	logger  *slog.Logger
	metrics MetricsReporter

	sessionEnd func()

	stopping atomic.Bool
	done     chan struct{}
}

// EngineOption configures optional Engine behaviour.
type EngineOption func(*Engine)

// WithMetrics attaches a MetricsReporter; without it, metrics are no-ops.
func WithMetrics(m MetricsReporter) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithSessionEndCallback registers a callback invoked once the engine emits
// END_SESSION (SESSION.SESSION_END -> ENABLED), so the orchestrator can
// clear its Session. The engine does not expose session boundaries as a
// return value, so this mirrors CreditQuery/DispenseAck as a third,
// narrower callback rather than widening Run's return type.
func WithSessionEndCallback(fn func()) EngineOption {
	return func(e *Engine) { e.sessionEnd = fn }
}

// NewEngine constructs an Engine bound to port, with callbacks supplied by
// the orchestrator. The engine starts in StateReset.
func NewEngine(port Port, logger *slog.Logger, creditQuery CreditQueryFunc, dispenseAck DispenseAckFunc, opts ...EngineOption) *Engine {
	e := &Engine{
		port:        port,
		reader:      NewFrameReader(port),
		writer:      NewFrameWriter(port),
		state:       StateReset,
		display:     newDisplayQueue(),
		creditQuery: creditQuery,
		dispenseAck: dispenseAck,
		logger:      logger,
		metrics:     noopMetrics{},
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OpenSession sets the open_session flag the orchestrator uses to signal a
// successful auth; the engine samples and clears it on the next POLL while
// in StateEnabled (§5: single-writer/single-reader atomic boolean).
func (e *Engine) OpenSession() {
	e.openSession.Store(true)
}

// PushDisplay enqueues a display request for the next POLL (§4.1, §5).
func (e *Engine) PushDisplay(req DisplayRequest) {
	e.display.push(req)
}

// State returns the engine's current protocol state. Safe to call from any
// goroutine for diagnostics; it is not synchronised against concurrent
// transitions, so treat it as a recent snapshot.
func (e *Engine) State() State {
	return e.state
}

// Run drives the engine's read/dispatch loop until ctx is cancelled. On
// cancellation it does not stop immediately: per §4.1's shutdown contract,
// it keeps answering frames normally until the next POLL, answers that one
// with JUST_RESET, then closes the port and returns.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	defer e.port.Close()

	for {
		select {
		case <-ctx.Done():
			e.stopping.Store(true)
		default:
		}

		if err := e.port.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			e.logger.Error("set read deadline failed", "error", err)
			e.metrics.ObserveSerialError()
			return err
		}

		b, err := e.reader.ReadByte()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			e.logger.Error("serial read failed", "error", err)
			e.metrics.ObserveSerialError()
			return err
		}

		if !IsStart(b) {
			// Noise between frames; resynchronise silently.
			continue
		}

		payload, err := e.reader.ReadFrame()
		if err != nil {
			e.logger.Warn("framing error", "error", err)
			if werr := e.writer.WriteNak(); werr != nil {
				return werr
			}
			continue
		}

		stop, err := e.dispatch(payload)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
}

// Stopped returns a channel closed once Run has returned.
func (e *Engine) Stopped() <-chan struct{} {
	return e.done
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// dispatch parses and handles one inbound frame, returning stop=true once
// the engine has answered its shutdown-triggered JUST_RESET and should exit.
func (e *Engine) dispatch(payload []byte) (stop bool, err error) {
	cmd := ParseCommand(payload)
	if !cmd.Recognised {
		return false, e.writer.WriteFrame([]byte{0x0B})
	}

	if cmd.Kind == EventPoll {
		e.metrics.ObservePoll()
		if e.stopping.Load() {
			if werr := e.writer.WriteFrame([]byte{0x00}); werr != nil {
				return false, werr
			}
			e.state = StateReset
			return true, nil
		}
	}

	result := e.applyCommand(cmd)
	if result.Changed {
		e.logger.Debug("mdb state transition", "from", result.OldState, "to", result.NewState, "event", cmd.Kind)
		e.metrics.ObserveStateChange(result.OldState, result.NewState)
	}
	e.state = result.NewState

	return false, e.emitActions(cmd, result.Actions)
}

// applyCommand resolves the data-dependent event fields (open_session,
// credit availability, the idle-timeout check) before consulting the pure
// FSM, then chains the SESSION.SESSION_CANCEL handoff for an expired
// SESSION.IDLE exactly once within the same inbound frame.
func (e *Engine) applyCommand(cmd Command) FSMResult {
	switch {
	case cmd.Kind == EventPoll && e.state == StateEnabled:
		openSession := e.openSession.Swap(false)
		if openSession {
			e.sessionSet = time.Now()
		}
		return ApplyEvent(e.state, Event{Kind: EventPoll, OpenSession: openSession})

	case cmd.Kind == EventPoll && e.state == StateSessionIdle:
		if time.Since(e.sessionSet) > sessionIdleTimeout {
			timeoutResult := ApplyEvent(e.state, Event{Kind: EventSessionTimeout})
			cancelResult := ApplyEvent(timeoutResult.NewState, Event{Kind: EventPoll})
			return FSMResult{
				OldState: e.state,
				NewState: cancelResult.NewState,
				Actions:  cancelResult.Actions,
				Changed:  true,
			}
		}
		return ApplyEvent(e.state, Event{Kind: EventPoll})

	case cmd.Kind == EventVendRequest && e.state == StateSessionIdle:
		credit := e.creditQuery(cmd.Slot)
		result := ApplyEvent(e.state, Event{Kind: EventVendRequest, Slot: cmd.Slot, CreditAvailable: credit > 0})
		if credit > 0 {
			e.metrics.ObserveVendApproved()
		} else {
			e.metrics.ObserveVendDenied()
		}
		return result

	default:
		return ApplyEvent(e.state, Event{Kind: cmd.Kind, Slot: cmd.Slot})
	}
}

// emitActions executes the FSM's side-effect list: callback invocations
// first, then exactly one wire reply (§8: "exactly one outbound frame or
// ACK" per inbound frame).
func (e *Engine) emitActions(cmd Command, actions []Action) error {
	for _, action := range actions {
		if action == ActionDispenseAck {
			e.dispenseAck(cmd.Slot)
			continue
		}

		if action == ActionReplyDisplay {
			req := e.display.next(time.Now(), e.defaultDisplay())
			return e.writer.WriteFrame(req.encode())
		}

		if action == ActionReplyEndSession && e.sessionEnd != nil {
			e.sessionEnd()
		}

		payload, bare := buildReply(action)
		if bare {
			return e.writer.WriteAck()
		}
		return e.writer.WriteFrame(payload)
	}
	// An action list with only ActionDispenseAck (should not happen; every
	// table entry pairs it with a reply) falls back to a bare ack so the
	// invariant of exactly one reply per frame still holds.
	return e.writer.WriteAck()
}

// defaultDisplay is shown when no request is queued and no suppression
// window is active.
func (e *Engine) defaultDisplay() DisplayRequest {
	if e.state == StateSessionIdle {
		return DisplayRequest{Top: "Scan again to", Bottom: "add a vend", Duration: 2 * time.Second}
	}
	return DisplayRequest{Top: "Scan your card", Bottom: "to begin", Duration: 2 * time.Second}
}
