// Package orchestrator binds a card-scan event to a single vending session:
// it consults the provider chain, arbitrates the MDBEngine's credit_query
// and dispense_ack callbacks, and hands completed vends to the report
// worker. It is the single owner of the active Session (spec §3, §4.2).
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agimpel/vcs-automat-core/internal/mdb"
	"github.com/agimpel/vcs-automat-core/internal/provider"
)

// Session is the in-flight authenticated vending session. Orchestrator is
// its sole writer; reads happen only on the Orchestrator's own goroutine or
// under mu, since MDBEngine's callbacks run on the engine's goroutine.
type Session struct {
	CardID           string
	CreditsRemaining uint32
	WinningProvider  string
	StartedAt        time.Time
}

// PendingReport is a completed vend awaiting an at-most-once provider report.
type PendingReport struct {
	Slot         uint16
	CardID       string
	ProviderTag  string
}

// EngineControl is the subset of mdb.Engine the orchestrator drives.
type EngineControl interface {
	OpenSession()
	PushDisplay(req mdb.DisplayRequest)
}

// InventoryNotifier is the out-of-scope chat-bot contract: the orchestrator
// only needs to notify it of inventory decrements (§4.2).
type InventoryNotifier interface {
	NotifyDispensed(slot uint16)
}

type noopNotifier struct{}

func (noopNotifier) NotifyDispensed(uint16) {}

// Orchestrator is the session owner. It is safe for concurrent use: MDB
// engine callbacks and the card-reader's OnCard call all take the same
// mutex. Critical sections are short (no I/O), so a mutex is preferred here
// over channel-mediated request/response (§9 design notes allow either;
// the engine callback already runs to completion before the next serial
// byte is processed, so contention is not a concern).
type Orchestrator struct {
	mu      sync.Mutex
	session *Session

	chain    *provider.Chain
	engine   EngineControl
	notifier InventoryNotifier
	logger   *slog.Logger

	reports chan PendingReport

	// reportsInFlight counts PendingReports that DispenseAck has queued but
	// whose provider round trip hasn't returned yet (see ReportDone). It is
	// not inferred from len(reports): the worker dequeues a report (emptying
	// the channel) well before its HTTP call to the provider completes, and
	// that round trip is exactly the window OnCard must keep a second card
	// from opening a session in.
	reportsInFlight int
}

// New constructs an Orchestrator. reportBuffer bounds the PendingReport
// channel capacity; when the buffer is full, DispenseAck does not block: it
// logs the report and drops it (§4.2).
//
// engine may be nil at construction time: mdb.Engine's constructor itself
// needs this Orchestrator's CreditQuery/DispenseAck as callbacks, so the
// usual wiring order is New(chain, nil, ...), then mdb.NewEngine(..., o.CreditQuery,
// o.DispenseAck, ...), then o.SetEngine(engine) once the engine exists.
func New(chain *provider.Chain, engine EngineControl, logger *slog.Logger, reportBuffer int, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		chain:    chain,
		engine:   engine,
		logger:   logger,
		notifier: noopNotifier{},
		reports:  make(chan PendingReport, reportBuffer),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetEngine completes construction when the engine was not yet available
// at New (see New's doc comment on construction order). Must be called
// before OnCard/CreditQuery/DispenseAck/PushDisplay see any traffic: those
// read o.engine without taking mu, since by the time the engine's serial
// loop and the card reader are both running, the engine is already fixed
// for the rest of the process lifetime.
func (o *Orchestrator) SetEngine(engine EngineControl) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.engine = engine
}

// Option configures optional Orchestrator behaviour.
type Option func(*Orchestrator)

// WithInventoryNotifier attaches the chat-bot inventory callback.
func WithInventoryNotifier(n InventoryNotifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// Reports exposes the PendingReport stream for the report worker to drain.
func (o *Orchestrator) Reports() <-chan PendingReport {
	return o.reports
}

// OnCard handles a card-scan event from the card reader (§4.2).
//
// A new card is silently rejected while a session is active or a vend
// report is still in flight (the report worker's provider round trip for
// the previous dispense hasn't returned yet): settling one session's debit
// with the authoritative provider before starting another prevents a
// second session from spending credit that hasn't been reconciled yet.
func (o *Orchestrator) OnCard(ctx context.Context, cardID string) {
	o.mu.Lock()
	if o.session != nil || o.reportsInFlight > 0 {
		o.mu.Unlock()
		o.logger.Info("card scan ignored: session or report in flight", "card_id", cardID)
		return
	}
	chain := o.chain
	o.mu.Unlock()

	user, tag, err := chain.Auth(ctx, cardID)
	if err != nil || user == nil {
		o.logger.Info("card unknown to all providers", "card_id", cardID, "error", err)
		o.engine.PushDisplay(mdb.DisplayRequest{
			Top: "Unknown card", Bottom: "", Duration: 3 * time.Second, Priority: true,
		})
		return
	}

	if user.Credits == 0 {
		o.logger.Info("card has no credit", "card_id", cardID, "provider", tag)
		o.engine.PushDisplay(mdb.DisplayRequest{
			Top: "No credit", Bottom: ":(", Duration: 3 * time.Second, Priority: true,
		})
		return
	}

	o.mu.Lock()
	o.session = &Session{
		CardID:           cardID,
		CreditsRemaining: user.Credits,
		WinningProvider:  tag,
		StartedAt:        time.Now(),
	}
	o.mu.Unlock()

	o.logger.Info("session opened", "card_id", cardID, "provider", tag, "credits", user.Credits)
	o.engine.OpenSession()
}

// CreditQuery is the MDBEngine callback; it runs on the engine's goroutine.
func (o *Orchestrator) CreditQuery(slot uint16) uint32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return 0
	}
	return o.session.CreditsRemaining
}

// DispenseAck is the MDBEngine callback invoked after a successful vend.
// Precondition: an active session with CreditsRemaining > 0; any other
// case is a dispense-without-session error, logged and ignored so the
// local debit never goes negative (§7).
func (o *Orchestrator) DispenseAck(slot uint16) {
	o.mu.Lock()
	if o.session == nil || o.session.CreditsRemaining == 0 {
		o.mu.Unlock()
		o.logger.Error("dispense_ack without a valid session", "slot", slot)
		return
	}
	o.session.CreditsRemaining--
	report := PendingReport{Slot: slot, CardID: o.session.CardID, ProviderTag: o.session.WinningProvider}
	o.mu.Unlock()

	o.notifier.NotifyDispensed(slot)

	select {
	case o.reports <- report:
		o.mu.Lock()
		o.reportsInFlight++
		o.mu.Unlock()
	default:
		// Never queued, so there is nothing for ReportDone to clear later.
		o.logger.Error("pending report queue full, dropping report", "slot", slot, "card_id", report.CardID)
	}
}

// ReportDone clears one report-in-flight slot. Called by the report worker
// once its provider round trip for a dequeued report returns, win or lose.
func (o *Orchestrator) ReportDone() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.reportsInFlight > 0 {
		o.reportsInFlight--
	}
}

// EndSession clears the active session, called once MDBEngine observes
// SESSION.SESSION_END. It is separate from DispenseAck/CreditQuery because
// the engine does not expose session boundary events as a return value.
func (o *Orchestrator) EndSession() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session != nil {
		o.logger.Info("session closed", "card_id", o.session.CardID, "credits_remaining", o.session.CreditsRemaining)
	}
	o.session = nil
}

// CurrentSession returns a copy of the active session, or nil if none, for
// the admin API's read-only status endpoint.
func (o *Orchestrator) CurrentSession() *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return nil
	}
	cp := *o.session
	return &cp
}

// PushDisplay forwards an operator-initiated message to the MDB engine's
// display queue, used by the admin API's display endpoint (§9).
func (o *Orchestrator) PushDisplay(req mdb.DisplayRequest) {
	o.engine.PushDisplay(req)
}

// SetChain swaps the provider chain consulted by future OnCard calls,
// letting the daemon reload provider configuration (URLs, secrets, the
// local fallback's known-card list) on SIGHUP without a restart. A session
// already in flight keeps using the chain it authenticated against, since
// OnCard only reads o.chain once per call.
func (o *Orchestrator) SetChain(chain *provider.Chain) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.chain = chain
}
