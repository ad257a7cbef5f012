package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/agimpel/vcs-automat-core/internal/mdb"
	"github.com/agimpel/vcs-automat-core/internal/provider"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeProvider is a minimal provider.Provider double for exercising the
// orchestrator without the HTTPS or local-store implementations.
type fakeProvider struct {
	tag     string
	cards   map[string]*provider.User
	reports []string
}

func (p *fakeProvider) Tag() string { return p.tag }

func (p *fakeProvider) Auth(_ context.Context, cardID string) (*provider.User, error) {
	u, ok := p.cards[cardID]
	if !ok {
		return nil, nil
	}
	return u, nil
}

func (p *fakeProvider) Report(_ context.Context, cardID string, slot uint16) (bool, error) {
	p.reports = append(p.reports, cardID)
	return true, nil
}

func (p *fakeProvider) Info(_ context.Context) (*provider.Info, error) {
	return &provider.Info{StandardCredits: 10, ResetInterval: 24 * time.Hour}, nil
}

// fakeEngine is a minimal EngineControl double that records PushDisplay calls
// and counts OpenSession invocations.
type fakeEngine struct {
	opened   int
	displays []mdb.DisplayRequest
}

func (e *fakeEngine) OpenSession() { e.opened++ }

func (e *fakeEngine) PushDisplay(req mdb.DisplayRequest) {
	e.displays = append(e.displays, req)
}

func newTestChain(cards map[string]*provider.User) *provider.Chain {
	return provider.NewChain(discardLogger(), &fakeProvider{tag: "test", cards: cards})
}

func TestOnCard_UnknownCardPushesDisplay(t *testing.T) {
	chain := newTestChain(nil)
	engine := &fakeEngine{}
	o := New(chain, engine, discardLogger(), 1)

	o.OnCard(context.Background(), "deadbeef")

	if o.CurrentSession() != nil {
		t.Fatalf("expected no session for unknown card")
	}
	if len(engine.displays) != 1 {
		t.Fatalf("expected one display push, got %d", len(engine.displays))
	}
}

func TestOnCard_ZeroCreditPushesDisplay(t *testing.T) {
	chain := newTestChain(map[string]*provider.User{
		"card1": {CardID: "card1", Credits: 0},
	})
	engine := &fakeEngine{}
	o := New(chain, engine, discardLogger(), 1)

	o.OnCard(context.Background(), "card1")

	if o.CurrentSession() != nil {
		t.Fatalf("expected no session opened for zero credit")
	}
	if engine.opened != 0 {
		t.Fatalf("expected OpenSession not to be called")
	}
	if len(engine.displays) != 1 {
		t.Fatalf("expected one display push, got %d", len(engine.displays))
	}
}

func TestOnCard_OpensSessionAndDispenses(t *testing.T) {
	chain := newTestChain(map[string]*provider.User{
		"card1": {CardID: "card1", Credits: 3},
	})
	engine := &fakeEngine{}
	o := New(chain, engine, discardLogger(), 1)

	o.OnCard(context.Background(), "card1")

	sess := o.CurrentSession()
	if sess == nil {
		t.Fatalf("expected an active session")
	}
	if sess.CreditsRemaining != 3 {
		t.Fatalf("credits = %d, want 3", sess.CreditsRemaining)
	}
	if engine.opened != 1 {
		t.Fatalf("OpenSession called %d times, want 1", engine.opened)
	}

	if got := o.CreditQuery(1); got != 3 {
		t.Fatalf("CreditQuery = %d, want 3", got)
	}

	o.DispenseAck(1)

	if got := o.CreditQuery(1); got != 2 {
		t.Fatalf("CreditQuery after dispense = %d, want 2", got)
	}

	select {
	case report := <-o.Reports():
		if report.CardID != "card1" || report.Slot != 1 {
			t.Fatalf("unexpected report: %+v", report)
		}
	default:
		t.Fatalf("expected a pending report after dispense")
	}

	o.EndSession()
	if o.CurrentSession() != nil {
		t.Fatalf("expected session cleared after EndSession")
	}
}

func TestOnCard_IgnoredWhileSessionActive(t *testing.T) {
	chain := newTestChain(map[string]*provider.User{
		"card1": {CardID: "card1", Credits: 3},
		"card2": {CardID: "card2", Credits: 5},
	})
	engine := &fakeEngine{}
	o := New(chain, engine, discardLogger(), 1)

	o.OnCard(context.Background(), "card1")
	o.OnCard(context.Background(), "card2")

	sess := o.CurrentSession()
	if sess == nil || sess.CardID != "card1" {
		t.Fatalf("expected card1's session to remain active, got %+v", sess)
	}
	if engine.opened != 1 {
		t.Fatalf("OpenSession called %d times, want 1", engine.opened)
	}
}

func TestDispenseAck_WithoutSessionLogsAndIgnores(t *testing.T) {
	chain := newTestChain(nil)
	engine := &fakeEngine{}
	o := New(chain, engine, discardLogger(), 1)

	o.DispenseAck(1)

	select {
	case <-o.Reports():
		t.Fatalf("expected no report without an active session")
	default:
	}
}

func TestOnCard_IgnoredWhileReportInFlight(t *testing.T) {
	chain := newTestChain(map[string]*provider.User{
		"card1": {CardID: "card1", Credits: 1},
		"card2": {CardID: "card2", Credits: 1},
	})
	engine := &fakeEngine{}
	o := New(chain, engine, discardLogger(), 1)

	o.OnCard(context.Background(), "card1")
	o.DispenseAck(1)
	o.EndSession()

	// Draining the channel (as the report worker does before its provider
	// round trip even starts) must not reopen the guard.
	<-o.Reports()

	o.OnCard(context.Background(), "card2")
	if o.CurrentSession() != nil {
		t.Fatalf("expected card2 to be ignored while the report is still in flight")
	}

	o.ReportDone()

	o.OnCard(context.Background(), "card2")
	if sess := o.CurrentSession(); sess == nil || sess.CardID != "card2" {
		t.Fatalf("expected card2's session to open once ReportDone clears the guard, got %+v", sess)
	}
}

func TestDispenseAck_QueueFullDropsReportWithoutExtraInFlightSlot(t *testing.T) {
	chain := newTestChain(map[string]*provider.User{
		"card1": {CardID: "card1", Credits: 2},
		"card2": {CardID: "card2", Credits: 1},
	})
	engine := &fakeEngine{}
	o := New(chain, engine, discardLogger(), 1)

	o.OnCard(context.Background(), "card1")
	o.DispenseAck(1) // fills the size-1 report buffer
	o.DispenseAck(1) // buffer full: this second report is dropped
	o.EndSession()

	// card2 must still be blocked: the first report is genuinely unresolved,
	// sitting undrained in the buffer.
	o.OnCard(context.Background(), "card2")
	if o.CurrentSession() != nil {
		t.Fatalf("expected card2 to be blocked by the still-unresolved first report")
	}

	<-o.Reports()
	o.ReportDone() // completes the one report that was actually queued

	o.OnCard(context.Background(), "card2")
	if sess := o.CurrentSession(); sess == nil || sess.CardID != "card2" {
		t.Fatalf("expected card2's session to open once the first report resolved, got %+v", sess)
	}
}

func TestSetEngine_CompletesTwoPhaseConstruction(t *testing.T) {
	chain := newTestChain(map[string]*provider.User{
		"card1": {CardID: "card1", Credits: 1},
	})
	o := New(chain, nil, discardLogger(), 1)

	engine := &fakeEngine{}
	o.SetEngine(engine)

	o.OnCard(context.Background(), "card1")
	if engine.opened != 1 {
		t.Fatalf("OpenSession called %d times, want 1", engine.opened)
	}
}

func TestSetChain_SwapsProviderForFutureScans(t *testing.T) {
	chainA := newTestChain(map[string]*provider.User{
		"card1": {CardID: "card1", Credits: 1},
	})
	chainB := newTestChain(map[string]*provider.User{
		"card2": {CardID: "card2", Credits: 1},
	})
	engine := &fakeEngine{}
	o := New(chainA, engine, discardLogger(), 1)

	o.SetChain(chainB)

	o.OnCard(context.Background(), "card1")
	if o.CurrentSession() != nil {
		t.Fatalf("card1 should be unknown to the swapped-in chain")
	}

	o.OnCard(context.Background(), "card2")
	if sess := o.CurrentSession(); sess == nil || sess.CardID != "card2" {
		t.Fatalf("expected card2's session to open against the new chain, got %+v", sess)
	}
}

func TestPushDisplay_ForwardsToEngine(t *testing.T) {
	chain := newTestChain(nil)
	engine := &fakeEngine{}
	o := New(chain, engine, discardLogger(), 1)

	o.PushDisplay(mdb.DisplayRequest{Top: "hello"})

	if len(engine.displays) != 1 || engine.displays[0].Top != "hello" {
		t.Fatalf("expected display forwarded to engine, got %+v", engine.displays)
	}
}
