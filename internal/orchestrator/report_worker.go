package orchestrator

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/agimpel/vcs-automat-core/internal/provider"
)

// ReportWorker drains the PendingReport queue FIFO and invokes the winning
// provider's Report method exactly once per entry (§4.4). Silent retry is
// deliberately not implemented: the specified provider protocol has no
// idempotency key, so a retried report risks a double debit on the
// provider's side after the drink has already been dispensed.
type ReportWorker struct {
	reports <-chan PendingReport
	chain   atomic.Pointer[provider.Chain]
	logger  *slog.Logger

	// done is called once handle returns, win or lose, so the orchestrator
	// can clear its report-in-flight guard only after the provider round
	// trip actually completes rather than when the report is dequeued.
	done func()
}

// NewReportWorker constructs a ReportWorker draining the reports channel. done
// is invoked after every report attempt, successful or not; pass
// Orchestrator.ReportDone.
func NewReportWorker(reports <-chan PendingReport, chain *provider.Chain, logger *slog.Logger, done func()) *ReportWorker {
	w := &ReportWorker{reports: reports, logger: logger, done: done}
	w.chain.Store(chain)
	return w
}

// SetChain swaps the provider chain consulted by future reports, mirroring
// Orchestrator.SetChain for SIGHUP provider-configuration reload. A report
// already dequeued completes against whichever chain Run loaded it under.
func (w *ReportWorker) SetChain(chain *provider.Chain) {
	w.chain.Store(chain)
}

// Run drains reports until ctx is cancelled or the channel closes.
func (w *ReportWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case report, ok := <-w.reports:
			if !ok {
				return nil
			}
			w.handle(ctx, report)
		}
	}
}

func (w *ReportWorker) handle(ctx context.Context, report PendingReport) {
	defer w.done()

	ok, err := w.chain.Load().Report(ctx, report.ProviderTag, report.CardID, report.Slot)
	if err != nil || !ok {
		// Post-dispense report failure is not retried and is not fatal:
		// the drink has already been released, and the local debit stands.
		w.logger.Error("vend report failed",
			"provider", report.ProviderTag, "card_id", report.CardID, "slot", report.Slot, "error", err)
		return
	}
	w.logger.Info("vend reported", "provider", report.ProviderTag, "card_id", report.CardID, "slot", report.Slot)
}
