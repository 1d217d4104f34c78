package payment

import (
	"context"
	"log/slog"
	"time"

	"github.com/suspectuso/ton-checkout/internal/tonapi"
)

// EventSource is the indexer query the watcher needs.
type EventSource interface {
	GetEvents(ctx context.Context, address string, limit int) ([]tonapi.Event, error)
}

// DepositWatcher polls the indexer for incoming transfers to open deposit
// addresses and, on a memo match, asks the backend to verify. The backend
// remains the authority; the watcher only shortens the wait for users who do
// not press "I paid" themselves.
type DepositWatcher struct {
	service *Service
	source  EventSource
	log     *slog.Logger
}

// NewDepositWatcher creates a deposit watcher.
func NewDepositWatcher(service *Service, source EventSource, log *slog.Logger) *DepositWatcher {
	return &DepositWatcher{
		service: service,
		source:  source,
		log:     log,
	}
}

// Start runs the poll loop until ctx is cancelled.
func (w *DepositWatcher) Start(ctx context.Context, interval time.Duration) {
	w.log.Info("deposit watcher started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.checkDeposits(ctx)
		}
	}
}

func (w *DepositWatcher) checkDeposits(ctx context.Context) {
	for _, coord := range w.service.ActiveDeposits() {
		addr := coord.Address()
		if addr == "" {
			continue
		}

		events, err := w.source.GetEvents(ctx, tonapi.NormalizeAddress(addr), 20)
		if err != nil {
			w.log.Warn("fetch deposit events",
				"address", tonapi.ShortAddr(addr, 6),
				"error", err,
			)
			continue
		}

		prefixed := ForwardComment(coord.Session().CorrelationID)
		if !hasMemoMatch(events, coord.Session().CorrelationID, prefixed) {
			continue
		}

		w.log.Info("deposit transfer detected",
			"session_id", coord.Session().ID,
			"address", tonapi.ShortAddr(addr, 6),
		)

		ok, err := coord.Verify(ctx)
		if err != nil {
			w.log.Warn("verify deposit", "session_id", coord.Session().ID, "error", err)
			continue
		}
		if ok {
			w.log.Info("deposit verified", "session_id", coord.Session().ID)
		}
	}
}

// hasMemoMatch scans events for a successful incoming transfer whose comment
// is the deposit memo, in either the bare or the prefixed form.
func hasMemoMatch(events []tonapi.Event, memo, prefixed string) bool {
	for _, ev := range events {
		if ev.InProgress || ev.IsScam {
			continue
		}
		for _, action := range ev.Actions {
			if action.Status != "ok" {
				continue
			}
			var comment string
			switch {
			case action.TonTransfer != nil:
				comment = action.TonTransfer.Comment
			case action.JettonTransfer != nil:
				comment = action.JettonTransfer.Comment
			default:
				continue
			}
			if comment == memo || comment == prefixed {
				return true
			}
		}
	}
	return false
}
