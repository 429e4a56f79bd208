package valuation

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// settlePending stamps the computed unit value on every entry still pending
// for the period and advances them to pending_approval. Writes go out in
// sequential atomic batches bounded by the store's per-batch limit; a crash
// between batches is recovered by the next run because the ledger update only
// matches entries still in pending.
func (s *Service) settlePending(ctx context.Context, period string, unitValue float64) (int, error) {
	entries, err := s.entries.ListPending(ctx, period)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	settledAt := s.now()
	settled := 0
	for start := 0; start < len(entries); start += s.cfg.SettleBatchSize {
		end := start + s.cfg.SettleBatchSize
		if end > len(entries) {
			end = len(entries)
		}
		ids := make([]uuid.UUID, 0, end-start)
		for _, e := range entries[start:end] {
			ids = append(ids, e.ID)
		}
		n, err := s.entries.SettleBatch(ctx, ids, unitValue, settledAt)
		if err != nil {
			return settled, err
		}
		settled += n
	}

	s.logger.Info("pending entries settled",
		slog.String("period", period),
		slog.Float64("unit_value", unitValue),
		slog.Int("count", settled))
	return settled, nil
}
