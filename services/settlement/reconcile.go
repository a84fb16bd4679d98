package settlement

import (
	"context"
	"sort"
	"time"

	"ticketing-settlement/services/audit"

	"go.uber.org/zap"
)

// SystemActor is recorded as the actor of audit entries written by
// background jobs.
const SystemActor = "system"

type StalledPayout struct {
	Payout *Payout       `json:"payout"`
	Age    time.Duration `json:"age"`
}

// FindStalledPayouts returns payouts stuck in processing for longer than
// the stalled threshold, oldest first. They come from a process that died
// between settlement steps and need manual reconciliation.
func (s *Service) FindStalledPayouts(ctx context.Context) ([]StalledPayout, error) {
	threshold := s.opts.StalledAfter
	if threshold <= 0 {
		threshold = 15 * time.Minute
	}

	rows, err := s.store.ListProcessingPayouts(ctx)
	if err != nil {
		zap.L().With(logFields(ctx)...).Error("failed to list processing payouts", zap.Error(err))
		return nil, err
	}

	now := s.now()
	out := make([]StalledPayout, 0, len(rows))
	for _, p := range rows {
		age := now.Sub(p.CreatedAt)
		if age < threshold {
			continue
		}
		out = append(out, StalledPayout{Payout: p, Age: age})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Age > out[j].Age })
	return out, nil
}

// ReportStalledPayouts logs and audits every stalled payout. Nothing is
// retried or rolled back automatically.
func (s *Service) ReportStalledPayouts(ctx context.Context) (int, error) {
	stalled, err := s.FindStalledPayouts(ctx)
	if err != nil {
		return 0, err
	}

	for _, sp := range stalled {
		p := sp.Payout
		zap.L().With(logFields(ctx,
			zap.String("payout_id", p.ID),
			zap.String("event_id", p.EventID),
			zap.String("recipient_type", p.RecipientType),
			zap.Int64("net_amount", p.NetAmount),
			zap.Duration("age", sp.Age),
		)...).Error("payout stalled in processing")

		s.audit(ctx, SystemActor, audit.ActionPayoutStalled, audit.SubjectPayout, p.ID, map[string]any{
			"event_id":       p.EventID,
			"recipient_type": p.RecipientType,
			"recipient_id":   p.RecipientID,
			"net_amount":     p.NetAmount,
			"currency":       p.Currency,
			"age_seconds":    int64(sp.Age.Seconds()),
		})
	}

	return len(stalled), nil
}
