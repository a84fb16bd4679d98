package settlement

import (
	"context"
	"time"

	"ticketing-settlement/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Sweeper struct {
	service  *Service
	interval time.Duration
	stop     context.CancelFunc
	done     chan struct{}
}

func NewSweeper(cfg *config.Config, svc *Service) *Sweeper {
	return &Sweeper{service: svc, interval: cfg.Settlement.SweepInterval}
}

// StartSweeper runs the stalled payout sweep for the lifetime of the app.
// A non-positive interval disables it.
func StartSweeper(lc fx.Lifecycle, s *Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if s.interval <= 0 {
				zap.L().Info("[Sweeper] stalled payout sweep disabled")
				return nil
			}
			ctx, cancel := context.WithCancel(context.Background())
			s.stop = cancel
			s.done = make(chan struct{})
			go s.run(ctx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if s.stop == nil {
				return nil
			}
			s.stop()
			select {
			case <-s.done:
			case <-ctx.Done():
			}
			return nil
		},
	})
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)
	zap.L().Info("[Sweeper] started stalled payout sweep", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			zap.L().Warn("[Sweeper] stopped")
			return
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	start := time.Now()

	n, err := s.service.ReportStalledPayouts(ctx)
	if err != nil {
		zap.L().Error("[Sweeper] failed to sweep stalled payouts", zap.Error(err))
		return
	}

	zap.L().Info("[Sweeper] finished stalled payout sweep",
		zap.Int("stalled", n),
		zap.Duration("duration", time.Since(start)),
	)
}
