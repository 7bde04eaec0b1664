// Package sweeper owns the engine's background loops: the limit-order
// and stop-trigger sweeps, and margin checks driven by price ticks.
// Scheduling is decoupled from the HTTP request cycle and stops on
// context cancellation.
package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"fx-arena/internal/contest"
	"fx-arena/internal/margin"
	"fx-arena/internal/orders"
)

type Sweeper struct {
	contests *contest.Store
	orders   *orders.Service
	monitor  *margin.Monitor
	log      *slog.Logger

	sweepInterval  time.Duration
	marginInterval time.Duration

	// kick wakes the margin loop early on a price tick; the per-account
	// throttle inside the monitor bounds the actual work.
	kick chan struct{}
	wg   sync.WaitGroup
}

func New(contests *contest.Store, ordersSvc *orders.Service, monitor *margin.Monitor,
	sweepInterval, marginInterval time.Duration, log *slog.Logger) *Sweeper {
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Second
	}
	if marginInterval <= 0 {
		marginInterval = 5 * time.Second
	}
	return &Sweeper{
		contests:       contests,
		orders:         ordersSvc,
		monitor:        monitor,
		log:            log,
		sweepInterval:  sweepInterval,
		marginInterval: marginInterval,
		kick:           make(chan struct{}, 1),
	}
}

// Kick signals a price tick. Non-blocking; coalesces bursts.
func (s *Sweeper) Kick(string) {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(2)
	go s.runOrderSweep(ctx)
	go s.runMarginLoop(ctx)
}

func (s *Sweeper) Wait() {
	s.wg.Wait()
}

func (s *Sweeper) runOrderSweep(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	contests, err := s.contests.ListActiveContests(ctx)
	if err != nil {
		s.log.Error("sweep: list contests failed", "err", err)
		return
	}
	for _, c := range contests {
		if res, err := s.orders.CheckLimitOrders(ctx, c.ID); err != nil {
			s.log.Warn("limit order sweep failed", "contest", c.ID, "err", err)
		} else if res.Filled > 0 || res.Cancelled > 0 {
			s.log.Info("limit order sweep", "contest", c.ID,
				"checked", res.Checked, "filled", res.Filled, "cancelled", res.Cancelled)
		}
		if closed, err := s.orders.CheckStopTriggers(ctx, c.ID); err != nil {
			s.log.Warn("stop trigger sweep failed", "contest", c.ID, "err", err)
		} else if closed > 0 {
			s.log.Info("stop triggers closed positions", "contest", c.ID, "closed", closed)
		}
	}
}

func (s *Sweeper) runMarginLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.marginInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.kick:
		}
		s.checkAllMargins(ctx)
	}
}

func (s *Sweeper) checkAllMargins(ctx context.Context) {
	contests, err := s.contests.ListActiveContests(ctx)
	if err != nil {
		s.log.Error("margin loop: list contests failed", "err", err)
		return
	}
	for _, c := range contests {
		accountIDs, err := s.contests.ListAccountIDs(ctx, c.ID, true)
		if err != nil {
			s.log.Warn("margin loop: list accounts failed", "contest", c.ID, "err", err)
			continue
		}
		for _, id := range accountIDs {
			res, err := s.monitor.CheckMargin(ctx, id)
			if err != nil {
				s.log.Warn("margin check failed", "account", id, "err", err)
				continue
			}
			if res.Liquidated {
				s.log.Warn("account liquidated by margin loop",
					"account", id, "positions_closed", res.PositionsClosed)
			}
		}
	}
}
