package worker

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
)

type Intervals struct {
	Holds     time.Duration
	Complete  time.Duration
	Import    time.Duration
	Reconcile time.Duration
	Expire    time.Duration
	Tokens    time.Duration
}

type HoldExpirer interface {
	ExpireHolds(ctx context.Context) error
}

type BookingMaintainer interface {
	CompleteDue(ctx context.Context, now time.Time) (int, error)
	Reconcile(ctx context.Context) (int, error)
}

type LedgerMaintainer interface {
	ExpireAll(ctx context.Context, asOf time.Time) error
	VerifyCachedBalances(ctx context.Context) (int, error)
}

type CalendarMaintainer interface {
	ImportAll(ctx context.Context) error
	RefreshExpiring(ctx context.Context) error
}

// Sweeper drives the periodic maintenance loops. Each loop runs on its
// own ticker so a slow calendar import never delays hold expiry.
type Sweeper struct {
	iv       Intervals
	holds    HoldExpirer
	bookings BookingMaintainer
	ledger   LedgerMaintainer
	calendar CalendarMaintainer
}

func NewSweeper(iv Intervals, holds HoldExpirer, bookings BookingMaintainer, ledger LedgerMaintainer, calendar CalendarMaintainer) *Sweeper {
	return &Sweeper{iv: iv, holds: holds, bookings: bookings, ledger: ledger, calendar: calendar}
}

func (s *Sweeper) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.loop(ctx, "holds", s.iv.Holds, func(ctx context.Context) error {
			return s.holds.ExpireHolds(ctx)
		})
	})
	g.Go(func() error {
		return s.loop(ctx, "complete", s.iv.Complete, func(ctx context.Context) error {
			_, err := s.bookings.CompleteDue(ctx, time.Now().UTC())
			return err
		})
	})
	g.Go(func() error {
		return s.loop(ctx, "import", s.iv.Import, s.calendar.ImportAll)
	})
	g.Go(func() error {
		return s.loop(ctx, "tokens", s.iv.Tokens, s.calendar.RefreshExpiring)
	})
	g.Go(func() error {
		return s.loop(ctx, "reconcile", s.iv.Reconcile, func(ctx context.Context) error {
			if _, err := s.bookings.Reconcile(ctx); err != nil {
				return err
			}
			_, err := s.ledger.VerifyCachedBalances(ctx)
			return err
		})
	})
	g.Go(func() error {
		return s.loop(ctx, "expire", s.iv.Expire, func(ctx context.Context) error {
			return s.ledger.ExpireAll(ctx, time.Now().UTC())
		})
	})

	return g.Wait()
}

func (s *Sweeper) loop(ctx context.Context, name string, every time.Duration, fn func(context.Context) error) error {
	if every <= 0 {
		return nil
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := fn(ctx); err != nil {
				log.Printf("[worker] %s sweep: %v", name, err)
			}
		}
	}
}
