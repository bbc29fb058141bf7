package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ledgercore/internal/logger"
)

// sweepService fans the per-user maintenance work out over a bounded number
// of goroutines. Work for one user is always sequential.
type sweepService struct {
	users       UserServicer
	recurring   RecurringServicer
	alerts      AlertServicer
	audit       AuditServicer
	concurrency int
	log         *zap.SugaredLogger
}

// NewSweepService creates a new SweepServicer. audit may be nil.
func NewSweepService(users UserServicer, recurring RecurringServicer, alerts AlertServicer, audit AuditServicer, concurrency int) SweepServicer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &sweepService{
		users:       users,
		recurring:   recurring,
		alerts:      alerts,
		audit:       audit,
		concurrency: concurrency,
		log:         logger.Named("sweep"),
	}
}

// Run generates due recurring transactions and then evaluates budget alerts
// for each active user. A failing user is logged and counted; only
// cancellation of ctx aborts the sweep.
func (s *sweepService) Run(ctx context.Context, today time.Time) (*SweepReport, error) {
	start := time.Now()

	userIDs, err := s.users.ListActiveUserIDs(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		report = &SweepReport{Users: len(userIDs)}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, userID := range userIDs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			generated, alerts, ok := s.sweepUser(gctx, userID, today)

			mu.Lock()
			report.Generated += generated
			report.Alerts += alerts
			if !ok {
				report.Failures++
			}
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()
	report.Duration = time.Since(start)

	s.log.Infow("Sweep finished",
		"users", report.Users,
		"generated", report.Generated,
		"alerts", report.Alerts,
		"failures", report.Failures,
		"duration", report.Duration,
	)
	if err != nil {
		return report, err
	}
	return report, nil
}

func (s *sweepService) sweepUser(ctx context.Context, userID string, today time.Time) (generated, alerts int, ok bool) {
	ok = true

	generated, err := s.recurring.GenerateDue(ctx, userID, today)
	if err != nil {
		s.log.Errorw("Recurring generation failed", "user_id", userID, "error", err)
		ok = false
	}

	triggered, err := s.alerts.Evaluate(ctx, userID)
	if err != nil {
		s.log.Errorw("Alert evaluation failed", "user_id", userID, "error", err)
		ok = false
	}
	alerts = len(triggered)

	if s.audit != nil && (generated > 0 || alerts > 0) {
		s.audit.Log(ctx, userID, AuditActionSweep, "user", userID, "", map[string]interface{}{
			"generated": generated,
			"alerts":    alerts,
			"date":      today.Format("2006-01-02"),
		})
	}
	return generated, alerts, ok
}
