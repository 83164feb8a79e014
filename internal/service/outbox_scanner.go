package service

import (
	"context"
	"fmt"
	"time"

	"github.com/salesops/notify-relay/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultScanInterval = 15 * time.Minute
	defaultScanLimit    = 100
	defaultStaleAfter   = 10 * time.Minute

	businessHoursStart = 9  // inclusive, local hour
	businessHoursEnd   = 18 // exclusive, local hour
)

// OutboxScanner periodically claims due notifications and delivers them.
// Scans run only inside business hours (Mon-Fri 09:00-18:00 in the
// configured location); outside that window the tick is a no-op and due
// rows wait for the next working window.
type OutboxScanner struct {
	outbox     repository.OutboxRepository
	deliverer  *Deliverer
	logger     *zap.Logger
	location   *time.Location
	interval   time.Duration
	limit      int
	staleAfter time.Duration
	now        func() time.Time
}

func NewOutboxScanner(
	outbox repository.OutboxRepository,
	deliverer *Deliverer,
	location *time.Location,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*OutboxScanner, error) {
	if outbox == nil {
		return nil, fmt.Errorf("outbox repository is required")
	}
	if deliverer == nil {
		return nil, fmt.Errorf("deliverer is required")
	}
	if location == nil {
		return nil, fmt.Errorf("business hours location is required")
	}
	if interval <= 0 {
		interval = defaultScanInterval
	}
	if limit <= 0 {
		limit = defaultScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OutboxScanner{
		outbox:     outbox,
		deliverer:  deliverer,
		logger:     logger,
		location:   location,
		interval:   interval,
		limit:      limit,
		staleAfter: defaultStaleAfter,
		now:        time.Now,
	}, nil
}

func (s *OutboxScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("outbox scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("outbox scan failed", zap.Error(err))
			}
		}
	}
}

// RunOnce performs a single scan pass and reports how many notifications
// were claimed for delivery.
func (s *OutboxScanner) RunOnce(ctx context.Context) (int, error) {
	now := s.now()
	if !s.withinBusinessHours(now) {
		s.logger.Debug("outside business hours, skipping scan",
			zap.Time("localTime", now.In(s.location)),
		)
		return 0, nil
	}

	requeued, err := s.outbox.RequeueStale(ctx, now.Add(-s.staleAfter).UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale notifications: %w", err)
	}
	if requeued > 0 {
		s.logger.Warn("requeued stale notifications", zap.Int64("count", requeued))
	}

	claimed, err := s.outbox.ClaimDue(ctx, s.limit, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to claim due notifications: %w", err)
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	s.logger.Info("delivering due notifications", zap.Int("count", len(claimed)))

	for i := range claimed {
		notification := claimed[i]
		if err := s.deliverer.Deliver(ctx, &notification, notification.ID); err != nil {
			if ctx.Err() != nil {
				return i, ctx.Err()
			}
			s.logger.Error("failed to deliver claimed notification",
				zap.String("notificationId", notification.ID),
				zap.Error(err),
			)
		}
	}

	return len(claimed), nil
}

func (s *OutboxScanner) withinBusinessHours(t time.Time) bool {
	local := t.In(s.location)

	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	hour := local.Hour()
	return hour >= businessHoursStart && hour < businessHoursEnd
}
