package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/salesops/notify-relay/internal/domain"
	"github.com/salesops/notify-relay/internal/queue"
	"github.com/salesops/notify-relay/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// WorkerService consumes the channel queues and delivers claimed
// notifications through the shared deliverer.
type WorkerService struct {
	outbox      repository.OutboxRepository
	consumer    queue.Consumer
	deliverer   *Deliverer
	logger      *zap.Logger
	concurrency int
}

func NewWorkerService(
	outbox repository.OutboxRepository,
	consumer queue.Consumer,
	deliverer *Deliverer,
	concurrency int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if outbox == nil {
		return nil, fmt.Errorf("outbox repository is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if deliverer == nil {
		return nil, fmt.Errorf("deliverer is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		outbox:      outbox,
		consumer:    consumer,
		deliverer:   deliverer,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

// Start consumes channel queues until context cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	// Every queue needs at least one consumer or its channel starves.
	concurrency := s.concurrency
	if concurrency < len(queueNames) {
		concurrency = len(queueNames)
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			err := s.consumer.Consume(groupCtx, queueName, s.processMessage)
			if err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

func (s *WorkerService) processMessage(ctx context.Context, msg queue.NotificationMessage) error {
	notification, err := s.outbox.ClaimByID(ctx, msg.NotificationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("notification not found during claim, skipping",
				zap.String("notificationId", msg.NotificationID),
			)
			return nil
		}
		return fmt.Errorf("failed to claim notification: %w", err)
	}

	// Nil means the row is already claimed or terminal; ack and skip.
	if notification == nil {
		return nil
	}

	return s.deliverer.Deliver(ctx, notification, msg.CorrelationID)
}
