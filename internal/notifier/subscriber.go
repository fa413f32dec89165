// Package notifier delivers remote dataset changes made from other devices
// into the reconciliation engine. It is a thin subscription wrapper over the
// per-user topic feed, with redis-backed duplicate suppression.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"dailydrive/internal/mq"
)

const dedupHandler = "dataset.updated"

type Subscriber struct {
	url      string
	deviceID string
	deduper  *Deduper
	logger   *zap.Logger
}

func NewSubscriber(url, deviceID string, deduper *Deduper, logger *zap.Logger) *Subscriber {
	return &Subscriber{
		url:      url,
		deviceID: deviceID,
		deduper:  deduper,
		logger:   logger,
	}
}

// Subscribe starts delivering the user's dataset change events to onChange
// and returns the unsubscription handle. The handle is idempotent and safe
// to call multiple times.
func (s *Subscriber) Subscribe(userID string, onChange func(mq.DatasetUpdatedPayload)) (func(), error) {
	queueName := fmt.Sprintf("dataset.updated.%s.%s", userID, s.deviceID)
	consumer, err := mq.NewConsumer(s.url, mq.DatasetRoutingKey(userID), queueName)
	if err != nil {
		return nil, fmt.Errorf("subscribing to dataset changes: %w", err)
	}

	consumer.SetHandler(func(ctx context.Context, raw json.RawMessage) error {
		var p mq.DatasetUpdatedPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			s.logger.Error("Failed to unmarshal dataset change event", zap.Error(err))
			return err
		}

		if !s.deduper.AcquireOnce(ctx, dedupHandler, p.EventID) {
			s.logger.Debug("Skipping duplicate dataset change event",
				zap.String("event_id", p.EventID),
			)
			return nil
		}

		onChange(p)
		return nil
	})

	go func() {
		if err := consumer.StartConsuming(); err != nil {
			s.logger.Warn("Dataset change consumer stopped", zap.Error(err))
		}
	}()

	s.logger.Info("Subscribed to dataset changes",
		zap.String("user_id", userID),
		zap.String("queue", queueName),
	)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			consumer.Close()
			s.logger.Info("Unsubscribed from dataset changes", zap.String("user_id", userID))
		})
	}
	return unsubscribe, nil
}
