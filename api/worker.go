package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	redisAdapter "bidcore/adapters/redis"
	"bidcore/engine"

	"github.com/cenkalti/backoff/v4"
)

// EventApplier 將事件寫入持久層，*database.Repository 滿足這個介面
type EventApplier interface {
	Apply(ctx context.Context, event engine.Event) error
}

// Acknowledger 處理完訊息後回報結果，*redis.Message 滿足這個介面
type Acknowledger interface {
	Done(ctx context.Context) error
	Fail(ctx context.Context, cause error) error
}

// applyRetryPolicy 每則訊息寫入失敗時的重試策略，用盡後才移到 dead-letter stream
func applyRetryPolicy() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = 0
	return backoff.WithMaxRetries(policy, 5)
}

func (s *Server) startPersistence() error {
	if err := s.groupConsumer.Start(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFunc = cancel
	s.logger.Info("Start event persistence worker")
	s.wg.Add(1)
	go func() {
		logger := s.logger.With(slog.String("caller", "EventPersistence"))
		defer s.wg.Done()
		defer logger.Info("Event persistence worker stopped")
		ch := s.groupConsumer.Subscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				persist(ctx, logger, s.repository, msg.Data, msg, s.applyRetry())
			}
		}
	}()
	return nil
}

// persist 寫入一個事件，暫時性的錯誤會依 policy 重試，重試用盡的訊息會被移到 dead-letter stream
// worker 被停止時訊息保持 pending，下次啟動會重新讀取
func persist(ctx context.Context, logger *slog.Logger, applier EventApplier, event engine.Event, ack Acknowledger, policy backoff.BackOff) {
	logger.Debug("Receive event", slog.String("kind", string(event.Kind)), slog.String("itemID", event.ItemID.String()))
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := applier.Apply(ctx, event)
		if err != nil && ctx.Err() == nil {
			logger.Warn("Fail to persist event, retrying", slog.Int("attempt", attempt), slog.Any("error", err))
		}
		return err
	}, backoff.WithContext(policy, ctx))
	if ctx.Err() != nil {
		logger.Info("Persistence stopped before event was written", slog.String("itemID", event.ItemID.String()))
		return
	}
	if err != nil {
		logger.Error("Fail to persist event", slog.Int("attempts", attempt), slog.Any("error", err))
		if err := ack.Fail(ctx, err); err != nil {
			logger.Error("Fail to fail message", slog.Any("error", err))
		}
		return
	}
	if err := ack.Done(ctx); err != nil {
		logger.Error("Persist success but fail to done message", slog.Any("error", err))
		if err := ack.Fail(ctx, fmt.Errorf("ack: %w", err)); err != nil {
			logger.Error("Persist success but fail to fail message", slog.Any("error", err))
		}
		return
	}
	logger.Debug("Persist success")
}

var _ Acknowledger = (*redisAdapter.Message[engine.Event])(nil)
