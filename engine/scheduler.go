package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Expire 結束已經到期的商品，重複呼叫不會有任何效果
// 回傳此次呼叫是否真的結束了拍賣
func (e *Engine) Expire(ctx context.Context, itemID uuid.UUID) (bool, error) {
	var (
		event  Event
		closed bool
	)
	err := e.withItemLock(ctx, itemID, func(rec *record) error {
		event, closed = e.expireLocked(rec, e.clock.Now())
		return nil
	})
	if closed {
		e.publish(event)
	}
	return closed, err
}

// Sweep 結束所有到期但仍在進行中的商品，回傳結束的數量
// 暫時拿不到鎖的商品會留到下一次掃描
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	now := e.clock.Now()
	e.mu.RLock()
	due := make([]uuid.UUID, 0)
	for id, end := range e.open {
		if !now.Before(end) {
			due = append(due, id)
		}
	}
	e.mu.RUnlock()

	count := 0
	for _, id := range due {
		closed, err := e.Expire(ctx, id)
		switch {
		case err == nil:
		case errors.Is(err, ErrBusy), errors.Is(err, ErrItemNotFound):
			e.logger.Debug("Skip item in sweep", slog.String("itemID", id.String()), slog.Any("error", err))
			continue
		default:
			return count, err
		}
		if closed {
			count++
		}
	}
	return count, nil
}

// expireLocked 必須持有商品鎖，商品到期且仍在進行中時將其結束
// 得標者維持原本的 CurrentBidderID，沒有人出價時為 nil
func (e *Engine) expireLocked(rec *record, now time.Time) (Event, bool) {
	if !rec.item.IsActive || now.Before(rec.item.EndTime) {
		return Event{}, false
	}
	if rec.item.Type == Dutch {
		rec.item.CurrentPrice = CurrentPrice(rec.item, rec.item.EndTime)
	}
	rec.item.IsActive = false
	rec.item.Version++
	e.markClosed(rec.item.ID)

	winner := "none"
	if rec.item.CurrentBidderID != nil {
		winner = rec.item.CurrentBidderID.String()
	}
	e.logger.Info("Auction closed", slog.String("itemID", rec.item.ID.String()), slog.String("winner", winner))
	return newEvent(EventAuctionClosed, rec.item, now), true
}

type schedulerOptions struct {
	interval time.Duration
	logger   *slog.Logger
}

type SchedulerOption func(*schedulerOptions)

// WithSchedulerInterval 設置掃描間隔
func WithSchedulerInterval(d time.Duration) SchedulerOption {
	return func(o *schedulerOptions) {
		o.interval = d
	}
}

// WithSchedulerLogger 設置日誌記錄器
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(o *schedulerOptions) {
		o.logger = logger
	}
}

// Scheduler 定期結束到期的拍賣，即使之後沒有任何請求進來
type Scheduler struct {
	engine     *Engine
	options    schedulerOptions
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
}

func NewScheduler(engine *Engine, opts ...SchedulerOption) *Scheduler {
	options := schedulerOptions{
		interval: time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.interval <= 0 {
		options.interval = time.Second
	}
	return &Scheduler{
		engine:  engine,
		options: options,
		logger:  options.logger.With(slog.String("caller", "Scheduler")),
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFunc = cancel
	s.running = true
	s.logger.Info("Start lifecycle scheduler", slog.Duration("interval", s.options.interval))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.logger.Info("Lifecycle scheduler stopped")
		ticker := time.NewTicker(s.options.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				count, err := s.engine.Sweep(ctx)
				if err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Error("Fail to sweep expired auctions", slog.Any("error", err))
				}
				if count > 0 {
					s.logger.Debug("Expired auctions closed", slog.Int("count", count))
				}
			}
		}
	}()
}

func (s *Scheduler) Close() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancelFunc()
	s.mu.Unlock()
	s.wg.Wait()
}
