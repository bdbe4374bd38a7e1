//go:generate mockgen -package=redis -destination=mock_auto_renew_mutex_test.go -source=auto_renew_mutex.go

package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// IAutoRenewMutex 分散式鎖，持有期間會自動續期
type IAutoRenewMutex interface {
	// Lock 阻塞直到取得鎖，回傳的 context 會在失去鎖時被取消
	Lock(ctx context.Context) (context.Context, error)
	Unlock() (bool, error)
	Valid() bool
}

type autoRenewMutexOptions struct {
	renewInterval time.Duration
	retryDelay    time.Duration
	expiry        time.Duration
	skipLockError bool
}

type AutoRenewMutexOption func(*autoRenewMutexOptions)

// WithAutoRenewMutexRenewInterval 設置續期間隔，預設為過期時間的 1/3
func WithAutoRenewMutexRenewInterval(d time.Duration) AutoRenewMutexOption {
	return func(o *autoRenewMutexOptions) {
		o.renewInterval = d
	}
}

// WithAutoRenewMutexRetryDelay 設置搶鎖失敗後的等待時間
func WithAutoRenewMutexRetryDelay(d time.Duration) AutoRenewMutexOption {
	return func(o *autoRenewMutexOptions) {
		o.retryDelay = d
	}
}

// WithAutoRenewMutexExpiry 設置鎖的過期時間
func WithAutoRenewMutexExpiry(d time.Duration) AutoRenewMutexOption {
	return func(o *autoRenewMutexOptions) {
		o.expiry = d
	}
}

// WithAutoRenewMutexSkipLockError Redis 通訊錯誤時繼續重試而不是回傳錯誤
func WithAutoRenewMutexSkipLockError(skip bool) AutoRenewMutexOption {
	return func(o *autoRenewMutexOptions) {
		o.skipLockError = skip
	}
}

// AutoRenewMutex 以 redsync 實作的自動續期鎖
// 用來確保同一個 consumer group 在同一時間只有一個 instance 在處理訊息
type AutoRenewMutex struct {
	mutex   *redsync.Mutex
	options autoRenewMutexOptions

	mu       sync.Mutex
	cancel   context.CancelFunc
	renewing bool
	wg       sync.WaitGroup
}

func NewAutoRenewMutex(client *redis.Client, key string, opts ...AutoRenewMutexOption) *AutoRenewMutex {
	// 默認選項
	options := autoRenewMutexOptions{
		expiry:     8 * time.Second,
		retryDelay: 500 * time.Millisecond,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}
	if options.expiry <= 0 {
		options.expiry = 8 * time.Second
	}
	if options.renewInterval <= 0 {
		options.renewInterval = options.expiry / 3
	}

	rs := redsync.New(goredis.NewPool(client))
	return &AutoRenewMutex{
		mutex: rs.NewMutex(
			key,
			redsync.WithExpiry(options.expiry),
			redsync.WithTries(1),
			redsync.WithRetryDelay(options.retryDelay),
		),
		options: options,
	}
}

func (m *AutoRenewMutex) Lock(ctx context.Context) (context.Context, error) {
	const op = "AutoRenewMutex.Lock"
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		err := m.mutex.LockContext(ctx)
		if err == nil {
			lockCtx, cancel := context.WithCancel(ctx)
			m.startAutoRenew(lockCtx, cancel)
			return lockCtx, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var redisErr *redsync.RedisError
		if !m.options.skipLockError && errors.As(err, &redisErr) {
			return nil, fmt.Errorf("[%s] Fail to acquire lock, err=%w", op, err)
		}
		timer.Reset(m.options.retryDelay)
	}
}

// Unlock 停止續期並釋放鎖
func (m *AutoRenewMutex) Unlock() (bool, error) {
	m.stopAutoRenew()
	m.wg.Wait()
	return m.mutex.Unlock()
}

// Valid 鎖還沒過期且仍在續期中
func (m *AutoRenewMutex) Valid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.renewing && time.Now().Before(m.mutex.Until())
}

func (m *AutoRenewMutex) startAutoRenew(ctx context.Context, cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancel = cancel
	if m.renewing {
		return
	}
	m.renewing = true

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.options.renewInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ok, err := m.mutex.ExtendContext(ctx); err != nil || !ok {
					// 續期失敗代表鎖可能已經被其他 instance 拿走
					m.stopAutoRenew()
					return
				}
			}
		}
	}()
}

func (m *AutoRenewMutex) stopAutoRenew() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renewing = false
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}
