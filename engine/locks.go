package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// LockArena 以商品 ID 為單位的互斥鎖集合
//
// 每個商品各自持有一把鎖，不同商品的出價可以完全平行處理。
// 取得鎖的順序就是出價被受理的順序(先受理者勝)，而不是客戶端送出的順序。
type LockArena struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*semaphore.Weighted
}

func NewLockArena() *LockArena {
	return &LockArena{
		locks: make(map[uuid.UUID]*semaphore.Weighted),
	}
}

func (a *LockArena) handle(id uuid.UUID) *semaphore.Weighted {
	a.mu.Lock()
	defer a.mu.Unlock()
	lock, ok := a.locks[id]
	if !ok {
		lock = semaphore.NewWeighted(1)
		a.locks[id] = lock
	}
	return lock
}

// Acquire 取得商品的鎖，最多等到 ctx 結束為止
// 成功時回傳釋放函式，呼叫端必須呼叫且只能呼叫一次
func (a *LockArena) Acquire(ctx context.Context, id uuid.UUID) (func(), error) {
	lock := a.handle(id)
	if err := lock.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() { lock.Release(1) })
	}, nil
}

// TryAcquire 嘗試取得商品的鎖，不等待
func (a *LockArena) TryAcquire(id uuid.UUID) (func(), bool) {
	lock := a.handle(id)
	if !lock.TryAcquire(1) {
		return nil, false
	}
	var once sync.Once
	return func() {
		once.Do(func() { lock.Release(1) })
	}, true
}

// Forget 移除商品的鎖，只在商品被刪除後呼叫
func (a *LockArena) Forget(id uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.locks, id)
}

// Len 目前持有的鎖數量
func (a *LockArena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.locks)
}
