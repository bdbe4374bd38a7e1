package engine

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Clock 提供拍賣計算所使用的時間
type Clock interface {
	Now() time.Time
}

// SystemClock 使用系統時間，同一個 process 內不會倒退
type SystemClock struct {
	mu   sync.Mutex
	last time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{}
}

func (c *SystemClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if now.Before(c.last) {
		return c.last
	}
	c.last = now
	return now
}

// ManualClock 手動控制的時間，主要用於測試
type ManualClock struct {
	mu  sync.RWMutex
	now time.Time
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Set 設定目前時間
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance 將時間往後推進 d
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// DisplayClock 用於倒數顯示的時間，會以伺服器提供的時間校正本地時鐘的偏差
//
// 偏差只在第一次收到伺服器時間時計算，之後的提示都會被忽略，
// 避免網路延遲不同造成倒數跳動。
type DisplayClock struct {
	local Clock

	mu         sync.RWMutex
	offset     time.Duration
	reconciled bool
}

func NewDisplayClock(local Clock) *DisplayClock {
	if local == nil {
		local = NewSystemClock()
	}
	return &DisplayClock{local: local}
}

// Reconcile 以伺服器時間計算偏差，回傳是否為第一次校正
func (c *DisplayClock) Reconcile(serverHint time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reconciled {
		return false
	}
	c.offset = serverHint.Sub(c.local.Now())
	c.reconciled = true
	return true
}

// Offset 目前使用的偏差
func (c *DisplayClock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

func (c *DisplayClock) Now() time.Time {
	return c.local.Now().Add(c.Offset())
}

// Remaining 距離 end 還剩下多少時間，不會是負數
func (c *DisplayClock) Remaining(end time.Time) time.Duration {
	return max(0, end.Sub(c.Now()))
}

// FormatRemaining 將剩餘時間格式化成倒數字串，例如 "1d 2h 3m 4s"
func FormatRemaining(d time.Duration) string {
	s := int64(max(0, d) / time.Second)
	days := s / 86400
	s %= 86400
	hours := s / 3600
	s %= 3600
	minutes := s / 60
	s %= 60

	parts := make([]string, 0, 4)
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	parts = append(parts, fmt.Sprintf("%dh", hours), fmt.Sprintf("%dm", minutes), fmt.Sprintf("%ds", s))
	return strings.Join(parts, " ")
}
