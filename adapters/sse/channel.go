package sse

import (
	"sync"
)

// Channel 將訊息廣播給同一個主題的所有訂閱者
//
// 每個訂閱者有自己的緩衝區，緩衝區滿的訂閱者會漏掉該則訊息，
// 不會拖慢其他訂閱者或上游。
type Channel[T any] struct {
	bufferSize  int
	mu          sync.RWMutex
	subscribers map[<-chan T]chan T
}

func NewChannel[T any](bufferSize int) *Channel[T] {
	return &Channel[T]{
		bufferSize:  max(0, bufferSize),
		subscribers: make(map[<-chan T]chan T),
	}
}

func (c *Channel[T]) Subscribe() <-chan T {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan T, c.bufferSize)
	c.subscribers[ch] = ch
	return ch
}

func (c *Channel[T]) Unsubscribe(ch <-chan T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if writeCh, ok := c.subscribers[ch]; ok {
		delete(c.subscribers, ch)
		close(writeCh)
	}
}

func (c *Channel[T]) UnsubscribeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, writeCh := range c.subscribers {
		close(writeCh)
	}
	clear(c.subscribers)
}

func (c *Channel[T]) Broadcast(message T) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dropped := 0
	for _, writeCh := range c.subscribers {
		select {
		case writeCh <- message:
		default:
			dropped++
		}
	}
	return dropped
}

func (c *Channel[T]) IsIdle() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscribers) == 0
}
