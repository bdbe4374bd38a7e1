package sse

import (
	"errors"
	"log/slog"
	"sync"
)

var ErrManagerClosed = errors.New("sse manager is closed")

type managerOptions struct {
	logger     *slog.Logger
	bufferSize int
}

type ManagerOption func(*managerOptions)

// WithManagerLogger 設置日誌記錄器
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(o *managerOptions) {
		o.logger = logger
	}
}

// WithManagerBufferSize 設置每個訂閱者的緩衝大小
func WithManagerBufferSize(size int) ManagerOption {
	return func(o *managerOptions) {
		o.bufferSize = size
	}
}

// Manager 依主題分送訊息給 SSE 連線
//
// 訊息可以來自 Start 的 source(例如跨 instance 的 Redis stream)，
// 也可以透過 Publish 直接在本地分送。topicOf 決定訊息屬於哪個主題。
type Manager[T any] struct {
	topicOf func(T) string
	logger  *slog.Logger
	options managerOptions

	mu       sync.RWMutex
	wg       sync.WaitGroup
	active   bool
	done     chan struct{}
	channels map[string]*Channel[T]
}

func NewManager[T any](topicOf func(T) string, opts ...ManagerOption) *Manager[T] {
	// 默認選項
	options := managerOptions{
		logger:     slog.Default(),
		bufferSize: 16,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &Manager[T]{
		topicOf:  topicOf,
		logger:   options.logger.With(slog.String("caller", "SSEManager")),
		options:  options,
		active:   true,
		done:     make(chan struct{}),
		channels: make(map[string]*Channel[T]),
	}
}

func (m *Manager[T]) Start(source <-chan T) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.active || source == nil {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-m.done:
				return
			case data, ok := <-source:
				if !ok {
					return
				}
				m.dispatch(data)
			}
		}
	}()
}

func (m *Manager[T]) dispatch(data T) {
	topic := m.topicOf(data)
	m.mu.RLock()
	channel, ok := m.channels[topic]
	m.mu.RUnlock()
	if !ok {
		return
	}
	if dropped := channel.Broadcast(data); dropped > 0 {
		m.logger.Warn("Slow subscribers skipped a message", slog.String("topic", topic), slog.Int("dropped", dropped))
	}
}

func (m *Manager[T]) Publish(data T) error {
	m.mu.RLock()
	active := m.active
	m.mu.RUnlock()
	if !active {
		return ErrManagerClosed
	}
	m.dispatch(data)
	return nil
}

func (m *Manager[T]) Subscribe(topic string) (<-chan T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return nil, ErrManagerClosed
	}
	channel, ok := m.channels[topic]
	if !ok {
		channel = NewChannel[T](m.options.bufferSize)
		m.channels[topic] = channel
	}
	return channel.Subscribe(), nil
}

func (m *Manager[T]) Unsubscribe(topic string, ch <-chan T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	channel, ok := m.channels[topic]
	if !ok {
		return
	}
	channel.Unsubscribe(ch)
	if channel.IsIdle() {
		delete(m.channels, topic)
	}
}

func (m *Manager[T]) Done() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	m.active = false
	close(m.done)
	m.mu.Unlock()

	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, channel := range m.channels {
		channel.UnsubscribeAll()
	}
	clear(m.channels)
	m.logger.Info("SSE manager stopped")
}
