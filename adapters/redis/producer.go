package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/smallnest/chanx"
)

var ErrProducerClosed = errors.New("producer is closed")

type producerOptions[T any] struct {
	logger     *slog.Logger
	bufferSize int
	maxLen     int64
	encodeFunc func(T) (map[string]any, error)
}

type ProducerOption[T any] func(*producerOptions[T])

// WithProducerLogger 設置日誌記錄器
func WithProducerLogger[T any](logger *slog.Logger) ProducerOption[T] {
	return func(o *producerOptions[T]) {
		o.logger = logger
	}
}

// WithProducerBufferSize 設置內部佇列的初始容量
func WithProducerBufferSize[T any](size int) ProducerOption[T] {
	return func(o *producerOptions[T]) {
		o.bufferSize = size
	}
}

// WithProducerMaxLen 設置 stream 的近似長度上限，0 代表不修剪
func WithProducerMaxLen[T any](n int64) ProducerOption[T] {
	return func(o *producerOptions[T]) {
		o.maxLen = n
	}
}

// WithProducerEncodeFunc 設置訊息的序列化函數
func WithProducerEncodeFunc[T any](fn func(T) (map[string]any, error)) ProducerOption[T] {
	return func(o *producerOptions[T]) {
		o.encodeFunc = fn
	}
}

// Producer 將資料非同步地寫入 Redis stream
//
// Publish 只負責序列化並放進無上限的佇列，不會等待 Redis。
// 寫入順序與 Publish 的呼叫順序相同，Close 會等佇列中的訊息都寫完才返回。
type Producer[T any] struct {
	client  *redis.Client
	stream  string
	logger  *slog.Logger
	options producerOptions[T]

	mu         sync.RWMutex
	upstream   *chanx.UnboundedChan[map[string]any]
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	running    bool
}

func NewProducer[T any](client *redis.Client, stream string, opts ...ProducerOption[T]) (*Producer[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream cannot be empty")
	}

	// 默認選項
	options := producerOptions[T]{
		logger:     slog.Default(),
		bufferSize: 100,
		encodeFunc: EncodeMessage[T],
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &Producer[T]{
		client:  client,
		stream:  stream,
		logger:  options.logger.With(slog.String("caller", "Producer"), slog.String("stream", stream)),
		options: options,
	}, nil
}

func (p *Producer[T]) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.upstream = chanx.NewUnboundedChan[map[string]any](ctx, p.options.bufferSize)
	p.cancelFunc = cancel
	p.running = true
	p.logger.Info("Start stream producer")

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.logger.Info("Stream producer stopped")
		// In 關閉後 chanx 會先送完緩衝中的訊息再關閉 Out
		for values := range p.upstream.Out {
			p.write(ctx, values)
		}
	}()
}

func (p *Producer[T]) write(ctx context.Context, values map[string]any) {
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: values,
	}
	if p.options.maxLen > 0 {
		args.MaxLen = p.options.maxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		p.logger.Error("Fail to append message", slog.Any("error", err))
		return
	}
	p.logger.Debug("Message appended", slog.String("messageID", id))
}

// Publish 將資料放進佇列，Producer 尚未啟動或已關閉時回傳 ErrProducerClosed
func (p *Producer[T]) Publish(data T) error {
	const op = "Producer.Publish"
	values, err := p.options.encodeFunc(data)
	if err != nil {
		return fmt.Errorf("[%s] Fail to encode message, err=%w", op, err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return ErrProducerClosed
	}
	p.upstream.In <- values
	return nil
}

func (p *Producer[T]) Close() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.upstream.In)
	p.mu.Unlock()

	p.logger.Info("Closing stream producer")
	p.wg.Wait()
	p.cancelFunc()
	p.logger.Info("Stream producer closed")
}
