package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type consumerOptions[T any] struct {
	logger       *slog.Logger
	bufferSize   int
	blockTimeout time.Duration
	startID      string
	decodeFunc   func(map[string]any) (T, error)
}

type ConsumerOption[T any] func(*consumerOptions[T])

// WithConsumerLogger 設置日誌記錄器
func WithConsumerLogger[T any](logger *slog.Logger) ConsumerOption[T] {
	return func(o *consumerOptions[T]) {
		o.logger = logger
	}
}

// WithConsumerBufferSize 設置下游 channel 的緩衝大小
func WithConsumerBufferSize[T any](size int) ConsumerOption[T] {
	return func(o *consumerOptions[T]) {
		o.bufferSize = size
	}
}

// WithConsumerBlockTimeout 設置每次 XREAD 阻塞的時間
func WithConsumerBlockTimeout[T any](d time.Duration) ConsumerOption[T] {
	return func(o *consumerOptions[T]) {
		o.blockTimeout = d
	}
}

// WithConsumerStartID 設置開始讀取的位置，預設 "$" 只讀取啟動後的新訊息
func WithConsumerStartID[T any](id string) ConsumerOption[T] {
	return func(o *consumerOptions[T]) {
		o.startID = id
	}
}

// WithConsumerDecodeFunc 設置訊息的解析函數
func WithConsumerDecodeFunc[T any](fn func(map[string]any) (T, error)) ConsumerOption[T] {
	return func(o *consumerOptions[T]) {
		o.decodeFunc = fn
	}
}

// Consumer 不屬於任何 consumer group，每個 instance 都會收到 stream 上的每一則訊息
type Consumer[T any] struct {
	client  *redis.Client
	stream  string
	logger  *slog.Logger
	options consumerOptions[T]

	mu         sync.Mutex
	lastID     string
	downStream chan T
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	running    bool
}

func NewConsumer[T any](client *redis.Client, stream string, opts ...ConsumerOption[T]) (*Consumer[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream cannot be empty")
	}

	// 默認選項
	options := consumerOptions[T]{
		logger:       slog.Default(),
		bufferSize:   100,
		blockTimeout: time.Second,
		startID:      "$",
		decodeFunc:   DecodeMessage[T],
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &Consumer[T]{
		client:  client,
		stream:  stream,
		lastID:  options.startID,
		logger:  options.logger.With(slog.String("caller", "Consumer"), slog.String("stream", stream)),
		options: options,
	}, nil
}

func (c *Consumer[T]) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.downStream = make(chan T, c.options.bufferSize)
	c.cancelFunc = cancel
	c.running = true
	c.logger.Info("Start stream consumer")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.logger.Info("Stream consumer stopped")
		defer close(c.downStream)

		for ctx.Err() == nil {
			messages, err := c.read(ctx)
			if err != nil {
				if errors.Is(err, redis.Nil) || ctx.Err() != nil {
					continue
				}
				c.logger.Error("Fail to read stream", slog.Any("error", err))
				// 避免 Redis 無法連線時空轉
				select {
				case <-ctx.Done():
				case <-time.After(c.options.blockTimeout):
				}
				continue
			}
			for _, message := range messages {
				data, err := c.options.decodeFunc(message.Values)
				if err != nil {
					c.logger.Error("Fail to decode message", slog.String("messageID", message.ID), slog.Any("error", err))
					continue
				}
				select {
				case <-ctx.Done():
					return
				case c.downStream <- data:
				}
			}
		}
	}()
}

func (c *Consumer[T]) read(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := c.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{c.stream, c.lastID},
		Count:   int64(c.options.bufferSize),
		Block:   c.options.blockTimeout,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, redis.Nil
	}
	messages := streams[0].Messages
	c.lastID = messages[len(messages)-1].ID
	return messages, nil
}

// Subscribe 回傳解析後的資料，Close 之後 channel 會被關閉
func (c *Consumer[T]) Subscribe() <-chan T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.downStream
}

func (c *Consumer[T]) Close() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.cancelFunc()
	c.mu.Unlock()

	c.logger.Info("Closing stream consumer")
	c.wg.Wait()
	c.logger.Info("Stream consumer closed")
}
