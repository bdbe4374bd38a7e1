package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingPageSize = 100

// Message 從 consumer group 收到的一則訊息，處理完必須呼叫 Done 或 Fail
type Message[T any] struct {
	ID   string
	Data T

	client *redis.Client
	stream string
	group  string
	values map[string]any

	mu   sync.Mutex
	done bool
}

// Done 確認訊息已處理完成
func (m *Message[T]) Done(ctx context.Context) error {
	const op = "Message.Done"
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return nil
	}
	if err := m.client.XAck(ctx, m.stream, m.group, m.ID).Err(); err != nil {
		return fmt.Errorf("[%s] Fail to ack message, err=%w", op, err)
	}
	m.done = true
	return nil
}

// Fail 將訊息連同錯誤原因移到 dead-letter stream，然後確認原訊息
func (m *Message[T]) Fail(ctx context.Context, cause error) error {
	const op = "Message.Fail"
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return nil
	}
	if err := moveToDeadLetter(ctx, m.client, m.stream, m.group, m.ID, m.values, cause); err != nil {
		return fmt.Errorf("[%s] Fail to dead-letter message, err=%w", op, err)
	}
	m.done = true
	return nil
}

func deadLetterStream(stream string) string {
	return stream + ":dead-letter"
}

func moveToDeadLetter(ctx context.Context, client *redis.Client, stream, group, id string, values map[string]any, cause error) error {
	dead := make(map[string]any, len(values)+2)
	for k, v := range values {
		dead[k] = v
	}
	dead["source_id"] = id
	if cause != nil {
		dead["error"] = cause.Error()
	}
	if err := client.XAdd(ctx, &redis.XAddArgs{Stream: deadLetterStream(stream), Values: dead}).Err(); err != nil {
		return err
	}
	return client.XAck(ctx, stream, group, id).Err()
}

type groupConsumerOptions[T any] struct {
	logger         *slog.Logger
	decodeFunc     func(map[string]any) (T, error)
	bufferSize     int
	blockTimeout   time.Duration
	mutex          IAutoRenewMutex
	strictOrdering bool
	createGroup    bool
}

type GroupConsumerOption[T any] func(*groupConsumerOptions[T])

// WithGroupConsumerLogger 設置日誌記錄器
func WithGroupConsumerLogger[T any](logger *slog.Logger) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.logger = logger
	}
}

// WithGroupConsumerDecodeFunc 設置訊息的解析函數
func WithGroupConsumerDecodeFunc[T any](fn func(map[string]any) (T, error)) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.decodeFunc = fn
	}
}

// WithGroupConsumerBufferSize 設置下游 channel 的緩衝大小
func WithGroupConsumerBufferSize[T any](size int) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.bufferSize = size
	}
}

// WithGroupConsumerBlockTimeout 設置每次 XREADGROUP 阻塞的時間
func WithGroupConsumerBlockTimeout[T any](d time.Duration) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.blockTimeout = d
	}
}

// WithGroupConsumerMutex 注入嚴格順序模式使用的鎖
func WithGroupConsumerMutex[T any](mutex IAutoRenewMutex) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.mutex = mutex
	}
}

// WithGroupConsumerStrictOrdering 嚴格順序模式
//
// 同一個 group 只有持有鎖的 instance 會讀取訊息，而且每一輪開始時會先重新處理
// 尚未確認的 pending 訊息，保證訊息依照 stream 中的順序被處理。
func WithGroupConsumerStrictOrdering[T any](strict bool) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.strictOrdering = strict
	}
}

// WithGroupConsumerCreateGroup 啟動時建立 consumer group(以及不存在的 stream)
func WithGroupConsumerCreateGroup[T any](create bool) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.createGroup = create
	}
}

type GroupConsumer[T any] struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	logger   *slog.Logger
	mutex    IAutoRenewMutex
	options  groupConsumerOptions[T]

	mu         sync.Mutex
	downStream chan *Message[T]
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	running    bool

	pendingIDs []string // 只由 consumer goroutine 存取
}

func NewGroupConsumer[T any](
	client *redis.Client,
	stream, group, consumer string,
	opts ...GroupConsumerOption[T],
) (*GroupConsumer[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" || group == "" || consumer == "" {
		return nil, errors.New("stream, group and consumer cannot be empty")
	}

	// 默認選項
	options := groupConsumerOptions[T]{
		logger:       slog.Default(),
		decodeFunc:   DecodeMessage[T],
		bufferSize:   1,
		blockTimeout: time.Second,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	gc := &GroupConsumer[T]{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		logger: options.logger.With(
			slog.String("caller", "GroupConsumer"),
			slog.String("stream", stream),
			slog.String("group", group),
			slog.String("consumer", consumer),
		),
		options: options,
	}
	if options.strictOrdering {
		gc.mutex = options.mutex
		if gc.mutex == nil {
			gc.mutex = NewAutoRenewMutex(client, fmt.Sprintf("lock:%s:%s", stream, group), WithAutoRenewMutexSkipLockError(true))
		}
	}
	return gc, nil
}

// Start 開始讀取訊息，建立 group 失敗時回傳錯誤
func (s *GroupConsumer[T]) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if s.options.createGroup {
		if err := s.ensureGroup(context.Background()); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.downStream = make(chan *Message[T], s.options.bufferSize)
	s.cancelFunc = cancel
	s.running = true
	s.logger.Info("Start group consumer", slog.Bool("strictOrdering", s.options.strictOrdering))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.logger.Info("Group consumer stopped")
		defer close(s.downStream)
		s.run(ctx)
	}()
	return nil
}

func (s *GroupConsumer[T]) ensureGroup(ctx context.Context) error {
	const op = "GroupConsumer.ensureGroup"
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("[%s] Fail to create consumer group, err=%w", op, err)
	}
	return nil
}

func (s *GroupConsumer[T]) run(ctx context.Context) {
	for ctx.Err() == nil {
		workCtx := ctx
		if s.options.strictOrdering {
			// 持有鎖期間的 context，失去鎖時會被取消
			lockCtx, err := s.mutex.Lock(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Error("Fail to acquire consumer lock", slog.Any("error", err))
				s.pause(ctx)
				continue
			}
			workCtx = lockCtx
		}

		err := s.consume(workCtx)
		if s.options.strictOrdering {
			if _, unlockErr := s.mutex.Unlock(); unlockErr != nil {
				s.logger.Debug("Fail to release consumer lock", slog.Any("error", unlockErr))
			}
		}
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, context.Canceled):
			s.logger.Warn("Consumer lock lost, restart consuming")
		case err != nil:
			s.logger.Error("Fail to consume messages, restart consuming", slog.Any("error", err))
			s.pause(ctx)
		}
	}
}

func (s *GroupConsumer[T]) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(s.options.blockTimeout):
	}
}

// consume 持續讀取訊息直到 ctx 結束或無法恢復的錯誤
func (s *GroupConsumer[T]) consume(ctx context.Context) error {
	s.pendingIDs = nil
	if s.options.strictOrdering {
		if err := s.loadPendingIDs(ctx); err != nil {
			return err
		}
	}
	for {
		if ctx.Err() != nil {
			return context.Canceled
		}
		message, err := s.next(ctx)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return context.Canceled
			}
			// Redis 暫時無法連線，稍後重試
			s.logger.Error("Fail to read group stream", slog.Any("error", err))
			s.pause(ctx)
			continue
		}

		data, err := s.options.decodeFunc(message.Values)
		if err != nil {
			// 無法解析的訊息重試也不會成功，移到 dead-letter 後繼續處理下一則
			s.logger.Error("Fail to decode message", slog.String("messageID", message.ID), slog.Any("error", err))
			if dlErr := moveToDeadLetter(ctx, s.client, s.stream, s.group, message.ID, message.Values, err); dlErr != nil {
				// 訊息會以 pending 的狀態留在 stream，嚴格順序模式下一輪會再處理
				return fmt.Errorf("fail to dead-letter message %s: %w", message.ID, dlErr)
			}
			continue
		}

		msg := &Message[T]{
			ID:     message.ID,
			Data:   data,
			client: s.client,
			stream: s.stream,
			group:  s.group,
			values: message.Values,
		}
		select {
		case <-ctx.Done():
			return context.Canceled
		case s.downStream <- msg:
		}
	}
}

func (s *GroupConsumer[T]) loadPendingIDs(ctx context.Context) error {
	const op = "GroupConsumer.loadPendingIDs"
	start := "-"
	for {
		pending, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: s.stream,
			Group:  s.group,
			Start:  start,
			End:    "+",
			Count:  pendingPageSize,
		}).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return fmt.Errorf("[%s] Fail to list pending messages, err=%w", op, err)
		}
		for _, p := range pending {
			s.pendingIDs = append(s.pendingIDs, p.ID)
		}
		if len(pending) < pendingPageSize {
			break
		}
		// 下一頁從最後一筆之後開始
		start = "(" + pending[len(pending)-1].ID
	}
	if len(s.pendingIDs) > 0 {
		s.logger.Info("Replay pending messages", slog.Int("count", len(s.pendingIDs)))
	}
	return nil
}

func (s *GroupConsumer[T]) next(ctx context.Context) (redis.XMessage, error) {
	if len(s.pendingIDs) > 0 {
		id := s.pendingIDs[0]
		messages, err := s.client.XRangeN(ctx, s.stream, id, id, 1).Result()
		if err != nil {
			return redis.XMessage{}, err
		}
		s.pendingIDs = s.pendingIDs[1:]
		if len(messages) == 0 {
			// 訊息已經被修剪掉
			if err := s.client.XAck(ctx, s.stream, s.group, id).Err(); err != nil {
				s.logger.Warn("Fail to ack trimmed message", slog.String("messageID", id), slog.Any("error", err))
			}
			return redis.XMessage{}, redis.Nil
		}
		return messages[0], nil
	}

	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, ">"},
		Count:    1,
		Block:    s.options.blockTimeout,
	}).Result()
	if err != nil {
		return redis.XMessage{}, err
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return redis.XMessage{}, redis.Nil
	}
	return streams[0].Messages[0], nil
}

// Subscribe 回傳訊息 channel，Close 之後 channel 會被關閉
func (s *GroupConsumer[T]) Subscribe() <-chan *Message[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downStream
}

func (s *GroupConsumer[T]) Close() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancelFunc()
	s.mu.Unlock()

	s.logger.Info("Closing group consumer")
	s.wg.Wait()
	s.logger.Info("Group consumer closed")
	return nil
}
