package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bidcore/adapters/database"
	natsAdapter "bidcore/adapters/nats"
	redisAdapter "bidcore/adapters/redis"
	"bidcore/adapters/sse"
	"bidcore/engine"

	"github.com/cenkalti/backoff/v4"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type serverOptions struct {
	logger     *slog.Logger
	clock      engine.Clock
	db         *gorm.DB
	keepAlive  time.Duration
	applyRetry func() backoff.BackOff
}

type ServerOption func(*serverOptions)

// WithServerLogger 設置日誌記錄器
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = logger
	}
}

// WithServerClock 設置引擎使用的時間來源
func WithServerClock(clock engine.Clock) ServerOption {
	return func(o *serverOptions) {
		o.clock = clock
	}
}

// WithDatabase 使用已建立的資料庫連線，優先於 DBConfig，連線由呼叫端負責關閉
func WithDatabase(db *gorm.DB) ServerOption {
	return func(o *serverOptions) {
		o.db = db
	}
}

// WithSSEKeepAlive 設置 SSE 沒有事件時送出空白訊息的間隔
func WithSSEKeepAlive(d time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.keepAlive = d
	}
}

// WithApplyRetry 設置持久化寫入失敗時的重試策略，每則訊息都會呼叫一次取得新的策略
func WithApplyRetry(policy func() backoff.BackOff) ServerOption {
	return func(o *serverOptions) {
		o.applyRetry = policy
	}
}

type Server struct {
	engine      *engine.Engine
	scheduler   *engine.Scheduler
	sseManager  sse.IManager[engine.Event]
	htmlChecker *bluemonday.Policy
	logger      *slog.Logger
	keepAlive   time.Duration

	redisClient   *redis.Client
	producer      redisAdapter.IProducer[engine.Event]
	consumer      redisAdapter.IConsumer[engine.Event]
	groupConsumer redisAdapter.IGroupConsumer[engine.Event]
	bus           *natsAdapter.Bus
	stopBus       func()
	db            *gorm.DB
	ownsDB        bool
	repository    *database.Repository
	applyRetry    func() backoff.BackOff

	wg         sync.WaitGroup
	cancelFunc context.CancelFunc
	closeOnce  sync.Once

	config ServerConfig
}

func NewServer(config ServerConfig, opts ...ServerOption) (*Server, error) {
	const op = "NewServer"

	// 默認選項
	options := serverOptions{
		logger:     slog.Default(),
		keepAlive:  30 * time.Second,
		applyRetry: applyRetryPolicy,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	s := &Server{
		htmlChecker: bluemonday.UGCPolicy(),
		logger:      options.logger.With(slog.String("caller", "Server")),
		keepAlive:   options.keepAlive,
		applyRetry:  options.applyRetry,
		config:      config,
	}

	// 初始化SSE管理器
	s.sseManager = sse.NewManager[engine.Event](
		func(event engine.Event) string { return event.ItemID.String() },
		sse.WithManagerLogger(options.logger),
	)
	sinks := make([]engine.EventSink, 0, 3)

	// 初始化Redis連線以及事件串流
	if config.Redis.Addr != "" {
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		producer, err := redisAdapter.NewProducer[engine.Event](
			s.redisClient,
			config.Redis.StreamKeys.Events,
			redisAdapter.WithProducerLogger[engine.Event](options.logger),
			redisAdapter.WithProducerEncodeFunc(redisAdapter.EncodeEvent),
			redisAdapter.WithProducerMaxLen[engine.Event](config.Redis.StreamMaxLen),
		)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create producer, err=%w", op, err)
		}
		s.producer = producer
		sinks = append(sinks, producer)
	}

	// 初始化NATS連線
	if config.NATS.URL != "" {
		conn, err := nats.Connect(config.NATS.URL, nats.Name("bidcore-"+config.ID))
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to connect to NATS, err=%w", op, err)
		}
		busOpts := []natsAdapter.BusOption{natsAdapter.WithBusLogger(options.logger)}
		if config.NATS.SubjectPrefix != "" {
			busOpts = append(busOpts, natsAdapter.WithSubjectPrefix(config.NATS.SubjectPrefix))
		}
		bus, err := natsAdapter.NewBus(conn, busOpts...)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create NATS bus, err=%w", op, err)
		}
		s.bus = bus
		sinks = append(sinks, bus)
	} else if s.redisClient != nil {
		// 沒有NATS時由Redis stream廣播給所有實例的SSE
		consumer, err := redisAdapter.NewConsumer[engine.Event](
			s.redisClient,
			config.Redis.StreamKeys.Events,
			redisAdapter.WithConsumerLogger[engine.Event](options.logger),
			redisAdapter.WithConsumerDecodeFunc(redisAdapter.DecodeEvent),
		)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create consumer, err=%w", op, err)
		}
		s.consumer = consumer
	} else {
		// 單機模式直接在本地分送
		sinks = append(sinks, engine.EventSinkFunc(s.sseManager.Publish))
	}

	// 初始化資料庫連線
	s.db = options.db
	if s.db == nil && config.DB.Host != "" {
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s", config.DB.User, config.DB.Password, config.DB.Host, config.DB.Port, config.DB.Database, config.DB.Schema)
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			TranslateError: true,
		})
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
		}
		s.db = db
		s.ownsDB = true
	}
	if s.db != nil {
		if s.redisClient == nil {
			return nil, fmt.Errorf("[%s] Persistence requires a redis event stream", op)
		}
		s.repository = database.NewRepository(s.db, database.WithRepositoryLogger(options.logger))

		// 初始化group consumer
		groupConsumer, err := redisAdapter.NewGroupConsumer[engine.Event](
			s.redisClient,
			config.Redis.StreamKeys.Events,
			config.Redis.ConsumerGroup,
			config.ID,
			redisAdapter.WithGroupConsumerLogger[engine.Event](options.logger),
			redisAdapter.WithGroupConsumerDecodeFunc(redisAdapter.DecodeEvent),
			redisAdapter.WithGroupConsumerStrictOrdering[engine.Event](true),
			redisAdapter.WithGroupConsumerCreateGroup[engine.Event](true),
		)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create group consumer, err=%w", op, err)
		}
		s.groupConsumer = groupConsumer
	}

	// 初始化拍賣引擎
	engineOpts := []engine.Option{
		engine.WithLogger(options.logger),
		engine.WithEventSink(engine.MultiSink(sinks...)),
	}
	if options.clock != nil {
		engineOpts = append(engineOpts, engine.WithClock(options.clock))
	}
	if config.Engine.LockWait > 0 {
		engineOpts = append(engineOpts, engine.WithLockWait(config.Engine.LockWait))
	}
	if config.Engine.BusyRetries > 0 {
		engineOpts = append(engineOpts, engine.WithBusyRetries(config.Engine.BusyRetries))
	}
	s.engine = engine.NewEngine(engineOpts...)

	schedulerOpts := []engine.SchedulerOption{engine.WithSchedulerLogger(options.logger)}
	if config.Engine.SweepInterval > 0 {
		schedulerOpts = append(schedulerOpts, engine.WithSchedulerInterval(config.Engine.SweepInterval))
	}
	s.scheduler = engine.NewScheduler(s.engine, schedulerOpts...)

	return s, nil
}

// Engine 伺服器使用的拍賣引擎
func (s *Server) Engine() *engine.Engine {
	return s.engine
}

func (s *Server) Start() error {
	const op = "Server.Start"
	ctx := context.Background()

	// 從資料庫還原拍賣狀態
	if s.repository != nil {
		if err := s.repository.Migrate(ctx); err != nil {
			return fmt.Errorf("[%s] Fail to migrate database, err=%w", op, err)
		}
		if _, err := s.repository.Hydrate(ctx, s.engine); err != nil {
			return fmt.Errorf("[%s] Fail to hydrate engine, err=%w", op, err)
		}
	}

	// 啟動producer
	if s.producer != nil {
		s.producer.Start()
	}
	// 啟動sse connection manager
	switch {
	case s.bus != nil:
		events, stop, err := s.bus.Subscribe(64)
		if err != nil {
			return fmt.Errorf("[%s] Fail to subscribe NATS bus, err=%w", op, err)
		}
		s.stopBus = stop
		s.sseManager.Start(events)
	case s.consumer != nil:
		s.consumer.Start()
		s.sseManager.Start(s.consumer.Subscribe())
	}
	// 啟動一個worker用於將事件寫回資料庫
	if s.groupConsumer != nil {
		if err := s.startPersistence(); err != nil {
			return fmt.Errorf("[%s] Fail to start persistence worker, err=%w", op, err)
		}
	}
	// 啟動拍賣結束排程
	s.scheduler.Start()
	return nil
}

func (s *Server) Close() {
	s.closeOnce.Do(func() {
		// 停止排程，之後不會再產生結束事件
		s.scheduler.Close()
		// 關閉producer，緩衝中的事件會先寫入stream
		if s.producer != nil {
			s.producer.Close()
		}
		// 關閉group consumer與worker
		if s.groupConsumer != nil {
			if err := s.groupConsumer.Close(); err != nil {
				s.logger.Warn("Fail to close group consumer", slog.Any("error", err))
			}
		}
		if s.cancelFunc != nil {
			s.cancelFunc()
		}
		s.wg.Wait()
		// 關閉consumer
		if s.consumer != nil {
			s.consumer.Close()
		}
		if s.stopBus != nil {
			s.stopBus()
		}
		if s.bus != nil {
			if err := s.bus.Close(); err != nil {
				s.logger.Warn("Fail to close NATS bus", slog.Any("error", err))
			}
		}
		// 關閉sse connection manager
		s.sseManager.Done()
		if s.redisClient != nil {
			if err := s.redisClient.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
				s.logger.Warn("Fail to close redis client", slog.Any("error", err))
			}
		}
		if s.ownsDB {
			if sqlDB, err := s.db.DB(); err == nil {
				sqlDB.Close()
			}
		}
	})
}
