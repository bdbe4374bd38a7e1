package nats

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/vmihailenco/msgpack/v5"

	"bidcore/engine"
)

// Conn Bus 需要的 NATS 連線操作，*nats.Conn 滿足此介面
type Conn interface {
	Publish(subject string, data []byte) error
	ChanSubscribe(subject string, ch chan *nats.Msg) (*nats.Subscription, error)
	Drain() error
}

var ErrBusClosed = errors.New("nats bus is closed")

type busOptions struct {
	logger *slog.Logger
	prefix string
}

type BusOption func(*busOptions)

// WithBusLogger 設置日誌記錄器
func WithBusLogger(logger *slog.Logger) BusOption {
	return func(o *busOptions) {
		o.logger = logger
	}
}

// WithSubjectPrefix 設置 subject 前綴，預設為 "auction.events"
func WithSubjectPrefix(prefix string) BusOption {
	return func(o *busOptions) {
		o.prefix = strings.TrimSuffix(prefix, ".")
	}
}

// Bus 將拍賣事件以 msgpack 發送到 <prefix>.<itemID>
// NATS 是盡力而為的傳遞，主要給即時通知使用，持久化走 Redis stream
type Bus struct {
	conn    Conn
	logger  *slog.Logger
	options busOptions

	mu     sync.RWMutex
	closed bool
}

func NewBus(conn Conn, opts ...BusOption) (*Bus, error) {
	if conn == nil {
		return nil, errors.New("nats connection cannot be nil")
	}

	// 默認選項
	options := busOptions{
		logger: slog.Default(),
		prefix: "auction.events",
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &Bus{
		conn:    conn,
		logger:  options.logger.With(slog.String("caller", "NATSBus")),
		options: options,
	}, nil
}

// Subject 事件所屬的 subject
func (p *Bus) Subject(itemID string) string {
	return p.options.prefix + "." + itemID
}

// Wildcard 訂閱所有商品事件用的 subject
func (p *Bus) Wildcard() string {
	return p.options.prefix + ".*"
}

func (p *Bus) Publish(event engine.Event) error {
	const op = "Bus.Publish"
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrBusClosed
	}
	data, err := msgpack.Marshal(event)
	if err != nil {
		return fmt.Errorf("[%s] Fail to encode event, err=%w", op, err)
	}
	subject := p.Subject(event.ItemID.String())
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("[%s] Fail to publish to %s, err=%w", op, subject, err)
	}
	p.logger.Debug("Event published", slog.String("subject", subject), slog.String("kind", string(event.Kind)))
	return nil
}

// Subscribe 訂閱所有商品的事件，回傳的 channel 在 Close 之後關閉
func (p *Bus) Subscribe(bufferSize int) (<-chan engine.Event, func(), error) {
	const op = "Bus.Subscribe"
	raw := make(chan *nats.Msg, bufferSize)
	sub, err := p.conn.ChanSubscribe(p.Wildcard(), raw)
	if err != nil {
		return nil, nil, fmt.Errorf("[%s] Fail to subscribe, err=%w", op, err)
	}

	events := make(chan engine.Event, bufferSize)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(events)
		for {
			select {
			case <-done:
				return
			case msg := <-raw:
				event, err := Decode(msg.Data)
				if err != nil {
					p.logger.Error("Fail to decode event", slog.String("subject", msg.Subject), slog.Any("error", err))
					continue
				}
				select {
				case events <- event:
				case <-done:
					return
				}
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			if sub != nil {
				if err := sub.Unsubscribe(); err != nil {
					p.logger.Warn("Fail to unsubscribe", slog.Any("error", err))
				}
			}
			close(done)
			wg.Wait()
		})
	}
	return events, stop, nil
}

// Decode 還原 Bus 發送的事件
func Decode(data []byte) (engine.Event, error) {
	var event engine.Event
	if err := msgpack.Unmarshal(data, &event); err != nil {
		return engine.Event{}, err
	}
	return event, nil
}

// Close 停止發送並排空連線
func (p *Bus) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.conn.Drain()
}
