package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

// DefaultRetry is the flat backoff between reconnect attempts.
const DefaultRetry = 3 * time.Second

// State of a Subscription.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}

// Stream yields raw messages from one subscribed channel. Close must unblock
// a pending Next.
type Stream interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Source opens streams. Subscribe returns only once the subscription is
// confirmed by the transport.
type Source interface {
	Subscribe(ctx context.Context, channel string) (Stream, error)
}

// RedisSource opens Redis pub/sub streams.
type RedisSource struct {
	client *redis.Client
}

// NewRedisSource constructs a RedisSource.
func NewRedisSource(client *redis.Client) *RedisSource {
	return &RedisSource{client: client}
}

// Subscribe implements Source.
func (s *RedisSource) Subscribe(ctx context.Context, channel string) (Stream, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("changefeed: redis not configured: %w", shared.ErrUnavailable)
	}
	pubsub := s.client.Subscribe(ctx, channel)
	stop := context.AfterFunc(ctx, func() { _ = pubsub.Close() })
	_, err := pubsub.Receive(ctx)
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("changefeed: subscribe %s: %v: %w", channel, err, shared.ErrUnavailable)
	}
	return &redisStream{pubsub: pubsub}, nil
}

type redisStream struct {
	pubsub *redis.PubSub
}

func (s *redisStream) Next(ctx context.Context) ([]byte, error) {
	msg, err := s.pubsub.ReceiveMessage(ctx)
	if err != nil {
		return nil, err
	}
	return []byte(msg.Payload), nil
}

func (s *redisStream) Close() error {
	return s.pubsub.Close()
}

// Subscription follows one table, optionally filtered to one franchise, and
// reconnects after failures. Delivery is at-least-once; after every reconnect
// a resync event is emitted because messages sent while disconnected are lost.
type Subscription struct {
	source      Source
	table       Table
	franchiseID *uuid.UUID
	retry       time.Duration
	logger      *slog.Logger
	metrics     *Metrics
	state       atomic.Int32
	onState     func(State)
	now         func() time.Time
}

// SubscriptionConfig configures a Subscription.
type SubscriptionConfig struct {
	Source      Source
	Table       Table
	FranchiseID *uuid.UUID
	Retry       time.Duration
	Logger      *slog.Logger
	Metrics     *Metrics
	// OnState observes state transitions.
	OnState func(State)
}

// NewSubscription constructs a Subscription in the Disconnected state.
func NewSubscription(cfg SubscriptionConfig) *Subscription {
	if cfg.Retry <= 0 {
		cfg.Retry = DefaultRetry
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Subscription{
		source:      cfg.Source,
		table:       cfg.Table,
		franchiseID: cfg.FranchiseID,
		retry:       cfg.Retry,
		logger:      cfg.Logger.With(slog.String("table", string(cfg.Table))),
		metrics:     cfg.Metrics,
		onState:     cfg.OnState,
		now:         time.Now,
	}
}

// State returns the current connection state.
func (s *Subscription) State() State {
	return State(s.state.Load())
}

func (s *Subscription) setState(next State) {
	if State(s.state.Swap(int32(next))) == next {
		return
	}
	if s.onState != nil {
		s.onState(next)
	}
}

// Run delivers matching events to sink until ctx is cancelled. sink is called
// from the Run goroutine only.
func (s *Subscription) Run(ctx context.Context, sink func(Event)) error {
	if s.source == nil {
		return errors.New("changefeed: source not configured")
	}
	if !s.table.Valid() {
		return fmt.Errorf("changefeed: table %q: %w", s.table, shared.ErrInvalidArgument)
	}
	defer s.setState(StateDisconnected)

	connectedBefore := false
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.setState(StateConnecting)
		stream, err := s.source.Subscribe(ctx, Channel(s.table))
		if err != nil {
			s.setState(StateDisconnected)
			s.logger.Warn("changefeed subscribe failed", slog.Any("error", err), slog.Duration("retry", s.retry))
			if !s.wait(ctx) {
				return ctx.Err()
			}
			continue
		}
		s.setState(StateSubscribed)
		if connectedBefore {
			s.metrics.reconnected(s.table)
			sink(Event{Table: s.table, Op: OpResync, FranchiseID: s.franchiseID, At: s.now().UTC()})
		}
		connectedBefore = true

		// Next may ignore ctx, so cancellation closes the stream to unblock it.
		stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
		err = s.consume(ctx, stream, sink)
		if stop() {
			_ = stream.Close()
		}
		s.setState(StateDisconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("changefeed stream dropped", slog.Any("error", err), slog.Duration("retry", s.retry))
		if !s.wait(ctx) {
			return ctx.Err()
		}
	}
}

func (s *Subscription) consume(ctx context.Context, stream Stream, sink func(Event)) error {
	for {
		raw, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			s.logger.Warn("changefeed drop malformed event", slog.Any("error", err))
			continue
		}
		if ev.Table != s.table || !ev.Matches(s.franchiseID) {
			continue
		}
		sink(ev)
	}
}

func (s *Subscription) wait(ctx context.Context) bool {
	timer := time.NewTimer(s.retry)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Metrics counts reconnects per table.
type Metrics struct {
	reconnects *prometheus.CounterVec
}

// NewMetrics registers changefeed collectors.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	reconnects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "franchise_changefeed_reconnects_total",
		Help: "Change feed subscriptions re-established after a failure.",
	}, []string{"table"})
	if registerer != nil {
		registerer.MustRegister(reconnects)
	}
	return &Metrics{reconnects: reconnects}
}

func (m *Metrics) reconnected(t Table) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(string(t)).Inc()
}
