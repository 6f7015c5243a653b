// Package changefeed publishes row-level change hints over Redis pub/sub and
// keeps subscriptions alive across transport failures.
package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Table names a watched table.
type Table string

const (
	TableFranchises   Table = "franchises"
	TableAdminIncome  Table = "admin_income"
	TableWorkerIncome Table = "worker_income"
	TableExpenses     Table = "expenses"
	TableProfitShare  Table = "profit_share_records"
	TableOverrides    Table = "profit_sharing_overrides"
	TableRoleBindings Table = "role_bindings"
)

// Valid reports whether t is a known table.
func (t Table) Valid() bool {
	switch t {
	case TableFranchises, TableAdminIncome, TableWorkerIncome, TableExpenses,
		TableProfitShare, TableOverrides, TableRoleBindings:
		return true
	}
	return false
}

// Op is the kind of change carried by an Event.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	// OpResync tells consumers that notifications may have been missed and
	// everything they hold for the table should be refetched.
	OpResync Op = "resync"
)

// Event is a hint that a row changed. Consumers refetch rather than apply it.
type Event struct {
	Table       Table      `json:"table"`
	Op          Op         `json:"op"`
	FranchiseID *uuid.UUID `json:"franchiseId,omitempty"`
	Key         string     `json:"key,omitempty"`
	At          time.Time  `json:"at"`
}

// Matches reports whether the event passes the optional franchise filter.
// Events without a franchise (global overrides, resync) always pass.
func (e Event) Matches(franchiseID *uuid.UUID) bool {
	if franchiseID == nil || e.FranchiseID == nil {
		return true
	}
	return *franchiseID == *e.FranchiseID
}

// Channel returns the pub/sub channel for a table.
func Channel(t Table) string {
	return "changes:" + string(t)
}

// Publisher emits change events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// RedisPublisher publishes events as JSON on per-table channels.
type RedisPublisher struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisPublisher constructs a publisher.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client, now: time.Now}
}

// Publish sends the event. A nil publisher or client drops it.
func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	if p == nil || p.client == nil {
		return nil
	}
	if ev.At.IsZero() {
		ev.At = p.now().UTC()
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, Channel(ev.Table), raw).Err(); err != nil {
		return fmt.Errorf("changefeed: publish %s: %w", ev.Table, err)
	}
	return nil
}

// Notify publishes events after a committed write. Failures are logged and
// never surface to the caller since the write already happened.
func Notify(ctx context.Context, pub Publisher, logger *slog.Logger, events ...Event) {
	if pub == nil {
		return
	}
	for _, ev := range events {
		if err := pub.Publish(ctx, ev); err != nil && logger != nil {
			logger.Warn("changefeed notify", slog.String("table", string(ev.Table)), slog.String("op", string(ev.Op)), slog.Any("error", err))
		}
	}
}
