package profitshare

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/franchise-tracker/internal/changefeed"
	"github.com/odyssey-erp/franchise-tracker/internal/ledger"
	"github.com/odyssey-erp/franchise-tracker/internal/revenue"
	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

// Aggregator supplies monthly revenue totals read through summer.
type Aggregator interface {
	AggregateOn(ctx context.Context, summer ledger.Summer, franchiseID uuid.UUID, month shared.MonthKey) (revenue.Totals, error)
}

// PercentageResolver supplies the admin percentage read through store.
type PercentageResolver interface {
	ResolveFrom(ctx context.Context, store OverrideReader, franchiseID uuid.UUID) (decimal.Decimal, error)
}

// DefaultConcurrency bounds parallel recalculations within a batch.
const DefaultConcurrency = 4

// Calculator derives and upserts profit-share records.
type Calculator struct {
	repo        Repository
	agg         Aggregator
	resolver    PercentageResolver
	publisher   changefeed.Publisher
	metrics     *Metrics
	logger      *slog.Logger
	concurrency int
	now         func() time.Time
}

// NewCalculator constructs a Calculator.
func NewCalculator(repo Repository, agg Aggregator, resolver PercentageResolver, publisher changefeed.Publisher, metrics *Metrics, logger *slog.Logger) *Calculator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Calculator{
		repo:        repo,
		agg:         agg,
		resolver:    resolver,
		publisher:   publisher,
		metrics:     metrics,
		logger:      logger,
		concurrency: DefaultConcurrency,
		now:         time.Now,
	}
}

// WithConcurrency sets the batch parallelism.
func (c *Calculator) WithConcurrency(n int) {
	if n > 0 {
		c.concurrency = n
	}
}

// WithNow overrides the clock for deterministic tests.
func (c *Calculator) WithNow(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// Recalculate aggregates gross revenue for the key, applies the resolved
// percentage and upserts the record. An existing record keeps its payment
// status; an unchanged record is returned as stored. Every read happens on
// the key-locked transaction, so a recalculation holds one connection.
func (c *Calculator) Recalculate(ctx context.Context, franchiseID uuid.UUID, month shared.MonthKey) (Record, error) {
	key := Key{FranchiseID: franchiseID, Month: month}
	if err := key.Validate(); err != nil {
		return Record{}, err
	}

	var (
		result Record
		op     changefeed.Op
	)
	err := c.repo.WithKeyLock(ctx, key, func(ctx context.Context, tx TxRepository) error {
		totals, err := c.agg.AggregateOn(ctx, tx.Ledger(), franchiseID, month)
		if err != nil {
			return err
		}
		pct, err := c.resolver.ResolveFrom(ctx, tx, franchiseID)
		if err != nil {
			return err
		}
		existing, found, err := tx.Load(ctx, key)
		if err != nil {
			return err
		}

		now := c.now().UTC().Truncate(time.Microsecond)
		next := Record{
			Key:             key,
			TotalRevenue:    totals.Revenue,
			AdminPercentage: pct,
			ShareAmount:     ComputeShare(totals.Revenue, pct),
			PaymentStatus:   StatusUnpaid,
			CalculatedAt:    now,
			UpdatedAt:       now,
		}
		if found {
			if existing.sameFigures(next) {
				result = existing
				return nil
			}
			next.PaymentStatus = existing.PaymentStatus
			op = changefeed.OpUpdate
		} else {
			op = changefeed.OpInsert
		}
		if err := tx.Upsert(ctx, next); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		c.metrics.recalculated("failed")
		return Record{}, fmt.Errorf("profitshare: recalculate %s: %w", key, err)
	}

	if op == "" {
		c.metrics.recalculated("unchanged")
		return result, nil
	}
	c.metrics.recalculated(string(op))
	fid := franchiseID
	changefeed.Notify(ctx, c.publisher, c.logger, changefeed.Event{
		Table:       changefeed.TableProfitShare,
		Op:          op,
		FranchiseID: &fid,
		Key:         key.String(),
	})
	return result, nil
}

// RecalculateBatch recalculates every persisted key matching the filter.
// Months without a record are never created. Keys run in parallel up to the
// configured concurrency; failures are collected rather than aborting.
func (c *Calculator) RecalculateBatch(ctx context.Context, f BatchFilter) (BatchReport, error) {
	keys, err := c.repo.Keys(ctx, f)
	if err != nil {
		return BatchReport{}, fmt.Errorf("profitshare: batch keys: %w", err)
	}
	report := c.run(ctx, keys)
	c.logger.Info("profitshare: batch recalculated",
		slog.Int("attempted", report.Attempted),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", len(report.Failed)),
		slog.String("outcome", string(report.Outcome)))
	return report, nil
}

// RecalculateKeys recalculates the given keys, creating records as needed.
func (c *Calculator) RecalculateKeys(ctx context.Context, keys []Key) BatchReport {
	return c.run(ctx, keys)
}

func (c *Calculator) run(ctx context.Context, keys []Key) BatchReport {
	report := BatchReport{Attempted: len(keys), Failed: []BatchFailure{}}
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(c.concurrency)
	for _, key := range keys {
		g.Go(func() error {
			_, err := c.Recalculate(ctx, key.FranchiseID, key.Month)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.logger.Warn("profitshare: recalculate failed", slog.String("key", key.String()), slog.Any("error", err))
				report.Failed = append(report.Failed, BatchFailure{Key: key, Error: err.Error()})
				return nil
			}
			report.Succeeded++
			return nil
		})
	}
	_ = g.Wait()
	sort.Slice(report.Failed, func(i, j int) bool { return report.Failed[i].Key.String() < report.Failed[j].Key.String() })
	report.finish()
	c.metrics.batch(report.Outcome)
	return report
}

// RevenueChanged refreshes the stored record of the key, if one exists.
func (c *Calculator) RevenueChanged(ctx context.Context, franchiseID uuid.UUID, month shared.MonthKey) error {
	fid, m := franchiseID, month
	report, err := c.RecalculateBatch(ctx, BatchFilter{FranchiseID: &fid, Month: &m})
	if err != nil {
		return err
	}
	if report.Outcome != OutcomeComplete {
		return fmt.Errorf("profitshare: refresh %s %s: %s", franchiseID, month, report.Failed[0].Error)
	}
	return nil
}
