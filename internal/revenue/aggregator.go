// Package revenue totals ledger amounts per franchise and calendar month.
package revenue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/franchise-tracker/internal/ledger"
	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

// MaxWindowMonths bounds trailing-window summaries.
const MaxWindowMonths = 36

// Totals is the aggregate of one franchise month. Revenue is the gross
// figure used for profit sharing; Net subtracts expenses and is shown to
// franchises only.
type Totals struct {
	FranchiseID       uuid.UUID       `json:"franchiseId"`
	Month             shared.MonthKey `json:"month"`
	AdminIncomeTotal  decimal.Decimal `json:"adminIncomeTotal"`
	WorkerIncomeTotal decimal.Decimal `json:"workerIncomeTotal"`
	ExpenseTotal      decimal.Decimal `json:"expenseTotal"`
	Revenue           decimal.Decimal `json:"revenue"`
	Net               decimal.Decimal `json:"net"`
}

func newTotals(franchiseID uuid.UUID, month shared.MonthKey, admin, worker, expense decimal.Decimal) Totals {
	revenue := admin.Add(worker)
	return Totals{
		FranchiseID:       franchiseID,
		Month:             month,
		AdminIncomeTotal:  admin,
		WorkerIncomeTotal: worker,
		ExpenseTotal:      expense,
		Revenue:           revenue,
		Net:               revenue.Sub(expense),
	}
}

// Window is a trailing series of monthly totals, oldest first.
type Window struct {
	FranchiseID uuid.UUID       `json:"franchiseId"`
	From        shared.MonthKey `json:"from"`
	To          shared.MonthKey `json:"to"`
	Months      []Totals        `json:"months"`
}

// RetryPolicy controls retries of transient read failures.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetry retries a failed read twice, doubling a 100ms backoff.
var DefaultRetry = RetryPolicy{Attempts: 3, Backoff: 100 * time.Millisecond}

// Aggregator sums ledger amounts over half-open month bounds in the ledger
// timezone.
type Aggregator struct {
	summer ledger.Summer
	loc    *time.Location
	retry  RetryPolicy
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewAggregator constructs an Aggregator.
func NewAggregator(summer ledger.Summer, loc *time.Location, logger *slog.Logger) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{summer: summer, loc: loc, retry: DefaultRetry, logger: logger, sleep: sleepContext}
}

// WithRetry overrides the read retry policy.
func (a *Aggregator) WithRetry(p RetryPolicy) {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	a.retry = p
}

// Location returns the timezone months are bucketed in.
func (a *Aggregator) Location() *time.Location {
	return a.loc
}

// Aggregate totals admin income, worker income and expenses for one month.
// A month without records yields zero totals.
func (a *Aggregator) Aggregate(ctx context.Context, franchiseID uuid.UUID, month shared.MonthKey) (Totals, error) {
	return a.aggregate(ctx, a.summer, true, franchiseID, month)
}

// AggregateOn is Aggregate reading through summer, one statement at a time,
// so it can run on a single transaction. A nil summer falls back to
// Aggregate.
func (a *Aggregator) AggregateOn(ctx context.Context, summer ledger.Summer, franchiseID uuid.UUID, month shared.MonthKey) (Totals, error) {
	if summer == nil {
		return a.Aggregate(ctx, franchiseID, month)
	}
	return a.aggregate(ctx, summer, false, franchiseID, month)
}

func (a *Aggregator) aggregate(ctx context.Context, summer ledger.Summer, parallel bool, franchiseID uuid.UUID, month shared.MonthKey) (Totals, error) {
	if err := month.Validate(); err != nil {
		return Totals{}, err
	}
	from, to := month.Bounds(a.loc)
	kinds := []ledger.Kind{ledger.KindAdminIncome, ledger.KindWorkerIncome, ledger.KindExpense}
	sums := make([]decimal.Decimal, len(kinds))

	g, gctx := errgroup.WithContext(ctx)
	if !parallel {
		g.SetLimit(1)
	}
	for i, kind := range kinds {
		g.Go(func() error {
			return a.withRetry(gctx, func() error {
				total, err := summer.Sum(gctx, kind, franchiseID, from, to)
				if err != nil {
					return err
				}
				sums[i] = total
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return Totals{}, fmt.Errorf("revenue: aggregate %s %s: %w", franchiseID, month, err)
	}
	return newTotals(franchiseID, month, sums[0], sums[1], sums[2]), nil
}

// Window returns totals for the n months ending at to, reading each ledger
// table once for the whole range.
func (a *Aggregator) Window(ctx context.Context, franchiseID uuid.UUID, to shared.MonthKey, n int) (Window, error) {
	if err := to.Validate(); err != nil {
		return Window{}, err
	}
	if n < 1 || n > MaxWindowMonths {
		return Window{}, fmt.Errorf("revenue: window of %d months: %w", n, shared.ErrInvalidArgument)
	}
	first := to.AddMonths(-(n - 1))
	from, _ := first.Bounds(a.loc)
	_, end := to.Bounds(a.loc)

	kinds := []ledger.Kind{ledger.KindAdminIncome, ledger.KindWorkerIncome, ledger.KindExpense}
	buckets := make([]map[shared.MonthKey]decimal.Decimal, len(kinds))

	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		g.Go(func() error {
			return a.withRetry(gctx, func() error {
				m, err := a.summer.SumByMonth(gctx, kind, franchiseID, from, end, a.loc)
				if err != nil {
					return err
				}
				buckets[i] = m
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return Window{}, fmt.Errorf("revenue: window %s %s..%s: %w", franchiseID, first, to, err)
	}

	w := Window{FranchiseID: franchiseID, From: first, To: to, Months: make([]Totals, 0, n)}
	for i := 0; i < n; i++ {
		key := first.AddMonths(i)
		w.Months = append(w.Months, newTotals(franchiseID, key, buckets[0][key], buckets[1][key], buckets[2][key]))
	}
	return w, nil
}

func (a *Aggregator) withRetry(ctx context.Context, fn func() error) error {
	delay := a.retry.Backoff
	var err error
	for attempt := 1; attempt <= a.retry.Attempts; attempt++ {
		if err = fn(); err == nil || !shared.Retryable(err) {
			return err
		}
		if attempt == a.retry.Attempts {
			break
		}
		a.logger.Warn("revenue: retrying ledger read", slog.Int("attempt", attempt), slog.Any("error", err))
		if serr := a.sleep(ctx, delay); serr != nil {
			return serr
		}
		delay *= 2
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
