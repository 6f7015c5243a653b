package revenue

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/franchise-tracker/internal/access"
	"github.com/odyssey-erp/franchise-tracker/internal/ledger"
	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

type entry struct {
	kind        ledger.Kind
	franchiseID uuid.UUID
	amount      decimal.Decimal
	at          time.Time
}

type fakeSummer struct {
	mu      sync.Mutex
	entries []entry
	// failures makes the next n calls fail with ErrUnavailable.
	failures int
	calls    int
}

func (f *fakeSummer) add(kind ledger.Kind, fid uuid.UUID, amount int64, at time.Time) {
	f.entries = append(f.entries, entry{kind: kind, franchiseID: fid, amount: decimal.NewFromInt(amount), at: at})
}

func (f *fakeSummer) fail() error {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return shared.ErrUnavailable
	}
	return nil
}

func (f *fakeSummer) Sum(ctx context.Context, kind ledger.Kind, fid uuid.UUID, from, to time.Time) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, e := range f.entries {
		if e.kind == kind && e.franchiseID == fid && !e.at.Before(from) && e.at.Before(to) {
			total = total.Add(e.amount)
		}
	}
	return total, nil
}

func (f *fakeSummer) SumByMonth(ctx context.Context, kind ledger.Kind, fid uuid.UUID, from, to time.Time, loc *time.Location) (map[shared.MonthKey]decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}
	out := make(map[shared.MonthKey]decimal.Decimal)
	for _, e := range f.entries {
		if e.kind == kind && e.franchiseID == fid && !e.at.Before(from) && e.at.Before(to) {
			key := shared.MonthKeyOf(e.at, loc)
			out[key] = out[key].Add(e.amount)
		}
	}
	return out, nil
}

var jakarta = time.FixedZone("WIB", 7*3600)

func june2024() shared.MonthKey {
	return shared.MonthKey{Year: 2024, Month: time.June}
}

func newTestAggregator(s ledger.Summer) *Aggregator {
	agg := NewAggregator(s, jakarta, nil)
	agg.sleep = func(context.Context, time.Duration) error { return nil }
	return agg
}

func TestAggregateSumsIncomeAndReportsNet(t *testing.T) {
	fid := uuid.New()
	s := &fakeSummer{}
	s.add(ledger.KindAdminIncome, fid, 1_000_000, time.Date(2024, time.June, 5, 10, 0, 0, 0, jakarta))
	s.add(ledger.KindWorkerIncome, fid, 500_000, time.Date(2024, time.June, 20, 10, 0, 0, 0, jakarta))
	s.add(ledger.KindExpense, fid, 200_000, time.Date(2024, time.June, 21, 10, 0, 0, 0, jakarta))
	s.add(ledger.KindAdminIncome, uuid.New(), 9_999, time.Date(2024, time.June, 5, 10, 0, 0, 0, jakarta))

	totals, err := newTestAggregator(s).Aggregate(context.Background(), fid, june2024())
	require.NoError(t, err)
	assert.True(t, totals.Revenue.Equal(decimal.NewFromInt(1_500_000)))
	assert.True(t, totals.ExpenseTotal.Equal(decimal.NewFromInt(200_000)))
	assert.True(t, totals.Net.Equal(decimal.NewFromInt(1_300_000)))
}

// connSummer behaves like a single database connection: overlapping calls
// are an error.
type connSummer struct {
	fakeSummer
	inFlight atomic.Int32
	overlap  atomic.Bool
}

func (c *connSummer) Sum(ctx context.Context, kind ledger.Kind, fid uuid.UUID, from, to time.Time) (decimal.Decimal, error) {
	if c.inFlight.Add(1) > 1 {
		c.overlap.Store(true)
	}
	defer c.inFlight.Add(-1)
	time.Sleep(2 * time.Millisecond)
	return c.fakeSummer.Sum(ctx, kind, fid, from, to)
}

func TestAggregateOnReadsSequentiallyThroughGivenSummer(t *testing.T) {
	fid := uuid.New()
	tx := &connSummer{}
	tx.add(ledger.KindAdminIncome, fid, 700, time.Date(2024, time.June, 5, 10, 0, 0, 0, jakarta))
	tx.add(ledger.KindWorkerIncome, fid, 300, time.Date(2024, time.June, 6, 10, 0, 0, 0, jakarta))
	pool := &fakeSummer{}

	totals, err := newTestAggregator(pool).AggregateOn(context.Background(), tx, fid, june2024())
	require.NoError(t, err)
	assert.True(t, totals.Revenue.Equal(decimal.NewFromInt(1000)))
	assert.False(t, tx.overlap.Load())
	assert.Equal(t, 3, tx.calls)
	assert.Zero(t, pool.calls)
}

func TestAggregateOnWithoutSummerUsesPool(t *testing.T) {
	fid := uuid.New()
	pool := &fakeSummer{}
	pool.add(ledger.KindAdminIncome, fid, 5, time.Date(2024, time.June, 5, 10, 0, 0, 0, jakarta))

	totals, err := newTestAggregator(pool).AggregateOn(context.Background(), nil, fid, june2024())
	require.NoError(t, err)
	assert.True(t, totals.Revenue.Equal(decimal.NewFromInt(5)))
}

func TestAggregateUsesHalfOpenMonthBounds(t *testing.T) {
	fid := uuid.New()
	s := &fakeSummer{}
	s.add(ledger.KindAdminIncome, fid, 100, time.Date(2024, time.June, 1, 0, 0, 0, 0, jakarta))
	s.add(ledger.KindAdminIncome, fid, 10, time.Date(2024, time.June, 30, 23, 59, 59, 0, jakarta))
	s.add(ledger.KindAdminIncome, fid, 1, time.Date(2024, time.July, 1, 0, 0, 0, 0, jakarta))

	totals, err := newTestAggregator(s).Aggregate(context.Background(), fid, june2024())
	require.NoError(t, err)
	assert.True(t, totals.AdminIncomeTotal.Equal(decimal.NewFromInt(110)))
}

func TestAggregateEmptyMonthIsZero(t *testing.T) {
	totals, err := newTestAggregator(&fakeSummer{}).Aggregate(context.Background(), uuid.New(), june2024())
	require.NoError(t, err)
	assert.True(t, totals.Revenue.IsZero())
	assert.True(t, totals.Net.IsZero())
}

func TestAggregateRetriesTransientFailures(t *testing.T) {
	s := &fakeSummer{failures: 2}
	agg := newTestAggregator(s)
	agg.WithRetry(RetryPolicy{Attempts: 3})

	_, err := agg.Aggregate(context.Background(), uuid.New(), june2024())
	require.NoError(t, err)
	assert.Equal(t, 5, s.calls)
}

func TestAggregateGivesUpAfterAttempts(t *testing.T) {
	s := &fakeSummer{failures: 100}
	agg := newTestAggregator(s)
	agg.WithRetry(RetryPolicy{Attempts: 2})

	_, err := agg.Aggregate(context.Background(), uuid.New(), june2024())
	require.ErrorIs(t, err, shared.ErrUnavailable)
}

type brokenSummer struct{ fakeSummer }

func (b *brokenSummer) Sum(context.Context, ledger.Kind, uuid.UUID, time.Time, time.Time) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return decimal.Zero, errors.New("syntax error")
}

func TestAggregateDoesNotRetryPermanentErrors(t *testing.T) {
	s := &brokenSummer{}
	_, err := newTestAggregator(s).Aggregate(context.Background(), uuid.New(), june2024())
	require.Error(t, err)
	assert.Equal(t, 3, s.calls)
}

func TestWindowFillsEveryMonth(t *testing.T) {
	fid := uuid.New()
	s := &fakeSummer{}
	s.add(ledger.KindAdminIncome, fid, 100, time.Date(2024, time.April, 3, 0, 0, 0, 0, jakarta))
	s.add(ledger.KindWorkerIncome, fid, 50, time.Date(2024, time.June, 3, 0, 0, 0, 0, jakarta))
	s.add(ledger.KindAdminIncome, fid, 7, time.Date(2024, time.March, 31, 0, 0, 0, 0, jakarta))

	w, err := newTestAggregator(s).Window(context.Background(), fid, june2024(), 3)
	require.NoError(t, err)
	require.Len(t, w.Months, 3)
	assert.Equal(t, "2024-04", w.From.String())
	assert.True(t, w.Months[0].Revenue.Equal(decimal.NewFromInt(100)))
	assert.True(t, w.Months[1].Revenue.IsZero())
	assert.True(t, w.Months[2].Revenue.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, 3, s.calls)

	_, err = newTestAggregator(s).Window(context.Background(), fid, june2024(), 0)
	require.ErrorIs(t, err, shared.ErrInvalidArgument)
}

func TestServiceForcesOwnFranchise(t *testing.T) {
	own, other := uuid.New(), uuid.New()
	s := &fakeSummer{}
	s.add(ledger.KindAdminIncome, own, 10, time.Date(2024, time.June, 3, 0, 0, 0, 0, jakarta))
	s.add(ledger.KindAdminIncome, other, 99, time.Date(2024, time.June, 3, 0, 0, 0, 0, jakarta))
	svc := NewService(newTestAggregator(s))

	actor := access.Scope{PrincipalID: "p", Role: access.RoleAdminKeuangan, FranchiseID: &own}
	totals, err := svc.Summary(context.Background(), actor, &other, june2024())
	require.NoError(t, err)
	assert.Equal(t, own, totals.FranchiseID)
	assert.True(t, totals.Revenue.Equal(decimal.NewFromInt(10)))

	_, err = svc.Summary(context.Background(), access.Scope{PrincipalID: "root", Role: access.RoleSuperAdmin}, nil, june2024())
	require.ErrorIs(t, err, shared.ErrInvalidArgument)

	_, err = svc.Summary(context.Background(), access.Scope{PrincipalID: "u", Role: access.RoleUser}, nil, june2024())
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestHandlerSummary(t *testing.T) {
	fid := uuid.New()
	s := &fakeSummer{}
	s.add(ledger.KindAdminIncome, fid, 1_000_000, time.Date(2024, time.June, 3, 0, 0, 0, 0, jakarta))
	h := NewHandler(nil, NewService(newTestAggregator(s)), jakarta)

	req := httptest.NewRequest(http.MethodGet, "/?month=2024-06", nil)
	req = req.WithContext(access.ContextWithScope(req.Context(), access.Scope{PrincipalID: "p", Role: access.RoleFranchise, FranchiseID: &fid}))
	rec := httptest.NewRecorder()
	h.summary(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"revenue":"1000000"`)
	assert.Contains(t, rec.Body.String(), `"month":"2024-06"`)
}
