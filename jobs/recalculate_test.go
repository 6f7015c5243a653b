package jobs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/franchise-tracker/internal/jobs"
	"github.com/odyssey-erp/franchise-tracker/internal/profitshare"
	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

type fakeCalculator struct {
	filters []profitshare.BatchFilter
	report  profitshare.BatchReport
}

func (f *fakeCalculator) RecalculateBatch(ctx context.Context, filter profitshare.BatchFilter) (profitshare.BatchReport, error) {
	f.filters = append(f.filters, filter)
	return f.report, nil
}

type fakeSweeper struct {
	months []shared.MonthKey
}

func (f *fakeSweeper) SweepMonth(ctx context.Context, _ profitshare.FranchiseLister, month shared.MonthKey) (profitshare.BatchReport, error) {
	f.months = append(f.months, month)
	return profitshare.BatchReport{Attempted: 2, Succeeded: 2, Outcome: profitshare.OutcomeComplete}, nil
}

type noFranchises struct{}

func (noFranchises) IDs(context.Context) ([]uuid.UUID, error) { return nil, nil }

func newTestJob(calc *fakeCalculator, sweeper *fakeSweeper) *RecalculateJob {
	loc := time.FixedZone("WIB", 7*3600)
	return NewRecalculateJob(calc, sweeper, noFranchises{}, loc, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
}

func TestBatchTaskCarriesFilter(t *testing.T) {
	fid := uuid.New()
	month := shared.MonthKey{Year: 2024, Month: time.June}
	task, err := NewRecalculateBatchTask(profitshare.BatchFilter{FranchiseID: &fid, Month: &month})
	require.NoError(t, err)
	assert.Equal(t, TaskRecalculateBatch, task.Type())

	calc := &fakeCalculator{report: profitshare.BatchReport{Attempted: 1, Succeeded: 1, Outcome: profitshare.OutcomeComplete}}
	require.NoError(t, newTestJob(calc, nil).HandleBatch(context.Background(), task))
	require.Len(t, calc.filters, 1)
	assert.Equal(t, fid, *calc.filters[0].FranchiseID)
	assert.Equal(t, month, *calc.filters[0].Month)
}

func TestBatchWithFailuresIsRetried(t *testing.T) {
	calc := &fakeCalculator{report: profitshare.BatchReport{
		Attempted: 2,
		Succeeded: 1,
		Failed:    []profitshare.BatchFailure{{Error: "unavailable"}},
		Outcome:   profitshare.OutcomePartial,
	}}
	task, err := NewRecalculateBatchTask(profitshare.BatchFilter{})
	require.NoError(t, err)

	err = newTestJob(calc, nil).HandleBatch(context.Background(), task)
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestMalformedPayloadSkipsRetry(t *testing.T) {
	job := newTestJob(&fakeCalculator{}, &fakeSweeper{})
	err := job.HandleBatch(context.Background(), asynq.NewTask(TaskRecalculateBatch, []byte(`{"franchise_id":"nope"}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = job.HandleSweep(context.Background(), asynq.NewTask(TaskSweepMonth, []byte(`{"month":"2024-13"}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestSweepDefaultsToCurrentMonthInLedgerZone(t *testing.T) {
	sweeper := &fakeSweeper{}
	job := newTestJob(&fakeCalculator{}, sweeper)
	// 17:30 UTC on 30 June is already 1 July in UTC+7.
	job.WithClock(func() time.Time { return time.Date(2024, time.June, 30, 17, 30, 0, 0, time.UTC) })

	task, err := NewSweepMonthTask("")
	require.NoError(t, err)
	require.NoError(t, job.HandleSweep(context.Background(), task))
	require.Len(t, sweeper.months, 1)
	assert.Equal(t, "2024-07", sweeper.months[0].String())
}

func TestHealthWithoutInspector(t *testing.T) {
	h := NewHandler(nil, nil)
	rec := httptest.NewRecorder()
	h.health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"queue":"default","pending":0}`, rec.Body.String())
}
