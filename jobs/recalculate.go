package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/franchise-tracker/internal/jobs"
	"github.com/odyssey-erp/franchise-tracker/internal/profitshare"
	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

// BatchRecalculator recalculates existing records.
type BatchRecalculator interface {
	RecalculateBatch(ctx context.Context, f profitshare.BatchFilter) (profitshare.BatchReport, error)
}

// MonthSweeper recalculates one month for every franchise.
type MonthSweeper interface {
	SweepMonth(ctx context.Context, franchises profitshare.FranchiseLister, month shared.MonthKey) (profitshare.BatchReport, error)
}

// RecalculateJob handles the profit-share batch and sweep tasks.
type RecalculateJob struct {
	Calculator BatchRecalculator
	Sweeper    MonthSweeper
	Franchises profitshare.FranchiseLister
	Location   *time.Location
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	clock      func() time.Time
}

// NewRecalculateJob constructs the job handlers. loc decides which month is
// current for the sweep.
func NewRecalculateJob(calc BatchRecalculator, sweeper MonthSweeper, franchises profitshare.FranchiseLister, loc *time.Location, logger *slog.Logger, metrics *jobmetrics.Metrics) *RecalculateJob {
	if loc == nil {
		loc = time.UTC
	}
	return &RecalculateJob{
		Calculator: calc,
		Sweeper:    sweeper,
		Franchises: franchises,
		Location:   loc,
		Logger:     logger,
		Metrics:    metrics,
		clock:      time.Now,
	}
}

// Handlers returns the task registrations for the worker.
func (j *RecalculateJob) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskRecalculateBatch, Handler: j.HandleBatch},
		{Type: TaskSweepMonth, Handler: j.HandleSweep},
	}
}

// HandleBatch runs a queued batch recalculation. A batch with failures is
// returned as an error so asynq retries it; recalculation is idempotent.
func (j *RecalculateJob) HandleBatch(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Calculator == nil {
		return errors.New("recalculate batch: dependencies not configured")
	}
	var payload RecalculateBatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("recalculate batch payload: %v: %w", err, asynq.SkipRetry)
	}
	filter, err := payload.Filter()
	if err != nil {
		return fmt.Errorf("recalculate batch payload: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskRecalculateBatch)
	report, err := j.Calculator.RecalculateBatch(ctx, filter)
	if err != nil {
		j.log(TaskRecalculateBatch).Error("list keys", slog.Any("error", err))
		return tracker.End(err)
	}
	return tracker.End(j.finish(TaskRecalculateBatch, report))
}

// HandleSweep recalculates the payload month, or the current month in the
// ledger timezone, for every franchise.
func (j *RecalculateJob) HandleSweep(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Sweeper == nil || j.Franchises == nil {
		return errors.New("sweep month: dependencies not configured")
	}
	var payload SweepMonthPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("sweep month payload: %v: %w", err, asynq.SkipRetry)
	}
	month := shared.MonthKeyOf(j.now(), j.Location)
	if payload.Month != "" {
		parsed, err := shared.ParseMonthKey(payload.Month)
		if err != nil {
			return fmt.Errorf("sweep month payload: %v: %w", err, asynq.SkipRetry)
		}
		month = parsed
	}

	tracker := j.metrics().Track(TaskSweepMonth)
	start := j.now()
	report, err := j.Sweeper.SweepMonth(ctx, j.Franchises, month)
	if err != nil {
		j.log(TaskSweepMonth).Error("list franchises", slog.Any("error", err))
		return tracker.End(err)
	}
	j.log(TaskSweepMonth).Info("swept month", slog.String("month", month.String()), slog.Duration("duration", j.now().Sub(start)))
	return tracker.End(j.finish(TaskSweepMonth, report))
}

func (j *RecalculateJob) finish(job string, report profitshare.BatchReport) error {
	j.metrics().AddKeys(job, report.Succeeded, len(report.Failed))
	j.log(job).Info("recalculated",
		slog.Int("attempted", report.Attempted),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", len(report.Failed)),
		slog.String("outcome", string(report.Outcome)))
	if report.Outcome == profitshare.OutcomeComplete {
		return nil
	}
	return fmt.Errorf("%s: %d of %d keys failed (%s)", job, len(report.Failed), report.Attempted, report.Outcome)
}

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

func (j *RecalculateJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *RecalculateJob) log(job string) *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", job))
	}
	return slog.Default().With(slog.String("job", job))
}

func (j *RecalculateJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *RecalculateJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
