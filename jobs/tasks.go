package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/franchise-tracker/internal/profitshare"
	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRecalculateBatch recalculates existing profit-share records.
	TaskRecalculateBatch = "profitshare:recalculate_batch"
	// TaskSweepMonth recalculates one month for every franchise.
	TaskSweepMonth = "profitshare:sweep_month"
)

// RecalculateBatchPayload narrows a batch. Empty fields match everything.
type RecalculateBatchPayload struct {
	FranchiseID string `json:"franchise_id,omitempty"`
	Month       string `json:"month,omitempty"`
}

// Filter decodes the payload into a batch filter.
func (p RecalculateBatchPayload) Filter() (profitshare.BatchFilter, error) {
	var f profitshare.BatchFilter
	if p.FranchiseID != "" {
		id, err := uuid.Parse(p.FranchiseID)
		if err != nil {
			return profitshare.BatchFilter{}, err
		}
		f.FranchiseID = &id
	}
	if p.Month != "" {
		m, err := shared.ParseMonthKey(p.Month)
		if err != nil {
			return profitshare.BatchFilter{}, err
		}
		f.Month = &m
	}
	return f, nil
}

// SweepMonthPayload selects the month to sweep; empty means the current month.
type SweepMonthPayload struct {
	Month string `json:"month,omitempty"`
}

// NewRecalculateBatchTask constructs a batch task for f.
func NewRecalculateBatchTask(f profitshare.BatchFilter) (*asynq.Task, error) {
	var payload RecalculateBatchPayload
	if f.FranchiseID != nil {
		payload.FranchiseID = f.FranchiseID.String()
	}
	if f.Month != nil {
		payload.Month = f.Month.String()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRecalculateBatch, body, asynq.Queue(QueueDefault), asynq.MaxRetry(5), asynq.Timeout(10*time.Minute)), nil
}

// NewSweepMonthTask constructs a sweep task. An empty month sweeps whatever
// month is current when the task runs.
func NewSweepMonthTask(month string) (*asynq.Task, error) {
	body, err := json.Marshal(SweepMonthPayload{Month: month})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSweepMonth, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3), asynq.Timeout(30*time.Minute)), nil
}
