// Package ledger stores the raw income and expense facts of each franchise
// and enforces tenant filtering on every read.
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

// Kind tags a ledger record variant.
type Kind string

const (
	KindAdminIncome  Kind = "admin_income"
	KindWorkerIncome Kind = "worker_income"
	KindExpense      Kind = "expense"
)

// ParseKind accepts the kind names used in URLs.
func ParseKind(raw string) (Kind, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_") {
	case "admin_income":
		return KindAdminIncome, nil
	case "worker_income":
		return KindWorkerIncome, nil
	case "expense", "expenses":
		return KindExpense, nil
	}
	return "", fmt.Errorf("ledger: kind %q: %w", raw, shared.ErrInvalidArgument)
}

// Record is one ledger fact. Variant fields are populated according to Kind:
// Code for both income kinds, WorkerID and JobDescription for worker income,
// Note for expenses.
type Record struct {
	Kind        Kind            `json:"kind"`
	ID          uuid.UUID       `json:"id"`
	FranchiseID uuid.UUID       `json:"franchiseId"`
	Amount      decimal.Decimal `json:"amount"`
	OccurredAt  time.Time       `json:"occurredAt"`
	CreatedBy   string          `json:"createdBy"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`

	Code           string     `json:"code,omitempty"`
	WorkerID       *uuid.UUID `json:"workerId,omitempty"`
	JobDescription string     `json:"jobDescription,omitempty"`
	Note           string     `json:"note,omitempty"`
}

// AmountScale is the number of decimals amounts are stored with (NUMERIC(18,2)).
const AmountScale = 2

var maxAmount = decimal.New(1, 18-AmountScale)

// Validate checks the variant invariants.
func (r Record) Validate() error {
	if r.Amount.IsNegative() {
		return fmt.Errorf("ledger: amount must not be negative: %w", shared.ErrInvalidArgument)
	}
	if !r.Amount.Equal(r.Amount.Truncate(AmountScale)) {
		return fmt.Errorf("ledger: amount %s has more than %d decimals: %w", r.Amount, AmountScale, shared.ErrInvalidArgument)
	}
	if r.Amount.GreaterThanOrEqual(maxAmount) {
		return fmt.Errorf("ledger: amount %s out of range: %w", r.Amount, shared.ErrInvalidArgument)
	}
	if r.OccurredAt.IsZero() {
		return fmt.Errorf("ledger: occurredAt required: %w", shared.ErrInvalidArgument)
	}
	if r.FranchiseID == uuid.Nil {
		return fmt.Errorf("ledger: franchise required: %w", shared.ErrInvalidArgument)
	}
	switch r.Kind {
	case KindAdminIncome:
		if r.WorkerID != nil || r.JobDescription != "" || r.Note != "" {
			return fmt.Errorf("ledger: admin income carries only a code: %w", shared.ErrInvalidArgument)
		}
	case KindWorkerIncome:
		if r.WorkerID == nil || *r.WorkerID == uuid.Nil {
			return fmt.Errorf("ledger: worker income requires a worker: %w", shared.ErrInvalidArgument)
		}
		if r.Note != "" {
			return fmt.Errorf("ledger: worker income has no note: %w", shared.ErrInvalidArgument)
		}
	case KindExpense:
		if r.Code != "" || r.WorkerID != nil || r.JobDescription != "" {
			return fmt.Errorf("ledger: expense carries only a note: %w", shared.ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("ledger: kind %q: %w", r.Kind, shared.ErrInvalidArgument)
	}
	return nil
}

// Input carries the client-editable fields of a record. FranchiseID is
// honoured only for super admins.
type Input struct {
	FranchiseID    *uuid.UUID
	Amount         decimal.Decimal
	OccurredAt     time.Time
	Code           string
	WorkerID       *uuid.UUID
	JobDescription string
	Note           string
}

func (in Input) apply(r Record) Record {
	r.Amount = in.Amount
	r.OccurredAt = in.OccurredAt.UTC()
	r.Code = strings.TrimSpace(in.Code)
	r.WorkerID = in.WorkerID
	r.JobDescription = strings.TrimSpace(in.JobDescription)
	r.Note = strings.TrimSpace(in.Note)
	return r
}

// Filter narrows listings. FranchiseID is advisory: it is replaced by the
// scope filter for every role except super admin.
type Filter struct {
	FranchiseID *uuid.UUID
	From        *time.Time
	To          *time.Time
	Page        shared.PageRequest
}

// Page is one page of records.
type Page struct {
	Records    []Record          `json:"records"`
	Pagination shared.Pagination `json:"pagination"`
}

// WorkerIncomeView is the de-identified projection served to the user role.
type WorkerIncomeView struct {
	ID             uuid.UUID       `json:"id"`
	Code           string          `json:"code,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	JobDescription string          `json:"jobDescription,omitempty"`
	OccurredAt     time.Time       `json:"occurredAt"`
}

// ViewPage is one page of the worker self-view.
type ViewPage struct {
	Records    []WorkerIncomeView `json:"records"`
	Pagination shared.Pagination  `json:"pagination"`
}

// Worker is a person earning worker income at a franchise. PrincipalID links
// the worker to a login for the self-view.
type Worker struct {
	ID          uuid.UUID `json:"id"`
	FranchiseID uuid.UUID `json:"franchiseId"`
	Name        string    `json:"name"`
	PrincipalID *string   `json:"principalId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// WorkerInput registers a worker.
type WorkerInput struct {
	FranchiseID *uuid.UUID
	Name        string
	PrincipalID *string
}
