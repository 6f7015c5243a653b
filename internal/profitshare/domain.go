// Package profitshare resolves the admin revenue split, computes monthly
// profit-share records and tracks their payment status.
package profitshare

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

// DefaultAdminPercentage applies when no override exists.
var DefaultAdminPercentage = decimal.NewFromInt(20)

var hundred = decimal.NewFromInt(100)

// PaymentStatus tracks whether the admin share of a month was settled.
type PaymentStatus string

const (
	StatusUnpaid PaymentStatus = "unpaid"
	StatusPaid   PaymentStatus = "paid"
)

// Valid reports whether s is a known status.
func (s PaymentStatus) Valid() bool {
	return s == StatusUnpaid || s == StatusPaid
}

// Key identifies a profit-share record.
type Key struct {
	FranchiseID uuid.UUID       `json:"franchiseId"`
	Month       shared.MonthKey `json:"month"`
}

func (k Key) String() string {
	return k.FranchiseID.String() + ":" + k.Month.String()
}

// Validate rejects incomplete keys.
func (k Key) Validate() error {
	if k.FranchiseID == uuid.Nil {
		return fmt.Errorf("profitshare: franchise required: %w", shared.ErrInvalidArgument)
	}
	return k.Month.Validate()
}

// Record is the persisted split of one franchise month. AdminPercentage is
// the percentage applied when the record was last calculated or edited.
type Record struct {
	Key
	TotalRevenue    decimal.Decimal `json:"totalRevenue"`
	AdminPercentage decimal.Decimal `json:"adminPercentage"`
	ShareAmount     decimal.Decimal `json:"shareAmount"`
	PaymentStatus   PaymentStatus   `json:"paymentStatus"`
	CalculatedAt    time.Time       `json:"calculatedAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// FranchisePercentage is the complement of the applied admin percentage.
func (r Record) FranchisePercentage() decimal.Decimal {
	return hundred.Sub(r.AdminPercentage)
}

// sameFigures reports whether two records carry the same calculated values.
func (r Record) sameFigures(other Record) bool {
	return r.TotalRevenue.Equal(other.TotalRevenue) &&
		r.AdminPercentage.Equal(other.AdminPercentage) &&
		r.ShareAmount.Equal(other.ShareAmount)
}

// ComputeShare returns revenue × pct / 100 rounded to a whole currency unit,
// halves away from zero.
func ComputeShare(revenue, pct decimal.Decimal) decimal.Decimal {
	return revenue.Mul(pct).Div(hundred).Round(0)
}

// ValidatePercentage accepts values in [0, 100] with at most two decimals.
func ValidatePercentage(pct decimal.Decimal) error {
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return fmt.Errorf("profitshare: percentage %s outside [0,100]: %w", pct, shared.ErrInvalidArgument)
	}
	if !pct.Equal(pct.Truncate(2)) {
		return fmt.Errorf("profitshare: percentage %s has more than two decimals: %w", pct, shared.ErrInvalidArgument)
	}
	return nil
}

// Source names the tier an effective percentage came from.
type Source string

const (
	SourceFranchise Source = "franchise"
	SourceGlobal    Source = "global"
	SourceDefault   Source = "default"
)

// Override sets the admin split either globally (FranchiseID nil) or for one
// franchise. FranchisePercentage always complements AdminPercentage.
type Override struct {
	FranchiseID         *uuid.UUID      `json:"franchiseId,omitempty"`
	AdminPercentage     decimal.Decimal `json:"adminPercentage"`
	FranchisePercentage decimal.Decimal `json:"franchisePercentage"`
	UpdatedBy           string          `json:"updatedBy"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

// NewOverride builds an override with the complementary percentage derived.
func NewOverride(franchiseID *uuid.UUID, adminPct decimal.Decimal, actor string, at time.Time) (Override, error) {
	if err := ValidatePercentage(adminPct); err != nil {
		return Override{}, err
	}
	if franchiseID != nil && *franchiseID == uuid.Nil {
		return Override{}, fmt.Errorf("profitshare: franchise required: %w", shared.ErrInvalidArgument)
	}
	return Override{
		FranchiseID:         franchiseID,
		AdminPercentage:     adminPct,
		FranchisePercentage: hundred.Sub(adminPct),
		UpdatedBy:           actor,
		UpdatedAt:           at,
	}, nil
}

// scopeKey is the storage key of an override tier.
func scopeKey(franchiseID *uuid.UUID) string {
	if franchiseID == nil {
		return "global"
	}
	return franchiseID.String()
}

// Effective is the split that a recalculation would apply right now.
type Effective struct {
	FranchiseID         *uuid.UUID      `json:"franchiseId,omitempty"`
	AdminPercentage     decimal.Decimal `json:"adminPercentage"`
	FranchisePercentage decimal.Decimal `json:"franchisePercentage"`
	Source              Source          `json:"source"`
}

// BatchFilter narrows a batch recalculation. Nil fields match everything.
type BatchFilter struct {
	FranchiseID *uuid.UUID       `json:"franchiseId,omitempty"`
	Month       *shared.MonthKey `json:"month,omitempty"`
}

// Outcome summarises how much of a batch was applied.
type Outcome string

const (
	OutcomeNone     Outcome = "none"
	OutcomePartial  Outcome = "partial"
	OutcomeComplete Outcome = "complete"
)

// BatchFailure is one key that could not be recalculated.
type BatchFailure struct {
	Key   Key    `json:"key"`
	Error string `json:"error"`
}

// BatchReport is the result of a batch recalculation. Succeeded keys are
// committed individually; nothing is rolled back when others fail.
type BatchReport struct {
	Attempted int            `json:"attempted"`
	Succeeded int            `json:"succeeded"`
	Failed    []BatchFailure `json:"failed"`
	Outcome   Outcome        `json:"outcome"`
}

func (r *BatchReport) finish() {
	switch {
	case len(r.Failed) == 0:
		r.Outcome = OutcomeComplete
	case r.Succeeded == 0:
		r.Outcome = OutcomeNone
	default:
		r.Outcome = OutcomePartial
	}
}

// ListFilter narrows record listings.
type ListFilter struct {
	FranchiseID *uuid.UUID
	Month       *shared.MonthKey
	Status      PaymentStatus
	Page        shared.PageRequest
}

// Page is one page of records.
type Page struct {
	Records    []Record          `json:"records"`
	Pagination shared.Pagination `json:"pagination"`
}
