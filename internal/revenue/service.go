package revenue

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/odyssey-erp/franchise-tracker/internal/access"
	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

// Service applies the caller's scope before aggregating.
type Service struct {
	agg *Aggregator
}

// NewService constructs the scoped revenue service.
func NewService(agg *Aggregator) *Service {
	return &Service{agg: agg}
}

// Summary returns one month of totals for a franchise the actor may see.
// Franchise-bound roles always get their own franchise.
func (s *Service) Summary(ctx context.Context, actor access.Scope, franchiseID *uuid.UUID, month shared.MonthKey) (Totals, error) {
	fid, err := s.franchise(actor, franchiseID)
	if err != nil {
		return Totals{}, err
	}
	return s.agg.Aggregate(ctx, fid, month)
}

// Window returns a trailing series for a franchise the actor may see.
func (s *Service) Window(ctx context.Context, actor access.Scope, franchiseID *uuid.UUID, to shared.MonthKey, months int) (Window, error) {
	fid, err := s.franchise(actor, franchiseID)
	if err != nil {
		return Window{}, err
	}
	return s.agg.Window(ctx, fid, to, months)
}

func (s *Service) franchise(actor access.Scope, requested *uuid.UUID) (uuid.UUID, error) {
	scoped, err := actor.TenantFilter(requested)
	if err != nil {
		return uuid.Nil, err
	}
	if scoped == nil {
		return uuid.Nil, fmt.Errorf("revenue: franchise required: %w", shared.ErrInvalidArgument)
	}
	return *scoped, nil
}
