package profitshare

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/franchise-tracker/internal/platform/cache"
	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

// cachedOverride wraps an override tier so absent tiers can be cached too.
type cachedOverride struct {
	Found    bool     `json:"found"`
	Override Override `json:"override"`
}

// Resolver picks the admin percentage through the per-franchise, global,
// default cascade. Overrides are not versioned by month: the tier present at
// resolution time applies to every month.
type Resolver struct {
	store  OverrideStore
	cache  *cache.JSONCache
	logger *slog.Logger
}

// NewResolver constructs a Resolver. cache may be nil.
func NewResolver(store OverrideStore, overrideCache *cache.JSONCache, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, cache: overrideCache, logger: logger}
}

// Resolve returns the admin percentage applied to (franchiseID, month).
func (r *Resolver) Resolve(ctx context.Context, franchiseID uuid.UUID, _ shared.MonthKey) (decimal.Decimal, error) {
	eff, err := r.Effective(ctx, franchiseID)
	if err != nil {
		return decimal.Zero, err
	}
	return eff.AdminPercentage, nil
}

// Effective returns the split currently in force for the franchise together
// with the tier it came from.
func (r *Resolver) Effective(ctx context.Context, franchiseID uuid.UUID) (Effective, error) {
	return cascade(ctx, franchiseID, r.lookup)
}

// ResolveFrom resolves the admin percentage reading tiers straight from
// store, bypassing the cache. Recalculation uses it on the key-locked
// transaction.
func (r *Resolver) ResolveFrom(ctx context.Context, store OverrideReader, franchiseID uuid.UUID) (decimal.Decimal, error) {
	eff, err := cascade(ctx, franchiseID, store.GetOverride)
	if err != nil {
		return decimal.Zero, err
	}
	return eff.AdminPercentage, nil
}

func cascade(ctx context.Context, franchiseID uuid.UUID, lookup func(context.Context, *uuid.UUID) (Override, bool, error)) (Effective, error) {
	fid := franchiseID
	tiers := []struct {
		id     *uuid.UUID
		source Source
	}{{&fid, SourceFranchise}, {nil, SourceGlobal}}
	for _, tier := range tiers {
		o, found, err := lookup(ctx, tier.id)
		if err != nil {
			return Effective{}, err
		}
		if found {
			return Effective{
				FranchiseID:         &fid,
				AdminPercentage:     o.AdminPercentage,
				FranchisePercentage: hundred.Sub(o.AdminPercentage),
				Source:              tier.source,
			}, nil
		}
	}
	return Effective{
		FranchiseID:         &fid,
		AdminPercentage:     DefaultAdminPercentage,
		FranchisePercentage: hundred.Sub(DefaultAdminPercentage),
		Source:              SourceDefault,
	}, nil
}

// Override returns one stored tier.
func (r *Resolver) Override(ctx context.Context, franchiseID *uuid.UUID) (Override, bool, error) {
	return r.lookup(ctx, franchiseID)
}

// Forget drops the cached tier after a write.
func (r *Resolver) Forget(ctx context.Context, franchiseID *uuid.UUID) error {
	if err := r.cache.Invalidate(ctx, r.key(franchiseID)); err != nil {
		r.logger.Warn("profitshare: invalidate override cache", slog.String("scope", scopeKey(franchiseID)), slog.Any("error", err))
		return fmt.Errorf("profitshare: override %s saved, cache not invalidated: %v: %w", scopeKey(franchiseID), err, shared.ErrUnavailable)
	}
	return nil
}

func (r *Resolver) lookup(ctx context.Context, franchiseID *uuid.UUID) (Override, bool, error) {
	var entry cachedOverride
	err := r.cache.Fetch(ctx, r.key(franchiseID), &entry, func(ctx context.Context) (any, error) {
		o, found, err := r.store.GetOverride(ctx, franchiseID)
		if err != nil {
			return nil, err
		}
		return cachedOverride{Found: found, Override: o}, nil
	})
	if err != nil {
		return Override{}, false, err
	}
	return entry.Override, entry.Found, nil
}

func (r *Resolver) key(franchiseID *uuid.UUID) string {
	return r.cache.Key("override", scopeKey(franchiseID))
}
