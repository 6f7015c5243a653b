package profitshare

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/franchise-tracker/internal/ledger"
	"github.com/odyssey-erp/franchise-tracker/internal/platform/db"
	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

// OverrideReader loads one override tier.
type OverrideReader interface {
	GetOverride(ctx context.Context, franchiseID *uuid.UUID) (Override, bool, error)
}

// OverrideStore reads and writes override tiers.
type OverrideStore interface {
	OverrideReader
	UpsertOverride(ctx context.Context, o Override) error
	DeleteOverride(ctx context.Context, franchiseID *uuid.UUID) (bool, error)
}

// Repository is the storage contract of profit-share records.
type Repository interface {
	OverrideStore

	Get(ctx context.Context, key Key) (Record, error)
	List(ctx context.Context, f ListFilter) ([]Record, int, error)
	// Keys returns the persisted keys matching the filter.
	Keys(ctx context.Context, f BatchFilter) ([]Key, error)
	Delete(ctx context.Context, key Key) error

	// WithKeyLock runs fn in a transaction holding the key's lock, so
	// operations on one key never interleave.
	WithKeyLock(ctx context.Context, key Key, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the operations available under a key lock. Every
// read it offers runs on the locked connection.
type TxRepository interface {
	OverrideReader
	// Ledger sums ledger amounts on the locked connection. The in-memory
	// implementation returns nil.
	Ledger() ledger.Summer
	Load(ctx context.Context, key Key) (Record, bool, error)
	// Upsert inserts the record or refreshes its figures. Payment status of
	// an existing row is never touched.
	Upsert(ctx context.Context, r Record) error
	Save(ctx context.Context, r Record) error
}

// PostgresRepository persists overrides and records in PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgresRepository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const recordColumns = `franchise_id, month_key, total_revenue::text, admin_percentage::text, share_amount::text,
	payment_status, calculated_at, updated_at`

func (p *PostgresRepository) GetOverride(ctx context.Context, franchiseID *uuid.UUID) (Override, bool, error) {
	return getOverride(ctx, p.pool, franchiseID)
}

func getOverride(ctx context.Context, q db.Querier, franchiseID *uuid.UUID) (Override, bool, error) {
	var (
		o           Override
		admin, fran string
	)
	err := q.QueryRow(ctx, `
		SELECT franchise_id, admin_percentage::text, franchise_percentage::text, updated_by, updated_at
		FROM profit_sharing_overrides WHERE scope_key = $1`, scopeKey(franchiseID)).
		Scan(&o.FranchiseID, &admin, &fran, &o.UpdatedBy, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Override{}, false, nil
	}
	if err != nil {
		return Override{}, false, fmt.Errorf("profitshare: load override %s: %w", scopeKey(franchiseID), db.Classify(err))
	}
	if o.AdminPercentage, err = decimal.NewFromString(admin); err != nil {
		return Override{}, false, fmt.Errorf("profitshare: decode override: %w", err)
	}
	if o.FranchisePercentage, err = decimal.NewFromString(fran); err != nil {
		return Override{}, false, fmt.Errorf("profitshare: decode override: %w", err)
	}
	return o, true, nil
}

func (p *PostgresRepository) UpsertOverride(ctx context.Context, o Override) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO profit_sharing_overrides (scope_key, franchise_id, admin_percentage, franchise_percentage, updated_by, updated_at)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6)
		ON CONFLICT (scope_key) DO UPDATE
		SET admin_percentage = EXCLUDED.admin_percentage,
			franchise_percentage = EXCLUDED.franchise_percentage,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at`,
		scopeKey(o.FranchiseID), o.FranchiseID, o.AdminPercentage.String(), o.FranchisePercentage.String(), o.UpdatedBy, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("profitshare: upsert override: %w", db.Classify(err))
	}
	return nil
}

func (p *PostgresRepository) DeleteOverride(ctx context.Context, franchiseID *uuid.UUID) (bool, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM profit_sharing_overrides WHERE scope_key = $1`, scopeKey(franchiseID))
	if err != nil {
		return false, fmt.Errorf("profitshare: delete override: %w", db.Classify(err))
	}
	return tag.RowsAffected() > 0, nil
}

func (p *PostgresRepository) Get(ctx context.Context, key Key) (Record, error) {
	rec, found, err := loadRecord(ctx, p.pool, key, false)
	if err != nil {
		return Record{}, err
	}
	if !found {
		return Record{}, fmt.Errorf("profitshare: record %s: %w", key, shared.ErrNotFound)
	}
	return rec, nil
}

func (p *PostgresRepository) List(ctx context.Context, f ListFilter) ([]Record, int, error) {
	var (
		where []string
		args  []any
	)
	if f.FranchiseID != nil {
		args = append(args, *f.FranchiseID)
		where = append(where, fmt.Sprintf("franchise_id = $%d", len(args)))
	}
	if f.Month != nil {
		args = append(args, f.Month.String())
		where = append(where, fmt.Sprintf("month_key = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("payment_status = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}
	var total int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM profit_share_records `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("profitshare: count records: %w", db.Classify(err))
	}
	args = append(args, f.Page.Limit(), f.Page.Offset())
	query := fmt.Sprintf(`SELECT %s FROM profit_share_records %s
		ORDER BY month_key DESC, franchise_id LIMIT $%d OFFSET $%d`, recordColumns, clause, len(args)-1, len(args))
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("profitshare: list records: %w", db.Classify(err))
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("profitshare: list records: %w", db.Classify(err))
	}
	return out, total, nil
}

func (p *PostgresRepository) Keys(ctx context.Context, f BatchFilter) ([]Key, error) {
	var (
		where []string
		args  []any
	)
	if f.FranchiseID != nil {
		args = append(args, *f.FranchiseID)
		where = append(where, fmt.Sprintf("franchise_id = $%d", len(args)))
	}
	if f.Month != nil {
		args = append(args, f.Month.String())
		where = append(where, fmt.Sprintf("month_key = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}
	rows, err := p.pool.Query(ctx, `SELECT franchise_id, month_key FROM profit_share_records `+clause+` ORDER BY month_key, franchise_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("profitshare: list keys: %w", db.Classify(err))
	}
	keys, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Key, error) {
		var (
			k     Key
			month string
		)
		if err := row.Scan(&k.FranchiseID, &month); err != nil {
			return Key{}, err
		}
		m, err := shared.ParseMonthKey(month)
		k.Month = m
		return k, err
	})
	if err != nil {
		return nil, fmt.Errorf("profitshare: list keys: %w", db.Classify(err))
	}
	return keys, nil
}

func (p *PostgresRepository) Delete(ctx context.Context, key Key) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM profit_share_records WHERE franchise_id = $1 AND month_key = $2`, key.FranchiseID, key.Month.String())
	if err != nil {
		return fmt.Errorf("profitshare: delete record: %w", db.Classify(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("profitshare: record %s: %w", key, shared.ErrNotFound)
	}
	return nil
}

// WithKeyLock runs fn on one read-committed transaction holding the key's
// advisory lock. fn must not use the pool: the sums and override reads it
// needs go through the TxRepository.
func (p *PostgresRepository) WithKeyLock(ctx context.Context, key Key, fn func(context.Context, TxRepository) error) error {
	return db.WithKeyLock(ctx, p.pool, "profit_share:"+key.String(), func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func (t *txRepository) GetOverride(ctx context.Context, franchiseID *uuid.UUID) (Override, bool, error) {
	return getOverride(ctx, t.tx, franchiseID)
}

func (t *txRepository) Ledger() ledger.Summer {
	return ledger.NewSummer(t.tx)
}

func (t *txRepository) Load(ctx context.Context, key Key) (Record, bool, error) {
	return loadRecord(ctx, t.tx, key, true)
}

func (t *txRepository) Upsert(ctx context.Context, r Record) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO profit_share_records
			(franchise_id, month_key, total_revenue, admin_percentage, share_amount, payment_status, calculated_at, updated_at)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6, $7, $8)
		ON CONFLICT (franchise_id, month_key) DO UPDATE
		SET total_revenue = EXCLUDED.total_revenue,
			admin_percentage = EXCLUDED.admin_percentage,
			share_amount = EXCLUDED.share_amount,
			calculated_at = EXCLUDED.calculated_at,
			updated_at = EXCLUDED.updated_at
		WHERE (profit_share_records.total_revenue, profit_share_records.admin_percentage, profit_share_records.share_amount)
			IS DISTINCT FROM (EXCLUDED.total_revenue, EXCLUDED.admin_percentage, EXCLUDED.share_amount)`,
		r.FranchiseID, r.Month.String(), r.TotalRevenue.String(), r.AdminPercentage.String(), r.ShareAmount.String(),
		string(r.PaymentStatus), r.CalculatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("profitshare: upsert record %s: %w", r.Key, db.Classify(err))
	}
	return nil
}

func (t *txRepository) Save(ctx context.Context, r Record) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE profit_share_records
		SET admin_percentage = $3::numeric, share_amount = $4::numeric, payment_status = $5, updated_at = $6
		WHERE franchise_id = $1 AND month_key = $2`,
		r.FranchiseID, r.Month.String(), r.AdminPercentage.String(), r.ShareAmount.String(), string(r.PaymentStatus), r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("profitshare: save record %s: %w", r.Key, db.Classify(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("profitshare: record %s: %w", r.Key, shared.ErrNotFound)
	}
	return nil
}

func loadRecord(ctx context.Context, q db.Querier, key Key, forUpdate bool) (Record, bool, error) {
	query := `SELECT ` + recordColumns + ` FROM profit_share_records WHERE franchise_id = $1 AND month_key = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rec, err := scanRecord(q.QueryRow(ctx, query, key.FranchiseID, key.Month.String()))
	if errors.Is(err, shared.ErrNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec                       Record
		month, status             string
		revenue, pct, shareAmount string
	)
	err := row.Scan(&rec.FranchiseID, &month, &revenue, &pct, &shareAmount, &status, &rec.CalculatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, shared.ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("profitshare: scan record: %w", db.Classify(err))
	}
	if rec.Month, err = shared.ParseMonthKey(month); err != nil {
		return Record{}, err
	}
	for _, f := range []struct {
		raw  string
		dest *decimal.Decimal
	}{{revenue, &rec.TotalRevenue}, {pct, &rec.AdminPercentage}, {shareAmount, &rec.ShareAmount}} {
		if *f.dest, err = decimal.NewFromString(f.raw); err != nil {
			return Record{}, fmt.Errorf("profitshare: decode record: %w", err)
		}
	}
	rec.PaymentStatus = PaymentStatus(status)
	return rec, nil
}
