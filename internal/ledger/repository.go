package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/franchise-tracker/internal/platform/db"
	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

// Repository is the storage contract of the ledger.
type Repository interface {
	Insert(ctx context.Context, r Record) error
	Get(ctx context.Context, kind Kind, id uuid.UUID) (Record, error)
	Update(ctx context.Context, r Record) error
	List(ctx context.Context, kind Kind, f Filter) ([]Record, int, error)
	ListWorkerView(ctx context.Context, principalID string, f Filter) ([]WorkerIncomeView, int, error)

	InsertWorker(ctx context.Context, w Worker) error
	GetWorker(ctx context.Context, id uuid.UUID) (Worker, error)
	ListWorkers(ctx context.Context, franchiseID *uuid.UUID, page shared.PageRequest) ([]Worker, int, error)

	Summer
}

// Summer totals amounts over half-open time ranges.
type Summer interface {
	Sum(ctx context.Context, kind Kind, franchiseID uuid.UUID, from, to time.Time) (decimal.Decimal, error)
	// SumByMonth buckets totals by calendar month in loc for [from, to).
	SumByMonth(ctx context.Context, kind Kind, franchiseID uuid.UUID, from, to time.Time, loc *time.Location) (map[shared.MonthKey]decimal.Decimal, error)
}

type tableSpec struct {
	table   string
	columns []string
}

var tables = map[Kind]tableSpec{
	KindAdminIncome:  {table: "admin_income", columns: []string{"code"}},
	KindWorkerIncome: {table: "worker_income", columns: []string{"code", "worker_id", "job_description"}},
	KindExpense:      {table: "expenses", columns: []string{"note"}},
}

func specFor(kind Kind) (tableSpec, error) {
	spec, ok := tables[kind]
	if !ok {
		return tableSpec{}, fmt.Errorf("ledger: kind %q: %w", kind, shared.ErrInvalidArgument)
	}
	return spec, nil
}

func (s tableSpec) selectColumns() string {
	return "id, franchise_id, amount::text, occurred_at, created_by, created_at, updated_at, " + strings.Join(s.columns, ", ")
}

func variantArgs(r Record) []any {
	switch r.Kind {
	case KindAdminIncome:
		return []any{r.Code}
	case KindWorkerIncome:
		return []any{r.Code, r.WorkerID, r.JobDescription}
	default:
		return []any{r.Note}
	}
}

// PostgresRepository persists ledger rows in PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgresRepository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (p *PostgresRepository) Insert(ctx context.Context, r Record) error {
	spec, err := specFor(r.Kind)
	if err != nil {
		return err
	}
	cols := append([]string{"id", "franchise_id", "amount", "occurred_at", "created_by", "created_at", "updated_at"}, spec.columns...)
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	placeholders[2] = "$3::numeric"
	args := append([]any{r.ID, r.FranchiseID, r.Amount.String(), r.OccurredAt, r.CreatedBy, r.CreatedAt, r.UpdatedAt}, variantArgs(r)...)
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, spec.table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if _, err := p.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("ledger: insert %s: %w", r.Kind, db.Classify(err))
	}
	return nil
}

func (p *PostgresRepository) Get(ctx context.Context, kind Kind, id uuid.UUID) (Record, error) {
	spec, err := specFor(kind)
	if err != nil {
		return Record{}, err
	}
	row := p.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, spec.selectColumns(), spec.table), id)
	rec, err := scanRecord(kind, row)
	if err != nil {
		return Record{}, fmt.Errorf("ledger: %s %s: %w", kind, id, db.Classify(err))
	}
	return rec, nil
}

func (p *PostgresRepository) Update(ctx context.Context, r Record) error {
	spec, err := specFor(r.Kind)
	if err != nil {
		return err
	}
	sets := []string{"amount = $2::numeric", "occurred_at = $3", "updated_at = $4"}
	for i, col := range spec.columns {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i+5))
	}
	args := append([]any{r.ID, r.Amount.String(), r.OccurredAt, r.UpdatedAt}, variantArgs(r)...)
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $1`, spec.table, strings.Join(sets, ", "))
	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("ledger: update %s: %w", r.Kind, db.Classify(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger: %s %s: %w", r.Kind, r.ID, shared.ErrNotFound)
	}
	return nil
}

func (p *PostgresRepository) List(ctx context.Context, kind Kind, f Filter) ([]Record, int, error) {
	spec, err := specFor(kind)
	if err != nil {
		return nil, 0, err
	}
	clause, args := filterClause(f, "")
	var total int
	if err := p.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s %s`, spec.table, clause), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ledger: count %s: %w", kind, db.Classify(err))
	}
	args = append(args, f.Page.Limit(), f.Page.Offset())
	query := fmt.Sprintf(`SELECT %s FROM %s %s ORDER BY occurred_at DESC, id LIMIT $%d OFFSET $%d`,
		spec.selectColumns(), spec.table, clause, len(args)-1, len(args))
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ledger: list %s: %w", kind, db.Classify(err))
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(kind, rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ledger: scan %s: %w", kind, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ledger: list %s: %w", kind, db.Classify(err))
	}
	return out, total, nil
}

func (p *PostgresRepository) ListWorkerView(ctx context.Context, principalID string, f Filter) ([]WorkerIncomeView, int, error) {
	f.FranchiseID = nil
	clause, args := filterClause(f, "wi.")
	args = append(args, principalID)
	join := fmt.Sprintf(`FROM worker_income wi JOIN workers w ON w.id = wi.worker_id AND w.principal_id = $%d %s`, len(args), clause)

	var total int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) `+join, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ledger: count worker view: %w", db.Classify(err))
	}
	args = append(args, f.Page.Limit(), f.Page.Offset())
	query := fmt.Sprintf(`SELECT wi.id, wi.code, wi.amount::text, wi.job_description, wi.occurred_at %s
		ORDER BY wi.occurred_at DESC, wi.id LIMIT $%d OFFSET $%d`, join, len(args)-1, len(args))
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ledger: worker view: %w", db.Classify(err))
	}
	defer rows.Close()
	var out []WorkerIncomeView
	for rows.Next() {
		var v WorkerIncomeView
		var amount string
		if err := rows.Scan(&v.ID, &v.Code, &amount, &v.JobDescription, &v.OccurredAt); err != nil {
			return nil, 0, fmt.Errorf("ledger: scan worker view: %w", err)
		}
		if v.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, 0, fmt.Errorf("ledger: decode amount: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ledger: worker view: %w", db.Classify(err))
	}
	return out, total, nil
}

func (p *PostgresRepository) Sum(ctx context.Context, kind Kind, franchiseID uuid.UUID, from, to time.Time) (decimal.Decimal, error) {
	return querySummer{q: p.pool}.Sum(ctx, kind, franchiseID, from, to)
}

func (p *PostgresRepository) SumByMonth(ctx context.Context, kind Kind, franchiseID uuid.UUID, from, to time.Time, loc *time.Location) (map[shared.MonthKey]decimal.Decimal, error) {
	return querySummer{q: p.pool}.SumByMonth(ctx, kind, franchiseID, from, to, loc)
}

// NewSummer returns a Summer that runs its statements on q, typically an open
// transaction.
func NewSummer(q db.Querier) Summer {
	return querySummer{q: q}
}

type querySummer struct {
	q db.Querier
}

func (s querySummer) Sum(ctx context.Context, kind Kind, franchiseID uuid.UUID, from, to time.Time) (decimal.Decimal, error) {
	spec, err := specFor(kind)
	if err != nil {
		return decimal.Zero, err
	}
	var raw string
	query := fmt.Sprintf(`SELECT COALESCE(SUM(amount), 0)::text FROM %s
		WHERE franchise_id = $1 AND occurred_at >= $2 AND occurred_at < $3`, spec.table)
	if err := s.q.QueryRow(ctx, query, franchiseID, from, to).Scan(&raw); err != nil {
		return decimal.Zero, fmt.Errorf("ledger: sum %s: %w", kind, db.Classify(err))
	}
	return decimal.NewFromString(raw)
}

func (s querySummer) SumByMonth(ctx context.Context, kind Kind, franchiseID uuid.UUID, from, to time.Time, loc *time.Location) (map[shared.MonthKey]decimal.Decimal, error) {
	spec, err := specFor(kind)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}
	query := fmt.Sprintf(`SELECT to_char(occurred_at AT TIME ZONE $4, 'YYYY-MM') AS month, SUM(amount)::text
		FROM %s
		WHERE franchise_id = $1 AND occurred_at >= $2 AND occurred_at < $3
		GROUP BY month`, spec.table)
	rows, err := s.q.Query(ctx, query, franchiseID, from, to, loc.String())
	if err != nil {
		return nil, fmt.Errorf("ledger: sum by month %s: %w", kind, db.Classify(err))
	}
	defer rows.Close()
	out := make(map[shared.MonthKey]decimal.Decimal)
	for rows.Next() {
		var month, total string
		if err := rows.Scan(&month, &total); err != nil {
			return nil, fmt.Errorf("ledger: scan month sum: %w", err)
		}
		key, err := shared.ParseMonthKey(month)
		if err != nil {
			return nil, err
		}
		if out[key], err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("ledger: decode sum: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: sum by month %s: %w", kind, db.Classify(err))
	}
	return out, nil
}

func (p *PostgresRepository) InsertWorker(ctx context.Context, w Worker) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO workers (id, franchise_id, name, principal_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`, w.ID, w.FranchiseID, w.Name, w.PrincipalID, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("ledger: insert worker: %w", db.Classify(err))
	}
	return nil
}

func (p *PostgresRepository) GetWorker(ctx context.Context, id uuid.UUID) (Worker, error) {
	var w Worker
	err := p.pool.QueryRow(ctx, `SELECT id, franchise_id, name, principal_id, created_at FROM workers WHERE id = $1`, id).
		Scan(&w.ID, &w.FranchiseID, &w.Name, &w.PrincipalID, &w.CreatedAt)
	if err != nil {
		return Worker{}, fmt.Errorf("ledger: worker %s: %w", id, db.Classify(err))
	}
	return w, nil
}

func (p *PostgresRepository) ListWorkers(ctx context.Context, franchiseID *uuid.UUID, page shared.PageRequest) ([]Worker, int, error) {
	clause, args := "", []any{}
	if franchiseID != nil {
		clause, args = "WHERE franchise_id = $1", []any{*franchiseID}
	}
	var total int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM workers `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ledger: count workers: %w", db.Classify(err))
	}
	args = append(args, page.Limit(), page.Offset())
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`SELECT id, franchise_id, name, principal_id, created_at FROM workers %s
		ORDER BY name, id LIMIT $%d OFFSET $%d`, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ledger: list workers: %w", db.Classify(err))
	}
	workers, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Worker, error) {
		var w Worker
		err := row.Scan(&w.ID, &w.FranchiseID, &w.Name, &w.PrincipalID, &w.CreatedAt)
		return w, err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("ledger: list workers: %w", db.Classify(err))
	}
	return workers, total, nil
}

func filterClause(f Filter, prefix string) (string, []any) {
	var (
		where []string
		args  []any
	)
	if f.FranchiseID != nil {
		args = append(args, *f.FranchiseID)
		where = append(where, fmt.Sprintf("%sfranchise_id = $%d", prefix, len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		where = append(where, fmt.Sprintf("%soccurred_at >= $%d", prefix, len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		where = append(where, fmt.Sprintf("%soccurred_at < $%d", prefix, len(args)))
	}
	if len(where) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(where, " AND "), args
}

func scanRecord(kind Kind, row pgx.Row) (Record, error) {
	rec := Record{Kind: kind}
	var amount string
	dest := []any{&rec.ID, &rec.FranchiseID, &amount, &rec.OccurredAt, &rec.CreatedBy, &rec.CreatedAt, &rec.UpdatedAt}
	switch kind {
	case KindAdminIncome:
		dest = append(dest, &rec.Code)
	case KindWorkerIncome:
		dest = append(dest, &rec.Code, &rec.WorkerID, &rec.JobDescription)
	default:
		dest = append(dest, &rec.Note)
	}
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, shared.ErrNotFound
		}
		return Record{}, err
	}
	var err error
	if rec.Amount, err = decimal.NewFromString(amount); err != nil {
		return Record{}, fmt.Errorf("ledger: decode amount: %w", err)
	}
	return rec, nil
}
