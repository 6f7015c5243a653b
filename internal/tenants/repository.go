package tenants

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/franchise-tracker/internal/platform/db"
	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

// Repository is the storage contract of the directory.
type Repository interface {
	Insert(ctx context.Context, f Franchise) error
	Get(ctx context.Context, id uuid.UUID) (Franchise, error)
	GetBySlug(ctx context.Context, slug string) (Franchise, error)
	List(ctx context.Context, page shared.PageRequest) ([]Franchise, int, error)
	Update(ctx context.Context, f Franchise) error
	// DeleteCascade removes the franchise and every dependent row in one
	// transaction. Removed role bindings are audited as reassignment to none.
	DeleteCascade(ctx context.Context, id uuid.UUID, actorID string, at time.Time) (DeleteReport, error)
}

// PostgresRepository persists franchises in PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgresRepository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const franchiseColumns = `id, display_name, slug, address, created_at, updated_at`

func (r *PostgresRepository) Insert(ctx context.Context, f Franchise) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO franchises (id, display_name, slug, address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		f.ID, f.DisplayName, f.Slug, f.Address, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("tenants: insert %s: %w", f.Slug, db.Classify(err))
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (Franchise, error) {
	f, err := scanFranchise(r.pool.QueryRow(ctx, `SELECT `+franchiseColumns+` FROM franchises WHERE id = $1`, id))
	if err != nil {
		return Franchise{}, fmt.Errorf("tenants: franchise %s: %w", id, db.Classify(err))
	}
	return f, nil
}

func (r *PostgresRepository) GetBySlug(ctx context.Context, slug string) (Franchise, error) {
	f, err := scanFranchise(r.pool.QueryRow(ctx, `SELECT `+franchiseColumns+` FROM franchises WHERE slug = $1`, slug))
	if err != nil {
		return Franchise{}, fmt.Errorf("tenants: franchise %q: %w", slug, db.Classify(err))
	}
	return f, nil
}

func (r *PostgresRepository) List(ctx context.Context, page shared.PageRequest) ([]Franchise, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM franchises`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("tenants: count: %w", db.Classify(err))
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+franchiseColumns+` FROM franchises
		ORDER BY display_name, id
		LIMIT $1 OFFSET $2`, page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("tenants: list: %w", db.Classify(err))
	}
	defer rows.Close()
	var out []Franchise
	for rows.Next() {
		f, err := scanFranchise(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("tenants: scan: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("tenants: list: %w", db.Classify(err))
	}
	return out, total, nil
}

func (r *PostgresRepository) Update(ctx context.Context, f Franchise) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE franchises SET display_name = $2, slug = $3, address = $4, updated_at = $5
		WHERE id = $1`, f.ID, f.DisplayName, f.Slug, f.Address, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("tenants: update %s: %w", f.ID, db.Classify(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("tenants: franchise %s: %w", f.ID, shared.ErrNotFound)
	}
	return nil
}

// cascadeSteps lists dependent tables in deletion order.
var cascadeSteps = []struct {
	name  string
	query string
}{
	{"worker_income", `DELETE FROM worker_income WHERE franchise_id = $1`},
	{"workers", `DELETE FROM workers WHERE franchise_id = $1`},
	{"admin_income", `DELETE FROM admin_income WHERE franchise_id = $1`},
	{"expenses", `DELETE FROM expenses WHERE franchise_id = $1`},
	{"profit_share_records", `DELETE FROM profit_share_records WHERE franchise_id = $1`},
}

func (r *PostgresRepository) DeleteCascade(ctx context.Context, id uuid.UUID, actorID string, at time.Time) (DeleteReport, error) {
	report := DeleteReport{FranchiseID: id}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var locked uuid.UUID
		if err := tx.QueryRow(ctx, `SELECT id FROM franchises WHERE id = $1 FOR UPDATE`, id).Scan(&locked); err != nil {
			return fmt.Errorf("tenants: franchise %s: %w", id, db.Classify(err))
		}

		counts := make([]int64, len(cascadeSteps))
		for i, step := range cascadeSteps {
			tag, err := tx.Exec(ctx, step.query, id)
			if err != nil {
				return fmt.Errorf("tenants: cascade %s: %w", step.name, db.Classify(err))
			}
			counts[i] = tag.RowsAffected()
		}
		report.WorkerIncome, report.Workers, report.AdminIncome = counts[0], counts[1], counts[2]
		report.Expenses, report.ProfitShareRecords = counts[3], counts[4]

		if _, err := tx.Exec(ctx, `
			INSERT INTO role_audit_log (id, actor_id, target_principal_id, previous_role, new_role, franchise_id, occurred_at)
			SELECT gen_random_uuid(), $2, principal_id, role, 'none', franchise_id, $3
			FROM role_bindings WHERE franchise_id = $1`, id, actorID, at); err != nil {
			return fmt.Errorf("tenants: cascade role audit: %w", db.Classify(err))
		}
		rows, err := tx.Query(ctx, `DELETE FROM role_bindings WHERE franchise_id = $1 RETURNING principal_id`, id)
		if err != nil {
			return fmt.Errorf("tenants: cascade role_bindings: %w", db.Classify(err))
		}
		principals, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("tenants: cascade role_bindings: %w", db.Classify(err))
		}
		report.RoleBindings = int64(len(principals))
		report.UnboundPrincipals = principals

		tag, err := tx.Exec(ctx, `DELETE FROM profit_sharing_overrides WHERE franchise_id = $1`, id)
		if err != nil {
			return fmt.Errorf("tenants: cascade overrides: %w", db.Classify(err))
		}
		report.Overrides = tag.RowsAffected()

		if _, err := tx.Exec(ctx, `DELETE FROM franchises WHERE id = $1`, id); err != nil {
			return fmt.Errorf("tenants: delete franchise: %w", db.Classify(err))
		}
		return nil
	})
	if err != nil {
		return DeleteReport{}, err
	}
	return report, nil
}

func scanFranchise(row pgx.Row) (Franchise, error) {
	var f Franchise
	if err := row.Scan(&f.ID, &f.DisplayName, &f.Slug, &f.Address, &f.CreatedAt, &f.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Franchise{}, shared.ErrNotFound
		}
		return Franchise{}, err
	}
	return f, nil
}
