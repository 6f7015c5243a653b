package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/franchise-tracker/internal/platform/db"
)

// Repository is the storage contract of the access service.
type Repository interface {
	EnsureBinding(ctx context.Context, principalID string) (Binding, error)
	ListAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, int, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes operations that must share one transaction.
type TxRepository interface {
	// LockBinding serialises changes to the principal's binding for the rest
	// of the transaction and returns the current binding, if any.
	LockBinding(ctx context.Context, principalID string) (Binding, bool, error)
	UpsertBinding(ctx context.Context, b Binding) error
	InsertAudit(ctx context.Context, e AuditEntry) error
}

// PostgresRepository persists bindings and audit entries in PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgresRepository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// EnsureBinding returns the principal's binding, creating the default user
// binding when absent. A concurrent creator's row wins and is returned.
func (r *PostgresRepository) EnsureBinding(ctx context.Context, principalID string) (Binding, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO role_bindings (principal_id, role, franchise_id, updated_at)
		VALUES ($1, $2, NULL, NOW())
		ON CONFLICT (principal_id) DO NOTHING`, principalID, RoleUser)
	if err != nil {
		return Binding{}, fmt.Errorf("access: ensure binding: %w", db.Classify(err))
	}
	b, found, err := loadBinding(ctx, r.pool, principalID, false)
	if err != nil {
		return Binding{}, err
	}
	if !found {
		return Binding{}, fmt.Errorf("access: binding for %s vanished after insert", principalID)
	}
	return b, nil
}

// ListAudit returns audit entries newest first with the total match count.
func (r *PostgresRepository) ListAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, int, error) {
	var (
		where []string
		args  []any
	)
	if filter.TargetPrincipalID != "" {
		args = append(args, filter.TargetPrincipalID)
		where = append(where, fmt.Sprintf("target_principal_id = $%d", len(args)))
	}
	if filter.FranchiseID != nil {
		args = append(args, *filter.FranchiseID)
		where = append(where, fmt.Sprintf("franchise_id = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM role_audit_log `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("access: count audit: %w", db.Classify(err))
	}

	args = append(args, filter.Page.Limit(), filter.Page.Offset())
	query := fmt.Sprintf(`
		SELECT id, actor_id, target_principal_id, previous_role, new_role, franchise_id, occurred_at
		FROM role_audit_log %s
		ORDER BY occurred_at DESC, id
		LIMIT $%d OFFSET $%d`, clause, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("access: list audit: %w", db.Classify(err))
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var previous, next string
		if err := rows.Scan(&e.ID, &e.ActorID, &e.TargetPrincipalID, &previous, &next, &e.FranchiseID, &e.At); err != nil {
			return nil, 0, fmt.Errorf("access: scan audit: %w", err)
		}
		e.PreviousRole = Role(previous)
		e.NewRole = Role(next)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("access: list audit: %w", db.Classify(err))
	}
	return entries, total, nil
}

// WithTx executes fn inside a read-committed transaction. LockBinding waits on
// an advisory lock, and the reads after it must see the previous holder's
// commit rather than a snapshot taken before the wait.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func (t *txRepository) LockBinding(ctx context.Context, principalID string) (Binding, bool, error) {
	if err := db.AdvisoryXactLock(ctx, t.tx, "role_binding:"+principalID); err != nil {
		return Binding{}, false, err
	}
	return loadBinding(ctx, t.tx, principalID, true)
}

func (t *txRepository) UpsertBinding(ctx context.Context, b Binding) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO role_bindings (principal_id, role, franchise_id, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (principal_id) DO UPDATE
		SET role = EXCLUDED.role, franchise_id = EXCLUDED.franchise_id, updated_at = EXCLUDED.updated_at`,
		b.PrincipalID, b.Role, b.FranchiseID, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("access: upsert binding: %w", db.Classify(err))
	}
	return nil
}

func (t *txRepository) InsertAudit(ctx context.Context, e AuditEntry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO role_audit_log (id, actor_id, target_principal_id, previous_role, new_role, franchise_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.ActorID, e.TargetPrincipalID, e.PreviousRole, e.NewRole, e.FranchiseID, e.At)
	if err != nil {
		return fmt.Errorf("access: insert audit: %w", db.Classify(err))
	}
	return nil
}

func loadBinding(ctx context.Context, q db.Querier, principalID string, forUpdate bool) (Binding, bool, error) {
	query := `SELECT principal_id, role, franchise_id, updated_at FROM role_bindings WHERE principal_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var (
		b         Binding
		role      string
		franchise *uuid.UUID
		updatedAt time.Time
	)
	err := q.QueryRow(ctx, query, principalID).Scan(&b.PrincipalID, &role, &franchise, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Binding{}, false, nil
	}
	if err != nil {
		return Binding{}, false, fmt.Errorf("access: load binding: %w", db.Classify(err))
	}
	b.Role = Role(role)
	b.FranchiseID = franchise
	b.UpdatedAt = updatedAt
	return b, true, nil
}
