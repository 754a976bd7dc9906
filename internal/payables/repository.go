package payables

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/odyssey-uistate/internal/platform/db"
	"github.com/odyssey-erp/odyssey-uistate/internal/undo"
)

// Repository defines installment data access. It doubles as the store the
// undo layer reverses against.
type Repository interface {
	undo.Store

	List(ctx context.Context, filter ListFilter) ([]Installment, int, error)
	Snapshot(ctx context.Context, ids []string) ([]Installment, error)
	PermanentlyDelete(ctx context.Context, ids []string) (int64, error)
	CountDeleted(ctx context.Context) (int, error)
	PurgeDeletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// DB is the pgx surface the repository needs. Satisfied by *pgxpool.Pool.
type DB interface {
	db.Beginner
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ Repository = (*pgRepository)(nil)

type pgRepository struct {
	db DB
}

// NewRepository returns the Postgres-backed Repository.
func NewRepository(conn DB) Repository {
	return &pgRepository{db: conn}
}

const installmentColumns = `id::text, descricao, fornecedor, valor::float8, categoria, status,
	data_vencimento, forma_pagamento, observacoes, banco, data_pagamento, data_hora_pagamento, deleted_at`

func scanInstallment(row pgx.Row) (Installment, error) {
	var (
		inst   Installment
		status string
	)
	err := row.Scan(&inst.ID, &inst.Description, &inst.Supplier, &inst.Amount, &inst.Category, &status,
		&inst.DueDate, &inst.PaymentMethod, &inst.Notes, &inst.Bank, &inst.PaidOn, &inst.PaidAt, &inst.DeletedAt)
	inst.Status = Status(status)
	return inst, err
}

func (r *pgRepository) List(ctx context.Context, filter ListFilter) ([]Installment, int, error) {
	where := []string{"deleted_at IS NULL"}
	if filter.OnlyTrash {
		where[0] = "deleted_at IS NOT NULL"
	}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Status != "" {
		where = append(where, "status = "+arg(string(filter.Status)))
	}
	if filter.Category != "" {
		where = append(where, "categoria = "+arg(filter.Category))
	}
	if filter.Search != "" {
		p := arg("%" + filter.Search + "%")
		where = append(where, fmt.Sprintf("(descricao ILIKE %s OR fornecedor ILIKE %s)", p, p))
	}
	if filter.DueFrom != nil {
		where = append(where, "data_vencimento >= "+arg(*filter.DueFrom))
	}
	if filter.DueTo != nil {
		where = append(where, "data_vencimento <= "+arg(*filter.DueTo))
	}

	order := "data_vencimento"
	if col, ok := sortColumns[filter.SortBy]; ok {
		order = col
	}
	dir := "ASC"
	if filter.SortDesc {
		dir = "DESC"
	}
	page, size := normalizePaging(filter.Page, filter.PageSize)

	query := fmt.Sprintf(`SELECT %s, COUNT(*) OVER() FROM ap_installments WHERE %s ORDER BY %s %s, id LIMIT %s OFFSET %s`,
		installmentColumns, strings.Join(where, " AND "), order, dir, arg(size), arg((page-1)*size))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("payables: list: %w", err)
	}
	defer rows.Close()

	var (
		out   []Installment
		total int
	)
	for rows.Next() {
		var (
			inst   Installment
			status string
		)
		if err := rows.Scan(&inst.ID, &inst.Description, &inst.Supplier, &inst.Amount, &inst.Category, &status,
			&inst.DueDate, &inst.PaymentMethod, &inst.Notes, &inst.Bank, &inst.PaidOn, &inst.PaidAt, &inst.DeletedAt, &total); err != nil {
			return nil, 0, fmt.Errorf("payables: scan: %w", err)
		}
		inst.Status = Status(status)
		out = append(out, inst)
	}
	return out, total, rows.Err()
}

func (r *pgRepository) Snapshot(ctx context.Context, ids []string) ([]Installment, error) {
	rows, err := r.db.Query(ctx, `SELECT `+installmentColumns+` FROM ap_installments WHERE id = ANY($1::uuid[]) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("payables: snapshot: %w", err)
	}
	defer rows.Close()
	var out []Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, fmt.Errorf("payables: snapshot scan: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (r *pgRepository) MarkPaid(ctx context.Context, ids []string, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE ap_installments
SET status = $2, data_pagamento = $3::date, data_hora_pagamento = $4
WHERE id = ANY($1::uuid[]) AND deleted_at IS NULL`, ids, string(StatusPaid), at.Format(time.DateOnly), at)
	if err != nil {
		return fmt.Errorf("payables: mark paid: %w", err)
	}
	return nil
}

func (r *pgRepository) SoftDelete(ctx context.Context, ids []string, at time.Time) error {
	if _, err := r.db.Exec(ctx, `UPDATE ap_installments SET deleted_at = $2 WHERE id = ANY($1::uuid[]) AND deleted_at IS NULL`, ids, at); err != nil {
		return fmt.Errorf("payables: soft delete: %w", err)
	}
	return nil
}

func (r *pgRepository) ClearDeleted(ctx context.Context, ids []string) error {
	if _, err := r.db.Exec(ctx, `UPDATE ap_installments SET deleted_at = NULL WHERE id = ANY($1::uuid[])`, ids); err != nil {
		return fmt.Errorf("payables: clear deleted: %w", err)
	}
	return nil
}

func (r *pgRepository) RestorePayments(ctx context.Context, payments []undo.PaymentSnapshot) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		for _, p := range payments {
			if _, err := tx.Exec(ctx, `UPDATE ap_installments
SET status = $2, data_pagamento = $3, data_hora_pagamento = $4
WHERE id = $1::uuid`, p.ID, p.Status, p.PaidOn, p.PaidAt); err != nil {
				return fmt.Errorf("payables: restore payment %s: %w", p.ID, err)
			}
		}
		return nil
	})
}

// RestoreItems writes every snapshot back in one transaction. A missing row
// aborts the whole restore.
func (r *pgRepository) RestoreItems(ctx context.Context, items []undo.ItemSnapshot) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		for _, it := range items {
			tag, err := tx.Exec(ctx, `UPDATE ap_installments
SET categoria = $2, status = $3, data_vencimento = $4, forma_pagamento = $5,
    observacoes = $6, banco = $7, data_pagamento = $8, data_hora_pagamento = $9
WHERE id = $1::uuid`, it.ID, it.Category, it.Status, it.DueDate, it.PaymentMethod, it.Notes, it.Bank, it.PaidOn, it.PaidAt)
			if err != nil {
				return fmt.Errorf("payables: restore item %s: %w", it.ID, err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("payables: restore item %s: %w", it.ID, ErrNotFound)
			}
		}
		return nil
	})
}

func (r *pgRepository) ApplyChanges(ctx context.Context, changes []undo.ItemChange) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		for _, c := range changes {
			tag, err := tx.Exec(ctx, `UPDATE ap_installments
SET categoria = COALESCE($2, categoria),
    status = COALESCE($3, status),
    data_vencimento = COALESCE($4, data_vencimento),
    forma_pagamento = COALESCE($5, forma_pagamento),
    observacoes = COALESCE($6, observacoes),
    banco = COALESCE($7, banco)
WHERE id = $1::uuid AND deleted_at IS NULL`, c.ID, c.Category, c.Status, c.DueDate, c.PaymentMethod, c.Notes, c.Bank)
			if err != nil {
				return fmt.Errorf("payables: apply change %s: %w", c.ID, err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("payables: apply change %s: %w", c.ID, ErrNotFound)
			}
		}
		return nil
	})
}

func (r *pgRepository) PermanentlyDelete(ctx context.Context, ids []string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM ap_installments WHERE id = ANY($1::uuid[]) AND deleted_at IS NOT NULL`, ids)
	if err != nil {
		return 0, fmt.Errorf("payables: permanently delete: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *pgRepository) CountDeleted(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM ap_installments WHERE deleted_at IS NOT NULL`).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("payables: count deleted: %w", err)
	}
	return count, nil
}

func (r *pgRepository) PurgeDeletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM ap_installments WHERE deleted_at IS NOT NULL AND deleted_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("payables: purge trash: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MaxPage bounds the page number so the OFFSET stays well inside int range.
const MaxPage = 100_000

func normalizePaging(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	if size < 1 {
		size = 50
	}
	if size > 500 {
		size = 500
	}
	return page, size
}
