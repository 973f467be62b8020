package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"payline/internal/domain"
)

const itemCols = `id,pay_run_id,employee_id,hours,rate,ot_15_hours,ot_20_hours,allowance,tax,super,deductions_total,gross,net,status,note,updated_by,created_at,updated_at`

func itemArgs(it domain.PayRunItem) []any {
	return []any{
		it.ID, it.PayRunID, it.EmployeeID,
		dec(it.Hours), dec(it.Rate), dec(it.OT15Hours), dec(it.OT20Hours),
		dec(it.Allowance), dec(it.Tax), dec(it.Super), dec(it.DeductionsTotal),
		dec(it.Gross), dec(it.Net), it.Status,
		nullableStringPtr(it.Note), nullableStringPtr(it.UpdatedBy),
		it.CreatedAt, it.UpdatedAt,
	}
}

func scanItem(scan func(dest ...any) error) (domain.PayRunItem, error) {
	var it domain.PayRunItem
	var hours, rate, ot15, ot20, allowance, tax, super, deductions, gross, net string
	var note, updatedBy sql.NullString
	err := scan(&it.ID, &it.PayRunID, &it.EmployeeID,
		&hours, &rate, &ot15, &ot20, &allowance, &tax, &super, &deductions,
		&gross, &net, &it.Status, &note, &updatedBy, &it.CreatedAt, &it.UpdatedAt)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	if note.Valid {
		it.Note = &note.String
	}
	if updatedBy.Valid {
		it.UpdatedBy = &updatedBy.String
	}
	for _, f := range []struct {
		raw  string
		dst  *decimal.Decimal
		name string
	}{
		{hours, &it.Hours, "hours"},
		{rate, &it.Rate, "rate"},
		{ot15, &it.OT15Hours, "ot_15_hours"},
		{ot20, &it.OT20Hours, "ot_20_hours"},
		{allowance, &it.Allowance, "allowance"},
		{tax, &it.Tax, "tax"},
		{super, &it.Super, "super"},
		{deductions, &it.DeductionsTotal, "deductions_total"},
		{gross, &it.Gross, "gross"},
		{net, &it.Net, "net"},
	} {
		v, err := parseDec(f.raw)
		if err != nil {
			return it, fmt.Errorf("item %s %s: %w", it.ID, f.name, err)
		}
		*f.dst = v
	}
	return it, nil
}

func (r Repo) InsertItemTx(ctx context.Context, tx *sql.Tx, it domain.PayRunItem) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO pay_run_items(`+itemCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		itemArgs(it)...)
	return err
}

// UpdateItemTx rewrites the full mutable row. Sparse-patch merging happens
// in the engine; the repo always persists a complete item.
func (r Repo) UpdateItemTx(ctx context.Context, tx *sql.Tx, it domain.PayRunItem) error {
	_, err := tx.ExecContext(ctx, `UPDATE pay_run_items SET
hours=?, rate=?, ot_15_hours=?, ot_20_hours=?, allowance=?, tax=?, super=?, deductions_total=?,
gross=?, net=?, status=?, note=?, updated_by=?, updated_at=? WHERE id=?`,
		dec(it.Hours), dec(it.Rate), dec(it.OT15Hours), dec(it.OT20Hours),
		dec(it.Allowance), dec(it.Tax), dec(it.Super), dec(it.DeductionsTotal),
		dec(it.Gross), dec(it.Net), it.Status,
		nullableStringPtr(it.Note), nullableStringPtr(it.UpdatedBy), it.UpdatedAt, it.ID)
	return err
}

// DeleteItemTx reports whether a row was actually removed so callers can
// keep deletion idempotent without a prior read.
func (r Repo) DeleteItemTx(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM pay_run_items WHERE id=?`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) GetItemTx(ctx context.Context, tx *sql.Tx, id string) (domain.PayRunItem, error) {
	return scanItem(tx.QueryRowContext(ctx, `SELECT `+itemCols+` FROM pay_run_items WHERE id=?`, id).Scan)
}

func (r Repo) ListItemsByRunTx(ctx context.Context, tx *sql.Tx, runID string) ([]domain.PayRunItem, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+itemCols+` FROM pay_run_items WHERE pay_run_id=? ORDER BY created_at ASC, id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PayRunItem
	for rows.Next() {
		it, err := scanItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

type ItemFilters struct {
	RunID  string
	Search string
	Limit  int
	Offset int
}

const itemViewCols = `i.id,i.pay_run_id,i.employee_id,i.hours,i.rate,i.ot_15_hours,i.ot_20_hours,i.allowance,i.tax,i.super,i.deductions_total,i.gross,i.net,i.status,i.note,i.updated_by,i.created_at,i.updated_at,e.code,e.first_name,e.last_name`

// ListItemViewsTx returns items joined with employee display fields, plus
// the total match count before limit/offset.
func (r Repo) ListItemViewsTx(ctx context.Context, tx *sql.Tx, f ItemFilters) ([]domain.ItemView, int, error) {
	clauses := []string{"i.pay_run_id=?"}
	args := []any{f.RunID}
	if f.Search != "" {
		clauses = append(clauses, "(e.first_name LIKE ? OR e.last_name LIKE ? OR e.code LIKE ?)")
		like := "%" + f.Search + "%"
		args = append(args, like, like, like)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	join := `FROM pay_run_items i JOIN employees e ON e.id=i.employee_id `

	var total int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) `+join+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := `SELECT ` + itemViewCols + ` ` + join + where + ` ORDER BY e.last_name ASC, e.first_name ASC, i.id ASC`
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			q += " OFFSET ?"
			args = append(args, f.Offset)
		}
	}
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var res []domain.ItemView
	for rows.Next() {
		var v domain.ItemView
		var first, last string
		it, err := scanItemView(rows, &v.EmployeeCode, &first, &last)
		if err != nil {
			return nil, 0, err
		}
		v.PayRunItem = it
		v.EmployeeName = domain.Employee{FirstName: first, LastName: last}.FullName()
		res = append(res, v)
	}
	return res, total, rows.Err()
}

func scanItemView(rows *sql.Rows, code, first, last *string) (domain.PayRunItem, error) {
	return scanItem(func(dest ...any) error {
		dest = append(dest, code, first, last)
		return rows.Scan(dest...)
	})
}
