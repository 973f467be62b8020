package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"payline/internal/domain"
)

const employeeCols = `id,code,first_name,last_name,hourly_rate,bank_bsb,bank_account,active,created_at,updated_at`

func scanEmployee(scan func(dest ...any) error) (domain.Employee, error) {
	var e domain.Employee
	var rate sql.NullString
	var active int
	err := scan(&e.ID, &e.Code, &e.FirstName, &e.LastName, &rate, &e.BankBSB, &e.BankAccount, &active, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	e.Active = active == 1
	if rate.Valid {
		v, err := decimal.NewFromString(rate.String)
		if err != nil {
			return e, fmt.Errorf("employee %s hourly_rate: %w", e.ID, err)
		}
		e.HourlyRate = &v
	}
	return e, nil
}

func nullableDecPtr(v *decimal.Decimal) any {
	if v == nil {
		return nil
	}
	return v.String()
}

func (r Repo) InsertEmployee(ctx context.Context, e domain.Employee) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO employees(`+employeeCols+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.Code, e.FirstName, e.LastName, nullableDecPtr(e.HourlyRate), e.BankBSB, e.BankAccount, boolInt(e.Active), e.CreatedAt, e.UpdatedAt)
	return err
}

func (r Repo) InsertEmployeeTx(ctx context.Context, tx *sql.Tx, e domain.Employee) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO employees(`+employeeCols+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.Code, e.FirstName, e.LastName, nullableDecPtr(e.HourlyRate), e.BankBSB, e.BankAccount, boolInt(e.Active), e.CreatedAt, e.UpdatedAt)
	return err
}

func (r Repo) UpdateEmployeeTx(ctx context.Context, tx *sql.Tx, e domain.Employee) error {
	res, err := tx.ExecContext(ctx, `UPDATE employees SET code=?, first_name=?, last_name=?, hourly_rate=?, bank_bsb=?, bank_account=?, active=?, updated_at=? WHERE id=?`,
		e.Code, e.FirstName, e.LastName, nullableDecPtr(e.HourlyRate), e.BankBSB, e.BankAccount, boolInt(e.Active), e.UpdatedAt, e.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateEmployee(ctx context.Context, e domain.Employee) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE employees SET code=?, first_name=?, last_name=?, hourly_rate=?, bank_bsb=?, bank_account=?, active=?, updated_at=? WHERE id=?`,
		e.Code, e.FirstName, e.LastName, nullableDecPtr(e.HourlyRate), e.BankBSB, e.BankAccount, boolInt(e.Active), e.UpdatedAt, e.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetEmployee(ctx context.Context, id string) (domain.Employee, error) {
	return scanEmployee(r.DB.QueryRowContext(ctx, `SELECT `+employeeCols+` FROM employees WHERE id=?`, id).Scan)
}

func (r Repo) GetEmployeeTx(ctx context.Context, tx *sql.Tx, id string) (domain.Employee, error) {
	return scanEmployee(tx.QueryRowContext(ctx, `SELECT `+employeeCols+` FROM employees WHERE id=?`, id).Scan)
}

func (r Repo) GetEmployeeByCode(ctx context.Context, code string) (domain.Employee, error) {
	return scanEmployee(r.DB.QueryRowContext(ctx, `SELECT `+employeeCols+` FROM employees WHERE code=?`, code).Scan)
}

func (r Repo) ListEmployees(ctx context.Context, activeOnly bool) ([]domain.Employee, error) {
	query := `SELECT ` + employeeCols + ` FROM employees`
	if activeOnly {
		query += ` WHERE active=1`
	}
	query += ` ORDER BY last_name ASC, first_name ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Employee
	for rows.Next() {
		e, err := scanEmployee(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EmployeesByIDTx loads the employees referenced by a run's items, keyed by
// id. Exports and validation use this to avoid per-item lookups.
func (r Repo) EmployeesByIDTx(ctx context.Context, tx *sql.Tx, runID string) (map[string]domain.Employee, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+employeeCols+` FROM employees WHERE id IN (SELECT DISTINCT employee_id FROM pay_run_items WHERE pay_run_id=?)`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]domain.Employee{}
	for rows.Next() {
		e, err := scanEmployee(rows.Scan)
		if err != nil {
			return nil, err
		}
		res[e.ID] = e
	}
	return res, rows.Err()
}
