package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"payline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// Money columns are stored as canonical decimal text.
func dec(v decimal.Decimal) string {
	return v.String()
}

func parseDec(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func (r Repo) InsertPeriodTx(ctx context.Context, tx *sql.Tx, p domain.PayPeriod) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO pay_periods(id,start_date,end_date,is_current,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.StartDate, p.EndDate, boolInt(p.IsCurrent), p.CreatedAt)
	return err
}

func scanPeriod(row *sql.Row) (domain.PayPeriod, error) {
	var p domain.PayPeriod
	var current int
	err := row.Scan(&p.ID, &p.StartDate, &p.EndDate, &current, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	p.IsCurrent = current == 1
	return p, err
}

const periodCols = `id,start_date,end_date,is_current,created_at`

func (r Repo) GetPeriod(ctx context.Context, id string) (domain.PayPeriod, error) {
	return scanPeriod(r.DB.QueryRowContext(ctx, `SELECT `+periodCols+` FROM pay_periods WHERE id=?`, id))
}

func (r Repo) GetPeriodTx(ctx context.Context, tx *sql.Tx, id string) (domain.PayPeriod, error) {
	return scanPeriod(tx.QueryRowContext(ctx, `SELECT `+periodCols+` FROM pay_periods WHERE id=?`, id))
}

func (r Repo) CurrentPeriodTx(ctx context.Context, tx *sql.Tx) (domain.PayPeriod, error) {
	return scanPeriod(tx.QueryRowContext(ctx, `SELECT `+periodCols+` FROM pay_periods WHERE is_current=1 LIMIT 1`))
}

func (r Repo) ListPeriods(ctx context.Context) ([]domain.PayPeriod, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+periodCols+` FROM pay_periods ORDER BY start_date DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PayPeriod
	for rows.Next() {
		var p domain.PayPeriod
		var current int
		if err := rows.Scan(&p.ID, &p.StartDate, &p.EndDate, &current, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.IsCurrent = current == 1
		res = append(res, p)
	}
	return res, rows.Err()
}

// SetCurrentPeriodTx moves the is_current flag. The partial unique index on
// pay_periods enforces at most one current row, so clearing must happen
// before setting within the same transaction.
func (r Repo) SetCurrentPeriodTx(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `UPDATE pay_periods SET is_current=0 WHERE is_current=1`); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE pay_periods SET is_current=1 WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const runCols = `id,period_id,status,approved_by,approved_at,employees,gross,net,warnings,created_by,created_at,updated_at`

func (r Repo) InsertRunTx(ctx context.Context, tx *sql.Tx, run domain.PayRun) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO pay_runs(`+runCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		run.ID, run.PeriodID, run.Status, nullableStringPtr(run.ApprovedBy), nullableStringPtr(run.ApprovedAt),
		run.Totals.Employees, dec(run.Totals.Gross), dec(run.Totals.Net), run.Totals.Warnings,
		run.CreatedBy, run.CreatedAt, run.UpdatedAt)
	return err
}

func scanRun(scan func(dest ...any) error) (domain.PayRun, error) {
	var run domain.PayRun
	var approvedBy, approvedAt sql.NullString
	var gross, net string
	err := scan(&run.ID, &run.PeriodID, &run.Status, &approvedBy, &approvedAt,
		&run.Totals.Employees, &gross, &net, &run.Totals.Warnings,
		&run.CreatedBy, &run.CreatedAt, &run.UpdatedAt)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	if err != nil {
		return run, err
	}
	if approvedBy.Valid {
		run.ApprovedBy = &approvedBy.String
	}
	if approvedAt.Valid {
		run.ApprovedAt = &approvedAt.String
	}
	if run.Totals.Gross, err = parseDec(gross); err != nil {
		return run, fmt.Errorf("run %s gross: %w", run.ID, err)
	}
	if run.Totals.Net, err = parseDec(net); err != nil {
		return run, fmt.Errorf("run %s net: %w", run.ID, err)
	}
	return run, nil
}

func (r Repo) GetRun(ctx context.Context, id string) (domain.PayRun, error) {
	return scanRun(r.DB.QueryRowContext(ctx, `SELECT `+runCols+` FROM pay_runs WHERE id=?`, id).Scan)
}

func (r Repo) GetRunTx(ctx context.Context, tx *sql.Tx, id string) (domain.PayRun, error) {
	return scanRun(tx.QueryRowContext(ctx, `SELECT `+runCols+` FROM pay_runs WHERE id=?`, id).Scan)
}

// LatestRunForPeriodTx returns the most recently created run for a period.
func (r Repo) LatestRunForPeriodTx(ctx context.Context, tx *sql.Tx, periodID string) (domain.PayRun, error) {
	return scanRun(tx.QueryRowContext(ctx,
		`SELECT `+runCols+` FROM pay_runs WHERE period_id=? ORDER BY created_at DESC, id DESC LIMIT 1`, periodID).Scan)
}

// LockRunTx marks the lock point of a mutating transaction. With
// _txlock=immediate the write lock is held from BEGIN; this no-op update
// additionally fails fast with ErrNotFound when the run vanished.
func (r Repo) LockRunTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `UPDATE pay_runs SET id=id WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateRunStatusTx writes status and both approval fields in one statement
// so they can never drift apart.
func (r Repo) UpdateRunStatusTx(ctx context.Context, tx *sql.Tx, id, status string, approvedBy, approvedAt *string, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE pay_runs SET status=?, approved_by=?, approved_at=?, updated_at=? WHERE id=?`,
		status, nullableStringPtr(approvedBy), nullableStringPtr(approvedAt), updatedAt, id)
	return err
}

func (r Repo) UpdateRunTotalsTx(ctx context.Context, tx *sql.Tx, id string, totals domain.RunTotals, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE pay_runs SET employees=?, gross=?, net=?, warnings=?, updated_at=? WHERE id=?`,
		totals.Employees, dec(totals.Gross), dec(totals.Net), totals.Warnings, updatedAt, id)
	return err
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`,
		cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
