// Package export renders a pay run into outbound artifacts. Every adapter
// works from one Snapshot read in a single read-only transaction, so a file
// never mixes pre- and post-commit state, and exporting never blocks the
// engine's write path.
package export

import (
	"context"
	"database/sql"

	"payline/internal/domain"
	"payline/internal/repo"
)

type Snapshot struct {
	Run       domain.PayRun
	Period    domain.PayPeriod
	Items     []domain.ItemView
	Employees map[string]domain.Employee
}

// LoadSnapshot reads a run with its period, items and employees.
func LoadSnapshot(ctx context.Context, db *sql.DB, r repo.Repo, runID string) (Snapshot, error) {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return Snapshot{}, err
	}
	defer tx.Rollback()

	var snap Snapshot
	if snap.Run, err = r.GetRunTx(ctx, tx, runID); err != nil {
		return snap, err
	}
	if snap.Period, err = r.GetPeriodTx(ctx, tx, snap.Run.PeriodID); err != nil {
		return snap, err
	}
	if snap.Items, _, err = r.ListItemViewsTx(ctx, tx, repo.ItemFilters{RunID: runID}); err != nil {
		return snap, err
	}
	if snap.Employees, err = r.EmployeesByIDTx(ctx, tx, runID); err != nil {
		return snap, err
	}
	return snap, nil
}

// Company carries the payer identity stamped into exports.
type Company struct {
	Name        string
	BSB         string
	AccountNo   string
	AccountName string
	BankCode    string
	APCAUserID  string
}
