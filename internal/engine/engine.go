package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"payline/internal/config"
	"payline/internal/domain"
	"payline/internal/events"
	"payline/internal/paycalc"
	"payline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

const dateLayout = "2006-01-02"

// CreatePeriod registers a new pay period. Periods start out non-current;
// SetCurrentPeriod moves the flag.
func (e Engine) CreatePeriod(ctx context.Context, startDate, endDate, actorID string) (domain.PayPeriod, error) {
	start, err := time.Parse(dateLayout, startDate)
	if err != nil {
		return domain.PayPeriod{}, fmt.Errorf("start date: %w", err)
	}
	end, err := time.Parse(dateLayout, endDate)
	if err != nil {
		return domain.PayPeriod{}, fmt.Errorf("end date: %w", err)
	}
	if end.Before(start) {
		return domain.PayPeriod{}, fmt.Errorf("period ends %s before it starts %s", endDate, startDate)
	}
	p := domain.PayPeriod{
		ID:        uuid.New().String(),
		StartDate: startDate,
		EndDate:   endDate,
		CreatedAt: e.nowStr(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PayPeriod{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertPeriodTx(ctx, tx, p); err != nil {
		return domain.PayPeriod{}, fmt.Errorf("insert pay period: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "payroll.period.created", events.KindPeriod, p.ID, actorID, events.EventPayload{
		"start_date": p.StartDate,
		"end_date":   p.EndDate,
	}); err != nil {
		return domain.PayPeriod{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PayPeriod{}, err
	}
	return p, nil
}

func (e Engine) ListPeriods(ctx context.Context) ([]domain.PayPeriod, error) {
	return e.Repo.ListPeriods(ctx)
}

// SetCurrentPeriod moves the is_current flag and makes sure the period has a
// Draft run to work in, creating one when none exists.
func (e Engine) SetCurrentPeriod(ctx context.Context, periodID, actorID string) (domain.PayPeriod, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PayPeriod{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.SetCurrentPeriodTx(ctx, tx, periodID); err != nil {
		return domain.PayPeriod{}, err
	}
	if _, err := e.Repo.LatestRunForPeriodTx(ctx, tx, periodID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return domain.PayPeriod{}, err
		}
		if _, err := e.createRunTx(ctx, tx, periodID, actorID); err != nil {
			return domain.PayPeriod{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "payroll.period.current_changed", events.KindPeriod, periodID, actorID, nil); err != nil {
		return domain.PayPeriod{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PayPeriod{}, err
	}
	return e.Repo.GetPeriod(ctx, periodID)
}

func (e Engine) createRunTx(ctx context.Context, tx *sql.Tx, periodID, actorID string) (domain.PayRun, error) {
	now := e.nowStr()
	run := domain.PayRun{
		ID:        uuid.New().String(),
		PeriodID:  periodID,
		Status:    domain.RunStatusDraft,
		CreatedBy: actorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertRunTx(ctx, tx, run); err != nil {
		return run, fmt.Errorf("insert pay run: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "payroll.run.created", events.KindRun, run.ID, actorID, events.EventPayload{
		"period_id": periodID,
	}); err != nil {
		return run, err
	}
	return run, nil
}

// StartRun creates a Draft run for a period, or returns the existing one.
// An empty periodID targets the current period.
func (e Engine) StartRun(ctx context.Context, periodID, actorID string) (domain.PayRun, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PayRun{}, err
	}
	defer tx.Rollback()

	if periodID == "" {
		period, err := e.Repo.CurrentPeriodTx(ctx, tx)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.PayRun{}, fmt.Errorf("no current pay period: %w", repo.ErrNotFound)
			}
			return domain.PayRun{}, err
		}
		periodID = period.ID
	} else if _, err := e.Repo.GetPeriodTx(ctx, tx, periodID); err != nil {
		return domain.PayRun{}, err
	}

	run, err := e.Repo.LatestRunForPeriodTx(ctx, tx, periodID)
	if err == nil {
		return run, tx.Commit()
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.PayRun{}, err
	}
	run, err = e.createRunTx(ctx, tx, periodID, actorID)
	if err != nil {
		return domain.PayRun{}, err
	}
	return run, tx.Commit()
}

// currentRunTx resolves the current period's latest run. It never caches;
// every operation resolves afresh inside its own transaction.
func (e Engine) currentRunTx(ctx context.Context, tx *sql.Tx) (domain.PayPeriod, domain.PayRun, error) {
	period, err := e.Repo.CurrentPeriodTx(ctx, tx)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return period, domain.PayRun{}, fmt.Errorf("no current pay period: %w", repo.ErrNotFound)
		}
		return period, domain.PayRun{}, err
	}
	run, err := e.Repo.LatestRunForPeriodTx(ctx, tx, period.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return period, run, fmt.Errorf("no pay run for the current period: %w", repo.ErrNotFound)
		}
		return period, run, err
	}
	return period, run, nil
}

// CurrentRun returns the read model for the current run. When there is no
// current period or no run yet, the view carries status None instead of an
// error.
func (e Engine) CurrentRun(ctx context.Context) (domain.RunView, error) {
	tx, err := e.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return domain.RunView{}, err
	}
	defer tx.Rollback()

	view := domain.RunView{Status: domain.RunStatusNone}
	period, err := e.Repo.CurrentPeriodTx(ctx, tx)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return view, nil
		}
		return view, err
	}
	view.Period = &period
	run, err := e.Repo.LatestRunForPeriodTx(ctx, tx, period.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return view, nil
		}
		return view, err
	}
	items, _, err := e.Repo.ListItemViewsTx(ctx, tx, repo.ItemFilters{RunID: run.ID})
	if err != nil {
		return view, err
	}
	view.Status = run.Status
	view.Run = &run
	view.Items = items
	return view, nil
}

// StatusChangeOptions drive UpdateStatus.
type StatusChangeOptions struct {
	Target  string
	ActorID string
	// AllowApprovedToDraft opens the Approved -> Draft rollback for this
	// call only. Callers opt in explicitly; there is no ambient default.
	AllowApprovedToDraft bool
}

func ensureRunTransition(oldStatus, newStatus string, allowReopen bool) error {
	switch oldStatus {
	case domain.RunStatusDraft:
		if newStatus == domain.RunStatusApproved {
			return nil
		}
	case domain.RunStatusApproved:
		if newStatus == domain.RunStatusPosted {
			return nil
		}
		if newStatus == domain.RunStatusDraft && allowReopen {
			return nil
		}
	}
	return InvalidTransitionError{From: oldStatus, To: newStatus}
}

// UpdateStatus moves the current run through its lifecycle. The run row is
// locked for the whole transaction and the status re-read under that lock,
// so concurrent approvals serialize cleanly. Same-state requests are no-ops.
func (e Engine) UpdateStatus(ctx context.Context, opts StatusChangeOptions) (domain.PayRun, error) {
	switch opts.Target {
	case domain.RunStatusDraft, domain.RunStatusApproved, domain.RunStatusPosted:
	default:
		return domain.PayRun{}, fmt.Errorf("unknown pay run status %q", opts.Target)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PayRun{}, err
	}
	defer tx.Rollback()

	_, run, err := e.currentRunTx(ctx, tx)
	if err != nil {
		return domain.PayRun{}, err
	}
	if err := e.Repo.LockRunTx(ctx, tx, run.ID); err != nil {
		return domain.PayRun{}, err
	}
	run, err = e.Repo.GetRunTx(ctx, tx, run.ID)
	if err != nil {
		return domain.PayRun{}, err
	}
	if run.Status == opts.Target {
		return run, nil
	}
	if err := ensureRunTransition(run.Status, opts.Target, opts.AllowApprovedToDraft); err != nil {
		return run, err
	}
	if opts.Target == domain.RunStatusApproved {
		report, err := e.validateTx(ctx, tx)
		if err != nil {
			return run, err
		}
		if !report.OK {
			return run, ValidationError{Errors: report.Errors}
		}
	}
	now := e.nowStr()
	from := run.Status
	run.Status = opts.Target
	run.UpdatedAt = now
	if opts.Target == domain.RunStatusApproved {
		run.ApprovedBy = &opts.ActorID
		run.ApprovedAt = &now
	} else {
		// Approval metadata lives and dies with Approved status.
		run.ApprovedBy = nil
		run.ApprovedAt = nil
	}
	if err := e.Repo.UpdateRunStatusTx(ctx, tx, run.ID, run.Status, run.ApprovedBy, run.ApprovedAt, now); err != nil {
		return run, err
	}
	if err := e.Events.Append(ctx, tx, "payroll.run.status_changed", events.KindRun, run.ID, opts.ActorID, events.EventPayload{
		"from": from,
		"to":   run.Status,
	}); err != nil {
		return run, err
	}
	if err := tx.Commit(); err != nil {
		return run, err
	}
	return run, nil
}

// Approve validates and approves the current run.
func (e Engine) Approve(ctx context.Context, actorID string) (domain.PayRun, error) {
	return e.UpdateStatus(ctx, StatusChangeOptions{Target: domain.RunStatusApproved, ActorID: actorID})
}

// Post posts the current approved run.
func (e Engine) Post(ctx context.Context, actorID string) (domain.PayRun, error) {
	return e.UpdateStatus(ctx, StatusChangeOptions{Target: domain.RunStatusPosted, ActorID: actorID})
}

// Reopen rolls an approved run back to Draft.
func (e Engine) Reopen(ctx context.Context, actorID string) (domain.PayRun, error) {
	return e.UpdateStatus(ctx, StatusChangeOptions{
		Target:               domain.RunStatusDraft,
		ActorID:              actorID,
		AllowApprovedToDraft: true,
	})
}

// Validate reports everything currently blocking approval. It never stops
// at the first problem.
func (e Engine) Validate(ctx context.Context) (domain.ValidationReport, error) {
	tx, err := e.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return domain.ValidationReport{}, err
	}
	defer tx.Rollback()
	return e.validateTx(ctx, tx)
}

func (e Engine) validateTx(ctx context.Context, tx *sql.Tx) (domain.ValidationReport, error) {
	report := domain.ValidationReport{Errors: []string{}}
	period, err := e.Repo.CurrentPeriodTx(ctx, tx)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			report.Errors = append(report.Errors, "no current pay period")
			return report, nil
		}
		return report, err
	}
	run, err := e.Repo.LatestRunForPeriodTx(ctx, tx, period.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			report.Errors = append(report.Errors, "no pay run for the current period")
			return report, nil
		}
		return report, err
	}
	items, err := e.Repo.ListItemsByRunTx(ctx, tx, run.ID)
	if err != nil {
		return report, err
	}
	if len(items) == 0 {
		report.Errors = append(report.Errors, "pay run has no items")
	}
	employees, err := e.Repo.EmployeesByIDTx(ctx, tx, run.ID)
	if err != nil {
		return report, err
	}
	for _, it := range items {
		name := it.EmployeeID
		emp, ok := employees[it.EmployeeID]
		if ok {
			name = emp.FullName()
		}
		if it.Hours.IsZero() && it.Gross.IsZero() {
			report.Errors = append(report.Errors, fmt.Sprintf("item for %s has zero hours and zero gross", name))
		}
		if ok && emp.HourlyRate == nil && it.Gross.IsZero() {
			report.Errors = append(report.Errors, fmt.Sprintf("employee %s has no hourly rate and no gross amount", name))
		}
	}
	report.OK = len(report.Errors) == 0
	return report, nil
}

func itemInputs(it domain.PayRunItem) paycalc.Inputs {
	return paycalc.Inputs{
		Hours:           it.Hours,
		Rate:            it.Rate,
		OT15Hours:       it.OT15Hours,
		OT20Hours:       it.OT20Hours,
		Allowance:       it.Allowance,
		Tax:             it.Tax,
		Super:           it.Super,
		DeductionsTotal: it.DeductionsTotal,
	}
}

func applyCalc(it *domain.PayRunItem) {
	res := paycalc.Compute(itemInputs(*it))
	it.Gross = res.Gross
	it.Net = res.Net
	it.Status = res.Status
}

// recomputeSummaryTx folds the run's items into the denormalized totals on
// the run row. Every item mutation calls this inside its own transaction.
func (e Engine) recomputeSummaryTx(ctx context.Context, tx *sql.Tx, runID string) error {
	items, err := e.Repo.ListItemsByRunTx(ctx, tx, runID)
	if err != nil {
		return err
	}
	var totals domain.RunTotals
	totals.Gross = decimal.Zero
	totals.Net = decimal.Zero
	// employees is a line count: two lines for one employee count twice.
	totals.Employees = len(items)
	for _, it := range items {
		totals.Gross = totals.Gross.Add(it.Gross)
		totals.Net = totals.Net.Add(it.Net)
		if it.Status == domain.ItemStatusWarning {
			totals.Warnings++
		}
	}
	return e.Repo.UpdateRunTotalsTx(ctx, tx, runID, totals, e.nowStr())
}

// ItemCreateOptions are parameters for adding a pay line.
type ItemCreateOptions struct {
	EmployeeID      string
	Hours           decimal.Decimal
	Rate            decimal.Decimal
	OT15Hours       decimal.Decimal
	OT20Hours       decimal.Decimal
	Allowance       decimal.Decimal
	Tax             decimal.Decimal
	Super           decimal.Decimal
	DeductionsTotal decimal.Decimal
	Note            string
	ActorID         string
}

// AddItem adds a line to the current Draft run. The employee's configured
// hourly rate fills in when no rate is given.
func (e Engine) AddItem(ctx context.Context, opts ItemCreateOptions) (domain.PayRunItem, error) {
	if opts.EmployeeID == "" {
		return domain.PayRunItem{}, errors.New("employee is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PayRunItem{}, err
	}
	defer tx.Rollback()

	_, run, err := e.currentRunTx(ctx, tx)
	if err != nil {
		return domain.PayRunItem{}, err
	}
	if err := e.Repo.LockRunTx(ctx, tx, run.ID); err != nil {
		return domain.PayRunItem{}, err
	}
	run, err = e.Repo.GetRunTx(ctx, tx, run.ID)
	if err != nil {
		return domain.PayRunItem{}, err
	}
	if run.Status != domain.RunStatusDraft {
		return domain.PayRunItem{}, NotEditableError{Status: run.Status}
	}
	emp, err := e.Repo.GetEmployeeTx(ctx, tx, opts.EmployeeID)
	if err != nil {
		return domain.PayRunItem{}, err
	}
	rate := opts.Rate
	if rate.IsZero() && emp.HourlyRate != nil {
		rate = *emp.HourlyRate
	}
	now := e.nowStr()
	it := domain.PayRunItem{
		ID:              uuid.New().String(),
		PayRunID:        run.ID,
		EmployeeID:      emp.ID,
		Hours:           opts.Hours,
		Rate:            rate,
		OT15Hours:       opts.OT15Hours,
		OT20Hours:       opts.OT20Hours,
		Allowance:       opts.Allowance,
		Tax:             opts.Tax,
		Super:           opts.Super,
		DeductionsTotal: opts.DeductionsTotal,
		Note:            optionalString(opts.Note),
		UpdatedBy:       optionalString(opts.ActorID),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	applyCalc(&it)
	if err := e.Repo.InsertItemTx(ctx, tx, it); err != nil {
		return it, err
	}
	if err := e.recomputeSummaryTx(ctx, tx, run.ID); err != nil {
		return it, err
	}
	if err := e.Events.Append(ctx, tx, "payroll.run.item_added", events.KindItem, it.ID, opts.ActorID, events.EventPayload{
		"pay_run_id":  run.ID,
		"employee_id": emp.ID,
		"gross":       it.Gross.String(),
		"net":         it.Net.String(),
	}); err != nil {
		return it, err
	}
	if err := tx.Commit(); err != nil {
		return it, err
	}
	return it, nil
}

// ItemPatch is a sparse update: nil fields keep their stored value.
type ItemPatch struct {
	Hours           *decimal.Decimal
	Rate            *decimal.Decimal
	OT15Hours       *decimal.Decimal
	OT20Hours       *decimal.Decimal
	Allowance       *decimal.Decimal
	Tax             *decimal.Decimal
	Super           *decimal.Decimal
	DeductionsTotal *decimal.Decimal
	Note            *string
}

func (p ItemPatch) apply(it *domain.PayRunItem) {
	if p.Hours != nil {
		it.Hours = *p.Hours
	}
	if p.Rate != nil {
		it.Rate = *p.Rate
	}
	if p.OT15Hours != nil {
		it.OT15Hours = *p.OT15Hours
	}
	if p.OT20Hours != nil {
		it.OT20Hours = *p.OT20Hours
	}
	if p.Allowance != nil {
		it.Allowance = *p.Allowance
	}
	if p.Tax != nil {
		it.Tax = *p.Tax
	}
	if p.Super != nil {
		it.Super = *p.Super
	}
	if p.DeductionsTotal != nil {
		it.DeductionsTotal = *p.DeductionsTotal
	}
	if p.Note != nil {
		it.Note = optionalString(*p.Note)
	}
}

// UpdateItem patches a line of the current run and recomputes it. A nil
// item (no error) means the item does not exist in the current run; callers
// surface that as an empty result, not a failure.
func (e Engine) UpdateItem(ctx context.Context, itemID string, patch ItemPatch, actorID string) (*domain.PayRunItem, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, run, err := e.currentRunTx(ctx, tx)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if err := e.Repo.LockRunTx(ctx, tx, run.ID); err != nil {
		return nil, err
	}
	run, err = e.Repo.GetRunTx(ctx, tx, run.ID)
	if err != nil {
		return nil, err
	}
	it, err := e.Repo.GetItemTx(ctx, tx, itemID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if it.PayRunID != run.ID {
		return nil, nil
	}
	if run.Status != domain.RunStatusDraft {
		return nil, NotEditableError{Status: run.Status}
	}
	patch.apply(&it)
	applyCalc(&it)
	it.UpdatedBy = optionalString(actorID)
	it.UpdatedAt = e.nowStr()
	if err := e.Repo.UpdateItemTx(ctx, tx, it); err != nil {
		return nil, err
	}
	if err := e.recomputeSummaryTx(ctx, tx, run.ID); err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, "payroll.run.item_updated", events.KindItem, it.ID, actorID, events.EventPayload{
		"pay_run_id": run.ID,
		"gross":      it.Gross.String(),
		"net":        it.Net.String(),
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &it, nil
}

// DeleteItem removes a line from its Draft run. Deleting an item that does
// not exist is a no-op.
func (e Engine) DeleteItem(ctx context.Context, itemID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	it, err := e.Repo.GetItemTx(ctx, tx, itemID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := e.Repo.LockRunTx(ctx, tx, it.PayRunID); err != nil {
		return err
	}
	run, err := e.Repo.GetRunTx(ctx, tx, it.PayRunID)
	if err != nil {
		return err
	}
	if run.Status != domain.RunStatusDraft {
		return NotEditableError{Status: run.Status}
	}
	if _, err := e.Repo.DeleteItemTx(ctx, tx, itemID); err != nil {
		return err
	}
	if err := e.recomputeSummaryTx(ctx, tx, run.ID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "payroll.run.item_deleted", events.KindItem, itemID, actorID, events.EventPayload{
		"pay_run_id": run.ID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// RecalcLine recomputes one line from its stored inputs and persists the
// result, locking the owning run for the transaction. Nil means the item
// does not exist.
func (e Engine) RecalcLine(ctx context.Context, itemID, actorID string) (*domain.PayRunItem, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	it, err := e.Repo.GetItemTx(ctx, tx, itemID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if err := e.Repo.LockRunTx(ctx, tx, it.PayRunID); err != nil {
		return nil, err
	}
	run, err := e.Repo.GetRunTx(ctx, tx, it.PayRunID)
	if err != nil {
		return nil, err
	}
	if run.Status != domain.RunStatusDraft {
		return nil, NotEditableError{Status: run.Status}
	}
	applyCalc(&it)
	it.UpdatedBy = optionalString(actorID)
	it.UpdatedAt = e.nowStr()
	if err := e.Repo.UpdateItemTx(ctx, tx, it); err != nil {
		return nil, err
	}
	if err := e.recomputeSummaryTx(ctx, tx, run.ID); err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, "payroll.run.item_updated", events.KindItem, it.ID, actorID, events.EventPayload{
		"pay_run_id": run.ID,
		"gross":      it.Gross.String(),
		"net":        it.Net.String(),
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &it, nil
}

// RecalculateRun recomputes every line of the current Draft run and its
// summary in one transaction.
func (e Engine) RecalculateRun(ctx context.Context, actorID string) (domain.PayRun, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PayRun{}, err
	}
	defer tx.Rollback()

	_, run, err := e.currentRunTx(ctx, tx)
	if err != nil {
		return domain.PayRun{}, err
	}
	if err := e.Repo.LockRunTx(ctx, tx, run.ID); err != nil {
		return domain.PayRun{}, err
	}
	run, err = e.Repo.GetRunTx(ctx, tx, run.ID)
	if err != nil {
		return domain.PayRun{}, err
	}
	if run.Status != domain.RunStatusDraft {
		return run, NotEditableError{Status: run.Status}
	}
	items, err := e.Repo.ListItemsByRunTx(ctx, tx, run.ID)
	if err != nil {
		return run, err
	}
	now := e.nowStr()
	for _, it := range items {
		applyCalc(&it)
		it.UpdatedAt = now
		if err := e.Repo.UpdateItemTx(ctx, tx, it); err != nil {
			return run, err
		}
	}
	if err := e.recomputeSummaryTx(ctx, tx, run.ID); err != nil {
		return run, err
	}
	if err := e.Events.Append(ctx, tx, "payroll.run.recalculated", events.KindRun, run.ID, actorID, events.EventPayload{
		"items": len(items),
	}); err != nil {
		return run, err
	}
	if err := tx.Commit(); err != nil {
		return run, err
	}
	return e.Repo.GetRun(ctx, run.ID)
}

// ItemListOptions filter the current run's item listing.
type ItemListOptions struct {
	Search string
	Limit  int
	Offset int
}

// ListItems returns the current run's items with employee names, plus the
// total match count. No current run means an empty listing.
func (e Engine) ListItems(ctx context.Context, opts ItemListOptions) ([]domain.ItemView, int, error) {
	tx, err := e.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback()

	_, run, err := e.currentRunTx(ctx, tx)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	return e.Repo.ListItemViewsTx(ctx, tx, repo.ItemFilters{
		RunID:  run.ID,
		Search: opts.Search,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

// EmployeeCreateOptions are parameters for registering an employee.
type EmployeeCreateOptions struct {
	Code        string
	FirstName   string
	LastName    string
	HourlyRate  *decimal.Decimal
	BankBSB     string
	BankAccount string
	ActorID     string
}

func (e Engine) CreateEmployee(ctx context.Context, opts EmployeeCreateOptions) (domain.Employee, error) {
	if opts.Code == "" {
		return domain.Employee{}, errors.New("code is required")
	}
	if opts.FirstName == "" && opts.LastName == "" {
		return domain.Employee{}, errors.New("name is required")
	}
	now := e.nowStr()
	emp := domain.Employee{
		ID:          uuid.New().String(),
		Code:        opts.Code,
		FirstName:   opts.FirstName,
		LastName:    opts.LastName,
		HourlyRate:  opts.HourlyRate,
		BankBSB:     opts.BankBSB,
		BankAccount: opts.BankAccount,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return emp, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertEmployeeTx(ctx, tx, emp); err != nil {
		return emp, fmt.Errorf("insert employee: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "payroll.employee.created", events.KindEmployee, emp.ID, opts.ActorID, events.EventPayload{
		"code": emp.Code,
	}); err != nil {
		return emp, err
	}
	if err := tx.Commit(); err != nil {
		return emp, err
	}
	return emp, nil
}

// EmployeePatch is a sparse employee update.
type EmployeePatch struct {
	Code        *string
	FirstName   *string
	LastName    *string
	HourlyRate  *decimal.Decimal
	ClearRate   bool
	BankBSB     *string
	BankAccount *string
	Active      *bool
}

func (e Engine) UpdateEmployee(ctx context.Context, id string, patch EmployeePatch, actorID string) (domain.Employee, error) {
	emp, err := e.Repo.GetEmployee(ctx, id)
	if err != nil {
		return emp, err
	}
	if patch.Code != nil {
		emp.Code = *patch.Code
	}
	if patch.FirstName != nil {
		emp.FirstName = *patch.FirstName
	}
	if patch.LastName != nil {
		emp.LastName = *patch.LastName
	}
	if patch.HourlyRate != nil {
		emp.HourlyRate = patch.HourlyRate
	}
	if patch.ClearRate {
		emp.HourlyRate = nil
	}
	if patch.BankBSB != nil {
		emp.BankBSB = *patch.BankBSB
	}
	if patch.BankAccount != nil {
		emp.BankAccount = *patch.BankAccount
	}
	if patch.Active != nil {
		emp.Active = *patch.Active
	}
	emp.UpdatedAt = e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return emp, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateEmployeeTx(ctx, tx, emp); err != nil {
		return emp, err
	}
	if err := e.Events.Append(ctx, tx, "payroll.employee.updated", events.KindEmployee, emp.ID, actorID, nil); err != nil {
		return emp, err
	}
	if err := tx.Commit(); err != nil {
		return emp, err
	}
	return emp, nil
}

func (e Engine) ListEmployees(ctx context.Context, activeOnly bool) ([]domain.Employee, error) {
	return e.Repo.ListEmployees(ctx, activeOnly)
}

func (e Engine) GetEmployee(ctx context.Context, id string) (domain.Employee, error) {
	return e.Repo.GetEmployee(ctx, id)
}

// GrantRole assigns a config-defined role to an actor.
func (e Engine) GrantRole(ctx context.Context, actorID, roleID, grantedBy string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, actorID, e.nowStr()); err != nil {
		return err
	}
	if err := e.Repo.AssignRole(ctx, tx, actorID, roleID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "rbac.role_granted", "actor", actorID, grantedBy, events.EventPayload{
		"role": roleID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// RevokeRole removes a role from an actor.
func (e Engine) RevokeRole(ctx context.Context, actorID, roleID, revokedBy string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RevokeRole(ctx, tx, actorID, roleID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "rbac.role_revoked", "actor", actorID, revokedBy, events.EventPayload{
		"role": roleID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// --- helpers ---

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
