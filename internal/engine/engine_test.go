package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"payline/internal/config"
	"payline/internal/db"
	"payline/internal/domain"
	"payline/internal/engine"
	"payline/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	if _, err := db.EnsureWorkspace(dir); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("Acme Pty Ltd")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) currentPeriod(t *testing.T) domain.PayPeriod {
	t.Helper()
	p, err := env.Engine.CreatePeriod(env.Ctx, "2024-01-01", "2024-01-14", "tester")
	if err != nil {
		t.Fatalf("create period: %v", err)
	}
	if p, err = env.Engine.SetCurrentPeriod(env.Ctx, p.ID, "tester"); err != nil {
		t.Fatalf("set current period: %v", err)
	}
	return p
}

func (env testEnv) employee(t *testing.T, code string, rate string) domain.Employee {
	t.Helper()
	r := dec(t, rate)
	emp, err := env.Engine.CreateEmployee(env.Ctx, engine.EmployeeCreateOptions{
		Code:       code,
		FirstName:  "Pat",
		LastName:   code,
		HourlyRate: &r,
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatalf("create employee %s: %v", code, err)
	}
	return emp
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return v
}

func standardItem(empID string) engine.ItemCreateOptions {
	return engine.ItemCreateOptions{
		EmployeeID: empID,
		Hours:      decimal.NewFromInt(38),
		OT15Hours:  decimal.NewFromInt(2),
		Allowance:  decimal.NewFromInt(50),
		Tax:        decimal.NewFromInt(200),
		Super:      decimal.NewFromInt(80),
		ActorID:    "tester",
	}
}

func TestRunTotalsAcrossItemMutations(t *testing.T) {
	env := newTestEnv(t)
	env.currentPeriod(t)
	alice := env.employee(t, "E001", "30")
	bob := env.employee(t, "E002", "30")

	first, err := env.Engine.AddItem(env.Ctx, standardItem(alice.ID))
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if !first.Gross.Equal(decimal.NewFromInt(1230)) {
		t.Fatalf("gross = %s, want 1230", first.Gross)
	}
	if !first.Net.Equal(decimal.NewFromInt(950)) {
		t.Fatalf("net = %s, want 950", first.Net)
	}
	if first.Status != domain.ItemStatusOK {
		t.Fatalf("status = %s", first.Status)
	}

	second, err := env.Engine.AddItem(env.Ctx, standardItem(bob.ID))
	if err != nil {
		t.Fatalf("add second item: %v", err)
	}

	view, err := env.Engine.CurrentRun(env.Ctx)
	if err != nil {
		t.Fatalf("current run: %v", err)
	}
	if view.Run.Totals.Employees != 2 {
		t.Fatalf("employees = %d, want 2", view.Run.Totals.Employees)
	}
	if !view.Run.Totals.Gross.Equal(decimal.NewFromInt(2460)) {
		t.Fatalf("total gross = %s, want 2460", view.Run.Totals.Gross)
	}
	if !view.Run.Totals.Net.Equal(decimal.NewFromInt(1900)) {
		t.Fatalf("total net = %s, want 1900", view.Run.Totals.Net)
	}

	// Delete folds the totals back down, and deleting again is a no-op.
	if err := env.Engine.DeleteItem(env.Ctx, second.ID, "tester"); err != nil {
		t.Fatalf("delete item: %v", err)
	}
	if err := env.Engine.DeleteItem(env.Ctx, second.ID, "tester"); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}
	view, _ = env.Engine.CurrentRun(env.Ctx)
	if view.Run.Totals.Employees != 1 || !view.Run.Totals.Gross.Equal(decimal.NewFromInt(1230)) {
		t.Fatalf("totals after delete = %+v", view.Run.Totals)
	}
}

func TestTotalsCountEveryLine(t *testing.T) {
	env := newTestEnv(t)
	env.currentPeriod(t)
	alice := env.employee(t, "E001", "30")

	// Two lines for the same employee count twice: employees is a line
	// count, not a distinct head count.
	if _, err := env.Engine.AddItem(env.Ctx, standardItem(alice.ID)); err != nil {
		t.Fatalf("add item: %v", err)
	}
	if _, err := env.Engine.AddItem(env.Ctx, standardItem(alice.ID)); err != nil {
		t.Fatalf("add second item: %v", err)
	}

	view, err := env.Engine.CurrentRun(env.Ctx)
	if err != nil {
		t.Fatalf("current run: %v", err)
	}
	if view.Run.Totals.Employees != 2 {
		t.Fatalf("employees = %d, want 2 (one per line)", view.Run.Totals.Employees)
	}
	if !view.Run.Totals.Gross.Equal(decimal.NewFromInt(2460)) {
		t.Fatalf("total gross = %s, want 2460", view.Run.Totals.Gross)
	}
	if !view.Run.Totals.Net.Equal(decimal.NewFromInt(1900)) {
		t.Fatalf("total net = %s, want 1900", view.Run.Totals.Net)
	}
}

func TestRecalcLineRepairsStoredAmounts(t *testing.T) {
	env := newTestEnv(t)
	env.currentPeriod(t)
	alice := env.employee(t, "E001", "30")
	item, err := env.Engine.AddItem(env.Ctx, standardItem(alice.ID))
	if err != nil {
		t.Fatalf("add item: %v", err)
	}

	// Corrupt the persisted amounts behind the engine's back.
	if _, err := env.Engine.DB.ExecContext(env.Ctx,
		`UPDATE pay_run_items SET gross='0', net='0', status='warning' WHERE id=?`, item.ID); err != nil {
		t.Fatalf("corrupt item: %v", err)
	}

	fixed, err := env.Engine.RecalcLine(env.Ctx, item.ID, "tester")
	if err != nil {
		t.Fatalf("recalc line: %v", err)
	}
	if fixed == nil {
		t.Fatal("recalc returned nil for existing item")
	}
	if !fixed.Gross.Equal(decimal.NewFromInt(1230)) || !fixed.Net.Equal(decimal.NewFromInt(950)) {
		t.Fatalf("recalc = %s/%s, want 1230/950", fixed.Gross, fixed.Net)
	}
	if fixed.Status != domain.ItemStatusOK {
		t.Fatalf("status = %s, want ok", fixed.Status)
	}

	// The repair is persisted and the summary refreshed with it.
	view, err := env.Engine.CurrentRun(env.Ctx)
	if err != nil {
		t.Fatalf("current run: %v", err)
	}
	if !view.Items[0].Gross.Equal(decimal.NewFromInt(1230)) {
		t.Fatalf("stored gross = %s, want 1230", view.Items[0].Gross)
	}
	if !view.Run.Totals.Gross.Equal(decimal.NewFromInt(1230)) || view.Run.Totals.Warnings != 0 {
		t.Fatalf("totals after recalc = %+v", view.Run.Totals)
	}

	missing, err := env.Engine.RecalcLine(env.Ctx, "no-such-item", "tester")
	if err != nil {
		t.Fatalf("recalc missing item: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing item, got %+v", missing)
	}
}

func TestStatusLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.currentPeriod(t)
	alice := env.employee(t, "E001", "30")
	if _, err := env.Engine.AddItem(env.Ctx, standardItem(alice.ID)); err != nil {
		t.Fatalf("add item: %v", err)
	}

	// Draft -> Posted must go through Approved.
	_, err := env.Engine.Post(env.Ctx, "tester")
	var te engine.InvalidTransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if te.From != domain.RunStatusDraft || te.To != domain.RunStatusPosted {
		t.Fatalf("transition = %s -> %s", te.From, te.To)
	}

	run, err := env.Engine.Approve(env.Ctx, "manager")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if run.Status != domain.RunStatusApproved {
		t.Fatalf("status = %s", run.Status)
	}
	if run.ApprovedBy == nil || *run.ApprovedBy != "manager" {
		t.Fatalf("approved_by = %v", run.ApprovedBy)
	}
	if run.ApprovedAt == nil {
		t.Fatal("approved_at not set")
	}

	// Re-approving is a no-op, not an error.
	again, err := env.Engine.Approve(env.Ctx, "someone-else")
	if err != nil {
		t.Fatalf("re-approve: %v", err)
	}
	if *again.ApprovedBy != "manager" {
		t.Fatalf("no-op changed approver to %s", *again.ApprovedBy)
	}

	run, err = env.Engine.Post(env.Ctx, "manager")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if run.Status != domain.RunStatusPosted {
		t.Fatalf("status = %s", run.Status)
	}

	// Posted runs are immutable.
	_, err = env.Engine.AddItem(env.Ctx, standardItem(alice.ID))
	var ne engine.NotEditableError
	if !errors.As(err, &ne) {
		t.Fatalf("expected not editable, got %v", err)
	}
}

func TestApproveBlockedByValidation(t *testing.T) {
	env := newTestEnv(t)
	env.currentPeriod(t)

	_, err := env.Engine.Approve(env.Ctx, "manager")
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(ve.Errors) == 0 {
		t.Fatal("validation error carries no messages")
	}

	view, err := env.Engine.CurrentRun(env.Ctx)
	if err != nil {
		t.Fatalf("current run: %v", err)
	}
	if view.Status != domain.RunStatusDraft {
		t.Fatalf("status = %s, want Draft after blocked approval", view.Status)
	}
}

func TestValidateAccumulatesAllProblems(t *testing.T) {
	env := newTestEnv(t)
	env.currentPeriod(t)
	alice := env.employee(t, "E001", "30")
	if _, err := env.Engine.AddItem(env.Ctx, engine.ItemCreateOptions{
		EmployeeID: alice.ID,
		ActorID:    "tester",
	}); err != nil {
		t.Fatalf("add empty item: %v", err)
	}

	report, err := env.Engine.Validate(env.Ctx)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if report.OK {
		t.Fatal("expected validation failure")
	}
	if len(report.Errors) != 1 {
		t.Fatalf("errors = %v", report.Errors)
	}
}

func TestReopenClearsApproval(t *testing.T) {
	env := newTestEnv(t)
	env.currentPeriod(t)
	alice := env.employee(t, "E001", "30")
	if _, err := env.Engine.AddItem(env.Ctx, standardItem(alice.ID)); err != nil {
		t.Fatalf("add item: %v", err)
	}
	if _, err := env.Engine.Approve(env.Ctx, "manager"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	run, err := env.Engine.Reopen(env.Ctx, "manager")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if run.Status != domain.RunStatusDraft {
		t.Fatalf("status = %s, want Draft", run.Status)
	}
	if run.ApprovedBy != nil || run.ApprovedAt != nil {
		t.Fatalf("approval metadata survived reopen: %v %v", run.ApprovedBy, run.ApprovedAt)
	}
}

func TestReopenNeedsExplicitOptIn(t *testing.T) {
	env := newTestEnv(t)
	// The config key must not open the rollback on its own; it only feeds
	// flag defaults at the edges.
	env.Engine.Config.Payroll.AllowApprovedToDraft = true
	env.currentPeriod(t)
	alice := env.employee(t, "E001", "30")
	if _, err := env.Engine.AddItem(env.Ctx, standardItem(alice.ID)); err != nil {
		t.Fatalf("add item: %v", err)
	}
	if _, err := env.Engine.Approve(env.Ctx, "manager"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	_, err := env.Engine.UpdateStatus(env.Ctx, engine.StatusChangeOptions{
		Target:  domain.RunStatusDraft,
		ActorID: "manager",
	})
	var te engine.InvalidTransitionError
	if !errors.As(err, &te) {
		t.Fatalf("rollback without opt-in: got %v, want invalid transition", err)
	}

	run, err := env.Engine.UpdateStatus(env.Ctx, engine.StatusChangeOptions{
		Target:               domain.RunStatusDraft,
		ActorID:              "manager",
		AllowApprovedToDraft: true,
	})
	if err != nil {
		t.Fatalf("rollback with opt-in: %v", err)
	}
	if run.Status != domain.RunStatusDraft {
		t.Fatalf("status = %s, want Draft", run.Status)
	}
}

func TestUpdateItemScopedToCurrentRun(t *testing.T) {
	env := newTestEnv(t)
	env.currentPeriod(t)
	alice := env.employee(t, "E001", "30")
	item, err := env.Engine.AddItem(env.Ctx, standardItem(alice.ID))
	if err != nil {
		t.Fatalf("add item: %v", err)
	}

	hours := decimal.NewFromInt(40)
	updated, err := env.Engine.UpdateItem(env.Ctx, item.ID, engine.ItemPatch{Hours: &hours}, "tester")
	if err != nil {
		t.Fatalf("update item: %v", err)
	}
	if updated == nil {
		t.Fatal("update returned nil for existing item")
	}
	if !updated.Gross.Equal(dec(t, "1340")) {
		t.Fatalf("gross after update = %s, want 1340", updated.Gross)
	}

	missing, err := env.Engine.UpdateItem(env.Ctx, "no-such-item", engine.ItemPatch{Hours: &hours}, "tester")
	if err != nil {
		t.Fatalf("update missing item: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing item, got %+v", missing)
	}
}

func TestAddItemUsesEmployeeRate(t *testing.T) {
	env := newTestEnv(t)
	env.currentPeriod(t)
	alice := env.employee(t, "E001", "42.50")

	item, err := env.Engine.AddItem(env.Ctx, engine.ItemCreateOptions{
		EmployeeID: alice.ID,
		Hours:      decimal.NewFromInt(10),
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if !item.Rate.Equal(dec(t, "42.50")) {
		t.Fatalf("rate = %s, want employee default", item.Rate)
	}
	if !item.Gross.Equal(dec(t, "425")) {
		t.Fatalf("gross = %s, want 425", item.Gross)
	}
}

func TestNegativeNetFlagsWarning(t *testing.T) {
	env := newTestEnv(t)
	env.currentPeriod(t)
	alice := env.employee(t, "E001", "30")

	item, err := env.Engine.AddItem(env.Ctx, engine.ItemCreateOptions{
		EmployeeID: alice.ID,
		Hours:      decimal.NewFromInt(1),
		Tax:        decimal.NewFromInt(500),
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if item.Status != domain.ItemStatusWarning {
		t.Fatalf("status = %s, want warning", item.Status)
	}
	view, err := env.Engine.CurrentRun(env.Ctx)
	if err != nil {
		t.Fatalf("current run: %v", err)
	}
	if view.Run.Totals.Warnings != 1 {
		t.Fatalf("warnings = %d, want 1", view.Run.Totals.Warnings)
	}
}

func TestStartRunIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.currentPeriod(t)

	first, err := env.Engine.StartRun(env.Ctx, "", "tester")
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	second, err := env.Engine.StartRun(env.Ctx, "", "tester")
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("start created a second run: %s vs %s", first.ID, second.ID)
	}
}

func TestCurrentRunWithoutPeriod(t *testing.T) {
	env := newTestEnv(t)
	view, err := env.Engine.CurrentRun(env.Ctx)
	if err != nil {
		t.Fatalf("current run: %v", err)
	}
	if view.Status != domain.RunStatusNone {
		t.Fatalf("status = %s, want None", view.Status)
	}
	if view.Run != nil || view.Period != nil {
		t.Fatalf("expected empty view, got %+v", view)
	}
}
