package domain

import "github.com/shopspring/decimal"

// Pay run statuses. RunStatusNone is a read-model value only; it is never
// stored on a run row.
const (
	RunStatusNone     = "None"
	RunStatusDraft    = "Draft"
	RunStatusApproved = "Approved"
	RunStatusPosted   = "Posted"
)

// Pay line status tags.
const (
	ItemStatusOK      = "ok"
	ItemStatusWarning = "warning"
)

type PayPeriod struct {
	ID        string `json:"id"`
	StartDate string `json:"start_date" format:"date"`
	EndDate   string `json:"end_date" format:"date"`
	IsCurrent bool   `json:"is_current"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type PayRun struct {
	ID         string    `json:"id"`
	PeriodID   string    `json:"period_id"`
	Status     string    `json:"status" enum:"Draft,Approved,Posted"`
	ApprovedBy *string   `json:"approved_by,omitempty"`
	ApprovedAt *string   `json:"approved_at,omitempty" format:"date-time"`
	Totals     RunTotals `json:"totals"`
	CreatedBy  string    `json:"created_by,omitempty"`
	CreatedAt  string    `json:"created_at" format:"date-time"`
	UpdatedAt  string    `json:"updated_at" format:"date-time"`
}

// RunTotals is the denormalized summary maintained on the run row.
type RunTotals struct {
	Employees int             `json:"employees"`
	Gross     decimal.Decimal `json:"gross"`
	Net       decimal.Decimal `json:"net"`
	Warnings  int             `json:"warnings"`
}

type PayRunItem struct {
	ID              string          `json:"id"`
	PayRunID        string          `json:"pay_run_id"`
	EmployeeID      string          `json:"employee_id"`
	Hours           decimal.Decimal `json:"hours"`
	Rate            decimal.Decimal `json:"rate"`
	OT15Hours       decimal.Decimal `json:"ot_15_hours"`
	OT20Hours       decimal.Decimal `json:"ot_20_hours"`
	Allowance       decimal.Decimal `json:"allowance"`
	Tax             decimal.Decimal `json:"tax"`
	Super           decimal.Decimal `json:"super"`
	DeductionsTotal decimal.Decimal `json:"deductions_total"`
	Gross           decimal.Decimal `json:"gross"`
	Net             decimal.Decimal `json:"net"`
	Status          string          `json:"status" enum:"ok,warning"`
	Note            *string         `json:"note,omitempty"`
	UpdatedBy       *string         `json:"updated_by,omitempty"`
	CreatedAt       string          `json:"created_at" format:"date-time"`
	UpdatedAt       string          `json:"updated_at" format:"date-time"`
}

type Employee struct {
	ID          string           `json:"id"`
	Code        string           `json:"code"`
	FirstName   string           `json:"first_name"`
	LastName    string           `json:"last_name"`
	HourlyRate  *decimal.Decimal `json:"hourly_rate,omitempty"`
	BankBSB     string           `json:"bank_bsb,omitempty"`
	BankAccount string           `json:"bank_account,omitempty"`
	Active      bool             `json:"active"`
	CreatedAt   string           `json:"created_at" format:"date-time"`
	UpdatedAt   string           `json:"updated_at" format:"date-time"`
}

func (e Employee) FullName() string {
	if e.FirstName == "" {
		return e.LastName
	}
	if e.LastName == "" {
		return e.FirstName
	}
	return e.FirstName + " " + e.LastName
}

// ItemView is an item joined with employee display fields.
type ItemView struct {
	PayRunItem
	EmployeeCode string `json:"employee_code"`
	EmployeeName string `json:"employee_name"`
}

// RunView is the read model for the current run: the run plus its period
// and items. Status is "None" when no run exists yet.
type RunView struct {
	Status string     `json:"status" enum:"None,Draft,Approved,Posted"`
	Run    *PayRun    `json:"run,omitempty"`
	Period *PayPeriod `json:"period,omitempty"`
	Items  []ItemView `json:"items,omitempty"`
}

// ValidationReport accumulates everything blocking approval.
type ValidationReport struct {
	OK     bool     `json:"ok"`
	Errors []string `json:"errors"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// BankFile is a rendered bank-transfer export.
type BankFile struct {
	Filename string   `json:"filename"`
	Content  string   `json:"content"`
	Warnings []string `json:"warnings"`
}
