package server

import (
	"github.com/shopspring/decimal"

	"payline/internal/domain"
	"payline/internal/engine"
)

// Request payloads

type CreatePeriodRequest struct {
	StartDate string `json:"start_date" format:"date"`
	EndDate   string `json:"end_date" format:"date"`
}

type StartRunRequest struct {
	PeriodID *string `json:"period_id,omitempty"`
}

type StatusChangeRequest struct {
	Status               string `json:"status" enum:"Draft,Approved,Posted"`
	AllowApprovedToDraft bool   `json:"allow_approved_to_draft,omitempty"`
}

type CreateItemRequest struct {
	EmployeeID      string   `json:"employee_id"`
	Hours           float64  `json:"hours,omitempty"`
	Rate            *float64 `json:"rate,omitempty"`
	OT15Hours       float64  `json:"ot_15_hours,omitempty"`
	OT20Hours       float64  `json:"ot_20_hours,omitempty"`
	Allowance       float64  `json:"allowance,omitempty"`
	Tax             float64  `json:"tax,omitempty"`
	Super           float64  `json:"super,omitempty"`
	DeductionsTotal float64  `json:"deductions_total,omitempty"`
	Note            *string  `json:"note,omitempty"`
}

type UpdateItemRequest struct {
	Hours           *float64 `json:"hours,omitempty"`
	Rate            *float64 `json:"rate,omitempty"`
	OT15Hours       *float64 `json:"ot_15_hours,omitempty"`
	OT20Hours       *float64 `json:"ot_20_hours,omitempty"`
	Allowance       *float64 `json:"allowance,omitempty"`
	Tax             *float64 `json:"tax,omitempty"`
	Super           *float64 `json:"super,omitempty"`
	DeductionsTotal *float64 `json:"deductions_total,omitempty"`
	Note            *string  `json:"note,omitempty"`
}

type CreateEmployeeRequest struct {
	Code        string   `json:"code"`
	FirstName   string   `json:"first_name,omitempty"`
	LastName    string   `json:"last_name,omitempty"`
	HourlyRate  *float64 `json:"hourly_rate,omitempty"`
	BankBSB     *string  `json:"bank_bsb,omitempty"`
	BankAccount *string  `json:"bank_account,omitempty"`
}

type UpdateEmployeeRequest struct {
	Code        *string  `json:"code,omitempty"`
	FirstName   *string  `json:"first_name,omitempty"`
	LastName    *string  `json:"last_name,omitempty"`
	HourlyRate  *float64 `json:"hourly_rate,omitempty"`
	BankBSB     *string  `json:"bank_bsb,omitempty"`
	BankAccount *string  `json:"bank_account,omitempty"`
	Active      *bool    `json:"active,omitempty"`
}

// Responses

type PeriodResponse struct {
	ID        string `json:"id"`
	StartDate string `json:"start_date" format:"date"`
	EndDate   string `json:"end_date" format:"date"`
	IsCurrent bool   `json:"is_current"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type RunTotalsResponse struct {
	Employees int     `json:"employees"`
	Gross     float64 `json:"gross"`
	Net       float64 `json:"net"`
	Warnings  int     `json:"warnings"`
}

type RunResponse struct {
	ID         string            `json:"id"`
	PeriodID   string            `json:"period_id"`
	Status     string            `json:"status" enum:"Draft,Approved,Posted"`
	ApprovedBy *string           `json:"approved_by,omitempty"`
	ApprovedAt *string           `json:"approved_at,omitempty" format:"date-time"`
	Totals     RunTotalsResponse `json:"totals"`
	CreatedAt  string            `json:"created_at" format:"date-time"`
	UpdatedAt  string            `json:"updated_at" format:"date-time"`
}

type ItemResponse struct {
	ID              string  `json:"id"`
	PayRunID        string  `json:"pay_run_id"`
	EmployeeID      string  `json:"employee_id"`
	EmployeeCode    string  `json:"employee_code,omitempty"`
	EmployeeName    string  `json:"employee_name,omitempty"`
	Hours           float64 `json:"hours"`
	Rate            float64 `json:"rate"`
	OT15Hours       float64 `json:"ot_15_hours"`
	OT20Hours       float64 `json:"ot_20_hours"`
	Allowance       float64 `json:"allowance"`
	Tax             float64 `json:"tax"`
	Super           float64 `json:"super"`
	DeductionsTotal float64 `json:"deductions_total"`
	Gross           float64 `json:"gross"`
	Net             float64 `json:"net"`
	Status          string  `json:"status" enum:"ok,warning"`
	Note            *string `json:"note,omitempty"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

type RunViewResponse struct {
	Status string          `json:"status" enum:"None,Draft,Approved,Posted"`
	Period *PeriodResponse `json:"period,omitempty"`
	Run    *RunResponse    `json:"run,omitempty"`
	Items  []ItemResponse  `json:"items"`
}

type paginatedItems struct {
	Items  []ItemResponse `json:"items"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

type ValidationResponse struct {
	OK     bool     `json:"ok"`
	Errors []string `json:"errors"`
}

type BankFileResponse struct {
	Filename string   `json:"filename"`
	Content  string   `json:"content"`
	Warnings []string `json:"warnings"`
}

type EmployeeResponse struct {
	ID          string   `json:"id"`
	Code        string   `json:"code"`
	FirstName   string   `json:"first_name"`
	LastName    string   `json:"last_name"`
	HourlyRate  *float64 `json:"hourly_rate,omitempty"`
	BankBSB     string   `json:"bank_bsb,omitempty"`
	BankAccount string   `json:"bank_account,omitempty"`
	Active      bool     `json:"active"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

type RoleChangeRequest struct {
	ActorID string `json:"actor_id"`
	RoleID  string `json:"role_id"`
}

type CreateKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type CreateKeyResponse struct {
	APIKeyResponse
	Key string `json:"key"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversions

func money(v decimal.Decimal) float64 {
	return v.InexactFloat64()
}

func amount(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func amountPtr(v *float64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromFloat(*v)
	return &d
}

func periodResponse(p domain.PayPeriod) PeriodResponse {
	return PeriodResponse{
		ID:        p.ID,
		StartDate: p.StartDate,
		EndDate:   p.EndDate,
		IsCurrent: p.IsCurrent,
		CreatedAt: p.CreatedAt,
	}
}

func mapPeriods(in []domain.PayPeriod) []PeriodResponse {
	out := []PeriodResponse{}
	for _, p := range in {
		out = append(out, periodResponse(p))
	}
	return out
}

func runResponse(r domain.PayRun) RunResponse {
	return RunResponse{
		ID:         r.ID,
		PeriodID:   r.PeriodID,
		Status:     r.Status,
		ApprovedBy: r.ApprovedBy,
		ApprovedAt: r.ApprovedAt,
		Totals: RunTotalsResponse{
			Employees: r.Totals.Employees,
			Gross:     money(r.Totals.Gross),
			Net:       money(r.Totals.Net),
			Warnings:  r.Totals.Warnings,
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func itemResponse(it domain.PayRunItem) ItemResponse {
	return ItemResponse{
		ID:              it.ID,
		PayRunID:        it.PayRunID,
		EmployeeID:      it.EmployeeID,
		Hours:           money(it.Hours),
		Rate:            money(it.Rate),
		OT15Hours:       money(it.OT15Hours),
		OT20Hours:       money(it.OT20Hours),
		Allowance:       money(it.Allowance),
		Tax:             money(it.Tax),
		Super:           money(it.Super),
		DeductionsTotal: money(it.DeductionsTotal),
		Gross:           money(it.Gross),
		Net:             money(it.Net),
		Status:          it.Status,
		Note:            it.Note,
		UpdatedAt:       it.UpdatedAt,
	}
}

func itemViewResponse(v domain.ItemView) ItemResponse {
	resp := itemResponse(v.PayRunItem)
	resp.EmployeeCode = v.EmployeeCode
	resp.EmployeeName = v.EmployeeName
	return resp
}

func mapItemViews(in []domain.ItemView) []ItemResponse {
	out := []ItemResponse{}
	for _, v := range in {
		out = append(out, itemViewResponse(v))
	}
	return out
}

func runViewResponse(view domain.RunView) RunViewResponse {
	resp := RunViewResponse{Status: view.Status, Items: mapItemViews(view.Items)}
	if view.Period != nil {
		p := periodResponse(*view.Period)
		resp.Period = &p
	}
	if view.Run != nil {
		r := runResponse(*view.Run)
		resp.Run = &r
	}
	return resp
}

func employeeResponse(e domain.Employee) EmployeeResponse {
	resp := EmployeeResponse{
		ID:          e.ID,
		Code:        e.Code,
		FirstName:   e.FirstName,
		LastName:    e.LastName,
		BankBSB:     e.BankBSB,
		BankAccount: e.BankAccount,
		Active:      e.Active,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
	if e.HourlyRate != nil {
		rate := money(*e.HourlyRate)
		resp.HourlyRate = &rate
	}
	return resp
}

func mapEmployees(in []domain.Employee) []EmployeeResponse {
	out := []EmployeeResponse{}
	for _, e := range in {
		out = append(out, employeeResponse(e))
	}
	return out
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:        k.ID,
		ActorID:   k.ActorID,
		Name:      k.Name,
		CreatedAt: k.CreatedAt,
	}
}

func mapEvents(in []domain.Event) []EventResponse {
	out := []EventResponse{}
	for _, e := range in {
		out = append(out, eventResponse(e))
	}
	return out
}

func itemPatchFromRequest(req UpdateItemRequest) engine.ItemPatch {
	return engine.ItemPatch{
		Hours:           amountPtr(req.Hours),
		Rate:            amountPtr(req.Rate),
		OT15Hours:       amountPtr(req.OT15Hours),
		OT20Hours:       amountPtr(req.OT20Hours),
		Allowance:       amountPtr(req.Allowance),
		Tax:             amountPtr(req.Tax),
		Super:           amountPtr(req.Super),
		DeductionsTotal: amountPtr(req.DeductionsTotal),
		Note:            req.Note,
	}
}
