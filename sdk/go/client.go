package paylinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Payline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Period represents a pay period.
type Period struct {
	ID        string `json:"id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	IsCurrent bool   `json:"is_current"`
}

// RunTotals is the run summary.
type RunTotals struct {
	Employees int     `json:"employees"`
	Gross     float64 `json:"gross"`
	Net       float64 `json:"net"`
	Warnings  int     `json:"warnings"`
}

// Run represents a pay run (partial).
type Run struct {
	ID         string    `json:"id"`
	PeriodID   string    `json:"period_id"`
	Status     string    `json:"status"`
	ApprovedBy *string   `json:"approved_by,omitempty"`
	ApprovedAt *string   `json:"approved_at,omitempty"`
	Totals     RunTotals `json:"totals"`
}

// RunView is the current-run read model.
type RunView struct {
	Status string  `json:"status"`
	Run    *Run    `json:"run,omitempty"`
	Period *Period `json:"period,omitempty"`
	Items  []Item  `json:"items,omitempty"`
}

// Item represents a pay line.
type Item struct {
	ID           string  `json:"id"`
	EmployeeID   string  `json:"employee_id"`
	EmployeeCode string  `json:"employee_code"`
	EmployeeName string  `json:"employee_name"`
	Hours        float64 `json:"hours"`
	Rate         float64 `json:"rate"`
	Gross        float64 `json:"gross"`
	Net          float64 `json:"net"`
	Status       string  `json:"status"`
}

// Employee represents an employee record.
type Employee struct {
	ID          string   `json:"id"`
	Code        string   `json:"code"`
	FirstName   string   `json:"first_name"`
	LastName    string   `json:"last_name"`
	HourlyRate  *float64 `json:"hourly_rate,omitempty"`
	BankBSB     string   `json:"bank_bsb,omitempty"`
	BankAccount string   `json:"bank_account,omitempty"`
	Active      bool     `json:"active"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// Validation reports what blocks approval.
type Validation struct {
	OK     bool     `json:"ok"`
	Errors []string `json:"errors"`
}

// BankFile is a rendered bank export.
type BankFile struct {
	Filename string   `json:"filename"`
	Content  string   `json:"content"`
	Warnings []string `json:"warnings"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps event listings with a cursor.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreatePeriod creates a pay period.
func (c *Client) CreatePeriod(ctx context.Context, startDate, endDate string) (Period, error) {
	body := map[string]any{
		"start_date": startDate,
		"end_date":   endDate,
	}
	var resp Period
	err := c.do(ctx, http.MethodPost, "v0/periods", body, &resp)
	return resp, err
}

// SetCurrentPeriod makes a period current, creating its Draft run.
func (c *Client) SetCurrentPeriod(ctx context.Context, periodID string) (Period, error) {
	var resp Period
	endpoint := fmt.Sprintf("v0/periods/%s/current", url.PathEscape(periodID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// CurrentRun returns the current run with its period and items.
func (c *Client) CurrentRun(ctx context.Context) (RunView, error) {
	var resp RunView
	err := c.do(ctx, http.MethodGet, "v0/runs/current", nil, &resp)
	return resp, err
}

// AddItem adds a pay line to the current run.
func (c *Client) AddItem(ctx context.Context, item map[string]any) (Item, error) {
	var resp Item
	err := c.do(ctx, http.MethodPost, "v0/runs/current/items", item, &resp)
	return resp, err
}

// UpdateItem patches a pay line on the current run.
func (c *Client) UpdateItem(ctx context.Context, id string, patch map[string]any) (Item, error) {
	var resp Item
	endpoint := fmt.Sprintf("v0/items/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodPatch, endpoint, patch, &resp)
	return resp, err
}

// DeleteItem removes a pay line from the current run.
func (c *Client) DeleteItem(ctx context.Context, id string) error {
	endpoint := fmt.Sprintf("v0/items/%s", url.PathEscape(id))
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

// Approve validates and approves the current run.
func (c *Client) Approve(ctx context.Context) (Run, error) {
	var resp Run
	err := c.do(ctx, http.MethodPost, "v0/runs/current/approve", nil, &resp)
	return resp, err
}

// Post freezes the current approved run.
func (c *Client) Post(ctx context.Context) (Run, error) {
	var resp Run
	err := c.do(ctx, http.MethodPost, "v0/runs/current/post", nil, &resp)
	return resp, err
}

// Reopen rolls the approved run back to Draft.
func (c *Client) Reopen(ctx context.Context) (Run, error) {
	var resp Run
	err := c.do(ctx, http.MethodPost, "v0/runs/current/reopen", nil, &resp)
	return resp, err
}

// Validate reports everything blocking approval of the current run.
func (c *Client) Validate(ctx context.Context) (Validation, error) {
	var resp Validation
	err := c.do(ctx, http.MethodGet, "v0/runs/current/validate", nil, &resp)
	return resp, err
}

// CreateEmployee creates an employee.
func (c *Client) CreateEmployee(ctx context.Context, emp map[string]any) (Employee, error) {
	var resp Employee
	err := c.do(ctx, http.MethodPost, "v0/employees", emp, &resp)
	return resp, err
}

// ListEmployees lists employees, optionally only active ones.
func (c *Client) ListEmployees(ctx context.Context, activeOnly bool) ([]Employee, error) {
	endpoint := "v0/employees"
	if activeOnly {
		endpoint += "?active=true"
	}
	var resp []Employee
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ExportBankFile returns the bank payment file for a run. Pass "current" for
// the current run.
func (c *Client) ExportBankFile(ctx context.Context, runID string) (BankFile, error) {
	var resp BankFile
	endpoint := fmt.Sprintf("v0/runs/%s/export/bank-file", url.PathEscape(runID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
