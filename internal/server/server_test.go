package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"payline/internal/app"
	"payline/internal/config"
	"payline/internal/db"
	"payline/internal/engine"
	"payline/internal/migrate"
)

const testActor = "tester"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("Acme Pty Ltd")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if err := app.SeedRBAC(context.Background(), e.Repo, cfg, testActor); err != nil {
		t.Fatalf("seed rbac: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", testActor)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

// setUpPeriod creates a period, makes it current, and returns its id. Making
// a period current auto-creates a Draft run.
func setUpPeriod(t *testing.T, srv *testServer) string {
	t.Helper()
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/periods", map[string]any{
		"start_date": "2024-01-01",
		"end_date":   "2024-01-14",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create period: %d %s", res.StatusCode, string(data))
	}
	var period PeriodResponse
	if err := json.Unmarshal(data, &period); err != nil {
		t.Fatalf("unmarshal period: %v", err)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/periods/"+period.ID+"/current", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set current period: %d %s", res.StatusCode, string(data))
	}
	return period.ID
}

func createEmployee(t *testing.T, srv *testServer, code string, rate float64) string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/employees", map[string]any{
		"code":        code,
		"first_name":  "Alice",
		"last_name":   "Nguyen",
		"hourly_rate": rate,
		"bank_bsb":    "062000",
		"bank_account": "12345678",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create employee: %d %s", res.StatusCode, string(data))
	}
	var emp EmployeeResponse
	if err := json.Unmarshal(data, &emp); err != nil {
		t.Fatalf("unmarshal employee: %v", err)
	}
	return emp.ID
}

func TestRunLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	setUpPeriod(t, srv)
	empID := createEmployee(t, srv, "E001", 30)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/runs/current/items", map[string]any{
		"employee_id": empID,
		"hours":       38,
		"ot_15_hours": 2,
		"allowance":   50,
		"tax":         200,
		"super":       80,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add item: %d %s", res.StatusCode, string(data))
	}
	var item ItemResponse
	if err := json.Unmarshal(data, &item); err != nil {
		t.Fatalf("unmarshal item: %v", err)
	}
	if item.Gross != 1230 {
		t.Fatalf("gross = %v, want 1230", item.Gross)
	}
	if item.Net != 950 {
		t.Fatalf("net = %v, want 950", item.Net)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/runs/current", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("current run: %d %s", res.StatusCode, string(data))
	}
	var view RunViewResponse
	if err := json.Unmarshal(data, &view); err != nil {
		t.Fatalf("unmarshal view: %v", err)
	}
	if view.Status != "Draft" {
		t.Fatalf("status = %s, want Draft", view.Status)
	}
	if view.Run.Totals.Employees != 1 || view.Run.Totals.Gross != 1230 {
		t.Fatalf("totals = %+v", view.Run.Totals)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/runs/current/approve", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve: %d %s", res.StatusCode, string(data))
	}
	var run RunResponse
	if err := json.Unmarshal(data, &run); err != nil {
		t.Fatalf("unmarshal run: %v", err)
	}
	if run.Status != "Approved" {
		t.Fatalf("status = %s, want Approved", run.Status)
	}
	if run.ApprovedBy == nil || *run.ApprovedBy != testActor {
		t.Fatalf("approved_by = %v", run.ApprovedBy)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/runs/current/post", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("post: %d %s", res.StatusCode, string(data))
	}

	// Posted runs are frozen.
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/items/"+item.ID, map[string]any{
		"hours": 40,
	}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("edit posted run: %d %s, want 409", res.StatusCode, string(data))
	}
}

func TestApproveBlockedByValidation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	setUpPeriod(t, srv)

	// Empty run cannot be approved.
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/runs/current/approve", nil, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("approve empty run: %d %s, want 422", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "validation_failed" {
		t.Fatalf("code = %s", envelope.Error.Code)
	}

	// The run must still be Draft.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/runs/current", nil, nil)
	var view RunViewResponse
	_ = json.Unmarshal(data, &view)
	if view.Status != "Draft" {
		t.Fatalf("status = %s, want Draft after failed approval", view.Status)
	}
}

func TestInvalidTransitionConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	setUpPeriod(t, srv)
	empID := createEmployee(t, srv, "E001", 30)
	doJSON(t, client, http.MethodPost, srv.URL+"/v0/runs/current/items", map[string]any{
		"employee_id": empID,
		"hours":       38,
	}, nil)

	// Draft -> Posted skips approval.
	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/runs/current/status", map[string]any{
		"status": "Posted",
	}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("draft to posted: %d %s, want 409", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(data, &envelope)
	if envelope.Error.Code != "invalid_transition" {
		t.Fatalf("code = %s", envelope.Error.Code)
	}
}

func TestExportRequiresApprovedRun(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	setUpPeriod(t, srv)
	empID := createEmployee(t, srv, "E001", 30)
	doJSON(t, client, http.MethodPost, srv.URL+"/v0/runs/current/items", map[string]any{
		"employee_id": empID,
		"hours":       38,
		"tax":         200,
	}, nil)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/runs/current/export/bank-file", nil, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("export draft run: %d %s, want 409", res.StatusCode, string(data))
	}

	doJSON(t, client, http.MethodPost, srv.URL+"/v0/runs/current/approve", nil, nil)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/runs/current/export/bank-file", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("export approved run: %d %s", res.StatusCode, string(data))
	}
	var file BankFileResponse
	if err := json.Unmarshal(data, &file); err != nil {
		t.Fatalf("unmarshal bank file: %v", err)
	}
	if file.Filename == "" || file.Content == "" {
		t.Fatalf("bank file incomplete: %+v", file)
	}
}

func TestUnknownActorForbidden(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/periods", nil, map[string]string{
		"X-Actor-Id": "stranger",
	})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("unknown actor: %d %s, want 403", res.StatusCode, string(data))
	}
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, err := http.Get(srv.URL + "/v0/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", res.StatusCode)
	}
}
