package export

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"payline/internal/domain"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func testSnapshot() Snapshot {
	alice := domain.Employee{ID: "e1", Code: "E001", FirstName: "Alice", LastName: "Nguyen", BankBSB: "062000", BankAccount: "12345678"}
	bob := domain.Employee{ID: "e2", Code: "E002", FirstName: "Bob", LastName: "Hale"}
	carol := domain.Employee{ID: "e3", Code: "E003", FirstName: "Carol", LastName: "Im", BankBSB: "062000", BankAccount: "87654321"}
	item := func(emp domain.Employee, net string) domain.ItemView {
		return domain.ItemView{
			PayRunItem: domain.PayRunItem{
				ID:         "i-" + emp.ID,
				PayRunID:   "run1",
				EmployeeID: emp.ID,
				Net:        d(net),
				Gross:      d(net),
			},
			EmployeeCode: emp.Code,
			EmployeeName: emp.FullName(),
		}
	}
	return Snapshot{
		Run:    domain.PayRun{ID: "run1abcdef", PeriodID: "p1", Status: domain.RunStatusPosted},
		Period: domain.PayPeriod{ID: "p1", StartDate: "2024-01-01", EndDate: "2024-01-14"},
		Items: []domain.ItemView{
			item(alice, "950"),
			item(bob, "500"),
			item(carol, "0"),
		},
		Employees: map[string]domain.Employee{"e1": alice, "e2": bob, "e3": carol},
	}
}

func testCompany() Company {
	return Company{
		Name:        "Acme Pty Ltd",
		BSB:         "062-000",
		AccountNo:   "11112222",
		AccountName: "ACME PAYROLL",
		BankCode:    "CBA",
		APCAUserID:  "301500",
	}
}

func TestBuildBankFileExcludesAndWarns(t *testing.T) {
	file := BuildBankFile(testSnapshot(), testCompany(), time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))

	if len(file.Warnings) != 2 {
		t.Fatalf("warnings = %v, want 2 entries", file.Warnings)
	}
	if !strings.Contains(file.Warnings[0], "Bob Hale") || !strings.Contains(file.Warnings[0], "no bank details") {
		t.Fatalf("warning 0 = %q", file.Warnings[0])
	}
	if !strings.Contains(file.Warnings[1], "Carol Im") {
		t.Fatalf("warning 1 = %q", file.Warnings[1])
	}

	lines := strings.Split(strings.TrimRight(file.Content, "\n"), "\n")
	// header + one payable line + trailer
	if len(lines) != 3 {
		t.Fatalf("line count = %d, want 3", len(lines))
	}
	for i, line := range lines {
		if len(line) != 120 {
			t.Fatalf("line %d length = %d, want 120", i, len(line))
		}
	}
	if lines[0][0] != '0' || lines[1][0] != '1' || lines[2][0] != '7' {
		t.Fatalf("record types = %c %c %c", lines[0][0], lines[1][0], lines[2][0])
	}
	if !strings.Contains(lines[1], "062-000") {
		t.Fatalf("detail line missing BSB: %q", lines[1])
	}
	// 950.00 dollars = 95000 cents, zero padded to 10.
	if !strings.Contains(lines[1], "0000095000") {
		t.Fatalf("detail line missing amount: %q", lines[1])
	}
	if !strings.Contains(lines[2], "0000095000") {
		t.Fatalf("trailer missing total: %q", lines[2])
	}
	if !strings.Contains(lines[2], "000001") {
		t.Fatalf("trailer missing count: %q", lines[2])
	}
}

func TestBuildBankFileFilename(t *testing.T) {
	file := BuildBankFile(testSnapshot(), testCompany(), time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
	if file.Filename != "payline-2024-01-14-run1abcd.aba" {
		t.Fatalf("filename = %q", file.Filename)
	}
}

func TestRenderPayslipsProducesPDF(t *testing.T) {
	data, err := RenderPayslips(testSnapshot(), testCompany())
	if err != nil {
		t.Fatalf("RenderPayslips: %v", err)
	}
	if !strings.HasPrefix(string(data), "%PDF") {
		t.Fatalf("output is not a PDF, starts with %q", string(data[:8]))
	}
}
