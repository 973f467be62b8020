package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"payline/internal/domain"
)

// BuildBankFile renders an ABA-style direct entry file for a run. Lines
// without bank details and lines with a zero or negative net amount are
// excluded; each exclusion is reported as a warning, never an error, so one
// bad line cannot block paying everyone else.
func BuildBankFile(snap Snapshot, company Company, now time.Time) domain.BankFile {
	file := domain.BankFile{
		Filename: fmt.Sprintf("payline-%s-%s.aba", snap.Period.EndDate, shortID(snap.Run.ID)),
		Warnings: []string{},
	}

	var b strings.Builder
	b.WriteString(headerRecord(company, now))
	b.WriteByte('\n')

	count := 0
	total := decimal.Zero
	for _, it := range snap.Items {
		emp, ok := snap.Employees[it.EmployeeID]
		name := it.EmployeeName
		if name == "" {
			name = it.EmployeeID
		}
		if !ok || emp.BankBSB == "" || emp.BankAccount == "" {
			file.Warnings = append(file.Warnings, fmt.Sprintf("%s has no bank details; line excluded", name))
			continue
		}
		if !it.Net.IsPositive() {
			file.Warnings = append(file.Warnings, fmt.Sprintf("%s has net %s; line excluded", name, it.Net))
			continue
		}
		b.WriteString(detailRecord(emp, name, it.Net, company))
		b.WriteByte('\n')
		count++
		total = total.Add(it.Net)
	}

	b.WriteString(trailerRecord(total, count))
	b.WriteByte('\n')
	file.Content = b.String()
	return file
}

func headerRecord(company Company, now time.Time) string {
	var b strings.Builder
	b.WriteString("0")
	b.WriteString(strings.Repeat(" ", 17))
	b.WriteString("01")
	b.WriteString(padRight(company.BankCode, 3))
	b.WriteString(strings.Repeat(" ", 7))
	b.WriteString(padRight(company.Name, 26))
	b.WriteString(padLeft(company.APCAUserID, 6, '0'))
	b.WriteString(padRight("PAYROLL", 12))
	b.WriteString(now.Format("020106"))
	return pad120(b.String())
}

func detailRecord(emp domain.Employee, name string, net decimal.Decimal, company Company) string {
	var b strings.Builder
	b.WriteString("1")
	b.WriteString(padRight(formatBSB(emp.BankBSB), 7))
	b.WriteString(padLeft(emp.BankAccount, 9, ' '))
	b.WriteString(" ")
	b.WriteString("53") // pay transaction code
	b.WriteString(padLeft(cents(net), 10, '0'))
	b.WriteString(padRight(name, 32))
	b.WriteString(padRight("PAYLINE", 18))
	b.WriteString(padRight(formatBSB(company.BSB), 7))
	b.WriteString(padLeft(company.AccountNo, 9, ' '))
	b.WriteString(padRight(company.AccountName, 16))
	b.WriteString(strings.Repeat("0", 8))
	return pad120(b.String())
}

func trailerRecord(total decimal.Decimal, count int) string {
	var b strings.Builder
	b.WriteString("7")
	b.WriteString("999-999")
	b.WriteString(strings.Repeat(" ", 12))
	b.WriteString(padLeft(cents(total), 10, '0'))
	b.WriteString(padLeft(cents(total), 10, '0'))
	b.WriteString(strings.Repeat("0", 10))
	b.WriteString(strings.Repeat(" ", 24))
	b.WriteString(padLeft(fmt.Sprintf("%d", count), 6, '0'))
	return pad120(b.String())
}

// cents renders an amount as integer cents.
func cents(v decimal.Decimal) string {
	return v.Mul(decimal.NewFromInt(100)).Round(0).String()
}

func formatBSB(bsb string) string {
	digits := strings.ReplaceAll(bsb, "-", "")
	if len(digits) == 6 {
		return digits[:3] + "-" + digits[3:]
	}
	return bsb
}

func padRight(s string, width int) string {
	if len(s) > width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}

func padLeft(s string, width int, fill byte) string {
	if len(s) > width {
		return s[len(s)-width:]
	}
	return strings.Repeat(string(fill), width-len(s)) + s
}

func pad120(s string) string {
	return padRight(s, 120)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
