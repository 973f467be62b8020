package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"payline/internal/app"
	"payline/internal/config"
	"payline/internal/db"
	"payline/internal/domain"
	"payline/internal/engine"
	"payline/internal/export"
	"payline/internal/repo"
	"payline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pl",
	Short: "Payline CLI",
	Long: `Payline runs payroll locally: one SQLite workspace, one current pay period,
one pay run at a time.
- Workspace: the .payline directory next to payline.yml holds the database.
- Periods: date ranges; exactly one is current at a time.
- Runs: each period gets a run that moves Draft -> Approved -> Posted.
- Items: one pay line per employee; gross and net are recomputed on every edit.
- Exports: approved runs produce a bank payment file and payslip PDFs.
- Event log: every change is recorded, view with 'pl log tail'.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PAYLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(periodCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(employeeCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(rbacCmd())
	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var company string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a payroll workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("%s already exists", cfgPath)
			}
			if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault(company)), 0o644); err != nil {
				return err
			}
			conn, _, err := app.Bootstrap(cmd.Context(), workspace, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			defer conn.Close()
			fmt.Printf("Initialized %s and %s\n", cfgPath, db.Path(workspace))
			return nil
		},
	}
	cmd.Flags().StringVar(&company, "company", "My Company", "company name")
	return cmd
}

func periodCmd() *cobra.Command {
	period := &cobra.Command{
		Use:   "period",
		Short: "Manage pay periods",
	}
	period.AddCommand(periodListCmd())
	period.AddCommand(periodCreateCmd())
	period.AddCommand(periodSetCurrentCmd())
	return period
}

func periodListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pay periods",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListPeriods(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Start", "End", "Current"})
				for _, p := range items {
					current := ""
					if p.IsCurrent {
						current = "yes"
					}
					tw.AppendRow(table.Row{p.ID, p.StartDate, p.EndDate, current})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func periodCreateCmd() *cobra.Command {
	var start, end string
	var makeCurrent bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a pay period",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor := viper.GetString("actor-id")
				p, err := e.CreatePeriod(ctx, start, end, actor)
				if err != nil {
					return err
				}
				if makeCurrent {
					if p, err = e.SetCurrentPeriod(ctx, p.ID, actor); err != nil {
						return err
					}
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "end date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&makeCurrent, "current", false, "make this the current period")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func periodSetCurrentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-current <id>",
		Short: "Make a period current",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.SetCurrentPeriod(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func runCmd() *cobra.Command {
	run := &cobra.Command{
		Use:   "run",
		Short: "Manage the current pay run",
		Long:  "A run collects pay lines for the current period and moves Draft -> Approved -> Posted. Approval validates every line; posting freezes the run.",
	}
	run.AddCommand(runShowCmd())
	run.AddCommand(runStartCmd())
	run.AddCommand(runStatusCmd())
	run.AddCommand(runApproveCmd())
	run.AddCommand(runPostCmd())
	run.AddCommand(runReopenCmd())
	run.AddCommand(runRecalcCmd())
	run.AddCommand(runValidateCmd())
	return run
}

func runShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				view, err := e.CurrentRun(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				if view.Run == nil {
					fmt.Println("No pay run. Create a period and make it current first.")
					return nil
				}
				fmt.Printf("Run %s (%s), period %s to %s\n", view.Run.ID, view.Run.Status, view.Period.StartDate, view.Period.EndDate)
				fmt.Printf("Employees: %d  Gross: %s  Net: %s  Warnings: %d\n",
					view.Run.Totals.Employees, view.Run.Totals.Gross.StringFixed(2), view.Run.Totals.Net.StringFixed(2), view.Run.Totals.Warnings)
				printItemTable(view.Items)
				return nil
			})
		},
	}
	return cmd
}

func runStartCmd() *cobra.Command {
	var periodID string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a run for a period (defaults to the current period)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				run, err := e.StartRun(ctx, periodID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(run)
			})
		},
	}
	cmd.Flags().StringVar(&periodID, "period", "", "period id")
	return cmd
}

func runStatusCmd() *cobra.Command {
	var target string
	var allowReopen bool
	cmd := &cobra.Command{
		Use:   "set-status",
		Short: "Change the current run status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				allow := allowReopen
				// The config key only sets this flag's default.
				if !cmd.Flags().Changed("allow-approved-to-draft") && e.Config != nil {
					allow = e.Config.Payroll.AllowApprovedToDraft
				}
				run, err := e.UpdateStatus(ctx, engine.StatusChangeOptions{
					Target:               target,
					ActorID:              viper.GetString("actor-id"),
					AllowApprovedToDraft: allow,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(run)
			})
		},
	}
	cmd.Flags().StringVar(&target, "to", "", "target status (Draft, Approved, Posted)")
	cmd.Flags().BoolVar(&allowReopen, "allow-approved-to-draft", false, "allow Approved -> Draft rollback")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func runApproveCmd() *cobra.Command {
	return runAction("approve", "Approve the current run", engine.Engine.Approve)
}

func runPostCmd() *cobra.Command {
	return runAction("post", "Post the current approved run", engine.Engine.Post)
}

func runReopenCmd() *cobra.Command {
	return runAction("reopen", "Roll the approved run back to Draft", engine.Engine.Reopen)
}

func runRecalcCmd() *cobra.Command {
	return runAction("recalc", "Recalculate every line of the current run", engine.Engine.RecalculateRun)
}

func runAction(use, short string, call func(engine.Engine, context.Context, string) (domain.PayRun, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				run, err := call(e, ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(run)
			})
		},
	}
}

func runValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Report everything blocking approval",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				report, err := e.Validate(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				if report.OK {
					fmt.Println("run OK")
					return nil
				}
				for _, msg := range report.Errors {
					fmt.Println("-", msg)
				}
				return fmt.Errorf("%d validation problem(s)", len(report.Errors))
			})
		},
	}
	return cmd
}

func itemCmd() *cobra.Command {
	item := &cobra.Command{
		Use:   "item",
		Short: "Manage pay lines on the current run",
	}
	item.AddCommand(itemListCmd())
	item.AddCommand(itemAddCmd())
	item.AddCommand(itemUpdateCmd())
	item.AddCommand(itemRecalcCmd())
	item.AddCommand(itemDeleteCmd())
	return item
}

func itemListCmd() *cobra.Command {
	var search string
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pay lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, total, err := e.ListItems(ctx, engine.ItemListOptions{Search: search, Limit: limit, Offset: offset})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"items": items, "total": total})
				}
				printItemTable(items)
				fmt.Printf("%d of %d\n", len(items), total)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "filter by employee name or code")
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	return cmd
}

func itemAddCmd() *cobra.Command {
	var employeeID, note string
	var hours, rate, ot15, ot20, allowance, tax, super, deductions float64
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a pay line",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.ItemCreateOptions{
					EmployeeID:      employeeID,
					Hours:           decimal.NewFromFloat(hours),
					OT15Hours:       decimal.NewFromFloat(ot15),
					OT20Hours:       decimal.NewFromFloat(ot20),
					Allowance:       decimal.NewFromFloat(allowance),
					Tax:             decimal.NewFromFloat(tax),
					Super:           decimal.NewFromFloat(super),
					DeductionsTotal: decimal.NewFromFloat(deductions),
					Note:            note,
					ActorID:         viper.GetString("actor-id"),
				}
				if cmd.Flags().Changed("rate") {
					opts.Rate = decimal.NewFromFloat(rate)
				}
				it, err := e.AddItem(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&employeeID, "employee", "", "employee id")
	cmd.Flags().Float64Var(&hours, "hours", 0, "ordinary hours")
	cmd.Flags().Float64Var(&rate, "rate", 0, "hourly rate (defaults to the employee's rate)")
	cmd.Flags().Float64Var(&ot15, "ot15", 0, "overtime hours at 1.5x")
	cmd.Flags().Float64Var(&ot20, "ot20", 0, "overtime hours at 2x")
	cmd.Flags().Float64Var(&allowance, "allowance", 0, "allowance amount")
	cmd.Flags().Float64Var(&tax, "tax", 0, "tax withheld")
	cmd.Flags().Float64Var(&super, "super", 0, "superannuation")
	cmd.Flags().Float64Var(&deductions, "deductions", 0, "other deductions")
	cmd.Flags().StringVar(&note, "note", "", "note")
	_ = cmd.MarkFlagRequired("employee")
	return cmd
}

func itemUpdateCmd() *cobra.Command {
	var note string
	var hours, rate, ot15, ot20, allowance, tax, super, deductions float64
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a pay line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			decIf := func(name string, v float64) *decimal.Decimal {
				if !cmd.Flags().Changed(name) {
					return nil
				}
				d := decimal.NewFromFloat(v)
				return &d
			}
			patch := engine.ItemPatch{
				Hours:           decIf("hours", hours),
				Rate:            decIf("rate", rate),
				OT15Hours:       decIf("ot15", ot15),
				OT20Hours:       decIf("ot20", ot20),
				Allowance:       decIf("allowance", allowance),
				Tax:             decIf("tax", tax),
				Super:           decIf("super", super),
				DeductionsTotal: decIf("deductions", deductions),
			}
			if cmd.Flags().Changed("note") {
				patch.Note = &note
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.UpdateItem(ctx, args[0], patch, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if it == nil {
					return fmt.Errorf("item %s not found in the current run", args[0])
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().Float64Var(&hours, "hours", 0, "ordinary hours")
	cmd.Flags().Float64Var(&rate, "rate", 0, "hourly rate")
	cmd.Flags().Float64Var(&ot15, "ot15", 0, "overtime hours at 1.5x")
	cmd.Flags().Float64Var(&ot20, "ot20", 0, "overtime hours at 2x")
	cmd.Flags().Float64Var(&allowance, "allowance", 0, "allowance amount")
	cmd.Flags().Float64Var(&tax, "tax", 0, "tax withheld")
	cmd.Flags().Float64Var(&super, "super", 0, "superannuation")
	cmd.Flags().Float64Var(&deductions, "deductions", 0, "other deductions")
	cmd.Flags().StringVar(&note, "note", "", "note")
	return cmd
}

func itemRecalcCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recalc <id>",
		Short: "Recompute a pay line from its stored inputs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.RecalcLine(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if it == nil {
					return fmt.Errorf("item %s not found", args[0])
				}
				return printJSONOrTable(it)
			})
		},
	}
	return cmd
}

func itemDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a pay line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteItem(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func employeeCmd() *cobra.Command {
	emp := &cobra.Command{
		Use:   "employee",
		Short: "Manage employees",
	}
	emp.AddCommand(employeeAddCmd())
	emp.AddCommand(employeeListCmd())
	emp.AddCommand(employeeUpdateCmd())
	return emp
}

func employeeAddCmd() *cobra.Command {
	var code, first, last, bsb, account string
	var rate float64
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an employee",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.EmployeeCreateOptions{
					Code:        code,
					FirstName:   first,
					LastName:    last,
					BankBSB:     bsb,
					BankAccount: account,
					ActorID:     viper.GetString("actor-id"),
				}
				if cmd.Flags().Changed("rate") {
					r := decimal.NewFromFloat(rate)
					opts.HourlyRate = &r
				}
				emp, err := e.CreateEmployee(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(emp)
			})
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "employee code")
	cmd.Flags().StringVar(&first, "first-name", "", "first name")
	cmd.Flags().StringVar(&last, "last-name", "", "last name")
	cmd.Flags().Float64Var(&rate, "rate", 0, "hourly rate")
	cmd.Flags().StringVar(&bsb, "bsb", "", "bank BSB")
	cmd.Flags().StringVar(&account, "account", "", "bank account number")
	_ = cmd.MarkFlagRequired("code")
	return cmd
}

func employeeListCmd() *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List employees",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListEmployees(ctx, activeOnly)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Code", "Name", "Rate", "Bank", "Active"})
				for _, emp := range items {
					rate := ""
					if emp.HourlyRate != nil {
						rate = emp.HourlyRate.StringFixed(2)
					}
					bank := ""
					if emp.BankBSB != "" {
						bank = emp.BankBSB + " " + emp.BankAccount
					}
					active := ""
					if emp.Active {
						active = "yes"
					}
					tw.AppendRow(table.Row{emp.ID, emp.Code, emp.FullName(), rate, bank, active})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active employees")
	return cmd
}

func employeeUpdateCmd() *cobra.Command {
	var code, first, last, bsb, account string
	var rate float64
	var clearRate bool
	var active bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update an employee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			strIf := func(name string, v *string) *string {
				if !cmd.Flags().Changed(name) {
					return nil
				}
				return v
			}
			patch := engine.EmployeePatch{
				Code:        strIf("code", &code),
				FirstName:   strIf("first-name", &first),
				LastName:    strIf("last-name", &last),
				BankBSB:     strIf("bsb", &bsb),
				BankAccount: strIf("account", &account),
				ClearRate:   clearRate,
			}
			if cmd.Flags().Changed("rate") {
				r := decimal.NewFromFloat(rate)
				patch.HourlyRate = &r
			}
			if cmd.Flags().Changed("active") {
				patch.Active = &active
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				emp, err := e.UpdateEmployee(ctx, args[0], patch, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(emp)
			})
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "employee code")
	cmd.Flags().StringVar(&first, "first-name", "", "first name")
	cmd.Flags().StringVar(&last, "last-name", "", "last name")
	cmd.Flags().Float64Var(&rate, "rate", 0, "hourly rate")
	cmd.Flags().BoolVar(&clearRate, "clear-rate", false, "remove the hourly rate")
	cmd.Flags().StringVar(&bsb, "bsb", "", "bank BSB")
	cmd.Flags().StringVar(&account, "account", "", "bank account number")
	cmd.Flags().BoolVar(&active, "active", true, "active flag")
	return cmd
}

func exportCmd() *cobra.Command {
	exp := &cobra.Command{
		Use:   "export",
		Short: "Export a pay run",
		Long:  "Exports read one consistent snapshot of a run. Lines without bank details or with a non-positive net are skipped with a warning, never an error.",
	}
	exp.AddCommand(exportBankFileCmd())
	exp.AddCommand(exportPayslipsCmd())
	return exp
}

// exportSnapshot resolves the run (default: current) and refuses Draft runs.
func exportSnapshot(ctx context.Context, e engine.Engine, runID string) (export.Snapshot, error) {
	if runID == "" {
		view, err := e.CurrentRun(ctx)
		if err != nil {
			return export.Snapshot{}, err
		}
		if view.Run == nil {
			return export.Snapshot{}, fmt.Errorf("no pay run for the current period")
		}
		runID = view.Run.ID
	}
	snap, err := export.LoadSnapshot(ctx, e.DB, e.Repo, runID)
	if err != nil {
		return export.Snapshot{}, err
	}
	if snap.Run.Status == domain.RunStatusDraft {
		return export.Snapshot{}, fmt.Errorf("pay run is Draft; approve it before exporting")
	}
	return snap, nil
}

func companyFromConfig(cfg *config.Config) export.Company {
	return export.Company{
		Name:        cfg.Company.Name,
		BSB:         cfg.Company.BSB,
		AccountNo:   cfg.Company.AccountNo,
		AccountName: cfg.Company.AccountName,
		BankCode:    cfg.Company.BankCode,
		APCAUserID:  cfg.Company.APCAUserID,
	}
}

func exportBankFileCmd() *cobra.Command {
	var runID, out string
	cmd := &cobra.Command{
		Use:   "bank-file",
		Short: "Write the bank payment file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				snap, err := exportSnapshot(ctx, e, runID)
				if err != nil {
					return err
				}
				file := export.BuildBankFile(snap, companyFromConfig(e.Config), time.Now())
				dest := out
				if dest == "" {
					dest = file.Filename
				}
				if err := os.WriteFile(dest, []byte(file.Content), 0o644); err != nil {
					return err
				}
				for _, w := range file.Warnings {
					fmt.Println("warning:", w)
				}
				fmt.Println("wrote", dest)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id (defaults to the current run)")
	cmd.Flags().StringVar(&out, "out", "", "output path")
	return cmd
}

func exportPayslipsCmd() *cobra.Command {
	var runID, out string
	cmd := &cobra.Command{
		Use:   "payslips",
		Short: "Write the payslip PDF",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				snap, err := exportSnapshot(ctx, e, runID)
				if err != nil {
					return err
				}
				data, err := export.RenderPayslips(snap, companyFromConfig(e.Config))
				if err != nil {
					return err
				}
				dest := out
				if dest == "" {
					dest = fmt.Sprintf("payslips-%s.pdf", snap.Period.EndDate)
				}
				if err := os.WriteFile(dest, data, 0o644); err != nil {
					return err
				}
				fmt.Println("wrote", dest)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id (defaults to the current run)")
	cmd.Flags().StringVar(&out, "out", "", "output path")
	return cmd
}

func rbacCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rbac",
		Short: "Roles and permissions",
	}
	cmd.AddCommand(rbacGrantCmd())
	cmd.AddCommand(rbacRevokeCmd())
	return cmd
}

func rbacGrantCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "grant-role",
		Short: "Grant role to actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.GrantRole(ctx, target, role, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	return cmd
}

func rbacRevokeCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "revoke-role",
		Short: "Revoke role from actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RevokeRole(ctx, target, role, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	return cmd
}

func keysCmd() *cobra.Command {
	keys := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}
	keys.AddCommand(keysCreateCmd())
	keys.AddCommand(keysListCmd())
	keys.AddCommand(keysDeleteCmd())
	return keys
}

func keysCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (the plaintext is shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				secret := uuid.NewString() + uuid.NewString()
				key := domain.APIKey{
					ID:      uuid.NewString(),
					ActorID: actor,
					Name:    name,
					KeyHash: repo.HashAPIKey(secret),
				}
				if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "actor_id": actor, "key": secret})
				}
				fmt.Println("id: ", key.ID)
				fmt.Println("key:", secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func keysListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "filter by actor id")
	return cmd
}

func keysDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacyActor bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, cfg, err := app.Bootstrap(cmd.Context(), workspace, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			defer conn.Close()
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("PAYLINE_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacyActor,
			}
			if authCfg.JWTSecret == "" && !allowLegacyActor {
				return fmt.Errorf("PAYLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhooks(e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Payline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacyActor, "allow-actor-header", false, "accept the X-Actor-Id header without auth (local use only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, cfg, err := app.Bootstrap(ctx, workspace, viper.GetString("actor-id"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, engine.New(conn, cfg))
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printItemTable(items []domain.ItemView) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Employee", "Hours", "Rate", "Gross", "Net", "Status"})
	for _, it := range items {
		name := it.EmployeeName
		if it.EmployeeCode != "" {
			name = fmt.Sprintf("%s (%s)", name, it.EmployeeCode)
		}
		tw.AppendRow(table.Row{
			it.ID, name,
			it.Hours.String(), it.Rate.StringFixed(2),
			it.Gross.StringFixed(2), it.Net.StringFixed(2),
			it.Status,
		})
	}
	tw.Render()
}
