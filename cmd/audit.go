// Package cmd provides command-line interface commands for Argus.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"argus/audit"
	"argus/config"
	"argus/core"
	"argus/storage"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags for audit commands
var (
	outputJSON bool
	noColor    bool
	quiet      bool
)

// defaultTimeout bounds CLI operations against the store
const defaultTimeout = 5 * time.Minute

// NewAuditCmd creates the root audit command with all subcommands.
func NewAuditCmd() *cobra.Command {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit trail",
		Long: `Inspect the audit trail: verify event integrity, export logs for
external review, and generate compliance reports.

Commands operate directly on the configured storage backend and never
require the encryption key; integrity verification works on redacted
and encrypted events as stored.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	auditCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	auditCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	auditCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress non-essential output")

	auditCmd.AddCommand(newVerifyCmd())
	auditCmd.AddCommand(newExportCmd())
	auditCmd.AddCommand(newReportCmd())

	return auditCmd
}

// openAuditService wires a read-only audit service against the configured
// store. Encryption is forced off: none of the CLI paths need the key.
func openAuditService() (*audit.Service, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := zap.NewNop().Sugar()

	var store storage.AuditStore
	closeStore := func() {}

	switch cfg.Storage.Backend {
	case "sqlite":
		sqliteStore, err := storage.NewSQLiteStore(cfg.Storage.SQLitePath, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		store = sqliteStore
		closeStore = func() { sqliteStore.Close() }
	default:
		return nil, nil, fmt.Errorf("storage backend %q holds no data to inspect", cfg.Storage.Backend)
	}

	if cfg.Storage.ClickHouse.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		ch := cfg.Storage.ClickHouse
		chStore, err := storage.NewClickHouseAuditStore(ctx, ch.Addrs, ch.Database, ch.Username, ch.Password, cfg.Audit.RetentionDays, logger)
		if err != nil {
			closeStore()
			return nil, nil, fmt.Errorf("failed to open clickhouse store: %w", err)
		}
		prevClose := closeStore
		store = chStore
		closeStore = func() {
			chStore.Close()
			prevClose()
		}
	}

	auditCfg := cfg.Audit
	auditCfg.EncryptionEnabled = false
	svc, err := audit.NewService(auditCfg, store, nil, logger)
	if err != nil {
		closeStore()
		return nil, nil, fmt.Errorf("failed to initialize audit service: %w", err)
	}
	return svc, closeStore, nil
}

func newVerifyCmd() *cobra.Command {
	var verifyAll bool

	cmd := &cobra.Command{
		Use:   "verify [event-id]",
		Short: "Verify audit event integrity",
		Long: `Verify the integrity hash of one audit event, or of every stored
event with --all. Tampered events are reported, never repaired.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !verifyAll && len(args) == 0 {
				return fmt.Errorf("provide an event ID or --all")
			}

			svc, closeStore, err := openAuditService()
			if err != nil {
				return err
			}
			defer closeStore()

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			if !verifyAll {
				result, err := svc.VerifyEvent(ctx, args[0])
				if err != nil {
					return err
				}
				return printVerifyResults([]*audit.VerifyResult{result})
			}

			var sp *spinner.Spinner
			if !quiet && !outputJSON {
				sp = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				sp.Suffix = " Verifying audit trail..."
				sp.Start()
			}

			events, err := svc.QueryEvents(ctx, &core.AuditFilter{})
			if err != nil {
				if sp != nil {
					sp.Stop()
				}
				return err
			}

			results := make([]*audit.VerifyResult, 0, len(events))
			for _, e := range events {
				result, err := svc.VerifyEvent(ctx, e.ID)
				if err != nil {
					result = &audit.VerifyResult{EventID: e.ID, Valid: false, Error: err.Error()}
				}
				results = append(results, result)
			}
			if sp != nil {
				sp.Stop()
			}
			return printVerifyResults(results)
		},
	}

	cmd.Flags().BoolVar(&verifyAll, "all", false, "Verify every stored event")
	return cmd
}

func printVerifyResults(results []*audit.VerifyResult) error {
	if outputJSON {
		return json.NewEncoder(os.Stdout).Encode(results)
	}

	tampered := 0
	for _, r := range results {
		if r.Valid {
			if !quiet {
				successColor.Printf("ok      ")
				fmt.Println(r.EventID)
			}
			continue
		}
		tampered++
		errorColor.Printf("TAMPERED ")
		fmt.Printf("%s", r.EventID)
		if r.Error != "" {
			fmt.Printf(" (%s)", r.Error)
		}
		fmt.Println()
	}

	fmt.Println()
	if tampered == 0 {
		successColor.Printf("Verified %d events, all intact\n", len(results))
		return nil
	}
	errorColor.Printf("Verified %d events, %d FAILED integrity\n", len(results), tampered)
	os.Exit(1)
	return nil
}

func newExportCmd() *cobra.Command {
	var (
		format    string
		output    string
		userID    string
		eventType string
		since     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export audit logs",
		Long: `Export matching audit events to JSON or CSV. Redacted and encrypted
fields export exactly as stored.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeStore, err := openAuditService()
			if err != nil {
				return err
			}
			defer closeStore()

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			filter := &core.AuditFilter{UserID: userID}
			if eventType != "" {
				filter.EventTypes = []core.AuditEventType{core.AuditEventType(eventType)}
			}
			if since > 0 {
				filter.Start = time.Now().Add(-since)
			}

			export, err := svc.ExportLogs(ctx, filter, format)
			if err != nil {
				return err
			}

			filename := output
			if filename == "" {
				filename = export.Filename
			}
			if err := os.WriteFile(filename, export.Data, 0o600); err != nil {
				return fmt.Errorf("failed to write export: %w", err)
			}

			if !quiet {
				successColor.Printf("Exported audit log to %s (%d bytes)\n", filename, len(export.Data))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", audit.FormatJSON, "Export format: json or csv")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: generated name)")
	cmd.Flags().StringVar(&userID, "user", "", "Filter by user ID")
	cmd.Flags().StringVar(&eventType, "type", "", "Filter by event type")
	cmd.Flags().DurationVar(&since, "since", 0, "Only events newer than this duration (e.g. 720h)")
	return cmd
}

func newReportCmd() *cobra.Command {
	var (
		reportType string
		start      string
		end        string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a compliance report",
		Long: `Aggregate the audit trail over a reporting period: event counts by
type, outcome and classification, integrity failures and detected
compliance violations.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			periodStart, err := time.Parse("2006-01-02", start)
			if err != nil {
				return fmt.Errorf("invalid --start date: %w", err)
			}
			periodEnd := time.Now()
			if end != "" {
				periodEnd, err = time.Parse("2006-01-02", end)
				if err != nil {
					return fmt.Errorf("invalid --end date: %w", err)
				}
			}

			svc, closeStore, err := openAuditService()
			if err != nil {
				return err
			}
			defer closeStore()

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			report, err := svc.GenerateComplianceReport(ctx, reportType, periodStart, periodEnd)
			if err != nil {
				return err
			}

			if outputJSON {
				return json.NewEncoder(os.Stdout).Encode(report)
			}
			printReport(report)
			return nil
		},
	}

	cmd.Flags().StringVar(&reportType, "type", "periodic", "Report type label")
	cmd.Flags().StringVar(&start, "start", "", "Period start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "Period end (YYYY-MM-DD, default: now)")
	cmd.MarkFlagRequired("start")
	return cmd
}

func printReport(report *audit.ComplianceReport) {
	headerColor.Printf("Compliance report (%s)\n", report.Type)
	fmt.Printf("Period:    %s to %s\n",
		report.PeriodStart.Format("2006-01-02"),
		report.PeriodEnd.Format("2006-01-02"))
	fmt.Printf("Generated: %s\n\n", report.GeneratedAt.Format(time.RFC3339))

	fmt.Printf("Total events:      %d\n", report.TotalEvents)
	fmt.Printf("Encrypted events:  %d\n", report.EncryptedEvents)
	fmt.Printf("Failed operations: %d\n\n", report.FailedOperations)

	headerColor.Println("By event type")
	for _, k := range sortedKeys(report.ByEventType) {
		fmt.Printf("  %-24s %d\n", k, report.ByEventType[core.AuditEventType(k)])
	}
	fmt.Println()

	headerColor.Println("By outcome")
	for _, k := range sortedOutcomes(report.ByOutcome) {
		fmt.Printf("  %-24s %d\n", k, report.ByOutcome[core.Outcome(k)])
	}
	fmt.Println()

	if len(report.IntegrityFailures) > 0 {
		errorColor.Printf("Integrity failures: %d\n", len(report.IntegrityFailures))
		for _, id := range report.IntegrityFailures {
			fmt.Printf("  %s\n", id)
		}
		fmt.Println()
	} else {
		successColor.Println("Integrity: all events intact")
	}

	if len(report.Violations) > 0 {
		warningColor.Printf("Compliance violations: %d\n", len(report.Violations))
		for _, v := range report.Violations {
			fmt.Printf("  %-32s user=%s %s\n", v.Rule, v.UserID, v.Detail)
		}
	} else if !quiet {
		infoColor.Println("No compliance violations detected")
	}
}

func sortedKeys(m map[core.AuditEventType]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	return keys
}

func sortedOutcomes(m map[core.Outcome]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	return keys
}
