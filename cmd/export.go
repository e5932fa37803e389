package cmd

import (
	"fmt"
	"os"
	"time"

	"drivingschool/server/internal/export"
	"drivingschool/server/internal/logger"
	"drivingschool/server/internal/models"
	"drivingschool/server/internal/store"

	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export invoices as CSV, DATEV, detailed text or XLSX",
	Example: `  # DATEV batch of March 2026 for the tax advisor
  invoice-server export --format datev --from 2026-03-01 --to 2026-04-01 --out maerz.csv

  # Overdue invoices as a spreadsheet
  invoice-server export --format xlsx --status overdue --out overdue.xlsx`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().String("format", "csv", "Output format: csv, datev, detailed, xlsx")
	exportCmd.Flags().String("out", "", "Output file (default stdout)")
	exportCmd.Flags().String("from", "", "First invoice date, inclusive (YYYY-MM-DD)")
	exportCmd.Flags().String("to", "", "Last invoice date, exclusive (YYYY-MM-DD)")
	exportCmd.Flags().String("status", "", "Only invoices with this status")
	exportCmd.Flags().String("participant", "", "Only invoices of this participant")
}

func runExport(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("export")

	formatFlag, _ := cmd.Flags().GetString("format")
	out, _ := cmd.Flags().GetString("out")
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	status, _ := cmd.Flags().GetString("status")
	participant, _ := cmd.Flags().GetString("participant")

	format, err := export.ParseFormat(formatFlag)
	if err != nil {
		return err
	}
	filter := store.InvoiceFilter{
		ParticipantID: participant,
		Status:        models.InvoiceStatus(status),
	}
	if filter.From, err = parseDateFlag("from", from); err != nil {
		return err
	}
	if filter.To, err = parseDateFlag("to", to); err != nil {
		return err
	}

	ctx, cancel := commandContext(2 * time.Minute)
	defer cancel()
	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	invoices, err := a.service.ListInvoices(ctx, filter)
	if err != nil {
		return err
	}
	result, err := export.Export(format, invoices, cfg.Datev)
	if err != nil {
		return err
	}

	if out == "" {
		_, err = cmd.OutOrStdout().Write(result.Content)
		return err
	}
	if err := os.WriteFile(out, result.Content, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	log.Info().
		Str("format", string(format)).
		Int("invoices", len(invoices)).
		Str("file", out).
		Msg("Export written")
	return nil
}

func parseDateFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, fmt.Errorf("--%s must be YYYY-MM-DD: %w", name, err)
	}
	return &t, nil
}
