package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"invoice-reconciliation-engine/cmd/reconciler/config"
	"invoice-reconciliation-engine/internal/lifecycle"
	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/internal/reconciler"
	"invoice-reconciliation-engine/internal/reporter"
	"invoice-reconciliation-engine/internal/store"
	"invoice-reconciliation-engine/pkg/errors"
)

var (
	invoiceFormat   string
	invoiceStatuses []string
	invoiceVendor   string
	invoiceLimit    int
	actionActor     string
	actionNote      string
)

var invoiceCmd = &cobra.Command{
	Use:   "invoice",
	Short: "Inspect invoices and apply lifecycle actions",
	Long: `Invoice shows stored invoices and applies the human lifecycle actions.

  post     books a READY_TO_POST invoice
  park     sets an invoice aside
  release  returns a parked invoice to AWAITING_INFO
  reject   closes an invoice for good (requires --note)`,
}

var invoiceShowCmd = &cobra.Command{
	Use:   "show INVOICE_ID",
	Short: "Show an invoice with its lines and audit trail",
	Args:  cobra.ExactArgs(1),
	RunE:  runInvoiceShow,
}

var invoiceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List invoices",
	Args:  cobra.NoArgs,
	RunE:  runInvoiceList,
}

var invoicePreviewCmd = &cobra.Command{
	Use:   "preview INVOICE_ID",
	Short: "Show what an evaluation would decide without saving it",
	Args:  cobra.ExactArgs(1),
	RunE:  runInvoicePreview,
}

// newActionCmd builds the subcommand for a lifecycle action. The command
// name is the action.
func newActionCmd(use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " INVOICE_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := lifecycle.ParseAction(cmd.Name())
			if err != nil {
				return errors.ValidationError(errors.CodeInvalidField, "action", cmd.Name(), err)
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.close()

			inv, err := a.service.Apply(ctx, action, reconciler.ActionRequest{
				InvoiceID: args[0],
				Actor:     actionActor,
				Note:      actionNote,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", inv.ID, inv.InvoiceNumber, inv.Status)
			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(invoiceCmd)
	invoiceCmd.AddCommand(invoiceShowCmd, invoiceListCmd, invoicePreviewCmd)

	invoiceShowCmd.Flags().StringVarP(&invoiceFormat, "output-format", "f", "console", "output format: console, json, csv")

	invoiceListCmd.Flags().StringSliceVar(&invoiceStatuses, "status", nil, "only invoices in these statuses")
	invoiceListCmd.Flags().StringVar(&invoiceVendor, "vendor", "", "only invoices from this vendor")
	invoiceListCmd.Flags().IntVar(&invoiceLimit, "limit", 0, "maximum number of invoices (0 = all)")

	actions := []*cobra.Command{
		newActionCmd(string(lifecycle.ActionPost), "Book a READY_TO_POST invoice"),
		newActionCmd(string(lifecycle.ActionPark), "Set an invoice aside"),
		newActionCmd(string(lifecycle.ActionRelease), "Return a parked invoice to AWAITING_INFO"),
		newActionCmd(string(lifecycle.ActionReject), "Reject an invoice"),
	}
	for _, c := range actions {
		c.Flags().StringVar(&actionActor, "actor", "", "who performs the action (default: system)")
		c.Flags().StringVar(&actionNote, "note", "", "note recorded in the audit trail")
		invoiceCmd.AddCommand(c)
	}
}

func runInvoiceShow(cmd *cobra.Command, args []string) error {
	reportConfig, err := config.CreateReportConfig(invoiceFormat, false)
	if err != nil {
		return err
	}
	if reportConfig.Format == reporter.FormatXLSX {
		return errors.ValidationError(errors.CodeInvalidField, "output-format", invoiceFormat, nil).
			WithSuggestion("Use console, json or csv for a single invoice")
	}
	generator, err := reporter.NewReportGenerator(reportConfig)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	inv, err := a.service.GetInvoice(ctx, args[0])
	if err != nil {
		return err
	}
	return generator.GenerateInvoiceReport(inv, cmd.OutOrStdout())
}

func runInvoiceList(cmd *cobra.Command, args []string) error {
	filter := store.InvoiceFilter{Vendor: invoiceVendor, Limit: invoiceLimit}
	for _, s := range invoiceStatuses {
		status, err := models.ParseInvoiceStatus(s)
		if err != nil {
			return errors.ValidationError(errors.CodeInvalidField, "status", s, err)
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	invoices, err := a.service.ListInvoices(ctx, filter)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, inv := range invoices {
		fmt.Fprintf(out, "%s\t%s\t%s\t%s %s\t%s\n",
			inv.ID, inv.InvoiceNumber, inv.VendorName, inv.TotalAmount.StringFixed(2), inv.Currency, inv.Status)
	}
	fmt.Fprintf(out, "%d invoice(s)\n", len(invoices))
	return nil
}

func runInvoicePreview(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.service.Preview(ctx, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Invoice:  %s (%s)\n", res.InvoiceNumber, res.InvoiceID)
	fmt.Fprintf(out, "Current:  %s\n", res.PreviousStatus)
	fmt.Fprintf(out, "Decision: %s\n", res.Status)
	if res.Reason != "" {
		fmt.Fprintf(out, "Reason:   %s\n", res.Reason)
	}
	fmt.Fprintf(out, "\n%s\n", strings.TrimRight(res.Decision.AuditTrail, "\n"))
	return nil
}
