package cmd

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/internal/reconciler"
	"invoice-reconciliation-engine/pkg/errors"
)

var (
	trainActor      string
	trainScenario   string
	trainRationale  string
	trainExpected   string
	trainField      string
	trainVariance   string
	trainCreateRule bool
	trainRuleName   string
)

// trainCmd records how an invoice should have been decided
var trainCmd = &cobra.Command{
	Use:   "train INVOICE_ID",
	Short: "Teach the exception memory how an invoice should be decided",
	Long: `Train stores a learned precedent for the invoice's vendor. Later
evaluations of the same vendor accept variances up to the trained
magnitude. The variance is taken from a dry-run evaluation unless
--variance is given. Training never changes the invoice status.

Examples:
  reconciler train 6f1c... --rationale "Freight surcharge agreed with vendor"
  reconciler train 6f1c... --rationale "Trusted vendor" --field quantity --variance 4 --create-rule`,
	Args: cobra.ExactArgs(1),
	RunE: runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)

	flags := trainCmd.Flags()
	flags.StringVar(&trainActor, "actor", "", "who trains the precedent (default: system)")
	flags.StringVar(&trainScenario, "scenario", "", "short description of the situation")
	flags.StringVar(&trainRationale, "rationale", "", "why the variance is acceptable (required)")
	flags.StringVar(&trainExpected, "expected-status", string(models.StatusReadyToPost), "status the invoice should have received")
	flags.StringVar(&trainField, "field", "", "variance dimension: price or quantity (default from the evaluation)")
	flags.StringVar(&trainVariance, "variance", "", "accepted variance magnitude")
	flags.BoolVar(&trainCreateRule, "create-rule", false, "also add an auto_approve rule for the vendor")
	flags.StringVar(&trainRuleName, "rule-name", "", "name of the created rule")
}

func buildTrainRequest(invoiceID string) (reconciler.TrainRequest, error) {
	req := reconciler.TrainRequest{
		InvoiceID:  invoiceID,
		Actor:      trainActor,
		Scenario:   trainScenario,
		Rationale:  trainRationale,
		CreateRule: trainCreateRule,
		RuleName:   trainRuleName,
	}

	status, err := models.ParseInvoiceStatus(trainExpected)
	if err != nil {
		return req, errors.ValidationError(errors.CodeInvalidField, "expected-status", trainExpected, err)
	}
	req.ExpectedStatus = status

	if trainField != "" {
		field := models.VarianceField(trainField)
		if !field.IsValid() {
			return req, errors.ValidationError(errors.CodeInvalidField, "field", trainField, nil).
				WithSuggestion("Use price or quantity")
		}
		req.Field = field
	}

	if trainVariance != "" {
		d, err := decimal.NewFromString(trainVariance)
		if err != nil || d.IsNegative() {
			return req, errors.ValidationError(errors.CodeInvalidAmount, "variance", trainVariance, err).
				WithSuggestion("The variance is a non-negative decimal such as 10.00")
		}
		req.Variance = decimal.NewNullDecimal(d)
	}
	return req, nil
}

func runTrain(cmd *cobra.Command, args []string) error {
	req, err := buildTrainRequest(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.service.Train(ctx, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	ex := result.Example
	variance := "n/a"
	if ex.Variance.Valid {
		variance = ex.Variance.Decimal.String()
	}
	fmt.Fprintf(out, "Learned %s for %s: %s variance up to %s -> %s\n",
		ex.ID, ex.VendorName, ex.Field, variance, ex.ExpectedStatus)
	if result.Rule != nil {
		fmt.Fprintf(out, "Created rule %s: %s\n", result.Rule.ID, result.Rule.String())
	}
	return nil
}
