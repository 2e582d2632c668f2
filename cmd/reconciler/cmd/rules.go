package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/internal/parsers"
	"invoice-reconciliation-engine/pkg/errors"
)

var (
	rulesActiveOnly bool
	ruleName        string
	ruleField       string
	ruleOperator    string
	ruleValue       string
	ruleAction      string
	ruleInactive    bool
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage validator rules",
	Long: `Validator rules are deterministic checks that run before the three-way
match. auto_reject wins over auto_approve, which wins over flag_review.

Examples:
  reconciler rules add --name "Trusted office supplier" --field vendor_name \
    --operator equals --value "Acme Office Supplies" --action auto_approve
  reconciler rules import rules.yaml
  reconciler rules export rules.yaml`,
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rules in evaluation order",
	Args:  cobra.NoArgs,
	RunE:  runRulesList,
}

var rulesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a rule",
	Args:  cobra.NoArgs,
	RunE:  runRulesAdd,
}

var rulesEnableCmd = &cobra.Command{
	Use:   "enable RULE_ID",
	Short: "Enable a rule",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setRuleActive(cmd, args[0], true) },
}

var rulesDisableCmd = &cobra.Command{
	Use:   "disable RULE_ID",
	Short: "Disable a rule",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setRuleActive(cmd, args[0], false) },
}

var rulesImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Add every rule of a YAML rule file",
	Long: `Import validates the whole file first. Nothing is stored unless every
rule in it is valid.`,
	Args: cobra.ExactArgs(1),
	RunE: runRulesImport,
}

var rulesExportCmd = &cobra.Command{
	Use:   "export [FILE]",
	Short: "Write all rules as YAML (default: stdout)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRulesExport,
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesListCmd, rulesAddCmd, rulesEnableCmd, rulesDisableCmd, rulesImportCmd, rulesExportCmd)

	rulesListCmd.Flags().BoolVar(&rulesActiveOnly, "active", false, "only active rules")

	flags := rulesAddCmd.Flags()
	flags.StringVar(&ruleName, "name", "", "rule name (required)")
	flags.StringVar(&ruleField, "field", "", "vendor_name, total_amount, po_reference or invoice_number")
	flags.StringVar(&ruleOperator, "operator", "", "equals, contains, greater_than or less_than")
	flags.StringVar(&ruleValue, "value", "", "value to compare against")
	flags.StringVar(&ruleAction, "action", "", "auto_approve, flag_review or auto_reject")
	flags.BoolVar(&ruleInactive, "inactive", false, "store the rule disabled")
	rulesAddCmd.MarkFlagRequired("name")
	rulesAddCmd.MarkFlagRequired("field")
	rulesAddCmd.MarkFlagRequired("operator")
	rulesAddCmd.MarkFlagRequired("value")
	rulesAddCmd.MarkFlagRequired("action")
}

func printRule(w io.Writer, rule *models.ValidatorRule) {
	state := "active"
	if !rule.Active {
		state = "inactive"
	}
	fmt.Fprintf(w, "%s\t%s\t%s\n", rule.ID, state, rule.String())
}

func buildRule() (*models.ValidatorRule, error) {
	field, err := models.ParseRuleField(ruleField)
	if err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidField, "field", ruleField, err)
	}
	operator, err := models.ParseRuleOperator(ruleOperator)
	if err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidField, "operator", ruleOperator, err)
	}
	action, err := models.ParseRuleAction(ruleAction)
	if err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidField, "action", ruleAction, err)
	}
	return &models.ValidatorRule{
		Name:     ruleName,
		Field:    field,
		Operator: operator,
		Value:    ruleValue,
		Action:   action,
		Active:   !ruleInactive,
	}, nil
}

func runRulesList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	rules, err := a.service.ListRules(ctx, rulesActiveOnly)
	if err != nil {
		return err
	}
	for _, rule := range rules {
		printRule(cmd.OutOrStdout(), rule)
	}
	return nil
}

func runRulesAdd(cmd *cobra.Command, args []string) error {
	rule, err := buildRule()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	created, err := a.service.CreateRule(ctx, rule)
	if err != nil {
		return err
	}
	printRule(cmd.OutOrStdout(), created)
	return nil
}

func setRuleActive(cmd *cobra.Command, id string, active bool) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	rule, err := a.service.SetRuleActive(ctx, id, active)
	if err != nil {
		return err
	}
	printRule(cmd.OutOrStdout(), rule)
	return nil
}

func runRulesImport(cmd *cobra.Command, args []string) error {
	path := args[0]
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.FileError(errors.CodeFileNotFound, path, err)
		}
		return errors.FileError(errors.CodeFilePermission, path, err)
	}
	defer file.Close()

	rules, err := parsers.DecodeRules(file, path)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	for _, rule := range rules {
		created, err := a.service.CreateRule(ctx, rule)
		if err != nil {
			return err
		}
		printRule(cmd.OutOrStdout(), created)
	}
	a.logger.WithField("file", path).WithField("rules", len(rules)).Info("Rules imported")
	return nil
}

func runRulesExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	rules, err := a.service.ListRules(ctx, false)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		file, err := os.Create(args[0])
		if err != nil {
			return errors.FileError(errors.CodeFilePermission, args[0], err)
		}
		defer file.Close()
		out = file
	}
	return parsers.EncodeRules(out, rules)
}
