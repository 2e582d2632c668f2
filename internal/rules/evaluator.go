// Package rules evaluates user-authored validator rules against an invoice.
//
// Evaluation is a pure function of the rule set and the invoice. Every
// active rule is tested, all matches are reported, and conflicting actions
// are resolved by a fixed priority: auto_reject beats auto_approve, which
// beats flag_review. Rules that cannot be applied (for example a numeric
// comparison against a non-numeric value) never match and are reported as
// skipped so the audit trail can show why.
package rules

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"invoice-reconciliation-engine/internal/models"
)

// Action is the resolved outcome of rule evaluation
type Action string

const (
	ActionNone        Action = "none"
	ActionAutoApprove Action = Action(models.ActionAutoApprove)
	ActionFlagReview  Action = Action(models.ActionFlagReview)
	ActionAutoReject  Action = Action(models.ActionAutoReject)
)

var priority = map[models.RuleAction]int{
	models.ActionAutoReject:  3,
	models.ActionAutoApprove: 2,
	models.ActionFlagReview:  1,
}

// Match is a rule that matched, with the field value it was tested against
type Match struct {
	Rule        *models.ValidatorRule
	ActualValue string
}

// Skipped is a rule that could not be applied
type Skipped struct {
	Rule   *models.ValidatorRule
	Reason string
}

// Outcome is the result of evaluating a rule set against one invoice
type Outcome struct {
	Action  Action
	Winner  *models.ValidatorRule
	Matches []Match
	Skipped []Skipped
}

// HasOverride reports whether the outcome short-circuits the match checks.
func (o Outcome) HasOverride() bool {
	return o.Action == ActionAutoApprove || o.Action == ActionAutoReject
}

// Evaluate tests every active rule in order and resolves the winning action.
func Evaluate(ruleSet []*models.ValidatorRule, inv *models.Invoice) Outcome {
	outcome := Outcome{Action: ActionNone}
	best := 0

	for _, rule := range ruleSet {
		if rule == nil || !rule.Active {
			continue
		}

		actual := FieldValue(inv, rule.Field)
		matched, err := applies(rule, actual)
		if err != nil {
			outcome.Skipped = append(outcome.Skipped, Skipped{Rule: rule, Reason: err.Error()})
			continue
		}
		if !matched {
			continue
		}

		outcome.Matches = append(outcome.Matches, Match{Rule: rule, ActualValue: actual})
		if p := priority[rule.Action]; p > best {
			best = p
			outcome.Action = Action(rule.Action)
			outcome.Winner = rule
		}
	}

	return outcome
}

// FieldValue extracts the value a rule field refers to.
func FieldValue(inv *models.Invoice, field models.RuleField) string {
	switch field {
	case models.FieldVendorName:
		return inv.VendorName
	case models.FieldTotalAmount:
		return inv.TotalAmount.String()
	case models.FieldPOReference:
		return inv.POReference
	case models.FieldInvoiceNumber:
		return inv.InvoiceNumber
	}
	return ""
}

func applies(rule *models.ValidatorRule, actual string) (bool, error) {
	if !rule.Action.IsValid() {
		return false, fmt.Errorf("unknown action '%s'", rule.Action)
	}
	if !rule.Field.IsValid() {
		return false, fmt.Errorf("unknown field '%s'", rule.Field)
	}

	if rule.Field.IsNumeric() {
		return compareNumeric(rule, actual)
	}
	return compareText(rule, actual)
}

func compareNumeric(rule *models.ValidatorRule, actual string) (bool, error) {
	want, err := decimal.NewFromString(strings.TrimSpace(rule.Value))
	if err != nil {
		return false, fmt.Errorf("value '%s' is not a number", rule.Value)
	}
	got, err := decimal.NewFromString(actual)
	if err != nil {
		return false, fmt.Errorf("invoice %s '%s' is not a number", rule.Field, actual)
	}

	switch rule.Operator {
	case models.OperatorEquals:
		return got.Equal(want), nil
	case models.OperatorGreaterThan:
		return got.GreaterThan(want), nil
	case models.OperatorLessThan:
		return got.LessThan(want), nil
	}
	return false, fmt.Errorf("operator '%s' does not apply to %s", rule.Operator, rule.Field)
}

func compareText(rule *models.ValidatorRule, actual string) (bool, error) {
	switch rule.Operator {
	case models.OperatorEquals:
		return actual == rule.Value, nil
	case models.OperatorContains:
		return strings.Contains(actual, rule.Value), nil
	}
	return false, fmt.Errorf("operator '%s' does not apply to %s", rule.Operator, rule.Field)
}
