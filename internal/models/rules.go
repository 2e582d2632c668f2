package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RuleField names the invoice attribute a rule inspects
type RuleField string

const (
	FieldVendorName    RuleField = "vendor_name"
	FieldTotalAmount   RuleField = "total_amount"
	FieldPOReference   RuleField = "po_reference"
	FieldInvoiceNumber RuleField = "invoice_number"
)

// IsValid checks if the field is supported
func (f RuleField) IsValid() bool {
	switch f {
	case FieldVendorName, FieldTotalAmount, FieldPOReference, FieldInvoiceNumber:
		return true
	}
	return false
}

// IsNumeric reports whether the field compares as a decimal.
func (f RuleField) IsNumeric() bool {
	return f == FieldTotalAmount
}

// RuleOperator is the comparison a rule applies
type RuleOperator string

const (
	OperatorEquals      RuleOperator = "equals"
	OperatorContains    RuleOperator = "contains"
	OperatorGreaterThan RuleOperator = "greater_than"
	OperatorLessThan    RuleOperator = "less_than"
)

// IsValid checks if the operator is supported
func (o RuleOperator) IsValid() bool {
	switch o {
	case OperatorEquals, OperatorContains, OperatorGreaterThan, OperatorLessThan:
		return true
	}
	return false
}

// RuleAction is what a matching rule asks for
type RuleAction string

const (
	ActionAutoApprove RuleAction = "auto_approve"
	ActionFlagReview  RuleAction = "flag_review"
	ActionAutoReject  RuleAction = "auto_reject"
)

// IsValid checks if the action is supported
func (a RuleAction) IsValid() bool {
	switch a {
	case ActionAutoApprove, ActionFlagReview, ActionAutoReject:
		return true
	}
	return false
}

// ValidatorRule is a user-authored override rule
type ValidatorRule struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Field     RuleField    `json:"field"`
	Operator  RuleOperator `json:"operator"`
	Value     string       `json:"value"`
	Action    RuleAction   `json:"action"`
	Active    bool         `json:"active"`
	CreatedAt time.Time    `json:"created_at"`
}

// Validate performs basic validation on the rule
func (r *ValidatorRule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("rule name cannot be empty")
	}
	if !r.Field.IsValid() {
		return fmt.Errorf("invalid rule field '%s'", r.Field)
	}
	if !r.Operator.IsValid() {
		return fmt.Errorf("invalid rule operator '%s'", r.Operator)
	}
	if !r.Action.IsValid() {
		return fmt.Errorf("invalid rule action '%s'", r.Action)
	}
	if r.Field.IsNumeric() {
		if r.Operator == OperatorContains {
			return fmt.Errorf("operator '%s' is not supported for numeric field '%s'", r.Operator, r.Field)
		}
		if _, err := decimal.NewFromString(strings.TrimSpace(r.Value)); err != nil {
			return fmt.Errorf("rule value '%s' is not a number: %w", r.Value, err)
		}
	} else if r.Operator == OperatorGreaterThan || r.Operator == OperatorLessThan {
		return fmt.Errorf("operator '%s' is not supported for text field '%s'", r.Operator, r.Field)
	}
	return nil
}

// String returns a string representation of the rule
func (r *ValidatorRule) String() string {
	return fmt.Sprintf("%s: %s %s %q => %s", r.Name, r.Field, r.Operator, r.Value, r.Action)
}

// ParseRuleField parses a field name, accepting spaces and hyphens.
func ParseRuleField(s string) (RuleField, error) {
	f := RuleField(canonicalToken(s))
	if !f.IsValid() {
		return "", fmt.Errorf("invalid rule field '%s': must be vendor_name, total_amount, po_reference or invoice_number", s)
	}
	return f, nil
}

// ParseRuleOperator parses an operator name. Symbolic forms are accepted.
func ParseRuleOperator(s string) (RuleOperator, error) {
	switch strings.TrimSpace(s) {
	case "=", "==":
		return OperatorEquals, nil
	case ">":
		return OperatorGreaterThan, nil
	case "<":
		return OperatorLessThan, nil
	}
	o := RuleOperator(canonicalToken(s))
	if !o.IsValid() {
		return "", fmt.Errorf("invalid rule operator '%s': must be equals, contains, greater_than or less_than", s)
	}
	return o, nil
}

// ParseRuleAction parses an action name.
func ParseRuleAction(s string) (RuleAction, error) {
	a := RuleAction(canonicalToken(s))
	if !a.IsValid() {
		return "", fmt.Errorf("invalid rule action '%s': must be auto_approve, flag_review or auto_reject", s)
	}
	return a, nil
}

func canonicalToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	return strings.ReplaceAll(s, " ", "_")
}
