package parsers

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/pkg/errors"
)

// ruleSpec is one rule as written in a rule file
type ruleSpec struct {
	Name     string    `yaml:"name"`
	Field    string    `yaml:"field"`
	Operator string    `yaml:"operator"`
	Value    yaml.Node `yaml:"value"`
	Action   string    `yaml:"action"`
	Active   *bool     `yaml:"active,omitempty"`
}

type ruleFile struct {
	Rules []ruleSpec `yaml:"rules"`
}

// DecodeRules reads validator rules from a YAML document. The document is
// either a list of rules or a mapping with a "rules" list:
//
//	rules:
//	  - name: Trusted office supplier
//	    field: vendor_name
//	    operator: equals
//	    value: Acme Office Supplies
//	    action: auto_approve
//
// Rules default to active. Every invalid rule is reported with its line;
// nothing is returned unless the whole file is valid.
func DecodeRules(r io.Reader, file string) ([]*models.ValidatorRule, error) {
	var root yaml.Node
	if err := yaml.NewDecoder(r).Decode(&root); err != nil {
		if err == io.EOF {
			return nil, errors.ValidationError(errors.CodeMissingField, "file_content", "empty", nil).
				WithSuggestion("Provide at least one rule")
		}
		return nil, errors.ParseError(errors.CodeInvalidFormat, file, 0, "", "", err).
			WithSuggestion("Check the YAML indentation and syntax")
	}

	doc := &root
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		doc = doc.Content[0]
	}

	items, err := ruleItems(doc, file)
	if err != nil {
		return nil, err
	}

	collector := errors.NewParseErrorCollector(0, true)
	rules := make([]*models.ValidatorRule, 0, len(items))
	for _, item := range items {
		rule, perr := decodeRule(item, file)
		if perr != nil {
			collector.Add(perr)
			continue
		}
		rules = append(rules, rule)
	}

	if collector.HasErrors() {
		return nil, collector.GetSummary()
	}
	return rules, nil
}

func ruleItems(doc *yaml.Node, file string) ([]*yaml.Node, error) {
	switch doc.Kind {
	case yaml.SequenceNode:
		return doc.Content, nil
	case yaml.MappingNode:
		for i := 0; i+1 < len(doc.Content); i += 2 {
			if doc.Content[i].Value == "rules" && doc.Content[i+1].Kind == yaml.SequenceNode {
				return doc.Content[i+1].Content, nil
			}
		}
	}
	return nil, errors.ParseError(errors.CodeInvalidFormat, file, doc.Line, "rules", "", fmt.Errorf("expected a list of rules")).
		WithSuggestion("Write the rules as a YAML list, optionally under a top-level 'rules' key")
}

func decodeRule(item *yaml.Node, file string) (*models.ValidatorRule, *errors.EnhancedParseError) {
	var spec ruleSpec
	if err := item.Decode(&spec); err != nil {
		return nil, errors.NewEnhancedParseError(errors.CodeInvalidFormat,
			&errors.ParseContext{File: file, Line: item.Line}, "invalid rule", err)
	}

	location := func(column, value string) *errors.ParseContext {
		return &errors.ParseContext{File: file, Line: item.Line, Column: column, Value: value}
	}

	if strings.TrimSpace(spec.Name) == "" {
		return nil, errors.EmptyValueError(file, item.Line, "name")
	}
	field, err := models.ParseRuleField(spec.Field)
	if err != nil {
		return nil, errors.InvalidValueError(file, item.Line, "field", spec.Field,
			string(models.FieldVendorName), string(models.FieldTotalAmount),
			string(models.FieldPOReference), string(models.FieldInvoiceNumber))
	}
	operator, err := models.ParseRuleOperator(spec.Operator)
	if err != nil {
		return nil, errors.InvalidValueError(file, item.Line, "operator", spec.Operator,
			string(models.OperatorEquals), string(models.OperatorContains),
			string(models.OperatorGreaterThan), string(models.OperatorLessThan))
	}
	action, err := models.ParseRuleAction(spec.Action)
	if err != nil {
		return nil, errors.InvalidValueError(file, item.Line, "action", spec.Action,
			string(models.ActionAutoApprove), string(models.ActionFlagReview), string(models.ActionAutoReject))
	}
	if spec.Value.Kind != yaml.ScalarNode {
		return nil, errors.EmptyValueError(file, item.Line, "value")
	}

	rule := &models.ValidatorRule{
		Name:     strings.TrimSpace(spec.Name),
		Field:    field,
		Operator: operator,
		Value:    spec.Value.Value,
		Action:   action,
		Active:   spec.Active == nil || *spec.Active,
	}
	if err := rule.Validate(); err != nil {
		return nil, errors.NewEnhancedParseError(errors.CodeInvalidData, location("value", rule.Value), err.Error(), err)
	}
	return rule, nil
}

// EncodeRules writes rules in the format DecodeRules reads
func EncodeRules(w io.Writer, rules []*models.ValidatorRule) error {
	doc := ruleFile{Rules: make([]ruleSpec, 0, len(rules))}
	for _, rule := range rules {
		active := rule.Active
		doc.Rules = append(doc.Rules, ruleSpec{
			Name:     rule.Name,
			Field:    string(rule.Field),
			Operator: string(rule.Operator),
			Value:    yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: rule.Value},
			Action:   string(rule.Action),
			Active:   &active,
		})
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "encode_rules", err)
	}
	return enc.Close()
}
