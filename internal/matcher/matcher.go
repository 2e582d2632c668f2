package matcher

import (
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"

	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/internal/precedent"
	"invoice-reconciliation-engine/internal/reference"
	"invoice-reconciliation-engine/internal/rules"
)

// CheckType labels a step of the evaluation pipeline
type CheckType string

const (
	CheckDuplicate CheckType = "DUPLICATE_CHECK"
	CheckExistence CheckType = "EXISTENCE_CHECK"
	CheckRule      CheckType = "RULE_MATCH"
	CheckCurrency  CheckType = "CURRENCY_CHECK"
	CheckLineMatch CheckType = "LINE_MATCH"
	CheckPrice     CheckType = "PRICE_CHECK"
	CheckQuantity  CheckType = "QTY_CHECK"
)

// Outcome is the verdict of a single check
type Outcome string

const (
	OutcomePass     Outcome = "PASS"
	OutcomeFail     Outcome = "FAIL"
	OutcomeNote     Outcome = "NOTE"
	OutcomeOverride Outcome = "OVERRIDE"
)

// Evidence is one key/value fact supporting a finding
type Evidence struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Finding is the result of one check. A failing finding names the status
// it asks for.
type Finding struct {
	Check    CheckType            `json:"check"`
	Outcome  Outcome              `json:"outcome"`
	Line     int                  `json:"line,omitempty"`
	Status   models.InvoiceStatus `json:"status,omitempty"`
	Message  string               `json:"message,omitempty"`
	Evidence []Evidence           `json:"evidence,omitempty"`
}

// Variance is a price or quantity difference observed on a line, whether
// or not it blocked.
type Variance struct {
	Line      int                  `json:"line"`
	POLine    int                  `json:"po_line"`
	Field     models.VarianceField `json:"field"`
	Magnitude decimal.Decimal      `json:"magnitude"`
}

// Association ties an invoice line to a PO line
type Association struct {
	Line   int               `json:"line"`
	POLine int               `json:"po_line"`
	Method AssociationMethod `json:"method"`
}

// MatchInput is everything one evaluation looks at. All of it is read once
// before the engine runs so the result is a pure function of the input.
type MatchInput struct {
	Invoice  *models.Invoice
	POKey    string
	KeyOK    bool
	Header   *models.PurchaseOrderHeader
	Lines    []*models.PurchaseOrderLine
	Receipts []*models.GoodsReceipt
	Rules    rules.Outcome
	Memory   *precedent.Memory

	// Prior findings from checks that ran before the engine
	Prior []Finding
}

// MatchResult is the decision and the findings that support it
type MatchResult struct {
	Status       models.InvoiceStatus `json:"status"`
	Reason       string               `json:"reason,omitempty"`
	Findings     []Finding            `json:"findings"`
	Variances    []Variance           `json:"variances,omitempty"`
	Associations []Association        `json:"associations,omitempty"`

	decided   bool
	flaggedBy *models.ValidatorRule
}

func (r *MatchResult) add(f Finding) {
	r.Findings = append(r.Findings, f)
}

// decide records a terminal decision; later checks do not run.
func (r *MatchResult) decide(status models.InvoiceStatus, reason string) {
	r.Status = status
	r.Reason = reason
	r.decided = true
}

type stage func(in *MatchInput, res *MatchResult)

// Engine runs the three-way match pipeline
type Engine struct {
	Config  *MatchConfig
	closure *regexp.Regexp
	stages  []stage
}

// NewEngine creates a new engine with the specified configuration
func NewEngine(config *MatchConfig) *Engine {
	if config == nil {
		config = DefaultMatchConfig()
	}

	e := &Engine{
		Config:  config,
		closure: config.ClosurePattern(),
	}
	e.stages = []stage{
		e.checkExistence,
		e.checkRules,
		e.checkCurrency,
		e.checkLines,
	}
	return e
}

// Match evaluates one invoice. It never fails: every problem is expressed
// as a status with a reason.
func (e *Engine) Match(in *MatchInput) *MatchResult {
	res := &MatchResult{
		Findings: append([]Finding(nil), in.Prior...),
	}

	for _, run := range e.stages {
		run(in, res)
		if res.decided {
			return res
		}
	}

	e.aggregate(res)
	return res
}

func (e *Engine) checkExistence(in *MatchInput, res *MatchResult) {
	fail := func(msg string, evidence ...Evidence) {
		res.add(Finding{Check: CheckExistence, Outcome: OutcomeFail, Status: models.StatusBlockedData, Message: msg, Evidence: evidence})
		res.decide(models.StatusBlockedData, msg)
	}

	raw := Evidence{"reference", in.Invoice.POReference}
	switch {
	case !in.KeyOK:
		fail(reference.NoReference, raw)
	case in.Header == nil && len(in.Lines) == 0:
		fail(fmt.Sprintf("PO not found: %s", in.POKey), raw, Evidence{"po", in.POKey})
	case in.Header == nil:
		fail(fmt.Sprintf("PO not found: %s has %d lines but no header", in.POKey, len(in.Lines)), Evidence{"po", in.POKey})
	case len(in.Lines) == 0:
		fail(fmt.Sprintf("PO not found: %s has no lines", in.POKey), Evidence{"po", in.POKey})
	default:
		res.add(Finding{Check: CheckExistence, Outcome: OutcomePass, Evidence: []Evidence{
			{"po", in.POKey},
			{"lines", fmt.Sprint(len(in.Lines))},
			{"receipts", fmt.Sprint(len(in.Receipts))},
		}})
	}
}

func (e *Engine) checkRules(in *MatchInput, res *MatchResult) {
	outcome := in.Rules

	for _, s := range outcome.Skipped {
		res.add(Finding{Check: CheckRule, Outcome: OutcomeNote, Message: "rule skipped: " + s.Reason, Evidence: ruleEvidence(s.Rule)})
	}

	if len(outcome.Matches) == 0 {
		res.add(Finding{Check: CheckRule, Outcome: OutcomePass, Evidence: []Evidence{{"matched", "0"}}})
		return
	}

	for _, m := range outcome.Matches {
		verdict := OutcomeNote
		if m.Rule == outcome.Winner && outcome.HasOverride() {
			verdict = OutcomeOverride
		}
		res.add(Finding{
			Check:    CheckRule,
			Outcome:  verdict,
			Evidence: append(ruleEvidence(m.Rule), Evidence{"actual", m.ActualValue}),
		})
	}

	winner := outcome.Winner
	switch outcome.Action {
	case rules.ActionAutoReject:
		res.decide(models.StatusRejected, fmt.Sprintf("Auto-rejected by rule '%s'", winner.Name))
	case rules.ActionAutoApprove:
		res.decide(models.StatusReadyToPost, "")
	case rules.ActionFlagReview:
		res.flaggedBy = winner
	}
}

func ruleEvidence(rule *models.ValidatorRule) []Evidence {
	return []Evidence{
		{"rule", rule.Name},
		{"rule_id", rule.ID},
		{"condition", fmt.Sprintf("%s %s %s", rule.Field, rule.Operator, rule.Value)},
		{"action", string(rule.Action)},
	}
}

func (e *Engine) checkCurrency(in *MatchInput, res *MatchResult) {
	invoiceCurrency := models.NormalizeCurrency(in.Invoice.Currency)
	poCurrency := models.NormalizeCurrency(in.Header.Currency)

	if invoiceCurrency != poCurrency {
		msg := fmt.Sprintf("Currency Mismatch: Invoice in %s vs PO in %s", invoiceCurrency, poCurrency)
		res.add(Finding{
			Check:    CheckCurrency,
			Outcome:  OutcomeFail,
			Status:   models.StatusBlockedPrice,
			Message:  msg,
			Evidence: []Evidence{{"invoice", invoiceCurrency}, {"po", poCurrency}},
		})
		res.decide(models.StatusBlockedPrice, msg)
		return
	}

	res.add(Finding{Check: CheckCurrency, Outcome: OutcomePass, Evidence: []Evidence{{"currency", invoiceCurrency}}})
}

func (e *Engine) checkLines(in *MatchInput, res *MatchResult) {
	index := NewPOLineIndex(in.Lines)
	received := models.ReceivedByLine(in.Receipts)
	billed := make(map[int]decimal.Decimal)

	keyword := ""
	if e.closure != nil {
		keyword = e.closure.FindString(in.Invoice.RawText)
	}

	for i, item := range in.Invoice.LineItems {
		n := i + 1
		po, method := index.Associate(item, i, e.Config)
		if po == nil {
			res.add(Finding{
				Check:    CheckLineMatch,
				Outcome:  OutcomeFail,
				Line:     n,
				Status:   models.StatusAwaitingInfo,
				Message:  fmt.Sprintf("Unknown Item on line %d: '%s' matches no PO line", n, item.Description),
				Evidence: []Evidence{{"description", item.Description}},
			})
			continue
		}

		res.Associations = append(res.Associations, Association{Line: n, POLine: po.LineNumber, Method: method})
		res.add(Finding{
			Check:   CheckLineMatch,
			Outcome: OutcomePass,
			Line:    n,
			Evidence: []Evidence{
				{"po_line", fmt.Sprint(po.LineNumber)},
				{"material", po.Material},
				{"method", string(method)},
			},
		})

		e.checkPrice(in, res, n, item, po)

		cumulative := billed[po.LineNumber].Add(item.Quantity)
		billed[po.LineNumber] = cumulative
		e.checkQuantity(in, res, n, item, po, cumulative, received[po.LineNumber], keyword)
	}
}

func (e *Engine) checkPrice(in *MatchInput, res *MatchResult, n int, item models.LineItem, po *models.PurchaseOrderLine) {
	cfg := e.Config
	delta := item.UnitPrice.Sub(po.UnitPrice).Abs()
	tolerance := cfg.GetPriceTolerance(po.UnitPrice)

	evidence := []Evidence{
		{"invoiced", cfg.Format(item.UnitPrice)},
		{"po", cfg.Format(po.UnitPrice)},
		{"delta", cfg.Format(delta)},
		{"tolerance", cfg.Format(tolerance)},
	}

	if delta.LessThanOrEqual(tolerance) {
		res.add(Finding{Check: CheckPrice, Outcome: OutcomePass, Line: n, Evidence: evidence})
		return
	}

	res.Variances = append(res.Variances, Variance{Line: n, POLine: po.LineNumber, Field: models.VarianceFieldPrice, Magnitude: delta})

	if p := in.Memory.Lookup(in.Invoice.VendorName, models.VarianceFieldPrice, delta); p.Covered {
		res.add(Finding{
			Check:    CheckPrice,
			Outcome:  OutcomeOverride,
			Line:     n,
			Message:  fmt.Sprintf("variance covered by approved example %s", p.Example.ID),
			Evidence: append(evidence, Evidence{"example", p.Example.ID}, Evidence{"limit", cfg.Format(p.Limit)}),
		})
		return
	}

	currency := models.NormalizeCurrency(in.Invoice.Currency)
	res.add(Finding{
		Check:   CheckPrice,
		Outcome: OutcomeFail,
		Line:    n,
		Status:  models.StatusBlockedPrice,
		Message: fmt.Sprintf("Price Variance on line %d (%s): invoiced %s %s vs PO %s %s",
			n, lineLabel(item, po), cfg.Format(item.UnitPrice), currency, cfg.Format(po.UnitPrice), currency),
		Evidence: evidence,
	})
}

func (e *Engine) checkQuantity(in *MatchInput, res *MatchResult, n int, item models.LineItem, po *models.PurchaseOrderLine,
	cumulative, received decimal.Decimal, keyword string) {

	evidence := []Evidence{
		{"invoiced", item.Quantity.String()},
		{"billed", cumulative.String()},
		{"received", received.String()},
		{"ordered", po.OrderedQuantity.String()},
	}

	if cumulative.GreaterThan(received.Add(e.Config.QuantityTolerance)) {
		excess := cumulative.Sub(received)
		res.Variances = append(res.Variances, Variance{Line: n, POLine: po.LineNumber, Field: models.VarianceFieldQuantity, Magnitude: excess})

		if p := in.Memory.Lookup(in.Invoice.VendorName, models.VarianceFieldQuantity, excess); p.Covered {
			res.add(Finding{
				Check:    CheckQuantity,
				Outcome:  OutcomeOverride,
				Line:     n,
				Message:  fmt.Sprintf("over-billing covered by approved example %s", p.Example.ID),
				Evidence: append(evidence, Evidence{"example", p.Example.ID}, Evidence{"limit", p.Limit.String()}),
			})
			return
		}

		res.add(Finding{
			Check:   CheckQuantity,
			Outcome: OutcomeFail,
			Line:    n,
			Status:  models.StatusBlockedQty,
			Message: fmt.Sprintf("Quantity Variance on line %d (%s): invoiced %s vs received %s",
				n, lineLabel(item, po), cumulative.String(), received.String()),
			Evidence: evidence,
		})
		return
	}

	if cumulative.LessThan(po.OrderedQuantity) && keyword != "" {
		res.add(Finding{
			Check:    CheckQuantity,
			Outcome:  OutcomeFail,
			Line:     n,
			Status:   models.StatusAwaitingInfo,
			Message:  "Short delivery marked as Final Bill — review required",
			Evidence: append(evidence, Evidence{"keyword", keyword}),
		})
		return
	}

	res.add(Finding{Check: CheckQuantity, Outcome: OutcomePass, Line: n, Evidence: evidence})
}

func lineLabel(item models.LineItem, po *models.PurchaseOrderLine) string {
	if item.Description != "" {
		return item.Description
	}
	if po.Material != "" {
		return po.Material
	}
	return fmt.Sprintf("PO line %d", po.LineNumber)
}

// severity orders line-level statuses for aggregation
func severity(status models.InvoiceStatus) int {
	switch {
	case status.IsBlocked():
		return 2
	case status == models.StatusAwaitingInfo:
		return 1
	}
	return 0
}

// aggregate picks the most severe failing finding. Among equally severe
// findings the first in check order supplies the reason.
func (e *Engine) aggregate(res *MatchResult) {
	var worst *Finding
	failures := 0

	for i := range res.Findings {
		f := &res.Findings[i]
		if f.Outcome != OutcomeFail || f.Status == "" {
			continue
		}
		failures++
		if worst == nil || severity(f.Status) > severity(worst.Status) {
			worst = f
		}
	}

	if worst != nil {
		reason := worst.Message
		if failures > 1 {
			reason = fmt.Sprintf("%s (+%d more exceptions)", reason, failures-1)
		}
		res.Status = worst.Status
		res.Reason = reason
		return
	}

	if res.flaggedBy != nil {
		res.Status = models.StatusAwaitingInfo
		res.Reason = fmt.Sprintf("Flagged for review by rule '%s'", res.flaggedBy.Name)
		return
	}

	res.Status = models.StatusReadyToPost
	res.Reason = ""
}

// MaxVariance returns the largest variance observed for field, if any.
func (r *MatchResult) MaxVariance(field models.VarianceField) (decimal.Decimal, bool) {
	found := false
	max := decimal.Zero
	for _, v := range r.Variances {
		if v.Field != field {
			continue
		}
		if !found || v.Magnitude.GreaterThan(max) {
			max = v.Magnitude
			found = true
		}
	}
	return max, found
}
