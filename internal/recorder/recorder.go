// Package recorder turns match findings into the persisted decision: a
// status, a one-line exception reason and a replayable audit trail.
//
// The trail has one line per step in execution order:
//
//	[EXISTENCE_CHECK] PASS po=4500001001 lines=1 receipts=1
//	[PRICE_CHECK] FAIL line=1 invoiced=110.00 po=100.00 delta=10.00 tolerance=0.00
//	[DECISION] BLOCKED_PRICE reason="Price Variance on line 1 (Widget): ..."
//
// Rendering uses no clock and no map iteration, so the same findings always
// produce the same bytes.
package recorder

import (
	"encoding/json"
	"fmt"
	"strings"

	"invoice-reconciliation-engine/internal/matcher"
	"invoice-reconciliation-engine/internal/models"
)

// LabelPrecedent marks the exception memory step that follows an override
const LabelPrecedent = "PRECEDENT"

// LabelDecision closes every rendered trail
const LabelDecision = "DECISION"

// LabelLifecycle marks a human lifecycle action in the trail
const LabelLifecycle = "LIFECYCLE"

// Step is one labeled line of the audit trail
type Step struct {
	Label    string             `json:"label"`
	Outcome  matcher.Outcome    `json:"outcome"`
	Line     int                `json:"line,omitempty"`
	Message  string             `json:"message,omitempty"`
	Evidence []matcher.Evidence `json:"evidence,omitempty"`
}

// Decision is the rendered result of one evaluation
type Decision struct {
	Status     models.InvoiceStatus `json:"status"`
	Reason     string               `json:"reason,omitempty"`
	AuditTrail string               `json:"audit_trail"`
	Steps      []Step               `json:"steps"`
}

// Render converts a match result into a decision.
func Render(res *matcher.MatchResult) *Decision {
	d := &Decision{
		Status: res.Status,
		Reason: res.Reason,
	}

	if d.Status != models.StatusReadyToPost && d.Status != models.StatusPosted && strings.TrimSpace(d.Reason) == "" {
		d.Reason = fmt.Sprintf("%s without a recorded exception", d.Status)
	}
	if d.Status == models.StatusReadyToPost {
		d.Reason = ""
	}

	for _, f := range res.Findings {
		d.Steps = append(d.Steps, Step{
			Label:    string(f.Check),
			Outcome:  f.Outcome,
			Line:     f.Line,
			Message:  f.Message,
			Evidence: f.Evidence,
		})
		if f.Outcome == matcher.OutcomeOverride {
			if step, ok := precedentStep(f); ok {
				d.Steps = append(d.Steps, step)
			}
		}
	}

	lines := make([]string, 0, len(d.Steps)+1)
	for _, s := range d.Steps {
		lines = append(lines, s.String())
	}
	lines = append(lines, decisionLine(d.Status, d.Reason))
	d.AuditTrail = strings.Join(lines, "\n")

	return d
}

// precedentStep surfaces the learning example behind a variance override
func precedentStep(f matcher.Finding) (Step, bool) {
	var example, limit string
	for _, e := range f.Evidence {
		switch e.Key {
		case "example":
			example = e.Value
		case "limit":
			limit = e.Value
		}
	}
	if example == "" {
		return Step{}, false
	}

	field := models.VarianceFieldPrice
	if f.Check == matcher.CheckQuantity {
		field = models.VarianceFieldQuantity
	}

	return Step{
		Label:   LabelPrecedent,
		Outcome: matcher.OutcomeOverride,
		Line:    f.Line,
		Evidence: []matcher.Evidence{
			{Key: "example", Value: example},
			{Key: "field", Value: string(field)},
			{Key: "limit", Value: limit},
		},
	}, true
}

// String renders the step as a trail line.
func (s Step) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", s.Label, s.Outcome)
	if s.Line > 0 {
		fmt.Fprintf(&b, " line=%d", s.Line)
	}
	for _, e := range s.Evidence {
		fmt.Fprintf(&b, " %s=%s", e.Key, quote(e.Value))
	}
	if s.Message != "" {
		fmt.Fprintf(&b, " msg=%s", quote(s.Message))
	}
	return b.String()
}

func decisionLine(status models.InvoiceStatus, reason string) string {
	if reason == "" {
		return fmt.Sprintf("[%s] %s", LabelDecision, status)
	}
	return fmt.Sprintf("[%s] %s reason=%s", LabelDecision, status, quote(reason))
}

// quote leaves simple tokens bare and quotes anything with spaces or quotes.
func quote(v string) string {
	if v == "" || strings.ContainsAny(v, " \t\n\"=") {
		return fmt.Sprintf("%q", v)
	}
	return v
}

// JSON returns the structured form of the decision.
func (d *Decision) JSON() ([]byte, error) {
	return json.Marshal(d)
}

// LifecycleEntry renders a human action for the audit trail.
func LifecycleEntry(action string, actor string, from, to models.InvoiceStatus, note string) string {
	step := Step{
		Label:   LabelLifecycle,
		Outcome: matcher.OutcomeNote,
		Evidence: []matcher.Evidence{
			{Key: "action", Value: action},
			{Key: "actor", Value: actor},
			{Key: "from", Value: string(from)},
			{Key: "to", Value: string(to)},
		},
		Message: note,
	}
	return step.String()
}
