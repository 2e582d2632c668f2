package reconciler

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"invoice-reconciliation-engine/internal/events"
	"invoice-reconciliation-engine/internal/lifecycle"
	"invoice-reconciliation-engine/internal/locks"
	"invoice-reconciliation-engine/internal/matcher"
	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/internal/precedent"
	"invoice-reconciliation-engine/internal/recorder"
	"invoice-reconciliation-engine/internal/reference"
	"invoice-reconciliation-engine/internal/rules"
	"invoice-reconciliation-engine/internal/store"
	"invoice-reconciliation-engine/pkg/errors"
	"invoice-reconciliation-engine/pkg/logger"
)

const systemActor = "system"

// Ingest validates an extraction record and stores it as a new invoice in
// PROCESSING.
func (s *Service) Ingest(ctx context.Context, rec *models.IngestionRecord) (*models.Invoice, error) {
	ctx, span := s.tracer.Start(ctx, "reconciler.Ingest")
	defer span.End()

	pre, err := s.preprocessor.PreprocessRecord(rec)
	if err != nil {
		return nil, s.fail(span, err)
	}

	inv := pre.Invoice
	now := s.clock()
	inv.ID = s.newID()
	inv.Status = models.StatusProcessing
	inv.CreatedAt = now
	inv.UpdatedAt = now
	if err := inv.Validate(); err != nil {
		return nil, s.fail(span, errors.ValidationError(errors.CodeInvalidField, "invoice", inv.InvoiceNumber, err))
	}

	log := s.logger.WithFields(logger.Fields{
		"invoice_id":     inv.ID,
		"invoice_number": inv.InvoiceNumber,
		"vendor":         inv.VendorName,
	})
	for _, w := range pre.Warnings {
		log.WithField("warning", w).Warn("Ingestion record has inconsistencies")
	}

	if err := s.store.CreateInvoice(ctx, inv); err != nil {
		return nil, s.fail(span, errors.DataUnavailable("store invoice", err))
	}

	span.SetAttributes(attribute.String("invoice.id", inv.ID))
	log.WithField("lines", len(inv.LineItems)).Info("Invoice ingested")
	return inv.Clone(), nil
}

// Evaluate runs the three-way match for one invoice and persists the
// decision. Read failures leave the invoice exactly as it was.
func (s *Service) Evaluate(ctx context.Context, invoiceID string) (*EvaluationResult, error) {
	ctx, span := s.tracer.Start(ctx, "reconciler.Evaluate",
		trace.WithAttributes(attribute.String("invoice.id", invoiceID)))
	defer span.End()

	release, err := s.acquire(ctx, invoiceID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	defer release()

	inv, err := s.loadInvoice(ctx, invoiceID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if err := lifecycle.Check(inv, lifecycle.ActionEvaluate); err != nil {
		return nil, s.fail(span, err)
	}

	decision, match, err := s.decide(ctx, inv)
	if err != nil {
		return nil, s.fail(span, err)
	}

	next, err := lifecycle.Apply(inv, lifecycle.ActionEvaluate, decision.Status)
	if err != nil {
		return nil, s.fail(span, err)
	}

	updated := inv.Clone()
	updated.Status = next
	updated.ExceptionReason = decision.Reason
	updated.AuditTrail = mergeTrail(inv.AuditTrail, decision.AuditTrail)
	updated.UpdatedAt = s.clock()
	if err := s.store.UpdateInvoice(ctx, updated); err != nil {
		return nil, s.fail(span, errors.DataUnavailable("save decision", err))
	}

	span.SetAttributes(attribute.String("invoice.status", string(next)))
	s.logger.WithFields(logger.Fields{
		"invoice_id": inv.ID,
		"from":       inv.Status,
		"status":     next,
		"reason":     decision.Reason,
		"findings":   len(match.Findings),
	}).Info("Invoice evaluated")

	if next.NeedsAttention() {
		s.publish(ctx, events.Event{
			Type:       events.TypeAttentionRequired,
			InvoiceID:  updated.ID,
			VendorName: updated.VendorName,
			Status:     next,
			Reason:     updated.ExceptionReason,
			Actor:      systemActor,
		})
	}

	return &EvaluationResult{
		InvoiceID:      updated.ID,
		InvoiceNumber:  updated.InvoiceNumber,
		VendorName:     updated.VendorName,
		PreviousStatus: inv.Status,
		Status:         next,
		Reason:         updated.ExceptionReason,
		AuditTrail:     updated.AuditTrail,
		Decision:       decision,
		Persisted:      true,
		match:          match,
	}, nil
}

// Preview evaluates an invoice without taking the lock or writing anything.
func (s *Service) Preview(ctx context.Context, invoiceID string) (*EvaluationResult, error) {
	ctx, span := s.tracer.Start(ctx, "reconciler.Preview",
		trace.WithAttributes(attribute.String("invoice.id", invoiceID)))
	defer span.End()

	inv, err := s.loadInvoice(ctx, invoiceID)
	if err != nil {
		return nil, s.fail(span, err)
	}

	decision, match, err := s.decide(ctx, inv)
	if err != nil {
		return nil, s.fail(span, err)
	}

	return &EvaluationResult{
		InvoiceID:      inv.ID,
		InvoiceNumber:  inv.InvoiceNumber,
		VendorName:     inv.VendorName,
		PreviousStatus: inv.Status,
		Status:         decision.Status,
		Reason:         decision.Reason,
		AuditTrail:     decision.AuditTrail,
		Decision:       decision,
		match:          match,
	}, nil
}

// decide reads the evaluation snapshot and runs the pipeline. It writes
// nothing.
func (s *Service) decide(ctx context.Context, inv *models.Invoice) (*recorder.Decision, *matcher.MatchResult, error) {
	peers, err := s.store.FindInvoicesByNumber(ctx, inv.VendorName, inv.InvoiceNumber)
	if err != nil {
		return nil, nil, errors.DataUnavailable("duplicate lookup", err)
	}
	dup := matcher.DetectDuplicate(inv, peers)
	if dup.Duplicate {
		res := dup.Result()
		return recorder.Render(res), res, nil
	}

	key, ok := reference.Normalize(inv.POReference)
	in := &matcher.MatchInput{
		Invoice: inv,
		POKey:   key,
		KeyOK:   ok,
		Prior:   []matcher.Finding{dup.Finding},
	}

	if ok {
		header, err := s.store.GetPOHeader(ctx, key)
		switch {
		case store.IsNotFound(err):
			header = nil
		case err != nil:
			return nil, nil, errors.DataUnavailable("load purchase order header", err)
		}
		in.Header = header

		if in.Lines, err = s.store.GetPOLines(ctx, key); err != nil {
			return nil, nil, errors.DataUnavailable("load purchase order lines", err)
		}
		if in.Receipts, err = s.store.GetReceipts(ctx, key); err != nil {
			return nil, nil, errors.DataUnavailable("load goods receipts", err)
		}
	}

	ruleSet, err := s.store.ListRules(ctx, true)
	if err != nil {
		return nil, nil, errors.DataUnavailable("load validator rules", err)
	}
	history, err := s.store.ListLearningExamples(ctx, inv.VendorName)
	if err != nil {
		return nil, nil, errors.DataUnavailable("load learning examples", err)
	}

	in.Rules = rules.Evaluate(ruleSet, inv)
	in.Memory = precedent.NewMemory(history)

	res := s.engine.Match(in)
	return recorder.Render(res), res, nil
}

// Post books a READY_TO_POST invoice
func (s *Service) Post(ctx context.Context, invoiceID, actor, note string) (*models.Invoice, error) {
	return s.applyAction(ctx, lifecycle.ActionPost, invoiceID, actor, note)
}

// Park sets an invoice aside
func (s *Service) Park(ctx context.Context, invoiceID, actor, note string) (*models.Invoice, error) {
	return s.applyAction(ctx, lifecycle.ActionPark, invoiceID, actor, note)
}

// Release returns a parked invoice to AWAITING_INFO
func (s *Service) Release(ctx context.Context, invoiceID, actor, note string) (*models.Invoice, error) {
	return s.applyAction(ctx, lifecycle.ActionRelease, invoiceID, actor, note)
}

// Reject closes an invoice for good. The note becomes the exception reason.
func (s *Service) Reject(ctx context.Context, invoiceID, actor, note string) (*models.Invoice, error) {
	return s.applyAction(ctx, lifecycle.ActionReject, invoiceID, actor, note)
}

// Apply dispatches a lifecycle action by name. Evaluate and train have
// their own entry points.
func (s *Service) Apply(ctx context.Context, action lifecycle.Action, req ActionRequest) (*models.Invoice, error) {
	switch action {
	case lifecycle.ActionPost:
		return s.Post(ctx, req.InvoiceID, req.Actor, req.Note)
	case lifecycle.ActionPark:
		return s.Park(ctx, req.InvoiceID, req.Actor, req.Note)
	case lifecycle.ActionRelease:
		return s.Release(ctx, req.InvoiceID, req.Actor, req.Note)
	case lifecycle.ActionReject:
		return s.Reject(ctx, req.InvoiceID, req.Actor, req.Note)
	}
	return nil, errors.ValidationError(errors.CodeInvalidField, "action", string(action), nil).
		WithSuggestion("use post, park, release or reject")
}

func (s *Service) applyAction(ctx context.Context, action lifecycle.Action, invoiceID, actor, note string) (*models.Invoice, error) {
	ctx, span := s.tracer.Start(ctx, "reconciler."+string(action),
		trace.WithAttributes(attribute.String("invoice.id", invoiceID)))
	defer span.End()

	actor = actorOrSystem(actor)
	note = strings.TrimSpace(note)
	if action == lifecycle.ActionReject && note == "" {
		return nil, s.fail(span, errors.ValidationError(errors.CodeMissingField, "note", note, nil).
			WithSuggestion("explain why the invoice is rejected"))
	}

	release, err := s.acquire(ctx, invoiceID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	defer release()

	inv, err := s.loadInvoice(ctx, invoiceID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	next, err := lifecycle.Apply(inv, action, "")
	if err != nil {
		return nil, s.fail(span, err)
	}

	updated := inv.Clone()
	updated.Status = next
	switch action {
	case lifecycle.ActionPost:
		updated.ExceptionReason = ""
	case lifecycle.ActionReject:
		updated.ExceptionReason = note
	case lifecycle.ActionPark:
		if updated.ExceptionReason == "" {
			updated.ExceptionReason = firstNonEmpty(note, "Parked by "+actor)
		}
	case lifecycle.ActionRelease:
		if note != "" {
			updated.ExceptionReason = note
		} else if updated.ExceptionReason == "" {
			updated.ExceptionReason = "Released by " + actor + " for review"
		}
	}
	updated.AppendAudit(recorder.LifecycleEntry(string(action), actor, inv.Status, next, note))
	updated.UpdatedAt = s.clock()

	if err := s.store.UpdateInvoice(ctx, updated); err != nil {
		return nil, s.fail(span, errors.DataUnavailable("save "+string(action), err))
	}

	s.logger.WithFields(logger.Fields{
		"invoice_id": updated.ID,
		"action":     action,
		"actor":      actor,
		"from":       inv.Status,
		"status":     next,
	}).Info("Lifecycle action applied")

	if next.NeedsAttention() {
		s.publish(ctx, events.Event{
			Type:       events.TypeAttentionRequired,
			InvoiceID:  updated.ID,
			VendorName: updated.VendorName,
			Status:     next,
			Reason:     updated.ExceptionReason,
			Actor:      actor,
		})
	}

	return updated, nil
}

// Train records how an invoice should have been decided. The variance is
// taken from a dry-run evaluation unless the request carries one. Training
// never changes the invoice status.
func (s *Service) Train(ctx context.Context, req TrainRequest) (*TrainResult, error) {
	ctx, span := s.tracer.Start(ctx, "reconciler.Train",
		trace.WithAttributes(attribute.String("invoice.id", req.InvoiceID)))
	defer span.End()

	if strings.TrimSpace(req.InvoiceID) == "" {
		return nil, s.fail(span, errors.ValidationError(errors.CodeMissingField, "invoice_id", req.InvoiceID, nil))
	}
	if strings.TrimSpace(req.Rationale) == "" {
		return nil, s.fail(span, errors.ValidationError(errors.CodeMissingField, "rationale", req.Rationale, nil).
			WithSuggestion("describe why the variance is acceptable"))
	}
	expected := req.ExpectedStatus
	if expected == "" {
		expected = models.StatusReadyToPost
	}
	field := req.Field.OrDefault()
	if !field.IsValid() {
		return nil, s.fail(span, errors.ValidationError(errors.CodeInvalidField, "field", string(req.Field), nil).
			WithSuggestion("use price or quantity"))
	}
	actor := actorOrSystem(req.Actor)

	release, err := s.acquire(ctx, req.InvoiceID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	defer release()

	inv, err := s.loadInvoice(ctx, req.InvoiceID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if err := lifecycle.Check(inv, lifecycle.ActionTrain); err != nil {
		return nil, s.fail(span, err)
	}

	variance := req.Variance
	if !variance.Valid {
		_, match, err := s.decide(ctx, inv)
		if err != nil {
			return nil, s.fail(span, err)
		}
		if v, ok := match.MaxVariance(field); ok {
			variance = decimal.NewNullDecimal(v)
		}
	}

	example := &models.LearningExample{
		ID:             s.newID(),
		InvoiceID:      inv.ID,
		VendorName:     inv.VendorName,
		Scenario:       firstNonEmpty(strings.TrimSpace(req.Scenario), inv.ExceptionReason, fmt.Sprintf("Invoice %s", inv.InvoiceNumber)),
		Rationale:      strings.TrimSpace(req.Rationale),
		ExpectedStatus: expected,
		Field:          field,
		Variance:       variance,
		CreatedAt:      s.clock(),
	}
	if err := example.Validate(); err != nil {
		return nil, s.fail(span, errors.ValidationError(errors.CodeInvalidField, "learning_example", example.Rationale, err))
	}
	if err := s.store.AddLearningExample(ctx, example); err != nil {
		return nil, s.fail(span, errors.DataUnavailable("store learning example", err))
	}

	result := &TrainResult{Example: example}
	if req.CreateRule {
		name := strings.TrimSpace(req.RuleName)
		if name == "" {
			name = fmt.Sprintf(s.config.AutoRuleNameFormat, inv.VendorName)
		}
		rule, err := s.CreateRule(ctx, &models.ValidatorRule{
			Name:     name,
			Field:    models.FieldVendorName,
			Operator: models.OperatorEquals,
			Value:    inv.VendorName,
			Action:   models.ActionAutoApprove,
			Active:   true,
		})
		if err != nil {
			return nil, s.fail(span, err)
		}
		result.Rule = rule
	}

	updated := inv.Clone()
	updated.AppendAudit(recorder.LifecycleEntry(string(lifecycle.ActionTrain), actor, inv.Status, inv.Status, example.Rationale))
	updated.UpdatedAt = s.clock()
	if err := s.store.UpdateInvoice(ctx, updated); err != nil {
		s.logger.WithError(err).WithField("invoice_id", inv.ID).Warn("Failed to record training in audit trail")
	}

	log := s.logger.WithFields(logger.Fields{
		"invoice_id": inv.ID,
		"example_id": example.ID,
		"vendor":     inv.VendorName,
		"field":      field,
	})
	if variance.Valid {
		log = log.WithField("variance", variance.Decimal.String())
	}
	log.Info("Learning example recorded")

	s.publish(ctx, events.Event{
		Type:       events.TypeLearningCreated,
		InvoiceID:  inv.ID,
		VendorName: inv.VendorName,
		Status:     expected,
		ExampleID:  example.ID,
		Actor:      actor,
	})

	return result, nil
}

// CreateRule validates and stores a validator rule. Rules are evaluated in
// creation order.
func (s *Service) CreateRule(ctx context.Context, rule *models.ValidatorRule) (*models.ValidatorRule, error) {
	if rule == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "rule", nil, nil)
	}
	r := *rule
	r.Name = strings.TrimSpace(r.Name)
	if r.ID == "" {
		r.ID = s.newID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.clock()
	}
	if err := r.Validate(); err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidField, "rule", r.Name, err)
	}
	if err := s.store.CreateRule(ctx, &r); err != nil {
		return nil, errors.DataUnavailable("store rule", err)
	}

	s.logger.WithFields(logger.Fields{
		"rule_id": r.ID,
		"rule":    r.String(),
	}).Info("Validator rule created")

	s.publish(ctx, events.Event{
		Type:   events.TypeRuleCreated,
		RuleID: r.ID,
		Actor:  systemActor,
	})
	return &r, nil
}

// SetRuleActive enables or disables a rule
func (s *Service) SetRuleActive(ctx context.Context, ruleID string, active bool) (*models.ValidatorRule, error) {
	if err := s.store.SetRuleActive(ctx, ruleID, active); err != nil {
		if store.IsNotFound(err) {
			return nil, errors.NotFound("rule", ruleID)
		}
		return nil, errors.DataUnavailable("update rule", err)
	}
	rule, err := s.store.GetRule(ctx, ruleID)
	if err != nil {
		return nil, errors.DataUnavailable("load rule", err)
	}
	s.logger.WithFields(logger.Fields{"rule_id": ruleID, "active": active}).Info("Validator rule updated")
	return rule, nil
}

// ListRules returns the rules in evaluation order
func (s *Service) ListRules(ctx context.Context, activeOnly bool) ([]*models.ValidatorRule, error) {
	ruleSet, err := s.store.ListRules(ctx, activeOnly)
	if err != nil {
		return nil, errors.DataUnavailable("list rules", err)
	}
	return ruleSet, nil
}

// GetInvoice returns one invoice
func (s *Service) GetInvoice(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	return s.loadInvoice(ctx, invoiceID)
}

// ListInvoices returns invoices matching filter
func (s *Service) ListInvoices(ctx context.Context, filter store.InvoiceFilter) ([]*models.Invoice, error) {
	invoices, err := s.store.ListInvoices(ctx, filter)
	if err != nil {
		return nil, errors.DataUnavailable("list invoices", err)
	}
	return invoices, nil
}

// ReferenceData is a purchase order snapshot to load
type ReferenceData struct {
	Headers  []*models.PurchaseOrderHeader
	Lines    []*models.PurchaseOrderLine
	Receipts []*models.GoodsReceipt
}

// LoadReference validates and stores purchase order data. PO numbers are
// normalized to the key evaluation looks up. Headers and lines are upserted;
// receipts are appended.
func (s *Service) LoadReference(ctx context.Context, data ReferenceData) error {
	if err := normalizePONumbers(data); err != nil {
		return err
	}
	for _, h := range data.Headers {
		if err := h.Validate(); err != nil {
			return errors.ValidationError(errors.CodeInvalidField, "po_header", h.PONumber, err)
		}
	}
	for _, l := range data.Lines {
		if err := l.Validate(); err != nil {
			return errors.ValidationError(errors.CodeInvalidField, "po_line", fmt.Sprintf("%s/%d", l.PONumber, l.LineNumber), err)
		}
	}
	for _, r := range data.Receipts {
		if err := r.Validate(); err != nil {
			return errors.ValidationError(errors.CodeInvalidField, "goods_receipt", fmt.Sprintf("%s/%d", r.PONumber, r.LineNumber), err)
		}
	}

	if len(data.Headers) > 0 {
		if err := s.store.SavePOHeaders(ctx, data.Headers); err != nil {
			return errors.DataUnavailable("save purchase order headers", err)
		}
	}
	if len(data.Lines) > 0 {
		if err := s.store.SavePOLines(ctx, data.Lines); err != nil {
			return errors.DataUnavailable("save purchase order lines", err)
		}
	}
	if len(data.Receipts) > 0 {
		if err := s.store.AddReceipts(ctx, data.Receipts); err != nil {
			return errors.DataUnavailable("save goods receipts", err)
		}
	}

	s.logger.WithFields(logger.Fields{
		"headers":  len(data.Headers),
		"lines":    len(data.Lines),
		"receipts": len(data.Receipts),
	}).Info("Reference data loaded")
	return nil
}

func normalizePONumbers(data ReferenceData) error {
	normalize := func(po *string) error {
		key, ok := reference.Normalize(*po)
		if !ok {
			return errors.ReferenceError(errors.CodeMalformedReference, *po).
				WithSuggestion("Purchase order numbers must be alphanumeric, e.g. 4500001001")
		}
		*po = key
		return nil
	}

	for _, h := range data.Headers {
		if err := normalize(&h.PONumber); err != nil {
			return err
		}
	}
	for _, l := range data.Lines {
		if err := normalize(&l.PONumber); err != nil {
			return err
		}
	}
	for _, r := range data.Receipts {
		if err := normalize(&r.PONumber); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) acquire(ctx context.Context, invoiceID string) (func(), error) {
	release, err := s.locker.Acquire(ctx, invoiceID)
	if err == nil {
		return release, nil
	}
	if locks.IsHeld(err) {
		return nil, errors.LifecycleError(errors.CodeEvaluationInFlight, invoiceID, "", string(lifecycle.ActionEvaluate))
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, errors.NetworkError(errors.CodeServiceUnavailable, "invoice lock", err)
}

func (s *Service) loadInvoice(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	inv, err := s.store.GetInvoice(ctx, invoiceID)
	if store.IsNotFound(err) {
		return nil, errors.NotFound("invoice", invoiceID)
	}
	if err != nil {
		return nil, errors.DataUnavailable("load invoice", err)
	}
	return inv, nil
}

// publish delivers an event; delivery failures never undo the decision.
func (s *Service) publish(ctx context.Context, event events.Event) {
	event.ID = s.newID()
	event.OccurredAt = s.clock()
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WithError(err).WithFields(logger.Fields{
			"event_type": event.Type,
			"invoice_id": event.InvoiceID,
		}).Warn("Failed to publish event")
	}
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// mergeTrail keeps the lifecycle history of an invoice and replaces the
// previous evaluation with the new one.
func mergeTrail(existing, decision string) string {
	prefix := "[" + recorder.LabelLifecycle + "]"
	var kept []string
	for _, line := range strings.Split(existing, "\n") {
		if strings.HasPrefix(line, prefix) {
			kept = append(kept, line)
		}
	}
	return strings.Join(append(kept, decision), "\n")
}

func actorOrSystem(actor string) string {
	if actor = strings.TrimSpace(actor); actor != "" {
		return actor
	}
	return systemActor
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
