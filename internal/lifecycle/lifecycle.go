// Package lifecycle governs the legal status transitions of an invoice.
package lifecycle

import (
	"fmt"

	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/pkg/errors"
)

// Action is something that moves an invoice between statuses
type Action string

const (
	ActionEvaluate Action = "evaluate"
	ActionPost     Action = "post"
	ActionPark     Action = "park"
	ActionRelease  Action = "release"
	ActionReject   Action = "reject"
	ActionTrain    Action = "train"
)

// AllActions lists the supported actions
var AllActions = []Action{ActionEvaluate, ActionPost, ActionPark, ActionRelease, ActionReject, ActionTrain}

// engineOutcomes are the statuses an evaluation may produce
var engineOutcomes = map[models.InvoiceStatus]bool{
	models.StatusReadyToPost:      true,
	models.StatusBlockedPrice:     true,
	models.StatusBlockedQty:       true,
	models.StatusBlockedData:      true,
	models.StatusBlockedDuplicate: true,
	models.StatusAwaitingInfo:     true,
	models.StatusRejected:         true,
}

// ParseAction converts a string into an Action
func ParseAction(s string) (Action, error) {
	for _, a := range AllActions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown lifecycle action '%s'", s)
}

// Allowed reports whether action may be applied to an invoice in status from.
func Allowed(from models.InvoiceStatus, action Action) bool {
	switch action {
	case ActionEvaluate:
		return !from.IsTerminal() && from != models.StatusParked
	case ActionPost:
		return from == models.StatusReadyToPost
	case ActionPark:
		return !from.IsTerminal() && from != models.StatusParked
	case ActionRelease:
		return from == models.StatusParked
	case ActionReject:
		return !from.IsTerminal()
	case ActionTrain:
		return true
	}
	return false
}

// Transition returns the status that results from applying action. For
// evaluate, target is the engine outcome; other actions ignore target.
func Transition(from models.InvoiceStatus, action Action, target models.InvoiceStatus) (models.InvoiceStatus, error) {
	return transition("", from, action, target)
}

// Apply is Transition for a specific invoice; errors name the invoice.
func Apply(inv *models.Invoice, action Action, target models.InvoiceStatus) (models.InvoiceStatus, error) {
	return transition(inv.ID, inv.Status, action, target)
}

// Check returns the error Apply would return for action without computing
// the resulting status.
func Check(inv *models.Invoice, action Action) error {
	if Allowed(inv.Status, action) {
		return nil
	}
	_, err := transition(inv.ID, inv.Status, action, "")
	return err
}

func transition(id string, from models.InvoiceStatus, action Action, target models.InvoiceStatus) (models.InvoiceStatus, error) {
	if !Allowed(from, action) {
		code := errors.CodeIllegalTransition
		if from.IsTerminal() {
			code = errors.CodeTerminalInvoice
		}
		return from, errors.LifecycleError(code, id, string(from), string(action))
	}

	switch action {
	case ActionEvaluate:
		if !engineOutcomes[target] {
			return from, errors.New(errors.CategoryInternal, errors.CodeUnexpectedError,
				fmt.Sprintf("evaluation cannot produce status '%s'", target))
		}
		return target, nil
	case ActionPost:
		return models.StatusPosted, nil
	case ActionPark:
		return models.StatusParked, nil
	case ActionRelease:
		return models.StatusAwaitingInfo, nil
	case ActionReject:
		return models.StatusRejected, nil
	}
	// train
	return from, nil
}
