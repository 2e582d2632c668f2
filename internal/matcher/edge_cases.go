package matcher

import (
	"fmt"
	"sort"

	"invoice-reconciliation-engine/internal/models"
)

// DuplicateResult is the outcome of duplicate detection for one invoice
type DuplicateResult struct {
	Duplicate bool
	Original  *models.Invoice
	Finding   Finding
}

// DetectDuplicate looks for an earlier invoice from the same vendor with the
// same invoice number that is already posted or ready to post. Peers are the
// invoices the store returned for that vendor and number; the invoice itself
// may be among them. When several duplicates exist the oldest is cited.
func DetectDuplicate(inv *models.Invoice, peers []*models.Invoice) DuplicateResult {
	number := models.NormalizeText(inv.InvoiceNumber)
	if number == "" {
		return DuplicateResult{Finding: Finding{
			Check:   CheckDuplicate,
			Outcome: OutcomeNote,
			Message: "no invoice number to compare",
		}}
	}

	var originals []*models.Invoice
	for _, peer := range peers {
		if peer == nil || peer.ID == inv.ID {
			continue
		}
		if !models.SameVendor(peer.VendorName, inv.VendorName) {
			continue
		}
		if models.NormalizeText(peer.InvoiceNumber) != number {
			continue
		}
		if peer.Status != models.StatusPosted && peer.Status != models.StatusReadyToPost {
			continue
		}
		originals = append(originals, peer)
	}

	if len(originals) == 0 {
		return DuplicateResult{Finding: Finding{
			Check:    CheckDuplicate,
			Outcome:  OutcomePass,
			Evidence: []Evidence{{"invoice_number", inv.InvoiceNumber}},
		}}
	}

	sort.SliceStable(originals, func(i, j int) bool {
		if !originals[i].CreatedAt.Equal(originals[j].CreatedAt) {
			return originals[i].CreatedAt.Before(originals[j].CreatedAt)
		}
		return originals[i].ID < originals[j].ID
	})
	original := originals[0]

	return DuplicateResult{
		Duplicate: true,
		Original:  original,
		Finding: Finding{
			Check:   CheckDuplicate,
			Outcome: OutcomeFail,
			Status:  models.StatusBlockedDuplicate,
			Message: fmt.Sprintf("Duplicate Invoice: %s from %s already %s as %s",
				inv.InvoiceNumber, inv.VendorName, describeStatus(original.Status), original.ID),
			Evidence: []Evidence{
				{"invoice_number", inv.InvoiceNumber},
				{"original", original.ID},
				{"original_status", string(original.Status)},
			},
		},
	}
}

// Result converts a positive duplicate detection into a terminal match result.
func (d DuplicateResult) Result() *MatchResult {
	res := &MatchResult{Findings: []Finding{d.Finding}}
	if d.Duplicate {
		res.decide(models.StatusBlockedDuplicate, d.Finding.Message)
	}
	return res
}

func describeStatus(status models.InvoiceStatus) string {
	if status == models.StatusPosted {
		return "posted"
	}
	return "ready to post"
}
