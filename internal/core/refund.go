package core

import (
	"fmt"
	"sort"
	"time"
)

// DeletedCollectionReason is the reason recorded on refunds created when a
// collection is deleted.
func DeletedCollectionReason(title string) string {
	return "Deleted collection: " + title
}

// DeleteCollection removes the collection and turns every positive payment
// into a refund dated now. Participants come first in participant order,
// followed by any other payers sorted by id. Zero and negative payments are
// dropped.
func (d *Document) DeleteCollection(id string, now time.Time, newID func() string) ([]Refund, error) {
	i := d.collectionIndex(id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, id)
	}
	c := d.Collections[i]

	refunds := make([]Refund, 0, len(c.Payments))
	for _, studentID := range payerOrder(c) {
		amount := c.Payments[studentID]
		if !amount.IsPositive() {
			continue
		}
		refunds = append(refunds, Refund{
			ID:        newID(),
			StudentID: studentID,
			Amount:    amount,
			Reason:    DeletedCollectionReason(c.Title),
			Date:      now,
		})
	}

	d.Refunds = append(d.Refunds, refunds...)
	d.Collections = append(d.Collections[:i:i], d.Collections[i+1:]...)
	return refunds, nil
}

func payerOrder(c Collection) []string {
	order := make([]string, 0, len(c.Payments))
	seen := make(map[string]struct{}, len(c.Payments))
	for _, id := range c.ParticipantIDs {
		if _, ok := c.Payments[id]; ok {
			order = append(order, id)
			seen[id] = struct{}{}
		}
	}
	var rest []string
	for id := range c.Payments {
		if _, ok := seen[id]; !ok {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	return append(order, rest...)
}

// SettleRefunds drops every refund record of the student and returns how
// many were removed. Live overpayment in collections is not affected.
func (d *Document) SettleRefunds(studentID string) int {
	kept := make([]Refund, 0, len(d.Refunds))
	for _, r := range d.Refunds {
		if r.StudentID != studentID {
			kept = append(kept, r)
		}
	}
	removed := len(d.Refunds) - len(kept)
	d.Refunds = kept
	return removed
}

// RemoveRefund drops exactly one refund record.
func (d *Document) RemoveRefund(id string) (Refund, error) {
	for i, r := range d.Refunds {
		if r.ID == id {
			d.Refunds = append(d.Refunds[:i:i], d.Refunds[i+1:]...)
			return r, nil
		}
	}
	return Refund{}, fmt.Errorf("%w: %s", ErrRefundNotFound, id)
}
