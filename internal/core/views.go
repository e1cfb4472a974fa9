package core

// DeletedStudentName stands in for a student id that no longer resolves.
const DeletedStudentName = "(deleted)"

// NoDeadline labels a collection without an end date.
const NoDeadline = "no deadline"

// StudentName resolves an id to a display name, falling back to the
// placeholder for students that were removed.
func (d Document) StudentName(id string) string {
	if s, ok := d.FindStudent(id); ok {
		return s.FullName()
	}
	return DeletedStudentName
}

// RefundEntry is a refund record with its student resolved for display.
type RefundEntry struct {
	Refund
	StudentName string
	// StudentKnown is false when the student has been deleted.
	StudentKnown bool
}

// RefundHistory lists the refund log in insertion order.
func (d Document) RefundHistory() []RefundEntry {
	out := make([]RefundEntry, 0, len(d.Refunds))
	for _, r := range d.Refunds {
		_, known := d.FindStudent(r.StudentID)
		out = append(out, RefundEntry{
			Refund:       r,
			StudentName:  d.StudentName(r.StudentID),
			StudentKnown: known,
		})
	}
	return out
}

// PaymentLine is one participant's position within a collection.
type PaymentLine struct {
	StudentID   string
	StudentName string
	Paid        Money
	// Full is true when the payment equals the per-student amount.
	Full bool
}

// CollectionSummary is a collection with its derived figures.
type CollectionSummary struct {
	Collection
	Collected     Money
	Remaining     Money
	Progress      float64
	DeadlineLabel string
	Lines         []PaymentLine
}

// CollectionSummaries returns every collection with its derived figures.
// Payment lines follow register order and cover current participants only.
func (d Document) CollectionSummaries() []CollectionSummary {
	out := make([]CollectionSummary, 0, len(d.Collections))
	for _, c := range d.Collections {
		label := NoDeadline
		if !c.EndDate.IsEmpty() {
			label = c.EndDate.String()
		}
		var lines []PaymentLine
		for _, s := range d.Students {
			if !c.HasParticipant(s.ID) {
				continue
			}
			paid := c.Payment(s.ID)
			lines = append(lines, PaymentLine{
				StudentID:   s.ID,
				StudentName: s.FullName(),
				Paid:        paid,
				Full:        paid.Equal(c.PerStudentAmount),
			})
		}
		out = append(out, CollectionSummary{
			Collection:    c,
			Collected:     c.Collected(),
			Remaining:     c.Remaining(),
			Progress:      c.Progress(),
			DeadlineLabel: label,
			Lines:         lines,
		})
	}
	return out
}
