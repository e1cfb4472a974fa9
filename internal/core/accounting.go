package core

import (
	"fmt"
	"strings"
)

// CollectionInput is the form data for creating or editing a collection.
// Amount is interpreted according to Mode; an empty Mode means PerStudent.
type CollectionInput struct {
	Title          string
	Mode           InputMode
	Amount         Money
	ParticipantIDs []string
	StartDate      Date
	EndDate        Date
}

// amounts derives (perStudent, total) from the input.
func (in CollectionInput) amounts() (Money, Money) {
	n := len(in.ParticipantIDs)
	if in.Mode == Total {
		return in.Amount.Div(n), in.Amount
	}
	return in.Amount, in.Amount.Mul(n)
}

func (in *CollectionInput) validate() error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return invalid("title", ErrEmptyTitle)
	}
	if in.Mode == "" {
		in.Mode = PerStudent
	}
	if !in.Mode.IsValid() {
		return invalid("mode", fmt.Errorf("%w: %q", ErrInvalidMode, in.Mode))
	}
	if !in.Amount.IsPositive() {
		return invalid("amount", fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount))
	}
	if len(in.ParticipantIDs) == 0 {
		return invalid("participantIds", ErrNoParticipants)
	}
	seen := make(map[string]struct{}, len(in.ParticipantIDs))
	for _, id := range in.ParticipantIDs {
		if _, dup := seen[id]; dup {
			return invalid("participantIds", fmt.Errorf("%w: %s", ErrDuplicateParticipant, id))
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Collected is the sum of every recorded payment, participant or not.
func (c Collection) Collected() Money {
	sum := Zero
	for _, v := range c.Payments {
		sum = sum.Add(v)
	}
	return sum
}

// Progress is the percentage collected, capped at 100. A zero total gives 0.
func (c Collection) Progress() float64 {
	if c.TotalAmount.IsZero() {
		return 0
	}
	p := c.Collected().Float64() / c.TotalAmount.Float64() * 100
	if p > 100 {
		return 100
	}
	return p
}

// Remaining is what is still missing to reach the target; never negative.
func (c Collection) Remaining() Money {
	return c.TotalAmount.Sub(c.Collected()).NonNegative()
}

// AddCollection validates the input, derives both amounts and appends the
// collection with no payments.
func (d *Document) AddCollection(id string, in CollectionInput) (Collection, error) {
	if err := in.validate(); err != nil {
		return Collection{}, err
	}
	per, total := in.amounts()
	c := Collection{
		ID:               id,
		Title:            in.Title,
		TotalAmount:      total,
		PerStudentAmount: per,
		StartDate:        in.StartDate,
		EndDate:          in.EndDate,
		ParticipantIDs:   append([]string{}, in.ParticipantIDs...),
		Payments:         map[string]Money{},
	}
	d.Collections = append(d.Collections, c)
	return c, nil
}

// EditCollection replaces the descriptive fields and re-derives the amounts.
// Recorded payments are kept, including those of removed participants.
func (d *Document) EditCollection(id string, in CollectionInput) (Collection, error) {
	i := d.collectionIndex(id)
	if i < 0 {
		return Collection{}, fmt.Errorf("%w: %s", ErrCollectionNotFound, id)
	}
	if err := in.validate(); err != nil {
		return Collection{}, err
	}
	per, total := in.amounts()
	c := d.Collections[i]
	c.Title = in.Title
	c.TotalAmount = total
	c.PerStudentAmount = per
	c.StartDate = in.StartDate
	c.EndDate = in.EndDate
	c.ParticipantIDs = append([]string{}, in.ParticipantIDs...)
	if c.Payments == nil {
		c.Payments = map[string]Money{}
	}
	d.Collections[i] = c
	return c, nil
}

// SetPayment overwrites the amount recorded for studentID. Any value is
// stored as given, including negatives and non-participants; the totals of
// the collection are not touched.
func (d *Document) SetPayment(collectionID, studentID string, value Money) (Collection, error) {
	i := d.collectionIndex(collectionID)
	if i < 0 {
		return Collection{}, fmt.Errorf("%w: %s", ErrCollectionNotFound, collectionID)
	}
	c := d.Collections[i]
	payments := make(map[string]Money, len(c.Payments)+1)
	for k, v := range c.Payments {
		payments[k] = v
	}
	payments[studentID] = value
	c.Payments = payments
	d.Collections[i] = c
	return c, nil
}

// MarkPaidInFull records the per-student amount as the student's payment.
func (d *Document) MarkPaidInFull(collectionID, studentID string) (Collection, error) {
	c, ok := d.FindCollection(collectionID)
	if !ok {
		return Collection{}, fmt.Errorf("%w: %s", ErrCollectionNotFound, collectionID)
	}
	return d.SetPayment(collectionID, studentID, c.PerStudentAmount)
}
