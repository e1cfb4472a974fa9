package core

import "sort"

// StudentStats is the balance of one student across the whole ledger.
type StudentStats struct {
	StudentID string
	FullName  string
	// TotalPaid counts payments in every collection, including ones the
	// student no longer participates in.
	TotalPaid     Money
	TotalRequired Money
	// Balance is positive when the student paid more than required.
	Balance           Money
	ActiveOverpayment Money
	PendingRefunds    Money
	TotalToRefund     Money
}

// Aggregate holds the ledger-wide totals.
type Aggregate struct {
	TotalCollected  Money
	TotalRefundable Money
}

// Stats computes one row per current student, sorted by TotalToRefund
// descending. Students with equal amounts keep register order.
func (d Document) Stats() []StudentStats {
	pending := make(map[string]Money, len(d.Refunds))
	for _, r := range d.Refunds {
		pending[r.StudentID] = pending[r.StudentID].Add(r.Amount)
	}

	rows := make([]StudentStats, 0, len(d.Students))
	for _, s := range d.Students {
		rows = append(rows, d.studentStats(s, pending[s.ID]))
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].TotalToRefund.Cmp(rows[j].TotalToRefund) > 0
	})
	return rows
}

func (d Document) studentStats(s Student, pending Money) StudentStats {
	paid, required := Zero, Zero
	for _, c := range d.Collections {
		if c.HasParticipant(s.ID) {
			required = required.Add(c.PerStudentAmount)
		}
		paid = paid.Add(c.Payment(s.ID))
	}
	balance := paid.Sub(required)
	over := balance.NonNegative()
	return StudentStats{
		StudentID:         s.ID,
		FullName:          s.FullName(),
		TotalPaid:         paid,
		TotalRequired:     required,
		Balance:           balance,
		ActiveOverpayment: over,
		PendingRefunds:    pending,
		TotalToRefund:     over.Add(pending),
	}
}

// Aggregate sums collected money over all collections and refundable money
// over the given stats rows.
func (d Document) Aggregate(stats []StudentStats) Aggregate {
	var agg Aggregate
	for _, c := range d.Collections {
		agg.TotalCollected = agg.TotalCollected.Add(c.Collected())
	}
	for _, s := range stats {
		agg.TotalRefundable = agg.TotalRefundable.Add(s.TotalToRefund)
	}
	return agg
}

// RefundsDue keeps the rows that still have money to give back.
func RefundsDue(stats []StudentStats) []StudentStats {
	out := make([]StudentStats, 0, len(stats))
	for _, s := range stats {
		if s.TotalToRefund.IsPositive() {
			out = append(out, s)
		}
	}
	return out
}
