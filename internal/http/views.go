package http

import (
	"time"

	"skarbnik/internal/core"
)

// JSON shapes of the derived views. Amounts are JSON numbers.

type studentStatsView struct {
	StudentID         string     `json:"studentId"`
	FullName          string     `json:"fullName"`
	TotalPaid         core.Money `json:"totalPaid"`
	TotalRequired     core.Money `json:"totalRequired"`
	Balance           core.Money `json:"balance"`
	ActiveOverpayment core.Money `json:"activeOverpayment"`
	PendingRefunds    core.Money `json:"pendingRefunds"`
	TotalToRefund     core.Money `json:"totalToRefund"`
}

type aggregateView struct {
	TotalCollected  core.Money `json:"totalCollected"`
	TotalRefundable core.Money `json:"totalRefundable"`
}

type statsView struct {
	Students  []studentStatsView `json:"students"`
	Aggregate aggregateView      `json:"aggregate"`
}

type refundView struct {
	ID           string     `json:"id"`
	StudentID    string     `json:"studentId"`
	StudentName  string     `json:"studentName"`
	StudentKnown bool       `json:"studentKnown"`
	Amount       core.Money `json:"amount"`
	Reason       string     `json:"reason"`
	Date         time.Time  `json:"date"`
}

type refundsView struct {
	Due     []studentStatsView `json:"due"`
	History []refundView       `json:"history"`
}

type paymentLineView struct {
	StudentID   string     `json:"studentId"`
	StudentName string     `json:"studentName"`
	Paid        core.Money `json:"paid"`
	Full        bool       `json:"full"`
}

type collectionSummaryView struct {
	core.Collection
	Collected     core.Money        `json:"collected"`
	Remaining     core.Money        `json:"remaining"`
	Progress      float64           `json:"progress"`
	DeadlineLabel string            `json:"deadlineLabel"`
	Lines         []paymentLineView `json:"lines"`
}

type themeView struct {
	Key    string `json:"key"`
	Name   string `json:"name"`
	Accent string `json:"accent"`
}

func toStatsViews(stats []core.StudentStats) []studentStatsView {
	out := make([]studentStatsView, 0, len(stats))
	for _, s := range stats {
		out = append(out, studentStatsView(s))
	}
	return out
}

func toRefundViews(entries []core.RefundEntry) []refundView {
	out := make([]refundView, 0, len(entries))
	for _, e := range entries {
		out = append(out, refundView{
			ID:           e.ID,
			StudentID:    e.StudentID,
			StudentName:  e.StudentName,
			StudentKnown: e.StudentKnown,
			Amount:       e.Amount,
			Reason:       e.Reason,
			Date:         e.Date,
		})
	}
	return out
}

func toSummaryViews(summaries []core.CollectionSummary) []collectionSummaryView {
	out := make([]collectionSummaryView, 0, len(summaries))
	for _, s := range summaries {
		lines := make([]paymentLineView, 0, len(s.Lines))
		for _, l := range s.Lines {
			lines = append(lines, paymentLineView(l))
		}
		out = append(out, collectionSummaryView{
			Collection:    s.Collection,
			Collected:     s.Collected,
			Remaining:     s.Remaining,
			Progress:      s.Progress,
			DeadlineLabel: s.DeadlineLabel,
			Lines:         lines,
		})
	}
	return out
}

func toThemeView(t core.Theme) themeView {
	return themeView(t)
}
