package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeleteCollectionSkipsNonPositivePayments(t *testing.T) {
	doc := classOf(t, 2)
	_, err := doc.AddCollection("c1", CollectionInput{Title: "Trip", Amount: MoneyFromInt(30), ParticipantIDs: []string{"s1", "s2"}})
	require.NoError(t, err)
	_, _ = doc.SetPayment("c1", "s1", MoneyFromInt(30))
	_, _ = doc.SetPayment("c1", "s2", Zero)

	now := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	refunds, err := doc.DeleteCollection("c1", now, func() string { return "r1" })
	require.NoError(t, err)
	require.Len(t, refunds, 1)
	assert.Equal(t, Refund{
		ID:        "r1",
		StudentID: "s1",
		Amount:    refunds[0].Amount,
		Reason:    "Deleted collection: Trip",
		Date:      now,
	}, refunds[0])
	assert.Equal(t, "30.00", refunds[0].Amount.String())
	assert.Empty(t, doc.Collections)
	assert.Len(t, doc.Refunds, 1)
}

func TestDeleteCollectionOrdersPayers(t *testing.T) {
	doc := classOf(t, 4)
	_, err := doc.AddCollection("c1", CollectionInput{Title: "Trip", Amount: MoneyFromInt(10), ParticipantIDs: []string{"s3", "s1"}})
	require.NoError(t, err)
	_, _ = doc.SetPayment("c1", "s4", MoneyFromInt(1))
	_, _ = doc.SetPayment("c1", "s1", MoneyFromInt(2))
	_, _ = doc.SetPayment("c1", "s2", MoneyFromInt(3))
	_, _ = doc.SetPayment("c1", "s3", MoneyFromInt(-4))

	refunds, err := doc.DeleteCollection("c1", time.Now(), NewID)
	require.NoError(t, err)
	got := make([]string, len(refunds))
	for i, r := range refunds {
		got[i] = r.StudentID
	}
	assert.Equal(t, []string{"s1", "s2", "s4"}, got)
}

func TestDeleteCollectionMissing(t *testing.T) {
	doc := classOf(t, 1)
	refunds, err := doc.DeleteCollection("nope", time.Now(), NewID)
	assert.ErrorIs(t, err, ErrCollectionNotFound)
	assert.Nil(t, refunds)
}

func TestDeleteCollectionKeepsOthers(t *testing.T) {
	doc := classOf(t, 1)
	for _, id := range []string{"a", "b", "c"} {
		_, err := doc.AddCollection(id, CollectionInput{Title: id, Amount: MoneyFromInt(1), ParticipantIDs: []string{"s1"}})
		require.NoError(t, err)
	}
	snapshot := doc.Clone()

	_, err := doc.DeleteCollection("b", time.Now(), NewID)
	require.NoError(t, err)
	require.Len(t, doc.Collections, 2)
	assert.Equal(t, "a", doc.Collections[0].ID)
	assert.Equal(t, "c", doc.Collections[1].ID)
	assert.Len(t, snapshot.Collections, 3)
	assert.Equal(t, "b", snapshot.Collections[1].ID)
}

func TestSettleRefundsKeepsOverpayment(t *testing.T) {
	doc := classOf(t, 2)
	_, err := doc.AddCollection("c1", CollectionInput{Title: "Trip", Amount: MoneyFromInt(10), ParticipantIDs: doc.StudentIDs()})
	require.NoError(t, err)
	_, _ = doc.SetPayment("c1", "s1", MoneyFromInt(25))
	doc.Refunds = append(doc.Refunds,
		Refund{ID: "r1", StudentID: "s1", Amount: MoneyFromInt(7)},
		Refund{ID: "r2", StudentID: "s2", Amount: MoneyFromInt(3)},
		Refund{ID: "r3", StudentID: "s1", Amount: MoneyFromInt(1)},
	)

	before := statsByID(doc.Stats())["s1"]
	require.Equal(t, "15.00", before.ActiveOverpayment.String())
	require.Equal(t, "8.00", before.PendingRefunds.String())

	assert.Equal(t, 2, doc.SettleRefunds("s1"))

	after := statsByID(doc.Stats())["s1"]
	assert.True(t, after.PendingRefunds.IsZero())
	assert.Equal(t, "15.00", after.ActiveOverpayment.String())
	assert.Equal(t, "15.00", after.TotalToRefund.String())
	require.Len(t, doc.Refunds, 1)
	assert.Equal(t, "r2", doc.Refunds[0].ID)

	assert.Equal(t, 0, doc.SettleRefunds("s1"))
}

func TestRemoveRefund(t *testing.T) {
	doc := EmptyDocument()
	doc.Refunds = []Refund{
		{ID: "r1", StudentID: "s1", Amount: MoneyFromInt(7)},
		{ID: "r2", StudentID: "s1", Amount: MoneyFromInt(3)},
	}

	r, err := doc.RemoveRefund("r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", r.ID)
	require.Len(t, doc.Refunds, 1)
	assert.Equal(t, "r2", doc.Refunds[0].ID)

	_, err = doc.RemoveRefund("r1")
	assert.ErrorIs(t, err, ErrRefundNotFound)
}

func TestRefundHistoryResolvesStudents(t *testing.T) {
	doc := classOf(t, 1)
	doc.Refunds = []Refund{
		{ID: "r1", StudentID: "s1", Amount: MoneyFromInt(7), Reason: "x"},
		{ID: "r2", StudentID: "gone", Amount: MoneyFromInt(3), Reason: "y"},
	}

	h := doc.RefundHistory()
	require.Len(t, h, 2)
	assert.Equal(t, "Last1 First1", h[0].StudentName)
	assert.True(t, h[0].StudentKnown)
	assert.Equal(t, DeletedStudentName, h[1].StudentName)
	assert.False(t, h[1].StudentKnown)
	assert.Equal(t, "y", h[1].Reason)
}

func TestCollectionSummaries(t *testing.T) {
	doc := classOf(t, 3)
	_, err := doc.AddCollection("c1", CollectionInput{Title: "Trip", Amount: MoneyFromInt(30), ParticipantIDs: []string{"s3", "s1"}})
	require.NoError(t, err)
	_, err = doc.AddCollection("c2", CollectionInput{Title: "Cinema", Amount: MoneyFromInt(5), ParticipantIDs: []string{"s2"}, EndDate: NewDate(2025, 9, 1)})
	require.NoError(t, err)
	_, _ = doc.MarkPaidInFull("c1", "s1")
	_, _ = doc.SetPayment("c1", "s2", MoneyFromInt(4))

	sums := doc.CollectionSummaries()
	require.Len(t, sums, 2)

	trip := sums[0]
	assert.Equal(t, NoDeadline, trip.DeadlineLabel)
	assert.Equal(t, "34.00", trip.Collected.String())
	assert.Equal(t, "26.00", trip.Remaining.String())
	assert.InDelta(t, 56.666, trip.Progress, 0.01)
	require.Len(t, trip.Lines, 2)
	assert.Equal(t, "s1", trip.Lines[0].StudentID)
	assert.True(t, trip.Lines[0].Full)
	assert.Equal(t, "s3", trip.Lines[1].StudentID)
	assert.False(t, trip.Lines[1].Full)

	assert.Equal(t, "2025-09-01", sums[1].DeadlineLabel)
}
