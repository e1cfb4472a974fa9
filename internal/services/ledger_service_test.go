package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skarbnik/internal/cache"
	"skarbnik/internal/core"
	"skarbnik/internal/storage"
	"skarbnik/internal/storage/memory"
	"skarbnik/internal/transfer"
)

const testKey = "skarbnik_counterek"

var testNow = time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func openTest(t *testing.T, store storage.BlobStore, opts ...Option) *LedgerService {
	t.Helper()
	opts = append([]Option{
		WithClock(func() time.Time { return testNow }),
		WithIDGenerator(sequentialIDs()),
	}, opts...)
	svc, err := Open(context.Background(), store, testKey, opts...)
	require.NoError(t, err)
	return svc
}

type failingStore struct {
	loadErr error
	saveErr error
	saved   int
}

func (f *failingStore) Load(context.Context, string) ([]byte, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return nil, storage.ErrNotFound
}

func (f *failingStore) Save(context.Context, string, []byte) error {
	f.saved++
	return f.saveErr
}

func TestOpenEmptyStore(t *testing.T) {
	svc := openTest(t, memory.New())
	doc := svc.Document()
	assert.Empty(t, doc.Students)
	assert.Empty(t, doc.Collections)
	assert.Empty(t, doc.Refunds)
	assert.Equal(t, "emerald", doc.ThemeKey)
	assert.Equal(t, uint64(0), svc.Revision())
}

func TestOpenMalformedBlobFallsBackToEmpty(t *testing.T) {
	store := memory.NewWithBlob(testKey, []byte("{not json"))
	svc := openTest(t, store, WithDefaultTheme("sunset"))
	doc := svc.Document()
	assert.Empty(t, doc.Students)
	assert.Equal(t, "sunset", doc.ThemeKey)
	assert.Equal(t, 0, store.Saves(), "fallback does not overwrite the stored blob")
}

func TestOpenPartialBlobDefaultsMissingFields(t *testing.T) {
	store := memory.NewWithBlob(testKey, []byte(`{"students":[{"id":"s1","firstName":"Anna","lastName":"Nowak"}]}`))
	svc := openTest(t, store)
	doc := svc.Document()
	require.Len(t, doc.Students, 1)
	assert.NotNil(t, doc.Collections)
	assert.Equal(t, "emerald", doc.ThemeKey)
}

func TestOpenStoreErrorIsReturned(t *testing.T) {
	boom := errors.New("disk on fire")
	_, err := Open(context.Background(), &failingStore{loadErr: boom}, testKey)
	assert.ErrorIs(t, err, boom)
}

func TestMutationsAreWrittenThrough(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := openTest(t, store)

	s1, err := svc.AddStudent(ctx, "Anna", "Nowak")
	require.NoError(t, err)
	assert.Equal(t, "id-1", s1.ID)
	assert.Equal(t, 1, store.Saves())

	reopened := openTest(t, store)
	assert.Equal(t, svc.Document().Students, reopened.Document().Students)

	_, err = svc.AddStudent(ctx, "", "Nowak")
	assert.ErrorIs(t, err, core.ErrEmptyName)
	assert.Equal(t, 1, store.Saves(), "rejected mutation is not written")
	assert.Equal(t, uint64(1), svc.Revision())
}

func TestTripScenarioThroughService(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := openTest(t, store)

	var ids []string
	for _, name := range []string{"S1", "S2", "S3"} {
		st, err := svc.AddStudent(ctx, name, "Student")
		require.NoError(t, err)
		ids = append(ids, st.ID)
	}

	trip, err := svc.CreateCollection(ctx, core.CollectionInput{
		Title:          "Trip",
		Mode:           core.Total,
		Amount:         core.MoneyFromInt(90),
		ParticipantIDs: svc.StudentIDs(),
	})
	require.NoError(t, err)
	assert.Equal(t, "30.00", trip.PerStudentAmount.String())
	assert.Equal(t, "2025-05-01", trip.StartDate.String(), "start date defaults to today")

	_, err = svc.SetPayment(ctx, trip.ID, ids[0], core.MoneyFromInt(30))
	require.NoError(t, err)
	_, err = svc.SetPayment(ctx, trip.ID, ids[1], core.MoneyFromInt(15))
	require.NoError(t, err)

	agg := svc.Aggregate()
	assert.Equal(t, "45.00", agg.TotalCollected.String())
	assert.True(t, agg.TotalRefundable.IsZero())
	assert.Empty(t, svc.RefundsDue())

	_, err = svc.SetPayment(ctx, trip.ID, ids[0], core.MoneyFromInt(50))
	require.NoError(t, err)
	due := svc.RefundsDue()
	require.Len(t, due, 1)
	assert.Equal(t, ids[0], due[0].StudentID)
	assert.Equal(t, "20.00", due[0].TotalToRefund.String())

	refunds, err := svc.DeleteCollection(ctx, trip.ID)
	require.NoError(t, err)
	require.Len(t, refunds, 2)
	assert.Equal(t, testNow, refunds[0].Date)
	assert.Equal(t, "50.00", refunds[0].Amount.String())
	assert.Equal(t, "15.00", refunds[1].Amount.String())

	rows := svc.StudentStats()
	require.Len(t, rows, 3)
	assert.Equal(t, ids[0], rows[0].StudentID)
	assert.Equal(t, "50.00", rows[0].PendingRefunds.String())
	assert.Equal(t, ids[1], rows[1].StudentID)
	assert.Equal(t, "15.00", rows[1].PendingRefunds.String())
	for _, r := range rows {
		assert.True(t, r.TotalRequired.IsZero())
		assert.True(t, r.TotalPaid.IsZero())
	}
	assert.True(t, svc.Aggregate().TotalCollected.IsZero())

	// a fresh service over the same store sees the same ledger
	reopened := openTest(t, store)
	assert.Len(t, reopened.Document().Refunds, 2)
	assert.Empty(t, reopened.Document().Collections)
}

func TestSettleAndRemoveRefunds(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := openTest(t, store)

	st, _ := svc.AddStudent(ctx, "Anna", "Nowak")
	c, err := svc.CreateCollection(ctx, core.CollectionInput{Title: "A", Amount: core.MoneyFromInt(10), ParticipantIDs: []string{st.ID}})
	require.NoError(t, err)
	_, err = svc.MarkPaidInFull(ctx, c.ID, st.ID)
	require.NoError(t, err)
	_, err = svc.DeleteCollection(ctx, c.ID)
	require.NoError(t, err)

	c2, err := svc.CreateCollection(ctx, core.CollectionInput{Title: "B", Amount: core.MoneyFromInt(10), ParticipantIDs: []string{st.ID}})
	require.NoError(t, err)
	_, err = svc.SetPayment(ctx, c2.ID, st.ID, core.MoneyFromInt(12))
	require.NoError(t, err)
	_, err = svc.DeleteCollection(ctx, c2.ID)
	require.NoError(t, err)

	history := svc.RefundHistory()
	require.Len(t, history, 2)
	assert.Equal(t, "Deleted collection: A", history[0].Reason)
	assert.Equal(t, "Nowak Anna", history[0].StudentName)

	removed, err := svc.RemoveRefundRecord(ctx, history[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "10.00", removed.Amount.String())
	_, err = svc.RemoveRefundRecord(ctx, history[0].ID)
	assert.ErrorIs(t, err, core.ErrRefundNotFound)

	saves := store.Saves()
	n, err := svc.SettleRefund(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, saves+1, store.Saves())

	n, err = svc.SettleRefund(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, saves+1, store.Saves(), "nothing to settle writes nothing")
	assert.Empty(t, svc.RefundHistory())
}

func TestDeletedStudentStaysReferenced(t *testing.T) {
	ctx := context.Background()
	svc := openTest(t, memory.New())

	st, _ := svc.AddStudent(ctx, "Anna", "Nowak")
	c, err := svc.CreateCollection(ctx, core.CollectionInput{Title: "Trip", Amount: core.MoneyFromInt(10), ParticipantIDs: []string{st.ID}})
	require.NoError(t, err)
	_, err = svc.SetPayment(ctx, c.ID, st.ID, core.MoneyFromInt(10))
	require.NoError(t, err)

	require.NoError(t, svc.DeleteStudent(ctx, st.ID))
	assert.ErrorIs(t, svc.DeleteStudent(ctx, st.ID), core.ErrStudentNotFound)

	sums := svc.CollectionSummaries()
	require.Len(t, sums, 1)
	assert.Equal(t, "10.00", sums[0].Collected.String())
	assert.Empty(t, sums[0].Lines)
	assert.Empty(t, svc.StudentStats())

	_, err = svc.DeleteCollection(ctx, c.ID)
	require.NoError(t, err)
	history := svc.RefundHistory()
	require.Len(t, history, 1)
	assert.Equal(t, core.DeletedStudentName, history[0].StudentName)
}

func TestEditStudentAndCollection(t *testing.T) {
	ctx := context.Background()
	svc := openTest(t, memory.New())

	a, _ := svc.AddStudent(ctx, "Anna", "Nowak")
	b, _ := svc.AddStudent(ctx, "Jan", "Kowalski")

	edited, err := svc.EditStudent(ctx, a.ID, "Anna", "Kowalska")
	require.NoError(t, err)
	assert.Equal(t, "Kowalska Anna", edited.FullName())
	_, err = svc.EditStudent(ctx, "missing", "A", "B")
	assert.ErrorIs(t, err, core.ErrStudentNotFound)

	c, err := svc.CreateCollection(ctx, core.CollectionInput{Title: "Trip", Amount: core.MoneyFromInt(30), ParticipantIDs: svc.StudentIDs()})
	require.NoError(t, err)
	_, err = svc.SetPayment(ctx, c.ID, b.ID, core.MoneyFromInt(30))
	require.NoError(t, err)

	c, err = svc.EditCollection(ctx, c.ID, core.CollectionInput{
		Title:          "Trip 2",
		Amount:         core.MoneyFromInt(25),
		ParticipantIDs: []string{a.ID},
		StartDate:      c.StartDate,
	})
	require.NoError(t, err)
	assert.Equal(t, "25.00", c.TotalAmount.String())
	assert.Equal(t, "30.00", c.Payment(b.ID).String())

	_, err = svc.EditCollection(ctx, c.ID, core.CollectionInput{Title: "x", Amount: core.Zero, ParticipantIDs: []string{a.ID}})
	assert.ErrorIs(t, err, core.ErrInvalidAmount)
	assert.Equal(t, "Trip 2", svc.Document().Collections[0].Title)

	_, err = svc.CreateCollection(ctx, core.CollectionInput{Title: "Empty", Amount: core.MoneyFromInt(1)})
	assert.ErrorIs(t, err, core.ErrNoParticipants)
	assert.Len(t, svc.Document().Collections, 1)
}

func TestSaveFailureKeepsMutation(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("read-only")
	store := &failingStore{saveErr: boom}
	svc := openTest(t, store)

	st, err := svc.AddStudent(ctx, "Anna", "Nowak")
	assert.ErrorIs(t, err, ErrPersist)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "id-1", st.ID)
	assert.Len(t, svc.Document().Students, 1)
	assert.Equal(t, 1, store.saved)
}

func TestSubscribersSeeCommits(t *testing.T) {
	ctx := context.Background()
	var revisions []uint64
	var last core.Document
	svc := openTest(t, memory.New(), WithSubscriber(func(rev uint64, doc core.Document) {
		revisions = append(revisions, rev)
		last = doc
	}))
	var late int
	svc.Subscribe(func(uint64, core.Document) { late++ })

	_, _ = svc.AddStudent(ctx, "Anna", "Nowak")
	_, _ = svc.AddStudent(ctx, "", "")
	require.NoError(t, svc.SetTheme(ctx, "midnight"))

	assert.Equal(t, []uint64{1, 2}, revisions)
	assert.Equal(t, "midnight", last.ThemeKey)
	assert.Equal(t, 2, late)
}

func TestSetTheme(t *testing.T) {
	ctx := context.Background()
	svc := openTest(t, memory.New())

	err := svc.SetTheme(ctx, "neon")
	assert.ErrorIs(t, err, core.ErrUnknownTheme)
	assert.Equal(t, "emerald", svc.Theme().Key)

	require.NoError(t, svc.SetTheme(ctx, "sunset"))
	assert.Equal(t, "sunset", svc.Theme().Key)
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src := openTest(t, memory.New())
	st, _ := src.AddStudent(ctx, "Anna", "Nowak")
	c, _ := src.CreateCollection(ctx, core.CollectionInput{Title: "Trip", Amount: core.MoneyFromInt(30), ParticipantIDs: []string{st.ID}})
	_, _ = src.SetPayment(ctx, c.ID, st.ID, core.MoneyFromCents(1250))
	require.NoError(t, src.SetTheme(ctx, "minimal"))

	for _, f := range []transfer.Format{transfer.FormatJSON, transfer.FormatYAML} {
		t.Run(string(f), func(t *testing.T) {
			blob, err := src.ExportDocument(f)
			require.NoError(t, err)

			store := memory.New()
			dst := openTest(t, store)
			require.NoError(t, dst.ImportDocument(ctx, blob, f))
			assert.Equal(t, 1, store.Saves())

			want, _ := src.ExportDocument(transfer.FormatJSON)
			got, _ := dst.ExportDocument(transfer.FormatJSON)
			assert.JSONEq(t, string(want), string(got))
		})
	}
}

func TestImportThemeOnlyAndMalformed(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := openTest(t, store)
	_, _ = svc.AddStudent(ctx, "Anna", "Nowak")
	before := svc.Document()

	require.NoError(t, svc.ImportDocument(ctx, []byte(`{"themeKey":"midnight"}`), transfer.FormatJSON))
	after := svc.Document()
	assert.Equal(t, "midnight", after.ThemeKey)
	assert.Equal(t, before.Students, after.Students)

	saves := store.Saves()
	err := svc.ImportDocument(ctx, []byte(`[]`), transfer.FormatJSON)
	var fe *transfer.FormatError
	assert.ErrorAs(t, err, &fe)
	assert.Equal(t, saves, store.Saves())
	assert.Equal(t, after.Students, svc.Document().Students)

	require.NoError(t, svc.ImportDocument(ctx, []byte(`{}`), transfer.FormatJSON))
	assert.Equal(t, saves, store.Saves(), "empty import writes nothing")
}

func TestStatsCachedPerRevision(t *testing.T) {
	ctx := context.Background()
	svc := openTest(t, memory.New(), WithStatsCache(4, time.Minute))
	st, _ := svc.AddStudent(ctx, "Anna", "Nowak")

	first := svc.StudentStats()
	_ = svc.StudentStats()
	lru, ok := svc.stats.(*cache.LRUCache[[]core.StudentStats])
	require.True(t, ok)
	hits, misses := lru.Stats()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)

	first[0].FullName = "tampered"
	assert.Equal(t, "Nowak Anna", svc.StudentStats()[0].FullName, "callers get copies")

	c, _ := svc.CreateCollection(ctx, core.CollectionInput{Title: "Trip", Amount: core.MoneyFromInt(5), ParticipantIDs: []string{st.ID}})
	_, _ = svc.SetPayment(ctx, c.ID, st.ID, core.MoneyFromInt(9))
	rows := svc.StudentStats()
	assert.Equal(t, "4.00", rows[0].TotalToRefund.String(), "new revision recomputes")
}

type recordingCache struct {
	entries map[string][]core.StudentStats
	sets    int
}

func (c *recordingCache) Get(key string) ([]core.StudentStats, bool) {
	rows, ok := c.entries[key]
	return rows, ok
}

func (c *recordingCache) Set(key string, rows []core.StudentStats) {
	c.sets++
	c.entries[key] = rows
}

func (c *recordingCache) Delete(key string) { delete(c.entries, key) }
func (c *recordingCache) Size() int         { return len(c.entries) }

func TestWithCacheUsesInjectedCache(t *testing.T) {
	ctx := context.Background()
	rc := &recordingCache{entries: map[string][]core.StudentStats{}}
	svc := openTest(t, memory.New(), WithCache(rc))

	_, err := svc.AddStudent(ctx, "Anna", "Nowak")
	require.NoError(t, err)

	before := rc.sets
	_ = svc.StudentStats()
	_ = svc.Aggregate()
	assert.Equal(t, before+1, rc.sets, "one computation per revision")
	assert.Positive(t, rc.Size())

	_, err = svc.AddStudent(ctx, "Jan", "Kowalski")
	require.NoError(t, err)
	assert.Len(t, svc.StudentStats(), 2)
	assert.Equal(t, before+2, rc.sets)
}
