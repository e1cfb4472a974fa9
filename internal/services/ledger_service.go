package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"skarbnik/internal/cache"
	"skarbnik/internal/core"
	"skarbnik/internal/log"
	"skarbnik/internal/storage"
	"skarbnik/internal/transfer"
)

// ErrPersist wraps blob-store write failures. The in-memory change that
// triggered the write is kept.
var ErrPersist = errors.New("persist ledger")

// Subscriber is notified after every committed mutation.
type Subscriber func(revision uint64, doc core.Document)

// LedgerService owns the ledger document and writes it through the blob
// store after every mutation.
type LedgerService struct {
	mu sync.Mutex

	store  storage.BlobStore
	key    string
	logger *log.Logger

	doc      core.Document
	revision uint64

	stats       cache.Cache[[]core.StudentStats]
	subscribers []Subscriber

	defaultTheme string
	now          func() time.Time
	newID        func() string
}

// Option configures a LedgerService.
type Option func(*LedgerService)

func WithLogger(l *log.Logger) Option {
	return func(s *LedgerService) { s.logger = l.WithComponent(log.ComponentLedger) }
}

// WithClock sets the time source used for refund dates and default start
// dates.
func WithClock(now func() time.Time) Option {
	return func(s *LedgerService) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *LedgerService) { s.newID = newID }
}

// WithStatsCache sizes the per-revision stats cache.
func WithStatsCache(size int, ttl time.Duration) Option {
	return func(s *LedgerService) { s.stats = cache.NewLRUCache[[]core.StudentStats](size, ttl) }
}

// WithCache replaces the stats cache. Caches that also implement
// cache.Cleaner are swept on every commit.
func WithCache(c cache.Cache[[]core.StudentStats]) Option {
	return func(s *LedgerService) { s.stats = c }
}

// WithDefaultTheme sets the theme of a ledger that has none stored.
func WithDefaultTheme(key string) Option {
	return func(s *LedgerService) { s.defaultTheme = key }
}

func WithSubscriber(fn Subscriber) Option {
	return func(s *LedgerService) { s.subscribers = append(s.subscribers, fn) }
}

// Open loads the ledger stored under key. A missing or malformed blob
// starts an empty ledger; a store that cannot be read is an error.
func Open(ctx context.Context, store storage.BlobStore, key string, opts ...Option) (*LedgerService, error) {
	s := &LedgerService{
		store:        store,
		key:          key,
		logger:       log.Discard(),
		defaultTheme: core.DefaultTheme,
		now:          time.Now,
		newID:        core.NewID,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.stats == nil {
		s.stats = cache.NewLRUCache[[]core.StudentStats](16, 5*time.Minute)
	}

	base := core.EmptyDocument()
	base.ThemeKey = s.defaultTheme

	blob, err := store.Load(ctx, key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.logger.InfoContext(ctx, "No saved ledger, starting empty", log.FieldStorageKey, key)
		s.doc = base
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	doc, err := transfer.Import(base, blob, transfer.FormatJSON)
	if err != nil {
		s.logger.WarnContext(ctx, "Saved ledger is malformed, starting empty",
			log.NewFields().
				WithOperation(log.OpLoad).
				With(log.FieldStorageKey, key).
				WithError(err, log.ErrorTypeFormat).
				ToSlice()...)
		s.doc = base
		return s, nil
	}

	s.doc = doc
	s.logger.InfoContext(ctx, "Ledger loaded",
		log.FieldStorageKey, key,
		"students", len(doc.Students),
		"collections", len(doc.Collections),
		"refunds", len(doc.Refunds))
	return s, nil
}

// Subscribe registers fn for future commits.
func (s *LedgerService) Subscribe(fn Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// commit bumps the revision, writes the document and notifies subscribers.
// Callers hold s.mu.
func (s *LedgerService) commit(ctx context.Context, fields log.LogFields) error {
	s.revision++
	fields.WithRevision(s.revision)
	if c, ok := s.stats.(cache.Cleaner); ok {
		c.CleanExpired()
	}

	var persistErr error
	blob, err := transfer.Encode(s.doc, transfer.FormatJSON)
	if err == nil {
		err = s.store.Save(ctx, s.key, blob)
	}
	if err != nil {
		persistErr = fmt.Errorf("%w: %w", ErrPersist, err)
		s.logger.ErrorContext(ctx, "Failed to persist ledger",
			fields.WithError(err, log.ErrorTypeDatabase).ToSlice()...)
	} else {
		s.logger.InfoContext(ctx, "Ledger updated", fields.With(log.FieldBytes, len(blob)).ToSlice()...)
	}

	snapshot := s.doc.Clone()
	for _, fn := range s.subscribers {
		fn(s.revision, snapshot)
	}
	return persistErr
}

func (s *LedgerService) rejected(ctx context.Context, op string, err error) {
	errorType := log.ErrorTypeInternal
	switch {
	case errors.Is(err, core.ErrValidation):
		errorType = log.ErrorTypeValidation
	case errors.Is(err, core.ErrNotFound):
		errorType = log.ErrorTypeNotFound
	}
	s.logger.DebugContext(ctx, "Ledger operation rejected",
		log.NewFields().WithOperation(op).WithError(err, errorType).ToSlice()...)
}

func (s *LedgerService) AddStudent(ctx context.Context, firstName, lastName string) (core.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.doc.AddStudent(s.newID(), firstName, lastName)
	if err != nil {
		s.rejected(ctx, log.OpAddStudent, err)
		return core.Student{}, err
	}
	return st, s.commit(ctx, log.NewFields().WithOperation(log.OpAddStudent).With(log.FieldStudentID, st.ID))
}

func (s *LedgerService) EditStudent(ctx context.Context, id, firstName, lastName string) (core.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.doc.EditStudent(id, firstName, lastName)
	if err != nil {
		s.rejected(ctx, log.OpEditStudent, err)
		return core.Student{}, err
	}
	return st, s.commit(ctx, log.NewFields().WithOperation(log.OpEditStudent).With(log.FieldStudentID, id))
}

// DeleteStudent removes only the student record; collections and refunds
// keep referring to the id.
func (s *LedgerService) DeleteStudent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.doc.DeleteStudent(id); err != nil {
		s.rejected(ctx, log.OpDeleteStudent, err)
		return err
	}
	return s.commit(ctx, log.NewFields().WithOperation(log.OpDeleteStudent).With(log.FieldStudentID, id))
}

// CreateCollection adds a collection. An empty start date means today.
func (s *LedgerService) CreateCollection(ctx context.Context, in core.CollectionInput) (core.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.StartDate.IsEmpty() {
		t := s.now()
		in.StartDate = core.NewDate(t.Year(), int(t.Month()), t.Day())
	}
	c, err := s.doc.AddCollection(s.newID(), in)
	if err != nil {
		s.rejected(ctx, log.OpCreateCollection, err)
		return core.Collection{}, err
	}
	return c, s.commit(ctx, log.NewFields().
		WithOperation(log.OpCreateCollection).
		With(log.FieldCollectionID, c.ID).
		With(log.FieldTitle, c.Title).
		With(log.FieldAmount, c.TotalAmount.String()))
}

// EditCollection re-derives the amounts from in and keeps every payment.
func (s *LedgerService) EditCollection(ctx context.Context, id string, in core.CollectionInput) (core.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.doc.EditCollection(id, in)
	if err != nil {
		s.rejected(ctx, log.OpEditCollection, err)
		return core.Collection{}, err
	}
	return c, s.commit(ctx, log.NewFields().
		WithOperation(log.OpEditCollection).
		With(log.FieldCollectionID, id).
		With(log.FieldAmount, c.TotalAmount.String()))
}

// DeleteCollection removes the collection and moves positive payments to
// the refund log.
func (s *LedgerService) DeleteCollection(ctx context.Context, id string) ([]core.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	refunds, err := s.doc.DeleteCollection(id, s.now(), s.newID)
	if err != nil {
		s.rejected(ctx, log.OpDeleteCollection, err)
		return nil, err
	}
	return refunds, s.commit(ctx, log.NewFields().
		WithOperation(log.OpDeleteCollection).
		With(log.FieldCollectionID, id).
		With(log.FieldCount, len(refunds)))
}

// SetPayment stores value as given; negative values are not rejected here.
func (s *LedgerService) SetPayment(ctx context.Context, collectionID, studentID string, value core.Money) (core.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.doc.SetPayment(collectionID, studentID, value)
	if err != nil {
		s.rejected(ctx, log.OpSetPayment, err)
		return core.Collection{}, err
	}
	return c, s.commit(ctx, log.NewFields().
		WithOperation(log.OpSetPayment).
		With(log.FieldCollectionID, collectionID).
		With(log.FieldStudentID, studentID).
		With(log.FieldAmount, value.String()))
}

func (s *LedgerService) MarkPaidInFull(ctx context.Context, collectionID, studentID string) (core.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.doc.MarkPaidInFull(collectionID, studentID)
	if err != nil {
		s.rejected(ctx, log.OpSetPayment, err)
		return core.Collection{}, err
	}
	return c, s.commit(ctx, log.NewFields().
		WithOperation(log.OpSetPayment).
		With(log.FieldCollectionID, collectionID).
		With(log.FieldStudentID, studentID).
		With(log.FieldAmount, c.PerStudentAmount.String()))
}

// SettleRefund drops every refund record of the student and reports how
// many were removed. Nothing is written when there were none.
func (s *LedgerService) SettleRefund(ctx context.Context, studentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.doc.SettleRefunds(studentID)
	if n == 0 {
		return 0, nil
	}
	return n, s.commit(ctx, log.NewFields().
		WithOperation(log.OpSettleRefund).
		With(log.FieldStudentID, studentID).
		With(log.FieldCount, n))
}

func (s *LedgerService) RemoveRefundRecord(ctx context.Context, id string) (core.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.doc.RemoveRefund(id)
	if err != nil {
		s.rejected(ctx, log.OpRemoveRefund, err)
		return core.Refund{}, err
	}
	return r, s.commit(ctx, log.NewFields().WithOperation(log.OpRemoveRefund).With(log.FieldRefundID, id))
}

func (s *LedgerService) SetTheme(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.doc.SetTheme(key); err != nil {
		s.rejected(ctx, log.OpSetTheme, err)
		return err
	}
	return s.commit(ctx, log.NewFields().WithOperation(log.OpSetTheme).With(log.FieldThemeKey, key))
}

// ExportDocument serialises the whole ledger.
func (s *LedgerService) ExportDocument(f transfer.Format) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return transfer.Encode(s.doc, f)
}

// ImportDocument replaces the fields present in blob. A malformed blob
// returns a *transfer.FormatError and changes nothing.
func (s *LedgerService) ImportDocument(ctx context.Context, blob []byte, f transfer.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := transfer.Decode(blob, f)
	if err != nil {
		s.logger.WarnContext(ctx, "Import rejected",
			log.NewFields().
				WithOperation(log.OpImport).
				With(log.FieldFormat, string(f)).
				WithError(err, log.ErrorTypeFormat).
				ToSlice()...)
		return err
	}
	if p.Empty() {
		s.logger.InfoContext(ctx, "Import contained no ledger fields", log.FieldFormat, string(f))
		return nil
	}
	s.doc = p.Apply(s.doc)
	return s.commit(ctx, log.NewFields().
		WithOperation(log.OpImport).
		With(log.FieldFormat, string(f)).
		With(log.FieldBytes, len(blob)))
}

// StudentStats returns one row per student sorted by amount to refund.
// Rows are computed once per revision.
func (s *LedgerService) StudentStats() []core.StudentStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.StudentStats(nil), s.studentStats()...)
}

func (s *LedgerService) studentStats() []core.StudentStats {
	key := fmt.Sprintf("stats:%d", s.revision)
	if rows, ok := s.stats.Get(key); ok {
		return rows
	}
	rows := s.doc.Stats()
	s.stats.Set(key, rows)
	return rows
}

func (s *LedgerService) Aggregate() core.Aggregate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Aggregate(s.studentStats())
}

// RefundsDue lists students who still have money to get back.
func (s *LedgerService) RefundsDue() []core.StudentStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return core.RefundsDue(s.studentStats())
}

func (s *LedgerService) RefundHistory() []core.RefundEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.RefundHistory()
}

func (s *LedgerService) CollectionSummaries() []core.CollectionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone().CollectionSummaries()
}

// Document returns a deep copy of the current ledger.
func (s *LedgerService) Document() core.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

func (s *LedgerService) Students() []core.Student {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Student(nil), s.doc.Students...)
}

// StudentIDs lists every student, the default participant set for a new
// collection.
func (s *LedgerService) StudentIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.StudentIDs()
}

// Theme resolves the stored theme key, falling back to the default theme.
func (s *LedgerService) Theme() core.Theme {
	s.mu.Lock()
	defer s.mu.Unlock()
	return core.ResolveTheme(s.doc.ThemeKey)
}

func (s *LedgerService) Revision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}
