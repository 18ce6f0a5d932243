package sync

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crm/backend/internal/domain/crm"
	"github.com/crm/backend/internal/domain/gateway"
)

// fakeRepo is a map-backed SyncedQuoteRepository
type fakeRepo struct {
	docs    map[string]*crm.SyncedQuote
	saveErr error
	saves   int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{docs: make(map[string]*crm.SyncedQuote)}
}

func (r *fakeRepo) key(owner uuid.UUID, reference string) string {
	return owner.String() + "/" + reference
}

func (r *fakeRepo) FindByReference(_ context.Context, owner uuid.UUID, reference string) (*crm.SyncedQuote, error) {
	doc, ok := r.docs[r.key(owner, reference)]
	if !ok {
		return nil, crm.ErrSyncedQuoteNotFound
	}
	return doc, nil
}

func (r *fakeRepo) Save(_ context.Context, quote *crm.SyncedQuote) error {
	r.saves++
	if r.saveErr != nil {
		return r.saveErr
	}
	r.docs[r.key(quote.Meta.Owner, quote.Meta.Reference)] = quote
	return nil
}

// fakeSourceFetcher returns a scripted record
type fakeSourceFetcher struct {
	record json.RawMessage
	err    error
	calls  int
}

func (f *fakeSourceFetcher) FetchSource(context.Context, gateway.SessionContext, string) (json.RawMessage, error) {
	f.calls++
	return f.record, f.err
}

var testNow = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

func newTestReconciler(repo crm.SyncedQuoteRepository, sources SourceFetcher) *Reconciler {
	r := NewReconciler(repo, sources, 3*time.Minute, nil)
	r.now = func() time.Time { return testNow }
	return r
}

func quoteSource(code string, grandTotalCents int64) json.RawMessage {
	raw, _ := json.Marshal(map[string]any{
		"id":                   "q-1",
		"code":                 code,
		"status_name":          "Open",
		"customer":             map[string]string{"full_name": "Acme"},
		"total_incl_vat_cents": grandTotalCents,
	})
	return raw
}

func TestReconciler_Create(t *testing.T) {
	repo := newFakeRepo()
	r := newTestReconciler(repo, nil)
	sess := gateway.SessionContext{TenantID: uuid.New(), UserID: "alice"}

	doc, err := r.Reconcile(context.Background(), sess, "q-1", quoteSource("Q-1", 150000), crm.MapQuote)
	require.NoError(t, err)
	require.NotNil(t, doc)

	assert.NotEqual(t, uuid.Nil, doc.ID)
	assert.Equal(t, sess.TenantID, doc.Meta.Owner)
	assert.Equal(t, "q-1", doc.Meta.Reference)
	assert.Equal(t, "Q-1", doc.Code)
	assert.True(t, decimal.NewFromInt(1500).Equal(doc.Totals.GrandTotal))

	assert.Equal(t, testNow, doc.Meta.LastSync)
	assert.Equal(t, testNow.Add(3*time.Minute), doc.Meta.NextSync)
	assert.False(t, doc.Meta.MustSync)

	require.Len(t, doc.Timeline, 1)
	assert.Equal(t, crm.TimelineEventSynchronized, doc.Timeline[0].What)
	assert.Equal(t, "alice", doc.Timeline[0].Who)
	assert.Equal(t, testNow, doc.Timeline[0].When)
}

func TestReconciler_Update(t *testing.T) {
	sess := gateway.SessionContext{TenantID: uuid.New(), UserID: "alice"}

	t.Run("repeated reconciliation does not grow the timeline", func(t *testing.T) {
		repo := newFakeRepo()
		r := newTestReconciler(repo, nil)

		_, err := r.Reconcile(context.Background(), sess, "q-1", quoteSource("Q-1", 100), crm.MapQuote)
		require.NoError(t, err)

		doc, err := r.Reconcile(context.Background(), sess, "q-1", quoteSource("Q-1", 100), crm.MapQuote)
		require.NoError(t, err)
		assert.Len(t, doc.Timeline, 1)
	})

	t.Run("local timeline entries survive updates", func(t *testing.T) {
		repo := newFakeRepo()
		r := newTestReconciler(repo, nil)

		doc, err := r.Reconcile(context.Background(), sess, "q-1", quoteSource("Q-1", 100), crm.MapQuote)
		require.NoError(t, err)

		doc.AppendTimeline(crm.TimelineEntry{What: crm.TimelineEventNote, Who: "bob", Notes: "called customer"})
		require.NoError(t, repo.Save(context.Background(), doc))

		updated, err := r.Reconcile(context.Background(), sess, "q-1", quoteSource("Q-1", 200), crm.MapQuote)
		require.NoError(t, err)

		require.Len(t, updated.Timeline, 2)
		assert.Equal(t, "called customer", updated.Timeline[1].Notes)
	})

	t.Run("mapped fields and source are replaced", func(t *testing.T) {
		repo := newFakeRepo()
		r := newTestReconciler(repo, nil)

		_, err := r.Reconcile(context.Background(), sess, "q-1", quoteSource("Q-1", 100), crm.MapQuote)
		require.NoError(t, err)

		fresh := quoteSource("Q-1-REV2", 250000)
		doc, err := r.Reconcile(context.Background(), sess, "q-1", fresh, crm.MapQuote)
		require.NoError(t, err)

		assert.Equal(t, "Q-1-REV2", doc.Code)
		assert.True(t, decimal.NewFromInt(2500).Equal(doc.Totals.GrandTotal))
		assert.JSONEq(t, string(fresh), string(doc.Meta.Source))
		assert.Equal(t, testNow, doc.Modified)
	})

	t.Run("update clears the must-sync flag", func(t *testing.T) {
		repo := newFakeRepo()
		r := newTestReconciler(repo, nil)

		doc, err := r.Reconcile(context.Background(), sess, "q-1", quoteSource("Q-1", 100), crm.MapQuote)
		require.NoError(t, err)

		doc.Meta.MustSync = true
		require.NoError(t, repo.Save(context.Background(), doc))

		updated, err := r.Reconcile(context.Background(), sess, "q-1", quoteSource("Q-1", 100), crm.MapQuote)
		require.NoError(t, err)
		assert.False(t, updated.Meta.MustSync)
	})
}

func TestReconciler_SourceResolution(t *testing.T) {
	sess := gateway.SessionContext{TenantID: uuid.New(), UserID: "alice"}

	t.Run("nothing to reconcile yields nil without error", func(t *testing.T) {
		r := newTestReconciler(newFakeRepo(), nil)

		doc, err := r.Reconcile(context.Background(), sess, "q-unknown", nil, crm.MapQuote)
		require.NoError(t, err)
		assert.Nil(t, doc)
	})

	t.Run("missing record is fetched", func(t *testing.T) {
		sources := &fakeSourceFetcher{record: quoteSource("Q-F", 100)}
		r := newTestReconciler(newFakeRepo(), sources)

		doc, err := r.Reconcile(context.Background(), sess, "q-1", nil, crm.MapQuote)
		require.NoError(t, err)
		require.NotNil(t, doc)
		assert.Equal(t, "Q-F", doc.Code)
		assert.Equal(t, 1, sources.calls)
	})

	t.Run("fetch failure degrades to the stored source", func(t *testing.T) {
		repo := newFakeRepo()
		r := newTestReconciler(repo, nil)
		created, err := r.Reconcile(context.Background(), sess, "q-1", quoteSource("Q-1", 100), crm.MapQuote)
		require.NoError(t, err)
		require.NotNil(t, created)

		failing := &fakeSourceFetcher{err: errors.New("upstream down")}
		r2 := newTestReconciler(repo, failing)

		doc, err := r2.Reconcile(context.Background(), sess, "q-1", nil, crm.MapQuote)
		require.NoError(t, err)
		require.NotNil(t, doc)
		assert.Equal(t, "Q-1", doc.Code, "reconciled from the stored source")
	})

	t.Run("supplied record wins over the fetcher", func(t *testing.T) {
		sources := &fakeSourceFetcher{record: quoteSource("Q-FETCHED", 100)}
		r := newTestReconciler(newFakeRepo(), sources)

		doc, err := r.Reconcile(context.Background(), sess, "q-1", quoteSource("Q-SUPPLIED", 100), crm.MapQuote)
		require.NoError(t, err)
		assert.Equal(t, "Q-SUPPLIED", doc.Code)
		assert.Equal(t, 0, sources.calls)
	})
}

func TestReconciler_Failures(t *testing.T) {
	sess := gateway.SessionContext{TenantID: uuid.New(), UserID: "alice"}

	t.Run("mapping failure is reported", func(t *testing.T) {
		r := newTestReconciler(newFakeRepo(), nil)

		_, err := r.Reconcile(context.Background(), sess, "q-1", json.RawMessage(`{"id":`), crm.MapQuote)
		assert.ErrorContains(t, err, "mapping q-1 failed")
	})

	t.Run("store write failure is reported", func(t *testing.T) {
		repo := newFakeRepo()
		repo.saveErr = &gateway.PersistenceError{Op: "save synced quote", Err: errors.New("disk full")}
		r := newTestReconciler(repo, nil)

		_, err := r.Reconcile(context.Background(), sess, "q-1", quoteSource("Q-1", 100), crm.MapQuote)

		var perr *gateway.PersistenceError
		assert.ErrorAs(t, err, &perr)
	})

	t.Run("nil map function keeps raw-only reconciliation", func(t *testing.T) {
		repo := newFakeRepo()
		r := newTestReconciler(repo, nil)

		doc, err := r.Reconcile(context.Background(), sess, "q-1", quoteSource("Q-1", 100), nil)
		require.NoError(t, err)
		require.NotNil(t, doc)
		assert.Empty(t, doc.Code)
		assert.NotEmpty(t, doc.Meta.Source)
	})
}
