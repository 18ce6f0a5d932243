package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crm/backend/internal/domain/crm"
	"github.com/crm/backend/internal/domain/gateway"
)

// DefaultSyncTimeout is how long a reconciled document is considered
// current. nextSync is advisory metadata; nothing here schedules refreshes.
const DefaultSyncTimeout = 3 * time.Minute

// SourceFetcher retrieves a single raw upstream record by reference. Used
// when a caller asks to reconcile without supplying a fresh source.
type SourceFetcher interface {
	FetchSource(ctx context.Context, sess gateway.SessionContext, reference string) (json.RawMessage, error)
}

// Reconciler merges freshly fetched upstream records into locally persisted
// documents. Upstream-owned state (meta.source, domain-derived fields) is
// replaced wholesale; local-only state (timeline, annotations) is preserved.
//
// Concurrent reconciliations of the same reference can race; the later write
// wins. No optimistic locking is added on top of the store's own guarantees.
type Reconciler struct {
	repo        crm.SyncedQuoteRepository
	sources     SourceFetcher
	syncTimeout time.Duration
	logger      *zap.Logger

	// now is replaceable in tests
	now func() time.Time
}

// NewReconciler creates a reconciler. sources may be nil when callers always
// supply the fresh record themselves.
func NewReconciler(repo crm.SyncedQuoteRepository, sources SourceFetcher, syncTimeout time.Duration, logger *zap.Logger) *Reconciler {
	if syncTimeout <= 0 {
		syncTimeout = DefaultSyncTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		repo:        repo,
		sources:     sources,
		syncTimeout: syncTimeout,
		logger:      logger,
		now:         time.Now,
	}
}

// Reconcile merges the given upstream record into the local document for
// (owner, reference), creating it on first sight. When fresh is nil it falls
// back to fetching the record, then to the stored meta.source; with no
// source at all it returns (nil, nil) since there is nothing to reconcile.
// Mapping failures and store write failures are the only error returns.
func (r *Reconciler) Reconcile(ctx context.Context, sess gateway.SessionContext, reference string, fresh json.RawMessage, mapFn crm.MapFunc) (*crm.SyncedQuote, error) {
	existing, err := r.repo.FindByReference(ctx, sess.TenantID, reference)
	if err != nil && !errors.Is(err, crm.ErrSyncedQuoteNotFound) {
		return nil, err
	}

	fresh = r.resolveSource(ctx, sess, reference, fresh, existing)
	if fresh == nil {
		return nil, nil
	}

	var fields crm.QuoteFields
	if mapFn != nil {
		fields, err = mapFn(fresh)
		if err != nil {
			return nil, fmt.Errorf("sync: mapping %s failed: %w", reference, err)
		}
	}

	now := r.now()
	if existing != nil {
		return r.update(ctx, existing, fresh, mapFn != nil, fields, now)
	}
	return r.create(ctx, sess, reference, fresh, fields, now)
}

// resolveSource picks the record to reconcile from: the supplied one, a
// fetched one, or the previously stored one. Fetch failures degrade to the
// stored source rather than aborting.
func (r *Reconciler) resolveSource(ctx context.Context, sess gateway.SessionContext, reference string, fresh json.RawMessage, existing *crm.SyncedQuote) json.RawMessage {
	if len(fresh) > 0 {
		return fresh
	}

	if r.sources != nil {
		fetched, err := r.sources.FetchSource(ctx, sess, reference)
		if err != nil {
			r.logger.Warn("source fetch failed, falling back to stored source",
				zap.String("reference", reference),
				zap.Error(err),
			)
		} else if len(fetched) > 0 {
			return fetched
		}
	}

	if existing != nil && len(existing.Meta.Source) > 0 {
		return existing.Meta.Source
	}
	return nil
}

// update refreshes an existing document in place. Timeline and other
// local-only fields are untouched.
func (r *Reconciler) update(ctx context.Context, doc *crm.SyncedQuote, fresh json.RawMessage, mapped bool, fields crm.QuoteFields, now time.Time) (*crm.SyncedQuote, error) {
	doc.Meta.Source = fresh
	doc.Meta.LastSync = now
	doc.Meta.NextSync = now.Add(r.syncTimeout)
	doc.Meta.MustSync = false

	if mapped {
		doc.Code = fields.Code
		doc.Status = fields.Status
		doc.CustomerName = fields.CustomerName
		doc.Totals = fields.Totals
	}
	doc.Modified = now

	if err := r.repo.Save(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// create seeds a new document from the mapped fields and records the
// synchronization in its timeline.
func (r *Reconciler) create(ctx context.Context, sess gateway.SessionContext, reference string, fresh json.RawMessage, fields crm.QuoteFields, now time.Time) (*crm.SyncedQuote, error) {
	created := fields.Created
	if created.IsZero() {
		created = now
	}
	modified := fields.Modified
	if modified.IsZero() {
		modified = now
	}

	doc := &crm.SyncedQuote{
		ID: uuid.New(),
		Meta: crm.SyncMeta{
			Owner:     sess.TenantID,
			Reference: reference,
			Source:    fresh,
			LastSync:  now,
			NextSync:  now.Add(r.syncTimeout),
		},
		Code:         fields.Code,
		Status:       fields.Status,
		CustomerName: fields.CustomerName,
		Totals:       fields.Totals,
		Created:      created,
		Modified:     modified,
	}
	doc.AppendTimeline(crm.TimelineEntry{
		When: now,
		What: crm.TimelineEventSynchronized,
		Who:  sess.UserID,
	})

	if err := r.repo.Save(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}
