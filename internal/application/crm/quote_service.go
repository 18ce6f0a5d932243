package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/crm/backend/internal/application/sync"
	"github.com/crm/backend/internal/domain/crm"
	"github.com/crm/backend/internal/domain/gateway"
	"github.com/crm/backend/internal/infrastructure/upstream"
)

// quotesPath is the upstream quote collection endpoint
const quotesPath = "/api/quote"

// Cache TTLs per call site. Lists are volatile; per-entity detail even more
// so, but a fetched record stays useful for the few seconds a resolver
// typically needs it twice.
const (
	listTTL   = 60 * time.Second
	detailTTL = 10 * time.Second
)

// QuoteService is the resolver-side entry point for quotes: it resolves ids
// and details through the paged fetcher, consults the cache on every read,
// and reconciles fetched records into their local documents.
type QuoteService struct {
	fetcher    *upstream.Fetcher
	cache      gateway.Cache
	reconciler *sync.Reconciler
	logger     *zap.Logger
}

// NewQuoteService creates a quote service
func NewQuoteService(fetcher *upstream.Fetcher, cache gateway.Cache, reconciler *sync.Reconciler, logger *zap.Logger) *QuoteService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuoteService{
		fetcher:    fetcher,
		cache:      cache,
		reconciler: reconciler,
		logger:     logger,
	}
}

// ListQuoteIDs returns the ids of all quotes matching the filter, cached per
// (tenant, filter).
func (s *QuoteService) ListQuoteIDs(ctx context.Context, sess gateway.SessionContext, filter map[string]any) ([]string, error) {
	key, err := filterKey("quote:ids", filter)
	if err != nil {
		return nil, err
	}
	return gateway.GetOrCompute(ctx, s.cache, sess.TenantID, key, listTTL, func(ctx context.Context) ([]string, error) {
		return s.fetcher.FetchAllIDs(ctx, sess, quotesPath, filter)
	})
}

// FetchQuotes returns the raw records of all quotes matching the filter.
// Record order follows batch arrival and is not stable across calls.
func (s *QuoteService) FetchQuotes(ctx context.Context, sess gateway.SessionContext, filter map[string]any) ([]json.RawMessage, error) {
	ids, err := s.ListQuoteIDs(ctx, sess, filter)
	if err != nil {
		return nil, err
	}
	return s.fetcher.FetchDetails(ctx, sess, quotesPath, ids, 0)
}

// GetQuote fetches the quote record for reference (detail cache consulted
// first) and reconciles it into its local document. A reference unknown both
// upstream and locally reports ErrSyncedQuoteNotFound.
func (s *QuoteService) GetQuote(ctx context.Context, sess gateway.SessionContext, reference string) (*crm.SyncedQuote, error) {
	source, err := gateway.GetOrCompute(ctx, s.cache, sess.TenantID, detailKey(reference), detailTTL, func(ctx context.Context) (json.RawMessage, error) {
		return s.fetcher.FetchOne(ctx, sess, quotesPath, reference)
	})
	if err != nil {
		return nil, err
	}
	// A missing upstream record caches as JSON null; treat it as absent.
	if string(source) == "null" {
		source = nil
	}

	doc, err := s.reconciler.Reconcile(ctx, sess, reference, source, crm.MapQuote)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, crm.ErrSyncedQuoteNotFound
	}
	return doc, nil
}

// GetQuoteFresh bypasses the detail cache: it drops the cached record,
// fetches, and reconciles. This is the one deliberate cache opt-out on the
// quote path; everything else always consults the cache.
func (s *QuoteService) GetQuoteFresh(ctx context.Context, sess gateway.SessionContext, reference string) (*crm.SyncedQuote, error) {
	if err := s.cache.Delete(ctx, sess.TenantID, detailKey(reference)); err != nil {
		s.logger.Warn("failed to drop cached quote record",
			zap.String("reference", reference),
			zap.Error(err),
		)
	}
	return s.GetQuote(ctx, sess, reference)
}

// detailKey is the cache key for a single quote record
func detailKey(reference string) string {
	return "quote:detail:" + reference
}

// filterKey derives a stable cache key from a filter. encoding/json sorts
// map keys, so equal filters produce equal keys.
func filterKey(prefix string, filter map[string]any) (string, error) {
	if len(filter) == 0 {
		return prefix, nil
	}
	raw, err := json.Marshal(filter)
	if err != nil {
		return "", fmt.Errorf("crm: failed to encode filter: %w", err)
	}
	return prefix + ":" + string(raw), nil
}

// QuoteSourceFetcher adapts the paged fetcher to the reconciler's
// single-record lookup.
type QuoteSourceFetcher struct {
	fetcher *upstream.Fetcher
}

// NewQuoteSourceFetcher creates the adapter
func NewQuoteSourceFetcher(fetcher *upstream.Fetcher) *QuoteSourceFetcher {
	return &QuoteSourceFetcher{fetcher: fetcher}
}

// FetchSource retrieves one raw quote record by reference
func (f *QuoteSourceFetcher) FetchSource(ctx context.Context, sess gateway.SessionContext, reference string) (json.RawMessage, error) {
	return f.fetcher.FetchOne(ctx, sess, quotesPath, reference)
}

// Ensure QuoteSourceFetcher implements sync.SourceFetcher
var _ sync.SourceFetcher = (*QuoteSourceFetcher)(nil)
