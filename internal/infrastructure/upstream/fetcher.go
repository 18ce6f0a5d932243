package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/crm/backend/internal/domain/gateway"
)

const (
	// DefaultDetailBatchSize is how many ids go into one detail request
	DefaultDetailBatchSize = 10
	// idsPageSize is the page size requested during the ids-only phase
	idsPageSize = 100
)

// Fetcher implements the upstream's two-phase collection protocol: an
// ids-only query first, then detail requests for bounded batches of ids.
// Pages and batches beyond the first are fetched concurrently, so overall
// latency is bounded by the slowest single page rather than their sum.
type Fetcher struct {
	client    *Client
	batchSize int
	logger    *zap.Logger
}

// NewFetcher creates a fetcher on top of the given client
func NewFetcher(client *Client, batchSize int, logger *zap.Logger) *Fetcher {
	if batchSize <= 0 {
		batchSize = DefaultDetailBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{client: client, batchSize: batchSize, logger: logger}
}

// FetchAllIDs returns the ids of every record matching the filter, walking
// all pages. Pages 2..numPages are requested concurrently and the results
// concatenated in page order and de-duplicated. A missing or empty ids field
// means no further results, not an error.
func (f *Fetcher) FetchAllIDs(ctx context.Context, sess gateway.SessionContext, path string, filter map[string]any) ([]string, error) {
	first, err := f.fetchIDPage(ctx, sess, path, filter, 1)
	if err != nil {
		return nil, err
	}

	pages := [][]string{first.IDs}
	if first.Pagination != nil && first.Pagination.NumPages > 1 {
		numPages := first.Pagination.NumPages
		pages = append(pages, make([][]string, numPages-1)...)

		var wg sync.WaitGroup
		var mu sync.Mutex
		var firstErr error

		for page := 2; page <= numPages; page++ {
			wg.Add(1)
			go func(page int) {
				defer wg.Done()
				payload, err := f.fetchIDPage(ctx, sess, path, filter, page)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					if firstErr == nil {
						firstErr = err
					}
					return
				}
				pages[page-1] = payload.IDs
			}(page)
		}
		wg.Wait()

		if firstErr != nil {
			return nil, firstErr
		}
	}

	return dedupe(pages), nil
}

// fetchIDPage requests a single ids-only page
func (f *Fetcher) fetchIDPage(ctx context.Context, sess gateway.SessionContext, path string, filter map[string]any, page int) (*IDsPayload, error) {
	params := make(map[string]any, len(filter)+2)
	for k, v := range filter {
		params[k] = v
	}
	params["format"] = "ids_only"
	params["pagination"] = map[string]any{
		"current_page": page,
		"page_size":    idsPageSize,
	}

	env, err := f.client.Do(ctx, sess, Request{
		Method:       http.MethodGet,
		Path:         path,
		Params:       params,
		RequiresAuth: true,
	})
	if err != nil {
		return nil, err
	}
	if !env.IsSuccess() {
		return nil, fmt.Errorf("upstream: ids fetch for %s page %d failed: %s", path, page, env.Message)
	}

	var payload IDsPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil, fmt.Errorf("upstream: failed to parse ids payload for %s: %w", path, err)
		}
	}
	return &payload, nil
}

// FetchDetails retrieves the full records for the given ids, one concurrent
// request per batch. Records are concatenated in arrival order; callers that
// need a stable order must re-sort by a domain key. batchSize <= 0 uses the
// fetcher's default.
func (f *Fetcher) FetchDetails(ctx context.Context, sess gateway.SessionContext, path string, ids []string, batchSize int) ([]json.RawMessage, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = f.batchSize
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	records := make([]json.RawMessage, 0, len(ids))

	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		wg.Add(1)
		go func(batch []string) {
			defer wg.Done()
			items, err := f.fetchBatch(ctx, sess, path, batch)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			records = append(records, items...)
		}(batch)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return records, nil
}

// fetchBatch requests the detail records for one batch of ids
func (f *Fetcher) fetchBatch(ctx context.Context, sess gateway.SessionContext, path string, ids []string) ([]json.RawMessage, error) {
	env, err := f.client.Do(ctx, sess, Request{
		Method: http.MethodGet,
		Path:   path,
		Params: map[string]any{
			"filter": map[string]any{"ids": ids},
			"pagination": map[string]any{
				"current_page": 1,
				"page_size":    len(ids),
			},
		},
		RequiresAuth: true,
	})
	if err != nil {
		return nil, err
	}
	if !env.IsSuccess() {
		return nil, fmt.Errorf("upstream: detail fetch for %s failed: %s", path, env.Message)
	}

	var payload ItemsPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil, fmt.Errorf("upstream: failed to parse items payload for %s: %w", path, err)
		}
	}
	return payload.Items, nil
}

// FetchOne retrieves a single record by id, or nil when the upstream has no
// record for it.
func (f *Fetcher) FetchOne(ctx context.Context, sess gateway.SessionContext, path, id string) (json.RawMessage, error) {
	items, err := f.fetchBatch(ctx, sess, path, []string{id})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

// dedupe concatenates id pages preserving first occurrence order
func dedupe(pages [][]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, page := range pages {
		for _, id := range page {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
