package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/crm/backend/internal/domain/crm"
	"github.com/crm/backend/internal/domain/gateway"
)

// QuoteReader is the slice of the quote service the HTTP layer needs
type QuoteReader interface {
	ListQuoteIDs(ctx context.Context, sess gateway.SessionContext, filter map[string]any) ([]string, error)
	FetchQuotes(ctx context.Context, sess gateway.SessionContext, filter map[string]any) ([]json.RawMessage, error)
	GetQuote(ctx context.Context, sess gateway.SessionContext, reference string) (*crm.SyncedQuote, error)
	GetQuoteFresh(ctx context.Context, sess gateway.SessionContext, reference string) (*crm.SyncedQuote, error)
}

// QuoteHandler handles quote API endpoints
type QuoteHandler struct {
	quotes QuoteReader
	logger *zap.Logger
}

// NewQuoteHandler creates a new QuoteHandler
func NewQuoteHandler(quotes QuoteReader, logger *zap.Logger) *QuoteHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuoteHandler{quotes: quotes, logger: logger}
}

// TotalsResponse carries the money amounts of a quote
type TotalsResponse struct {
	Subtotal   decimal.Decimal `json:"subtotal"`
	Discount   decimal.Decimal `json:"discount"`
	Tax        decimal.Decimal `json:"tax"`
	GrandTotal decimal.Decimal `json:"grand_total"`
}

// TimelineEntryResponse is one event in a quote's local history
type TimelineEntryResponse struct {
	When  time.Time `json:"when"`
	What  string    `json:"what"`
	Who   string    `json:"who"`
	Notes string    `json:"notes,omitempty"`
}

// QuoteResponse is the API representation of a synced quote
type QuoteResponse struct {
	ID           string                  `json:"id"`
	Reference    string                  `json:"reference"`
	Code         string                  `json:"code"`
	Status       string                  `json:"status"`
	CustomerName string                  `json:"customer_name"`
	Totals       TotalsResponse          `json:"totals"`
	LastSync     time.Time               `json:"last_sync"`
	NextSync     time.Time               `json:"next_sync"`
	Created      time.Time               `json:"created"`
	Modified     time.Time               `json:"modified"`
	Timeline     []TimelineEntryResponse `json:"timeline"`
}

// toQuoteResponse maps a domain quote to its API shape
func toQuoteResponse(q *crm.SyncedQuote) QuoteResponse {
	timeline := make([]TimelineEntryResponse, 0, len(q.Timeline))
	for _, e := range q.Timeline {
		timeline = append(timeline, TimelineEntryResponse{
			When:  e.When,
			What:  e.What,
			Who:   e.Who,
			Notes: e.Notes,
		})
	}
	return QuoteResponse{
		ID:           q.ID.String(),
		Reference:    q.Meta.Reference,
		Code:         q.Code,
		Status:       q.Status,
		CustomerName: q.CustomerName,
		Totals: TotalsResponse{
			Subtotal:   q.Totals.Subtotal,
			Discount:   q.Totals.Discount,
			Tax:        q.Totals.Tax,
			GrandTotal: q.Totals.GrandTotal,
		},
		LastSync: q.Meta.LastSync,
		NextSync: q.Meta.NextSync,
		Created:  q.Created,
		Modified: q.Modified,
		Timeline: timeline,
	}
}

// parseFilter decodes the optional `filter` query value, a JSON object in the
// upstream's own filter vocabulary.
func parseFilter(c *gin.Context) (map[string]any, error) {
	raw := c.Query("filter")
	if raw == "" {
		return nil, nil
	}
	var filter map[string]any
	if err := json.Unmarshal([]byte(raw), &filter); err != nil {
		return nil, err
	}
	return filter, nil
}

// ListIDs returns the ids of all quotes matching the filter
// GET /api/v1/quotes/ids?filter={"status":"active"}
func (h *QuoteHandler) ListIDs(c *gin.Context) {
	sess, err := sessionFromRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Status: "failed", Message: err.Error()})
		return
	}

	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Status: "failed", Message: "invalid filter: " + err.Error()})
		return
	}

	ids, err := h.quotes.ListQuoteIDs(c.Request.Context(), sess, filter)
	if err != nil {
		respondError(c, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	respondOK(c, gin.H{"ids": ids, "count": len(ids)})
}

// List returns the raw upstream records of all quotes matching the filter
// GET /api/v1/quotes?filter={"status":"active"}
func (h *QuoteHandler) List(c *gin.Context) {
	sess, err := sessionFromRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Status: "failed", Message: err.Error()})
		return
	}

	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Status: "failed", Message: "invalid filter: " + err.Error()})
		return
	}

	records, err := h.quotes.FetchQuotes(c.Request.Context(), sess, filter)
	if err != nil {
		respondError(c, err)
		return
	}
	if records == nil {
		records = []json.RawMessage{}
	}
	respondOK(c, gin.H{"items": records, "count": len(records)})
}

// Get returns the synced quote document for a reference
// GET /api/v1/quotes/:reference
func (h *QuoteHandler) Get(c *gin.Context) {
	sess, err := sessionFromRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Status: "failed", Message: err.Error()})
		return
	}

	quote, err := h.quotes.GetQuote(c.Request.Context(), sess, c.Param("reference"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, toQuoteResponse(quote))
}

// Refresh forces a fresh fetch and reconciliation for a reference
// POST /api/v1/quotes/:reference/refresh
func (h *QuoteHandler) Refresh(c *gin.Context) {
	sess, err := sessionFromRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Status: "failed", Message: err.Error()})
		return
	}

	reference := c.Param("reference")
	h.logger.Info("forced quote refresh",
		zap.String("reference", reference),
		zap.String("tenant_id", sess.TenantID.String()),
	)

	quote, err := h.quotes.GetQuoteFresh(c.Request.Context(), sess, reference)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, toQuoteResponse(quote))
}
