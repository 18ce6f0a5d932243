package crm

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrSyncedQuoteNotFound indicates no local document exists for the
// requested (owner, reference) pair.
var ErrSyncedQuoteNotFound = errors.New("crm: synced quote not found")

// Timeline event kinds.
const (
	TimelineEventSynchronized = "synchronized"
	TimelineEventNote         = "note"
)

// SyncMeta describes how a local document relates to its upstream source
// record.
type SyncMeta struct {
	// Owner is the tenant the document belongs to.
	Owner uuid.UUID `json:"owner"`
	// Reference is the upstream's immutable external id.
	Reference string `json:"reference"`
	// Source is the raw upstream record as last fetched. Replaced
	// wholesale on every reconciliation.
	Source json.RawMessage `json:"source"`
	// LastSync is when the document was last reconciled.
	LastSync time.Time `json:"lastSync"`
	// NextSync is advisory: when other subsystems should consider the
	// reconciliation due for refresh. The gateway itself schedules
	// nothing.
	NextSync time.Time `json:"nextSync"`
	// MustSync forces the next access to reconcile regardless of NextSync.
	MustSync bool `json:"mustSync"`
}

// Totals holds the money amounts derived from the upstream record. The
// upstream reports amounts in cents.
type Totals struct {
	Subtotal   decimal.Decimal `json:"subtotal"`
	Discount   decimal.Decimal `json:"discount"`
	Tax        decimal.Decimal `json:"tax"`
	GrandTotal decimal.Decimal `json:"grandTotal"`
}

// TimelineEntry records one event in a document's local history. Timeline
// entries are local-only: reconciliation never rewrites them.
type TimelineEntry struct {
	When  time.Time `json:"when"`
	What  string    `json:"what"`
	Who   string    `json:"who"`
	Notes string    `json:"notes,omitempty"`
}

// SyncedQuote is the locally persisted representation of an upstream quote.
// It is created on the first successful fetch of a reference for an owner
// and updated in place on every later fetch. Only explicit user action
// destroys it.
type SyncedQuote struct {
	ID           uuid.UUID
	Meta         SyncMeta
	Code         string
	Status       string
	CustomerName string
	Totals       Totals
	Created      time.Time
	Modified     time.Time
	Timeline     []TimelineEntry
}

// AppendTimeline adds a local history entry.
func (q *SyncedQuote) AppendTimeline(entry TimelineEntry) {
	q.Timeline = append(q.Timeline, entry)
}

// QuoteFields is the domain-shaped projection of a raw upstream record,
// produced by a MapFunc.
type QuoteFields struct {
	Code         string
	Status       string
	CustomerName string
	Totals       Totals
	Created      time.Time
	Modified     time.Time
}

// MapFunc maps a raw upstream record to domain-shaped fields.
// Implementations are pure functions and unit-testable in isolation.
type MapFunc func(source json.RawMessage) (QuoteFields, error)

// SyncedQuoteRepository persists synced quotes. The storage lifetime of a
// document is owned by this layer's implementation, not by the reconciler.
type SyncedQuoteRepository interface {
	// FindByReference finds the document for (owner, reference), or
	// ErrSyncedQuoteNotFound.
	FindByReference(ctx context.Context, owner uuid.UUID, reference string) (*SyncedQuote, error)

	// Save creates or updates a document.
	Save(ctx context.Context, quote *SyncedQuote) error
}
