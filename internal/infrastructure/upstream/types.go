package upstream

import (
	"encoding/json"

	"github.com/crm/backend/internal/domain/gateway"
)

// Envelope is the uniform upstream response body: a status discriminator
// plus an opaque payload. An absent status counts as success; only an
// explicit "failed" marks a failure. Transport-level problems are reported
// through the same shape so every call site can use one success check.
type Envelope struct {
	Status  string          `json:"status,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Message string          `json:"message,omitempty"`
}

// IsSuccess reports whether the envelope carries a usable payload
func (e *Envelope) IsSuccess() bool {
	return e.Status != gateway.StatusFailed
}

// failedEnvelope builds the soft failure shape returned for transport and
// decode problems
func failedEnvelope(message string) *Envelope {
	return &Envelope{Status: gateway.StatusFailed, Message: message}
}

// Pagination is the upstream's paging metadata, present on collection
// responses.
type Pagination struct {
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
	NumPages    int   `json:"num_pages"`
	NumItems    int64 `json:"num_items"`
	HasNextPage bool  `json:"has_next_page"`
}

// IDsPayload is the payload of an ids-only collection response. The ids are
// a prefix slice of the full result set in the upstream's own ordering;
// completeness requires walking the remaining pages.
type IDsPayload struct {
	IDs        []string    `json:"ids"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// ItemsPayload is the payload of a detail response for a batch of ids
type ItemsPayload struct {
	Items      []json.RawMessage `json:"items"`
	Pagination *Pagination       `json:"pagination,omitempty"`
}
