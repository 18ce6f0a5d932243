package crm

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// centsPerUnit converts upstream money amounts, reported in cents, to
// currency units.
const centsPerUnit = 100

// rawQuote mirrors the subset of the upstream quote record the domain cares
// about. Everything else stays opaque inside SyncMeta.Source.
type rawQuote struct {
	ID         string `json:"id"`
	Code       string `json:"code"`
	StatusName string `json:"status_name"`
	Customer   struct {
		FullName string `json:"full_name"`
	} `json:"customer"`
	TotalExVATCents    int64  `json:"total_ex_vat_cents"`
	TotalVATCents      int64  `json:"total_vat_cents"`
	TotalDiscountCents int64  `json:"total_discount_cents"`
	TotalInclVATCents  int64  `json:"total_incl_vat_cents"`
	Created            string `json:"created"`
	Modified           string `json:"modified"`
}

// MapQuote maps a raw upstream quote record to domain-shaped fields. It is a
// pure function; unparseable timestamps fall back to the zero time and are
// resolved by the reconciler.
func MapQuote(source json.RawMessage) (QuoteFields, error) {
	var raw rawQuote
	if err := json.Unmarshal(source, &raw); err != nil {
		return QuoteFields{}, fmt.Errorf("crm: failed to parse quote record: %w", err)
	}

	code := raw.Code
	if code == "" {
		code = raw.ID
	}

	return QuoteFields{
		Code:         code,
		Status:       raw.StatusName,
		CustomerName: raw.Customer.FullName,
		Totals: Totals{
			Subtotal:   centsToAmount(raw.TotalExVATCents),
			Discount:   centsToAmount(raw.TotalDiscountCents),
			Tax:        centsToAmount(raw.TotalVATCents),
			GrandTotal: centsToAmount(raw.TotalInclVATCents),
		},
		Created:  parseUpstreamTime(raw.Created),
		Modified: parseUpstreamTime(raw.Modified),
	}, nil
}

// centsToAmount converts a cent amount to currency units.
func centsToAmount(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Div(decimal.NewFromInt(centsPerUnit))
}

// parseUpstreamTime parses the timestamp formats the upstream is known to
// emit. Returns the zero time when none match.
func parseUpstreamTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}
