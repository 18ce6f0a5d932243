package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/crm/backend/internal/domain/crm"
)

// SyncedQuoteModel is the persistence model for the SyncedQuote domain
// entity. Source and timeline are stored as JSON documents; the remaining
// columns are denormalized for querying.
type SyncedQuoteModel struct {
	ID           uuid.UUID       `gorm:"type:uuid;primary_key"`
	OwnerID      uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_synced_quotes_owner_reference,priority:1"`
	Reference    string          `gorm:"type:varchar(100);not null;uniqueIndex:idx_synced_quotes_owner_reference,priority:2"`
	SourceJSON   string          `gorm:"type:jsonb;column:source"`
	LastSync     time.Time       `gorm:"not null"`
	NextSync     time.Time       `gorm:"not null;index"`
	MustSync     bool            `gorm:"not null;default:false"`
	Code         string          `gorm:"type:varchar(100);not null"`
	Status       string          `gorm:"type:varchar(50)"`
	CustomerName string          `gorm:"type:varchar(255)"`
	Subtotal     decimal.Decimal `gorm:"type:numeric(18,2)"`
	Discount     decimal.Decimal `gorm:"type:numeric(18,2)"`
	Tax          decimal.Decimal `gorm:"type:numeric(18,2)"`
	GrandTotal   decimal.Decimal `gorm:"type:numeric(18,2)"`
	TimelineJSON string          `gorm:"type:jsonb;column:timeline"`
	CreatedAt    time.Time       `gorm:"not null"`
	UpdatedAt    time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SyncedQuoteModel) TableName() string {
	return "synced_quotes"
}

// ToDomain converts the persistence model to a domain SyncedQuote
func (m *SyncedQuoteModel) ToDomain() *crm.SyncedQuote {
	quote := &crm.SyncedQuote{
		ID: m.ID,
		Meta: crm.SyncMeta{
			Owner:     m.OwnerID,
			Reference: m.Reference,
			LastSync:  m.LastSync,
			NextSync:  m.NextSync,
			MustSync:  m.MustSync,
		},
		Code:         m.Code,
		Status:       m.Status,
		CustomerName: m.CustomerName,
		Totals: crm.Totals{
			Subtotal:   m.Subtotal,
			Discount:   m.Discount,
			Tax:        m.Tax,
			GrandTotal: m.GrandTotal,
		},
		Created:  m.CreatedAt,
		Modified: m.UpdatedAt,
		Timeline: make([]crm.TimelineEntry, 0),
	}

	if m.SourceJSON != "" {
		quote.Meta.Source = json.RawMessage(m.SourceJSON)
	}
	if m.TimelineJSON != "" {
		var timeline []crm.TimelineEntry
		if err := json.Unmarshal([]byte(m.TimelineJSON), &timeline); err == nil {
			quote.Timeline = timeline
		}
	}

	return quote
}

// FromDomain populates the persistence model from a domain SyncedQuote
func (m *SyncedQuoteModel) FromDomain(q *crm.SyncedQuote) error {
	m.ID = q.ID
	m.OwnerID = q.Meta.Owner
	m.Reference = q.Meta.Reference
	m.LastSync = q.Meta.LastSync
	m.NextSync = q.Meta.NextSync
	m.MustSync = q.Meta.MustSync
	m.Code = q.Code
	m.Status = q.Status
	m.CustomerName = q.CustomerName
	m.Subtotal = q.Totals.Subtotal
	m.Discount = q.Totals.Discount
	m.Tax = q.Totals.Tax
	m.GrandTotal = q.Totals.GrandTotal
	m.CreatedAt = q.Created
	m.UpdatedAt = q.Modified

	if len(q.Meta.Source) > 0 {
		m.SourceJSON = string(q.Meta.Source)
	}
	timeline, err := json.Marshal(q.Timeline)
	if err != nil {
		return err
	}
	m.TimelineJSON = string(timeline)

	return nil
}
