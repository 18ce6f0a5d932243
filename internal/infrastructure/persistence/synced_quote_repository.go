package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/crm/backend/internal/domain/crm"
	"github.com/crm/backend/internal/domain/gateway"
	"github.com/crm/backend/internal/infrastructure/persistence/models"
)

// GormSyncedQuoteRepository implements SyncedQuoteRepository using GORM
type GormSyncedQuoteRepository struct {
	db *gorm.DB
}

// NewGormSyncedQuoteRepository creates a new GormSyncedQuoteRepository
func NewGormSyncedQuoteRepository(db *gorm.DB) *GormSyncedQuoteRepository {
	return &GormSyncedQuoteRepository{db: db}
}

// FindByReference finds the document for (owner, reference)
func (r *GormSyncedQuoteRepository) FindByReference(ctx context.Context, owner uuid.UUID, reference string) (*crm.SyncedQuote, error) {
	var model models.SyncedQuoteModel
	if err := r.db.WithContext(ctx).
		Where("owner_id = ? AND reference = ?", owner, reference).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, crm.ErrSyncedQuoteNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Save creates or updates a document. Write failures surface as a
// PersistenceError so reconciliation callers can branch on kind.
func (r *GormSyncedQuoteRepository) Save(ctx context.Context, quote *crm.SyncedQuote) error {
	var model models.SyncedQuoteModel
	if err := model.FromDomain(quote); err != nil {
		return &gateway.PersistenceError{Op: "encode synced quote", Err: err}
	}

	if err := r.db.WithContext(ctx).Save(&model).Error; err != nil {
		return &gateway.PersistenceError{Op: "save synced quote", Err: err}
	}
	return nil
}

// Ensure GormSyncedQuoteRepository implements the repository port
var _ crm.SyncedQuoteRepository = (*GormSyncedQuoteRepository)(nil)
