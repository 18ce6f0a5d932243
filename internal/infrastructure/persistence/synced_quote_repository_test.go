package persistence

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/crm/backend/internal/domain/crm"
	"github.com/crm/backend/internal/domain/gateway"
)

// newMockSyncedQuoteRepository creates a GormSyncedQuoteRepository with a
// mocked SQL connection
func newMockSyncedQuoteRepository(t *testing.T) (*GormSyncedQuoteRepository, sqlmock.Sqlmock, *sql.DB) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	return NewGormSyncedQuoteRepository(gormDB), mock, mockDB
}

func quoteColumns() []string {
	return []string{
		"id", "owner_id", "reference", "source", "last_sync", "next_sync", "must_sync",
		"code", "status", "customer_name", "subtotal", "discount", "tax", "grand_total",
		"timeline", "created_at", "updated_at",
	}
}

func TestGormSyncedQuoteRepository_FindByReference(t *testing.T) {
	t.Run("finds an existing document", func(t *testing.T) {
		repo, mock, mockDB := newMockSyncedQuoteRepository(t)
		defer mockDB.Close()

		docID := uuid.New()
		ownerID := uuid.New()
		now := time.Now()

		rows := sqlmock.NewRows(quoteColumns()).
			AddRow(docID, ownerID, "q-1", `{"id":"q-1"}`, now, now.Add(3*time.Minute), false,
				"Q-1", "Open", "Acme Trading", decimal.NewFromInt(100), decimal.Zero, decimal.NewFromInt(15), decimal.NewFromInt(115),
				`[{"when":"2026-02-10T12:00:00Z","what":"synchronized","who":"alice"}]`, now, now)

		mock.ExpectQuery(`SELECT \* FROM "synced_quotes" WHERE owner_id = \$1 AND reference = \$2 .* LIMIT .*`).
			WithArgs(ownerID, "q-1", 1).
			WillReturnRows(rows)

		doc, err := repo.FindByReference(context.Background(), ownerID, "q-1")

		require.NoError(t, err)
		require.NotNil(t, doc)
		assert.Equal(t, docID, doc.ID)
		assert.Equal(t, ownerID, doc.Meta.Owner)
		assert.Equal(t, "q-1", doc.Meta.Reference)
		assert.Equal(t, "Q-1", doc.Code)
		assert.Equal(t, "Acme Trading", doc.CustomerName)
		assert.True(t, decimal.NewFromInt(115).Equal(doc.Totals.GrandTotal))
		assert.JSONEq(t, `{"id":"q-1"}`, string(doc.Meta.Source))
		require.Len(t, doc.Timeline, 1)
		assert.Equal(t, crm.TimelineEventSynchronized, doc.Timeline[0].What)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("maps a missing row to the domain error", func(t *testing.T) {
		repo, mock, mockDB := newMockSyncedQuoteRepository(t)
		defer mockDB.Close()

		ownerID := uuid.New()

		mock.ExpectQuery(`SELECT \* FROM "synced_quotes" WHERE owner_id = \$1 AND reference = \$2 .* LIMIT .*`).
			WithArgs(ownerID, "missing", 1).
			WillReturnError(gorm.ErrRecordNotFound)

		doc, err := repo.FindByReference(context.Background(), ownerID, "missing")

		assert.Nil(t, doc)
		assert.ErrorIs(t, err, crm.ErrSyncedQuoteNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormSyncedQuoteRepository_Save(t *testing.T) {
	sampleQuote := func() *crm.SyncedQuote {
		now := time.Now()
		return &crm.SyncedQuote{
			ID: uuid.New(),
			Meta: crm.SyncMeta{
				Owner:     uuid.New(),
				Reference: "q-1",
				Source:    []byte(`{"id":"q-1"}`),
				LastSync:  now,
				NextSync:  now.Add(3 * time.Minute),
			},
			Code:         "Q-1",
			Status:       "Open",
			CustomerName: "Acme Trading",
			Totals: crm.Totals{
				Subtotal:   decimal.NewFromInt(100),
				Tax:        decimal.NewFromInt(15),
				GrandTotal: decimal.NewFromInt(115),
			},
			Created:  now,
			Modified: now,
			Timeline: []crm.TimelineEntry{{When: now, What: crm.TimelineEventSynchronized, Who: "alice"}},
		}
	}

	t.Run("updates an existing document", func(t *testing.T) {
		repo, mock, mockDB := newMockSyncedQuoteRepository(t)
		defer mockDB.Close()

		mock.ExpectExec(`UPDATE "synced_quotes" SET`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.Save(context.Background(), sampleQuote())

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("inserts when no row was updated", func(t *testing.T) {
		repo, mock, mockDB := newMockSyncedQuoteRepository(t)
		defer mockDB.Close()

		mock.ExpectExec(`UPDATE "synced_quotes" SET`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`INSERT INTO "synced_quotes"`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.Save(context.Background(), sampleQuote())

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wraps write failures in a persistence error", func(t *testing.T) {
		repo, mock, mockDB := newMockSyncedQuoteRepository(t)
		defer mockDB.Close()

		mock.ExpectExec(`UPDATE "synced_quotes" SET`).
			WillReturnError(errors.New("connection reset"))

		err := repo.Save(context.Background(), sampleQuote())

		var perr *gateway.PersistenceError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "save synced quote", perr.Op)
		assert.ErrorContains(t, perr.Err, "connection reset")
	})
}
