//go:build integration

package repository

// Repository tests against a real Postgres via testcontainers.
// Run with: go test -tags integration ./internal/repository/... -v

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"gorm.io/gorm"

	"github.com/LougLynx/RIG-SYSTEM/internal/infra"
	"github.com/LougLynx/RIG-SYSTEM/internal/model"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	pgC, err := tcPostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		tcPostgres.WithDatabase("rig_test"),
		tcPostgres.WithUsername("rig"),
		tcPostgres.WithPassword("rig"),
		tcPostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := infra.NewDatabase(infra.DatabaseConfig{Driver: "postgres", DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, infra.RunMigrations(db))
	// migrations are idempotent
	require.NoError(t, infra.RunMigrations(db))
	return db
}

func TestReceivingRepository_Postgres(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewReceivingRepository(db)
	delivered := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	require.NoError(t, repo.UpsertSupplier(ctx, &model.Supplier{SupplierCode: "S1", SupplierName: "Old name"}))
	require.NoError(t, repo.UpsertSupplier(ctx, &model.Supplier{SupplierCode: "S1", SupplierName: "ACME"}))

	rec := &model.ReceivingRecord{
		SupplierCode:       "S1",
		DoNumber:           model.OptionalString("D1"),
		Invoice:            model.OptionalString("I1"),
		ActualDeliveryTime: delivered,
		TagName:            "S1",
	}
	require.NoError(t, repo.Create(ctx, rec))
	require.NotEqual(t, "", rec.ID.String())

	t.Run("identity lookup is NULL aware", func(t *testing.T) {
		got, err := repo.FindByIdentity(ctx, "S1", model.NewIdentityTriple("", "D1", "I1"))
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID)

		_, err = repo.FindByIdentity(ctx, "S1", model.NewIdentityTriple("A1", "D1", "I1"))
		assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
	})

	t.Run("details and patches", func(t *testing.T) {
		require.NoError(t, repo.CreateDetail(ctx, &model.ReceivingDetail{ReceivingRecordID: rec.ID, PartNo: "P2", Quantity: 5, QuantityRemain: 5}))
		require.NoError(t, repo.CreateDetail(ctx, &model.ReceivingDetail{ReceivingRecordID: rec.ID, PartNo: "P1", Quantity: 3, QuantityRemain: 3}))
		err := repo.CreateDetail(ctx, &model.ReceivingDetail{ReceivingRecordID: rec.ID, PartNo: "P1", Quantity: 1})
		assert.Error(t, err, "one line per part number")

		lines, err := repo.ListDetails(ctx, rec.ID)
		require.NoError(t, err)
		require.Len(t, lines, 2)

		scan, loc, in := 3, "R-01", true
		require.NoError(t, repo.PatchDetail(ctx, lines[0].ID, DetailPatch{QuantityScan: &scan, StockInStatus: &in, StockInLocation: &loc}))

		full, err := repo.FindByID(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, "ACME", full.SupplierName())
		require.Len(t, full.Details, 2)
		assert.Equal(t, "P1", full.Details[0].PartNo)
		assert.True(t, full.Details[0].StockedIn())
	})

	t.Run("state updates and lists", func(t *testing.T) {
		require.NoError(t, repo.UpdateLeadTime(ctx, rec.ID, 42*time.Minute))
		incomplete, err := repo.ListIncomplete(ctx)
		require.NoError(t, err)
		require.Len(t, incomplete, 1)
		require.NotNil(t, incomplete[0].ActualLeadTime)
		assert.Equal(t, 42*time.Minute, *incomplete[0].ActualLeadTime)
		require.Len(t, incomplete[0].Details, 2, "open records carry their lines")
		assert.Equal(t, "P1", incomplete[0].Details[0].PartNo)

		unstored, err := repo.ListUnstored(ctx)
		require.NoError(t, err)
		assert.Empty(t, unstored, "open records are not storage candidates")

		require.NoError(t, repo.UpdateCompletion(ctx, rec.ID, true))
		unstored, err = repo.ListUnstored(ctx)
		require.NoError(t, err)
		assert.Len(t, unstored, 1)

		require.NoError(t, repo.UpdateStorageTime(ctx, rec.ID, delivered.Add(2*time.Hour)))
		require.NoError(t, repo.UpdateStored(ctx, rec.ID, true))

		incomplete, err = repo.ListIncomplete(ctx)
		require.NoError(t, err)
		assert.Empty(t, incomplete)
		unstored, err = repo.ListUnstored(ctx)
		require.NoError(t, err)
		assert.Empty(t, unstored)

		day, err := repo.ListDeliveredBetween(ctx, delivered.Truncate(24*time.Hour), delivered.Truncate(24*time.Hour).Add(24*time.Hour))
		require.NoError(t, err)
		assert.Len(t, day, 1)
	})

	t.Run("history and detail replacement", func(t *testing.T) {
		full, err := repo.FindByID(ctx, rec.ID)
		require.NoError(t, err)
		require.NoError(t, repo.ArchiveToHistory(ctx, full))

		var n int64
		require.NoError(t, db.Model(&model.HistoryReceiving{}).Where("receiving_record_id = ?", rec.ID).Count(&n).Error)
		assert.Equal(t, int64(1), n)

		require.NoError(t, repo.DeleteDetailsByRecord(ctx, rec.ID))
		lines, err := repo.ListDetails(ctx, rec.ID)
		require.NoError(t, err)
		assert.Empty(t, lines)
	})
}

func TestPlanRepository_Postgres(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewPlanRepository(db)

	plan := &model.Plan{Name: "W11", EffectiveDate: time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), IsCurrent: true}
	require.NoError(t, db.Create(plan).Error)
	slot := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	detail := &model.PlanDetail{PlanID: plan.ID, SupplierCode: "S1", DeliveryTime: slot, WeekDay: int(slot.Weekday())}
	require.NoError(t, db.Create(detail).Error)
	require.NoError(t, db.Create(&model.TagRule{SupplierCode: "S1", TagName: "KCN"}).Error)

	rules, err := repo.ListTagRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)

	current, err := repo.FindCurrentPlan(ctx)
	require.NoError(t, err)
	assert.Equal(t, plan.ID, current.ID)

	n, err := repo.ArchivePlanDetails(ctx, slot)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = repo.ArchivePlanDetails(ctx, slot)
	require.NoError(t, err)
	assert.Zero(t, n, "second archive of the same day is a no-op")

	delay := &model.PlanDetailDelay{PlanDetailID: detail.ID, OldDate: slot, NewDate: slot.Add(24 * time.Hour), RequestedBy: "sup1"}
	require.NoError(t, repo.Reschedule(ctx, delay))
	moved, err := repo.FindPlanDetail(ctx, detail.ID)
	require.NoError(t, err)
	assert.True(t, moved.DeliveryTime.Equal(slot.Add(24*time.Hour)))
}

func TestScope_PinsConnection(t *testing.T) {
	db := setupDB(t)
	scope := NewScope(db)

	var saw bool
	err := scope.Do(context.Background(), func(ctx context.Context, st Store) error {
		_, err := st.Plans.ListTagRules(ctx)
		saw = err == nil
		return err
	})
	require.NoError(t, err)
	assert.True(t, saw)
	require.NoError(t, Ping(context.Background(), db))
}

func TestStore_TransactionRollsBack(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	st := NewStore(db)

	rec := &model.ReceivingRecord{
		SupplierCode:       "S9",
		AsnNumber:          model.OptionalString("A9"),
		ActualDeliveryTime: time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC),
		TagName:            "S9",
	}
	boom := errors.New("detail insert failed")
	err := st.Transaction(ctx, func(tx Store) error {
		require.NoError(t, tx.Receivings.UpsertSupplier(ctx, &model.Supplier{SupplierCode: "S9", SupplierName: "Nine"}))
		require.NoError(t, tx.Receivings.Create(ctx, rec))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = st.Receivings.FindByIdentity(ctx, "S9", rec.Triple())
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	again := &model.ReceivingRecord{
		SupplierCode:       "S9",
		AsnNumber:          model.OptionalString("A9"),
		ActualDeliveryTime: rec.ActualDeliveryTime,
		TagName:            "S9",
	}
	require.NoError(t, st.Transaction(ctx, func(tx Store) error {
		return tx.Receivings.Create(ctx, again)
	}))
	_, err = st.Receivings.FindByIdentity(ctx, "S9", again.Triple())
	assert.NoError(t, err)
}
