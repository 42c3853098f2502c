package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"catalogsync/internal/clock"
	"catalogsync/internal/database"
	"catalogsync/internal/models"
	apperrors "catalogsync/pkg/errors"
)

var baseTime = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*GormStore, *clock.FakeClock) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		_ = sqlDB.Close()
	})
	clk := clock.NewFakeClock(baseTime)
	return NewGormStore(db, clk), clk
}

func newProduct(n int) *models.Product {
	return &models.Product{
		ImageID:        fmt.Sprintf("img-%03d", n),
		Handle:         fmt.Sprintf("design-%03d", n),
		HandleFragment: fmt.Sprintf("design-%03d", n),
		Category:       models.CategoryTee,
		PriceBand:      models.PriceBandCore,
		View:           models.ViewFront,
		ConceptName:    fmt.Sprintf("Concept %d", n),
		Title:          fmt.Sprintf("Tee %d", n),
		Description:    "Graphic tee",
		PriceINR:       799,
	}
}

func TestGormStoreCreateAssignsDefaults(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	p := newProduct(1)
	require.NoError(t, store.Create(ctx, p))

	got, err := store.FindByKey(ctx, KeyImageID, "img-001")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.NotEmpty(t, got.SKU)
	assert.Equal(t, models.StatusDraft, got.Status)
	assert.Equal(t, "Tee 1", got.MetaTitle)
	assert.Equal(t, "Graphic tee", got.MetaDescription)
	assert.True(t, baseTime.Equal(got.CreatedAt))
	assert.True(t, baseTime.Equal(got.UpdatedAt))
}

func TestGormStoreDuplicateImageID(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newProduct(1)))

	dup := newProduct(2)
	dup.ImageID = "img-001"
	err := store.Create(ctx, dup)
	require.Error(t, err)
	assert.True(t, apperrors.IsDuplicateKey(err))

	var dupErr *apperrors.ErrDuplicateKey
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, "image_id", dupErr.Field)

	count, err := store.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestGormStoreDuplicateHandle(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newProduct(1)))
	dup := newProduct(2)
	dup.Handle = "design-001"

	var dupErr *apperrors.ErrDuplicateKey
	require.ErrorAs(t, store.Create(ctx, dup), &dupErr)
	assert.Equal(t, "handle", dupErr.Field)
}

func TestGormStoreValidationIsNotDuplicate(t *testing.T) {
	store, _ := newTestStore(t)
	p := newProduct(1)
	p.PriceBand = "LUXURY"

	err := store.Create(context.Background(), p)
	assert.True(t, apperrors.IsValidation(err))
	assert.False(t, apperrors.IsDuplicateKey(err))
}

func TestGormStorePagination(t *testing.T) {
	store, clk := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 45; i++ {
		require.NoError(t, store.Create(ctx, newProduct(i)))
		clk.Advance(time.Second)
	}

	first, err := store.FindMany(ctx, Query{Page: 1, Limit: 20})
	require.NoError(t, err)
	assert.Len(t, first.Items, 20)
	assert.EqualValues(t, 45, first.Total)
	assert.Equal(t, 3, first.TotalPages)
	assert.True(t, first.HasNext)
	assert.False(t, first.HasPrev)
	assert.Equal(t, "img-045", first.Items[0].ImageID, "default sort is newest first")

	last, err := store.FindMany(ctx, Query{Page: 3, Limit: 20})
	require.NoError(t, err)
	assert.Len(t, last.Items, 5)
	assert.Equal(t, 3, last.CurrentPage)
	assert.False(t, last.HasNext)
	assert.True(t, last.HasPrev)
}

func TestGormStoreFilterAndSearch(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	wolf := newProduct(1)
	wolf.Category = models.CategoryHoodie
	wolf.Title = "Midnight WOLF Hoodie"
	require.NoError(t, store.Create(ctx, wolf))

	tagged := newProduct(2)
	tagged.Tags = []string{"streetwear", "wolfpack"}
	require.NoError(t, store.Create(ctx, tagged))

	other := newProduct(3)
	other.Tags = []string{"minimal"}
	require.NoError(t, store.Create(ctx, other))

	page, err := store.FindMany(ctx, Query{Filter: Filter{Search: "wolf"}})
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.Total)

	page, err = store.FindMany(ctx, Query{Filter: Filter{Search: "wolf", Category: models.CategoryHoodie}})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "img-001", page.Items[0].ImageID)

	page, err = store.FindMany(ctx, Query{Filter: Filter{Search: "100%"}})
	require.NoError(t, err)
	assert.EqualValues(t, 0, page.Total)
}

func TestGormStoreSort(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for i, score := range []float64{0.4, 0.9, 0.1} {
		p := newProduct(i + 1)
		p.VisualCoolnessScore = score
		require.NoError(t, store.Create(ctx, p))
	}

	page, err := store.FindMany(ctx, Query{Sort: "-visual_coolness_score"})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.Equal(t, 0.9, page.Items[0].VisualCoolnessScore)
	assert.Equal(t, 0.1, page.Items[2].VisualCoolnessScore)

	_, err = store.FindMany(ctx, Query{Sort: "password"})
	assert.True(t, apperrors.IsValidation(err))
}

func TestGormStoreUpsertByKey(t *testing.T) {
	store, clk := newTestStore(t)
	ctx := context.Background()

	created, err := store.UpsertByKey(ctx, "img-001", newProduct(1))
	require.NoError(t, err)
	assert.True(t, created)
	original, err := store.FindByKey(ctx, KeyImageID, "img-001")
	require.NoError(t, err)

	clk.Advance(time.Hour)
	next := newProduct(1)
	next.Title = "Renamed"
	next.SKU = original.SKU
	created, err = store.UpsertByKey(ctx, "img-001", next)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := store.FindByKey(ctx, KeyImageID, "img-001")
	require.NoError(t, err)
	assert.Equal(t, original.ID, got.ID)
	assert.Equal(t, "Renamed", got.Title)
	assert.True(t, original.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, baseTime.Add(time.Hour).Equal(got.UpdatedAt))

	count, err := store.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestGormStoreImagePositionsStayDense(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	p := newProduct(1)
	require.NoError(t, store.Create(ctx, p))
	p.AppendImages([]models.Image{{URL: "/a.jpg"}, {URL: "/b.jpg"}, {URL: "/c.jpg"}})
	require.NoError(t, store.Update(ctx, p))

	p, err := store.FindByKey(ctx, KeyID, p.ID)
	require.NoError(t, err)
	_, err = p.RemoveImage(1)
	require.NoError(t, err)
	require.NoError(t, store.Update(ctx, p))

	got, err := store.FindByKey(ctx, KeyID, p.ID)
	require.NoError(t, err)
	require.Len(t, got.Images, 2)
	assert.Equal(t, 1, got.Images[0].Position)
	assert.Equal(t, 2, got.Images[1].Position)
	assert.Equal(t, "/c.jpg", got.Images[1].URL)
}

func TestGormStoreUpdateAndDeleteMissing(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	p := newProduct(1)
	p.ID = "00000000-0000-0000-0000-000000000000"
	assert.True(t, apperrors.IsNotFound(store.Update(ctx, p)))
	assert.True(t, apperrors.IsNotFound(store.Delete(ctx, p.ID)))

	_, err := store.FindByKey(ctx, KeyHandle, "nope")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestGormStoreLatestUpdate(t *testing.T) {
	store, clk := newTestStore(t)
	ctx := context.Background()

	latest, err := store.LatestUpdate(ctx)
	require.NoError(t, err)
	assert.True(t, latest.IsZero())

	require.NoError(t, store.Create(ctx, newProduct(1)))
	clk.Advance(time.Minute)
	require.NoError(t, store.Create(ctx, newProduct(2)))

	latest, err = store.LatestUpdate(ctx)
	require.NoError(t, err)
	assert.True(t, baseTime.Add(time.Minute).Equal(latest))
}

func TestGormStoreStats(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	synced := newProduct(1)
	id := "shopify-1"
	synced.ShopifyProductID = &id
	synced.Status = models.StatusSynced
	synced.AppendImages([]models.Image{{URL: "/a.jpg"}})
	require.NoError(t, store.Create(ctx, synced))
	require.NoError(t, store.Create(ctx, newProduct(2)))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Total)
	assert.EqualValues(t, 1, stats.WithImages)
	assert.EqualValues(t, 1, stats.Synced)
	assert.EqualValues(t, 1, stats.ByStatus["synced"])
	assert.EqualValues(t, 1, stats.ByStatus["draft"])
	assert.EqualValues(t, 2, stats.ByCategory["Tee"])
	require.NotNil(t, stats.LastUpdated)
}
