package listings

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Migrate(context.Background(), db))
	return NewStore(db)
}

func sample(ownerID string) *Listing {
	return &Listing{
		OwnerID:    ownerID,
		Title:      "2019 Honda Civic LX",
		Make:       "Honda",
		Model:      "Civic",
		Year:       2019,
		Mileage:    42000,
		PriceCents: 1_650_000,
	}
}

func TestCreateAndGet(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	listing := sample("owner-1")
	require.NoError(t, store.Create(ctx, listing))
	assert.NotEmpty(t, listing.ID)
	assert.Equal(t, StatusDraft, listing.Status)
	assert.Equal(t, "USD", listing.Currency)

	got, err := store.GetByID(ctx, listing.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, listing.Title, got.Title)
	assert.Empty(t, got.PhotoKeys)
}

func TestGetMissingListing(t *testing.T) {
	store := setupStore(t)

	got, err := store.GetByID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCreateValidation(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	noTitle := sample("owner-1")
	noTitle.Title = ""
	assert.ErrorIs(t, store.Create(ctx, noTitle), ErrMissingTitle)

	freeCar := sample("owner-1")
	freeCar.PriceCents = 0
	assert.ErrorIs(t, store.Create(ctx, freeCar), ErrInvalidPrice)
}

func TestListFilters(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	honda := sample("owner-1")
	require.NoError(t, store.Create(ctx, honda))
	_, err := store.SetStatus(ctx, honda.ID, StatusPublished)
	require.NoError(t, err)

	toyota := sample("owner-2")
	toyota.Make = "Toyota"
	toyota.Model = "Corolla"
	require.NoError(t, store.Create(ctx, toyota))

	published, err := store.List(ctx, Filter{Status: StatusPublished})
	require.NoError(t, err)
	require.Len(t, published, 1)
	assert.Equal(t, honda.ID, published[0].ID)

	toyotas, err := store.List(ctx, Filter{Make: "Toyota"})
	require.NoError(t, err)
	require.Len(t, toyotas, 1)
	assert.Equal(t, toyota.ID, toyotas[0].ID)

	owned, err := store.List(ctx, Filter{OwnerID: "owner-2"})
	require.NoError(t, err)
	require.Len(t, owned, 1)
}

func TestSearchFilters(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	civic := sample("owner-1")
	require.NoError(t, store.Create(ctx, civic))

	truck := sample("owner-1")
	truck.Title = "2015 Ford F-150 XLT"
	truck.Description = "One owner, towing package"
	truck.Make = "Ford"
	truck.Model = "F-150"
	truck.Year = 2015
	truck.PriceCents = 2_400_000
	require.NoError(t, store.Create(ctx, truck))

	byModel, err := store.List(ctx, Filter{Model: "F-150"})
	require.NoError(t, err)
	require.Len(t, byModel, 1)
	assert.Equal(t, truck.ID, byModel[0].ID)

	newer, err := store.List(ctx, Filter{YearMin: 2018})
	require.NoError(t, err)
	require.Len(t, newer, 1)
	assert.Equal(t, civic.ID, newer[0].ID)

	band, err := store.List(ctx, Filter{YearMin: 2014, YearMax: 2016})
	require.NoError(t, err)
	require.Len(t, band, 1)
	assert.Equal(t, truck.ID, band[0].ID)

	cheap, err := store.List(ctx, Filter{PriceMax: 2_000_000})
	require.NoError(t, err)
	require.Len(t, cheap, 1)
	assert.Equal(t, civic.ID, cheap[0].ID)

	// Text search is case-insensitive and covers the description
	byText, err := store.List(ctx, Filter{Query: "TOWING"})
	require.NoError(t, err)
	require.Len(t, byText, 1)
	assert.Equal(t, truck.ID, byText[0].ID)

	none, err := store.List(ctx, Filter{Query: "convertible"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUpdateMissingListing(t *testing.T) {
	store := setupStore(t)

	listing := sample("owner-1")
	listing.ID = "missing"
	updated, err := store.Update(context.Background(), listing)
	require.NoError(t, err)
	assert.False(t, updated)
}

func TestSetStatusInvalid(t *testing.T) {
	store := setupStore(t)

	_, err := store.SetStatus(context.Background(), "any", Status("melted"))
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestAddPhotoPreservesOrder(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	listing := sample("owner-1")
	require.NoError(t, store.Create(ctx, listing))

	require.NoError(t, store.AddPhoto(ctx, listing.ID, "listings/a/1.jpg"))
	require.NoError(t, store.AddPhoto(ctx, listing.ID, "listings/a/2.jpg"))
	require.NoError(t, store.AddPhoto(ctx, listing.ID, "listings/a/3.jpg"))

	got, err := store.GetByID(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"listings/a/1.jpg", "listings/a/2.jpg", "listings/a/3.jpg",
	}, got.PhotoKeys)
}

func TestCountPublished(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	first := sample("owner-1")
	require.NoError(t, store.Create(ctx, first))
	second := sample("owner-1")
	second.Title = "2020 Honda Accord"
	require.NoError(t, store.Create(ctx, second))
	_, err := store.SetStatus(ctx, first.ID, StatusPublished)
	require.NoError(t, err)

	count, err := store.CountPublished(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
