package imports

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmethakanbesel/candle-backfill/internal/apperror"
	domain "github.com/ahmethakanbesel/candle-backfill/internal/imports"
)

func makeCandles(n int, from time.Time) []domain.Candle {
	out := make([]domain.Candle, n)
	for i := range out {
		out[i] = domain.Candle{
			Time:   from.Add(time.Duration(i) * time.Minute),
			Low:    decimal.RequireFromString("41999.99"),
			High:   decimal.RequireFromString("42100.5"),
			Open:   decimal.NewFromInt(42000),
			Close:  decimal.NewFromInt(int64(42000 + i)),
			Volume: decimal.RequireFromString("0.00012345"),
		}
	}
	return out
}

// runRepositoryContract exercises behaviour every store must share.
func runRepositoryContract(t *testing.T, newRepo func(t *testing.T) domain.Repository) {
	ctx := context.Background()
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("ensure schema is idempotent", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.EnsureSchema(ctx))
		require.NoError(t, repo.EnsureSchema(ctx))
	})

	t.Run("create and get import", func(t *testing.T) {
		repo := newRepo(t)
		imp := &domain.Import{Name: "btc-minute", Product: "BTC-EUR", Datapoints: 9000, Granularity: 60}
		require.NoError(t, repo.CreateImport(ctx, imp))
		assert.Positive(t, imp.ID)
		assert.False(t, imp.CreatedAt.IsZero())

		got, err := repo.GetImport(ctx, imp.ID)
		require.NoError(t, err)
		assert.Equal(t, "btc-minute", got.Name)
		assert.Equal(t, "BTC-EUR", got.Product)
		assert.Equal(t, 9000, got.Datapoints)
		assert.Equal(t, 60, got.Granularity)
		assert.WithinDuration(t, imp.CreatedAt, got.CreatedAt, time.Second)
	})

	t.Run("duplicate name", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.CreateImport(ctx, &domain.Import{Name: "dup", Product: "BTC-EUR", Datapoints: 1, Granularity: 60}))

		err := repo.CreateImport(ctx, &domain.Import{Name: "dup", Product: "ETH-EUR", Datapoints: 1, Granularity: 60})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrDuplicateName)

		var appErr *apperror.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, apperror.Conflict, appErr.Code())

		list, err := repo.ListImports(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("get missing import", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.GetImport(ctx, 12345)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("save and list candles across batches", func(t *testing.T) {
		repo := newRepo(t)
		imp := &domain.Import{Name: "batches", Product: "BTC-EUR", Datapoints: 1201, Granularity: 60}
		require.NoError(t, repo.CreateImport(ctx, imp))

		candles := makeCandles(1201, from)
		n, err := repo.SaveCandles(ctx, imp.ID, imp.Product, candles)
		require.NoError(t, err)
		assert.Equal(t, int64(1201), n)

		count, err := repo.CountCandles(ctx, imp.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1201), count)

		got, err := repo.ListCandles(ctx, imp.ID)
		require.NoError(t, err)
		require.Len(t, got, 1201)
		assert.Equal(t, imp.ID, got[0].ImportID)
		assert.Equal(t, "BTC-EUR", got[0].Product)
		assert.Equal(t, from, got[0].Time)
		assert.Equal(t, "41999.99", got[0].Low.String())
		assert.Equal(t, "0.00012345", got[0].Volume.String())
		assert.True(t, got[1200].Close.Equal(decimal.NewFromInt(43200)))
	})

	t.Run("duplicate candle rows are kept", func(t *testing.T) {
		repo := newRepo(t)
		imp := &domain.Import{Name: "overlap", Product: "BTC-EUR", Datapoints: 2, Granularity: 60}
		require.NoError(t, repo.CreateImport(ctx, imp))

		candles := makeCandles(2, from)
		_, err := repo.SaveCandles(ctx, imp.ID, imp.Product, candles)
		require.NoError(t, err)
		_, err = repo.SaveCandles(ctx, imp.ID, imp.Product, candles)
		require.NoError(t, err)

		count, err := repo.CountCandles(ctx, imp.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(4), count)
	})

	t.Run("save empty batch", func(t *testing.T) {
		repo := newRepo(t)
		n, err := repo.SaveCandles(ctx, 1, "BTC-EUR", nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("save for unknown import fails", func(t *testing.T) {
		repo := newRepo(t)
		n, err := repo.SaveCandles(ctx, 999, "BTC-EUR", makeCandles(3, from))
		assert.Error(t, err)
		assert.Zero(t, n)
	})

	t.Run("list imports in creation order", func(t *testing.T) {
		repo := newRepo(t)
		for _, name := range []string{"a", "b", "c"} {
			require.NoError(t, repo.CreateImport(ctx, &domain.Import{Name: name, Product: "BTC-EUR", Datapoints: 1, Granularity: 60}))
		}
		list, err := repo.ListImports(ctx)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, "a", list[0].Name)
		assert.Equal(t, "c", list[2].Name)
	})
}
