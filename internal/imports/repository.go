package imports

import "context"

// Repository persists imports and their candles.
//
// CreateImport returns an error matching ErrDuplicateName when the name is
// taken. SaveCandles returns the number of rows written before the first
// failure together with that failure.
type Repository interface {
	EnsureSchema(ctx context.Context) error
	CreateImport(ctx context.Context, imp *Import) error
	SaveCandles(ctx context.Context, importID int64, product string, candles []Candle) (int64, error)
	GetImport(ctx context.Context, id int64) (*Import, error)
	ListImports(ctx context.Context) ([]Import, error)
	ListCandles(ctx context.Context, importID int64) ([]Candle, error)
	CountCandles(ctx context.Context, importID int64) (int64, error)
}
