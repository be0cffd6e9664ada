package imports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ahmethakanbesel/candle-backfill/internal/apperror"
	domain "github.com/ahmethakanbesel/candle-backfill/internal/imports"
	"github.com/ahmethakanbesel/candle-backfill/internal/platform/postgres"
)

const pgUniqueViolation = "23505"

var candleColumns = []string{"import_id", "product", "timestamp", "low", "high", "open", "close", "volume"}

// PostgresRepository stores imports in PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if err := postgres.Migrate(ctx, r.pool); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CreateImport(ctx context.Context, imp *domain.Import) error {
	const query = `INSERT INTO imports (name, product, datapoints, granularity, timestamp)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`

	if imp.CreatedAt.IsZero() {
		imp.CreatedAt = time.Now().UTC()
	}

	err := r.pool.QueryRow(ctx, query,
		imp.Name, imp.Product, imp.Datapoints, imp.Granularity, imp.CreatedAt,
	).Scan(&imp.ID)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return apperror.Wrap(apperror.Conflict, domain.ErrDuplicateName,
			fmt.Sprintf("import %q already exists", imp.Name))
	}
	if err != nil {
		return fmt.Errorf("create import: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SaveCandles(ctx context.Context, importID int64, product string, candles []domain.Candle) (int64, error) {
	var total int64
	for i := 0; i < len(candles); i += batchSize {
		batch := candles[i:min(i+batchSize, len(candles))]

		rows := make([][]any, len(batch))
		for j, c := range batch {
			rows[j] = []any{importID, product, c.Time.Unix(),
				toNumeric(c.Low), toNumeric(c.High), toNumeric(c.Open), toNumeric(c.Close), toNumeric(c.Volume)}
		}

		n, err := r.pool.CopyFrom(ctx, pgx.Identifier{"candles"}, candleColumns, pgx.CopyFromRows(rows))
		total += n
		if err != nil {
			return total, fmt.Errorf("save candles: %w", err)
		}
	}
	return total, nil
}

func (r *PostgresRepository) GetImport(ctx context.Context, id int64) (*domain.Import, error) {
	const query = `SELECT id, name, product, datapoints, granularity, timestamp
		FROM imports WHERE id = $1`

	imp := &domain.Import{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&imp.ID, &imp.Name, &imp.Product, &imp.Datapoints, &imp.Granularity, &imp.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.Wrap(apperror.NotFound, domain.ErrNotFound, "import not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get import: %w", err)
	}
	imp.CreatedAt = imp.CreatedAt.UTC()
	return imp, nil
}

func (r *PostgresRepository) ListImports(ctx context.Context) ([]domain.Import, error) {
	const query = `SELECT id, name, product, datapoints, granularity, timestamp
		FROM imports ORDER BY id ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list imports: %w", err)
	}
	defer rows.Close()

	var list []domain.Import
	for rows.Next() {
		var imp domain.Import
		if err := rows.Scan(&imp.ID, &imp.Name, &imp.Product, &imp.Datapoints, &imp.Granularity, &imp.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan import: %w", err)
		}
		imp.CreatedAt = imp.CreatedAt.UTC()
		list = append(list, imp)
	}
	return list, rows.Err()
}

func (r *PostgresRepository) ListCandles(ctx context.Context, importID int64) ([]domain.Candle, error) {
	const query = `SELECT id, import_id, product, timestamp, low, high, open, close, volume
		FROM candles WHERE import_id = $1
		ORDER BY timestamp ASC, id ASC`

	rows, err := r.pool.Query(ctx, query, importID)
	if err != nil {
		return nil, fmt.Errorf("list candles: %w", err)
	}
	defer rows.Close()

	var candles []domain.Candle
	for rows.Next() {
		var c domain.Candle
		var ts int64
		var prices [5]pgtype.Numeric
		if err := rows.Scan(&c.ID, &c.ImportID, &c.Product, &ts,
			&prices[0], &prices[1], &prices[2], &prices[3], &prices[4]); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Time = time.Unix(ts, 0).UTC()

		dst := []*decimal.Decimal{&c.Low, &c.High, &c.Open, &c.Close, &c.Volume}
		for k, n := range prices {
			d, err := fromNumeric(n)
			if err != nil {
				return nil, fmt.Errorf("candle %d: %w", c.ID, err)
			}
			*dst[k] = d
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

func (r *PostgresRepository) CountCandles(ctx context.Context, importID int64) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM candles WHERE import_id = $1`, importID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count candles: %w", err)
	}
	return n, nil
}

// toNumeric encodes d exactly as a NUMERIC value.
func toNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func fromNumeric(n pgtype.Numeric) (decimal.Decimal, error) {
	if !n.Valid || n.NaN || n.InfinityModifier != pgtype.Finite {
		return decimal.Decimal{}, fmt.Errorf("price is not a finite number")
	}
	if n.Int == nil {
		return decimal.Zero, nil
	}
	return decimal.NewFromBigInt(n.Int, n.Exp), nil
}
