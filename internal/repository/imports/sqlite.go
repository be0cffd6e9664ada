package imports

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ahmethakanbesel/candle-backfill/internal/apperror"
	domain "github.com/ahmethakanbesel/candle-backfill/internal/imports"
	"github.com/ahmethakanbesel/candle-backfill/internal/platform/sqlite"
)

const batchSize = 500

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) EnsureSchema(ctx context.Context) error {
	if err := sqlite.Migrate(ctx, r.db); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (r *Repository) CreateImport(ctx context.Context, imp *domain.Import) error {
	const query = `INSERT INTO imports (name, product, datapoints, granularity, timestamp)
		VALUES (?, ?, ?, ?, ?)`

	if imp.CreatedAt.IsZero() {
		imp.CreatedAt = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx, query,
		imp.Name, imp.Product, imp.Datapoints, imp.Granularity,
		imp.CreatedAt.UTC().Format(time.RFC3339),
	)
	if isUniqueViolation(err) {
		return apperror.Wrap(apperror.Conflict, domain.ErrDuplicateName,
			fmt.Sprintf("import %q already exists", imp.Name))
	}
	if err != nil {
		return fmt.Errorf("create import: %w", err)
	}

	imp.ID, _ = res.LastInsertId()
	return nil
}

func (r *Repository) SaveCandles(ctx context.Context, importID int64, product string, candles []domain.Candle) (int64, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	var total int64
	for i := 0; i < len(candles); i += batchSize {
		batch := candles[i:min(i+batchSize, len(candles))]

		placeholders := make([]string, len(batch))
		args := make([]any, 0, len(batch)*8)
		for j, c := range batch {
			placeholders[j] = "(?, ?, ?, ?, ?, ?, ?, ?)"
			args = append(args, importID, product, c.Time.Unix(),
				c.Low.String(), c.High.String(), c.Open.String(), c.Close.String(), c.Volume.String())
		}

		query := fmt.Sprintf( //nolint:gosec // placeholders are not user input
			"INSERT INTO candles (import_id, product, timestamp, low, high, open, close, volume) VALUES %s",
			strings.Join(placeholders, ", "),
		)

		res, err := r.db.ExecContext(ctx, query, args...)
		if err != nil {
			return total, fmt.Errorf("save candles: %w", err)
		}

		n, _ := res.RowsAffected()
		total += n
	}

	return total, nil
}

func (r *Repository) GetImport(ctx context.Context, id int64) (*domain.Import, error) {
	const query = `SELECT id, name, product, datapoints, granularity, timestamp
		FROM imports WHERE id = ?`

	imp, err := scanImport(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, apperror.Wrap(apperror.NotFound, domain.ErrNotFound, "import not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get import: %w", err)
	}
	return imp, nil
}

func (r *Repository) ListImports(ctx context.Context) ([]domain.Import, error) {
	const query = `SELECT id, name, product, datapoints, granularity, timestamp
		FROM imports ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list imports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var list []domain.Import
	for rows.Next() {
		imp, err := scanImport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan import: %w", err)
		}
		list = append(list, *imp)
	}
	return list, rows.Err()
}

func (r *Repository) ListCandles(ctx context.Context, importID int64) ([]domain.Candle, error) {
	const query = `SELECT id, import_id, product, timestamp, low, high, open, close, volume
		FROM candles WHERE import_id = ?
		ORDER BY timestamp ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, importID)
	if err != nil {
		return nil, fmt.Errorf("list candles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var candles []domain.Candle
	for rows.Next() {
		var c domain.Candle
		var ts int64
		if err := rows.Scan(&c.ID, &c.ImportID, &c.Product, &ts,
			&c.Low, &c.High, &c.Open, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Time = time.Unix(ts, 0).UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

func (r *Repository) CountCandles(ctx context.Context, importID int64) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM candles WHERE import_id = ?`, importID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count candles: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanImport(s scanner) (*domain.Import, error) {
	imp := &domain.Import{}
	var createdStr string
	if err := s.Scan(&imp.ID, &imp.Name, &imp.Product, &imp.Datapoints, &imp.Granularity, &createdStr); err != nil {
		return nil, err
	}
	imp.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	return imp, nil
}

func isUniqueViolation(err error) bool {
	var se *msqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
		(se.Code() == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE"))
}
