// Package export writes stored candles to Parquet files for downstream
// analytics.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"github.com/ahmethakanbesel/candle-backfill/internal/imports"
)

// Record is one candle row in an exported file.
type Record struct {
	ImportID  int64   `parquet:"import_id"`
	Product   string  `parquet:"product"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

type Exporter struct {
	svc *imports.Service
}

func New(svc *imports.Service) *Exporter {
	return &Exporter{svc: svc}
}

// Export writes every candle of the import to path, oldest first, and
// returns the number of rows written.
func (e *Exporter) Export(ctx context.Context, importID int64, path string) (int, error) {
	candles, err := e.svc.Candles(ctx, imports.ListCandlesRequest{ImportID: importID})
	if err != nil {
		return 0, err
	}

	records := make([]Record, len(candles))
	for i, c := range candles {
		records[i] = Record{
			ImportID:  c.ImportID,
			Product:   c.Product,
			Timestamp: c.Time.UnixMilli(),
			Open:      c.Open.InexactFloat64(),
			High:      c.High.InexactFloat64(),
			Low:       c.Low.InexactFloat64(),
			Close:     c.Close.InexactFloat64(),
			Volume:    c.Volume.InexactFloat64(),
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create export directory: %w", err)
	}
	if err := parquet.WriteFile(path, records); err != nil {
		return 0, fmt.Errorf("write parquet: %w", err)
	}

	slog.Info("exported candles", "import_id", importID, "path", path, "rows", len(records))
	return len(records), nil
}

// ReadFile loads an exported file.
func ReadFile(path string) ([]Record, error) {
	return parquet.ReadFile[Record](path)
}
