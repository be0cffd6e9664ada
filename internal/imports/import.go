package imports

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Defaults used when the caller does not choose otherwise.
const (
	DefaultProduct     = "BTC-EUR"
	DefaultDatapoints  = 9000
	DefaultGranularity = 60
)

// Granularities lists the bucket widths, in seconds, the provider serves.
var Granularities = []int{60, 300, 900, 3600, 21600, 86400}

// ValidGranularity reports whether g is one of Granularities.
func ValidGranularity(g int) bool {
	return slices.Contains(Granularities, g)
}

// Import is one named backfill run.
type Import struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Product     string    `json:"product"`
	Datapoints  int       `json:"datapoints"`
	Granularity int       `json:"granularity"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Candle is one persisted OHLCV bucket belonging to an import.
type Candle struct {
	ID       int64           `json:"id"`
	ImportID int64           `json:"importId"`
	Product  string          `json:"product"`
	Time     time.Time       `json:"timestamp"`
	Low      decimal.Decimal `json:"low"`
	High     decimal.Decimal `json:"high"`
	Open     decimal.Decimal `json:"open"`
	Close    decimal.Decimal `json:"close"`
	Volume   decimal.Decimal `json:"volume"`
}

// ImportSummary pairs an import with the number of candles stored for it.
type ImportSummary struct {
	Import
	Candles int64 `json:"candles"`
}
