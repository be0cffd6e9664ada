// Package provider defines the remote candle source consumed by the importer
// and the date-range arithmetic used to stay within its per-request cap.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Row is one OHLCV bucket as returned by the provider.
type Row struct {
	Time   time.Time
	Low    decimal.Decimal
	High   decimal.Decimal
	Open   decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// Provider fetches historical candles for a product and time range.
type Provider interface {
	Name() string
	FetchCandles(ctx context.Context, product string, start, end time.Time, granularity int) ([]Row, error)
}

// StatusError is a structured provider failure carrying the HTTP status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("provider returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("provider returned HTTP %d: %s", e.StatusCode, e.Body)
}

func statusOf(err error) (int, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode, true
	}
	return 0, false
}

// IsSpanTooLarge reports whether the provider rejected the range as holding
// more buckets than it serves per request.
func IsSpanTooLarge(err error) bool {
	code, ok := statusOf(err)
	return ok && code == http.StatusBadRequest
}

// IsNotFound reports whether the provider does not know the product.
func IsNotFound(err error) bool {
	code, ok := statusOf(err)
	return ok && code == http.StatusNotFound
}

// IsTransient reports whether err should be retried blindly: network
// failures, timeouts and any status other than 400 and 404.
func IsTransient(err error) bool {
	return err != nil && !IsSpanTooLarge(err) && !IsNotFound(err)
}
