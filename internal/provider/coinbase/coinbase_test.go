package coinbase

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmethakanbesel/candle-backfill/internal/provider"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return New(WithClient(ts.Client()), WithBaseURL(ts.URL))
}

func TestFetchCandles(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Minute)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/products/BTC-EUR/candles", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "2024-01-01T00:00:00Z", q.Get("start"))
		assert.Equal(t, "2024-01-01T00:02:00Z", q.Get("end"))
		assert.Equal(t, "60", q.Get("granularity"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[[1704067260,42000.1,42100.25,42010,42090.5,1.23456789],[1704067200,"41990","42020","42000","42010","0.5"]]`))
	})

	rows, err := c.FetchCandles(context.Background(), "BTC-EUR", start, end, 60)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, time.Unix(1704067260, 0).UTC(), rows[0].Time)
	assert.True(t, decimal.RequireFromString("42000.1").Equal(rows[0].Low))
	assert.True(t, decimal.RequireFromString("42100.25").Equal(rows[0].High))
	assert.True(t, decimal.RequireFromString("42010").Equal(rows[0].Open))
	assert.True(t, decimal.RequireFromString("42090.5").Equal(rows[0].Close))
	assert.Equal(t, "1.23456789", rows[0].Volume.String())
	assert.Equal(t, "41990", rows[1].Low.String())
}

func TestFetchCandlesSwappedBounds(t *testing.T) {
	start := time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2024-01-01T05:00:00Z", r.URL.Query().Get("start"))
		assert.Equal(t, "2024-01-01T04:00:00Z", r.URL.Query().Get("end"))
		_, _ = w.Write([]byte(`[]`))
	})

	rows, err := c.FetchCandles(context.Background(), "BTC-EUR", start, end, 60)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFetchCandlesStatusErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantMsg  string
		tooLarge bool
		notFound bool
	}{
		{"span too large", http.StatusBadRequest, `{"message":"granularity too small for the requested time range"}`, "granularity too small for the requested time range", true, false},
		{"unknown product", http.StatusNotFound, `{"message":"NotFound"}`, "NotFound", false, true},
		{"rate limited", http.StatusTooManyRequests, `slow down`, "slow down", false, false},
		{"server error", http.StatusInternalServerError, ``, "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.FetchCandles(context.Background(), "BTC-EUR", time.Now().Add(-time.Hour), time.Now(), 60)
			require.Error(t, err)

			var se *provider.StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, tt.wantMsg, se.Body)
			assert.Equal(t, tt.tooLarge, provider.IsSpanTooLarge(err))
			assert.Equal(t, tt.notFound, provider.IsNotFound(err))
			assert.Equal(t, !tt.tooLarge && !tt.notFound, provider.IsTransient(err))
		})
	}
}

func TestFetchCandlesMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>`},
		{"short row", `[[1704067200,1,2,3]]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.FetchCandles(context.Background(), "BTC-EUR", time.Now().Add(-time.Hour), time.Now(), 60)
			require.Error(t, err)
			assert.True(t, provider.IsTransient(err))
		})
	}
}

func TestFetchCandlesEmptyProduct(t *testing.T) {
	_, err := New().FetchCandles(context.Background(), "", time.Now(), time.Now(), 60)
	assert.Error(t, err)
}

func TestOptions(t *testing.T) {
	c := New(WithBaseURL("http://example.test/"), WithTimeout(5*time.Second), WithUserAgent("ua"))
	assert.Equal(t, "http://example.test", c.baseURL)
	assert.Equal(t, 5*time.Second, c.client.Timeout)
	assert.Equal(t, "ua", c.userAgent)
	assert.Equal(t, "coinbase", c.Name())
}
