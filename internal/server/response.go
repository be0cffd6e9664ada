package server

import (
	"encoding/csv"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ahmethakanbesel/candle-backfill/internal/imports"
)

type APIResponse[T any] struct {
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func writeJSON[T any](w http.ResponseWriter, status int, data T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse[T]{
		Message: "ok",
		Data:    data,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse[string]{
		Message: message,
		Data:    "",
	})
}

func writeCSV(w http.ResponseWriter, candles []imports.Candle) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=candles.csv")
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"Product", "Timestamp", "Time", "Low", "High", "Open", "Close", "Volume"})
	for _, c := range candles {
		_ = cw.Write([]string{
			c.Product,
			strconv.FormatInt(c.Time.Unix(), 10),
			c.Time.UTC().Format(time.RFC3339),
			c.Low.String(),
			c.High.String(),
			c.Open.String(),
			c.Close.String(),
			c.Volume.String(),
		})
	}
	cw.Flush()
}
