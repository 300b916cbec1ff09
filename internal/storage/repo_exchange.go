package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ExchangeRecord is the metadata of one proxied request/response pair.
// Bodies are stored as recordings keyed by ChannelID.
type ExchangeRecord struct {
	ID              uuid.UUID
	ChannelID       uint64
	Timestamp       time.Time
	Method          string
	Path            string
	StatusCode      int
	Success         bool
	ErrorMessage    string
	ResponseTimeMs  int
	RequestBytes    int64
	ResponseBytes   int64
	RequestHeaders  map[string][]string
	ResponseHeaders map[string][]string
}

var (
	exchangeColumns = []string{
		"id", "channel_id", "ts", "method", "path", "status_code", "success", "error_message",
		"response_time_ms", "request_bytes", "response_bytes", "request_headers", "response_headers",
	}

	insertExchangeSQL = insertSQL("exchanges", exchangeColumns)
)

func (r *ExchangeRecord) row() []any {
	reqH, _ := json.Marshal(r.RequestHeaders)
	respH, _ := json.Marshal(r.ResponseHeaders)
	return []any{
		r.ID, channelKey(r.ChannelID), r.Timestamp, r.Method, r.Path,
		r.StatusCode, r.Success, nilIfEmpty(r.ErrorMessage),
		r.ResponseTimeMs, r.RequestBytes, r.ResponseBytes, reqH, respH,
	}
}

func InsertExchangeJob(r *ExchangeRecord) WriteJob {
	return WriteJobFunc(func(ctx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx, insertExchangeSQL, r.row()...)
		return err
	})
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
