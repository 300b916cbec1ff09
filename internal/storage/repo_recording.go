package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Recording is one reassembled request or response body.
type Recording struct {
	ID        uuid.UUID
	ChannelID uint64
	Kind      string
	Timestamp time.Time
	Bytes     int64
	Complete  bool
	Error     string
	Chunks    [][]byte
}

var (
	recordingColumns = []string{"id", "channel_id", "kind", "ts", "bytes", "chunks", "complete", "error"}
	chunkColumns     = []string{"recording_id", "seq", "data"}

	insertRecordingSQL = insertSQL("recordings", recordingColumns)
)

func (r *Recording) row() []any {
	return []any{
		r.ID, channelKey(r.ChannelID), r.Kind, r.Timestamp, r.Bytes, len(r.Chunks),
		r.Complete, nilIfEmpty(r.Error),
	}
}

// InsertRecordingJob stores the recording row and COPYs its chunks in a
// single transaction.
func InsertRecordingJob(r *Recording) WriteJob {
	return WriteJobFunc(func(ctx context.Context, pool *pgxpool.Pool) error {
		return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, insertRecordingSQL, r.row()...); err != nil {
				return fmt.Errorf("insert recording: %w", err)
			}
			if len(r.Chunks) == 0 {
				return nil
			}

			_, err := tx.CopyFrom(ctx,
				pgx.Identifier{"body_chunks"},
				chunkColumns,
				pgx.CopyFromSlice(len(r.Chunks), func(i int) ([]any, error) {
					return []any{r.ID, i, r.Chunks[i]}, nil
				}),
			)
			if err != nil {
				return fmt.Errorf("copy body chunks: %w", err)
			}
			return nil
		})
	})
}

func insertSQL(table string, columns []string) string {
	params := make([]string, len(columns))
	for i := range columns {
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), strings.Join(params, ", "))
}

// channelKey maps a channel id onto the BIGINT column. Ids above
// MaxInt64 wrap to negative keys and stay distinct.
func channelKey(id uint64) int64 {
	return int64(id)
}
