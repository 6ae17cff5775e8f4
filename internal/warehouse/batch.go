package warehouse

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// DefaultBatchSize is the number of rows written per chunk.
const DefaultBatchSize = 10000

// ErrPartialWrite marks a batch write that stopped at a rejected chunk.
var ErrPartialWrite = errors.New("warehouse: partial write")

// PartialWriteError describes the chunk that stopped a batch write. Rows before Offset remain committed.
type PartialWriteError struct {
	Table   string
	Written int
	Offset  int
	Errors  []RowError
}

func (e *PartialWriteError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, re := range e.Errors {
		msgs = append(msgs, re.String())
	}
	return fmt.Sprintf("%v: table %s, chunk at row %d rejected after %d rows written: %s",
		ErrPartialWrite, e.Table, e.Offset, e.Written, strings.Join(msgs, "; "))
}

func (e *PartialWriteError) Unwrap() error { return ErrPartialWrite }

// Inserter is the subset of Warehouse the batch writer needs.
type Inserter interface {
	InsertRows(ctx context.Context, table string, rows []Row) ([]RowError, error)
}

// WriteBatches writes rows to table in fixed-size chunks, strictly in order. It stops at the first
// chunk that fails or reports row errors; earlier chunks stay committed. It returns the number of
// rows committed.
func WriteBatches(ctx context.Context, w Inserter, table string, rows []Row, size int) (int, error) {
	if size <= 0 {
		size = DefaultBatchSize
	}

	written := 0
	for offset := 0; offset < len(rows); offset += size {
		end := min(offset+size, len(rows))
		chunk := rows[offset:end]

		rowErrs, err := w.InsertRows(ctx, table, chunk)
		if err != nil {
			return written, fmt.Errorf("insert chunk at row %d into %s: %w", offset, table, err)
		}
		if len(rowErrs) > 0 {
			for i := range rowErrs {
				rowErrs[i].Index += offset
			}
			return written, &PartialWriteError{Table: table, Written: written, Offset: offset, Errors: rowErrs}
		}

		written += len(chunk)
		log.Debug().Str("table", table).Int("chunk_rows", len(chunk)).Int("written", written).Int("total", len(rows)).Msg("Chunk committed")
	}
	return written, nil
}
