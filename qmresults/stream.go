// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package qmresults

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/apache/arrow-go/v18/arrow/ipc"
)

const defaultPieceSize = 64 << 10

// ChunkWriter streams result data to the client. Every batch is flushed as
// soon as it is written. Client logs recorded on the call context are sent
// ahead of the next chunk.
type ChunkWriter struct {
	w         *ipc.Writer
	flush     func()
	cc        *CallContext
	stats     *CallStatistics
	chunked   bool
	pieceSize int
}

func newChunkWriter(out io.Writer, flush func(), cc *CallContext, stats *CallStatistics, chunked bool, pieceSize int) *ChunkWriter {
	if pieceSize <= 0 {
		pieceSize = defaultPieceSize
	}
	if flush == nil {
		flush = func() {}
	}
	return &ChunkWriter{
		w:         ipc.NewWriter(out, ipc.WithSchema(chunkSchema)),
		flush:     flush,
		cc:        cc,
		stats:     stats,
		chunked:   chunked,
		pieceSize: pieceSize,
	}
}

// Chunked reports whether results are split into pieces and a summary.
func (cw *ChunkWriter) Chunked() bool { return cw.chunked }

// WriteResult sends count items of the named result held in data.
func (cw *ChunkWriter) WriteResult(name string, data []byte, count int) error {
	if err := cw.writeLogs(); err != nil {
		return err
	}
	if !cw.chunked {
		return cw.writeRow(chunkRow{OutputName: name, Data: data, CountOfItems: int64(count), Summary: true})
	}
	for off := 0; off < len(data); off += cw.pieceSize {
		end := min(off+cw.pieceSize, len(data))
		if err := cw.writeRow(chunkRow{OutputName: name, Data: data[off:end]}); err != nil {
			return err
		}
	}
	return cw.writeRow(chunkRow{OutputName: name, Data: []byte{}, CountOfItems: int64(count), Summary: true})
}

func (cw *ChunkWriter) writeRow(row chunkRow) error {
	batch, err := encodeRows(chunkSchema, row)
	if err != nil {
		return fmt.Errorf("encoding chunk: %w", err)
	}
	defer batch.Release()
	cw.stats.RecordOutput(batch.NumRows(), batchBufferSize(batch))
	if err := cw.w.Write(batch); err != nil {
		return fmt.Errorf("writing chunk: %w", err)
	}
	cw.flush()
	return nil
}

func (cw *ChunkWriter) writeLogs() error {
	for _, msg := range cw.cc.drainLogs() {
		if err := writeLogBatch(cw.w, chunkSchema, msg, cw.cc.ServerID, cw.cc.RequestID); err != nil {
			return fmt.Errorf("writing log batch: %w", err)
		}
	}
	return nil
}

// finish sends outstanding logs, the handler error if any, and the end of
// stream.
func (cw *ChunkWriter) finish(handlerErr error, debug bool) {
	if err := cw.writeLogs(); err != nil {
		slog.Error("failed to write stream log batch", "err", err)
	}
	if handlerErr != nil {
		if err := writeErrorBatch(cw.w, chunkSchema, handlerErr, cw.cc.ServerID, cw.cc.RequestID, debug); err != nil {
			slog.Error("failed to write stream error batch", "err", err)
		}
	}
	if err := cw.w.Close(); err != nil {
		slog.Error("failed to close output writer", "err", err)
	}
	cw.flush()
}
