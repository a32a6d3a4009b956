// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sparkconnect

import (
	"bytes"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// DecodeArrowBatch decodes an Arrow IPC stream into record batches, in stream
// order. The caller owns the returned batches and must release them.
//
// A malformed stream (bad magic, truncation, schema/batch mismatch) yields a
// KindDeserializationFailed error and no batches. The stream must end with
// an end-of-stream marker; one cut at a message boundary is truncated too.
func DecodeArrowBatch(data []byte, mem memory.Allocator) (batches []arrow.RecordBatch, err error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	defer func() {
		// the IPC reader panics on some corrupt flatbuffers
		if rv := recover(); rv != nil {
			ReleaseBatches(batches)
			batches = nil
			err = newError(KindDeserializationFailed, "decoding arrow stream: %v", rv)
		}
	}()

	src := &eosReader{r: bytes.NewReader(data)}
	reader, err := ipc.NewReader(src, ipc.WithAllocator(mem))
	if err != nil {
		return nil, &SparkError{
			Kind:    KindDeserializationFailed,
			Message: "reading arrow stream: " + err.Error(),
			Err:     err,
		}
	}
	defer reader.Release()

	for reader.Next() {
		batch := reader.RecordBatch()
		batch.Retain() // keep batch alive after the reader moves on
		batches = append(batches, batch)
	}
	if err := reader.Err(); err != nil {
		ReleaseBatches(batches)
		return nil, &SparkError{
			Kind:    KindDeserializationFailed,
			Message: "reading arrow batch: " + err.Error(),
			Err:     err,
		}
	}
	if src.eof {
		// the reader ran out of bytes before an end-of-stream marker
		ReleaseBatches(batches)
		return nil, newError(KindDeserializationFailed,
			"reading arrow stream: missing end-of-stream marker after %d batches", len(batches))
	}
	return batches, nil
}

// eosReader records whether a read hit the end of the payload. The IPC
// reader stops at an end-of-stream marker without reading further, so a
// read that returns io.EOF means the marker was never seen.
type eosReader struct {
	r   *bytes.Reader
	eof bool
}

func (e *eosReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if err == io.EOF {
		e.eof = true
	}
	return n, err
}

// ReleaseBatches releases every batch in batches.
func ReleaseBatches(batches []arrow.RecordBatch) {
	for _, b := range batches {
		b.Release()
	}
}
