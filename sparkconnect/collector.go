// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sparkconnect

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Collector folds the response stream of one ExecutePlan call into a result.
//
// Responses are processed in delivery order. Schema, metrics and columnar
// payload are last-write-wins: a later response replaces what an earlier one
// carried, nothing is merged.
type Collector struct {
	schema  []byte
	data    *ArrowBatch
	metrics *Metrics
	stats   CallStatistics
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Process folds one response. A response type this client does not handle
// fails with KindNotImplementedYet.
func (c *Collector) Process(resp *ExecutePlanResponse) error {
	c.stats.Responses++
	if resp.Schema != nil {
		c.schema = resp.Schema
	}
	if resp.Metrics != nil {
		c.metrics = resp.Metrics
	}
	switch {
	case resp.Unsupported != "":
		return newError(KindNotImplementedYet, "Unhandled response type %s", resp.Unsupported)
	case resp.ArrowBatch != nil:
		c.data = resp.ArrowBatch
		c.stats.keepPayload(resp.ArrowBatch.RowCount, int64(len(resp.ArrowBatch.Data)))
	}
	return nil
}

// Schema returns the encoded result schema last seen, or nil.
func (c *Collector) Schema() []byte {
	return c.schema
}

// Metrics returns the metrics block last seen, or nil.
func (c *Collector) Metrics() *Metrics {
	return c.metrics
}

// Statistics returns the counters accumulated so far.
func (c *Collector) Statistics() CallStatistics {
	return c.stats
}

// HasPayload reports whether any columnar payload was observed.
func (c *Collector) HasPayload() bool {
	return c.data != nil
}

// Records decodes the last columnar payload. A stream that carried no
// payload fails with KindEmptyResponse.
func (c *Collector) Records(mem memory.Allocator) ([]arrow.RecordBatch, error) {
	if c.data == nil {
		return nil, &SparkError{Kind: KindEmptyResponse, Message: "no arrow batch in response stream"}
	}
	return DecodeArrowBatch(c.data.Data, mem)
}
