// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sparkconnect

import (
	"context"
	"maps"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"
)

// DataFrameReader configures how a data frame is read. Each setter returns
// a new reader; the receiver is left unchanged.
type DataFrameReader struct {
	session *Session
	format  *string
	schema  *string
	options map[string]string
}

func (r *DataFrameReader) with(f func(*DataFrameReader)) *DataFrameReader {
	next := &DataFrameReader{
		session: r.session,
		format:  cloneString(r.format),
		schema:  cloneString(r.schema),
		options: maps.Clone(r.options),
	}
	f(next)
	return next
}

// Format sets the data source format, e.g. "json", "csv" or "parquet".
func (r *DataFrameReader) Format(format string) *DataFrameReader {
	return r.with(func(n *DataFrameReader) { n.format = &format })
}

// Schema sets the schema as a DDL string, e.g. "name STRING, salary INT".
func (r *DataFrameReader) Schema(schema string) *DataFrameReader {
	return r.with(func(n *DataFrameReader) { n.schema = &schema })
}

// Option adds one data source option.
func (r *DataFrameReader) Option(key, value string) *DataFrameReader {
	return r.with(func(n *DataFrameReader) {
		if n.options == nil {
			n.options = make(map[string]string)
		}
		n.options[key] = value
	})
}

// Options replaces all data source options.
func (r *DataFrameReader) Options(options map[string]string) *DataFrameReader {
	return r.with(func(n *DataFrameReader) { n.options = maps.Clone(options) })
}

// Table returns a data frame scanning a catalog table. Format and schema
// are ignored.
func (r *DataFrameReader) Table(name string) *DataFrame {
	return &DataFrame{session: r.session, plan: NewNamedTablePlan(name, r.options)}
}

// Load returns a data frame reading paths through the configured source.
func (r *DataFrameReader) Load(paths ...string) *DataFrame {
	return &DataFrame{session: r.session, plan: NewLoadPlan(paths, r.format, r.schema, r.options)}
}

// DataFrame is a logical plan bound to the session that will run it.
// Transformations return new data frames and never modify the receiver.
type DataFrame struct {
	session *Session
	plan    Plan
}

// Plan returns a copy of the data frame's logical plan.
func (df *DataFrame) Plan() Plan {
	return Clone(df.plan)
}

// Session returns the session the data frame runs on.
func (df *DataFrame) Session() *Session {
	return df.session
}

// Select projects onto the named columns. Names are column references,
// not expressions; use SelectExpr for "UPPER(name) AS n".
func (df *DataFrame) Select(columns ...string) *DataFrame {
	return &DataFrame{session: df.session, plan: ColumnsProjection(df.plan, columns)}
}

// SelectExpr projects onto SQL expressions.
func (df *DataFrame) SelectExpr(exprs ...string) *DataFrame {
	return &DataFrame{session: df.session, plan: ExpressionsProjection(df.plan, exprs)}
}

// Where keeps the rows for which the SQL condition holds.
func (df *DataFrame) Where(condition string) *DataFrame {
	return &DataFrame{session: df.session, plan: NewFilterPlan(df.plan, condition)}
}

// Limit keeps the first n rows.
func (df *DataFrame) Limit(n int32) *DataFrame {
	return &DataFrame{session: df.session, plan: NewLimitPlan(df.plan, n)}
}

// Collect runs the data frame and returns its result. The caller must
// release the batches, see ReleaseBatches.
func (df *DataFrame) Collect(ctx context.Context) ([]arrow.RecordBatch, error) {
	return df.session.fetch(ctx, Lower(df.plan))
}

// Write returns a writer for saving the data frame.
func (df *DataFrame) Write() *DataFrameWriter {
	return &DataFrameWriter{
		session: df.session,
		plan:    Clone(df.plan),
		mode:    SaveModeErrorIfExists,
	}
}

// DataFrameWriter accumulates a write specification. Each setter returns a
// new writer; the receiver is left unchanged.
type DataFrameWriter struct {
	session      *Session
	plan         Plan
	format       *string
	mode         SaveMode
	options      map[string]string
	partitioning []string
	sortColumns  []string
	bucketBy     *BucketBy
}

func (w *DataFrameWriter) with(f func(*DataFrameWriter)) *DataFrameWriter {
	next := &DataFrameWriter{
		session:      w.session,
		plan:         w.plan,
		format:       cloneString(w.format),
		mode:         w.mode,
		options:      maps.Clone(w.options),
		partitioning: slices.Clone(w.partitioning),
		sortColumns:  slices.Clone(w.sortColumns),
	}
	if w.bucketBy != nil {
		next.bucketBy = &BucketBy{
			ColumnNames: slices.Clone(w.bucketBy.ColumnNames),
			NumBuckets:  w.bucketBy.NumBuckets,
		}
	}
	f(next)
	return next
}

// Format sets the output format.
func (w *DataFrameWriter) Format(format string) *DataFrameWriter {
	return w.with(func(n *DataFrameWriter) { n.format = &format })
}

// Mode sets the save mode. The default is SaveModeErrorIfExists.
func (w *DataFrameWriter) Mode(mode SaveMode) *DataFrameWriter {
	return w.with(func(n *DataFrameWriter) { n.mode = mode })
}

// Option adds one output option.
func (w *DataFrameWriter) Option(key, value string) *DataFrameWriter {
	return w.with(func(n *DataFrameWriter) {
		if n.options == nil {
			n.options = make(map[string]string)
		}
		n.options[key] = value
	})
}

// Options replaces all output options.
func (w *DataFrameWriter) Options(options map[string]string) *DataFrameWriter {
	return w.with(func(n *DataFrameWriter) { n.options = maps.Clone(options) })
}

// PartitionBy sets the partitioning columns.
func (w *DataFrameWriter) PartitionBy(columns ...string) *DataFrameWriter {
	return w.with(func(n *DataFrameWriter) { n.partitioning = slices.Clone(columns) })
}

// SortBy sets the columns to sort by within each bucket.
func (w *DataFrameWriter) SortBy(columns ...string) *DataFrameWriter {
	return w.with(func(n *DataFrameWriter) { n.sortColumns = slices.Clone(columns) })
}

// BucketBy buckets the output by columns into numBuckets buckets.
func (w *DataFrameWriter) BucketBy(numBuckets int32, columns ...string) *DataFrameWriter {
	return w.with(func(n *DataFrameWriter) {
		n.bucketBy = &BucketBy{ColumnNames: slices.Clone(columns), NumBuckets: numBuckets}
	})
}

// Operation returns the write command Save would send for target.
func (w *DataFrameWriter) Operation(target SaveTarget) *WriteOperation {
	op := &WriteOperation{
		Input:               Lower(w.plan),
		Source:              cloneString(w.format),
		Target:              target,
		Mode:                w.mode,
		SortColumnNames:     slices.Clone(w.sortColumns),
		PartitioningColumns: slices.Clone(w.partitioning),
		Options:             maps.Clone(w.options),
	}
	if w.bucketBy != nil {
		op.BucketBy = &BucketBy{
			ColumnNames: slices.Clone(w.bucketBy.ColumnNames),
			NumBuckets:  w.bucketBy.NumBuckets,
		}
	}
	return op
}

// Save runs the write. target is a SavePath, a SaveTable, or nil for sinks
// that are neither a path nor a table, such as jdbc or noop.
func (w *DataFrameWriter) Save(ctx context.Context, target SaveTarget) error {
	return w.session.save(ctx, w.Operation(target))
}

// SaveToPath writes to path.
func (w *DataFrameWriter) SaveToPath(ctx context.Context, path string) error {
	return w.Save(ctx, SavePath(path))
}

// SaveAsTable writes to a catalog table, creating it if needed.
func (w *DataFrameWriter) SaveAsTable(ctx context.Context, table string) error {
	return w.Save(ctx, SaveTable{TableName: table, SaveMethod: TableSaveMethodSaveAsTable})
}

// InsertInto inserts into an existing catalog table.
func (w *DataFrameWriter) InsertInto(ctx context.Context, table string) error {
	return w.Save(ctx, SaveTable{TableName: table, SaveMethod: TableSaveMethodInsertInto})
}
