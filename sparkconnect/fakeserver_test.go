// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sparkconnect

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// table is an in-memory result: column names plus rows of string or int64
// values (nil for null).
type table struct {
	columns []string
	rows    [][]any
}

func (t *table) clone() *table {
	out := &table{columns: slices.Clone(t.columns)}
	for _, r := range t.rows {
		out.rows = append(out.rows, slices.Clone(r))
	}
	return out
}

func (t *table) column(name string) int {
	for i, c := range t.columns {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

func employees() *table {
	return &table{
		columns: []string{"name", "salary"},
		rows: [][]any{
			{"Michael", int64(3000)},
			{"Andy", int64(4500)},
			{"Justin", int64(3500)},
			{"Berta", int64(4000)},
		},
	}
}

// buildBatch converts t into an Arrow record batch. Column types are taken
// from the first non-null value; all-null columns are strings.
func buildBatch(t *table, mem memory.Allocator) arrow.RecordBatch {
	fields := make([]arrow.Field, len(t.columns))
	cols := make([]arrow.Array, len(t.columns))
	for i, name := range t.columns {
		isInt := false
		for _, r := range t.rows {
			if r[i] != nil {
				_, isInt = r[i].(int64)
				break
			}
		}
		if isInt {
			fields[i] = arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Int64, Nullable: true}
			b := array.NewInt64Builder(mem)
			for _, r := range t.rows {
				if r[i] == nil {
					b.AppendNull()
				} else {
					b.Append(r[i].(int64))
				}
			}
			cols[i] = b.NewArray()
			b.Release()
		} else {
			fields[i] = arrow.Field{Name: name, Type: arrow.BinaryTypes.String, Nullable: true}
			b := array.NewStringBuilder(mem)
			for _, r := range t.rows {
				if r[i] == nil {
					b.AppendNull()
				} else {
					b.Append(r[i].(string))
				}
			}
			cols[i] = b.NewArray()
			b.Release()
		}
	}
	schema := arrow.NewSchema(fields, nil)
	batch := array.NewRecordBatch(schema, cols, int64(len(t.rows)))
	for _, c := range cols {
		c.Release()
	}
	return batch
}

// encodeIPC writes batches as one Arrow IPC stream.
func encodeIPC(tb testing.TB, batches ...arrow.RecordBatch) []byte {
	tb.Helper()
	require.NotEmpty(tb, batches)
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(batches[0].Schema()))
	for _, b := range batches {
		require.NoError(tb, w.Write(b))
	}
	require.NoError(tb, w.Close())
	return buf.Bytes()
}

func encodeTable(tb testing.TB, t *table) []byte {
	tb.Helper()
	batch := buildBatch(t, memory.NewGoAllocator())
	defer batch.Release()
	return encodeIPC(tb, batch)
}

// fakeChannel is an in-process stand-in for a Spark Connect server. It
// evaluates the small subset of relations the tests need.
type fakeChannel struct {
	mu       sync.Mutex
	tables   map[string]*table
	paths    map[string]*table
	requests []*ExecutePlanRequest
	closed   bool

	// respond, when set, replaces plan evaluation.
	respond func(req *ExecutePlanRequest) ([]*ExecutePlanResponse, error)
	// recvDelay slows down every Recv.
	recvDelay time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		tables: map[string]*table{"employees": employees()},
		paths:  map[string]*table{"/data/employees.json": employees()},
	}
}

func (c *fakeChannel) ExecutePlan(ctx context.Context, req *ExecutePlanRequest) (responseStream, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, status.Error(codes.Canceled, "grpc: the client connection is closing")
	}
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	n := c.inFlight.Add(1)
	for {
		m := c.maxInFlight.Load()
		if n <= m || c.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	var resps []*ExecutePlanResponse
	var err error
	if c.respond != nil {
		resps, err = c.respond(req)
	} else {
		resps, err = c.evaluate(req)
	}
	return &fakeStream{ctx: ctx, ch: c, sessionID: req.SessionID, resps: resps, err: err}, nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) lastRequest() *ExecutePlanRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.requests) == 0 {
		return nil
	}
	return c.requests[len(c.requests)-1]
}

type fakeStream struct {
	ctx       context.Context
	ch        *fakeChannel
	sessionID string
	resps     []*ExecutePlanResponse
	err       error
	closeOnce sync.Once
}

func (s *fakeStream) Recv() (*ExecutePlanResponse, error) {
	if s.ch.recvDelay > 0 {
		select {
		case <-time.After(s.ch.recvDelay):
		case <-s.ctx.Done():
			return nil, status.FromContextError(s.ctx.Err()).Err()
		}
	}
	if len(s.resps) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	resp := s.resps[0]
	s.resps = s.resps[1:]
	if resp.SessionID == "" {
		resp.SessionID = s.sessionID
	}
	return resp, nil
}

func (s *fakeStream) Close() {
	s.closeOnce.Do(func() { s.ch.inFlight.Add(-1) })
}

func statusf(code codes.Code, format string, args ...any) error {
	return status.Error(code, fmt.Sprintf(format, args...))
}

func (c *fakeChannel) evaluate(req *ExecutePlanRequest) ([]*ExecutePlanResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case req.Plan.Root != nil:
		t, err := c.eval(req.Plan.Root)
		if err != nil {
			return nil, err
		}
		data, err := encodeTableBytes(t)
		if err != nil {
			return nil, err
		}
		return []*ExecutePlanResponse{
			{Schema: []byte("schema"), OperationID: "op-1", ResponseID: "r-1"},
			{ArrowBatch: &ArrowBatch{RowCount: int64(len(t.rows)), Data: data}, ResponseID: "r-2"},
			{Metrics: &Metrics{Metrics: []MetricObject{{Name: "LocalTableScan", PlanID: 1}}}, ResponseID: "r-3"},
			{ResultComplete: true, ResponseID: "r-4"},
		}, nil
	case req.Plan.Command != nil && req.Plan.Command.WriteOperation != nil:
		if err := c.write(req.Plan.Command.WriteOperation); err != nil {
			return nil, err
		}
		return []*ExecutePlanResponse{{ResultComplete: true}}, nil
	}
	return nil, statusf(codes.InvalidArgument, "empty plan")
}

func encodeTableBytes(t *table) ([]byte, error) {
	batch := buildBatch(t, memory.NewGoAllocator())
	defer batch.Release()
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(batch.Schema()))
	if err := w.Write(batch); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var (
	selectStarRe = regexp.MustCompile(`(?i)^\s*select\s+\*\s+from\s+(\w+)\s*$`)
	upperAsRe    = regexp.MustCompile(`(?i)^\s*upper\((\w+)\)\s+as\s+(\w+)\s*$`)
	greaterRe    = regexp.MustCompile(`^\s*(\w+)\s*>\s*(\d+)\s*$`)
)

func syntaxError(text string) error {
	return statusf(codes.InvalidArgument,
		"[PARSE_SYNTAX_ERROR] Syntax error at or near '%s'. SQLSTATE: 42601", text)
}

func (c *fakeChannel) eval(rel *Relation) (*table, error) {
	switch r := rel.Rel.(type) {
	case *SQL:
		m := selectStarRe.FindStringSubmatch(r.Query)
		if m == nil {
			return nil, syntaxError(r.Query)
		}
		return c.lookupTable(m[1])
	case *Read:
		if r.NamedTable != nil {
			return c.lookupTable(r.NamedTable.UnparsedIdentifier)
		}
		if len(r.DataSource.Paths) == 0 {
			return nil, statusf(codes.InvalidArgument, "no paths")
		}
		t, ok := c.paths[r.DataSource.Paths[0]]
		if !ok {
			return nil, statusf(codes.Internal, "[PATH_NOT_FOUND] Path does not exist: %s.", r.DataSource.Paths[0])
		}
		return t.clone(), nil
	case *Project:
		in, err := c.eval(r.Input)
		if err != nil {
			return nil, err
		}
		out := &table{rows: make([][]any, len(in.rows))}
		for _, e := range r.Expressions {
			var name string
			var col int
			upper := false
			switch x := e.(type) {
			case UnresolvedAttribute:
				name = x.UnparsedIdentifier
				col = in.column(name)
			case ExpressionString:
				m := upperAsRe.FindStringSubmatch(x.Expression)
				if m == nil {
					return nil, syntaxError(x.Expression)
				}
				name, col, upper = m[2], in.column(m[1]), true
			}
			if col < 0 {
				return nil, statusf(codes.InvalidArgument,
					"[UNRESOLVED_COLUMN.WITH_SUGGESTION] A column or function parameter with name `%s` cannot be resolved. Did you mean one of the following? [`name`, `salary`].", name)
			}
			out.columns = append(out.columns, name)
			for i, row := range in.rows {
				v := row[col]
				if s, ok := v.(string); ok && upper {
					v = strings.ToUpper(s)
				}
				out.rows[i] = append(out.rows[i], v)
			}
		}
		return out, nil
	case *Filter:
		in, err := c.eval(r.Input)
		if err != nil {
			return nil, err
		}
		cond, _ := r.Condition.(ExpressionString)
		m := greaterRe.FindStringSubmatch(cond.Expression)
		if m == nil {
			return nil, syntaxError(cond.Expression)
		}
		col := in.column(m[1])
		if col < 0 {
			return nil, statusf(codes.InvalidArgument, "[UNRESOLVED_COLUMN.WITH_SUGGESTION] `%s`", m[1])
		}
		bound, _ := strconv.ParseInt(m[2], 10, 64)
		out := &table{columns: in.columns}
		for _, row := range in.rows {
			if v, ok := row[col].(int64); ok && v > bound {
				out.rows = append(out.rows, row)
			}
		}
		return out, nil
	case *Limit:
		in, err := c.eval(r.Input)
		if err != nil {
			return nil, err
		}
		if int(r.Limit) < len(in.rows) {
			in.rows = in.rows[:r.Limit]
		}
		return in, nil
	}
	return nil, statusf(codes.Unimplemented, "relation %T", rel.Rel)
}

func (c *fakeChannel) lookupTable(name string) (*table, error) {
	t, ok := c.tables[strings.ToLower(name)]
	if !ok {
		return nil, statusf(codes.InvalidArgument,
			"[TABLE_OR_VIEW_NOT_FOUND] The table or view `%s` cannot be found. SQLSTATE: 42P01", name)
	}
	return t.clone(), nil
}

func (c *fakeChannel) write(op *WriteOperation) error {
	in, err := c.eval(op.Input)
	if err != nil {
		return err
	}
	var store map[string]*table
	var key string
	switch t := op.Target.(type) {
	case SavePath:
		store, key = c.paths, string(t)
	case SaveTable:
		store, key = c.tables, strings.ToLower(t.TableName)
		if t.SaveMethod == TableSaveMethodInsertInto {
			existing, ok := store[key]
			if !ok {
				return statusf(codes.InvalidArgument,
					"[TABLE_OR_VIEW_NOT_FOUND] The table or view `%s` cannot be found.", t.TableName)
			}
			existing.rows = append(existing.rows, in.rows...)
			return nil
		}
	default:
		return nil
	}

	existing, exists := store[key]
	switch op.Mode {
	case SaveModeAppend:
		if exists {
			existing.rows = append(existing.rows, in.rows...)
			return nil
		}
	case SaveModeIgnore:
		if exists {
			return nil
		}
	case SaveModeOverwrite:
	default:
		if exists {
			return statusf(codes.Internal, "[PATH_ALREADY_EXISTS] Path file:%s already exists. Set mode as \"overwrite\" to overwrite the existing path. SQLSTATE: 42K04", key)
		}
	}
	store[key] = in
	return nil
}
