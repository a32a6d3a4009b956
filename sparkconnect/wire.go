// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sparkconnect

import (
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the spark.connect protocol messages this client speaks.
const (
	// ExecutePlanRequest
	fieldRequestSessionID   protowire.Number = 1
	fieldRequestUserContext protowire.Number = 2
	fieldRequestPlan        protowire.Number = 3
	fieldRequestClientType  protowire.Number = 4

	// UserContext
	fieldUserID         protowire.Number = 1
	fieldUserName       protowire.Number = 2
	fieldUserExtensions protowire.Number = 999

	// Plan
	fieldPlanRoot    protowire.Number = 1
	fieldPlanCommand protowire.Number = 2

	// Relation
	fieldRelationCommon  protowire.Number = 1
	fieldRelationRead    protowire.Number = 2
	fieldRelationProject protowire.Number = 3
	fieldRelationFilter  protowire.Number = 4
	fieldRelationLimit   protowire.Number = 8
	fieldRelationSQL     protowire.Number = 10

	fieldCommonPlanID protowire.Number = 2

	// Read
	fieldReadNamedTable  protowire.Number = 1
	fieldReadDataSource  protowire.Number = 2
	fieldReadIsStreaming protowire.Number = 3

	// Expression
	fieldExprUnresolvedAttribute protowire.Number = 2
	fieldExprExpressionString    protowire.Number = 4

	// Command
	fieldCommandWriteOperation protowire.Number = 2

	// WriteOperation
	fieldWriteInput               protowire.Number = 1
	fieldWriteSource              protowire.Number = 2
	fieldWritePath                protowire.Number = 3
	fieldWriteTable               protowire.Number = 4
	fieldWriteMode                protowire.Number = 5
	fieldWriteSortColumnNames     protowire.Number = 6
	fieldWritePartitioningColumns protowire.Number = 7
	fieldWriteBucketBy            protowire.Number = 8
	fieldWriteOptions             protowire.Number = 9

	// ExecutePlanResponse
	fieldResponseSessionID           protowire.Number = 1
	fieldResponseArrowBatch          protowire.Number = 2
	fieldResponseMetrics             protowire.Number = 4
	fieldResponseObservedMetrics     protowire.Number = 6
	fieldResponseSchema              protowire.Number = 7
	fieldResponseOperationID         protowire.Number = 12
	fieldResponseResponseID          protowire.Number = 13
	fieldResponseResultComplete      protowire.Number = 14
	fieldResponseServerSideSessionID protowire.Number = 15
)

// responseTypeNames names the response_type variants of ExecutePlanResponse.
// Any field outside the known non-oneof fields is treated as a response type.
var responseTypeNames = map[protowire.Number]string{
	2:   "arrow_batch",
	5:   "sql_command_result",
	8:   "write_stream_operation_start_result",
	9:   "streaming_query_command_result",
	10:  "get_resources_command_result",
	11:  "streaming_query_manager_command_result",
	14:  "result_complete",
	16:  "streaming_query_listener_events_result",
	17:  "create_resource_profile_command_result",
	18:  "execution_progress",
	19:  "checkpoint_command_result",
	20:  "ml_command_result",
	999: "extension",
}

// --- encoding ---

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	return appendOptionalString(b, num, s)
}

func appendOptionalString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendStrings(b []byte, num protowire.Number, ss []string) []byte {
	for _, s := range ss {
		b = appendOptionalString(b, num, s)
	}
	return b
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

// appendStringMap writes a map<string,string> with keys in sorted order so
// that equal maps always encode to equal bytes.
func appendStringMap(b []byte, num protowire.Number, m map[string]string) []byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var entry []byte
		entry = appendOptionalString(entry, 1, k)
		entry = appendOptionalString(entry, 2, m[k])
		b = appendMessage(b, num, entry)
	}
	return b
}

// MarshalRequest encodes an ExecutePlanRequest in the protobuf wire format.
func MarshalRequest(req *ExecutePlanRequest) []byte {
	var b []byte
	b = appendString(b, fieldRequestSessionID, req.SessionID)
	if req.UserContext != nil {
		b = appendMessage(b, fieldRequestUserContext, marshalUserContext(req.UserContext))
	}
	b = appendMessage(b, fieldRequestPlan, marshalPlan(&req.Plan))
	if req.ClientType != nil {
		b = appendOptionalString(b, fieldRequestClientType, *req.ClientType)
	}
	return b
}

func marshalUserContext(uc *UserContext) []byte {
	var b []byte
	b = appendString(b, fieldUserID, uc.UserID)
	b = appendString(b, fieldUserName, uc.UserName)
	for _, ext := range uc.Extensions {
		var msg []byte
		msg = appendString(msg, 1, ext.GetTypeUrl())
		if len(ext.GetValue()) > 0 {
			msg = protowire.AppendTag(msg, 2, protowire.BytesType)
			msg = protowire.AppendBytes(msg, ext.GetValue())
		}
		b = appendMessage(b, fieldUserExtensions, msg)
	}
	return b
}

func marshalPlan(p *ExecutePlan) []byte {
	var b []byte
	switch {
	case p.Root != nil:
		b = appendMessage(b, fieldPlanRoot, marshalRelation(p.Root))
	case p.Command != nil:
		b = appendMessage(b, fieldPlanCommand, marshalCommand(p.Command))
	}
	return b
}

// MarshalRelation encodes a Relation in the protobuf wire format.
func MarshalRelation(rel *Relation) []byte {
	return marshalRelation(rel)
}

func marshalRelation(rel *Relation) []byte {
	var b []byte
	if rel.PlanID != nil {
		var common []byte
		common = protowire.AppendTag(common, fieldCommonPlanID, protowire.VarintType)
		common = protowire.AppendVarint(common, uint64(*rel.PlanID))
		b = appendMessage(b, fieldRelationCommon, common)
	}
	switch r := rel.Rel.(type) {
	case *SQL:
		var sql []byte
		sql = appendString(sql, 1, r.Query)
		b = appendMessage(b, fieldRelationSQL, sql)
	case *Read:
		b = appendMessage(b, fieldRelationRead, marshalRead(r))
	case *Project:
		var proj []byte
		if r.Input != nil {
			proj = appendMessage(proj, 1, marshalRelation(r.Input))
		}
		for _, e := range r.Expressions {
			proj = appendMessage(proj, 3, marshalExpression(e))
		}
		b = appendMessage(b, fieldRelationProject, proj)
	case *Filter:
		var filter []byte
		if r.Input != nil {
			filter = appendMessage(filter, 1, marshalRelation(r.Input))
		}
		if r.Condition != nil {
			filter = appendMessage(filter, 2, marshalExpression(r.Condition))
		}
		b = appendMessage(b, fieldRelationFilter, filter)
	case *Limit:
		var limit []byte
		if r.Input != nil {
			limit = appendMessage(limit, 1, marshalRelation(r.Input))
		}
		limit = appendVarint(limit, 2, uint64(r.Limit))
		b = appendMessage(b, fieldRelationLimit, limit)
	}
	return b
}

func marshalRead(r *Read) []byte {
	var b []byte
	switch {
	case r.NamedTable != nil:
		var nt []byte
		nt = appendString(nt, 1, r.NamedTable.UnparsedIdentifier)
		nt = appendStringMap(nt, 2, r.NamedTable.Options)
		b = appendMessage(b, fieldReadNamedTable, nt)
	case r.DataSource != nil:
		ds := r.DataSource
		var src []byte
		if ds.Format != nil {
			src = appendOptionalString(src, 1, *ds.Format)
		}
		if ds.Schema != nil {
			src = appendOptionalString(src, 2, *ds.Schema)
		}
		src = appendStringMap(src, 3, ds.Options)
		src = appendStrings(src, 4, ds.Paths)
		src = appendStrings(src, 5, ds.Predicates)
		b = appendMessage(b, fieldReadDataSource, src)
	}
	if r.IsStreaming {
		b = appendVarint(b, fieldReadIsStreaming, 1)
	}
	return b
}

func marshalExpression(e Expression) []byte {
	var b []byte
	switch x := e.(type) {
	case UnresolvedAttribute:
		var attr []byte
		attr = appendString(attr, 1, x.UnparsedIdentifier)
		b = appendMessage(b, fieldExprUnresolvedAttribute, attr)
	case ExpressionString:
		var expr []byte
		expr = appendString(expr, 1, x.Expression)
		b = appendMessage(b, fieldExprExpressionString, expr)
	}
	return b
}

func marshalCommand(c *Command) []byte {
	var b []byte
	if c.WriteOperation != nil {
		b = appendMessage(b, fieldCommandWriteOperation, marshalWriteOperation(c.WriteOperation))
	}
	return b
}

func marshalWriteOperation(w *WriteOperation) []byte {
	var b []byte
	if w.Input != nil {
		b = appendMessage(b, fieldWriteInput, marshalRelation(w.Input))
	}
	if w.Source != nil {
		b = appendOptionalString(b, fieldWriteSource, *w.Source)
	}
	switch t := w.Target.(type) {
	case SavePath:
		b = appendOptionalString(b, fieldWritePath, string(t))
	case SaveTable:
		var table []byte
		table = appendString(table, 1, t.TableName)
		table = appendVarint(table, 2, uint64(t.SaveMethod))
		b = appendMessage(b, fieldWriteTable, table)
	}
	b = appendVarint(b, fieldWriteMode, uint64(w.Mode))
	b = appendStrings(b, fieldWriteSortColumnNames, w.SortColumnNames)
	b = appendStrings(b, fieldWritePartitioningColumns, w.PartitioningColumns)
	if w.BucketBy != nil {
		var bucket []byte
		bucket = appendStrings(bucket, 1, w.BucketBy.ColumnNames)
		bucket = appendVarint(bucket, 2, uint64(w.BucketBy.NumBuckets))
		b = appendMessage(b, fieldWriteBucketBy, bucket)
	}
	b = appendStringMap(b, fieldWriteOptions, w.Options)
	return b
}

// --- decoding ---

// ArrowBatch is a columnar payload carried by a response.
type ArrowBatch struct {
	RowCount int64
	Data     []byte
}

// MetricValue is one execution metric of a plan node.
type MetricValue struct {
	Name       string
	Value      int64
	MetricType string
}

// MetricObject holds the metrics of one plan node.
type MetricObject struct {
	Name             string
	PlanID           int64
	Parent           int64
	ExecutionMetrics map[string]MetricValue
}

// Metrics is the metrics block of a response.
type Metrics struct {
	Metrics []MetricObject
}

// ExecutePlanResponse is one element of an ExecutePlan response stream.
type ExecutePlanResponse struct {
	SessionID           string
	ServerSideSessionID string
	OperationID         string
	ResponseID          string

	// At most one response type is set. Unsupported names a response type
	// this client does not handle.
	ArrowBatch     *ArrowBatch
	ResultComplete bool
	Unsupported    string

	Metrics *Metrics
	// Schema is the encoded spark.connect.DataType of the result, kept opaque.
	Schema []byte
}

// fieldReader walks the fields of one encoded message.
type fieldReader struct {
	b   []byte
	err error
}

// next returns the next field number, wire type and raw value. ok is false
// at the end of the message or on a malformed field (r.err is set).
func (r *fieldReader) next() (num protowire.Number, typ protowire.Type, val []byte, ok bool) {
	if len(r.b) == 0 || r.err != nil {
		return 0, 0, nil, false
	}
	num, typ, n := protowire.ConsumeTag(r.b)
	if n < 0 {
		r.err = protowire.ParseError(n)
		return 0, 0, nil, false
	}
	r.b = r.b[n:]
	m := protowire.ConsumeFieldValue(num, typ, r.b)
	if m < 0 {
		r.err = protowire.ParseError(m)
		return 0, 0, nil, false
	}
	val = r.b[:m]
	r.b = r.b[m:]
	return num, typ, val, true
}

func bytesValue(typ protowire.Type, val []byte) ([]byte, error) {
	if typ != protowire.BytesType {
		return nil, fmt.Errorf("expected length-delimited field, got wire type %d", typ)
	}
	v, n := protowire.ConsumeBytes(val)
	if n < 0 {
		return nil, protowire.ParseError(n)
	}
	return v, nil
}

func varintValue(typ protowire.Type, val []byte) (uint64, error) {
	if typ != protowire.VarintType {
		return 0, fmt.Errorf("expected varint field, got wire type %d", typ)
	}
	v, n := protowire.ConsumeVarint(val)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return v, nil
}

// UnmarshalResponse decodes one ExecutePlanResponse. Every field number not
// handled below, known response type or not, is recorded in Unsupported, so
// a non-oneof field added by a newer server also fails the call with
// KindNotImplementedYet.
func UnmarshalResponse(data []byte) (*ExecutePlanResponse, error) {
	resp := &ExecutePlanResponse{}
	r := fieldReader{b: data}
	for {
		num, typ, val, ok := r.next()
		if !ok {
			break
		}
		var err error
		switch num {
		case fieldResponseSessionID:
			resp.SessionID, err = stringValue(typ, val)
		case fieldResponseServerSideSessionID:
			resp.ServerSideSessionID, err = stringValue(typ, val)
		case fieldResponseOperationID:
			resp.OperationID, err = stringValue(typ, val)
		case fieldResponseResponseID:
			resp.ResponseID, err = stringValue(typ, val)
		case fieldResponseSchema:
			resp.Schema, err = bytesValue(typ, val)
		case fieldResponseMetrics:
			var msg []byte
			if msg, err = bytesValue(typ, val); err == nil {
				resp.Metrics, err = unmarshalMetrics(msg)
			}
		case fieldResponseObservedMetrics:
			// not surfaced
		case fieldResponseArrowBatch:
			var msg []byte
			if msg, err = bytesValue(typ, val); err == nil {
				resp.ArrowBatch, err = unmarshalArrowBatch(msg)
			}
		case fieldResponseResultComplete:
			resp.ResultComplete = true
		default:
			name, known := responseTypeNames[num]
			if !known {
				name = fmt.Sprintf("field %d", num)
			}
			resp.Unsupported = name
		}
		if err != nil {
			return nil, fmt.Errorf("decoding ExecutePlanResponse field %d: %w", num, err)
		}
	}
	if r.err != nil {
		return nil, fmt.Errorf("decoding ExecutePlanResponse: %w", r.err)
	}
	return resp, nil
}

func stringValue(typ protowire.Type, val []byte) (string, error) {
	b, err := bytesValue(typ, val)
	return string(b), err
}

func unmarshalArrowBatch(data []byte) (*ArrowBatch, error) {
	batch := &ArrowBatch{}
	r := fieldReader{b: data}
	for {
		num, typ, val, ok := r.next()
		if !ok {
			break
		}
		var err error
		switch num {
		case 1:
			var v uint64
			v, err = varintValue(typ, val)
			batch.RowCount = int64(v)
		case 2:
			var v []byte
			v, err = bytesValue(typ, val)
			batch.Data = append([]byte(nil), v...)
		}
		if err != nil {
			return nil, err
		}
	}
	return batch, r.err
}

func unmarshalMetrics(data []byte) (*Metrics, error) {
	m := &Metrics{}
	r := fieldReader{b: data}
	for {
		num, typ, val, ok := r.next()
		if !ok {
			break
		}
		if num != 1 {
			continue
		}
		msg, err := bytesValue(typ, val)
		if err != nil {
			return nil, err
		}
		obj, err := unmarshalMetricObject(msg)
		if err != nil {
			return nil, err
		}
		m.Metrics = append(m.Metrics, obj)
	}
	return m, r.err
}

func unmarshalMetricObject(data []byte) (MetricObject, error) {
	var obj MetricObject
	r := fieldReader{b: data}
	for {
		num, typ, val, ok := r.next()
		if !ok {
			break
		}
		var err error
		switch num {
		case 1:
			obj.Name, err = stringValue(typ, val)
		case 2:
			var v uint64
			v, err = varintValue(typ, val)
			obj.PlanID = int64(v)
		case 3:
			var v uint64
			v, err = varintValue(typ, val)
			obj.Parent = int64(v)
		case 4:
			var entry []byte
			if entry, err = bytesValue(typ, val); err == nil {
				var key string
				var mv MetricValue
				key, mv, err = unmarshalMetricEntry(entry)
				if err == nil {
					if obj.ExecutionMetrics == nil {
						obj.ExecutionMetrics = make(map[string]MetricValue)
					}
					obj.ExecutionMetrics[key] = mv
				}
			}
		}
		if err != nil {
			return obj, err
		}
	}
	return obj, r.err
}

func unmarshalMetricEntry(data []byte) (string, MetricValue, error) {
	var key string
	var mv MetricValue
	r := fieldReader{b: data}
	for {
		num, typ, val, ok := r.next()
		if !ok {
			break
		}
		var err error
		switch num {
		case 1:
			key, err = stringValue(typ, val)
		case 2:
			var msg []byte
			if msg, err = bytesValue(typ, val); err == nil {
				mv, err = unmarshalMetricValue(msg)
			}
		}
		if err != nil {
			return "", mv, err
		}
	}
	return key, mv, r.err
}

func unmarshalMetricValue(data []byte) (MetricValue, error) {
	var mv MetricValue
	r := fieldReader{b: data}
	for {
		num, typ, val, ok := r.next()
		if !ok {
			break
		}
		var err error
		switch num {
		case 1:
			mv.Name, err = stringValue(typ, val)
		case 2:
			var v uint64
			v, err = varintValue(typ, val)
			mv.Value = int64(v)
		case 3:
			mv.MetricType, err = stringValue(typ, val)
		}
		if err != nil {
			return mv, err
		}
	}
	return mv, r.err
}
