// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sparkconnect

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/apache/arrow-go/v18/arrow"
)

// FormatBatches renders batches as an ASCII table:
//
//	+---------+
//	| name    |
//	+---------+
//	| Michael |
//	+---------+
//
// The header comes from the first batch's schema. Nulls render as empty
// cells. An empty slice renders as "++\n++".
func FormatBatches(batches []arrow.RecordBatch) string {
	if len(batches) == 0 {
		return "++\n++"
	}
	schema := batches[0].Schema()
	ncols := schema.NumFields()

	header := make([]string, ncols)
	widths := make([]int, ncols)
	for i, f := range schema.Fields() {
		header[i] = f.Name
		widths[i] = utf8.RuneCountInString(f.Name)
	}

	var rows [][]string
	for _, batch := range batches {
		for r := 0; r < int(batch.NumRows()); r++ {
			row := make([]string, ncols)
			for c := 0; c < ncols && c < int(batch.NumCols()); c++ {
				col := batch.Column(c)
				if !col.IsNull(r) {
					row[c] = col.ValueStr(r)
				}
				widths[c] = max(widths[c], utf8.RuneCountInString(row[c]))
			}
			rows = append(rows, row)
		}
	}

	var sb strings.Builder
	border := func() {
		sb.WriteByte('+')
		for _, w := range widths {
			sb.WriteString(strings.Repeat("-", w+2))
			sb.WriteByte('+')
		}
	}
	line := func(cells []string) {
		sb.WriteByte('|')
		for i, cell := range cells {
			sb.WriteByte(' ')
			sb.WriteString(cell)
			sb.WriteString(strings.Repeat(" ", widths[i]-utf8.RuneCountInString(cell)+1))
			sb.WriteByte('|')
		}
	}

	border()
	sb.WriteByte('\n')
	line(header)
	sb.WriteByte('\n')
	border()
	for _, row := range rows {
		sb.WriteByte('\n')
		line(row)
	}
	sb.WriteByte('\n')
	border()
	return sb.String()
}

// FormatSchema renders a schema as "name: type" lines, one per field.
func FormatSchema(schema *arrow.Schema) string {
	var sb strings.Builder
	for i, f := range schema.Fields() {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(f.Name)
		sb.WriteString(": ")
		sb.WriteString(arrowTypeToString(f.Type))
		if f.Nullable {
			sb.WriteString(" (nullable)")
		}
	}
	return sb.String()
}

// arrowTypeToString returns the Spark SQL name of an Arrow data type.
func arrowTypeToString(dt arrow.DataType) string {
	switch dt.ID() {
	case arrow.BOOL:
		return "boolean"
	case arrow.INT8:
		return "tinyint"
	case arrow.INT16:
		return "smallint"
	case arrow.INT32:
		return "int"
	case arrow.INT64:
		return "bigint"
	case arrow.FLOAT32:
		return "float"
	case arrow.FLOAT64:
		return "double"
	case arrow.STRING, arrow.LARGE_STRING:
		return "string"
	case arrow.BINARY, arrow.LARGE_BINARY:
		return "binary"
	case arrow.DATE32:
		return "date"
	case arrow.TIMESTAMP:
		return "timestamp"
	case arrow.NULL:
		return "void"
	case arrow.DECIMAL128:
		dec := dt.(*arrow.Decimal128Type)
		return "decimal(" + strconv.Itoa(int(dec.Precision)) + "," + strconv.Itoa(int(dec.Scale)) + ")"
	case arrow.LIST:
		return "array<" + arrowTypeToString(dt.(*arrow.ListType).Elem()) + ">"
	case arrow.MAP:
		m := dt.(*arrow.MapType)
		return "map<" + arrowTypeToString(m.KeyType()) + "," + arrowTypeToString(m.ItemType()) + ">"
	case arrow.STRUCT:
		st := dt.(*arrow.StructType)
		parts := make([]string, st.NumFields())
		for i, f := range st.Fields() {
			parts[i] = f.Name + ":" + arrowTypeToString(f.Type)
		}
		return "struct<" + strings.Join(parts, ",") + ">"
	default:
		return dt.String()
	}
}
