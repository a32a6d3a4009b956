// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sparkconnect

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// ScanRows copies the rows of batches into structs of type T. Struct fields
// are matched to columns by their `arrow:"column"` tag; untagged fields and
// columns without a field are skipped. Pointer fields receive nil for null
// values, other fields keep their zero value.
func ScanRows[T any](batches []arrow.RecordBatch) ([]T, error) {
	var zero T
	rt := reflect.TypeOf(zero)
	if rt == nil || rt.Kind() != reflect.Struct {
		return nil, fmt.Errorf("ScanRows: expected struct type, got %T", zero)
	}

	var rows []T
	for _, batch := range batches {
		fields, err := bindColumns(rt, batch.Schema())
		if err != nil {
			return nil, err
		}
		for row := 0; row < int(batch.NumRows()); row++ {
			var out T
			rv := reflect.ValueOf(&out).Elem()
			for fieldIdx, colIdx := range fields {
				col := batch.Column(colIdx)
				if col.IsNull(row) {
					continue
				}
				f := rt.Field(fieldIdx)
				if err := setFieldFromArrow(rv.Field(fieldIdx), f.Type, col, row); err != nil {
					return nil, fmt.Errorf("column %s row %d: %w", batch.ColumnName(colIdx), row, err)
				}
			}
			rows = append(rows, out)
		}
	}
	return rows, nil
}

// bindColumns maps struct field indexes to column indexes of schema.
func bindColumns(rt reflect.Type, schema *arrow.Schema) (map[int]int, error) {
	fields := make(map[int]int)
	for i := range rt.NumField() {
		f := rt.Field(i)
		tag := f.Tag.Get("arrow")
		if tag == "" || tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		indices := schema.FieldIndices(name)
		if len(indices) == 0 {
			continue
		}
		if len(indices) > 1 {
			return nil, fmt.Errorf("column %q is ambiguous", name)
		}
		if !f.IsExported() {
			return nil, fmt.Errorf("field %s is not exported", f.Name)
		}
		fields[i] = indices[0]
	}
	return fields, nil
}

// setFieldFromArrow sets a struct field from an Arrow array at index idx.
func setFieldFromArrow(field reflect.Value, fieldType reflect.Type, col arrow.Array, idx int) error {
	isPtr := fieldType.Kind() == reflect.Ptr
	if isPtr {
		fieldType = fieldType.Elem()
	}
	target := field
	if isPtr {
		target = reflect.New(fieldType).Elem()
	}

	var err error
	switch c := col.(type) {
	case *array.String:
		err = setString(target, c.Value(idx))
	case *array.LargeString:
		err = setString(target, c.Value(idx))
	case *array.Int64:
		err = setInt(target, c.Value(idx))
	case *array.Int32:
		err = setInt(target, int64(c.Value(idx)))
	case *array.Int16:
		err = setInt(target, int64(c.Value(idx)))
	case *array.Int8:
		err = setInt(target, int64(c.Value(idx)))
	case *array.Float64:
		err = setFloat(target, c.Value(idx))
	case *array.Float32:
		err = setFloat(target, float64(c.Value(idx)))
	case *array.Boolean:
		if target.Kind() != reflect.Bool {
			return fmt.Errorf("cannot store bool in %s", target.Type())
		}
		target.SetBool(c.Value(idx))
	case *array.Binary:
		if target.Kind() != reflect.Slice || target.Type().Elem().Kind() != reflect.Uint8 {
			return fmt.Errorf("cannot store bytes in %s", target.Type())
		}
		target.SetBytes(append([]byte(nil), c.Value(idx)...))
	default:
		err = setString(target, col.ValueStr(idx))
	}
	if err != nil {
		return err
	}
	if isPtr {
		field.Set(target.Addr())
	}
	return nil
}

func setString(v reflect.Value, s string) error {
	if v.Kind() != reflect.String {
		return fmt.Errorf("cannot store string in %s", v.Type())
	}
	v.SetString(s)
	return nil
}

func setInt(v reflect.Value, n int64) error {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if v.OverflowInt(n) {
			return fmt.Errorf("value %d overflows %s", n, v.Type())
		}
		v.SetInt(n)
	case reflect.Float32, reflect.Float64:
		v.SetFloat(float64(n))
	default:
		return fmt.Errorf("cannot store integer in %s", v.Type())
	}
	return nil
}

func setFloat(v reflect.Value, f float64) error {
	if v.Kind() != reflect.Float32 && v.Kind() != reflect.Float64 {
		return fmt.Errorf("cannot store float in %s", v.Type())
	}
	v.SetFloat(f)
	return nil
}
