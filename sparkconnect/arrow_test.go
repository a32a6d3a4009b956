// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sparkconnect

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeArrowBatchOrder(t *testing.T) {
	src := memory.NewGoAllocator()
	var in []arrow.RecordBatch
	for _, name := range []string{"a", "b", "c"} {
		in = append(in, buildBatch(&table{columns: []string{"name"}, rows: [][]any{{name}}}, src))
	}
	data := encodeIPC(t, in...)
	ReleaseBatches(in)

	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	out, err := DecodeArrowBatch(data, mem)
	require.NoError(t, err)
	defer ReleaseBatches(out)

	require.Len(t, out, 3)
	assert.Equal(t, []string{"a", "b", "c"}, collectNames(t, out))
}

func TestDecodeArrowBatchSchemaOnly(t *testing.T) {
	empty := buildBatch(&table{columns: []string{"name"}}, memory.NewGoAllocator())
	defer empty.Release()
	data := encodeIPC(t, empty)

	out, err := DecodeArrowBatch(data, nil)
	require.NoError(t, err)
	defer ReleaseBatches(out)
	require.Len(t, out, 1)
	assert.Equal(t, int64(0), out[0].NumRows())
}

func TestDecodeArrowBatchMalformed(t *testing.T) {
	good := encodeTable(t, employees())

	src := memory.NewGoAllocator()
	var in []arrow.RecordBatch
	for _, name := range []string{"a", "b", "c"} {
		in = append(in, buildBatch(&table{columns: []string{"name"}, rows: [][]any{{name}}}, src))
	}
	two := encodeIPC(t, in[:2]...)
	three := encodeIPC(t, in...)
	ReleaseBatches(in)
	// size of the end-of-stream marker: continuation token, zero length
	const eosMarker = 8

	tests := map[string][]byte{
		"empty":                     nil,
		"bad magic":                 []byte("definitely not an arrow stream"),
		"truncated":                 good[:len(good)-10],
		"no end of stream":          good[:len(good)-eosMarker],
		"half end of stream":        good[:len(good)-eosMarker/2],
		"cut after batch 2 of 3":    three[:len(two)-eosMarker],
		"three batches without eos": three[:len(three)-eosMarker],
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			out, err := DecodeArrowBatch(data, memory.NewGoAllocator())
			require.Error(t, err)
			assert.Nil(t, out)
			assert.ErrorIs(t, err, ErrDeserializationFailed)
		})
	}
}

func TestDecodeArrowBatchTrailingBytesAfterEOS(t *testing.T) {
	data := append(encodeTable(t, employees()), 0xde, 0xad)

	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	out, err := DecodeArrowBatch(data, mem)
	require.NoError(t, err)
	defer ReleaseBatches(out)
	assert.Len(t, collectNames(t, out), 4)
}

func TestDecodeArrowBatchReleasesPartialBatches(t *testing.T) {
	data := encodeTable(t, employees())

	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	out, err := DecodeArrowBatch(data[:len(data)-8], mem)
	require.ErrorIs(t, err, ErrDeserializationFailed)
	assert.Contains(t, err.Error(), "end-of-stream")
	assert.Nil(t, out)
}
