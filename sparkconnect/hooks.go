// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sparkconnect

import "context"

// Operation type string constants for ExecuteInfo.OperationType.
const (
	OperationRoot    = "root"
	OperationCommand = "command"
)

// ExecuteHook provides observability callpoints around each ExecutePlan call.
// Implementations must be safe for concurrent use by several sessions.
type ExecuteHook interface {
	OnExecuteStart(ctx context.Context, info ExecuteInfo) (context.Context, HookToken)
	OnExecuteEnd(ctx context.Context, token HookToken, info ExecuteInfo, stats *CallStatistics, err error)
}

// HookToken is an opaque value returned by OnExecuteStart and passed back to
// OnExecuteEnd. Only meaningful to the ExecuteHook that created it.
type HookToken interface{}

// ExecuteInfo describes one ExecutePlan call.
type ExecuteInfo struct {
	SessionID     string
	OperationType string // OperationRoot or OperationCommand
	RelationType  string // top-level relation, e.g. "project"
	Remote        string // host:port of the server
}

// CallStatistics holds per-call counters of the response stream.
//
// Batches counts every columnar payload received. Rows and Bytes describe
// only the payload the call returns, the last one, so they match what the
// caller sees.
type CallStatistics struct {
	Responses int64
	Batches   int64
	Rows      int64
	Bytes     int64
}

// keepPayload records a columnar payload that replaces any earlier one.
func (s *CallStatistics) keepPayload(numRows, payloadBytes int64) {
	s.Batches++
	s.Rows = numRows
	s.Bytes = payloadBytes
}

// relationTypeName names the top-level relation of a request for hooks.
func relationTypeName(rel *Relation) string {
	if rel == nil {
		return ""
	}
	switch rel.Rel.(type) {
	case *SQL:
		return "sql"
	case *Read:
		return "read"
	case *Project:
		return "project"
	case *Filter:
		return "filter"
	case *Limit:
		return "limit"
	}
	return "unknown"
}

// MultiHook fans out to several hooks. Start hooks run in order, each seeing
// the context returned by the previous one; end hooks run in reverse.
func MultiHook(hooks ...ExecuteHook) ExecuteHook {
	var nonNil []ExecuteHook
	for _, h := range hooks {
		if h != nil {
			nonNil = append(nonNil, h)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	}
	return multiHook(nonNil)
}

type multiHook []ExecuteHook

func (m multiHook) OnExecuteStart(ctx context.Context, info ExecuteInfo) (context.Context, HookToken) {
	tokens := make([]HookToken, len(m))
	for i, h := range m {
		var next context.Context
		next, tokens[i] = h.OnExecuteStart(ctx, info)
		if next != nil {
			ctx = next
		}
	}
	return ctx, tokens
}

func (m multiHook) OnExecuteEnd(ctx context.Context, token HookToken, info ExecuteInfo, stats *CallStatistics, err error) {
	tokens, _ := token.([]HookToken)
	for i := len(m) - 1; i >= 0; i-- {
		var t HookToken
		if i < len(tokens) {
			t = tokens[i]
		}
		m[i].OnExecuteEnd(ctx, t, info, stats, err)
	}
}
