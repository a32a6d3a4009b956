// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sparkconnect

import (
	"maps"
	"slices"
)

// Plan is a node of a logical plan tree. The set of nodes is closed: SQLPlan,
// NamedTablePlan, LoadPlan, ProjectPlan, FilterPlan and LimitPlan.
//
// Nodes are immutable once built. A node that has a child owns its own deep
// copy of it, so plans can be shared freely between goroutines.
type Plan interface {
	lower() *Relation
	clone() Plan
}

// Lower converts a plan tree into its wire relation. It has no side effects
// and returns equal relations for equal plans.
func Lower(p Plan) *Relation {
	return p.lower()
}

// Clone returns a deep copy of a plan tree.
func Clone(p Plan) Plan {
	return p.clone()
}

// SQLPlan is a relation defined by SQL text.
type SQLPlan struct {
	query string
}

// NewSQLPlan returns a plan that runs query.
func NewSQLPlan(query string) *SQLPlan {
	return &SQLPlan{query: query}
}

func (p *SQLPlan) lower() *Relation {
	return &Relation{Rel: &SQL{Query: p.query}}
}

func (p *SQLPlan) clone() Plan {
	return &SQLPlan{query: p.query}
}

// NamedTablePlan scans a table or view by name.
type NamedTablePlan struct {
	table   string
	options map[string]string
}

// NewNamedTablePlan returns a plan that scans table.
func NewNamedTablePlan(table string, options map[string]string) *NamedTablePlan {
	return &NamedTablePlan{table: table, options: maps.Clone(options)}
}

func (p *NamedTablePlan) lower() *Relation {
	return &Relation{Rel: &Read{
		NamedTable: &NamedTable{
			UnparsedIdentifier: p.table,
			Options:            maps.Clone(p.options),
		},
	}}
}

func (p *NamedTablePlan) clone() Plan {
	return NewNamedTablePlan(p.table, p.options)
}

// LoadPlan reads paths through a data source.
type LoadPlan struct {
	paths   []string
	format  *string
	schema  *string
	options map[string]string
}

// NewLoadPlan returns a plan that loads paths. format and schema may be nil,
// in which case the server's defaults apply.
func NewLoadPlan(paths []string, format, schema *string, options map[string]string) *LoadPlan {
	return &LoadPlan{
		paths:   slices.Clone(paths),
		format:  cloneString(format),
		schema:  cloneString(schema),
		options: maps.Clone(options),
	}
}

func (p *LoadPlan) lower() *Relation {
	return &Relation{Rel: &Read{
		DataSource: &DataSource{
			Format:  cloneString(p.format),
			Schema:  cloneString(p.schema),
			Options: maps.Clone(p.options),
			Paths:   slices.Clone(p.paths),
		},
	}}
}

func (p *LoadPlan) clone() Plan {
	return NewLoadPlan(p.paths, p.format, p.schema, p.options)
}

// ProjectPlan evaluates expressions over its input.
type ProjectPlan struct {
	expressions []Expression
	input       Plan
}

// NewProjectPlan returns a projection of input. The input is deep-copied.
func NewProjectPlan(input Plan, expressions []Expression) *ProjectPlan {
	return &ProjectPlan{
		expressions: slices.Clone(expressions),
		input:       input.clone(),
	}
}

// ColumnsProjection projects input onto the named columns.
func ColumnsProjection(input Plan, columns []string) *ProjectPlan {
	exprs := make([]Expression, len(columns))
	for i, c := range columns {
		exprs[i] = UnresolvedAttribute{UnparsedIdentifier: c}
	}
	return &ProjectPlan{expressions: exprs, input: input.clone()}
}

// ExpressionsProjection projects input onto SQL expressions.
func ExpressionsProjection(input Plan, exprs []string) *ProjectPlan {
	out := make([]Expression, len(exprs))
	for i, e := range exprs {
		out[i] = ExpressionString{Expression: e}
	}
	return &ProjectPlan{expressions: out, input: input.clone()}
}

func (p *ProjectPlan) lower() *Relation {
	return &Relation{Rel: &Project{
		Input:       p.input.lower(),
		Expressions: slices.Clone(p.expressions),
	}}
}

func (p *ProjectPlan) clone() Plan {
	return NewProjectPlan(p.input, p.expressions)
}

// FilterPlan keeps the rows of its input matching a SQL condition.
type FilterPlan struct {
	condition string
	input     Plan
}

// NewFilterPlan returns a filter over a deep copy of input.
func NewFilterPlan(input Plan, condition string) *FilterPlan {
	return &FilterPlan{condition: condition, input: input.clone()}
}

func (p *FilterPlan) lower() *Relation {
	return &Relation{Rel: &Filter{
		Input:     p.input.lower(),
		Condition: ExpressionString{Expression: p.condition},
	}}
}

func (p *FilterPlan) clone() Plan {
	return NewFilterPlan(p.input, p.condition)
}

// LimitPlan keeps the first n rows of its input.
type LimitPlan struct {
	n     int32
	input Plan
}

// NewLimitPlan returns a limit over a deep copy of input.
func NewLimitPlan(input Plan, n int32) *LimitPlan {
	return &LimitPlan{n: n, input: input.clone()}
}

func (p *LimitPlan) lower() *Relation {
	return &Relation{Rel: &Limit{Input: p.input.lower(), Limit: p.n}}
}

func (p *LimitPlan) clone() Plan {
	return NewLimitPlan(p.input, p.n)
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
