// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sparkconnect

import (
	"google.golang.org/protobuf/types/known/anypb"
)

// Relation is the wire representation of a plan node (spark.connect.Relation).
type Relation struct {
	// PlanID is sent as RelationCommon.plan_id when set.
	PlanID *int64
	Rel    RelType
}

// RelType is one of *SQL, *Read, *Project, *Filter or *Limit.
type RelType interface {
	isRelType()
}

// SQL is a relation defined by query text.
type SQL struct {
	Query string
}

// Read is a relation read from a named table or a data source. Exactly one
// of NamedTable and DataSource is set.
type Read struct {
	NamedTable  *NamedTable
	DataSource  *DataSource
	IsStreaming bool
}

// NamedTable identifies a table or view known to the server's catalog.
type NamedTable struct {
	UnparsedIdentifier string
	Options            map[string]string
}

// DataSource reads files through a server-side data source.
type DataSource struct {
	Format     *string
	Schema     *string
	Options    map[string]string
	Paths      []string
	Predicates []string
}

// Project evaluates Expressions over Input.
type Project struct {
	Input       *Relation
	Expressions []Expression
}

// Filter keeps the rows of Input for which Condition holds.
type Filter struct {
	Input     *Relation
	Condition Expression
}

// Limit keeps the first Limit rows of Input.
type Limit struct {
	Input *Relation
	Limit int32
}

func (*SQL) isRelType()     {}
func (*Read) isRelType()    {}
func (*Project) isRelType() {}
func (*Filter) isRelType()  {}
func (*Limit) isRelType()   {}

// Expression is either an UnresolvedAttribute or an ExpressionString.
type Expression interface {
	isExpression()
}

// UnresolvedAttribute references a column by name; the server resolves it.
type UnresolvedAttribute struct {
	UnparsedIdentifier string
}

// ExpressionString is SQL expression text parsed by the server.
type ExpressionString struct {
	Expression string
}

func (UnresolvedAttribute) isExpression() {}
func (ExpressionString) isExpression()    {}

// SaveMode governs what a write does when its target already exists.
type SaveMode int32

// The values match spark.connect.WriteOperation.SaveMode.
const (
	SaveModeUnspecified   SaveMode = 0
	SaveModeAppend        SaveMode = 1
	SaveModeOverwrite     SaveMode = 2
	SaveModeErrorIfExists SaveMode = 3
	SaveModeIgnore        SaveMode = 4
)

func (m SaveMode) String() string {
	switch m {
	case SaveModeAppend:
		return "append"
	case SaveModeOverwrite:
		return "overwrite"
	case SaveModeErrorIfExists:
		return "error"
	case SaveModeIgnore:
		return "ignore"
	default:
		return "unspecified"
	}
}

// ParseSaveMode accepts the mode names understood by DataFrameWriter.mode in
// the other Spark clients.
func ParseSaveMode(s string) (SaveMode, bool) {
	switch s {
	case "append":
		return SaveModeAppend, true
	case "overwrite":
		return SaveModeOverwrite, true
	case "error", "errorifexists", "default":
		return SaveModeErrorIfExists, true
	case "ignore":
		return SaveModeIgnore, true
	}
	return SaveModeUnspecified, false
}

// BucketBy describes bucketed output.
type BucketBy struct {
	ColumnNames []string
	NumBuckets  int32
}

// SaveTarget is where a write goes: SavePath, SaveTable, or nil for
// connector-specific sinks such as jdbc or noop.
type SaveTarget interface {
	isSaveTarget()
}

// SavePath writes to a filesystem path.
type SavePath string

// TableSaveMethod selects how SaveTable writes.
type TableSaveMethod int32

const (
	TableSaveMethodUnspecified TableSaveMethod = 0
	TableSaveMethodSaveAsTable TableSaveMethod = 1
	TableSaveMethodInsertInto  TableSaveMethod = 2
)

// SaveTable writes to a catalog table.
type SaveTable struct {
	TableName  string
	SaveMethod TableSaveMethod
}

func (SavePath) isSaveTarget()  {}
func (SaveTable) isSaveTarget() {}

// WriteOperation is the spark.connect.WriteOperation command.
type WriteOperation struct {
	Input               *Relation
	Source              *string
	Target              SaveTarget
	Mode                SaveMode
	SortColumnNames     []string
	PartitioningColumns []string
	BucketBy            *BucketBy
	Options             map[string]string
}

// Command is a side-effecting operation. WriteOperation is the only command
// this client issues.
type Command struct {
	WriteOperation *WriteOperation
}

// ExecutePlan is the plan of one Execute request. Exactly one of Root and
// Command is set.
type ExecutePlan struct {
	Root    *Relation
	Command *Command
}

// UserContext identifies the caller to the server.
type UserContext struct {
	UserID   string
	UserName string
	// ClientType is sent as the request's client_type tag when non-empty.
	ClientType string
	Extensions []*anypb.Any
}

// ExecutePlanRequest is one Execute request.
type ExecutePlanRequest struct {
	SessionID   string
	UserContext *UserContext
	Plan        ExecutePlan
	ClientType  *string
}
