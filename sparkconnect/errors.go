// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sparkconnect

import (
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies a [SparkError].
type Kind int

const (
	kindAny Kind = iota
	// KindDeserializationFailed means a columnar payload could not be decoded.
	KindDeserializationFailed
	// KindEmptyResponse means a response stream ended without any payload.
	KindEmptyResponse
	// KindGeneric is a server failure that carries no recognized error class.
	KindGeneric
	KindHiveCatalogNotEnabled
	KindInvalidSyntax
	// KindNotImplementedYet means the server sent something this client
	// does not handle.
	KindNotImplementedYet
	KindTableOrViewNotFound
	KindUnresolvedColumnWithSuggestion
	// KindUnexpected is a local state inconsistency.
	KindUnexpected
)

var kindNames = map[Kind]string{
	KindDeserializationFailed:          "DeserializationFailed",
	KindEmptyResponse:                  "EmptyResponse",
	KindGeneric:                        "Generic",
	KindHiveCatalogNotEnabled:          "HiveCatalogNotEnabled",
	KindInvalidSyntax:                  "InvalidSyntax",
	KindNotImplementedYet:              "NotImplementedYet",
	KindTableOrViewNotFound:            "TableOrViewNotFound",
	KindUnresolvedColumnWithSuggestion: "UnresolvedColumnWithSuggestion",
	KindUnexpected:                     "Unexpected",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// SparkError is a failure of a single operation issued through a [Session].
type SparkError struct {
	Kind Kind
	// Message is the server's status message for server-side kinds, or the
	// local diagnostic otherwise.
	Message string
	// Code is the gRPC status code for server-side kinds, codes.OK otherwise.
	Code codes.Code
	// Err is the underlying cause, if any.
	Err error
}

// Sentinels for use with errors.Is. ErrSpark matches every *SparkError.
var (
	ErrSpark                          = &SparkError{Kind: kindAny}
	ErrDeserializationFailed          = &SparkError{Kind: KindDeserializationFailed}
	ErrEmptyResponse                  = &SparkError{Kind: KindEmptyResponse}
	ErrGeneric                        = &SparkError{Kind: KindGeneric}
	ErrHiveCatalogNotEnabled          = &SparkError{Kind: KindHiveCatalogNotEnabled}
	ErrInvalidSyntax                  = &SparkError{Kind: KindInvalidSyntax}
	ErrNotImplementedYet              = &SparkError{Kind: KindNotImplementedYet}
	ErrTableOrViewNotFound            = &SparkError{Kind: KindTableOrViewNotFound}
	ErrUnresolvedColumnWithSuggestion = &SparkError{Kind: KindUnresolvedColumnWithSuggestion}
	ErrUnexpected                     = &SparkError{Kind: KindUnexpected}
)

func (e *SparkError) Error() string {
	switch e.Kind {
	case KindEmptyResponse:
		return "Empty response"
	case KindTableOrViewNotFound:
		return "Table or view not found"
	case KindHiveCatalogNotEnabled:
		return "Hive Catalog not enabled"
	}
	return e.Message
}

func (e *SparkError) Unwrap() error {
	return e.Err
}

// Is supports errors.Is by matching a *SparkError of the same kind.
// ErrSpark matches any kind.
func (e *SparkError) Is(target error) bool {
	t, ok := target.(*SparkError)
	if !ok {
		return false
	}
	return t.Kind == kindAny || t.Kind == e.Kind
}

func newError(kind Kind, format string, args ...any) *SparkError {
	return &SparkError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// errorClasses maps server error-class tags to kinds. The scan is ordered and
// the first tag found in the status message wins.
var errorClasses = []struct {
	tag  string
	kind Kind
}{
	{"[TABLE_OR_VIEW_NOT_FOUND]", KindTableOrViewNotFound},
	{"[HIVE_CATALOG_NOT_ENABLED]", KindHiveCatalogNotEnabled},
	{"[PARSE_SYNTAX_ERROR]", KindInvalidSyntax},
	{"[UNRESOLVED_COLUMN.WITH_SUGGESTION]", KindUnresolvedColumnWithSuggestion},
}

// ClassifyStatus converts an RPC failure into a *SparkError. Errors that are
// already a *SparkError are returned unchanged.
//
// Classification is a substring search for error-class tags in the status
// message. The server does not expose a structured error code on this path,
// so a reworded message degrades to KindGeneric.
func ClassifyStatus(err error) error {
	if err == nil {
		return nil
	}
	if se, ok := err.(*SparkError); ok {
		return se
	}
	st, ok := status.FromError(err)
	if !ok {
		// context errors map to Canceled / DeadlineExceeded, others to Unknown
		st = status.FromContextError(err)
	}
	msg := st.Message()
	for _, class := range errorClasses {
		if strings.Contains(msg, class.tag) {
			return &SparkError{Kind: class.kind, Message: msg, Code: st.Code(), Err: err}
		}
	}
	return &SparkError{Kind: KindGeneric, Message: msg, Code: st.Code(), Err: err}
}

// SessionError reports a failure to establish a session. It is never
// returned by an operation on an established session.
type SessionError struct {
	Remote string
	Err    error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("Error creating SparkSession %s: %v", e.Remote, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}
