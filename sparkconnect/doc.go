// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package sparkconnect implements a Go client for the Spark Connect
// protocol. A caller describes a computation as a tree of logical plan
// nodes, the session ships it to a remote Spark Connect server as an
// ExecutePlan request over gRPC, and the streamed response is folded into
// Apache Arrow record batches.
//
// # Sessions
//
// A [Session] owns one gRPC channel and a session identifier generated once
// at creation. Sessions are created explicitly with [Connect] or
// [ConnectWithConfig] and are never reconnected or retried implicitly:
//
//	session, err := sparkconnect.Connect(ctx, "sc://localhost:15002", nil)
//	if err != nil {
//		return err
//	}
//	defer session.Close()
//
// A session may be shared by any number of goroutines, but at most one RPC
// is in flight per session at a time. Concurrent callers wait on the
// session guard until the previous response stream has been drained.
//
// # Connection strings
//
// Remotes use the Spark Connect URL format:
//
//	sc://host:port/;token=...;use_ssl=true;user_id=...;user_name=...
//
// Unrecognized parameters are sent to the server as gRPC headers.
//
// # Plans and data frames
//
// Plans are immutable. [DataFrame] methods such as [DataFrame.Select] and
// [DataFrame.SelectExpr] wrap a deep copy of the current plan in a new node
// and never touch the receiver. Nothing is sent to the server until
// [DataFrame.Collect] or [DataFrameWriter.Save] is called:
//
//	df := session.Read().Format("json").Load("/data/employees.json")
//	batches, err := df.Select("name").Collect(ctx)
//
// Select treats its arguments as column references; SelectExpr treats them
// as SQL expression text. The two lower to different wire expressions.
//
// # Errors
//
// Failures reported by the server are classified into a closed set of kinds
// (see [Kind]) by sniffing well-known error-class tags in the status
// message. Use errors.Is with the sentinels, for example
// [ErrTableOrViewNotFound], or errors.As with [*SparkError]. Failures while
// establishing the channel are reported as [*SessionError] instead.
package sparkconnect
