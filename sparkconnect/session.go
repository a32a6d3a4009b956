// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sparkconnect

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Session is one logical connection to a Spark Connect server.
//
// A Session is safe for concurrent use. Calls issued through it are
// serialized: one ExecutePlan RPC is in flight at a time, and a caller
// waits until the previous call's response stream has been fully drained.
type Session struct {
	id          string
	remote      *Remote
	userContext *UserContext
	ch          channel
	guard       *semaphore.Weighted
	logger      *slog.Logger
	hook        ExecuteHook
	mem         memory.Allocator
}

// Connect creates a session to remote with the default configuration. An
// empty remote falls back to $SPARK_REMOTE, then DefaultRemote. uc may be nil.
func Connect(ctx context.Context, remote string, uc *UserContext) (*Session, error) {
	cfg := DefaultConfig()
	if remote != "" {
		cfg.Remote = remote
	}
	cfg.UserContext = uc
	return ConnectWithConfig(ctx, cfg)
}

// ConnectWithConfig creates a session from cfg. Failures are reported as
// *SessionError.
func ConnectWithConfig(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Remote == "" {
		cfg.Remote = DefaultConfig().Remote
	}
	remote, err := ParseRemote(cfg.Remote)
	if err != nil {
		return nil, &SessionError{Remote: cfg.Remote, Err: err}
	}

	// A random UUID, like the Python client, so servers can correlate
	// sessions across client languages.
	id := uuid.NewString()
	if remote.SessionID != "" {
		parsed, err := uuid.Parse(remote.SessionID)
		if err != nil {
			return nil, &SessionError{Remote: cfg.Remote, Err: fmt.Errorf("invalid session_id: %w", err)}
		}
		id = parsed.String()
	}

	ch, err := dialChannel(ctx, remote, cfg)
	if err != nil {
		return nil, &SessionError{Remote: cfg.Remote, Err: err}
	}

	s := newSession(id, remote, mergeUserContext(cfg.UserContext, remote), ch, cfg)
	s.logger.Info("spark connect session created",
		"session_id", s.id, "remote", remote.Address(), "ssl", remote.UseSSL)
	return s, nil
}

func newSession(id string, remote *Remote, uc *UserContext, ch channel, cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mem := cfg.Allocator
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &Session{
		id:          id,
		remote:      remote,
		userContext: uc,
		ch:          ch,
		guard:       semaphore.NewWeighted(1),
		logger:      logger,
		hook:        cfg.Hook,
		mem:         mem,
	}
}

// mergeUserContext fills empty identity fields of uc from the connection
// string. The caller's value is never modified.
func mergeUserContext(uc *UserContext, remote *Remote) *UserContext {
	if uc == nil && remote.UserID == "" && remote.UserName == "" {
		return nil
	}
	merged := UserContext{}
	if uc != nil {
		merged = *uc
		merged.Extensions = append(merged.Extensions[:0:0], uc.Extensions...)
	}
	if merged.UserID == "" {
		merged.UserID = remote.UserID
	}
	if merged.UserName == "" {
		merged.UserName = remote.UserName
	}
	return &merged
}

// ID returns the session identifier sent with every request.
func (s *Session) ID() string {
	return s.id
}

// Remote returns the parsed connection string of the session.
func (s *Session) Remote() Remote {
	return *s.remote
}

// Close closes the underlying channel. Calls in flight fail.
func (s *Session) Close() error {
	return s.ch.Close()
}

// SQL returns a data frame for the result of query.
func (s *Session) SQL(query string) *DataFrame {
	return &DataFrame{session: s, plan: NewSQLPlan(query)}
}

// Table returns a data frame scanning the named table.
func (s *Session) Table(name string) *DataFrame {
	return s.Read().Table(name)
}

// Read returns a reader for loading data frames.
func (s *Session) Read() *DataFrameReader {
	return &DataFrameReader{session: s}
}

func (s *Session) buildRequest(plan ExecutePlan) *ExecutePlanRequest {
	req := &ExecutePlanRequest{SessionID: s.id, Plan: plan}
	if s.userContext != nil {
		uc := *s.userContext
		req.UserContext = &uc
		if uc.ClientType != "" {
			clientType := uc.ClientType
			req.ClientType = &clientType
		}
	}
	return req
}

// fetch runs rel and decodes the last columnar payload of the response.
func (s *Session) fetch(ctx context.Context, rel *Relation) ([]arrow.RecordBatch, error) {
	return s.execute(ctx, ExecutePlan{Root: rel})
}

// save runs a write command. The response stream is drained so that
// failures reported by the server are surfaced.
func (s *Session) save(ctx context.Context, op *WriteOperation) error {
	_, err := s.execute(ctx, ExecutePlan{Command: &Command{WriteOperation: op}})
	return err
}

// execute issues one ExecutePlan call and folds its response stream. Root
// plans return the decoded batches; command plans return nil.
func (s *Session) execute(ctx context.Context, plan ExecutePlan) (batches []arrow.RecordBatch, err error) {
	info := ExecuteInfo{
		SessionID:     s.id,
		OperationType: OperationRoot,
		RelationType:  relationTypeName(plan.Root),
		Remote:        s.remote.Address(),
	}
	if plan.Command != nil {
		info.OperationType = OperationCommand
		if plan.Command.WriteOperation != nil {
			info.RelationType = relationTypeName(plan.Command.WriteOperation.Input)
		}
	}

	collector := NewCollector()
	start := time.Now()

	var token HookToken
	hookActive := false
	if s.hook != nil {
		ctx, token, hookActive = s.hookStart(ctx, info)
	}
	defer func() {
		stats := collector.Statistics()
		if err != nil {
			s.logger.Debug("execute plan failed", "session_id", s.id,
				"operation", info.OperationType, "duration", time.Since(start), "err", err)
		} else {
			s.logger.Debug("execute plan done", "session_id", s.id,
				"operation", info.OperationType, "duration", time.Since(start),
				"responses", stats.Responses, "rows", stats.Rows)
		}
		if hookActive {
			s.hookEnd(ctx, token, info, &stats, err)
		}
	}()

	if err := s.guard.Acquire(ctx, 1); err != nil {
		return nil, ClassifyStatus(err)
	}
	defer s.guard.Release(1)

	s.logger.Debug("execute plan", "session_id", s.id,
		"operation", info.OperationType, "relation", info.RelationType)

	stream, err := s.ch.ExecutePlan(ctx, s.buildRequest(plan))
	if err != nil {
		return nil, ClassifyStatus(err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, ClassifyStatus(err)
		}
		if err := collector.Process(resp); err != nil {
			return nil, err
		}
	}

	if plan.Root == nil {
		return nil, nil
	}
	return collector.Records(s.mem)
}

// hookStart calls OnExecuteStart, recovering from panics in the hook.
func (s *Session) hookStart(ctx context.Context, info ExecuteInfo) (outCtx context.Context, token HookToken, active bool) {
	outCtx = ctx
	defer func() {
		if rv := recover(); rv != nil {
			s.logger.Error("execute hook start panic", "err", rv)
		}
	}()
	hookCtx, token := s.hook.OnExecuteStart(ctx, info)
	if hookCtx != nil {
		outCtx = hookCtx
	}
	return outCtx, token, true
}

func (s *Session) hookEnd(ctx context.Context, token HookToken, info ExecuteInfo, stats *CallStatistics, err error) {
	defer func() {
		if rv := recover(); rv != nil {
			s.logger.Error("execute hook end panic", "err", rv)
		}
	}()
	s.hook.OnExecuteEnd(ctx, token, info, stats, err)
}
