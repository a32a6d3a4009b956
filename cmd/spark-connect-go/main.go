// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Command spark-connect-go runs queries and writes against a Spark Connect
// server and prints the results as tables.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Query-farm/spark-connect-go/sparkconnect"
	sparkotel "github.com/Query-farm/spark-connect-go/sparkconnect/otel"
	sparkprom "github.com/Query-farm/spark-connect-go/sparkconnect/prom"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type globalFlags struct {
	remote         string
	userID         string
	userName       string
	logLevel       string
	trace          bool
	metrics        bool
	compression    bool
	connectTimeout time.Duration
	showSchema     bool
}

var flags globalFlags

var rootCmd = &cobra.Command{
	Use:           "spark-connect-go",
	Short:         "Spark Connect client",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.remote, "remote", "", "connection string (default $SPARK_REMOTE or "+sparkconnect.DefaultRemote+")")
	pf.StringVar(&flags.userID, "user-id", "", "user id sent with every request")
	pf.StringVar(&flags.userName, "user-name", "", "user name sent with every request")
	pf.StringVar(&flags.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	pf.BoolVar(&flags.trace, "trace", false, "print OpenTelemetry spans and metrics to stderr")
	pf.BoolVar(&flags.metrics, "metrics", false, "print Prometheus metrics to stderr on exit")
	pf.BoolVar(&flags.compression, "compression", false, "gzip-compress requests")
	pf.DurationVar(&flags.connectTimeout, "connect-timeout", 0, "wait for the channel to become ready")
	pf.BoolVar(&flags.showSchema, "schema", false, "print the result schema before the rows")

	rootCmd.AddCommand(sqlCmd(), tableCmd(), readCmd(), writeCmd())
}

// run connects, calls fn with the session, then flushes telemetry.
func run(cmd *cobra.Command, fn func(ctx context.Context, s *sparkconnect.Session) error) error {
	ctx := cmd.Context()

	var level slog.Level
	if err := level.UnmarshalText([]byte(flags.logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", flags.logLevel, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := sparkconnect.DefaultConfig()
	if flags.remote != "" {
		cfg.Remote = flags.remote
	}
	cfg.Logger = logger
	cfg.Compression = flags.compression
	cfg.ConnectTimeout = flags.connectTimeout
	if flags.userID != "" || flags.userName != "" {
		cfg.UserContext = &sparkconnect.UserContext{UserID: flags.userID, UserName: flags.userName}
	}

	tel, err := newTelemetry(flags.trace, flags.metrics)
	if err != nil {
		return err
	}
	return connectAndRun(ctx, cfg, tel, logger, fn)
}

// telemetry holds the hooks enabled by --trace and --metrics and what must
// be flushed when the command ends.
type telemetry struct {
	hooks    []sparkconnect.ExecuteHook
	shutdown []func(context.Context) error
	registry *prometheus.Registry
}

func newTelemetry(trace, metrics bool) (*telemetry, error) {
	tel := &telemetry{}
	if trace {
		spanExp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		metricExp, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stderr))
		if err != nil {
			return nil, err
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(spanExp))
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)))
		tel.shutdown = append(tel.shutdown, tp.Shutdown, mp.Shutdown)

		oc := sparkotel.DefaultConfig()
		oc.TracerProvider = tp
		oc.MeterProvider = mp
		tel.hooks = append(tel.hooks, sparkotel.NewHook(oc))
	}
	if metrics {
		tel.registry = prometheus.NewRegistry()
		tel.hooks = append(tel.hooks, sparkprom.NewHook(tel.registry))
	}
	return tel, nil
}

// flush shuts the providers down and dumps the registry. Failures are
// logged, never returned.
func (t *telemetry) flush(logger *slog.Logger) {
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, f := range t.shutdown {
		if err := f(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "err", err)
		}
	}
	if t.registry != nil {
		if err := dumpMetrics(t.registry); err != nil {
			logger.Warn("metrics dump failed", "err", err)
		}
	}
}

// connectAndRun connects with cfg and calls fn with the session. Telemetry
// is flushed however the call ends, including a failed connect.
func connectAndRun(ctx context.Context, cfg sparkconnect.Config, tel *telemetry, logger *slog.Logger,
	fn func(ctx context.Context, s *sparkconnect.Session) error) error {
	defer tel.flush(logger)

	cfg.Hook = sparkconnect.MultiHook(tel.hooks...)
	session, err := sparkconnect.ConnectWithConfig(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = session.Close() }()
	return fn(ctx, session)
}

func dumpMetrics(g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(os.Stderr, mf); err != nil {
			return err
		}
	}
	return nil
}

// show collects df and prints it.
func show(ctx context.Context, df *sparkconnect.DataFrame) error {
	batches, err := df.Collect(ctx)
	if err != nil {
		return err
	}
	defer sparkconnect.ReleaseBatches(batches)
	printBatches(batches)
	return nil
}

func printBatches(batches []arrow.RecordBatch) {
	if flags.showSchema && len(batches) > 0 {
		fmt.Println(sparkconnect.FormatSchema(batches[0].Schema()))
	}
	fmt.Println(sparkconnect.FormatBatches(batches))
}

// transform applies the shared projection and filter flags.
type transform struct {
	selects     []string
	selectExprs []string
	where       string
	limit       int32
}

func (t *transform) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringSliceVar(&t.selects, "select", nil, "columns to select")
	f.StringArrayVar(&t.selectExprs, "select-expr", nil, "SQL expressions to select (repeatable)")
	f.StringVar(&t.where, "where", "", "SQL filter condition")
	f.Int32Var(&t.limit, "limit", -1, "maximum number of rows")
}

func (t *transform) apply(df *sparkconnect.DataFrame) *sparkconnect.DataFrame {
	if t.where != "" {
		df = df.Where(t.where)
	}
	if len(t.selects) > 0 {
		df = df.Select(t.selects...)
	}
	if len(t.selectExprs) > 0 {
		df = df.SelectExpr(t.selectExprs...)
	}
	if t.limit >= 0 {
		df = df.Limit(t.limit)
	}
	return df
}

func sqlCmd() *cobra.Command {
	var t transform
	cmd := &cobra.Command{
		Use:   "sql QUERY",
		Short: "Run a SQL query and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, s *sparkconnect.Session) error {
				return show(ctx, t.apply(s.SQL(args[0])))
			})
		},
	}
	t.register(cmd)
	return cmd
}

func tableCmd() *cobra.Command {
	var t transform
	cmd := &cobra.Command{
		Use:   "table NAME",
		Short: "Print the contents of a catalog table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, s *sparkconnect.Session) error {
				return show(ctx, t.apply(s.Table(args[0])))
			})
		},
	}
	t.register(cmd)
	return cmd
}

func readCmd() *cobra.Command {
	var (
		t       transform
		format  string
		schema  string
		options map[string]string
	)
	cmd := &cobra.Command{
		Use:   "read PATH...",
		Short: "Load files through a data source and print them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, s *sparkconnect.Session) error {
				r := s.Read().Options(options)
				if format != "" {
					r = r.Format(format)
				}
				if schema != "" {
					r = r.Schema(schema)
				}
				return show(ctx, t.apply(r.Load(args...)))
			})
		},
	}
	t.register(cmd)
	cmd.Flags().StringVar(&format, "format", "", "data source format, e.g. json, csv, parquet")
	cmd.Flags().StringVar(&schema, "read-schema", "", "DDL schema, e.g. \"name STRING, salary INT\"")
	cmd.Flags().StringToStringVar(&options, "option", nil, "data source option key=value (repeatable)")
	return cmd
}

func writeCmd() *cobra.Command {
	var (
		query       string
		format      string
		mode        string
		path        string
		table       string
		insertInto  string
		partitionBy []string
		options     map[string]string
	)
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write the result of a SQL query to a path or table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if query == "" {
				return fmt.Errorf("--query is required")
			}
			var target sparkconnect.SaveTarget
			switch {
			case path != "" && table == "" && insertInto == "":
				target = sparkconnect.SavePath(path)
			case table != "" && path == "" && insertInto == "":
				target = sparkconnect.SaveTable{TableName: table, SaveMethod: sparkconnect.TableSaveMethodSaveAsTable}
			case insertInto != "" && path == "" && table == "":
				target = sparkconnect.SaveTable{TableName: insertInto, SaveMethod: sparkconnect.TableSaveMethodInsertInto}
			case path == "" && table == "" && insertInto == "":
			default:
				return fmt.Errorf("--path, --table and --insert-into are mutually exclusive")
			}
			saveMode, ok := sparkconnect.ParseSaveMode(mode)
			if !ok {
				return fmt.Errorf("unknown save mode %q", mode)
			}

			return run(cmd, func(ctx context.Context, s *sparkconnect.Session) error {
				w := s.SQL(query).Write().Mode(saveMode).Options(options)
				if format != "" {
					w = w.Format(format)
				}
				if len(partitionBy) > 0 {
					w = w.PartitionBy(partitionBy...)
				}
				if err := w.Save(ctx, target); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "wrote %s\n", describeTarget(target))
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&query, "query", "", "SQL query producing the rows to write")
	f.StringVar(&format, "format", "", "output format, e.g. json, csv, parquet")
	f.StringVar(&mode, "mode", "error", "save mode: append, overwrite, error, ignore")
	f.StringVar(&path, "path", "", "output path")
	f.StringVar(&table, "table", "", "save as catalog table")
	f.StringVar(&insertInto, "insert-into", "", "insert into existing catalog table")
	f.StringSliceVar(&partitionBy, "partition-by", nil, "partitioning columns")
	f.StringToStringVar(&options, "option", nil, "output option key=value (repeatable)")
	return cmd
}

func describeTarget(target sparkconnect.SaveTarget) string {
	switch t := target.(type) {
	case sparkconnect.SavePath:
		return string(t)
	case sparkconnect.SaveTable:
		return "table " + t.TableName
	}
	return "sink"
}
