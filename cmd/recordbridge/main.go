package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/recordbridge/internal/pipeline"
	"github.com/ajitpratap0/recordbridge/pkg/config"
	"github.com/ajitpratap0/recordbridge/pkg/connector/registry"
	"github.com/ajitpratap0/recordbridge/pkg/logger"
	"github.com/ajitpratap0/recordbridge/pkg/metrics"
	"github.com/ajitpratap0/recordbridge/pkg/observability"

	// Register every connector and format
	_ "github.com/ajitpratap0/recordbridge/pkg/connector/destinations"
	_ "github.com/ajitpratap0/recordbridge/pkg/connector/sources"
	_ "github.com/ajitpratap0/recordbridge/pkg/formats/all"
)

var version = "0.1.0"

func main() {
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:   "recordbridge",
		Short: "recordbridge - move records between formats, stores and services",
		Long: `recordbridge converts structured records between Avro, Parquet, Arrow,
CSV, Excel and NDJSON, and runs pipelines between object stores, databases,
MongoDB, BigQuery and Kafka.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Init(logger.Config{Level: logLevel, Encoding: "console"})
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newVersionCommand(),
		newListCommand(),
		newRunCommand(),
		newConvertCommand(),
		newSchemaCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "recordbridge v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available connectors",
		Run: func(cmd *cobra.Command, args []string) {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tNAME\tVERSION\tDESCRIPTION")
			for _, info := range registry.ListConnectorInfo() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.Type, info.Name, info.Version, info.Description)
			}
			_ = w.Flush()
		},
	}
}

func newRunCommand() *cobra.Command {
	var limit int64
	cmd := &cobra.Command{
		Use:   "run <pipeline.yaml>",
		Short: "Run a pipeline file",
		Long: `Run the pipeline described by a YAML or JSON file. Values may reference
environment variables as ${VAR}; RECORDBRIDGE_* variables override keys.

Example:
  recordbridge run orders-to-bigquery.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pc, err := config.LoadPipeline(args[0])
			if err != nil {
				return err
			}
			return runPipeline(cmd, pc, limit)
		},
	}
	cmd.Flags().Int64Var(&limit, "limit", 0, "Stop after this many records (0 = all)")
	return cmd
}

func runPipeline(cmd *cobra.Command, pc *config.PipelineConfig, limit int64) error {
	if !cmd.Flags().Changed("log-level") && pc.LogLevel != "" {
		if err := logger.SetLevel(pc.LogLevel); err != nil {
			return err
		}
	}
	log := logger.Get().With(
		zap.String("component", "recordbridge-cli"),
		zap.String("source", pc.Source.Type),
		zap.String("destination", pc.Destination.Type),
	)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if pc.Tracing {
		tc := observability.DefaultConfig()
		tc.ServiceVersion = version
		if err := observability.Initialize(ctx, tc); err != nil {
			return err
		}
		defer func() { _ = observability.Shutdown(context.WithoutCancel(ctx)) }()
	}
	if pc.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, pc.MetricsAddr, log); err != nil {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	p, err := pipeline.FromConfig(pc, log)
	if err != nil {
		return err
	}
	p.SetLimit(limit)
	result, err := p.Execute(ctx, pc)
	if result != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "read %d, written %d, filtered %d, failed %d in %s\n",
			result.RecordsRead, result.RecordsWritten, result.RecordsFiltered, result.RecordsFailed,
			result.Duration.Round(1e6))
	}
	return err
}
