package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is reported in telemetry resources.
var version = "0.1.0"

var (
	dialect      string
	templater    string
	sqlfluffPath string
	configPath   string
	rootPath     string
	logFile      string
	debug        bool

	rootCmd = &cobra.Command{
		Use:          "sqlfluff-lsp",
		Short:        "Language server that lints and formats SQL with sqlfluff",
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve LSP over stdin/stdout",
		Long: `Serve LSP over stdin/stdout.

Set OTEL_TRACES_EXPORTER and/or OTEL_METRICS_EXPORTER to "stdout" to write
sqlfluff call spans and metrics to stderr.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
)

func init() {
	serveCmd.Flags().StringVarP(&dialect, "dialect", "d", "", "SQL dialect passed to sqlfluff (defaults to sqlfluff's own config)")
	serveCmd.Flags().StringVarP(&templater, "templater", "t", "", "Templater passed to sqlfluff")
	serveCmd.Flags().StringVarP(&sqlfluffPath, "sqlfluff-path", "s", "", "Path to the sqlfluff executable (defaults to sqlfluff on PATH)")
	serveCmd.Flags().StringVar(&configPath, "config", "", "YAML config file for the server")
	serveCmd.Flags().StringVar(&rootPath, "root", "", "Project root watched for sqlfluff config changes (defaults to current directory)")
	serveCmd.Flags().StringVar(&logFile, "log", "", "Log file path (defaults to stderr)")
	serveCmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	serveCmd.Flags().Duration("timeout", 0, "Upper bound for a single sqlfluff run, e.g. 30s")

	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
