// Command vai-catalog runs the voice shopping assistant: a local control
// server, a headless voice session, or one-off catalog searches.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-catalog/internal/dotenv"
	"github.com/vango-go/vai-catalog/pkg/app"
	"github.com/vango-go/vai-catalog/pkg/gateway/config"
)

type cliDeps struct {
	loadConfig    func() (config.Config, error)
	buildServices func(context.Context, config.Config, *slog.Logger, app.Publisher) (*services, error)
	signalNotify  func(chan<- os.Signal, ...os.Signal)
	signalStop    func(chan<- os.Signal)
}

func defaultCLIDeps() cliDeps {
	return cliDeps{
		loadConfig:    config.LoadFromEnv,
		buildServices: buildServices,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func newRootCmd(ctx context.Context, stdout, stderr io.Writer, deps cliDeps) *cobra.Command {
	var (
		envFile string
		verbose bool
	)
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	root := &cobra.Command{
		Use:   "vai-catalog",
		Short: "Voice shopping assistant over a realtime model session",
		Long: `vai-catalog connects a realtime voice model to a product catalog.
The model calls filter_products; results are answered back to the model and
recorded in a search history.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
			}
			return dotenv.Load(envFile+".local", envFile)
		},
	}
	root.SetContext(ctx)
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file; <path>.local is read first and missing files are ignored")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")

	// Subcommands read logger through this closure so --verbose applies.
	log := func() *slog.Logger { return logger }
	root.AddCommand(newServeCmd(log, deps))
	root.AddCommand(newConnectCmd(log, deps))
	root.AddCommand(newSearchCmd(log, deps))
	return root
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps cliDeps) int {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	root := newRootCmd(ctx, stdout, stderr, deps)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "vai-catalog: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdout, os.Stderr, defaultCLIDeps()))
}
