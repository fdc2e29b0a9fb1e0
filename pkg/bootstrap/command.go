package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oriys/customruntime/internal/config"
	"github.com/oriys/customruntime/internal/logging"
	"github.com/oriys/customruntime/pkg/handler"
)

// Main builds the command line for reg and runs it, exiting non-zero on
// error.
func Main(reg *handler.Registry, opts ...Option) {
	if err := Command(reg, opts...).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Command returns the root command. Running it starts the runtime; the
// routes sub-command inspects the local route table.
func Command(reg *handler.Registry, opts ...Option) *cobra.Command {
	var (
		configFile string
		routesFile string
		workers    int
		port       int
		logLevel   string
		metrics    string
	)

	load := func(cmd *cobra.Command) (*config.Config, error) {
		cfg := config.DefaultConfig()
		if configFile != "" {
			c, err := config.LoadFromFile(configFile)
			if err != nil {
				return nil, err
			}
			cfg = c
		}
		config.LoadFromEnv(cfg)

		flags := cmd.Flags()
		if flags.Changed("routes") {
			cfg.Local.RoutesFile = routesFile
		}
		if flags.Changed("workers") {
			cfg.Runtime.Workers = workers
		}
		if flags.Changed("port") {
			cfg.Local.Port = port
		}
		if flags.Changed("log-level") {
			cfg.Logging.Level = logLevel
		}
		if flags.Changed("metrics-addr") {
			cfg.Metrics.Addr = metrics
		}
		return cfg, nil
	}

	rootCmd := &cobra.Command{
		Use:          "bootstrap",
		Short:        "Custom function runtime",
		Long:         "Poll the runtime API for invocations and run registered handlers. Without AWS_LAMBDA_RUNTIME_API a local gateway emulator is started.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				select {
				case sig := <-sigCh:
					logging.Op().Info("shutdown signal received", "signal", sig.String())
					cancel()
				case <-ctx.Done():
				}
			}()

			return Run(ctx, cfg, reg, opts...)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "Path to YAML config file")
	pf.StringVar(&routesFile, "routes", "", "Local route table file (YAML or JSON)")
	rootCmd.Flags().IntVar(&workers, "workers", 0, "Local workers (default: number of CPUs)")
	rootCmd.Flags().IntVar(&port, "port", 3000, "Local gateway port")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&metrics, "metrics-addr", "", "Serve Prometheus metrics on this address")

	rootCmd.AddCommand(routesCmd(load, reg))
	return rootCmd
}

func routesCmd(load func(*cobra.Command) (*config.Config, error), reg *handler.Registry) *cobra.Command {
	return &cobra.Command{
		Use:   "routes [METHOD PATH]",
		Short: "Print the local route table or match a request",
		Args: cobra.MatchAll(cobra.RangeArgs(0, 2), func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return fmt.Errorf("expected both METHOD and PATH")
			}
			return nil
		}),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			rt, err := loadRouter(cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				for _, line := range rt.Routes() {
					id := line[strings.LastIndex(line, " ")+1:]
					if !reg.Has(id) {
						line += "  (not registered)"
					}
					fmt.Fprintln(out, line)
				}
				return nil
			}

			m, ok := rt.Match(args[0], args[1])
			if !ok {
				return fmt.Errorf("no route for %s %s", strings.ToUpper(args[0]), args[1])
			}
			fmt.Fprintf(out, "%s (pattern %s)\n", m.HandlerID, m.Pattern)
			for k, v := range m.Params {
				fmt.Fprintf(out, "  %s = %s\n", k, v)
			}
			return nil
		},
	}
}
