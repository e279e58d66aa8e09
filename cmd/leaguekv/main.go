package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leaguekv/leaguekv/pkg/config"
	"github.com/leaguekv/leaguekv/pkg/kvlog"
	"github.com/leaguekv/leaguekv/router/instance"
	"github.com/leaguekv/leaguekv/router/statistics"
)

var (
	cfgPath   string
	logLevel  string
	prettyLog bool

	router *instance.InstanceImpl
)

var rootCmd = &cobra.Command{
	Use: "leaguekv --config `path-to-config`",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfgStr, err := config.LoadRouterCfg(cfgPath)
		if err != nil {
			return err
		}
		cfg := config.RouterConfig()

		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		if cmd.Flags().Changed("pretty-log") {
			cfg.PrettyLogging = prettyLog
		}
		kvlog.ReloadLogger(cfg.LogFile, cfg.LogLevel, cfg.PrettyLogging)
		kvlog.Zero.Debug().Str("config", cfgStr).Msg("running config")

		statistics.InitStatistics(cfg.TimeQuantiles)

		router, err = instance.NewRouter(cfg)
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if router == nil {
			return nil
		}
		err := router.Close()
		router = nil
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "/etc/leaguekv/config.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level, overrides the config")
	rootCmd.PersistentFlags().BoolVarP(&prettyLog, "pretty-log", "P", false, "human readable logs, overrides the config")

	rootCmd.AddCommand(pingCmd, statsCmd)
	rootCmd.AddCommand(createCmd, getCmd, listCmd, updateCmd, deleteCmd, existsCmd)
	rootCmd.AddCommand(entityCmd, movesCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if router != nil {
			_ = router.Close()
		}
		kvlog.Zero.Error().Err(err).Msg("")
		fmt.Fprintln(os.Stderr, err)
		cancel()
		os.Exit(1)
	}
}
