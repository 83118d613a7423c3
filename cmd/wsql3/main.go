package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "wsql3",
		Short: "Concurrent, priority-scheduled access layer for an embedded SQLite database",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a JSON, YAML, or TOML config file")
	root.PersistentFlags().String("db", "", "path to the SQLite database file")
	root.PersistentFlags().Int("max-size", 5, "maximum number of connections in use at once")
	root.PersistentFlags().Int("min-size", 1, "connections opened eagerly at startup")
	root.PersistentFlags().Int("workers", 0, "executor worker count (defaults to max-size)")

	viper.BindPFlag("db", root.PersistentFlags().Lookup("db"))
	viper.BindPFlag("max_size", root.PersistentFlags().Lookup("max-size"))
	viper.BindPFlag("min_size", root.PersistentFlags().Lookup("min-size"))
	viper.BindPFlag("workers", root.PersistentFlags().Lookup("workers"))

	cobra.OnInitialize(initConfig)

	root.AddCommand(newQueryCmd())
	root.AddCommand(newExecCmd())
	root.AddCommand(newStatsCmd())

	return root
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			slog.Warn("failed to read config file", "path", cfgFile, "error", err)
		}
	}
}

func newQueryCmd() *cobra.Command {
	var priority string
	cmd := &cobra.Command{
		Use:   "query <sql> [args...]",
		Short: "Run a SELECT and print the resulting rows",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd.Context(), args[0], toAnySlice(args[1:]), priority)
		},
	}
	cmd.Flags().StringVar(&priority, "priority", "normal", "low, normal, high, or critical")
	return cmd
}

func newExecCmd() *cobra.Command {
	var priority string
	cmd := &cobra.Command{
		Use:   "exec <sql> [args...]",
		Short: "Run an INSERT/UPDATE/DELETE/DDL statement",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExecute(cmd.Context(), args[0], toAnySlice(args[1:]), priority)
		},
	}
	cmd.Flags().StringVar(&priority, "priority", "normal", "low, normal, high, or critical")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print current pool and executor occupancy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printStats(cmd.Context())
		},
	}
}

func toAnySlice(args []string) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a
	}
	return out
}

func configFromViper() (dbPath string, maxSize, minSize, workers int) {
	return viper.GetString("db"), viper.GetInt("max_size"), viper.GetInt("min_size"), viper.GetInt("workers")
}

func requireDB(dbPath string) error {
	if dbPath == "" {
		return fmt.Errorf("wsql3: --db is required")
	}
	return nil
}
