package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// rootCmd is the base command when restgraphd is called without a
// subcommand, grounded on skuid/warden's RootCmd (cmd/root.go): a
// cobra.Command whose PersistentFlags are bound to viper once, here,
// rather than per-subcommand.
var rootCmd = &cobra.Command{
	Use:   "restgraphd",
	Short: "restgraph's demo HTTP collaborator",
	Long:  "restgraphd serves the chinook fixture domain (or a real Postgres-backed one) over HTTP via restgraph's Router.",
}

func init() {
	rootCmd.PersistentFlags().String("host", "0.0.0.0", "host to listen on")
	rootCmd.PersistentFlags().Int("port", 8080, "port to listen on")
	rootCmd.PersistentFlags().String("database_url", "", "Postgres connection string; when unset, serves the in-memory chinook fixtures")
	rootCmd.PersistentFlags().Bool("strict", true, "reject unknown filter fields and non-integer limit/offset/page values instead of ignoring them")
	rootCmd.PersistentFlags().Int("page_max_size", 100, "maximum page size the collection endpoint accepts")
	rootCmd.PersistentFlags().Int("read_timeout_seconds", 5, "HTTP server read timeout")
	rootCmd.PersistentFlags().Int("write_timeout_seconds", 5, "HTTP server write timeout")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug-level logging")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		zap.L().Error("encountered an error on viper flag binding", zap.Error(err))
		os.Exit(1)
	}
}

// Execute runs the root command, the cobra entrypoint main.go calls.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		zap.L().Error("encountered an error on root command execution", zap.Error(err))
		os.Exit(1)
	}
}
