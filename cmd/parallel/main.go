// Command parallel is the orchestrator's process entrypoint (C9). It
// exposes the scheduler as both a one-shot stdin/stdout JSON tool server
// ("serve", the primary mode a host runtime execs) and a developer-facing
// CLI ("run") for local testing, following the cobra-root-with-viper-bound-
// flags bootstrap shape of the teacher's cmd/divinesense/main.go.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pi-parallel/parallel/internal/buildinfo"
	"github.com/pi-parallel/parallel/internal/config"
	"github.com/pi-parallel/parallel/internal/logging"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the orchestrator's build version.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(buildinfo.Version)
	},
}

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "parallel",
	Short: "Multi-agent orchestrator: single, parallel, chain, race, and team execution modes.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			if err := godotenv.Load(cfgFile); err != nil {
				return fmt.Errorf("loading config file %s: %w", cfgFile, err)
			}
		}
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		return nil
	},
}

func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func loadConfig() (*config.Config, error) {
	cfg := config.FromEnv()
	bindFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func bindFlags(cfg *config.Config) {
	if v := viper.GetString("agent-executable"); v != "" {
		cfg.AgentExecutable = v
	}
	if v := viper.GetInt("max-concurrency"); v != 0 {
		cfg.MaxConcurrency = v
	}
	if v := viper.GetString("metrics-addr"); v != "" {
		cfg.MetricsAddr = v
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to an optional .env-style config file")
	rootCmd.PersistentFlags().String("agent-executable", "", "child agent executable (default pi)")
	rootCmd.PersistentFlags().Int("max-concurrency", 0, "override the default concurrency cap")
	rootCmd.PersistentFlags().String("metrics-addr", "", "serve Prometheus /metrics on this address")
	_ = viper.BindPFlag("agent-executable", rootCmd.PersistentFlags().Lookup("agent-executable"))
	_ = viper.BindPFlag("max-concurrency", rootCmd.PersistentFlags().Lookup("max-concurrency"))
	_ = viper.BindPFlag("metrics-addr", rootCmd.PersistentFlags().Lookup("metrics-addr"))
	viper.SetEnvPrefix("PARALLEL")
	viper.AutomaticEnv()

	rootCmd.AddCommand(serveCmd, runCmd, agentsCmd, versionCmd)
}

func mustLogger(cfg *config.Config) {
	logging.Init("parallel", cfg)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
