package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	logx "github.com/coursegen-core/server/pkg/logger"
)

var (
	// Global flags
	envFile  string
	logLevel string

	cfg AppConfig
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "coursegen",
	Short: "Generate structured documents with multi-step LLM pipelines",
	Long: `coursegen runs pipelines of prompt-templated model calls. Each step's
JSON output feeds the next step's prompt, and every completed step is
checkpointed so a failed run can be resumed where it stopped.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := LoadConfig(envFile)
		if err != nil {
			return err
		}
		cfg = loaded

		level := cfg.LogLevel
		if logLevel != "" {
			level = logLevel
		}
		logx.Init(logx.LoggerOpts{Environment: cfg.Environment, Level: level})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd, resumeCmd, promptCmd, renderCmd, checkpointsCmd, pipelinesCmd, modelsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
