package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var configPath string

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "lingochat",
		Short:         "Chat with an LLM through a prompt compressor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "configs/lingochat.json"
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultPath, "path to the JSON config file")

	root.AddCommand(newServeCmd(), newChatCmd(), newCompressCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// newLogger builds a development logger for debug level and a production
// logger otherwise.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	if lvl == zapcore.DebugLevel {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
