package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/majorhost/taskexec/common/environment"
	"github.com/majorhost/taskexec/common/version"
	"github.com/majorhost/taskexec/internal/taskexec/app"
	"github.com/majorhost/taskexec/internal/taskexec/observability"
)

func main() {
	fmt.Printf("Task Executor Agent\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	observability.Setup(
		environment.StringOr("TE_LOG_LEVEL", "info"),
		environment.StringOr("TE_LOG_FORMAT", "json"),
	)

	config := loadConfig()
	if config.ConfigPath == "" {
		fmt.Fprintf(os.Stderr, "Error: TE_CONFIG_PATH is required\n")
		os.Exit(1)
	}

	agent, err := app.New(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize agent: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := agent.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error running agent: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from environment variables
func loadConfig() *app.Config {
	return &app.Config{
		ConfigPath:   environment.StringOr("TE_CONFIG_PATH", ""),
		ConfigTTL:    environment.DurationOr("TE_CONFIG_TTL", time.Minute),
		JournalPath:  environment.StringOr("TE_JOURNAL_PATH", "./taskexec.db"),
		MetricsAddr:  environment.StringOr("TE_METRICS_ADDR", ""),
		ReportsKey:   environment.StringOr("TE_REPORTS_KEY", "reports"),
		DrainTimeout: environment.DurationOr("TE_DRAIN_TIMEOUT", 0),
	}
}
