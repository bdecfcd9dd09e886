// Command apm-agent resolves agent configuration and runs a standalone agent
// that reports host and runtime metrics until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/deepaksharma/apm-agent-core/core/agent"
	"github.com/deepaksharma/apm-agent-core/core/config"
)

var (
	// Command-line flags
	configPath     = flag.String("config-path", "", "Path to the agent configuration file")
	searchDir      = flag.String("search-dir", "", "Directory searched for "+config.DefaultFileName+" before the current one")
	appName        = flag.String("app-name", "", "Application name, overrides the configuration file")
	generateConfig = flag.Bool("generate-config", false, "Generate a starter configuration file")
	printConfig    = flag.Bool("print-config", false, "Print the resolved configuration and exit")
	revealSecrets  = flag.Bool("reveal-secrets", false, "Do not mask the secret token when printing")
	outputFile     = flag.String("output", "", "Output file for generated configuration")
	verbose        = flag.Bool("verbose", false, "Enable verbose logging")
)

func main() {
	flag.Parse()

	var logger *zap.Logger
	var err error
	if *verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *generateConfig {
		name := *appName
		if name == "" {
			name = agent.DefaultAppName
		}
		data, err := config.Template(name)
		if err != nil {
			logger.Fatal("Failed to generate configuration", zap.Error(err))
		}

		if *outputFile == "" {
			fmt.Print(string(data))
			return
		}
		if err := os.MkdirAll(filepath.Dir(*outputFile), 0755); err != nil {
			logger.Fatal("Failed to create directory", zap.Error(err))
		}
		if err := os.WriteFile(*outputFile, data, 0644); err != nil {
			logger.Fatal("Failed to write config file", zap.Error(err))
		}
		logger.Info("Generated configuration", zap.String("output", *outputFile))
		return
	}

	if *searchDir != "" {
		config.PushSearchPath(*searchDir)
	}

	var opts []config.Option
	if *configPath != "" {
		opts = append(opts, config.WithFile(*configPath))
	}
	overrides := config.Map{}
	if *appName != "" {
		overrides[config.KeyAppName] = *appName
	}

	a, err := agent.NewBuilder().
		WithConfigData(overrides).
		WithConfigOptions(opts...).
		WithLogger(logger).
		Build()
	if err != nil {
		logger.Fatal("Failed to build agent", zap.Error(err))
	}

	if *printConfig {
		data, err := a.Config().Marshal(*revealSecrets)
		if err != nil {
			logger.Fatal("Failed to print configuration", zap.Error(err))
		}
		fmt.Print(string(data))
		if err := a.Shutdown(context.Background()); err != nil {
			logger.Warn("Shutdown failed", zap.Error(err))
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		logger.Fatal("Failed to start agent", zap.Error(err))
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		os.Exit(1)
	}
}
