package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"meshgate/internal/app"
	"meshgate/internal/app/factory"
	"meshgate/internal/config"
)

var (
	configFile  = flag.StringP("config", "c", "", "config file path; the embedded default is used when empty")
	logLevel    = flag.String("log-level", "", "log level (debug, info, warn, error); overrides the config file")
	watch       = flag.Bool("watch", true, "reload routes when the config file changes")
	stopTimeout = flag.Duration("shutdown-timeout", 30*time.Second, "graceful shutdown deadline")
	showVersion = flag.BoolP("version", "v", false, "print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(app.Version)
		return
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	level := cfg.Gateway.Logging.Level
	if *logLevel != "" {
		level = *logLevel
		cfg.Gateway.Logging.Level = level
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: factory.ParseLevel(level),
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	builder := app.NewBuilder(cfg, logger)
	if *configFile != "" && *watch {
		builder.WithConfigPath(*configFile)
	}
	server, err := builder.Build(ctx)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	err = server.Run(ctx, func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(context.Background(), *stopTimeout)
	})
	if err != nil {
		logger.Error("gateway exited with error", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadDefault()
	}
	return config.Load(path)
}
