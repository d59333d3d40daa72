package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap/zapcore"

	"github.com/Qmop1967/Clients-Console-sub001/internal/app"
	"github.com/Qmop1967/Clients-Console-sub001/internal/cli"
	"github.com/Qmop1967/Clients-Console-sub001/internal/config"
	"github.com/Qmop1967/Clients-Console-sub001/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(load)
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// load builds the same components as the API server. Logs go to stderr
// so --format json output stays parseable.
func load(ctx context.Context) (*cli.Deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Config{
		Level:  cfg.App.LogLevel,
		Format: "console",
		Output: zapcore.Lock(os.Stderr),
	})

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return &cli.Deps{
		Runner:  a.Orchestrator,
		Flusher: a.Invalidator,
		Close: func() error {
			_ = log.Sync()
			return a.Close()
		},
	}, nil
}
