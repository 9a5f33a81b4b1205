package main

import (
	"context"
	"fmt"
	"os"

	"github.com/imrishuroy/photo-orderflow/internal/app"
	"github.com/imrishuroy/photo-orderflow/internal/cli"
	"github.com/imrishuroy/photo-orderflow/internal/config"
)

func main() {
	build := func(ctx context.Context) (*app.App, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		// logs go to stderr so JSON output stays parseable
		logger, err := app.NewLogger(cfg.LogLevel, true)
		if err != nil {
			return nil, err
		}
		return app.Build(ctx, cfg, logger)
	}

	if err := cli.NewRootCommand(build).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
