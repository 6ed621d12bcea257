package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/dmorgan81/liblibstudio/internal/config"
	"github.com/dmorgan81/liblibstudio/internal/handler"
	"github.com/dmorgan81/liblibstudio/internal/inject"
	"github.com/dmorgan81/liblibstudio/internal/log"
	"github.com/dmorgan81/liblibstudio/internal/web"
	"github.com/samber/do"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stderr, log.ParseLevel(cfg.LogLevel))
	ctx := log.NewContext(context.Background(), logger)
	injector := inject.Setup(ctx, cfg)

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		handler := do.MustInvoke[*handler.Handler](injector)
		lambda.StartWithOptions(handler.Handle, lambda.WithContext(ctx), lambda.WithEnableSIGTERM(func() {
			_ = injector.Shutdown()
		}))
		return
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := do.MustInvoke[*web.Server](injector)
	errs := make(chan error, 1)
	go func() { errs <- server.ListenAndServe(context.WithoutCancel(ctx)) }()

	select {
	case err := <-errs:
		if err != nil {
			logger.Error("server stopped", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}
	if err := injector.Shutdown(); err != nil {
		logger.Error("shutdown failed", "error", err)
		os.Exit(1)
	}
}
