package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/FreightBox/config"
	"github.com/BearBump/FreightBox/internal/metrics"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("config parse error, %v", err))
	}
	metrics.RegisterDefault()

	httpAddr := cfg.Freight.WorkerHTTPAddr
	if httpAddr == "" {
		httpAddr = ":8082"
	}
	swaggerPath := os.Getenv("workerSwaggerPath")
	if swaggerPath == "" {
		swaggerPath = cfg.Freight.SwaggerPath
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = RunFreightWorker(ctx, cfg, defaultWorkerFactories(), workerOpts{
		httpAddr:    httpAddr,
		swaggerPath: swaggerPath,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		panic(err)
	}
}
