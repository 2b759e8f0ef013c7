// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// DefaultShutdownTimeout bounds graceful shutdown in Serve.
const DefaultShutdownTimeout = 10 * time.Second

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// ServiceName labels otelgin spans. Default: "benchkit"
	ServiceName string

	// Metrics is mounted at /metrics. Default: promhttp.Handler()
	Metrics http.Handler

	// Debug enables gin's request logger.
	Debug bool
}

// RegisterRoutes mounts the report endpoints on rg.
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	rg.GET("/health", h.HandleHealth)

	reports := rg.Group("/reports")
	{
		reports.GET("", h.HandleListReports)
		reports.GET("/:id", h.HandleGetReport)
		reports.GET("/:id/table", h.HandleGetTable)
		reports.GET("/:id/benchmarks/:name", h.HandleGetBenchmark)
	}
}

// NewRouter builds a gin engine with recovery, tracing, the /v1 report
// routes, and /metrics.
func NewRouter(cfg RouterConfig, h *Handlers) *gin.Engine {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "benchkit"
	}
	if cfg.Metrics == nil {
		cfg.Metrics = promhttp.Handler()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Debug {
		router.Use(gin.Logger())
	}
	router.Use(otelgin.Middleware(cfg.ServiceName))

	RegisterRoutes(router.Group("/v1"), h)
	router.GET("/metrics", gin.WrapH(cfg.Metrics))
	return router
}

// Serve runs handler on addr until ctx is cancelled, then shuts down
// gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving reports", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen on %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultShutdownTimeout)
	defer cancel()
	logger.Info("shutting down report server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
