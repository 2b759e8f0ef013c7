// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api serves archived benchmark reports over HTTP.
//
// All endpoints are read-only:
//
//	GET /v1/health
//	GET /v1/reports?limit=N
//	GET /v1/reports/:id
//	GET /v1/reports/:id/table
//	GET /v1/reports/:id/benchmarks/:name
//	GET /metrics
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/benchkit/services/harness/persist"
	"github.com/AleutianAI/benchkit/services/harness/report"
)

const (
	// DefaultListLimit is the page size of GET /v1/reports.
	DefaultListLimit = 20

	// MaxListLimit caps the limit query parameter.
	MaxListLimit = 500
)

// Store is the read side of the report archive. *persist.Archive
// implements it.
type Store interface {
	List(ctx context.Context, limit int) ([]persist.Entry, error)
	Get(ctx context.Context, runID string) (*report.Report, error)
	GetRaw(ctx context.Context, runID string) ([]byte, error)
}

const requestIDKey = "request_id"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// HealthResponse is the body of GET /v1/health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReportsResponse is the body of GET /v1/reports.
type ReportsResponse struct {
	Reports []persist.Entry `json:"reports"`
	Total   int             `json:"total"`
}

// Handlers implements the report endpoints.
type Handlers struct {
	store     Store
	logger    *slog.Logger
	formatter *report.ConsoleFormatter
}

// NewHandlers creates handlers over store. logger may be nil.
func NewHandlers(store Store, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		store:     store,
		logger:    logger,
		formatter: report.NewConsoleFormatter(report.WithStyle(false)),
	}
}

// HandleHealth handles GET /v1/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// HandleListReports handles GET /v1/reports.
//
// Query Parameters:
//
//	limit: Maximum number of entries, newest first (optional, default 20)
//
// Response:
//
//	200 OK: ReportsResponse
//	400 Bad Request: limit is not a positive integer
func (h *Handlers) HandleListReports(c *gin.Context) {
	logger := h.requestLogger(c, "HandleListReports")

	limit := DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			logger.Warn("invalid limit", "limit", raw)
			writeError(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = min(n, MaxListLimit)
	}

	entries, err := h.store.List(c.Request.Context(), limit)
	if err != nil {
		logger.Error("list reports failed", "error", err)
		writeError(c, http.StatusInternalServerError, "LIST_FAILED", err.Error())
		return
	}
	if entries == nil {
		entries = []persist.Entry{}
	}
	c.JSON(http.StatusOK, ReportsResponse{Reports: entries, Total: len(entries)})
}

// HandleGetReport handles GET /v1/reports/:id. The stored document is
// returned byte-for-byte.
func (h *Handlers) HandleGetReport(c *gin.Context) {
	logger := h.requestLogger(c, "HandleGetReport")
	id := c.Param("id")

	data, err := h.store.GetRaw(c.Request.Context(), id)
	if err != nil {
		h.storeError(c, logger, id, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

// HandleGetTable handles GET /v1/reports/:id/table and renders the report
// as a plain-text table.
func (h *Handlers) HandleGetTable(c *gin.Context) {
	logger := h.requestLogger(c, "HandleGetTable")
	id := c.Param("id")

	rep, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		h.storeError(c, logger, id, err)
		return
	}
	c.String(http.StatusOK, "%s", h.formatter.Format(rep))
}

// HandleGetBenchmark handles GET /v1/reports/:id/benchmarks/:name.
//
// Response:
//
//	200 OK: report.Result
//	404 Not Found: unknown run ID or benchmark name
func (h *Handlers) HandleGetBenchmark(c *gin.Context) {
	logger := h.requestLogger(c, "HandleGetBenchmark")
	id, name := c.Param("id"), c.Param("name")

	rep, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		h.storeError(c, logger, id, err)
		return
	}
	res, ok := rep.Lookup(name)
	if !ok {
		writeError(c, http.StatusNotFound, "BENCHMARK_NOT_FOUND", "benchmark "+name+" not found in report "+id)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) storeError(c *gin.Context, logger *slog.Logger, id string, err error) {
	if errors.Is(err, persist.ErrReportNotFound) {
		writeError(c, http.StatusNotFound, "REPORT_NOT_FOUND", "report "+id+" not found")
		return
	}
	logger.Error("read report failed", "run_id", id, "error", err)
	writeError(c, http.StatusInternalServerError, "READ_FAILED", err.Error())
}

func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	return h.logger.With("request_id", requestID(c), "handler", handler)
}

// writeError sends an ErrorResponse carrying the request ID.
func writeError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, ErrorResponse{Error: msg, Code: code, RequestID: requestID(c)})
}

// requestID returns the caller's X-Request-ID or a new one. The ID is
// stable for the lifetime of the request.
func requestID(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		return v.(string)
	}
	id := c.GetHeader("X-Request-ID")
	if id == "" {
		id = uuid.NewString()
	}
	c.Set(requestIDKey, id)
	c.Header("X-Request-ID", id)
	return id
}
