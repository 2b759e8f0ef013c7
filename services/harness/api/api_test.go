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
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/benchkit/services/harness"
	"github.com/AleutianAI/benchkit/services/harness/persist"
	"github.com/AleutianAI/benchkit/services/harness/report"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func sampleReport(t *testing.T, runID string, createdAt int64) *report.Report {
	t.Helper()
	r := report.New(runID, createdAt, 0.99)
	r.Env = report.Environment{GoVersion: "go1.25", OS: "linux", Arch: "amd64", CPUs: 8, Clock: "raw"}
	require.NoError(t, r.Append(report.Result{
		Name:       "math.sqrt",
		Mode:       harness.ModeAverageTime,
		Unit:       "ns/op",
		Score:      report.Float(1.25),
		ScoreError: report.Float(0.01),
		Samples:    10,
		BatchSize:  1,
	}))
	require.NoError(t, r.Append(report.Result{
		Name:      "broken",
		Mode:      harness.ModeAverageTime,
		Unit:      "ns/op",
		BatchSize: 1,
		Failure:   &report.Failure{Kind: harness.FailureSetup, Message: "no fixture"},
	}))
	return r
}

func setupTestRouter(t *testing.T) (*gin.Engine, *persist.Archive) {
	t.Helper()
	archive, err := persist.OpenArchive(persist.InMemoryArchiveConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = archive.Close() })

	ctx := context.Background()
	require.NoError(t, archive.Put(ctx, sampleReport(t, "run-old", 1_000)))
	require.NoError(t, archive.Put(ctx, sampleReport(t, "run-new", 2_000)))

	reg := prometheus.NewRegistry()
	router := NewRouter(RouterConfig{Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}, NewHandlers(archive, nil))
	return router, archive
}

func get(router http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleHealth(t *testing.T) {
	router, _ := setupTestRouter(t)
	w := get(router, "/v1/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestHandleListReports(t *testing.T) {
	router, _ := setupTestRouter(t)

	t.Run("newest first", func(t *testing.T) {
		w := get(router, "/v1/reports")
		require.Equal(t, http.StatusOK, w.Code)

		var resp ReportsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Equal(t, 2, resp.Total)
		assert.Equal(t, "run-new", resp.Reports[0].RunID)
		assert.Equal(t, "run-old", resp.Reports[1].RunID)
		assert.Equal(t, 2, resp.Reports[0].Benchmarks)
		assert.Equal(t, 1, resp.Reports[0].Failures)
	})

	t.Run("limit", func(t *testing.T) {
		w := get(router, "/v1/reports?limit=1")
		require.Equal(t, http.StatusOK, w.Code)

		var resp ReportsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Reports, 1)
		assert.Equal(t, "run-new", resp.Reports[0].RunID)
	})

	t.Run("invalid limit", func(t *testing.T) {
		for _, q := range []string{"0", "-3", "many"} {
			w := get(router, "/v1/reports?limit="+q)
			assert.Equal(t, http.StatusBadRequest, w.Code, q)
		}
	})
}

func TestHandleGetReport(t *testing.T) {
	router, archive := setupTestRouter(t)

	w := get(router, "/v1/reports/run-new")
	require.Equal(t, http.StatusOK, w.Code)

	raw, err := archive.GetRaw(context.Background(), "run-new")
	require.NoError(t, err)
	assert.Equal(t, raw, w.Body.Bytes())

	decoded, err := report.Deserialize(w.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []string{"math.sqrt", "broken"}, decoded.Names())

	w = get(router, "/v1/reports/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "REPORT_NOT_FOUND")
}

func TestHandleGetTable(t *testing.T) {
	router, _ := setupTestRouter(t)
	w := get(router, "/v1/reports/run-old/table")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, "math.sqrt"))
	assert.True(t, strings.Contains(body, "FAILED"))
}

func TestHandleGetBenchmark(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := get(router, "/v1/reports/run-new/benchmarks/math.sqrt")
	require.Equal(t, http.StatusOK, w.Code)
	var res report.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.NotNil(t, res.Score)
	assert.InDelta(t, 1.25, *res.Score, 1e-12)

	w = get(router, "/v1/reports/run-new/benchmarks/broken")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"kind":"setup","message":"no fixture"}`, mustField(t, w.Body.Bytes(), "failure"))

	w = get(router, "/v1/reports/run-new/benchmarks/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "BENCHMARK_NOT_FOUND")
}

func TestErrorResponse_RequestID(t *testing.T) {
	router, _ := setupTestRouter(t)

	t.Run("echoes caller id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/reports/missing", nil)
		req.Header.Set("X-Request-ID", "req-42")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusNotFound, w.Code)
		var body ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "REPORT_NOT_FOUND", body.Code)
		assert.Equal(t, "req-42", body.RequestID)
		assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
	})

	t.Run("generated id matches header", func(t *testing.T) {
		w := get(router, "/v1/reports?limit=0")
		require.Equal(t, http.StatusBadRequest, w.Code)
		var body ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.NotEmpty(t, body.RequestID)
		assert.Equal(t, w.Header().Get("X-Request-ID"), body.RequestID)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := setupTestRouter(t)
	w := get(router, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
}

type failingStore struct{}

func (failingStore) List(context.Context, int) ([]persist.Entry, error) {
	return nil, errors.New("disk on fire")
}
func (failingStore) Get(context.Context, string) (*report.Report, error) {
	return nil, errors.New("disk on fire")
}
func (failingStore) GetRaw(context.Context, string) ([]byte, error) {
	return nil, errors.New("disk on fire")
}

func TestStoreErrors(t *testing.T) {
	router := NewRouter(RouterConfig{}, NewHandlers(failingStore{}, nil))
	for _, path := range []string{"/v1/reports", "/v1/reports/x", "/v1/reports/x/table", "/v1/reports/x/benchmarks/y"} {
		w := get(router, path)
		assert.Equal(t, http.StatusInternalServerError, w.Code, path)
	}
}

func mustField(t *testing.T, body []byte, field string) string {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &m))
	return string(m[field])
}
