// Copyright 2025 The Gateway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the gateway's components.
// A nil *Metrics is safe to call methods on (every method no-ops), so
// callers never branch on whether metrics are enabled.
type Metrics struct {
	registry *prometheus.Registry

	retrievalCalls    *prometheus.CounterVec
	retrievalDuration *prometheus.HistogramVec
	retrievalResults  *prometheus.HistogramVec

	embeddingCalls    *prometheus.CounterVec
	embeddingCacheHit *prometheus.CounterVec

	ingestCalls    *prometheus.CounterVec
	ingestDuration *prometheus.HistogramVec
	ingestErrors   *prometheus.CounterVec

	llmCalls        *prometheus.CounterVec
	llmCallDuration *prometheus.HistogramVec
	llmTokensOutput *prometheus.CounterVec
	llmErrors       *prometheus.CounterVec

	sessionsActive *prometheus.GaugeVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewMetrics builds and registers every metric under the given namespace.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.retrievalCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "retrieval", Name: "searches_total",
		Help: "Total number of hybrid retrieval searches.",
	}, []string{"organization_id"})
	m.retrievalDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "retrieval", Name: "search_duration_seconds",
		Help: "Hybrid retrieval search duration in seconds.", Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"organization_id"})
	m.retrievalResults = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "retrieval", Name: "results_count",
		Help: "Number of fused results returned per search.", Buckets: prometheus.LinearBuckets(0, 5, 11),
	}, []string{"organization_id"})

	m.embeddingCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "embedding", Name: "calls_total",
		Help: "Total number of embedding provider calls.",
	}, []string{"model"})
	m.embeddingCacheHit = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "embedding", Name: "cache_result_total",
		Help: "Embedding cache hits and misses.",
	}, []string{"result"})

	m.ingestCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "ingest", Name: "documents_total",
		Help: "Total number of documents processed by the ingestion pipeline.",
	}, []string{"operation", "organization_id"})
	m.ingestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "ingest", Name: "duration_seconds",
		Help: "Ingestion pipeline duration in seconds.", Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"operation"})
	m.ingestErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "ingest", Name: "errors_total",
		Help: "Total number of ingestion pipeline failures.",
	}, []string{"operation", "error_kind"})

	m.llmCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "llm", Name: "calls_total",
		Help: "Total number of LLM generation calls.",
	}, []string{"provider", "model"})
	m.llmCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "llm", Name: "call_duration_seconds",
		Help: "LLM generation call duration in seconds.", Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"provider", "model"})
	m.llmTokensOutput = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "llm", Name: "tokens_output_total",
		Help: "Total number of generated tokens.",
	}, []string{"provider", "model"})
	m.llmErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "llm", Name: "errors_total",
		Help: "Total number of LLM errors.",
	}, []string{"provider", "model", "error_kind"})

	m.sessionsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "session", Name: "active",
		Help: "Number of currently active sessions.",
	}, []string{})

	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "http", Name: "requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "route", "status"})
	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
		Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	m.registry.MustRegister(
		m.retrievalCalls, m.retrievalDuration, m.retrievalResults,
		m.embeddingCalls, m.embeddingCacheHit,
		m.ingestCalls, m.ingestDuration, m.ingestErrors,
		m.llmCalls, m.llmCallDuration, m.llmTokensOutput, m.llmErrors,
		m.sessionsActive,
		m.httpRequests, m.httpDuration,
	)
	return m
}

func (m *Metrics) RecordRetrieval(organizationID string, duration time.Duration, resultCount int) {
	if m == nil {
		return
	}
	m.retrievalCalls.WithLabelValues(organizationID).Inc()
	m.retrievalDuration.WithLabelValues(organizationID).Observe(duration.Seconds())
	m.retrievalResults.WithLabelValues(organizationID).Observe(float64(resultCount))
}

func (m *Metrics) RecordEmbeddingCall(model string) {
	if m == nil {
		return
	}
	m.embeddingCalls.WithLabelValues(model).Inc()
}

func (m *Metrics) RecordEmbeddingCacheResult(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.embeddingCacheHit.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordIngest(operation, organizationID string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ingestCalls.WithLabelValues(operation, organizationID).Inc()
	m.ingestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) RecordIngestError(operation, errorKind string) {
	if m == nil {
		return
	}
	m.ingestErrors.WithLabelValues(operation, errorKind).Inc()
}

func (m *Metrics) RecordLLMCall(provider, model string, duration time.Duration) {
	if m == nil {
		return
	}
	m.llmCalls.WithLabelValues(provider, model).Inc()
	m.llmCallDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
}

func (m *Metrics) RecordLLMTokens(provider, model string, count int) {
	if m == nil {
		return
	}
	m.llmTokensOutput.WithLabelValues(provider, model).Add(float64(count))
}

func (m *Metrics) RecordLLMError(provider, model, errorKind string) {
	if m == nil {
		return
	}
	m.llmErrors.WithLabelValues(provider, model, errorKind).Inc()
}

func (m *Metrics) SetSessionsActive(count int) {
	if m == nil {
		return
	}
	m.sessionsActive.WithLabelValues().Set(float64(count))
}

func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// Handler serves the Prometheus exposition format for GET /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
