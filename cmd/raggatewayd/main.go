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

// Command raggatewayd is the gateway's process entrypoint: it loads
// configuration, wires every component, and serves until signaled to
// stop. The daemon has exactly one run mode, so the flag package covers
// the whole CLI surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ragline/gateway/internal/analytics"
	"github.com/ragline/gateway/internal/chunker"
	"github.com/ragline/gateway/internal/config"
	"github.com/ragline/gateway/internal/docstore"
	"github.com/ragline/gateway/internal/embedding"
	"github.com/ragline/gateway/internal/ingest"
	"github.com/ragline/gateway/internal/lexical"
	"github.com/ragline/gateway/internal/llm"
	"github.com/ragline/gateway/internal/observability"
	"github.com/ragline/gateway/internal/orchestrator"
	"github.com/ragline/gateway/internal/retrieval"
	"github.com/ragline/gateway/internal/session"
	"github.com/ragline/gateway/internal/transport"
	"github.com/ragline/gateway/internal/vectorindex"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional; env vars and defaults apply regardless)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "raggatewayd: load config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		observability.Logger().Info("shutting down")
		cancel()
	}()

	srv, tp, err := build(ctx, cfg)
	if err != nil {
		observability.Logger().Error("failed to build gateway", "error", err)
		os.Exit(1)
	}
	if tp != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	observability.Logger().Info("gateway listening", "addr", cfg.ServerAddr)
	if err := srv.Serve(); err != nil && ctx.Err() == nil {
		observability.Logger().Error("server exited", "error", err)
		os.Exit(1)
	}
}

type tracerShutdowner interface {
	Shutdown(ctx context.Context) error
}

// build wires every component along the gateway's dependency graph: the
// doc store, session gate and analytics sink share one *sql.DB pool; the
// embedder and both indexes feed retrieval and ingest; retrieval and the
// LLM adapter feed the orchestrator, which transport serves over
// HTTP/WS.
func build(ctx context.Context, cfg *config.Config) (*transport.Server, tracerShutdowner, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	tp, err := observability.InitTracer(ctx, observability.TracerConfig{
		Enabled:      cfg.TracingEnabled,
		EndpointURL:  cfg.TracingEndpoint,
		SamplingRate: cfg.TracingSampleRate,
		ServiceName:  cfg.MetricsNamespace,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init tracer: %w", err)
	}
	shutdowner, _ := tp.(tracerShutdowner)

	db, dialect, err := docstore.OpenPool(cfg.DocStoreURL)
	if err != nil {
		return nil, shutdowner, fmt.Errorf("open document store pool: %w", err)
	}
	docs, err := docstore.Open(db, dialect)
	if err != nil {
		return nil, shutdowner, fmt.Errorf("open document store: %w", err)
	}

	sessionTTL := time.Duration(cfg.SessionTTLHours) * time.Hour
	sessions, err := session.Open(db, dialect, sessionTTL)
	if err != nil {
		return nil, shutdowner, fmt.Errorf("open session gate: %w", err)
	}

	analyticsSink, err := analytics.Open(db, dialect)
	if err != nil {
		return nil, shutdowner, fmt.Errorf("open analytics sink: %w", err)
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return nil, shutdowner, fmt.Errorf("build embedding provider: %w", err)
	}

	vectors, err := buildVectorIndex(ctx, cfg)
	if err != nil {
		return nil, shutdowner, fmt.Errorf("open vector index: %w", err)
	}

	lexicon, err := lexical.Open(lexicalIndexPath(cfg.LexicalIndexURL))
	if err != nil {
		return nil, shutdowner, fmt.Errorf("open lexical index: %w", err)
	}

	counter, err := chunker.NewTokenCounter()
	if err != nil {
		return nil, shutdowner, fmt.Errorf("build token counter: %w", err)
	}
	chunks := chunker.New(counter)

	pipeline := ingest.New(docs, chunks, embedder, vectors, lexicon, metrics, cfg.MaxConcurrentIngests)
	engine := retrieval.New(embedder, vectors, lexicon, docs, metrics)

	llmAdapter, err := buildLLMAdapter(cfg)
	if err != nil {
		return nil, shutdowner, fmt.Errorf("build llm adapter: %w", err)
	}

	orch := orchestrator.New(sessions, engine, llmAdapter, analyticsSink, metrics)
	srv := transport.New(cfg.ServerAddr, sessions, orch, pipeline, docs, metrics)
	return srv, shutdowner, nil
}

func buildEmbedder(cfg *config.Config) (embedding.Provider, error) {
	base := embedding.NewDeterministicProvider(cfg.EmbeddingDim, cfg.EmbeddingModelID)
	return embedding.NewCachingProvider(base, 10_000, time.Hour)
}

func buildVectorIndex(ctx context.Context, cfg *config.Config) (*vectorindex.Index, error) {
	host, port, apiKey, useTLS := parseBackendURL(cfg.VectorIndexURL, 6334)
	return vectorindex.Open(ctx, host, port, apiKey, useTLS, cfg.EmbeddingDim)
}

// parseBackendURL interprets a VECTOR_INDEX_URL like
// "qdrant://host:6334?api_key=...&tls=true" into connection parameters,
// defaulting to localhost when unset (local/dev use).
func parseBackendURL(raw string, defaultPort int) (host string, port int, apiKey string, useTLS bool) {
	host, port = "localhost", defaultPort
	if raw == "" {
		return host, port, "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return host, port, "", false
	}
	if h := u.Hostname(); h != "" {
		host = h
	}
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	apiKey = u.Query().Get("api_key")
	useTLS = u.Query().Get("tls") == "true" || u.Scheme == "https" || u.Scheme == "grpcs"
	return host, port, apiKey, useTLS
}

// lexicalIndexPath maps LEXICAL_INDEX_URL onto Open's path argument: empty
// or "memory://" selects the in-memory index used by tests and small
// deployments, anything else is treated as a filesystem path for a
// persistent Bleve index.
func lexicalIndexPath(raw string) string {
	if raw == "" || raw == "memory://" {
		return ""
	}
	return raw
}

func buildLLMAdapter(cfg *config.Config) (*llm.Adapter, error) {
	providers := make([]llm.Provider, 0, len(cfg.LLMProviderPreference))
	for _, name := range cfg.LLMProviderPreference {
		switch name {
		case "openai":
			if cfg.OpenAIAPIKey == "" {
				continue
			}
			providers = append(providers, llm.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel))
		case "anthropic":
			if cfg.AnthropicAPIKey == "" {
				continue
			}
			providers = append(providers, llm.NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.AnthropicModel, 4096))
		}
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no llm provider configured: set an API key for at least one of %v", cfg.LLMProviderPreference)
	}
	return llm.NewAdapter(providers...), nil
}
