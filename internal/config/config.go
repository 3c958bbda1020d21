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

// Package config loads the gateway's configuration by layering an
// optional YAML file over built-in defaults and environment variables over
// both, with a best-effort .env load first so local development does not
// need a shell wrapper.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the gateway's runtime configuration.
type Config struct {
	ServerAddr string `koanf:"server_addr"`

	LLMProviderPreference []string `koanf:"llm_provider_preference"`
	OpenAIAPIKey          string   `koanf:"openai_api_key"`
	OpenAIBaseURL         string   `koanf:"openai_base_url"`
	OpenAIModel           string   `koanf:"openai_model"`
	AnthropicAPIKey       string   `koanf:"anthropic_api_key"`
	AnthropicModel        string   `koanf:"anthropic_model"`

	EmbeddingModelID string `koanf:"embedding_model_id"`
	EmbeddingDim     int    `koanf:"embedding_dim"`

	VectorIndexURL  string `koanf:"vector_index_url"`
	LexicalIndexURL string `koanf:"lexical_index_url"`
	DocStoreURL     string `koanf:"doc_store_url"`

	SessionTTLHours      int     `koanf:"session_ttl_hours"`
	MaxConcurrentIngests int     `koanf:"max_concurrent_ingests"`
	EnrichmentThreshold  float64 `koanf:"enrichment_threshold"`

	MetricsNamespace  string  `koanf:"metrics_namespace"`
	TracingEnabled    bool    `koanf:"tracing_enabled"`
	TracingEndpoint   string  `koanf:"tracing_endpoint"`
	TracingSampleRate float64 `koanf:"tracing_sample_rate"`
}

func defaults() map[string]any {
	return map[string]any{
		"server_addr":            ":8080",
		"llm_provider_preference": []string{"anthropic", "openai"},
		"embedding_model_id":     "deterministic-v1",
		"embedding_dim":          384,
		"doc_store_url":          "sqlite://gateway.db",
		"session_ttl_hours":      24,
		"max_concurrent_ingests": 16,
		"enrichment_threshold":   0.5,
		"metrics_namespace":      "raggateway",
		"tracing_sample_rate":    0.1,
	}
}

// envBindings maps the recognized environment variables onto koanf keys.
var envBindings = map[string]string{
	"SERVER_ADDR":             "server_addr",
	"LLM_PROVIDER_PREFERENCE": "llm_provider_preference",
	"OPENAI_API_KEY":          "openai_api_key",
	"OPENAI_BASE_URL":         "openai_base_url",
	"OPENAI_MODEL":            "openai_model",
	"ANTHROPIC_API_KEY":       "anthropic_api_key",
	"ANTHROPIC_MODEL":         "anthropic_model",
	"EMBEDDING_MODEL_ID":      "embedding_model_id",
	"EMBEDDING_DIM":           "embedding_dim",
	"VECTOR_INDEX_URL":        "vector_index_url",
	"LEXICAL_INDEX_URL":       "lexical_index_url",
	"DOC_STORE_URL":           "doc_store_url",
	"SESSION_TTL_HOURS":       "session_ttl_hours",
	"MAX_CONCURRENT_INGESTS":  "max_concurrent_ingests",
	"ENRICHMENT_THRESHOLD":    "enrichment_threshold",
	"METRICS_NAMESPACE":       "metrics_namespace",
	"TRACING_ENABLED":         "tracing_enabled",
	"TRACING_ENDPOINT":        "tracing_endpoint",
	"TRACING_SAMPLE_RATE":     "tracing_sample_rate",
}

// Load builds a Config by layering, in increasing priority: built-in
// defaults, an optional YAML file at path (skipped if path is empty or
// absent), then environment variables. A .env file in the working
// directory is loaded first, best-effort; env vars always win.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("config: load file %s: %w", path, err)
			}
		}
	}

	if err := loadEnvOverrides(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvOverrides(k *koanf.Koanf) error {
	overrides := make(map[string]any, len(envBindings))
	for envVar, key := range envBindings {
		raw, ok := os.LookupEnv(envVar)
		if !ok {
			continue
		}
		overrides[key] = parseEnvValue(key, raw)
	}
	if len(overrides) == 0 {
		return nil
	}
	if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
		return fmt.Errorf("config: apply env overrides: %w", err)
	}
	return nil
}

// parseEnvValue interprets an environment variable's raw string per the
// destination key's type: LLM_PROVIDER_PREFERENCE is comma-separated,
// numeric/boolean keys parse accordingly, everything else stays a string.
func parseEnvValue(key, raw string) any {
	switch key {
	case "llm_provider_preference":
		parts := strings.Split(raw, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	case "embedding_dim", "session_ttl_hours", "max_concurrent_ingests":
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
		return raw
	case "enrichment_threshold", "tracing_sample_rate":
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
		return raw
	case "tracing_enabled":
		if b, err := strconv.ParseBool(raw); err == nil {
			return b
		}
		return raw
	default:
		return raw
	}
}

func (c *Config) validate() error {
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("config: embedding_dim must be positive, got %d", c.EmbeddingDim)
	}
	if c.SessionTTLHours <= 0 {
		return fmt.Errorf("config: session_ttl_hours must be positive, got %d", c.SessionTTLHours)
	}
	if c.MaxConcurrentIngests <= 0 {
		return fmt.Errorf("config: max_concurrent_ingests must be positive, got %d", c.MaxConcurrentIngests)
	}
	if len(c.LLMProviderPreference) == 0 {
		return fmt.Errorf("config: llm_provider_preference must not be empty")
	}
	return nil
}
