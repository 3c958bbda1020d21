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

// Package embedding maps text to fixed-dimension, L2-normalized vectors,
// fronted by an in-process LRU+TTL cache and a retry policy around the
// underlying provider.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ragline/gateway/internal/errs"
)

// Provider maps text to fixed-dimension, L2-normalized vectors.
type Provider interface {
	// Embed embeds each text, preserving order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension returns D, the fixed embedding dimension.
	Dimension() int
}

// Retry policy for provider calls.
const (
	initialBackoff = 200 * time.Millisecond
	backoffFactor  = 2
	maxBackoff     = 4 * time.Second
	maxAttempts    = 3
)

// cacheEntry pairs a cached vector with its insertion time, for TTL eviction.
type cacheEntry struct {
	vector     []float32
	insertedAt time.Time
}

// CachingProvider wraps a Provider with a bounded, TTL-expiring LRU cache
// keyed by SHA-256 of the input text. The cache is a latency optimization
// only: a miss or an expired entry always falls through to the wrapped
// provider, never changes the result.
type CachingProvider struct {
	inner Provider
	cache *lru.Cache[string, cacheEntry]
	ttl   time.Duration
}

// NewCachingProvider wraps inner with an LRU cache bounded at capacity
// entries and a fixed TTL.
func NewCachingProvider(inner Provider, capacity int, ttl time.Duration) (*CachingProvider, error) {
	if capacity <= 0 {
		capacity = 10000
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	cache, err := lru.New[string, cacheEntry](capacity)
	if err != nil {
		return nil, err
	}
	return &CachingProvider{inner: inner, cache: cache, ttl: ttl}, nil
}

func (p *CachingProvider) Dimension() int { return p.inner.Dimension() }

func (p *CachingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	now := time.Now()
	for i, t := range texts {
		key := cacheKey(t)
		if entry, ok := p.cache.Get(key); ok && now.Sub(entry.insertedAt) < p.ttl {
			out[i] = entry.vector
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := embedWithRetry(ctx, p.inner, missTexts)
	if err != nil {
		return nil, err
	}

	for j, i := range missIdx {
		out[i] = vectors[j]
		p.cache.Add(cacheKey(texts[i]), cacheEntry{vector: vectors[j], insertedAt: now})
	}
	return out, nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// embedWithRetry retries the inner call with exponential backoff: 200ms
// initial, doubling, capped at 4s, 3 attempts.
func embedWithRetry(ctx context.Context, p Provider, texts []string) ([][]float32, error) {
	backoff := initialBackoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		vectors, err := p.Embed(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errs.Wrap(errs.Cancelled, "embedding cancelled", ctx.Err())
		case <-time.After(backoff):
		}
		backoff = time.Duration(math.Min(float64(backoff*backoffFactor), float64(maxBackoff)))
	}
	return nil, errs.Wrap(errs.EmbeddingUnavailable, "embedding provider unreachable", lastErr)
}
