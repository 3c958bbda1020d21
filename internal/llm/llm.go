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

// Package llm is a provider-agnostic adapter over one or more
// chat-completion backends, with ordered failover and a bounded token
// stream.
package llm

import (
	"context"

	"github.com/ragline/gateway/internal/errs"
)

// Options configures one generate/stream call.
type Options struct {
	MaxTokens          int
	Temperature        float64
	ProviderPreference []string
}

// Provider is one chat-completion backend.
type Provider interface {
	// Name identifies this provider for ProviderPreference matching and logging.
	Name() string
	// Generate produces a complete response in one call.
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
	// GenerateStreaming produces a response incrementally. The returned
	// channel is closed when the response ends or the context is
	// cancelled; a cancelled context must promptly stop upstream
	// consumption.
	GenerateStreaming(ctx context.Context, prompt string, opts Options) (<-chan string, error)
}

// maxStreamBuffer bounds the token channel. A slow consumer fills the
// buffer and blocks the producer goroutine, which pauses upstream reads.
const maxStreamBuffer = 256

// Adapter unifies multiple Providers behind one failover contract: try
// providers in ProviderPreference order, falling through to the next on
// LLMUnavailable or RateLimited, surfacing LLMUnavailable if all fail.
type Adapter struct {
	providers map[string]Provider
	// order is the adapter-wide default preference, used when
	// Options.ProviderPreference is empty.
	order []string
}

// NewAdapter builds an Adapter from providers in default preference order.
func NewAdapter(providers ...Provider) *Adapter {
	a := &Adapter{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		a.providers[p.Name()] = p
		a.order = append(a.order, p.Name())
	}
	return a
}

func (a *Adapter) preference(opts Options) []string {
	if len(opts.ProviderPreference) > 0 {
		return opts.ProviderPreference
	}
	return a.order
}

// Generate tries each provider in preference order.
func (a *Adapter) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	var lastErr error
	tried := false
	for _, name := range a.preference(opts) {
		p, ok := a.providers[name]
		if !ok {
			continue
		}
		tried = true
		out, err := p.Generate(ctx, prompt, opts)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !failoverEligible(err) {
			return "", err
		}
	}
	if !tried {
		return "", errs.New(errs.LLMUnavailable, "no configured LLM providers")
	}
	return "", errs.Wrap(errs.LLMUnavailable, "all providers exhausted", lastErr)
}

// GenerateStreaming tries each provider in preference order until one
// accepts the stream; once streaming has started to a client, a mid-stream
// failure is not retried on a different provider.
func (a *Adapter) GenerateStreaming(ctx context.Context, prompt string, opts Options) (<-chan string, error) {
	var lastErr error
	tried := false
	for _, name := range a.preference(opts) {
		p, ok := a.providers[name]
		if !ok {
			continue
		}
		tried = true
		ch, err := p.GenerateStreaming(ctx, prompt, opts)
		if err == nil {
			return ch, nil
		}
		lastErr = err
		if !failoverEligible(err) {
			return nil, err
		}
	}
	if !tried {
		return nil, errs.New(errs.LLMUnavailable, "no configured LLM providers")
	}
	return nil, errs.Wrap(errs.LLMUnavailable, "all providers exhausted", lastErr)
}

// failoverEligible reports whether err should trigger falling through to
// the next provider.
func failoverEligible(err error) bool {
	switch errs.KindOf(err) {
	case errs.LLMUnavailable, errs.RateLimited:
		return true
	default:
		return false
	}
}
