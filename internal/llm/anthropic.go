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

package llm

import (
	"context"
	"errors"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ragline/gateway/internal/errs"
)

// AnthropicProvider calls the Anthropic Messages API with the single
// user turn the orchestrator's assembled prompt needs.
type AnthropicProvider struct {
	sdk       anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicProvider builds a provider against apiKey using model for
// every call; defaultMaxTokens is used when Options.MaxTokens is unset.
func NewAnthropicProvider(apiKey, model string, defaultMaxTokens int64) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if defaultMaxTokens <= 0 {
		defaultMaxTokens = 1024
	}
	return &AnthropicProvider{sdk: anthropic.NewClient(opts...), model: model, maxTokens: defaultMaxTokens}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) params(prompt string, opts Options) anthropic.MessageNewParams {
	maxTokens := p.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = int64(opts.MaxTokens)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}
	return params
}

func (p *AnthropicProvider) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	msg, err := p.sdk.Messages.New(ctx, p.params(prompt, opts))
	if err != nil {
		return "", classifyAnthropicErr(err)
	}
	var out string
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			out += text.Text
		}
	}
	return out, nil
}

func (p *AnthropicProvider) GenerateStreaming(ctx context.Context, prompt string, opts Options) (<-chan string, error) {
	stream := p.sdk.Messages.NewStreaming(ctx, p.params(prompt, opts))

	out := make(chan string, maxStreamBuffer)
	go func() {
		defer close(out)
		defer func() { _ = stream.Close() }()
		for stream.Next() {
			event := stream.Current()
			delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			text, ok := delta.Delta.AsAny().(anthropic.TextDelta)
			if !ok || text.Text == "" {
				continue
			}
			select {
			case out <- text.Text:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func classifyAnthropicErr(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests:
			return errs.Wrap(errs.RateLimited, "anthropic rate limited", err)
		case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
			return errs.Wrap(errs.LLMUnavailable, "anthropic unavailable", err)
		}
	}
	return errs.Wrap(errs.LLMUnavailable, "anthropic request failed", err)
}
