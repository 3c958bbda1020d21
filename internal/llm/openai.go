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

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/ragline/gateway/internal/errs"
)

// OpenAIProvider calls the OpenAI (or an OpenAI-compatible) chat
// completions API with the single user turn the orchestrator's assembled
// prompt needs.
type OpenAIProvider struct {
	sdk   openai.Client
	model string
}

// NewOpenAIProvider builds a provider against apiKey/baseURL (baseURL empty
// selects the default OpenAI endpoint) using model for every call.
func NewOpenAIProvider(apiKey, baseURL, model string) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{sdk: openai.NewClient(opts...), model: model}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) params(prompt string, opts Options) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	return params
}

func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	comp, err := p.sdk.Chat.Completions.New(ctx, p.params(prompt, opts))
	if err != nil {
		return "", classifyOpenAIErr(err)
	}
	if len(comp.Choices) == 0 {
		return "", errs.New(errs.LLMUnavailable, "empty response from openai")
	}
	return comp.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) GenerateStreaming(ctx context.Context, prompt string, opts Options) (<-chan string, error) {
	stream := p.sdk.Chat.Completions.NewStreaming(ctx, p.params(prompt, opts))

	out := make(chan string, maxStreamBuffer)
	go func() {
		defer close(out)
		defer func() { _ = stream.Close() }()
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case out <- delta:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func classifyOpenAIErr(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests:
			return errs.Wrap(errs.RateLimited, "openai rate limited", err)
		case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
			return errs.Wrap(errs.LLMUnavailable, "openai unavailable", err)
		}
	}
	return errs.Wrap(errs.LLMUnavailable, "openai request failed", err)
}
