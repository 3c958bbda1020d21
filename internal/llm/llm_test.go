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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragline/gateway/internal/errs"
)

func TestGenerateUsesFirstHealthyProvider(t *testing.T) {
	a := NewAdapter(
		NewFake("primary", "primary answer", nil),
		NewFake("secondary", "secondary answer", nil),
	)
	out, err := a.Generate(context.Background(), "question", Options{})
	require.NoError(t, err)
	assert.Equal(t, "primary answer", out)
}

func TestGenerateFailsOverOnUnavailable(t *testing.T) {
	a := NewAdapter(
		NewFailingFake("primary", errs.New(errs.LLMUnavailable, "down")),
		NewFake("secondary", "secondary answer", nil),
	)
	out, err := a.Generate(context.Background(), "question", Options{})
	require.NoError(t, err)
	assert.Equal(t, "secondary answer", out)
}

func TestGenerateExhaustsAllProviders(t *testing.T) {
	a := NewAdapter(
		NewFailingFake("primary", errs.New(errs.RateLimited, "limited")),
		NewFailingFake("secondary", errs.New(errs.LLMUnavailable, "down")),
	)
	_, err := a.Generate(context.Background(), "question", Options{})
	require.Error(t, err)
	assert.Equal(t, errs.LLMUnavailable, errs.KindOf(err))
}

func TestGenerateRespectsExplicitPreference(t *testing.T) {
	a := NewAdapter(
		NewFake("primary", "primary answer", nil),
		NewFake("secondary", "secondary answer", nil),
	)
	out, err := a.Generate(context.Background(), "question", Options{ProviderPreference: []string{"secondary", "primary"}})
	require.NoError(t, err)
	assert.Equal(t, "secondary answer", out)
}

func TestGenerateDoesNotFailoverOnNonRetryableError(t *testing.T) {
	a := NewAdapter(
		NewFailingFake("primary", errs.New(errs.InvalidInput, "bad prompt")),
		NewFake("secondary", "secondary answer", nil),
	)
	_, err := a.Generate(context.Background(), "question", Options{})
	require.Error(t, err)
	assert.Equal(t, errs.InvalidInput, errs.KindOf(err))
}

func TestGenerateStreamingEmitsTokensInOrder(t *testing.T) {
	a := NewAdapter(NewFake("primary", "", []string{"hel", "lo"}))
	ch, err := a.GenerateStreaming(context.Background(), "question", Options{})
	require.NoError(t, err)

	var got []string
	for tok := range ch {
		got = append(got, tok)
	}
	assert.Equal(t, []string{"hel", "lo"}, got)
}
