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

package embedding

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicProviderIsDeterministic(t *testing.T) {
	p := NewDeterministicProvider(32, "test-model")
	ctx := context.Background()

	v1, err := p.Embed(ctx, []string{"machine learning"})
	require.NoError(t, err)
	v2, err := p.Embed(ctx, []string{"machine learning"})
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
}

func TestDeterministicProviderIsL2Normalized(t *testing.T) {
	p := NewDeterministicProvider(16, "test-model")
	vecs, err := p.Embed(context.Background(), []string{"deep learning uses neural networks"})
	require.NoError(t, err)

	var sumSq float64
	for _, x := range vecs[0] {
		sumSq += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSq), 1e-4)
}

func TestDeterministicProviderDistinguishesText(t *testing.T) {
	p := NewDeterministicProvider(64, "test-model")
	vecs, err := p.Embed(context.Background(), []string{"cats and dogs", "quantum physics"})
	require.NoError(t, err)
	assert.NotEqual(t, vecs[0], vecs[1])
}

type flakyProvider struct {
	dim     int
	calls   int
	failFor int
}

func (f *flakyProvider) Dimension() int { return f.dim }

func (f *flakyProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.calls <= f.failFor {
		return nil, assertErr{}
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type assertErr struct{}

func (assertErr) Error() string { return "provider unavailable" }

func TestCachingProviderRetriesThenSucceeds(t *testing.T) {
	inner := &flakyProvider{dim: 3, failFor: 2}
	cp, err := NewCachingProvider(inner, 10, time.Hour)
	require.NoError(t, err)

	vecs, err := cp.Embed(context.Background(), []string{"hello"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, vecs[0])
	assert.Equal(t, 3, inner.calls)
}

func TestCachingProviderCachesAcrossCalls(t *testing.T) {
	inner := &flakyProvider{dim: 3}
	cp, err := NewCachingProvider(inner, 10, time.Hour)
	require.NoError(t, err)

	_, err = cp.Embed(context.Background(), []string{"hello"})
	require.NoError(t, err)
	_, err = cp.Embed(context.Background(), []string{"hello"})
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls)
}

func TestCachingProviderFailsAfterMaxAttempts(t *testing.T) {
	inner := &flakyProvider{dim: 3, failFor: 100}
	cp, err := NewCachingProvider(inner, 10, time.Hour)
	require.NoError(t, err)

	_, err = cp.Embed(context.Background(), []string{"hello"})
	require.Error(t, err)
	assert.Equal(t, maxAttempts, inner.calls)
}
