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
	"crypto/sha256"
	"math"
	"strings"
)

// DeterministicProvider is a dependency-free Provider: a fixed hashing
// scheme maps text to a D-dimensional, L2-normalized vector. It stands in
// for a remote embedding model (configured via EMBEDDING_MODEL_ID /
// VECTOR_INDEX_URL in production) while remaining exactly reproducible:
// deterministic for identical input under a fixed model identity.
type DeterministicProvider struct {
	dim   int
	model string
}

// NewDeterministicProvider creates a provider producing dim-dimensional
// vectors under modelID. modelID is mixed into every token hash, so two
// model identities map the same text to different vectors.
func NewDeterministicProvider(dim int, modelID string) *DeterministicProvider {
	if dim <= 0 {
		dim = 384
	}
	return &DeterministicProvider{dim: dim, model: modelID}
}

func (p *DeterministicProvider) Dimension() int { return p.dim }

func (p *DeterministicProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.embedOne(t)
	}
	return out, nil
}

func (p *DeterministicProvider) embedOne(text string) []float32 {
	normalized := strings.ToLower(strings.TrimSpace(text))
	vec := make([]float32, p.dim)

	// Sum a SHA-256-derived contribution per token, so strings sharing
	// tokens land closer together than pure random hashing would.
	tokens := strings.Fields(normalized)
	if len(tokens) == 0 {
		tokens = []string{""}
	}
	for _, tok := range tokens {
		digest := sha256.Sum256([]byte(p.model + ":" + tok))
		for i := 0; i < p.dim; i++ {
			b := digest[i%len(digest)]
			// Map byte to a signed contribution in [-1, 1].
			vec[i] += float32(int(b)-128) / 128.0
		}
	}

	return l2Normalize(vec)
}

func l2Normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(math.Sqrt(sumSq))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}
