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

package vectorindex

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/ragline/gateway/internal/domain"
)

// Fake is an in-memory VectorIndex for tests that run without a Qdrant
// deployment. Cosine similarity is computed directly on stored embeddings
// rather than approximated.
type Fake struct {
	mu     sync.Mutex
	chunks map[domain.ChunkID]domain.Chunk
}

// NewFake returns an empty in-memory vector index.
func NewFake() *Fake {
	return &Fake{chunks: make(map[domain.ChunkID]domain.Chunk)}
}

func (f *Fake) Upsert(_ context.Context, chunk domain.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks[chunk.ID] = chunk
	return nil
}

// Search filters by organizationID and, when allowedFilenames is
// non-nil, by that filename set, before ranking and truncating to topK
// -- mirroring Index.Search's server-side pushdown so fakes exercise the
// same top-k-over-the-filtered-subset behavior.
func (f *Fake) Search(_ context.Context, queryVector []float32, organizationID string, allowedFilenames []string, topK int) ([]Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var allowed map[string]struct{}
	if allowedFilenames != nil {
		allowed = make(map[string]struct{}, len(allowedFilenames))
		for _, name := range allowedFilenames {
			allowed[name] = struct{}{}
		}
	}

	matches := make([]Match, 0, len(f.chunks))
	for id, chunk := range f.chunks {
		if chunk.OrganizationID != organizationID {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[chunk.Filename]; !ok {
				continue
			}
		}
		matches = append(matches, Match{ChunkID: id, Filename: chunk.Filename, Score: cosine(queryVector, chunk.Embedding)})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (f *Fake) DeleteByDoc(_ context.Context, docID, organizationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, chunk := range f.chunks {
		if id.DocID == docID && chunk.OrganizationID == organizationID {
			delete(f.chunks, id)
		}
	}
	return nil
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

var _ VectorIndex = (*Fake)(nil)
