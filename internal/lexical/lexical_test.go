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

package lexical

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragline/gateway/internal/domain"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestSearchScopesByOrganization(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	require.NoError(t, idx.Upsert(ctx, domain.Chunk{
		ID:             domain.ChunkID{DocID: "d1", ChunkIndex: 0},
		Text:           "machine learning enables systems to learn from data",
		Filename:       "ml_basics.txt",
		OrganizationID: "org-a",
	}))
	require.NoError(t, idx.Upsert(ctx, domain.Chunk{
		ID:             domain.ChunkID{DocID: "d2", ChunkIndex: 0},
		Text:           "machine learning for other tenants",
		Filename:       "other.txt",
		OrganizationID: "org-b",
	}))

	matches, err := idx.Search(ctx, "machine learning", "org-a", nil, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "d1", matches[0].ChunkID.DocID)
}

func TestSearchHighlightsMatchedTerms(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	require.NoError(t, idx.Upsert(ctx, domain.Chunk{
		ID:             domain.ChunkID{DocID: "d1", ChunkIndex: 0},
		Text:           "machine learning enables systems to learn from data",
		Filename:       "ml_basics.txt",
		OrganizationID: "org-a",
	}))

	matches, err := idx.Search(ctx, "machine learning", "org-a", nil, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Contains(t, matches[0].Excerpt, highlightOpen)
	assert.Contains(t, matches[0].Excerpt, highlightClose)
	assert.LessOrEqual(t, len(matches[0].Excerpt), excerptCapBytes+2*(len(highlightOpen)+len(highlightClose)))
}

func TestSearchEmptyQueryReturnsNoMatches(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	matches, err := idx.Search(ctx, "   ", "org-a", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestDeleteByDocRemovesAllChunksForDocument(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	require.NoError(t, idx.Upsert(ctx, domain.Chunk{
		ID:             domain.ChunkID{DocID: "d1", ChunkIndex: 0},
		Text:           "first chunk of a document",
		Filename:       "doc.txt",
		OrganizationID: "org-a",
	}))
	require.NoError(t, idx.Upsert(ctx, domain.Chunk{
		ID:             domain.ChunkID{DocID: "d1", ChunkIndex: 1},
		Text:           "second chunk of a document",
		Filename:       "doc.txt",
		OrganizationID: "org-a",
	}))

	require.NoError(t, idx.DeleteByDoc(ctx, "d1", "org-a"))

	matches, err := idx.Search(ctx, "document", "org-a", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearchScopesByAllowedFilenames(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	require.NoError(t, idx.Upsert(ctx, domain.Chunk{
		ID:             domain.ChunkID{DocID: "d1", ChunkIndex: 0},
		Text:           "machine learning enables systems to learn from data",
		Filename:       "visible.txt",
		OrganizationID: "org-a",
	}))
	require.NoError(t, idx.Upsert(ctx, domain.Chunk{
		ID:             domain.ChunkID{DocID: "d2", ChunkIndex: 0},
		Text:           "machine learning enables systems to learn from data",
		Filename:       "hidden.txt",
		OrganizationID: "org-a",
	}))

	matches, err := idx.Search(ctx, "machine learning", "org-a", []string{"visible.txt"}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "visible.txt", matches[0].Filename)

	matches, err = idx.Search(ctx, "machine learning", "org-a", []string{}, 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestAnalyzerStripsURLs(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	require.NoError(t, idx.Upsert(ctx, domain.Chunk{
		ID:             domain.ChunkID{DocID: "d1", ChunkIndex: 0},
		Text:           "see https://example.com/docs for the setup instructions",
		Filename:       "setup.md",
		OrganizationID: "org-a",
	}))

	matches, err := idx.Search(ctx, "setup instructions", "org-a", nil, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)

	matches, err = idx.Search(ctx, "https://example.com/docs", "org-a", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, matches, "stripped URLs must not be searchable terms")
}

func TestFuzzinessAppliesToSingleTokenQueriesOnly(t *testing.T) {
	assert.Equal(t, 0, autoFuzziness("ab"))
	assert.Equal(t, 1, autoFuzziness("plan"))
	assert.Equal(t, 2, autoFuzziness("architecture"))
	assert.Equal(t, 0, autoFuzziness("neural network architecture"))
}

func TestSuggestMatchesFilenamePrefix(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	require.NoError(t, idx.Upsert(ctx, domain.Chunk{
		ID:             domain.ChunkID{DocID: "d1", ChunkIndex: 0},
		Text:           "content",
		Filename:       "report_q1.txt",
		OrganizationID: "org-a",
	}))

	names, err := idx.Suggest(ctx, "report", "org-a")
	require.NoError(t, err)
	require.Len(t, names, 1)
	assert.True(t, strings.HasPrefix(names[0], "report"))
}
