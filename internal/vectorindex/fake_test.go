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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragline/gateway/internal/domain"
)

func TestFakeSearchScopesByOrganization(t *testing.T) {
	ctx := context.Background()
	idx := NewFake()

	require.NoError(t, idx.Upsert(ctx, domain.Chunk{
		ID:             domain.ChunkID{DocID: "d1", ChunkIndex: 0},
		OrganizationID: "org-a",
		Embedding:      []float32{1, 0, 0},
	}))
	require.NoError(t, idx.Upsert(ctx, domain.Chunk{
		ID:             domain.ChunkID{DocID: "d2", ChunkIndex: 0},
		OrganizationID: "org-b",
		Embedding:      []float32{1, 0, 0},
	}))

	matches, err := idx.Search(ctx, []float32{1, 0, 0}, "org-a", nil, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "d1", matches[0].ChunkID.DocID)
}

func TestFakeSearchRanksByCosineSimilarity(t *testing.T) {
	ctx := context.Background()
	idx := NewFake()

	require.NoError(t, idx.Upsert(ctx, domain.Chunk{
		ID:             domain.ChunkID{DocID: "close", ChunkIndex: 0},
		OrganizationID: "org-a",
		Embedding:      []float32{1, 0},
	}))
	require.NoError(t, idx.Upsert(ctx, domain.Chunk{
		ID:             domain.ChunkID{DocID: "far", ChunkIndex: 0},
		OrganizationID: "org-a",
		Embedding:      []float32{0, 1},
	}))

	matches, err := idx.Search(ctx, []float32{0.9, 0.1}, "org-a", nil, 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "close", matches[0].ChunkID.DocID)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

func TestFakeDeleteByDocScopesByOrganization(t *testing.T) {
	ctx := context.Background()
	idx := NewFake()

	require.NoError(t, idx.Upsert(ctx, domain.Chunk{
		ID:             domain.ChunkID{DocID: "d1", ChunkIndex: 0},
		OrganizationID: "org-a",
		Embedding:      []float32{1, 0},
	}))

	require.NoError(t, idx.DeleteByDoc(ctx, "d1", "org-b"))
	matches, err := idx.Search(ctx, []float32{1, 0}, "org-a", nil, 10)
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	require.NoError(t, idx.DeleteByDoc(ctx, "d1", "org-a"))
	matches, err = idx.Search(ctx, []float32{1, 0}, "org-a", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFakeSearchScopesByAllowedFilenames(t *testing.T) {
	ctx := context.Background()
	idx := NewFake()

	require.NoError(t, idx.Upsert(ctx, domain.Chunk{
		ID:             domain.ChunkID{DocID: "d1", ChunkIndex: 0},
		OrganizationID: "org-a",
		Filename:       "visible.txt",
		Embedding:      []float32{1, 0},
	}))
	require.NoError(t, idx.Upsert(ctx, domain.Chunk{
		ID:             domain.ChunkID{DocID: "d2", ChunkIndex: 0},
		OrganizationID: "org-a",
		Filename:       "hidden.txt",
		Embedding:      []float32{1, 0},
	}))

	matches, err := idx.Search(ctx, []float32{1, 0}, "org-a", []string{"visible.txt"}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "visible.txt", matches[0].Filename)

	matches, err = idx.Search(ctx, []float32{1, 0}, "org-a", []string{}, 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}
