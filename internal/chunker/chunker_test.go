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

package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChunker(t *testing.T) Chunker {
	t.Helper()
	counter, err := NewTokenCounter()
	require.NoError(t, err)
	return New(counter)
}

func TestChunkCoversInputMonotonically(t *testing.T) {
	c := newTestChunker(t)
	text := "Machine learning enables systems to learn from data. Deep learning uses neural networks. It is a subset of AI."

	pieces, err := c.Chunk(text, "txt")
	require.NoError(t, err)
	require.NotEmpty(t, pieces)

	prevEnd := -1
	for _, p := range pieces {
		assert.GreaterOrEqual(t, p.Start, 0)
		assert.LessOrEqual(t, p.End, len(text))
		assert.Less(t, p.Start, p.End)
		assert.GreaterOrEqual(t, p.Start, prevEnd-1) // never starts more than one byte before the prior piece's end
		assert.Equal(t, text[p.Start:p.End], p.Text)
		prevEnd = p.End
	}
	assert.Equal(t, len(text), pieces[len(pieces)-1].End)
}

func TestChunkNeverExceedsMaxTokens(t *testing.T) {
	c := newTestChunker(t)
	text := strings.Repeat("word ", 5000)

	pieces, err := c.Chunk(text, "txt")
	require.NoError(t, err)
	for _, p := range pieces {
		assert.LessOrEqual(t, p.TokenCount, MaxChunkTokens)
	}
}

func TestChunkShortTextNoSubdivision(t *testing.T) {
	c := newTestChunker(t)
	text := "One sentence here. Another one follows."

	pieces, err := c.Chunk(text, "txt")
	require.NoError(t, err)
	assert.Len(t, pieces, 2)
}

func TestChunkStructuredMarkupUsesSentenceOverlap(t *testing.T) {
	c := newTestChunker(t)
	text := strings.Repeat("This is a sentence with several words in it. ", 100)

	pieces, err := c.Chunk(text, "md")
	require.NoError(t, err)
	require.Greater(t, len(pieces), 1)
	for i := 1; i < len(pieces); i++ {
		// Each chunk repeats the last sentence of the one before it.
		assert.Less(t, pieces[i].Start, pieces[i-1].End)
	}
}

func TestToChunksTagsOrganization(t *testing.T) {
	c := newTestChunker(t)
	pieces, err := c.Chunk("Hello world. Goodbye world.", "txt")
	require.NoError(t, err)

	chunks := ToChunks(pieces, "doc-1", "hello.txt", "org-a")
	for i, ch := range chunks {
		assert.Equal(t, "org-a", ch.OrganizationID)
		assert.Equal(t, "hello.txt", ch.Filename)
		assert.Equal(t, i, ch.ID.ChunkIndex)
		assert.Equal(t, "doc-1", ch.ID.DocID)
	}
}
