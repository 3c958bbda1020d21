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

	"github.com/ragline/gateway/internal/domain"
)

// ToChunks converts chunker Pieces into domain.Chunks tagged with the
// parent document's identifiers, so every chunk carries the same
// organization_id as its parent document.
func ToChunks(pieces []Piece, docID, filename, organizationID string) []domain.Chunk {
	chunks := make([]domain.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = domain.Chunk{
			ID:             domain.ChunkID{DocID: docID, ChunkIndex: i},
			Text:           strings.ToLower(p.Text),
			DisplayText:    p.Text,
			ChunkStart:     p.Start,
			ChunkEnd:       p.End,
			TokenCount:     p.TokenCount,
			Filename:       filename,
			OrganizationID: organizationID,
		}
	}
	return chunks
}
