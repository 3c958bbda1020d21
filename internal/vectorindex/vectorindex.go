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

// Package vectorindex is the dense vector index, backed by Qdrant, with
// organization_id/filename/doc_id metadata payloads. One collection holds
// every tenant's chunks; isolation comes from the payload filter every
// search must carry, not from per-tenant collections.
package vectorindex

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/ragline/gateway/internal/domain"
	"github.com/ragline/gateway/internal/errs"
)

const collectionName = "chunks"

// VectorIndex is the interface the retrieval engine and ingestion
// pipeline depend on, satisfied by *Index against a real Qdrant
// deployment and by test fakes elsewhere in this module.
type VectorIndex interface {
	Upsert(ctx context.Context, chunk domain.Chunk) error
	Search(ctx context.Context, queryVector []float32, organizationID string, allowedFilenames []string, topK int) ([]Match, error)
	DeleteByDoc(ctx context.Context, docID, organizationID string) error
}

// Index is a Qdrant-backed dense vector index.
type Index struct {
	client     *qdrant.Client
	dimension  uint64
	collection string
}

// Open connects to Qdrant at host:port and ensures the chunks collection
// exists with the given embedding dimension.
func Open(ctx context.Context, host string, port int, apiKey string, useTLS bool, dimension int) (*Index, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, errs.Wrap(errs.IndexUnavailable, "connect to qdrant", err)
	}

	idx := &Index{client: client, dimension: uint64(dimension), collection: collectionName}
	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *Index) ensureCollection(ctx context.Context) error {
	exists, err := idx.client.CollectionExists(ctx, idx.collection)
	if err != nil {
		return errs.Wrap(errs.IndexUnavailable, "check collection", err)
	}
	if exists {
		return nil
	}
	err = idx.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: idx.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     idx.dimension,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return errs.Wrap(errs.IndexWriteFailed, "create collection", err)
	}
	return nil
}

// pointID derives a stable UUID from the chunk id: Qdrant accepts only
// unsigned integers and UUIDs as point ids, and a stable id lets a
// re-upsert of the same chunk overwrite its point.
func pointID(id domain.ChunkID) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s:%d", id.DocID, id.ChunkIndex))).String()
}

// Upsert writes or overwrites a chunk's embedding and payload.
func (idx *Index) Upsert(ctx context.Context, chunk domain.Chunk) error {
	metadata := map[string]any{
		"organization_id": chunk.OrganizationID,
		"filename":        chunk.Filename,
		"doc_id":          chunk.ID.DocID,
		"chunk_index":     int64(chunk.ID.ChunkIndex),
	}

	payload := make(map[string]*qdrant.Value, len(metadata))
	for key, value := range metadata {
		val, err := qdrant.NewValue(value)
		if err != nil {
			return errs.Wrap(errs.IndexWriteFailed, fmt.Sprintf("convert payload field %s", key), err)
		}
		payload[key] = val
	}

	point := &qdrant.PointStruct{
		Id:      qdrant.NewID(pointID(chunk.ID)),
		Vectors: qdrant.NewVectors(chunk.Embedding...),
		Payload: payload,
	}

	_, err := idx.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: idx.collection,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return errs.Wrap(errs.IndexWriteFailed, "upsert chunk", err)
	}
	return nil
}

// Match is one dense search hit.
type Match struct {
	ChunkID  domain.ChunkID
	Filename string
	Score    float32
}

// Search returns the topK nearest neighbors to queryVector, restricted to
// organizationID and, when allowedFilenames is non-nil, to that filename
// allow-list. The filename predicate is pushed into Qdrant's filter
// (Filter.Should over per-filename Match conditions, ANDed against the
// organization_id Must condition) so top-k is computed over the filtered
// subset server-side rather than truncated before filtering.
func (idx *Index) Search(ctx context.Context, queryVector []float32, organizationID string, allowedFilenames []string, topK int) ([]Match, error) {
	if allowedFilenames != nil && len(allowedFilenames) == 0 {
		return nil, nil
	}

	searchRequest := &qdrant.SearchPoints{
		CollectionName: idx.collection,
		Vector:         queryVector,
		Limit:          uint64(topK),
		Filter:         filenameScopedFilter(organizationID, allowedFilenames),
		WithPayload:    qdrant.NewWithPayload(true),
	}

	pointsClient := idx.client.GetPointsClient()
	searchResult, err := pointsClient.Search(ctx, searchRequest)
	if err != nil {
		return nil, errs.Wrap(errs.IndexUnavailable, "search chunks", err)
	}

	matches := make([]Match, 0, len(searchResult.Result))
	for _, p := range searchResult.Result {
		docID := stringField(p.Payload, "doc_id")
		chunkIndex := intField(p.Payload, "chunk_index")
		matches = append(matches, Match{
			ChunkID:  domain.ChunkID{DocID: docID, ChunkIndex: chunkIndex},
			Filename: stringField(p.Payload, "filename"),
			Score:    p.Score,
		})
	}
	return matches, nil
}

// DeleteByDoc removes every point belonging to docID within organizationID.
func (idx *Index) DeleteByDoc(ctx context.Context, docID, organizationID string) error {
	filter := keywordFilter(map[string]string{
		"doc_id":          docID,
		"organization_id": organizationID,
	})
	_, err := idx.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: idx.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
		},
	})
	if err != nil {
		return errs.Wrap(errs.IndexWriteFailed, "delete document points", err)
	}
	return nil
}

// keywordFilter builds an AND filter matching each key to its exact
// keyword value.
func keywordFilter(match map[string]string) *qdrant.Filter {
	conditions := make([]*qdrant.Condition, 0, len(match))
	for key, value := range match {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: key,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: value},
					},
				},
			},
		})
	}
	return &qdrant.Filter{Must: conditions}
}

// filenameScopedFilter ANDs an organization_id Must condition with, when
// allowedFilenames is non-nil, a Should group of per-filename exact-match
// conditions (at least one must match). Filename scoping narrows the
// candidate set before top-k is taken, not after.
func filenameScopedFilter(organizationID string, allowedFilenames []string) *qdrant.Filter {
	filter := keywordFilter(map[string]string{"organization_id": organizationID})
	if allowedFilenames == nil {
		return filter
	}
	should := make([]*qdrant.Condition, 0, len(allowedFilenames))
	for _, name := range allowedFilenames {
		should = append(should, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: "filename",
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: name},
					},
				},
			},
		})
	}
	filter.Should = should
	return filter
}

func stringField(payload map[string]*qdrant.Value, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	if sv, ok := v.Kind.(*qdrant.Value_StringValue); ok {
		return sv.StringValue
	}
	return ""
}

func intField(payload map[string]*qdrant.Value, key string) int {
	v, ok := payload[key]
	if !ok || v == nil {
		return 0
	}
	if iv, ok := v.Kind.(*qdrant.Value_IntegerValue); ok {
		return int(iv.IntegerValue)
	}
	return 0
}

var _ VectorIndex = (*Index)(nil)
