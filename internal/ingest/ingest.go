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

// Package ingest is the indexing pipeline: it coordinates chunking and
// embedding, dual-writes the result to the vector and lexical indexes,
// and keeps the document store as the document of record.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ragline/gateway/internal/chunker"
	"github.com/ragline/gateway/internal/docstore"
	"github.com/ragline/gateway/internal/domain"
	"github.com/ragline/gateway/internal/embedding"
	"github.com/ragline/gateway/internal/errs"
	"github.com/ragline/gateway/internal/lexical"
	"github.com/ragline/gateway/internal/observability"
	"github.com/ragline/gateway/internal/vectorindex"
)

// DefaultMaxConcurrentIngests is the default in-flight write bound
// (MAX_CONCURRENT_INGESTS), mirroring a NumCPU-sized default but fixed
// rather than host-dependent, since ingest concurrency here is
// bounded by downstream index write capacity, not local CPU.
const DefaultMaxConcurrentIngests = 16

// Pipeline is the indexing pipeline.
type Pipeline struct {
	docs     *docstore.Store
	chunks   chunker.Chunker
	embedder embedding.Provider
	vectors  vectorindex.VectorIndex
	lexicon  lexical.LexicalIndex
	metrics  *observability.Metrics

	sem *semaphore

	mu       sync.Mutex
	inFlight map[writeKey]struct{}
}

type writeKey struct {
	docID          string
	organizationID string
}

// New constructs a Pipeline. maxConcurrent <= 0 selects
// DefaultMaxConcurrentIngests. metrics may be nil.
func New(docs *docstore.Store, chunks chunker.Chunker, embedder embedding.Provider, vectors vectorindex.VectorIndex, lexicon lexical.LexicalIndex, metrics *observability.Metrics, maxConcurrent int) *Pipeline {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentIngests
	}
	return &Pipeline{
		docs:     docs,
		chunks:   chunks,
		embedder: embedder,
		vectors:  vectors,
		lexicon:  lexicon,
		metrics:  metrics,
		sem:      newSemaphore(maxConcurrent),
		inFlight: make(map[writeKey]struct{}),
	}
}

// acquire claims the single in-flight write slot for (docID, organizationID)
// and a global concurrency permit, or fails with Busy. release must be
// called exactly once on a successful acquire.
func (p *Pipeline) acquire(ctx context.Context, docID, organizationID string) (release func(), err error) {
	key := writeKey{docID: docID, organizationID: organizationID}

	p.mu.Lock()
	if _, busy := p.inFlight[key]; busy {
		p.mu.Unlock()
		return nil, errs.New(errs.Busy, fmt.Sprintf("write already in flight for document %s", docID))
	}
	p.inFlight[key] = struct{}{}
	p.mu.Unlock()

	if err := p.sem.tryAcquire(); err != nil {
		p.mu.Lock()
		delete(p.inFlight, key)
		p.mu.Unlock()
		return nil, errs.New(errs.Busy, "ingest pipeline at capacity")
	}

	return func() {
		p.sem.release()
		p.mu.Lock()
		delete(p.inFlight, key)
		p.mu.Unlock()
	}, nil
}

// Ingest persists filename's content under organizationID, chunks and
// embeds it, and dual-writes the result to both indexes. On a dual-write
// failure it rolls back the indexes and the document row.
func (p *Pipeline) Ingest(ctx context.Context, filename string, content []byte, fileType, organizationID string) (string, error) {
	docID, err := p.docs.Insert(ctx, filename, content, fileType, organizationID)
	if err != nil {
		return "", err
	}

	if err := p.indexDocument(ctx, docID, filename, content, fileType, organizationID, "ingest"); err != nil {
		// Roll back the document row too: ingest must leave no trace on failure. The
		// rollback runs on a detached context so a cancelled ingest still
		// cleans up rather than leaving the failed row behind.
		_, _ = p.docs.Delete(context.WithoutCancel(ctx), docID, organizationID)
		return "", err
	}
	return docID, nil
}

// Reindex re-derives chunks/embeddings for an existing document and
// replaces its index entries, leaving the stored document untouched.
func (p *Pipeline) Reindex(ctx context.Context, docID, organizationID string) error {
	release, err := p.acquire(ctx, docID, organizationID)
	if err != nil {
		return err
	}
	defer release()

	doc, err := p.docs.Get(ctx, docID, organizationID)
	if err != nil {
		return err
	}

	if err := p.vectors.DeleteByDoc(ctx, docID, organizationID); err != nil {
		return errs.Wrap(errs.IndexWriteFailed, "clear vector index before reindex", err)
	}
	if err := p.lexicon.DeleteByDoc(ctx, docID, organizationID); err != nil {
		return errs.Wrap(errs.IndexWriteFailed, "clear lexical index before reindex", err)
	}

	return p.indexDocumentLocked(ctx, docID, doc.Filename, doc.Content, doc.FileType, organizationID, "reindex")
}

// Delete removes docID from the vector index, the lexical index and the
// document store, in that order. Every step is idempotent: deleting an
// already-absent document succeeds.
func (p *Pipeline) Delete(ctx context.Context, docID, organizationID string) error {
	release, err := p.acquire(ctx, docID, organizationID)
	if err != nil {
		return err
	}
	defer release()

	if err := p.vectors.DeleteByDoc(ctx, docID, organizationID); err != nil {
		return errs.Wrap(errs.IndexWriteFailed, "delete from vector index", err)
	}
	if err := p.lexicon.DeleteByDoc(ctx, docID, organizationID); err != nil {
		return errs.Wrap(errs.IndexWriteFailed, "delete from lexical index", err)
	}
	if _, err := p.docs.Delete(ctx, docID, organizationID); err != nil {
		return err
	}
	return nil
}

// indexDocument acquires the write slot for docID before delegating to
// indexDocumentLocked; used by Ingest, which has not yet acquired it.
func (p *Pipeline) indexDocument(ctx context.Context, docID, filename string, content []byte, fileType, organizationID, operation string) error {
	release, err := p.acquire(ctx, docID, organizationID)
	if err != nil {
		return err
	}
	defer release()
	return p.indexDocumentLocked(ctx, docID, filename, content, fileType, organizationID, operation)
}

// indexDocumentLocked chunks, embeds and dual-writes, assuming the caller
// already holds the (docID, organizationID) write slot.
func (p *Pipeline) indexDocumentLocked(ctx context.Context, docID, filename string, content []byte, fileType, organizationID, operation string) error {
	start := time.Now()
	text := decodeText(content, fileType)

	pieces, err := p.chunks.Chunk(text, fileType)
	if err != nil {
		p.metrics.RecordIngestError(operation, string(errs.InvalidInput))
		return errs.Wrap(errs.InvalidInput, "chunk document", err)
	}
	chunks := chunker.ToChunks(pieces, docID, filename, organizationID)
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		p.metrics.RecordIngestError(operation, string(errs.KindOf(err)))
		return err
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}

	if err := p.dualWrite(ctx, docID, organizationID, operation, chunks); err != nil {
		return err
	}

	p.metrics.RecordIngest(operation, organizationID, time.Since(start))
	return nil
}

// dualWrite upserts chunks into both indexes. On either failure it rolls
// back both stores for docID before surfacing IndexWriteFailed.
func (p *Pipeline) dualWrite(ctx context.Context, docID, organizationID, operation string, chunks []domain.Chunk) error {
	var vectorErr, lexicalErr error
	for _, c := range chunks {
		if vectorErr == nil {
			vectorErr = p.vectors.Upsert(ctx, c)
		}
		if lexicalErr == nil {
			lexicalErr = p.lexicon.Upsert(ctx, c)
		}
	}
	if vectorErr == nil && lexicalErr == nil {
		return nil
	}

	rollbackCtx := context.WithoutCancel(ctx)
	_ = p.vectors.DeleteByDoc(rollbackCtx, docID, organizationID)
	_ = p.lexicon.DeleteByDoc(rollbackCtx, docID, organizationID)

	p.metrics.RecordIngestError(operation, string(errs.IndexWriteFailed))
	if vectorErr != nil {
		return errs.Wrap(errs.IndexWriteFailed, "dual write to vector index", vectorErr)
	}
	return errs.Wrap(errs.IndexWriteFailed, "dual write to lexical index", lexicalErr)
}

// decodeText turns content into text for chunking. File-type-specific
// extraction (DOCX/XLSX/PDF) belongs to an upstream loader; every
// fileType this pipeline accepts directly is treated as UTF-8 text, which
// covers txt, md, html and similar source formats.
func decodeText(content []byte, _ string) string {
	return string(content)
}
