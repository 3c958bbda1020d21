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

// Package retrieval is the hybrid retrieval engine: it fans out to the
// dense and lexical indexes in parallel, fuses their normalized scores,
// and enriches top results with full-file content from the document
// store.
package retrieval

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ragline/gateway/internal/docstore"
	"github.com/ragline/gateway/internal/domain"
	"github.com/ragline/gateway/internal/embedding"
	"github.com/ragline/gateway/internal/errs"
	"github.com/ragline/gateway/internal/lexical"
	"github.com/ragline/gateway/internal/observability"
	"github.com/ragline/gateway/internal/vectorindex"
)

// FusionMethod selects how dense and lexical scores combine.
type FusionMethod string

const (
	FusionWeighted FusionMethod = "weighted"
	FusionRRF      FusionMethod = "rrf"

	rrfK = 60
)

// Options configures one retrieve call; zero values select defaults.
// The 0.2 MinFusedScore default applies to both fusion methods, and an
// RRF score is at most 2/(60+1), so RRF returns no results under that
// default. IncludeFullFile has no default: its zero value, false, turns
// full-file enrichment off.
type Options struct {
	K                   int
	DenseWeight         float32
	LexicalWeight       float32
	MinFusedScore       float32
	EnrichmentThreshold float32
	IncludeFullFile     bool
	Fusion              FusionMethod
}

func (o Options) withDefaults() Options {
	if o.K <= 0 {
		o.K = 10
	}
	if o.DenseWeight == 0 && o.LexicalWeight == 0 {
		o.DenseWeight = 0.7
		o.LexicalWeight = 0.3
	}
	if o.MinFusedScore == 0 {
		o.MinFusedScore = 0.2
	}
	if o.EnrichmentThreshold == 0 {
		o.EnrichmentThreshold = 0.5
	}
	if o.Fusion == "" {
		o.Fusion = FusionWeighted
	}
	return o
}

// Engine is the hybrid retrieval engine.
type Engine struct {
	embedder embedding.Provider
	vectors  vectorindex.VectorIndex
	lexicon  lexical.LexicalIndex
	docs     *docstore.Store
	metrics  *observability.Metrics
}

// New constructs a retrieval Engine from its four dependencies. metrics may
// be nil.
func New(embedder embedding.Provider, vectors vectorindex.VectorIndex, lexicon lexical.LexicalIndex, docs *docstore.Store, metrics *observability.Metrics) *Engine {
	return &Engine{embedder: embedder, vectors: vectors, lexicon: lexicon, docs: docs, metrics: metrics}
}

// Result is a fused, ordered retrieval outcome returned alongside the
// union of contributing document IDs for citation.
type Result struct {
	Results   []domain.SearchResult
	SourceIDs []string
}

// Retrieve runs the full hybrid search: embed the question, query both
// backends in parallel under the caller's permission scope, normalize and
// fuse the scores, cut off weak results, boost filename matches, and
// enrich the survivors.
func (e *Engine) Retrieve(ctx context.Context, question string, view domain.PermissionView, opts Options) (Result, error) {
	opts = opts.withDefaults()
	start := time.Now()

	fetchK := opts.K
	if fetchK < 20 {
		fetchK = 20
	}

	vectors, err := e.embedder.Embed(ctx, []string{question})
	if err != nil {
		return Result{}, err
	}
	queryVector := vectors[0]

	allowedFilenames := allowList(view)

	var denseMatches []vectorindex.Match
	var lexicalMatches []lexical.Match

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		matches, err := e.vectors.Search(gctx, queryVector, view.OrganizationID, allowedFilenames, fetchK)
		if err != nil {
			return errs.Wrap(errs.IndexUnavailable, "dense search", err)
		}
		denseMatches = matches
		return nil
	})
	g.Go(func() error {
		matches, err := e.lexicon.Search(gctx, question, view.OrganizationID, allowedFilenames, fetchK)
		if err != nil {
			return errs.Wrap(errs.IndexUnavailable, "lexical search", err)
		}
		lexicalMatches = matches
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	normalizeDense(denseMatches)
	normalizeLexical(lexicalMatches)

	fused := fuse(denseMatches, lexicalMatches, opts)

	filtered := fused[:0]
	for _, f := range fused {
		if f.fusedScore >= opts.MinFusedScore {
			filtered = append(filtered, f)
		}
	}
	fused = filtered

	fused = applyFilenameBoost(fused, question)

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].fusedScore != fused[j].fusedScore {
			return fused[i].fusedScore > fused[j].fusedScore
		}
		if fused[i].denseScore != fused[j].denseScore {
			return fused[i].denseScore > fused[j].denseScore
		}
		return fused[i].chunkID.ChunkIndex < fused[j].chunkID.ChunkIndex
	})
	if len(fused) > opts.K {
		fused = fused[:opts.K]
	}

	results := make([]domain.SearchResult, 0, len(fused))
	docIDSet := make(map[string]struct{})
	for _, f := range fused {
		docIDSet[f.chunkID.DocID] = struct{}{}

		result := domain.SearchResult{
			ChunkID:        f.chunkID,
			Filename:       f.filename,
			OrganizationID: view.OrganizationID,
			TextExcerpt:    f.excerpt,
			Highlights:     f.highlights,
			FusedScore:     f.fusedScore,
		}
		if f.hasDense {
			d := f.denseScore
			result.DenseScore = &d
		}
		if f.hasLexical {
			l := f.lexicalScore
			result.LexicalScore = &l
		}

		if opts.IncludeFullFile && f.fusedScore >= opts.EnrichmentThreshold && e.docs != nil {
			if doc, err := e.docs.GetByFilename(ctx, f.filename, view.OrganizationID); err == nil {
				result.FullFileContent = doc.Content
			}
		}

		results = append(results, result)
	}

	sourceIDs := make([]string, 0, len(docIDSet))
	for id := range docIDSet {
		sourceIDs = append(sourceIDs, id)
	}
	sort.Strings(sourceIDs)

	e.metrics.RecordRetrieval(view.OrganizationID, time.Since(start), len(results))

	return Result{Results: results, SourceIDs: sourceIDs}, nil
}

// allowList converts a PermissionView's filename set into the
// allowedFilenames argument Search expects: nil means unrestricted,
// matching VectorIndex.Search/LexicalIndex.Search's nil-means-no-filter
// convention.
func allowList(view domain.PermissionView) []string {
	if view.AllowAll {
		return nil
	}
	names := make([]string, 0, len(view.AllowedFilenames))
	for name := range view.AllowedFilenames {
		names = append(names, name)
	}
	return names
}

func normalizeDense(matches []vectorindex.Match) {
	for i, m := range matches {
		if m.Score < 0 {
			matches[i].Score = 0
		}
	}
}

func normalizeLexical(matches []lexical.Match) {
	var max float32
	for _, m := range matches {
		if m.Score > max {
			max = m.Score
		}
	}
	if max == 0 {
		return
	}
	for i := range matches {
		matches[i].Score = matches[i].Score / max
	}
}

type fusedResult struct {
	chunkID      domain.ChunkID
	filename     string
	excerpt      string
	highlights   []string
	denseScore   float32
	lexicalScore float32
	hasDense     bool
	hasLexical   bool
	fusedScore   float32
}

func fuse(dense []vectorindex.Match, lexicon []lexical.Match, opts Options) []fusedResult {
	byChunk := make(map[domain.ChunkID]*fusedResult)

	denseRank := make(map[domain.ChunkID]int, len(dense))
	for i, m := range dense {
		denseRank[m.ChunkID] = i + 1
		byChunk[m.ChunkID] = &fusedResult{chunkID: m.ChunkID, filename: m.Filename, denseScore: m.Score, hasDense: true}
	}

	lexicalRank := make(map[domain.ChunkID]int, len(lexicon))
	for i, m := range lexicon {
		lexicalRank[m.ChunkID] = i + 1
		if r, ok := byChunk[m.ChunkID]; ok {
			r.lexicalScore = m.Score
			r.hasLexical = true
			r.excerpt = m.Excerpt
			r.highlights = m.Highlights
			if r.filename == "" {
				r.filename = m.Filename
			}
		} else {
			byChunk[m.ChunkID] = &fusedResult{
				chunkID:      m.ChunkID,
				filename:     m.Filename,
				lexicalScore: m.Score,
				hasLexical:   true,
				excerpt:      m.Excerpt,
				highlights:   m.Highlights,
			}
		}
	}

	out := make([]fusedResult, 0, len(byChunk))
	for id, r := range byChunk {
		switch opts.Fusion {
		case FusionRRF:
			var score float32
			if rank, ok := denseRank[id]; ok {
				score += 1.0 / float32(rrfK+rank)
			}
			if rank, ok := lexicalRank[id]; ok {
				score += 1.0 / float32(rrfK+rank)
			}
			r.fusedScore = score
		default:
			r.fusedScore = opts.DenseWeight*r.denseScore + opts.LexicalWeight*r.lexicalScore
		}
		out = append(out, *r)
	}
	return out
}

// applyFilenameBoost multiplies fusedScore by 1.3 (clipped to 1.0) when
// the query's tokens intersect the chunk's filename tokens.
func applyFilenameBoost(results []fusedResult, question string) []fusedResult {
	queryTokens := tokenize(question)
	for i, r := range results {
		filenameTokens := tokenize(r.filename)
		if intersects(queryTokens, filenameTokens) {
			boosted := r.fusedScore * 1.3
			if boosted > 1.0 {
				boosted = 1.0
			}
			results[i].fusedScore = boosted
		}
	}
	return results
}

func tokenize(s string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, field := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		tokens[field] = struct{}{}
	}
	return tokens
}

func intersects(a, b map[string]struct{}) bool {
	for t := range a {
		if _, ok := b[t]; ok {
			return true
		}
	}
	return false
}
