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

// Package lexical is the full-text inverted index, backed by Bleve, with
// BM25-style scoring, `«…»` highlight markers, and a capped excerpt per
// hit.
package lexical

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/analysis/lang/ru"
	_ "github.com/blevesearch/bleve/v2/config"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/ragline/gateway/internal/domain"
	"github.com/ragline/gateway/internal/errs"
)

const (
	excerptCapBytes  = 240
	highlightOpen    = "«"
	highlightClose   = "»"
	documentAnalyzer = "gateway_text"
)

// LexicalIndex is the interface the retrieval engine and ingestion
// pipeline depend on, satisfied by *Index.
type LexicalIndex interface {
	Upsert(ctx context.Context, chunk domain.Chunk) error
	Search(ctx context.Context, queryText, organizationID string, allowedFilenames []string, topK int) ([]Match, error)
	DeleteByDoc(ctx context.Context, docID, organizationID string) error
	Suggest(ctx context.Context, prefix, organizationID string) ([]string, error)
	Facets(ctx context.Context, organizationID string, fields []string) (map[string]map[string]int, error)
}

// indexedChunk is the document shape stored in Bleve: only the fields a
// lexical query needs to score and filter on.
type indexedChunk struct {
	Text           string `json:"text"`
	DisplayText    string `json:"display_text"`
	Filename       string `json:"filename"`
	OrganizationID string `json:"organization_id"`
	DocID          string `json:"doc_id"`
	ChunkIndex     int    `json:"chunk_index"`
}

// Index is a Bleve-backed lexical index.
type Index struct {
	mu    sync.RWMutex
	bleve bleve.Index
}

// Open creates an in-memory Bleve index if path is "", or opens/creates a
// persistent one otherwise.
func Open(path string) (*Index, error) {
	im, err := buildMapping()
	if err != nil {
		return nil, errs.Wrap(errs.IndexUnavailable, "build lexical index mapping", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(im)
	} else {
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, im)
		}
	}
	if err != nil {
		return nil, errs.Wrap(errs.IndexUnavailable, "open lexical index", err)
	}

	return &Index{bleve: idx}, nil
}

// buildMapping registers an analyzer combining URL removal, case-folding,
// punctuation removal, and English+Russian stopword elimination, using
// Bleve's built-in regexp char filter and en/ru token filters rather than
// hand-rolled equivalents.
func buildMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()

	// URLs are noise for term scoring; strip them before tokenization so
	// they never enter the index or the analyzed query.
	if err := im.AddCustomCharFilter("gateway_url_strip", map[string]interface{}{
		"type":    "regexp",
		"regexp":  `https?://\S+|www\.\S+`,
		"replace": " ",
	}); err != nil {
		return nil, fmt.Errorf("add url strip filter: %w", err)
	}

	if err := im.AddCustomTokenFilter("gateway_en_stop", map[string]interface{}{
		"type":           "stop_tokens",
		"stop_token_map": en.StopName,
	}); err != nil {
		return nil, fmt.Errorf("add english stop filter: %w", err)
	}
	if err := im.AddCustomTokenFilter("gateway_ru_stop", map[string]interface{}{
		"type":           "stop_tokens",
		"stop_token_map": ru.StopName,
	}); err != nil {
		return nil, fmt.Errorf("add russian stop filter: %w", err)
	}

	if err := im.AddCustomAnalyzer(documentAnalyzer, map[string]interface{}{
		"type":         "custom",
		"char_filters": []string{"gateway_url_strip"},
		"tokenizer":    "unicode",
		"token_filters": []string{
			"to_lower",
			"gateway_en_stop",
			"gateway_ru_stop",
		},
	}); err != nil {
		return nil, fmt.Errorf("add gateway analyzer: %w", err)
	}

	im.DefaultAnalyzer = documentAnalyzer

	chunkMapping := bleve.NewDocumentMapping()
	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = documentAnalyzer
	textField.IncludeTermVectors = true
	chunkMapping.AddFieldMappingsAt("text", textField)

	// Stored but not searched: excerpts render the original casing while
	// scoring runs against the normalized text field.
	displayField := bleve.NewTextFieldMapping()
	displayField.Index = false
	displayField.Store = true
	chunkMapping.AddFieldMappingsAt("display_text", displayField)

	keywordField := bleve.NewTextFieldMapping()
	keywordField.Analyzer = "keyword"
	chunkMapping.AddFieldMappingsAt("organization_id", keywordField)
	chunkMapping.AddFieldMappingsAt("filename", keywordField)
	chunkMapping.AddFieldMappingsAt("doc_id", keywordField)

	im.AddDocumentMapping("_default", chunkMapping)
	return im, nil
}

func docID(id domain.ChunkID) string {
	return fmt.Sprintf("%s:%d", id.DocID, id.ChunkIndex)
}

// Upsert writes or overwrites a chunk's lexical entry.
func (idx *Index) Upsert(ctx context.Context, chunk domain.Chunk) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	doc := indexedChunk{
		Text:           chunk.Text,
		DisplayText:    chunk.DisplayText,
		Filename:       chunk.Filename,
		OrganizationID: chunk.OrganizationID,
		DocID:          chunk.ID.DocID,
		ChunkIndex:     chunk.ID.ChunkIndex,
	}
	if err := idx.bleve.Index(docID(chunk.ID), doc); err != nil {
		return errs.Wrap(errs.IndexWriteFailed, "index chunk", err)
	}
	return nil
}

// Match is one lexical search hit.
type Match struct {
	ChunkID    domain.ChunkID
	Filename   string
	Score      float32
	Excerpt    string
	Highlights []string
}

// Search runs a BM25-scored query restricted to organizationID and,
// when allowedFilenames is non-nil, to that filename set, returning
// excerpts with «…» highlight markers capped at 240 bytes. The filename
// predicate is pushed into the query itself (a disjunction of
// per-filename term queries, conjoined with the text and organization_id
// queries) so top-k is computed over the filtered subset, not filtered
// after the fact.
func (idx *Index) Search(ctx context.Context, queryText, organizationID string, allowedFilenames []string, topK int) ([]Match, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if strings.TrimSpace(queryText) == "" {
		return nil, nil
	}
	if allowedFilenames != nil && len(allowedFilenames) == 0 {
		return nil, nil
	}

	textQuery := bleve.NewMatchQuery(queryText)
	textQuery.SetField("text")
	textQuery.Fuzziness = 0 // exact terms; single-token queries get AUTO-style fuzziness below
	if fuzziness := autoFuzziness(queryText); fuzziness > 0 {
		textQuery.Fuzziness = fuzziness
	}

	orgQuery := bleve.NewTermQuery(organizationID)
	orgQuery.SetField("organization_id")

	conjuncts := []query.Query{textQuery, orgQuery}
	if allowedFilenames != nil {
		conjuncts = append(conjuncts, filenameDisjunction(allowedFilenames))
	}
	conjunct := bleve.NewConjunctionQuery(conjuncts...)

	req := bleve.NewSearchRequest(conjunct)
	req.Size = topK
	req.IncludeLocations = true
	req.Fields = []string{"text", "display_text", "filename", "doc_id", "chunk_index"}

	result, err := idx.bleve.SearchInContext(ctx, req)
	if err != nil {
		return nil, errs.Wrap(errs.IndexUnavailable, "lexical search", err)
	}

	matches := make([]Match, 0, len(result.Hits))
	for _, hit := range result.Hits {
		text, _ := hit.Fields["text"].(string)
		if display, _ := hit.Fields["display_text"].(string); display != "" {
			text = display
		}
		docIDField, _ := hit.Fields["doc_id"].(string)
		filename, _ := hit.Fields["filename"].(string)
		chunkIndex := 0
		if v, ok := hit.Fields["chunk_index"].(float64); ok {
			chunkIndex = int(v)
		}

		highlights := matchedTerms(hit)
		matches = append(matches, Match{
			ChunkID:    domain.ChunkID{DocID: docIDField, ChunkIndex: chunkIndex},
			Filename:   filename,
			Score:      float32(hit.Score),
			Excerpt:    excerpt(text, highlights),
			Highlights: highlights,
		})
	}
	return matches, nil
}

// autoFuzziness applies an AUTO-style edit distance to single-token
// queries only: no fuzziness for very short terms, 1 edit for medium
// terms, 2 for long ones. Multi-token queries stay exact, where fuzzy
// matching on every term broadens results past what the caller asked for.
func autoFuzziness(queryText string) int {
	terms := strings.Fields(queryText)
	if len(terms) != 1 {
		return 0
	}
	switch l := len(terms[0]); {
	case l <= 2:
		return 0
	case l <= 5:
		return 1
	default:
		return 2
	}
}

// filenameDisjunction builds an OR query matching any of allowedFilenames
// on the filename keyword field, for conjoining into a Search query so
// the allow-list narrows the candidate set before scoring and top-k
// truncation rather than after.
func filenameDisjunction(allowedFilenames []string) query.Query {
	queries := make([]query.Query, 0, len(allowedFilenames))
	for _, name := range allowedFilenames {
		q := bleve.NewTermQuery(name)
		q.SetField("filename")
		queries = append(queries, q)
	}
	return bleve.NewDisjunctionQuery(queries...)
}

func matchedTerms(hit *search.DocumentMatch) []string {
	seen := make(map[string]struct{})
	for field, locations := range hit.Locations {
		if field != "text" {
			continue
		}
		for term := range locations {
			seen[term] = struct{}{}
		}
	}
	terms := make([]string, 0, len(seen))
	for term := range seen {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return terms
}

// excerpt wraps the first occurrence of each highlighted term in «…»
// markers and caps the result at excerptCapBytes.
func excerpt(text string, highlights []string) string {
	marked := text
	for _, term := range highlights {
		idx := strings.Index(strings.ToLower(marked), strings.ToLower(term))
		if idx < 0 {
			continue
		}
		marked = marked[:idx] + highlightOpen + marked[idx:idx+len(term)] + highlightClose + marked[idx+len(term):]
	}
	if len(marked) > excerptCapBytes {
		marked = marked[:excerptCapBytes]
	}
	return marked
}

// DeleteByDoc removes every chunk belonging to docID within organizationID.
func (idx *Index) DeleteByDoc(ctx context.Context, docIDValue, organizationID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	docQuery := bleve.NewTermQuery(docIDValue)
	docQuery.SetField("doc_id")
	orgQuery := bleve.NewTermQuery(organizationID)
	orgQuery.SetField("organization_id")
	conjunct := bleve.NewConjunctionQuery(docQuery, orgQuery)

	req := bleve.NewSearchRequest(conjunct)
	req.Size = 10000

	result, err := idx.bleve.Search(req)
	if err != nil {
		return errs.Wrap(errs.IndexUnavailable, "find document chunks", err)
	}

	batch := idx.bleve.NewBatch()
	for _, hit := range result.Hits {
		batch.Delete(hit.ID)
	}
	if err := idx.bleve.Batch(batch); err != nil {
		return errs.Wrap(errs.IndexWriteFailed, "delete document chunks", err)
	}
	return nil
}

// Suggest returns filenames beginning with prefix within organizationID,
// a best-effort autocomplete.
func (idx *Index) Suggest(ctx context.Context, prefix, organizationID string) ([]string, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	prefixQuery := bleve.NewPrefixQuery(strings.ToLower(prefix))
	prefixQuery.SetField("filename")
	orgQuery := bleve.NewTermQuery(organizationID)
	orgQuery.SetField("organization_id")
	conjunct := bleve.NewConjunctionQuery(prefixQuery, orgQuery)

	req := bleve.NewSearchRequest(conjunct)
	req.Size = 20
	req.Fields = []string{"filename"}

	result, err := idx.bleve.SearchInContext(ctx, req)
	if err != nil {
		return nil, errs.Wrap(errs.IndexUnavailable, "suggest", err)
	}

	seen := make(map[string]struct{})
	var out []string
	for _, hit := range result.Hits {
		name, _ := hit.Fields["filename"].(string)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out, nil
}

// Facets returns value counts for fields within organizationID.
func (idx *Index) Facets(ctx context.Context, organizationID string, fields []string) (map[string]map[string]int, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	orgQuery := bleve.NewTermQuery(organizationID)
	orgQuery.SetField("organization_id")

	req := bleve.NewSearchRequest(orgQuery)
	req.Size = 0
	for _, field := range fields {
		req.AddFacet(field, bleve.NewFacetRequest(field, 50))
	}

	result, err := idx.bleve.SearchInContext(ctx, req)
	if err != nil {
		return nil, errs.Wrap(errs.IndexUnavailable, "facets", err)
	}

	out := make(map[string]map[string]int, len(fields))
	for _, field := range fields {
		facetResult, ok := result.Facets[field]
		if !ok {
			continue
		}
		values := make(map[string]int, len(facetResult.Terms.Terms()))
		for _, term := range facetResult.Terms.Terms() {
			values[term.Term] = term.Count
		}
		out[field] = values
	}
	return out, nil
}

// Close releases the underlying Bleve index.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.bleve.Close()
}

var _ LexicalIndex = (*Index)(nil)
