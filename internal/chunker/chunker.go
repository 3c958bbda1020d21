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

// Package chunker splits a document's text into overlapping,
// offset-tracked chunks. Strategy selection dispatches on file type and
// size: sentence-aware splitting for structured markup and short text,
// token windows for everything else.
package chunker

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// TargetTokens is the default chunk size target.
	TargetTokens = 512
	// OverlapTokens is the default overlap for the token-window strategy
	// (25% of TargetTokens).
	OverlapTokens = 128
	// MaxChunkTokens is the per-chunk cap of the token-window strategy,
	// which never adds a word that would push a chunk past it. No strategy
	// splits inside a sentence or a word: a single sentence (sentence
	// strategies) or a single whitespace-free word (token windows) longer
	// than the cap is emitted as one piece that exceeds it.
	MaxChunkTokens = 1024
	// ShortTextBytes is the threshold below which a document is chunked
	// with the sentence splitter only, without further subdivision.
	ShortTextBytes = 2000
)

// Piece is one chunk of a document before domain identifiers are attached.
type Piece struct {
	Text       string
	Start      int // byte offset into the original text
	End        int // byte offset, exclusive
	TokenCount int
}

// Chunker splits document text into ordered, offset-tracked pieces.
type Chunker interface {
	Chunk(text, fileType string) ([]Piece, error)
}

// TokenCounter counts tokens in text using a fixed, stable tokenizer, so
// chunk boundaries never drift across process restarts.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter loads the cl100k_base encoding, the encoding family
// tiktoken-go ships for modern chat models.
func NewTokenCounter() (*TokenCounter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, err
	}
	return &TokenCounter{enc: enc}, nil
}

func (c *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

// structuredFileTypes get the sentence-aware splitter regardless of size.
var structuredFileTypes = map[string]struct{}{
	"html":     {},
	"htm":      {},
	"md":       {},
	"markdown": {},
}

// New returns the dispatching Chunker used by the ingestion pipeline.
func New(counter *TokenCounter) Chunker {
	return &dispatchChunker{
		counter:   counter,
		sentence:  &sentenceChunker{counter: counter},
		tokenized: &tokenWindowChunker{counter: counter},
	}
}

type dispatchChunker struct {
	counter   *TokenCounter
	sentence  *sentenceChunker
	tokenized *tokenWindowChunker
}

func (d *dispatchChunker) Chunk(text, fileType string) ([]Piece, error) {
	ft := strings.ToLower(strings.TrimPrefix(fileType, "."))

	if _, structured := structuredFileTypes[ft]; structured {
		return d.sentence.chunkWithSubdivision(text, TargetTokens, 1)
	}
	if len(text) < ShortTextBytes {
		return d.sentence.chunkNoSubdivision(text)
	}
	return d.tokenized.chunk(text, TargetTokens, OverlapTokens)
}
