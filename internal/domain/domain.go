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

// Package domain holds the shared data model of the RAG gateway: documents,
// chunks, permission views, search results and query events. It has no
// dependencies on any other internal package so every component can import
// it without creating cycles.
package domain

import "time"

// Document is one uploaded file, immutable once created.
type Document struct {
	DocID          string
	Filename       string
	Content        []byte
	FileType       string
	OrganizationID string
	UploadedAt     time.Time
	// Checksum is the hex SHA-256 of Content, computed on insert and
	// returned with the document's metadata.
	Checksum string
}

// DocumentMetadata is a Document without its body, returned by listings.
type DocumentMetadata struct {
	DocID          string
	Filename       string
	FileType       string
	OrganizationID string
	UploadedAt     time.Time
	Checksum       string
}

func (d Document) Metadata() DocumentMetadata {
	return DocumentMetadata{
		DocID:          d.DocID,
		Filename:       d.Filename,
		FileType:       d.FileType,
		OrganizationID: d.OrganizationID,
		UploadedAt:     d.UploadedAt,
		Checksum:       d.Checksum,
	}
}

// ChunkID identifies a chunk within its parent document.
type ChunkID struct {
	DocID      string
	ChunkIndex int
}

// Chunk is one retrievable fragment of a Document.
type Chunk struct {
	ID             ChunkID
	Text           string // normalized (lowercased) for lexical analysis
	DisplayText    string // original casing, for excerpts/UI
	ChunkStart     int
	ChunkEnd       int
	TokenCount     int
	Embedding      []float32 // L2-normalized
	Filename       string
	OrganizationID string
	// Language is a language tag for the chunk. The chunker does not set
	// it and the lexical index does not read it: every chunk goes through
	// the same analyzer with both the English and Russian stopword lists.
	Language string
}

// PermissionView is a per-request snapshot of a user's organization and
// file allow-list, computed by the permission resolver.
type PermissionView struct {
	OrganizationID   string
	AllowAll         bool
	AllowedFilenames map[string]struct{}
}

// Allows reports whether the view permits access to filename.
func (v PermissionView) Allows(filename string) bool {
	if v.AllowAll {
		return true
	}
	_, ok := v.AllowedFilenames[filename]
	return ok
}

// SearchResult is one retrieved chunk after fusion.
type SearchResult struct {
	ChunkID         ChunkID
	Filename        string
	OrganizationID  string
	TextExcerpt     string
	Highlights      []string
	DenseScore      *float32
	LexicalScore    *float32
	FusedScore      float32
	FullFileContent []byte
}

// QueryEvent is emitted once per completed query for the analytics sink.
type QueryEvent struct {
	QueryID        string
	SessionID      string
	UserID         string
	OrganizationID string
	Question       string
	AnswerLength   int
	ResponseTimeMs int64
	SourceChunkIDs []ChunkID
	Humanized      bool
	Success        bool
	ErrorKind      string
}
