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

// Package analytics is the orchestrator's QueryEvent sink: a SQL-backed
// recorder of completed queries, reusing internal/docstore's connection
// pool rather than opening its own. It depends on orchestrator only for
// the AnalyticsSink interface it implements; orchestrator never imports
// analytics back.
package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"github.com/ragline/gateway/internal/domain"
	"github.com/ragline/gateway/internal/observability"
	"github.com/ragline/gateway/internal/orchestrator"
)

// SQLSink persists every QueryEvent to a query_events table,
// fire-and-forget from the orchestrator's point of view: Record never
// returns an error, it logs and swallows one instead.
type SQLSink struct {
	db      *sql.DB
	dialect string
}

// Open wraps an existing *sql.DB (shared with internal/docstore's pool)
// and ensures the query_events table exists.
func Open(db *sql.DB, dialect string) (*SQLSink, error) {
	s := &SQLSink{db: db, dialect: dialect}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLSink) migrate(ctx context.Context) error {
	var ddl string
	switch s.dialect {
	case "postgres":
		ddl = `CREATE TABLE IF NOT EXISTS query_events (
			query_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			organization_id TEXT NOT NULL,
			question TEXT NOT NULL,
			answer_length INTEGER NOT NULL,
			response_time_ms BIGINT NOT NULL,
			source_chunk_ids TEXT NOT NULL,
			humanized BOOLEAN NOT NULL,
			success BOOLEAN NOT NULL,
			error_kind TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`
	case "mysql":
		ddl = `CREATE TABLE IF NOT EXISTS query_events (
			query_id VARCHAR(64) PRIMARY KEY,
			session_id VARCHAR(64) NOT NULL,
			user_id VARCHAR(255) NOT NULL,
			organization_id VARCHAR(255) NOT NULL,
			question TEXT NOT NULL,
			answer_length INTEGER NOT NULL,
			response_time_ms BIGINT NOT NULL,
			source_chunk_ids TEXT NOT NULL,
			humanized BOOLEAN NOT NULL,
			success BOOLEAN NOT NULL,
			error_kind VARCHAR(64) NOT NULL,
			created_at DATETIME NOT NULL
		)`
	default: // sqlite3
		ddl = `CREATE TABLE IF NOT EXISTS query_events (
			query_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			organization_id TEXT NOT NULL,
			question TEXT NOT NULL,
			answer_length INTEGER NOT NULL,
			response_time_ms INTEGER NOT NULL,
			source_chunk_ids TEXT NOT NULL,
			humanized INTEGER NOT NULL,
			success INTEGER NOT NULL,
			error_kind TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`
	}
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *SQLSink) placeholder(n int) string {
	if s.dialect == "postgres" {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

type chunkRef struct {
	DocID      string `json:"doc_id"`
	ChunkIndex int    `json:"chunk_index"`
}

// Record persists event. Errors are logged, never returned, so a slow or
// unavailable analytics store can never fail the request it describes.
func (s *SQLSink) Record(ctx context.Context, event domain.QueryEvent) {
	refs := make([]chunkRef, len(event.SourceChunkIDs))
	for i, id := range event.SourceChunkIDs {
		refs[i] = chunkRef{DocID: id.DocID, ChunkIndex: id.ChunkIndex}
	}
	sourceJSON, err := json.Marshal(refs)
	if err != nil {
		observability.Logger().ErrorContext(ctx, "encode query event source chunks", "error", err)
		return
	}

	query := `INSERT INTO query_events
		(query_id, session_id, user_id, organization_id, question, answer_length, response_time_ms, source_chunk_ids, humanized, success, error_kind, created_at)
		VALUES (` + s.placeholder(1) + `, ` + s.placeholder(2) + `, ` + s.placeholder(3) + `, ` + s.placeholder(4) + `, ` + s.placeholder(5) + `, ` + s.placeholder(6) + `, ` +
		s.placeholder(7) + `, ` + s.placeholder(8) + `, ` + s.placeholder(9) + `, ` + s.placeholder(10) + `, ` + s.placeholder(11) + `, ` + s.placeholder(12) + `)`

	_, err = s.db.ExecContext(ctx, query,
		event.QueryID, event.SessionID, event.UserID, event.OrganizationID, event.Question, event.AnswerLength, event.ResponseTimeMs,
		string(sourceJSON), event.Humanized, event.Success, event.ErrorKind, time.Now().UTC())
	if err != nil {
		observability.Logger().ErrorContext(ctx, "persist query event", "error", err, "query_id", event.QueryID)
	}
}

var _ orchestrator.AnalyticsSink = (*SQLSink)(nil)
