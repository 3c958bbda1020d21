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

// Package docstore is the relational store of document bytes and
// metadata, keyed by doc_id and tagged with organization_id.
package docstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ragline/gateway/internal/domain"
	"github.com/ragline/gateway/internal/errs"
)

// Store is the document store. Every method that accepts organizationID
// filters by it; no method reads or writes document content without an
// organization scope, by construction. The Owner* classifiers are the one
// deliberate exception: they return only the owning organization of a
// name, so callers can log a cross-tenant probe when a scoped lookup
// misses a document that does exist elsewhere.
type Store struct {
	db      *sql.DB
	dialect string
}

// Open creates the documents table (if absent) and returns a Store backed
// by db. dialect selects placeholder syntax ("postgres", "mysql", "sqlite3").
func Open(db *sql.DB, dialect string) (*Store, error) {
	s := &Store{db: db, dialect: dialect}
	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("docstore: migrate: %w", err)
	}
	return s, nil
}

// Ping verifies the underlying connection pool is reachable, for
// readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	var ddl string
	switch s.dialect {
	case "postgres":
		ddl = `CREATE TABLE IF NOT EXISTS documents (
			doc_id TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			content BYTEA NOT NULL,
			file_type TEXT NOT NULL,
			checksum TEXT NOT NULL,
			organization_id TEXT NOT NULL,
			uploaded_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_documents_org_filename ON documents (organization_id, filename);`
	case "mysql":
		ddl = `CREATE TABLE IF NOT EXISTS documents (
			doc_id VARCHAR(64) PRIMARY KEY,
			filename TEXT NOT NULL,
			content LONGBLOB NOT NULL,
			file_type VARCHAR(32) NOT NULL,
			checksum VARCHAR(64) NOT NULL,
			organization_id VARCHAR(128) NOT NULL,
			uploaded_at DATETIME NOT NULL,
			INDEX idx_documents_org_filename (organization_id, filename(191))
		);`
	default: // sqlite3
		ddl = `CREATE TABLE IF NOT EXISTS documents (
			doc_id TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			content BLOB NOT NULL,
			file_type TEXT NOT NULL,
			checksum TEXT NOT NULL,
			organization_id TEXT NOT NULL,
			uploaded_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_documents_org_filename ON documents (organization_id, filename);`
	}
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) placeholder(n int) string {
	if s.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Insert persists a new document and returns its generated doc_id.
func (s *Store) Insert(ctx context.Context, filename string, content []byte, fileType, organizationID string) (string, error) {
	docID := uuid.NewString()
	sum := sha256.Sum256(content)
	checksum := hex.EncodeToString(sum[:])

	query := fmt.Sprintf(
		"INSERT INTO documents (doc_id, filename, content, file_type, checksum, organization_id, uploaded_at) VALUES (%s,%s,%s,%s,%s,%s,%s)",
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4), s.placeholder(5), s.placeholder(6), s.placeholder(7))

	_, err := s.db.ExecContext(ctx, query, docID, filename, content, fileType, checksum, organizationID, time.Now().UTC())
	if err != nil {
		return "", errs.Wrap(errs.Internal, "insert document", err)
	}
	return docID, nil
}

// Get returns a document's bytes and metadata, scoped to organizationID.
func (s *Store) Get(ctx context.Context, docID, organizationID string) (domain.Document, error) {
	query := fmt.Sprintf("SELECT doc_id, filename, content, file_type, checksum, organization_id, uploaded_at FROM documents WHERE doc_id = %s AND organization_id = %s",
		s.placeholder(1), s.placeholder(2))
	return s.scanOne(ctx, query, docID, organizationID)
}

// GetByFilename returns a document by its filename within an organization.
func (s *Store) GetByFilename(ctx context.Context, filename, organizationID string) (domain.Document, error) {
	query := fmt.Sprintf("SELECT doc_id, filename, content, file_type, checksum, organization_id, uploaded_at FROM documents WHERE filename = %s AND organization_id = %s",
		s.placeholder(1), s.placeholder(2))
	return s.scanOne(ctx, query, filename, organizationID)
}

func (s *Store) scanOne(ctx context.Context, query string, args ...any) (domain.Document, error) {
	row := s.db.QueryRowContext(ctx, query, args...)
	var d domain.Document
	err := row.Scan(&d.DocID, &d.Filename, &d.Content, &d.FileType, &d.Checksum, &d.OrganizationID, &d.UploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Document{}, errs.New(errs.NotFound, "document not found")
	}
	if err != nil {
		return domain.Document{}, errs.Wrap(errs.Internal, "scan document", err)
	}
	return d, nil
}

// OwnerByFilename reports which organization owns a document named
// filename, if any. It returns no document content.
func (s *Store) OwnerByFilename(ctx context.Context, filename string) (string, error) {
	return s.scanOwner(ctx, "filename", filename)
}

// OwnerByDocID reports which organization owns docID, if any. It returns
// no document content.
func (s *Store) OwnerByDocID(ctx context.Context, docID string) (string, error) {
	return s.scanOwner(ctx, "doc_id", docID)
}

func (s *Store) scanOwner(ctx context.Context, column, value string) (string, error) {
	query := fmt.Sprintf("SELECT organization_id FROM documents WHERE %s = %s LIMIT 1",
		column, s.placeholder(1))
	var organizationID string
	err := s.db.QueryRowContext(ctx, query, value).Scan(&organizationID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errs.New(errs.NotFound, "document not found")
	}
	if err != nil {
		return "", errs.Wrap(errs.Internal, "scan document owner", err)
	}
	return organizationID, nil
}

// List returns metadata for every document in organizationID, optionally
// filtered by filename prefix.
func (s *Store) List(ctx context.Context, organizationID, filenamePrefix string) ([]domain.DocumentMetadata, error) {
	query := fmt.Sprintf("SELECT doc_id, filename, file_type, checksum, organization_id, uploaded_at FROM documents WHERE organization_id = %s",
		s.placeholder(1))
	args := []any{organizationID}
	if filenamePrefix != "" {
		query += fmt.Sprintf(" AND filename LIKE %s", s.placeholder(2))
		args = append(args, filenamePrefix+"%")
	}
	query += " ORDER BY uploaded_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "list documents", err)
	}
	defer rows.Close()

	var out []domain.DocumentMetadata
	for rows.Next() {
		var m domain.DocumentMetadata
		if err := rows.Scan(&m.DocID, &m.Filename, &m.FileType, &m.Checksum, &m.OrganizationID, &m.UploadedAt); err != nil {
			return nil, errs.Wrap(errs.Internal, "scan document metadata", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Delete removes a document, scoped to organizationID. Idempotent: a
// second call returns deletedCount=0 rather than an error.
func (s *Store) Delete(ctx context.Context, docID, organizationID string) (int, error) {
	query := fmt.Sprintf("DELETE FROM documents WHERE doc_id = %s AND organization_id = %s",
		s.placeholder(1), s.placeholder(2))
	result, err := s.db.ExecContext(ctx, query, docID, organizationID)
	if err != nil {
		return 0, errs.Wrap(errs.Internal, "delete document", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errs.Wrap(errs.Internal, "delete document: rows affected", err)
	}
	return int(affected), nil
}
