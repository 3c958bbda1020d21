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

// Package session is the session/auth gate: a SQL-backed opaque-token
// store with sliding activity and absolute expiry.
//
// User registration and password verification live with an external
// identity provider; Authenticate takes an already-verified Credential,
// it does not check a password itself.
package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/ragline/gateway/internal/errs"
	"github.com/ragline/gateway/internal/permission"
)

// DefaultTTL is the absolute session lifetime from creation.
const DefaultTTL = 24 * time.Hour

// tokenBytes gives well over 128 bits of entropy; 32 random bytes
// base64url-encode to a 43-character opaque token.
const tokenBytes = 32

// Credential is an already-authenticated identity handed to Authenticate;
// the gate does not itself verify passwords.
type Credential struct {
	UserID         string
	Role           string
	OrganizationID string
	AllowedFiles   []string
}

// Session is the record returned by Authenticate.
type Session struct {
	Token          string
	UserID         string
	Role           string
	OrganizationID string
	ExpiresAt      time.Time
}

// Gate is the session/auth gate.
type Gate struct {
	db      *sql.DB
	dialect string
	ttl     time.Duration
}

// Open wraps an existing *sql.DB (shared with internal/docstore's pool)
// and ensures the sessions table exists. ttl == 0 selects DefaultTTL; a
// negative ttl issues sessions that are already expired.
func Open(db *sql.DB, dialect string, ttl time.Duration) (*Gate, error) {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	g := &Gate{db: db, dialect: dialect, ttl: ttl}
	if err := g.migrate(context.Background()); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Gate) migrate(ctx context.Context) error {
	var ddl string
	switch g.dialect {
	case "postgres":
		ddl = `CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			organization_id TEXT NOT NULL,
			allowed_files TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			last_activity TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`
	case "mysql":
		ddl = `CREATE TABLE IF NOT EXISTS sessions (
			session_id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			role VARCHAR(64) NOT NULL,
			organization_id VARCHAR(255) NOT NULL,
			allowed_files TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			last_activity DATETIME NOT NULL,
			expires_at DATETIME NOT NULL
		)`
	default: // sqlite3
		ddl = `CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			organization_id TEXT NOT NULL,
			allowed_files TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			last_activity TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL
		)`
	}
	_, err := g.db.ExecContext(ctx, ddl)
	return err
}

func (g *Gate) placeholder(n int) string {
	if g.dialect == "postgres" {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// newToken generates an opaque, unguessable session identifier.
func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", errs.Wrap(errs.Internal, "generate session token", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Authenticate creates a new session for an already-verified credential.
func (g *Gate) Authenticate(ctx context.Context, cred Credential) (Session, error) {
	if cred.UserID == "" {
		return Session{}, errs.New(errs.Unauthenticated, "invalid credential")
	}
	token, err := newToken()
	if err != nil {
		return Session{}, err
	}

	allowed, err := json.Marshal(cred.AllowedFiles)
	if err != nil {
		return Session{}, errs.Wrap(errs.Internal, "encode allowed files", err)
	}

	now := time.Now().UTC()
	expiresAt := now.Add(g.ttl)

	query := `INSERT INTO sessions (session_id, user_id, role, organization_id, allowed_files, created_at, last_activity, expires_at)
		VALUES (` + g.placeholder(1) + `, ` + g.placeholder(2) + `, ` + g.placeholder(3) + `, ` + g.placeholder(4) + `, ` + g.placeholder(5) + `, ` + g.placeholder(6) + `, ` + g.placeholder(7) + `, ` + g.placeholder(8) + `)`
	_, err = g.db.ExecContext(ctx, query, token, cred.UserID, cred.Role, cred.OrganizationID, string(allowed), now, now, expiresAt)
	if err != nil {
		return Session{}, errs.Wrap(errs.Internal, "persist session", err)
	}

	return Session{Token: token, UserID: cred.UserID, Role: cred.Role, OrganizationID: cred.OrganizationID, ExpiresAt: expiresAt}, nil
}

// Resolve validates token and returns the identity it carries, sliding
// last_activity forward. Expired sessions are deleted on access and
// rejected.
func (g *Gate) Resolve(ctx context.Context, token string) (permission.Identity, error) {
	if !validTokenShape(token) {
		return permission.Identity{}, errs.New(errs.Unauthenticated, "invalid session")
	}

	row := g.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, role, organization_id, allowed_files, expires_at FROM sessions WHERE session_id = `+g.placeholder(1),
		token)

	var storedToken, userID, role, organizationID, allowedJSON string
	var expiresAt time.Time
	if err := row.Scan(&storedToken, &userID, &role, &organizationID, &allowedJSON, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return permission.Identity{}, errs.New(errs.Unauthenticated, "invalid session")
		}
		return permission.Identity{}, errs.Wrap(errs.Internal, "look up session", err)
	}

	if subtle.ConstantTimeCompare([]byte(storedToken), []byte(token)) != 1 {
		return permission.Identity{}, errs.New(errs.Unauthenticated, "invalid session")
	}

	if time.Now().UTC().After(expiresAt) {
		_, _ = g.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = `+g.placeholder(1), token)
		return permission.Identity{}, errs.New(errs.Unauthenticated, "session expired")
	}

	var allowedFiles []string
	if err := json.Unmarshal([]byte(allowedJSON), &allowedFiles); err != nil {
		return permission.Identity{}, errs.Wrap(errs.Internal, "decode allowed files", err)
	}

	now := time.Now().UTC()
	_, _ = g.db.ExecContext(ctx, `UPDATE sessions SET last_activity = `+g.placeholder(1)+` WHERE session_id = `+g.placeholder(2), now, token)

	return permission.Identity{SessionID: storedToken, UserID: userID, Role: role, OrganizationID: organizationID, AllowedFiles: allowedFiles}, nil
}

// Logout deletes token's session. Deleting an already-absent session
// succeeds.
func (g *Gate) Logout(ctx context.Context, token string) error {
	_, err := g.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = `+g.placeholder(1), token)
	if err != nil {
		return errs.Wrap(errs.Internal, "delete session", err)
	}
	return nil
}

func validTokenShape(token string) bool {
	return token != "" && !strings.ContainsAny(token, " \t\n")
}
