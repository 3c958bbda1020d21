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

package docstore

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// OpenDSN selects a database/sql driver by the DSN's scheme, opens a pool
// tuned for that driver, and returns a migrated Store. This mirrors the
// DBPool pattern of picking lib/pq / go-sql-driver/mysql / mattn/go-sqlite3
// by URL scheme rather than requiring callers to import drivers themselves.
//
// Recognized schemes: "postgres"/"postgresql", "mysql", "sqlite"/"sqlite3"
// (including the special value ":memory:" for an in-process database).
func OpenDSN(dsn string) (*Store, error) {
	db, dialect, err := OpenPool(dsn)
	if err != nil {
		return nil, err
	}
	return Open(db, dialect)
}

// OpenPool opens a *sql.DB by DSN scheme without running docstore's
// migration, so internal/session and internal/analytics can share one
// connection pool with internal/docstore instead of opening their own.
func OpenPool(dsn string) (*sql.DB, string, error) {
	dialect, driverName, driverDSN, err := resolveDialect(dsn)
	if err != nil {
		return nil, "", err
	}

	db, err := sql.Open(driverName, driverDSN)
	if err != nil {
		return nil, "", fmt.Errorf("docstore: open %s: %w", driverName, err)
	}

	switch dialect {
	case "sqlite3":
		// SQLite does not tolerate concurrent writers across connections.
		db.SetMaxOpenConns(1)
	default:
		db.SetMaxOpenConns(16)
		db.SetMaxIdleConns(4)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	return db, dialect, nil
}

func resolveDialect(dsn string) (dialect, driverName, driverDSN string, err error) {
	if dsn == ":memory:" {
		return "sqlite3", "sqlite3", ":memory:?_journal_mode=WAL&cache=shared", nil
	}

	u, parseErr := url.Parse(dsn)
	if parseErr != nil || u.Scheme == "" {
		return "", "", "", fmt.Errorf("docstore: invalid dsn %q", dsn)
	}

	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		return "postgres", "postgres", dsn, nil
	case "mysql":
		return "mysql", "mysql", strings.TrimPrefix(dsn, "mysql://"), nil
	case "sqlite", "sqlite3", "file":
		path := u.Opaque
		if path == "" {
			// "sqlite://gateway.db" parses the file name as the host.
			path = u.Host + u.Path
		}
		return "sqlite3", "sqlite3", path + "?_journal_mode=WAL", nil
	default:
		return "", "", "", fmt.Errorf("docstore: unsupported dsn scheme %q", u.Scheme)
	}
}
