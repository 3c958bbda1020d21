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

package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragline/gateway/internal/docstore"
	"github.com/ragline/gateway/internal/errs"
)

func newTestGate(t *testing.T, ttl time.Duration) *Gate {
	t.Helper()
	db, dialect, err := docstore.OpenPool(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	g, err := Open(db, dialect, ttl)
	require.NoError(t, err)
	return g
}

func TestAuthenticateThenResolveReturnsIdentity(t *testing.T) {
	ctx := context.Background()
	g := newTestGate(t, time.Hour)

	sess, err := g.Authenticate(ctx, Credential{UserID: "u1", Role: "member", OrganizationID: "org-a", AllowedFiles: []string{"a.txt"}})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Token)

	identity, err := g.Resolve(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.Token, identity.SessionID)
	assert.Equal(t, "u1", identity.UserID)
	assert.Equal(t, "org-a", identity.OrganizationID)
	assert.Equal(t, []string{"a.txt"}, identity.AllowedFiles)
}

func TestResolveUnknownTokenFails(t *testing.T) {
	ctx := context.Background()
	g := newTestGate(t, time.Hour)

	_, err := g.Resolve(ctx, "not-a-real-token")
	require.Error(t, err)
	assert.Equal(t, errs.Unauthenticated, errs.KindOf(err))
}

func TestResolveExpiredSessionFails(t *testing.T) {
	ctx := context.Background()
	g := newTestGate(t, -time.Minute)

	sess, err := g.Authenticate(ctx, Credential{UserID: "u1", Role: "member", OrganizationID: "org-a"})
	require.NoError(t, err)

	_, err = g.Resolve(ctx, sess.Token)
	require.Error(t, err)
	assert.Equal(t, errs.Unauthenticated, errs.KindOf(err))
}

func TestLogoutInvalidatesSession(t *testing.T) {
	ctx := context.Background()
	g := newTestGate(t, time.Hour)

	sess, err := g.Authenticate(ctx, Credential{UserID: "u1", Role: "member", OrganizationID: "org-a"})
	require.NoError(t, err)

	require.NoError(t, g.Logout(ctx, sess.Token))

	_, err = g.Resolve(ctx, sess.Token)
	require.Error(t, err)
	assert.Equal(t, errs.Unauthenticated, errs.KindOf(err))
}

func TestLogoutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	g := newTestGate(t, time.Hour)

	require.NoError(t, g.Logout(ctx, "never-issued"))
	require.NoError(t, g.Logout(ctx, "never-issued"))
}
