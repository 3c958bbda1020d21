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

package permission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragline/gateway/internal/errs"
)

func TestResolveAdminGetsAllowAll(t *testing.T) {
	view, err := Resolve(Identity{UserID: "u1", Role: "admin", OrganizationID: "org-a"})
	require.NoError(t, err)
	assert.True(t, view.AllowAll)
	assert.Equal(t, "org-a", view.OrganizationID)
}

func TestResolveOwnerGetsAllowAll(t *testing.T) {
	view, err := Resolve(Identity{UserID: "u1", Role: "owner", OrganizationID: "org-a"})
	require.NoError(t, err)
	assert.True(t, view.AllowAll)
}

func TestResolveAllSentinelGetsAllowAll(t *testing.T) {
	view, err := Resolve(Identity{UserID: "u1", Role: "member", OrganizationID: "org-a", AllowedFiles: []string{"all"}})
	require.NoError(t, err)
	assert.True(t, view.AllowAll)
}

func TestResolveMemberGetsAllowList(t *testing.T) {
	view, err := Resolve(Identity{
		UserID:         "u1",
		Role:           "member",
		OrganizationID: "org-a",
		AllowedFiles:   []string{"a.txt", "b.txt"},
	})
	require.NoError(t, err)
	assert.False(t, view.AllowAll)
	assert.True(t, view.Allows("a.txt"))
	assert.False(t, view.Allows("c.txt"))
}

func TestResolveMissingOrganizationFails(t *testing.T) {
	_, err := Resolve(Identity{UserID: "u1", Role: "member"})
	require.Error(t, err)
	assert.Equal(t, errs.OrganizationRequired, errs.KindOf(err))
}

func TestCheckOrganizationMismatchReturnsNotFound(t *testing.T) {
	view, err := Resolve(Identity{UserID: "u1", Role: "member", OrganizationID: "org-a"})
	require.NoError(t, err)

	err = CheckOrganization(context.Background(), view, "org-b", "doc-1")
	require.Error(t, err)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestCheckOrganizationMatchPasses(t *testing.T) {
	view, err := Resolve(Identity{UserID: "u1", Role: "member", OrganizationID: "org-a"})
	require.NoError(t, err)

	assert.NoError(t, CheckOrganization(context.Background(), view, "org-a", "doc-1"))
}
