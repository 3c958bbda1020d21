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

// Package permission is a pure resolver mapping an authenticated identity
// to a domain.PermissionView. It has no I/O of its own and never calls
// out to the session gate, so it stays trivially unit-testable.
package permission

import (
	"context"

	"github.com/ragline/gateway/internal/domain"
	"github.com/ragline/gateway/internal/errs"
	"github.com/ragline/gateway/internal/observability"
)

const allowAllSentinel = "all"

var elevatedRoles = map[string]struct{}{
	"admin": {},
	"owner": {},
}

// Identity is the authenticated user tuple a session carries.
type Identity struct {
	SessionID      string
	UserID         string
	Role           string
	OrganizationID string
	AllowedFiles   []string
}

// Resolve computes the PermissionView for identity. It fails with
// OrganizationRequired if identity has no organization.
func Resolve(identity Identity) (domain.PermissionView, error) {
	if identity.OrganizationID == "" {
		return domain.PermissionView{}, errs.New(errs.OrganizationRequired, "identity has no organization")
	}

	if hasElevatedRole(identity.Role) || hasAllowAllSentinel(identity.AllowedFiles) {
		return domain.PermissionView{
			OrganizationID: identity.OrganizationID,
			AllowAll:       true,
		}, nil
	}

	allowed := make(map[string]struct{}, len(identity.AllowedFiles))
	for _, filename := range identity.AllowedFiles {
		allowed[filename] = struct{}{}
	}

	return domain.PermissionView{
		OrganizationID:   identity.OrganizationID,
		AllowAll:         false,
		AllowedFilenames: allowed,
	}, nil
}

func hasElevatedRole(role string) bool {
	_, ok := elevatedRoles[role]
	return ok
}

// IsAdmin reports whether role may call admin-only endpoints (upload,
// delete, reindex). Shares the elevated-role set that also grants
// AllowAll views.
func IsAdmin(role string) bool {
	return hasElevatedRole(role)
}

func hasAllowAllSentinel(files []string) bool {
	for _, f := range files {
		if f == allowAllSentinel {
			return true
		}
	}
	return false
}

// CheckOrganization verifies that view belongs to organizationID, logging
// a security event and returning NotFound (never a Forbidden-style error)
// on mismatch, so a cross-tenant probe cannot distinguish "exists in
// another org" from "does not exist".
func CheckOrganization(ctx context.Context, view domain.PermissionView, organizationID string, resource string) error {
	if view.OrganizationID == organizationID {
		return nil
	}
	observability.LogSecurityEvent(ctx, "cross_organization_access_attempt", map[string]any{
		"resource_organization_id": organizationID,
		"caller_organization_id":   view.OrganizationID,
		"resource":                 resource,
	})
	return errs.New(errs.NotFound, "resource not found")
}
