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

package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ragline/gateway/internal/domain"
	"github.com/ragline/gateway/internal/errs"
	"github.com/ragline/gateway/internal/orchestrator"
	"github.com/ragline/gateway/internal/permission"
	"github.com/ragline/gateway/internal/session"
)

type identityContextKey struct{}

func identityFromContext(ctx context.Context) permission.Identity {
	id, _ := ctx.Value(identityContextKey{}).(permission.Identity)
	return id
}

// bearerOrQueryToken extracts a session token from the Authorization
// header ("Bearer <token>") or, failing that, a token query parameter,
// the same rule the WebSocket endpoint uses, applied uniformly to the
// REST surface too.
func bearerOrQueryToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// requireSession resolves the caller's session and stores the identity in
// the request context; it fails closed with
// Unauthenticated/OrganizationRequired.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.sessions.Resolve(r.Context(), bearerOrQueryToken(r))
		if err != nil {
			writeError(w, err)
			return
		}
		if identity.OrganizationID == "" {
			writeError(w, errs.New(errs.OrganizationRequired, "session lacks organization context"))
			return
		}
		ctx := context.WithValue(r.Context(), identityContextKey{}, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin gates write endpoints to admin/owner roles.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := identityFromContext(r.Context())
		if !permission.IsAdmin(identity.Role) {
			writeError(w, errs.New(errs.PermissionDenied, "admin role required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	if err := s.docs.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		promhttp.Handler().ServeHTTP(w, r)
		return
	}
	s.metrics.Handler().ServeHTTP(w, r)
}

type loginRequest struct {
	Username       string `json:"username"`
	Password       string `json:"password"`
	Role           string `json:"role"`
	OrganizationID string `json:"organization_id"`
}

// handleLogin authenticates an already-verified credential and opens a
// session. Password verification belongs to an external identity
// provider; this handler trusts the request body as a pre-verified
// credential, the shape a front door or SSO proxy would hand it after
// verifying the password itself.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Wrap(errs.InvalidInput, "decode login request", err))
		return
	}
	if req.Username == "" {
		writeError(w, errs.New(errs.InvalidInput, "username is required"))
		return
	}

	sess, err := s.sessions.Authenticate(r.Context(), session.Credential{
		UserID:         req.Username,
		Role:           req.Role,
		OrganizationID: req.OrganizationID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": sess.Token, "role": sess.Role})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Logout(r.Context(), bearerOrQueryToken(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleUpload ingests one document from a multipart file field.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, errs.Wrap(errs.InvalidInput, "read multipart file field", err))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, errs.Wrap(errs.InvalidInput, "read uploaded file", err))
		return
	}

	docID, err := s.pipeline.Ingest(r.Context(), header.Filename, content, fileTypeOf(header.Filename), identity.OrganizationID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"doc_id": docID})
}

func (s *Server) handleFilesList(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	docs, err := s.docs.List(r.Context(), identity.OrganizationID, r.URL.Query().Get("prefix"))
	if err != nil {
		writeError(w, err)
		return
	}

	view, err := permission.Resolve(identity)
	if err != nil {
		writeError(w, err)
		return
	}
	visible := make([]interface{}, 0, len(docs))
	for _, d := range docs {
		if !view.Allows(d.Filename) {
			continue
		}
		visible = append(visible, map[string]any{
			"doc_id":      d.DocID,
			"filename":    d.Filename,
			"file_type":   d.FileType,
			"uploaded_at": d.UploadedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": visible})
}

func (s *Server) handleFilesContent(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	filename := chi.URLParam(r, "filename")

	view, err := permission.Resolve(identity)
	if err != nil {
		writeError(w, err)
		return
	}
	if !view.Allows(filename) {
		writeError(w, errs.New(errs.NotFound, "document not found"))
		return
	}

	doc, err := s.docs.GetByFilename(r.Context(), filename, identity.OrganizationID)
	if err != nil {
		writeError(w, s.classifyFilenameMiss(r.Context(), identity, filename, err))
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Content)
}

// classifyFilenameMiss upgrades a NotFound from an organization-scoped
// lookup into a logged security event when the named document exists
// under another organization. Either way the caller surfaces NotFound, so
// a cross-tenant probe is indistinguishable from an absent file.
func (s *Server) classifyFilenameMiss(ctx context.Context, identity permission.Identity, filename string, err error) error {
	if errs.KindOf(err) != errs.NotFound {
		return err
	}
	owner, ownerErr := s.docs.OwnerByFilename(ctx, filename)
	if ownerErr != nil || owner == identity.OrganizationID {
		return err
	}
	view := domain.PermissionView{OrganizationID: identity.OrganizationID}
	return permission.CheckOrganization(ctx, view, owner, filename)
}

func (s *Server) handleFilesDelete(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	docID := r.URL.Query().Get("file_id")
	if docID == "" {
		writeError(w, errs.New(errs.InvalidInput, "file_id is required"))
		return
	}
	// Delete is idempotent, so a cross-tenant doc_id would otherwise
	// "succeed" silently; classify it first so the probe is logged and
	// answered with NotFound.
	if owner, err := s.docs.OwnerByDocID(r.Context(), docID); err == nil && owner != identity.OrganizationID {
		view := domain.PermissionView{OrganizationID: identity.OrganizationID}
		writeError(w, permission.CheckOrganization(r.Context(), view, owner, docID))
		return
	}
	if err := s.pipeline.Delete(r.Context(), docID, identity.OrganizationID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleReindexFull(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	docs, err := s.docs.List(r.Context(), identity.OrganizationID, "")
	if err != nil {
		writeError(w, err)
		return
	}
	for _, d := range docs {
		if err := s.pipeline.Reindex(r.Context(), d.DocID, identity.OrganizationID); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"reindexed_count": len(docs)})
}

func (s *Server) handleReindexFile(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	filename := chi.URLParam(r, "filename")

	doc, err := s.docs.GetByFilename(r.Context(), filename, identity.OrganizationID)
	if err != nil {
		writeError(w, s.classifyFilenameMiss(r.Context(), identity, filename, err))
		return
	}
	if err := s.pipeline.Reindex(r.Context(), doc.DocID, identity.OrganizationID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type queryRequest struct {
	Question string `json:"question"`
	Humanize *bool  `json:"humanize"`
	Stream   bool   `json:"stream"`
}

// handleQuery runs one request through the orchestrator and renders its
// Response as a one-shot JSON body. Request.Stream is ignored for the
// HTTP path: a non-websocket caller always gets the whole answer back in
// one response body.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Wrap(errs.InvalidInput, "decode query request", err))
		return
	}
	humanize := true
	if req.Humanize != nil {
		humanize = *req.Humanize
	}

	token := bearerOrQueryToken(r)
	resp, err := s.orchestrator.Handle(r.Context(), orchestrator.Request{
		Token:    token,
		Question: req.Question,
		Humanize: humanize,
		Stream:   false,
	})
	if err != nil {
		// Generation failed after retrieval succeeded: return the error
		// kind together with the partial retrieval context.
		if len(resp.Results) > 0 {
			kind := errs.KindOf(err)
			writeJSON(w, http.StatusOK, map[string]any{
				"error":   string(kind),
				"message": err.Error(),
				"partial": map[string]any{"chunks": resp.Results},
			})
			return
		}
		writeError(w, err)
		return
	}

	body := map[string]any{"citations": resp.Citations}
	switch resp.Mode {
	case orchestrator.ModeChunks:
		body["chunks"] = resp.Results
	case orchestrator.ModeAnswer:
		body["answer"] = resp.Answer
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// statusFor maps an error kind to an HTTP status.
func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.Unauthenticated:
		return http.StatusUnauthorized
	case errs.OrganizationRequired, errs.PermissionDenied:
		return http.StatusForbidden
	case errs.NotFound:
		return http.StatusNotFound
	case errs.InvalidInput:
		return http.StatusBadRequest
	case errs.Busy, errs.RateLimited:
		return http.StatusTooManyRequests
	case errs.EmbeddingUnavailable, errs.IndexUnavailable, errs.LLMUnavailable:
		return http.StatusServiceUnavailable
	case errs.Cancelled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	writeJSON(w, statusFor(kind), map[string]string{"error": string(kind), "message": err.Error()})
}

func fileTypeOf(filename string) string {
	return strings.TrimPrefix(filepath.Ext(filename), ".")
}
