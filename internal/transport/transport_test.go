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
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragline/gateway/internal/chunker"
	"github.com/ragline/gateway/internal/docstore"
	"github.com/ragline/gateway/internal/embedding"
	"github.com/ragline/gateway/internal/errs"
	"github.com/ragline/gateway/internal/ingest"
	"github.com/ragline/gateway/internal/lexical"
	"github.com/ragline/gateway/internal/llm"
	"github.com/ragline/gateway/internal/orchestrator"
	"github.com/ragline/gateway/internal/retrieval"
	"github.com/ragline/gateway/internal/session"
	"github.com/ragline/gateway/internal/vectorindex"
)

const testDocContent = "The quarterly rollout plan covers staged deployment across every region."

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newTestServerWithLLM(t, llm.NewFake("fake", "The rollout [rollout.txt] is staged.", []string{"The ", "rollout ", "[rollout.txt] ", "is ", "staged."}))
}

func newTestServerWithLLM(t *testing.T, provider llm.Provider) *Server {
	t.Helper()
	ctx := context.Background()

	docs, err := docstore.OpenDSN(":memory:")
	require.NoError(t, err)

	counter, err := chunker.NewTokenCounter()
	require.NoError(t, err)
	c := chunker.New(counter)

	vectors := vectorindex.NewFake()
	lexicon, err := lexical.Open("")
	require.NoError(t, err)
	embedder := embedding.NewDeterministicProvider(32, "test-model")

	pipeline := ingest.New(docs, c, embedder, vectors, lexicon, nil, 4)
	_, err = pipeline.Ingest(ctx, "rollout.txt", []byte(testDocContent), "text", "org-a")
	require.NoError(t, err)

	engine := retrieval.New(embedder, vectors, lexicon, docs, nil)

	db, dialect, err := docstore.OpenPool(":memory:")
	require.NoError(t, err)
	gate, err := session.Open(db, dialect, 0)
	require.NoError(t, err)

	adapter := llm.NewAdapter(provider)
	orch := orchestrator.New(gate, engine, adapter, nil, nil)

	return New(":0", gate, orch, pipeline, docs, nil)
}

func loginAs(t *testing.T, srv *Server, role, org string) string {
	t.Helper()
	sess, err := srv.sessions.Authenticate(context.Background(), session.Credential{
		UserID: "u1", Role: role, OrganizationID: org,
	})
	require.NoError(t, err)
	return sess.Token
}

func TestHealthIsUnauthenticated(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoginThenQueryRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	loginBody, _ := json.Marshal(map[string]string{"username": "u1", "organization_id": "org-a"})
	loginResp, err := http.Post(ts.URL+"/login", "application/json", bytes.NewReader(loginBody))
	require.NoError(t, err)
	defer loginResp.Body.Close()
	require.Equal(t, http.StatusOK, loginResp.StatusCode)

	var loginOut map[string]string
	require.NoError(t, json.NewDecoder(loginResp.Body).Decode(&loginOut))
	token := loginOut["session_id"]
	require.NotEmpty(t, token)

	queryBody, _ := json.Marshal(map[string]any{"question": "rollout plan", "humanize": false})
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/query", bytes.NewReader(queryBody))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Contains(t, out, "chunks")
}

func TestQueryRejectsMissingSession(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	queryBody, _ := json.Marshal(map[string]any{"question": "rollout plan"})
	resp, err := http.Post(ts.URL+"/query", "application/json", bytes.NewReader(queryBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUploadRequiresAdminRole(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	token := loginAs(t, srv, "member", "org-a")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("some notes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/upload", &body)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestUploadSucceedsForAdmin(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	token := loginAs(t, srv, "admin", "org-a")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("some notes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/upload", &body)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.NotEmpty(t, out["doc_id"])
}

func TestFilesContentCrossOrgReturnsNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	token := loginAs(t, srv, "admin", "org-b")

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/files/content/rollout.txt", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFilesDeleteCrossOrgReturnsNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	docs, err := srv.docs.List(context.Background(), "org-a", "")
	require.NoError(t, err)
	require.NotEmpty(t, docs)

	token := loginAs(t, srv, "admin", "org-b")
	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/files/delete_by_fileid?file_id="+docs[0].DocID, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, err = srv.docs.Get(context.Background(), docs[0].DocID, "org-a")
	require.NoError(t, err, "the document must survive a cross-tenant delete attempt")
}

func TestQueryLLMOutageReturnsPartialChunks(t *testing.T) {
	srv := newTestServerWithLLM(t, llm.NewFailingFake("down", errs.New(errs.LLMUnavailable, "provider offline")))
	ts := httptest.NewServer(srv)
	defer ts.Close()

	token := loginAs(t, srv, "member", "org-a")

	queryBody, _ := json.Marshal(map[string]any{"question": "rollout plan", "humanize": true})
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/query", bytes.NewReader(queryBody))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, string(errs.LLMUnavailable), out["error"])
	partial, ok := out["partial"].(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, partial["chunks"])
}

func TestWSQueryMessageOrdering(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	token := loginAs(t, srv, "member", "org-a")
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/query?token=" + token

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"question": "rollout plan", "humanize": true, "stream": true}))

	var seenImmediate, seenStreamStart, seenStreamEnd bool
	var tokenCount int
	for {
		var msg wsOutgoing
		require.NoError(t, conn.ReadJSON(&msg))
		switch msg.Type {
		case "status":
			assert.False(t, seenImmediate, "status must precede immediate")
		case "immediate":
			seenImmediate = true
		case "stream_start":
			require.True(t, seenImmediate)
			seenStreamStart = true
		case "stream_token":
			require.True(t, seenStreamStart)
			tokenCount++
		case "stream_end":
			require.True(t, seenStreamStart)
			seenStreamEnd = true
		}
		if seenStreamEnd {
			break
		}
	}
	assert.True(t, seenImmediate)
	assert.True(t, seenStreamStart)
	assert.Greater(t, tokenCount, 0)
}

func TestWSQueryClosesWithPolicyViolationWhenNoOrg(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	sess, err := srv.sessions.Authenticate(context.Background(), session.Credential{UserID: "u1", Role: "member"})
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/query?token=" + sess.Token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a close error, got %v", err)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}
