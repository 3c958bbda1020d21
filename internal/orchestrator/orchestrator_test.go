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

package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragline/gateway/internal/chunker"
	"github.com/ragline/gateway/internal/docstore"
	"github.com/ragline/gateway/internal/domain"
	"github.com/ragline/gateway/internal/embedding"
	"github.com/ragline/gateway/internal/errs"
	"github.com/ragline/gateway/internal/ingest"
	"github.com/ragline/gateway/internal/lexical"
	"github.com/ragline/gateway/internal/llm"
	"github.com/ragline/gateway/internal/retrieval"
	"github.com/ragline/gateway/internal/session"
	"github.com/ragline/gateway/internal/vectorindex"
)

const testDocContent = "The quarterly rollout plan covers staged deployment across every region."

type fakeSink struct {
	mu     sync.Mutex
	events []domain.QueryEvent
}

func (s *fakeSink) Record(_ context.Context, event domain.QueryEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *fakeSink) last() domain.QueryEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[len(s.events)-1]
}

type testHarness struct {
	orch    *Orchestrator
	gate    *session.Gate
	sink    *fakeSink
	orgID   string
}

func newTestHarness(t *testing.T, llmProvider llm.Provider) *testHarness {
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
	t.Cleanup(func() { _ = lexicon.Close() })

	embedder := embedding.NewDeterministicProvider(32, "test-model")

	const orgID = "org-a"
	pipeline := ingest.New(docs, c, embedder, vectors, lexicon, nil, 4)
	_, err = pipeline.Ingest(ctx, "rollout.txt", []byte(testDocContent), "text", orgID)
	require.NoError(t, err)

	engine := retrieval.New(embedder, vectors, lexicon, docs, nil)

	db, dialect, err := docstore.OpenPool(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	gate, err := session.Open(db, dialect, time.Hour)
	require.NoError(t, err)

	sink := &fakeSink{}
	adapter := llm.NewAdapter(llmProvider)
	orch := New(gate, engine, adapter, sink, nil)

	return &testHarness{orch: orch, gate: gate, sink: sink, orgID: orgID}
}

func (h *testHarness) login(t *testing.T, role string) string {
	t.Helper()
	sess, err := h.gate.Authenticate(context.Background(), session.Credential{
		UserID:         "u1",
		Role:           role,
		OrganizationID: h.orgID,
		AllowedFiles:   []string{"all"},
	})
	require.NoError(t, err)
	return sess.Token
}

func TestHandleRawModeReturnsChunks(t *testing.T) {
	h := newTestHarness(t, llm.NewFake("primary", "unused", nil))
	token := h.login(t, "member")

	resp, err := h.orch.Handle(context.Background(), Request{
		Token:    token,
		Question: "quarterly rollout plan staged deployment",
		Humanize: false,
	})
	require.NoError(t, err)
	assert.Equal(t, ModeChunks, resp.Mode)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "rollout.txt", resp.Results[0].Filename)
	require.Len(t, resp.Citations, 1)
	assert.Equal(t, "rollout.txt", resp.Citations[0].Filename)
}

func TestHandleHumanizeModeReturnsAnswer(t *testing.T) {
	h := newTestHarness(t, llm.NewFake("primary", "the rollout is staged across regions", nil))
	token := h.login(t, "member")

	resp, err := h.orch.Handle(context.Background(), Request{
		Token:    token,
		Question: "quarterly rollout plan staged deployment",
		Humanize: true,
	})
	require.NoError(t, err)
	assert.Equal(t, ModeAnswer, resp.Mode)
	assert.Equal(t, "the rollout is staged across regions", resp.Answer)
	assert.Nil(t, resp.Tokens)

	event := h.sink.last()
	assert.True(t, event.Success)
	assert.Equal(t, h.orgID, event.OrganizationID)
	assert.Equal(t, len("the rollout is staged across regions"), event.AnswerLength)
}

func TestHandleHumanizeStreamingReturnsTokenChannel(t *testing.T) {
	h := newTestHarness(t, llm.NewFake("primary", "", []string{"the ", "rollout ", "is ", "staged"}))
	token := h.login(t, "member")

	resp, err := h.orch.Handle(context.Background(), Request{
		Token:    token,
		Question: "quarterly rollout plan staged deployment",
		Humanize: true,
		Stream:   true,
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Tokens)

	var got []string
	for tok := range resp.Tokens {
		got = append(got, tok)
	}
	assert.Equal(t, []string{"the ", "rollout ", "is ", "staged"}, got)
}

func TestHandleRejectsInvalidSession(t *testing.T) {
	h := newTestHarness(t, llm.NewFake("primary", "unused", nil))

	_, err := h.orch.Handle(context.Background(), Request{Token: "not-a-session", Question: "anything"})
	require.Error(t, err)
	assert.Equal(t, errs.Unauthenticated, errs.KindOf(err))
}

func TestHandleRejectsEmptyQuestion(t *testing.T) {
	h := newTestHarness(t, llm.NewFake("primary", "unused", nil))
	token := h.login(t, "member")

	_, err := h.orch.Handle(context.Background(), Request{Token: token, Question: "   "})
	require.Error(t, err)
	assert.Equal(t, errs.InvalidInput, errs.KindOf(err))
}

func TestHandleLLMFailureReturnsPartialChunks(t *testing.T) {
	h := newTestHarness(t, llm.NewFailingFake("primary", errs.New(errs.LLMUnavailable, "down")))
	token := h.login(t, "member")

	resp, err := h.orch.Handle(context.Background(), Request{
		Token:    token,
		Question: "quarterly rollout plan staged deployment",
		Humanize: true,
	})
	require.Error(t, err)
	assert.Equal(t, errs.LLMUnavailable, errs.KindOf(err))
	assert.Equal(t, ModeChunks, resp.Mode)
	assert.NotEmpty(t, resp.Results, "retrieval context must survive a generation failure")

	event := h.sink.last()
	assert.False(t, event.Success)
	assert.Equal(t, string(errs.LLMUnavailable), event.ErrorKind)
}

func TestHandleRecordsAnalyticsEventOnFailure(t *testing.T) {
	h := newTestHarness(t, llm.NewFake("primary", "unused", nil))

	_, err := h.orch.Handle(context.Background(), Request{Token: "bad-token", Question: "anything"})
	require.Error(t, err)

	event := h.sink.last()
	assert.False(t, event.Success)
	assert.Equal(t, string(errs.Unauthenticated), event.ErrorKind)
}
