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

// Package orchestrator implements the end-to-end query state machine:
// AUTH -> AUTHORIZE -> RETRIEVE -> DECIDE_MODE -> {EMIT_CHUNKS | PROMPT ->
// GENERATE} -> DONE/ERROR.
//
// Dependencies run one way: the orchestrator owns the retrieval engine and
// the LLM adapter by reference and reports to an AnalyticsSink interface it
// declares itself, so analytics implementations can evolve without the
// orchestrator importing them back.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ragline/gateway/internal/domain"
	"github.com/ragline/gateway/internal/errs"
	"github.com/ragline/gateway/internal/llm"
	"github.com/ragline/gateway/internal/observability"
	"github.com/ragline/gateway/internal/permission"
	"github.com/ragline/gateway/internal/retrieval"
	"github.com/ragline/gateway/internal/session"
)

// AnalyticsSink receives a QueryEvent once per completed request. Record
// must not block the caller for long; the orchestrator calls it
// fire-and-forget and logs, but never propagates, a failure.
type AnalyticsSink interface {
	Record(ctx context.Context, event domain.QueryEvent)
}

// NoopSink discards every event, the default when no sink is configured.
type NoopSink struct{}

func (NoopSink) Record(context.Context, domain.QueryEvent) {}

// promptSeparator delimits each source in the assembled prompt so the
// model cannot confuse source boundaries with source content.
const promptSeparator = "\n---\n"

const promptInstruction = "Answer the question strictly using the sources below. " +
	"Cite every claim with the filename it came from in square brackets, like [report.pdf]. " +
	"If the sources do not contain the answer, say so plainly."

// Request is one query, resolved from transport's HTTP/WS framing.
type Request struct {
	Token     string
	Question  string
	Humanize  bool
	Stream    bool
	Retrieval retrieval.Options
}

// Mode reports which branch of the state machine produced a Response.
type Mode string

const (
	ModeChunks Mode = "chunks"
	ModeAnswer Mode = "answer"
)

// Citation is one contributing source, for the response's citation list.
type Citation struct {
	Filename   string
	FusedScore float32
}

// Response is the orchestrator's outcome for one Request.
type Response struct {
	Mode      Mode
	Results   []domain.SearchResult // the retrieved sources; the full response body when Mode == ModeChunks
	Answer    string                // populated when Mode == ModeAnswer and !Request.Stream
	Tokens    <-chan string         // populated when Mode == ModeAnswer and Request.Stream
	Citations []Citation
}

// Orchestrator runs the query state machine.
type Orchestrator struct {
	sessions  *session.Gate
	retrieval *retrieval.Engine
	llm       *llm.Adapter
	analytics AnalyticsSink
	metrics   *observability.Metrics
}

// New wires the orchestrator to its three owned dependencies plus an
// analytics sink. analytics may be nil, defaulting to NoopSink; metrics
// may be nil.
func New(sessions *session.Gate, retrieval *retrieval.Engine, llmAdapter *llm.Adapter, analytics AnalyticsSink, metrics *observability.Metrics) *Orchestrator {
	if analytics == nil {
		analytics = NoopSink{}
	}
	return &Orchestrator{sessions: sessions, retrieval: retrieval, llm: llmAdapter, analytics: analytics, metrics: metrics}
}

// Handle runs one request through the full state machine. The returned
// Response's Tokens channel, if non-nil, is closed when generation
// completes or ctx is cancelled; Handle itself returns as soon as
// streaming has started, it does not block on token delivery.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (Response, error) {
	queryID := uuid.NewString()
	start := time.Now()

	resp, identity, err := o.run(ctx, req)
	o.emit(ctx, queryID, identity, req, resp, time.Since(start), err)
	return resp, err
}

func (o *Orchestrator) run(ctx context.Context, req Request) (Response, permission.Identity, error) {
	// AUTH
	identity, err := o.sessions.Resolve(ctx, req.Token)
	if err != nil {
		return Response{}, permission.Identity{}, err
	}

	// AUTHORIZE
	view, err := permission.Resolve(identity)
	if err != nil {
		return Response{}, identity, err
	}

	if strings.TrimSpace(req.Question) == "" {
		return Response{}, identity, errs.New(errs.InvalidInput, "question must not be empty")
	}

	// RETRIEVE
	result, err := o.retrieval.Retrieve(ctx, req.Question, view, req.Retrieval)
	if err != nil {
		return Response{}, identity, err
	}

	citations := buildCitations(result.Results)

	// DECIDE_MODE
	if !req.Humanize {
		return Response{Mode: ModeChunks, Results: result.Results, Citations: citations}, identity, nil
	}

	// PROMPT
	prompt := assemblePrompt(req.Question, result.Results)

	// GENERATE. A generation failure downgrades to the already-computed
	// retrieval context: the caller gets the chunks alongside the error
	// kind rather than losing the retrieval work.
	if req.Stream {
		tokens, err := o.llm.GenerateStreaming(ctx, prompt, llm.Options{})
		if err != nil {
			return Response{Mode: ModeChunks, Results: result.Results, Citations: citations}, identity, err
		}
		return Response{Mode: ModeAnswer, Results: result.Results, Tokens: tokens, Citations: citations}, identity, nil
	}

	answer, err := o.llm.Generate(ctx, prompt, llm.Options{})
	if err != nil {
		return Response{Mode: ModeChunks, Results: result.Results, Citations: citations}, identity, err
	}
	return Response{Mode: ModeAnswer, Results: result.Results, Answer: answer, Citations: citations}, identity, nil
}

// assemblePrompt builds the grounded-answer prompt: instruction, each
// source in descending fused-score order (already the order Retrieve
// returns), then the question.
func assemblePrompt(question string, results []domain.SearchResult) string {
	var b strings.Builder
	b.WriteString(promptInstruction)
	for _, r := range results {
		b.WriteString(promptSeparator)
		fmt.Fprintf(&b, "[%s]\n%s", r.Filename, r.TextExcerpt)
		if len(r.FullFileContent) > 0 {
			fmt.Fprintf(&b, "\n\nFull file content:\n%s", r.FullFileContent)
		}
	}
	b.WriteString(promptSeparator)
	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}

// buildCitations collects the unique filenames of contributing chunks
// with their fused score, in descending order.
func buildCitations(results []domain.SearchResult) []Citation {
	seen := make(map[string]bool, len(results))
	citations := make([]Citation, 0, len(results))
	for _, r := range results {
		if seen[r.Filename] {
			continue
		}
		seen[r.Filename] = true
		citations = append(citations, Citation{Filename: r.Filename, FusedScore: r.FusedScore})
	}
	return citations
}

func (o *Orchestrator) emit(ctx context.Context, queryID string, identity permission.Identity, req Request, resp Response, elapsed time.Duration, err error) {
	event := domain.QueryEvent{
		QueryID:        queryID,
		SessionID:      identity.SessionID,
		UserID:         identity.UserID,
		OrganizationID: identity.OrganizationID,
		Question:       req.Question,
		ResponseTimeMs: elapsed.Milliseconds(),
		Humanized:      req.Humanize,
		Success:        err == nil,
	}
	if err != nil {
		event.ErrorKind = string(errs.KindOf(err))
	}
	for _, r := range resp.Results {
		event.SourceChunkIDs = append(event.SourceChunkIDs, r.ChunkID)
	}
	if resp.Mode == ModeAnswer {
		event.AnswerLength = len(resp.Answer)
	}

	defer func() {
		if r := recover(); r != nil {
			observability.Logger().ErrorContext(ctx, "analytics sink panicked", "panic", r)
		}
	}()
	o.analytics.Record(ctx, event)
}
