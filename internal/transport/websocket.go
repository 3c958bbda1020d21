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
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ragline/gateway/internal/errs"
	"github.com/ragline/gateway/internal/observability"
	"github.com/ragline/gateway/internal/orchestrator"
	"github.com/ragline/gateway/internal/permission"
)

// upgrader accepts any origin; the gateway is expected to sit behind an
// authenticating proxy or be called by first-party clients.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsIncoming struct {
	Question  string `json:"question"`
	Humanize  *bool  `json:"humanize"`
	Stream    *bool  `json:"stream"`
	SessionID string `json:"session_id"`
}

type wsOutgoing struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Token   string `json:"token,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

type wsFile struct {
	Filename string  `json:"filename"`
	Score    float32 `json:"score"`
}

// handleWSQuery serves /ws/query: upgrade, resolve the session, then
// loop reading one question at a time, streaming frames back in a fixed
// order (status*, immediate, then exactly one of
// stream_start/stream_token*/stream_end, overview, or chunks). Questions
// are processed one at a time on a socket, so frames for distinct
// questions never interleave.
func (s *Server) handleWSQuery(w http.ResponseWriter, r *http.Request) {
	token := bearerOrQueryToken(r)
	identity, err := s.sessions.Resolve(r.Context(), token)
	if err != nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if identity.OrganizationID == "" {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "organization context required"),
			time.Now().Add(time.Second))
		return
	}

	for {
		var in wsIncoming
		if err := conn.ReadJSON(&in); err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), queryDeadline)
		s.runWSQuery(ctx, conn, token, identity, in)
		cancel()
	}
}

func (s *Server) runWSQuery(ctx context.Context, conn *websocket.Conn, token string, identity permission.Identity, in wsIncoming) {
	humanize := true
	if in.Humanize != nil {
		humanize = *in.Humanize
	}
	stream := true
	if in.Stream != nil {
		stream = *in.Stream
	}

	if err := conn.WriteJSON(wsOutgoing{Type: "status", Message: "retrieving"}); err != nil {
		return
	}

	resp, err := s.orchestrator.Handle(ctx, orchestrator.Request{
		Token:    token,
		Question: in.Question,
		Humanize: humanize,
		Stream:   stream,
	})
	if err != nil {
		// If retrieval completed before the failure, the client still gets
		// the immediate frame ahead of the error frame.
		if len(resp.Results) > 0 {
			_ = conn.WriteJSON(immediateFrame(resp))
		}
		s.sendWSError(conn, err)
		return
	}

	if err := conn.WriteJSON(immediateFrame(resp)); err != nil {
		return
	}

	switch resp.Mode {
	case orchestrator.ModeChunks:
		_ = conn.WriteJSON(wsOutgoing{Type: "chunks", Data: resp.Results})
	case orchestrator.ModeAnswer:
		if stream {
			s.streamWSAnswer(ctx, conn, resp.Tokens)
		} else {
			_ = conn.WriteJSON(wsOutgoing{Type: "overview", Data: resp.Answer})
		}
	}
}

// immediateFrame builds the retrieval-results frame sent after status
// frames and before any answer frames.
func immediateFrame(resp orchestrator.Response) wsOutgoing {
	files := make([]wsFile, 0, len(resp.Citations))
	for _, c := range resp.Citations {
		files = append(files, wsFile{Filename: c.Filename, Score: c.FusedScore})
	}
	excerpts := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		excerpts = append(excerpts, r.TextExcerpt)
	}
	return wsOutgoing{Type: "immediate", Data: map[string]any{"files": files, "excerpts": excerpts}}
}

// streamWSAnswer drains tokens onto conn with stream_start /
// stream_token* / stream_end framing. Writing to a slow client blocks
// here, which in turn blocks draining tokens from the channel,
// propagating backpressure up through llm.Adapter's bounded buffer.
func (s *Server) streamWSAnswer(ctx context.Context, conn *websocket.Conn, tokens <-chan string) {
	if err := conn.WriteJSON(wsOutgoing{Type: "stream_start"}); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			s.sendWSError(conn, errs.New(errs.Cancelled, "request cancelled"))
			return
		case tok, ok := <-tokens:
			if !ok {
				_ = conn.WriteJSON(wsOutgoing{Type: "stream_end"})
				return
			}
			if err := conn.WriteJSON(wsOutgoing{Type: "stream_token", Token: tok}); err != nil {
				return
			}
		}
	}
}

func (s *Server) sendWSError(conn *websocket.Conn, err error) {
	kind := errs.KindOf(err)
	_ = conn.WriteJSON(wsOutgoing{Type: "error", Message: err.Error(), Kind: string(kind)})

	closeCode := websocket.CloseInternalServerErr
	if kind == errs.Unauthenticated || kind == errs.OrganizationRequired || kind == errs.PermissionDenied || kind == errs.NotFound {
		closeCode = websocket.ClosePolicyViolation
	}
	observability.Logger().Error("websocket query failed", "kind", string(kind), "error", err.Error())
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, string(kind)), time.Now().Add(time.Second))
}
