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

package observability

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRetrieval("org-a", time.Millisecond, 3)
		m.RecordLLMError("anthropic", "claude", "Internal")
		m.SetSessionsActive(5)
	})
}

func TestMetricsHandlerServesExposition(t *testing.T) {
	m := NewMetrics("ragline")
	m.RecordRetrieval("org-a", 10*time.Millisecond, 5)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "ragline_retrieval_searches_total")
}

func TestLogSecurityEventDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		LogSecurityEvent(context.Background(), "cross_organization_access_attempt", map[string]any{
			"caller_organization_id": "org-a",
		})
	})
}
