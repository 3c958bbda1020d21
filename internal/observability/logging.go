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

// Package observability carries the gateway's ambient stack: structured
// logging via log/slog, Prometheus metrics, and OpenTelemetry tracing.
package observability

import (
	"context"
	"log/slog"
	"os"
)

var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger replaces the package-level logger, for process startup to
// install a handler configured from loaded config (level, format).
func SetLogger(l *slog.Logger) { logger = l }

// Logger returns the current package-level logger.
func Logger() *slog.Logger { return logger }

// LogSecurityEvent records a security-relevant event (cross-tenant access
// attempts, auth failures) at warn level with structured attributes.
func LogSecurityEvent(ctx context.Context, event string, attrs map[string]any) {
	args := make([]any, 0, len(attrs)*2+2)
	args = append(args, "event", event)
	for k, v := range attrs {
		args = append(args, k, v)
	}
	logger.WarnContext(ctx, "security_event", args...)
}
