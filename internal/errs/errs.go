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

// Package errs defines the error-kind taxonomy shared by every component.
// Components return *Error so the orchestrator and transport layer can map
// a failure to a single user-visible kind without inspecting error strings.
package errs

import (
	"context"
	"errors"
	"fmt"
)

// Kind is one of the taxonomy's error kinds. It is a closed set by
// convention, not by the type system.
type Kind string

const (
	Unauthenticated       Kind = "Unauthenticated"
	OrganizationRequired  Kind = "OrganizationRequired"
	OrganizationForbidden Kind = "OrganizationForbidden"
	NotFound              Kind = "NotFound"
	PermissionDenied      Kind = "PermissionDenied"
	InvalidInput          Kind = "InvalidInput"
	Busy                  Kind = "Busy"
	EmbeddingUnavailable  Kind = "EmbeddingUnavailable"
	IndexUnavailable      Kind = "IndexUnavailable"
	LLMUnavailable        Kind = "LLMUnavailable"
	RateLimited           Kind = "RateLimited"
	IndexWriteFailed      Kind = "IndexWriteFailed"
	Cancelled             Kind = "Cancelled"
	Internal              Kind = "Internal"
)

// Error wraps an underlying error with a taxonomy Kind and a human-readable
// message safe to return to callers.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an *Error of the given kind wrapping err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from err. A nil err yields the empty Kind. An
// err that is not (and does not wrap) an *Error yields Cancelled when it
// wraps context.Canceled or context.DeadlineExceeded, and Internal
// otherwise.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled
	}
	return Internal
}
