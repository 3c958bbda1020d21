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

package llm

import "context"

// Fake is an in-memory Provider for orchestrator/adapter tests.
type Fake struct {
	name    string
	reply   string
	tokens  []string
	failErr error
}

// NewFake returns a Fake that always succeeds, replying with reply for
// Generate and emitting tokens (one per channel send) for
// GenerateStreaming.
func NewFake(name, reply string, tokens []string) *Fake {
	return &Fake{name: name, reply: reply, tokens: tokens}
}

// NewFailingFake returns a Fake whose every call fails with err, for
// exercising failover.
func NewFailingFake(name string, err error) *Fake {
	return &Fake{name: name, failErr: err}
}

func (f *Fake) Name() string { return f.name }

func (f *Fake) Generate(_ context.Context, _ string, _ Options) (string, error) {
	if f.failErr != nil {
		return "", f.failErr
	}
	return f.reply, nil
}

func (f *Fake) GenerateStreaming(ctx context.Context, _ string, _ Options) (<-chan string, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	out := make(chan string, len(f.tokens)+1)
	go func() {
		defer close(out)
		for _, t := range f.tokens {
			select {
			case out <- t:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

var _ Provider = (*Fake)(nil)
