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

package ingest

import "errors"

// semaphore is a bounded counting semaphore over a buffered channel that
// fails fast rather than blocking: callers beyond capacity get Busy
// immediately instead of queueing.
type semaphore struct {
	slots chan struct{}
}

var errBusy = errors.New("semaphore at capacity")

func newSemaphore(capacity int) *semaphore {
	return &semaphore{slots: make(chan struct{}, capacity)}
}

func (s *semaphore) tryAcquire() error {
	select {
	case s.slots <- struct{}{}:
		return nil
	default:
		return errBusy
	}
}

func (s *semaphore) release() {
	select {
	case <-s.slots:
	default:
	}
}
