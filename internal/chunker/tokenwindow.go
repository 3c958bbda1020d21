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

package chunker

// tokenWindowChunker is the default splitter for prose, code, and
// extracted PDF/DOCX text: word-bounded windows targeting targetTokens
// with a trailing overlap of overlapTokens words. A window never grows
// past MaxChunkTokens by adding a word; a single word over that cap
// becomes a window of its own.
type tokenWindowChunker struct {
	counter *TokenCounter
}

// word is one whitespace-delimited token with its byte span.
type word struct {
	text  string
	start int
	end   int
}

func splitWords(text string) []word {
	var words []word
	start := -1
	for i := 0; i < len(text); i++ {
		c := text[i]
		isSpace := c == ' ' || c == '\n' || c == '\t' || c == '\r'
		if isSpace {
			if start >= 0 {
				words = append(words, word{text: text[start:i], start: start, end: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		words = append(words, word{text: text[start:], start: start, end: len(text)})
	}
	return words
}

func (t *tokenWindowChunker) chunk(text string, targetTokens, overlapTokens int) ([]Piece, error) {
	words := splitWords(text)
	if len(words) == 0 {
		return nil, nil
	}

	var pieces []Piece
	i := 0
	for i < len(words) {
		tokens := 0
		j := i
		for j < len(words) {
			wt := t.counter.Count(words[j].text)
			if tokens > 0 && tokens+wt > MaxChunkTokens {
				break
			}
			tokens += wt
			j++
			if tokens >= targetTokens {
				break
			}
		}
		if j == i {
			j = i + 1
		}

		first := words[i]
		last := words[j-1]
		pieces = append(pieces, Piece{
			Text:       text[first.start:last.end],
			Start:      first.start,
			End:        last.end,
			TokenCount: tokens,
		})

		if j >= len(words) {
			break
		}

		// Step back by overlapTokens worth of words (approximated by word
		// count here since words are roughly one token each in English;
		// the hard MaxChunkTokens cap above is what TokenCounter enforces
		// precisely).
		overlapWords := overlapTokens
		next := j - overlapWords
		if next <= i {
			next = i + 1
		}
		i = next
	}

	return pieces, nil
}
