// Package thinking separates model reasoning from visible answer text.
//
// Several model families wrap their chain of thought in inline tags
// inside the regular content stream instead of using a dedicated
// reasoning field. The extractor recognizes the common tag dialects,
// treats them as one canonical pair, and routes the wrapped text to a
// reasoning channel while everything else stays visible.
package thinking

import "strings"

// Tag dialects, longest first so "<thinking>" wins over "<think>".
// Matching is case-insensitive and any close tag ends any open tag.
var (
	openTags  = []string{"<|startofthinking|>", "<thinking>", "[thinking]", "<think>"}
	closeTags = []string{"<|endofthinking|>", "</thinking>", "[/thinking]", "</think>"}
)

// State carries extraction progress across streamed chunks. Splitting
// the input at different chunk boundaries does not change the combined
// output as long as the same State is threaded through every call.
// The zero value is ready to use.
type State struct {
	inThinking bool
	carry      string
}

// InThinking reports whether an opening tag has been seen without a
// matching close.
func (s *State) InThinking() bool {
	return s.inThinking
}

// Extract scans one chunk of streamed text and splits it into visible
// content and reasoning. Text that could be the start of a tag cut off
// at the chunk boundary is held back and prepended to the next call;
// call Flush when the stream ends to recover it.
func (s *State) Extract(chunk string) (content, reasoning string) {
	text := s.carry + chunk
	s.carry = ""

	var visible, thought strings.Builder
	i := 0
	for i < len(text) {
		c := text[i]
		if c != '<' && c != '[' {
			if s.inThinking {
				thought.WriteByte(c)
			} else {
				visible.WriteByte(c)
			}
			i++
			continue
		}

		rest := text[i:]
		tags := openTags
		if s.inThinking {
			tags = closeTags
		}

		if tag, ok := matchTag(rest, tags); ok {
			s.inThinking = !s.inThinking
			i += len(tag)
			continue
		}
		if isTagPrefix(rest, tags) {
			s.carry = rest
			break
		}

		if s.inThinking {
			thought.WriteByte(c)
		} else {
			visible.WriteByte(c)
		}
		i++
	}

	return visible.String(), thought.String()
}

// Flush returns any held-back text once the stream has ended. A tag
// left open at end of stream is accepted, so held text goes to the
// reasoning channel while a tag is open and to content otherwise.
func (s *State) Flush() (content, reasoning string) {
	carried := s.carry
	s.carry = ""
	if carried == "" {
		return "", ""
	}
	if s.inThinking {
		return "", carried
	}
	return carried, ""
}

// matchTag returns the first tag that s starts with, case-insensitively.
func matchTag(s string, tags []string) (string, bool) {
	for _, tag := range tags {
		if len(s) >= len(tag) && strings.EqualFold(s[:len(tag)], tag) {
			return tag, true
		}
	}
	return "", false
}

// isTagPrefix reports whether s is a proper prefix of any tag, meaning
// the chunk may have been cut mid-tag.
func isTagPrefix(s string, tags []string) bool {
	for _, tag := range tags {
		if len(s) < len(tag) && strings.EqualFold(s, tag[:len(s)]) {
			return true
		}
	}
	return false
}
