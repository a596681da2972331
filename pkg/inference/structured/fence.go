package structured

import (
	"strings"
)

// FenceStripper removes an optional fenced-code wrapper (``` with an optional
// language tag) around a streamed payload. It works chunk by chunk: the
// opening fence may arrive split across many deltas, so the stripper buffers
// until it can decide whether the stream is fenced at all, and when it is, it
// lags emission by any suffix that could still turn out to be the closing
// fence.
type FenceStripper struct {
	decided bool
	fenced  bool

	// head buffers the stream prefix until fenced/unfenced is decided.
	head strings.Builder
	// pending holds emitted-but-unreleased text while fenced.
	pending strings.Builder
}

// Feed consumes one delta and returns the content that is safe to release.
func (f *FenceStripper) Feed(chunk string) string {
	if !f.decided {
		f.head.WriteString(chunk)
		body, decided, fenced := splitOpeningFence(f.head.String())
		if !decided {
			return ""
		}
		f.decided = true
		f.fenced = fenced
		f.head.Reset()
		if !fenced {
			return body
		}
		f.pending.WriteString(body)
		return f.release()
	}

	if !f.fenced {
		return chunk
	}
	f.pending.WriteString(chunk)
	return f.release()
}

// Finish flushes the remaining buffered text, stripping the closing fence
// when the stream was fenced.
func (f *FenceStripper) Finish() string {
	if !f.decided {
		// Stream ended before the opening fence resolved; whatever was
		// buffered is plain content (a lone "``" is not a fence).
		return f.head.String()
	}
	if !f.fenced {
		return ""
	}
	rest := f.pending.String()
	f.pending.Reset()
	return stripClosingFence(rest)
}

// release returns the pending text minus the longest suffix that could still
// belong to a closing fence (whitespace and backticks).
func (f *FenceStripper) release() string {
	s := f.pending.String()
	cut := len(s)
	for cut > 0 {
		c := s[cut-1]
		if c == '`' || c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			cut--
			continue
		}
		break
	}
	if cut == 0 {
		return ""
	}
	out := s[:cut]
	rest := s[cut:]
	f.pending.Reset()
	f.pending.WriteString(rest)
	return out
}

// splitOpeningFence inspects the buffered stream prefix. It reports whether
// the fenced/unfenced question is answered yet and, once it is, returns the
// content that follows the opening fence (or the whole prefix when unfenced).
func splitOpeningFence(s string) (body string, decided bool, fenced bool) {
	i := 0
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	if i == len(s) {
		return "", false, false
	}
	if s[i] != '`' {
		return s, true, false
	}
	// Count backticks; fewer than three and nothing after them means the
	// fence may still be arriving.
	j := i
	for j < len(s) && s[j] == '`' {
		j++
	}
	if j-i < 3 {
		if j == len(s) {
			return "", false, false
		}
		return s, true, false
	}
	// Opening fence confirmed; the rest of the line is a language tag.
	nl := strings.IndexByte(s[j:], '\n')
	if nl < 0 {
		return "", false, false
	}
	return s[j+nl+1:], true, true
}

// stripClosingFence removes a trailing backtick run of three or more (and the
// newline before it) from the final buffered text.
func stripClosingFence(s string) string {
	end := len(s)
	for end > 0 && isSpace(s[end-1]) {
		end--
	}
	run := 0
	for end-run > 0 && s[end-run-1] == '`' {
		run++
	}
	if run >= 3 {
		end -= run
		if end > 0 && s[end-1] == '\n' {
			end--
		}
		return s[:end]
	}
	return s
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
