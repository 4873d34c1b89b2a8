package streaming

import "strings"

// StopSequenceFilter buffers up to max(len(stopseq)) bytes of trailing
// content so a stop sequence split across two deltas is still caught,
// Once a sequence matches, it truncates the emitted
// content at the match, reports a synthetic stop, and swallows everything
// after.
type StopSequenceFilter struct {
	sequences []string
	maxLen int
	buf strings.Builder
	stopped bool
	matched string
}

// NewStopSequenceFilter builds a filter for the given stop sequences. An
// empty slice makes every Feed call a pass-through.
func NewStopSequenceFilter(sequences []string) *StopSequenceFilter {
	f := &StopSequenceFilter{sequences: sequences}
	for _, s := range sequences {
		if len(s) > f.maxLen {
			f.maxLen = len(s)
		}
	}
	return f
}

// Feed processes one chunk of content. It returns the content safe to emit
// now, whether a stop sequence matched (terminal), and the matched
// sequence text. Once stopped, subsequent Feed calls always return ("",
// true, matched) without reprocessing content, per the "swallow further
// content" rule.
func (f *StopSequenceFilter) Feed(chunk string) (emit string, stopped bool, matched string) {
	if f.stopped {
		return "", true, f.matched
	}
	if f.maxLen == 0 {
		return chunk, false, ""
	}

	f.buf.WriteString(chunk)
	pending := f.buf.String()

	for _, seq := range f.sequences {
		if idx := strings.Index(pending, seq); idx >= 0 {
			f.stopped = true
			f.matched = seq
			f.buf.Reset()
			return pending[:idx], true, seq
		}
	}

	// Hold back up to maxLen-1 trailing bytes: a stop sequence could still
	// be completed by the next chunk.
	holdback := f.maxLen - 1
	if holdback < 0 {
		holdback = 0
	}
	if len(pending) <= holdback {
		return "", false, ""
	}
	emit = pending[:len(pending)-holdback]
	f.buf.Reset()
	f.buf.WriteString(pending[len(pending)-holdback:])
	return emit, false, ""
}

// Flush returns any content still held back (called once the upstream
// stream ends with no match found).
func (f *StopSequenceFilter) Flush() string {
	if f.stopped {
		return ""
	}
	out := f.buf.String()
	f.buf.Reset()
	return out
}
