package xwalk

import (
	"bytes"
	"encoding/json"
)

// DefaultMaxLineBytes bounds a single line of engine output.
const DefaultMaxLineBytes = 1 << 20

// lineSplitter turns arbitrarily fragmented chunks into complete lines.
// buf never holds a newline. Once buf would exceed max, the rest of that
// line is dropped and it is reported as oversized at its newline, so the
// outcome does not depend on where the chunks were cut.
type lineSplitter struct {
	buf      []byte
	max      int
	overflow bool
}

// split appends chunk and calls emit for every completed line, without its
// newline. The slice passed to emit is only valid during the call.
func (s *lineSplitter) split(chunk []byte, emit func(line []byte, oversized bool)) {
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			if s.overflow {
				return
			}
			s.buf = append(s.buf, chunk...)
			if s.max > 0 && len(s.buf) > s.max {
				s.overflow = true
				s.buf = s.buf[:0]
			}
			return
		}

		part := chunk[:i]
		chunk = chunk[i+1:]

		if s.overflow {
			s.overflow = false
			emit(nil, true)
			continue
		}

		line := part
		if len(s.buf) > 0 {
			s.buf = append(s.buf, part...)
			line = s.buf
		}
		emit(line, s.max > 0 && len(line) > s.max)
		s.buf = s.buf[:0]
	}
}

// flush emits whatever partial line is buffered and resets the splitter.
func (s *lineSplitter) flush(emit func(line []byte, oversized bool)) {
	switch {
	case s.overflow:
		emit(nil, true)
	case len(s.buf) > 0:
		emit(s.buf, false)
	}
	s.overflow = false
	s.buf = s.buf[:0]
}

func (s *lineSplitter) pending() int {
	return len(s.buf)
}

// LineDecoder converts a stream of raw output chunks into Messages.
//
// Feeding a byte sequence as one chunk yields exactly the same Messages as
// feeding it split at any set of offsets. Lines that are not JSON are
// discarded: they never appear in Feed's result and are only reported
// through OnDiscard.
//
// A LineDecoder is not safe for concurrent use.
type LineDecoder struct {
	// OnDiscard, if set, is called with each non-JSON line. Oversized lines
	// are reported with an empty line and oversized set.
	OnDiscard func(line string, oversized bool)

	lines     lineSplitter
	discarded int
}

// NewLineDecoder returns a decoder that tolerates lines up to maxLineBytes.
// A non-positive value selects DefaultMaxLineBytes.
func NewLineDecoder(maxLineBytes int) *LineDecoder {
	if maxLineBytes <= 0 {
		maxLineBytes = DefaultMaxLineBytes
	}
	return &LineDecoder{lines: lineSplitter{max: maxLineBytes}}
}

// Feed consumes one chunk and returns the Messages for every line it completed.
func (d *LineDecoder) Feed(chunk []byte) []Message {
	var out []Message
	d.lines.split(chunk, func(line []byte, oversized bool) {
		out = d.collect(out, line, oversized)
	})
	return out
}

// Flush decodes a trailing line that was never terminated by a newline.
// Call it only when the stream has ended.
func (d *LineDecoder) Flush() []Message {
	var out []Message
	d.lines.flush(func(line []byte, oversized bool) {
		out = d.collect(out, line, oversized)
	})
	return out
}

// Pending reports how many bytes of an incomplete line are buffered.
func (d *LineDecoder) Pending() int {
	return d.lines.pending()
}

// Discarded reports how many non-JSON lines have been dropped so far.
func (d *LineDecoder) Discarded() int {
	return d.discarded
}

func (d *LineDecoder) collect(out []Message, line []byte, oversized bool) []Message {
	if oversized {
		d.discard("", true)
		return out
	}
	msg, ok := DecodeLine(line)
	if !ok {
		return out
	}
	if msg.Kind == KindUnparseable {
		d.discard(string(bytes.TrimSpace(line)), false)
		return out
	}
	return append(out, msg)
}

func (d *LineDecoder) discard(line string, oversized bool) {
	d.discarded++
	if d.OnDiscard != nil {
		d.OnDiscard(line, oversized)
	}
}

// DecodeLine classifies a single line of engine output. It reports false for
// lines that are empty after trimming whitespace.
//
// Valid JSON that is not an object, or an object whose "event" is not the
// string ANALYSIS_COMPLETE, is KindUnrecognized. A "file" that is not a
// string is kept as its JSON text (7 becomes "7"). is_dangerous
// counts only when it is the JSON literal true.
func DecodeLine(line []byte) (Message, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Message{}, false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		if json.Valid(line) {
			return Message{Kind: KindUnrecognized}, true
		}
		return Message{Kind: KindUnparseable}, true
	}

	var event string
	if raw, ok := fields["event"]; ok {
		if err := json.Unmarshal(raw, &event); err != nil {
			return Message{Kind: KindUnrecognized}, true
		}
	}
	if event != EventAnalysisComplete {
		return Message{Kind: KindUnrecognized, Event: event}, true
	}

	msg := Message{Kind: KindAnalysisComplete, Event: event}
	if raw, ok := fields["file"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &msg.File); err != nil {
			// Not a string: keep the report, named by its JSON text.
			msg.File = string(bytes.TrimSpace(raw))
		}
	}
	if raw, ok := fields["is_dangerous"]; ok {
		var dangerous bool
		if json.Unmarshal(raw, &dangerous) == nil {
			msg.IsDangerous = dangerous
		}
	}
	return msg, true
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
