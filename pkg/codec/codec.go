// Package codec decodes the agent CLI's line-oriented JSON output into
// typed Messages. It accepts single objects, object arrays, and
// newline-delimited streams with optional marker prefixes, and tolerates
// noise lines inside streams.
package codec

import (
	"bufio"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/corvid-agent/corvid/internal/observability"
	"github.com/corvid-agent/corvid/pkg/seq"
)

var _ seq.Sequence[Message] = (*MessageSeq)(nil)

// streamMarker is the prefix some CLI output modes prepend to each event
// line. It is stripped before parsing.
const streamMarker = "data: "

// ParseError reports input that could not be decoded into a Message.
type ParseError struct {
	Reason string
	Input  string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return "message parse error: " + e.Reason + ": " + e.Err.Error()
	}
	return "message parse error: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// wireMessage is the on-the-wire shape. The "result" type is the one
// special server reply that does not decode field-for-field.
type wireMessage struct {
	ID        string         `json:"id,omitempty"`
	UUID      string         `json:"uuid,omitempty"`
	Type      string         `json:"type"`
	Subtype   string         `json:"subtype,omitempty"`
	Content   string         `json:"content,omitempty"`
	Result    string         `json:"result,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
}

// DecodeOne decodes a single JSON object into a Message. The special
// "result" reply shape normalizes to a text-kind Message. Anything that is
// not valid JSON fails with a *ParseError.
func DecodeOne(text string) (Message, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		observability.RecordDecode(false)
		return Message{}, &ParseError{Reason: "empty input"}
	}

	var wire wireMessage
	if err := json.Unmarshal([]byte(trimmed), &wire); err != nil {
		observability.RecordDecode(false)
		return Message{}, &ParseError{Reason: "invalid JSON", Input: trimmed, Err: err}
	}

	msg := fromWire(wire)
	observability.RecordDecode(true)
	return msg, nil
}

// DecodeMany decodes text holding a single object, a JSON array of objects,
// or a newline-delimited stream block.
func DecodeMany(text string) ([]Message, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var wires []wireMessage
		if err := json.Unmarshal([]byte(trimmed), &wires); err != nil {
			observability.RecordDecode(false)
			return nil, &ParseError{Reason: "invalid JSON array", Err: err}
		}
		msgs := make([]Message, 0, len(wires))
		for _, w := range wires {
			msgs = append(msgs, fromWire(w))
		}
		observability.RecordDecode(true)
		return msgs, nil
	}

	if !strings.Contains(trimmed, "\n") {
		msg, err := DecodeOne(strings.TrimPrefix(trimmed, streamMarker))
		if err != nil {
			return nil, err
		}
		return []Message{msg}, nil
	}

	return seqCollect(DecodeStreamingBlock(trimmed))
}

// DecodeStreamingBlock lazily decodes a newline-delimited block. Blank
// lines and comment lines are ignored; a leading stream marker is stripped;
// malformed lines are skipped with a warning, never aborting the block.
func DecodeStreamingBlock(text string) *MessageSeq {
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &MessageSeq{scanner: scanner}
}

// MessageSeq is a lazy, pull-based message sequence over a stream block.
// It satisfies the seq.Sequence[Message] contract.
type MessageSeq struct {
	scanner *bufio.Scanner
	peeked  bool
	peek    Message
	done    bool
}

// HasNext reports whether another decodable line remains.
func (s *MessageSeq) HasNext(ctx context.Context) (bool, error) {
	if s.peeked {
		return true, nil
	}
	if s.done {
		return false, nil
	}
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if !s.scanner.Scan() {
			s.done = true
			return false, nil
		}
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		line = strings.TrimPrefix(line, streamMarker)
		if !IsValidJSON(line) {
			observability.RecordDecodeSkipped()
			log.Warn().Str("line", truncate(line, 200)).Msg("Skipping malformed stream line")
			continue
		}
		msg, err := DecodeOne(line)
		if err != nil {
			observability.RecordDecodeSkipped()
			log.Warn().Err(err).Str("line", truncate(line, 200)).Msg("Skipping undecodable stream line")
			continue
		}
		s.peek = msg
		s.peeked = true
		return true, nil
	}
}

// Next returns the next decoded message.
func (s *MessageSeq) Next(ctx context.Context) (Message, error) {
	ok, err := s.HasNext(ctx)
	if err != nil {
		return Message{}, err
	}
	if !ok {
		return Message{}, seq.ErrExhausted
	}
	msg := s.peek
	s.peek = Message{}
	s.peeked = false
	return msg, nil
}

// DecodeStreamLine decodes one line of a live stream. It reports ok=false
// for blank, comment, and malformed lines, which callers should skip.
func DecodeStreamLine(line string) (Message, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "//") {
		return Message{}, false
	}
	trimmed = strings.TrimPrefix(trimmed, streamMarker)
	if !IsValidJSON(trimmed) {
		observability.RecordDecodeSkipped()
		log.Warn().Str("line", truncate(trimmed, 200)).Msg("Skipping malformed stream line")
		return Message{}, false
	}
	msg, err := DecodeOne(trimmed)
	if err != nil {
		observability.RecordDecodeSkipped()
		return Message{}, false
	}
	return msg, true
}

// IsValidJSON is a cheap tokenizer-only validity probe used to pre-filter
// streaming lines before a full decode.
func IsValidJSON(text string) bool {
	return json.Valid([]byte(text))
}

func fromWire(wire wireMessage) Message {
	msg := Message{
		ID:        wire.ID,
		Kind:      Kind(wire.Type),
		Subtype:   wire.Subtype,
		Content:   wire.Content,
		Meta:      wire.Meta,
		CreatedAt: wire.Timestamp,
	}

	// The "result" reply normalizes to a text message carrying the result
	// string, keyed by its uuid when present.
	if wire.Type == "result" {
		msg.Kind = KindText
		msg.Content = wire.Result
		if msg.ID == "" {
			msg.ID = wire.UUID
		}
	} else if msg.ID == "" && wire.UUID != "" {
		msg.ID = wire.UUID
	}

	if msg.Kind == "" {
		msg.Kind = KindText
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	return msg
}

func seqCollect(s *MessageSeq) ([]Message, error) {
	return seq.Collect[Message](context.Background(), s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
