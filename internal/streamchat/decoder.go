package streamchat

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/54b3r/ragchat-go/internal/api"
)

// messageDelimiter ends one SSE message.
var messageDelimiter = []byte("\n\n")

// errMissingItemType rejects events whose itemType field is absent.
var errMissingItemType = errors.New("streamchat: event has no itemType")

// dataPrefix marks a line carrying a JSON event payload.
const dataPrefix = "data:"

// Decoder turns a chunked SSE byte stream into StreamEvents. It is not safe
// for concurrent use; exactly one read loop drives it.
//
// The decoder alternates between two states: awaiting more bytes (no
// delimiter in the unscanned tail) and message ready (a delimiter was found
// and the message before it is processed). scanned records how much of the
// buffer has already been searched so a long partial message is never
// rescanned from the start.
type Decoder struct {
	// buf holds bytes received but not yet consumed as complete messages.
	buf []byte
	// scanned is the number of leading bytes of buf known to contain no
	// delimiter start.
	scanned int
	// log receives malformed-payload warnings.
	log *slog.Logger
	// onMalformed, when set, is called for every payload that fails to parse.
	onMalformed func(payload string, err error)
}

// NewDecoder returns a Decoder that logs malformed payloads to log.
// A nil log uses slog.Default.
func NewDecoder(log *slog.Logger) *Decoder {
	if log == nil {
		log = slog.Default()
	}
	return &Decoder{log: log}
}

// OnMalformed registers fn to be called for each skipped payload.
func (d *Decoder) OnMalformed(fn func(payload string, err error)) {
	d.onMalformed = fn
}

// Feed appends chunk to the buffer and returns the events of every message
// completed by it, in arrival order.
func (d *Decoder) Feed(chunk []byte) []api.StreamEvent {
	d.buf = append(d.buf, chunk...)

	var events []api.StreamEvent
	for {
		// Back up one byte: the previous chunk may have ended on the first
		// newline of the delimiter.
		from := max(d.scanned-1, 0)
		idx := bytes.Index(d.buf[from:], messageDelimiter)
		if idx < 0 {
			d.scanned = len(d.buf)
			return events
		}
		end := from + idx
		events = d.processMessage(string(d.buf[:end]), events)
		d.buf = d.buf[end+len(messageDelimiter):]
		d.scanned = 0
	}
}

// Flush processes whatever remains in the buffer as a final message. The
// server may close the connection without a trailing delimiter.
func (d *Decoder) Flush() []api.StreamEvent {
	rest := string(d.buf)
	d.buf = nil
	d.scanned = 0
	return d.processMessage(rest, nil)
}

// Buffered reports the number of bytes waiting for a delimiter.
func (d *Decoder) Buffered() int { return len(d.buf) }

// processMessage parses every data: line of msg and appends the decoded
// events to dst.
func (d *Decoder) processMessage(msg string, dst []api.StreamEvent) []api.StreamEvent {
	if strings.TrimSpace(msg) == "" {
		return dst
	}
	for line := range strings.SplitSeq(msg, "\n") {
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := strings.TrimSpace(line[len(dataPrefix):])
		if payload == "" {
			continue
		}
		var ev api.StreamEvent
		err := json.Unmarshal([]byte(payload), &ev)
		if err == nil && !ev.ItemType.Valid() {
			err = errMissingItemType
		}
		if err != nil {
			d.log.Warn("streamchat: skipping malformed event",
				slog.String("payload", payload),
				slog.Any("error", err),
			)
			if d.onMalformed != nil {
				d.onMalformed(payload, err)
			}
			continue
		}
		dst = append(dst, ev)
	}
	return dst
}
