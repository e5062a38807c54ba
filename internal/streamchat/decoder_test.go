package streamchat

import (
	"strings"
	"testing"

	"github.com/54b3r/ragchat-go/internal/api"
	"github.com/54b3r/ragchat-go/internal/logging"
)

// sampleStream is a short stream with every item type and a comment line.
const sampleStream = `data: {"model":"llama3","conversationId":7,"itemType":"THINKING","output":"hmm"}

: keep-alive

data: {"model":"llama3","conversationId":7,"itemType":"RAG_DOCUMENT","vectorSearchResult":{"text":"doc","metadata":{"source":"a.pdf"},"score":0.9}}

event: message
id: 3
data: {"model":"llama3","conversationId":7,"itemType":"CONTENT","output":"Hello"}

data: {"model":"llama3","conversationId":7,"itemType":"CONTENT","output":", world"}

data: {"model":"llama3","conversationId":7,"itemType":"META_DATA","totalTokensUsed":12,"completionTokensUsed":4,"promptTokensUsed":8,"queryRewrite":"greeting"}

`

func decodeAll(t *testing.T, chunks []string) []api.StreamEvent {
	t.Helper()
	d := NewDecoder(logging.Discard())
	var out []api.StreamEvent
	for _, c := range chunks {
		out = append(out, d.Feed([]byte(c))...)
	}
	return append(out, d.Flush()...)
}

func itemTypes(evs []api.StreamEvent) []api.ItemType {
	out := make([]api.ItemType, len(evs))
	for i, ev := range evs {
		out[i] = ev.ItemType
	}
	return out
}

func equalEvents(t *testing.T, got, want []api.StreamEvent) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("want %d events, got %d (%v)", len(want), len(got), itemTypes(got))
	}
	for i := range want {
		if got[i].ItemType != want[i].ItemType || got[i].Output != want[i].Output ||
			got[i].ConversationID != want[i].ConversationID || got[i].Model != want[i].Model {
			t.Errorf("event %d: want %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestDecoder_SingleChunk(t *testing.T) {
	t.Parallel()

	evs := decodeAll(t, []string{sampleStream})

	want := []api.ItemType{api.ItemThinking, api.ItemRAGDocument, api.ItemContent, api.ItemContent, api.ItemMetaData}
	got := itemTypes(evs)
	if len(got) != len(want) {
		t.Fatalf("want %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: want %s, got %s", i, want[i], got[i])
		}
	}

	rag := evs[1].VectorSearchResult
	if rag == nil || rag.Text != "doc" || rag.Score == nil || *rag.Score != 0.9 {
		t.Errorf("unexpected vector search result: %+v", rag)
	}
	if evs[4].TotalTokensUsed == nil || *evs[4].TotalTokensUsed != 12 {
		t.Errorf("want totalTokensUsed=12, got %v", evs[4].TotalTokensUsed)
	}
}

// TestDecoder_ChunkBoundaryInvariance splits the stream at every possible
// byte offset, and into single bytes, and expects the same events each time.
func TestDecoder_ChunkBoundaryInvariance(t *testing.T) {
	t.Parallel()

	want := decodeAll(t, []string{sampleStream})

	for i := 1; i < len(sampleStream); i++ {
		got := decodeAll(t, []string{sampleStream[:i], sampleStream[i:]})
		equalEvents(t, got, want)
	}

	bytewise := make([]string, 0, len(sampleStream))
	for i := range len(sampleStream) {
		bytewise = append(bytewise, sampleStream[i:i+1])
	}
	equalEvents(t, decodeAll(t, bytewise), want)
}

func TestDecoder_DelimiterSplitAcrossChunks(t *testing.T) {
	t.Parallel()

	d := NewDecoder(logging.Discard())
	if evs := d.Feed([]byte(`data: {"itemType":"CONTENT","output":"a"}` + "\n")); len(evs) != 0 {
		t.Fatalf("want no events before delimiter completes, got %d", len(evs))
	}
	evs := d.Feed([]byte("\n"))
	if len(evs) != 1 || evs[0].Output != "a" {
		t.Fatalf("want one event with output a, got %+v", evs)
	}
	if d.Buffered() != 0 {
		t.Errorf("want empty buffer, got %d bytes", d.Buffered())
	}
}

func TestDecoder_MalformedPayloadSkipped(t *testing.T) {
	t.Parallel()

	var skipped []string
	d := NewDecoder(logging.Discard())
	d.OnMalformed(func(payload string, _ error) { skipped = append(skipped, payload) })

	stream := "data: {bad json\n\n" +
		`data: {"itemType":"CONTENT","output":"ok"}` + "\n\n" +
		`data: {"itemType":"SOMETHING_ELSE","output":"x"}` + "\n\n" +
		`data: {"output":"no type"}` + "\n\n" +
		`data: {"itemType":"CONTENT","output":"!"}` + "\n\n"

	evs := append(d.Feed([]byte(stream)), d.Flush()...)

	if len(evs) != 2 || evs[0].Output != "ok" || evs[1].Output != "!" {
		t.Fatalf("want [ok !], got %+v", evs)
	}
	if len(skipped) != 3 {
		t.Errorf("want 3 malformed payloads, got %d: %q", len(skipped), skipped)
	}
}

func TestDecoder_NoTrailingDelimiter(t *testing.T) {
	t.Parallel()

	evs := decodeAll(t, []string{
		`data: {"itemType":"CONTENT","output":"first"}` + "\n\n",
		`data: {"itemType":"CONTENT","output":"last"}`,
	})
	if len(evs) != 2 || evs[1].Output != "last" {
		t.Fatalf("want final event without delimiter to be decoded, got %+v", evs)
	}
}

func TestDecoder_IgnoresBlankAndNonDataLines(t *testing.T) {
	t.Parallel()

	evs := decodeAll(t, []string{
		"\n\n   \n\n",
		"event: ping\nid: 1\n: comment\n\n",
		"data:\n\n",
		"data:    \n\n",
	})
	if len(evs) != 0 {
		t.Fatalf("want no events, got %+v", evs)
	}
}

func TestDecoder_MultipleDataLinesInOneMessage(t *testing.T) {
	t.Parallel()

	evs := decodeAll(t, []string{
		`data: {"itemType":"THINKING","output":"a"}` + "\n" +
			`data:{"itemType":"CONTENT","output":"b"}` + "\n\n",
	})
	if len(evs) != 2 || evs[0].Output != "a" || evs[1].Output != "b" {
		t.Fatalf("want both data lines decoded in order, got %+v", evs)
	}
}

func TestDecoder_LargeMessageAcrossManyChunks(t *testing.T) {
	t.Parallel()

	big := strings.Repeat("x", 64*1024)
	msg := `data: {"itemType":"CONTENT","output":"` + big + `"}` + "\n\n"

	d := NewDecoder(logging.Discard())
	var evs []api.StreamEvent
	for i := 0; i < len(msg); i += 1000 {
		evs = append(evs, d.Feed([]byte(msg[i:min(i+1000, len(msg))]))...)
	}
	if len(evs) != 1 || len(evs[0].Output) != len(big) {
		t.Fatalf("want one large event, got %d events", len(evs))
	}
}
