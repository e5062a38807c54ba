package budget

import (
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
)

func Test_Estimate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcdefgh", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		if got := Estimate(tc.input); got != tc.want {
			t.Errorf("Estimate(%q) = %d, want %d", tc.input, got, tc.want)
		}
	}
}

func Test_EstimateUsage(t *testing.T) {
	t.Parallel()
	prompt := []*schema.Message{
		schema.SystemMessage("be terse"), // 4 + Estimate("system")=1 + 2 = 7
		schema.UserMessage("hello world"), // 4 + 1 + 2 = 7
	}
	u := EstimateUsage(prompt, strings.Repeat("y", 40))
	if u.Prompt != 14 || u.Completion != 10 || u.Total() != 24 {
		t.Errorf("unexpected usage: %+v total=%d", u, u.Total())
	}
}

func Test_TrimHistory_NoTrimNeeded(t *testing.T) {
	t.Parallel()
	fixed := []*schema.Message{schema.SystemMessage("sys")}
	history := []*schema.Message{
		schema.UserMessage("what is in the report?"),
		schema.AssistantMessage("a summary", nil),
	}
	if got := TrimHistory(fixed, history, DefaultMaxContextTokens); len(got) != 2 {
		t.Errorf("want 2 history messages, got %d", len(got))
	}
}

func Test_TrimHistory_DropsOldest(t *testing.T) {
	t.Parallel()
	// Each message costs 4 + Estimate("user")=1 + 1 = 6; a budget of 7 fits one.
	history := []*schema.Message{
		schema.UserMessage("oldest"),
		schema.UserMessage("newest"),
	}
	got := TrimHistory(nil, history, 7)
	if len(got) != 1 || got[0].Content != "newest" {
		t.Fatalf("want only the newest message retained, got %v", got)
	}
}

func Test_TrimHistory_FixedExceedsBudget(t *testing.T) {
	t.Parallel()
	fixed := []*schema.Message{schema.SystemMessage(strings.Repeat("x", 4*7000))}
	history := []*schema.Message{schema.UserMessage("a"), schema.UserMessage("b")}
	if got := TrimHistory(fixed, history, 6000); len(got) != 0 {
		t.Errorf("want 0 history messages, got %d", len(got))
	}
}
