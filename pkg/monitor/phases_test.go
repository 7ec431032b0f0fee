package monitor

import (
	"context"
	"strings"
	"testing"
)

func TestMatchRuleOrderedFirstWins(t *testing.T) {
	rules := []PhaseRule{
		{Match: "downloading, progress: 100", Label: "download complete"},
		{Match: "downloading", Label: "downloading"},
	}

	tests := []struct {
		line      string
		wantLabel string
		wantOK    bool
	}{
		{"Update state (0x61) downloading, progress: 100,00", "download complete", true},
		{"Update state (0x61) downloading, progress: 42,80", "downloading", true},
		{"Success! App fully installed.", "", false},
	}

	for _, tt := range tests {
		rule, ok := matchRule(tt.line, rules)
		if ok != tt.wantOK || rule.Label != tt.wantLabel {
			t.Errorf("matchRule(%q) = (%q, %v), want (%q, %v)", tt.line, rule.Label, ok, tt.wantLabel, tt.wantOK)
		}
	}
}

func TestReaderLines(t *testing.T) {
	input := "first\nsecond\nthird"
	lines := readerLines(context.Background(), strings.NewReader(input))

	var got []string
	for l := range lines {
		if l.err != nil {
			t.Fatalf("unexpected stream error: %v", l.err)
		}
		got = append(got, l.text)
	}

	want := []string{"first", "second", "third"}
	if len(got) != len(want) {
		t.Fatalf("got %d lines, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}
