package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestChildLoggerCarriesField(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	WithServer("island").Info().Msg("hello")

	line := buf.String()
	if !strings.Contains(line, `"server":"island"`) {
		t.Errorf("expected server field in output, got %q", line)
	}
	if !strings.Contains(line, "hello") {
		t.Errorf("expected message in output, got %q", line)
	}
}

func TestChainedLevelCalls(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	WithComponent("api").Debug().Str("addr", ":8200").Msg("listening")
	WithContainer("abc123").Warn().Msg("slow stream")

	out := buf.String()
	if !strings.Contains(out, `"component":"api"`) {
		t.Errorf("missing component field: %q", out)
	}
	if !strings.Contains(out, `"container_id":"abc123"`) {
		t.Errorf("missing container_id field: %q", out)
	}
}
