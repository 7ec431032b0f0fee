package monitor

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/nxadm/tail"
)

// PhaseRule is one entry of an ordered keyword table: a substring to look
// for, the label broadcast on its first match, and whether the match ends
// the phase. The tables are configuration data, not engine logic.
type PhaseRule struct {
	Match string `yaml:"match"`
	Label string `yaml:"label"`
	Final bool   `yaml:"final"`
}

// line is one log line, or the terminal error of its stream.
type line struct {
	text string
	err  error
}

// readerLines pumps lines from a byte stream into a channel. The channel
// closes when the stream ends; a read failure is delivered as the final
// element. The goroutine exits when the stream is closed or the context is
// cancelled.
func readerLines(ctx context.Context, r io.Reader) <-chan line {
	out := make(chan line)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case out <- line{text: scanner.Text()}:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case out <- line{err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return out
}

// tailLines adapts a followed file to the same channel shape.
func tailLines(ctx context.Context, t *tail.Tail) <-chan line {
	out := make(chan line)
	go func() {
		defer close(out)
		for {
			select {
			case l, ok := <-t.Lines:
				if !ok {
					return
				}
				if l.Err != nil {
					select {
					case out <- line{err: l.Err}:
					case <-ctx.Done():
					}
					return
				}
				select {
				case out <- line{text: l.Text}:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// matchRule tests a line against the table in order and returns the first
// matching rule.
func matchRule(text string, rules []PhaseRule) (PhaseRule, bool) {
	for _, r := range rules {
		if r.Match != "" && strings.Contains(text, r.Match) {
			return r, true
		}
	}
	return PhaseRule{}, false
}
