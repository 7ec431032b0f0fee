// Package rcon exposes the RCON capability the engine consumes: execute a
// command against a server's game process and read the current player
// count. The wire protocol itself lives in the game image's bundled rcon
// client; this package only drives it through an in-container exec.
package rcon

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Capability is the consumed RCON boundary.
type Capability interface {
	// SendCommand executes an RCON command against the named server and
	// returns its output text.
	SendCommand(ctx context.Context, server, command string) (string, error)

	// PlayerCount returns the number of connected players. An error means
	// the count is unavailable (which also means the game process did not
	// respond).
	PlayerCount(ctx context.Context, server string) (int, error)
}

// Exec is the slice of the container driver used to run the in-container
// rcon client.
type Exec interface {
	Exec(ctx context.Context, server string, argv []string, user string, tty bool) (string, error)
}

// ExecCapability drives the rcon client bundled in the game image.
type ExecCapability struct {
	exec Exec

	// Binary is the in-container rcon client path.
	Binary string

	// User the exec runs as inside the container.
	User string
}

// NewExecCapability creates the exec-backed capability.
func NewExecCapability(exec Exec) *ExecCapability {
	return &ExecCapability{
		exec:   exec,
		Binary: "asa-ctrl",
		User:   "gameserver",
	}
}

// SendCommand runs `<binary> rcon --exec <command>` inside the container.
func (c *ExecCapability) SendCommand(ctx context.Context, server, command string) (string, error) {
	out, err := c.exec.Exec(ctx, server, []string{c.Binary, "rcon", "--exec", command}, c.User, false)
	if err != nil {
		return "", fmt.Errorf("rcon %q on %s: %w", command, server, err)
	}
	return out, nil
}

// PlayerCount issues a ListPlayers query and counts the response lines.
func (c *ExecCapability) PlayerCount(ctx context.Context, server string) (int, error) {
	out, err := c.SendCommand(ctx, server, "ListPlayers")
	if err != nil {
		return 0, err
	}
	return parsePlayerList(out), nil
}

// parsePlayerList counts entries in a ListPlayers response. The game answers
// either "No Players Connected" or one "N. name, id" line per player.
func parsePlayerList(out string) int {
	count := 0
	for _, raw := range strings.Split(out, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.Contains(line, "No Players Connected") {
			continue
		}
		idx := strings.Index(line, ".")
		if idx <= 0 {
			continue
		}
		if _, err := strconv.Atoi(line[:idx]); err == nil {
			count++
		}
	}
	return count
}
