package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/pkg/stdcopy"
)

// StreamLogs attaches to a server container's log stream in follow mode,
// combined stdout+stderr, starting from a recent tail. The returned reader
// yields clean UTF-8 lines; the engine's stream multiplexing is stripped
// here so callers never see it. Closing the reader detaches.
func (d *Driver) StreamLogs(ctx context.Context, server string) (io.ReadCloser, error) {
	raw, err := d.api.ContainerLogs(ctx, containerName(server), dockertypes.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Tail:       d.cfg.LogTail,
	})
	if err != nil {
		return nil, wrapErr("stream logs for "+containerName(server), err)
	}

	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, raw)
		_ = raw.Close()
		pw.CloseWithError(err)
	}()

	return &logStream{pr: pr, raw: raw}, nil
}

type logStream struct {
	pr  *io.PipeReader
	raw io.Closer
}

func (s *logStream) Read(p []byte) (int, error) { return s.pr.Read(p) }

func (s *logStream) Close() error {
	_ = s.raw.Close()
	return s.pr.Close()
}

// StreamStats attaches to a container's continuous stats stream and forwards
// each decoded snapshot. Both channels close when the stream ends; a nil
// error on errCh means clean termination (EOF or context cancellation).
func (d *Driver) StreamStats(ctx context.Context, containerID string) (<-chan StatSnapshot, <-chan error, error) {
	resp, err := d.api.ContainerStats(ctx, containerID, true)
	if err != nil {
		return nil, nil, wrapErr("stream stats for "+containerID, err)
	}

	samples := make(chan StatSnapshot)
	errCh := make(chan error, 1)

	go func() {
		defer resp.Body.Close()
		defer close(samples)
		defer close(errCh)

		dec := json.NewDecoder(resp.Body)
		for {
			var snap StatSnapshot
			if err := dec.Decode(&snap); err != nil {
				if errors.Is(err, io.EOF) || ctx.Err() != nil {
					return
				}
				errCh <- fmt.Errorf("decode stats for %s: %w", containerID, err)
				return
			}
			select {
			case samples <- snap:
			case <-ctx.Done():
				return
			}
		}
	}()

	return samples, errCh, nil
}

// Exec runs a command inside a running container and returns the captured
// output. With a pseudo-terminal the output is the raw combined stream;
// without one stdout and stderr are demultiplexed and concatenated. A
// non-zero exit is an error carrying the output.
func (d *Driver) Exec(ctx context.Context, server string, argv []string, user string, tty bool) (string, error) {
	name := containerName(server)

	exec, err := d.api.ContainerExecCreate(ctx, name, dockertypes.ExecConfig{
		User:         user,
		Cmd:          argv,
		Tty:          tty,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", wrapErr("exec create in "+name, err)
	}

	attach, err := d.api.ContainerExecAttach(ctx, exec.ID, dockertypes.ExecStartCheck{Tty: tty})
	if err != nil {
		return "", wrapErr("exec attach in "+name, err)
	}
	defer attach.Close()

	var buf bytes.Buffer
	if tty {
		_, err = io.Copy(&buf, attach.Reader)
	} else {
		_, err = stdcopy.StdCopy(&buf, &buf, attach.Reader)
	}
	if err != nil {
		return "", fmt.Errorf("exec read in %s: %w", name, err)
	}

	inspect, err := d.api.ContainerExecInspect(ctx, exec.ID)
	if err != nil {
		return "", wrapErr("exec inspect in "+name, err)
	}

	out := strings.TrimRight(buf.String(), "\r\n")
	if inspect.ExitCode != 0 {
		return out, fmt.Errorf("command %v in %s exited with %d: %s", argv, name, inspect.ExitCode, out)
	}
	return out, nil
}
