package rcon

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExec struct {
	out  string
	err  error
	argv []string
	user string
}

func (f *fakeExec) Exec(ctx context.Context, server string, argv []string, user string, tty bool) (string, error) {
	f.argv = argv
	f.user = user
	return f.out, f.err
}

func TestParsePlayerList(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want int
	}{
		{
			name: "no players",
			out:  "No Players Connected\n",
			want: 0,
		},
		{
			name: "empty output",
			out:  "",
			want: 0,
		},
		{
			name: "three players",
			out:  "0. Alice, 76561198000000001\n1. Bob, 76561198000000002\n2. Carol, 76561198000000003\n",
			want: 3,
		},
		{
			name: "blank and noise lines ignored",
			out:  "\n0. Alice, 76561198000000001\n\nserver said something\n",
			want: 1,
		},
		{
			name: "player name containing a dot",
			out:  "0. Mr. Smith, 76561198000000001\n",
			want: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parsePlayerList(tt.out); got != tt.want {
				t.Errorf("parsePlayerList() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSendCommandArgv(t *testing.T) {
	exec := &fakeExec{out: "ok"}
	cap := NewExecCapability(exec)

	out, err := cap.SendCommand(context.Background(), "island", "SaveWorld")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, []string{"asa-ctrl", "rcon", "--exec", "SaveWorld"}, exec.argv)
	assert.Equal(t, "gameserver", exec.user)
}

func TestPlayerCountPropagatesExecFailure(t *testing.T) {
	cap := NewExecCapability(&fakeExec{err: errors.New("container not running")})

	_, err := cap.PlayerCount(context.Background(), "island")
	assert.Error(t, err)
}

func TestPlayerCount(t *testing.T) {
	cap := NewExecCapability(&fakeExec{out: "0. Alice, 1\n1. Bob, 2\n"})

	n, err := cap.PlayerCount(context.Background(), "island")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
