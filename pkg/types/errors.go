package types

import (
	"errors"
	"fmt"
)

// Error taxonomy for lifecycle operations. Idempotent operations swallow
// ErrNotFound at the driver boundary; everything else propagates to the
// action boundary with enough detail to log and to mark the server in error.
var (
	// ErrNotFound covers an unknown server name or an absent container.
	ErrNotFound = errors.New("not found")

	// ErrEngineUnreachable means the engine socket itself is unavailable,
	// which implies the whole fleet is affected.
	ErrEngineUnreachable = errors.New("container engine unreachable")

	// ErrStartupTimeout is returned when the startup watchdog fires before
	// the server reaches running.
	ErrStartupTimeout = errors.New("startup watchdog expired")

	// ErrPermissionFix means the ownership-fix helper container exited
	// non-zero; the server start must not proceed.
	ErrPermissionFix = errors.New("mount permission fix failed")
)

// NotFoundf wraps ErrNotFound with context.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
