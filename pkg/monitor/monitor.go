// Package monitor watches a freshly started container's log output and
// decides when the game process has actually finished booting, as opposed to
// the container merely running. Each server gets one sequential session
// driving off → starting → bootstrapping → gameStarting → running, with a
// watchdog forcing failure if the terminal state is not reached in time.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nxadm/tail"

	"github.com/steamfleet/shepherd/pkg/broadcast"
	"github.com/steamfleet/shepherd/pkg/log"
	"github.com/steamfleet/shepherd/pkg/state"
	"github.com/steamfleet/shepherd/pkg/types"
)

// Driver is the slice of the container driver the monitor needs.
type Driver interface {
	StreamLogs(ctx context.Context, server string) (io.ReadCloser, error)
	Stop(ctx context.Context, server string) error
}

// Config holds the injected phase tables and timing bounds.
type Config struct {
	// Bootstrap is matched against the container's own log stream
	// (tooling download / verification / runtime setup).
	Bootstrap []PhaseRule

	// GameLog is matched against the game process's log file.
	GameLog []PhaseRule

	// ServersDir and GameLogRelPath locate a server's game log on the
	// host: <ServersDir>/<name>/<GameLogRelPath>.
	ServersDir     string
	GameLogRelPath string

	// Watchdog bounds the whole session, from starting to running.
	Watchdog time.Duration

	// Grace bounds the wait for confirmation after the log phases end.
	Grace time.Duration
}

func (c *Config) applyDefaults() {
	if c.Watchdog == 0 {
		c.Watchdog = 5 * time.Minute
	}
	if c.Grace == 0 {
		c.Grace = 30 * time.Second
	}
	if c.GameLogRelPath == "" {
		c.GameLogRelPath = filepath.Join("ShooterGame", "Saved", "Logs", "ShooterGame.log")
	}
}

// Monitor runs one startup session per starting server.
type Monitor struct {
	driver Driver
	store  state.Store
	broker *broadcast.Broker
	cfg    Config

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	name     string
	cancel   context.CancelFunc
	statsCh  chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a monitor.
func New(driver Driver, store state.Store, broker *broadcast.Broker, cfg Config) *Monitor {
	cfg.applyDefaults()
	return &Monitor{
		driver:   driver,
		store:    store,
		broker:   broker,
		cfg:      cfg,
		sessions: make(map[string]*session),
	}
}

// Begin starts (or restarts) the startup watch for a server. The status is
// broadcast as startup immediately.
func (m *Monitor) Begin(name string) {
	m.Cancel(name)

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Watchdog)
	s := &session{
		name:    name,
		cancel:  cancel,
		statsCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[name] = s
	m.mu.Unlock()

	m.store.SetState(name, types.StateStarting, "")
	go m.run(ctx, s)
}

// Cancel tears down a server's in-flight session, if any. It does not write
// status; the caller decides what the server's state becomes.
func (m *Monitor) Cancel(name string) {
	m.mu.Lock()
	s := m.sessions[name]
	delete(m.sessions, name)
	m.mu.Unlock()

	if s != nil {
		s.cancel()
		<-s.done
	}
}

// FirstSample tells the monitor that the stats pipeline saw the first
// resource sample for a server. Arriving before log-based confirmation, it
// corroborates the running transition.
func (m *Monitor) FirstSample(name string) {
	m.mu.Lock()
	s := m.sessions[name]
	m.mu.Unlock()

	if s != nil {
		select {
		case s.statsCh <- struct{}{}:
		default:
		}
	}
}

// Stopped reports whether no session is in flight for the server.
func (m *Monitor) Stopped(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[name] == nil
}

func (m *Monitor) run(ctx context.Context, s *session) {
	logger := log.WithServer(s.name)
	defer close(s.done)
	defer func() {
		m.mu.Lock()
		if m.sessions[s.name] == s {
			delete(m.sessions, s.name)
		}
		m.mu.Unlock()
		s.cancel()
	}()

	gameFinal, err := m.watchPhases(ctx, s)
	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			m.watchdogFire(s)
		}
		// Explicit cancellation: the stop path owns the status.
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("startup watch failed")
		m.store.SetState(s.name, types.StateFailed, err.Error())
		return
	}

	if gameFinal {
		logger.Info().Msg("startup complete")
		m.store.SetState(s.name, types.StateRunning, "")
		return
	}

	// Log phases ended without the final keyword; give the stats pipeline a
	// bounded chance to confirm before declaring failure.
	grace := time.NewTimer(m.cfg.Grace)
	defer grace.Stop()
	select {
	case <-s.statsCh:
		logger.Info().Msg("startup confirmed by first resource sample")
		m.store.SetState(s.name, types.StateRunning, "")
	case <-grace.C:
		msg := fmt.Sprintf("no startup confirmation within %s of log phases completing", m.cfg.Grace)
		logger.Error().Msg(msg)
		m.store.SetState(s.name, types.StateFailed, msg)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			m.watchdogFire(s)
		}
	}
}

// watchPhases runs the bootstrap and game-log phases. It returns whether the
// game log's final keyword (or an equivalent stats confirmation) was seen.
func (m *Monitor) watchPhases(ctx context.Context, s *session) (bool, error) {
	// Phase 1: the container's own bootstrap output. The session begins when
	// the start is requested, which can be well ahead of the container
	// existing, so the attach is retried until the watchdog bounds it.
	stream, err := m.openLogStream(ctx, s.name)
	if err != nil {
		return false, nil
	}
	m.store.SetState(s.name, types.StateBootstrapping, "")

	seen := make(map[string]bool)
	final, _, err := m.scan(ctx, s, readerLines(ctx, stream), m.cfg.Bootstrap, "bootstrap", seen, false)
	stream.Close()
	if ctx.Err() != nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("bootstrap log stream: %w", err)
	}
	if !final {
		// Follow-mode streams only end when the container does.
		return false, errors.New("container log stream ended before bootstrap completed")
	}

	// A sample that arrived during bootstrap does not corroborate the game
	// phase; only samples from here on count.
	select {
	case <-s.statsCh:
	default:
	}

	// Phase 2: the game process's own log file, when it exists.
	m.store.SetState(s.name, types.StateGameStarting, "")

	path := filepath.Join(m.cfg.ServersDir, s.name, m.cfg.GameLogRelPath)
	if _, err := os.Stat(path); err != nil {
		// Nothing to watch; proceed to confirmation.
		log.WithServer(s.name).Debug().Str("path", path).Msg("game log absent, skipping phase")
		return false, nil
	}

	t, err := tail.TailFile(path, tail.Config{Follow: true, ReOpen: true, MustExist: false, Logger: tail.DiscardingLogger})
	if err != nil {
		return false, fmt.Errorf("tail game log: %w", err)
	}
	defer func() {
		_ = t.Stop()
		t.Cleanup()
	}()

	seen = make(map[string]bool)
	final, stats, err := m.scan(ctx, s, tailLines(ctx, t), m.cfg.GameLog, "gamelog", seen, true)
	if ctx.Err() != nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("game log stream: %w", err)
	}
	return final || stats, nil
}

// openLogStream attaches to the container's log stream, retrying while the
// container is not there yet. Only session cancellation or the watchdog
// deadline ends the wait.
func (m *Monitor) openLogStream(ctx context.Context, name string) (io.ReadCloser, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		stream, err := m.driver.StreamLogs(ctx, name)
		if err == nil {
			return stream, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// scan consumes lines until a final rule matches, the stream ends, or (when
// actOnStats is set) the first resource sample arrives. Each label is
// broadcast as a log event exactly once, even if its line recurs.
func (m *Monitor) scan(ctx context.Context, s *session, lines <-chan line, rules []PhaseRule, source string, seen map[string]bool, actOnStats bool) (final, stats bool, err error) {
	for {
		var statsCh chan struct{}
		if actOnStats {
			statsCh = s.statsCh
		}

		select {
		case l, ok := <-lines:
			if !ok {
				return false, false, nil
			}
			if l.err != nil {
				return false, false, l.err
			}
			rule, ok := matchRule(l.text, rules)
			if !ok || seen[rule.Label] {
				continue
			}
			seen[rule.Label] = true
			m.broker.Publish(broadcast.NewLogEvent(s.name, broadcast.LogPayload{
				Message:   rule.Label,
				Timestamp: time.Now(),
				Source:    source,
			}))
			if rule.Final {
				return true, false, nil
			}
		case <-statsCh:
			return false, true, nil
		case <-ctx.Done():
			return false, false, nil
		}
	}
}

// watchdogFire forces the container down and records the failure. The stop
// call happens exactly once per session no matter how the timeout surfaces.
func (m *Monitor) watchdogFire(s *session) {
	s.stopOnce.Do(func() {
		msg := fmt.Sprintf("server did not reach running within %s", m.cfg.Watchdog)
		log.WithServer(s.name).Error().Msg(msg)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := m.driver.Stop(ctx, s.name); err != nil {
			log.WithServer(s.name).Error().Err(err).Msg("failed to stop container after watchdog")
		}
		m.store.SetState(s.name, types.StateFailed, msg)
	})
}
