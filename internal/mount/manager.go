// Package mount tracks the single active FUSE mount of a snapshot archive.
package mount

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	// ErrAlreadyMounted is returned when a mount is requested while a
	// snapshot is still mounted.
	ErrAlreadyMounted = errors.New("a snapshot is already mounted")

	// ErrNotMounted is returned when an unmount is requested with no
	// active mount.
	ErrNotMounted = errors.New("no snapshot is mounted")
)

// State describes the currently mounted snapshot.
type State struct {
	Snapshot   string
	Mountpoint string
}

// MountFunc performs the client mount step once the mountpoint is prepared.
type MountFunc func(ctx context.Context) error

// Manager serializes mount and unmount operations and remembers which
// snapshot is mounted where. The backup client daemonizes its own FUSE
// process, so unmounting goes through fusermount with umount as fallback.
type Manager struct {
	mu       sync.Mutex
	active   *State
	helper   string
	fallback string
	logger   zerolog.Logger
}

// NewManager creates a Manager using the system unmount helpers.
func NewManager(logger zerolog.Logger) *Manager {
	return NewManagerWithHelpers("fusermount", "umount", logger)
}

// NewManagerWithHelpers creates a Manager with custom unmount helper
// binaries.
func NewManagerWithHelpers(helper, fallback string, logger zerolog.Logger) *Manager {
	return &Manager{
		helper:   helper,
		fallback: fallback,
		logger:   logger.With().Str("component", "mount_manager").Logger(),
	}
}

// Active returns the current mount state, if any.
func (m *Manager) Active() (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return State{}, false
	}
	return *m.active, true
}

// Mount prepares the mountpoint and runs fn to mount the snapshot there.
// Only one snapshot can be mounted at a time; a second request fails
// before fn is invoked.
func (m *Manager) Mount(ctx context.Context, snapshot, mountpoint string, fn MountFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return fmt.Errorf("%w: %s at %s", ErrAlreadyMounted, m.active.Snapshot, m.active.Mountpoint)
	}

	if err := os.MkdirAll(mountpoint, 0755); err != nil {
		return fmt.Errorf("create mount directory: %w", err)
	}

	m.logger.Info().
		Str("snapshot", snapshot).
		Str("mountpoint", mountpoint).
		Msg("mounting snapshot")

	// The mountpoint may be a pre-existing directory, so it is left in
	// place when the mount fails.
	if err := fn(ctx); err != nil {
		return err
	}

	m.active = &State{Snapshot: snapshot, Mountpoint: mountpoint}

	m.logger.Info().
		Str("mountpoint", mountpoint).
		Msg("snapshot mounted")

	return nil
}

// Unmount releases the active mount and returns what was unmounted.
// The mount stays registered when both unmount helpers fail.
func (m *Manager) Unmount(ctx context.Context) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return State{}, ErrNotMounted
	}

	state := *m.active

	m.logger.Info().
		Str("snapshot", state.Snapshot).
		Str("mountpoint", state.Mountpoint).
		Msg("unmounting snapshot")

	if err := m.runHelper(ctx, m.helper, "-u", state.Mountpoint); err != nil {
		m.logger.Warn().
			Err(err).
			Str("mountpoint", state.Mountpoint).
			Msg("fusermount failed, trying umount")

		if err := m.runHelper(ctx, m.fallback, state.Mountpoint); err != nil {
			return State{}, fmt.Errorf("unmount %s: %w", state.Mountpoint, err)
		}
	}

	m.active = nil

	m.logger.Info().
		Str("mountpoint", state.Mountpoint).
		Msg("unmount completed")

	return state, nil
}

// ReleasePath unmounts a path this process does not track, cleaning up
// mounts left behind by an earlier session. The tracked mount is
// cleared when it points at the same path.
func (m *Manager) ReleasePath(ctx context.Context, mountpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info().
		Str("mountpoint", mountpoint).
		Msg("releasing mountpoint")

	if err := m.runHelper(ctx, m.helper, "-u", mountpoint); err != nil {
		m.logger.Warn().
			Err(err).
			Str("mountpoint", mountpoint).
			Msg("fusermount failed, trying umount")

		if err := m.runHelper(ctx, m.fallback, mountpoint); err != nil {
			return fmt.Errorf("unmount %s: %w", mountpoint, err)
		}
	}

	if m.active != nil && m.active.Mountpoint == mountpoint {
		m.active = nil
	}
	return nil
}

// OnShutdown releases any active mount so it does not outlive the
// process. A missing mount is not an error here.
func (m *Manager) OnShutdown(ctx context.Context) error {
	_, err := m.Unmount(ctx)
	if errors.Is(err, ErrNotMounted) {
		return nil
	}
	return err
}

func (m *Manager) runHelper(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}
