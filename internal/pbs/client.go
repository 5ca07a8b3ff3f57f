package pbs

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"github.com/masterjuggler/proxmox-backup-gui/internal/catalog"
	"github.com/masterjuggler/proxmox-backup-gui/internal/config"
	"github.com/masterjuggler/proxmox-backup-gui/internal/proc"
)

// DefaultBinary is the backup client executable driven by this package.
const DefaultBinary = "proxmox-backup-client"

var (
	// ErrIncompleteProfile is returned when a profile lacks the fields an
	// operation needs. It is raised before any process is spawned.
	ErrIncompleteProfile = errors.New("profile is incomplete")
	// ErrCommandFailed is returned when the backup client exits non-zero.
	// The wrapped message carries the client's stderr verbatim.
	ErrCommandFailed = errors.New("proxmox-backup-client failed")
)

// Available reports whether the backup client binary can be found on PATH.
func Available() error {
	if _, err := exec.LookPath(DefaultBinary); err != nil {
		return fmt.Errorf("%s not found in PATH: %w", DefaultBinary, err)
	}
	return nil
}

// Client runs proxmox-backup-client operations for a profile.
type Client struct {
	binary string
	runner *proc.Runner
	logger zerolog.Logger
}

// NewClient creates a Client using the proxmox-backup-client binary from
// PATH.
func NewClient(runner *proc.Runner, logger zerolog.Logger) *Client {
	return NewClientWithBinary(DefaultBinary, runner, logger)
}

// NewClientWithBinary creates a Client with a custom binary path.
func NewClientWithBinary(binary string, runner *proc.Runner, logger zerolog.Logger) *Client {
	return &Client{
		binary: binary,
		runner: runner,
		logger: logger.With().Str("component", "pbs").Logger(),
	}
}

// Binary returns the executable the client drives.
func (c *Client) Binary() string {
	return c.binary
}

// requireCredentials rejects profiles that cannot reach a repository.
func requireCredentials(p config.Profile) error {
	if !p.HasCredentials() {
		return fmt.Errorf("%w: repository and API key are required", ErrIncompleteProfile)
	}
	return nil
}

// requireComplete rejects profiles that cannot run a backup.
func requireComplete(p config.Profile) error {
	if !p.Complete() {
		return fmt.Errorf("%w: repository, API key, and at least one backup source are required", ErrIncompleteProfile)
	}
	return nil
}

// runJSON executes a bounded command and returns its stdout on success.
func (c *Client) runJSON(ctx context.Context, p config.Profile, args []string) ([]byte, error) {
	res, err := c.runner.RunSync(ctx, c.binary, args, Env(p))
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("%w: %s", ErrCommandFailed, strings.TrimSpace(res.Stderr))
	}
	return []byte(res.Stdout), nil
}

// TestConnection verifies that the repository is reachable with the
// profile's credentials by listing its contents.
func (c *Client) TestConnection(ctx context.Context, p config.Profile) error {
	if err := requireCredentials(p); err != nil {
		return err
	}

	c.logger.Info().Str("repository", p.Repository).Msg("testing connection")
	if _, err := c.runJSON(ctx, p, ListArgs(p)); err != nil {
		return err
	}
	c.logger.Info().Str("repository", p.Repository).Msg("connection ok")
	return nil
}

// ListSnapshots fetches and parses the snapshot list, newest first.
func (c *Client) ListSnapshots(ctx context.Context, p config.Profile) ([]catalog.Snapshot, error) {
	if err := requireCredentials(p); err != nil {
		return nil, err
	}

	out, err := c.runJSON(ctx, p, SnapshotListArgs(p))
	if err != nil {
		return nil, err
	}

	snapshots, err := catalog.ParseSnapshots(out)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().Int("count", len(snapshots)).Msg("snapshots listed")
	return snapshots, nil
}

// ListArchiveFiles fetches the archive files of the given type contained
// in a snapshot. The returned names are ready for Restore and Mount; the
// first entry is the conventional default when the user does not pick one.
func (c *Client) ListArchiveFiles(ctx context.Context, p config.Profile, snapshot, archiveType string) ([]string, error) {
	if err := requireCredentials(p); err != nil {
		return nil, err
	}

	out, err := c.runJSON(ctx, p, SnapshotFilesArgs(p, snapshot))
	if err != nil {
		return nil, err
	}

	return catalog.ParseArchiveFiles(out, archiveType)
}

// Forget deletes a snapshot from the datastore.
func (c *Client) Forget(ctx context.Context, p config.Profile, snapshot string) error {
	if err := requireCredentials(p); err != nil {
		return err
	}

	c.logger.Info().Str("snapshot", snapshot).Msg("forgetting snapshot")
	res, err := c.runner.RunSync(ctx, c.binary, ForgetArgs(p, snapshot), Env(p))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%w: %s", ErrCommandFailed, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// Backup starts a streaming backup of all profile sources. Progress lines
// arrive on the returned stream as the client produces them.
func (c *Client) Backup(ctx context.Context, p config.Profile) (*proc.Stream, error) {
	if err := requireComplete(p); err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("repository", p.Repository).
		Int("sources", len(p.Sources)).
		Msg("starting backup")

	return c.runner.RunStreaming(ctx, c.binary, BackupArgs(p), Env(p))
}

// Restore starts a streaming restore of one archive into the target
// directory.
func (c *Client) Restore(ctx context.Context, p config.Profile, snapshot, archive, target string) (*proc.Stream, error) {
	if err := requireCredentials(p); err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("snapshot", snapshot).
		Str("archive", archive).
		Str("target", target).
		Msg("starting restore")

	return c.runner.RunStreaming(ctx, c.binary, RestoreArgs(p, snapshot, archive, target), Env(p))
}

// Mount mounts one archive of a snapshot at the given mountpoint. The
// client daemonizes after a successful mount, so this is a bounded
// operation.
func (c *Client) Mount(ctx context.Context, p config.Profile, snapshot, archive, mountpoint string) error {
	if err := requireCredentials(p); err != nil {
		return err
	}

	c.logger.Info().
		Str("snapshot", snapshot).
		Str("archive", archive).
		Str("mountpoint", mountpoint).
		Msg("mounting snapshot")

	res, err := c.runner.RunSync(ctx, c.binary, MountArgs(p, snapshot, archive, mountpoint), Env(p))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%w: %s", ErrCommandFailed, strings.TrimSpace(res.Stderr))
	}
	return nil
}
