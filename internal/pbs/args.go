// Package pbs builds and runs proxmox-backup-client commands. Argument
// construction is pure; execution goes through a proc.Runner so every
// operation shares the same credential and cancellation handling.
package pbs

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/masterjuggler/proxmox-backup-gui/internal/config"
)

// Environment variables read by proxmox-backup-client.
const (
	envPassword    = "PBS_PASSWORD"
	envFingerprint = "PBS_FINGERPRINT"
)

// archiveBase derives the archive name from a source path: trailing
// separators are stripped and only the final path component is kept.
func archiveBase(path string) string {
	return filepath.Base(strings.TrimRight(path, "/"))
}

// BackupArgs builds the argument vector for backing up all sources of a
// profile. Each source contributes one "{base}.{type}:{path}" positional
// argument immediately followed by that source's --exclude flags, in
// stored order; grouping all excludes at the end would apply them to the
// wrong archives. The repository always comes last.
func BackupArgs(p config.Profile) []string {
	args := []string{"backup"}
	for _, src := range p.Sources {
		args = append(args, fmt.Sprintf("%s.%s:%s", archiveBase(src.Path), src.ArchiveType, src.Path))
		for _, pattern := range src.Exclusions {
			args = append(args, "--exclude="+pattern)
		}
	}
	return append(args, "--repository", p.Repository)
}

// ListArgs builds the argument vector for listing the repository contents.
// Used as the connection test: it touches the datastore without side
// effects.
func ListArgs(p config.Profile) []string {
	return []string{"list", "--repository", p.Repository, "--output-format", "json"}
}

// SnapshotListArgs builds the argument vector for listing snapshots.
func SnapshotListArgs(p config.Profile) []string {
	return []string{"snapshot", "list", "--repository", p.Repository, "--output-format", "json"}
}

// SnapshotFilesArgs builds the argument vector for listing the files of
// one snapshot.
func SnapshotFilesArgs(p config.Profile, snapshot string) []string {
	return []string{"snapshot", "files", snapshot, "--repository", p.Repository, "--output-format", "json"}
}

// ForgetArgs builds the argument vector for deleting a snapshot from the
// datastore.
func ForgetArgs(p config.Profile, snapshot string) []string {
	return []string{"snapshot", "forget", snapshot, "--repository", p.Repository}
}

// RestoreArgs builds the argument vector for restoring one archive of a
// snapshot into the target directory.
func RestoreArgs(p config.Profile, snapshot, archive, target string) []string {
	return []string{"restore", snapshot, archive, target, "--repository", p.Repository}
}

// MountArgs builds the argument vector for mounting one archive of a
// snapshot at the given mountpoint.
func MountArgs(p config.Profile, snapshot, archive, mountpoint string) []string {
	return []string{"mount", snapshot, archive, mountpoint, "--repository", p.Repository}
}

// Env returns the environment overlay for a profile: the API key, and the
// TLS fingerprint only when one is configured. Credentials travel
// exclusively through the environment; putting them into the argument
// vector would leak them via process listings.
func Env(p config.Profile) []string {
	env := []string{envPassword + "=" + p.APIKey}
	if p.Fingerprint != "" {
		env = append(env, envFingerprint+"="+p.Fingerprint)
	}
	return env
}

// CommandLine renders a binary and argument vector as a copyable shell
// command. The environment overlay is deliberately absent from the
// rendering.
func CommandLine(bin string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, quoteArg(bin))
	for _, arg := range args {
		parts = append(parts, quoteArg(arg))
	}
	return strings.Join(parts, " ")
}

// quoteArg single-quotes an argument when it would not survive a shell
// unescaped.
func quoteArg(arg string) string {
	if arg != "" && !strings.ContainsAny(arg, " \t\"'\\$&|;<>(){}*?") {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}
