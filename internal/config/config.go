// Package config manages named backup profiles and their on-disk
// persistence for the proxmox-backup-client front-end.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Archive types supported by proxmox-backup-client.
const (
	ArchiveTypePxar = "pxar"
	ArchiveTypeImg  = "img"
)

// DefaultProfileName is the profile created when no configuration exists
// yet, and the target of legacy single-profile migrations.
const DefaultProfileName = "Default"

var (
	// ErrProfileExists is returned when creating a profile whose name is taken.
	ErrProfileExists = errors.New("profile already exists")
	// ErrProfileNotFound is returned when a named profile does not exist.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrLastProfile is returned when deleting the only remaining profile.
	ErrLastProfile = errors.New("cannot delete the last remaining profile")
	// ErrNoProfileSelected is returned when no profile is currently active.
	ErrNoProfileSelected = errors.New("no profile selected")
	// ErrEmptyName is returned for blank profile names.
	ErrEmptyName = errors.New("profile name must not be empty")
	// ErrSourceIndex is returned for an out-of-range backup source index.
	ErrSourceIndex = errors.New("source index out of range")
	// ErrArchiveType is returned for archive types other than pxar and img.
	ErrArchiveType = errors.New("archive type must be pxar or img")
)

// DefaultConfigDir returns the default config directory
// (~/.config/proxmox-backup-gui).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "proxmox-backup-gui"), nil
}

// DefaultConfigPath returns the default profile file path
// (~/.config/proxmox-backup-gui/config.yaml).
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Source is one directory (or raw image) backed up by a profile.
type Source struct {
	Path        string   `yaml:"path"`
	ArchiveType string   `yaml:"archive_type"`
	Exclusions  []string `yaml:"exclusions,omitempty"`
}

// Validate checks that the source can be turned into a backup argument.
func (s Source) Validate() error {
	if s.Path == "" {
		return errors.New("source path must not be empty")
	}
	if s.ArchiveType != ArchiveTypePxar && s.ArchiveType != ArchiveTypeImg {
		return ErrArchiveType
	}
	return nil
}

// Profile bundles the repository connection settings and backup sources
// that make up one named backup configuration. APIKey is a secret: it is
// persisted in the profile file (owner-only permissions) and exported to
// the backup client through the environment, never logged and never placed
// on a command line.
type Profile struct {
	Name        string    `yaml:"name"`
	Repository  string    `yaml:"repository"`
	APIKey      string    `yaml:"api_key"`
	Fingerprint string    `yaml:"fingerprint,omitempty"`
	Sources     []Source  `yaml:"backup_sources,omitempty"`
	LastBackup  time.Time `yaml:"last_backup,omitempty"`
}

// HasCredentials reports whether the profile can reach its repository:
// both the repository string and the API key are set.
func (p Profile) HasCredentials() bool {
	return p.Repository != "" && p.APIKey != ""
}

// Complete reports whether the profile carries everything needed to run a
// backup: credentials plus at least one source.
func (p Profile) Complete() bool {
	return p.HasCredentials() && len(p.Sources) > 0
}

// fileSchema is the on-disk layout of the profile file.
type fileSchema struct {
	Profiles       []Profile `yaml:"profiles"`
	CurrentProfile string    `yaml:"current_profile,omitempty"`
}

// rawFile additionally carries the legacy flat single-profile layout
// (repository and sources at top level, no profiles key) so old files can
// be migrated transparently.
type rawFile struct {
	Profiles       *[]Profile `yaml:"profiles"`
	CurrentProfile string     `yaml:"current_profile"`

	Repository  string   `yaml:"repository"`
	APIKey      string   `yaml:"api_key"`
	Fingerprint string   `yaml:"fingerprint"`
	Sources     []Source `yaml:"backup_sources"`
}

// Load reads the profile store from path. It fails soft: a missing file, an
// unreadable or malformed file, and an empty profile list all yield a store
// containing one empty "Default" profile, with warn describing the
// fallback. warn is advisory; the returned store is always usable and a
// later Save persists it.
func Load(path string, logger zerolog.Logger) (store *Store, warn error) {
	s := &Store{
		path:   path,
		logger: logger.With().Str("component", "config").Logger(),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		s.resetToDefault()
		if os.IsNotExist(err) {
			return s, fmt.Errorf("no profile file at %s, starting with defaults", path)
		}
		return s, fmt.Errorf("read profile file: %w", err)
	}

	var raw rawFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		s.resetToDefault()
		return s, fmt.Errorf("parse profile file: %w", err)
	}

	if raw.Profiles == nil {
		// Legacy flat layout: the whole file is one unnamed profile.
		s.logger.Info().Str("path", path).Msg("migrating legacy single-profile configuration")
		s.profiles = []Profile{{
			Name:        DefaultProfileName,
			Repository:  raw.Repository,
			APIKey:      raw.APIKey,
			Fingerprint: raw.Fingerprint,
			Sources:     raw.Sources,
		}}
		s.current = DefaultProfileName
		return s, nil
	}

	if len(*raw.Profiles) == 0 {
		s.resetToDefault()
		return s, errors.New("profile file contains no profiles, starting with defaults")
	}

	// Drop unnamed and duplicate entries rather than violating the
	// unique-name invariant.
	seen := make(map[string]bool)
	for _, p := range *raw.Profiles {
		if p.Name == "" || seen[p.Name] {
			s.logger.Warn().Str("name", p.Name).Msg("ignoring invalid profile entry")
			continue
		}
		seen[p.Name] = true
		s.profiles = append(s.profiles, p)
	}
	if len(s.profiles) == 0 {
		s.resetToDefault()
		return s, errors.New("profile file contains no usable profiles, starting with defaults")
	}

	s.current = raw.CurrentProfile
	if s.index(s.current) < 0 {
		s.current = s.profiles[0].Name
	}

	return s, nil
}

// LoadDefault loads the profile store from the default path.
func LoadDefault(logger zerolog.Logger) (*Store, error) {
	path, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	store, warn := Load(path, logger)
	return store, warn
}

// Save writes the full profile set to the store's path with owner-only
// permissions. The file is written to a temporary sibling first and then
// renamed into place so a crash cannot truncate an existing file.
func (s *Store) Save() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(fileSchema{
		Profiles:       s.profiles,
		CurrentProfile: s.current,
	})
	if err != nil {
		return fmt.Errorf("marshal profiles: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("write profile file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("install profile file: %w", err)
	}

	return nil
}
