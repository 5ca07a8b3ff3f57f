package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// Store is the in-memory collection of named backup profiles plus the
// pointer to the currently active one. Every successful mutation is
// persisted immediately; when persisting fails the error is returned but
// the in-memory state keeps the change and stays authoritative for the
// session.
type Store struct {
	path     string
	profiles []Profile
	current  string
	logger   zerolog.Logger
}

// Path returns the file the store persists to.
func (s *Store) Path() string {
	return s.path
}

// Names returns the profile names in stored order.
func (s *Store) Names() []string {
	names := make([]string, len(s.profiles))
	for i, p := range s.profiles {
		names[i] = p.Name
	}
	return names
}

// Profiles returns a copy of all profiles in stored order.
func (s *Store) Profiles() []Profile {
	profiles := make([]Profile, len(s.profiles))
	copy(profiles, s.profiles)
	return profiles
}

// CurrentName returns the name of the active profile, or "" if none.
func (s *Store) CurrentName() string {
	return s.current
}

// Current returns the active profile.
func (s *Store) Current() (Profile, error) {
	i := s.index(s.current)
	if i < 0 {
		return Profile{}, ErrNoProfileSelected
	}
	return s.profiles[i], nil
}

// Get returns the named profile.
func (s *Store) Get(name string) (Profile, error) {
	i := s.index(name)
	if i < 0 {
		return Profile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	return s.profiles[i], nil
}

// Create adds a new empty profile and makes it the active one.
func (s *Store) Create(name string) (Profile, error) {
	if name == "" {
		return Profile{}, ErrEmptyName
	}
	if s.index(name) >= 0 {
		return Profile{}, fmt.Errorf("%w: %s", ErrProfileExists, name)
	}

	profile := Profile{Name: name}
	s.profiles = append(s.profiles, profile)
	s.current = name
	s.logger.Info().Str("profile", name).Msg("profile created")

	return profile, s.Save()
}

// Delete removes the named profile. The last remaining profile cannot be
// deleted. When the active profile is deleted, the lexicographically first
// remaining profile becomes active.
func (s *Store) Delete(name string) error {
	i := s.index(name)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	if len(s.profiles) == 1 {
		return ErrLastProfile
	}

	s.profiles = append(s.profiles[:i], s.profiles[i+1:]...)

	if s.current == name {
		names := s.Names()
		sort.Strings(names)
		s.current = names[0]
		s.logger.Info().Str("profile", s.current).Msg("active profile switched after deletion")
	}

	s.logger.Info().Str("profile", name).Msg("profile deleted")
	return s.Save()
}

// SwitchCurrent makes the named profile the active one.
func (s *Store) SwitchCurrent(name string) error {
	if s.index(name) < 0 {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	s.current = name
	return s.Save()
}

// AddSource appends a backup source to the named profile.
func (s *Store) AddSource(name string, src Source) error {
	if err := src.Validate(); err != nil {
		return err
	}
	i := s.index(name)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}

	s.profiles[i].Sources = append(s.profiles[i].Sources, src)
	return s.Save()
}

// RemoveSource deletes the backup source at the given index from the named
// profile.
func (s *Store) RemoveSource(name string, index int) error {
	i := s.index(name)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	sources := s.profiles[i].Sources
	if index < 0 || index >= len(sources) {
		return fmt.Errorf("%w: %d", ErrSourceIndex, index)
	}

	s.profiles[i].Sources = append(sources[:index], sources[index+1:]...)
	return s.Save()
}

// SetExclusions replaces the exclusion patterns of one backup source.
func (s *Store) SetExclusions(name string, index int, patterns []string) error {
	i := s.index(name)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	if index < 0 || index >= len(s.profiles[i].Sources) {
		return fmt.Errorf("%w: %d", ErrSourceIndex, index)
	}

	s.profiles[i].Sources[index].Exclusions = append([]string(nil), patterns...)
	return s.Save()
}

// UpdateSettings overwrites the connection fields of the named profile.
func (s *Store) UpdateSettings(name, repository, apiKey, fingerprint string) error {
	i := s.index(name)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}

	s.profiles[i].Repository = repository
	s.profiles[i].APIKey = apiKey
	s.profiles[i].Fingerprint = fingerprint
	return s.Save()
}

// SetLastBackup records the completion time of the latest successful
// backup for the named profile.
func (s *Store) SetLastBackup(name string, t time.Time) error {
	i := s.index(name)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}

	s.profiles[i].LastBackup = t
	return s.Save()
}

// index returns the position of the named profile, or -1.
func (s *Store) index(name string) int {
	if name == "" {
		return -1
	}
	for i, p := range s.profiles {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// resetToDefault replaces the store contents with a single empty profile.
func (s *Store) resetToDefault() {
	s.profiles = []Profile{{Name: DefaultProfileName}}
	s.current = DefaultProfileName
}
