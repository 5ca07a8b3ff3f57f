// Package excludes provides a library of pre-built exclusion patterns for
// backup sources.
package excludes

import (
	"sort"
	"strings"
)

// Category groups related presets.
type Category string

const (
	CategoryOS       Category = "os"
	CategoryLanguage Category = "language"
	CategoryBuild    Category = "build"
	CategoryCache    Category = "cache"
	CategoryTemp     Category = "temp"
	CategoryLogs     Category = "logs"
	CategorySecurity Category = "security"
)

// Preset is a named set of exclusion patterns in the glob syntax the
// backup client understands.
type Preset struct {
	Name        string
	Description string
	Category    Category
	Patterns    []string
}

// Library contains all built-in presets.
var Library = []Preset{
	// OS-specific presets
	{
		Name:        "linux",
		Description: "Linux system and editor leftovers",
		Category:    CategoryOS,
		Patterns: []string{
			"*~",
			".nfs*",
			".fuse_hidden*",
			".Trash-*",
			"lost+found",
		},
	},
	{
		Name:        "macos",
		Description: "macOS metadata files",
		Category:    CategoryOS,
		Patterns: []string{
			".DS_Store",
			".AppleDouble",
			"._*",
			".Spotlight-V100",
			".Trashes",
			".fseventsd",
		},
	},
	{
		Name:        "windows",
		Description: "Windows metadata files",
		Category:    CategoryOS,
		Patterns: []string{
			"Thumbs.db",
			"ehthumbs.db",
			"desktop.ini",
			"$RECYCLE.BIN",
		},
	},

	// Language presets
	{
		Name:        "node",
		Description: "Node.js dependencies and build output",
		Category:    CategoryLanguage,
		Patterns: []string{
			"node_modules",
			".npm",
			".yarn/cache",
			"*.tsbuildinfo",
		},
	},
	{
		Name:        "python",
		Description: "Python bytecode and virtual environments",
		Category:    CategoryLanguage,
		Patterns: []string{
			"__pycache__",
			"*.pyc",
			".venv",
			"venv",
			".tox",
			".mypy_cache",
			".pytest_cache",
		},
	},
	{
		Name:        "build",
		Description: "Common build output directories",
		Category:    CategoryBuild,
		Patterns: []string{
			"target",
			"build",
			"dist",
			"out",
			"*.o",
			"*.so",
		},
	},

	// Volatile data presets
	{
		Name:        "caches",
		Description: "Application and user cache directories",
		Category:    CategoryCache,
		Patterns: []string{
			".cache",
			"Cache",
			"Caches",
			"*.cache",
		},
	},
	{
		Name:        "temp",
		Description: "Temporary and swap files",
		Category:    CategoryTemp,
		Patterns: []string{
			"*.tmp",
			"*.temp",
			"*.swp",
			"*.swo",
			"tmp",
		},
	},
	{
		Name:        "logs",
		Description: "Log files and rotated archives",
		Category:    CategoryLogs,
		Patterns: []string{
			"*.log",
			"*.log.*",
			"logs",
		},
	},
	{
		Name:        "secrets",
		Description: "Key material that should not leave the machine",
		Category:    CategorySecurity,
		Patterns: []string{
			"*.pem",
			"*.key",
			"id_rsa",
			"id_ed25519",
			"*.kdbx",
		},
	},
}

// Lookup finds a preset by name, ignoring case.
func Lookup(name string) (Preset, bool) {
	for _, p := range Library {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Preset{}, false
}

// Names returns the names of all presets in sorted order.
func Names() []string {
	names := make([]string, 0, len(Library))
	for _, p := range Library {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

// ByCategory returns all presets in the given category.
func ByCategory(category Category) []Preset {
	var presets []Preset
	for _, p := range Library {
		if p.Category == category {
			presets = append(presets, p)
		}
	}
	return presets
}

// Flatten merges the patterns of several presets into a single slice,
// dropping duplicates while preserving order.
func Flatten(presets []Preset) []string {
	var result []string
	seen := make(map[string]bool)
	for _, p := range presets {
		for _, pattern := range p.Patterns {
			if !seen[pattern] {
				seen[pattern] = true
				result = append(result, pattern)
			}
		}
	}
	return result
}
