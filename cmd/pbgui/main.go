// Package main is the entrypoint for the pbgui CLI.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/masterjuggler/proxmox-backup-gui/internal/catalog"
	"github.com/masterjuggler/proxmox-backup-gui/internal/config"
	"github.com/masterjuggler/proxmox-backup-gui/internal/excludes"
	"github.com/masterjuggler/proxmox-backup-gui/internal/mount"
	"github.com/masterjuggler/proxmox-backup-gui/internal/pbs"
	"github.com/masterjuggler/proxmox-backup-gui/internal/proc"
	"github.com/masterjuggler/proxmox-backup-gui/internal/shutdown"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Persistent flags shared by all commands.
var (
	flagConfig  string
	flagVerbose bool
	flagLogFile string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pbgui",
		Short: "Manage Proxmox Backup Server backups from the command line",
		Long: `pbgui manages named backup profiles and drives proxmox-backup-client
to create, browse, restore, and mount backups on a Proxmox Backup Server.

Run 'pbgui profile set' to configure a repository, 'pbgui source add' to
choose what to back up, then 'pbgui backup' to run one.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Commands that never spawn the client skip the check
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return
			}
			if err := pbs.Available(); err != nil {
				fmt.Fprintln(os.Stderr, "WARNING: proxmox-backup-client not found in PATH; backup operations will fail until it is installed")
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to the profile file (default ~/.config/proxmox-backup-gui/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "Append diagnostic logs to this file instead of stderr")

	rootCmd.AddCommand(
		newVersionCmd(),
		newProfileCmd(),
		newSourceCmd(),
		newBackupCmd(),
		newTestCmd(),
		newSnapshotsCmd(),
		newFilesCmd(),
		newRestoreCmd(),
		newMountCmd(),
		newUnmountCmd(),
		newForgetCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pbgui %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Built:      %s\n", BuildDate)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage backup profiles",
	}

	cmd.AddCommand(
		newProfileListCmd(),
		newProfileCreateCmd(),
		newProfileDeleteCmd(),
		newProfileUseCmd(),
		newProfileShowCmd(),
		newProfileSetCmd(),
	)

	return cmd
}

func newProfileListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all backup profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(newLogger())
			if err != nil {
				return err
			}

			fmt.Printf("  %-20s %-8s %-17s %s\n", "NAME", "SOURCES", "LAST BACKUP", "REPOSITORY")
			fmt.Println(strings.Repeat("-", 72))
			for _, p := range store.Profiles() {
				marker := " "
				if p.Name == store.CurrentName() {
					marker = "*"
				}
				fmt.Printf("%s %-20s %-8d %-17s %s\n",
					marker, p.Name, len(p.Sources), formatLastBackup(p.LastBackup), p.Repository)
			}

			return nil
		},
	}
}

func newProfileCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new backup profile and switch to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(newLogger())
			if err != nil {
				return err
			}

			if _, err := store.Create(args[0]); err != nil {
				return err
			}

			fmt.Printf("Profile %q created and selected.\n", args[0])
			fmt.Println("Run 'pbgui profile set' to configure the repository connection.")
			return nil
		},
	}
}

func newProfileDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a backup profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(newLogger())
			if err != nil {
				return err
			}

			if !yes {
				ok, err := confirm(fmt.Sprintf("Delete profile %q? [y/N] ", args[0]))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println("Deletion cancelled.")
					return nil
				}
			}

			if err := store.Delete(args[0]); err != nil {
				return err
			}

			fmt.Printf("Profile %q deleted. Active profile is now %q.\n", args[0], store.CurrentName())
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Delete without confirmation")

	return cmd
}

func newProfileUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <name>",
		Short: "Switch the active backup profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(newLogger())
			if err != nil {
				return err
			}

			if err := store.SwitchCurrent(args[0]); err != nil {
				return err
			}

			fmt.Printf("Active profile is now %q.\n", args[0])
			return nil
		},
	}
}

func newProfileShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(newLogger())
			if err != nil {
				return err
			}

			profile, err := store.Current()
			if err != nil {
				return err
			}

			fmt.Printf("Profile file: %s\n", store.Path())
			fmt.Println()
			fmt.Printf("Name:        %s\n", profile.Name)
			fmt.Printf("Repository:  %s\n", profile.Repository)
			fmt.Printf("API key:     %s\n", maskKey(profile.APIKey))
			if profile.Fingerprint != "" {
				fmt.Printf("Fingerprint: %s\n", profile.Fingerprint)
			}
			fmt.Printf("Last backup: %s\n", formatLastBackup(profile.LastBackup))

			if len(profile.Sources) == 0 {
				fmt.Println("\nNo backup sources. Run 'pbgui source add' to add one.")
				return nil
			}

			fmt.Println("\nSources:")
			for i, src := range profile.Sources {
				fmt.Printf("  [%d] %s (%s)", i, src.Path, src.ArchiveType)
				if len(src.Exclusions) > 0 {
					fmt.Printf(", %d exclusions", len(src.Exclusions))
				}
				fmt.Println()
			}

			return nil
		},
	}
}

func newProfileSetCmd() *cobra.Command {
	var (
		repository       string
		apiKey           string
		promptKey        bool
		fingerprint      string
		clearFingerprint bool
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update the connection settings of the active profile",
		Long: `Update the repository connection settings of the active profile.

The API key is passed to proxmox-backup-client via its environment and is
never logged. Prefer --prompt-key over --api-key so the key does not appear
in your shell history.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("repository") && !cmd.Flags().Changed("api-key") &&
				!promptKey && !cmd.Flags().Changed("fingerprint") && !clearFingerprint {
				return cmd.Help()
			}

			store, err := openStore(newLogger())
			if err != nil {
				return err
			}

			profile, err := store.Current()
			if err != nil {
				return err
			}

			newRepository := profile.Repository
			if cmd.Flags().Changed("repository") {
				newRepository = repository
			}

			newKey := profile.APIKey
			if promptKey {
				newKey, err = promptSecret("Enter API key: ")
				if err != nil {
					return err
				}
				if newKey == "" {
					return fmt.Errorf("API key cannot be empty")
				}
			} else if cmd.Flags().Changed("api-key") {
				newKey = apiKey
			}

			newFingerprint := profile.Fingerprint
			if clearFingerprint {
				newFingerprint = ""
			} else if cmd.Flags().Changed("fingerprint") {
				newFingerprint = fingerprint
			}

			if err := store.UpdateSettings(profile.Name, newRepository, newKey, newFingerprint); err != nil {
				return err
			}

			fmt.Printf("Profile %q updated.\n", profile.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&repository, "repository", "", "Repository, e.g. user@pbs@server:datastore")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key or password for the repository")
	cmd.Flags().BoolVar(&promptKey, "prompt-key", false, "Prompt for the API key without echoing it")
	cmd.Flags().StringVar(&fingerprint, "fingerprint", "", "Server certificate fingerprint")
	cmd.Flags().BoolVar(&clearFingerprint, "clear-fingerprint", false, "Remove the stored fingerprint")

	return cmd
}

func newSourceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "source",
		Short: "Manage the backup sources of the active profile",
	}

	cmd.AddCommand(
		newSourceListCmd(),
		newSourceAddCmd(),
		newSourceRemoveCmd(),
		newSourceExcludeCmd(),
		newSourcePresetsCmd(),
	)

	return cmd
}

func newSourceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the backup sources of the active profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(newLogger())
			if err != nil {
				return err
			}

			profile, err := store.Current()
			if err != nil {
				return err
			}

			if len(profile.Sources) == 0 {
				fmt.Println("No backup sources. Run 'pbgui source add' to add one.")
				return nil
			}

			fmt.Printf("%-4s %-44s %-6s %s\n", "#", "PATH", "TYPE", "EXCLUSIONS")
			fmt.Println(strings.Repeat("-", 72))
			for i, src := range profile.Sources {
				fmt.Printf("%-4d %-44s %-6s %d\n", i, src.Path, src.ArchiveType, len(src.Exclusions))
			}

			return nil
		},
	}
}

func newSourceAddCmd() *cobra.Command {
	var (
		archiveType string
		patterns    []string
	)

	cmd := &cobra.Command{
		Use:   "add <path>",
		Short: "Add a backup source to the active profile",
		Long: `Add a backup source to the active profile.

Directories are backed up as pxar archives, block devices as img archives.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(newLogger())
			if err != nil {
				return err
			}

			profile, err := store.Current()
			if err != nil {
				return err
			}

			src := config.Source{
				Path:        args[0],
				ArchiveType: archiveType,
				Exclusions:  patterns,
			}
			if err := store.AddSource(profile.Name, src); err != nil {
				return err
			}

			fmt.Printf("Added %s (%s) to profile %q.\n", args[0], archiveType, profile.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&archiveType, "type", config.ArchiveTypePxar, "Archive type: pxar or img")
	cmd.Flags().StringArrayVar(&patterns, "exclude", nil, "Exclusion pattern (repeatable)")

	return cmd
}

func newSourceRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <index>",
		Short: "Remove a backup source by its index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid source index %q", args[0])
			}

			store, err := openStore(newLogger())
			if err != nil {
				return err
			}

			profile, err := store.Current()
			if err != nil {
				return err
			}

			if err := store.RemoveSource(profile.Name, index); err != nil {
				return err
			}

			fmt.Printf("Removed source %d from profile %q.\n", index, profile.Name)
			return nil
		},
	}
}

func newSourceExcludeCmd() *cobra.Command {
	var (
		patterns []string
		presets  []string
		clear    bool
	)

	cmd := &cobra.Command{
		Use:   "exclude <index>",
		Short: "Edit the exclusion patterns of a backup source",
		Long: `Edit the exclusion patterns of the backup source at the given index.

Patterns from --pattern and --preset are appended to the existing list;
--clear empties the list first. Run 'pbgui source presets' to see the
built-in presets.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(patterns) == 0 && len(presets) == 0 && !clear {
				return cmd.Help()
			}

			index, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid source index %q", args[0])
			}

			store, err := openStore(newLogger())
			if err != nil {
				return err
			}

			profile, err := store.Current()
			if err != nil {
				return err
			}
			if index < 0 || index >= len(profile.Sources) {
				return fmt.Errorf("%w: %d", config.ErrSourceIndex, index)
			}

			existing := profile.Sources[index].Exclusions
			if clear {
				existing = nil
			}

			var chosen []excludes.Preset
			for _, name := range presets {
				preset, ok := excludes.Lookup(name)
				if !ok {
					return fmt.Errorf("unknown preset %q (available: %s)", name, strings.Join(excludes.Names(), ", "))
				}
				chosen = append(chosen, preset)
			}

			added := append([]string(nil), patterns...)
			added = append(added, excludes.Flatten(chosen)...)

			merged := mergePatterns(existing, added)
			if err := store.SetExclusions(profile.Name, index, merged); err != nil {
				return err
			}

			fmt.Printf("Source %s now has %d exclusion patterns:\n", profile.Sources[index].Path, len(merged))
			for _, p := range merged {
				fmt.Printf("  %s\n", p)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&patterns, "pattern", nil, "Exclusion pattern to add (repeatable)")
	cmd.Flags().StringArrayVar(&presets, "preset", nil, "Built-in preset to add (repeatable)")
	cmd.Flags().BoolVar(&clear, "clear", false, "Remove all existing patterns first")

	return cmd
}

func newSourcePresetsCmd() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "presets",
		Short: "List the built-in exclusion presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			presets := excludes.Library
			if category != "" {
				presets = excludes.ByCategory(excludes.Category(category))
				if len(presets) == 0 {
					return fmt.Errorf("no presets in category %q", category)
				}
			}

			fmt.Printf("%-10s %-10s %-9s %s\n", "NAME", "CATEGORY", "PATTERNS", "DESCRIPTION")
			fmt.Println(strings.Repeat("-", 72))
			for _, p := range presets {
				fmt.Printf("%-10s %-10s %-9d %s\n", p.Name, p.Category, len(p.Patterns), p.Description)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "Only list presets in this category")

	return cmd
}

func newTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Test the repository connection of the active profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			store, err := openStore(logger)
			if err != nil {
				return err
			}

			profile, err := store.Current()
			if err != nil {
				return err
			}

			client := pbs.NewClient(proc.New(logger), logger)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			fmt.Printf("Checking connection to %s... ", profile.Repository)
			if err := client.TestConnection(ctx, profile); err != nil {
				fmt.Println("FAILED")
				return err
			}

			fmt.Println("OK")
			return nil
		},
	}
}

func newBackupCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Back up the active profile's sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(dryRun)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the client command line without running it")

	return cmd
}

func runBackup(dryRun bool) error {
	logger := newLogger()
	store, err := openStore(logger)
	if err != nil {
		return err
	}

	profile, err := store.Current()
	if err != nil {
		return err
	}

	client := pbs.NewClient(proc.New(logger), logger)

	if dryRun {
		if !profile.Complete() {
			return pbs.ErrIncompleteProfile
		}
		fmt.Println(pbs.CommandLine(client.Binary(), pbs.BackupArgs(profile)))
		return nil
	}

	fmt.Printf("Profile:    %s\n", profile.Name)
	fmt.Printf("Repository: %s\n", profile.Repository)
	fmt.Println("Sources:")
	for _, src := range profile.Sources {
		fmt.Printf("  %s (%s)\n", src.Path, src.ArchiveType)
	}
	fmt.Println()

	ctx, cancel := signalContext()
	defer cancel()

	stream, err := client.Backup(ctx, profile)
	if err != nil {
		return err
	}

	for line := range stream.Lines() {
		fmt.Println(line)
	}
	outcome := <-stream.Done()

	switch {
	case outcome.Cancelled:
		fmt.Println("\nBackup cancelled.")
		return nil
	case outcome.Success:
		if err := store.SetLastBackup(profile.Name, time.Now()); err != nil {
			logger.Warn().Err(err).Msg("failed to record backup time")
		}
		fmt.Println("\nBackup completed successfully!")
		return nil
	default:
		return fmt.Errorf("backup failed: %s", outcome.Message)
	}
}

func newSnapshotsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List the snapshots in the repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			store, err := openStore(logger)
			if err != nil {
				return err
			}

			profile, err := store.Current()
			if err != nil {
				return err
			}

			client := pbs.NewClient(proc.New(logger), logger)

			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			snapshots, err := client.ListSnapshots(ctx, profile)
			if err != nil {
				return err
			}

			if asJSON {
				data, err := json.MarshalIndent(snapshots, "", "  ")
				if err != nil {
					return fmt.Errorf("encode snapshots: %w", err)
				}
				fmt.Println(string(data))
				return nil
			}

			if len(snapshots) == 0 {
				fmt.Println("No snapshots found.")
				return nil
			}

			fmt.Printf("%-44s %-10s %-20s %s\n", "SNAPSHOT", "SIZE", "OWNER", "VERIFIED")
			fmt.Println(strings.Repeat("-", 86))
			for _, s := range snapshots {
				fmt.Printf("%-44s %-10s %-20s %s\n",
					s.Path(), catalog.FormatBytes(s.Size), s.Owner, s.Verification)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print snapshots as JSON")

	return cmd
}

func newFilesCmd() *cobra.Command {
	var archiveType string

	cmd := &cobra.Command{
		Use:   "files <snapshot>",
		Short: "List the restorable archives in a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			store, err := openStore(logger)
			if err != nil {
				return err
			}

			profile, err := store.Current()
			if err != nil {
				return err
			}

			client := pbs.NewClient(proc.New(logger), logger)

			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			files, err := client.ListArchiveFiles(ctx, profile, args[0], archiveType)
			if err != nil {
				if errors.Is(err, catalog.ErrNoArchiveFiles) {
					return fmt.Errorf("snapshot %s contains no %s archives", args[0], archiveType)
				}
				return err
			}

			for _, f := range files {
				fmt.Println(f)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&archiveType, "type", config.ArchiveTypePxar, "Archive type to list: pxar or img")

	return cmd
}

func newRestoreCmd() *cobra.Command {
	var (
		archive string
		dryRun  bool
		yes     bool
	)

	cmd := &cobra.Command{
		Use:   "restore <snapshot> <target>",
		Short: "Restore an archive from a snapshot to a local directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestore(args[0], archive, args[1], dryRun, yes)
		},
	}

	cmd.Flags().StringVar(&archive, "archive", "", "Archive to restore (default: the snapshot's only archive)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the client command line without running it")
	cmd.Flags().BoolVar(&yes, "yes", false, "Restore without confirmation")

	return cmd
}

func runRestore(snapshot, archive, target string, dryRun, yes bool) error {
	logger := newLogger()
	store, err := openStore(logger)
	if err != nil {
		return err
	}

	profile, err := store.Current()
	if err != nil {
		return err
	}

	client := pbs.NewClient(proc.New(logger), logger)

	ctx, cancel := signalContext()
	defer cancel()

	if archive == "" {
		archive, err = discoverArchive(ctx, client, profile, snapshot)
		if err != nil {
			if errors.Is(err, proc.ErrCancelled) {
				fmt.Println("Restore cancelled.")
				return nil
			}
			return err
		}
		fmt.Printf("Archive: %s\n", archive)
	}

	if dryRun {
		fmt.Println(pbs.CommandLine(client.Binary(), pbs.RestoreArgs(profile, snapshot, archive, target)))
		return nil
	}

	if !yes {
		ok, err := confirm(fmt.Sprintf("Restore %s from %s to %s? [y/N] ", archive, snapshot, target))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Restore cancelled.")
			return nil
		}
	}

	fmt.Printf("Restoring %s to %s...\n", archive, target)

	stream, err := client.Restore(ctx, profile, snapshot, archive, target)
	if err != nil {
		return err
	}

	for line := range stream.Lines() {
		fmt.Println(line)
	}
	outcome := <-stream.Done()

	switch {
	case outcome.Cancelled:
		fmt.Println("\nRestore cancelled.")
		return nil
	case outcome.Success:
		fmt.Println("\nRestore completed successfully!")
		return nil
	default:
		return fmt.Errorf("restore failed: %s", outcome.Message)
	}
}

// discoverArchive finds the archive to operate on when the snapshot has
// exactly one.
func discoverArchive(ctx context.Context, client *pbs.Client, profile config.Profile, snapshot string) (string, error) {
	var candidates []string
	for _, at := range []string{config.ArchiveTypePxar, config.ArchiveTypeImg} {
		files, err := client.ListArchiveFiles(ctx, profile, snapshot, at)
		if err != nil {
			if errors.Is(err, catalog.ErrNoArchiveFiles) {
				continue
			}
			return "", err
		}
		candidates = append(candidates, files...)
	}

	switch len(candidates) {
	case 0:
		return "", fmt.Errorf("snapshot %s contains no restorable archives", snapshot)
	case 1:
		return candidates[0], nil
	default:
		fmt.Println("Snapshot contains multiple archives:")
		for _, c := range candidates {
			fmt.Printf("  - %s\n", c)
		}
		return "", fmt.Errorf("choose one with --archive")
	}
}

func newMountCmd() *cobra.Command {
	var archive string

	cmd := &cobra.Command{
		Use:   "mount <snapshot> <mountpoint>",
		Short: "Mount a snapshot archive for browsing",
		Long: `Mount a snapshot archive at the given mountpoint via FUSE.

The command stays in the foreground; press Ctrl+C to unmount and exit.
If a mount is left behind by a crashed session, 'pbgui unmount <mountpoint>'
cleans it up.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMount(args[0], archive, args[1])
		},
	}

	cmd.Flags().StringVar(&archive, "archive", "", "Archive to mount (default: the snapshot's only archive)")

	return cmd
}

func runMount(snapshot, archive, mountpoint string) error {
	logger := newLogger()
	store, err := openStore(logger)
	if err != nil {
		return err
	}

	profile, err := store.Current()
	if err != nil {
		return err
	}

	client := pbs.NewClient(proc.New(logger), logger)

	ctx, cancel := signalContext()
	defer cancel()

	if archive == "" {
		archive, err = discoverArchive(ctx, client, profile, snapshot)
		if err != nil {
			if errors.Is(err, proc.ErrCancelled) {
				fmt.Println("Mount cancelled.")
				return nil
			}
			return err
		}
		fmt.Printf("Archive: %s\n", archive)
	}

	manager := mount.NewManager(logger)
	coordinator := shutdown.NewCoordinator(shutdown.DefaultConfig(), logger)
	coordinator.Register("unmount", manager.OnShutdown)

	err = manager.Mount(ctx, snapshot, mountpoint, func(ctx context.Context) error {
		return client.Mount(ctx, profile, snapshot, archive, mountpoint)
	})
	if err != nil {
		if errors.Is(err, proc.ErrCancelled) {
			fmt.Println("Mount cancelled.")
			return nil
		}
		return err
	}

	fmt.Printf("Mounted %s at %s\n", snapshot, mountpoint)
	fmt.Println("Press Ctrl+C to unmount and exit.")

	<-ctx.Done()

	fmt.Println("Unmounting...")
	coordinator.Run(context.Background())

	if _, active := manager.Active(); active {
		return fmt.Errorf("unmount failed; run 'pbgui unmount %s' to retry", mountpoint)
	}

	fmt.Println("Unmounted.")
	return nil
}

func newUnmountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unmount <mountpoint>",
		Short: "Unmount a snapshot left mounted by an earlier session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			manager := mount.NewManager(logger)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := manager.ReleasePath(ctx, args[0]); err != nil {
				return err
			}

			fmt.Printf("Unmounted %s.\n", args[0])
			return nil
		},
	}
}

func newForgetCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "forget <snapshot>",
		Short: "Permanently delete a snapshot from the repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			store, err := openStore(logger)
			if err != nil {
				return err
			}

			profile, err := store.Current()
			if err != nil {
				return err
			}

			if !yes {
				ok, err := confirm(fmt.Sprintf("Permanently delete snapshot %s? [y/N] ", args[0]))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println("Deletion cancelled.")
					return nil
				}
			}

			client := pbs.NewClient(proc.New(logger), logger)

			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			if err := client.Forget(ctx, profile, args[0]); err != nil {
				return err
			}

			fmt.Println("Snapshot deleted.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Delete without confirmation")

	return cmd
}

// newLogger builds the diagnostic logger from the global flags. User-facing
// output goes to stdout via fmt; this logger carries the rest.
func newLogger() zerolog.Logger {
	level := zerolog.WarnLevel
	if flagVerbose {
		level = zerolog.DebugLevel
	}

	var w io.Writer = os.Stderr
	if flagLogFile != "" {
		f, err := os.OpenFile(flagLogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "WARNING: cannot open log file: %v\n", err)
		} else {
			w = zerolog.MultiLevelWriter(os.Stderr, f)
		}
	}

	return zerolog.New(w).With().Timestamp().Logger().Level(level)
}

// openStore loads the profile store from --config or the default path.
func openStore(logger zerolog.Logger) (*config.Store, error) {
	var (
		store *config.Store
		warn  error
	)
	if flagConfig != "" {
		store, warn = config.Load(flagConfig, logger)
	} else {
		store, warn = config.LoadDefault(logger)
	}
	if store == nil {
		return nil, warn
	}
	if warn != nil {
		logger.Warn().Err(warn).Msg("profile store loaded with fallback")
	}
	return store, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

// confirm asks a yes/no question and returns true on y or yes.
func confirm(prompt string) (bool, error) {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("read response: %w", err)
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes", nil
}

// promptSecret reads a line without echoing when stdin is a terminal.
func promptSecret(prompt string) (string, error) {
	fmt.Print(prompt)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("read key: %w", err)
		}
		return strings.TrimSpace(string(secret)), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read key: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// mergePatterns appends the new patterns that are not already present.
func mergePatterns(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	merged := append([]string(nil), existing...)
	for _, p := range existing {
		seen[p] = true
	}
	for _, p := range added {
		if !seen[p] {
			seen[p] = true
			merged = append(merged, p)
		}
	}
	return merged
}

// maskKey returns a masked version of the API key for display.
func maskKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

func formatLastBackup(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}
