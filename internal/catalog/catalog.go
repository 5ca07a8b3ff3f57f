// Package catalog parses the JSON listings emitted by proxmox-backup-client
// into typed snapshot records for the restore, mount, and delete flows.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrNoArchiveFiles is returned when a snapshot holds no archive files of
// the requested type.
var ErrNoArchiveFiles = errors.New("snapshot contains no matching archive files")

// VerifyState is the verification status of a snapshot.
type VerifyState string

const (
	// VerifyOK means the last verification succeeded.
	VerifyOK VerifyState = "ok"
	// VerifyFailed means a verification ran and did not succeed.
	VerifyFailed VerifyState = "failed"
	// VerifyNone means the snapshot has never been verified.
	VerifyNone VerifyState = "none"
)

// Snapshot is one completed backup instance in the remote datastore.
type Snapshot struct {
	BackupType   string      `json:"backup_type"`
	BackupID     string      `json:"backup_id"`
	BackupTime   int64       `json:"backup_time"`
	Size         int64       `json:"size"`
	Owner        string      `json:"owner"`
	Verification VerifyState `json:"verification"`
}

// Path returns the canonical snapshot identifier passed back into
// subsequent commands: "{type}/{id}/{RFC3339 UTC time}".
func (s Snapshot) Path() string {
	ts := time.Unix(s.BackupTime, 0).UTC().Format(time.RFC3339)
	return fmt.Sprintf("%s/%s/%s", s.BackupType, s.BackupID, ts)
}

// Time returns the snapshot's backup time.
func (s Snapshot) Time() time.Time {
	return time.Unix(s.BackupTime, 0).UTC()
}

// rawSnapshot matches the wire format of "snapshot list --output-format json".
type rawSnapshot struct {
	BackupType   string          `json:"backup-type"`
	BackupID     string          `json:"backup-id"`
	BackupTime   int64           `json:"backup-time"`
	Size         int64           `json:"size"`
	Owner        string          `json:"owner"`
	Verification json.RawMessage `json:"verification"`
}

// ParseSnapshots decodes a snapshot list. Missing owners default to
// "Unknown". The result is sorted newest first; entries with equal backup
// times keep their input order.
func ParseSnapshots(data []byte) ([]Snapshot, error) {
	var raw []rawSnapshot
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse snapshot list: %w", err)
	}

	snapshots := make([]Snapshot, 0, len(raw))
	for _, r := range raw {
		owner := r.Owner
		if owner == "" {
			owner = "Unknown"
		}
		snapshots = append(snapshots, Snapshot{
			BackupType:   r.BackupType,
			BackupID:     r.BackupID,
			BackupTime:   r.BackupTime,
			Size:         r.Size,
			Owner:        owner,
			Verification: normalizeVerify(r.Verification),
		})
	}

	sort.SliceStable(snapshots, func(i, j int) bool {
		return snapshots[i].BackupTime > snapshots[j].BackupTime
	})

	return snapshots, nil
}

// normalizeVerify maps the tool's verification field onto the three-valued
// VerifyState. Depending on the server version the field is either an
// object with a "state" member or a bare string; anything that is present
// but not "ok" counts as a failed verification, absence as never verified.
func normalizeVerify(raw json.RawMessage) VerifyState {
	if len(raw) == 0 {
		return VerifyNone
	}

	var state string
	var obj struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.State != "" {
		state = obj.State
	} else if err := json.Unmarshal(raw, &state); err != nil {
		return VerifyNone
	}

	switch strings.ToLower(strings.TrimSpace(state)) {
	case "ok":
		return VerifyOK
	case "":
		return VerifyNone
	default:
		return VerifyFailed
	}
}

// rawArchiveFile matches one entry of "snapshot files --output-format json".
type rawArchiveFile struct {
	Filename string `json:"filename"`
}

// ParseArchiveFiles extracts the logical archive names of the given type
// from a snapshot file listing. Index files carry a double suffix
// ("root.pxar.didx", "disk.img.fidx"); the index extension is stripped so
// the returned names can be passed to restore and mount commands. The
// input order is preserved; the first entry is the conventional default
// when the caller makes no explicit choice. Returns ErrNoArchiveFiles when
// nothing matches.
func ParseArchiveFiles(data []byte, archiveType string) ([]string, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse snapshot files: %w", err)
	}

	dynamicSuffix := "." + archiveType + ".didx"
	fixedSuffix := "." + archiveType + ".fidx"

	var names []string
	for _, entry := range entries {
		var filename string
		var obj rawArchiveFile
		if err := json.Unmarshal(entry, &obj); err == nil && obj.Filename != "" {
			filename = obj.Filename
		} else if err := json.Unmarshal(entry, &filename); err != nil {
			continue
		}

		switch {
		case strings.HasSuffix(filename, dynamicSuffix):
			names = append(names, strings.TrimSuffix(filename, ".didx"))
		case strings.HasSuffix(filename, fixedSuffix):
			names = append(names, strings.TrimSuffix(filename, ".fidx"))
		}
	}

	if len(names) == 0 {
		return nil, ErrNoArchiveFiles
	}
	return names, nil
}

// FormatBytes renders a byte count in human readable form.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
