package catalog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSnapshotsSortsNewestFirst(t *testing.T) {
	data := []byte(`[
		{"backup-type": "host", "backup-id": "alpha", "backup-time": 100, "size": 10, "owner": "root@pam"},
		{"backup-type": "host", "backup-id": "bravo", "backup-time": 300, "size": 30, "owner": "root@pam"},
		{"backup-type": "host", "backup-id": "charlie", "backup-time": 200, "size": 20, "owner": "root@pam"}
	]`)

	snapshots, err := ParseSnapshots(data)
	require.NoError(t, err)
	require.Len(t, snapshots, 3)

	assert.Equal(t, int64(300), snapshots[0].BackupTime)
	assert.Equal(t, int64(200), snapshots[1].BackupTime)
	assert.Equal(t, int64(100), snapshots[2].BackupTime)
	assert.Equal(t, "bravo", snapshots[0].BackupID)
}

func TestParseSnapshotsSortIsStable(t *testing.T) {
	data := []byte(`[
		{"backup-type": "host", "backup-id": "first", "backup-time": 100},
		{"backup-type": "host", "backup-id": "second", "backup-time": 100},
		{"backup-type": "host", "backup-id": "third", "backup-time": 100}
	]`)

	snapshots, err := ParseSnapshots(data)
	require.NoError(t, err)
	require.Len(t, snapshots, 3)

	assert.Equal(t, "first", snapshots[0].BackupID)
	assert.Equal(t, "second", snapshots[1].BackupID)
	assert.Equal(t, "third", snapshots[2].BackupID)
}

func TestParseSnapshotsDefaults(t *testing.T) {
	data := []byte(`[{"backup-type": "vm", "backup-id": "100", "backup-time": 1700000000}]`)

	snapshots, err := ParseSnapshots(data)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)

	assert.Equal(t, "Unknown", snapshots[0].Owner)
	assert.Equal(t, VerifyNone, snapshots[0].Verification)
	assert.Equal(t, int64(0), snapshots[0].Size)
}

func TestParseSnapshotsVerification(t *testing.T) {
	tests := []struct {
		name string
		json string
		want VerifyState
	}{
		{name: "object ok", json: `{"state": "ok", "upid": "UPID:x"}`, want: VerifyOK},
		{name: "object ok uppercase", json: `{"state": "OK"}`, want: VerifyOK},
		{name: "object failed", json: `{"state": "failed"}`, want: VerifyFailed},
		{name: "object other state", json: `{"state": "running"}`, want: VerifyFailed},
		{name: "bare string ok", json: `"ok"`, want: VerifyOK},
		{name: "bare string failed", json: `"failed"`, want: VerifyFailed},
		{name: "null", json: `null`, want: VerifyNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := []byte(`[{"backup-type": "vm", "backup-id": "100", "backup-time": 1, "verification": ` + tt.json + `}]`)
			snapshots, err := ParseSnapshots(data)
			require.NoError(t, err)
			require.Len(t, snapshots, 1)
			assert.Equal(t, tt.want, snapshots[0].Verification)
		})
	}
}

func TestParseSnapshotsMalformed(t *testing.T) {
	_, err := ParseSnapshots([]byte(`{"not": "an array"`))
	assert.Error(t, err)

	_, err = ParseSnapshots([]byte(`not json at all`))
	assert.Error(t, err)
}

func TestParseSnapshotsEmpty(t *testing.T) {
	snapshots, err := ParseSnapshots([]byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, snapshots)
}

func TestSnapshotPath(t *testing.T) {
	s := Snapshot{BackupType: "vm", BackupID: "100", BackupTime: 1700000000}
	assert.Equal(t, "vm/100/2023-11-14T22:13:20Z", s.Path())
}

func TestParseArchiveFiles(t *testing.T) {
	tests := []struct {
		name        string
		data        string
		archiveType string
		want        []string
		wantErr     error
	}{
		{
			name:        "pxar keeps only matching dynamic indexes",
			data:        `[{"filename": "a.pxar.didx"}, {"filename": "b.img.fidx"}]`,
			archiveType: "pxar",
			want:        []string{"a.pxar"},
		},
		{
			name:        "img matches fixed indexes",
			data:        `[{"filename": "a.pxar.didx"}, {"filename": "b.img.fidx"}]`,
			archiveType: "img",
			want:        []string{"b.img"},
		},
		{
			name:        "bare string entries",
			data:        `["a.pxar.didx", "b.img.fidx"]`,
			archiveType: "pxar",
			want:        []string{"a.pxar"},
		},
		{
			name:        "order preserved",
			data:        `[{"filename": "root.pxar.didx"}, {"filename": "home.pxar.didx"}]`,
			archiveType: "pxar",
			want:        []string{"root.pxar", "home.pxar"},
		},
		{
			name:        "metadata files are ignored",
			data:        `[{"filename": "index.json.blob"}, {"filename": "client.log.blob"}]`,
			archiveType: "pxar",
			wantErr:     ErrNoArchiveFiles,
		},
		{
			name:        "no files at all",
			data:        `[]`,
			archiveType: "pxar",
			wantErr:     ErrNoArchiveFiles,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseArchiveFiles([]byte(tt.data), tt.archiveType)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "error = %v, want %v", err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseArchiveFilesMalformed(t *testing.T) {
	_, err := ParseArchiveFiles([]byte(`{`), "pxar")
	assert.Error(t, err)
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{5 * 1024 * 1024 * 1024, "5.0 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatBytes(tt.in))
		})
	}
}
