package mount

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

type testHarness struct {
	manager     *Manager
	helperLog   string
	fallbackLog string
}

// newTestHarness builds a Manager whose unmount helpers are fake scripts
// that record their arguments.
func newTestHarness(t *testing.T, helperExit, fallbackExit int) *testHarness {
	t.Helper()

	dir := t.TempDir()
	helperLog := filepath.Join(dir, "helper.log")
	fallbackLog := filepath.Join(dir, "fallback.log")

	helper := writeHelper(t, dir, "fake-fusermount", helperLog, helperExit)
	fallback := writeHelper(t, dir, "fake-umount", fallbackLog, fallbackExit)

	return &testHarness{
		manager:     NewManagerWithHelpers(helper, fallback, zerolog.Nop()),
		helperLog:   helperLog,
		fallbackLog: fallbackLog,
	}
}

func writeHelper(t *testing.T, dir, name, log string, exit int) string {
	t.Helper()

	path := filepath.Join(dir, name)
	body := fmt.Sprintf("#!/bin/sh\necho \"$@\" > %s\nexit %d\n", log, exit)
	if err := os.WriteFile(path, []byte(body), 0755); err != nil {
		t.Fatalf("writing helper %s: %v", name, err)
	}
	return path
}

func loggedArgs(t *testing.T, log string) string {
	t.Helper()

	data, err := os.ReadFile(log)
	if err != nil {
		t.Fatalf("reading helper log: %v", err)
	}
	return strings.TrimSpace(string(data))
}

func mountOK(context.Context) error { return nil }

func TestMountTracksState(t *testing.T) {
	h := newTestHarness(t, 0, 0)
	mnt := t.TempDir()

	if err := h.manager.Mount(context.Background(), "host/web01/2023-11-14T22:13:20Z", mnt, mountOK); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}

	state, ok := h.manager.Active()
	if !ok {
		t.Fatal("Active() reports no mount after successful Mount()")
	}
	if state.Snapshot != "host/web01/2023-11-14T22:13:20Z" || state.Mountpoint != mnt {
		t.Errorf("Active() = %+v", state)
	}
}

func TestMountCreatesMountpoint(t *testing.T) {
	h := newTestHarness(t, 0, 0)
	mnt := filepath.Join(t.TempDir(), "nested", "mnt")

	if err := h.manager.Mount(context.Background(), "host/web01/2023-11-14T22:13:20Z", mnt, mountOK); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}

	info, err := os.Stat(mnt)
	if err != nil {
		t.Fatalf("mountpoint not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("mountpoint is not a directory")
	}
}

func TestSecondMountRejected(t *testing.T) {
	h := newTestHarness(t, 0, 0)
	first := t.TempDir()

	if err := h.manager.Mount(context.Background(), "host/web01/2023-11-14T22:13:20Z", first, mountOK); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}

	calls := 0
	err := h.manager.Mount(context.Background(), "vm/100/2024-01-01T00:00:00Z", t.TempDir(), func(context.Context) error {
		calls++
		return nil
	})

	if !errors.Is(err, ErrAlreadyMounted) {
		t.Fatalf("second Mount() error = %v, want ErrAlreadyMounted", err)
	}
	if !strings.Contains(err.Error(), first) {
		t.Errorf("error %q does not name the active mountpoint", err)
	}
	if calls != 0 {
		t.Error("mount function invoked despite active mount")
	}

	state, _ := h.manager.Active()
	if state.Mountpoint != first {
		t.Errorf("active mount changed to %q", state.Mountpoint)
	}
}

func TestMountFailureLeavesUnmounted(t *testing.T) {
	h := newTestHarness(t, 0, 0)

	err := h.manager.Mount(context.Background(), "host/web01/2023-11-14T22:13:20Z", t.TempDir(), func(context.Context) error {
		return errors.New("fuse refused")
	})
	if err == nil {
		t.Fatal("Mount() succeeded despite mount function failure")
	}

	if _, ok := h.manager.Active(); ok {
		t.Error("Active() reports a mount after failed Mount()")
	}

	// The slot is free again.
	if err := h.manager.Mount(context.Background(), "host/web01/2023-11-14T22:13:20Z", t.TempDir(), mountOK); err != nil {
		t.Errorf("Mount() after failure error = %v", err)
	}
}

func TestUnmountNotMounted(t *testing.T) {
	h := newTestHarness(t, 0, 0)

	if _, err := h.manager.Unmount(context.Background()); !errors.Is(err, ErrNotMounted) {
		t.Fatalf("Unmount() error = %v, want ErrNotMounted", err)
	}
	if _, err := os.Stat(h.helperLog); !os.IsNotExist(err) {
		t.Error("unmount helper invoked with nothing mounted")
	}
}

func TestUnmountUsesHelper(t *testing.T) {
	h := newTestHarness(t, 0, 0)
	mnt := t.TempDir()

	if err := h.manager.Mount(context.Background(), "host/web01/2023-11-14T22:13:20Z", mnt, mountOK); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}

	state, err := h.manager.Unmount(context.Background())
	if err != nil {
		t.Fatalf("Unmount() error = %v", err)
	}
	if state.Mountpoint != mnt {
		t.Errorf("Unmount() returned %+v", state)
	}

	if got := loggedArgs(t, h.helperLog); got != "-u "+mnt {
		t.Errorf("helper args = %q, want %q", got, "-u "+mnt)
	}
	if _, err := os.Stat(h.fallbackLog); !os.IsNotExist(err) {
		t.Error("fallback invoked although helper succeeded")
	}
	if _, ok := h.manager.Active(); ok {
		t.Error("Active() reports a mount after successful Unmount()")
	}
}

func TestUnmountFallsBack(t *testing.T) {
	h := newTestHarness(t, 1, 0)
	mnt := t.TempDir()

	if err := h.manager.Mount(context.Background(), "host/web01/2023-11-14T22:13:20Z", mnt, mountOK); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}

	if _, err := h.manager.Unmount(context.Background()); err != nil {
		t.Fatalf("Unmount() error = %v", err)
	}

	if got := loggedArgs(t, h.fallbackLog); got != mnt {
		t.Errorf("fallback args = %q, want %q", got, mnt)
	}
	if _, ok := h.manager.Active(); ok {
		t.Error("Active() reports a mount after fallback unmount")
	}
}

func TestUnmountFailureKeepsState(t *testing.T) {
	h := newTestHarness(t, 1, 1)
	mnt := t.TempDir()

	if err := h.manager.Mount(context.Background(), "host/web01/2023-11-14T22:13:20Z", mnt, mountOK); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}

	_, err := h.manager.Unmount(context.Background())
	if err == nil {
		t.Fatal("Unmount() succeeded although both helpers failed")
	}
	if !strings.Contains(err.Error(), mnt) {
		t.Errorf("error %q does not name the mountpoint", err)
	}

	state, ok := h.manager.Active()
	if !ok || state.Mountpoint != mnt {
		t.Errorf("mount state lost after failed unmount: %+v, %v", state, ok)
	}
}

func TestReleasePath(t *testing.T) {
	t.Run("untracked path", func(t *testing.T) {
		h := newTestHarness(t, 0, 0)
		mnt := t.TempDir()

		if err := h.manager.ReleasePath(context.Background(), mnt); err != nil {
			t.Fatalf("ReleasePath() error = %v", err)
		}
		if got := loggedArgs(t, h.helperLog); got != "-u "+mnt {
			t.Errorf("helper args = %q, want %q", got, "-u "+mnt)
		}
	})

	t.Run("clears matching tracked mount", func(t *testing.T) {
		h := newTestHarness(t, 0, 0)
		mnt := t.TempDir()

		if err := h.manager.Mount(context.Background(), "host/web01/2023-11-14T22:13:20Z", mnt, mountOK); err != nil {
			t.Fatalf("Mount() error = %v", err)
		}
		if err := h.manager.ReleasePath(context.Background(), mnt); err != nil {
			t.Fatalf("ReleasePath() error = %v", err)
		}
		if _, ok := h.manager.Active(); ok {
			t.Error("tracked mount survived ReleasePath() on its path")
		}
	})

	t.Run("both helpers fail", func(t *testing.T) {
		h := newTestHarness(t, 1, 1)
		if err := h.manager.ReleasePath(context.Background(), "/mnt/gone"); err == nil {
			t.Error("ReleasePath() succeeded although both helpers failed")
		}
	})
}

func TestOnShutdown(t *testing.T) {
	t.Run("nothing mounted", func(t *testing.T) {
		h := newTestHarness(t, 0, 0)
		if err := h.manager.OnShutdown(context.Background()); err != nil {
			t.Errorf("OnShutdown() error = %v, want nil", err)
		}
	})

	t.Run("releases active mount", func(t *testing.T) {
		h := newTestHarness(t, 0, 0)
		if err := h.manager.Mount(context.Background(), "host/web01/2023-11-14T22:13:20Z", t.TempDir(), mountOK); err != nil {
			t.Fatalf("Mount() error = %v", err)
		}

		if err := h.manager.OnShutdown(context.Background()); err != nil {
			t.Errorf("OnShutdown() error = %v, want nil", err)
		}
		if _, ok := h.manager.Active(); ok {
			t.Error("mount survived OnShutdown()")
		}
	})
}
