package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestAllocateUnique(t *testing.T) {
	m := NewManager(t.TempDir())

	const n = 64
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rc, err := m.Allocate()
			if err != nil {
				t.Errorf("Allocate failed: %v", err)
				return
			}
			ids <- rc.BaseDir
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for dir := range ids {
		if seen[dir] {
			t.Errorf("Duplicate run directory %s", dir)
		}
		seen[dir] = true
	}
	if len(seen) != n {
		t.Errorf("Expected %d run contexts, got %d", n, len(seen))
	}
}

func TestAllocateLayoutIsLazy(t *testing.T) {
	root := t.TempDir()
	rc, err := NewManager(root).Allocate()
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	if len(rc.ID) != 8 {
		t.Errorf("Expected 8-char id, got %q", rc.ID)
	}
	if rc.AudioDir != filepath.Join(root, rc.ID, "music") {
		t.Errorf("Unexpected audio dir %s", rc.AudioDir)
	}
	if rc.MotionDir != filepath.Join(root, rc.ID, "motion") {
		t.Errorf("Unexpected motion dir %s", rc.MotionDir)
	}
	if _, err := os.Stat(rc.BaseDir); !os.IsNotExist(err) {
		t.Errorf("Base dir should not exist before a stage needs it, stat err: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := EnsureDir(rc.AudioDir); err != nil {
			t.Fatalf("EnsureDir attempt %d failed: %v", i, err)
		}
	}
}

func TestAllocateSkipsCollisions(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "aaaaaaaa"), 0755); err != nil {
		t.Fatal(err)
	}

	m := NewManager(root)
	seq := []string{"aaaaaaaa", "bbbbbbbb", "bbbbbbbb", "cccccccc"}
	m.newID = func() string {
		id := seq[0]
		seq = seq[1:]
		return id
	}

	first, err := m.Allocate()
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if first.ID != "bbbbbbbb" {
		t.Errorf("Expected on-disk collision to be skipped, got %s", first.ID)
	}

	second, err := m.Allocate()
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if second.ID != "cccccccc" {
		t.Errorf("Expected in-process collision to be skipped, got %s", second.ID)
	}
}

func TestAllocateGivesUp(t *testing.T) {
	m := NewManager(t.TempDir())
	m.newID = func() string { return "samesame" }

	if _, err := m.Allocate(); err != nil {
		t.Fatalf("First Allocate failed: %v", err)
	}
	if _, err := m.Allocate(); err == nil {
		t.Error("Expected error when every candidate collides")
	}
}

func TestReap(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)
	now := time.Now()

	old, _ := m.Allocate()
	active, _ := m.Allocate()
	fresh, _ := m.Allocate()

	for _, tc := range []struct {
		rc      *RunContext
		created time.Time
	}{
		{old, now.Add(-48 * time.Hour)},
		{active, now.Add(-48 * time.Hour)},
		{fresh, now.Add(-time.Minute)},
	} {
		err := WriteManifest(tc.rc.BaseDir, &Manifest{
			ID:        tc.rc.ID,
			Status:    StatusSucceeded,
			CreatedAt: tc.created,
			UpdatedAt: tc.created,
		})
		if err != nil {
			t.Fatalf("WriteManifest failed: %v", err)
		}
	}

	unlock, err := active.Lock()
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	defer unlock()

	if _, err := active.Lock(); !errors.Is(err, ErrRunLocked) {
		t.Errorf("Expected ErrRunLocked on second lock, got %v", err)
	}

	removed, err := Reap(root, 24*time.Hour, now)
	if err != nil {
		t.Fatalf("Reap failed: %v", err)
	}
	if len(removed) != 1 || removed[0] != old.ID {
		t.Errorf("Expected only %s to be removed, got %v", old.ID, removed)
	}

	runs, err := List(root)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Expected 2 remaining runs, got %d", len(runs))
	}
	if runs[0].ID != fresh.ID {
		t.Errorf("Expected newest run first, got %s", runs[0].ID)
	}
	if runs[0].Manifest == nil || runs[0].Manifest.Status != StatusSucceeded {
		t.Errorf("Expected manifest to be read back, got %+v", runs[0].Manifest)
	}
}
