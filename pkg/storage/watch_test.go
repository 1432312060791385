package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/gatekeeper/pkg/departments"
)

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	snap := testSnapshot(t)
	path := writeSnapshot(t, dir, snap)

	src, err := NewFileSystemSource(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- src.Watch(ctx, func(error) {})
	}()

	snap.Departments = append(snap.Departments, departments.Department{ID: "chemistry", ParentID: "science"})
	data, err := yaml.Marshal(snap)
	require.NoError(t, err)

	// rewrite until the watcher, which starts asynchronously, sees it
	require.Eventually(t, func() bool {
		require.NoError(t, os.WriteFile(path, data, 0o644))
		time.Sleep(20 * time.Millisecond)
		_, ok := findDepartment(src, "chemistry")
		return ok
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatchMemorySource(t *testing.T) {
	src := NewMemorySource(DefaultSnapshot())
	assert.Error(t, src.Watch(context.Background(), nil))
}

func findDepartment(src *FileSystemSource, id departments.ID) (departments.Department, bool) {
	for _, d := range src.Snapshot().Departments {
		if d.ID == id {
			return d, true
		}
	}
	return departments.Department{}, false
}
