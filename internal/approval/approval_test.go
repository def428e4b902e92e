package approval

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDoc(t *testing.T, dir string, doc Document) string {
	t.Helper()
	path := filepath.Join(dir, "approval.json")
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestApprovedTodayPasses(t *testing.T) {
	now := time.Now()
	path := writeDoc(t, t.TempDir(), Document{Date: now.Format("2006-01-02"), Approved: true})

	ok, reason := New(true, path).Check(now)
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestStaleApprovalDeniedAndDeleted(t *testing.T) {
	now := time.Now()
	yesterday := now.AddDate(0, 0, -1).Format("2006-01-02")
	path := writeDoc(t, t.TempDir(), Document{Date: yesterday, Approved: true})

	ok, reason := New(true, path).Check(now)
	assert.False(t, ok)
	assert.Contains(t, reason, "stale")

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "stale file must be deleted")
}

func TestMissingFileDenies(t *testing.T) {
	ok, reason := New(true, filepath.Join(t.TempDir(), "none.json")).Check(time.Now())
	assert.False(t, ok)
	assert.Contains(t, reason, "missing")
}

func TestUnparseableFileDenies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "approval.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	ok, reason := New(true, path).Check(time.Now())
	assert.False(t, ok)
	assert.Contains(t, reason, "unparseable")
}

func TestExplicitDenial(t *testing.T) {
	now := time.Now()
	path := writeDoc(t, t.TempDir(), Document{
		Date: now.Format("2006-01-02"), Approved: false, Notes: "reviewing overnight news",
	})

	ok, reason := New(true, path).Check(now)
	assert.False(t, ok)
	assert.Contains(t, reason, "not approved")
}

func TestNotRequiredAlwaysPasses(t *testing.T) {
	ok, _ := New(false, "does-not-exist.json").Check(time.Now())
	assert.True(t, ok)
}
