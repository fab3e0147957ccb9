package store

import (
	"path/filepath"
	"testing"

	"github.com/creatorkit/creatorkit/util/cliutil"
)

// Opens a fresh sqlite-backed store in a per-test temp directory.
func TestStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := cliutil.SetupDatabase("sqlite://"+filepath.Join(t.TempDir(), "autodm.sqlite"), 1)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if sqldb, err := db.DB(); err == nil {
			sqldb.Close()
		}
	})
	s, err := NewGormStore(db)
	if err != nil {
		t.Fatal(err)
	}
	return s
}
