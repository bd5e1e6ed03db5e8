package helpers

import (
	"testing"
	"time"

	"github.com/optiqlabs/optiq/internal/store"
)

// NewTestSQLiteBridge returns an in-memory bridge that is closed when the
// test ends.
func NewTestSQLiteBridge(t *testing.T) *store.SQLiteBridge {
	t.Helper()

	b, err := store.NewSQLiteBridge(":memory:", time.Hour)
	if err != nil {
		t.Fatalf("failed to create sqlite bridge: %v", err)
	}

	t.Cleanup(func() {
		_ = b.Close()
	})

	return b
}
