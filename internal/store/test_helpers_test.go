package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/roach88/syncreducer/internal/protocol"
)

// createTestStore creates a new temp-dir store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testActions creates n actions with client ids prefix-1..prefix-n and
// {"n":i} payloads.
func testActions(prefix string, n int) []protocol.Action {
	actions := make([]protocol.Action, n)
	for i := range actions {
		actions[i] = protocol.Action{
			ClientActionID: fmt.Sprintf("%s-%d", prefix, i+1),
			Action:         json.RawMessage(fmt.Sprintf(`{"n":%d}`, i+1)),
		}
	}
	return actions
}
