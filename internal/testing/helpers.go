package testing

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/dl-alexandre/dbxbackup/internal/logging"
	"github.com/dl-alexandre/dbxbackup/internal/types"
)

// TestTraceID is the trace id carried by TestContext
const TestTraceID = "test-trace-id"

// TestContext creates a standard test context carrying a trace id
func TestContext() context.Context {
	return logging.ContextWithTraceID(context.Background(), TestTraceID)
}

// TestRequestContext creates a standard request context for testing
func TestRequestContext(path string) *types.RequestContext {
	return &types.RequestContext{
		Profile:     "test-profile",
		Path:        path,
		RequestType: types.RequestTypeMetadata,
		TraceID:     TestTraceID,
	}
}

// PatternBytes returns size bytes of a repeating, position-dependent pattern
// so that misordered or dropped chunks change the content.
func PatternBytes(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// TempFileOfSize writes PatternBytes(size) to dir/name and returns its path
func TempFileOfSize(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, PatternBytes(size), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

// FixedClock returns a clock that always reports ts
func FixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

// StepClock returns a clock starting at start that advances by step on every call
func StepClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current := now
		now = now.Add(step)
		return current
	}
}

// ProgressRecorder captures progress observations
type ProgressRecorder struct {
	mu     sync.Mutex
	events []types.Progress
}

// Record is a transfer progress callback
func (r *ProgressRecorder) Record(p types.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, p)
}

// Events returns a copy of everything recorded so far
func (r *ProgressRecorder) Events() []types.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Progress(nil), r.events...)
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error, msgAndArgs ...interface{}) {
	t.Helper()
	if err != nil {
		if len(msgAndArgs) > 0 {
			t.Fatalf("Unexpected error: %v - %v", err, msgAndArgs)
		} else {
			t.Fatalf("Unexpected error: %v", err)
		}
	}
}

// AssertError fails the test if err is nil
func AssertError(t *testing.T, err error, msgAndArgs ...interface{}) {
	t.Helper()
	if err == nil {
		if len(msgAndArgs) > 0 {
			t.Fatalf("Expected error but got nil - %v", msgAndArgs)
		} else {
			t.Fatal("Expected error but got nil")
		}
	}
}

// AssertEqual fails the test if got and want are not deeply equal
func AssertEqual(t *testing.T, got, want interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		if len(msgAndArgs) > 0 {
			t.Errorf("Got %v, want %v - %v", got, want, msgAndArgs)
		} else {
			t.Errorf("Got %v, want %v", got, want)
		}
	}
}

// AssertFileAbsent fails the test if path exists
func AssertFileAbsent(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected %s to be absent (stat err: %v)", path, err)
	}
}
