package testsupport

import (
	"testing"
	"time"
)

// WaitFor polls cond until it reports true or the deadline passes.
func WaitFor(t testing.TB, timeout time.Duration, cond func() bool, message string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", message)
}
