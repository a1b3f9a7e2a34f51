package instrument

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain enables goroutine leak detection for the package: dispatch is
// synchronous on the caller's goroutine, so nothing may be left running.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
