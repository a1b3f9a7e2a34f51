package jobs

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain enables goroutine leak detection: every runner call must reap all
// of its worker goroutines before returning.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
