package engine

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies the worker pool, timer wheel, and main loop leave
// no goroutines running once every test in this package has stopped
// them, catching a missed Pool.Stop/TimerWheel.Stop/MainLoop.Stop call.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
