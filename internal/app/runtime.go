package app

import (
	"os"
	"strconv"
	"sync"
	"sync/atomic"
)

// TestModeEnv makes the binaries return before dialing PostgreSQL or Redis.
const TestModeEnv = "TRANSIT_TEST_MODE"

var testMode struct {
	once sync.Once
	on   atomic.Bool
}

func loadTestMode() {
	on, _ := strconv.ParseBool(os.Getenv(TestModeEnv))
	testMode.on.Store(on)
}

// InTestMode reports whether TRANSIT_TEST_MODE is set to a true value.
func InTestMode() bool {
	testMode.once.Do(loadTestMode)
	return testMode.on.Load()
}

// RefreshTestMode re-reads the environment.
func RefreshTestMode() {
	testMode.once.Do(func() {})
	loadTestMode()
}
