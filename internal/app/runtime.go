package app

import (
	"os"
	"strconv"
	"sync"
)

// TestModeEnv short-circuits the binaries so package tests can import them.
const TestModeEnv = "ODYSSEY_TEST_MODE"

var (
	testModeOnce sync.Once
	testMode     bool
)

// InTestMode reports whether ODYSSEY_TEST_MODE holds a true value. The
// variable is read once per process.
func InTestMode() bool {
	testModeOnce.Do(func() {
		testMode = parseTestMode(os.Getenv(TestModeEnv))
	})
	return testMode
}

func parseTestMode(raw string) bool {
	on, err := strconv.ParseBool(raw)
	return err == nil && on
}
