// Package guard is imported for its side effect: it enables test mode and
// pins the in-memory store before any config is loaded in a test binary.
package guard

import "os"

func init() {
	defaults := map[string]string{
		"ODYSSEY_TEST_MODE": "1",
		"STORE_DRIVER":      "memory",
	}
	for key, value := range defaults {
		if _, set := os.LookupEnv(key); !set {
			_ = os.Setenv(key, value)
		}
	}
}
