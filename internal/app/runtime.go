package app

import (
	"os"
	"strings"
	"sync"
)

// TestModeEnv makes both binaries exit before touching Postgres or Redis.
const TestModeEnv = "ODYSSEY_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	return parseTestMode(os.Getenv(TestModeEnv))
})

// InTestMode reports whether ODYSSEY_TEST_MODE was set when first asked.
func InTestMode() bool {
	return testMode()
}

func parseTestMode(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
