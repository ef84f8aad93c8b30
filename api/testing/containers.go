package apitesting

import (
	"strings"
	"time"
)

func isRetryableContainerStartErr(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "wait until ready") ||
		strings.Contains(s, "mapped port") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "context deadline exceeded") ||
		strings.Contains(s, "/containers/") && strings.Contains(s, "json") ||
		strings.Contains(s, "Get \"http://%2Fvar%2Frun%2Fdocker.sock")
}

func retryBackoff(attempt int) time.Duration {
	return time.Duration(attempt) * 750 * time.Millisecond
}

// testDatabaseName returns a unique database name for one test.
func testDatabaseName(newID func() string) string {
	return "test_" + strings.ReplaceAll(newID(), "-", "")
}
