// Package guard switches binaries into test mode when imported by a test, so
// running main() returns before touching Postgres or Redis.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("FRANCHISE_TEST_MODE") == "" {
			_ = os.Setenv("FRANCHISE_TEST_MODE", "1")
		}
		if os.Getenv("IDENTITY_JWT_SECRET") == "" {
			_ = os.Setenv("IDENTITY_JWT_SECRET", "test-only-secret")
		}
	})
}
