// Package guard switches the binaries into test mode when imported, so a
// test can call main without dialing the store or the identity provider.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("CLIPGATE_TEST_MODE") == "" {
			_ = os.Setenv("CLIPGATE_TEST_MODE", "1")
		}
	})
}
