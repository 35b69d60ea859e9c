package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("CLIPGATE_TEST_MODE", "1")
		if os.Getenv("AUTH_ISSUER_URL") == "" {
			_ = os.Setenv("AUTH_ISSUER_URL", "http://127.0.0.1:0/auth/v1")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
