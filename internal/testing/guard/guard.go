// Package guard switches binaries into test mode when imported by tests.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("CASHCLOSE_TEST_MODE") == "" {
			_ = os.Setenv("CASHCLOSE_TEST_MODE", "1")
		}
	})
}
