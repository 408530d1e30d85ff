// Package guard puts binaries into test mode. Test packages that build a
// main package import it for its side effect.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("STOCKLEDGER_TEST_MODE") == "" {
			_ = os.Setenv("STOCKLEDGER_TEST_MODE", "1")
		}
		if os.Getenv("LEDGER_DRIFT_POLICY") == "" {
			_ = os.Setenv("LEDGER_DRIFT_POLICY", "fail")
		}
	})
}
