package app

import (
	"os"
	"strconv"
)

const testModeEnv = "STOCKLEDGER_TEST_MODE"

// InTestMode reports whether STOCKLEDGER_TEST_MODE is set to a true value.
// Binaries check it first so that building their test packages never starts
// servers or dials Postgres and Redis.
func InTestMode() bool {
	on, err := strconv.ParseBool(os.Getenv(testModeEnv))
	return err == nil && on
}
