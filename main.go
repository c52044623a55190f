package main

import (
	"errors"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Per-task failures are already reported; only the exit code is left.
		if errors.Is(err, errSyncFailures) {
			os.Exit(1)
		}

		exitOnError(err)
	}
}
