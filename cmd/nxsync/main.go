// Command nxsync is the bidirectional file sync daemon and CLI (spec.md
// §OVERVIEW). Grounded on the teacher's root-level main.go/root.go Cobra
// wiring, generalized from OneDrive-account CLI verbs (login/ls/get/put) to
// this engine's binding/sync/status/conflicts verbs.
package main

import (
	"errors"
	"fmt"
	"os"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if errors.Is(err, errNoRemoteClientFactory) {
			os.Exit(2)
		}

		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
