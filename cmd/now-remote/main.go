// Command now-remote runs the wireless button remote, the hub it reports to,
// and a simulator that wires both together in memory.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
