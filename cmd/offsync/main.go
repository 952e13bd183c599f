// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Command offsync inspects and replays the offline queue of a local sync store.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
