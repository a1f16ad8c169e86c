// Package main provides memoryd, a session memory server for chat
// applications. It keeps a bounded window of recent messages per session,
// folds older messages into a running summary and optionally indexes every
// message for similarity search.
package main

import (
	"context"
	"fmt"
	"os"
)

const version = "0.1.0" // Version of the memoryd server

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
