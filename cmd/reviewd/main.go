// Package main provides the reviewd binary entry point.
// Reviewd runs multi-specialist reviews over change requests, either as a
// one-shot CLI or as a NATS-backed service.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/Coldaine/repo-analysis-suite/commands"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
