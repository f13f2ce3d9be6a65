package config

import (
	"fmt"
	"os"
)

// Exitf prints a formatted message on stderr and terminates the process
// with exit code 1. Intended for fatal startup errors in main.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
