package ui

import (
	"fmt"
	"os"
)

// PrintError prints a formatted error line to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintln(os.Stderr, ErrorMsg("Error:")+" "+fmt.Sprintf(format, args...))
}

// Fatal prints an error and exits with status 1.
func Fatal(format string, args ...any) {
	PrintError(format, args...)
	os.Exit(1)
}
