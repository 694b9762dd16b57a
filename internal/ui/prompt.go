package ui

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Confirm asks a yes/no question on out and reads the answer from in.
// defaultYes controls the answer for an empty line. A read error (EOF,
// closed stdin) counts as no.
func Confirm(in io.Reader, out io.Writer, prompt string, defaultYes bool) bool {
	if defaultYes {
		fmt.Fprintf(out, "%s [Y/n] ", prompt)
	} else {
		fmt.Fprintf(out, "%s [y/N] ", prompt)
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	response := strings.TrimSpace(strings.ToLower(line))

	if response == "" {
		return defaultYes
	}
	return response == "y" || response == "yes"
}
