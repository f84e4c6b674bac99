package unace

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// SplitCommand splits the configured executable command line into the
// program and any leading arguments, e.g. "wine /opt/unace.exe". No shell
// is involved.
func SplitCommand(command string) (string, []string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return "", nil, fmt.Errorf("invalid command syntax: %w", err)
	}
	if len(args) == 0 {
		return "", nil, fmt.Errorf("empty executable command")
	}
	return args[0], args[1:], nil
}

// ValidateArchivePath rejects paths unace would misread as something else.
func ValidateArchivePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("archive path is empty")
	}
	if strings.HasPrefix(path, "-") {
		return fmt.Errorf("archive path %q would be read as a switch", path)
	}
	if strings.ContainsAny(path, "\x00\n") {
		return fmt.Errorf("disallowed character found in archive path: %q", path)
	}
	return nil
}
