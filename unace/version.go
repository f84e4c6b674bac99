package unace

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

var ErrUnavailable = errors.New("unace executable unavailable")

// Version probes the configured executable.
func (r *Runner) Version(ctx context.Context) (string, error) {
	return ProbeVersion(ctx, r.cfg.UnaceBin, r.cfg.VersionTimeout)
}

// ProbeVersion runs the executable with the version pseudo switch and
// returns the first line it prints. The process is independent of any
// running batch. Anything that prevents a line from being read, including
// the timeout, yields ErrUnavailable.
func ProbeVersion(ctx context.Context, command string, timeout time.Duration) (string, error) {
	bin, prefix, err := SplitCommand(command)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, bin, append(prefix, SwitchVersion)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	// unace does not know the switch and exits non-zero after printing
	// its banner, so the exit status is ignored when there is output.
	runErr := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, ctxErr)
	}
	if line := firstLine(stdout.String()); line != "" {
		return line, nil
	}
	if line := firstLine(stderr.String()); line != "" {
		return line, nil
	}
	if runErr != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, runErr)
	}
	return "", ErrUnavailable
}

func firstLine(s string) string {
	scanner := bufio.NewScanner(strings.NewReader(s))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line
		}
	}
	return ""
}
