package unace

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"acexpander/job"
)

// ExitLaunchFailure is the exit code reported when the process could not
// be started at all.
const ExitLaunchFailure = -1

// waitDelay bounds how long Wait keeps reading output after the process
// itself is gone.
const waitDelay = 2 * time.Second

// Invocation runs unace once for one job. Launch blocks until the process
// exits; Terminate may be called from another goroutine at any time.
//
// terminated and cmd have separate locks. procMu is always taken first, so
// a Terminate racing with process creation either stops Launch before the
// process starts or finds the process and kills it.
type Invocation struct {
	bin         string
	args        []string
	archivePath string
	dir         string
	jobID       string
	debug       bool
	maxOutput   int64
	preflight   func() error

	termMu     sync.Mutex
	terminated bool

	procMu sync.Mutex
	cmd    *exec.Cmd
}

// Args returns the argument vector the process is started with.
func (inv *Invocation) Args() []string {
	return append([]string(nil), inv.args...)
}

func (inv *Invocation) isTerminated() bool {
	inv.termMu.Lock()
	defer inv.termMu.Unlock()
	return inv.terminated
}

func (inv *Invocation) Launch() job.Outcome {
	if inv.isTerminated() {
		return job.Outcome{Terminated: true}
	}
	if err := ValidateArchivePath(inv.archivePath); err != nil {
		return launchFailure(err)
	}
	if inv.dir != "" {
		if err := os.MkdirAll(inv.dir, 0o755); err != nil {
			return launchFailure(fmt.Errorf("could not create destination folder: %w", err))
		}
	}
	if inv.preflight != nil {
		if err := inv.preflight(); err != nil {
			return launchFailure(fmt.Errorf("insufficient system resources: %w", err))
		}
	}

	cmd := exec.Command(inv.bin, inv.args...)
	cmd.Dir = inv.dir
	stdout := &cappedBuffer{limit: inv.maxOutput}
	stderr := &cappedBuffer{limit: inv.maxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	inv.procMu.Lock()
	if inv.isTerminated() {
		inv.procMu.Unlock()
		return job.Outcome{Terminated: true}
	}
	log.Printf("Executing for job %s: %s %s", inv.jobID, inv.bin, strings.Join(maskArgs(inv.args), " "))
	if err := cmd.Start(); err != nil {
		inv.procMu.Unlock()
		return launchFailure(fmt.Errorf("could not start %s: %w", inv.bin, err))
	}
	inv.cmd = cmd
	inv.procMu.Unlock()

	waitErr := cmd.Wait()

	inv.procMu.Lock()
	inv.cmd = nil
	inv.procMu.Unlock()

	out := job.Outcome{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: ExitLaunchFailure,
	}
	ps := cmd.ProcessState
	if ps != nil {
		out.ExitCode = ps.ExitCode()
	}
	// A process that managed to exit on its own before the kill landed
	// keeps its real result.
	if inv.isTerminated() && (ps == nil || !ps.Exited()) {
		out.Terminated = true
	}
	if waitErr != nil && ps == nil {
		out.Stderr += fmt.Sprintf("\nacexpander: waiting for %s failed: %v\n", inv.bin, waitErr)
	}

	if inv.debug {
		log.Printf("Job %s exit code %d, terminated %t\n--- stdout ---\n%s--- stderr ---\n%s", inv.jobID, out.ExitCode, out.Terminated, out.Stdout, out.Stderr)
	}
	return out
}

// Terminate kills the running process together with anything it spawned.
// It is safe to call repeatedly and before or after Launch.
func (inv *Invocation) Terminate() {
	inv.procMu.Lock()
	defer inv.procMu.Unlock()

	inv.termMu.Lock()
	already := inv.terminated
	inv.terminated = true
	inv.termMu.Unlock()

	if already || inv.cmd == nil || inv.cmd.Process == nil {
		return
	}
	log.Printf("Terminating unace for job %s (pid %d).", inv.jobID, inv.cmd.Process.Pid)
	killTree(inv.cmd.Process)
}

func launchFailure(err error) job.Outcome {
	log.Printf("Launch failed: %v", err)
	return job.Outcome{
		ExitCode: ExitLaunchFailure,
		Stderr:   fmt.Sprintf("acexpander: %v\n", err),
	}
}

// cappedBuffer keeps at most limit bytes and silently drops the rest so a
// chatty process is never blocked on its pipes.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int64
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.limit <= 0 {
		return b.buf.Write(p)
	}
	room := b.limit - int64(b.buf.Len())
	if room <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if int64(len(p)) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n[output truncated]\n"
	}
	return b.buf.String()
}
