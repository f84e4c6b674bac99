package unace

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"acexpander/config"
	"acexpander/job"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Runner builds invocations of the configured unace executable.
type Runner struct {
	cfg    *config.Config
	bin    string
	prefix []string
}

func NewRunner(cfg *config.Config) (*Runner, error) {
	bin, prefix, err := SplitCommand(cfg.UnaceBin)
	if err != nil {
		return nil, err
	}
	// A missing binary is not fatal: every job launched with it fails and
	// says why.
	if _, err := exec.LookPath(bin); err != nil {
		log.Printf("Warning: unace binary not found or not in PATH: %s", bin)
	}
	return &Runner{
		cfg:    cfg,
		bin:    bin,
		prefix: prefix,
	}, nil
}

// Prepare configures an invocation for one job. Nothing is started until
// Launch is called.
func (r *Runner) Prepare(cmd job.Command, j *job.Job, destination string) job.Invocation {
	args := append([]string(nil), r.prefix...)
	args = append(args, BuildArgs(cmd, j.FilePath, destination)...)
	return &Invocation{
		bin:         r.bin,
		args:        args,
		archivePath: j.FilePath,
		dir:         destination,
		jobID:       j.ID,
		debug:       cmd.Debug,
		maxOutput:   r.cfg.MaxOutputSize,
		preflight: func() error {
			return r.checkResources(destination)
		},
	}
}

// cpuSampleInterval is how long CPU usage is measured before a launch.
const cpuSampleInterval = 250 * time.Millisecond

// checkResources verifies that the system has enough free resources to
// start expanding into dest. Zero thresholds disable a check.
func (r *Runner) checkResources(dest string) error {
	if r.cfg.ThrottleCPU > 0 {
		p, err := cpu.Percent(cpuSampleInterval, false)
		if err != nil {
			log.Printf("Warning: could not get CPU usage: %v", err)
		} else if len(p) > 0 && p[0] > (100.0-r.cfg.ThrottleCPU) {
			return fmt.Errorf("not enough idle CPU. Current usage: %.2f%%, Idle threshold: %.2f%%", p[0], r.cfg.ThrottleCPU)
		}
	}

	if r.cfg.ThrottleFreeMem > 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			log.Printf("Warning: could not get memory usage: %v", err)
		} else if vm.Available < uint64(r.cfg.ThrottleFreeMem) {
			return fmt.Errorf("not enough free memory. Available: %d, Required: %d", vm.Available, r.cfg.ThrottleFreeMem)
		}
	}

	if r.cfg.ThrottleFreeDisk > 0 && dest != "" {
		path := existingAncestor(dest)
		d, err := disk.Usage(path)
		if err != nil {
			log.Printf("Warning: could not get disk usage for %s: %v", path, err)
		} else if d.Free < uint64(r.cfg.ThrottleFreeDisk) {
			return fmt.Errorf("not enough free disk space. Available: %d, Required: %d", d.Free, r.cfg.ThrottleFreeDisk)
		}
	}
	return nil
}

// existingAncestor walks up from path to the first directory that exists.
func existingAncestor(path string) string {
	for {
		if _, err := os.Stat(path); err == nil || !errors.Is(err, os.ErrNotExist) {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
}
