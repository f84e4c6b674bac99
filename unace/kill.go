package unace

import (
	"errors"
	"log"
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// killTree kills p and every process below it. The descendants are
// collected first because they are re-parented once p is gone.
func killTree(p *os.Process) {
	descendants := descendantsOf(int32(p.Pid))
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log.Printf("Warning: could not kill pid %d: %v", p.Pid, err)
	}
	for _, d := range descendants {
		if err := d.Kill(); err != nil {
			log.Printf("Warning: could not kill child pid %d: %v", d.Pid, err)
		}
	}
}

func descendantsOf(pid int32) []*process.Process {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil
	}
	children, err := proc.Children()
	if err != nil {
		return nil
	}
	var all []*process.Process
	for _, c := range children {
		all = append(all, c)
		all = append(all, descendantsOf(c.Pid)...)
	}
	return all
}
