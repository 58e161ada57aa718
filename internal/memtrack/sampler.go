package memtrack

import (
	"os"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/tphakala/mediacore/internal/errors"
)

// Sample is one reading of system and process memory counters, in bytes.
type Sample struct {
	TotalPhysical     uint64
	AvailablePhysical uint64
	ProcessResident   uint64
	ProcessVirtual    uint64
}

// Pressure returns the 0-100 system memory pressure for the sample.
func (s Sample) Pressure() int {
	if s.TotalPhysical == 0 {
		return 0
	}
	avail := min(s.AvailablePhysical, s.TotalPhysical)
	return 100 - int(avail*100/s.TotalPhysical)
}

// Sampler reads memory counters from the platform.
type Sampler interface {
	Sample() (Sample, error)
}

// SystemSampler reads counters through gopsutil, which covers Linux
// (/proc), Windows and macOS with one API.
type SystemSampler struct {
	proc *process.Process
}

// NewSystemSampler returns a sampler for the current process.
func NewSystemSampler() (*SystemSampler, error) {
	p, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // pid fits in int32 on supported platforms
	if err != nil {
		return nil, errors.New(err).
			Component("memtrack").
			Category(errors.CategorySystem).
			Context("operation", "open_process").
			Build()
	}
	return &SystemSampler{proc: p}, nil
}

// Sample implements Sampler.
func (s *SystemSampler) Sample() (Sample, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return Sample{}, errors.New(err).
			Component("memtrack").
			Category(errors.CategorySystem).
			Context("operation", "virtual_memory").
			Build()
	}

	out := Sample{
		TotalPhysical:     vm.Total,
		AvailablePhysical: vm.Available,
	}

	// Process counters are best effort; system pressure alone is still useful
	if info, err := s.proc.MemoryInfo(); err == nil && info != nil {
		out.ProcessResident = info.RSS
		out.ProcessVirtual = info.VMS
	}
	return out, nil
}
