// Package progress provides optional support for the progress thread
// described in §6: RXM itself never spawns a thread, but a caller running
// its own progress loop may want to pin it to a CPU for predictable
// latency. This mirrors go-ublk's runner.ioLoop, which pins each queue's
// io_uring loop goroutine with unix.SchedSetaffinity before entering its
// poll loop; here the same mechanism is exposed as a standalone helper
// since RXM has no runner of its own to embed it in.
package progress

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// PinCurrentGoroutine locks the calling goroutine to the current OS thread
// and restricts that thread to cpu. Callers must invoke this from the
// exact goroutine that will run the progress loop, before entering it,
// and must not call runtime.UnlockOSThread afterward for the lifetime of
// the loop.
func PinCurrentGoroutine(cpu int) error {
	if cpu < 0 {
		return fmt.Errorf("progress: invalid cpu %d", cpu)
	}
	runtime.LockOSThread()

	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)

	if err := unix.SchedSetaffinity(0, &set); err != nil {
		runtime.UnlockOSThread()
		return fmt.Errorf("progress: SchedSetaffinity(cpu=%d): %w", cpu, err)
	}
	return nil
}

// CurrentAffinity reports the CPUs the calling thread is currently allowed
// to run on, for diagnostics/tests.
func CurrentAffinity() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, fmt.Errorf("progress: SchedGetaffinity: %w", err)
	}
	var cpus []int
	for i := 0; i < runtime.NumCPU()*8 && len(cpus) < set.Count(); i++ {
		if set.IsSet(i) {
			cpus = append(cpus, i)
		}
	}
	return cpus, nil
}
