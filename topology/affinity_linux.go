//go:build linux

package topology

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// mbind policy modes from <numaif.h>. MPOL_PREFERRED keeps the binding
// best-effort: the kernel falls back to other nodes under memory pressure.
const mpolPreferred = 0x1

// PinThread restricts the calling OS thread to the given CPU. It does not lock
// the goroutine to its thread; the worker calls runtime.LockOSThread before
// pinning.
func PinThread(cpuID int) error {
	var set unix.CPUSet
	set.Set(cpuID)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("failed to pin thread to cpu %d: %w", cpuID, err)
	}
	return nil
}

// CurrentCpu returns the CPU the calling thread is running on, or -1 when the
// kernel does not expose it.
func CurrentCpu() int {
	var cpu, node uint32
	_, _, errno := unix.Syscall(unix.SYS_GETCPU, uintptr(unsafe.Pointer(&cpu)), uintptr(unsafe.Pointer(&node)), 0)
	if errno != 0 {
		return -1
	}
	return int(cpu)
}

// BindMemory asks the kernel to place the pages backing b on the given NUMA
// node. The request is advisory.
func BindMemory(b []byte, nodeID int) error {
	if len(b) == 0 || nodeID < 0 || nodeID > 63 {
		return nil
	}
	nodemask := uint64(1) << uint(nodeID)
	_, _, errno := unix.Syscall6(unix.SYS_MBIND,
		uintptr(unsafe.Pointer(&b[0])), uintptr(len(b)), uintptr(mpolPreferred),
		uintptr(unsafe.Pointer(&nodemask)), 64, 0)
	if errno != 0 {
		return fmt.Errorf("failed to bind memory to node %d: %w", nodeID, errno)
	}
	return nil
}
