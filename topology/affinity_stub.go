//go:build !linux

package topology

// PinThread is a no-op on platforms without CPU affinity syscalls.
func PinThread(cpuID int) error { return nil }

// CurrentCpu reports -1 on platforms without a getcpu equivalent.
func CurrentCpu() int { return -1 }

// BindMemory is a no-op on platforms without mbind.
func BindMemory(b []byte, nodeID int) error { return nil }
