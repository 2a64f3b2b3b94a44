//go:build linux

package buffer

import "golang.org/x/sys/unix"

// reserveMemory maps address space without committing physical memory. Pages
// start inaccessible; Unprotect commits them on first use.
func reserveMemory(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_NONE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
}

func protectMemory(b []byte) error {
	return unix.Mprotect(b, unix.PROT_NONE)
}

func unprotectMemory(b []byte) error {
	return unix.Mprotect(b, unix.PROT_READ|unix.PROT_WRITE)
}

func releaseMemory(b []byte) error {
	if b == nil {
		return nil
	}
	return unix.Munmap(b)
}
