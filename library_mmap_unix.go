//go:build unix

package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mmapThreshold is the file size below which mapping is not worth the
// syscall overhead; small archives are just read into memory.
const mmapThreshold = 256 * 1024

// openLibraryData opens a .lib archive for reading. Large archives are
// mapped read-only with mmap so that extracting a handful of modules from a
// multi-megabyte archive does not require reading the whole file.
func openLibraryData(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size == 0 {
		return nil, fmt.Errorf("%s: empty file", path)
	}
	if size < mmapThreshold {
		return os.ReadFile(path)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return os.ReadFile(path)
	}
	return data, nil
}
