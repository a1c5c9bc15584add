//go:build !unix

package main

import "os"

// openLibraryData opens a .lib archive for reading. Platforms outside the
// unix build tag fall back to a plain read; mmap is a unix-only optimization.
func openLibraryData(path string) ([]byte, error) {
	return os.ReadFile(path)
}
