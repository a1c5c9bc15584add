package main

import (
	"fmt"
	"os"
)

// VerboseMode gates the linker's diagnostic trace, turned on by -v.
var VerboseMode bool

func verbosef(format string, args ...any) {
	if VerboseMode {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
