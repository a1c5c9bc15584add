package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// stringList implements flag.Value so that repeatable flags such as -l and
// -L accumulate into a slice instead of overwriting each other.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// CommandContext holds everything ParseArgs extracted from argv for one
// invocation of the linker.
type CommandContext struct {
	Objects  []string
	Output   string
	MapPath  string
	LibDirs  []string
	LibNames []string
	Verbose  bool
}

// defaultOutputPath picks an output name when -o was not given: the first
// object that already ends in .exe, or the first object's own name with its
// extension replaced by .exe.
func defaultOutputPath(objects []string) string {
	for _, o := range objects {
		if strings.HasSuffix(strings.ToLower(o), ".exe") {
			return o
		}
	}
	if len(objects) == 0 {
		return "a.exe"
	}
	first := objects[0]
	if dot := strings.LastIndexByte(first, '.'); dot > strings.LastIndexByte(first, '/') {
		first = first[:dot]
	}
	return first + ".exe"
}

// ParseArgs parses a c67link command line: a list of .obj files, -o for the
// output path, -m for an optional link-map report, -l/-L for library search
// directories and library names, and -v for verbose tracing.
func ParseArgs(args []string) (*CommandContext, error) {
	fs := flag.NewFlagSet("c67link", flag.ContinueOnError)

	var ctx CommandContext
	var libDirs, libNames stringList

	fs.StringVar(&ctx.Output, "o", "", "output .exe path")
	fs.StringVar(&ctx.MapPath, "m", "", "write a link-map report to this path")
	fs.Var(&libDirs, "l", "add a library search directory (repeatable)")
	fs.Var(&libNames, "L", "link against a library by name (repeatable)")
	fs.BoolVar(&ctx.Verbose, "v", false, "trace the linking process to stderr")

	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: c67link [-o output.exe] [-m map.txt] [-l dir] [-L name]... object.obj...")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	ctx.Objects = fs.Args()
	if len(ctx.Objects) == 0 {
		return nil, fmt.Errorf("no object files given")
	}

	ctx.LibDirs = libDirs
	ctx.LibNames = libNames

	if ctx.Output == "" {
		ctx.Output = defaultOutputPath(ctx.Objects)
	}

	return &ctx, nil
}

// RunCLI parses args, runs the link, and reports the outcome. It returns an
// exit code: 0 on success, 1 if the link failed, 2 for a usage error.
func RunCLI(args []string) int {
	ctx, err := ParseArgs(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	VerboseMode = ctx.Verbose

	if err := Link(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
