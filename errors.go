package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/xyproto/c67link/internal/engine"
)

// Severity classifies a diagnostic the way the linker's own fatal errors are
// classified: a warning never stops the link, an error prevents the output
// file from being written, a fatal error aborts immediately.
type Severity int

const (
	SevWarning Severity = iota
	SevError
	SevFatal
)

func (s Severity) String() string {
	switch s {
	case SevWarning:
		return "warning"
	case SevError:
		return "error"
	case SevFatal:
		return "fatal error"
	default:
		return "unknown"
	}
}

// LinkError is one diagnostic produced while reading a module or resolving
// its symbols, tagged with the module it came from and, where known, the
// byte offset of the record that triggered it.
type LinkError struct {
	Severity Severity
	Module   string
	Offset   int
	Message  string
	Wrapped  error
}

func (e *LinkError) Error() string {
	if e.Module == "" {
		return fmt.Sprintf("%s: %s", e.Severity, e.Message)
	}
	if e.Offset > 0 {
		return fmt.Sprintf("%s: %s (offset 0x%x): %s", e.Severity, e.Module, e.Offset, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Severity, e.Module, e.Message)
}

func (e *LinkError) Unwrap() error { return e.Wrapped }

func newError(sev Severity, module string, offset int, err error) *LinkError {
	return &LinkError{Severity: sev, Module: module, Offset: offset, Message: err.Error(), Wrapped: err}
}

// Diagnostics accumulates warnings and errors across both passes so the
// driver can report everything found in one run instead of stopping at the
// first problem.
type Diagnostics struct {
	warnings []*LinkError
	errors   []*LinkError
}

func NewDiagnostics() *Diagnostics {
	return &Diagnostics{}
}

func (d *Diagnostics) Add(e *LinkError) {
	switch e.Severity {
	case SevWarning:
		d.warnings = append(d.warnings, e)
	default:
		d.errors = append(d.errors, e)
	}
}

// Warnf records a formatted warning against module.
func (d *Diagnostics) Warnf(module string, format string, args ...any) {
	d.Add(&LinkError{Severity: SevWarning, Module: module, Message: fmt.Sprintf(format, args...)})
}

func (d *Diagnostics) HasErrors() bool { return len(d.errors) > 0 }

func (d *Diagnostics) HasFatal() bool {
	for _, e := range d.errors {
		if e.Severity == SevFatal {
			return true
		}
	}
	return false
}

// Report writes every warning and then every error to w, in the order they
// were recorded.
func (d *Diagnostics) Report(w io.Writer) {
	for _, e := range d.warnings {
		fmt.Fprintln(w, e.Error())
	}
	for _, e := range d.errors {
		fmt.Fprintln(w, e.Error())
	}
}

// suggestForUndefined renders an undefined-external diagnostic with up to
// three "did you mean" suggestions drawn from the names currently known to
// the link state.
func suggestForUndefined(name string, known []string) string {
	suggestions := engine.SuggestSimilar(name, known, 3)
	if len(suggestions) == 0 {
		return fmt.Sprintf("undefined external %q", name)
	}
	sort.Strings(suggestions)
	return fmt.Sprintf("undefined external %q (did you mean %v?)", name, suggestions)
}
