package main

import (
	"os"
	"path/filepath"
)

// Link drives the full two-pass process for one invocation: load inputs,
// resolve symbols and lay out segments, apply fixups and emit the image,
// then write the MZ executable (and, if requested, a link-map report).
func Link(ctx *CommandContext) error {
	objs, err := loadObjects(ctx.Objects)
	if err != nil {
		return err
	}

	libs, err := loadLibraries(ctx)
	if err != nil {
		return err
	}

	state := NewLinkState()
	diags := NewDiagnostics()

	allObjs, err := RunPass1(state, objs, libs, diags)
	if err != nil {
		diags.Report(os.Stderr)
		return err
	}

	image, relocs, minAlloc, ss, sp, err := RunPass2(state, allObjs, diags)
	if err != nil {
		diags.Report(os.Stderr)
		return err
	}

	diags.Report(os.Stderr)
	if diags.HasErrors() {
		return &LinkError{Severity: SevError, Message: "link failed"}
	}

	exe := NewDosExe(image)
	exe.SetMinAlloc(minAlloc)
	if state.Entry != nil {
		if err := exe.SetEntryPoint(*state.Entry); err != nil {
			return err
		}
	}
	exe.SetStack(ss, sp)
	for _, r := range relocs {
		exe.AddRelocation(r)
	}

	verbosef("writing %s (%d bytes, %d relocations)\n", ctx.Output, len(image), len(relocs))
	if err := exe.WriteFile(ctx.Output); err != nil {
		return err
	}

	if ctx.MapPath != "" {
		f, err := os.Create(ctx.MapPath)
		if err != nil {
			return err
		}
		defer f.Close()
		WriteLinkMap(f, state, allObjs)
	}

	return nil
}

func loadObjects(paths []string) ([]*Object, error) {
	objs := make([]*Object, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		obj := NewObject(data)
		obj.Path = filepath.Base(p)
		objs = append(objs, obj)
	}
	return objs, nil
}

func loadLibraries(ctx *CommandContext) ([]*Library, error) {
	libs := make([]*Library, 0, len(ctx.LibNames))
	dirs := append([]string{"."}, ctx.LibDirs...)

	for _, name := range ctx.LibNames {
		var path string
		found := false
		for _, dir := range dirs {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				found = true
				break
			}
			if !strHasLibExt(name) {
				candidateExt := candidate + ".lib"
				if _, err := os.Stat(candidateExt); err == nil {
					path = candidateExt
					found = true
					break
				}
			}
		}
		if !found {
			return nil, &LinkError{Severity: SevError, Message: "cannot find library " + name}
		}

		data, err := openLibraryData(path)
		if err != nil {
			return nil, err
		}
		lib, err := OpenLibrary(filepath.Base(path), data)
		if err != nil {
			return nil, err
		}
		libs = append(libs, lib)
	}
	return libs, nil
}

func strHasLibExt(name string) bool {
	ext := filepath.Ext(name)
	return len(ext) > 0
}
