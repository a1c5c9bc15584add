package main

import (
	"encoding/binary"
	"os"
	"testing"
)

func TestDosExeWriteFileHeaderLayout(t *testing.T) {
	image := make([]byte, 1000)
	for i := range image {
		image[i] = byte(i)
	}

	exe := NewDosExe(image)
	exe.SetMinAlloc(2)
	if err := exe.SetEntryPoint(FarPtr{Seg: 0x10, Offset: 0x20}); err != nil {
		t.Fatalf("SetEntryPoint: %v", err)
	}
	exe.SetStack(0x50, 0x100)
	exe.AddRelocation(Relocation{Seg: 0x10, Offset: 0x30})
	exe.AddRelocation(Relocation{Seg: 0x11, Offset: 0x40})

	path := t.TempDir() + "/out.exe"
	if err := exe.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if string(data[0:2]) != "MZ" {
		t.Fatalf("signature = %q, want MZ", data[0:2])
	}
	if got := binary.LittleEndian.Uint16(data[offRelocCount:]); got != 2 {
		t.Fatalf("reloc count = %d, want 2", got)
	}
	if got := binary.LittleEndian.Uint16(data[offRelocOffset:]); got != relocStart {
		t.Fatalf("reloc table offset = 0x%x, want 0x%x", got, relocStart)
	}
	if got := binary.LittleEndian.Uint16(data[offMinAlloc:]); got != 2 {
		t.Fatalf("minAlloc = %d, want 2", got)
	}
	if got := binary.LittleEndian.Uint16(data[offMaxAlloc:]); got != 0xFFFF {
		t.Fatalf("maxAlloc = %d, want 0xffff", got)
	}
	if got := binary.LittleEndian.Uint16(data[offSS:]); got != 0x50 {
		t.Fatalf("SS = 0x%x, want 0x50", got)
	}
	if got := binary.LittleEndian.Uint16(data[offSP:]); got != 0x100 {
		t.Fatalf("SP = 0x%x, want 0x100", got)
	}
	if got := binary.LittleEndian.Uint16(data[offIP:]); got != 0x20 {
		t.Fatalf("IP = 0x%x, want 0x20", got)
	}
	if got := binary.LittleEndian.Uint16(data[offCS:]); got != 0x10 {
		t.Fatalf("CS = 0x%x, want 0x10", got)
	}
	if got := binary.LittleEndian.Uint16(data[offChecksum:]); got != 0 {
		t.Fatalf("checksum = 0x%x, want 0", got)
	}
	if got := binary.LittleEndian.Uint16(data[offOverlay:]); got != 0 {
		t.Fatalf("overlay = %d, want 0", got)
	}
	if got := binary.LittleEndian.Uint16(data[offOverlayData:]); got != 1 {
		t.Fatalf("overlay data = %d, want 1", got)
	}

	headerParas := binary.LittleEndian.Uint16(data[offHeaderParas:])
	headerSize := int(headerParas) * paraSize
	if headerSize%pageSize != 0 {
		t.Fatalf("header size %d is not a multiple of %d", headerSize, pageSize)
	}

	r0off := relocStart
	if got := binary.LittleEndian.Uint16(data[r0off:]); got != 0x30 {
		t.Fatalf("reloc[0].Offset = 0x%x, want 0x30", got)
	}
	if got := binary.LittleEndian.Uint16(data[r0off+2:]); got != 0x10 {
		t.Fatalf("reloc[0].Seg = 0x%x, want 0x10", got)
	}

	imageStart := headerSize
	if data[imageStart] != image[0] || data[imageStart+1] != image[1] {
		t.Fatalf("program image was not written starting at the header boundary")
	}
}

func TestDosExeEntryPointOutOfRangeFails(t *testing.T) {
	exe := NewDosExe(make([]byte, 16))
	if err := exe.SetEntryPoint(FarPtr{Seg: 0x1000, Offset: 0}); err == nil {
		t.Fatalf("SetEntryPoint outside the image: want error, got nil")
	}
}

func TestDosExeTooManyRelocationsFails(t *testing.T) {
	exe := NewDosExe(make([]byte, 16))
	for i := 0; i < 0x10001; i++ {
		exe.AddRelocation(Relocation{})
	}
	path := t.TempDir() + "/out.exe"
	if err := exe.WriteFile(path); err == nil {
		t.Fatalf("WriteFile with more than 65535 relocations: want error, got nil")
	}
}
