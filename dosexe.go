package main

import (
	"fmt"
	"os"
)

const (
	offMZSig       = 0x00
	offExtraBytes  = 0x02
	offPages       = 0x04
	offRelocCount  = 0x06
	offHeaderParas = 0x08
	offMinAlloc    = 0x0A
	offMaxAlloc    = 0x0C
	offSS          = 0x0E
	offSP          = 0x10
	offChecksum    = 0x12
	offIP          = 0x14
	offCS          = 0x16
	offRelocOffset = 0x18
	offOverlay     = 0x1A
	offOverlayData = 0x1C

	pageSize   = 512
	paraSize   = 16
	relocStart = 0x3E
)

// Relocation is one entry of the MZ relocation table: a far pointer to a
// location in the image whose segment word must be fixed up when the
// loader relocates the program.
type Relocation struct {
	Seg, Offset uint16
}

// DosExe assembles an MZ header around an already-linked program image.
type DosExe struct {
	data     []byte
	relocs   []Relocation
	minAlloc uint16
	maxAlloc uint16
	entry    FarPtr
	ss, sp   uint16
}

func NewDosExe(data []byte) *DosExe {
	return &DosExe{data: data, maxAlloc: 0xFFFF}
}

func farPtrInRange(dataLen int, p FarPtr, minSize int) bool {
	lin := p.Linear()
	return lin >= 0 && lin+minSize <= dataLen
}

// SetEntryPoint records the program's CS:IP, failing if the pointer does
// not land inside the image that was actually produced.
func (e *DosExe) SetEntryPoint(p FarPtr) error {
	if !farPtrInRange(len(e.data), p, 1) {
		return fmt.Errorf("entry point %04x:%04x is outside of the executable", p.Seg, p.Offset)
	}
	e.entry = p
	return nil
}

// SetStack records SS:SP. Unlike the entry point, the stack segment
// typically lives past the end of initialized data (in the extra memory
// granted by minAlloc), so no bounds check is applied here.
func (e *DosExe) SetStack(ss, sp uint16) {
	e.ss, e.sp = ss, sp
}

func (e *DosExe) SetMinAlloc(paras uint16) { e.minAlloc = paras }
func (e *DosExe) SetMaxAlloc(paras uint16) { e.maxAlloc = paras }

func (e *DosExe) AddRelocation(r Relocation) {
	e.relocs = append(e.relocs, r)
}

func le16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

// WriteFile renders the MZ header and image to path, matching the layout a
// period linker such as TLINK would produce: a fixed relocation table
// offset of 0x3E and a header padded to a whole number of 512-byte pages.
func (e *DosExe) WriteFile(path string) error {
	if len(e.relocs) > 0xFFFF {
		return fmt.Errorf("too many relocations (%d) for an MZ header", len(e.relocs))
	}

	relocTableEnd := relocStart + len(e.relocs)*4
	headerSize := relocTableEnd
	if headerSize < pageSize {
		headerSize = pageSize
	}
	headerSize = (headerSize + pageSize - 1) / pageSize * pageSize
	headerParas := headerSize / paraSize

	totalSize := headerSize + len(e.data)
	imagePages := (totalSize + pageSize - 1) / pageSize
	if imagePages > 0xFFFF {
		return fmt.Errorf("executable image of %d bytes exceeds the MZ page-count limit", totalSize)
	}
	lastPageBytes := totalSize % pageSize

	header := make([]byte, headerSize)
	header[offMZSig], header[offMZSig+1] = 'M', 'Z'
	le16(header[offExtraBytes:], uint16(lastPageBytes))
	le16(header[offPages:], uint16(imagePages))
	le16(header[offRelocCount:], uint16(len(e.relocs)))
	le16(header[offHeaderParas:], uint16(headerParas))
	le16(header[offMinAlloc:], e.minAlloc)
	le16(header[offMaxAlloc:], e.maxAlloc)
	le16(header[offSS:], e.ss)
	le16(header[offSP:], e.sp)
	le16(header[offChecksum:], 0)
	le16(header[offIP:], e.entry.Offset)
	le16(header[offCS:], e.entry.Seg)
	le16(header[offRelocOffset:], relocStart)
	le16(header[offOverlay:], 0)
	le16(header[offOverlayData:], 1)

	for i, r := range e.relocs {
		at := relocStart + i*4
		le16(header[at:], r.Offset)
		le16(header[at+2:], r.Seg)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(header); err != nil {
		return err
	}
	if _, err := f.Write(e.data); err != nil {
		return err
	}
	return nil
}
