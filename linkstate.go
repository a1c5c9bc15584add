package main

import "fmt"

// FarPtr is a 16:16 real-mode pointer.
type FarPtr struct {
	Seg, Offset uint16
}

// Linear returns the 20-bit linear address (seg<<4)+offset, computed with a
// wider integer than 16 bits and truncated only when written back into a
// record or patched into the image. In C-family precedence "seg << 4 +
// offset" parses as "seg << (4 + offset)"; Go binds << tighter than +, and
// the explicit parentheses make the intended grouping plain either way.
func (f FarPtr) Linear() int {
	return (int(f.Seg) << 4) + int(f.Offset)
}

// LinkState is the single mutable aggregate shared by both passes: the name
// interner, the global segment and group tables, the symbol table, the
// final placement order, and the optional program entry point.
type LinkState struct {
	Names    omfVec[string]
	Segments omfVec[*Segment]
	Groups   omfVec[*Group]
	Symbols  *SymbolTable

	SegmentOrder []int
	Entry        *FarPtr
}

func NewLinkState() *LinkState {
	return &LinkState{Symbols: NewSymbolTable()}
}

// FindOrAddName interns name, returning its existing global index if one
// was already registered (comparison is case-sensitive) or a new one.
func (s *LinkState) FindOrAddName(name string) int {
	for i := 1; i <= s.Names.Len(); i++ {
		if s.Names.Get(i) == name {
			return i
		}
	}
	return s.Names.Add(name)
}

// Name returns the interned string at idx, or "" for the sentinel index 0.
func (s *LinkState) Name(idx int) string {
	if idx == 0 {
		return ""
	}
	return s.Names.Get(idx)
}

func (s *LinkState) GetSegmentNamed(name SegName) (int, bool) {
	for i := 1; i <= s.Segments.Len(); i++ {
		if s.Segments.Get(i).Name == name {
			return i, true
		}
	}
	return 0, false
}

func (s *LinkState) GetGroupNamed(nameIdx int) (int, bool) {
	for i := 1; i <= s.Groups.Len(); i++ {
		if s.Groups.Get(i).Name == nameIdx {
			return i, true
		}
	}
	return 0, false
}

// SegName renders a segment name triple in "name.class.overlay" display form.
func (s *LinkState) SegName(n SegName) string {
	return fmt.Sprintf("%s.%s.%s", s.Name(n.NameIdx), s.Name(n.ClassIdx), s.Name(n.OverlayIdx))
}
