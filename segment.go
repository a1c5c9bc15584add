package main

import "fmt"

// Align is the segment alignment, ordered from coarsest placement freedom
// (Absolute, which demands a specific frame) to the most restrictive
// (Page). The ordering matters: Segment.AddSegDef widens a segment's
// alignment requirement to the strictest one seen so far.
type Align int

const (
	AlignAbsolute Align = iota
	AlignByte
	AlignWord
	AlignDword
	AlignPara
	AlignPage
)

// alignFromACBP decodes the 3-bit alignment field of a SEGDEF's ACBP byte.
// The numeric-to-enum mapping is not monotonic with Align's declared order.
func alignFromACBP(acbp byte) (Align, error) {
	switch (acbp >> 5) & 7 {
	case 0:
		return AlignAbsolute, nil
	case 1:
		return AlignByte, nil
	case 2:
		return AlignWord, nil
	case 3:
		return AlignPara, nil
	case 4:
		return AlignPage, nil
	case 5:
		return AlignDword, nil
	default:
		return 0, fmt.Errorf("invalid segment alignment field in ACBP 0x%02x", acbp)
	}
}

func (a Align) multiple() int {
	switch a {
	case AlignWord:
		return 2
	case AlignDword:
		return 4
	case AlignPara:
		return 16
	case AlignPage:
		return 256
	default:
		return 1
	}
}

// alignBy rounds offset up to the next multiple of a's natural alignment.
func (a Align) alignBy(offset int) int {
	m := a.multiple()
	return (offset + m - 1) &^ (m - 1)
}

// Combine is the SEGDEF combine type controlling how contributions from
// different objects to the same named segment are merged.
type Combine int

const (
	CombinePrivate Combine = iota
	CombinePublic
	CombineStack
	CombineCommon
)

// combineFromACBP decodes the 3-bit combine field of a SEGDEF's ACBP byte.
func combineFromACBP(acbp byte) (Combine, error) {
	switch (acbp >> 2) & 7 {
	case 0:
		return CombinePrivate, nil
	case 2, 4, 7:
		return CombinePublic, nil
	case 5:
		return CombineStack, nil
	case 6:
		return CombineCommon, nil
	default:
		return 0, fmt.Errorf("invalid segment combine field in ACBP 0x%02x", acbp)
	}
}

// MaxSegmentSize is the hard 64 KiB cap on any one segment's length.
const MaxSegmentSize = 0x10000

// SegName is the interned-name triple that identifies a segment. Two
// segments combine into one iff their triples compare equal.
type SegName struct {
	NameIdx, ClassIdx, OverlayIdx int
}

// SegDef records one object's contribution to a global Segment: the portion
// of the segment's final layout that this object's LEDATA/LIDATA addresses.
type SegDef struct {
	SegIdx  int
	Base    int
	Length  int
	ACBP    byte
	Align   Align
	Combine Combine
}

// Segment is the linker-global merge of every object's SegDef sharing the
// same SegName.
type Segment struct {
	Name    SegName
	Length  int
	Align   Align
	Combine Combine
	Base    int
	Group   int
}

func NewSegment(name SegName, align Align, combine Combine) *Segment {
	return &Segment{Name: name, Align: align, Combine: combine}
}

// AddSegDef folds one object's contribution into this segment and returns
// the offset within the segment where that contribution begins.
func (s *Segment) AddSegDef(length int, align Align, combine Combine) (int, error) {
	if s.Combine == CombinePrivate || combine == CombinePrivate {
		return 0, fmt.Errorf("cannot combine a private segment with another contribution")
	}
	if s.Combine != combine {
		return 0, fmt.Errorf("mismatched combine type (segment is %v, contribution is %v)", s.Combine, combine)
	}
	if length > MaxSegmentSize {
		return 0, fmt.Errorf("segment contribution of 0x%x exceeds the maximum segment size", length)
	}

	var offset int
	switch combine {
	case CombinePublic:
		offset = align.alignBy(s.Length)
		newLength := offset + length
		if newLength > MaxSegmentSize {
			return 0, fmt.Errorf("segment grows past the 0x10000 maximum segment size")
		}
		s.Length = newLength
	case CombineStack:
		offset = s.Length
		newLength := offset + length
		if newLength > MaxSegmentSize {
			return 0, fmt.Errorf("segment grows past the 0x10000 maximum segment size")
		}
		s.Length = newLength
	case CombineCommon:
		offset = 0
		if length > s.Length {
			s.Length = length
		}
	}

	if align > s.Align {
		s.Align = align
	}
	return offset, nil
}
