package main

import (
	"fmt"
	"strings"
)

// dataRegion is the running "last data written" state a module's FIXUPP
// records implicitly refer to via FrameSegOfPrevData and self-relative
// fixups: the segment frame, the linear base, and the length of the most
// recent LEDATA/LIDATA block.
type dataRegion struct {
	Frame  int
	Base   int
	Length int
}

// RunPass2 applies every fixup and writes the final program image. It
// returns the trimmed image, the MZ relocation table, the paragraphs of
// extra memory the header should request (minAlloc), and the stack
// segment/pointer pair.
func RunPass2(state *LinkState, objs []*Object, diags *Diagnostics) (image []byte, relocs []Relocation, minAlloc, ss, sp uint16, err error) {
	total := 0
	if n := len(state.SegmentOrder); n > 0 {
		last := state.Segments.Get(state.SegmentOrder[n-1])
		total = last.Base + last.Length
	}
	full := make([]byte, total)
	highwater := 0

	for _, obj := range objs {
		threads := &ThreadState{}
		var lastData dataRegion

		offset := 0
		for offset < len(obj.Data) {
			rec, rerr := NewRecord(obj.Data[offset:])
			if rerr != nil {
				return nil, nil, 0, 0, 0, rerr
			}

			switch rec.Type {
			case RecLEDATA:
				end, lerr := applyLEDATA(state, obj, rec, full, &lastData)
				if lerr != nil {
					err = fmt.Errorf("%s: %w", obj.DisplayName(), lerr)
					return nil, nil, 0, 0, 0, err
				}
				if end > highwater {
					highwater = end
				}
			case RecLIDATA:
				end, lerr := applyLIDATA(state, obj, rec, full, &lastData)
				if lerr != nil {
					err = fmt.Errorf("%s: %w", obj.DisplayName(), lerr)
					return nil, nil, 0, 0, 0, err
				}
				if end > highwater {
					highwater = end
				}
			case RecFIXUPP:
				ferr := parseFixupp(rec, threads, func(f *Fixup) error {
					reloc, aerr := applyFixup(state, obj, f, full, &lastData, diags)
					if aerr != nil {
						return aerr
					}
					if reloc != nil {
						relocs = append(relocs, *reloc)
					}
					return nil
				})
				if ferr != nil {
					err = fmt.Errorf("%s: %w", obj.DisplayName(), ferr)
					return nil, nil, 0, 0, 0, err
				}
			case RecMODEND:
				if merr := applyMODEND(state, obj, rec, &lastData); merr != nil {
					err = fmt.Errorf("%s: %w", obj.DisplayName(), merr)
					return nil, nil, 0, 0, 0, err
				}
			}

			offset += rec.TotalLength()
		}
	}

	image = full[:highwater]
	extra := len(full) - highwater
	minAlloc = uint16((extra + 15) / 16)

	var found bool
	ss, sp, found = computeStackPointer(state)
	if !found {
		diags.Warnf("", "no STACK or _STACK segment found; SS:SP left at 0000:0000")
	}

	return image, relocs, minAlloc, ss, sp, nil
}

func applyLEDATA(state *LinkState, obj *Object, rec *Record, image []byte, lastData *dataRegion) (int, error) {
	rawSegIdx, err := rec.Index()
	if err != nil {
		return 0, err
	}
	offset, err := rec.Word()
	if err != nil {
		return 0, err
	}
	data := rec.Rest()

	if !obj.SegDefs.IsValidIndex(rawSegIdx) {
		return 0, fmt.Errorf("LEDATA references segment %d before it was defined", rawSegIdx)
	}
	segdef := obj.SegDefs.Get(rawSegIdx)
	if int(offset)+len(data) > segdef.Length {
		return 0, fmt.Errorf("LEDATA overruns its segment contribution")
	}

	seg := state.Segments.Get(segdef.SegIdx)
	base := seg.Base + segdef.Base + int(offset)
	copy(image[base:], data)

	*lastData = dataRegion{Frame: base >> 4, Base: base, Length: len(data)}
	return base + len(data), nil
}

func applyLIDATA(state *LinkState, obj *Object, rec *Record, image []byte, lastData *dataRegion) (int, error) {
	rawSegIdx, err := rec.Index()
	if err != nil {
		return 0, err
	}
	offset, err := rec.Word()
	if err != nil {
		return 0, err
	}

	var data []byte
	for !rec.End() {
		block, err := expandLIDATABlock(rec)
		if err != nil {
			return 0, err
		}
		data = append(data, block...)
	}

	if !obj.SegDefs.IsValidIndex(rawSegIdx) {
		return 0, fmt.Errorf("LIDATA references segment %d before it was defined", rawSegIdx)
	}
	segdef := obj.SegDefs.Get(rawSegIdx)
	if int(offset)+len(data) > segdef.Length {
		return 0, fmt.Errorf("LIDATA overruns its segment contribution")
	}

	seg := state.Segments.Get(segdef.SegIdx)
	base := seg.Base + segdef.Base + int(offset)
	copy(image[base:], data)

	*lastData = dataRegion{Frame: base >> 4, Base: base, Length: len(data)}
	return base + len(data), nil
}

// expandLIDATABlock expands one iterated-data block: [repeat u16][blockCount
// u16] followed by either a counted leaf (blockCount == 0) or blockCount
// nested blocks, the whole thing repeated repeat times.
func expandLIDATABlock(rec *Record) ([]byte, error) {
	repeat, err := rec.Word()
	if err != nil {
		return nil, err
	}
	blockCount, err := rec.Word()
	if err != nil {
		return nil, err
	}

	var body []byte
	if blockCount == 0 {
		body, err = rec.CountedBytes()
		if err != nil {
			return nil, err
		}
	} else {
		for i := 0; i < int(blockCount); i++ {
			nested, err := expandLIDATABlock(rec)
			if err != nil {
				return nil, err
			}
			body = append(body, nested...)
		}
	}

	out := make([]byte, 0, len(body)*int(repeat))
	for i := 0; i < int(repeat); i++ {
		out = append(out, body...)
	}
	return out, nil
}

func resolveTarget(state *LinkState, obj *Object, f *Fixup) (int, error) {
	switch f.Target.Method {
	case TargetSEGDEF:
		if !obj.SegDefs.IsValidIndex(f.Target.Index) {
			return 0, fmt.Errorf("fixup target references segment %d before it was defined", f.Target.Index)
		}
		segdef := obj.SegDefs.Get(f.Target.Index)
		seg := state.Segments.Get(segdef.SegIdx)
		return seg.Base + segdef.Base + f.Target.Disp, nil

	case TargetGRPDEF:
		if !obj.GrpDefs.IsValidIndex(f.Target.Index) {
			return 0, fmt.Errorf("fixup target references group %d before it was defined", f.Target.Index)
		}
		group := state.Groups.Get(obj.GrpDefs.Get(f.Target.Index))
		return group.Base + f.Target.Disp, nil

	case TargetEXTDEF:
		name, err := externName(obj, f.Target.Index)
		if err != nil {
			return 0, err
		}
		sym, ok := state.Symbols.Get(name)
		if !ok {
			return 0, fmt.Errorf("fixup target references undefined external %q", name)
		}
		base, err := symbolBase(state, sym)
		if err != nil {
			return 0, err
		}
		return base + f.Target.Disp, nil

	default:
		return 0, fmt.Errorf("target type Frame is not supported")
	}
}

// symbolBase returns a resolved symbol's linear base address (without any
// fixup displacement).
func symbolBase(state *LinkState, sym Symbol) (int, error) {
	switch sym.Kind {
	case SymPublic:
		p := sym.Public
		if p.Segment == 0 {
			return int(p.Offset), nil
		}
		return state.Segments.Get(p.Segment).Base + int(p.Offset), nil
	case SymCommon:
		c := sym.Common
		if c.Segment == 0 {
			return 0, fmt.Errorf("communal variable was never laid out")
		}
		return state.Segments.Get(c.Segment).Base + int(c.Offset), nil
	default:
		return 0, fmt.Errorf("reference to an undefined symbol")
	}
}

// symbolFrame returns the paragraph frame (linear address >> 4) a symbol
// should be addressed relative to: its group's frame if it has one,
// otherwise its own segment's frame, or the literal absolute frame word for
// an absolute public symbol.
func symbolFrame(state *LinkState, sym Symbol) (int, error) {
	switch sym.Kind {
	case SymPublic:
		p := sym.Public
		if p.Segment == 0 {
			return int(p.Frame), nil
		}
		if p.Group != 0 {
			return state.Groups.Get(p.Group).Base >> 4, nil
		}
		return state.Segments.Get(p.Segment).Base >> 4, nil
	case SymCommon:
		c := sym.Common
		if c.Group != 0 {
			return state.Groups.Get(c.Group).Base >> 4, nil
		}
		return state.Segments.Get(c.Segment).Base >> 4, nil
	default:
		return 0, fmt.Errorf("reference to an undefined symbol")
	}
}

func externName(obj *Object, localIdx int) (string, error) {
	if !obj.ExtDefs.IsValidIndex(localIdx) {
		return "", fmt.Errorf("fixup references external %d before it was defined", localIdx)
	}
	return obj.ExtDefs.Get(localIdx), nil
}

func resolveFrame(state *LinkState, obj *Object, f *Fixup, lastData *dataRegion, target int) (int, error) {
	switch f.Frame.Method {
	case FrameSEGDEF:
		if !obj.SegDefs.IsValidIndex(f.Frame.Index) {
			return 0, fmt.Errorf("fixup frame references segment %d before it was defined", f.Frame.Index)
		}
		segdef := obj.SegDefs.Get(f.Frame.Index)
		seg := state.Segments.Get(segdef.SegIdx)
		return (seg.Base + segdef.Base) >> 4, nil

	case FrameGRPDEF:
		if !obj.GrpDefs.IsValidIndex(f.Frame.Index) {
			return 0, fmt.Errorf("fixup frame references group %d before it was defined", f.Frame.Index)
		}
		group := state.Groups.Get(obj.GrpDefs.Get(f.Frame.Index))
		return group.Base >> 4, nil

	case FrameEXTDEF:
		name, err := externName(obj, f.Frame.Index)
		if err != nil {
			return 0, err
		}
		sym, ok := state.Symbols.Get(name)
		if !ok {
			return 0, fmt.Errorf("fixup frame references undefined external %q", name)
		}
		return symbolFrame(state, sym)

	case FrameExplicit:
		return int(f.Frame.Explicit), nil

	case FrameSegOfPrevData:
		return lastData.Frame, nil

	case FrameFromTarget:
		return target >> 4, nil

	default:
		return 0, fmt.Errorf("invalid frame method %d", f.Frame.Method)
	}
}

func patchAddU16(image []byte, at int, delta uint16) {
	cur := uint16(image[at]) | uint16(image[at+1])<<8
	sum := cur + delta
	image[at] = byte(sum)
	image[at+1] = byte(sum >> 8)
}

func applyFixup(state *LinkState, obj *Object, f *Fixup, image []byte, lastData *dataRegion, diags *Diagnostics) (*Relocation, error) {
	target, err := resolveTarget(state, obj, f)
	if err != nil {
		return nil, err
	}
	frame, err := resolveFrame(state, obj, f, lastData, target)
	if err != nil {
		return nil, err
	}

	patchSite := lastData.Base + f.DataOffset

	if f.SegRelative {
		foval := target - (frame << 4)
		if foval < 0 || foval > 0xFFFF {
			diags.Warnf(obj.DisplayName(), "segment-relative fixup value 0x%x is out of range", foval)
		}

		switch f.Loc {
		case LocLowByte:
			image[patchSite] += byte(foval & 0xFF)
			return nil, nil
		case LocOffset16:
			patchAddU16(image, patchSite, uint16(foval))
			return nil, nil
		case LocSegment16:
			patchAddU16(image, patchSite, uint16(frame))
			return &Relocation{Seg: uint16(lastData.Frame), Offset: uint16(patchSite - (lastData.Frame << 4))}, nil
		case LocFarPointer:
			patchAddU16(image, patchSite, uint16(foval))
			patchAddU16(image, patchSite+2, uint16(frame))
			return &Relocation{Seg: uint16(lastData.Frame), Offset: uint16(patchSite + 2 - (lastData.Frame << 4))}, nil
		default:
			return nil, fmt.Errorf("unsupported fixup location type")
		}
	}

	if f.Loc != LocOffset16 {
		return nil, fmt.Errorf("self-relative fixups only support 16-bit offsets")
	}
	disp := target - (patchSite + 2)
	if disp < -0x8000 || disp > 0x7FFF {
		diags.Warnf(obj.DisplayName(), "self-relative fixup displacement %d is out of range", disp)
	}
	patchAddU16(image, patchSite, uint16(disp))
	return nil, nil
}

func applyMODEND(state *LinkState, obj *Object, rec *Record, lastData *dataRegion) error {
	typeByte, err := rec.Byte()
	if err != nil {
		return err
	}
	isMain := (typeByte>>7)&1 == 1
	hasStart := (typeByte>>6)&1 == 1
	if !isMain || !hasStart {
		return nil
	}
	if state.Entry != nil {
		return fmt.Errorf("duplicate program start address")
	}

	fixdat, err := rec.Byte()
	if err != nil {
		return err
	}
	f, err := decodeModendFixupData(fixdat, rec)
	if err != nil {
		return err
	}

	target, err := resolveTarget(state, obj, f)
	if err != nil {
		return err
	}
	frame, err := resolveFrame(state, obj, f, lastData, target)
	if err != nil {
		return err
	}

	offset := target - (frame << 4)
	if offset < 0 || offset > 0xFFFF {
		return fmt.Errorf("program entry point does not fit in a 16-bit offset")
	}

	state.Entry = &FarPtr{Seg: uint16(frame), Offset: uint16(offset)}
	return nil
}

// computeStackPointer finds the first segment named STACK or _STACK (the
// name, not the class) and derives SS:SP from it: SS is its paragraph frame, SP
// starts just past its contents so that the first push lands inside it.
func computeStackPointer(state *LinkState) (ss, sp uint16, ok bool) {
	for i := 1; i <= state.Segments.Len(); i++ {
		seg := state.Segments.Get(i)
		name := strings.ToUpper(state.Name(seg.Name.NameIdx))
		if name == "STACK" || name == "_STACK" {
			ss = uint16(seg.Base >> 4)
			top := seg.Length + (seg.Base & 0xF)
			if top > 0xFFFE {
				top = 0xFFFE
			}
			sp = uint16(top)
			return ss, sp, true
		}
	}
	return 0, 0, false
}
