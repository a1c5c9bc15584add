package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// RunPass1 resolves every symbol and lays out every segment and group. It
// returns the full object list the link will emit from: the command-line
// objects followed by whatever library modules were pulled in to satisfy
// undefined externals, in deterministic order.
func RunPass1(state *LinkState, objs []*Object, libs []*Library, diags *Diagnostics) ([]*Object, error) {
	for _, obj := range objs {
		if err := processObjectPass1(state, obj, diags); err != nil {
			return nil, fmt.Errorf("%s: %w", obj.DisplayName(), err)
		}
	}

	libObjs, err := resolveLibraries(state, libs, diags)
	if err != nil {
		return nil, err
	}
	allObjs := append(append([]*Object{}, objs...), libObjs...)

	layoutCommonSymbols(state)
	buildMemoryMap(state)

	return allObjs, nil
}

func processObjectPass1(state *LinkState, obj *Object, diags *Diagnostics) error {
	offset := 0
	for offset < len(obj.Data) {
		rec, err := NewRecord(obj.Data[offset:])
		if err != nil {
			return err
		}

		switch rec.Type {
		case RecTHEADR:
			name, err := rec.CountedString()
			if err != nil {
				return err
			}
			obj.Name = name
		case RecCOMENT:
			// Vendor/library comments carry no linking information we act on.
		case RecLNAMES:
			if err := processLNAMES(state, obj, rec); err != nil {
				return err
			}
		case RecSEGDEF:
			if err := processSEGDEF(state, obj, rec, diags); err != nil {
				return err
			}
		case RecGRPDEF:
			if err := processGRPDEF(state, obj, rec, diags); err != nil {
				return err
			}
		case RecEXTDEF, RecLEXTDEF:
			if err := processEXTDEF(state, obj, rec); err != nil {
				return err
			}
		case RecPUBDEF, RecLPUBDEF:
			if err := processPUBDEF(state, obj, rec); err != nil {
				return err
			}
		case RecCOMDEF, RecLCOMDEF:
			if err := processCOMDEF(state, obj, rec); err != nil {
				return err
			}
		case RecLEDATA, RecLIDATA, RecFIXUPP:
			// Handled in pass 2, once every segment has a final base.
		case RecMODEND:
			return nil
		default:
			return fmt.Errorf("unhandled record type %s", rec.Type)
		}

		offset += rec.TotalLength()
	}
	return fmt.Errorf("module ended without MODEND")
}

func processLNAMES(state *LinkState, obj *Object, rec *Record) error {
	for !rec.End() {
		name, err := rec.CountedString()
		if err != nil {
			return err
		}
		obj.LNames.Add(state.FindOrAddName(name))
	}
	return nil
}

func processSEGDEF(state *LinkState, obj *Object, rec *Record, diags *Diagnostics) error {
	acbp, err := rec.Byte()
	if err != nil {
		return err
	}
	align, err := alignFromACBP(acbp)
	if err != nil {
		return err
	}
	combine, err := combineFromACBP(acbp)
	if err != nil {
		return err
	}
	big := acbp&1 == 1

	if align == AlignAbsolute {
		if _, err := rec.Word(); err != nil { // frame
			return err
		}
		if _, err := rec.Byte(); err != nil { // offset
			return err
		}
		diags.Warnf(obj.DisplayName(), "segment with absolute alignment is parsed but not placed at a fixed frame")
	}

	lenField, err := rec.Word()
	if err != nil {
		return err
	}
	length := int(lenField)
	if big {
		length = MaxSegmentSize
	}

	rawName, err := rec.Index()
	if err != nil {
		return err
	}
	rawClass, err := rec.Index()
	if err != nil {
		return err
	}
	rawOverlay, err := rec.Index()
	if err != nil {
		return err
	}

	if !(obj.LNames.IsValidIndex(rawName) && obj.LNames.IsValidIndex(rawClass) && obj.LNames.IsValidIndex(rawOverlay)) {
		return fmt.Errorf("invalid name triplet %d.%d.%d for SEGDEF", rawName, rawClass, rawOverlay)
	}

	segName := SegName{
		NameIdx:    obj.LNames.Get(rawName),
		ClassIdx:   obj.LNames.Get(rawClass),
		OverlayIdx: obj.LNames.Get(rawOverlay),
	}

	segIdx, found := state.GetSegmentNamed(segName)
	base := 0
	if !found {
		seg := NewSegment(segName, align, combine)
		seg.Length = length
		segIdx = state.Segments.Add(seg)
	} else {
		base, err = state.Segments.Get(segIdx).AddSegDef(length, align, combine)
		if err != nil {
			return fmt.Errorf("segment %s: %w", state.SegName(segName), err)
		}
	}

	obj.SegDefs.Add(&SegDef{
		SegIdx:  segIdx,
		Base:    base,
		Length:  length,
		ACBP:    acbp,
		Align:   align,
		Combine: combine,
	})
	return nil
}

func processGRPDEF(state *LinkState, obj *Object, rec *Record, diags *Diagnostics) error {
	rawName, err := rec.Index()
	if err != nil {
		return err
	}
	if !obj.LNames.IsValidIndex(rawName) {
		return fmt.Errorf("invalid name %d for GRPDEF", rawName)
	}
	nameGlobalIdx := obj.LNames.Get(rawName)

	groupIdx, found := state.GetGroupNamed(nameGlobalIdx)
	if !found {
		groupIdx = state.Groups.Add(NewGroup(nameGlobalIdx))
	}
	obj.GrpDefs.Add(groupIdx)

	for !rec.End() {
		marker, err := rec.Byte()
		if err != nil {
			return err
		}
		if marker != 0xFF {
			return fmt.Errorf("unexpected GRPDEF member type 0x%02x", marker)
		}
		rawSegIdx, err := rec.Index()
		if err != nil {
			return err
		}
		if !obj.SegDefs.IsValidIndex(rawSegIdx) {
			return fmt.Errorf("GRPDEF references segment %d before it was defined", rawSegIdx)
		}
		segdef := obj.SegDefs.Get(rawSegIdx)
		group := state.Groups.Get(groupIdx)
		group.Add(segdef.SegIdx)
		tagSegmentGroup(state, segdef.SegIdx, groupIdx, diags, obj.DisplayName())
	}
	return nil
}

func tagSegmentGroup(state *LinkState, segIdx, groupIdx int, diags *Diagnostics, objName string) {
	seg := state.Segments.Get(segIdx)
	if seg.Group != 0 && seg.Group != groupIdx {
		diags.Warnf(objName, "segment %s already belongs to a different group", state.SegName(seg.Name))
		return
	}
	seg.Group = groupIdx
}

func processEXTDEF(state *LinkState, obj *Object, rec *Record) error {
	for !rec.End() {
		name, err := rec.CountedString()
		if err != nil {
			return err
		}
		if _, err := rec.Index(); err != nil { // type index, unused
			return err
		}
		upper := strings.ToUpper(name)
		obj.ExtDefs.Add(upper)
		if err := state.Symbols.Update(upper, Symbol{Kind: SymUndefined}); err != nil {
			return err
		}
	}
	return nil
}

func processPUBDEF(state *LinkState, obj *Object, rec *Record) error {
	rawGroupIdx, err := rec.Index()
	if err != nil {
		return err
	}
	rawSegIdx, err := rec.Index()
	if err != nil {
		return err
	}

	var segdef *SegDef
	var absoluteFrame uint16
	if rawSegIdx == 0 {
		absoluteFrame, err = rec.Word()
		if err != nil {
			return err
		}
	} else {
		if !obj.SegDefs.IsValidIndex(rawSegIdx) {
			return fmt.Errorf("PUBDEF references segment %d before it was defined", rawSegIdx)
		}
		segdef = obj.SegDefs.Get(rawSegIdx)
	}

	groupIdx := 0
	if rawGroupIdx != 0 {
		if !obj.GrpDefs.IsValidIndex(rawGroupIdx) {
			return fmt.Errorf("PUBDEF references group %d before it was defined", rawGroupIdx)
		}
		groupIdx = obj.GrpDefs.Get(rawGroupIdx)
	}

	for !rec.End() {
		name, err := rec.CountedString()
		if err != nil {
			return err
		}
		offset, err := rec.Word()
		if err != nil {
			return err
		}
		if _, err := rec.Index(); err != nil { // type index, unused
			return err
		}

		var sym Symbol
		if segdef != nil {
			if !(int(offset) < segdef.Length || (segdef.Length == 0 && offset == 0)) {
				return fmt.Errorf("PUBDEF offset 0x%x is outside segment of length 0x%x", offset, segdef.Length)
			}
			finalOffset := segdef.Base + int(offset)
			if finalOffset > 0xFFFF {
				return fmt.Errorf("public symbol %q offset does not fit in 16 bits", name)
			}
			sym = NewPublicSymbol(groupIdx, segdef.SegIdx, 0, uint16(finalOffset))
		} else {
			sym = NewPublicSymbol(groupIdx, 0, absoluteFrame, offset)
		}

		if err := state.Symbols.Update(strings.ToUpper(name), sym); err != nil {
			return err
		}
	}
	return nil
}

func processCOMDEF(state *LinkState, obj *Object, rec *Record) error {
	for !rec.End() {
		name, err := rec.CountedString()
		if err != nil {
			return err
		}
		if _, err := rec.Index(); err != nil { // type index, unused
			return err
		}
		dataType, err := rec.Byte()
		if err != nil {
			return err
		}

		var size uint32
		var isFar bool
		switch dataType {
		case 0x61: // far: element count followed by element size
			count, err := rec.ComdefLength()
			if err != nil {
				return err
			}
			elemSize, err := rec.ComdefLength()
			if err != nil {
				return err
			}
			size = count * elemSize
			isFar = true
		default: // near: a single byte count (0x62 and the legacy single-byte forms)
			size, err = rec.ComdefLength()
			if err != nil {
				return err
			}
		}

		if err := state.Symbols.Update(strings.ToUpper(name), NewCommonSymbol(size, isFar)); err != nil {
			return err
		}
	}
	return nil
}

// collectUndefinedNames returns the set of symbol names still tagged
// Undefined.
func collectUndefinedNames(state *LinkState) map[string]bool {
	out := map[string]bool{}
	for _, n := range state.Symbols.UndefinedSymbols() {
		out[n] = true
	}
	return out
}

type libPage struct {
	libIdx int
	page   int
}

// resolveLibraries implements the library closure search described for
// external resolution: repeatedly scan the libraries in order for the
// first module defining any still-undefined name, and absorb that
// module's own externals into the undefined set, until a pass finds
// nothing new. Modules are then placed in deterministic (library, page)
// order.
func resolveLibraries(state *LinkState, libs []*Library, diags *Diagnostics) ([]*Object, error) {
	if len(libs) == 0 {
		undefined := collectUndefinedNames(state)
		if len(undefined) > 0 {
			return nil, unresolvedExternalsError(state, undefined)
		}
		return nil, nil
	}

	found := map[libPage]bool{}
	var order []libPage

	for {
		undefined := collectUndefinedNames(state)
		progressed := false

		for name := range undefined {
			for libIdx, lib := range libs {
				page, ok := lib.FindSymbol(name)
				if !ok {
					continue
				}
				key := libPage{libIdx, page}
				if found[key] {
					break
				}
				found[key] = true
				order = append(order, key)
				progressed = true

				data, err := lib.ExtractModule(page)
				if err != nil {
					return nil, err
				}
				for _, extern := range scanExternNames(data) {
					state.Symbols.Update(extern, Symbol{Kind: SymUndefined})
				}
				break
			}
		}

		if !progressed {
			break
		}
	}

	undefined := collectUndefinedNames(state)
	if len(undefined) > 0 {
		return nil, unresolvedExternalsError(state, undefined)
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].libIdx != order[j].libIdx {
			return order[i].libIdx < order[j].libIdx
		}
		return order[i].page < order[j].page
	})

	objs := make([]*Object, 0, len(order))
	for _, key := range order {
		lib := libs[key.libIdx]
		data, err := lib.ExtractModule(key.page)
		if err != nil {
			return nil, err
		}
		obj := NewObject(data)
		obj.Path = fmt.Sprintf("%s@%04x", lib.Name, key.page)
		if err := processObjectPass1(state, obj, diags); err != nil {
			return nil, fmt.Errorf("%s: %w", obj.DisplayName(), err)
		}
		objs = append(objs, obj)
	}
	return objs, nil
}

// scanExternNames walks a module's records far enough to list every name it
// imports (EXTDEF/LEXTDEF) or declares communal (COMDEF/LCOMDEF), without
// touching the link state. It is used only to grow the undefined-name work
// set while searching libraries.
func scanExternNames(data []byte) []string {
	var names []string
	offset := 0
	for offset < len(data) {
		rec, err := NewRecord(data[offset:])
		if err != nil {
			return names
		}
		switch rec.Type {
		case RecEXTDEF, RecLEXTDEF:
			for !rec.End() {
				name, err := rec.CountedString()
				if err != nil {
					return names
				}
				if _, err := rec.Index(); err != nil {
					return names
				}
				names = append(names, strings.ToUpper(name))
			}
		case RecCOMDEF, RecLCOMDEF:
			for !rec.End() {
				name, err := rec.CountedString()
				if err != nil {
					return names
				}
				if _, err := rec.Index(); err != nil {
					return names
				}
				dataType, err := rec.Byte()
				if err != nil {
					return names
				}
				if dataType == 0x61 {
					if _, err := rec.ComdefLength(); err != nil {
						return names
					}
					if _, err := rec.ComdefLength(); err != nil {
						return names
					}
				} else if _, err := rec.ComdefLength(); err != nil {
					return names
				}
				names = append(names, strings.ToUpper(name))
			}
		case RecMODEND:
			return names
		}
		offset += rec.TotalLength()
	}
	return names
}

func unresolvedExternalsError(state *LinkState, undefined map[string]bool) error {
	var known []string
	for name, sym := range state.Symbols.All() {
		if sym.Kind != SymUndefined {
			known = append(known, name)
		}
	}
	sort.Strings(known)

	names := make([]string, 0, len(undefined))
	for n := range undefined {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintln(os.Stderr, suggestForUndefined(name, known))
	}
	return fmt.Errorf("%d undefined externals", len(names))
}

// layoutCommonSymbols lays out every Common symbol contiguously, sorted by
// name, at the end of the first segment whose class name is BSS or STACK.
// If no such segment exists, common symbols are left unplaced (Offset 0,
// Segment 0) and reported as a link error downstream when referenced.
func layoutCommonSymbols(state *LinkState) {
	var target *Segment
	var targetIdx int
	for i := 1; i <= state.Segments.Len(); i++ {
		seg := state.Segments.Get(i)
		className := strings.ToUpper(state.Name(seg.Name.ClassIdx))
		if className == "BSS" || className == "STACK" {
			target = seg
			targetIdx = i
			break
		}
	}
	if target == nil {
		return
	}

	var names []string
	for name, sym := range state.Symbols.All() {
		if sym.Kind == SymCommon {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	offset := target.Length
	for _, name := range names {
		sym, _ := state.Symbols.Get(name)
		sym.Common.Group = target.Group
		sym.Common.Segment = targetIdx
		sym.Common.Offset = uint16(offset)
		state.Symbols.set(name, sym)
		offset += int(sym.Common.Size)
	}
	if offset > target.Length {
		target.Length = offset
	}
}

// buildMemoryMap assigns every segment a final base address by walking
// segments in the order they were first seen, grouping segments that share
// a nonzero class name together, and aligning each one to its own
// requirement. Each group's base is then fixed to its lowest member base.
func buildMemoryMap(state *LinkState) {
	n := state.Segments.Len()
	placed := make([]bool, n+1)
	nextBase := 0

	place := func(idx int) {
		if placed[idx] {
			return
		}
		seg := state.Segments.Get(idx)
		seg.Base = seg.Align.alignBy(nextBase)
		nextBase = seg.Base + seg.Length
		placed[idx] = true
		state.SegmentOrder = append(state.SegmentOrder, idx)
	}

	for i := 1; i <= n; i++ {
		if placed[i] {
			continue
		}
		seg := state.Segments.Get(i)
		classIdx := seg.Name.ClassIdx
		if classIdx == 0 {
			place(i)
			continue
		}
		for j := i; j <= n; j++ {
			if placed[j] {
				continue
			}
			other := state.Segments.Get(j)
			if other.Name.ClassIdx == classIdx {
				place(j)
			}
		}
	}

	for i := 1; i <= state.Groups.Len(); i++ {
		g := state.Groups.Get(i)
		if len(g.Members) == 0 {
			continue
		}
		min := state.Segments.Get(g.Members[0]).Base
		for _, m := range g.Members[1:] {
			if b := state.Segments.Get(m).Base; b < min {
				min = b
			}
		}
		g.Base = min
	}
}
