package main

import (
	"fmt"
	"io"
	"sort"
)

// WriteLinkMap renders a human-readable link map: the final segment
// layout, each object's contribution to it, and every public symbol with
// its resolved address.
func WriteLinkMap(w io.Writer, state *LinkState, objs []*Object) {
	fmt.Fprintln(w, "SEGMENTS")
	for _, idx := range state.SegmentOrder {
		seg := state.Segments.Get(idx)
		fmt.Fprintf(w, "  %04x  %06x  %s\n", seg.Base, seg.Length, state.SegName(seg.Name))
	}

	fmt.Fprintln(w, "\nOBJECTS")
	for _, obj := range objs {
		fmt.Fprintf(w, "  %s\n", obj.DisplayName())
		for i := 1; i <= obj.SegDefs.Len(); i++ {
			segdef := obj.SegDefs.Get(i)
			seg := state.Segments.Get(segdef.SegIdx)
			frame := (seg.Base + segdef.Base) >> 4
			off := (seg.Base + segdef.Base) & 0xF
			fmt.Fprintf(w, "    %04x:%04x  %06x  %s\n", frame, off, segdef.Length, state.SegName(seg.Name))
		}
	}

	type publicEntry struct {
		name string
		addr int
	}
	var publics []publicEntry
	for name, sym := range state.Symbols.All() {
		if sym.Kind != SymPublic {
			continue
		}
		base, err := symbolBase(state, sym)
		if err != nil {
			continue
		}
		publics = append(publics, publicEntry{name, base})
	}
	sort.Slice(publics, func(i, j int) bool {
		if publics[i].name != publics[j].name {
			return publics[i].name < publics[j].name
		}
		return publics[i].addr < publics[j].addr
	})

	fmt.Fprintln(w, "\nPUBLICS")
	for _, p := range publics {
		fmt.Fprintf(w, "  %06x  %s\n", p.addr, p.name)
	}
}
