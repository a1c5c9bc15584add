package main

import "fmt"

// FrameMethod is the method encoded in a FIXUPP frame-thread or frame
// specifier: how to compute the segment (frame) half of a fixup's target
// address.
type FrameMethod int

const (
	FrameSEGDEF FrameMethod = iota
	FrameGRPDEF
	FrameEXTDEF
	FrameExplicit
	FrameSegOfPrevData
	FrameFromTarget
)

// TargetMethod is the method encoded in a FIXUPP target-thread or target
// specifier: how to compute the offset half of a fixup's target address.
type TargetMethod int

const (
	TargetSEGDEF TargetMethod = iota
	TargetGRPDEF
	TargetEXTDEF
	TargetFrame // unsupported: target type Frame has no defined meaning here
)

// FrameThread and TargetThread are FIXUPP-local latches: once set by a
// thread subrecord, later fixups in the same module can reference the slot
// instead of repeating the method and index.
type FrameThread struct {
	Valid  bool
	Method FrameMethod
	Index  int
}

type TargetThread struct {
	Valid  bool
	Method TargetMethod
	Index  int
}

// ThreadState holds the four frame-threads and four target-threads for one
// object's FIXUPP records.
type ThreadState struct {
	Frame  [4]FrameThread
	Target [4]TargetThread
}

// ResolvedFrame and ResolvedTarget are a fixup's frame/target specifier
// after thread substitution, before the LinkState lookup that turns them
// into actual addresses.
type ResolvedFrame struct {
	Method   FrameMethod
	Index    int
	Explicit uint16
}

type ResolvedTarget struct {
	Method TargetMethod
	Index  int
	Disp   int
}

// LocType is the patch-site shape a fixup targets.
type LocType int

const (
	LocLowByte LocType = iota
	LocOffset16
	LocSegment16
	LocFarPointer
)

func decodeLocType(v int) (LocType, error) {
	switch v {
	case 0:
		return LocLowByte, nil
	case 1, 5:
		return LocOffset16, nil
	case 2:
		return LocSegment16, nil
	case 3:
		return LocFarPointer, nil
	default:
		return 0, fmt.Errorf("unsupported fixup location type %d", v)
	}
}

// Fixup is one fully-decoded FIXUPP fixup subrecord (or a MODEND start
// address, which shares the same frame/target encoding).
type Fixup struct {
	SegRelative bool
	Loc         LocType
	DataOffset  int
	Frame       ResolvedFrame
	Target      ResolvedTarget
}

func decodeLocat(locat uint16) (segRelative bool, locType int, dataOffset int) {
	segRelative = (locat>>14)&1 == 1
	locType = int((locat >> 10) & 0xF)
	dataOffset = int(locat & 0x3FF)
	return
}

// parseThreadSubrecord decodes a thread subrecord (lead byte high bit
// clear): bit 6 selects frame-thread vs target-thread, bits 2-4 carry the
// method, bits 0-1 the thread slot.
func (ts *ThreadState) parseThreadSubrecord(b0 byte, rec *Record) error {
	isTarget := (b0>>6)&1 == 1
	method := int((b0 >> 2) & 7)
	slot := int(b0 & 3)
	needsIndex := method == 0 || method == 1 || method == 2

	var idx int
	if needsIndex {
		var err error
		idx, err = rec.Index()
		if err != nil {
			return err
		}
	}

	if isTarget {
		if method > 3 {
			return fmt.Errorf("invalid target thread method %d", method)
		}
		ts.Target[slot] = TargetThread{Valid: true, Method: TargetMethod(method), Index: idx}
		return nil
	}
	if method > 5 {
		return fmt.Errorf("invalid frame thread method %d", method)
	}
	ts.Frame[slot] = FrameThread{Valid: true, Method: FrameMethod(method), Index: idx}
	return nil
}

// decodeFrameTargetSpec decodes a FIXDAT byte and whatever data follows it:
// this is the body shared by a fixup subrecord (after its LOCAT word) and a
// MODEND start-address payload (after its type byte).
func decodeFrameTargetSpec(fixdat byte, rec *Record, threads *ThreadState) (*Fixup, error) {
	f := &Fixup{}

	useFrameThread := (fixdat>>7)&1 == 1
	useTargetThread := (fixdat>>3)&1 == 1
	targetDispFollows := (fixdat>>2)&1 == 0

	if useFrameThread {
		slot := int((fixdat >> 4) & 3)
		th := threads.Frame[slot]
		if !th.Valid {
			return nil, fmt.Errorf("reference to unset frame thread %d", slot)
		}
		f.Frame = ResolvedFrame{Method: th.Method, Index: th.Index}
	} else {
		method := FrameMethod((fixdat >> 4) & 7)
		f.Frame.Method = method
		switch method {
		case FrameSEGDEF, FrameGRPDEF, FrameEXTDEF:
			idx, err := rec.Index()
			if err != nil {
				return nil, err
			}
			f.Frame.Index = idx
		case FrameExplicit:
			w, err := rec.Word()
			if err != nil {
				return nil, err
			}
			f.Frame.Explicit = w
		case FrameSegOfPrevData, FrameFromTarget:
			// no additional data
		default:
			return nil, fmt.Errorf("invalid frame method %d", method)
		}
	}

	if useTargetThread {
		slot := int(fixdat & 3)
		th := threads.Target[slot]
		if !th.Valid {
			return nil, fmt.Errorf("reference to unset target thread %d", slot)
		}
		f.Target = ResolvedTarget{Method: th.Method, Index: th.Index}
	} else {
		method := TargetMethod(fixdat & 3)
		f.Target.Method = method
		if method == TargetFrame {
			return nil, fmt.Errorf("target type Frame is not supported")
		}
		idx, err := rec.Index()
		if err != nil {
			return nil, err
		}
		f.Target.Index = idx
	}

	if targetDispFollows {
		disp, err := rec.Word()
		if err != nil {
			return nil, err
		}
		f.Target.Disp = int(disp)
	}

	return f, nil
}

func parseFixupSubrecord(b0, b1 byte, rec *Record, threads *ThreadState) (*Fixup, error) {
	locat := uint16(b0)<<8 | uint16(b1)
	segRel, locTypeRaw, dataOffset := decodeLocat(locat)
	locType, err := decodeLocType(locTypeRaw)
	if err != nil {
		return nil, err
	}

	fixdat, err := rec.Byte()
	if err != nil {
		return nil, err
	}

	f, err := decodeFrameTargetSpec(fixdat, rec, threads)
	if err != nil {
		return nil, err
	}
	f.SegRelative = segRel
	f.Loc = locType
	f.DataOffset = dataOffset
	return f, nil
}

// decodeModendFixupData decodes a MODEND start-address payload. It does not
// consult the module's FIXUPP thread state: a start address is specified
// once, in isolation, and every example of it uses explicit methods.
func decodeModendFixupData(fixdat byte, rec *Record) (*Fixup, error) {
	return decodeFrameTargetSpec(fixdat, rec, &ThreadState{})
}

// parseFixupp walks every subrecord of a FIXUPP record, dispatching thread
// subrecords to threads and fixup subrecords to onFixup.
func parseFixupp(rec *Record, threads *ThreadState, onFixup func(*Fixup) error) error {
	for !rec.End() {
		b0, err := rec.Byte()
		if err != nil {
			return err
		}
		if b0&0x80 == 0 {
			if err := threads.parseThreadSubrecord(b0, rec); err != nil {
				return err
			}
			continue
		}
		b1, err := rec.Byte()
		if err != nil {
			return err
		}
		fixup, err := parseFixupSubrecord(b0, b1, rec, threads)
		if err != nil {
			return err
		}
		if err := onFixup(fixup); err != nil {
			return err
		}
	}
	return nil
}
