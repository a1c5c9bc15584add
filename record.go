package main

import "fmt"

// RecordType identifies the kind of an OMF record by its lead byte.
type RecordType byte

const (
	RecTHEADR  RecordType = 0x80
	RecCOMENT  RecordType = 0x88
	RecMODEND  RecordType = 0x8A
	RecEXTDEF  RecordType = 0x8C
	RecPUBDEF  RecordType = 0x90
	RecLNAMES  RecordType = 0x96
	RecSEGDEF  RecordType = 0x98
	RecGRPDEF  RecordType = 0x9A
	RecFIXUPP  RecordType = 0x9C
	RecLEDATA  RecordType = 0xA0
	RecLIDATA  RecordType = 0xA2
	RecCOMDEF  RecordType = 0xB0
	RecLEXTDEF RecordType = 0xB4
	RecLPUBDEF RecordType = 0xB6
	RecLCOMDEF RecordType = 0xB8
	RecLIBHDR  RecordType = 0xF0
	RecLIBEND  RecordType = 0xF1
	RecEXTDCT  RecordType = 0xF2
)

func (t RecordType) String() string {
	switch t {
	case RecTHEADR:
		return "THEADR"
	case RecCOMENT:
		return "COMENT"
	case RecMODEND:
		return "MODEND"
	case RecEXTDEF:
		return "EXTDEF"
	case RecPUBDEF:
		return "PUBDEF"
	case RecLNAMES:
		return "LNAMES"
	case RecSEGDEF:
		return "SEGDEF"
	case RecGRPDEF:
		return "GRPDEF"
	case RecFIXUPP:
		return "FIXUPP"
	case RecLEDATA:
		return "LEDATA"
	case RecLIDATA:
		return "LIDATA"
	case RecCOMDEF:
		return "COMDEF"
	case RecLEXTDEF:
		return "LEXTDEF"
	case RecLPUBDEF:
		return "LPUBDEF"
	case RecLCOMDEF:
		return "LCOMDEF"
	case RecLIBHDR:
		return "LIBHDR"
	case RecLIBEND:
		return "LIBEND"
	case RecEXTDCT:
		return "EXTDCT"
	default:
		return fmt.Sprintf("0x%02x", byte(t))
	}
}

// Record is a decoded OMF record frame: [type u8][len u16le][payload][checksum].
// The checksum byte is not retained or verified; many assemblers write zero.
type Record struct {
	Type RecordType
	data []byte
	pos  int
}

// NewRecord parses the OMF record at the start of buf. Only the bytes that
// belong to this one record are consumed; the caller advances by
// TotalLength() to find the next record.
func NewRecord(buf []byte) (*Record, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("truncated record")
	}
	length := int(buf[1]) | int(buf[2])<<8
	if length == 0 {
		return nil, fmt.Errorf("invalid record length")
	}
	if 3+length > len(buf) {
		return nil, fmt.Errorf("truncated record")
	}
	return &Record{
		Type: RecordType(buf[0]),
		data: buf[3 : 3+length-1],
	}, nil
}

// TotalLength is the number of bytes this record occupies in its container,
// including the 3-byte type+length prefix and the trailing checksum byte.
func (r *Record) TotalLength() int { return len(r.data) + 4 }

// End reports whether the cursor has consumed the whole payload.
func (r *Record) End() bool { return r.pos >= len(r.data) }

func (r *Record) get(n int) ([]byte, error) {
	if r.pos+n > len(r.data) {
		return nil, fmt.Errorf("truncated record")
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// Byte reads one unsigned byte.
func (r *Record) Byte() (byte, error) {
	b, err := r.get(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Word reads a little-endian 16-bit unsigned integer.
func (r *Record) Word() (uint16, error) {
	b, err := r.get(2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0]) | uint16(b[1])<<8, nil
}

// Dword reads a little-endian 32-bit unsigned integer.
func (r *Record) Dword() (uint32, error) {
	b, err := r.get(4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

// Index reads a packed OMF index: if the lead byte has its high bit clear,
// the index is the byte itself; otherwise the low 7 bits of the lead byte
// and the next byte form a 15-bit index.
func (r *Record) Index() (int, error) {
	b0, err := r.Byte()
	if err != nil {
		return 0, err
	}
	if b0 < 0x80 {
		return int(b0), nil
	}
	b1, err := r.Byte()
	if err != nil {
		return 0, err
	}
	return (int(b0&0x7f) << 8) | int(b1), nil
}

// ComdefLength reads a COMDEF-style variable-width length: a lead byte of
// 0x80 or less is the length itself; 0x81, 0x84, and 0x88 introduce a
// following 2-, 3-, or 4-byte little-endian length.
func (r *Record) ComdefLength() (uint32, error) {
	b0, err := r.Byte()
	if err != nil {
		return 0, err
	}
	switch {
	case b0 <= 0x80:
		return uint32(b0), nil
	case b0 == 0x81:
		v, err := r.Word()
		return uint32(v), err
	case b0 == 0x84:
		b, err := r.get(3)
		if err != nil {
			return 0, err
		}
		return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16, nil
	case b0 == 0x88:
		return r.Dword()
	default:
		return 0, fmt.Errorf("invalid COMDEF length lead byte 0x%02x", b0)
	}
}

// CountedString reads a one-byte length prefix followed by that many bytes,
// interpreted as ASCII/Latin-1 text.
func (r *Record) CountedString() (string, error) {
	n, err := r.Byte()
	if err != nil {
		return "", err
	}
	b, err := r.get(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CountedBytes reads a one-byte length prefix followed by that many raw
// bytes, used for LIDATA leaf blocks.
func (r *Record) CountedBytes() ([]byte, error) {
	n, err := r.Byte()
	if err != nil {
		return nil, err
	}
	return r.get(int(n))
}

// Rest returns every byte from the cursor to the end of the payload without
// advancing the cursor.
func (r *Record) Rest() []byte { return r.data[r.pos:] }
