package main

import "testing"

func TestRecordBasic(t *testing.T) {
	buf := []byte{0x88, 0x05, 0x00, 0x03, 'A', 'B', 'C', 0x00}
	rec, err := NewRecord(buf)
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	if rec.Type != RecCOMENT {
		t.Fatalf("Type = %v, want COMENT", rec.Type)
	}
	if rec.TotalLength() != 8 {
		t.Fatalf("TotalLength() = %d, want 8", rec.TotalLength())
	}
	s, err := rec.CountedString()
	if err != nil {
		t.Fatalf("CountedString: %v", err)
	}
	if s != "ABC" {
		t.Fatalf("CountedString() = %q, want %q", s, "ABC")
	}
	if !rec.End() {
		t.Fatalf("End() = false after consuming the whole payload")
	}
}

func TestRecordTruncated(t *testing.T) {
	buf := []byte{0x88, 0x05, 0x00, 0x03, 'A'}
	if _, err := NewRecord(buf); err == nil {
		t.Fatalf("NewRecord on a truncated buffer: want error, got nil")
	}
}

func TestRecordInvalidLength(t *testing.T) {
	buf := []byte{0x88, 0x00, 0x00, 0x00}
	if _, err := NewRecord(buf); err == nil {
		t.Fatalf("NewRecord with zero length: want error, got nil")
	}
}

func TestRecordIndexShortForm(t *testing.T) {
	buf := []byte{0x96, 0x02, 0x00, 0x05, 0x00}
	rec, err := NewRecord(buf)
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	idx, err := rec.Index()
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if idx != 5 {
		t.Fatalf("Index() = %d, want 5", idx)
	}
}

func TestRecordIndexLongForm(t *testing.T) {
	buf := []byte{0x96, 0x03, 0x00, 0xC0, 0x7A, 0x00}
	rec, err := NewRecord(buf)
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	idx, err := rec.Index()
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if idx != 0x407A {
		t.Fatalf("Index() = 0x%x, want 0x407a", idx)
	}
}

func TestRecordComdefLength(t *testing.T) {
	cases := []struct {
		name string
		lead []byte
		want uint32
	}{
		{"byte form", []byte{0x10}, 0x10},
		{"byte form max", []byte{0x80}, 0x80},
		{"word form", []byte{0x81, 0x34, 0x12}, 0x1234},
		{"3-byte form", []byte{0x84, 0x56, 0x34, 0x12}, 0x123456},
		{"dword form", []byte{0x88, 0x78, 0x56, 0x34, 0x12}, 0x12345678},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			buf := append([]byte{0xB0, byte(len(c.lead) + 1), 0x00}, c.lead...)
			buf = append(buf, 0x00)
			rec, err := NewRecord(buf)
			if err != nil {
				t.Fatalf("NewRecord: %v", err)
			}
			got, err := rec.ComdefLength()
			if err != nil {
				t.Fatalf("ComdefLength: %v", err)
			}
			if got != c.want {
				t.Fatalf("ComdefLength() = 0x%x, want 0x%x", got, c.want)
			}
		})
	}
}

func TestRecordComdefLengthInvalidLead(t *testing.T) {
	buf := []byte{0xB0, 0x02, 0x00, 0x82, 0x00}
	rec, err := NewRecord(buf)
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	if _, err := rec.ComdefLength(); err == nil {
		t.Fatalf("ComdefLength with invalid lead byte: want error, got nil")
	}
}
