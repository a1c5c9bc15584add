package main

import (
	"encoding/binary"
	"testing"
)

// buildTestLibrary assembles a minimal one-module, one-symbol library: a
// LIBHDR naming a single dictionary block, the module's own bytes at page
// 1, and a dictionary block with exactly one entry placed at the slot the
// library's own hash function picks for it.
func buildTestLibrary(t *testing.T, pageSize int, modulePage int, symbol string) []byte {
	t.Helper()

	// The LIBHDR record is padded so that its own TotalLength() equals one
	// full page: payloadLen = pageSize-4 gives TotalLength() = (payloadLen+1)+3.
	dictOffset := pageSize * (modulePage + 1)
	payloadLen := pageSize - 4
	payload := make([]byte, payloadLen)
	binary.LittleEndian.PutUint32(payload[0:4], uint32(dictOffset))
	binary.LittleEndian.PutUint16(payload[4:6], 1) // one dictionary block

	lengthField := payloadLen + 1
	libhdr := []byte{byte(RecLIBHDR), byte(lengthField), byte(lengthField >> 8)}
	libhdr = append(libhdr, payload...)
	libhdr = append(libhdr, 0x00) // checksum

	theadr := []byte{byte(RecTHEADR), 0x02, 0x00, 0x00, 0x00}
	modend := []byte{byte(RecMODEND), 0x02, 0x00, 0x00, 0x00}
	module := append(append([]byte{}, theadr...), modend...)
	for len(module) < pageSize {
		module = append(module, 0x00)
	}

	data := make([]byte, dictOffset)
	copy(data, libhdr)
	copy(data[modulePage*pageSize:], module)

	block := make([]byte, dictBlockSize)
	block[dictInnerBuckets] = 0x00 // no overflow to a following block

	_, bucket, _, _ := hashSymbol(symbol, 1)
	entryIdx := 40
	block[bucket] = byte(entryIdx / 2)
	block[entryIdx] = byte(len(symbol))
	copy(block[entryIdx+1:], symbol)
	binary.LittleEndian.PutUint16(block[entryIdx+1+len(symbol):], uint16(modulePage))

	data = append(data, block...)
	return data
}

func TestLibraryFindAndExtractSymbol(t *testing.T) {
	const pageSize = 64
	data := buildTestLibrary(t, pageSize, 1, "START")

	lib, err := OpenLibrary("test.lib", data)
	if err != nil {
		t.Fatalf("OpenLibrary: %v", err)
	}

	page, ok := lib.FindSymbol("START")
	if !ok {
		t.Fatalf("FindSymbol(START) not found")
	}
	if page != 1 {
		t.Fatalf("FindSymbol(START) = page %d, want 1", page)
	}

	mod, err := lib.ExtractModule(page)
	if err != nil {
		t.Fatalf("ExtractModule: %v", err)
	}
	if len(mod) == 0 || mod[0] != byte(RecTHEADR) {
		t.Fatalf("ExtractModule did not start with THEADR")
	}
}

func TestLibraryFindSymbolMissing(t *testing.T) {
	const pageSize = 64
	data := buildTestLibrary(t, pageSize, 1, "START")

	lib, err := OpenLibrary("test.lib", data)
	if err != nil {
		t.Fatalf("OpenLibrary: %v", err)
	}

	if _, ok := lib.FindSymbol("NOSUCHSYMBOL"); ok {
		t.Fatalf("FindSymbol(NOSUCHSYMBOL): want not found, got found")
	}
}

// TestHashSymbolMatchesReferenceAlgorithm checks hashSymbol against values
// hand-computed from the two-level hash algorithm independently of this
// package, so a structurally wrong fold (e.g. one that visits each byte
// only once instead of once per accumulator pair) cannot pass by being
// self-consistent with its own output.
func TestHashSymbolMatchesReferenceAlgorithm(t *testing.T) {
	block, bucket, blockDelta, bucketDelta := hashSymbol("AB", 4)
	if block != 1 || bucket != 33 || blockDelta != 1 || bucketDelta != 10 {
		t.Fatalf("hashSymbol(%q, 4) = (%d, %d, %d, %d), want (1, 33, 1, 10)",
			"AB", block, bucket, blockDelta, bucketDelta)
	}
}

func TestHashSymbolDeltasAreNeverZero(t *testing.T) {
	for _, s := range []string{"A", "AB", "MAIN", "_START", "X"} {
		_, _, blockDelta, bucketDelta := hashSymbol(s, 4)
		if blockDelta == 0 || bucketDelta == 0 {
			t.Fatalf("hashSymbol(%q) produced a zero delta, which would make probing loop forever", s)
		}
	}
}
