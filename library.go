package main

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
)

const dictInnerBuckets = 37
const dictBlockSize = 512

// Library is an open MZ-library archive: a LIBHDR-framed set of
// page-aligned modules, a two-level hashed symbol dictionary, and an
// optional extended dictionary describing module dependencies.
type Library struct {
	Name          string
	PageSize      int
	CaseSensitive bool

	data []byte

	dictOffset uint32
	dictBlocks int

	hasExtDict   bool
	extDictNodes []extDictNode
}

type extDictNode struct {
	modPage    uint16
	depsOffset uint16
}

// OpenLibrary parses the LIBHDR at the start of data and locates the
// dictionary and (if present) extended dictionary that follow it.
func OpenLibrary(name string, data []byte) (*Library, error) {
	rec, err := NewRecord(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if rec.Type != RecLIBHDR {
		return nil, fmt.Errorf("%s: expected LIBHDR, got record type %s", name, rec.Type)
	}

	pageSize := rec.TotalLength()

	dictOffset, err := rec.Dword()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	dictBlocks, err := rec.Word()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	lib := &Library{
		Name:       name,
		PageSize:   pageSize,
		data:       data,
		dictOffset: dictOffset,
		dictBlocks: int(dictBlocks),
	}

	if dictOffset != 0 {
		lib.loadExtendedDictionary()
	}

	return lib, nil
}

func (l *Library) loadExtendedDictionary() {
	off := int(l.dictOffset) + l.dictBlocks*dictBlockSize
	if off+4 > len(l.data) || l.data[off] != byte(RecEXTDCT) {
		return
	}
	extRec, err := NewRecord(l.data[off:])
	if err != nil {
		return
	}
	count, err := extRec.Word()
	if err != nil {
		return
	}
	nodesOff := off + 5
	nodes := make([]extDictNode, 0, count)
	for i := 0; i < int(count); i++ {
		p := nodesOff + i*4
		if p+4 > len(l.data) {
			return
		}
		nodes = append(nodes, extDictNode{
			modPage:    binary.LittleEndian.Uint16(l.data[p : p+2]),
			depsOffset: binary.LittleEndian.Uint16(l.data[p+2 : p+4]),
		})
	}
	l.extDictNodes = nodes
	l.hasExtDict = true
}

func rotr2(x uint16) uint16 { return (x >> 2) | (x << 14) }
func rotl2(x uint16) uint16 { return (x << 2) | (x >> 14) }

// hashSymbol reproduces the library dictionary's two-level hash: every byte
// of the key folds into a "backward" pair of accumulators (bucket,
// blockDelta) walking from the end of the key to the start, and every byte
// but the last folds into a "forward" pair (block, bucketDelta) walking
// from the start, each byte ASCII-folded (OR 0x20), so that the same key
// always lands on the same (block, bucket) probe sequence regardless of
// which assembler built the library.
func hashSymbol(key string, dictBlocks int) (block, bucket, blockDelta, bucketDelta int) {
	n := len(key)
	length := uint16(n)
	forward := 0
	backward := n

	blk := uint16(n) | 0x20
	bktDelta := blk
	var blkDelta, bkt uint16

	for {
		backward--
		cback := uint16(key[backward]) | 0x20
		bkt = rotr2(bkt) ^ cback
		blkDelta = rotl2(blkDelta) ^ cback

		length--
		if length == 0 {
			break
		}

		cfront := uint16(key[forward]) | 0x20
		blk = rotl2(blk) ^ cfront
		bktDelta = rotr2(bktDelta) ^ cfront

		forward++
	}

	block = int(blk) % dictBlocks
	blockDelta = int(blkDelta) % dictBlocks
	bucket = int(bkt) % dictInnerBuckets
	bucketDelta = int(bktDelta) % dictInnerBuckets

	if blockDelta == 0 {
		blockDelta = 1
	}
	if bucketDelta == 0 {
		bucketDelta = 1
	}
	return
}

func (l *Library) blockOffset(block int) int {
	return int(l.dictOffset) + block*dictBlockSize
}

func symbolMatches(stored, query string, caseSensitive bool) bool {
	if caseSensitive {
		return stored == query
	}
	return strings.EqualFold(stored, query)
}

// FindSymbol looks up key in the dictionary, returning its module's page
// number. The probe visits at most dictBlocks*37 entries.
func (l *Library) FindSymbol(key string) (int, bool) {
	if l.dictOffset == 0 || l.dictBlocks == 0 {
		return 0, false
	}

	block, bucket, blockDelta, bucketDelta := hashSymbol(key, l.dictBlocks)
	startBlock := block

	for {
		blockOff := l.blockOffset(block)
		b := bucket
		for i := 0; i < dictInnerBuckets; i++ {
			entryIdx := int(l.data[blockOff+b]) * 2
			if entryIdx == 0 {
				break
			}
			count := int(l.data[blockOff+entryIdx])
			text := l.data[blockOff+entryIdx+1 : blockOff+entryIdx+1+count]
			if symbolMatches(string(text), key, l.CaseSensitive) {
				pageOff := blockOff + entryIdx + 1 + count
				page := binary.LittleEndian.Uint16(l.data[pageOff : pageOff+2])
				return int(page), true
			}
			b = (b + bucketDelta) % dictInnerBuckets
		}

		if l.data[blockOff+dictInnerBuckets] != 0xFF {
			return 0, false
		}
		block = (block + blockDelta) % l.dictBlocks
		if block == startBlock {
			return 0, false
		}
	}
}

// ExtractModule returns the byte range of the module starting at page: a
// THEADR through its matching MODEND.
func (l *Library) ExtractModule(page int) ([]byte, error) {
	start := page * l.PageSize
	if start < 0 || start >= len(l.data) {
		return nil, fmt.Errorf("module page %d is out of range in %s", page, l.Name)
	}

	rec, err := NewRecord(l.data[start:])
	if err != nil {
		return nil, fmt.Errorf("%s page %d: %w", l.Name, page, err)
	}
	if rec.Type != RecTHEADR {
		return nil, fmt.Errorf("%s page %d: expected THEADR, got record type %s", l.Name, page, rec.Type)
	}

	offset := start
	for {
		rec, err := NewRecord(l.data[offset:])
		if err != nil {
			return nil, fmt.Errorf("%s page %d: %w", l.Name, page, err)
		}
		offset += rec.TotalLength()
		if rec.Type == RecMODEND {
			break
		}
		if offset >= len(l.data) {
			return nil, fmt.Errorf("%s page %d: module runs past end of library without MODEND", l.Name, page)
		}
	}
	return l.data[start:offset], nil
}

// ModuleDependencies returns the direct dependency set of page recorded in
// the extended dictionary, or nil if there is no extended dictionary.
func (l *Library) ModuleDependencies(page int) []int {
	if !l.hasExtDict {
		return nil
	}
	nodes := l.extDictNodes
	i := sort.Search(len(nodes), func(i int) bool { return nodes[i].modPage >= uint16(page) })
	if i >= len(nodes) || int(nodes[i].modPage) != page {
		return nil
	}

	depsOff := int(nodes[i].depsOffset)
	if depsOff+2 > len(l.data) {
		return nil
	}
	count := int(binary.LittleEndian.Uint16(l.data[depsOff : depsOff+2]))

	deps := make([]int, 0, count)
	for j := 0; j < count; j++ {
		p := depsOff + 2 + j*2
		if p+2 > len(l.data) {
			break
		}
		nodeIdx := int(binary.LittleEndian.Uint16(l.data[p : p+2]))
		if nodeIdx < len(nodes) {
			deps = append(deps, int(nodes[nodeIdx].modPage))
		}
	}
	return deps
}

// AllModuleDependencies computes the transitive closure of page's
// dependencies via an explicit work-queue with a visited set, returning the
// sorted result including page itself.
func (l *Library) AllModuleDependencies(page int) []int {
	visited := map[int]bool{}
	queue := []int{page}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		for _, d := range l.ModuleDependencies(cur) {
			if !visited[d] {
				queue = append(queue, d)
			}
		}
	}

	result := make([]int, 0, len(visited))
	for p := range visited {
		result = append(result, p)
	}
	sort.Ints(result)
	return result
}
