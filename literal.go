// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package iocdb

import (
	"github.com/cespare/xxhash/v2"
)

// literalHashSeed is a fixed constant baked into the file format so that
// Build is deterministic across runs and hosts.
const literalHashSeed uint64 = 0x9E3779B97F4A7C15

// literalFingerprint returns the low 32 bits of the seeded 64-bit hash of
// key.
func literalFingerprint(key []byte) uint32 {
	h := xxhash.Sum64(key) ^ literalHashSeed
	return uint32(h)
}

// NormalizeLiteral lower-cases the ASCII letters of key when caseMode is
// insensitive, the only normalization the format performs.
func NormalizeLiteral(key string, caseMode CaseMode) string {
	if caseMode == CaseInsensitive {
		b := []byte(key)
		for i, c := range b {
			b[i] = toLowerASCII(c)
		}
		return string(b)
	}
	return key
}

type literalEntry struct {
	key       string
	patternID uint32
	dataRef   uint32
}

// LiteralIndex is the builder-side open-addressed hash table from exact
// byte-strings to (pattern_id, data_ref) pairs.
type LiteralIndex struct {
	caseMode CaseMode
	entries  []literalEntry
	byKey    map[string][]int // key -> indices into entries, preserves insertion/chain order
}

// NewLiteralIndex returns an empty literal index.
func NewLiteralIndex(caseMode CaseMode) *LiteralIndex {
	return &LiteralIndex{caseMode: caseMode, byKey: make(map[string][]int)}
}

// Insert records a literal key; key is normalized per the index's case
// mode. The same literal may be inserted more than once with different
// pattern IDs, forming an overflow chain returned in full by Lookup.
func (l *LiteralIndex) Insert(key string, patternID uint32, dataRef uint32) {
	key = NormalizeLiteral(key, l.caseMode)
	idx := len(l.entries)
	l.entries = append(l.entries, literalEntry{key: key, patternID: patternID, dataRef: dataRef})
	l.byKey[key] = append(l.byKey[key], idx)
}

// Len reports the number of distinct literal keys inserted.
func (l *LiteralIndex) Len() int { return len(l.byKey) }

// bucketSlot is the on-disk (fingerprint, pattern_id, data_ref, key_offset,
// key_len, overflow) tuple placed by open addressing.
type bucketSlot struct {
	fingerprint uint32
	patternID   uint32
	dataRef     uint32
	keyOffset   uint32
	keyLen      uint32
	overflow    int32 // index of next slot with the same key, in buckets[], or -1
}

const emptyBucket = ^uint32(0) // sentinel: bucket is unused (fingerprint field)

// EncodeLiteralIndex lays out the table in its final, load-factor-bounded
// form: a power-of-two bucket array sized for <= 0.75 load factor, a flat
// key-bytes buffer, and an overflow chain for duplicate keys.
//
// Wire layout:
//
//	u32 bucketCount
//	u32 totalSlots (bucketCount plus the overflow slots appended after them)
//	u32 keyBufLen
//	totalSlots * bucketRecord(28 bytes: fingerprint,patternID,dataRef,keyOffset,keyLen,overflow)
//	keyBufLen bytes of concatenated normalized keys
func (l *LiteralIndex) EncodeLiteralIndex() []byte {
	n := len(l.entries)
	bucketCount := nextPow2(maxInt(1, n*2))

	buckets := make([]bucketSlot, bucketCount)
	for i := range buckets {
		buckets[i].fingerprint = emptyBucket
		buckets[i].overflow = -1
	}

	var keyBuf []byte
	keyOffsets := make(map[string]struct {
		off uint32
		ln  uint32
	})

	place := func(e literalEntry) int {
		fp := literalFingerprint([]byte(e.key))
		start := int(fp) & (bucketCount - 1)
		for i := 0; i < bucketCount; i++ {
			slot := (start + i) % bucketCount
			if buckets[slot].fingerprint == emptyBucket {
				return slot
			}
		}
		return -1 // unreachable given the 0.75 load-factor sizing
	}

	// First pass: one primary bucket per distinct key.
	for key, idxs := range l.byKey {
		ko, ok := keyOffsets[key]
		if !ok {
			ko = struct {
				off uint32
				ln  uint32
			}{off: uint32(len(keyBuf)), ln: uint32(len(key))}
			keyBuf = append(keyBuf, []byte(key)...)
			keyOffsets[key] = ko
		}
		first := l.entries[idxs[0]]
		slot := place(first)
		buckets[slot] = bucketSlot{
			fingerprint: literalFingerprint([]byte(key)),
			patternID:   first.patternID,
			dataRef:     first.dataRef,
			keyOffset:   ko.off,
			keyLen:      ko.ln,
			overflow:    -1,
		}
		// Remaining entries for the same literal chain off the head via a
		// synthetic bucket appended past bucketCount (stored contiguously
		// after the addressed table, addressed purely by overflow index).
		prev := slot
		for _, idx := range idxs[1:] {
			e := l.entries[idx]
			buckets = append(buckets, bucketSlot{
				fingerprint: literalFingerprint([]byte(key)),
				patternID:   e.patternID,
				dataRef:     e.dataRef,
				keyOffset:   ko.off,
				keyLen:      ko.ln,
				overflow:    -1,
			})
			newIdx := len(buckets) - 1
			buckets[prev].overflow = int32(newIdx)
			prev = newIdx
		}
	}

	out := make([]byte, 0, 8+len(buckets)*28+len(keyBuf))
	out = append(out, u32le(uint32(bucketCount))...)
	out = append(out, u32le(uint32(len(buckets)))...)
	out = append(out, u32le(uint32(len(keyBuf)))...)
	for _, b := range buckets {
		out = append(out, u32le(b.fingerprint)...)
		out = append(out, u32le(b.patternID)...)
		out = append(out, u32le(b.dataRef)...)
		out = append(out, u32le(b.keyOffset)...)
		out = append(out, u32le(b.keyLen)...)
		out = append(out, u32le(uint32(b.overflow))...)
		out = append(out, 0, 0, 0, 0) // pad record to 28 bytes
	}
	out = append(out, keyBuf...)
	return out
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func u32le(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

// ---------------------------------------------------------------------
// Reader-side view
// ---------------------------------------------------------------------

const bucketRecordSize = 28

// literalIndexView reads the literal hash table directly out of mapped
// bytes with no up-front parsing.
type literalIndexView struct {
	buf         []byte
	caseMode    CaseMode
	bucketCount int
	totalSlots  int
	keyBufStart int
}

func newLiteralIndexView(buf []byte, caseMode CaseMode) (literalIndexView, error) {
	if len(buf) < 12 {
		if len(buf) == 0 {
			return literalIndexView{caseMode: caseMode}, nil
		}
		return literalIndexView{}, ErrTruncatedFile
	}
	bucketCount := int(leUint32(buf[0:4]))
	totalSlots := int(leUint32(buf[4:8]))
	keyBufLen := int(leUint32(buf[8:12]))
	keyBufStart := 12 + totalSlots*bucketRecordSize
	if keyBufStart+keyBufLen > len(buf) {
		return literalIndexView{}, ErrTruncatedFile
	}
	return literalIndexView{
		buf: buf, caseMode: caseMode,
		bucketCount: bucketCount, totalSlots: totalSlots, keyBufStart: keyBufStart,
	}, nil
}

func (v literalIndexView) slot(i int) bucketSlot {
	off := 12 + i*bucketRecordSize
	b := v.buf[off : off+bucketRecordSize]
	return bucketSlot{
		fingerprint: leUint32(b[0:4]),
		patternID:   leUint32(b[4:8]),
		dataRef:     leUint32(b[8:12]),
		keyOffset:   leUint32(b[12:16]),
		keyLen:      leUint32(b[16:20]),
		overflow:    int32(leUint32(b[20:24])),
	}
}

func (v literalIndexView) keyBytes(s bucketSlot) []byte {
	start := v.keyBufStart + int(s.keyOffset)
	return v.buf[start : start+int(s.keyLen)]
}

// LiteralMatch is one (pattern_id, data_ref) hit.
type LiteralMatch struct {
	PatternID uint32
	DataRef   uint32
}

// Lookup probes the table, stopping at the first empty primary bucket
// (negative result) or a byte-exact key match, then returns the full
// overflow chain for that key.
func (v literalIndexView) Lookup(key []byte) []LiteralMatch {
	if v.bucketCount == 0 {
		return nil
	}
	normalized := key
	if v.caseMode == CaseInsensitive {
		normalized = []byte(NormalizeLiteral(string(key), CaseInsensitive))
	}
	fp := literalFingerprint(normalized)
	start := int(fp) & (v.bucketCount - 1)
	for i := 0; i < v.bucketCount; i++ {
		idx := (start + i) % v.bucketCount
		s := v.slot(idx)
		if s.fingerprint == emptyBucket {
			return nil
		}
		if s.fingerprint == fp && bytesEqual(v.keyBytes(s), normalized) {
			var out []LiteralMatch
			cur := idx
			for {
				cs := v.slot(cur)
				out = append(out, LiteralMatch{PatternID: cs.patternID, DataRef: cs.dataRef})
				if cs.overflow < 0 {
					break
				}
				cur = int(cs.overflow)
			}
			return out
		}
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
