// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package iocdb

import (
	"net/netip"
	"os"
	"sync"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/saferwall/iocdb/log"
)

// OpenOptions configures Open.
type OpenOptions struct {
	// Trusted skips the structural consistency pass (record-size checks on
	// the IP trie, literal and glob tables, and a decode of the value at
	// metadata offset 0) appropriate for a database this process itself
	// built. Untrusted input should leave this false. Header parsing and
	// section-bounds checks run either way.
	Trusted bool

	// CacheCapacity sizes the optional per-database result cache; 0
	// disables it entirely; no lock or map is allocated in that case.
	CacheCapacity int

	Logger log.Logger
}

// Database is a read-only, memory-mapped handle opened by Open. All
// exported methods are safe for concurrent use by multiple goroutines.
type Database struct {
	f    *os.File
	data mmap.MMap

	header   Header
	acc      endianAccessor
	caseMode CaseMode

	ipTrie  ipTrieView
	literal literalIndexView
	glob    GlobIndexView
	meta    *Decoder
	dbMeta  Value

	cache  *resultCache
	logger *log.Helper

	mu     sync.RWMutex
	closed bool
}

// QueryResultKind discriminates the QueryResult sum type.
type QueryResultKind uint8

const (
	NotFound QueryResultKind = iota
	IPResult
	PatternResult
)

// QueryResult is the outcome of a single Lookup. Exactly the fields implied
// by Kind are meaningful.
type QueryResult struct {
	Kind QueryResultKind

	// IPResult fields.
	Data      Value
	PrefixLen int

	// PatternResult fields, parallel arrays in ascending pattern-id order.
	PatternIDs []uint32
	Datas      []Value
}

// Open memory-maps path and validates it per OpenOptions. Header parsing
// and section-bounds checks always run; structural
// self-consistency checks additionally run unless opts.Trusted is set.
func Open(path string, opts OpenOptions) (*Database, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}

	db, err := openMapped(data, opts)
	if err != nil {
		data.Unmap()
		f.Close()
		return nil, err
	}
	db.f = f
	return db, nil
}

// OpenBytes wraps an already-loaded buffer (e.g. for tests), applying the
// same validation Open does.
func OpenBytes(data []byte, opts OpenOptions) (*Database, error) {
	return openMapped(data, opts)
}

func openMapped(data []byte, opts OpenOptions) (*Database, error) {
	h, acc, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}
	if h.TotalSize > uint64(len(data)) {
		return nil, ErrTruncatedFile
	}

	descs := []struct {
		name string
		d    sectionDescriptor
	}{
		{"ip_trie", h.IPTrie}, {"literal", h.Literal}, {"glob", h.Glob},
		{"metadata", h.Metadata}, {"db_metadata", h.DBMetadata},
	}
	for _, s := range descs {
		if err := sectionBounds(s.name, s.d, h.TotalSize, len(data)); err != nil {
			return nil, err
		}
	}

	caseMode := CaseSensitive
	if h.Flags&FlagCaseInsensitive != 0 {
		caseMode = CaseInsensitive
	}

	var dbMeta Value
	dbSection := section(data, h.DBMetadata)
	if len(dbSection) > len(TrailingMarker) {
		dbDecoder := NewDecoder(dbSection[len(TrailingMarker):])
		dbMeta, err = dbDecoder.Decode(0)
		if err != nil {
			return nil, err
		}
	}

	recordSize := RecordSizeBits(uint32FieldOr(dbMeta, "record_size", uint32(RecordSize32)))
	if !recordSize.valid() {
		return nil, ErrBadRecordSize
	}
	ipView := newIPTrieView(section(data, h.IPTrie), recordSize)

	litView, err := newLiteralIndexView(section(data, h.Literal), caseMode)
	if err != nil {
		return nil, err
	}

	globView, err := NewGlobIndexView(section(data, h.Glob), caseMode)
	if err != nil {
		return nil, err
	}

	metaBuf := section(data, h.Metadata)
	decoder := NewDecoder(metaBuf)

	if !opts.Trusted {
		if err := validateStructure(ipView, litView, globView, decoder); err != nil {
			return nil, err
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	db := &Database{
		header:   h,
		acc:      acc,
		caseMode: caseMode,
		ipTrie:   ipView,
		literal:  litView,
		glob:     globView,
		meta:     decoder,
		dbMeta:   dbMeta,
		data:     mmap.MMap(data),
		logger:   log.NewHelper("iocdb", logger),
	}
	if opts.CacheCapacity > 0 {
		c, err := newResultCache(opts.CacheCapacity)
		if err != nil {
			return nil, err
		}
		db.cache = c
	}
	db.logger.Debugf("opened database: %d ip nodes, %d bytes total", db.ipTrie.nodeCount(), h.TotalSize)
	return db, nil
}

func section(data []byte, d sectionDescriptor) []byte {
	if d.Length == 0 {
		return nil
	}
	return data[d.Offset : d.Offset+d.Length]
}

// validateStructure re-derives section record counts from their declared
// lengths and rejects sizes inconsistent with the fixed record widths each
// table uses, then walks the metadata root once to catch gross corruption
// before it can surface later as a per-query decode error. This is the
// untrusted-open consistency pass.
func validateStructure(ip ipTrieView, lit literalIndexView, glob GlobIndexView, dec *Decoder) error {
	if ip.recordSize > 0 && len(ip.buf)%ip.recordSize != 0 {
		return ErrTruncatedFile
	}
	if lit.bucketCount > 0 {
		if lit.bucketCount&(lit.bucketCount-1) != 0 {
			return ErrTruncatedFile
		}
		if lit.totalSlots < lit.bucketCount {
			return ErrTruncatedFile
		}
	}
	if glob.universalCount > len(glob.patternIndex) {
		return ErrTruncatedFile
	}
	if len(dec.buf) > 0 {
		if _, err := dec.Decode(0); err != nil {
			return err
		}
	}
	return nil
}

// Close unmaps the file and releases the underlying descriptor. Further
// lookups return ErrNotOpen.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	if db.f != nil {
		// Only a real Open maps memory; OpenBytes wraps a caller-owned
		// buffer that isn't ours to unmap.
		_ = db.data.Unmap()
		return db.f.Close()
	}
	return nil
}

func (db *Database) checkOpen() error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrNotOpen
	}
	return nil
}

// LookupIP resolves addr against the IP trie, returning the longest
// matching prefix's data.
func (db *Database) LookupIP(addr netip.Addr) (QueryResult, error) {
	if err := db.checkOpen(); err != nil {
		return QueryResult{}, err
	}
	addrBytes, maxDepth := ToIPv6Bytes(addr)
	dataRef, prefixLen, ok := db.ipTrie.lookup(addrBytes, maxDepth)
	if !ok {
		return QueryResult{Kind: NotFound}, nil
	}
	if addr.Is4() {
		prefixLen -= ipv4MappedPrefixBits
	}
	v, err := db.meta.Decode(dataRef)
	if err != nil {
		return QueryResult{}, err
	}
	return QueryResult{Kind: IPResult, Data: v, PrefixLen: prefixLen}, nil
}

// LookupString resolves s against both the literal and glob indexes and
// merges the results, sorted by pattern id. An all-empty result normalizes
// to NotFound rather than an empty Pattern result.
func (db *Database) LookupString(s string) (QueryResult, error) {
	return db.lookupBytes([]byte(s))
}

// LookupBytes is the byte-slice form of LookupString, avoiding a copy when
// the caller already holds a []byte.
func (db *Database) LookupBytes(b []byte) (QueryResult, error) {
	return db.lookupBytes(b)
}

func (db *Database) lookupBytes(s []byte) (QueryResult, error) {
	if err := db.checkOpen(); err != nil {
		return QueryResult{}, err
	}
	if db.cache != nil {
		if v, ok := db.cache.get(s); ok {
			return v, nil
		}
	}

	var ids []uint32
	var refs []uint32

	for _, m := range db.literal.Lookup(s) {
		ids = append(ids, m.PatternID)
		refs = append(refs, m.DataRef)
	}
	for _, m := range db.glob.Lookup(s) {
		ids = append(ids, m.PatternID)
		refs = append(refs, m.DataRef)
	}

	if len(ids) == 0 {
		res := QueryResult{Kind: NotFound}
		if db.cache != nil {
			db.cache.put(s, res)
		}
		return res, nil
	}

	sortPatternsByID(ids, refs)

	datas := make([]Value, len(refs))
	for i, ref := range refs {
		v, err := db.meta.Decode(ref)
		if err != nil {
			return QueryResult{}, err
		}
		datas[i] = v
	}

	res := QueryResult{Kind: PatternResult, PatternIDs: ids, Datas: datas}
	if db.cache != nil {
		db.cache.put(s, res)
	}
	return res, nil
}

// Lookup dispatches to LookupIP when key parses as an address, and to
// LookupString otherwise — a single entry point for callers that don't
// already know an indicator's kind.
func (db *Database) Lookup(key string) (QueryResult, error) {
	if addr, err := netip.ParseAddr(key); err == nil {
		return db.LookupIP(addr)
	}
	return db.LookupString(key)
}

func sortPatternsByID(ids, refs []uint32) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
			refs[j-1], refs[j] = refs[j], refs[j-1]
		}
	}
}

// Format reports the file format's magic and version.
func (db *Database) Format() (string, uint32) { return Magic, db.header.Version }

// DatabaseType returns the builder-supplied database_type string, or "" if
// none was set.
func (db *Database) DatabaseType() string {
	return stringField(db.dbMeta, "database_type")
}

// Description returns the human-readable description for lang, or "" if
// absent.
func (db *Database) Description(lang string) string {
	if db.dbMeta.Kind != KindMap {
		return ""
	}
	descs, ok := db.dbMeta.Map["description"]
	if !ok || descs.Kind != KindMap {
		return ""
	}
	if v, ok := descs.Map[lang]; ok && v.Kind == KindString {
		return v.Str
	}
	return ""
}

func stringField(v Value, key string) string {
	if v.Kind != KindMap {
		return ""
	}
	if f, ok := v.Map[key]; ok && f.Kind == KindString {
		return f.Str
	}
	return ""
}

// Metadata returns the full decoded database-level metadata map.
func (db *Database) Metadata() Value { return db.dbMeta }

// HasIPData, HasLiteralData, and HasGlobData report which sections the
// database carries, from the header flags.
func (db *Database) HasIPData() bool      { return db.header.Flags&FlagHasIP != 0 }
func (db *Database) HasLiteralData() bool { return db.header.Flags&FlagHasLiteral != 0 }
func (db *Database) HasGlobData() bool    { return db.header.Flags&FlagHasGlob != 0 }

// IPNodeCount, LiteralCount, and GlobCount report per-section record
// counts, the audit figures stored alongside the description map in the
// database-level metadata.
func (db *Database) IPNodeCount() int  { return db.ipTrie.nodeCount() }
func (db *Database) LiteralCount() int { return int(uint32FieldOr(db.dbMeta, "literal_count", 0)) }
func (db *Database) GlobCount() int    { return int(uint32FieldOr(db.dbMeta, "glob_count", 0)) }

func uint32FieldOr(v Value, key string, def uint32) uint32 {
	if v.Kind != KindMap {
		return def
	}
	if f, ok := v.Map[key]; ok && f.Kind == KindUint32 {
		return f.U32
	}
	return def
}
