// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package iocdb

import (
	"net/netip"
	"os"
	"path/filepath"
	"strings"
)

// Builder accumulates IP, literal, and glob entries and assembles them into
// a single database file. A Builder is single-use: once Build has been
// called, every Add* method, Build and WriteFile return ErrBuilderConsumed.
type Builder struct {
	caseMode CaseMode

	ipTrie     *IPTrie
	literalIdx *LiteralIndex
	globIdx    *GlobIndex
	encoder    *Encoder

	databaseType string
	descriptions map[string]string

	nextPatternID uint32
	maxIPDataRef  uint32
	consumed      bool
}

// New returns an empty Builder. caseMode governs both the literal and glob
// indexes; IP matching has no notion of case.
func New(caseMode CaseMode) *Builder {
	return &Builder{
		caseMode:     caseMode,
		ipTrie:       NewIPTrie(),
		literalIdx:   NewLiteralIndex(caseMode),
		globIdx:      NewGlobIndex(caseMode),
		encoder:      NewEncoder(),
		descriptions: make(map[string]string),
	}
}

// SetDatabaseType records the database_type field carried in the
// database-level metadata map.
func (b *Builder) SetDatabaseType(name string) {
	b.databaseType = name
}

// AddDescription records a human-readable description of the database in
// the given language tag (e.g. "en"), mirroring MaxMind's
// language-to-string description map.
func (b *Builder) AddDescription(lang, description string) {
	b.descriptions[lang] = description
}

// AddIP records data under the address or CIDR prefix key. A bare address
// is treated as a /32 or /128 host route.
func (b *Builder) AddIP(key string, data Value) (uint32, error) {
	if b.consumed {
		return 0, ErrBuilderConsumed
	}
	prefix, err := parseIPKey(key)
	if err != nil {
		return 0, err
	}
	addrBytes, bits := PrefixBits(prefix)
	dataRef := b.encoder.Encode(data)
	if dataRef > b.maxIPDataRef {
		b.maxIPDataRef = dataRef
	}
	b.ipTrie.Insert(addrBytes, bits, dataRef)
	id := b.nextPatternID
	b.nextPatternID++
	return id, nil
}

func parseIPKey(key string) (netip.Prefix, error) {
	if p, err := netip.ParsePrefix(key); err == nil {
		return p, nil
	}
	addr, err := netip.ParseAddr(key)
	if err != nil {
		return netip.Prefix{}, ErrInvalidCIDR
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// AddLiteral records data under the exact byte-string key. The key is
// normalized per the builder's case mode before being hashed;
// case-insensitive matches collapse onto the normalized form.
func (b *Builder) AddLiteral(key string, data Value) (uint32, error) {
	if b.consumed {
		return 0, ErrBuilderConsumed
	}
	if len(key) == 0 {
		return 0, ErrInvalidPattern
	}
	dataRef := b.encoder.Encode(data)
	id := b.nextPatternID
	b.nextPatternID++
	b.literalIdx.Insert(key, id, dataRef)
	return id, nil
}

// AddGlob records data under a `*`/`?`/`[...]` glob pattern.
func (b *Builder) AddGlob(pattern string, data Value) (uint32, error) {
	if b.consumed {
		return 0, ErrBuilderConsumed
	}
	dataRef := b.encoder.Encode(data)
	id := b.nextPatternID
	if err := b.globIdx.Insert(pattern, id, dataRef); err != nil {
		return 0, err
	}
	b.nextPatternID++
	return id, nil
}

// AddEntry classifies raw by an explicit "ip:"/"literal:"/"glob:" prefix,
// falling back to sniffing an IP/CIDR shape or a glob metacharacter when no
// prefix is given.
func (b *Builder) AddEntry(raw string, data Value) (uint32, error) {
	switch {
	case strings.HasPrefix(raw, "ip:"):
		return b.AddIP(strings.TrimPrefix(raw, "ip:"), data)
	case strings.HasPrefix(raw, "literal:"):
		return b.AddLiteral(strings.TrimPrefix(raw, "literal:"), data)
	case strings.HasPrefix(raw, "glob:"):
		return b.AddGlob(strings.TrimPrefix(raw, "glob:"), data)
	}
	if _, err := parseIPKey(raw); err == nil {
		return b.AddIP(raw, data)
	}
	if strings.ContainsAny(raw, "*?[") {
		return b.AddGlob(raw, data)
	}
	return b.AddLiteral(raw, data)
}

// selectRecordSize picks the narrowest trie field width that can still
// address every node and every data offset the trie references. Narrowed
// from MaxMind's 24/28/32 choice since this format does not bit-pack
// sub-byte fields — see DESIGN.md.
func selectRecordSize(nodeCount int, maxDataRef uint32) RecordSizeBits {
	const max24 = 1<<23 - 1
	if nodeCount <= max24 && maxDataRef < max24 {
		return RecordSize24
	}
	return RecordSize32
}

func (b *Builder) buildDBMetadata(recordSize RecordSizeBits) Value {
	descs := make(map[string]Value, len(b.descriptions))
	for lang, s := range b.descriptions {
		descs[lang] = StringValue(s)
	}
	m := map[string]Value{
		"format_version": Uint32Value(FormatVersion),
		"database_type":  StringValue(b.databaseType),
		"description":    MapValue(descs),
		"record_size":    Uint32Value(uint32(recordSize)),
		"ip_count":       Uint32Value(uint32(b.ipTrie.NodeCount())),
		"literal_count":  Uint32Value(uint32(b.literalIdx.Len())),
		"glob_count":     Uint32Value(uint32(b.globIdx.Len())),
	}
	return MapValue(m)
}

// Build assembles every section into the final file layout and returns it
// as a single byte slice, ready to be written to disk. A Builder can only
// be built once.
func (b *Builder) Build() ([]byte, error) {
	if b.consumed {
		return nil, ErrBuilderConsumed
	}
	b.consumed = true

	recordSize := selectRecordSize(b.ipTrie.NodeCount(), b.maxIPDataRef)
	ipBytes := b.ipTrie.EncodeIPTrie(recordSize)
	litBytes := b.literalIdx.EncodeLiteralIndex()
	globBytes := b.globIdx.EncodeGlobIndex()
	metaBytes := b.encoder.Bytes()

	// A map's children are written before the map itself, so the first five
	// bytes hold a fixed-width pointer to the root map; Open decodes from
	// offset 0.
	dbEncoder := &Encoder{buf: make([]byte, 5), intern: make(map[string]uint32)}
	root := dbEncoder.Encode(b.buildDBMetadata(recordSize))
	dbEncoder.buf[0] = byte(int(KindPointer)<<5) | 4
	bePutUint32(dbEncoder.buf[1:5], root)
	dbSectionBytes := append(append([]byte{}, TrailingMarker...), dbEncoder.Bytes()...)

	secs := [numSections][]byte{
		sectionIPTrie:     ipBytes,
		sectionLiteral:    litBytes,
		sectionGlob:       globBytes,
		sectionMetadata:   metaBytes,
		sectionDBMetadata: dbSectionBytes,
	}

	var body []byte
	var descs [numSections]sectionDescriptor
	offset := uint64(HeaderSize)
	for i, data := range secs {
		descs[i] = sectionDescriptor{Offset: offset, Length: uint64(len(data))}
		body = append(body, data...)
		padded := alignUp8(uint64(len(data)))
		body = append(body, make([]byte, padded-uint64(len(data)))...)
		offset += padded
	}

	var flags uint64
	if b.ipTrie.NodeCount() > 1 {
		flags |= FlagHasIP
	}
	if b.literalIdx.Len() > 0 {
		flags |= FlagHasLiteral
	}
	if b.globIdx.Len() > 0 {
		flags |= FlagHasGlob
	}
	if b.caseMode == CaseInsensitive {
		flags |= FlagCaseInsensitive
	}

	h := Header{
		Version:    FormatVersion,
		Endian:     EndianLittle,
		Flags:      flags,
		TotalSize:  offset,
		IPTrie:     descs[sectionIPTrie],
		Literal:    descs[sectionLiteral],
		Glob:       descs[sectionGlob],
		Metadata:   descs[sectionMetadata],
		DBMetadata: descs[sectionDBMetadata],
	}

	out := make([]byte, 0, int(offset))
	out = append(out, encodeHeader(h)...)
	out = append(out, body...)
	return out, nil
}

// WriteFile builds and atomically publishes the database to path: written
// to a temp file in the same directory, synced, made read-only, then
// renamed into place so a concurrent Open never observes a partial file.
func (b *Builder) WriteFile(path string) error {
	data, err := b.Build()
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".iocdb-tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0444); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
