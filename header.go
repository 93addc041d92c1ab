// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package iocdb

import (
	"encoding/binary"
	"hash/crc32"
)

// sectionDescriptor is the on-disk (offset, length) pair for one section.
type sectionDescriptor struct {
	Offset uint64
	Length uint64
}

// Header is the fixed, byte-exact file header. It is the only part of the
// file every reader, regardless of trust level, must fully parse before
// touching anything else.
type Header struct {
	Version   uint32
	Endian    byte
	Flags     uint64
	TotalSize uint64

	IPTrie     sectionDescriptor
	Literal    sectionDescriptor
	Glob       sectionDescriptor
	Metadata   sectionDescriptor
	DBMetadata sectionDescriptor
}

// endianAccessor reads multi-byte integers from a buffer according to the
// endianness recorded in the file's marker byte. The database is canonically
// little-endian; on a big-endian host the accessor byte-swaps on every read
// instead of rewriting the mapped buffer.
type endianAccessor struct {
	order binary.ByteOrder
}

func newEndianAccessor(marker byte) (endianAccessor, error) {
	switch marker {
	case EndianLittle:
		return endianAccessor{order: binary.LittleEndian}, nil
	case EndianBig:
		return endianAccessor{order: binary.BigEndian}, nil
	default:
		return endianAccessor{}, ErrBadMagic
	}
}

func (e endianAccessor) Uint16(b []byte) uint16 { return e.order.Uint16(b) }
func (e endianAccessor) Uint32(b []byte) uint32 { return e.order.Uint32(b) }
func (e endianAccessor) Uint64(b []byte) uint64 { return e.order.Uint64(b) }

func (e endianAccessor) PutUint16(b []byte, v uint16) { e.order.PutUint16(b, v) }
func (e endianAccessor) PutUint32(b []byte, v uint32) { e.order.PutUint32(b, v) }
func (e endianAccessor) PutUint64(b []byte, v uint64) { e.order.PutUint64(b, v) }

// decodeHeader parses and validates the fixed header at the start of buf.
// Magic and version are read little-endian; the remaining header fields are
// read through the returned endianAccessor, which reflects the marker byte.
// The section views read their records with fixed little-endian helpers,
// not through this accessor.
func decodeHeader(buf []byte) (Header, endianAccessor, error) {
	var h Header

	if len(buf) < HeaderSize {
		return h, endianAccessor{}, ErrTruncatedFile
	}
	if string(buf[0:4]) != Magic {
		return h, endianAccessor{}, ErrBadMagic
	}

	// Version and endian marker are always read as-written: little-endian,
	// fixed position, independent of the marker they introduce.
	version := binary.LittleEndian.Uint32(buf[4:8])
	if version != FormatVersion {
		return h, endianAccessor{}, ErrUnsupportedVersion
	}
	marker := buf[8]
	acc, err := newEndianAccessor(marker)
	if err != nil {
		return h, endianAccessor{}, err
	}

	h.Version = version
	h.Endian = marker
	// Flags occupy exactly bytes 9..16 (7 bytes); they are copied into a
	// zero-filled 8-byte buffer so they can be read as one uint64.
	flagsBuf := make([]byte, 8)
	copy(flagsBuf, buf[9:16])
	h.Flags = acc.Uint64(flagsBuf)
	h.TotalSize = acc.Uint64(buf[16:24])

	descs := [5]*sectionDescriptor{&h.IPTrie, &h.Literal, &h.Glob, &h.Metadata, &h.DBMetadata}
	for i, d := range descs {
		off := sectionDescriptorsOffset + i*sectionDescriptorSize
		d.Offset = acc.Uint64(buf[off : off+8])
		d.Length = acc.Uint64(buf[off+8 : off+16])
	}

	storedCRC := acc.Uint32(buf[crc32Offset : crc32Offset+4])
	computed := crc32.ChecksumIEEE(buf[0:crc32Offset])
	if storedCRC != computed {
		return h, endianAccessor{}, ErrCrcMismatch
	}

	return h, acc, nil
}

// encodeHeader serializes h into a freshly allocated HeaderSize buffer,
// little-endian, with the trailing CRC32 over the header fields computed
// last.
func encodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	buf[8] = h.Endian

	flagsBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(flagsBuf, h.Flags)
	copy(buf[9:16], flagsBuf[0:7])

	binary.LittleEndian.PutUint64(buf[16:24], h.TotalSize)

	descs := [5]sectionDescriptor{h.IPTrie, h.Literal, h.Glob, h.Metadata, h.DBMetadata}
	for i, d := range descs {
		off := sectionDescriptorsOffset + i*sectionDescriptorSize
		binary.LittleEndian.PutUint64(buf[off:off+8], d.Offset)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], d.Length)
	}

	crc := crc32.ChecksumIEEE(buf[0:crc32Offset])
	binary.LittleEndian.PutUint32(buf[crc32Offset:crc32Offset+4], crc)
	return buf
}

// sectionBounds validates that a section descriptor's offsets lie within
// [HeaderSize, totalSize) and within the file actually mapped.
func sectionBounds(name string, d sectionDescriptor, totalSize uint64, fileLen int) error {
	if d.Length == 0 {
		return nil
	}
	end := d.Offset + d.Length
	if end < d.Offset { // overflow
		return &SectionOutOfBoundsError{Section: name, Offset: d.Offset, Length: d.Length, Total: totalSize}
	}
	if d.Offset < uint64(HeaderSize) || end > totalSize || end > uint64(fileLen) {
		return &SectionOutOfBoundsError{Section: name, Offset: d.Offset, Length: d.Length, Total: totalSize}
	}
	return nil
}
