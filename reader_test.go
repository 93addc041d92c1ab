// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package iocdb

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildTestDatabase(t *testing.T) []byte {
	t.Helper()
	b := New(CaseSensitive)
	_, err := b.AddIP("203.0.113.0/24", StringValue("botnet-c2"))
	require.NoError(t, err)
	_, err = b.AddLiteral("evil.example.com", StringValue("phishing"))
	require.NoError(t, err)
	_, err = b.AddGlob("*.malware.example", StringValue("malware-family"))
	require.NoError(t, err)
	data, err := b.Build()
	require.NoError(t, err)
	return data
}

func TestDatabaseLookupIP(t *testing.T) {
	db, err := OpenBytes(buildTestDatabase(t), OpenOptions{})
	require.NoError(t, err)
	defer db.Close()

	res, err := db.LookupIP(netip.MustParseAddr("203.0.113.42"))
	require.NoError(t, err)
	require.Equal(t, IPResult, res.Kind)
	require.Equal(t, "botnet-c2", res.Data.Str)
	require.Equal(t, 24, res.PrefixLen)

	res, err = db.LookupIP(netip.MustParseAddr("8.8.8.8"))
	require.NoError(t, err)
	require.Equal(t, NotFound, res.Kind)
}

func TestDatabaseLookupStringLiteralAndGlob(t *testing.T) {
	db, err := OpenBytes(buildTestDatabase(t), OpenOptions{})
	require.NoError(t, err)
	defer db.Close()

	res, err := db.LookupString("evil.example.com")
	require.NoError(t, err)
	require.Equal(t, PatternResult, res.Kind)
	require.Len(t, res.PatternIDs, 1)
	require.Equal(t, "phishing", res.Datas[0].Str)

	res, err = db.LookupString("drop.malware.example")
	require.NoError(t, err)
	require.Equal(t, PatternResult, res.Kind)
	require.Equal(t, "malware-family", res.Datas[0].Str)

	res, err = db.LookupString("totally-benign.example")
	require.NoError(t, err)
	require.Equal(t, NotFound, res.Kind)
}

func TestDatabaseLookupDispatchesByShape(t *testing.T) {
	db, err := OpenBytes(buildTestDatabase(t), OpenOptions{})
	require.NoError(t, err)
	defer db.Close()

	res, err := db.Lookup("203.0.113.7")
	require.NoError(t, err)
	require.Equal(t, IPResult, res.Kind)

	res, err = db.Lookup("evil.example.com")
	require.NoError(t, err)
	require.Equal(t, PatternResult, res.Kind)
}

func TestDatabaseCloseRejectsFurtherUse(t *testing.T) {
	db, err := OpenBytes(buildTestDatabase(t), OpenOptions{})
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close()) // idempotent

	_, err = db.LookupString("evil.example.com")
	require.ErrorIs(t, err, ErrNotOpen)
}

func TestDatabaseRejectsTruncatedFile(t *testing.T) {
	data := buildTestDatabase(t)
	_, err := OpenBytes(data[:len(data)/2], OpenOptions{})
	require.Error(t, err)
}

func TestDatabaseMetadataCounts(t *testing.T) {
	db, err := OpenBytes(buildTestDatabase(t), OpenOptions{})
	require.NoError(t, err)
	defer db.Close()

	require.Equal(t, 1, db.LiteralCount())
	require.Equal(t, 1, db.GlobCount())
	require.Greater(t, db.IPNodeCount(), 1)
}

func TestDatabaseUntrustedOpenRejectsCorruptMetadataRoot(t *testing.T) {
	data := buildTestDatabase(t)
	h, _, err := decodeHeader(data)
	require.NoError(t, err)
	require.Greater(t, h.Metadata.Length, uint64(0))

	corrupt := append([]byte(nil), data...)
	// Claim an oversized KindMap root (typeIdx=KindMap, sizeField=31) that
	// the small metadata section can't possibly back, so decoding the root
	// fails outright instead of reading garbage.
	corrupt[h.Metadata.Offset] = byte(int(KindMap)<<5) | 0x1f

	_, err = OpenBytes(corrupt, OpenOptions{})
	require.Error(t, err)

	// A trusted open skips the walk and defers the failure to query time.
	db, err := OpenBytes(corrupt, OpenOptions{Trusted: true})
	require.NoError(t, err)
	defer db.Close()
}

func TestDatabaseWithResultCache(t *testing.T) {
	db, err := OpenBytes(buildTestDatabase(t), OpenOptions{CacheCapacity: 16})
	require.NoError(t, err)
	defer db.Close()

	for i := 0; i < 2; i++ {
		res, err := db.LookupString("evil.example.com")
		require.NoError(t, err)
		require.Equal(t, PatternResult, res.Kind)
	}
}
