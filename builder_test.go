// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package iocdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuilderAddEntrySniffsKind(t *testing.T) {
	b := New(CaseSensitive)
	_, err := b.AddEntry("10.0.0.0/8", StringValue("net"))
	require.NoError(t, err)
	_, err = b.AddEntry("*.evil.com", StringValue("glob"))
	require.NoError(t, err)
	_, err = b.AddEntry("exact-bad.com", StringValue("literal"))
	require.NoError(t, err)

	require.Greater(t, b.ipTrie.NodeCount(), 1)
	require.Equal(t, 1, b.literalIdx.Len())
	require.Equal(t, 1, b.globIdx.Len())
}

func TestBuilderRejectsUseAfterBuild(t *testing.T) {
	b := New(CaseSensitive)
	_, err := b.Build()
	require.NoError(t, err)

	_, err = b.AddLiteral("x", StringValue("y"))
	require.ErrorIs(t, err, ErrBuilderConsumed)

	_, err = b.Build()
	require.ErrorIs(t, err, ErrBuilderConsumed)
}

func TestBuilderBuildRoundTripsThroughOpenBytes(t *testing.T) {
	b := New(CaseSensitive)
	b.SetDatabaseType("test-feed")
	b.AddDescription("en", "a test database")
	_, err := b.AddIP("198.51.100.0/24", Uint32Value(1))
	require.NoError(t, err)
	_, err = b.AddLiteral("bad-domain.example", Uint32Value(2))
	require.NoError(t, err)
	_, err = b.AddGlob("*.malware.example", Uint32Value(3))
	require.NoError(t, err)

	data, err := b.Build()
	require.NoError(t, err)

	db, err := OpenBytes(data, OpenOptions{})
	require.NoError(t, err)
	defer db.Close()

	require.Equal(t, "test-feed", db.DatabaseType())
	require.Equal(t, "a test database", db.Description("en"))
	require.True(t, db.HasIPData())
	require.True(t, db.HasLiteralData())
	require.True(t, db.HasGlobData())
}

func TestBuilderWriteFileIsAtomicAndReadOnly(t *testing.T) {
	b := New(CaseSensitive)
	_, err := b.AddLiteral("x", Uint32Value(1))
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "out.iocdb")
	require.NoError(t, b.WriteFile(path))

	db, err := Open(path, OpenOptions{})
	require.NoError(t, err)
	defer db.Close()
	require.True(t, db.HasLiteralData())
}

func TestSelectRecordSizeNarrowsWhenPossible(t *testing.T) {
	require.Equal(t, RecordSize24, selectRecordSize(10, 10))
	require.Equal(t, RecordSize32, selectRecordSize(1<<24, 10))
}
