// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package iocdb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildGlobView(t *testing.T, caseMode CaseMode, patterns map[string]uint32) GlobIndexView {
	t.Helper()
	idx := NewGlobIndex(caseMode)
	for p, id := range patterns {
		require.NoError(t, idx.Insert(p, id, id*10))
	}
	buf := idx.EncodeGlobIndex()
	view, err := NewGlobIndexView(buf, caseMode)
	require.NoError(t, err)
	return view
}

func patternIDs(matches []GlobMatch) []uint32 {
	ids := make([]uint32, len(matches))
	for i, m := range matches {
		ids[i] = m.PatternID
	}
	return ids
}

func TestGlobStarMatchesAnywhere(t *testing.T) {
	view := buildGlobView(t, CaseSensitive, map[string]uint32{"*evil*": 1})
	require.Contains(t, patternIDs(view.Lookup([]byte("this-is-evil-stuff"))), uint32(1))
	require.NotContains(t, patternIDs(view.Lookup([]byte("totally-fine"))), uint32(1))
}

func TestGlobAnchoredPrefixSuffix(t *testing.T) {
	view := buildGlobView(t, CaseSensitive, map[string]uint32{"bad*.exe": 1})
	require.Contains(t, patternIDs(view.Lookup([]byte("bad-payload.exe"))), uint32(1))
	require.NotContains(t, patternIDs(view.Lookup([]byte("notbad-payload.exe"))), uint32(1))
	require.NotContains(t, patternIDs(view.Lookup([]byte("bad-payload.dll"))), uint32(1))
}

func TestGlobQuestionMarkSingleChar(t *testing.T) {
	view := buildGlobView(t, CaseSensitive, map[string]uint32{"file?.txt": 1})
	require.Contains(t, patternIDs(view.Lookup([]byte("file1.txt"))), uint32(1))
	require.NotContains(t, patternIDs(view.Lookup([]byte("file12.txt"))), uint32(1))
}

func TestGlobCharacterClass(t *testing.T) {
	view := buildGlobView(t, CaseSensitive, map[string]uint32{"log[0-9].txt": 1})
	require.Contains(t, patternIDs(view.Lookup([]byte("log5.txt"))), uint32(1))
	require.NotContains(t, patternIDs(view.Lookup([]byte("logA.txt"))), uint32(1))
}

func TestGlobNegatedClass(t *testing.T) {
	view := buildGlobView(t, CaseSensitive, map[string]uint32{"log[^0-9].txt": 1})
	require.NotContains(t, patternIDs(view.Lookup([]byte("log5.txt"))), uint32(1))
	require.Contains(t, patternIDs(view.Lookup([]byte("logA.txt"))), uint32(1))
}

func TestGlobCaseInsensitive(t *testing.T) {
	view := buildGlobView(t, CaseInsensitive, map[string]uint32{"*EVIL*": 1})
	require.Contains(t, patternIDs(view.Lookup([]byte("something-evil-here"))), uint32(1))
}

func TestGlobUniversalPatternAlwaysMatches(t *testing.T) {
	view := buildGlobView(t, CaseSensitive, map[string]uint32{"*": 1})
	require.Contains(t, patternIDs(view.Lookup([]byte("anything at all"))), uint32(1))
	require.Contains(t, patternIDs(view.Lookup([]byte(""))), uint32(1))
}

func TestGlobMultiplePatternsShareAutomaton(t *testing.T) {
	view := buildGlobView(t, CaseSensitive, map[string]uint32{
		"*evil*":    1,
		"*malware*": 2,
		"safe*":     3,
	})
	ids := patternIDs(view.Lookup([]byte("evil-malware-drop")))
	require.Contains(t, ids, uint32(1))
	require.Contains(t, ids, uint32(2))
	require.NotContains(t, ids, uint32(3))
}

func TestGlobInvalidPatternRejected(t *testing.T) {
	idx := NewGlobIndex(CaseSensitive)
	err := idx.Insert("unterminated[class", 1, 1)
	require.ErrorIs(t, err, ErrInvalidPattern)
}

func TestParseGlobTrailingWordGetsOwnGap(t *testing.T) {
	words, gaps, err := ParseGlob("*.com", CaseSensitive)
	require.NoError(t, err)
	require.Equal(t, []string{".com"}, words)
	require.Len(t, gaps, len(words)+1)
	require.True(t, gaps[0].hasStar)
	require.False(t, gaps[1].hasStar)

	words, gaps, err = ParseGlob("bad*.exe", CaseSensitive)
	require.NoError(t, err)
	require.Equal(t, []string{"bad", ".exe"}, words)
	require.Len(t, gaps, len(words)+1)
	require.False(t, gaps[0].hasStar)
	require.True(t, gaps[1].hasStar)
	require.False(t, gaps[2].hasStar)
}

func TestGlobTrailingAnchorDoesNotMatchPastSuffix(t *testing.T) {
	view := buildGlobView(t, CaseSensitive, map[string]uint32{"*.com": 1})
	require.Contains(t, patternIDs(view.Lookup([]byte("evil.com"))), uint32(1))
	require.NotContains(t, patternIDs(view.Lookup([]byte("evil.com.attacker.net"))), uint32(1))
}

func TestGlobTrailingWordPatternDoesNotDesyncFollowingPattern(t *testing.T) {
	view := buildGlobView(t, CaseSensitive, map[string]uint32{
		"*.com":      1,
		"*.malware*": 2,
		"safe-site":  3,
	})
	require.Contains(t, patternIDs(view.Lookup([]byte("evil.com"))), uint32(1))
	require.NotContains(t, patternIDs(view.Lookup([]byte("evil.com.attacker.net"))), uint32(1))
	require.Contains(t, patternIDs(view.Lookup([]byte("drops.malware.here"))), uint32(2))
	require.Contains(t, patternIDs(view.Lookup([]byte("safe-site"))), uint32(3))
}

func TestParseGlobBuilderMatchesReaderView(t *testing.T) {
	idx := NewGlobIndex(CaseSensitive)
	require.NoError(t, idx.Insert("*.evil.com", 1, 10))
	builderMatches := idx.MatchAll([]byte("sub.evil.com"))
	require.Contains(t, builderMatches, uint32(1))

	buf := idx.EncodeGlobIndex()
	view, err := NewGlobIndexView(buf, CaseSensitive)
	require.NoError(t, err)
	require.Contains(t, patternIDs(view.Lookup([]byte("sub.evil.com"))), uint32(1))
}
