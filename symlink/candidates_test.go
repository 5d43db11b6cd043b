package symlink

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidates_Order(t *testing.T) {
	got := Candidates("Show/S01E01.mkv", "/mnt/remote")

	want := []Candidate{
		{Path: "/mnt/remote/S01E01/S01E01.mkv", Direct: true},
		{Path: "/mnt/remote/S01E01.mkv/S01E01.mkv", Direct: true},
		{Path: "/mnt/remote/Show"},
		{Path: "/mnt/remote"},
		{Path: "/mnt/remote/S01E01", Direct: true},
		{Path: "/mnt/remote/S01E01.mkv", Direct: true},
	}
	assert.Equal(t, want, got)
}

func TestCandidates_ExtensionForms(t *testing.T) {
	got := Candidates("movie.mkv", "/mnt/remote")

	paths := make([]string, 0, len(got))
	for _, c := range got {
		paths = append(paths, c.Path)
	}
	// Both the stripped and the original forms appear.
	assert.Contains(t, paths, "/mnt/remote/movie")
	assert.Contains(t, paths, "/mnt/remote/movie.mkv")
	assert.Contains(t, paths, "/mnt/remote/movie/movie.mkv")
	assert.Contains(t, paths, "/mnt/remote/movie.mkv/movie.mkv")
}

func TestCandidates_AncestorWalkBoundedByMountRoot(t *testing.T) {
	root := "/mnt/remote"
	got := Candidates("a/b/c/deep.bin", root)

	var ancestors []string
	for _, c := range got {
		if !c.Direct {
			ancestors = append(ancestors, c.Path)
		}
	}

	require.NotEmpty(t, ancestors)
	// Walk goes from the expected parent up to the mount root, inclusive.
	assert.Equal(t, []string{
		"/mnt/remote/a/b/c",
		"/mnt/remote/a/b",
		"/mnt/remote/a",
		"/mnt/remote",
	}, ancestors)

	// Nothing above the mount root.
	for _, a := range ancestors {
		assert.True(t, strings.HasPrefix(a, root), "ancestor %s escapes mount root", a)
	}
	assert.Equal(t, root, ancestors[len(ancestors)-1])
}

func TestCandidates_NoExtensionCollapses(t *testing.T) {
	got := Candidates("Season1", "/mnt/remote")

	// Stem equals name: guesses 1/2 and 4/5 collapse into duplicates,
	// tolerated rather than deduplicated.
	assert.Equal(t, got[0], got[1])
	require.GreaterOrEqual(t, len(got), 4)
	assert.Equal(t, Candidate{Path: "/mnt/remote/Season1", Direct: true}, got[len(got)-1])
}

func TestCandidates_SiblingRootNotMistakenForAncestor(t *testing.T) {
	// /mnt/rebels shares the string prefix /mnt/re but is not under it.
	got := Candidates("../rebels/x.mkv", "/mnt/re")

	var ancestors []string
	for _, c := range got {
		if !c.Direct {
			ancestors = append(ancestors, c.Path)
		}
	}
	assert.Equal(t, []string{"/mnt/re"}, ancestors)
}

func TestCandidates_EscapingRelPathStillProbesRoot(t *testing.T) {
	root := "/mnt/remote"
	got := Candidates("../x.mkv", root)

	var ancestors []string
	for _, c := range got {
		if !c.Direct {
			ancestors = append(ancestors, c.Path)
		}
		assert.True(t, c.Path == root || strings.HasPrefix(c.Path, root+"/"),
			"candidate %s escapes mount root", c.Path)
	}

	// The walk is clamped to the root rather than skipped.
	assert.Equal(t, []string{root}, ancestors)
}

func TestCandidates_NeverEmpty(t *testing.T) {
	got := Candidates("x", "/mnt/remote")
	require.NotEmpty(t, got)
	assert.Equal(t, filepath.Join("/mnt/remote", "x"), got[len(got)-1].Path)
}
