// Package symlink implements the remote-mount download strategy: wait for a
// reported-complete item to materialize under an eventually consistent mount,
// then publish a symbolic link to it without copying bytes.
package symlink

import (
	"path/filepath"
	"strings"
)

// Candidate is one guessed filesystem location to probe during resolution.
type Candidate struct {
	// Path is the absolute location to probe.
	Path string

	// Direct means Path is the guessed item itself, probed as a file and
	// then as a directory. Otherwise Path is a container directory and the
	// probe filename is joined inside it.
	Direct bool
}

// Candidates derives the ordered locations where relPath might appear under
// mountRoot. Most structurally specific guesses come first, broad
// ancestor/mount-root fallbacks last:
//
//  1. mountRoot/stem/name      (container dir named after the stripped name)
//  2. mountRoot/name/name      (container dir named after the full name)
//  3. each ancestor directory of mountRoot/dir(relPath), up to and including
//     mountRoot itself, probed as containers
//  4. mountRoot/stem           (bare, extension stripped)
//  5. mountRoot/name           (bare)
//
// When relPath has no extension the stem equals the name and guesses 1/2 and
// 4/5 collapse into duplicates; duplicate probes are tolerated, not deduped.
// The list is never empty: rule 5 always contributes the raw name.
func Candidates(relPath, mountRoot string) []Candidate {
	name := filepath.Base(relPath)
	stem := strings.TrimSuffix(name, filepath.Ext(name))

	out := []Candidate{
		{Path: filepath.Join(mountRoot, stem, name), Direct: true},
		{Path: filepath.Join(mountRoot, name, name), Direct: true},
	}

	// Ancestor walk: from the expected parent directory upward, stopping at
	// the mount root (inclusive). Never walks above it. The bound is a path
	// segment check, not a string prefix, so a sibling like /mnt/rebels does
	// not pass for root /mnt/re; a relPath whose ".." segments escape the
	// root is clamped so the root itself is still probed.
	root := filepath.Clean(mountRoot)
	dir := filepath.Dir(filepath.Join(mountRoot, relPath))
	if dir != root && !strings.HasPrefix(dir, root+string(filepath.Separator)) {
		dir = root
	}
	for {
		out = append(out, Candidate{Path: dir})
		if dir == root {
			break
		}
		dir = filepath.Dir(dir)
	}

	out = append(out,
		Candidate{Path: filepath.Join(mountRoot, stem), Direct: true},
		Candidate{Path: filepath.Join(mountRoot, name), Direct: true},
	)
	return out
}
